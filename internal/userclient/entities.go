package userclient

import (
	"fmt"
	"sort"

	"github.com/gotd/td/tg"

	"relaybot/internal/storage"
	"relaybot/pkg/logx"
)

// entityBuilders maps stored Bot API entity kinds onto MTProto entity
// constructors. "text_mention" is deliberately absent: it needs a resolved
// input user, which a stored template cannot carry.
var entityBuilders = map[string]func(storage.Entity) tg.MessageEntityClass{
	"bold": func(e storage.Entity) tg.MessageEntityClass {
		return &tg.MessageEntityBold{Offset: e.Offset, Length: e.Length}
	},
	"italic": func(e storage.Entity) tg.MessageEntityClass {
		return &tg.MessageEntityItalic{Offset: e.Offset, Length: e.Length}
	},
	"underline": func(e storage.Entity) tg.MessageEntityClass {
		return &tg.MessageEntityUnderline{Offset: e.Offset, Length: e.Length}
	},
	"strikethrough": func(e storage.Entity) tg.MessageEntityClass {
		return &tg.MessageEntityStrike{Offset: e.Offset, Length: e.Length}
	},
	"spoiler": func(e storage.Entity) tg.MessageEntityClass {
		return &tg.MessageEntitySpoiler{Offset: e.Offset, Length: e.Length}
	},
	"code": func(e storage.Entity) tg.MessageEntityClass {
		return &tg.MessageEntityCode{Offset: e.Offset, Length: e.Length}
	},
	"pre": func(e storage.Entity) tg.MessageEntityClass {
		return &tg.MessageEntityPre{Offset: e.Offset, Length: e.Length, Language: e.Language}
	},
	"text_link": func(e storage.Entity) tg.MessageEntityClass {
		return &tg.MessageEntityTextURL{Offset: e.Offset, Length: e.Length, URL: e.URL}
	},
	"url": func(e storage.Entity) tg.MessageEntityClass {
		return &tg.MessageEntityURL{Offset: e.Offset, Length: e.Length}
	},
	"mention": func(e storage.Entity) tg.MessageEntityClass {
		return &tg.MessageEntityMention{Offset: e.Offset, Length: e.Length}
	},
	"hashtag": func(e storage.Entity) tg.MessageEntityClass {
		return &tg.MessageEntityHashtag{Offset: e.Offset, Length: e.Length}
	},
	"cashtag": func(e storage.Entity) tg.MessageEntityClass {
		return &tg.MessageEntityCashtag{Offset: e.Offset, Length: e.Length}
	},
	"bot_command": func(e storage.Entity) tg.MessageEntityClass {
		return &tg.MessageEntityBotCommand{Offset: e.Offset, Length: e.Length}
	},
	"email": func(e storage.Entity) tg.MessageEntityClass {
		return &tg.MessageEntityEmail{Offset: e.Offset, Length: e.Length}
	},
	"phone_number": func(e storage.Entity) tg.MessageEntityClass {
		return &tg.MessageEntityPhone{Offset: e.Offset, Length: e.Length}
	},
	"blockquote": func(e storage.Entity) tg.MessageEntityClass {
		return &tg.MessageEntityBlockquote{Offset: e.Offset, Length: e.Length}
	},
	"custom_emoji": func(e storage.Entity) tg.MessageEntityClass {
		return &tg.MessageEntityCustomEmoji{Offset: e.Offset, Length: e.Length, DocumentID: e.CustomEmojiID}
	},
}

// MapEntities converts stored entities to their wire form. Unmapped kinds
// are dropped with a warning instead of failing the send.
func MapEntities(ents []storage.Entity, log logx.Logger) []tg.MessageEntityClass {
	if len(ents) == 0 {
		return nil
	}
	out := make([]tg.MessageEntityClass, 0, len(ents))
	for _, e := range ents {
		build, ok := entityBuilders[e.Kind]
		if !ok {
			log.Warn("dropping unmapped entity kind", logx.String("kind", e.Kind))
			continue
		}
		out = append(out, build(e))
	}
	return out
}

// EntityKinds lists the supported stored kinds, sorted.
func EntityKinds() []string {
	kinds := make([]string, 0, len(entityBuilders))
	for k := range entityBuilders {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)
	return kinds
}

// CheckEntityMapping sanity-checks the table. Called once at startup.
func CheckEntityMapping() error {
	probe := storage.Entity{Offset: 0, Length: 1}
	for kind, build := range entityBuilders {
		if build == nil {
			return fmt.Errorf("entity kind %q has nil builder", kind)
		}
		probe.Kind = kind
		if build(probe) == nil {
			return fmt.Errorf("entity kind %q builds nil entity", kind)
		}
	}
	return nil
}
