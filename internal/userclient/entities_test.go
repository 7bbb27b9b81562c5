package userclient

import (
	"testing"

	"github.com/gotd/td/tg"

	"relaybot/internal/storage"
	"relaybot/pkg/logx"
)

func TestMapEntitiesDropsUnknownKinds(t *testing.T) {
	t.Parallel()
	ents := []storage.Entity{
		{Kind: "bold", Offset: 0, Length: 4},
		{Kind: "text_mention", Offset: 5, Length: 3}, // unmapped on purpose
		{Kind: "text_link", Offset: 9, Length: 2, URL: "https://example.org"},
	}
	got := MapEntities(ents, logx.Nop())
	if len(got) != 2 {
		t.Fatalf("mapped %d entities, want 2", len(got))
	}
	if _, ok := got[0].(*tg.MessageEntityBold); !ok {
		t.Fatalf("first entity = %T, want *tg.MessageEntityBold", got[0])
	}
	link, ok := got[1].(*tg.MessageEntityTextURL)
	if !ok {
		t.Fatalf("second entity = %T, want *tg.MessageEntityTextURL", got[1])
	}
	if link.URL != "https://example.org" || link.Offset != 9 {
		t.Fatalf("link mapped wrong: %+v", link)
	}
}

func TestCheckEntityMapping(t *testing.T) {
	t.Parallel()
	if err := CheckEntityMapping(); err != nil {
		t.Fatalf("CheckEntityMapping: %v", err)
	}
	if len(EntityKinds()) == 0 {
		t.Fatal("no entity kinds registered")
	}
}

func TestSplitChatID(t *testing.T) {
	t.Parallel()
	tests := []struct {
		in   int64
		kind peerKind
		bare int64
	}{
		{-1001234567890, peerChannel, 1234567890},
		{-4567, peerChat, 4567},
		{4567, peerBare, 4567},
	}
	for _, tt := range tests {
		kind, bare := splitChatID(tt.in)
		if kind != tt.kind || bare != tt.bare {
			t.Fatalf("splitChatID(%d) = (%v, %d), want (%v, %d)", tt.in, kind, bare, tt.kind, tt.bare)
		}
	}
	if got := botAPIChannelID(1234567890); got != -1001234567890 {
		t.Fatalf("botAPIChannelID = %d", got)
	}
}

func TestMediaKindExt(t *testing.T) {
	t.Parallel()
	if got := KindPhoto.Ext(); got != ".jpg" {
		t.Fatalf("photo ext = %q", got)
	}
	if got := KindVoice.Ext(); got != ".ogg" {
		t.Fatalf("voice ext = %q", got)
	}
	if _, err := ParseKind("hologram"); err == nil {
		t.Fatal("expected error for unknown kind")
	}
	if k, err := ParseKind("video_note"); err != nil || k != KindVideoNote {
		t.Fatalf("ParseKind(video_note) = %v, %v", k, err)
	}
}
