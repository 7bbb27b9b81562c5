package userclient

import (
	"context"
	"testing"
)

func loadedCache() *peerCache {
	p := newPeerCache(nil)
	p.loaded = true
	p.chats[500] = dialogEntry{title: "old group", kind: "group"}
	p.channels[987] = 0xbeef
	p.dialogs[987] = dialogEntry{title: "announcements", kind: "supergroup", isForum: true}
	return p
}

func TestPeerCacheInfoBasicGroup(t *testing.T) {
	t.Parallel()
	p := loadedCache()

	info, err := p.info(context.Background(), -500)
	if err != nil {
		t.Fatalf("info: %v", err)
	}
	if info.ChatID != -500 || info.Title != "old group" || info.Kind != "group" || info.IsForum {
		t.Fatalf("info = %+v", info)
	}
}

func TestPeerCacheInfoChannelByBotAPIID(t *testing.T) {
	t.Parallel()
	p := loadedCache()

	info, err := p.info(context.Background(), botAPIChannelID(987))
	if err != nil {
		t.Fatalf("info: %v", err)
	}
	if info.ChatID != botAPIChannelID(987) || info.Title != "announcements" {
		t.Fatalf("info = %+v", info)
	}
	if info.Kind != "supergroup" || !info.IsForum {
		t.Fatalf("info = %+v, forum supergroup flags lost", info)
	}
}

func TestPeerCacheInfoBareID(t *testing.T) {
	t.Parallel()
	p := loadedCache()

	info, err := p.info(context.Background(), 987)
	if err != nil {
		t.Fatalf("info: %v", err)
	}
	// Bare ids are answered in Bot API form.
	if info.ChatID != botAPIChannelID(987) {
		t.Fatalf("ChatID = %d, want %d", info.ChatID, botAPIChannelID(987))
	}
}
