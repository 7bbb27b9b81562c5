package userclient

import (
	"context"
	"fmt"
	"sync"

	"github.com/gotd/td/tg"
)

// Bot API encodes peer kind into the chat id sign: basic groups are negated,
// channels/supergroups carry a -100 prefix on top of the bare id.
const channelIDOffset int64 = 1_000_000_000_000

type peerKind int

const (
	peerChat peerKind = iota
	peerChannel
	peerBare // positive id, kind resolved against the cache
)

func splitChatID(id int64) (peerKind, int64) {
	switch {
	case id <= -channelIDOffset:
		return peerChannel, -id - channelIDOffset
	case id < 0:
		return peerChat, -id
	default:
		return peerBare, id
	}
}

// botAPIChannelID converts a bare channel id back to the -100 prefixed form.
func botAPIChannelID(bare int64) int64 { return -(channelIDOffset + bare) }

type dialogEntry struct {
	title   string
	kind    string
	isForum bool
}

// peerCache learns channel access hashes from the account's dialog list, the
// only place a fresh session can discover them without an invite link.
type peerCache struct {
	api *tg.Client

	mu       sync.Mutex
	loaded   bool
	chats    map[int64]dialogEntry // basic groups, keyed by bare id
	channels map[int64]int64       // bare id -> access hash
	dialogs  map[int64]dialogEntry // channels, keyed by bare id
}

func newPeerCache(api *tg.Client) *peerCache {
	return &peerCache{
		api:      api,
		chats:    map[int64]dialogEntry{},
		channels: map[int64]int64{},
		dialogs:  map[int64]dialogEntry{},
	}
}

// input resolves a Bot API style chat id to an InputPeer, refreshing the
// dialog cache once on a miss.
func (p *peerCache) input(ctx context.Context, chatID int64) (tg.InputPeerClass, error) {
	kind, bare := splitChatID(chatID)

	p.mu.Lock()
	if !p.loaded {
		p.mu.Unlock()
		if err := p.refresh(ctx); err != nil {
			return nil, err
		}
		p.mu.Lock()
	}
	defer p.mu.Unlock()

	switch kind {
	case peerChat:
		return &tg.InputPeerChat{ChatID: bare}, nil
	case peerChannel:
		if hash, ok := p.channels[bare]; ok {
			return &tg.InputPeerChannel{ChannelID: bare, AccessHash: hash}, nil
		}
	case peerBare:
		if hash, ok := p.channels[bare]; ok {
			return &tg.InputPeerChannel{ChannelID: bare, AccessHash: hash}, nil
		}
		if _, ok := p.chats[bare]; ok {
			return &tg.InputPeerChat{ChatID: bare}, nil
		}
	}

	// One retry with a fresh dialog list before giving up.
	p.mu.Unlock()
	err := p.refresh(ctx)
	p.mu.Lock()
	if err != nil {
		return nil, err
	}
	if hash, ok := p.channels[bare]; ok {
		return &tg.InputPeerChannel{ChannelID: bare, AccessHash: hash}, nil
	}
	if kind != peerChannel {
		if _, ok := p.chats[bare]; ok {
			return &tg.InputPeerChat{ChatID: bare}, nil
		}
	}
	return nil, fmt.Errorf("peer %d not reachable for this account", chatID)
}

func (p *peerCache) inputChannel(ctx context.Context, chatID int64) (*tg.InputChannel, error) {
	peer, err := p.input(ctx, chatID)
	if err != nil {
		return nil, err
	}
	ch, ok := peer.(*tg.InputPeerChannel)
	if !ok {
		return nil, fmt.Errorf("peer %d is not a channel", chatID)
	}
	return &tg.InputChannel{ChannelID: ch.ChannelID, AccessHash: ch.AccessHash}, nil
}

func (p *peerCache) refresh(ctx context.Context) error {
	res, err := p.api.MessagesGetDialogs(ctx, &tg.MessagesGetDialogsRequest{
		OffsetPeer: &tg.InputPeerEmpty{},
		Limit:      100,
	})
	if err != nil {
		return fmt.Errorf("get dialogs: %w", err)
	}

	var chats []tg.ChatClass
	switch d := res.(type) {
	case *tg.MessagesDialogs:
		chats = d.Chats
	case *tg.MessagesDialogsSlice:
		chats = d.Chats
	case *tg.MessagesDialogsNotModified:
		return nil
	default:
		return fmt.Errorf("unexpected dialogs type %T", res)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.loaded = true
	for _, c := range chats {
		switch ch := c.(type) {
		case *tg.Chat:
			p.chats[ch.ID] = dialogEntry{title: ch.Title, kind: "group"}
		case *tg.Channel:
			p.channels[ch.ID] = ch.AccessHash
			kind := "channel"
			if ch.Megagroup {
				kind = "supergroup"
			}
			p.dialogs[ch.ID] = dialogEntry{title: ch.Title, kind: kind, isForum: ch.Forum}
		}
	}
	return nil
}

// info looks one chat up in the cache, refreshing once on a miss.
func (p *peerCache) info(ctx context.Context, chatID int64) (*ChatInfo, error) {
	kind, bare := splitChatID(chatID)

	for attempt := 0; attempt < 2; attempt++ {
		p.mu.Lock()
		loaded := p.loaded
		if loaded {
			if kind != peerChannel {
				if e, ok := p.chats[bare]; ok {
					p.mu.Unlock()
					return &ChatInfo{ChatID: -bare, Title: e.title, Kind: e.kind}, nil
				}
			}
			if kind != peerChat {
				if e, ok := p.dialogs[bare]; ok {
					p.mu.Unlock()
					return &ChatInfo{ChatID: botAPIChannelID(bare), Title: e.title, Kind: e.kind, IsForum: e.isForum}, nil
				}
			}
		}
		p.mu.Unlock()
		if loaded && attempt > 0 {
			break
		}
		if err := p.refresh(ctx); err != nil {
			return nil, err
		}
	}
	return nil, fmt.Errorf("chat %d not visible to this account", chatID)
}

// list returns the cached dialogs in Bot API id form.
func (p *peerCache) list(ctx context.Context) ([]Dialog, error) {
	if err := p.refresh(ctx); err != nil {
		return nil, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make([]Dialog, 0, len(p.chats)+len(p.dialogs))
	for id, e := range p.chats {
		out = append(out, Dialog{ChatID: -id, Title: e.title, Kind: e.kind})
	}
	for id, e := range p.dialogs {
		out = append(out, Dialog{ChatID: botAPIChannelID(id), Title: e.title, Kind: e.kind, IsForum: e.isForum})
	}
	return out, nil
}
