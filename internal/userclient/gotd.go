package userclient

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"math/rand"
	"mime"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/gotd/td/session"
	"github.com/gotd/td/telegram"
	"github.com/gotd/td/telegram/uploader"
	"github.com/gotd/td/tg"

	"relaybot/internal/storage"
	"relaybot/pkg/logx"
)

// Config identifies the MTProto application delivery sessions run under.
type Config struct {
	APIID   int
	APIHash string

	// DialTimeout bounds session establishment. Zero means 30s.
	DialTimeout time.Duration
}

// NewDialer returns a Dialer producing gotd-backed clients. The session
// string is the base64 encoded gotd session payload stored at onboarding.
func NewDialer(cfg Config, log logx.Logger) Dialer {
	if log.IsZero() {
		log = logx.Nop()
	}
	return func(ctx context.Context, ownerID int64, sessionString string) (Client, error) {
		return dialGotd(ctx, cfg, ownerID, sessionString, log.With(logx.Int64("owner", ownerID)))
	}
}

type gotdClient struct {
	owner  int64
	client *telegram.Client
	api    *tg.Client
	peers  *peerCache
	self   Identity
	log    logx.Logger

	cancel context.CancelFunc
	done   chan struct{}
	alive  atomic.Bool
}

func dialGotd(ctx context.Context, cfg Config, ownerID int64, sessionString string, log logx.Logger) (*gotdClient, error) {
	raw, err := base64.StdEncoding.DecodeString(strings.TrimSpace(sessionString))
	if err != nil {
		return nil, fmt.Errorf("decode session string: %w", err)
	}
	store := new(session.StorageMemory)
	if err := store.StoreSession(ctx, raw); err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}

	client := telegram.NewClient(cfg.APIID, cfg.APIHash, telegram.Options{
		SessionStorage: store,
	})

	// client.Run owns the connection; keep it alive in the background until
	// Close cancels runCtx.
	runCtx, cancel := context.WithCancel(context.Background())
	ready := make(chan struct{})
	done := make(chan struct{})
	runErr := make(chan error, 1)

	go func() {
		defer close(done)
		err := client.Run(runCtx, func(ctx context.Context) error {
			close(ready)
			<-ctx.Done()
			return ctx.Err()
		})
		runErr <- err
	}()

	dialTimeout := cfg.DialTimeout
	if dialTimeout <= 0 {
		dialTimeout = 30 * time.Second
	}

	select {
	case <-ready:
	case err := <-runErr:
		cancel()
		return nil, fmt.Errorf("start delivery client: %w", err)
	case <-time.After(dialTimeout):
		cancel()
		return nil, errors.New("delivery client connect timed out")
	case <-ctx.Done():
		cancel()
		return nil, ctx.Err()
	}

	c := &gotdClient{
		owner:  ownerID,
		client: client,
		api:    client.API(),
		log:    log,
		cancel: cancel,
		done:   done,
	}
	c.peers = newPeerCache(c.api)
	c.alive.Store(true)

	// Flip the liveness flag when the run loop exits for any reason.
	go func() {
		<-done
		c.alive.Store(false)
	}()

	status, err := client.Auth().Status(ctx)
	if err != nil {
		_ = c.Close(ctx)
		return nil, fmt.Errorf("auth status: %w", err)
	}
	if !status.Authorized {
		_ = c.Close(ctx)
		return nil, errors.New("stored session is not authorized")
	}

	me, err := client.Self(ctx)
	if err != nil {
		_ = c.Close(ctx)
		return nil, fmt.Errorf("resolve self: %w", err)
	}
	c.self = Identity{ID: me.ID, Username: me.Username}
	log.Debug("delivery client started", logx.Int64("self", me.ID))
	return c, nil
}

func (c *gotdClient) Connected() bool { return c.alive.Load() }

func (c *gotdClient) Self() Identity { return c.self }

func (c *gotdClient) Close(ctx context.Context) error {
	c.cancel()
	select {
	case <-c.done:
	case <-ctx.Done():
		return ctx.Err()
	}
	c.alive.Store(false)
	return nil
}

func (c *gotdClient) Resolve(ctx context.Context, chatID int64) error {
	_, err := c.peers.input(ctx, chatID)
	return err
}

func (c *gotdClient) History(ctx context.Context, chatID int64, limit int) ([]HistoryMessage, error) {
	peer, err := c.peers.input(ctx, chatID)
	if err != nil {
		return nil, err
	}
	res, err := c.api.MessagesGetHistory(ctx, &tg.MessagesGetHistoryRequest{
		Peer:  peer,
		Limit: limit,
	})
	if err != nil {
		return nil, err
	}

	var msgs []tg.MessageClass
	switch h := res.(type) {
	case *tg.MessagesMessages:
		msgs = h.Messages
	case *tg.MessagesMessagesSlice:
		msgs = h.Messages
	case *tg.MessagesChannelMessages:
		msgs = h.Messages
	default:
		return nil, fmt.Errorf("unexpected history type %T", res)
	}

	out := make([]HistoryMessage, 0, len(msgs))
	for _, mc := range msgs {
		switch m := mc.(type) {
		case *tg.MessageService:
			out = append(out, HistoryMessage{ID: m.ID, Service: true})
		case *tg.Message:
			hm := HistoryMessage{ID: m.ID, FromSelf: m.Out}
			if from, ok := m.GetFromID(); ok {
				if u, ok := from.(*tg.PeerUser); ok {
					hm.SenderID = u.UserID
					if u.UserID == c.self.ID {
						hm.FromSelf = true
					}
				}
			}
			if reply, ok := m.GetReplyTo(); ok {
				if rh, ok := reply.(*tg.MessageReplyHeader); ok {
					if id, ok := rh.GetReplyToMsgID(); ok {
						hm.ReplyToID = id
					}
					if id, ok := rh.GetReplyToTopID(); ok {
						hm.TopicID = id
					}
				}
			}
			out = append(out, hm)
		}
	}
	return out, nil
}

func (c *gotdClient) SendAction(ctx context.Context, chatID int64, topicID int, kind MediaKind) error {
	peer, err := c.peers.input(ctx, chatID)
	if err != nil {
		return err
	}
	req := &tg.MessagesSetTypingRequest{Peer: peer, Action: actionFor(kind)}
	if topicID > 0 {
		req.SetTopMsgID(topicID)
	}
	_, err = c.api.MessagesSetTyping(ctx, req)
	return err
}

func actionFor(kind MediaKind) tg.SendMessageActionClass {
	switch kind {
	case KindPhoto:
		return &tg.SendMessageUploadPhotoAction{}
	case KindVideo, KindAnimation, KindVideoNote:
		return &tg.SendMessageUploadVideoAction{}
	case KindAudio, KindVoice:
		return &tg.SendMessageUploadAudioAction{}
	case KindDocument:
		return &tg.SendMessageUploadDocumentAction{}
	default:
		return &tg.SendMessageTypingAction{}
	}
}

func (c *gotdClient) SendText(ctx context.Context, chatID int64, topicID int, text string, entities []storage.Entity) (*Sent, error) {
	peer, err := c.peers.input(ctx, chatID)
	if err != nil {
		return nil, err
	}
	req := &tg.MessagesSendMessageRequest{
		Peer:     peer,
		Message:  text,
		RandomID: rand.Int63(),
	}
	if ents := MapEntities(entities, c.log); len(ents) > 0 {
		req.SetEntities(ents)
	}
	if topicID > 0 {
		req.SetReplyTo(&tg.InputReplyToMessage{ReplyToMsgID: topicID})
	}
	if _, err := c.api.MessagesSendMessage(ctx, req); err != nil {
		return nil, err
	}
	return &Sent{}, nil
}

func (c *gotdClient) SendMedia(ctx context.Context, chatID int64, topicID int, m Media) (*Sent, error) {
	peer, err := c.peers.input(ctx, chatID)
	if err != nil {
		return nil, err
	}

	media, err := c.inputMedia(ctx, m)
	if err != nil {
		return nil, err
	}

	req := &tg.MessagesSendMediaRequest{
		Peer:     peer,
		Media:    media,
		Message:  m.Caption,
		RandomID: rand.Int63(),
	}
	if ents := MapEntities(m.Entities, c.log); len(ents) > 0 {
		req.SetEntities(ents)
	}
	if topicID > 0 {
		req.SetReplyTo(&tg.InputReplyToMessage{ReplyToMsgID: topicID})
	}

	updates, err := c.api.MessagesSendMedia(ctx, req)
	if err != nil {
		return nil, err
	}
	sent := &Sent{Remote: firstSentMedia(updates)}
	// Reusing the same handle for the rest of the run skips re-upload.
	if sent.Remote == nil {
		sent.Remote = m.Remote
	}
	return sent, nil
}

func (c *gotdClient) inputMedia(ctx context.Context, m Media) (tg.InputMediaClass, error) {
	if m.Remote != nil {
		media, ok := m.Remote.(tg.InputMediaClass)
		if !ok {
			return nil, fmt.Errorf("unexpected cached media type %T", m.Remote)
		}
		return media, nil
	}
	if m.Path == "" {
		return nil, errors.New("media has neither path nor cached handle")
	}

	up := uploader.NewUploader(c.api)
	file, err := up.FromPath(ctx, m.Path)
	if err != nil {
		return nil, fmt.Errorf("upload %s: %w", filepath.Base(m.Path), err)
	}

	if m.Kind == KindPhoto {
		return &tg.InputMediaUploadedPhoto{File: file}, nil
	}

	attrs := []tg.DocumentAttributeClass{
		&tg.DocumentAttributeFilename{FileName: filepath.Base(m.Path)},
	}
	switch m.Kind {
	case KindVideo:
		attrs = append(attrs, &tg.DocumentAttributeVideo{SupportsStreaming: true})
	case KindAnimation:
		attrs = append(attrs, &tg.DocumentAttributeAnimated{}, &tg.DocumentAttributeVideo{SupportsStreaming: true})
	case KindVideoNote:
		attrs = append(attrs, &tg.DocumentAttributeVideo{RoundMessage: true})
	case KindAudio:
		attrs = append(attrs, &tg.DocumentAttributeAudio{})
	case KindVoice:
		attrs = append(attrs, &tg.DocumentAttributeAudio{Voice: true})
	}
	return &tg.InputMediaUploadedDocument{
		File:       file,
		MimeType:   mimeFor(m),
		Attributes: attrs,
	}, nil
}

func mimeFor(m Media) string {
	if mt := mime.TypeByExtension(filepath.Ext(m.Path)); mt != "" {
		return mt
	}
	switch m.Kind {
	case KindVideo, KindAnimation, KindVideoNote:
		return "video/mp4"
	case KindAudio:
		return "audio/mpeg"
	case KindVoice:
		return "audio/ogg"
	default:
		return "application/octet-stream"
	}
}

// firstSentMedia extracts a reusable media handle from the send result.
func firstSentMedia(u tg.UpdatesClass) RemoteMedia {
	var ups []tg.UpdateClass
	switch x := u.(type) {
	case *tg.Updates:
		ups = x.Updates
	case *tg.UpdatesCombined:
		ups = x.Updates
	default:
		return nil
	}
	for _, up := range ups {
		var mc tg.MessageClass
		switch m := up.(type) {
		case *tg.UpdateNewMessage:
			mc = m.Message
		case *tg.UpdateNewChannelMessage:
			mc = m.Message
		default:
			continue
		}
		msg, ok := mc.(*tg.Message)
		if !ok {
			continue
		}
		switch media := msg.Media.(type) {
		case *tg.MessageMediaPhoto:
			if pc, ok := media.GetPhoto(); ok {
				if ph, ok := pc.(*tg.Photo); ok {
					return &tg.InputMediaPhoto{ID: &tg.InputPhoto{
						ID:            ph.ID,
						AccessHash:    ph.AccessHash,
						FileReference: ph.FileReference,
					}}
				}
			}
		case *tg.MessageMediaDocument:
			if dc, ok := media.GetDocument(); ok {
				if doc, ok := dc.(*tg.Document); ok {
					return &tg.InputMediaDocument{ID: &tg.InputDocument{
						ID:            doc.ID,
						AccessHash:    doc.AccessHash,
						FileReference: doc.FileReference,
					}}
				}
			}
		}
	}
	return nil
}

func (c *gotdClient) Dialogs(ctx context.Context) ([]Dialog, error) {
	return c.peers.list(ctx)
}

func (c *gotdClient) ChatInfo(ctx context.Context, chatID int64) (*ChatInfo, error) {
	return c.peers.info(ctx, chatID)
}

func (c *gotdClient) ForumTopics(ctx context.Context, chatID int64) ([]ForumTopic, error) {
	channel, err := c.peers.inputChannel(ctx, chatID)
	if err != nil {
		return nil, err
	}
	res, err := c.api.ChannelsGetForumTopics(ctx, &tg.ChannelsGetForumTopicsRequest{
		Channel: channel,
		Limit:   100,
	})
	if err != nil {
		return nil, err
	}

	out := make([]ForumTopic, 0, len(res.Topics))
	for _, tc := range res.Topics {
		topic, ok := tc.(*tg.ForumTopic)
		if !ok || topic.Closed {
			continue
		}
		out = append(out, ForumTopic{ID: topic.ID, Title: topic.Title})
	}
	return out, nil
}
