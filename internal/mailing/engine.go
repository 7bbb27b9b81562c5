package mailing

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"os"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"relaybot/internal/storage"
	"relaybot/internal/userclient"
	"relaybot/pkg/logx"
)

// SessionSource yields a live delivery client for an owner.
type SessionSource interface {
	GetOrCreate(ctx context.Context, ownerID int64, sessionString string) (userclient.Client, error)
}

// FileSource materializes a Bot API file id into a local temp file.
type FileSource interface {
	Materialize(fileID string, kind userclient.MediaKind) (string, func(), error)
}

// Result aggregates one delivery run. Skipped destinations count toward
// neither Sent nor Failed.
type Result struct {
	Sent    int
	Failed  int
	Skipped int
}

// EngineOptions tune pacing and the skip heuristic. Zero values fall back
// to the defaults below.
type EngineOptions struct {
	PaceShortMin time.Duration // pause between chat action and send
	PaceShortMax time.Duration
	PaceLongMin  time.Duration // pause between destinations
	PaceLongMax  time.Duration

	HistoryLimit      int // messages probed for plain chats
	TopicHistoryLimit int // messages probed for forum topics

	RatePerSec int // hard send ceiling across all owners
}

func (o *EngineOptions) applyDefaults() {
	if o.PaceShortMin <= 0 {
		o.PaceShortMin = time.Second
	}
	if o.PaceShortMax < o.PaceShortMin {
		o.PaceShortMax = 3 * time.Second
	}
	if o.PaceLongMin <= 0 {
		o.PaceLongMin = 5 * time.Second
	}
	if o.PaceLongMax < o.PaceLongMin {
		o.PaceLongMax = 15 * time.Second
	}
	if o.HistoryLimit <= 0 {
		o.HistoryLimit = 10
	}
	if o.TopicHistoryLimit <= 0 {
		o.TopicHistoryLimit = 20
	}
	if o.RatePerSec <= 0 {
		o.RatePerSec = 1
	}
}

// Engine sends one template to a destination list through the owner's
// delivery session. Runs for the same owner are serialized; runs for
// different owners proceed concurrently.
type Engine struct {
	store    storage.Store
	sessions SessionSource
	files    FileSource
	limiter  *rate.Limiter
	opts     EngineOptions
	log      logx.Logger

	ownerMu sync.Map // int64 -> *sync.Mutex

	// injectable for tests
	sleep  func(ctx context.Context, d time.Duration) error
	jitter func(min, max time.Duration) time.Duration
}

func NewEngine(store storage.Store, sessions SessionSource, files FileSource, opts EngineOptions, log logx.Logger) *Engine {
	opts.applyDefaults()
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Engine{
		store:    store,
		sessions: sessions,
		files:    files,
		limiter:  rate.NewLimiter(rate.Limit(opts.RatePerSec), opts.RatePerSec),
		opts:     opts,
		log:      log,
		sleep:    sleepCtx,
		jitter:   randBetween,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func randBetween(min, max time.Duration) time.Duration {
	if max <= min {
		return min
	}
	return min + time.Duration(rand.Int63n(int64(max-min)))
}

func (e *Engine) lockOwner(ownerID int64) *sync.Mutex {
	mu, _ := e.ownerMu.LoadOrStore(ownerID, &sync.Mutex{})
	return mu.(*sync.Mutex)
}

// Deliver runs one broadcast. A non-nil error means the whole run failed
// and no destination was attempted; per-destination send errors are folded
// into Result.Failed instead.
func (e *Engine) Deliver(ctx context.Context, ownerID, templateID int64, rawDests []string) (Result, error) {
	log := e.log.With(logx.Int64("owner", ownerID), logx.Int64("template", templateID))

	account, err := e.store.Account(ctx, ownerID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return Result{}, ErrNoSession
		}
		return Result{}, fmt.Errorf("load account: %w", err)
	}
	if account.SessionString == "" {
		return Result{}, ErrNoSession
	}

	tpl, err := e.store.Template(ctx, templateID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return Result{}, ErrTemplateNotFound
		}
		return Result{}, fmt.Errorf("load template: %w", err)
	}

	client, err := e.sessions.GetOrCreate(ctx, ownerID, account.SessionString)
	if err != nil {
		return Result{}, err
	}

	dests := e.resolve(ctx, client, rawDests, log)
	if len(dests) == 0 {
		return Result{}, ErrNoValidDestinations
	}

	kind, err := userclient.ParseKind(tpl.MediaKind)
	if err != nil {
		return Result{}, fmt.Errorf("template %d: %w", templateID, err)
	}

	media := userclient.Media{
		Kind:     kind,
		Caption:  tpl.Caption,
		Entities: tpl.Entities,
	}
	if kind != userclient.KindText {
		path, cleanup, err := e.materialize(tpl.Content, kind)
		if err != nil {
			return Result{}, fmt.Errorf("materialize media: %w", err)
		}
		defer cleanup()
		media.Path = path
	}

	mu := e.lockOwner(ownerID)
	mu.Lock()
	defer mu.Unlock()

	var res Result
	for i, dst := range dests {
		if skip := e.shouldSkip(ctx, client, dst, log); skip {
			res.Skipped++
			continue
		}

		e.preamble(ctx, client, dst, kind, log)

		if err := e.limiter.Wait(ctx); err != nil {
			res.Failed += len(dests) - i
			break
		}

		sent, err := e.sendOne(ctx, client, dst, tpl, media)
		if err != nil {
			log.Warn("send failed", logx.String("dest", dst.String()), logx.Err(err))
			res.Failed++
			continue
		}
		res.Sent++
		if media.Remote == nil && sent.Remote != nil {
			media.Remote = sent.Remote
		}
		log.Debug("sent", logx.String("dest", dst.String()), logx.Int("message_id", sent.MessageID))

		if i < len(dests)-1 {
			if err := e.sleep(ctx, e.jitter(e.opts.PaceLongMin, e.opts.PaceLongMax)); err != nil {
				break
			}
		}
	}

	log.Info("delivery finished",
		logx.Int("sent", res.Sent),
		logx.Int("failed", res.Failed),
		logx.Int("skipped", res.Skipped))
	return res, nil
}

// resolve parses and probes the raw destination list. Unparsable and
// unreachable entries are dropped with a warning, never fatal on their own.
func (e *Engine) resolve(ctx context.Context, client userclient.Client, raw []string, log logx.Logger) []Destination {
	parsed, dropped := ParseDestinations(raw)
	for _, d := range dropped {
		log.Warn("dropping malformed destination", logx.String("dest", d))
	}
	out := parsed[:0]
	for _, d := range parsed {
		if err := client.Resolve(ctx, d.Chat); err != nil {
			log.Warn("dropping unreachable destination", logx.String("dest", d.String()), logx.Err(err))
			continue
		}
		out = append(out, d)
	}
	return out
}

// materialize turns the stored content into a sendable local path. Content
// that already points at an existing file is used as-is; anything else is
// treated as a Bot API file id and downloaded.
func (e *Engine) materialize(content string, kind userclient.MediaKind) (string, func(), error) {
	if _, err := os.Stat(content); err == nil {
		return content, func() {}, nil
	}
	return e.files.Materialize(content, kind)
}

// shouldSkip reports whether the most recent substantive message in the
// destination was posted by the delivering identity. Errors default to
// "do not skip".
func (e *Engine) shouldSkip(ctx context.Context, client userclient.Client, dst Destination, log logx.Logger) bool {
	limit := e.opts.HistoryLimit
	if dst.Topic != 0 {
		limit = e.opts.TopicHistoryLimit
	}
	history, err := client.History(ctx, dst.Chat, limit)
	if err != nil {
		log.Warn("history probe failed", logx.String("dest", dst.String()), logx.Err(err))
		return false
	}

	var last *userclient.HistoryMessage
	for i := range history {
		m := &history[i]
		if m.Service {
			continue
		}
		if dst.Topic != 0 {
			if m.ReplyToID == dst.Topic || m.TopicID == dst.Topic || m.ID == dst.Topic {
				last = m
				break
			}
			continue
		}
		last = m
		break
	}
	if last != nil && last.FromSelf {
		log.Debug("skipping destination, last message is ours", logx.String("dest", dst.String()))
		return true
	}
	return false
}

// preamble emits a presence signal and waits a short random delay. Pure
// best effort.
func (e *Engine) preamble(ctx context.Context, client userclient.Client, dst Destination, kind userclient.MediaKind, log logx.Logger) {
	if err := client.SendAction(ctx, dst.Chat, dst.Topic, kind); err != nil {
		log.Debug("chat action failed", logx.String("dest", dst.String()), logx.Err(err))
	}
	_ = e.sleep(ctx, e.jitter(e.opts.PaceShortMin, e.opts.PaceShortMax))
}

func (e *Engine) sendOne(ctx context.Context, client userclient.Client, dst Destination, tpl *storage.Template, media userclient.Media) (*userclient.Sent, error) {
	if media.Kind == userclient.KindText {
		return client.SendText(ctx, dst.Chat, dst.Topic, tpl.Content, tpl.Entities)
	}
	return client.SendMedia(ctx, dst.Chat, dst.Topic, media)
}
