// Package session caches one live delivery client per owner so repeated
// mailing runs reuse connections instead of re-authenticating every time.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"relaybot/internal/userclient"
	"relaybot/pkg/logx"
)

// ErrUnavailable means the stored credential is invalid or the transport
// could not start. Fatal for the current delivery run; callers must not
// retry within the same invocation.
var ErrUnavailable = errors.New("delivery session unavailable")

type entry struct {
	mu     sync.Mutex
	client userclient.Client
}

// Registry maps owner ids to cached clients. Lookups for different owners
// proceed concurrently; per-owner entry locks guarantee a single live client
// per owner even under concurrent access.
type Registry struct {
	dial userclient.Dialer
	log  logx.Logger

	mu      sync.Mutex
	entries map[int64]*entry
}

func NewRegistry(dial userclient.Dialer, log logx.Logger) *Registry {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Registry{dial: dial, log: log, entries: map[int64]*entry{}}
}

func (r *Registry) entryFor(ownerID int64) *entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	e := r.entries[ownerID]
	if e == nil {
		e = &entry{}
		r.entries[ownerID] = e
	}
	return e
}

// GetOrCreate returns a live client for the owner, rebuilding it from the
// stored credential when the cached one is gone or has dropped its link.
func (r *Registry) GetOrCreate(ctx context.Context, ownerID int64, sessionString string) (userclient.Client, error) {
	e := r.entryFor(ownerID)
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.client != nil {
		if e.client.Connected() {
			return e.client, nil
		}
		r.log.Debug("cached delivery client is dead, rebuilding", logx.Int64("owner", ownerID))
		_ = e.client.Close(ctx)
		e.client = nil
	}

	c, err := r.dial(ctx, ownerID, sessionString)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	e.client = c
	r.log.Info("delivery client ready", logx.Int64("owner", ownerID))
	return c, nil
}

// Release stops and evicts the owner's cached client. The next GetOrCreate
// rebuilds from scratch. Releasing an owner with no client is a no-op.
func (r *Registry) Release(ctx context.Context, ownerID int64) error {
	r.mu.Lock()
	e := r.entries[ownerID]
	delete(r.entries, ownerID)
	r.mu.Unlock()
	if e == nil {
		return nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.client == nil {
		return nil
	}
	err := e.client.Close(ctx)
	e.client = nil
	r.log.Info("delivery client released", logx.Int64("owner", ownerID))
	return err
}

// Close stops every cached client. Used at shutdown.
func (r *Registry) Close(ctx context.Context) {
	r.mu.Lock()
	entries := r.entries
	r.entries = map[int64]*entry{}
	r.mu.Unlock()

	for owner, e := range entries {
		e.mu.Lock()
		if e.client != nil {
			if err := e.client.Close(ctx); err != nil {
				r.log.Warn("closing delivery client failed", logx.Int64("owner", owner), logx.Err(err))
			}
			e.client = nil
		}
		e.mu.Unlock()
	}
}

// Dialogs lists the owner's groups and channels through a live client.
func (r *Registry) Dialogs(ctx context.Context, ownerID int64, sessionString string) ([]userclient.Dialog, error) {
	c, err := r.GetOrCreate(ctx, ownerID, sessionString)
	if err != nil {
		return nil, err
	}
	return c.Dialogs(ctx)
}

// ForumTopics lists the open topics of a forum chat the owner is in.
func (r *Registry) ForumTopics(ctx context.Context, ownerID int64, sessionString string, chatID int64) ([]userclient.ForumTopic, error) {
	c, err := r.GetOrCreate(ctx, ownerID, sessionString)
	if err != nil {
		return nil, err
	}
	return c.ForumTopics(ctx, chatID)
}

// ChatInfo looks up one chat as the owner's account sees it.
func (r *Registry) ChatInfo(ctx context.Context, ownerID int64, sessionString string, chatID int64) (*userclient.ChatInfo, error) {
	c, err := r.GetOrCreate(ctx, ownerID, sessionString)
	if err != nil {
		return nil, err
	}
	return c.ChatInfo(ctx, chatID)
}
