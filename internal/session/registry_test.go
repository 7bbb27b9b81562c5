package session

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"relaybot/internal/storage"
	"relaybot/internal/userclient"
	"relaybot/pkg/logx"
)

type fakeClient struct {
	connected atomic.Bool
	closed    atomic.Bool
}

func newFakeClient() *fakeClient {
	c := &fakeClient{}
	c.connected.Store(true)
	return c
}

func (c *fakeClient) Connected() bool { return c.connected.Load() }
func (c *fakeClient) Close(ctx context.Context) error {
	c.closed.Store(true)
	c.connected.Store(false)
	return nil
}
func (c *fakeClient) Self() userclient.Identity                          { return userclient.Identity{ID: 1} }
func (c *fakeClient) Resolve(ctx context.Context, chatID int64) error    { return nil }
func (c *fakeClient) History(ctx context.Context, chatID int64, limit int) ([]userclient.HistoryMessage, error) {
	return nil, nil
}
func (c *fakeClient) SendAction(ctx context.Context, chatID int64, topicID int, kind userclient.MediaKind) error {
	return nil
}
func (c *fakeClient) SendText(ctx context.Context, chatID int64, topicID int, text string, entities []storage.Entity) (*userclient.Sent, error) {
	return &userclient.Sent{}, nil
}
func (c *fakeClient) SendMedia(ctx context.Context, chatID int64, topicID int, m userclient.Media) (*userclient.Sent, error) {
	return &userclient.Sent{}, nil
}
func (c *fakeClient) Dialogs(ctx context.Context) ([]userclient.Dialog, error) { return nil, nil }
func (c *fakeClient) ForumTopics(ctx context.Context, chatID int64) ([]userclient.ForumTopic, error) {
	return nil, nil
}
func (c *fakeClient) ChatInfo(ctx context.Context, chatID int64) (*userclient.ChatInfo, error) {
	return &userclient.ChatInfo{ChatID: chatID, Title: "scripted", Kind: "supergroup", IsForum: true}, nil
}

func TestGetOrCreateReusesLiveClient(t *testing.T) {
	t.Parallel()
	var dials atomic.Int32
	dial := func(ctx context.Context, ownerID int64, s string) (userclient.Client, error) {
		dials.Add(1)
		return newFakeClient(), nil
	}
	r := NewRegistry(dial, logx.Nop())
	ctx := context.Background()

	a, err := r.GetOrCreate(ctx, 7, "sess")
	if err != nil {
		t.Fatalf("GetOrCreate: %v", err)
	}
	b, err := r.GetOrCreate(ctx, 7, "sess")
	if err != nil {
		t.Fatalf("GetOrCreate: %v", err)
	}
	if a != b {
		t.Fatal("expected cached client to be reused")
	}
	if dials.Load() != 1 {
		t.Fatalf("dialed %d times, want 1", dials.Load())
	}
}

func TestGetOrCreateRebuildsDeadClient(t *testing.T) {
	t.Parallel()
	var dials atomic.Int32
	dial := func(ctx context.Context, ownerID int64, s string) (userclient.Client, error) {
		dials.Add(1)
		return newFakeClient(), nil
	}
	r := NewRegistry(dial, logx.Nop())
	ctx := context.Background()

	a, _ := r.GetOrCreate(ctx, 7, "sess")
	a.(*fakeClient).connected.Store(false)

	b, err := r.GetOrCreate(ctx, 7, "sess")
	if err != nil {
		t.Fatalf("GetOrCreate: %v", err)
	}
	if a == b {
		t.Fatal("dead client should have been replaced")
	}
	if dials.Load() != 2 {
		t.Fatalf("dialed %d times, want 2", dials.Load())
	}
}

func TestGetOrCreateNoDoubleConstructionUnderConcurrency(t *testing.T) {
	t.Parallel()
	var dials atomic.Int32
	dial := func(ctx context.Context, ownerID int64, s string) (userclient.Client, error) {
		dials.Add(1)
		return newFakeClient(), nil
	}
	r := NewRegistry(dial, logx.Nop())

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := r.GetOrCreate(context.Background(), 7, "sess"); err != nil {
				t.Error(err)
			}
		}()
	}
	wg.Wait()
	if dials.Load() != 1 {
		t.Fatalf("dialed %d times for one owner, want 1", dials.Load())
	}
}

func TestChatInfoUsesCachedClient(t *testing.T) {
	t.Parallel()
	var dials atomic.Int32
	dial := func(ctx context.Context, ownerID int64, s string) (userclient.Client, error) {
		dials.Add(1)
		return newFakeClient(), nil
	}
	r := NewRegistry(dial, logx.Nop())
	ctx := context.Background()

	if _, err := r.GetOrCreate(ctx, 7, "sess"); err != nil {
		t.Fatalf("GetOrCreate: %v", err)
	}
	info, err := r.ChatInfo(ctx, 7, "sess", -1001234)
	if err != nil {
		t.Fatalf("ChatInfo: %v", err)
	}
	if info.ChatID != -1001234 || !info.IsForum {
		t.Fatalf("info = %+v", info)
	}
	if dials.Load() != 1 {
		t.Fatalf("lookup dialed %d times, want the cached client reused", dials.Load())
	}
}

func TestDialFailureSurfacesUnavailable(t *testing.T) {
	t.Parallel()
	dial := func(ctx context.Context, ownerID int64, s string) (userclient.Client, error) {
		return nil, errors.New("bad credential")
	}
	r := NewRegistry(dial, logx.Nop())
	if _, err := r.GetOrCreate(context.Background(), 7, "sess"); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("err = %v, want ErrUnavailable", err)
	}
}

func TestReleaseEvicts(t *testing.T) {
	t.Parallel()
	var dials atomic.Int32
	dial := func(ctx context.Context, ownerID int64, s string) (userclient.Client, error) {
		dials.Add(1)
		return newFakeClient(), nil
	}
	r := NewRegistry(dial, logx.Nop())
	ctx := context.Background()

	a, _ := r.GetOrCreate(ctx, 7, "sess")
	if err := r.Release(ctx, 7); err != nil {
		t.Fatalf("Release: %v", err)
	}
	if !a.(*fakeClient).closed.Load() {
		t.Fatal("released client was not closed")
	}
	// Releasing again is a no-op.
	if err := r.Release(ctx, 7); err != nil {
		t.Fatalf("second Release: %v", err)
	}

	b, _ := r.GetOrCreate(ctx, 7, "sess")
	if a == b || dials.Load() != 2 {
		t.Fatal("expected a fresh client after release")
	}
}
