package mailing

import (
	"context"
	"sync"
	"time"

	"relaybot/internal/storage"
	"relaybot/internal/userclient"
	"relaybot/pkg/logx"
)

func testLogger() logx.Logger { return logx.Nop() }

// fakeStore is an in-memory storage.Store.
type fakeStore struct {
	mu        sync.Mutex
	nextID    int64
	accounts  map[int64]*storage.Account
	templates map[int64]*storage.Template
	tasks     map[int64]*storage.Task
	lastRuns  map[int64]int
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		accounts:  map[int64]*storage.Account{},
		templates: map[int64]*storage.Template{},
		tasks:     map[int64]*storage.Task{},
		lastRuns:  map[int64]int{},
	}
}

func (f *fakeStore) CreateTask(ctx context.Context, t storage.Task) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	t.ID = f.nextID
	f.tasks[t.ID] = &t
	return t.ID, nil
}

func (f *fakeStore) ActiveTasks(ctx context.Context) ([]storage.Task, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []storage.Task
	for _, t := range f.tasks {
		if t.Active {
			out = append(out, *t)
		}
	}
	return out, nil
}

func (f *fakeStore) ActiveTasksForOwner(ctx context.Context, ownerID int64) ([]storage.Task, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []storage.Task
	for _, t := range f.tasks {
		if t.Active && t.OwnerID == ownerID {
			out = append(out, *t)
		}
	}
	return out, nil
}

func (f *fakeStore) MarkLastRun(ctx context.Context, taskID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastRuns[taskID]++
	if t, ok := f.tasks[taskID]; ok {
		now := time.Now()
		t.LastRun = &now
	}
	return nil
}

func (f *fakeStore) DeactivateTask(ctx context.Context, taskID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if t, ok := f.tasks[taskID]; ok {
		t.Active = false
	}
	return nil
}

func (f *fakeStore) CreateTemplate(ctx context.Context, t storage.Template) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	t.ID = f.nextID
	f.templates[t.ID] = &t
	return t.ID, nil
}

func (f *fakeStore) Template(ctx context.Context, id int64) (*storage.Template, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.templates[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	cp := *t
	return &cp, nil
}

func (f *fakeStore) TemplatesForOwner(ctx context.Context, ownerID int64) ([]storage.Template, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []storage.Template
	for _, t := range f.templates {
		if t.OwnerID == ownerID {
			out = append(out, *t)
		}
	}
	return out, nil
}

func (f *fakeStore) DeleteTemplate(ctx context.Context, ownerID, id int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.templates, id)
	return nil
}

func (f *fakeStore) Account(ctx context.Context, telegramID int64) (*storage.Account, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.accounts[telegramID]
	if !ok {
		return nil, storage.ErrNotFound
	}
	cp := *a
	return &cp, nil
}

func (f *fakeStore) SaveAccount(ctx context.Context, a storage.Account) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.accounts[a.TelegramID] = &a
	return nil
}

func (f *fakeStore) ClearSession(ctx context.Context, telegramID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if a, ok := f.accounts[telegramID]; ok {
		a.SessionString = ""
	}
	return nil
}

func (f *fakeStore) Close() error { return nil }

func (f *fakeStore) taskActive(id int64) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.tasks[id]
	return ok && t.Active
}

func (f *fakeStore) lastRunCount(id int64) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastRuns[id]
}

// fakeClient scripts the delivery-side client behavior per chat.
type fakeClient struct {
	mu         sync.Mutex
	history    map[int64][]userclient.HistoryMessage
	historyErr map[int64]error
	resolveErr map[int64]error
	sendErr    map[string]error // keyed by Destination.String()
	sends      []string
	uploads    int
}

func newScriptedClient() *fakeClient {
	return &fakeClient{
		history:    map[int64][]userclient.HistoryMessage{},
		historyErr: map[int64]error{},
		resolveErr: map[int64]error{},
		sendErr:    map[string]error{},
	}
}

func (c *fakeClient) Connected() bool                 { return true }
func (c *fakeClient) Close(ctx context.Context) error { return nil }
func (c *fakeClient) Self() userclient.Identity       { return userclient.Identity{ID: 42} }

func (c *fakeClient) Resolve(ctx context.Context, chatID int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.resolveErr[chatID]
}

func (c *fakeClient) History(ctx context.Context, chatID int64, limit int) ([]userclient.HistoryMessage, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.historyErr[chatID]; err != nil {
		return nil, err
	}
	h := c.history[chatID]
	if len(h) > limit {
		h = h[:limit]
	}
	return h, nil
}

func (c *fakeClient) SendAction(ctx context.Context, chatID int64, topicID int, kind userclient.MediaKind) error {
	return nil
}

func (c *fakeClient) record(chatID int64, topicID int) (string, error) {
	key := Destination{Chat: chatID, Topic: topicID}.String()
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.sendErr[key]; err != nil {
		return key, err
	}
	c.sends = append(c.sends, key)
	return key, nil
}

func (c *fakeClient) SendText(ctx context.Context, chatID int64, topicID int, text string, entities []storage.Entity) (*userclient.Sent, error) {
	if _, err := c.record(chatID, topicID); err != nil {
		return nil, err
	}
	return &userclient.Sent{MessageID: len(c.sends)}, nil
}

func (c *fakeClient) SendMedia(ctx context.Context, chatID int64, topicID int, m userclient.Media) (*userclient.Sent, error) {
	if _, err := c.record(chatID, topicID); err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if m.Remote == nil {
		c.uploads++
	}
	return &userclient.Sent{MessageID: len(c.sends), Remote: "cached-handle"}, nil
}

func (c *fakeClient) Dialogs(ctx context.Context) ([]userclient.Dialog, error) { return nil, nil }
func (c *fakeClient) ForumTopics(ctx context.Context, chatID int64) ([]userclient.ForumTopic, error) {
	return nil, nil
}
func (c *fakeClient) ChatInfo(ctx context.Context, chatID int64) (*userclient.ChatInfo, error) {
	return &userclient.ChatInfo{ChatID: chatID}, nil
}

func (c *fakeClient) sentTo() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.sends...)
}

// fakeSessions hands out one scripted client for every owner.
type fakeSessions struct {
	client *fakeClient
	err    error
}

func (s *fakeSessions) GetOrCreate(ctx context.Context, ownerID int64, sessionString string) (userclient.Client, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.client, nil
}

// fakeFiles materializes every file id to the same fixed path.
type fakeFiles struct {
	mu       sync.Mutex
	path     string
	calls    int
	cleanups int
}

func (f *fakeFiles) Materialize(fileID string, kind userclient.MediaKind) (string, func(), error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.path, func() {
		f.mu.Lock()
		f.cleanups++
		f.mu.Unlock()
	}, nil
}

// newTestEngine wires an Engine with instant sleeps and deterministic jitter.
func newTestEngine(store storage.Store, client *fakeClient, files FileSource) *Engine {
	e := NewEngine(store, &fakeSessions{client: client}, files, EngineOptions{RatePerSec: 1000}, testLogger())
	e.sleep = func(ctx context.Context, d time.Duration) error { return ctx.Err() }
	e.jitter = func(min, max time.Duration) time.Duration { return min }
	return e
}
