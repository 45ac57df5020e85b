package messaging

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BTreeMap/OrderPipe/internal/flow"
	"github.com/BTreeMap/OrderPipe/internal/models"
)

// recordingService is an in-memory Service that records outbound traffic.
type recordingService struct {
	mu       sync.Mutex
	sent     []models.Reply
	answered []string
	events   chan models.Event
}

func newRecordingService() *recordingService {
	return &recordingService{events: make(chan models.Event, 256)}
}

func (s *recordingService) Send(ctx context.Context, reply models.Reply) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, reply)
	return nil
}

func (s *recordingService) AnswerCallback(ctx context.Context, callbackID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.answered = append(s.answered, callbackID)
	return nil
}

func (s *recordingService) SetCommands(ctx context.Context, commands []flow.Command) error {
	return nil
}

func (s *recordingService) Start(ctx context.Context) error { return nil }

func (s *recordingService) Stop() error {
	close(s.events)
	return nil
}

func (s *recordingService) Events() <-chan models.Event { return s.events }

func (s *recordingService) replies() []models.Reply {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.Reply(nil), s.sent...)
}

type engineFunc func(ctx context.Context, ev models.Event) ([]models.Reply, error)

func (f engineFunc) Handle(ctx context.Context, ev models.Event) ([]models.Reply, error) {
	return f(ctx, ev)
}

func (f engineFunc) FailureReply(chatID int64) models.Reply {
	return models.Reply{ChatID: chatID, Text: "failure"}
}

func echoEngine() engineFunc {
	return func(ctx context.Context, ev models.Event) ([]models.Reply, error) {
		return []models.Reply{{ChatID: ev.ChatID, Text: ev.Text}}, nil
	}
}

type memoryDedup struct {
	mu        sync.Mutex
	seen      map[string]bool
	processed map[string]bool
}

func newMemoryDedup() *memoryDedup {
	return &memoryDedup{seen: map[string]bool{}, processed: map[string]bool{}}
}

func (d *memoryDedup) IsDuplicate(ctx context.Context, id string) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.seen[id], nil
}

func (d *memoryDedup) RecordInbound(ctx context.Context, id, chatID string) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.seen[id] {
		return false, nil
	}
	d.seen[id] = true
	return true, nil
}

func (d *memoryDedup) MarkProcessed(ctx context.Context, id string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.processed[id] = true
	return nil
}

func TestDispatcherSendsReplies(t *testing.T) {
	svc := newRecordingService()
	d := NewDispatcher(svc, echoEngine())
	d.Process(context.Background(), models.TextEvent(3, "hello"))
	assert.Equal(t, []models.Reply{{ChatID: 3, Text: "hello"}}, svc.replies())
}

func TestDispatcherErrorSendsFailureReply(t *testing.T) {
	svc := newRecordingService()
	d := NewDispatcher(svc, engineFunc(func(ctx context.Context, ev models.Event) ([]models.Reply, error) {
		return nil, errors.New("catalog down")
	}))
	d.Process(context.Background(), models.TextEvent(3, "hello"))
	assert.Equal(t, []models.Reply{{ChatID: 3, Text: "failure"}}, svc.replies())
}

func TestDispatcherRecoversPanics(t *testing.T) {
	svc := newRecordingService()
	d := NewDispatcher(svc, engineFunc(func(ctx context.Context, ev models.Event) ([]models.Reply, error) {
		panic("boom")
	}))
	assert.NotPanics(t, func() { d.Process(context.Background(), models.TextEvent(3, "hello")) })
	assert.Equal(t, []models.Reply{{ChatID: 3, Text: "failure"}}, svc.replies())
}

func TestDispatcherAnswersCallbacks(t *testing.T) {
	svc := newRecordingService()
	d := NewDispatcher(svc, echoEngine())
	ev := models.ActionEvent(3, models.Action{Kind: models.ActionCancelCheckout})
	ev.CallbackID = "cb-9"
	d.Process(context.Background(), ev)
	assert.Equal(t, []string{"cb-9"}, svc.answered)
}

func TestDispatcherSkipsDuplicateUpdates(t *testing.T) {
	svc := newRecordingService()
	dedup := newMemoryDedup()
	d := NewDispatcher(svc, echoEngine(), WithDedup(dedup), WithDispatcherName("customer"))

	ev := models.TextEvent(3, "hello")
	ev.ID = 77
	d.Process(context.Background(), ev)
	d.Process(context.Background(), ev)

	assert.Len(t, svc.replies(), 1)
	assert.True(t, dedup.processed["tg:customer:77"])
}

func TestDispatcherRunKeepsPerChatOrder(t *testing.T) {
	svc := newRecordingService()
	var mu sync.Mutex
	seen := map[int64][]int{}
	engine := engineFunc(func(ctx context.Context, ev models.Event) ([]models.Reply, error) {
		mu.Lock()
		seen[ev.ChatID] = append(seen[ev.ChatID], int(ev.ID))
		mu.Unlock()
		return nil, nil
	})
	d := NewDispatcher(svc, engine, WithWorkers(4))

	const perChat = 50
	for i := 1; i <= perChat; i++ {
		for chat := int64(1); chat <= 3; chat++ {
			ev := models.TextEvent(chat, "x")
			ev.ID = int64(i)
			svc.events <- ev
		}
	}
	require.NoError(t, svc.Stop())

	done := make(chan struct{})
	go func() {
		d.Run(context.Background())
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after the events channel closed")
	}

	for chat := int64(1); chat <= 3; chat++ {
		require.Len(t, seen[chat], perChat)
		for i, id := range seen[chat] {
			assert.Equal(t, i+1, id, "chat %d out of order", chat)
		}
	}
}
