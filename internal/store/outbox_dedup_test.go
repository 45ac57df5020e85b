package store

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSQLiteStore_Outbox_EnqueueAndClaim(t *testing.T) {
	s := newTestSQLiteStore(t)
	ctx := context.Background()

	id, err := s.EnqueueOutboxMessage(ctx, "operator", "order_placed", `{"id":"o1"}`, "order:o1")
	require.NoError(t, err)
	require.NotEmpty(t, id)

	dupID, err := s.EnqueueOutboxMessage(ctx, "operator", "order_placed", `{"id":"o1"}`, "order:o1")
	require.NoError(t, err)
	assert.Equal(t, id, dupID, "pending dedupe key must return the existing message")

	msgs, err := s.ClaimDueOutboxMessages(ctx, time.Now(), 10)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, OutboxStatusSending, msgs[0].Status)
	assert.Equal(t, "operator", msgs[0].Recipient)
	assert.Equal(t, `{"id":"o1"}`, msgs[0].PayloadJSON)

	again, err := s.ClaimDueOutboxMessages(ctx, time.Now(), 10)
	require.NoError(t, err)
	assert.Empty(t, again, "claimed messages must not be claimed twice")

	require.NoError(t, s.MarkOutboxMessageSent(ctx, id))
	m, err := s.GetOutboxMessage(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, OutboxStatusSent, m.Status)
}

func TestSQLiteStore_Outbox_FailAndRequeue(t *testing.T) {
	s := newTestSQLiteStore(t)
	ctx := context.Background()

	id, err := s.EnqueueOutboxMessage(ctx, "operator", "order_placed", `{}`, "")
	require.NoError(t, err)
	_, err = s.ClaimDueOutboxMessages(ctx, time.Now(), 10)
	require.NoError(t, err)

	future := time.Now().Add(time.Hour)
	require.NoError(t, s.FailOutboxMessage(ctx, id, "boom", future))

	msgs, err := s.ClaimDueOutboxMessages(ctx, time.Now(), 10)
	require.NoError(t, err)
	assert.Empty(t, msgs, "message is not due before its next attempt")

	msgs, err = s.ClaimDueOutboxMessages(ctx, future.Add(time.Second), 10)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, 1, msgs[0].Attempts)
	assert.Equal(t, "boom", msgs[0].LastError)

	n, err := s.RequeueStaleSendingMessages(ctx, time.Now().Add(2*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	require.NoError(t, s.FailOutboxMessage(ctx, id, "gone", time.Time{}))
	m, err := s.GetOutboxMessage(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, OutboxStatusFailed, m.Status)
	assert.Nil(t, m.NextAttemptAt)
}

func TestOutboxSender_DeliversAndRetries(t *testing.T) {
	s := newTestSQLiteStore(t)
	ctx := context.Background()

	okID, err := s.EnqueueOutboxMessage(ctx, "operator", "order_placed", `{"ok":true}`, "")
	require.NoError(t, err)
	badID, err := s.EnqueueOutboxMessage(ctx, "operator", "order_placed", `{"ok":false}`, "")
	require.NoError(t, err)

	var calls atomic.Int32
	sender := NewOutboxSender(s, func(ctx context.Context, msg OutboxMessage) error {
		calls.Add(1)
		if msg.ID == badID {
			return errors.New("transport down")
		}
		return nil
	}, time.Second)

	sender.Poll(ctx)
	assert.Equal(t, int32(2), calls.Load())

	ok, err := s.GetOutboxMessage(ctx, okID)
	require.NoError(t, err)
	assert.Equal(t, OutboxStatusSent, ok.Status)

	bad, err := s.GetOutboxMessage(ctx, badID)
	require.NoError(t, err)
	assert.Equal(t, OutboxStatusQueued, bad.Status)
	require.NotNil(t, bad.NextAttemptAt)
	assert.True(t, bad.NextAttemptAt.After(time.Now()), "retry must be scheduled in the future")
}

func TestOutboxSender_GivesUpAfterMaxAttempts(t *testing.T) {
	s := newTestSQLiteStore(t)
	ctx := context.Background()
	id, err := s.EnqueueOutboxMessage(ctx, "operator", "order_placed", `{}`, "")
	require.NoError(t, err)

	clock := time.Now()
	sender := NewOutboxSender(s, func(context.Context, OutboxMessage) error { return errors.New("nope") }, time.Second)
	sender.maxAttempts = 2
	sender.now = func() time.Time { return clock }

	sender.Poll(ctx)
	clock = clock.Add(time.Hour)
	sender.Poll(ctx)

	m, err := s.GetOutboxMessage(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, OutboxStatusFailed, m.Status)
	assert.Equal(t, 2, m.Attempts)
}

func TestOutboxSender_Backoff(t *testing.T) {
	sender := NewOutboxSender(nil, nil, 0)
	now := time.Unix(0, 0)
	assert.Equal(t, now.Add(10*time.Second), sender.nextAttempt(now, 0))
	assert.Equal(t, now.Add(40*time.Second), sender.nextAttempt(now, 2))
	assert.True(t, sender.nextAttempt(now, DefaultOutboxMaxAttempts-1).IsZero())
	assert.Equal(t, DefaultOutboxPollInterval, sender.pollInterval)
}

func TestSQLiteStore_Dedup(t *testing.T) {
	s := newTestSQLiteStore(t)
	ctx := context.Background()

	dup, err := s.IsDuplicate(ctx, "tg:100")
	require.NoError(t, err)
	assert.False(t, dup)

	fresh, err := s.RecordInbound(ctx, "tg:100", "42")
	require.NoError(t, err)
	assert.True(t, fresh)

	fresh, err = s.RecordInbound(ctx, "tg:100", "42")
	require.NoError(t, err)
	assert.False(t, fresh)

	dup, err = s.IsDuplicate(ctx, "tg:100")
	require.NoError(t, err)
	assert.True(t, dup)

	require.NoError(t, s.MarkProcessed(ctx, "tg:100"))
}

func TestPostgresStore_OutboxAndDedup(t *testing.T) {
	s := newTestPostgresStore(t)
	ctx := context.Background()

	id, err := s.EnqueueOutboxMessage(ctx, "operator", "order_placed", `{}`, "k")
	require.NoError(t, err)
	msgs, err := s.ClaimDueOutboxMessages(ctx, time.Now(), 5)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, id, msgs[0].ID)
	require.NoError(t, s.MarkOutboxMessageSent(ctx, id))

	fresh, err := s.RecordInbound(ctx, "tg:1", "1")
	require.NoError(t, err)
	assert.True(t, fresh)
	fresh, err = s.RecordInbound(ctx, "tg:1", "1")
	require.NoError(t, err)
	assert.False(t, fresh)
}
