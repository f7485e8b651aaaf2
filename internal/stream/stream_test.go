package stream

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublishReachesSubscribers(t *testing.T) {
	s := New()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a := s.Subscribe(ctx)
	b := s.Subscribe(ctx)
	s.Publish(ChangeEvent{Kind: "role", Op: "create", IDs: []string{"r1"}})

	for _, ch := range []<-chan ChangeEvent{a, b} {
		select {
		case evt := <-ch:
			assert.Equal(t, "create", evt.Op)
			assert.False(t, evt.Timestamp.IsZero())
		case <-time.After(time.Second):
			t.Fatal("event not delivered")
		}
	}
}

func TestSlowSubscriberDropsEvents(t *testing.T) {
	s := New()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	_ = s.Subscribe(ctx)
	for i := 0; i < 20; i++ {
		s.Publish(ChangeEvent{Kind: "board", Op: "batch"})
	}
	assert.Equal(t, uint64(4), s.Dropped())
}

func TestCancelUnsubscribes(t *testing.T) {
	s := New()
	ctx, cancel := context.WithCancel(context.Background())
	ch := s.Subscribe(ctx)
	require.Equal(t, 1, s.Subscribers())

	cancel()
	select {
	case _, ok := <-ch:
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("channel not closed")
	}
	assert.Equal(t, 0, s.Subscribers())
}
