package notification

import (
	"sync"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordStream struct {
	mu    sync.Mutex
	got   []Notification
	err   error
	block chan struct{}
}

func (s *recordStream) Send(n *Notification) error {
	if s.block != nil {
		<-s.block
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.got = append(s.got, *n)
	return nil
}

func (s *recordStream) received() []Notification {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Notification(nil), s.got...)
}

func TestManager_BroadcastSequence(t *testing.T) {
	m := NewManager()
	a, b := &recordStream{}, &recordStream{}
	m.Subscribe(a)
	m.Subscribe(b)

	m.Broadcast(&Notification{Type: TypeTrackStarted})
	m.Broadcast(&Notification{Type: TypeTrackEnded})

	for _, s := range []*recordStream{a, b} {
		got := s.received()
		require.Len(t, got, 2)
		assert.Equal(t, uint64(1), got[0].SequenceNo)
		assert.Equal(t, TypeTrackStarted, got[0].Type)
		assert.Equal(t, uint64(2), got[1].SequenceNo)
		assert.False(t, got[1].Time.IsZero())
	}
	assert.Equal(t, uint64(2), m.SequenceNo())
}

func TestManager_Unsubscribe(t *testing.T) {
	m := NewManager()
	s := &recordStream{}
	id := m.Subscribe(s)
	m.Unsubscribe(id)

	m.Broadcast(&Notification{Type: TypeEnqueued})
	assert.Empty(t, s.received())
	assert.Equal(t, 0, m.SubscriberCount())
}

func TestManager_DropsFailingSubscriber(t *testing.T) {
	m := NewManager()
	m.Subscribe(&recordStream{err: errors.New("stream closed")})
	ok := &recordStream{}
	m.Subscribe(ok)

	m.Broadcast(&Notification{Type: TypeEnqueued})

	assert.Equal(t, 1, m.SubscriberCount())
	assert.Len(t, ok.received(), 1)
}

func TestManager_SlowSubscriberDoesNotBlock(t *testing.T) {
	m := NewManager()
	slow := &recordStream{block: make(chan struct{})}
	defer close(slow.block)
	m.Subscribe(slow)

	start := time.Now()
	m.Broadcast(&Notification{Type: TypeEnqueued})
	assert.Less(t, time.Since(start), 2*time.Second)
	assert.Equal(t, 1, m.SubscriberCount())
}

func TestManager_Close(t *testing.T) {
	m := NewManager()
	m.Subscribe(&recordStream{})
	m.Close()
	assert.Equal(t, 0, m.SubscriberCount())
}
