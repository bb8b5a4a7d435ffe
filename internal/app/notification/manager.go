// Package notification broadcasts player notifications to subscribers.
package notification

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/nyxbox/internal/domain/track"
)

// Type identifies a notification.
type Type string

const (
	TypeSessionStarted Type = "session_started"
	TypeSessionMoved   Type = "session_moved"
	TypeSessionEnded   Type = "session_ended"
	TypeTrackStarted   Type = "track_started"
	TypeTrackEnded     Type = "track_ended"
	TypePaused         Type = "paused"
	TypeResumed        Type = "resumed"
	TypeEnqueued       Type = "enqueued"
	TypePromptOpened   Type = "prompt_opened"
	TypePromptClosed   Type = "prompt_closed"
	TypeLibraryUpdated Type = "library_updated"
)

// Notification is one broadcast message.
type Notification struct {
	SequenceNo  uint64
	Type        Type
	Time        time.Time
	SessionID   string
	Destination string
	Entry       *track.Entry
	// Candidates carries the choices of a prompt_opened notification.
	Candidates []track.Entry
	PromptID   string
	Position   int
	Paused     bool
	Reason     string // session_ended only
	Message    string
}

// Stream represents a notification stream for a subscriber.
type Stream interface {
	Send(*Notification) error
}

const sendTimeout = 500 * time.Millisecond

type subscription struct {
	id     string
	stream Stream
}

// Manager manages notification subscriptions and broadcasting.
type Manager struct {
	mu            sync.RWMutex
	subscriptions map[string]*subscription

	seqMu      sync.Mutex
	sequenceNo uint64

	now func() time.Time
}

// NewManager creates a new notification manager.
func NewManager() *Manager {
	return &Manager{
		subscriptions: make(map[string]*subscription),
		now:           time.Now,
	}
}

// Subscribe adds a new subscription and returns the subscription ID.
func (m *Manager) Subscribe(stream Stream) string {
	m.mu.Lock()
	defer m.mu.Unlock()

	id := uuid.New().String()
	m.subscriptions[id] = &subscription{id: id, stream: stream}
	zlog.Debug().Msgf("notification: subscribed: id=%s count=%d", id, len(m.subscriptions))
	return id
}

// Unsubscribe removes a subscription.
func (m *Manager) Unsubscribe(subscriptionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.subscriptions, subscriptionID)
}

// Broadcast stamps n with the next sequence number and sends it to all
// subscribers in parallel. A subscriber whose send fails is dropped; a slow
// one is skipped for this notification.
func (m *Manager) Broadcast(n *Notification) {
	m.seqMu.Lock()
	m.sequenceNo++
	n.SequenceNo = m.sequenceNo
	m.seqMu.Unlock()
	if n.Time.IsZero() {
		n.Time = m.now()
	}

	m.mu.RLock()
	subs := make([]*subscription, 0, len(m.subscriptions))
	for _, sub := range m.subscriptions {
		subs = append(subs, sub)
	}
	m.mu.RUnlock()

	var wg sync.WaitGroup
	for _, sub := range subs {
		wg.Add(1)
		go func(s *subscription) {
			defer wg.Done()
			ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
			defer cancel()

			done := make(chan error, 1)
			go func() {
				done <- s.stream.Send(n)
			}()

			select {
			case err := <-done:
				if err != nil {
					zlog.Warn().Msgf("notification: send failed, dropping subscriber: id=%s err=%v", s.id, err)
					m.Unsubscribe(s.id)
				}
			case <-ctx.Done():
				zlog.Warn().Msgf("notification: send timed out: id=%s seq=%d", s.id, n.SequenceNo)
			}
		}(sub)
	}
	wg.Wait()
}

// SequenceNo returns the last assigned sequence number.
func (m *Manager) SequenceNo() uint64 {
	m.seqMu.Lock()
	defer m.seqMu.Unlock()
	return m.sequenceNo
}

// SubscriberCount returns the number of active subscribers.
func (m *Manager) SubscriberCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.subscriptions)
}

// Close removes all subscriptions.
func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subscriptions = make(map[string]*subscription)
}
