package session

import (
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/nyxbox/internal/app/notification"
	"github.com/osa030/nyxbox/internal/app/player"
)

// eventLoop relays player events to subscribers until the player closes its
// event channel.
func (m *Manager) eventLoop() {
	for !m.relay() {
		zlog.Info().Msg("session: restarting event relay")
	}
	close(m.done)
}

// relay drains player events. It returns false if a handler panicked.
func (m *Manager) relay() (finished bool) {
	defer func() {
		if r := recover(); r != nil {
			zlog.Error().Msgf("session: event relay panicked: %v", r)
			finished = false
		}
	}()

	for event := range m.player.Events() {
		m.handlePlayerEvent(event)
	}
	return true
}

func (m *Manager) handlePlayerEvent(event player.Event) {
	zlog.Debug().Msgf("session: player event: type=%s session=%s", event.Type, event.SessionID)

	n := &notification.Notification{
		SessionID:   event.SessionID,
		Destination: event.Destination,
		Entry:       event.Entry,
	}

	switch event.Type {
	case player.EventSessionStarted:
		n.Type = notification.TypeSessionStarted

	case player.EventSessionMoved:
		n.Type = notification.TypeSessionMoved

	case player.EventSessionEnded:
		n.Type = notification.TypeSessionEnded
		n.Reason = event.Reason.String()
		if event.Err != nil {
			n.Message = event.Err.Error()
		}

	case player.EventTrackStarted:
		n.Type = notification.TypeTrackStarted

	case player.EventTrackEnded:
		n.Type = notification.TypeTrackEnded

	case player.EventStateChanged:
		n.Type = notification.TypeResumed
		if event.Paused {
			n.Type = notification.TypePaused
		}
		n.Paused = event.Paused

	default:
		return
	}

	m.notification.Broadcast(n)
}
