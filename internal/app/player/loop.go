package player

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/nyxbox/internal/app/queue"
	"github.com/osa030/nyxbox/internal/domain/track"
)

var errDetached = errors.New("session detached")

// run is the loop task of session s. It is the only writer of p.current.
func (p *Player) run(ctx context.Context, s *session) {
	defer close(s.done)

	var carry *track.Entry
	seenSkips := p.skips.Load()
	busy := 0

	for {
		if ctx.Err() != nil {
			return
		}

		var e track.Entry
		if carry != nil {
			e, carry = *carry, nil
		} else {
			skips := p.skips.Load()
			next, err := p.next(ctx, s, skips == seenSkips)
			seenSkips = skips
			if err != nil {
				if errors.Is(err, queue.ErrTimeout) {
					if !p.endIdle(s) {
						continue
					}
				}
				return
			}
			e = next
		}

		// The output may still be rendering if a completion raced a fresh
		// stop request; never submit a second song on top of it.
		if s.conn.IsPlaying() || s.conn.IsPaused() {
			busy++
			zlog.Error().Msgf("player: output already active, skipping play: session=%s entry=%q attempt=%d", s.id, e.String(), busy)
			if busy > p.config.DuplicatePlayRetries {
				p.teardown(s, ReasonFault, errors.Mark(errors.New("output stayed active"), ErrPlaybackFault))
				return
			}
			carry = &e
			select {
			case <-ctx.Done():
				return
			case <-time.After(p.config.DuplicatePlayBackoff):
			}
			continue
		}
		busy = 0

		completion, err := p.play(s, e)
		if errors.Is(err, errDetached) {
			return
		}
		if err != nil {
			zlog.Error().Msgf("player: play failed: session=%s entry=%q err=%v", s.id, e.String(), err)
			p.teardown(s, ReasonFault, errors.Mark(errors.Wrap(err, "failed to start playback"), ErrPlaybackFault))
			return
		}

		select {
		case <-ctx.Done():
			return
		case err := <-completion:
			if err != nil {
				zlog.Error().Msgf("player: playback error: session=%s entry=%q err=%v", s.id, e.String(), err)
				p.teardown(s, ReasonFault, errors.Mark(errors.Wrap(err, "playback failed"), ErrPlaybackFault))
				return
			}
			p.mu.Lock()
			p.sendEventLocked(Event{Type: EventTrackEnded, SessionID: s.id, Destination: s.conn.Destination(), Entry: &e})
			p.mu.Unlock()
			zlog.Debug().Msgf("player: track ended: session=%s entry=%q", s.id, e.String())
		}
	}
}

// endIdle tears s down after an idle timeout unless a request slipped into
// the queue after the wait gave up, in which case the loop carries on.
func (p *Player) endIdle(s *session) bool {
	p.mu.Lock()
	if p.queue.Len() > 0 {
		p.mu.Unlock()
		return false
	}
	removed, ok := p.detachLocked(s, nil)
	p.mu.Unlock()

	if ok {
		zlog.Info().Msgf("player: idle timeout reached: session=%s timeout=%v", s.id, p.config.IdleTimeout)
		p.release(s, ReasonIdle, nil, removed)
	}
	return true
}

// next returns the song for the coming iteration: the current song again when
// looping (and allowLoop), otherwise the queue head, waiting up to the idle timeout.
func (p *Player) next(ctx context.Context, s *session, allowLoop bool) (track.Entry, error) {
	p.mu.Lock()
	if allowLoop && p.loop && p.current != nil {
		e := *p.current
		p.mu.Unlock()
		return e, nil
	}
	if p.sess == s {
		p.current = nil
		p.state = StateAwaitingNext
	}
	p.mu.Unlock()

	return p.queue.DequeueWait(ctx, p.config.IdleTimeout)
}

// play submits e to the output and returns the single-slot completion signal.
func (p *Player) play(s *session, e track.Entry) (<-chan error, error) {
	p.mu.Lock()
	if p.sess != s {
		p.mu.Unlock()
		return nil, errDetached
	}
	cur := e
	p.current = &cur
	p.state = StatePlaying
	volume := p.volume
	p.mu.Unlock()

	completion := make(chan error, 1)
	err := s.conn.Play(e.Locator, volume, func(err error) {
		select {
		case completion <- err:
		default:
		}
	})
	if err != nil {
		return nil, err
	}

	// Volume may have changed between reading it and the output going active.
	p.mu.Lock()
	latest := p.volume
	p.sendEventLocked(Event{Type: EventTrackStarted, SessionID: s.id, Destination: s.conn.Destination(), Entry: &cur})
	p.mu.Unlock()
	if latest != volume {
		s.conn.SetVolume(latest)
	}

	zlog.Info().Msgf("player: now playing: session=%s entry=%q volume=%.2f", s.id, e.String(), latest)
	return completion, nil
}
