package player

import (
	"context"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/nyxbox/internal/app/queue"
	"github.com/osa030/nyxbox/internal/domain/output"
	"github.com/osa030/nyxbox/internal/domain/track"
)

// Errors
var (
	ErrNotConnected     = errors.New("not connected")
	ErrAlreadyInChannel = errors.New("already connected to this destination")
	ErrNotPlaying       = errors.New("nothing is playing")
	ErrInvalidVolume    = errors.New("volume must be between 0 and 100")
	ErrPlaybackFault    = errors.New("playback fault")
	ErrNoDestination    = errors.New("no destination given")
	ErrClosed           = errors.New("player is closed")
)

// Config holds player configuration.
type Config struct {
	QueueCapacity        int           // Maximum pending entries
	IdleTimeout          time.Duration // Teardown after waiting this long on an empty queue
	DefaultVolume        int           // Initial volume percent
	DuplicatePlayRetries int           // Consecutive busy-output detections tolerated before faulting
	DuplicatePlayBackoff time.Duration // Wait between busy-output detections
}

// session is one connected lifetime of the player loop.
type session struct {
	id      string
	conn    output.Connection
	cancel  context.CancelFunc
	done    chan struct{} // closed when the loop returns
	ended   chan struct{} // closed once the output is released

	detached bool // guarded by Player.mu
}

// Player owns the playback state and the single loop task driving the output.
type Player struct {
	// lifecycle serializes Join and Leave.
	lifecycle sync.Mutex

	mu sync.RWMutex

	out    output.Output
	queue  *queue.Queue
	config Config

	sess    *session
	last    *session // most recent session, possibly still releasing
	state   State
	current *track.Entry // written by the loop task only
	loop    bool
	volume  float64
	lastErr error

	// skips counts skip requests; the loop compares it at iteration boundaries.
	skips atomic.Uint64

	events chan Event
	closed bool
}

// New creates a disconnected player using out as its audio sink.
func New(out output.Output, config Config) *Player {
	if config.DuplicatePlayBackoff <= 0 {
		config.DuplicatePlayBackoff = 50 * time.Millisecond
	}
	volume := config.DefaultVolume
	if volume < 0 || volume > 100 {
		volume = 20
	}
	return &Player{
		out:    out,
		queue:  queue.New(config.QueueCapacity),
		config: config,
		state:  StateDisconnected,
		volume: float64(volume) / 100,
		events: make(chan Event, 64),
	}
}

// Events returns the event channel.
func (p *Player) Events() <-chan Event {
	return p.events
}

// Queue returns the playback queue.
func (p *Player) Queue() *queue.Queue {
	return p.queue
}

// Join connects to destination and spawns the loop task. When already
// connected elsewhere, the existing connection is moved instead.
func (p *Player) Join(ctx context.Context, destination string) error {
	if destination == "" {
		return ErrNoDestination
	}

	p.lifecycle.Lock()
	defer p.lifecycle.Unlock()

	p.mu.RLock()
	s, closed := p.sess, p.closed
	p.mu.RUnlock()
	if closed {
		return ErrClosed
	}

	if s != nil {
		if s.conn.Destination() == destination {
			return ErrAlreadyInChannel
		}
		err := s.conn.MoveTo(ctx, destination)
		if err == nil {
			zlog.Info().Msgf("player: session moved: session=%s destination=%s", s.id, destination)
			p.mu.Lock()
			p.sendEventLocked(Event{Type: EventSessionMoved, SessionID: s.id, Destination: destination})
			p.mu.Unlock()
			return nil
		}
		if !errors.Is(err, output.ErrDisconnected) {
			return errors.Wrapf(err, "failed to move to %s", destination)
		}
		p.teardown(s, ReasonFault, errors.Mark(errors.Wrap(err, "output lost"), ErrPlaybackFault))
	}

	// A session that ended on its own may still be releasing its output.
	p.mu.RLock()
	last := p.last
	p.mu.RUnlock()
	if last != nil {
		<-last.ended
	}

	conn, err := p.out.Connect(ctx, destination)
	if err != nil {
		return errors.Wrapf(err, "failed to connect to %s", destination)
	}

	loopCtx, cancel := context.WithCancel(context.Background())
	s = &session{
		id:     uuid.New().String(),
		conn:   conn,
		cancel: cancel,
		done:   make(chan struct{}),
		ended:  make(chan struct{}),
	}

	p.mu.Lock()
	p.sess = s
	p.last = s
	p.state = StateAwaitingNext
	p.current = nil
	p.lastErr = nil
	p.sendEventLocked(Event{Type: EventSessionStarted, SessionID: s.id, Destination: destination})
	p.mu.Unlock()

	zlog.Info().Msgf("player: session started: session=%s destination=%s", s.id, destination)
	go p.run(loopCtx, s)
	return nil
}

// Leave cancels the loop task, clears the queue and releases the output.
// It returns ErrNotConnected when there is no session.
func (p *Player) Leave() error {
	p.lifecycle.Lock()
	defer p.lifecycle.Unlock()

	p.mu.RLock()
	s := p.sess
	p.mu.RUnlock()
	if s == nil {
		return ErrNotConnected
	}

	s.cancel()
	<-s.done
	p.teardown(s, ReasonLeave, nil)
	<-s.ended
	return nil
}

// Close leaves any session and closes the event channel.
func (p *Player) Close() {
	p.lifecycle.Lock()
	p.mu.RLock()
	s, last := p.sess, p.last
	p.mu.RUnlock()
	if s != nil {
		s.cancel()
		<-s.done
		p.teardown(s, ReasonClosed, nil)
	}
	if last != nil {
		<-last.ended
	}

	p.mu.Lock()
	if !p.closed {
		p.closed = true
		close(p.events)
	}
	p.mu.Unlock()
	p.lifecycle.Unlock()
}

// TogglePause pauses an active song or resumes a paused one.
// It returns whether the output is paused afterwards.
func (p *Player) TogglePause() (bool, error) {
	s := p.activeSession()
	if s == nil {
		return false, ErrNotPlaying
	}

	switch {
	case s.conn.IsPaused():
		s.conn.Resume()
		p.emitStateChanged(s, false)
		return false, nil
	case s.conn.IsPlaying():
		s.conn.Pause()
		p.emitStateChanged(s, true)
		return true, nil
	default:
		return false, ErrNotPlaying
	}
}

// Pause pauses the active song.
func (p *Player) Pause() error {
	s := p.activeSession()
	if s == nil || !s.conn.IsPlaying() {
		return ErrNotPlaying
	}
	s.conn.Pause()
	p.emitStateChanged(s, true)
	return nil
}

// Resume resumes a paused song.
func (p *Player) Resume() error {
	s := p.activeSession()
	if s == nil || !s.conn.IsPaused() {
		return ErrNotPlaying
	}
	s.conn.Resume()
	p.emitStateChanged(s, false)
	return nil
}

// SetVolume sets the volume percent and applies it to the active song.
func (p *Player) SetVolume(percent int) error {
	if percent < 0 || percent > 100 {
		return errors.Wrapf(ErrInvalidVolume, "got %d", percent)
	}

	v := float64(percent) / 100
	p.mu.Lock()
	p.volume = v
	s := p.sess
	p.mu.Unlock()

	if s != nil && (s.conn.IsPlaying() || s.conn.IsPaused()) {
		s.conn.SetVolume(v)
	}
	return nil
}

// Volume returns the volume percent.
func (p *Player) Volume() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return int(math.Round(p.volume * 100))
}

// ToggleLoop flips repeat of the current song and returns the new value.
// The loop task observes it at its next iteration.
func (p *Player) ToggleLoop() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.loop = !p.loop
	return p.loop
}

// LoopEnabled reports whether the current song repeats.
func (p *Player) LoopEnabled() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.loop
}

// Skip asks the output to stop the current song. The loop task advances on
// the resulting completion; the queue is not touched here.
func (p *Player) Skip() error {
	s := p.activeSession()
	if s == nil || !(s.conn.IsPlaying() || s.conn.IsPaused()) {
		return ErrNotPlaying
	}
	p.skips.Add(1)
	s.conn.Stop()
	return nil
}

// Stop clears the queue, disables looping and stops the current song.
// The connection stays open until the idle timeout or Leave.
func (p *Player) Stop() error {
	p.mu.Lock()
	s := p.sess
	if s == nil {
		p.mu.Unlock()
		return ErrNotConnected
	}
	p.loop = false
	p.mu.Unlock()

	removed := p.queue.Clear()
	zlog.Info().Msgf("player: stop requested: session=%s removed=%d", s.id, len(removed))

	if s.conn.IsPlaying() || s.conn.IsPaused() {
		p.skips.Add(1)
		s.conn.Stop()
	}
	return nil
}

// Enqueue appends an entry to the playback queue of the live session and
// returns its position. It fails with ErrNotConnected when no session is
// live, including one that is already ending.
func (p *Player) Enqueue(e track.Entry) (int, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.sess == nil {
		return 0, ErrNotConnected
	}
	return p.queue.Enqueue(e)
}

// Status is a point-in-time view of the player.
type Status struct {
	State       State
	SessionID   string
	Destination string
	Current     *track.Entry
	Loop        bool
	Volume      int
	Paused      bool
	Queue       []track.Entry
	Capacity    int
	LastError   error
}

// Status returns the current player status.
func (p *Player) Status() Status {
	p.mu.RLock()
	st := Status{
		State:     p.state,
		Loop:      p.loop,
		Volume:    int(math.Round(p.volume * 100)),
		Capacity:  p.queue.Capacity(),
		LastError: p.lastErr,
	}
	if p.current != nil {
		cur := *p.current
		st.Current = &cur
	}
	s := p.sess
	p.mu.RUnlock()

	if s != nil {
		st.SessionID = s.id
		st.Destination = s.conn.Destination()
		st.Paused = s.conn.IsPaused()
	}
	st.Queue = p.queue.Snapshot()
	return st
}

// Connected reports whether a session is active.
func (p *Player) Connected() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.sess != nil
}

func (p *Player) activeSession() *session {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.sess
}

func (p *Player) emitStateChanged(s *session, paused bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	var cur *track.Entry
	if p.current != nil {
		c := *p.current
		cur = &c
	}
	p.sendEventLocked(Event{
		Type:        EventStateChanged,
		SessionID:   s.id,
		Destination: s.conn.Destination(),
		Entry:       cur,
		Paused:      paused,
	})
}

// teardown ends session s once: it detaches the session so no request can
// reach it, then releases the output.
func (p *Player) teardown(s *session, reason EndReason, cause error) {
	p.mu.Lock()
	removed, ok := p.detachLocked(s, cause)
	p.mu.Unlock()
	if ok {
		p.release(s, reason, cause, removed)
	}
}

// detachLocked clears the queue and marks the player disconnected in one
// step. It reports false if s was already detached.
// Must be called with lock held.
func (p *Player) detachLocked(s *session, cause error) ([]track.Entry, bool) {
	if s.detached {
		return nil, false
	}
	s.detached = true

	removed := p.queue.Clear()
	if p.sess == s {
		p.sess = nil
		p.current = nil
		p.state = StateDisconnected
	}
	if cause != nil {
		p.lastErr = cause
	}
	return removed, true
}

// release stops and disconnects the output of a detached session.
func (p *Player) release(s *session, reason EndReason, cause error, removed []track.Entry) {
	s.cancel()
	s.conn.Stop()
	if err := s.conn.Disconnect(); err != nil {
		zlog.Warn().Msgf("player: disconnect failed: session=%s err=%v", s.id, err)
	}

	p.mu.Lock()
	p.sendEventLocked(Event{
		Type:        EventSessionEnded,
		SessionID:   s.id,
		Destination: s.conn.Destination(),
		Reason:      reason,
		Err:         cause,
	})
	p.mu.Unlock()
	close(s.ended)

	zlog.Info().Msgf("player: session ended: session=%s reason=%s removed=%d", s.id, reason, len(removed))
}

// sendEventLocked sends an event without blocking.
// Must be called with lock held.
func (p *Player) sendEventLocked(e Event) {
	if p.closed {
		return
	}
	select {
	case p.events <- e:
	default:
		zlog.Warn().Msgf("player: event dropped: type=%s", e.Type)
	}
}
