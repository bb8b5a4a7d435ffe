package player

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/osa030/nyxbox/internal/domain/output"
	"github.com/osa030/nyxbox/internal/domain/track"
)

// setLoop sets repeat of the current song.
func (p *Player) setLoop(enabled bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.loop = enabled
}

// sessionEnded returns a channel closed once the most recent session has
// released its output. With no session ever joined it is already closed.
func (p *Player) sessionEnded() <-chan struct{} {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.last == nil {
		done := make(chan struct{})
		close(done)
		return done
	}
	return p.last.ended
}

// fakeOutput hands out fakeConns and refuses destinations in deny.
type fakeOutput struct {
	mu    sync.Mutex
	deny  map[string]bool
	stuck bool
	// release, when set, holds Disconnect until it is closed.
	release chan struct{}
	conns   []*fakeConn
}

func (o *fakeOutput) Connect(ctx context.Context, destination string) (output.Connection, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.deny[destination] {
		return nil, output.ErrPermissionDenied
	}
	c := &fakeConn{dest: destination, stuck: o.stuck, release: o.release, plays: make(chan string, 100)}
	o.conns = append(o.conns, c)
	return c, nil
}

func (o *fakeOutput) last() *fakeConn {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.conns[len(o.conns)-1]
}

type fakeConn struct {
	mu           sync.Mutex
	dest         string
	playing      bool
	paused       bool
	stuck        bool
	releasing    bool
	disconnected bool
	release      chan struct{}
	volume       float64
	onComplete   output.CompletionFunc
	played       []string
	plays        chan string
}

func (c *fakeConn) Destination() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.dest
}

func (c *fakeConn) MoveTo(ctx context.Context, destination string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.disconnected {
		return output.ErrDisconnected
	}
	c.dest = destination
	return nil
}

func (c *fakeConn) Play(locator string, volume float64, onComplete output.CompletionFunc) error {
	c.mu.Lock()
	if c.disconnected {
		c.mu.Unlock()
		return output.ErrDisconnected
	}
	c.playing = true
	c.paused = false
	c.volume = volume
	c.onComplete = onComplete
	c.played = append(c.played, locator)
	c.mu.Unlock()

	c.plays <- locator
	return nil
}

// finish ends the active song with err, as the sink's decoder would.
func (c *fakeConn) finish(err error) {
	c.mu.Lock()
	done := c.onComplete
	c.onComplete = nil
	c.playing = false
	c.paused = false
	c.mu.Unlock()

	if done != nil {
		done(err)
	}
}

func (c *fakeConn) Stop() { c.finish(nil) }

func (c *fakeConn) Pause() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.playing {
		c.paused = true
	}
}

func (c *fakeConn) Resume() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.paused = false
}

func (c *fakeConn) IsPlaying() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stuck || (c.playing && !c.paused)
}

func (c *fakeConn) IsPaused() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.paused
}

func (c *fakeConn) SetVolume(volume float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.volume = volume
}

func (c *fakeConn) Disconnect() error {
	c.mu.Lock()
	c.releasing = true
	c.mu.Unlock()

	if c.release != nil {
		<-c.release
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.disconnected = true
	return nil
}

func (c *fakeConn) isReleasing() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.releasing
}

func (c *fakeConn) isDisconnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.disconnected
}

func (c *fakeConn) currentVolume() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.volume
}

func (c *fakeConn) playCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.played)
}

func waitPlay(t *testing.T, c *fakeConn) string {
	t.Helper()
	select {
	case loc := <-c.plays:
		return loc
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for play")
		return ""
	}
}

func song(name string) track.Entry {
	return track.Entry{Title: name, Artist: "Test", Locator: fmt.Sprintf("/music/%s.mp3", name)}
}

func testConfig() Config {
	return Config{
		QueueCapacity:        10,
		IdleTimeout:          5 * time.Second,
		DefaultVolume:        20,
		DuplicatePlayRetries: 2,
		DuplicatePlayBackoff: 5 * time.Millisecond,
	}
}

func newTestPlayer(t *testing.T, cfg Config) (*Player, *fakeOutput) {
	t.Helper()
	out := &fakeOutput{deny: map[string]bool{}}
	p := New(out, cfg)
	t.Cleanup(p.Close)
	return p, out
}

func TestPlayer_Join(t *testing.T) {
	p, out := newTestPlayer(t, testConfig())
	ctx := context.Background()

	assert.Equal(t, StateDisconnected, p.Status().State)
	assert.True(t, errors.Is(p.Join(ctx, ""), ErrNoDestination))

	require.NoError(t, p.Join(ctx, "lounge"))
	assert.True(t, p.Connected())
	assert.Equal(t, StateAwaitingNext, p.Status().State)
	assert.Equal(t, "lounge", p.Status().Destination)

	err := p.Join(ctx, "lounge")
	assert.True(t, errors.Is(err, ErrAlreadyInChannel))

	// Joining elsewhere moves the existing connection.
	require.NoError(t, p.Join(ctx, "studio"))
	assert.Len(t, out.conns, 1)
	assert.Equal(t, "studio", p.Status().Destination)
}

func TestPlayer_JoinPermissionDenied(t *testing.T) {
	p, out := newTestPlayer(t, testConfig())
	out.deny["vault"] = true

	err := p.Join(context.Background(), "vault")
	require.Error(t, err)
	assert.True(t, errors.Is(err, output.ErrPermissionDenied))
	assert.False(t, p.Connected())
}

func TestPlayer_PlaysInEnqueueOrder(t *testing.T) {
	p, out := newTestPlayer(t, testConfig())
	require.NoError(t, p.Join(context.Background(), "lounge"))
	conn := out.last()

	for _, name := range []string{"a", "b", "c"} {
		_, err := p.Enqueue(song(name))
		require.NoError(t, err)
	}

	for _, name := range []string{"a", "b", "c"} {
		assert.Equal(t, song(name).Locator, waitPlay(t, conn))
		st := p.Status()
		require.NotNil(t, st.Current)
		assert.Equal(t, song(name), *st.Current)
		assert.Equal(t, StatePlaying, st.State)
		conn.finish(nil)
	}

	assert.Eventually(t, func() bool {
		st := p.Status()
		return st.State == StateAwaitingNext && st.Current == nil
	}, time.Second, 5*time.Millisecond)
}

func TestPlayer_EnqueueWakesWaitingLoop(t *testing.T) {
	p, out := newTestPlayer(t, testConfig())
	require.NoError(t, p.Join(context.Background(), "lounge"))
	conn := out.last()

	time.Sleep(20 * time.Millisecond)
	_, err := p.Enqueue(song("late"))
	require.NoError(t, err)

	assert.Equal(t, song("late").Locator, waitPlay(t, conn))
}

func TestPlayer_IdleTimeoutTearsDown(t *testing.T) {
	cfg := testConfig()
	cfg.IdleTimeout = 30 * time.Millisecond
	p, out := newTestPlayer(t, cfg)

	start := time.Now()
	require.NoError(t, p.Join(context.Background(), "lounge"))
	conn := out.last()

	select {
	case <-p.sessionEnded():
	case <-time.After(2 * time.Second):
		t.Fatal("session did not idle out")
	}

	assert.GreaterOrEqual(t, time.Since(start), cfg.IdleTimeout)
	assert.False(t, p.Connected())
	assert.Equal(t, StateDisconnected, p.Status().State)
	assert.Equal(t, 0, p.Queue().Len())
	assert.True(t, conn.isDisconnected())
	assert.NoError(t, p.Status().LastError)

	var ended *Event
	for len(p.Events()) > 0 {
		e := <-p.Events()
		if e.Type == EventSessionEnded {
			ended = &e
		}
	}
	require.NotNil(t, ended)
	assert.Equal(t, ReasonIdle, ended.Reason)
}

func TestPlayer_LoopRepeatsCurrentSong(t *testing.T) {
	p, out := newTestPlayer(t, testConfig())
	require.NoError(t, p.Join(context.Background(), "lounge"))
	conn := out.last()
	for _, name := range []string{"x", "y", "z"} {
		_, err := p.Enqueue(song(name))
		require.NoError(t, err)
	}

	assert.Equal(t, song("x").Locator, waitPlay(t, conn))
	assert.True(t, p.ToggleLoop())

	for i := 0; i < 3; i++ {
		conn.finish(nil)
		assert.Equal(t, song("x").Locator, waitPlay(t, conn), "iteration %d", i)
	}
	assert.Equal(t, []track.Entry{song("y"), song("z")}, p.Queue().Snapshot())

	assert.False(t, p.ToggleLoop())
	conn.finish(nil)
	assert.Equal(t, song("y").Locator, waitPlay(t, conn))
}

func TestPlayer_SkipWhileLoopingAdvances(t *testing.T) {
	p, out := newTestPlayer(t, testConfig())
	p.setLoop(true)
	require.NoError(t, p.Join(context.Background(), "lounge"))
	conn := out.last()
	_, _ = p.Enqueue(song("x"))
	_, _ = p.Enqueue(song("y"))

	assert.Equal(t, song("x").Locator, waitPlay(t, conn))
	require.NoError(t, p.Skip())
	assert.Equal(t, song("y").Locator, waitPlay(t, conn))

	// Still looping on the new song.
	conn.finish(nil)
	assert.Equal(t, song("y").Locator, waitPlay(t, conn))
}

func TestPlayer_SkipDoesNotTouchQueue(t *testing.T) {
	p, out := newTestPlayer(t, testConfig())
	require.NoError(t, p.Join(context.Background(), "lounge"))
	conn := out.last()
	_, _ = p.Enqueue(song("a"))
	waitPlay(t, conn)

	_, _ = p.Enqueue(song("b"))
	_, _ = p.Enqueue(song("c"))
	require.NoError(t, p.Skip())

	assert.Equal(t, song("b").Locator, waitPlay(t, conn))
	assert.Equal(t, []track.Entry{song("c")}, p.Queue().Snapshot())
}

func TestPlayer_SkipNotPlaying(t *testing.T) {
	p, _ := newTestPlayer(t, testConfig())
	assert.True(t, errors.Is(p.Skip(), ErrNotPlaying))

	require.NoError(t, p.Join(context.Background(), "lounge"))
	assert.True(t, errors.Is(p.Skip(), ErrNotPlaying))
}

func TestPlayer_SetVolume(t *testing.T) {
	p, out := newTestPlayer(t, testConfig())
	assert.Equal(t, 20, p.Volume())

	tests := []struct {
		name    string
		percent int
		wantErr bool
		want    int
	}{
		{name: "too high", percent: 150, wantErr: true, want: 20},
		{name: "negative", percent: -1, wantErr: true, want: 20},
		{name: "upper bound", percent: 100, want: 100},
		{name: "lower bound", percent: 0, want: 0},
		{name: "middle", percent: 55, want: 55},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			before := p.Volume()
			err := p.SetVolume(tt.percent)
			if tt.wantErr {
				assert.True(t, errors.Is(err, ErrInvalidVolume))
				assert.Equal(t, before, p.Volume())
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, p.Volume())
		})
	}

	// Live propagation to the active song.
	require.NoError(t, p.Join(context.Background(), "lounge"))
	conn := out.last()
	_, _ = p.Enqueue(song("a"))
	waitPlay(t, conn)
	assert.InDelta(t, 0.55, conn.currentVolume(), 0.001)

	require.NoError(t, p.SetVolume(80))
	assert.InDelta(t, 0.80, conn.currentVolume(), 0.001)
}

func TestPlayer_PauseResume(t *testing.T) {
	p, out := newTestPlayer(t, testConfig())

	_, err := p.TogglePause()
	assert.True(t, errors.Is(err, ErrNotPlaying))
	assert.True(t, errors.Is(p.Resume(), ErrNotPlaying))

	require.NoError(t, p.Join(context.Background(), "lounge"))
	_, err = p.TogglePause()
	assert.True(t, errors.Is(err, ErrNotPlaying))

	_, _ = p.Enqueue(song("a"))
	conn := out.last()
	waitPlay(t, conn)

	paused, err := p.TogglePause()
	require.NoError(t, err)
	assert.True(t, paused)
	assert.True(t, p.Status().Paused)
	assert.True(t, errors.Is(p.Pause(), ErrNotPlaying))

	paused, err = p.TogglePause()
	require.NoError(t, err)
	assert.False(t, paused)

	require.NoError(t, p.Pause())
	require.NoError(t, p.Resume())
	assert.False(t, p.Status().Paused)
}

func TestPlayer_Leave(t *testing.T) {
	p, out := newTestPlayer(t, testConfig())
	assert.True(t, errors.Is(p.Leave(), ErrNotConnected))

	require.NoError(t, p.Join(context.Background(), "lounge"))
	conn := out.last()
	_, _ = p.Enqueue(song("a"))
	_, _ = p.Enqueue(song("b"))
	waitPlay(t, conn)

	require.NoError(t, p.Leave())
	assert.False(t, p.Connected())
	assert.Equal(t, 0, p.Queue().Len())
	assert.Nil(t, p.Status().Current)
	assert.True(t, conn.isDisconnected())
	assert.NoError(t, p.Status().LastError)

	assert.True(t, errors.Is(p.Leave(), ErrNotConnected))

	// No stale iteration plays after leave.
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 1, conn.playCount())

	// A fresh join spawns a new loop.
	require.NoError(t, p.Join(context.Background(), "lounge"))
	_, _ = p.Enqueue(song("c"))
	assert.Equal(t, song("c").Locator, waitPlay(t, out.last()))
}

func TestPlayer_PlaybackFaultEndsSession(t *testing.T) {
	p, out := newTestPlayer(t, testConfig())
	require.NoError(t, p.Join(context.Background(), "lounge"))
	conn := out.last()
	_, _ = p.Enqueue(song("a"))
	_, _ = p.Enqueue(song("b"))
	waitPlay(t, conn)

	conn.finish(errors.New("decoder exploded"))

	select {
	case <-p.sessionEnded():
	case <-time.After(2 * time.Second):
		t.Fatal("session did not end after fault")
	}

	st := p.Status()
	assert.Equal(t, StateDisconnected, st.State)
	assert.Empty(t, st.Queue)
	require.Error(t, st.LastError)
	assert.True(t, errors.Is(st.LastError, ErrPlaybackFault))
	assert.True(t, conn.isDisconnected())
	assert.Equal(t, 1, conn.playCount())
}

func TestPlayer_DuplicatePlayGuard(t *testing.T) {
	p, out := newTestPlayer(t, testConfig())
	out.stuck = true
	require.NoError(t, p.Join(context.Background(), "lounge"))
	conn := out.last()
	_, _ = p.Enqueue(song("a"))

	select {
	case <-p.sessionEnded():
	case <-time.After(2 * time.Second):
		t.Fatal("stuck output did not fault the session")
	}

	assert.Equal(t, 0, conn.playCount())
	assert.True(t, errors.Is(p.Status().LastError, ErrPlaybackFault))
}

func TestPlayer_Stop(t *testing.T) {
	p, out := newTestPlayer(t, testConfig())
	assert.True(t, errors.Is(p.Stop(), ErrNotConnected))

	p.setLoop(true)
	require.NoError(t, p.Join(context.Background(), "lounge"))
	conn := out.last()
	_, _ = p.Enqueue(song("a"))
	_, _ = p.Enqueue(song("b"))
	waitPlay(t, conn)

	require.NoError(t, p.Stop())
	assert.False(t, p.LoopEnabled())
	assert.Equal(t, 0, p.Queue().Len())

	assert.Eventually(t, func() bool {
		return p.Status().State == StateAwaitingNext
	}, time.Second, 5*time.Millisecond)
	assert.True(t, p.Connected())
}

func TestPlayer_EventsOrder(t *testing.T) {
	p, out := newTestPlayer(t, testConfig())
	require.NoError(t, p.Join(context.Background(), "lounge"))
	conn := out.last()
	_, _ = p.Enqueue(song("a"))
	waitPlay(t, conn)
	conn.finish(nil)
	assert.Eventually(t, func() bool {
		return p.Status().State == StateAwaitingNext
	}, time.Second, 5*time.Millisecond)
	require.NoError(t, p.Leave())

	var types []EventType
	for len(p.Events()) > 0 {
		types = append(types, (<-p.Events()).Type)
	}
	assert.Equal(t, []EventType{
		EventSessionStarted,
		EventTrackStarted,
		EventTrackEnded,
		EventSessionEnded,
	}, types)
}

func TestPlayer_EnqueueRequiresSession(t *testing.T) {
	p, _ := newTestPlayer(t, testConfig())

	_, err := p.Enqueue(song("a"))
	assert.True(t, errors.Is(err, ErrNotConnected))
	assert.Equal(t, 0, p.Queue().Len())
}

func TestPlayer_EnqueueWhileIdleTeardownReleases(t *testing.T) {
	cfg := testConfig()
	cfg.IdleTimeout = 20 * time.Millisecond
	p, out := newTestPlayer(t, cfg)

	release := make(chan struct{})
	var once sync.Once
	unblock := func() { once.Do(func() { close(release) }) }
	out.release = release
	t.Cleanup(unblock)

	ctx := context.Background()
	require.NoError(t, p.Join(ctx, "lounge"))
	conn := out.last()

	// The loop has idled out and is stuck disconnecting the output.
	assert.Eventually(t, conn.isReleasing, 2*time.Second, 2*time.Millisecond)

	assert.False(t, p.Connected())
	assert.Equal(t, StateDisconnected, p.Status().State)
	_, err := p.Enqueue(song("late"))
	assert.True(t, errors.Is(err, ErrNotConnected))

	// A join waits for the old output to be released.
	joined := make(chan error, 1)
	go func() { joined <- p.Join(ctx, "lounge") }()
	select {
	case <-joined:
		t.Fatal("join returned before the old session was released")
	case <-time.After(20 * time.Millisecond):
	}

	unblock()
	select {
	case err := <-joined:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("join did not complete")
	}
	assert.True(t, conn.isDisconnected())

	_, err = p.Enqueue(song("late"))
	require.NoError(t, err)
	assert.Equal(t, song("late").Locator, waitPlay(t, out.last()))
}
