// Package session provides the request handlers that sit between the command
// surface and the player.
package session

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"
	"github.com/samber/lo"

	"github.com/osa030/nyxbox/internal/app/notification"
	"github.com/osa030/nyxbox/internal/app/player"
	"github.com/osa030/nyxbox/internal/app/prompt"
	"github.com/osa030/nyxbox/internal/domain/track"
)

var (
	ErrNoMatch       = errors.New("no song matched the query")
	ErrNoDestination = player.ErrNoDestination
)

// Catalog is the music library the handlers search.
type Catalog interface {
	Search(ctx context.Context, query string) ([]track.Entry, error)
	Scan(ctx context.Context) (int, error)
	Len() int
}

// Config holds session configuration.
type Config struct {
	DefaultDestination string        // Joined when a request names no destination
	PromptTTL          time.Duration // Zero keeps prompts until superseded
}

// Requester identifies who issued a request and where they are listening.
type Requester struct {
	Name        string
	Destination string
}

// PlayResult is the outcome of a play or selection request. Exactly one of
// Queued or Prompt is set.
type PlayResult struct {
	Queued   bool
	Entry    track.Entry
	Position int // 1-based queue position when Queued
	Prompt   *prompt.Prompt
}

// Manager handles playback requests.
type Manager struct {
	config Config

	player       *player.Player
	prompts      *prompt.Cache
	catalog      Catalog
	notification *notification.Manager

	startOnce sync.Once
	closeOnce sync.Once
	done      chan struct{}
}

// NewManager creates a new session manager.
func NewManager(p *player.Player, catalog Catalog, config Config) *Manager {
	return &Manager{
		config:       config,
		player:       p,
		prompts:      prompt.NewCache(config.PromptTTL),
		catalog:      catalog,
		notification: notification.NewManager(),
		done:         make(chan struct{}),
	}
}

// Start starts relaying player events to subscribers.
func (m *Manager) Start() {
	m.startOnce.Do(func() {
		go m.eventLoop()
	})
}

// Close shuts the player down and waits for the event relay to drain.
func (m *Manager) Close() {
	m.closeOnce.Do(func() {
		m.player.Close()
		m.startOnce.Do(func() { close(m.done) })
		<-m.done
		m.notification.Close()
	})
}

// Done returns a channel closed once the manager has shut down.
func (m *Manager) Done() <-chan struct{} {
	return m.done
}

// Notifications returns the notification manager.
func (m *Manager) Notifications() *notification.Manager {
	return m.notification
}

// Play searches for query and queues the single match, or opens a selection
// prompt when several songs match. A disconnected player joins the
// requester's destination first.
func (m *Manager) Play(ctx context.Context, req Requester, query string) (PlayResult, error) {
	matches, err := m.catalog.Search(ctx, query)
	if err != nil {
		return PlayResult{}, errors.Wrap(err, "search failed")
	}

	switch len(matches) {
	case 0:
		zlog.Info().Msgf("session: no match: requester=%s query=%q", req.Name, query)
		return PlayResult{}, errors.Wrapf(ErrNoMatch, "%q", query)
	case 1:
		return m.enqueue(ctx, req, matches[0])
	}

	if len(matches) > prompt.MaxCandidates {
		matches = matches[:prompt.MaxCandidates]
	}
	p, err := m.prompts.Open(req.Name, req.Destination, matches)
	if err != nil {
		return PlayResult{}, err
	}
	zlog.Info().Msgf("session: prompt opened: id=%s requester=%s candidates=%d", p.ID, req.Name, len(p.Candidates))
	m.notification.Broadcast(&notification.Notification{
		Type:        notification.TypePromptOpened,
		PromptID:    p.ID,
		Destination: p.Destination,
		Candidates:  p.Candidates,
		Message:     req.Name,
	})
	return PlayResult{Prompt: &p}, nil
}

// Select resolves the prompt promptID with the 0-based candidate index and
// queues the chosen song.
func (m *Manager) Select(ctx context.Context, promptID string, index int) (PlayResult, error) {
	p, e, err := m.prompts.ResolveID(promptID, index)
	if err != nil {
		return PlayResult{}, err
	}
	m.promptClosed(p.ID, "selected")
	return m.enqueue(ctx, Requester{Name: p.Requester, Destination: p.Destination}, e)
}

// SelectSymbol resolves the prompt with a keycap symbol.
func (m *Manager) SelectSymbol(ctx context.Context, promptID, symbol string) (PlayResult, error) {
	index, ok := prompt.IndexOf(symbol)
	if !ok {
		return PlayResult{}, errors.Wrapf(prompt.ErrInvalidSelection, "unknown symbol %q", symbol)
	}
	return m.Select(ctx, promptID, index)
}

// CancelSelection discards the prompt promptID.
func (m *Manager) CancelSelection(promptID string) error {
	if err := m.prompts.CancelID(promptID); err != nil {
		return err
	}
	m.promptClosed(promptID, "canceled")
	return nil
}

// PendingPrompt returns the open prompt, if any.
func (m *Manager) PendingPrompt() (prompt.Prompt, bool) {
	return m.prompts.Current()
}

// Search lists matches for query without queueing anything.
func (m *Manager) Search(ctx context.Context, query string) ([]track.Entry, error) {
	matches, err := m.catalog.Search(ctx, query)
	if err != nil {
		return nil, errors.Wrap(err, "search failed")
	}
	return matches, nil
}

// Join connects the player to destination, or to the default destination
// when it is empty.
func (m *Manager) Join(ctx context.Context, destination string) error {
	if destination == "" {
		destination = m.config.DefaultDestination
	}
	if destination == "" {
		return ErrNoDestination
	}
	return m.player.Join(ctx, destination)
}

// Leave disconnects the player.
func (m *Manager) Leave() error {
	return m.player.Leave()
}

// Skip skips the current song.
func (m *Manager) Skip() error {
	return m.player.Skip()
}

// Stop clears the queue and stops the current song.
func (m *Manager) Stop() error {
	return m.player.Stop()
}

// Pause pauses the current song.
func (m *Manager) Pause() error {
	return m.player.Pause()
}

// Resume resumes the current song.
func (m *Manager) Resume() error {
	return m.player.Resume()
}

// TogglePause pauses or resumes the current song.
func (m *Manager) TogglePause() (bool, error) {
	return m.player.TogglePause()
}

// SetVolume sets the volume percent.
func (m *Manager) SetVolume(percent int) error {
	return m.player.SetVolume(percent)
}

// Volume returns the volume percent.
func (m *Manager) Volume() int {
	return m.player.Volume()
}

// ToggleLoop flips repeat of the current song.
func (m *Manager) ToggleLoop() bool {
	return m.player.ToggleLoop()
}

// Shuffle shuffles the pending songs and returns the new order.
func (m *Manager) Shuffle() []track.Entry {
	q := m.player.Queue()
	q.Shuffle()
	return q.Snapshot()
}

// Remove removes the pending song at the 0-based index.
func (m *Manager) Remove(index int) (track.Entry, error) {
	return m.player.Queue().RemoveAt(index)
}

// Queue returns the pending songs.
func (m *Manager) Queue() []track.Entry {
	return m.player.Queue().Snapshot()
}

// Status returns the player status.
func (m *Manager) Status() player.Status {
	return m.player.Status()
}

// Rescan reindexes the library and returns the number of new files.
func (m *Manager) Rescan(ctx context.Context) (int, error) {
	added, err := m.catalog.Scan(ctx)
	if err != nil {
		return 0, errors.Wrap(err, "rescan failed")
	}
	m.LibraryScanned(added, m.catalog.Len())
	return added, nil
}

// LibrarySize returns the number of indexed songs.
func (m *Manager) LibrarySize() int {
	return m.catalog.Len()
}

// LibraryScanned announces a finished library scan that found new files.
func (m *Manager) LibraryScanned(added, total int) {
	if added == 0 {
		return
	}
	m.notification.Broadcast(&notification.Notification{
		Type:     notification.TypeLibraryUpdated,
		Position: total,
		Message:  lo.Ternary(added == 1, "1 new song", strconv.Itoa(added)+" new songs"),
	})
}

// enqueue joins if needed and queues e.
func (m *Manager) enqueue(ctx context.Context, req Requester, e track.Entry) (PlayResult, error) {
	if err := m.ensureJoined(ctx, req.Destination); err != nil {
		return PlayResult{}, err
	}

	pos, err := m.player.Enqueue(e)
	if errors.Is(err, player.ErrNotConnected) {
		// The session idled out between joining and queueing.
		if err = m.ensureJoined(ctx, req.Destination); err == nil {
			pos, err = m.player.Enqueue(e)
		}
	}
	if err != nil {
		zlog.Info().Msgf("session: enqueue rejected: requester=%s entry=%q err=%v", req.Name, e.String(), err)
		return PlayResult{}, err
	}

	zlog.Info().Msgf("session: enqueued: requester=%s entry=%q position=%d", req.Name, e.String(), pos)
	m.notification.Broadcast(&notification.Notification{
		Type:     notification.TypeEnqueued,
		Entry:    &e,
		Position: pos,
		Message:  req.Name,
	})
	return PlayResult{Queued: true, Entry: e, Position: pos}, nil
}

func (m *Manager) ensureJoined(ctx context.Context, destination string) error {
	if m.player.Connected() {
		return nil
	}
	err := m.Join(ctx, destination)
	if errors.Is(err, player.ErrAlreadyInChannel) {
		return nil
	}
	return err
}

func (m *Manager) promptClosed(id, how string) {
	zlog.Info().Msgf("session: prompt closed: id=%s how=%s", id, how)
	m.notification.Broadcast(&notification.Notification{
		Type:     notification.TypePromptClosed,
		PromptID: id,
		Message:  how,
	})
}
