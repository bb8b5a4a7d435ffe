// Package prompt holds the single pending search disambiguation.
package prompt

import (
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"

	"github.com/osa030/nyxbox/internal/domain/track"
)

// MaxCandidates is the most entries a prompt may offer.
const MaxCandidates = 9

// Errors
var (
	ErrNoPrompt          = errors.New("no selection pending")
	ErrStalePrompt       = errors.New("selection prompt was superseded")
	ErrInvalidSelection  = errors.New("invalid selection")
	ErrInvalidCandidates = errors.New("prompt needs 1 to 9 candidates")
)

// Prompt is a pending disambiguation awaiting one selection.
type Prompt struct {
	ID          string
	Requester   string // Opaque handle of whoever asked
	Destination string // Where the requester wants the song played
	Candidates  []track.Entry
	CreatedAt   time.Time
}

// Cache holds at most one live prompt. Opening a new prompt replaces the old one.
type Cache struct {
	mu      sync.Mutex
	current *Prompt
	ttl     time.Duration
	now     func() time.Time
}

// NewCache creates an empty cache. A positive ttl expires unresolved prompts.
func NewCache(ttl time.Duration) *Cache {
	return &Cache{
		ttl: ttl,
		now: time.Now,
	}
}

// Open replaces any pending prompt with a new one and returns a copy of it.
func (c *Cache) Open(requester, destination string, candidates []track.Entry) (Prompt, error) {
	if len(candidates) == 0 || len(candidates) > MaxCandidates {
		return Prompt{}, errors.Wrapf(ErrInvalidCandidates, "got %d", len(candidates))
	}

	p := &Prompt{
		ID:          uuid.New().String(),
		Requester:   requester,
		Destination: destination,
		Candidates:  append([]track.Entry(nil), candidates...),
		CreatedAt:   c.now(),
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.current = p
	return p.clone(), nil
}

// Current returns the pending prompt, if any.
func (c *Cache) Current() (Prompt, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	p := c.liveLocked()
	if p == nil {
		return Prompt{}, false
	}
	return p.clone(), true
}

// Resolve picks candidate index of the pending prompt and clears it.
// An out-of-range index fails with ErrInvalidSelection and keeps the prompt open.
func (c *Cache) Resolve(index int) (Prompt, track.Entry, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.resolveLocked(index)
}

// ResolveID is Resolve guarded by the prompt ID the selection was made against.
func (c *Cache) ResolveID(id string, index int) (Prompt, track.Entry, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	p := c.liveLocked()
	if p == nil {
		return Prompt{}, track.Entry{}, ErrNoPrompt
	}
	if p.ID != id {
		return Prompt{}, track.Entry{}, ErrStalePrompt
	}
	return c.resolveLocked(index)
}

// Cancel discards the pending prompt. It reports whether one was pending.
func (c *Cache) Cancel() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	live := c.liveLocked() != nil
	c.current = nil
	return live
}

// CancelID discards the pending prompt only if it still has the given ID.
func (c *Cache) CancelID(id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	p := c.liveLocked()
	if p == nil {
		return ErrNoPrompt
	}
	if p.ID != id {
		return ErrStalePrompt
	}
	c.current = nil
	return nil
}

func (c *Cache) resolveLocked(index int) (Prompt, track.Entry, error) {
	p := c.liveLocked()
	if p == nil {
		return Prompt{}, track.Entry{}, ErrNoPrompt
	}
	if index < 0 || index >= len(p.Candidates) {
		return Prompt{}, track.Entry{}, errors.Wrapf(ErrInvalidSelection, "index %d of %d", index, len(p.Candidates))
	}

	c.current = nil
	return p.clone(), p.Candidates[index], nil
}

// liveLocked returns the current prompt, dropping it first if it expired.
func (c *Cache) liveLocked() *Prompt {
	if c.current == nil {
		return nil
	}
	if c.ttl > 0 && c.now().Sub(c.current.CreatedAt) > c.ttl {
		c.current = nil
		return nil
	}
	return c.current
}

func (p *Prompt) clone() Prompt {
	out := *p
	out.Candidates = append([]track.Entry(nil), p.Candidates...)
	return out
}
