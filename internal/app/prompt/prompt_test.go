package prompt

import (
	"fmt"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/osa030/nyxbox/internal/domain/track"
)

func candidates(n int) []track.Entry {
	out := make([]track.Entry, n)
	for i := range out {
		out[i] = track.Entry{Title: fmt.Sprintf("Song %d", i+1), Locator: fmt.Sprintf("/m/%d.mp3", i+1)}
	}
	return out
}

func TestCache_Open(t *testing.T) {
	tests := []struct {
		name    string
		count   int
		wantErr bool
	}{
		{name: "no candidates", count: 0, wantErr: true},
		{name: "one candidate", count: 1},
		{name: "nine candidates", count: 9},
		{name: "ten candidates", count: 10, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := NewCache(0)
			p, err := c.Open("user-1", "lounge", candidates(tt.count))
			if tt.wantErr {
				assert.True(t, errors.Is(err, ErrInvalidCandidates))
				_, ok := c.Current()
				assert.False(t, ok)
				return
			}
			require.NoError(t, err)
			assert.NotEmpty(t, p.ID)
			assert.Equal(t, "user-1", p.Requester)
			assert.Equal(t, "lounge", p.Destination)
			assert.Len(t, p.Candidates, tt.count)
		})
	}
}

func TestCache_ResolveValid(t *testing.T) {
	c := NewCache(0)
	_, err := c.Open("user-1", "", candidates(3))
	require.NoError(t, err)

	p, e, err := c.Resolve(1)
	require.NoError(t, err)
	assert.Equal(t, "Song 2", e.Title)
	assert.Equal(t, "user-1", p.Requester)

	_, _, err = c.Resolve(1)
	assert.True(t, errors.Is(err, ErrNoPrompt))
}

func TestCache_ResolveOutOfRangeKeepsPrompt(t *testing.T) {
	c := NewCache(0)
	opened, err := c.Open("user-1", "", candidates(3))
	require.NoError(t, err)

	for _, idx := range []int{-1, 3, 8} {
		_, _, err := c.Resolve(idx)
		assert.True(t, errors.Is(err, ErrInvalidSelection), "index %d", idx)
	}

	current, ok := c.Current()
	require.True(t, ok)
	assert.Equal(t, opened.ID, current.ID)

	_, e, err := c.Resolve(2)
	require.NoError(t, err)
	assert.Equal(t, "Song 3", e.Title)
}

func TestCache_NewPromptSupersedesOld(t *testing.T) {
	c := NewCache(0)
	first, err := c.Open("user-1", "", candidates(2))
	require.NoError(t, err)
	second, err := c.Open("user-2", "", candidates(4))
	require.NoError(t, err)

	_, _, err = c.ResolveID(first.ID, 0)
	assert.True(t, errors.Is(err, ErrStalePrompt))

	p, _, err := c.ResolveID(second.ID, 3)
	require.NoError(t, err)
	assert.Equal(t, "user-2", p.Requester)
}

func TestCache_Cancel(t *testing.T) {
	c := NewCache(0)
	assert.False(t, c.Cancel())

	p, err := c.Open("user-1", "", candidates(2))
	require.NoError(t, err)

	assert.True(t, errors.Is(c.CancelID("other"), ErrStalePrompt))
	require.NoError(t, c.CancelID(p.ID))
	assert.True(t, errors.Is(c.CancelID(p.ID), ErrNoPrompt))

	_, err = c.Open("user-1", "", candidates(2))
	require.NoError(t, err)
	assert.True(t, c.Cancel())
	_, ok := c.Current()
	assert.False(t, ok)
}

func TestCache_TTL(t *testing.T) {
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	c := NewCache(time.Minute)
	c.now = func() time.Time { return now }

	_, err := c.Open("user-1", "", candidates(2))
	require.NoError(t, err)

	now = now.Add(30 * time.Second)
	_, ok := c.Current()
	assert.True(t, ok)

	now = now.Add(31 * time.Second)
	_, _, err = c.Resolve(0)
	assert.True(t, errors.Is(err, ErrNoPrompt))
}

func TestCache_ReturnedCandidatesAreCopies(t *testing.T) {
	c := NewCache(0)
	p, err := c.Open("user-1", "", candidates(2))
	require.NoError(t, err)
	p.Candidates[0].Title = "mutated"

	current, _ := c.Current()
	assert.Equal(t, "Song 1", current.Candidates[0].Title)
}

func TestKeycaps(t *testing.T) {
	symbols := Symbols(MaxCandidates)
	require.Len(t, symbols, MaxCandidates)
	for i, sym := range symbols {
		idx, ok := IndexOf(sym)
		require.True(t, ok)
		assert.Equal(t, i, idx)
	}

	_, ok := IndexOf("🔟")
	assert.False(t, ok)

	assert.Len(t, Symbols(3), 3)
	assert.Len(t, Symbols(20), MaxCandidates)
	assert.Empty(t, Symbols(-1))
}
