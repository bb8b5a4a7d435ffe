// Package track provides the queue entry value type.
package track

import "fmt"

// Entry identifies one playable song.
// Entries are compared by value; duplicates are allowed in a queue.
type Entry struct {
	Title   string // Song title
	Artist  string // Artist name
	Locator string // Path or URI resolved by the output sink
}

// String returns "Artist - Title", falling back to the locator when untagged.
func (e Entry) String() string {
	switch {
	case e.Artist != "" && e.Title != "":
		return fmt.Sprintf("%s - %s", e.Artist, e.Title)
	case e.Title != "":
		return e.Title
	default:
		return e.Locator
	}
}

// IsZero reports whether the entry carries no locator.
func (e Entry) IsZero() bool {
	return e.Locator == ""
}
