// Package clientsync renders a server-authoritative clock on the consumer side.
// It never decides anything about the game: it replays the latest snapshot,
// interpolated with a locally measured clock offset.
package clientsync

import (
	"sync"

	"github.com/mcdev12/gameclock/go/internal/models"
)

// View is what a player sees at one render tick.
type View struct {
	Snapshot models.Snapshot
	SideAMs  int64
	SideBMs  int64
	// Synced is false until the first snapshot is applied.
	Synced bool
}

// Tracker keeps the last applied snapshot of one game and the offset between the
// local clock and the server clock, measured once per connection.
type Tracker struct {
	mu        sync.Mutex
	snap      models.Snapshot
	hasSnap   bool
	offsetMs  int64
	hasOffset bool
}

func NewTracker() *Tracker {
	return &Tracker{}
}

// Apply offers a snapshot received at localNow (epoch ms). It reports whether the
// snapshot replaced the displayed one. Lower revisions are stale and dropped; a
// repeated revision is a duplicate and changes nothing.
//
// The offset is measured from the first snapshot with a running side. A paused or
// finished game may have been stamped long before it was delivered, so its ServerMs
// says nothing about the current server time.
func (t *Tracker) Apply(snap models.Snapshot, localNow int64) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.hasSnap && snap.Revision < t.snap.Revision {
		return false
	}

	if !t.hasOffset && snap.Running.IsPlayer() && !snap.IsTerminal() {
		t.offsetMs = localNow - snap.ServerMs
		t.hasOffset = true
	}

	if t.hasSnap && snap.Revision == t.snap.Revision {
		return false
	}

	t.snap = snap
	t.hasSnap = true
	return true
}

// Display returns both sides' remaining time at localNow.
func (t *Tracker) Display(localNow int64) (aMs, bMs int64) {
	v := t.View(localNow)
	return v.SideAMs, v.SideBMs
}

// View interpolates the running side from the last snapshot. Only the running side
// moves, and never below zero.
func (t *Tracker) View(localNow int64) View {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.hasSnap {
		return View{}
	}

	view := View{
		Snapshot: t.snap,
		SideAMs:  t.snap.SideAMs,
		SideBMs:  t.snap.SideBMs,
		Synced:   true,
	}
	if !t.hasOffset || t.snap.IsTerminal() || !t.snap.Running.IsPlayer() {
		return view
	}

	elapsed := max(0, (localNow-t.offsetMs)-t.snap.ServerMs)
	left := max(0, t.snap.Remaining(t.snap.Running)-elapsed)
	if t.snap.Running == models.SideA {
		view.SideAMs = left
	} else {
		view.SideBMs = left
	}
	return view
}

// LastRevision returns the revision of the displayed snapshot, or 0.
func (t *Tracker) LastRevision() uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.snap.Revision
}

// Reset forgets the offset so the next connection measures it again. The last
// revision is kept, so a reconnect never rewinds the display.
func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.hasOffset = false
	t.offsetMs = 0
}
