package clientsync

import (
	"testing"

	"github.com/google/uuid"
	"github.com/mcdev12/gameclock/go/internal/models"
	"github.com/stretchr/testify/assert"
)

const serverT0 = int64(1_700_000_000_000)

func snapshotAt(gameID uuid.UUID, rev uint64, running models.Side, a, b int64, serverMs int64) models.Snapshot {
	return models.Snapshot{
		Type:     models.SnapshotUpdate,
		GameID:   gameID,
		Revision: rev,
		SideAMs:  a,
		SideBMs:  b,
		Running:  running,
		ServerMs: serverMs,
	}
}

func TestTrackerIgnoresStaleRevision(t *testing.T) {
	tr := NewTracker()
	id := uuid.New()

	assert.True(t, tr.Apply(snapshotAt(id, 10, models.SideA, 40_000, 50_000, serverT0), serverT0))
	assert.False(t, tr.Apply(snapshotAt(id, 9, models.SideA, 45_000, 50_000, serverT0-100), serverT0+50))

	a, b := tr.Display(serverT0)
	assert.Equal(t, int64(40_000), a)
	assert.Equal(t, int64(50_000), b)
	assert.Equal(t, uint64(10), tr.LastRevision())
}

func TestTrackerDuplicateRevisionIsNoOp(t *testing.T) {
	tr := NewTracker()
	id := uuid.New()
	snap := snapshotAt(id, 3, models.SideB, 10_000, 10_000, serverT0)

	assert.True(t, tr.Apply(snap, serverT0))
	assert.False(t, tr.Apply(snap, serverT0+1_000))
	assert.Equal(t, snap, tr.View(serverT0).Snapshot)
}

func TestTrackerOffsetRecordedOnce(t *testing.T) {
	tr := NewTracker()
	id := uuid.New()

	// The local clock runs 5s ahead of the server.
	localAhead := int64(5_000)
	tr.Apply(snapshotAt(id, 1, models.SideA, 60_000, 60_000, serverT0), serverT0+localAhead)

	a, b := tr.Display(serverT0 + localAhead + 1_500)
	assert.Equal(t, int64(58_500), a, "only the running side advances")
	assert.Equal(t, int64(60_000), b)

	// A later snapshot that arrives with network delay must not move the offset.
	tr.Apply(snapshotAt(id, 2, models.SideB, 57_000, 60_000, serverT0+3_000), serverT0+localAhead+3_400)

	a, b = tr.Display(serverT0 + localAhead + 4_000)
	assert.Equal(t, int64(57_000), a)
	assert.Equal(t, int64(59_000), b)
}

func TestTrackerDisplayFloorsAtZero(t *testing.T) {
	tr := NewTracker()
	id := uuid.New()
	tr.Apply(snapshotAt(id, 1, models.SideA, 500, 60_000, serverT0), serverT0)

	a, b := tr.Display(serverT0 + 700)

	assert.Zero(t, a)
	assert.Equal(t, int64(60_000), b)
}

func TestTrackerNoInterpolationWhenStopped(t *testing.T) {
	tr := NewTracker()
	id := uuid.New()
	paused := snapshotAt(id, 1, models.SideNone, 30_000, 20_000, serverT0)
	tr.Apply(paused, serverT0)

	a, b := tr.Display(serverT0 + 10_000)
	assert.Equal(t, int64(30_000), a)
	assert.Equal(t, int64(20_000), b)

	over := snapshotAt(id, 2, models.SideNone, 0, 20_000, serverT0)
	over.Type = models.SnapshotOver
	over.Reason = models.ReasonFlag
	tr.Apply(over, serverT0)

	a, _ = tr.Display(serverT0 + 10_000)
	assert.Zero(t, a)
}

func TestTrackerResetRemeasuresOffset(t *testing.T) {
	tr := NewTracker()
	id := uuid.New()
	tr.Apply(snapshotAt(id, 1, models.SideA, 60_000, 60_000, serverT0), serverT0)

	tr.Reset()

	// Reconnected with the local clock now 2s ahead; the seed repeats revision 1.
	assert.False(t, tr.Apply(snapshotAt(id, 1, models.SideA, 60_000, 60_000, serverT0), serverT0+2_000))
	a, _ := tr.Display(serverT0 + 2_000)
	assert.Equal(t, int64(60_000), a)

	assert.Equal(t, View{}, NewTracker().View(serverT0))
}

func TestTrackerOffsetWaitsForRunningSnapshot(t *testing.T) {
	tr := NewTracker()
	id := uuid.New()

	// Paused at serverT0 but only delivered a minute later.
	paused := snapshotAt(id, 4, models.SideNone, 30_000, 20_000, serverT0)
	assert.True(t, tr.Apply(paused, serverT0+60_000))

	resumedAt := serverT0 + 61_000
	assert.True(t, tr.Apply(snapshotAt(id, 5, models.SideA, 30_000, 20_000, resumedAt), resumedAt))

	a, _ := tr.Display(resumedAt)
	assert.Equal(t, int64(30_000), a, "no jump when the clock resumes")

	a, b := tr.Display(resumedAt + 250)
	assert.Equal(t, int64(29_750), a)
	assert.Equal(t, int64(20_000), b)
}
