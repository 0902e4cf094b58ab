// Package progress keeps per-media-type download counters and logs them at a
// bounded rate.
package progress

import (
	"fmt"
	"sync"
	"time"

	"github.com/dustin/go-humanize"

	"svtdl/internal/logger"
	"svtdl/internal/models"
)

// DefaultInterval is the minimum time between two progress log lines.
const DefaultInterval = time.Second

// Snapshot is the state of one media type's download.
type Snapshot struct {
	Media        string
	Segments     int
	Total        int
	Bytes        uint64
	OverallBytes uint64
	Elapsed      time.Duration
	ETA          time.Duration
}

// Done reports whether every announced segment has arrived.
func (s Snapshot) Done() bool {
	return s.Total > 0 && s.Segments >= s.Total
}

func (s Snapshot) String() string {
	return fmt.Sprintf("%s %d/%d segments, %s (overall %s), elapsed %s, ETA %s",
		s.Media, s.Segments, s.Total,
		humanize.Bytes(s.Bytes), humanize.Bytes(s.OverallBytes),
		s.Elapsed.Truncate(time.Second), s.ETA.Truncate(time.Second))
}

type mediaState struct {
	segments int
	total    int
	bytes    uint64
	start    time.Time
}

// Tracker aggregates segment events for several media types. It is safe for
// concurrent use.
type Tracker struct {
	mu       sync.Mutex
	logger   logger.Logger
	interval time.Duration
	now      func() time.Time

	overall uint64
	media   map[string]*mediaState
	lastLog time.Time
}

// New creates a tracker logging through log at most once per interval.
// interval <= 0 uses DefaultInterval.
func New(log logger.Logger, interval time.Duration) *Tracker {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Tracker{
		logger:   logger.OrNop(log),
		interval: interval,
		now:      time.Now,
		media:    make(map[string]*mediaState),
	}
}

// Callback returns a segment callback that records events under media.
func (t *Tracker) Callback(media string) func(models.Segment) {
	return func(seg models.Segment) {
		t.Record(media, seg)
	}
}

// Record adds one fetched segment and returns the updated snapshot.
func (t *Tracker) Record(media string, seg models.Segment) Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	st, ok := t.media[media]
	if !ok {
		st = &mediaState{start: now}
		t.media[media] = st
	}
	st.segments++
	st.total = seg.Total
	st.bytes += uint64(seg.Size)
	t.overall += uint64(seg.Size)

	snap := t.snapshotLocked(media, st, now)
	if snap.Done() || now.Sub(t.lastLog) >= t.interval {
		t.logger.Infof("Progress: %s", snap)
		t.lastLog = now
	}
	return snap
}

// Snapshot returns the current state for media.
func (t *Tracker) Snapshot(media string) Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()

	st, ok := t.media[media]
	if !ok {
		return Snapshot{Media: media, OverallBytes: t.overall}
	}
	return t.snapshotLocked(media, st, t.now())
}

func (t *Tracker) snapshotLocked(media string, st *mediaState, now time.Time) Snapshot {
	elapsed := now.Sub(st.start)
	var eta time.Duration
	if left := st.total - st.segments; left > 0 && st.segments > 0 {
		eta = elapsed / time.Duration(st.segments) * time.Duration(left)
	}
	return Snapshot{
		Media:        media,
		Segments:     st.segments,
		Total:        st.total,
		Bytes:        st.bytes,
		OverallBytes: t.overall,
		Elapsed:      elapsed,
		ETA:          eta,
	}
}
