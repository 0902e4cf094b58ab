// Package download fetches the segments of a stream concurrently and
// reassembles them into one buffer in playback order.
package download

import (
	"context"
	"fmt"
	"iter"
	"slices"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"svtdl/internal/httpclient"
	"svtdl/internal/logger"
	"svtdl/internal/metrics"
	"svtdl/internal/models"
)

// DefaultWorkers is the number of concurrent segment fetches.
const DefaultWorkers = 10

// URLSource enumerates the segment URLs of a stream.
type URLSource interface {
	GenerateURLs(ctx context.Context, fetcher httpclient.Fetcher) (int, iter.Seq[string], error)
}

// ProgressFunc is called once for every segment fetched successfully. Calls
// are never concurrent.
type ProgressFunc func(models.Segment)

// SegmentFetchError reports the first segment that could not be fetched.
type SegmentFetchError struct {
	Index int
	URL   string
	Err   error
}

func (e *SegmentFetchError) Error() string {
	return fmt.Sprintf("failed to fetch segment %d: %v", e.Index, e.Err)
}

func (e *SegmentFetchError) Unwrap() error {
	return e.Err
}

// IntegrityError is returned when the URL sequence did not match the segment
// count it was announced with.
type IntegrityError struct {
	Index int
	Total int
}

func (e *IntegrityError) Error() string {
	if e.Index >= e.Total {
		return fmt.Sprintf("segment sequence yielded more than the %d segments announced", e.Total)
	}
	return fmt.Sprintf("segment %d of %d was never downloaded", e.Index, e.Total)
}

// Downloader fetches whole streams with a bounded number of workers.
type Downloader struct {
	fetcher  httpclient.Fetcher
	workers  int
	progress ProgressFunc
	logger   logger.Logger
	metrics  *metrics.Metrics
}

// Option configures a Downloader.
type Option func(*Downloader)

// WithWorkers sets the maximum number of concurrent fetches. Values below 1
// are ignored.
func WithWorkers(n int) Option {
	return func(d *Downloader) {
		if n > 0 {
			d.workers = n
		}
	}
}

// WithProgress sets the per-segment progress callback.
func WithProgress(fn ProgressFunc) Option {
	return func(d *Downloader) { d.progress = fn }
}

// WithLogger sets the logger.
func WithLogger(log logger.Logger) Option {
	return func(d *Downloader) { d.logger = log }
}

// WithMetrics records fetches in m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(d *Downloader) { d.metrics = m }
}

// New creates a Downloader that fetches through fetcher.
func New(fetcher httpclient.Fetcher, opts ...Option) *Downloader {
	d := &Downloader{
		fetcher: fetcher,
		workers: DefaultWorkers,
	}
	for _, opt := range opts {
		opt(d)
	}
	d.logger = logger.OrNop(d.logger)
	return d
}

// Download enumerates the segment URLs of src, fetches them and returns their
// concatenation in enumeration order. On any failure no bytes are returned.
func (d *Downloader) Download(ctx context.Context, src URLSource) ([]byte, error) {
	total, urls, err := src.GenerateURLs(ctx, d.fetcher)
	if err != nil {
		d.metrics.DownloadDone(err)
		return nil, fmt.Errorf("failed to generate segment URLs: %w", err)
	}

	data, err := d.fetchAll(ctx, total, urls)
	d.metrics.DownloadDone(err)
	return data, err
}

// cursor hands out segment URLs with their ordinal index. It is the only
// point workers synchronise on and does no I/O under its lock.
type cursor struct {
	mu    sync.Mutex
	next  func() (string, bool)
	index int
}

func (c *cursor) claim() (int, string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	u, ok := c.next()
	if !ok {
		return 0, "", false
	}
	i := c.index
	c.index++
	return i, u, true
}

func (d *Downloader) fetchAll(ctx context.Context, total int, urls iter.Seq[string]) ([]byte, error) {
	if total <= 0 {
		return []byte{}, nil
	}

	next, stop := iter.Pull(urls)
	defer stop()
	cur := &cursor{next: next}

	slots := make([][]byte, total)
	filled := make([]bool, total)
	var progressMu sync.Mutex

	workers := min(total, d.workers)
	d.logger.Debugf("Downloading %d segments with %d workers", total, workers)

	g, gctx := errgroup.WithContext(ctx)
	for range workers {
		g.Go(func() error {
			for {
				if err := gctx.Err(); err != nil {
					return err
				}
				index, u, ok := cur.claim()
				if !ok {
					return nil
				}
				if index >= total {
					return &IntegrityError{Index: index, Total: total}
				}

				d.metrics.FetchStarted()
				start := time.Now()
				data, err := d.fetcher.Get(gctx, u)
				d.metrics.FetchDone(len(data), time.Since(start), err)
				if err != nil {
					d.logger.Warnf("Segment %d/%d failed: %v", index+1, total, err)
					return &SegmentFetchError{Index: index, URL: u, Err: err}
				}

				slots[index] = data
				filled[index] = true

				if d.progress != nil {
					progressMu.Lock()
					d.progress(models.Segment{Index: index, Total: total, URL: u, Size: len(data)})
					progressMu.Unlock()
				}
			}
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	if i := slices.Index(filled, false); i >= 0 {
		return nil, &IntegrityError{Index: i, Total: total}
	}
	out := slices.Concat(slots...)
	if out == nil {
		out = []byte{}
	}
	return out, nil
}
