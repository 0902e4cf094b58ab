package download

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"math/rand/v2"
	"net/http"
	"net/http/httptest"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"svtdl/internal/httpclient"
	"svtdl/internal/metrics"
	"svtdl/internal/models"
)

// fakeFetcher serves "data-<url>" after a random delay and tracks concurrency.
type fakeFetcher struct {
	maxDelay time.Duration
	fail     map[string]error

	calls       atomic.Int32
	inFlight    atomic.Int32
	maxInFlight atomic.Int32
}

func (f *fakeFetcher) Get(ctx context.Context, rawURL string) ([]byte, error) {
	f.calls.Add(1)
	n := f.inFlight.Add(1)
	defer f.inFlight.Add(-1)
	for {
		cur := f.maxInFlight.Load()
		if n <= cur || f.maxInFlight.CompareAndSwap(cur, n) {
			break
		}
	}

	if f.maxDelay > 0 {
		select {
		case <-time.After(rand.N(f.maxDelay)):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err := f.fail[rawURL]; err != nil {
		return nil, err
	}
	return []byte("[" + rawURL + "]"), nil
}

func (f *fakeFetcher) GetText(ctx context.Context, rawURL string) (string, error) {
	data, err := f.Get(ctx, rawURL)
	return string(data), err
}

type listSource struct {
	urls  []string
	count int
	err   error
}

func newListSource(n int) *listSource {
	urls := make([]string, n)
	for i := range urls {
		urls[i] = fmt.Sprintf("seg%02d", i)
	}
	return &listSource{urls: urls, count: n}
}

func (s *listSource) GenerateURLs(context.Context, httpclient.Fetcher) (int, iter.Seq[string], error) {
	if s.err != nil {
		return 0, nil, s.err
	}
	return s.count, slices.Values(s.urls), nil
}

func expected(urls []string) string {
	var sb strings.Builder
	for _, u := range urls {
		sb.WriteString("[" + u + "]")
	}
	return sb.String()
}

func TestDownload_OrderIndependentOfCompletion(t *testing.T) {
	src := newListSource(40)
	fetcher := &fakeFetcher{maxDelay: 5 * time.Millisecond}

	for range 3 {
		data, err := New(fetcher, WithWorkers(8)).Download(context.Background(), src)
		require.NoError(t, err)
		assert.Equal(t, expected(src.urls), string(data))
	}
}

func TestDownload_ExactlyNFetches(t *testing.T) {
	src := newListSource(25)
	fetcher := &fakeFetcher{}

	_, err := New(fetcher).Download(context.Background(), src)
	require.NoError(t, err)
	assert.Equal(t, int32(25), fetcher.calls.Load())
}

func TestDownload_BoundedConcurrency(t *testing.T) {
	src := newListSource(10)
	fetcher := &fakeFetcher{maxDelay: 10 * time.Millisecond}

	_, err := New(fetcher, WithWorkers(3)).Download(context.Background(), src)
	require.NoError(t, err)
	assert.LessOrEqual(t, fetcher.maxInFlight.Load(), int32(3))
	assert.Equal(t, int32(10), fetcher.calls.Load())
}

func TestDownload_FewerSegmentsThanWorkers(t *testing.T) {
	src := newListSource(2)
	fetcher := &fakeFetcher{maxDelay: time.Millisecond}

	data, err := New(fetcher, WithWorkers(50)).Download(context.Background(), src)
	require.NoError(t, err)
	assert.Equal(t, "[seg00][seg01]", string(data))
}

func TestDownload_Empty(t *testing.T) {
	fetcher := &fakeFetcher{}
	data, err := New(fetcher).Download(context.Background(), newListSource(0))
	require.NoError(t, err)
	assert.NotNil(t, data)
	assert.Empty(t, data)
	assert.Zero(t, fetcher.calls.Load())
}

func TestDownload_FailureReturnsNoBytes(t *testing.T) {
	src := newListSource(10)
	cause := errors.New("connection reset")
	fetcher := &fakeFetcher{fail: map[string]error{"seg04": cause}}

	data, err := New(fetcher, WithWorkers(1)).Download(context.Background(), src)
	assert.Nil(t, data)

	var fetchErr *SegmentFetchError
	require.True(t, errors.As(err, &fetchErr))
	assert.Equal(t, 4, fetchErr.Index)
	assert.Equal(t, "seg04", fetchErr.URL)
	assert.ErrorIs(t, err, cause)
	// A single worker stops at the failing segment.
	assert.Equal(t, int32(5), fetcher.calls.Load())
}

func TestDownload_GenerateError(t *testing.T) {
	cause := errors.New("bad template")
	_, err := New(&fakeFetcher{}).Download(context.Background(), &listSource{err: cause})
	assert.ErrorIs(t, err, cause)
}

func TestDownload_ShortSequenceIsIntegrityError(t *testing.T) {
	src := newListSource(3)
	src.count = 5

	data, err := New(&fakeFetcher{}).Download(context.Background(), src)
	assert.Nil(t, data)
	var integrity *IntegrityError
	require.True(t, errors.As(err, &integrity))
	assert.Equal(t, 3, integrity.Index)
	assert.Equal(t, 5, integrity.Total)
}

func TestDownload_LongSequenceIsIntegrityError(t *testing.T) {
	src := newListSource(4)
	src.count = 2

	_, err := New(&fakeFetcher{}, WithWorkers(1)).Download(context.Background(), src)
	var integrity *IntegrityError
	require.True(t, errors.As(err, &integrity))
	assert.Equal(t, 2, integrity.Total)
}

func TestDownload_ProgressCallbacks(t *testing.T) {
	src := newListSource(12)
	fetcher := &fakeFetcher{maxDelay: 2 * time.Millisecond}

	var (
		mu      sync.Mutex
		active  int
		overlap bool
		seen    []int
		bytes   int
	)
	progress := func(seg models.Segment) {
		mu.Lock()
		active++
		if active > 1 {
			overlap = true
		}
		mu.Unlock()

		time.Sleep(100 * time.Microsecond)

		mu.Lock()
		active--
		seen = append(seen, seg.Index)
		bytes += seg.Size
		assert.Equal(t, 12, seg.Total)
		assert.Equal(t, src.urls[seg.Index], seg.URL)
		mu.Unlock()
	}

	data, err := New(fetcher, WithWorkers(4), WithProgress(progress)).Download(context.Background(), src)
	require.NoError(t, err)
	assert.False(t, overlap, "progress callbacks ran concurrently")
	assert.Len(t, seen, 12)
	slices.Sort(seen)
	assert.Equal(t, []int{0, 1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11}, seen)
	assert.Equal(t, len(data), bytes)
}

func TestDownload_NoProgressForFailures(t *testing.T) {
	src := newListSource(3)
	fetcher := &fakeFetcher{fail: map[string]error{"seg00": errors.New("boom")}}

	var calls atomic.Int32
	_, err := New(fetcher, WithWorkers(1), WithProgress(func(models.Segment) { calls.Add(1) })).
		Download(context.Background(), src)
	require.Error(t, err)
	assert.Zero(t, calls.Load())
}

func TestDownload_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := New(&fakeFetcher{}).Download(ctx, newListSource(5))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestDownload_OverHTTP(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/seg/3" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		fmt.Fprint(w, r.URL.Path)
	}))
	defer server.Close()

	urls := []string{server.URL + "/seg/0", server.URL + "/seg/1", server.URL + "/seg/2"}
	src := &listSource{urls: urls, count: len(urls)}

	reg := prometheus.NewRegistry()
	d := New(httpclient.New(), WithWorkers(2), WithMetrics(metrics.New(reg)))
	data, err := d.Download(context.Background(), src)
	require.NoError(t, err)
	assert.Equal(t, "/seg/0/seg/1/seg/2", string(data))

	src = &listSource{urls: append(urls, server.URL+"/seg/3"), count: 4}
	_, err = d.Download(context.Background(), src)
	var statusErr *httpclient.StatusError
	require.True(t, errors.As(err, &statusErr))
	assert.Equal(t, http.StatusNotFound, statusErr.StatusCode)
}
