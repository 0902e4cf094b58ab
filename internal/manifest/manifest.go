// Package manifest loads a manifest URL, works out whether it is DASH or
// HLS and classifies its streams.
package manifest

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/grafov/m3u8"
	"github.com/samber/lo"
	"golang.org/x/sync/errgroup"

	"svtdl/internal/dash"
	"svtdl/internal/hls"
	"svtdl/internal/logger"
	"svtdl/internal/stream"
)

// ErrUnknownManifest is returned for documents that are neither an MPD nor
// an M3U playlist.
var ErrUnknownManifest = errors.New("document is neither a DASH MPD nor an HLS playlist")

// sniffLimit bounds how far into a document the MPD root element is looked for.
const sniffLimit = 4096

// Manifest is a loaded and classified manifest.
type Manifest struct {
	// URL is the location the manifest was finally served from.
	URL      *url.URL
	Format   stream.Format
	Streams  *stream.Collection
	// Duration is zero when the manifest does not state it.
	Duration time.Duration
}

// Loader fetches and classifies manifests.
type Loader struct {
	fetcher dash.DocumentFetcher
	dash    *dash.Client
	logger  logger.Logger
}

// NewLoader creates a Loader that fetches through fetcher.
func NewLoader(fetcher dash.DocumentFetcher, log logger.Logger) *Loader {
	log = logger.OrNop(log)
	return &Loader{
		fetcher: fetcher,
		dash:    dash.NewClient(fetcher, log),
		logger:  log,
	}
}

// Load fetches rawURL and classifies its streams. URLs ending in .mpd go
// straight to the MPD parser; anything else is sniffed.
func (l *Loader) Load(ctx context.Context, rawURL string) (*Manifest, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid manifest URL: %w", err)
	}

	if strings.EqualFold(path.Ext(u.Path), ".mpd") {
		mpd, final, err := l.dash.FetchAndParseMPD(ctx, rawURL)
		if err != nil {
			return nil, err
		}
		return fromMPD(mpd, final)
	}

	data, final, err := l.fetcher.Fetch(ctx, rawURL)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch manifest: %w", err)
	}
	m, err := Parse(data, final)
	if err != nil {
		return nil, err
	}
	l.logger.Debugf("Loaded %s manifest from %s with %d streams", m.Format, final, len(m.Streams.All()))
	return m, nil
}

// LoadAll loads every manifest concurrently. The result keeps the order of
// rawURLs, and the first failure cancels the remaining loads.
func (l *Loader) LoadAll(ctx context.Context, rawURLs []string) ([]*Manifest, error) {
	manifests := make([]*Manifest, len(rawURLs))
	g, ctx := errgroup.WithContext(ctx)
	for i, rawURL := range rawURLs {
		g.Go(func() error {
			m, err := l.Load(ctx, rawURL)
			if err != nil {
				return fmt.Errorf("manifest %s: %w", rawURL, err)
			}
			manifests[i] = m
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return manifests, nil
}

// Streams merges the streams of manifests in order.
func Streams(manifests []*Manifest) *stream.Collection {
	return stream.Merge(lo.Map(manifests, func(m *Manifest, _ int) *stream.Collection {
		return m.Streams
	})...)
}

// Detect reports the format of a manifest document.
func Detect(data []byte) (stream.Format, error) {
	trimmed := bytes.TrimLeft(bytes.TrimPrefix(data, []byte("\xef\xbb\xbf")), " \t\r\n")
	if bytes.HasPrefix(trimmed, []byte("#EXTM3U")) {
		return stream.HLS, nil
	}
	head := trimmed[:min(len(trimmed), sniffLimit)]
	if bytes.Contains(head, []byte("<MPD")) {
		return stream.DASH, nil
	}
	return 0, fmt.Errorf("%w (%s)", ErrUnknownManifest, http.DetectContentType(data))
}

// Parse detects, decodes and classifies a manifest document served from
// location.
func Parse(data []byte, location *url.URL) (*Manifest, error) {
	format, err := Detect(data)
	if err != nil {
		return nil, err
	}

	switch format {
	case stream.DASH:
		mpd, err := dash.Parse(data)
		if err != nil {
			return nil, err
		}
		return fromMPD(mpd, location)
	default:
		return fromPlaylist(string(data), location)
	}
}

func fromMPD(mpd *dash.MPD, location *url.URL) (*Manifest, error) {
	streams, err := stream.ClassifyDASH(mpd, location)
	if err != nil {
		return nil, err
	}
	duration, err := mpd.GetDuration()
	if err != nil {
		return nil, fmt.Errorf("invalid mediaPresentationDuration: %w", err)
	}
	return &Manifest{URL: location, Format: stream.DASH, Streams: streams, Duration: duration}, nil
}

func fromPlaylist(text string, location *url.URL) (*Manifest, error) {
	master, err := hls.ParseMaster(text)
	if err != nil {
		var unsupported *hls.UnsupportedPlaylistError
		if !errors.As(err, &unsupported) {
			return nil, err
		}
		// A bare media playlist is a single video stream.
		media, err := hls.ParseMedia(text)
		if err != nil {
			return nil, err
		}
		single := stream.NewHLS(stream.Video, location, location.String())
		return &Manifest{
			URL:      location,
			Format:   stream.HLS,
			Streams:  &stream.Collection{Video: []*stream.Stream{single}},
			Duration: playlistDuration(media),
		}, nil
	}

	streams, err := stream.ClassifyHLS(master, location)
	if err != nil {
		return nil, err
	}
	return &Manifest{URL: location, Format: stream.HLS, Streams: streams}, nil
}

// playlistDuration sums the EXTINF durations of a media playlist.
func playlistDuration(media *m3u8.MediaPlaylist) time.Duration {
	seconds := lo.SumBy(hls.Segments(media), func(s *m3u8.MediaSegment) float64 {
		return s.Duration
	})
	return time.Duration(seconds * float64(time.Second))
}
