// Package stream describes the downloadable streams of a manifest. A Stream
// is either a DASH representation or an HLS rendition and knows how to
// enumerate its segment URLs.
package stream

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"iter"
	"net/url"

	"svtdl/internal/dash"
	"svtdl/internal/hls"
	"svtdl/internal/httpclient"
)

// Kind is the media type of a stream.
type Kind int

const (
	Video Kind = iota
	Audio
	Subtitle
)

func (k Kind) String() string {
	switch k {
	case Video:
		return "video"
	case Audio:
		return "audio"
	case Subtitle:
		return "subtitle"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Format is the manifest format a stream was described in.
type Format int

const (
	DASH Format = iota
	HLS
)

func (f Format) String() string {
	switch f {
	case DASH:
		return "DASH"
	case HLS:
		return "HLS"
	default:
		return fmt.Sprintf("format(%d)", int(f))
	}
}

// UnsupportedFormatError is returned for media the classifier does not
// recognise.
type UnsupportedFormatError struct {
	Format      Format
	ContentType string
	Err         error
}

func (e *UnsupportedFormatError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("unsupported %s content type %q: %v", e.Format, e.ContentType, e.Err)
	}
	return fmt.Sprintf("unsupported %s content type %q", e.Format, e.ContentType)
}

func (e *UnsupportedFormatError) Unwrap() error {
	return e.Err
}

// Resolution is a video frame size.
type Resolution struct {
	Width  int
	Height int
}

// Compare orders resolutions by width, then height.
func (r Resolution) Compare(o Resolution) int {
	if c := cmp.Compare(r.Width, o.Width); c != 0 {
		return c
	}
	return cmp.Compare(r.Height, o.Height)
}

func (r Resolution) String() string {
	return fmt.Sprintf("%dx%d", r.Width, r.Height)
}

// Stream is one selectable media stream. It is immutable once built.
type Stream struct {
	Kind      Kind
	Format    Format
	BaseURL   *url.URL
	ID        string
	Bandwidth int
	Codecs    string
	// Resolution is set for video streams.
	Resolution Resolution
	// Language is set for audio and subtitle streams when the manifest has one.
	Language string

	source urlSource
}

type urlSource interface {
	generate(ctx context.Context, fetcher httpclient.Fetcher, base *url.URL) (int, iter.Seq[string], error)
}

type dashSource struct {
	template       *dash.SegmentTemplate
	representation *dash.Representation
}

func (s dashSource) generate(_ context.Context, _ httpclient.Fetcher, base *url.URL) (int, iter.Seq[string], error) {
	return dash.SegmentURLs(base, s.template, s.representation)
}

type hlsSource struct {
	playlistURI string
}

func (s hlsSource) generate(ctx context.Context, fetcher httpclient.Fetcher, base *url.URL) (int, iter.Seq[string], error) {
	return hls.SegmentURLs(ctx, fetcher, base, s.playlistURI)
}

// NewDASH builds a stream for a DASH representation. base is the fully
// resolved BaseURL of the representation.
func NewDASH(kind Kind, base *url.URL, as *dash.AdaptationSet, rep *dash.Representation) *Stream {
	s := &Stream{
		Kind:      kind,
		Format:    DASH,
		BaseURL:   base,
		ID:        rep.ID,
		Bandwidth: rep.Bandwidth,
		Codecs:    rep.Codecs,
		source:    dashSource{template: dash.Template(as, rep), representation: rep},
	}
	switch kind {
	case Video:
		s.Resolution = Resolution{Width: rep.Width, Height: rep.Height}
	case Audio, Subtitle:
		s.Language = as.Lang
	}
	return s
}

// NewHLS builds a stream for an HLS sub-playlist. base is the master
// playlist URL that playlistURI is relative to.
func NewHLS(kind Kind, base *url.URL, playlistURI string) *Stream {
	return &Stream{
		Kind:    kind,
		Format:  HLS,
		BaseURL: base,
		ID:      playlistURI,
		source:  hlsSource{playlistURI: playlistURI},
	}
}

// GenerateURLs returns the number of segment URLs and a sequence yielding
// them in playback order. HLS streams fetch their sub-playlist through
// fetcher first.
func (s *Stream) GenerateURLs(ctx context.Context, fetcher httpclient.Fetcher) (int, iter.Seq[string], error) {
	if s.source == nil {
		return 0, nil, errors.New("stream has no segment source")
	}
	return s.source.generate(ctx, fetcher, s.BaseURL)
}

func (s *Stream) String() string {
	switch s.Kind {
	case Video:
		return fmt.Sprintf("%s %s %s %d bps", s.Format, s.Kind, s.Resolution, s.Bandwidth)
	default:
		if s.Language != "" {
			return fmt.Sprintf("%s %s [%s] %s", s.Format, s.Kind, s.Language, s.ID)
		}
		return fmt.Sprintf("%s %s %s", s.Format, s.Kind, s.ID)
	}
}
