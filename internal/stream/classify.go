package stream

import (
	"fmt"
	"net/url"
	"slices"
	"strings"

	"github.com/samber/lo"

	"svtdl/internal/dash"
	"svtdl/internal/hls"
)

// Collection holds a manifest's streams grouped by kind, each group in
// manifest order.
type Collection struct {
	Video    []*Stream
	Audio    []*Stream
	Subtitle []*Stream
}

func newCollection(all []*Stream) *Collection {
	byKind := lo.GroupBy(all, func(s *Stream) Kind { return s.Kind })
	return &Collection{
		Video:    byKind[Video],
		Audio:    byKind[Audio],
		Subtitle: byKind[Subtitle],
	}
}

// Merge joins collections kind by kind, keeping the order of the arguments.
// Nil collections are skipped.
func Merge(collections ...*Collection) *Collection {
	merged := &Collection{}
	for _, c := range collections {
		if c == nil {
			continue
		}
		merged.Video = append(merged.Video, c.Video...)
		merged.Audio = append(merged.Audio, c.Audio...)
		merged.Subtitle = append(merged.Subtitle, c.Subtitle...)
	}
	return merged
}

// All returns every stream, video first.
func (c *Collection) All() []*Stream {
	return slices.Concat(c.Video, c.Audio, c.Subtitle)
}

// BestVideo returns the highest resolution video stream, or nil.
func (c *Collection) BestVideo() *Stream {
	return BestVideo(c.Video)
}

// BestAudio returns the first audio stream in the preferred language, or the
// first audio stream when none matches or lang is empty. It returns nil when
// there is no audio.
func (c *Collection) BestAudio(lang string) *Stream {
	if lang != "" {
		if s, ok := lo.Find(c.Audio, func(s *Stream) bool {
			return strings.EqualFold(s.Language, lang)
		}); ok {
			return s
		}
	}
	if len(c.Audio) == 0 {
		return nil
	}
	return c.Audio[0]
}

// SortVideo returns the streams ordered by descending resolution. Streams of
// equal resolution keep their relative order.
func SortVideo(streams []*Stream) []*Stream {
	sorted := slices.Clone(streams)
	slices.SortStableFunc(sorted, func(a, b *Stream) int {
		return b.Resolution.Compare(a.Resolution)
	})
	return sorted
}

// BestVideo returns the first stream after SortVideo, or nil.
func BestVideo(streams []*Stream) *Stream {
	sorted := SortVideo(streams)
	if len(sorted) == 0 {
		return nil
	}
	return sorted[0]
}

// ClassifyDASH turns every representation of every adaptation set of every
// period into a stream. manifestURL is the location the MPD was served from.
func ClassifyDASH(mpd *dash.MPD, manifestURL *url.URL) (*Collection, error) {
	var all []*Stream
	for pi := range mpd.Periods {
		period := &mpd.Periods[pi]
		for ai := range period.Sets {
			as := &period.Sets[ai]

			var kind Kind
			switch contentType := as.Type(); contentType {
			case "video":
				kind = Video
			case "audio":
				kind = Audio
			case "text":
				kind = Subtitle
			default:
				return nil, &UnsupportedFormatError{Format: DASH, ContentType: contentType}
			}

			for ri := range as.Representations {
				rep := &as.Representations[ri]
				base, err := mpd.ResolveBaseURL(manifestURL, period, as, rep)
				if err != nil {
					return nil, fmt.Errorf("representation %s: %w", rep.ID, err)
				}
				all = append(all, NewDASH(kind, base, as, rep))
			}
		}
	}
	return newCollection(all), nil
}

// ClassifyHLS turns the renditions and variants of a master playlist into
// streams. AUDIO and SUBTITLES renditions with a URI become audio and
// subtitle streams whether or not a variant references their group; each
// variant that is not an I-frame playlist becomes a video stream. VIDEO and
// CLOSED-CAPTIONS renditions produce nothing, and any other rendition type is
// an error.
func ClassifyHLS(master *hls.Master, base *url.URL) (*Collection, error) {
	type renditionKey struct{ typ, uri string }
	seen := make(map[renditionKey]bool)

	var all []*Stream
	for _, r := range master.Renditions {
		var kind Kind
		switch r.Type {
		case "AUDIO":
			kind = Audio
		case "SUBTITLES":
			kind = Subtitle
		case "VIDEO", "CLOSED-CAPTIONS":
			continue
		default:
			return nil, &UnsupportedFormatError{Format: HLS, ContentType: r.Type}
		}
		if r.URI == "" {
			continue
		}
		key := renditionKey{typ: r.Type, uri: r.URI}
		if seen[key] {
			continue
		}
		seen[key] = true

		s := NewHLS(kind, base, r.URI)
		s.Language = r.Language
		all = append(all, s)
	}

	for _, variant := range master.Variants {
		if variant == nil || variant.Iframe || variant.URI == "" {
			continue
		}
		width, height, err := hls.ParseResolution(variant.Resolution)
		if err != nil {
			return nil, fmt.Errorf("variant %s: %w", variant.URI, err)
		}
		s := NewHLS(Video, base, variant.URI)
		s.Resolution = Resolution{Width: width, Height: height}
		s.Bandwidth = int(variant.Bandwidth)
		s.Codecs = variant.Codecs
		all = append(all, s)
	}
	return newCollection(all), nil
}
