// Package hls decodes HLS playlists and turns a variant or rendition
// sub-playlist into its ordered segment URLs.
package hls

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"net/url"
	"slices"
	"strconv"
	"strings"

	"github.com/grafov/m3u8"
	"github.com/samber/lo"
)

// TextFetcher is the part of the network boundary the HLS side needs.
type TextFetcher interface {
	GetText(ctx context.Context, rawURL string) (string, error)
}

// UnsupportedPlaylistError is returned when a playlist of one kind arrives
// where the other kind is expected.
type UnsupportedPlaylistError struct {
	URL      string
	Expected m3u8.ListType
}

func (e *UnsupportedPlaylistError) Error() string {
	want := "media"
	if e.Expected == m3u8.MASTER {
		want = "master"
	}
	if e.URL == "" {
		return fmt.Sprintf("expected HLS %s playlist", want)
	}
	return fmt.Sprintf("expected HLS %s playlist at %s", want, e.URL)
}

func decode(text string) (m3u8.Playlist, m3u8.ListType, error) {
	playlist, listType, err := m3u8.DecodeFrom(strings.NewReader(text), true)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to parse playlist: %w", err)
	}
	return playlist, listType, nil
}

// ParseMaster decodes a master playlist and collects its renditions.
func ParseMaster(text string) (*Master, error) {
	playlist, listType, err := decode(text)
	if err != nil {
		return nil, err
	}
	if listType != m3u8.MASTER {
		return nil, &UnsupportedPlaylistError{Expected: m3u8.MASTER}
	}
	return &Master{
		MasterPlaylist: playlist.(*m3u8.MasterPlaylist),
		Renditions:     renditions(text),
	}, nil
}

// ParseMedia decodes a media playlist.
func ParseMedia(text string) (*m3u8.MediaPlaylist, error) {
	playlist, listType, err := decode(text)
	if err != nil {
		return nil, err
	}
	if listType != m3u8.MEDIA {
		return nil, &UnsupportedPlaylistError{Expected: m3u8.MEDIA}
	}
	return playlist.(*m3u8.MediaPlaylist), nil
}

// Segments returns the playlist's segments in order. The decoder keeps spare
// capacity as nil entries at the tail.
func Segments(media *m3u8.MediaPlaylist) []*m3u8.MediaSegment {
	return lo.Filter(media.Segments, func(s *m3u8.MediaSegment, _ int) bool {
		return s != nil
	})
}

// ParseResolution parses a RESOLUTION attribute such as "1920x1080". An empty
// value yields zeros.
func ParseResolution(s string) (width, height int, err error) {
	if s == "" {
		return 0, 0, nil
	}
	w, h, ok := strings.Cut(strings.ToLower(s), "x")
	if !ok {
		return 0, 0, fmt.Errorf("invalid resolution format: %s", s)
	}
	if width, err = strconv.Atoi(strings.TrimSpace(w)); err != nil {
		return 0, 0, fmt.Errorf("invalid resolution width %q: %w", s, err)
	}
	if height, err = strconv.Atoi(strings.TrimSpace(h)); err != nil {
		return 0, 0, fmt.Errorf("invalid resolution height %q: %w", s, err)
	}
	return width, height, nil
}

// SegmentURLs fetches the sub-playlist at playlistURI, resolved against base,
// and returns the number of segments and a sequence of their absolute URLs.
// Segment URIs resolve against the sub-playlist's own location.
func SegmentURLs(ctx context.Context, fetcher TextFetcher, base *url.URL, playlistURI string) (int, iter.Seq[string], error) {
	playlistURL, err := base.Parse(playlistURI)
	if err != nil {
		return 0, nil, fmt.Errorf("failed to resolve playlist %q: %w", playlistURI, err)
	}

	text, err := fetcher.GetText(ctx, playlistURL.String())
	if err != nil {
		return 0, nil, fmt.Errorf("failed to fetch media playlist: %w", err)
	}
	media, err := ParseMedia(text)
	if err != nil {
		var unsupported *UnsupportedPlaylistError
		if errors.As(err, &unsupported) {
			unsupported.URL = playlistURL.String()
		}
		return 0, nil, err
	}

	segments := Segments(media)
	urls := make([]string, 0, len(segments))
	for _, seg := range segments {
		u, err := playlistURL.Parse(seg.URI)
		if err != nil {
			return 0, nil, fmt.Errorf("failed to resolve segment %d URI %q: %w", seg.SeqId, seg.URI, err)
		}
		urls = append(urls, u.String())
	}

	return len(urls), slices.Values(urls), nil
}
