package stream

import (
	"context"
	"errors"
	"net/url"
	"slices"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"svtdl/internal/dash"
	"svtdl/internal/hls"
)

const testMPD = `<?xml version="1.0"?>
<MPD type="static">
  <Period>
    <AdaptationSet contentType="video" mimeType="video/mp4">
      <SegmentTemplate initialization="$RepresentationID$/init.mp4" media="$RepresentationID$/$Number$.m4s">
        <SegmentTimeline><S d="1" r="4"/><S d="1" r="9"/></SegmentTimeline>
      </SegmentTemplate>
      <Representation id="v360" bandwidth="800000" width="640" height="360"/>
      <Representation id="v1080" bandwidth="5000000" width="1920" height="1080">
        <BaseURL>hd/</BaseURL>
      </Representation>
      <Representation id="v720" bandwidth="2500000" width="1280" height="720"/>
    </AdaptationSet>
    <AdaptationSet mimeType="audio/mp4" lang="sv">
      <SegmentTemplate initialization="a/init.mp4" media="a/$Number$.m4s">
        <SegmentTimeline><S d="1" r="2"/></SegmentTimeline>
      </SegmentTemplate>
      <Representation id="a1" bandwidth="128000"/>
    </AdaptationSet>
    <AdaptationSet contentType="text" lang="sv">
      <Representation id="sub" bandwidth="100"/>
    </AdaptationSet>
  </Period>
</MPD>`

const testMaster = `#EXTM3U
#EXT-X-MEDIA:TYPE=AUDIO,GROUP-ID="aud",LANGUAGE="en",NAME="English",URI="audio/en.m3u8"
#EXT-X-MEDIA:TYPE=AUDIO,GROUP-ID="aud",LANGUAGE="sv",NAME="Svenska",DEFAULT=YES,URI="audio/sv.m3u8"
#EXT-X-MEDIA:TYPE=SUBTITLES,GROUP-ID="subs",LANGUAGE="sv",NAME="Svenska",URI="subs/sv.m3u8"
#EXT-X-MEDIA:TYPE=CLOSED-CAPTIONS,GROUP-ID="cc",NAME="CC",INSTREAM-ID="CC1"
#EXT-X-STREAM-INF:BANDWIDTH=800000,RESOLUTION=640x360,AUDIO="aud",SUBTITLES="subs"
v/360.m3u8
#EXT-X-STREAM-INF:BANDWIDTH=5000000,RESOLUTION=1920x1080,AUDIO="aud",SUBTITLES="subs"
v/1080.m3u8
#EXT-X-I-FRAME-STREAM-INF:BANDWIDTH=90000,RESOLUTION=1920x1080,URI="v/iframe.m3u8"
`

type textFetcher map[string]string

func (f textFetcher) Get(ctx context.Context, rawURL string) ([]byte, error) {
	text, err := f.GetText(ctx, rawURL)
	return []byte(text), err
}

func (f textFetcher) GetText(_ context.Context, rawURL string) (string, error) {
	text, ok := f[rawURL]
	if !ok {
		return "", errors.New("not found: " + rawURL)
	}
	return text, nil
}

func mustURL(t *testing.T, raw string) *url.URL {
	t.Helper()
	u, err := url.Parse(raw)
	require.NoError(t, err)
	return u
}

func videoWith(resolutions ...Resolution) []*Stream {
	streams := make([]*Stream, 0, len(resolutions))
	for i, r := range resolutions {
		streams = append(streams, &Stream{Kind: Video, ID: string(rune('a' + i)), Resolution: r})
	}
	return streams
}

func TestResolution_Compare(t *testing.T) {
	assert.Equal(t, 1, Resolution{1920, 1080}.Compare(Resolution{1280, 720}))
	assert.Equal(t, -1, Resolution{1280, 1080}.Compare(Resolution{1280, 1440}))
	assert.Equal(t, 0, Resolution{640, 360}.Compare(Resolution{640, 360}))
	// Width dominates.
	assert.Equal(t, 1, Resolution{1921, 1}.Compare(Resolution{1920, 1080}))
}

func TestBestVideo(t *testing.T) {
	streams := videoWith(Resolution{640, 360}, Resolution{1920, 1080}, Resolution{1280, 720})
	best := BestVideo(streams)
	require.NotNil(t, best)
	assert.Equal(t, Resolution{1920, 1080}, best.Resolution)

	// The input is left untouched.
	assert.Equal(t, Resolution{640, 360}, streams[0].Resolution)
	assert.Nil(t, BestVideo(nil))
}

func TestSortVideo_StableTies(t *testing.T) {
	streams := videoWith(Resolution{1280, 720}, Resolution{1920, 1080}, Resolution{1280, 720}, Resolution{1920, 1080})
	sorted := SortVideo(streams)
	ids := make([]string, len(sorted))
	for i, s := range sorted {
		ids[i] = s.ID
	}
	assert.Equal(t, []string{"b", "d", "a", "c"}, ids)
}

func TestClassifyDASH(t *testing.T) {
	mpd, err := dash.Parse([]byte(testMPD))
	require.NoError(t, err)

	c, err := ClassifyDASH(mpd, mustURL(t, "https://cdn.example/show/manifest.mpd"))
	require.NoError(t, err)
	require.Len(t, c.Video, 3)
	require.Len(t, c.Audio, 1)
	require.Len(t, c.Subtitle, 1)
	assert.Len(t, c.All(), 5)

	best := c.BestVideo()
	assert.Equal(t, "v1080", best.ID)
	assert.Equal(t, DASH, best.Format)
	assert.Equal(t, "https://cdn.example/show/hd/", best.BaseURL.String())

	count, seq, err := best.GenerateURLs(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, 14, count)
	urls := slices.Collect(seq)
	require.Len(t, urls, 14)
	assert.Equal(t, "https://cdn.example/show/hd/$RepresentationID$/init.mp4", urls[0])
	assert.Equal(t, "https://cdn.example/show/hd/v1080/0.m4s", urls[1])
	assert.Equal(t, "https://cdn.example/show/hd/v1080/12.m4s", urls[13])

	audio := c.BestAudio("")
	assert.Equal(t, "sv", audio.Language)

	// Subtitles without a template cannot be enumerated.
	_, _, err = c.Subtitle[0].GenerateURLs(context.Background(), nil)
	assert.ErrorIs(t, err, dash.ErrNoSegmentTemplate)
}

func TestClassifyDASH_EveryPeriodInOrder(t *testing.T) {
	mpd, err := dash.Parse([]byte(`<MPD type="static">
  <Period id="preroll">
    <AdaptationSet contentType="video">
      <Representation id="ad" bandwidth="1" width="1920" height="1080"/>
    </AdaptationSet>
  </Period>
  <Period id="main">
    <AdaptationSet contentType="video">
      <Representation id="show" bandwidth="2" width="1920" height="1080"/>
    </AdaptationSet>
    <AdaptationSet contentType="audio" lang="sv">
      <Representation id="aac" bandwidth="3"/>
    </AdaptationSet>
  </Period>
</MPD>`))
	require.NoError(t, err)

	c, err := ClassifyDASH(mpd, mustURL(t, "https://h/m.mpd"))
	require.NoError(t, err)
	require.Len(t, c.Video, 2)
	assert.Equal(t, "ad", c.Video[0].ID)
	assert.Equal(t, "show", c.Video[1].ID)
	assert.Equal(t, "ad", c.BestVideo().ID, "ties keep period order")
	require.Len(t, c.Audio, 1)
}

func TestClassifyDASH_UnsupportedContentType(t *testing.T) {
	mpd := &dash.MPD{Periods: []dash.Period{{Sets: []dash.AdaptationSet{{ContentType: "image"}}}}}

	_, err := ClassifyDASH(mpd, mustURL(t, "https://h/m.mpd"))
	var unsupported *UnsupportedFormatError
	require.True(t, errors.As(err, &unsupported))
	assert.Equal(t, DASH, unsupported.Format)
	assert.Equal(t, "image", unsupported.ContentType)
}

func TestClassifyHLS(t *testing.T) {
	master, err := hls.ParseMaster(testMaster)
	require.NoError(t, err)

	c, err := ClassifyHLS(master, mustURL(t, "https://cdn.example/show/master.m3u8"))
	require.NoError(t, err)
	require.Len(t, c.Video, 2)
	require.Len(t, c.Audio, 2)
	require.Len(t, c.Subtitle, 1)

	best := c.BestVideo()
	assert.Equal(t, "v/1080.m3u8", best.ID)
	assert.Equal(t, Resolution{1920, 1080}, best.Resolution)
	assert.Equal(t, 5000000, best.Bandwidth)

	assert.Equal(t, "en", c.BestAudio("").Language)
	assert.Equal(t, "sv", c.BestAudio("SV").Language)
	assert.Equal(t, "en", c.BestAudio("fi").Language)
	assert.Equal(t, "subs/sv.m3u8", c.Subtitle[0].ID)
}

func TestClassifyHLS_UnknownMediaType(t *testing.T) {
	master, err := hls.ParseMaster(`#EXTM3U
#EXT-X-MEDIA:TYPE=HAPTICS,GROUP-ID="h",NAME="h",URI="h.m3u8"
#EXT-X-STREAM-INF:BANDWIDTH=1,RESOLUTION=1x1
v.m3u8
`)
	require.NoError(t, err)

	_, err = ClassifyHLS(master, mustURL(t, "https://h/master.m3u8"))
	var unsupported *UnsupportedFormatError
	require.True(t, errors.As(err, &unsupported))
	assert.Equal(t, HLS, unsupported.Format)
	assert.Equal(t, "HAPTICS", unsupported.ContentType)
}

func TestClassifyHLS_UnreferencedGroups(t *testing.T) {
	master, err := hls.ParseMaster(`#EXTM3U
#EXT-X-MEDIA:TYPE=AUDIO,GROUP-ID="aud",LANGUAGE="sv",NAME="Svenska",URI="a/sv.m3u8"
#EXT-X-MEDIA:TYPE=SUBTITLES,GROUP-ID="subs",LANGUAGE="sv",NAME="Svenska",URI="s/sv.m3u8"
#EXT-X-MEDIA:TYPE=AUDIO,GROUP-ID="aud2",LANGUAGE="en",NAME="English",URI="a/sv.m3u8"
#EXT-X-STREAM-INF:BANDWIDTH=800000,RESOLUTION=640x360
v/360.m3u8
`)
	require.NoError(t, err)

	c, err := ClassifyHLS(master, mustURL(t, "https://cdn.example/show/master.m3u8"))
	require.NoError(t, err)
	require.Len(t, c.Video, 1)
	require.Len(t, c.Audio, 1, "renditions with the same type and URI collapse")
	require.Len(t, c.Subtitle, 1)
	assert.Equal(t, "a/sv.m3u8", c.Audio[0].ID)
	assert.Equal(t, "sv", c.Audio[0].Language)
	assert.Equal(t, "s/sv.m3u8", c.Subtitle[0].ID)
}

func TestClassifyHLS_UnknownTypeWithoutReference(t *testing.T) {
	master, err := hls.ParseMaster(`#EXTM3U
#EXT-X-MEDIA:TYPE=AUDIO,GROUP-ID="aud",NAME="a",URI="a.m3u8"
#EXT-X-MEDIA:TYPE=SUBTITLES,GROUP-ID="subs",NAME="s",URI="s.m3u8"
#EXT-X-MEDIA:TYPE=HAPTICS,GROUP-ID="h",NAME="h",URI="h.m3u8"
#EXT-X-STREAM-INF:BANDWIDTH=1,RESOLUTION=1x1
v.m3u8
`)
	require.NoError(t, err)

	c, err := ClassifyHLS(master, mustURL(t, "https://h/master.m3u8"))
	assert.Nil(t, c)
	var unsupported *UnsupportedFormatError
	require.True(t, errors.As(err, &unsupported))
	assert.Equal(t, "HAPTICS", unsupported.ContentType)
}

func TestStream_GenerateURLs_HLS(t *testing.T) {
	fetcher := textFetcher{
		"https://cdn.example/show/audio/sv.m3u8": "#EXTM3U\n#EXT-X-TARGETDURATION:4\n#EXTINF:4,\n0.aac\n#EXTINF:4,\n1.aac\n#EXT-X-ENDLIST\n",
	}
	s := NewHLS(Audio, mustURL(t, "https://cdn.example/show/master.m3u8"), "audio/sv.m3u8")

	count, seq, err := s.GenerateURLs(context.Background(), fetcher)
	require.NoError(t, err)
	assert.Equal(t, 2, count)
	assert.Equal(t, []string{
		"https://cdn.example/show/audio/0.aac",
		"https://cdn.example/show/audio/1.aac",
	}, slices.Collect(seq))
}

func TestCollection_Empty(t *testing.T) {
	c := newCollection(nil)
	assert.Nil(t, c.BestVideo())
	assert.Nil(t, c.BestAudio("sv"))
}

func TestMerge(t *testing.T) {
	first := &Collection{
		Video: []*Stream{{Kind: Video, ID: "a", Resolution: Resolution{1280, 720}}},
		Audio: []*Stream{{Kind: Audio, ID: "a-en", Language: "en"}},
	}
	second := &Collection{
		Video:    []*Stream{{Kind: Video, ID: "b", Resolution: Resolution{1280, 720}}},
		Audio:    []*Stream{{Kind: Audio, ID: "b-sv", Language: "sv"}},
		Subtitle: []*Stream{{Kind: Subtitle, ID: "b-sub"}},
	}

	c := Merge(first, nil, second)
	require.Len(t, c.Video, 2)
	assert.Equal(t, "a", c.BestVideo().ID)
	assert.Equal(t, "b", Merge(second, first).BestVideo().ID)
	assert.Equal(t, "a-en", c.BestAudio("").ID)
	assert.Equal(t, "b-sv", c.BestAudio("sv").ID)
	require.Len(t, c.Subtitle, 1)

	empty := Merge()
	assert.Nil(t, empty.BestVideo())
}
