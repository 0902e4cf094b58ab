package dash

import (
	"encoding/xml"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// MPD is the root element of a Media Presentation Description.
type MPD struct {
	XMLName                   xml.Name `xml:"MPD"`
	Type                      string   `xml:"type,attr"`
	Profiles                  string   `xml:"profiles,attr"`
	MediaPresentationDuration string   `xml:"mediaPresentationDuration,attr"`
	MinBufferTime             string   `xml:"minBufferTime,attr"`
	BaseURL                   string   `xml:"BaseURL"`
	Periods                   []Period `xml:"Period"`
}

// Parse decodes an MPD document.
func Parse(data []byte) (*MPD, error) {
	var mpd MPD
	if err := xml.Unmarshal(data, &mpd); err != nil {
		return nil, fmt.Errorf("failed to unmarshal MPD XML: %w", err)
	}
	return &mpd, nil
}

// GetDuration returns the mediaPresentationDuration, zero when absent.
func (m *MPD) GetDuration() (time.Duration, error) {
	if m.MediaPresentationDuration == "" {
		return 0, nil
	}
	return parseDuration(m.MediaPresentationDuration)
}

var durationPart = regexp.MustCompile(`(\d+\.?\d*)(\w)`)

// parseDuration parses an ISO 8601 duration string like "PT1H2M8.5S".
func parseDuration(duration string) (time.Duration, error) {
	if !strings.HasPrefix(duration, "PT") {
		// Fallback for simple duration strings like "5s"
		return time.ParseDuration(duration)
	}

	duration = strings.TrimPrefix(duration, "PT")
	if duration == "" {
		return 0, nil
	}
	matches := durationPart.FindAllStringSubmatch(duration, -1)
	if len(matches) == 0 {
		return 0, errors.New("invalid ISO 8601 duration format")
	}

	var total time.Duration
	for _, match := range matches {
		value, err := strconv.ParseFloat(match[1], 64)
		if err != nil {
			return 0, err
		}
		switch match[2] {
		case "H":
			total += time.Duration(value * float64(time.Hour))
		case "M":
			total += time.Duration(value * float64(time.Minute))
		case "S":
			total += time.Duration(value * float64(time.Second))
		default:
			return 0, errors.New("unsupported duration unit: " + match[2])
		}
	}
	return total, nil
}

// Period represents a media content period.
type Period struct {
	ID      string          `xml:"id,attr"`
	Start   string          `xml:"start,attr"`
	BaseURL string          `xml:"BaseURL"`
	Sets    []AdaptationSet `xml:"AdaptationSet"`
}

// AdaptationSet represents a set of interchangeable representations.
type AdaptationSet struct {
	ID               string            `xml:"id,attr"`
	ContentType      string            `xml:"contentType,attr"`
	Lang             string            `xml:"lang,attr,omitempty"`
	MimeType         string            `xml:"mimeType,attr"`
	MaxWidth         int               `xml:"maxWidth,attr,omitempty"`
	MaxHeight        int               `xml:"maxHeight,attr,omitempty"`
	BaseURL          string            `xml:"BaseURL"`
	SegmentTemplates []SegmentTemplate `xml:"SegmentTemplate"`
	Representations  []Representation  `xml:"Representation"`
}

// Type returns the set's content type, derived from its mime type when the
// contentType attribute is missing.
func (as *AdaptationSet) Type() string {
	if as.ContentType != "" {
		return as.ContentType
	}
	mime := as.MimeType
	if mime == "" {
		for _, rep := range as.Representations {
			if rep.MimeType != "" {
				mime = rep.MimeType
				break
			}
		}
	}
	major, _, _ := strings.Cut(mime, "/")
	if major == "application" {
		return "text"
	}
	return major
}

// Representation represents a specific media stream.
type Representation struct {
	ID               string            `xml:"id,attr"`
	Bandwidth        int               `xml:"bandwidth,attr"`
	Codecs           string            `xml:"codecs,attr"`
	MimeType         string            `xml:"mimeType,attr,omitempty"`
	Width            int               `xml:"width,attr,omitempty"`
	Height           int               `xml:"height,attr,omitempty"`
	FrameRate        string            `xml:"frameRate,attr,omitempty"`
	BaseURL          string            `xml:"BaseURL"`
	SegmentTemplates []SegmentTemplate `xml:"SegmentTemplate"`
}

// SegmentTemplate defines the URL structure for segments.
type SegmentTemplate struct {
	Timescale      int               `xml:"timescale,attr"`
	Initialization string            `xml:"initialization,attr"`
	Media          string            `xml:"media,attr"`
	Timelines      []SegmentTimeline `xml:"SegmentTimeline"`
}

// SegmentTimeline defines the timeline of segments.
type SegmentTimeline struct {
	Segments []S `xml:"S"`
}

// S represents a single segment or a series of segments.
type S struct {
	T uint64 `xml:"t,attr"`           // Start time
	D uint64 `xml:"d,attr"`           // Duration
	R int    `xml:"r,attr,omitempty"` // Repeat count
}
