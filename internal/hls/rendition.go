package hls

import (
	"bufio"
	"strings"

	"github.com/grafov/m3u8"
)

const mediaTag = "#EXT-X-MEDIA:"

// Rendition is one EXT-X-MEDIA entry of a master playlist.
type Rendition struct {
	Type     string
	GroupID  string
	Name     string
	Language string
	URI      string
}

// Master is a decoded master playlist together with every rendition it
// declares, in playlist order. The decoder only attaches renditions to the
// variants that reference their group, so the list is collected separately.
type Master struct {
	*m3u8.MasterPlaylist
	Renditions []Rendition
}

// renditions scans text for EXT-X-MEDIA lines.
func renditions(text string) []Rendition {
	var out []Rendition
	scanner := bufio.NewScanner(strings.NewReader(text))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if !strings.HasPrefix(line, mediaTag) {
			continue
		}
		attrs := parseAttributes(strings.TrimPrefix(line, mediaTag))
		out = append(out, Rendition{
			Type:     strings.ToUpper(attrs["TYPE"]),
			GroupID:  attrs["GROUP-ID"],
			Name:     attrs["NAME"],
			Language: attrs["LANGUAGE"],
			URI:      attrs["URI"],
		})
	}
	return out
}

// parseAttributes splits an attribute list such as
// TYPE=AUDIO,NAME="a, b",URI="x.m3u8". Quoted values may contain commas.
func parseAttributes(s string) map[string]string {
	attrs := make(map[string]string)
	for s != "" {
		key, rest, ok := strings.Cut(s, "=")
		if !ok {
			break
		}
		key = strings.ToUpper(strings.TrimSpace(key))

		var value string
		if strings.HasPrefix(rest, `"`) {
			end := strings.IndexByte(rest[1:], '"')
			if end < 0 {
				value, rest = rest[1:], ""
			} else {
				value, rest = rest[1:end+1], rest[end+2:]
			}
			_, rest, _ = strings.Cut(rest, ",")
		} else {
			value, rest, _ = strings.Cut(rest, ",")
		}
		attrs[key] = strings.TrimSpace(value)
		s = rest
	}
	return attrs
}
