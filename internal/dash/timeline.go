package dash

import (
	"errors"
	"fmt"
	"iter"
	"net/url"

	"github.com/samber/lo"

	"svtdl/internal/expand"
)

// ErrNoSegmentTemplate is returned for representations that are not
// addressed through a SegmentTemplate.
var ErrNoSegmentTemplate = errors.New("representation has no segment template")

// Template returns the segment template that drives URL generation: the
// representation's first one, or else the adaptation set's first one.
// Further templates are ignored.
func Template(as *AdaptationSet, rep *Representation) *SegmentTemplate {
	if len(rep.SegmentTemplates) > 0 {
		return &rep.SegmentTemplates[0]
	}
	if as != nil && len(as.SegmentTemplates) > 0 {
		return &as.SegmentTemplates[0]
	}
	return nil
}

// SegmentCount is the number of media segments the template addresses: the
// sum of the raw repeat counts over every S of every timeline. An S without
// r contributes nothing, and an open-ended r=-1 is counted as zero.
func SegmentCount(tmpl *SegmentTemplate) int {
	return lo.SumBy(tmpl.Timelines, func(tl SegmentTimeline) int {
		return lo.SumBy(tl.Segments, func(s S) int {
			return max(s.R, 0)
		})
	})
}

// SegmentURLs returns the number of URLs and a sequence yielding the
// initialization URL followed by one URL per media segment, numbered from 0.
// The initialization path is joined to base as written.
func SegmentURLs(base *url.URL, tmpl *SegmentTemplate, rep *Representation) (int, iter.Seq[string], error) {
	if tmpl == nil {
		return 0, nil, ErrNoSegmentTemplate
	}

	media := expand.Expand(tmpl.Media, map[string]any{
		"RepresentationID": rep.ID,
		"Bandwidth":        rep.Bandwidth,
	}, expand.DefaultDelimiter)
	numbered := expand.Expander{Delimiter: expand.DefaultDelimiter, Strict: true}
	count := SegmentCount(tmpl)

	// Only $Number$ varies between segments, so the first one stands for all.
	first, err := numbered.Expand(media, map[string]any{"Number": 0})
	if err != nil {
		return 0, nil, fmt.Errorf("representation %s: %w", rep.ID, err)
	}
	if _, err := resolveURL(base, first); err != nil {
		return 0, nil, fmt.Errorf("representation %s: %w", rep.ID, err)
	}

	var init string
	if tmpl.Initialization != "" {
		u, err := resolveURL(base, tmpl.Initialization)
		if err != nil {
			return 0, nil, fmt.Errorf("representation %s: %w", rep.ID, err)
		}
		init = u.String()
	}

	seq := func(yield func(string) bool) {
		if init != "" && !yield(init) {
			return
		}
		for n := range count {
			path, err := numbered.Expand(media, map[string]any{"Number": n})
			if err != nil {
				return
			}
			u, err := resolveURL(base, path)
			if err != nil {
				return
			}
			if !yield(u.String()) {
				return
			}
		}
	}

	total := count
	if init != "" {
		total++
	}
	return total, seq, nil
}
