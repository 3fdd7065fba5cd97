// Package align matches structural text spans to their positions on rendered
// pages. The structural tree has semantics but no geometry; the rendered text
// layer has geometry but no semantics. Alignment walks both streams in
// parallel, consuming whitespace-normalized characters greedily and unioning
// the consumed word boxes into per-page entity boxes.
package align

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"unicode"

	"github.com/hazyhaar/docscape/entity"
	"github.com/hazyhaar/docscape/geom"
	"github.com/hazyhaar/docscape/render"
	"github.com/hazyhaar/docscape/structure"
)

// ErrMismatch reports that too large a share of the structural text could not
// be located on any rendered page.
var ErrMismatch = errors.New("align: structural text does not match rendered text")

// Config tunes the matcher. Both knobs were tuned empirically; treat them as
// deployment configuration.
type Config struct {
	// Tolerance is the character budget for resynchronization: leading
	// rendered text with no structural counterpart (headers, page numbers)
	// and small gaps inside a span are skipped up to this many characters.
	// Default: 24.
	Tolerance int `yaml:"tolerance"`

	// MismatchThreshold fails the document when the mismatched share of
	// structural characters exceeds it. Default: 0.2.
	MismatchThreshold float64 `yaml:"mismatch_threshold"`
}

func (c *Config) defaults() {
	if c.Tolerance <= 0 {
		c.Tolerance = 24
	}
	if c.MismatchThreshold <= 0 {
		c.MismatchThreshold = 0.2
	}
}

// Entity is one aligned semantic region on one page.
type Entity struct {
	// Node is the structural arena index the region was derived from.
	Node int `json:"node"`
	// Type is the semantic entity type.
	Type entity.Type `json:"type"`
	// Page is the 1-based page ordinal; an entity never spans pages.
	Page int `json:"page"`
	// Box is the region in page image pixel coordinates.
	Box geom.Box `json:"box"`
	// Text is the rendered text attributed to the region on this page.
	// Containers carry no text of their own.
	Text string `json:"text,omitempty"`
}

// Result is the alignment outcome for one document.
type Result struct {
	// Entities holds aligned regions in document order, then page order.
	Entities []Entity
	// Mismatched lists arena indices of leaf spans that could not be
	// located; they are excluded from Entities.
	Mismatched []int
	// TotalChars and AlignedChars count normalized structural characters.
	TotalChars   int
	AlignedChars int
}

// AlignedRatio is the share of structural characters successfully placed.
func (r *Result) AlignedRatio() float64 {
	if r.TotalChars == 0 {
		return 1
	}
	return float64(r.AlignedChars) / float64(r.TotalChars)
}

// streamWord is one rendered word tagged with its page.
type streamWord struct {
	page  int
	text  string
	chars string
	box   geom.Box
}

// matcher carries the cursor state of one document alignment.
type matcher struct {
	cfg    Config
	stream []streamWord
	cursor int
}

// pageAccum collects the rendered words attributed to one (span, page) pair.
type pageAccum struct {
	box   geom.Box
	words []string
}

// Align places every structural leaf span onto the rendered pages. Spans that
// cannot be located are reported in Result.Mismatched; the document only
// fails, with ErrMismatch, when their character share exceeds the configured
// threshold.
func Align(tree *structure.Tree, pages []render.Page, cfg Config) (*Result, error) {
	cfg.defaults()

	m := &matcher{cfg: cfg}
	for _, p := range pages {
		for _, w := range p.Words {
			chars := normalize(w.Text)
			if chars == "" {
				continue
			}
			m.stream = append(m.stream, streamWord{
				page:  p.Number,
				text:  w.Text,
				chars: chars,
				box:   w.Box,
			})
		}
	}

	res := &Result{}
	perNode := make(map[int]map[int]*pageAccum)

	for _, idx := range tree.Leaves() {
		span := normalize(tree.Nodes[idx].Text)
		if span == "" {
			continue
		}
		res.TotalChars += len(span)

		accums, ok := m.matchSpan(span)
		if !ok {
			res.Mismatched = append(res.Mismatched, idx)
			continue
		}
		res.AlignedChars += len(span)
		perNode[idx] = accums
	}

	mismatched := res.TotalChars - res.AlignedChars
	if res.TotalChars > 0 && float64(mismatched)/float64(res.TotalChars) > cfg.MismatchThreshold {
		return res, fmt.Errorf("%w: %d of %d chars unplaced", ErrMismatch, mismatched, res.TotalChars)
	}

	res.Entities = assemble(tree, perNode)
	return res, nil
}

// matchSpan consumes rendered words against one span's character stream.
// On success it returns the per-page box/text accumulation. On failure the
// cursor is left untouched when nothing matched, so a dropped span cannot
// desynchronize its successors.
func (m *matcher) matchSpan(span string) (map[int]*pageAccum, bool) {
	start := m.cursor
	accums := make(map[int]*pageAccum)
	off := 0
	skipped := 0

	consume := func(w streamWord) {
		a := accums[w.page]
		if a == nil {
			a = &pageAccum{}
			accums[w.page] = a
		}
		a.box = a.box.Union(w.box)
		a.words = append(a.words, w.text)
	}

	for off < len(span) && m.cursor < len(m.stream) {
		w := m.stream[m.cursor]
		rem := span[off:]

		switch {
		case strings.HasPrefix(rem, w.chars):
			// Word lies fully inside the span.
			consume(w)
			off += len(w.chars)
			m.cursor++

		case off == 0 && skipped+len(w.chars) <= m.cfg.Tolerance:
			// Rendered text with no structural counterpart (page header,
			// page number) ahead of the span start.
			skipped += len(w.chars)
			m.cursor++

		case off > 0 && strings.HasPrefix(w.chars, rem):
			// Word straddles the span boundary; attribute it here and let
			// the tail count against the next span's resync budget.
			consume(w)
			off = len(span)
			m.cursor++

		case off > 0 && gapTo(rem, w.chars, m.cfg.Tolerance) >= 0:
			// Rendering dropped a few characters mid-span; skip the gap.
			off += gapTo(rem, w.chars, m.cfg.Tolerance)

		default:
			if off == 0 {
				m.cursor = start
			}
			return nil, false
		}
	}

	if off < len(span) {
		if off == 0 {
			m.cursor = start
		}
		return nil, false
	}
	return accums, true
}

// gapTo returns the offset of word within the first tolerance characters of
// rem, or -1. A zero-length word never matches.
func gapTo(rem, word string, tolerance int) int {
	window := rem
	if len(window) > tolerance+len(word) {
		window = window[:tolerance+len(word)]
	}
	idx := strings.Index(window, word)
	if idx <= 0 {
		// idx 0 is HasPrefix territory, handled by the caller.
		return -1
	}
	return idx
}

// assemble emits leaf entities from the accumulated boxes and derives
// container entities (table, row, list) as per-page unions of their
// descendants, walking parent indices iteratively.
func assemble(tree *structure.Tree, perNode map[int]map[int]*pageAccum) []Entity {
	type key struct{ node, page int }
	containerBoxes := make(map[key]geom.Box)

	for idx, accums := range perNode {
		for page, a := range accums {
			// Climb the parent chain; every container ancestor absorbs the
			// leaf's page box.
			for p := tree.Nodes[idx].Parent; p >= 0; p = tree.Nodes[p].Parent {
				if !tree.Nodes[p].Type.Container() {
					continue
				}
				k := key{p, page}
				containerBoxes[k] = containerBoxes[k].Union(a.box)
			}
		}
	}

	var out []Entity
	for idx, n := range tree.Nodes {
		if n.Type.Container() {
			var pages []int
			for k := range containerBoxes {
				if k.node == idx {
					pages = append(pages, k.page)
				}
			}
			sort.Ints(pages)
			for _, page := range pages {
				out = append(out, Entity{
					Node: idx,
					Type: n.Type,
					Page: page,
					Box:  containerBoxes[key{idx, page}],
				})
			}
			continue
		}

		accums := perNode[idx]
		if accums == nil {
			continue
		}
		pages := make([]int, 0, len(accums))
		for page := range accums {
			pages = append(pages, page)
		}
		sort.Ints(pages)
		for _, page := range pages {
			a := accums[page]
			out = append(out, Entity{
				Node: idx,
				Type: n.Type,
				Page: page,
				Box:  a.box,
				Text: strings.Join(a.words, " "),
			})
		}
	}
	return out
}

// normalize strips all whitespace, leaving the comparable character stream.
func normalize(s string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return -1
		}
		return r
	}, s)
}
