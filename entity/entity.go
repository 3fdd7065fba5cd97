// Package entity defines the closed vocabulary of semantic entity types and
// the mapping from word-processor style names to entity types.
//
// The numeric IDs are part of the dataset schema: they appear in the entity
// sidecar files and must stay stable across releases. New types may be
// appended, existing values never change.
package entity

import (
	"fmt"
	"strings"
)

// Type is a semantic entity category with a stable numeric ID.
type Type int

const (
	Text            Type = 0 // body paragraph
	Title           Type = 1
	Heading1        Type = 2
	Heading2        Type = 3
	Heading3        Type = 4
	Heading4        Type = 5
	Heading5        Type = 6
	Heading6        Type = 7
	Heading7        Type = 8
	Heading8        Type = 9
	Heading9        Type = 10
	List            Type = 11
	ListItem        Type = 12
	Header          Type = 13
	Footer          Type = 14
	Table           Type = 15
	TableRow        Type = 16
	TableCell       Type = 17
	TableHeaderRow  Type = 18
	TableHeaderCell Type = 19
	TOC             Type = 20
	Bibliography    Type = 21
	Quote           Type = 22
	Equation        Type = 23
	Figure          Type = 24
	Caption         Type = 25
	Footnote        Type = 26
	Annotation      Type = 27
	FormField       Type = 28
	FormTag         Type = 29
)

var names = map[Type]string{
	Text:            "text",
	Title:           "title",
	Heading1:        "heading_1",
	Heading2:        "heading_2",
	Heading3:        "heading_3",
	Heading4:        "heading_4",
	Heading5:        "heading_5",
	Heading6:        "heading_6",
	Heading7:        "heading_7",
	Heading8:        "heading_8",
	Heading9:        "heading_9",
	List:            "list",
	ListItem:        "list_item",
	Header:          "header",
	Footer:          "footer",
	Table:           "table",
	TableRow:        "table_row",
	TableCell:       "table_cell",
	TableHeaderRow:  "table_header_row",
	TableHeaderCell: "table_header_cell",
	TOC:             "toc",
	Bibliography:    "bibliography",
	Quote:           "quote",
	Equation:        "equation",
	Figure:          "figure",
	Caption:         "caption",
	Footnote:        "footnote",
	Annotation:      "annotation",
	FormField:       "form_field",
	FormTag:         "form_tag",
}

// String returns the dataset name of the type.
func (t Type) String() string {
	if n, ok := names[t]; ok {
		return n
	}
	return fmt.Sprintf("entity_%d", int(t))
}

// Valid reports whether t is part of the vocabulary.
func (t Type) Valid() bool {
	_, ok := names[t]
	return ok
}

// Container reports whether the type groups other entities rather than
// carrying its own text. Container boxes are derived from their children.
func (t Type) Container() bool {
	switch t {
	case Table, TableRow, TableHeaderRow, List:
		return true
	}
	return false
}

// All returns every type in ID order.
func All() []Type {
	out := make([]Type, 0, len(names))
	for t := Type(0); int(t) < len(names); t++ {
		out = append(out, t)
	}
	return out
}

// Parse resolves a dataset name back to its type.
func Parse(name string) (Type, error) {
	for t, n := range names {
		if n == name {
			return t, nil
		}
	}
	return 0, fmt.Errorf("unknown entity type %q", name)
}

// MatchKind selects how a style rule pattern is compared.
type MatchKind int

const (
	MatchExact MatchKind = iota
	MatchPrefix
)

// StyleRule maps a paragraph style name to an entity type. Rules are
// evaluated in order, first match wins.
type StyleRule struct {
	Pattern string    `yaml:"pattern"`
	Kind    MatchKind `yaml:"-"`
	Match   string    `yaml:"match"` // "exact" or "prefix", for YAML configs
	Type    Type      `yaml:"-"`
	TypeStr string    `yaml:"type"`
}

// StyleMap resolves style names to entity types using an ordered rule list.
// Comparison is case-insensitive; unmatched styles map to Text.
type StyleMap struct {
	rules []StyleRule
}

// NewStyleMap builds a StyleMap from an ordered rule list. Rules loaded from
// YAML (Match/TypeStr populated, Kind/Type zero) are resolved here.
func NewStyleMap(rules []StyleRule) (*StyleMap, error) {
	resolved := make([]StyleRule, len(rules))
	for i, r := range rules {
		if r.TypeStr != "" {
			t, err := Parse(r.TypeStr)
			if err != nil {
				return nil, fmt.Errorf("style rule %d: %w", i, err)
			}
			r.Type = t
		}
		switch r.Match {
		case "", "exact":
			if r.Match == "exact" {
				r.Kind = MatchExact
			}
		case "prefix":
			r.Kind = MatchPrefix
		default:
			return nil, fmt.Errorf("style rule %d: unsupported match %q", i, r.Match)
		}
		if !r.Type.Valid() {
			return nil, fmt.Errorf("style rule %d: invalid entity type %d", i, int(r.Type))
		}
		r.Pattern = strings.ToLower(r.Pattern)
		resolved[i] = r
	}
	return &StyleMap{rules: resolved}, nil
}

// DefaultStyleMap covers the built-in Word style names observed in the wild,
// including the localized heading prefixes LibreOffice emits.
func DefaultStyleMap() *StyleMap {
	sm, err := NewStyleMap(defaultRules)
	if err != nil {
		panic(err) // defaultRules is static and must be valid
	}
	return sm
}

var defaultRules = []StyleRule{
	{Pattern: "title", Kind: MatchExact, Type: Title},
	{Pattern: "subtitle", Kind: MatchExact, Type: Heading1},
	{Pattern: "heading 1", Kind: MatchExact, Type: Heading1},
	{Pattern: "heading 2", Kind: MatchExact, Type: Heading2},
	{Pattern: "heading 3", Kind: MatchExact, Type: Heading3},
	{Pattern: "heading 4", Kind: MatchExact, Type: Heading4},
	{Pattern: "heading 5", Kind: MatchExact, Type: Heading5},
	{Pattern: "heading 6", Kind: MatchExact, Type: Heading6},
	{Pattern: "heading 7", Kind: MatchExact, Type: Heading7},
	{Pattern: "heading 8", Kind: MatchExact, Type: Heading8},
	{Pattern: "heading 9", Kind: MatchExact, Type: Heading9},
	{Pattern: "heading1", Kind: MatchExact, Type: Heading1},
	{Pattern: "heading2", Kind: MatchExact, Type: Heading2},
	{Pattern: "heading3", Kind: MatchExact, Type: Heading3},
	{Pattern: "heading4", Kind: MatchExact, Type: Heading4},
	{Pattern: "heading5", Kind: MatchExact, Type: Heading5},
	{Pattern: "heading6", Kind: MatchExact, Type: Heading6},
	{Pattern: "heading7", Kind: MatchExact, Type: Heading7},
	{Pattern: "heading8", Kind: MatchExact, Type: Heading8},
	{Pattern: "heading9", Kind: MatchExact, Type: Heading9},
	{Pattern: "body", Kind: MatchPrefix, Type: Text},
	{Pattern: "normal", Kind: MatchPrefix, Type: Text},
	{Pattern: "plain text", Kind: MatchExact, Type: Text},
	{Pattern: "no spacing", Kind: MatchExact, Type: Text},
	{Pattern: "default", Kind: MatchPrefix, Type: Text},
	{Pattern: "list", Kind: MatchPrefix, Type: ListItem},
	{Pattern: "header", Kind: MatchPrefix, Type: Header},
	{Pattern: "footer", Kind: MatchPrefix, Type: Footer},
	{Pattern: "toc", Kind: MatchPrefix, Type: TOC},
	{Pattern: "bibliography", Kind: MatchPrefix, Type: Bibliography},
	{Pattern: "quote", Kind: MatchExact, Type: Quote},
	{Pattern: "intense quote", Kind: MatchExact, Type: Quote},
	{Pattern: "caption", Kind: MatchPrefix, Type: Caption},
	{Pattern: "footnote", Kind: MatchPrefix, Type: Footnote},
	{Pattern: "annotation", Kind: MatchPrefix, Type: Annotation},
}

// Resolve maps a style name to its entity type. Exact rules are honored
// before prefix rules regardless of list order, so that "heading 1" is not
// swallowed by a broad "heading" prefix placed earlier.
func (m *StyleMap) Resolve(style string) Type {
	s := strings.ToLower(strings.TrimSpace(style))
	if s == "" {
		return Text
	}
	for _, r := range m.rules {
		if r.Kind == MatchExact && s == r.Pattern {
			return r.Type
		}
	}
	for _, r := range m.rules {
		if r.Kind == MatchPrefix && strings.HasPrefix(s, r.Pattern) {
			return r.Type
		}
	}
	return Text
}
