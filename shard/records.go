package shard

import (
	"time"

	"github.com/hazyhaar/docscape/doctext"
	"github.com/hazyhaar/docscape/geom"
)

// FailureRecord is one line of the failure ledger. Append-only, one per
// failed document, never retried within the same shard run.
type FailureRecord struct {
	DocID  string `json:"doc_id"`
	Stage  string `json:"stage"`
	Reason string `json:"reason"`
	Detail string `json:"detail,omitempty"`
}

// DocMeta is one line of the document metadata stream.
type DocMeta struct {
	DocID             string  `json:"doc_id"`
	Source            string  `json:"source"`
	Shard             string  `json:"shard"`
	Pages             int     `json:"pages"`
	TotalPages        int     `json:"total_pages"`
	PageLimitExceeded bool    `json:"page_limit_exceeded,omitempty"`
	Lang              string  `json:"lang"`
	LangConfidence    float64 `json:"lang_confidence"`
	Quality           float64 `json:"quality"`
	AlignedRatio      float64 `json:"aligned_ratio"`
	MismatchedSpans   int     `json:"mismatched_spans,omitempty"`
	doctext.Stats
	ElapsedMS   int64  `json:"elapsed_ms"`
	AnnotatedAt string `json:"annotated_at"`
}

// PageMeta is one line of the page metadata stream.
type PageMeta struct {
	DocID    string `json:"doc_id"`
	Page     int    `json:"page"`
	Width    int    `json:"width"`
	Height   int    `json:"height"`
	Entities int    `json:"entities"`
	Words    int    `json:"words"`
	Lang     string `json:"lang,omitempty"`
	doctext.Stats
}

// DocText and PageText are the plain-text streams.
type DocText struct {
	DocID string `json:"doc_id"`
	Text  string `json:"text"`
}

type PageText struct {
	DocID string `json:"doc_id"`
	Page  int    `json:"page"`
	Text  string `json:"text"`
}

// wordRecord and entityRecord are the bundle sidecar schemas.
type wordRecord struct {
	Text string   `json:"text"`
	Box  geom.Box `json:"box"`
}

type entityRecord struct {
	TypeID int      `json:"type_id"`
	Type   string   `json:"type"`
	Box    geom.Box `json:"box"`
	Text   string   `json:"text,omitempty"`
}

// Manifest summarizes one shard run. It is written even under partial
// cancellation, so a run always accounts for every dequeued document.
type Manifest struct {
	Shard      string    `json:"shard"`
	Archive    string    `json:"archive"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	Success    int       `json:"success"`
	Failed     int       `json:"failed"`
	Cancelled  int       `json:"cancelled"`
	Skipped    int       `json:"skipped"`
	// Segments counts the output file segments produced by size rotation.
	Segments int `json:"segments"`
}
