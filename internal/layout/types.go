// Package layout turns a flat list of OCR fragments from a kanji study
// sheet into vocabulary entries, one per kanji anchor.
//
// The pipeline is pure and synchronous: anchors are detected, every other
// fragment is bound to its nearest anchor (or orphaned), bound fragments
// are given a role by script, and entries are built, scored and
// deduplicated. Nothing here logs or touches I/O; problems are reported
// as Diagnostics on the records they concern.
package layout

import (
	"fmt"
	"strings"

	kgerrors "github.com/kangen/kangen/internal/errors"
)

// Fragment is one OCR text box. Fragments are values and are never
// modified after the OCR adapter creates them.
type Fragment struct {
	ID         string  `json:"id"`
	Text       string  `json:"text"`
	Box        Quad    `json:"box"`
	Confidence float64 `json:"confidence"`
}

// Anchor is a single kanji located on the sheet.
type Anchor struct {
	ID         string  `json:"id"`
	FragmentID string  `json:"fragment_id"`
	Kanji      string  `json:"kanji"`
	Box        Quad    `json:"box"`
	Center     Point   `json:"center"`
	Confidence float64 `json:"confidence"`
	// Order is the anchor's position in sheet reading order.
	Order int `json:"order"`
	// Split is set when Box is a sub-box of a multi-kanji fragment.
	Split bool `json:"split"`
	// Ambiguous is set when the split failed and Box is the full fragment box.
	Ambiguous bool `json:"ambiguous,omitempty"`
}

// cutoff is the farthest weighted distance at which a fragment may bind.
func (a Anchor) cutoff(opts Options) float64 {
	return opts.CutoffFactor * a.Box.Size()
}

// Assignment binds one fragment to one anchor.
type Assignment struct {
	FragmentID string  `json:"fragment_id"`
	AnchorID   string  `json:"anchor_id"`
	Distance   float64 `json:"distance"`
}

// OrphanReason says why a fragment is not part of any entry.
type OrphanReason string

const (
	OrphanBeyondCutoff    OrphanReason = "beyond_cutoff"
	OrphanNoAnchors       OrphanReason = "no_anchors"
	OrphanMalformed       OrphanReason = "malformed"
	OrphanDuplicateAnchor OrphanReason = "duplicate_anchor"
)

// Orphan is a fragment that was not assigned to any surviving entry.
type Orphan struct {
	Fragment    Fragment     `json:"fragment"`
	Reason      OrphanReason `json:"reason"`
	Diagnostics []Diagnostic `json:"diagnostics,omitempty"`
}

// Diagnostic explains a recoverable problem found during analysis.
type Diagnostic struct {
	Code       kgerrors.ErrorCode `json:"code"`
	FragmentID string             `json:"fragment_id,omitempty"`
	AnchorID   string             `json:"anchor_id,omitempty"`
	Message    string             `json:"message"`
}

func (d Diagnostic) String() string {
	var b strings.Builder
	b.WriteString(string(d.Code))
	if d.FragmentID != "" {
		fmt.Fprintf(&b, " fragment=%s", d.FragmentID)
	}
	if d.AnchorID != "" {
		fmt.Fprintf(&b, " anchor=%s", d.AnchorID)
	}
	if d.Message != "" {
		b.WriteString(": ")
		b.WriteString(d.Message)
	}
	return b.String()
}

// Slot is the role a fragment plays in an entry.
type Slot int

const (
	OnYomi Slot = iota
	KunYomi
	Meaning
	Example
	Unclassified
)

var allSlots = []Slot{OnYomi, KunYomi, Meaning, Example, Unclassified}

func (s Slot) String() string {
	switch s {
	case OnYomi:
		return "on_yomi"
	case KunYomi:
		return "kun_yomi"
	case Meaning:
		return "meaning"
	case Example:
		return "example"
	default:
		return "unclassified"
	}
}

// MarshalText lets SlotMap serialise with readable keys.
func (s Slot) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText is the inverse of MarshalText.
func (s *Slot) UnmarshalText(b []byte) error {
	switch string(b) {
	case "on_yomi":
		*s = OnYomi
	case "kun_yomi":
		*s = KunYomi
	case "meaning":
		*s = Meaning
	case "example":
		*s = Example
	case "unclassified":
		*s = Unclassified
	default:
		return fmt.Errorf("unknown slot %q", b)
	}
	return nil
}

// SlotMap holds the fragments of each slot in reading order.
type SlotMap map[Slot][]Fragment

func (m SlotMap) clone() SlotMap {
	out := make(SlotMap, len(m))
	for k, v := range m {
		out[k] = append([]Fragment(nil), v...)
	}
	return out
}

// empty reports whether no slot has a fragment.
func (m SlotMap) empty() bool {
	for _, frags := range m {
		if len(frags) > 0 {
			return false
		}
	}
	return true
}

// all returns every fragment across slots, primary slots first.
func (m SlotMap) all() []Fragment {
	var out []Fragment
	for _, s := range allSlots {
		out = append(out, m[s]...)
	}
	return out
}

// Options tunes the anchoring pipeline. Zero values fall back to defaults.
type Options struct {
	// VerticalPenalty multiplies the vertical offset; must be > 1.
	VerticalPenalty float64
	// CutoffFactor scales an anchor's box size into its binding radius.
	CutoffFactor float64
	// TieEpsilon is the distance difference treated as a tie.
	TieEpsilon float64
	// MinSplitExtent is the smallest sub-box length, in pixels, a split may produce.
	MinSplitExtent float64
	// LineTolerance is the fraction of box height within which two boxes share a line.
	LineTolerance float64
	// MeaningMaxRunes is the longest latin text still read as a meaning.
	MeaningMaxRunes int
	// ExampleMinRunes is the shortest kanji text read as an example without a sentence end.
	ExampleMinRunes int

	AnchorWeight   float64
	CoverageWeight float64
	FragmentWeight float64

	// LowConfidence flags entries scoring below it.
	LowConfidence float64
}

// DefaultOptions returns the standard tuning.
func DefaultOptions() Options {
	return Options{
		VerticalPenalty: 2.0,
		CutoffFactor:    5.0,
		TieEpsilon:      1e-6,
		MinSplitExtent:  1.0,
		LineTolerance:   0.5,
		MeaningMaxRunes: 60,
		ExampleMinRunes: 4,
		AnchorWeight:    0.3,
		CoverageWeight:  0.4,
		FragmentWeight:  0.3,
		LowConfidence:   0.5,
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.VerticalPenalty <= 1 {
		o.VerticalPenalty = d.VerticalPenalty
	}
	if o.CutoffFactor <= 0 {
		o.CutoffFactor = d.CutoffFactor
	}
	if o.TieEpsilon <= 0 {
		o.TieEpsilon = d.TieEpsilon
	}
	if o.MinSplitExtent <= 0 {
		o.MinSplitExtent = d.MinSplitExtent
	}
	if o.LineTolerance <= 0 {
		o.LineTolerance = d.LineTolerance
	}
	if o.MeaningMaxRunes <= 0 {
		o.MeaningMaxRunes = d.MeaningMaxRunes
	}
	if o.ExampleMinRunes <= 0 {
		o.ExampleMinRunes = d.ExampleMinRunes
	}
	if o.AnchorWeight < 0 || o.CoverageWeight < 0 || o.FragmentWeight < 0 ||
		o.AnchorWeight+o.CoverageWeight+o.FragmentWeight == 0 {
		o.AnchorWeight, o.CoverageWeight, o.FragmentWeight = d.AnchorWeight, d.CoverageWeight, d.FragmentWeight
	}
	if o.LowConfidence <= 0 || o.LowConfidence > 1 {
		o.LowConfidence = d.LowConfidence
	}
	return o
}
