package layout

import (
	"fmt"
	"math"

	kgerrors "github.com/kangen/kangen/internal/errors"
	"github.com/kangen/kangen/internal/script"
)

// Entry is one kanji with everything found around it on the sheet.
type Entry struct {
	Anchor      Anchor       `json:"anchor"`
	Slots       SlotMap      `json:"slots"`
	Confidence  float64      `json:"confidence"`
	Diagnostics []Diagnostic `json:"diagnostics,omitempty"`
}

// Kanji is the entry's character.
func (e Entry) Kanji() string { return e.Anchor.Kanji }

// Texts returns the texts of a slot in order.
func (e Entry) Texts(s Slot) []string {
	out := make([]string, 0, len(e.Slots[s]))
	for _, f := range e.Slots[s] {
		out = append(out, f.Text)
	}
	return out
}

// Fragments returns every fragment bound to the entry.
func (e Entry) Fragments() []Fragment { return e.Slots.all() }

// Flagged reports whether the entry is low-confidence or rests on an
// unsplit anchor box.
func (e Entry) Flagged() bool {
	for _, d := range e.Diagnostics {
		switch d.Code {
		case kgerrors.ErrorLowConfidence, kgerrors.ErrorAmbiguousAnchorSplit:
			return true
		}
	}
	return false
}

// Reorder returns a copy of e whose slot s holds the fragments with the
// given IDs, in that order. It can drop or reorder candidates but never
// add one: an ID that is not already in the slot is an error.
func (e Entry) Reorder(s Slot, ids []string) (Entry, error) {
	byID := make(map[string]Fragment, len(e.Slots[s]))
	for _, f := range e.Slots[s] {
		byID[f.ID] = f
	}

	reordered := make([]Fragment, 0, len(ids))
	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		f, ok := byID[id]
		if !ok {
			return e, fmt.Errorf("fragment %s is not a %s candidate of %s: %w", id, s, e.Kanji(), kgerrors.ErrInvalidInput)
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		reordered = append(reordered, f)
	}

	out := e
	out.Slots = e.Slots.clone()
	if len(reordered) == 0 {
		delete(out.Slots, s)
	} else {
		out.Slots[s] = reordered
	}
	return out, nil
}

// BuildEntry scores an anchor and its slots. It returns false when no
// fragment at all was bound to the anchor, in which case the anchor
// produces no entry. Unclassified-only anchors still make an entry.
func BuildEntry(a Anchor, slots SlotMap, opts Options) (Entry, bool) {
	opts = opts.withDefaults()
	if slots.empty() {
		return Entry{}, false
	}

	e := Entry{Anchor: a, Slots: slots.clone()}
	if a.Ambiguous {
		e.Diagnostics = append(e.Diagnostics, ambiguousDiagnostic(a))
	}
	e.Confidence = confidence(e, opts)
	return flagLowConfidence(e, opts), true
}

// confidence blends anchor OCR confidence, slot coverage and the mean OCR
// confidence of the bound fragments.
func confidence(e Entry, opts Options) float64 {
	var coverage float64
	if len(e.Slots[OnYomi])+len(e.Slots[KunYomi]) > 0 {
		coverage += 0.5
	}
	if len(e.Slots[Meaning]) > 0 {
		coverage += 0.5
	}

	var mean float64
	frags := e.Slots.all()
	for _, f := range frags {
		mean += clamp01(f.Confidence)
	}
	if len(frags) > 0 {
		mean /= float64(len(frags))
	}

	total := opts.AnchorWeight + opts.CoverageWeight + opts.FragmentWeight
	score := (opts.AnchorWeight*clamp01(e.Anchor.Confidence) +
		opts.CoverageWeight*coverage +
		opts.FragmentWeight*mean) / total
	return clamp01(score)
}

func flagLowConfidence(e Entry, opts Options) Entry {
	kept := e.Diagnostics[:0:0]
	for _, d := range e.Diagnostics {
		if d.Code != kgerrors.ErrorLowConfidence {
			kept = append(kept, d)
		}
	}
	if e.Confidence < opts.LowConfidence {
		kept = append(kept, Diagnostic{
			Code:     kgerrors.ErrorLowConfidence,
			AnchorID: e.Anchor.ID,
			Message:  fmt.Sprintf("confidence %.2f below %.2f", e.Confidence, opts.LowConfidence),
		})
	}
	e.Diagnostics = kept
	return e
}

// MergeEntries merges entries that share a kanji, e.g. from several OCR
// passes or several photos of the same sheet. The entry with the higher
// confidence provides the anchor; slot candidates are concatenated and
// candidates with identical normalised text in the same slot dropped.
// Output keeps the order in which each kanji first appears.
func MergeEntries(opts Options, entries ...Entry) []Entry {
	opts = opts.withDefaults()

	var order []string
	groups := make(map[string][]Entry)
	for _, e := range entries {
		k := e.Kanji()
		if _, ok := groups[k]; !ok {
			order = append(order, k)
		}
		groups[k] = append(groups[k], e)
	}

	out := make([]Entry, 0, len(order))
	for _, k := range order {
		group := groups[k]
		if len(group) == 1 {
			out = append(out, group[0])
			continue
		}
		out = append(out, mergeGroup(group, opts))
	}
	return out
}

func mergeGroup(group []Entry, opts Options) Entry {
	base := 0
	for i, e := range group {
		if e.Confidence > group[base].Confidence {
			base = i
		}
	}
	ordered := make([]Entry, 0, len(group))
	ordered = append(ordered, group[base])
	for i, e := range group {
		if i != base {
			ordered = append(ordered, e)
		}
	}

	merged := Entry{Anchor: group[base].Anchor, Slots: make(SlotMap)}
	for _, s := range allSlots {
		seen := make(map[string]struct{})
		for _, e := range ordered {
			for _, f := range e.Slots[s] {
				key := script.Normalize(f.Text)
				if _, dup := seen[key]; dup {
					continue
				}
				seen[key] = struct{}{}
				merged.Slots[s] = append(merged.Slots[s], f)
			}
		}
	}
	for _, e := range ordered {
		merged.Diagnostics = append(merged.Diagnostics, e.Diagnostics...)
	}

	merged.Confidence = confidence(merged, opts)
	return flagLowConfidence(merged, opts)
}

func clamp01(v float64) float64 {
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
