/**
 * Sheet Analyzer
 *
 * Runs the anchoring pipeline over the fragments of one image:
 * - malformed fragments and repeated IDs are orphaned with a diagnostic
 * - anchors are detected and the rest bound to them by proximity
 * - duplicate anchors are collapsed, roles resolved, entries built
 */

package layout

import (
	"fmt"
	"math"

	kgerrors "github.com/kangen/kangen/internal/errors"
)

// ErrNoFragments is returned when Analyze receives no fragment list at all.
var ErrNoFragments = fmt.Errorf("no fragment list: %w", kgerrors.ErrInvalidInput)

// Result is the outcome of analysing one sheet.
type Result struct {
	Entries     []Entry      `json:"entries"`
	Orphans     []Orphan     `json:"orphans"`
	Anchors     []Anchor     `json:"anchors"`
	Assignments []Assignment `json:"assignments"`
	// Diagnostics holds sheet-level findings such as NO_ANCHORS_FOUND.
	Diagnostics []Diagnostic `json:"diagnostics,omitempty"`
}

// AllDiagnostics gathers sheet, entry and orphan diagnostics.
func (r *Result) AllDiagnostics() []Diagnostic {
	out := append([]Diagnostic(nil), r.Diagnostics...)
	for _, e := range r.Entries {
		out = append(out, e.Diagnostics...)
	}
	for _, o := range r.Orphans {
		out = append(out, o.Diagnostics...)
	}
	return out
}

// MeanConfidence is the average entry confidence, zero without entries.
func (r *Result) MeanConfidence() float64 {
	if len(r.Entries) == 0 {
		return 0
	}
	var sum float64
	for _, e := range r.Entries {
		sum += e.Confidence
	}
	return sum / float64(len(r.Entries))
}

// Analyzer runs the anchoring pipeline with fixed options.
type Analyzer struct {
	opts Options
}

// NewAnalyzer creates an analyzer; zero option fields take defaults.
func NewAnalyzer(opts Options) *Analyzer {
	return &Analyzer{opts: opts.withDefaults()}
}

// Options returns the effective options.
func (a *Analyzer) Options() Options { return a.opts }

// Analyze turns the fragments of one sheet into entries. Only a missing
// fragment list is an error; an empty list, a sheet without kanji, broken
// boxes and repeated fragment IDs all produce a (possibly empty) Result
// with diagnostics. When IDs repeat, the first fragment keeps the ID and
// later ones are orphaned. Analyze does not modify frags and returns the
// same Result for the same input.
func (a *Analyzer) Analyze(frags []Fragment) (*Result, error) {
	if frags == nil {
		return nil, ErrNoFragments
	}

	res := &Result{}

	byID := make(map[string]Fragment, len(frags))
	valid := make([]Fragment, 0, len(frags))
	for _, f := range frags {
		reason := malformed(f)
		if _, dup := byID[f.ID]; reason == "" && dup {
			reason = fmt.Sprintf("fragment id %q already used", f.ID)
		}
		if reason != "" {
			res.Orphans = append(res.Orphans, Orphan{
				Fragment: f,
				Reason:   OrphanMalformed,
				Diagnostics: []Diagnostic{{
					Code:       kgerrors.ErrorMalformedFragment,
					FragmentID: f.ID,
					Message:    reason,
				}},
			})
			continue
		}
		byID[f.ID] = f
		valid = append(valid, f)
	}

	set := DetectAnchors(valid, a.opts)
	if len(set.Anchors) == 0 {
		res.Diagnostics = append(res.Diagnostics, Diagnostic{
			Code:    kgerrors.ErrorNoAnchorsFound,
			Message: fmt.Sprintf("no kanji among %d fragments", len(frags)),
		})
	}

	assignments, orphans := Assign(set.Anchors, set.Pool, a.opts)
	res.Orphans = append(res.Orphans, orphans...)

	anchors, assignments, dupOrphans, dupDiags := dedupAnchors(set.Anchors, assignments, byID, a.opts)
	res.Orphans = append(res.Orphans, dupOrphans...)
	res.Anchors = anchors
	res.Assignments = assignments

	bound := make(map[string][]Fragment, len(anchors))
	for _, as := range assignments {
		bound[as.AnchorID] = append(bound[as.AnchorID], byID[as.FragmentID])
	}

	for _, anchor := range anchors {
		slots := ResolveRoles(bound[anchor.ID], a.opts)
		entry, ok := BuildEntry(anchor, slots, a.opts)
		if !ok {
			if anchor.Ambiguous {
				res.Diagnostics = append(res.Diagnostics, ambiguousDiagnostic(anchor))
			}
			continue
		}
		if d := dupDiags[anchor.ID]; len(d) > 0 {
			entry.Diagnostics = append(append([]Diagnostic(nil), d...), entry.Diagnostics...)
		}
		res.Entries = append(res.Entries, entry)
	}

	return res, nil
}

// malformed returns why a fragment cannot be placed, or "" when it can.
func malformed(f Fragment) string {
	if f.ID == "" {
		return "fragment has no id"
	}
	if f.Box.Degenerate() {
		return "bounding box is degenerate"
	}
	if math.IsNaN(f.Confidence) {
		return "confidence is NaN"
	}
	return ""
}
