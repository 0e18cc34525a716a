package layout

import (
	"fmt"

	kgerrors "github.com/kangen/kangen/internal/errors"
)

// Assign binds every pool fragment to its nearest anchor.
//
// Distance is measured between box centers with the vertical offset
// multiplied by VerticalPenalty. A fragment farther than an anchor's
// cutoff cannot bind to it; a fragment beyond every cutoff is orphaned.
// Distances within TieEpsilon of each other go to the anchor earlier in
// reading order. anchors must already be in reading order.
func Assign(anchors []Anchor, pool []Fragment, opts Options) ([]Assignment, []Orphan) {
	opts = opts.withDefaults()

	var (
		assignments []Assignment
		orphans     []Orphan
	)

	for _, f := range pool {
		if len(anchors) == 0 {
			orphans = append(orphans, Orphan{Fragment: f, Reason: OrphanNoAnchors})
			continue
		}

		c := f.Box.Center()
		best := -1
		var bestDist float64
		for i, a := range anchors {
			d := weightedDistance(c, a.Center, opts.VerticalPenalty)
			if d > a.cutoff(opts) {
				continue
			}
			if best < 0 || d < bestDist-opts.TieEpsilon {
				best, bestDist = i, d
			}
		}

		if best < 0 {
			orphans = append(orphans, Orphan{Fragment: f, Reason: OrphanBeyondCutoff})
			continue
		}
		assignments = append(assignments, Assignment{
			FragmentID: f.ID,
			AnchorID:   anchors[best].ID,
			Distance:   bestDist,
		})
	}
	return assignments, orphans
}

// dedupAnchors collapses anchors that share a kanji. The survivor is the
// anchor whose assigned fragments have the larger summed OCR confidence,
// earlier reading order breaking ties. A loser's fragments move to the
// survivor when inside its cutoff and are orphaned otherwise.
func dedupAnchors(
	anchors []Anchor,
	assignments []Assignment,
	frags map[string]Fragment,
	opts Options,
) ([]Anchor, []Assignment, []Orphan, map[string][]Diagnostic) {
	aggregate := make(map[string]float64, len(anchors))
	for _, as := range assignments {
		aggregate[as.AnchorID] += frags[as.FragmentID].Confidence
	}

	survivorOf := make(map[string]Anchor)
	bestByKanji := make(map[string]Anchor)
	for _, a := range anchors {
		cur, ok := bestByKanji[a.Kanji]
		if !ok || aggregate[a.ID] > aggregate[cur.ID] {
			bestByKanji[a.Kanji] = a
		}
	}
	for _, a := range anchors {
		if s := bestByKanji[a.Kanji]; s.ID != a.ID {
			survivorOf[a.ID] = s
		}
	}
	if len(survivorOf) == 0 {
		return anchors, assignments, nil, nil
	}

	var (
		kept     []Anchor
		moved    []Assignment
		orphans  []Orphan
		diagsFor = make(map[string][]Diagnostic)
	)
	for _, a := range anchors {
		if s, lost := survivorOf[a.ID]; lost {
			diagsFor[s.ID] = append(diagsFor[s.ID], Diagnostic{
				Code:       kgerrors.ErrorDuplicateAnchor,
				FragmentID: a.FragmentID,
				AnchorID:   a.ID,
				Message:    fmt.Sprintf("duplicate of %s merged into %s", a.Kanji, s.ID),
			})
			continue
		}
		kept = append(kept, a)
	}

	for _, as := range assignments {
		s, lost := survivorOf[as.AnchorID]
		if !lost {
			moved = append(moved, as)
			continue
		}
		f := frags[as.FragmentID]
		d := weightedDistance(f.Box.Center(), s.Center, opts.VerticalPenalty)
		if d <= s.cutoff(opts) {
			moved = append(moved, Assignment{FragmentID: f.ID, AnchorID: s.ID, Distance: d})
			continue
		}
		orphans = append(orphans, Orphan{
			Fragment: f,
			Reason:   OrphanDuplicateAnchor,
			Diagnostics: []Diagnostic{{
				Code:       kgerrors.ErrorDuplicateAnchor,
				FragmentID: f.ID,
				AnchorID:   as.AnchorID,
				Message:    fmt.Sprintf("outside the cutoff of surviving anchor %s", s.ID),
			}},
		})
	}
	return kept, moved, orphans, diagsFor
}
