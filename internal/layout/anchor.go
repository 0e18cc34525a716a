package layout

import (
	"fmt"

	kgerrors "github.com/kangen/kangen/internal/errors"
	"github.com/kangen/kangen/internal/script"
)

// AnchorSet is the output of anchor detection.
type AnchorSet struct {
	// Anchors in sheet reading order, Order set accordingly.
	Anchors []Anchor
	// Pool holds the fragments left for assignment, in input order.
	Pool []Fragment
	// Consumed lists fragments used up entirely as anchors.
	Consumed []Fragment
}

// DetectAnchors finds every kanji on the sheet.
//
// Each kanji-bearing fragment yields one anchor per distinct kanji. A
// fragment with N > 1 kanji has its box cut into N equal parts along its
// longer axis; when the parts would be thinner than MinSplitExtent every
// anchor keeps the whole box and is marked Ambiguous. Fragments made only
// of kanji are consumed; fragments that mix kanji with other text stay in
// the pool so they can still be assigned as readings or examples.
func DetectAnchors(frags []Fragment, opts Options) AnchorSet {
	opts = opts.withDefaults()

	var set AnchorSet
	var anchors []Anchor

	for _, f := range frags {
		if script.Classify(f.Text) != script.KanjiBearing {
			set.Pool = append(set.Pool, f)
			continue
		}

		kanji := script.KanjiRunes(f.Text)
		if len(kanji) == 0 {
			set.Pool = append(set.Pool, f)
			continue
		}

		boxes, ambiguous := anchorBoxes(f.Box, len(kanji), opts.MinSplitExtent)
		for i, k := range kanji {
			anchors = append(anchors, Anchor{
				ID:         fmt.Sprintf("%s#%d", f.ID, i),
				FragmentID: f.ID,
				Kanji:      string(k),
				Box:        boxes[i],
				Center:     boxes[i].Center(),
				Confidence: f.Confidence,
				Split:      len(kanji) > 1 && !ambiguous,
				Ambiguous:  ambiguous,
			})
		}

		if script.IsKanjiOnly(f.Text) {
			set.Consumed = append(set.Consumed, f)
		} else {
			set.Pool = append(set.Pool, f)
		}
	}

	for pos, i := range readingOrder(anchors, opts.LineTolerance) {
		a := anchors[i]
		a.Order = pos
		set.Anchors = append(set.Anchors, a)
	}
	return set
}

// anchorBoxes returns n boxes for n kanji and whether the split fell back
// to the full box.
func anchorBoxes(box Quad, n int, minExtent float64) ([]Quad, bool) {
	if n == 1 {
		return []Quad{box}, false
	}
	if box.Size()/float64(n) < minExtent {
		full := make([]Quad, n)
		for i := range full {
			full[i] = box
		}
		return full, true
	}
	return box.split(n), false
}

// ambiguousDiagnostic describes an anchor whose box could not be split.
func ambiguousDiagnostic(a Anchor) Diagnostic {
	return Diagnostic{
		Code:       kgerrors.ErrorAmbiguousAnchorSplit,
		FragmentID: a.FragmentID,
		AnchorID:   a.ID,
		Message:    "fragment box too small to split per kanji; using full box",
	}
}
