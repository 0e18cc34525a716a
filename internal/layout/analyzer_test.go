package layout

import (
	"errors"
	"fmt"
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	kgerrors "github.com/kangen/kangen/internal/errors"
	"github.com/kangen/kangen/internal/script"
)

// frag builds a fragment from its center and size.
func frag(id, text string, cx, cy, w, h, conf float64) Fragment {
	return Fragment{ID: id, Text: text, Box: RectQuad(cx-w/2, cy-h/2, w, h), Confidence: conf}
}

func analyze(t *testing.T, frags []Fragment) *Result {
	t.Helper()
	res, err := NewAnalyzer(DefaultOptions()).Analyze(frags)
	require.NoError(t, err)
	return res
}

func entryFor(t *testing.T, res *Result, kanji string) Entry {
	t.Helper()
	for _, e := range res.Entries {
		if e.Kanji() == kanji {
			return e
		}
	}
	t.Fatalf("no entry for %s", kanji)
	return Entry{}
}

func TestAnalyze_ReadingsAndMeaningAroundAnchor(t *testing.T) {
	res := analyze(t, []Fragment{
		frag("k", "住", 100, 100, 40, 40, 0.9),
		frag("on", "ジュウ", 100, 130, 60, 20, 0.9),
		frag("kun", "す(む)", 100, 160, 60, 20, 0.9),
		frag("en", "to live; to reside", 250, 100, 140, 20, 0.9),
	})

	require.Len(t, res.Entries, 1)
	e := res.Entries[0]
	assert.Equal(t, "住", e.Kanji())
	assert.Equal(t, []string{"ジュウ"}, e.Texts(OnYomi))
	assert.Equal(t, []string{"す(む)"}, e.Texts(KunYomi))
	assert.Equal(t, []string{"to live; to reside"}, e.Texts(Meaning))
	assert.Empty(t, e.Texts(Example))
	assert.InDelta(t, 0.94, e.Confidence, 1e-9)
	assert.False(t, e.Flagged())
	assert.Empty(t, res.Orphans)
}

func TestAnalyze_LoneAnchorIsDropped(t *testing.T) {
	res := analyze(t, []Fragment{
		frag("k", "住", 100, 100, 40, 40, 0.9),
		frag("far", "ジュウ", 100, 500, 60, 20, 0.9),
	})

	assert.Empty(t, res.Entries)
	require.Len(t, res.Orphans, 1)
	assert.Equal(t, "far", res.Orphans[0].Fragment.ID)
	assert.Equal(t, OrphanBeyondCutoff, res.Orphans[0].Reason)
}

func TestAnalyze_EquidistantFragmentGoesToEarlierAnchor(t *testing.T) {
	res := analyze(t, []Fragment{
		frag("k2", "所", 300, 100, 40, 40, 0.9),
		frag("k1", "住", 100, 100, 40, 40, 0.9),
		frag("mid", "ショ", 200, 100, 40, 20, 0.9),
	})

	require.Len(t, res.Assignments, 1)
	assert.Equal(t, "k1#0", res.Assignments[0].AnchorID)

	require.Len(t, res.Entries, 1)
	assert.Equal(t, "住", res.Entries[0].Kanji())
	assert.Equal(t, []string{"ショ"}, res.Entries[0].Texts(OnYomi))
}

func TestAnalyze_SeveralReadingsKeptInReadingOrder(t *testing.T) {
	res := analyze(t, []Fragment{
		frag("k", "住", 100, 100, 40, 40, 0.9),
		frag("chu", "チュウ", 150, 140, 40, 20, 0.8),
		frag("ju", "ジュウ", 90, 140, 40, 20, 0.8),
	})

	e := entryFor(t, res, "住")
	assert.Equal(t, []string{"ジュウ", "チュウ"}, e.Texts(OnYomi))
}

func TestAnalyze_MixedFragmentStaysAssignable(t *testing.T) {
	res := analyze(t, []Fragment{
		frag("k", "住", 100, 100, 40, 40, 0.9),
		frag("en", "to live", 230, 100, 120, 20, 0.9),
		frag("ex", "住所に住む。", 120, 155, 120, 30, 0.8),
	})

	require.Len(t, res.Entries, 1)
	e := res.Entries[0]
	assert.Equal(t, "k#0", e.Anchor.ID, "anchor with stronger support survives")
	assert.Equal(t, []string{"to live"}, e.Texts(Meaning))
	assert.Equal(t, []string{"住所に住む。"}, e.Texts(Example))

	var codes []kgerrors.ErrorCode
	for _, d := range e.Diagnostics {
		codes = append(codes, d.Code)
	}
	assert.Contains(t, codes, kgerrors.ErrorDuplicateAnchor)
	assert.False(t, e.Flagged())
}

func TestAnalyze_NoKanji(t *testing.T) {
	res := analyze(t, []Fragment{
		frag("a", "ジュウ", 10, 10, 40, 20, 0.9),
		frag("b", "to live", 100, 10, 60, 20, 0.9),
	})

	assert.Empty(t, res.Entries)
	require.Len(t, res.Diagnostics, 1)
	assert.Equal(t, kgerrors.ErrorNoAnchorsFound, res.Diagnostics[0].Code)
	for _, o := range res.Orphans {
		assert.Equal(t, OrphanNoAnchors, o.Reason)
	}
	assert.Len(t, res.Orphans, 2)
}

func TestAnalyze_EmptyAndNilInput(t *testing.T) {
	res := analyze(t, []Fragment{})
	assert.Empty(t, res.Entries)
	assert.Equal(t, kgerrors.ErrorNoAnchorsFound, res.Diagnostics[0].Code)

	_, err := NewAnalyzer(Options{}).Analyze(nil)
	require.ErrorIs(t, err, ErrNoFragments)
	assert.True(t, errors.Is(err, kgerrors.ErrInvalidInput))
}

func TestAnalyze_RepeatedIDOrphansLaterFragment(t *testing.T) {
	res := analyze(t, []Fragment{
		frag("k", "住", 100, 100, 40, 40, 0.9),
		frag("x", "ジュウ", 100, 130, 60, 20, 0.9),
		frag("x", "to live", 250, 100, 140, 20, 0.9),
	})

	require.Len(t, res.Entries, 1)
	e := res.Entries[0]
	assert.Equal(t, "住", e.Kanji())
	assert.Equal(t, []string{"ジュウ"}, e.Texts(OnYomi))
	assert.Empty(t, e.Texts(Meaning))

	require.Len(t, res.Orphans, 1)
	o := res.Orphans[0]
	assert.Equal(t, "to live", o.Fragment.Text)
	assert.Equal(t, OrphanMalformed, o.Reason)
	require.Len(t, o.Diagnostics, 1)
	assert.Equal(t, kgerrors.ErrorMalformedFragment, o.Diagnostics[0].Code)
	assert.Equal(t, "x", o.Diagnostics[0].FragmentID)
}

func TestAnalyze_MalformedFragmentsSkipped(t *testing.T) {
	nan := frag("nan", "ジュウ", 100, 130, 60, 20, 0.9)
	nan.Box[2].X = math.NaN()

	res := analyze(t, []Fragment{
		frag("k", "住", 100, 100, 40, 40, 0.9),
		frag("en", "to live", 200, 100, 80, 20, 0.9),
		nan,
		{ID: "point", Text: "すむ", Box: RectQuad(100, 150, 0, 0), Confidence: 0.9},
	})

	require.Len(t, res.Entries, 1)
	assert.Equal(t, []string{"to live"}, res.Entries[0].Texts(Meaning))

	malformedIDs := map[string]bool{}
	for _, o := range res.Orphans {
		if o.Reason == OrphanMalformed {
			malformedIDs[o.Fragment.ID] = true
			require.Len(t, o.Diagnostics, 1)
			assert.Equal(t, kgerrors.ErrorMalformedFragment, o.Diagnostics[0].Code)
		}
	}
	assert.Equal(t, map[string]bool{"nan": true, "point": true}, malformedIDs)
}

func TestAnalyze_LineShapedBoxIsPlaceable(t *testing.T) {
	res := analyze(t, []Fragment{
		frag("k", "住", 100, 100, 40, 40, 0.9),
		{ID: "on", Text: "ジュウ", Box: RectQuad(100, 120, 0, 20), Confidence: 0.9},
	})

	assert.Empty(t, res.Orphans)
	require.Len(t, res.Entries, 1)
	assert.Equal(t, []string{"ジュウ"}, res.Entries[0].Texts(OnYomi))
}

func TestAnalyze_AmbiguousSplitFallsBackToFullBox(t *testing.T) {
	res := analyze(t, []Fragment{
		{ID: "tiny", Text: "住所", Box: RectQuad(0, 0, 1, 0.5), Confidence: 0.9},
		{ID: "on", Text: "ジュウ", Box: RectQuad(0, 1, 1, 0.5), Confidence: 0.9},
	})

	require.Len(t, res.Entries, 1)
	e := res.Entries[0]
	assert.Equal(t, "住", e.Kanji())
	assert.True(t, e.Anchor.Ambiguous)
	assert.Equal(t, RectQuad(0, 0, 1, 0.5), e.Anchor.Box)
	assert.True(t, e.Flagged())
}

func TestAnalyze_LowConfidenceIsFlaggedNotDropped(t *testing.T) {
	res := analyze(t, []Fragment{
		frag("k", "住", 100, 100, 40, 40, 0.2),
		frag("ex", "住所です", 100, 140, 80, 20, 0.2),
	})

	require.Len(t, res.Entries, 1)
	e := res.Entries[0]
	assert.Less(t, e.Confidence, 0.5)
	assert.True(t, e.Flagged())
}

func TestAnalyze_Idempotent(t *testing.T) {
	frags := randomSheet(rand.New(rand.NewSource(7)), 60)
	a := NewAnalyzer(DefaultOptions())

	first, err := a.Analyze(frags)
	require.NoError(t, err)
	second, err := a.Analyze(frags)
	require.NoError(t, err)

	assert.Equal(t, first, second)
}

func TestAnalyze_EveryFragmentAccountedFor(t *testing.T) {
	for seed := int64(1); seed <= 25; seed++ {
		t.Run(fmt.Sprintf("seed-%d", seed), func(t *testing.T) {
			frags := randomSheet(rand.New(rand.NewSource(seed)), 40)
			res := analyze(t, frags)

			seen := map[string]int{}
			for _, e := range res.Entries {
				for _, f := range e.Fragments() {
					seen[f.ID]++
				}
			}
			for _, o := range res.Orphans {
				seen[o.Fragment.ID]++
			}

			for _, f := range frags {
				consumed := malformed(f) == "" && script.IsKanjiOnly(f.Text)
				if consumed {
					assert.Zero(t, seen[f.ID], "anchor-only fragment %s reused", f.ID)
					continue
				}
				assert.Equal(t, 1, seen[f.ID], "fragment %s (%q)", f.ID, f.Text)
			}

			kanji := map[string]bool{}
			for _, e := range res.Entries {
				assert.False(t, kanji[e.Kanji()], "kanji %s has two entries", e.Kanji())
				kanji[e.Kanji()] = true
			}
		})
	}
}

func randomSheet(r *rand.Rand, n int) []Fragment {
	texts := []string{"住", "所", "住所", "ジュウ", "すむ", "す(む)", "to live", "住所に住む。", "。", "123", "住む", "ショ"}
	frags := make([]Fragment, 0, n)
	for i := 0; i < n; i++ {
		w := 10 + r.Float64()*80
		h := 10 + r.Float64()*30
		if r.Intn(15) == 0 {
			w, h = 0, 0
		}
		frags = append(frags, Fragment{
			ID:         fmt.Sprintf("f%d", i),
			Text:       texts[r.Intn(len(texts))],
			Box:        RectQuad(r.Float64()*800, r.Float64()*1000, w, h),
			Confidence: r.Float64(),
		})
	}
	return frags
}
