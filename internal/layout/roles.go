package layout

import "github.com/kangen/kangen/internal/script"

// RoleFor decides the slot of a single fragment text.
//
//	katakana only                           -> OnYomi
//	hiragana only (okurigana marks allowed) -> KunYomi
//	short latin or mixed text               -> Meaning
//	long kanji text or a full sentence      -> Example
//	anything else                           -> Unclassified
func RoleFor(text string, opts Options) Slot {
	opts = opts.withDefaults()

	switch script.Classify(text) {
	case script.KatakanaOnly:
		return OnYomi
	case script.HiraganaOnly:
		return KunYomi
	case script.LatinOrMixed:
		if script.RuneCount(text) <= opts.MeaningMaxRunes {
			return Meaning
		}
	case script.KanjiBearing:
		if script.RuneCount(text) >= opts.ExampleMinRunes || script.HasSentenceEnd(text) {
			return Example
		}
	}
	return Unclassified
}

// ResolveRoles sorts the fragments bound to one anchor into slots. Every
// fragment lands in exactly one slot; several fragments in the same slot
// are all kept, in reading order.
func ResolveRoles(frags []Fragment, opts Options) SlotMap {
	opts = opts.withDefaults()

	slots := make(SlotMap)
	for _, f := range sortFragments(frags, opts.LineTolerance) {
		s := RoleFor(f.Text, opts)
		slots[s] = append(slots[s], f)
	}
	return slots
}
