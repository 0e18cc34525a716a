package anki

import "encoding/json"

// Note type of every generated card.
const (
	ModelName = "Kanji Model"

	templateName = "Recognition card"
	questionFmt  = `<h1>{{Kanji}}</h1>`
	answerFmt    = `{{FrontSide}}
<hr id="answer">
<div class="meaning">{{Meaning}}</div><br>
<div class="readings">
    <b>On:</b> {{On-yomi}}<br>
    <b>Kun:</b> {{Kun-yomi}}
</div><br>
<div class="examples">
    <i>{{Example}}</i>
</div>`

	cardCSS = `.card {
    font-family: sans-serif;
    text-align: center;
    font-size: 24px;
    color: black;
    background-color: white;
}
h1 {
    font-size: 100px;
}
#answer {
    margin: 20px 0;
}
`
)

// FieldNames are the note fields in storage order.
var FieldNames = []string{"Kanji", "Meaning", "On-yomi", "Kun-yomi", "Example"}

type modelField struct {
	Name   string        `json:"name"`
	Ord    int           `json:"ord"`
	Sticky bool          `json:"sticky"`
	RTL    bool          `json:"rtl"`
	Font   string        `json:"font"`
	Size   int           `json:"size"`
	Media  []interface{} `json:"media"`
}

type modelTemplate struct {
	Name  string `json:"name"`
	Ord   int    `json:"ord"`
	Qfmt  string `json:"qfmt"`
	Afmt  string `json:"afmt"`
	Did   *int64 `json:"did"`
	Bqfmt string `json:"bqfmt"`
	Bafmt string `json:"bafmt"`
}

type model struct {
	ID        int64           `json:"id"`
	Name      string          `json:"name"`
	Type      int             `json:"type"`
	Mod       int64           `json:"mod"`
	Usn       int             `json:"usn"`
	SortF     int             `json:"sortf"`
	Did       int64           `json:"did"`
	Tmpls     []modelTemplate `json:"tmpls"`
	Flds      []modelField    `json:"flds"`
	CSS       string          `json:"css"`
	LatexPre  string          `json:"latexPre"`
	LatexPost string          `json:"latexPost"`
	Tags      []string        `json:"tags"`
	Vers      []interface{}   `json:"vers"`
	Req       []interface{}   `json:"req"`
}

func newModel(id, deckID, mod int64) model {
	flds := make([]modelField, len(FieldNames))
	for i, name := range FieldNames {
		flds[i] = modelField{Name: name, Ord: i, Font: "Arial", Size: 20, Media: []interface{}{}}
	}
	return model{
		ID:    id,
		Name:  ModelName,
		Mod:   mod,
		Usn:   -1,
		Did:   deckID,
		Tmpls: []modelTemplate{{Name: templateName, Qfmt: questionFmt, Afmt: answerFmt}},
		Flds:  flds,
		CSS:   cardCSS,
		LatexPre: "\\documentclass[12pt]{article}\n\\special{papersize=3in,5in}\n\\usepackage[utf8]{inputenc}\n" +
			"\\usepackage{amssymb,amsmath}\n\\pagestyle{empty}\n\\setlength{\\parindent}{0in}\n\\begin{document}\n",
		LatexPost: "\\end{document}",
		Tags:      []string{},
		Vers:      []interface{}{},
		// the single template needs the Kanji field
		Req: []interface{}{[]interface{}{0, "any", []int{0}}},
	}
}

type deck struct {
	ID               int64  `json:"id"`
	Name             string `json:"name"`
	Desc             string `json:"desc"`
	Mod              int64  `json:"mod"`
	Usn              int    `json:"usn"`
	Collapsed        bool   `json:"collapsed"`
	BrowserCollapsed bool   `json:"browserCollapsed"`
	NewToday         [2]int `json:"newToday"`
	RevToday         [2]int `json:"revToday"`
	LrnToday         [2]int `json:"lrnToday"`
	TimeToday        [2]int `json:"timeToday"`
	Dyn              int    `json:"dyn"`
	ExtendNew        int    `json:"extendNew"`
	ExtendRev        int    `json:"extendRev"`
	Conf             int64  `json:"conf"`
}

func newDeck(id int64, name string, mod int64) deck {
	return deck{ID: id, Name: name, Mod: mod, Usn: -1, ExtendNew: 10, ExtendRev: 50, Conf: 1}
}

// collectionJSON renders the JSON columns of the col table.
func collectionJSON(deckID int64, deckName string, modelID int64, mod int64) (conf, models, decks, dconf string, err error) {
	enc := func(v interface{}) string {
		if err != nil {
			return ""
		}
		var b []byte
		b, err = json.Marshal(v)
		return string(b)
	}

	conf = enc(map[string]interface{}{
		"activeDecks":   []int64{1},
		"curDeck":       1,
		"newSpread":     0,
		"collapseTime":  1200,
		"timeLim":       0,
		"estTimes":      true,
		"dueCounts":     true,
		"curModel":      modelID,
		"nextPos":       1,
		"sortType":      "noteFld",
		"sortBackwards": false,
		"addToCur":      true,
	})
	models = enc(map[string]model{fmtID(modelID): newModel(modelID, deckID, mod)})
	decks = enc(map[string]deck{
		"1":            newDeck(1, "Default", mod),
		fmtID(deckID): newDeck(deckID, deckName, mod),
	})
	dconf = enc(map[string]interface{}{
		"1": map[string]interface{}{
			"id":       1,
			"name":     "Default",
			"mod":      0,
			"usn":      0,
			"maxTaken": 60,
			"autoplay": true,
			"timer":    0,
			"replayq":  true,
			"dyn":      false,
			"new": map[string]interface{}{
				"delays":        []int{1, 10},
				"ints":          []int{1, 4, 7},
				"initialFactor": 2500,
				"order":         1,
				"perDay":        20,
				"bury":          true,
				"separate":      true,
			},
			"lapse": map[string]interface{}{
				"delays":      []int{10},
				"mult":        0,
				"minInt":      1,
				"leechFails":  8,
				"leechAction": 0,
			},
			"rev": map[string]interface{}{
				"perDay":   100,
				"ease4":    1.3,
				"fuzz":     0.05,
				"minSpace": 1,
				"ivlFct":   1,
				"maxIvl":   36500,
				"bury":     true,
			},
		},
	})
	return conf, models, decks, dconf, err
}
