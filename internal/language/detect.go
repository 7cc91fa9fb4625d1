package language

import "strings"

// Function words rarely shared between the two languages. Scoring on
// these keeps detection stable for short answers that are mostly table
// data and numbers.
var englishMarkers = map[string]struct{}{
	"the": {}, "is": {}, "are": {}, "was": {}, "were": {}, "a": {}, "an": {},
	"of": {}, "and": {}, "or": {}, "in": {}, "on": {}, "with": {}, "for": {},
	"to": {}, "from": {}, "that": {}, "this": {}, "these": {}, "there": {},
	"it": {}, "its": {}, "has": {}, "have": {}, "not": {}, "most": {},
	"which": {}, "price": {}, "total": {}, "average": {}, "expensive": {},
}

var indonesianMarkers = map[string]struct{}{
	"yang": {}, "dan": {}, "di": {}, "ini": {}, "itu": {}, "dengan": {},
	"untuk": {}, "dari": {}, "pada": {}, "adalah": {}, "tidak": {},
	"ada": {}, "atau": {}, "ke": {}, "juga": {}, "sebagai": {}, "dalam": {},
	"tersebut": {}, "berikut": {}, "paling": {}, "harga": {}, "jumlah": {},
	"rata": {}, "mahal": {}, "termahal": {}, "semua": {}, "memiliki": {},
}

// Detect classifies text as English or Indonesian by counting marker
// words. Ties and texts with no markers default to English.
func Detect(text string) Language {
	var en, id int
	for _, word := range strings.Fields(strings.ToLower(text)) {
		word = strings.Trim(word, ".,;:!?()[]\"'`")
		if word == "" {
			continue
		}
		if _, ok := englishMarkers[word]; ok {
			en++
		}
		if _, ok := indonesianMarkers[word]; ok {
			id++
		}
	}
	if id > en {
		return Indonesian
	}
	return English
}
