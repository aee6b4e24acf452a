package language

import (
	"strings"

	"golang.org/x/text/cases"
	xlang "golang.org/x/text/language"
)

type entry struct {
	code2   string // ISO 639-1 (2-letter)
	code3   string // ISO 639-2 primary (3-letter)
	alt3    string // ISO 639-2 alternate (e.g. "fre" vs "fra")
	display string
	words   []string // Full word forms (e.g. "english")
}

var languages = []entry{
	{"en", "eng", "", "english", []string{"english"}},
	{"es", "spa", "", "spanish", []string{"spanish"}},
	{"fr", "fra", "fre", "french", []string{"french"}},
	{"de", "deu", "ger", "german", []string{"german"}},
	{"it", "ita", "", "italian", []string{"italian"}},
	{"pt", "por", "", "portuguese", []string{"portuguese"}},
	{"ja", "jpn", "", "japanese", []string{"japanese"}},
	{"ko", "kor", "", "korean", []string{"korean"}},
	{"zh", "zho", "chi", "chinese", []string{"chinese", "mandarin"}},
	{"ru", "rus", "", "russian", []string{"russian"}},
	{"ar", "ara", "", "arabic", []string{"arabic"}},
	{"hi", "hin", "", "hindi", []string{"hindi"}},
	{"nl", "nld", "dut", "dutch", []string{"dutch"}},
	{"pl", "pol", "", "polish", []string{"polish"}},
	{"tr", "tur", "", "turkish", []string{"turkish"}},
	{"sv", "swe", "", "swedish", []string{"swedish"}},
	{"da", "dan", "", "danish", []string{"danish"}},
	{"no", "nor", "", "norwegian", []string{"norwegian"}},
	{"fi", "fin", "", "finnish", []string{"finnish"}},
	{"vi", "vie", "", "vietnamese", []string{"vietnamese"}},
	{"th", "tha", "", "thai", []string{"thai"}},
	{"uk", "ukr", "", "ukrainian", []string{"ukrainian"}},
	{"cs", "ces", "cze", "czech", []string{"czech"}},
	{"el", "ell", "gre", "greek", []string{"greek"}},
	{"he", "heb", "", "hebrew", []string{"hebrew"}},
	{"id", "ind", "", "indonesian", []string{"indonesian"}},
}

var (
	byCode2 map[string]*entry
	byCode3 map[string]*entry
	byWord  map[string]*entry
)

var displayCaser = cases.Title(xlang.English)

func init() {
	byCode2 = make(map[string]*entry, len(languages))
	byCode3 = make(map[string]*entry, len(languages)*2)
	byWord = make(map[string]*entry, len(languages))
	for i := range languages {
		e := &languages[i]
		byCode2[e.code2] = e
		byCode3[e.code3] = e
		if e.alt3 != "" {
			byCode3[e.alt3] = e
		}
		for _, w := range e.words {
			byWord[w] = e
		}
	}
}

func lookup(value string) *entry {
	value = strings.ToLower(strings.TrimSpace(value))
	if value == "" {
		return nil
	}
	if e, ok := byCode2[value]; ok {
		return e
	}
	if e, ok := byCode3[value]; ok {
		return e
	}
	if e, ok := byWord[value]; ok {
		return e
	}
	return nil
}

// Normalize converts a language identifier (2-letter code, 3-letter code, or
// full word) into its canonical ISO 639-1 form.
func Normalize(value string) (string, bool) {
	e := lookup(value)
	if e == nil {
		return "", false
	}
	return e.code2, true
}

// Display returns the human-readable name for a language identifier, or the
// input unchanged when the language is unknown.
func Display(value string) string {
	e := lookup(value)
	if e == nil {
		return strings.TrimSpace(value)
	}
	return displayCaser.String(e.display)
}

// NormalizeAll normalizes a list of identifiers, dropping duplicates while
// preserving order. The second return lists the identifiers it rejected.
func NormalizeAll(values []string) ([]string, []string) {
	var normalized []string
	var unknown []string
	seen := make(map[string]struct{}, len(values))
	for _, value := range values {
		code, ok := Normalize(value)
		if !ok {
			unknown = append(unknown, strings.TrimSpace(value))
			continue
		}
		if _, dup := seen[code]; dup {
			continue
		}
		seen[code] = struct{}{}
		normalized = append(normalized, code)
	}
	return normalized, unknown
}
