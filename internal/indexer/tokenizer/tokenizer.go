// Package tokenizer turns concept strings into index terms. Text fields are
// lower-cased, split on non-alphanumeric boundaries, stripped of stop-words
// and stemmed; ngram fields are cut into padded character n-grams.
package tokenizer

import (
	"fmt"
	"strings"
	"unicode"
)

// Analyzer names accepted in the index schema.
const (
	AnalyzerText   = "text"
	AnalyzerNgrams = "ngrams"
)

// DefaultNgramSize is used when an ngram field does not configure a size.
const DefaultNgramSize = 3

const ngramPad = "$"

var stopWords = wordSet(`
	a an and are as at be but by can do each for from had has have he if in
	is it its no not of on or so that the their they this to was were what
	when where which who will with`)

// suffixRules are tried in order; the first matching suffix whose
// replacement leaves at least keep bytes wins.
var suffixRules = []struct {
	suffix, repl string
	keep         int
}{
	{"ational", "ate", 2}, {"tional", "tion", 2}, {"encies", "ence", 2},
	{"ances", "ance", 2}, {"ments", "ment", 2}, {"izing", "ize", 2},
	{"ating", "ate", 2}, {"iness", "y", 2}, {"ously", "ous", 2},
	{"ively", "ive", 2}, {"eness", "ene", 2},
	{"tion", "t", 3}, {"sion", "s", 3}, {"ying", "y", 2}, {"ling", "l", 3},
	{"ies", "y", 2}, {"ing", "", 3}, {"ers", "er", 2}, {"est", "", 3},
	{"ful", "", 3}, {"ous", "", 3}, {"ess", "", 3}, {"ble", "", 3},
	{"ed", "", 3}, {"er", "", 3}, {"ly", "", 3}, {"es", "", 3},
	{"ss", "ss", 2}, {"s", "", 3},
}

// Token is a single index term and its position in the analyzed text.
type Token struct {
	Term     string
	Position int
}

// Analyze runs the named analyzer over text.
func Analyze(analyzer string, ngramSize int, text string) ([]Token, error) {
	switch analyzer {
	case AnalyzerText:
		return Tokenize(text), nil
	case AnalyzerNgrams:
		return Ngrams(text, ngramSize), nil
	}
	return nil, fmt.Errorf("unknown analyzer %q", analyzer)
}

// Tokenize returns the stemmed words of text. Single characters and
// stop-words are dropped without consuming a position.
func Tokenize(text string) []Token {
	var tokens []Token
	for _, w := range words(text) {
		if len(w) < 2 || stopWords[w] {
			continue
		}
		if term := stem(w); term != "" {
			tokens = append(tokens, Token{Term: term, Position: len(tokens)})
		}
	}
	return tokens
}

// Ngrams returns the character n-grams of the normalized string. Words are
// lower-cased, joined by single spaces and padded with '$' on both ends, so
// "Heart attack" yields "$he", "hea", ... "ck$". Strings shorter than n after
// padding produce one gram of the whole padded string.
func Ngrams(text string, n int) []Token {
	if n < 1 {
		n = DefaultNgramSize
	}
	ws := words(text)
	if len(ws) == 0 {
		return nil
	}
	runes := []rune(ngramPad + strings.Join(ws, " ") + ngramPad)
	if len(runes) <= n {
		return []Token{{Term: string(runes)}}
	}
	grams := make([]Token, len(runes)-n+1)
	for i := range grams {
		grams[i] = Token{Term: string(runes[i : i+n]), Position: i}
	}
	return grams
}

// words lower-cases text and splits it on anything that is not a letter or
// digit.
func words(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

func stem(w string) string {
	for _, r := range suffixRules {
		base, ok := strings.CutSuffix(w, r.suffix)
		if ok && len(base)+len(r.repl) >= r.keep {
			return base + r.repl
		}
	}
	return w
}

func wordSet(list string) map[string]bool {
	set := make(map[string]bool)
	for _, w := range strings.Fields(list) {
		set[w] = true
	}
	return set
}
