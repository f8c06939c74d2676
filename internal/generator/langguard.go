// Copyright 2025 James Ross
package generator

import "strings"

var turkishChars = []rune{'ç', 'ğ', 'ı', 'ö', 'ş', 'ü'}

var commonEnglishTokens = []string{
	"the", "and", "is", "are", "for", "with", "this", "that", "your", "our",
}

var commonTurkishTokens = []string{
	"ve", "bir", "için", "ile", "bu", "de", "da", "çok", "gibi", "olan",
}

// isLanguageMismatch applies the heuristic in spec §4.6: conservative by
// default, only flagging the two concrete cases the spec names.
func isLanguageMismatch(lang string, texts []string) bool {
	combined := strings.ToLower(strings.Join(texts, " "))

	switch lang {
	case "tr":
		if containsAny(combined, turkishChars) {
			return false
		}
		englishHits := countTokenHits(combined, commonEnglishTokens)
		turkishHits := countTokenHits(combined, commonTurkishTokens)
		return englishHits >= 3 && turkishHits == 0
	case "en":
		return containsAny(combined, turkishChars)
	default:
		return false
	}
}

func containsAny(s string, runes []rune) bool {
	for _, r := range runes {
		if strings.ContainsRune(s, r) {
			return true
		}
	}
	return false
}

func countTokenHits(s string, tokens []string) int {
	words := strings.Fields(s)
	set := make(map[string]struct{}, len(tokens))
	for _, t := range tokens {
		set[t] = struct{}{}
	}
	hits := 0
	for _, w := range words {
		w = strings.Trim(w, ".,!?;:\"'()")
		if _, ok := set[w]; ok {
			hits++
		}
	}
	return hits
}

// truncate hard-truncates s to max characters (by rune count, not byte
// count, so multi-byte languages aren't cut mid-character).
func truncate(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max])
}
