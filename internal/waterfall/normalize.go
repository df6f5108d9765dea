package waterfall

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// nationalPrefix is the Brazilian country code dialed before DDD + number.
const nationalPrefix = "55"

// NormalizePhone strips non-digits and drops the leading "55" country prefix,
// but only when the digit string is long enough (>= 12) to actually carry it.
// An 11-digit mobile starting with 55 (DDD 55, Rio Grande do Sul) is left alone.
func NormalizePhone(raw string) string {
	var b strings.Builder
	b.Grow(len(raw))
	for _, r := range raw {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	digits := b.String()
	if len(digits) >= 12 && strings.HasPrefix(digits, nationalPrefix) {
		digits = digits[len(nationalPrefix):]
	}
	return digits
}

var deaccent = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// foldName lowercases a name and strips diacritics so "José" and "jose"
// compare equal.
func foldName(s string) string {
	out, _, err := transform.String(deaccent, s)
	if err != nil {
		out = s
	}
	return strings.ToLower(out)
}

// nameParticles are connective words common in Brazilian names that carry no
// identity signal and are dropped before comparison.
var nameParticles = map[string]bool{
	"de": true, "da": true, "do": true, "das": true, "dos": true, "e": true,
}

// NameTokens splits a name into folded, particle-free tokens.
func NameTokens(name string) []string {
	fields := strings.FieldsFunc(foldName(name), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
	tokens := make([]string, 0, len(fields))
	for _, f := range fields {
		if nameParticles[f] {
			continue
		}
		tokens = append(tokens, f)
	}
	return tokens
}

// NameMatchScore computes the token-overlap score between two names: shared
// tokens divided by the larger token count. Returns 0 when either side has
// no usable tokens.
func NameMatchScore(a, b string) float64 {
	at := NameTokens(a)
	bt := NameTokens(b)
	if len(at) == 0 || len(bt) == 0 {
		return 0
	}

	set := make(map[string]bool, len(at))
	for _, t := range at {
		set[t] = true
	}
	shared := 0
	for _, t := range bt {
		if set[t] {
			shared++
			set[t] = false // count each token once
		}
	}

	larger := len(at)
	if len(bt) > larger {
		larger = len(bt)
	}
	return float64(shared) / float64(larger)
}
