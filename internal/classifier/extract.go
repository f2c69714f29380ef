package classifier

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/shopspring/decimal"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// number accepts "1,250.50", "1250.50", "25,50" and "50". A comma followed by
// three digits groups thousands; followed by exactly two it is the decimal mark.
const number = `(\d{1,3}(?:,\d{3})+(?:\.\d{1,2})?|\d+,\d{2}\b|\d+(?:\.\d{1,2})?)`

var commaDecimal = regexp.MustCompile(`^\d+,\d{2}$`)

type amountMatcher struct {
	re       *regexp.Regexp
	numGroup int
	cueGroup int // 0 when the pattern carries no currency cue
}

// amountMatchers are tried in order and the first match wins.
var amountMatchers = []amountMatcher{
	{re: regexp.MustCompile(`(?i)(s/\.?|us\$|\$|\bpen\b|\busd\b)\s*` + number), numGroup: 2, cueGroup: 1},
	{re: regexp.MustCompile(`(?i)` + number + `\s*(soles|sol|dolares|usd|pen)\b`), numGroup: 1, cueGroup: 2},
	{re: regexp.MustCompile(number), numGroup: 1},
}

const namePattern = `((?:[A-Z][A-Za-z'.]*\s+){0,4}[A-Z][A-Za-z'.]*)`

// payerMatchers are tried in order; the first capture of acceptable length wins.
var payerMatchers = []*regexp.Regexp{
	regexp.MustCompile(namePattern + `\s+te\s+(?:envio|ha\s+enviado|yapeo|plineo|ha\s+plineado|transfirio|deposito|pago)`),
	regexp.MustCompile(`\b[Dd]e\s+` + namePattern + `(?:[\s,.;:!]|$)`),
	regexp.MustCompile(namePattern + `\s+te\b`),
}

const (
	minPayerLen = 2
	maxPayerLen = 50
)

// fold strips diacritics so "depósito" and "deposito" compare equal.
func fold(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		return s
	}
	return out
}

func containsAny(text string, keywords []string) bool {
	for _, kw := range keywords {
		if strings.Contains(text, kw) {
			return true
		}
	}
	return false
}

func countDistinct(text string, keywords []string) int {
	n := 0
	for _, kw := range keywords {
		if strings.Contains(text, kw) {
			n++
		}
	}
	return n
}

// extractAmount returns the amount and the currency implied by the cue next
// to it. A matched token that fails to parse yields no amount.
func extractAmount(text string) (*decimal.Decimal, string) {
	for _, m := range amountMatchers {
		sub := m.re.FindStringSubmatch(text)
		if sub == nil {
			continue
		}
		cue := ""
		if m.cueGroup > 0 {
			cue = sub[m.cueGroup]
		}
		d, err := decimal.NewFromString(normalizeNumber(sub[m.numGroup]))
		if err != nil {
			return nil, ""
		}
		return &d, currencyForCue(cue)
	}
	return nil, ""
}

func normalizeNumber(tok string) string {
	if commaDecimal.MatchString(tok) {
		return strings.Replace(tok, ",", ".", 1)
	}
	return strings.ReplaceAll(tok, ",", "")
}

func currencyForCue(cue string) string {
	switch strings.ToLower(strings.TrimSpace(cue)) {
	case "s/", "s/.", "soles", "sol", "pen":
		return "PEN"
	case "us$", "$", "dolares", "usd":
		return "USD"
	}
	return ""
}

func currencyFromText(lower string) string {
	if containsAny(lower, usdCues) {
		return "USD"
	}
	if containsAny(lower, penCues) {
		return "PEN"
	}
	return ""
}

func extractPayer(text string) *string {
	for _, re := range payerMatchers {
		for _, sub := range re.FindAllStringSubmatch(text, -1) {
			name := strings.Join(dropAppWords(strings.Fields(strings.Trim(sub[1], " ."))), " ")
			if n := utf8.RuneCountInString(name); n >= minPayerLen && n <= maxPayerLen {
				return &name
			}
		}
	}
	return nil
}

// dropAppWords strips leading source-app names such as the "Yape" in
// "Yape JOHN DOE te envio", which the capitalized-word pattern would
// otherwise take as part of the payer.
func dropAppWords(words []string) []string {
	for len(words) > 0 {
		if _, ok := appWords[strings.ToLower(words[0])]; !ok {
			break
		}
		words = words[1:]
	}
	return words
}
