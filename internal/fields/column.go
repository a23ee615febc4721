package fields

import (
	"strings"

	"golang.org/x/text/width"

	"github.com/nconklindev/draftmerge/internal/types"
)

// addressPatterns are the accepted spellings of the recipient column, compared
// after Normalize.
var addressPatterns = []string{
	"メールアドレス",
	"email",
	"e-mail",
	"mail",
	"mailaddress",
	"mail_address",
	"emailaddress",
	"email_address",
	"to",
	"宛先",
	"送信先",
}

var normalizedAddressPatterns = func() map[string]bool {
	m := make(map[string]bool, len(addressPatterns))
	for _, p := range addressPatterns {
		m[Normalize(p)] = true
	}
	return m
}()

// hyphenFolder maps the dash family (including the katakana prolonged sound
// mark) to an ASCII hyphen.
var hyphenFolder = strings.NewReplacer(
	"ー", "-", "－", "-", "−", "-", "‐", "-", "‑", "-", "‒", "-",
	"–", "-", "—", "-", "―", "-", "─", "-", "━", "-",
	"＿", "_",
)

// Normalize folds a column name for lenient comparison: trimmed, full-width
// alphanumerics folded to ASCII, lower-cased, dashes unified and whitespace
// removed.
func Normalize(s string) string {
	s = width.Fold.String(strings.TrimSpace(s))
	s = strings.ToLower(s)
	s = hyphenFolder.Replace(s)
	return strings.Join(strings.Fields(s), "")
}

// IsAddressColumn reports whether name is one of the recipient column spellings.
func IsAddressColumn(name string) bool {
	return normalizedAddressPatterns[Normalize(name)]
}

// ResolveAddressColumn finds the recipient column. Known columns are searched
// first and returned with their original spelling; the row's own keys are the
// fallback.
func ResolveAddressColumn(row types.Row, columns []string) (string, bool) {
	for _, c := range columns {
		if IsAddressColumn(c) {
			return c, true
		}
	}
	for _, k := range row.Keys() {
		if IsAddressColumn(k) {
			return k, true
		}
	}
	return "", false
}
