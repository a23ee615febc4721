package extractor

import (
	"net/url"
	"regexp"
	"strings"

	"github.com/nconklindev/draftmerge/internal/types"
)

const composeBaseURL = "https://mail.google.com/mail/?view=cm&fs=1&tf=1"

var emailPattern = regexp.MustCompile(`[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}`)

// Extract finds every address-shaped substring in text, left to right, and
// returns them lower-cased and deduplicated in first-occurrence order.
func Extract(text string) types.AddressSet {
	matches := emailPattern.FindAllString(text, -1)

	seen := make(map[string]bool, len(matches))
	unique := make([]string, 0, len(matches))
	for _, m := range matches {
		addr := strings.ToLower(m)
		if seen[addr] {
			continue
		}
		seen[addr] = true
		unique = append(unique, addr)
	}

	return types.AddressSet{
		UniqueEmails:   unique,
		TotalFound:     len(matches),
		DuplicateCount: len(matches) - len(unique),
	}
}

// ComposeURL builds a Gmail compose link with the addresses in Bcc.
func ComposeURL(bcc []string, subject, body string) string {
	var b strings.Builder
	b.WriteString(composeBaseURL)
	b.WriteString("&bcc=")
	b.WriteString(encodeComponent(strings.Join(bcc, ",")))
	b.WriteString("&su=")
	b.WriteString(encodeComponent(subject))
	b.WriteString("&body=")
	b.WriteString(encodeComponent(body))
	return b.String()
}

// componentUnescaper undoes the QueryEscape output that encodeURIComponent
// leaves literal: spaces as %20 and the marks !'()*.
var componentUnescaper = strings.NewReplacer(
	"+", "%20",
	"%21", "!", "%27", "'", "%28", "(", "%29", ")", "%2A", "*",
)

// encodeComponent escapes s the way encodeURIComponent does.
func encodeComponent(s string) string {
	return componentUnescaper.Replace(url.QueryEscape(s))
}

var exactEmailPattern = regexp.MustCompile(`^` + emailPattern.String() + `$`)

// IsAddress reports whether s, trimmed, is a single address and nothing else.
func IsAddress(s string) bool {
	return exactEmailPattern.MatchString(strings.TrimSpace(s))
}
