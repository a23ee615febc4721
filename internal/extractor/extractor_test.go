package extractor

import (
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtract(t *testing.T) {
	tests := []struct {
		name       string
		input      string
		unique     []string
		total      int
		duplicates int
	}{
		{"Empty input", "", []string{}, 0, 0},
		{"No addresses", "hello world @ nothing.here.x", []string{}, 0, 0},
		{"Mixed separators", "a@x.com, A@X.com; b@y.com", []string{"a@x.com", "b@y.com"}, 3, 1},
		{"Newlines and tabs", "one@ex.org\ntwo@ex.org\tthree@ex.org", []string{"one@ex.org", "two@ex.org", "three@ex.org"}, 3, 0},
		{"Embedded in prose", "Contact Sam <Sam.Lee+news@Mail.Example.co.jp> today", []string{"sam.lee+news@mail.example.co.jp"}, 1, 0},
		{"Short tld rejected", "x@y.z", []string{}, 0, 0},
		{"First occurrence order", "c@z.io b@z.io C@Z.IO a@z.io", []string{"c@z.io", "b@z.io", "a@z.io"}, 4, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Extract(tt.input)
			assert.Equal(t, tt.unique, got.UniqueEmails)
			assert.Equal(t, tt.total, got.TotalFound)
			assert.Equal(t, tt.duplicates, got.DuplicateCount)
		})
	}
}

func TestExtract_Invariants(t *testing.T) {
	input := "A@b.com a@B.com x.y@q.net; X.Y@Q.NET, z@q.net junk@@ z@q.net"

	first := Extract(input)
	second := Extract(input)
	require.Equal(t, first, second)

	assert.Equal(t, first.TotalFound-len(first.UniqueEmails), first.DuplicateCount)

	seen := map[string]bool{}
	for _, e := range first.UniqueEmails {
		assert.Equal(t, strings.ToLower(e), e)
		assert.False(t, seen[e], "duplicate %s", e)
		seen[e] = true
	}
}

func TestComposeURL(t *testing.T) {
	got := ComposeURL([]string{"a@x.com", "b@y.com"}, "Hi there", "Line 1\nA+B & C")

	require.True(t, strings.HasPrefix(got, composeBaseURL+"&bcc="))
	assert.Contains(t, got, "su=Hi%20there")
	assert.NotContains(t, got, "+")

	u, err := url.Parse(got)
	require.NoError(t, err)
	q := u.Query()
	assert.Equal(t, "a@x.com,b@y.com", q.Get("bcc"))
	assert.Equal(t, "Hi there", q.Get("su"))
	assert.Equal(t, "Line 1\nA+B & C", q.Get("body"))
}

func TestEncodeComponent(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"Hi there", "Hi%20there"},
		{"A+B & C", "A%2BB%20%26%20C"},
		{"Sale! (50% off) 'today' *", "Sale!%20(50%25%20off)%20'today'%20*"},
		{"a-b_c.d~e", "a-b_c.d~e"},
		{"件名", "%E4%BB%B6%E5%90%8D"},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.expected, encodeComponent(tt.input))
		})
	}
}

func TestIsAddress(t *testing.T) {
	tests := []struct {
		input    string
		expected bool
	}{
		{"a@x.com", true},
		{"  Sam.Lee@Example.CO.JP ", true},
		{"", false},
		{"a@x.com, b@y.com", false},
		{"Sam <a@x.com>", false},
		{"not an address", false},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.expected, IsAddress(tt.input))
		})
	}
}
