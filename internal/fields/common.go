package fields

import (
	"golang.org/x/text/width"

	"github.com/nconklindev/draftmerge/internal/types"
)

// Slot exposes one common field for editing.
type Slot struct {
	Name  string
	Value *string
}

type commonField struct {
	names []string
	value func(*types.CommonFields) *string
}

// commonFields lists the eleven fallback tags. Date and reserve slots accept
// both full-width and ASCII digits; the full-width spelling comes first and is
// the display name.
var commonFields = []commonField{
	{[]string{"メールアドレス"}, func(c *types.CommonFields) *string { return &c.Email }},
	{[]string{"会社名"}, func(c *types.CommonFields) *string { return &c.Company }},
	{[]string{"担当者名"}, func(c *types.CommonFields) *string { return &c.Contact }},
	{[]string{"案件名"}, func(c *types.CommonFields) *string { return &c.Project }},
	{[]string{"URL"}, func(c *types.CommonFields) *string { return &c.URL }},
	{digitVariants("日付1"), func(c *types.CommonFields) *string { return &c.Date1 }},
	{digitVariants("日付2"), func(c *types.CommonFields) *string { return &c.Date2 }},
	{digitVariants("予備1"), func(c *types.CommonFields) *string { return &c.Reserve1 }},
	{digitVariants("予備2"), func(c *types.CommonFields) *string { return &c.Reserve2 }},
	{digitVariants("予備3"), func(c *types.CommonFields) *string { return &c.Reserve3 }},
	{digitVariants("予備4"), func(c *types.CommonFields) *string { return &c.Reserve4 }},
}

func digitVariants(name string) []string {
	return []string{width.Widen.String(name), name}
}

// DateColumns are the header names rendered as ISO dates during ingestion.
var DateColumns = append(digitVariants("日付1"), digitVariants("日付2")...)

// IsDateColumn reports whether header names one of the date slots exactly.
func IsDateColumn(header string) bool {
	for _, d := range DateColumns {
		if header == d {
			return true
		}
	}
	return false
}

// CommonNames returns the display name of every common field in slot order.
func CommonNames() []string {
	out := make([]string, len(commonFields))
	for i, f := range commonFields {
		out[i] = f.names[0]
	}
	return out
}

// LookupCommon resolves tag against the common fields. The bool reports
// whether tag names a common field at all; an unset field yields "".
func LookupCommon(c types.CommonFields, tag string) (string, bool) {
	for _, f := range commonFields {
		for _, n := range f.names {
			if n == tag {
				return *f.value(&c), true
			}
		}
	}
	return "", false
}

// Slots returns editable handles onto c in slot order.
func Slots(c *types.CommonFields) []Slot {
	out := make([]Slot, len(commonFields))
	for i, f := range commonFields {
		out[i] = Slot{Name: f.names[0], Value: f.value(c)}
	}
	return out
}

// Seed fills common fields from the first ingested row. A field is only
// overwritten when the row has a non-empty value for it; the address comes
// from the detected recipient column.
func Seed(prev types.CommonFields, first types.Row, columns []string) types.CommonFields {
	next := prev

	if col, ok := ResolveAddressColumn(first, columns); ok {
		if v, _ := first.Get(col); v != "" {
			next.Email = v
		}
	}

	for _, f := range commonFields[1:] {
		for _, n := range f.names {
			if v, ok := first.Get(n); ok && v != "" {
				*f.value(&next) = v
				break
			}
		}
	}

	return next
}
