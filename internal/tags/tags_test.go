package tags

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nconklindev/draftmerge/internal/types"
)

func TestResolve(t *testing.T) {
	common := types.CommonFields{
		Company:  "Fallback Co",
		URL:      "https://fallback.example",
		Date1:    "2024-01-01",
		Reserve3: "spare",
	}

	tests := []struct {
		name       string
		template   string
		row        types.Row
		primary    bool
		want       string
		unresolved []string
	}{
		{
			name:       "Row value and missing tag",
			template:   "Hello {Name}, {Missing}",
			row:        types.NewRow("Name", "Sam"),
			primary:    true,
			want:       "Hello Sam, ",
			unresolved: []string{"Missing"},
		},
		{
			name:     "Missing tag on non-primary row is not reported",
			template: "{Unknown}!",
			row:      types.NewRow("Name", "Sam"),
			want:     "!",
		},
		{
			name:       "Primary row reports unknown",
			template:   "{Unknown}!",
			row:        types.NewRow("Name", "Sam"),
			primary:    true,
			want:       "!",
			unresolved: []string{"Unknown"},
		},
		{
			name:     "Empty row value beats fallback",
			template: "[{URL}]",
			row:      types.NewRow("URL", ""),
			primary:  true,
			want:     "[]",
		},
		{
			name:     "Fallback when column absent",
			template: "{会社名} / {URL}",
			row:      types.NewRow("Name", "Sam"),
			primary:  true,
			want:     "Fallback Co / https://fallback.example",
		},
		{
			name:     "Digit width variants share a slot",
			template: "{日付１}={日付1} {予備３}",
			row:      types.NewRow(),
			primary:  true,
			want:     "2024-01-01=2024-01-01 spare",
		},
		{
			name:     "Unset common field is empty and not unresolved",
			template: "<{担当者名}>",
			row:      types.NewRow(),
			primary:  true,
			want:     "<>",
		},
		{
			name:     "Match is case sensitive",
			template: "{name}",
			row:      types.NewRow("Name", "Sam"),
			want:     "",
		},
		{
			name:     "Repeated tag replaced everywhere",
			template: "{Name} {Name} {Name}",
			row:      types.NewRow("Name", "Sam"),
			want:     "Sam Sam Sam",
		},
		{
			name:     "Values are not expanded again",
			template: "{A}{B}",
			row:      types.NewRow("A", "{B}", "B", "b"),
			want:     "{B}b",
		},
		{
			name:     "Numeric zero preserved",
			template: "count={Count}",
			row:      types.NewRow("Count", "0"),
			want:     "count=0",
		},
		{
			name:     "Empty braces left literal",
			template: "{} and {Name",
			row:      types.NewRow("Name", "Sam"),
			want:     "{} and {Name",
		},
		{
			name:       "Unresolved reported once in first-seen order",
			template:   "{Z} {A} {Z}",
			row:        types.NewRow(),
			primary:    true,
			want:       "  ",
			unresolved: []string{"Z", "A"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Resolve(tt.template, tt.row, common, tt.primary)
			assert.Equal(t, tt.want, got.Text)
			if len(tt.unresolved) == 0 {
				assert.Empty(t, got.Unresolved)
			} else {
				assert.Equal(t, tt.unresolved, got.Unresolved)
			}
		})
	}
}

func TestResolve_RowIsolation(t *testing.T) {
	r1 := types.NewRow("Email", "a@x.com", "Company", "")
	r2 := types.NewRow("Email", "b@x.com", "Company", "Only In R2")

	got := Resolve("{Company}", r1, types.CommonFields{}, true)
	assert.Equal(t, "", got.Text)
	assert.Empty(t, got.Unresolved)

	got = Resolve("{Company}", r2, types.CommonFields{}, false)
	assert.Equal(t, "Only In R2", got.Text)
}

func TestNames(t *testing.T) {
	assert.Equal(t, []string{"a", "b c", "日付１"}, Names("{a}{b c} {a} {日付１}"))
	assert.Empty(t, Names("no tags here"))
}

func TestPreview(t *testing.T) {
	table := &types.Table{
		Columns: []string{"Name", "Email"},
		Rows: []types.Row{
			types.NewRow("Name", "Sam", "Email", "sam@x.com"),
			types.NewRow("Name", "Kim", "Email", "kim@x.com"),
		},
	}

	subject, body := Preview("Hi {Name}", "{Name}: {Nope}", table, types.CommonFields{})
	assert.Equal(t, "Hi Sam", subject.Text)
	assert.Equal(t, "Sam: ", body.Text)
	require.Equal(t, []string{"Nope"}, body.Unresolved)

	subject, _ = Preview("Hi {Name}", "", nil, types.CommonFields{})
	assert.Equal(t, "Hi ", subject.Text)
}

func TestUnresolved(t *testing.T) {
	got := Unresolved(
		types.TagResolution{Unresolved: []string{"Greeting", "Team"}},
		types.TagResolution{},
		types.TagResolution{Unresolved: []string{"Sign", "Greeting"}},
	)
	assert.Equal(t, []string{"Greeting", "Team", "Sign"}, got)
	assert.Empty(t, Unresolved())
}
