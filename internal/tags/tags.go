package tags

import (
	"regexp"
	"slices"

	"github.com/nconklindev/draftmerge/internal/fields"
	"github.com/nconklindev/draftmerge/internal/types"
)

var tagPattern = regexp.MustCompile(`\{([^}]+)\}`)

// Names lists the distinct placeholder names in template, first-seen order.
func Names(template string) []string {
	var names []string
	seen := make(map[string]bool)
	for _, m := range tagPattern.FindAllStringSubmatch(template, -1) {
		if !seen[m[1]] {
			seen[m[1]] = true
			names = append(names, m[1])
		}
	}
	return names
}

// Resolve substitutes every {name} in template. A key present in row wins,
// even when its value is empty; otherwise a common field of that name is
// used; otherwise the tag renders as "". Names with no source are reported
// only when primary is set.
//
// Substitution is a single pass over template, so values that themselves
// contain braces are never expanded.
func Resolve(template string, row types.Row, common types.CommonFields, primary bool) types.TagResolution {
	values := make(map[string]string)
	var unresolved []string

	for _, name := range Names(template) {
		v, ok := lookup(name, row, common)
		values[name] = v
		if !ok && primary {
			unresolved = append(unresolved, name)
		}
	}

	text := tagPattern.ReplaceAllStringFunc(template, func(tag string) string {
		return values[tag[1:len(tag)-1]]
	})

	return types.TagResolution{Text: text, Unresolved: unresolved}
}

func lookup(name string, row types.Row, common types.CommonFields) (string, bool) {
	if v, ok := row.Get(name); ok {
		return v, true
	}
	return fields.LookupCommon(common, name)
}

// Preview renders subject and body against the first row of table, the way
// the first draft of a merge run would look.
func Preview(subject, body string, table *types.Table, common types.CommonFields) (types.TagResolution, types.TagResolution) {
	var first types.Row
	if table != nil && len(table.Rows) > 0 {
		first = table.Rows[0]
	}
	return Resolve(subject, first, common, true), Resolve(body, first, common, true)
}

// Unresolved merges the undefined names of several resolutions, first-seen
// order, without repeats.
func Unresolved(results ...types.TagResolution) []string {
	var names []string
	for _, r := range results {
		for _, n := range r.Unresolved {
			if !slices.Contains(names, n) {
				names = append(names, n)
			}
		}
	}
	return names
}
