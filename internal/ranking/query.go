package ranking

import (
	"strings"
	"unicode"
)

// stopwords are dropped from keyword variants and learning terms. Besides
// the usual function words this covers the filler people use when asking
// about an earlier conversation ("remember when we talked about ...").
var stopwords = toSet(`
	a an the and or but of to for with by in on at from as into about
	is are was were be been being am it its this that these those there
	i me my we our us you your they them their he she his her
	do does did done what how why when where which who whom
	can could should would may might will shall must
	please remember recall again earlier last time said say talk talked
	discuss discussed mention mentioned conversation`)

func toSet(words string) map[string]struct{} {
	set := make(map[string]struct{})
	for _, w := range strings.Fields(words) {
		set[w] = struct{}{}
	}
	return set
}

// clauseBreaks separate independent questions inside one query.
const clauseBreaks = ",;/|:?!()[]{}"

// variantSet collects distinct phrasings, ignoring case.
type variantSet struct {
	seen map[string]struct{}
	out  []string
	max  int
}

func (v *variantSet) add(s string) bool {
	s = strings.TrimSpace(s)
	if s == "" || len(v.out) >= v.max {
		return len(v.out) < v.max
	}
	key := strings.ToLower(s)
	if _, dup := v.seen[key]; !dup {
		v.seen[key] = struct{}{}
		v.out = append(v.out, s)
	}
	return len(v.out) < v.max
}

// Variants derives up to max alternative phrasings of query: each clause
// on its own, then the bare keywords. The query itself is never repeated.
func Variants(query string, max int) []string {
	query = strings.TrimSpace(query)
	if max <= 0 || query == "" {
		return nil
	}

	set := &variantSet{seen: map[string]struct{}{strings.ToLower(query): {}}, max: max}
	for _, clause := range clauses(query) {
		if !set.add(clause) {
			return set.out
		}
	}
	set.add(strings.Join(Terms(query), " "))
	return set.out
}

func clauses(query string) []string {
	var out []string
	pieces := strings.FieldsFunc(query, func(r rune) bool {
		return strings.ContainsRune(clauseBreaks, r)
	})
	for _, piece := range pieces {
		for _, clause := range strings.Split(piece, " and ") {
			if clause = strings.TrimSpace(clause); clause != "" {
				out = append(out, clause)
			}
		}
	}
	return out
}

// Terms returns the distinct lowercase non-stopword terms of text in first
// occurrence order, with surrounding punctuation stripped.
func Terms(text string) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, field := range strings.Fields(text) {
		term := strings.ToLower(strings.TrimFunc(field, func(r rune) bool {
			return !unicode.IsLetter(r) && !unicode.IsDigit(r)
		}))
		if term == "" {
			continue
		}
		if _, stop := stopwords[term]; stop {
			continue
		}
		if _, dup := seen[term]; dup {
			continue
		}
		seen[term] = struct{}{}
		out = append(out, term)
	}
	return out
}
