package core

import "strings"

// PackageQuery is a parsed user query. Name is matched case-sensitively
// against the registry; qualifiers narrow the candidate set.
type PackageQuery struct {
	Name       string
	Family     string
	Collection string
	Repo       string
}

// ParseQuery parses the query syntax `[family/]name[@repo][#collection]`.
// A bare name has no qualifiers. Case is preserved: final candidate matching
// is case-sensitive, only search uses case folding.
func ParseQuery(raw string) PackageQuery {
	q := PackageQuery{}
	rest := strings.TrimSpace(raw)

	if name, collection, ok := rsplitOnce(rest, '#'); ok {
		rest = name
		q.Collection = collection
	}
	if name, repo, ok := rsplitOnce(rest, '@'); ok {
		rest = name
		q.Repo = repo
	}
	if family, name, ok := splitOnce(rest, '/'); ok {
		q.Family = family
		rest = name
	}
	q.Name = rest
	return q
}

// HasQualifier reports whether any explicit qualifier was given.
func (q PackageQuery) HasQualifier() bool {
	return q.Family != "" || q.Collection != "" || q.Repo != ""
}

// String renders the query back into its canonical syntax.
func (q PackageQuery) String() string {
	var b strings.Builder
	if q.Family != "" {
		b.WriteString(q.Family)
		b.WriteByte('/')
	}
	b.WriteString(q.Name)
	if q.Repo != "" {
		b.WriteByte('@')
		b.WriteString(q.Repo)
	}
	if q.Collection != "" {
		b.WriteByte('#')
		b.WriteString(q.Collection)
	}
	return b.String()
}

func splitOnce(s string, sep byte) (string, string, bool) {
	if i := strings.IndexByte(s, sep); i >= 0 {
		return s[:i], s[i+1:], true
	}
	return s, "", false
}

func rsplitOnce(s string, sep byte) (string, string, bool) {
	if i := strings.LastIndexByte(s, sep); i >= 0 {
		return s[:i], s[i+1:], true
	}
	return s, "", false
}
