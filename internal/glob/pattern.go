package glob

import (
	"fmt"
	"path/filepath"
	"strings"
)

const (
	MaxTokens    = 50
	MaxWildcards = 10
)

// segment is one '/'-separated component of a pattern. A globstar segment
// ("**" on its own) matches zero or more whole path segments.
type segment struct {
	globstar bool
	atoms    []atom
}

// Pattern is a compiled glob. The zero value matches nothing.
type Pattern struct {
	raw      string
	segments []segment
}

// String returns the normalized source of the pattern.
func (p *Pattern) String() string {
	return p.raw
}

// Normalize trims whitespace, converts separators to '/', drops "./" and
// empty segments, and expands a trailing '/' to "/**" so that a directory
// claim covers everything beneath it.
func Normalize(pattern string) string {
	p := filepath.ToSlash(strings.TrimSpace(pattern))
	dir := strings.HasSuffix(p, "/") && len(p) > 1
	parts := strings.Split(p, "/")
	kept := parts[:0]
	for _, part := range parts {
		if part == "" || part == "." {
			continue
		}
		kept = append(kept, part)
	}
	if dir {
		kept = append(kept, "**")
	}
	return strings.Join(kept, "/")
}

// Compile normalizes and parses a pattern, rejecting absolute paths, parent
// traversal and patterns beyond the complexity limits.
func Compile(pattern string) (*Pattern, error) {
	trimmed := strings.TrimSpace(pattern)
	if trimmed == "" {
		return nil, fmt.Errorf("empty pattern")
	}
	if strings.HasPrefix(filepath.ToSlash(trimmed), "/") || filepath.IsAbs(trimmed) {
		return nil, fmt.Errorf("pattern %q must be relative to the project root", trimmed)
	}
	norm := Normalize(trimmed)
	if norm == "" {
		return nil, fmt.Errorf("pattern %q has no path segments", trimmed)
	}

	p := &Pattern{raw: norm}
	totalTokens, totalWildcards := 0, 0
	for _, part := range strings.Split(norm, "/") {
		if part == ".." {
			return nil, fmt.Errorf("pattern %q must not traverse above the project root", trimmed)
		}
		if part == "**" {
			// Collapse runs of globstars; "**/**" is the same set as "**".
			if n := len(p.segments); n > 0 && p.segments[n-1].globstar {
				continue
			}
			p.segments = append(p.segments, segment{globstar: true})
			totalTokens++
			totalWildcards++
			continue
		}
		atoms, err := parseSegment(part)
		if err != nil {
			return nil, err
		}
		totalTokens += len(atoms)
		for _, a := range atoms {
			if a.wildcard() {
				totalWildcards++
			}
		}
		p.segments = append(p.segments, segment{atoms: atoms})
	}
	if totalTokens > MaxTokens {
		return nil, fmt.Errorf("pattern too complex: %d tokens exceeds limit of %d", totalTokens, MaxTokens)
	}
	if totalWildcards > MaxWildcards {
		return nil, fmt.Errorf("pattern too complex: %d wildcards exceeds limit of %d", totalWildcards, MaxWildcards)
	}
	return p, nil
}

// ValidateComplexity checks that a glob pattern is well formed and doesn't
// exceed token/wildcard limits.
func ValidateComplexity(pattern string) error {
	_, err := Compile(pattern)
	return err
}

// literalPattern builds a pattern whose every rune is literal, for matching
// concrete file paths that may contain glob metacharacters.
func literalPattern(filePath string) *Pattern {
	norm := Normalize(filePath)
	p := &Pattern{raw: norm}
	if norm == "" {
		return p
	}
	for _, part := range strings.Split(norm, "/") {
		atoms := make([]atom, 0, len(part))
		for _, r := range part {
			atoms = append(atoms, literal(r))
		}
		p.segments = append(p.segments, segment{atoms: atoms})
	}
	return p
}

// Overlaps reports whether some file path is matched by both patterns.
func (p *Pattern) Overlaps(q *Pattern) bool {
	if p == nil || q == nil || len(p.segments) == 0 || len(q.segments) == 0 {
		return false
	}
	type key struct{ i, j int }
	memo := make(map[key]bool)
	var walk func(i, j int) bool
	walk = func(i, j int) bool {
		k := key{i, j}
		if v, ok := memo[k]; ok {
			return v
		}
		// Mark in progress as false; globstar recursion only moves forward
		// so cycles cannot form, but this keeps the walk bounded regardless.
		memo[k] = false
		var res bool
		switch {
		case i == len(p.segments) && j == len(q.segments):
			res = true
		case i < len(p.segments) && p.segments[i].globstar:
			res = walk(i+1, j) || (j < len(q.segments) && walk(i, j+1))
		case j < len(q.segments) && q.segments[j].globstar:
			res = walk(i, j+1) || (i < len(p.segments) && walk(i+1, j))
		case i == len(p.segments) || j == len(q.segments):
			res = false
		default:
			res = segmentsOverlap(p.segments[i].atoms, q.segments[j].atoms) && walk(i+1, j+1)
		}
		memo[k] = res
		return res
	}
	return walk(0, 0)
}

// Match reports whether the concrete path is covered by the pattern.
func (p *Pattern) Match(filePath string) bool {
	return p.Overlaps(literalPattern(filePath))
}

// PatternsOverlap returns true if two glob patterns can match the same path.
func PatternsOverlap(a, b string) (bool, error) {
	pa, err := Compile(a)
	if err != nil {
		return false, err
	}
	pb, err := Compile(b)
	if err != nil {
		return false, err
	}
	return pa.Overlaps(pb), nil
}

// MatchPath returns true if pattern covers the concrete file path.
func MatchPath(pattern, filePath string) (bool, error) {
	p, err := Compile(pattern)
	if err != nil {
		return false, err
	}
	return p.Match(filePath), nil
}

// Pair names one overlapping (a, b) pattern combination.
type Pair struct {
	A string
	B string
}

// Set is a compiled list of patterns.
type Set []*Pattern

// CompileSet compiles every pattern, failing on the first invalid one.
func CompileSet(patterns []string) (Set, error) {
	out := make(Set, 0, len(patterns))
	for _, raw := range patterns {
		p, err := Compile(raw)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

// Strings returns the normalized sources.
func (s Set) Strings() []string {
	out := make([]string, len(s))
	for i, p := range s {
		out[i] = p.raw
	}
	return out
}

// Overlaps returns every overlapping pair between the two sets, in order of
// s then other. An empty result means the sets are disjoint.
func (s Set) Overlaps(other Set) []Pair {
	var pairs []Pair
	for _, a := range s {
		for _, b := range other {
			if a.Overlaps(b) {
				pairs = append(pairs, Pair{A: a.raw, B: b.raw})
			}
		}
	}
	return pairs
}

// Match returns the first pattern in the set covering filePath.
func (s Set) Match(filePath string) (string, bool) {
	lit := literalPattern(filePath)
	for _, p := range s {
		if p.Overlaps(lit) {
			return p.raw, true
		}
	}
	return "", false
}

// SetsOverlap compiles both lists and reports their overlapping pairs.
func SetsOverlap(a, b []string) ([]Pair, error) {
	sa, err := CompileSet(a)
	if err != nil {
		return nil, err
	}
	sb, err := CompileSet(b)
	if err != nil {
		return nil, err
	}
	return sa.Overlaps(sb), nil
}

// SplitList splits a comma separated query value into trimmed, non-empty
// patterns.
func SplitList(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
