package glob

import (
	"errors"
	"fmt"
	"sort"
	"unicode/utf8"
)

// span is an inclusive rune interval.
type span struct {
	lo, hi rune
}

// charSet is a sorted list of disjoint, non-adjacent spans.
type charSet []span

// anyRune is every rune a single segment can contain.
var anyRune = charSet{{0, '/' - 1}, {'/' + 1, utf8.MaxRune}}

func single(r rune) charSet { return charSet{{r, r}} }

func (c charSet) normalize() charSet {
	if len(c) < 2 {
		return c
	}
	sorted := append(charSet(nil), c...)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].lo != sorted[j].lo {
			return sorted[i].lo < sorted[j].lo
		}
		return sorted[i].hi < sorted[j].hi
	})
	out := sorted[:1]
	for _, s := range sorted[1:] {
		last := &out[len(out)-1]
		if s.lo <= last.hi+1 {
			last.hi = max(last.hi, s.hi)
			continue
		}
		out = append(out, s)
	}
	return out
}

func (c charSet) intersects(o charSet) bool {
	for i, j := 0, 0; i < len(c) && j < len(o); {
		switch {
		case c[i].hi < o[j].lo:
			i++
		case o[j].hi < c[i].lo:
			j++
		default:
			return true
		}
	}
	return false
}

func (c charSet) intersect(o charSet) charSet {
	var out charSet
	for i, j := 0, 0; i < len(c) && j < len(o); {
		if lo, hi := max(c[i].lo, o[j].lo), min(c[i].hi, o[j].hi); lo <= hi {
			out = append(out, span{lo, hi})
		}
		if c[i].hi < o[j].hi {
			i++
		} else {
			j++
		}
	}
	return out
}

func (c charSet) minus(o charSet) charSet {
	var out charSet
	j := 0
	for _, s := range c {
		for j < len(o) && o[j].hi < s.lo {
			j++
		}
		lo := s.lo
		for k := j; k < len(o) && o[k].lo <= s.hi; k++ {
			if o[k].lo > lo {
				out = append(out, span{lo, o[k].lo - 1})
			}
			lo = o[k].hi + 1
			if o[k].hi >= s.hi {
				break
			}
		}
		if lo <= s.hi {
			out = append(out, span{lo, s.hi})
		}
	}
	return out
}

type atomKind uint8

const (
	atomLit   atomKind = iota
	atomOne            // ?
	atomStar           // *
	atomClass          // [...]
)

// atom is one matching step inside a segment. A star consumes any number of
// runes from set; every other kind consumes exactly one.
type atom struct {
	kind atomKind
	set  charSet
}

func literal(r rune) atom { return atom{kind: atomLit, set: single(r)} }

func (a atom) wildcard() bool { return a.kind == atomStar || a.kind == atomOne }

// segmentsOverlap reports whether some segment string is matched by both
// atom lists. It searches the product of the two matchers: a position pair
// advances when both sides can consume a common rune, and a star may also
// be skipped without consuming.
func segmentsOverlap(a, b []atom) bool {
	width := len(b) + 1
	visited := make([]bool, (len(a)+1)*width)
	var stack [][2]int
	push := func(i, j int) {
		if !visited[i*width+j] {
			visited[i*width+j] = true
			stack = append(stack, [2]int{i, j})
		}
	}

	push(0, 0)
	for len(stack) > 0 {
		top := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		i, j := top[0], top[1]
		if i == len(a) && j == len(b) {
			return true
		}
		if i < len(a) && a[i].kind == atomStar {
			push(i+1, j)
		}
		if j < len(b) && b[j].kind == atomStar {
			push(i, j+1)
		}
		if i == len(a) || j == len(b) || !a[i].set.intersects(b[j].set) {
			continue
		}
		ni, nj := i+1, j+1
		if a[i].kind == atomStar {
			ni = i
		}
		if b[j].kind == atomStar {
			nj = j
		}
		push(ni, nj)
	}
	return false
}

func parseSegment(seg string) ([]atom, error) {
	rs := []rune(seg)
	out := make([]atom, 0, len(rs))
	for i := 0; i < len(rs); i++ {
		switch r := rs[i]; r {
		case '*':
			out = append(out, atom{kind: atomStar, set: anyRune})
		case '?':
			out = append(out, atom{kind: atomOne, set: anyRune})
		case '[':
			set, end, err := parseClass(rs, i+1)
			if err != nil {
				return nil, fmt.Errorf("bad pattern %q: %w", seg, err)
			}
			out = append(out, atom{kind: atomClass, set: set})
			i = end
		case '\\':
			if i+1 == len(rs) {
				return nil, fmt.Errorf("bad pattern %q: trailing escape", seg)
			}
			i++
			out = append(out, literal(rs[i]))
		default:
			out = append(out, literal(r))
		}
	}
	return out, nil
}

// parseClass reads a bracket expression whose body starts at rs[i] and
// returns its set and the index of the closing ']'. A ']' in first position
// is literal and a leading '^' negates.
func parseClass(rs []rune, i int) (charSet, int, error) {
	negate := i < len(rs) && rs[i] == '^'
	if negate {
		i++
	}
	var set charSet
	for first := true; ; first = false {
		if i >= len(rs) {
			return nil, 0, errors.New("unterminated character class")
		}
		if rs[i] == ']' && !first {
			break
		}
		lo, next, err := classRune(rs, i)
		if err != nil {
			return nil, 0, err
		}
		hi := lo
		if next+1 < len(rs) && rs[next] == '-' && rs[next+1] != ']' {
			if hi, next, err = classRune(rs, next+1); err != nil {
				return nil, 0, err
			}
			if hi < lo {
				return nil, 0, fmt.Errorf("inverted range %c-%c", lo, hi)
			}
		}
		set = append(set, span{lo, hi})
		i = next
	}
	set = set.normalize()
	if negate {
		return anyRune.minus(set), i, nil
	}
	return set.intersect(anyRune), i, nil
}

func classRune(rs []rune, i int) (rune, int, error) {
	if rs[i] != '\\' {
		return rs[i], i + 1, nil
	}
	if i+1 >= len(rs) {
		return 0, 0, errors.New("trailing escape in character class")
	}
	return rs[i+1], i + 2, nil
}
