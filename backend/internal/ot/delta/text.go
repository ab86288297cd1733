package delta

import "strings"

// Apply runs d over content and returns the resulting text. The delta's
// retain/delete counts must consume the source exactly; anything else is
// ErrMalformedOperation and content is returned unchanged semantics-wise
// (Apply never mutates its input).
func Apply(content string, d Delta) (string, error) {
	if err := d.validate(); err != nil {
		return "", err
	}
	src := []rune(content)
	if d.BaseLen() != len(src) {
		return "", ErrMalformedOperation
	}
	var b strings.Builder
	pos := 0
	for _, op := range d {
		switch op.Kind {
		case KindRetain:
			b.WriteString(string(src[pos : pos+op.Count]))
			pos += op.Count
		case KindInsert:
			b.WriteString(op.Text)
		case KindDelete:
			pos += op.Count
		}
	}
	return b.String(), nil
}

// scanner walks a delta one span at a time, allowing partial consumption of
// an op (needed when two deltas are zipped against each other).
type scanner struct {
	d   Delta
	i   int
	off int // runes of d[i] already consumed
}

func newScanner(d Delta) *scanner { return &scanner{d: d} }

// peek returns the unconsumed remainder of the current op.
func (s *scanner) peek() (Op, bool) {
	for s.i < len(s.d) && opLen(s.d[s.i]) == s.off {
		s.i++
		s.off = 0
	}
	if s.i >= len(s.d) {
		return Op{}, false
	}
	op := s.d[s.i]
	if s.off > 0 {
		if op.Kind == KindInsert {
			op.Text = string([]rune(op.Text)[s.off:])
		} else {
			op.Count -= s.off
		}
	}
	return op, true
}

func (s *scanner) advance(n int) { s.off += n }

func insertPrefix(op Op, n int) Op {
	r := []rune(op.Text)
	return Op{Kind: KindInsert, Text: string(r[:n]), Attrs: op.Attrs}
}

// Transform derives the bottom two sides of the OT diamond: given deltas a
// and b produced concurrently from the same base content, it returns (a', b')
// such that Apply(Apply(s, a), b') == Apply(Apply(s, b), a').
//
// Tie-break for inserts at the same position: a is the delta the server
// accepted first, so a's insertion keeps position priority and b's shifts
// behind it. This is a queue-order policy, not a wall-clock fairness
// guarantee.
func Transform(a, b Delta) (Delta, Delta, error) {
	if err := a.validate(); err != nil {
		return nil, nil, err
	}
	if err := b.validate(); err != nil {
		return nil, nil, err
	}
	if a.BaseLen() != b.BaseLen() {
		return nil, nil, ErrMalformedOperation
	}
	var a2, b2 Delta
	sa, sb := newScanner(a), newScanner(b)
	for {
		opA, okA := sa.peek()
		opB, okB := sb.peek()
		if okA && opA.Kind == KindInsert {
			n := opLen(opA)
			a2 = append(a2, opA)
			b2 = append(b2, Retain(n))
			sa.advance(n)
			continue
		}
		if okB && opB.Kind == KindInsert {
			n := opLen(opB)
			a2 = append(a2, Retain(n))
			b2 = append(b2, opB)
			sb.advance(n)
			continue
		}
		if !okA && !okB {
			break
		}
		if !okA || !okB {
			return nil, nil, ErrMalformedOperation
		}
		n := min(opA.Count, opB.Count)
		switch {
		case opA.Kind == KindRetain && opB.Kind == KindRetain:
			a2 = append(a2, Retain(n))
			b2 = append(b2, Retain(n))
		case opA.Kind == KindDelete && opB.Kind == KindDelete:
			// Both deleted the same span; neither side has work left.
		case opA.Kind == KindDelete && opB.Kind == KindRetain:
			a2 = append(a2, Delete(n))
		case opA.Kind == KindRetain && opB.Kind == KindDelete:
			b2 = append(b2, Delete(n))
		}
		sa.advance(n)
		sb.advance(n)
	}
	return a2.Normalize(), b2.Normalize(), nil
}

// Compose collapses a-then-b into one equivalent delta. Used by clients to
// coalesce rapid local edits before transmission; b must apply to the output
// of a.
func Compose(a, b Delta) (Delta, error) {
	if err := a.validate(); err != nil {
		return nil, err
	}
	if err := b.validate(); err != nil {
		return nil, err
	}
	if a.TargetLen() != b.BaseLen() {
		return nil, ErrMalformedOperation
	}
	var out Delta
	sa, sb := newScanner(a), newScanner(b)
	for {
		opA, okA := sa.peek()
		opB, okB := sb.peek()
		if okA && opA.Kind == KindDelete {
			out = append(out, opA)
			sa.advance(opA.Count)
			continue
		}
		if okB && opB.Kind == KindInsert {
			n := opLen(opB)
			out = append(out, opB)
			sb.advance(n)
			continue
		}
		if !okA && !okB {
			break
		}
		if !okA || !okB {
			return nil, ErrMalformedOperation
		}
		n := min(opLen(opA), opLen(opB))
		switch {
		case opA.Kind == KindRetain && opB.Kind == KindRetain:
			out = append(out, Retain(n))
		case opA.Kind == KindRetain && opB.Kind == KindDelete:
			out = append(out, Delete(n))
		case opA.Kind == KindInsert && opB.Kind == KindRetain:
			out = append(out, insertPrefix(opA, n))
		case opA.Kind == KindInsert && opB.Kind == KindDelete:
			// b deletes text a just inserted; the two cancel.
		}
		sa.advance(n)
		sb.advance(n)
	}
	return out.Normalize(), nil
}

// Diff produces a delta converting oldContent into newContent by trimming the
// common prefix and suffix. Greedy, not minimum-edit-distance; the editor
// submits full-content snapshots, so a single replaced middle span is enough.
func Diff(oldContent, newContent string) Delta {
	o, n := []rune(oldContent), []rune(newContent)
	p := 0
	for p < len(o) && p < len(n) && o[p] == n[p] {
		p++
	}
	s := 0
	for s < len(o)-p && s < len(n)-p && o[len(o)-1-s] == n[len(n)-1-s] {
		s++
	}
	var d Delta
	if p > 0 {
		d = append(d, Retain(p))
	}
	if del := len(o) - p - s; del > 0 {
		d = append(d, Delete(del))
	}
	if mid := n[p : len(n)-s]; len(mid) > 0 {
		d = append(d, Insert(string(mid)))
	}
	if s > 0 {
		d = append(d, Retain(s))
	}
	return d
}
