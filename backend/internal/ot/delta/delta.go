package delta

import "errors"

type Kind string

const (
	KindRetain Kind = "retain"
	KindInsert Kind = "insert"
	KindDelete Kind = "delete"
)

// ErrMalformedOperation reports a delta whose retain/delete counts do not
// reconcile with the length of the content it is applied to, or an op with
// an invalid shape (negative count, empty insert, unknown kind).
var ErrMalformedOperation = errors.New("MALFORMED_OPERATION")

type Op struct {
	Kind  Kind           `json:"kind"`            // "retain" / "insert" / "delete"
	Count int            `json:"count,omitempty"` // length of retain/delete, in runes
	Text  string         `json:"text,omitempty"`  // inserted text
	Attrs map[string]any `json:"attrs,omitempty"` // style attributes, carried opaquely
}

// Delta is an ordered operation sequence. Wire form:
// [{"kind":"retain","count":5},{"kind":"insert","text":"Hello"}]
type Delta []Op

func Retain(n int) Op    { return Op{Kind: KindRetain, Count: n} }
func Insert(s string) Op { return Op{Kind: KindInsert, Text: s} }
func Delete(n int) Op    { return Op{Kind: KindDelete, Count: n} }

// opLen is the rune length an op covers on its own side of the document.
func opLen(op Op) int {
	if op.Kind == KindInsert {
		return len([]rune(op.Text))
	}
	return op.Count
}

func (d Delta) validate() error {
	for _, op := range d {
		switch op.Kind {
		case KindRetain, KindDelete:
			if op.Count <= 0 || op.Text != "" {
				return ErrMalformedOperation
			}
		case KindInsert:
			if op.Text == "" || op.Count != 0 {
				return ErrMalformedOperation
			}
		default:
			return ErrMalformedOperation
		}
	}
	return nil
}

// BaseLen is the rune length of the content the delta applies to:
// the sum of retain and delete counts.
func (d Delta) BaseLen() int {
	n := 0
	for _, op := range d {
		if op.Kind == KindRetain || op.Kind == KindDelete {
			n += op.Count
		}
	}
	return n
}

// TargetLen is the rune length of the content after applying the delta.
func (d Delta) TargetLen() int {
	n := 0
	for _, op := range d {
		switch op.Kind {
		case KindRetain:
			n += op.Count
		case KindInsert:
			n += len([]rune(op.Text))
		}
	}
	return n
}

// Normalize drops zero-length ops and merges adjacent ops of the same kind.
// Inserts carrying attributes only merge with other unattributed inserts;
// attributed runs stay separate.
func (d Delta) Normalize() Delta {
	out := make(Delta, 0, len(d))
	for _, op := range d {
		if opLen(op) == 0 {
			continue
		}
		if n := len(out); n > 0 && out[n-1].Kind == op.Kind {
			last := &out[n-1]
			switch op.Kind {
			case KindRetain, KindDelete:
				last.Count += op.Count
				continue
			case KindInsert:
				if last.Attrs == nil && op.Attrs == nil {
					last.Text += op.Text
					continue
				}
			}
		}
		out = append(out, op)
	}
	return out
}
