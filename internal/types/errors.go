package types

import (
	"errors"
	"fmt"
)

// ErrDest reports a destructure of a non-option type.
var ErrDest = errors.New("expecting Option<..> type")

// Loc is a source position carried into type errors. The zero value means
// "unknown".
type Loc struct {
	Line int
	Col  int
}

func (l Loc) Known() bool { return l.Line > 0 }

func (l Loc) String() string {
	return fmt.Sprintf("line %d, column %d", l.Line, l.Col)
}

// MismatchError reports two incompatible located types.
type MismatchError struct {
	Ctx  string
	Loc1 Loc
	T1   Typ
	Loc2 Loc
	T2   Typ
}

func (e *MismatchError) Error() string {
	s := fmt.Sprintf("type error in %q. mismatch: > %s", e.Ctx, e.T1)
	if e.Loc1.Known() {
		s += " on " + e.Loc1.String()
	}
	s += fmt.Sprintf("; < %s", e.T2)
	if e.Loc2.Known() {
		s += " on " + e.Loc2.String()
	}
	return s
}

// ArgsError reports an arity mismatch.
type ArgsError struct {
	Ctx      string
	Expected int
	Got      int
}

func (e *ArgsError) Error() string {
	return fmt.Sprintf("type error in %q: expecting %d value(s), got %d", e.Ctx, e.Expected, e.Got)
}

// ParseError reports an unknown type name.
type ParseError struct {
	Name string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("expecting type, got %s", e.Name)
}

// Check unifies two located type lists pairwise, reporting the first
// mismatch or an arity error.
func Check(ctx string, locs1 []Loc, ts1 []Typ, locs2 []Loc, ts2 []Typ) error {
	if len(ts1) != len(ts2) {
		return &ArgsError{Ctx: ctx, Expected: len(ts2), Got: len(ts1)}
	}
	loc := func(ls []Loc, i int) Loc {
		if i < len(ls) {
			return ls[i]
		}
		return Loc{}
	}
	for i := range ts1 {
		if !ts1[i].CanUnify(ts2[i]) {
			return &MismatchError{
				Ctx:  ctx,
				Loc1: loc(locs1, i), T1: ts1[i],
				Loc2: loc(locs2, i), T2: ts2[i],
			}
		}
	}
	return nil
}
