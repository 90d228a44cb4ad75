package value

import (
	"errors"
	"fmt"
	"math/big"
)

var (
	ErrDivisionByZero = errors.New("division by zero")
	ErrNotNumeric     = errors.New("operand is not numeric")
)

func asRat(v Value) (*big.Rat, bool) {
	switch x := v.(type) {
	case Int:
		return new(big.Rat).SetInt64(int64(x)), true
	case Number:
		return x.r(), true
	}
	return nil, false
}

// fromRat collapses results of Int-only arithmetic back into Int when they fit.
func fromRat(r *big.Rat, intOnly bool) Value {
	if intOnly && r.IsInt() && r.Num().IsInt64() {
		return Int(r.Num().Int64())
	}
	return Number{rat: r}
}

func binary(op string, a, b Value, f func(x, y *big.Rat) (*big.Rat, error)) (Value, error) {
	x, ok := asRat(a)
	if !ok {
		return nil, fmt.Errorf("%s: %w: %s", op, ErrNotNumeric, a.Kind())
	}
	y, ok := asRat(b)
	if !ok {
		return nil, fmt.Errorf("%s: %w: %s", op, ErrNotNumeric, b.Kind())
	}
	r, err := f(x, y)
	if err != nil {
		return nil, err
	}
	return fromRat(r, a.Kind() == KindInt && b.Kind() == KindInt), nil
}

func Add(a, b Value) (Value, error) {
	if x, ok := a.(Int); ok {
		if y, ok := b.(Int); ok {
			s := x + y
			if (x > 0 && y > 0 && s < 0) || (x < 0 && y < 0 && s >= 0) {
				return Number{rat: new(big.Rat).Add(big.NewRat(int64(x), 1), big.NewRat(int64(y), 1))}, nil
			}
			return s, nil
		}
	}
	return binary("add", a, b, func(x, y *big.Rat) (*big.Rat, error) { return new(big.Rat).Add(x, y), nil })
}

func Sub(a, b Value) (Value, error) {
	return binary("sub", a, b, func(x, y *big.Rat) (*big.Rat, error) { return new(big.Rat).Sub(x, y), nil })
}

func Mul(a, b Value) (Value, error) {
	return binary("mul", a, b, func(x, y *big.Rat) (*big.Rat, error) { return new(big.Rat).Mul(x, y), nil })
}

// Div is exact. Int/Int stays Int only when the quotient is integral.
func Div(a, b Value) (Value, error) {
	return binary("div", a, b, func(x, y *big.Rat) (*big.Rat, error) {
		if y.Sign() == 0 {
			return nil, ErrDivisionByZero
		}
		return new(big.Rat).Quo(x, y), nil
	})
}

func Neg(a Value) (Value, error) {
	switch x := a.(type) {
	case Int:
		if x == -x && x != 0 {
			return Number{rat: new(big.Rat).Neg(big.NewRat(int64(x), 1))}, nil
		}
		return -x, nil
	case Number:
		return Number{rat: new(big.Rat).Neg(x.r())}, nil
	}
	return nil, fmt.Errorf("neg: %w: %s", ErrNotNumeric, a.Kind())
}

// NumericCompare orders two numeric values, coercing Int into the rational
// domain. The second result is false when either operand is not numeric.
func NumericCompare(a, b Value) (int, bool) {
	switch x := a.(type) {
	case Int:
		switch y := b.(type) {
		case Int:
			return cmpInt64(int64(x), int64(y)), true
		case Number:
			return -cmpRatInt(y.r(), int64(x)), true
		}
	case Number:
		switch y := b.(type) {
		case Int:
			return cmpRatInt(x.r(), int64(y)), true
		case Number:
			return x.r().Cmp(y.r()), true
		}
	}
	return 0, false
}

func cmpInt64(x, y int64) int {
	switch {
	case x < y:
		return -1
	case x > y:
		return 1
	}
	return 0
}

// cmpRatInt compares r with the integer i.
func cmpRatInt(r *big.Rat, i int64) int {
	if r.IsInt() {
		n := r.Num()
		if n.IsInt64() {
			return cmpInt64(n.Int64(), i)
		}
		return n.Sign()
	}
	// r = n/d with d > 0, so r < i iff n < i*d.
	var t big.Int
	t.SetInt64(i)
	t.Mul(&t, r.Denom())
	return r.Num().Cmp(&t)
}
