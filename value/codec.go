package value

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/timewave-computer/causality-sub016/content"
	"github.com/timewave-computer/causality-sub016/utils"
)

// maxDepth bounds nesting when decoding untrusted bytes.
const maxDepth = 256

const (
	numberInteger  uint8 = 0
	numberRational uint8 = 1
)

// Encode returns the canonical encoding of v: a one-byte kind discriminant
// followed by the variant payload.
func Encode(v Value) []byte {
	o := &utils.OutputBuf{}
	v.EncodeCanonical(o)
	return o.Bytes()
}

func (Unit) EncodeCanonical(o *utils.OutputBuf) { o.AppendUint8(uint8(KindUnit)) }

func (b Bool) EncodeCanonical(o *utils.OutputBuf) {
	o.AppendUint8(uint8(KindBool))
	o.AppendBool(bool(b))
}

func (i Int) EncodeCanonical(o *utils.OutputBuf) {
	o.AppendUint8(uint8(KindInt))
	o.AppendInt64(int64(i))
}

func (n Number) EncodeCanonical(o *utils.OutputBuf) {
	o.AppendUint8(uint8(KindNumber))
	r := n.r()
	if r.IsInt() {
		o.AppendUint8(numberInteger)
		o.AppendBigInt(r.Num())
		return
	}
	o.AppendUint8(numberRational)
	o.AppendBigInt(r.Num())
	o.AppendBigInt(r.Denom())
}

func (s Symbol) EncodeCanonical(o *utils.OutputBuf) {
	o.AppendUint8(uint8(KindSymbol))
	o.AppendString(string(s))
}

func (s String) EncodeCanonical(o *utils.OutputBuf) {
	o.AppendUint8(uint8(KindString))
	o.AppendString(string(s))
}

func (l List) EncodeCanonical(o *utils.OutputBuf) {
	o.AppendUint8(uint8(KindList))
	o.AppendUint64(uint64(len(l)))
	for _, e := range l {
		e.EncodeCanonical(o)
	}
}

func encodeFields(o *utils.OutputBuf, fields []Field) {
	o.AppendUint64(uint64(len(fields)))
	for _, f := range fields {
		o.AppendString(string(f.Key))
		f.Value.EncodeCanonical(o)
	}
}

func (m Map) EncodeCanonical(o *utils.OutputBuf) {
	o.AppendUint8(uint8(KindMap))
	encodeFields(o, m.fields)
}

func (r Record) EncodeCanonical(o *utils.OutputBuf) {
	o.AppendUint8(uint8(KindRecord))
	encodeFields(o, r.fields)
}

func (r Ref) EncodeCanonical(o *utils.OutputBuf) {
	o.AppendUint8(uint8(KindRef))
	o.AppendFixed(r[:])
}

func (l Lambda) EncodeCanonical(o *utils.OutputBuf) {
	o.AppendUint8(uint8(KindLambda))
	o.AppendUint64(uint64(len(l.Params)))
	for _, p := range l.Params {
		o.AppendString(p)
	}
	o.AppendFixed(l.Body[:])
	o.AppendUint64(uint64(len(l.Env)))
	for _, b := range l.Env {
		o.AppendString(b.Name)
		b.Value.EncodeCanonical(o)
	}
}

// Decode parses exactly one canonically encoded value.
func Decode(b []byte) (Value, error) {
	in := utils.NewInputBuf(b)
	v := DecodeFrom(in)
	if err := in.Finish(); err != nil {
		return nil, err
	}
	return v, nil
}

// DecodeFrom reads one value; failures are recorded on in.
func DecodeFrom(in *utils.InputBuf) Value {
	return decode(in, 0)
}

var errDepth = errors.New("canonical encoding: value nested too deeply")

func decode(in *utils.InputBuf, depth int) Value {
	if depth > maxDepth {
		in.Fail(errDepth)
		return Unit{}
	}
	k := Kind(in.ReadUint8())
	if in.Err() != nil {
		return Unit{}
	}
	switch k {
	case KindUnit:
		return Unit{}
	case KindBool:
		return Bool(in.ReadBool())
	case KindInt:
		return Int(in.ReadInt64())
	case KindNumber:
		switch in.ReadUint8() {
		case numberInteger:
			return NewInteger(in.ReadBigInt())
		case numberRational:
			num := in.ReadBigInt()
			den := in.ReadBigInt()
			if in.Err() != nil {
				return Unit{}
			}
			if den.Sign() <= 0 {
				in.Fail(errors.New("canonical encoding: non-positive denominator"))
				return Unit{}
			}
			r := new(big.Rat).SetFrac(num, den)
			if r.IsInt() || r.Denom().Cmp(den) != 0 {
				in.Fail(errors.New("canonical encoding: rational not in lowest terms"))
				return Unit{}
			}
			return Number{rat: r}
		default:
			in.Fail(errors.New("canonical encoding: unknown number form"))
			return Unit{}
		}
	case KindSymbol:
		return Symbol(in.ReadString())
	case KindString:
		return String(in.ReadString())
	case KindList:
		n := in.ReadLen(1)
		l := make(List, 0, n)
		for i := 0; i < n && in.Err() == nil; i++ {
			l = append(l, decode(in, depth+1))
		}
		return l
	case KindMap:
		return Map{fields: decodeFields(in, depth)}
	case KindRecord:
		return Record{fields: decodeFields(in, depth)}
	case KindRef:
		var r Ref
		copy(r[:], in.ReadFixed(content.Size))
		return r
	case KindLambda:
		n := in.ReadLen(8)
		l := Lambda{Params: make([]string, 0, n)}
		for i := 0; i < n && in.Err() == nil; i++ {
			l.Params = append(l.Params, in.ReadString())
		}
		copy(l.Body[:], in.ReadFixed(content.Size))
		m := in.ReadLen(9)
		for i := 0; i < m && in.Err() == nil; i++ {
			name := in.ReadString()
			l.Env = append(l.Env, Binding{Name: name, Value: decode(in, depth+1)})
		}
		return l
	default:
		in.Fail(fmt.Errorf("canonical encoding: unknown value kind %d", uint8(k)))
		return Unit{}
	}
}

func decodeFields(in *utils.InputBuf, depth int) []Field {
	n := in.ReadLen(9)
	fields := make([]Field, 0, n)
	for i := 0; i < n && in.Err() == nil; i++ {
		key := Symbol(in.ReadString())
		if i > 0 && key <= fields[i-1].Key {
			in.Fail(errors.New("canonical encoding: field keys not strictly ordered"))
			return nil
		}
		fields = append(fields, Field{Key: key, Value: decode(in, depth+1)})
	}
	return fields
}
