package utils

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math/big"
)

// ErrShortBuffer is reported when a canonical encoding ends before a value is complete.
var ErrShortBuffer = errors.New("canonical encoding: unexpected end of input")

// OutputBuf accumulates a canonical byte encoding.
// Fixed-width integers are little-endian; variable-length data is length-prefixed
// with a uint64 count.
type OutputBuf struct {
	buf []byte
}

func (o *OutputBuf) AppendUint8(x uint8) {
	o.buf = append(o.buf, x)
}

func (o *OutputBuf) AppendBool(x bool) {
	if x {
		o.buf = append(o.buf, 1)
	} else {
		o.buf = append(o.buf, 0)
	}
}

func (o *OutputBuf) AppendUint32(x uint32) {
	o.buf = binary.LittleEndian.AppendUint32(o.buf, x)
}

func (o *OutputBuf) AppendUint64(x uint64) {
	o.buf = binary.LittleEndian.AppendUint64(o.buf, x)
}

func (o *OutputBuf) AppendInt64(x int64) {
	o.buf = binary.LittleEndian.AppendUint64(o.buf, uint64(x))
}

// AppendBytes writes a length prefix followed by the raw bytes.
func (o *OutputBuf) AppendBytes(b []byte) {
	o.AppendUint64(uint64(len(b)))
	o.buf = append(o.buf, b...)
}

// AppendFixed writes raw bytes without a prefix; used for digests.
func (o *OutputBuf) AppendFixed(b []byte) {
	o.buf = append(o.buf, b...)
}

func (o *OutputBuf) AppendString(s string) {
	o.AppendUint64(uint64(len(s)))
	o.buf = append(o.buf, s...)
}

// AppendBigInt writes a sign byte (0 non-negative, 1 negative) and the
// length-prefixed big-endian magnitude.
func (o *OutputBuf) AppendBigInt(x *big.Int) {
	if x.Sign() < 0 {
		o.AppendUint8(1)
	} else {
		o.AppendUint8(0)
	}
	o.AppendBytes(x.Bytes())
}

func (o *OutputBuf) Len() int {
	return len(o.buf)
}

func (o *OutputBuf) Bytes() []byte {
	return o.buf
}

// InputBuf reads what OutputBuf writes. The first failure sticks: later reads
// return zero values and Err reports the original problem.
type InputBuf struct {
	buf []byte
	err error
}

func NewInputBuf(buf []byte) *InputBuf {
	return &InputBuf{buf: buf}
}

func (i *InputBuf) take(n int) []byte {
	if i.err != nil {
		return nil
	}
	if n < 0 || len(i.buf) < n {
		i.err = ErrShortBuffer
		return nil
	}
	b := i.buf[:n]
	i.buf = i.buf[n:]
	return b
}

func (i *InputBuf) Fail(err error) {
	if i.err == nil {
		i.err = err
	}
}

func (i *InputBuf) Err() error {
	return i.err
}

func (i *InputBuf) Remaining() int {
	return len(i.buf)
}

// Finish reports trailing garbage as an error.
func (i *InputBuf) Finish() error {
	if i.err != nil {
		return i.err
	}
	if len(i.buf) != 0 {
		return fmt.Errorf("canonical encoding: %d trailing bytes", len(i.buf))
	}
	return nil
}

func (i *InputBuf) ReadUint8() uint8 {
	b := i.take(1)
	if b == nil {
		return 0
	}
	return b[0]
}

func (i *InputBuf) ReadBool() bool {
	switch i.ReadUint8() {
	case 0:
		return false
	case 1:
		return true
	default:
		i.Fail(errors.New("canonical encoding: invalid bool"))
		return false
	}
}

func (i *InputBuf) ReadUint32() uint32 {
	b := i.take(4)
	if b == nil {
		return 0
	}
	return binary.LittleEndian.Uint32(b)
}

func (i *InputBuf) ReadUint64() uint64 {
	b := i.take(8)
	if b == nil {
		return 0
	}
	return binary.LittleEndian.Uint64(b)
}

func (i *InputBuf) ReadInt64() int64 {
	return int64(i.ReadUint64())
}

// ReadLen reads a length prefix and checks it against the remaining input,
// assuming each element takes at least minElem bytes.
func (i *InputBuf) ReadLen(minElem int) int {
	n := i.ReadUint64()
	if i.err != nil {
		return 0
	}
	if minElem < 1 {
		minElem = 1
	}
	if n > uint64(len(i.buf)/minElem) {
		i.err = ErrShortBuffer
		return 0
	}
	return int(n)
}

func (i *InputBuf) ReadBytes() []byte {
	n := i.ReadLen(1)
	b := i.take(n)
	if b == nil {
		return nil
	}
	out := make([]byte, n)
	copy(out, b)
	return out
}

func (i *InputBuf) ReadFixed(n int) []byte {
	b := i.take(n)
	if b == nil {
		return nil
	}
	out := make([]byte, n)
	copy(out, b)
	return out
}

func (i *InputBuf) ReadString() string {
	n := i.ReadLen(1)
	b := i.take(n)
	return string(b)
}

func (i *InputBuf) ReadBigInt() *big.Int {
	neg := i.ReadUint8()
	mag := i.ReadBytes()
	x := new(big.Int).SetBytes(mag)
	if len(mag) > 0 && mag[0] == 0 {
		i.Fail(errors.New("canonical encoding: big integer magnitude has a leading zero"))
	}
	switch neg {
	case 0:
	case 1:
		if x.Sign() == 0 {
			i.Fail(errors.New("canonical encoding: negative zero"))
		}
		x.Neg(x)
	default:
		i.Fail(errors.New("canonical encoding: invalid sign byte"))
	}
	return x
}
