// Package codec is the fixed binary layout shared by every entity stored in a
// cell and every instruction payload.
//
// The layout is Borsh: little-endian fixed-width integers, one byte booleans,
// u32 length prefixes for strings and lists, a presence byte in front of
// optional values and fixed arrays encoded inline.
package codec

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"unicode/utf8"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
)

var (
	// ErrTruncated means the input ended before the record did.
	ErrTruncated = errors.New("codec: truncated input")
	// ErrMalformed means the input holds a value the layout does not allow.
	ErrMalformed = errors.New("codec: malformed input")
	// ErrTooLarge means an encoding does not fit its destination.
	ErrTooLarge = errors.New("codec: encoding exceeds capacity")
)

var le = binary.LittleEndian

const keyLen = 32

// Encoder appends values in layout order. The first error sticks and every
// later write is a no-op, so callers check Err once at the end.
type Encoder struct {
	buf bytes.Buffer
	enc *bin.Encoder
	err error
}

func NewEncoder() *Encoder {
	e := &Encoder{}
	e.enc = bin.NewBorshEncoder(&e.buf)
	return e
}

func (e *Encoder) Err() error { return e.err }

// Bytes returns the encoding, or the first error hit while producing it.
func (e *Encoder) Bytes() ([]byte, error) {
	if e.err != nil {
		return nil, e.err
	}
	return e.buf.Bytes(), nil
}

func (e *Encoder) set(err error) {
	if err != nil && e.err == nil {
		e.err = err
	}
}

func (e *Encoder) Bool(v bool) {
	if e.err == nil {
		e.set(e.enc.WriteBool(v))
	}
}

func (e *Encoder) U8(v uint8) {
	if e.err == nil {
		e.set(e.enc.WriteUint8(v))
	}
}

func (e *Encoder) U32(v uint32) {
	if e.err == nil {
		e.set(e.enc.WriteUint32(v, le))
	}
}

func (e *Encoder) U64(v uint64) {
	if e.err == nil {
		e.set(e.enc.WriteUint64(v, le))
	}
}

func (e *Encoder) I64(v int64) {
	if e.err == nil {
		e.set(e.enc.WriteInt64(v, le))
	}
}

func (e *Encoder) Str(s string) {
	if e.err != nil {
		return
	}
	if !utf8.ValidString(s) {
		e.set(fmt.Errorf("%w: string is not utf-8", ErrMalformed))
		return
	}
	e.Len(len(s))
	if e.err == nil {
		e.set(e.enc.WriteBytes([]byte(s), false))
	}
}

// Len writes a u32 length prefix.
func (e *Encoder) Len(n int) {
	if e.err != nil {
		return
	}
	if n < 0 || uint64(n) > uint64(^uint32(0)) {
		e.set(fmt.Errorf("%w: length %d", ErrMalformed, n))
		return
	}
	e.U32(uint32(n))
}

func (e *Encoder) Key(k solana.PublicKey) {
	if e.err == nil {
		e.set(e.enc.WriteBytes(k[:], false))
	}
}

// Present writes the presence byte of an optional value.
func (e *Encoder) Present(ok bool) { e.Bool(ok) }

func (e *Encoder) OptionKey(k *solana.PublicKey) {
	e.Present(k != nil)
	if k != nil {
		e.Key(*k)
	}
}

func (e *Encoder) OptionI64(v *int64) {
	e.Present(v != nil)
	if v != nil {
		e.I64(*v)
	}
}

// Decoder reads values in layout order. Like Encoder the first error sticks,
// and every later read returns a zero value.
type Decoder struct {
	dec *bin.Decoder
	err error
}

func NewDecoder(data []byte) *Decoder {
	return &Decoder{dec: bin.NewBorshDecoder(data)}
}

func (d *Decoder) Err() error { return d.err }

// Remaining is the number of unread bytes.
func (d *Decoder) Remaining() int { return d.dec.Remaining() }

// Finish fails unless every byte was consumed.
func (d *Decoder) Finish() error {
	if d.err != nil {
		return d.err
	}
	if n := d.dec.Remaining(); n != 0 {
		return fmt.Errorf("%w: %d trailing bytes", ErrMalformed, n)
	}
	return nil
}

func (d *Decoder) fail(err error) {
	if d.err == nil {
		d.err = err
	}
}

func (d *Decoder) need(n int) bool {
	if d.err != nil {
		return false
	}
	if d.dec.Remaining() < n {
		d.fail(fmt.Errorf("%w: need %d bytes, have %d", ErrTruncated, n, d.dec.Remaining()))
		return false
	}
	return true
}

func (d *Decoder) Bool() bool {
	if !d.need(1) {
		return false
	}
	b, err := d.dec.ReadUint8()
	if err != nil {
		d.fail(fmt.Errorf("%w: %v", ErrTruncated, err))
		return false
	}
	switch b {
	case 0:
		return false
	case 1:
		return true
	}
	d.fail(fmt.Errorf("%w: bool byte %d", ErrMalformed, b))
	return false
}

func (d *Decoder) U8() uint8 {
	if !d.need(1) {
		return 0
	}
	v, err := d.dec.ReadUint8()
	if err != nil {
		d.fail(fmt.Errorf("%w: %v", ErrTruncated, err))
	}
	return v
}

func (d *Decoder) U32() uint32 {
	if !d.need(4) {
		return 0
	}
	v, err := d.dec.ReadUint32(le)
	if err != nil {
		d.fail(fmt.Errorf("%w: %v", ErrTruncated, err))
	}
	return v
}

func (d *Decoder) U64() uint64 {
	if !d.need(8) {
		return 0
	}
	v, err := d.dec.ReadUint64(le)
	if err != nil {
		d.fail(fmt.Errorf("%w: %v", ErrTruncated, err))
	}
	return v
}

func (d *Decoder) I64() int64 {
	if !d.need(8) {
		return 0
	}
	v, err := d.dec.ReadInt64(le)
	if err != nil {
		d.fail(fmt.Errorf("%w: %v", ErrTruncated, err))
	}
	return v
}

func (d *Decoder) raw(n int) []byte {
	if !d.need(n) {
		return nil
	}
	b, err := d.dec.ReadNBytes(n)
	if err != nil {
		d.fail(fmt.Errorf("%w: %v", ErrTruncated, err))
		return nil
	}
	return b
}

// Len reads a u32 length prefix and checks it against the unread input,
// with each element taking at least minElem bytes.
func (d *Decoder) Len(minElem int) int {
	n := d.U32()
	if d.err != nil {
		return 0
	}
	if minElem < 1 {
		minElem = 1
	}
	if uint64(n)*uint64(minElem) > uint64(d.dec.Remaining()) {
		d.fail(fmt.Errorf("%w: length %d exceeds input", ErrTruncated, n))
		return 0
	}
	return int(n)
}

func (d *Decoder) Str() string {
	n := d.Len(1)
	if n == 0 || d.err != nil {
		return ""
	}
	b := d.raw(n)
	if d.err != nil {
		return ""
	}
	if !utf8.Valid(b) {
		d.fail(fmt.Errorf("%w: string is not utf-8", ErrMalformed))
		return ""
	}
	return string(b)
}

func (d *Decoder) Key() solana.PublicKey {
	var k solana.PublicKey
	b := d.raw(keyLen)
	if d.err == nil {
		copy(k[:], b)
	}
	return k
}

func (d *Decoder) Present() bool { return d.Bool() }

func (d *Decoder) OptionKey() *solana.PublicKey {
	if !d.Present() || d.err != nil {
		return nil
	}
	k := d.Key()
	if d.err != nil {
		return nil
	}
	return &k
}

func (d *Decoder) OptionI64() *int64 {
	if !d.Present() || d.err != nil {
		return nil
	}
	v := d.I64()
	if d.err != nil {
		return nil
	}
	return &v
}
