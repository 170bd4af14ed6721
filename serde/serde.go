package serde

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"slices"

	"github.com/CefBoud/monpubsub/types"
)

// Encoding is Big Endian on the wire
var Encoding = binary.BigEndian

// MaxFrameSize bounds the length prefix accepted by ReadFrame
const MaxFrameSize = 16 << 20

// ErrShortBuffer is returned when a decoder runs past the end of its input
var ErrShortBuffer = errors.New("serde: short buffer")

// ErrStringTooLong is set on an Encoder given a string its uint16 length cannot describe
var ErrStringTooLong = errors.New("serde: string longer than 65535 bytes")

// Encoder is a byte slice with an offset. A value that cannot be encoded
// sets a sticky error and is skipped; check Err before sending.
type Encoder struct {
	b      []byte // Buffer to hold encoded data
	offset int    // Current position in the buffer
	err    error
}

// BufferIncrement is the size of increment when buffer limit is reached
const BufferIncrement = 4096

// NewEncoder creates a new Encoder with an initial buffer
func NewEncoder() Encoder {
	return Encoder{b: make([]byte, BufferIncrement)}
}

// ensureBufferSpace ensures the buffer has enough space to accommodate the new data
func (e *Encoder) ensureBufferSpace(off int) {
	if off+e.offset > len(e.b) {
		grow := BufferIncrement
		if off > grow {
			grow = off
		}
		newBuffer := make([]byte, len(e.b)+grow)
		copy(newBuffer, e.b)
		e.b = newBuffer
	}
}

// PutInt32 encodes a uint32 value into the buffer
func (e *Encoder) PutInt32(i uint32) {
	e.ensureBufferSpace(4)
	Encoding.PutUint32(e.b[e.offset:], i)
	e.offset += 4
}

// PutInt64 encodes a uint64 value into the buffer
func (e *Encoder) PutInt64(i uint64) {
	e.ensureBufferSpace(8)
	Encoding.PutUint64(e.b[e.offset:], i)
	e.offset += 8
}

// PutInt16 encodes a uint16 value into the buffer
func (e *Encoder) PutInt16(i uint16) {
	e.ensureBufferSpace(2)
	Encoding.PutUint16(e.b[e.offset:], i)
	e.offset += 2
}

// PutInt8 encodes a uint8 value into the buffer
func (e *Encoder) PutInt8(i uint8) {
	e.ensureBufferSpace(1)
	e.b[e.offset] = byte(i)
	e.offset++
}

// PutBool encodes a boolean value into the buffer
func (e *Encoder) PutBool(b bool) {
	e.ensureBufferSpace(1)
	e.b[e.offset] = byte(0)
	if b {
		e.b[e.offset] = byte(1)
	}
	e.offset++
}

// Err returns the first error met while encoding
func (e *Encoder) Err() error { return e.err }

// PutString encodes a string (uint16 length + content) into the buffer
func (e *Encoder) PutString(s string) {
	if len(s) > math.MaxUint16 {
		if e.err == nil {
			e.err = fmt.Errorf("%w: %d bytes", ErrStringTooLong, len(s))
		}
		return
	}
	e.ensureBufferSpace(2 + len(s))
	e.PutInt16(uint16(len(s)))
	copy(e.b[e.offset:], s)
	e.offset += len(s)
}

// PutStringArray encodes a uint32 count followed by each string
func (e *Encoder) PutStringArray(a []string) {
	e.PutInt32(uint32(len(a)))
	for _, s := range a {
		e.PutString(s)
	}
}

// PutBytes encodes a byte slice into the buffer, without a length
func (e *Encoder) PutBytes(b []byte) {
	e.ensureBufferSpace(len(b))
	copy(e.b[e.offset:], b)
	e.offset += len(b)
}

// PutBytesWithLen encodes a uint32 length followed by the bytes
func (e *Encoder) PutBytesWithLen(b []byte) {
	e.PutInt32(uint32(len(b)))
	e.PutBytes(b)
}

// PutLongString encodes a string with a uint32 length
func (e *Encoder) PutLongString(s string) {
	e.PutInt32(uint32(len(s)))
	e.ensureBufferSpace(len(s))
	copy(e.b[e.offset:], s)
	e.offset += len(s)
}

// PutLen encodes the total length of the buffer at the start
func (e *Encoder) PutLen() {
	lengthBytes := Encoding.AppendUint32([]byte{}, uint32(e.offset))
	e.b = slices.Insert(e.b[:e.offset], 0, lengthBytes...)
	e.offset += len(lengthBytes)
}

// Bytes returns the encoded data as a byte slice
func (e *Encoder) Bytes() []byte {
	return e.b[:e.offset]
}

// FinishAndReturn puts the final length and returns the frame
func (e *Encoder) FinishAndReturn() []byte {
	e.PutLen()
	return e.Bytes()
}

// ReadFrame reads one length-prefixed frame. The returned slice includes the
// 4-byte length so it can be handed to ParseHeader.
func ReadFrame(r io.Reader) ([]byte, error) {
	// ReadFull (not Read) is used to ensure the entire frame is read. Partial data would result in parsing errors
	lengthBuffer := make([]byte, 4)
	if _, err := io.ReadFull(r, lengthBuffer); err != nil {
		return nil, err
	}
	length := Encoding.Uint32(lengthBuffer)
	if length > MaxFrameSize {
		return nil, fmt.Errorf("serde: frame of %d bytes exceeds limit", length)
	}
	buffer := make([]byte, length+4)
	copy(buffer, lengthBuffer)
	if _, err := io.ReadFull(r, buffer[4:]); err != nil {
		return nil, err
	}
	return buffer, nil
}

// ParseHeader parses the header of a request frame
func ParseHeader(buffer []byte, connAddr string) (types.Request, error) {
	d := NewDecoder(buffer)
	req := types.Request{
		Length:            d.UInt32(),
		RequestAPIKey:     d.UInt16(),
		RequestAPIVersion: d.UInt16(),
		CorrelationID:     d.UInt32(),
		ClientID:          d.String(),
		Attributes:        d.UInt8(),
		ConnectionAddress: connAddr,
	}
	if err := d.Err(); err != nil {
		return types.Request{}, fmt.Errorf("parse request header: %w", err)
	}
	req.Body = d.Rest()
	return req, nil
}

// ParseResponseHeader parses the header of a response frame
func ParseResponseHeader(buffer []byte) (types.Response, error) {
	d := NewDecoder(buffer)
	resp := types.Response{
		Length:        d.UInt32(),
		CorrelationID: d.UInt32(),
		ErrorCode:     int16(d.UInt16()),
	}
	if err := d.Err(); err != nil {
		return types.Response{}, fmt.Errorf("parse response header: %w", err)
	}
	resp.Body = d.Rest()
	return resp, nil
}

// Decoder is a byte slice and offset. Reads past the end set a sticky error
// and return zero values; check Err once decoding is done.
type Decoder struct {
	b      []byte
	Offset int
	err    error
}

// NewDecoder creates a new Decoder from a byte slice
func NewDecoder(b []byte) Decoder {
	return Decoder{b: b}
}

// Err returns the first error met while decoding
func (d *Decoder) Err() error { return d.err }

func (d *Decoder) need(n int) bool {
	if d.err != nil {
		return false
	}
	if n < 0 || d.Offset+n > len(d.b) {
		d.err = ErrShortBuffer
		return false
	}
	return true
}

// UInt32 decodes a uint32 value from the buffer
func (d *Decoder) UInt32() uint32 {
	if !d.need(4) {
		return 0
	}
	res := Encoding.Uint32(d.b[d.Offset:])
	d.Offset += 4
	return res
}

// UInt64 decodes a uint64 value from the buffer
func (d *Decoder) UInt64() uint64 {
	if !d.need(8) {
		return 0
	}
	res := Encoding.Uint64(d.b[d.Offset:])
	d.Offset += 8
	return res
}

// UInt16 decodes a uint16 value from the buffer
func (d *Decoder) UInt16() uint16 {
	if !d.need(2) {
		return 0
	}
	res := Encoding.Uint16(d.b[d.Offset:])
	d.Offset += 2
	return res
}

// UInt8 decodes a uint8 value from the buffer
func (d *Decoder) UInt8() uint8 {
	if !d.need(1) {
		return 0
	}
	res := uint8(d.b[d.Offset])
	d.Offset++
	return res
}

// Bool decodes a boolean value from the buffer
func (d *Decoder) Bool() bool {
	return d.UInt8() > 0
}

// String decodes a string (length + content) from the buffer
func (d *Decoder) String() string {
	stringLen := int(d.UInt16())
	if stringLen == 0 || !d.need(stringLen) {
		return ""
	}
	res := string(d.b[d.Offset : d.Offset+stringLen])
	d.Offset += stringLen
	return res
}

// StringArray decodes a uint32 count followed by that many strings
func (d *Decoder) StringArray() []string {
	n := int(d.UInt32())
	// every string takes at least its 2-byte length
	if !d.need(2 * n) {
		return nil
	}
	res := make([]string, 0, n)
	for i := 0; i < n; i++ {
		res = append(res, d.String())
	}
	return res
}

// BytesWithLen decodes a uint32 length followed by the bytes
func (d *Decoder) BytesWithLen() []byte {
	n := int(d.UInt32())
	if !d.need(n) {
		return nil
	}
	res := d.b[d.Offset : d.Offset+n]
	d.Offset += n
	return res
}

// LongString decodes a uint32 length followed by the string
func (d *Decoder) LongString() string {
	return string(d.BytesWithLen())
}

// Rest returns every byte not consumed yet
func (d *Decoder) Rest() []byte {
	if d.Offset >= len(d.b) {
		return []byte{}
	}
	res := d.b[d.Offset:]
	d.Offset = len(d.b)
	return res
}
