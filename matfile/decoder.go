package matfile

import (
	"fmt"
)

// A Decoder parses MAT-file data elements from a byte slice.
//
// Methods advance the read cursor past each element's trailing
// alignment padding, and transparently unpack the small-element form.
type Decoder struct {
	// Order is the byte order to use when reading multi-byte values.
	// NewDecoder sets it from the header's endian indicator.
	Order ByteOrder
	// Text is the descriptive text from the file header.
	Text string

	in  []byte
	off int
}

// NewDecoder parses the file header of bs and returns a decoder
// positioned at the first data element.
func NewDecoder(bs []byte) (*Decoder, error) {
	if len(bs) < headerLen {
		return nil, fmt.Errorf("matfile: short file: %d bytes", len(bs))
	}
	if bs[0] == 0 || bs[1] == 0 || bs[2] == 0 || bs[3] == 0 {
		return nil, fmt.Errorf("matfile: not a Level 5 MAT-file (null bytes in header text)")
	}
	d := &Decoder{in: bs, off: headerLen}
	switch {
	case bs[126] == 'I' && bs[127] == 'M':
		d.Order = LittleEndian
	case bs[126] == 'M' && bs[127] == 'I':
		d.Order = BigEndian
	default:
		return nil, fmt.Errorf("matfile: bad endian indicator %q", bs[126:128])
	}
	ver := d.Order.Uint16(bs[124:126])
	if ver != 0x0100 {
		return nil, fmt.Errorf("matfile: unsupported version %#04x", ver)
	}
	for i := 115; i >= 0; i-- {
		if bs[i] != ' ' && bs[i] != 0 {
			d.Text = string(bs[:i+1])
			break
		}
	}
	return d, nil
}

// Sub returns a decoder over the payload of a container element
// (typically a miMATRIX), sharing the parent's byte order. Container
// payloads begin 64-bit aligned, so nested elements align within the
// payload exactly as they do within the file.
func (d *Decoder) Sub(payload []byte) *Decoder {
	return &Decoder{Order: d.Order, in: payload}
}

// More reports whether any element data remains.
func (d *Decoder) More() bool {
	return len(d.in)-d.off >= 8
}

// Element reads the next data element, returning its type and
// payload. The payload aliases the decoder's input; callers must not
// modify it.
func (d *Decoder) Element() (Type, []byte, error) {
	if len(d.in)-d.off < 8 {
		return 0, nil, fmt.Errorf("matfile: truncated element tag at offset %d", d.off)
	}
	word := d.Order.Uint32(d.in[d.off : d.off+4])
	if small := word >> 16; small != 0 {
		// Small data element: payload lives in the tag's second word.
		if small > 4 {
			return 0, nil, fmt.Errorf("matfile: bad small element size %d at offset %d", small, d.off)
		}
		t := Type(word & 0xFFFF)
		payload := d.in[d.off+4 : d.off+4+int(small)]
		d.off += 8
		return t, payload, nil
	}
	t := Type(word)
	n := int(d.Order.Uint32(d.in[d.off+4 : d.off+8]))
	d.off += 8
	if len(d.in)-d.off < n {
		return 0, nil, fmt.Errorf("matfile: truncated %v element: want %d bytes, have %d", t, n, len(d.in)-d.off)
	}
	payload := d.in[d.off : d.off+n]
	d.off += n
	if extra := d.off % 8; extra != 0 && len(d.in)-d.off >= 8-extra {
		d.off += 8 - extra
	}
	return t, payload, nil
}

// ArrayFlags reads an array flags subelement previously returned by
// [Decoder.Element].
func (d *Decoder) ArrayFlags(t Type, payload []byte) (class Class, flags uint16, nzmax uint32, err error) {
	if t != Uint32 || len(payload) != 8 {
		return 0, 0, 0, fmt.Errorf("matfile: bad array flags subelement (%v, %d bytes)", t, len(payload))
	}
	word := d.Order.Uint32(payload[:4])
	return Class(word & 0xFF), uint16(word & 0xFF00), d.Order.Uint32(payload[4:8]), nil
}

// Dimensions decodes a dimensions subelement.
func (d *Decoder) Dimensions(t Type, payload []byte) ([]int, error) {
	if t != Int32 || len(payload)%4 != 0 {
		return nil, fmt.Errorf("matfile: bad dimensions subelement (%v, %d bytes)", t, len(payload))
	}
	dims := make([]int, len(payload)/4)
	for i := range dims {
		dims[i] = int(int32(d.Order.Uint32(payload[4*i : 4*i+4])))
	}
	return dims, nil
}
