package matfile

// headerLen is the size of the fixed file header: 116 bytes of
// descriptive text, an 8-byte subsystem offset, a 2-byte version and
// the 2-byte endian indicator.
const headerLen = 128

// An Encoder provides utilities to write MAT-file data elements to a
// byte slice.
//
// Methods insert padding as needed to keep every data element aligned
// on a 64-bit boundary, and use the packed small-element form for
// payloads of four bytes or fewer, except for [Encoder.Write] which
// outputs bytes verbatim.
type Encoder struct {
	// Order is the byte order to use when encoding multi-byte values.
	Order ByteOrder
	// Out is the encoded output.
	Out []byte
}

// Header writes the 128-byte file header. text is the descriptive
// text; it is truncated or space-padded to 116 bytes. The first four
// bytes of text must be non-zero for readers to accept the file as
// Level 5.
func (e *Encoder) Header(text string) {
	var hdr [headerLen]byte
	for i := range hdr[:116] {
		hdr[i] = ' '
	}
	copy(hdr[:116], text)
	// Subsystem data offset: all spaces means none.
	for i := 116; i < 124; i++ {
		hdr[i] = ' '
	}
	e.Order.PutUint16(hdr[124:126], 0x0100)
	ind := e.Order.indicator()
	hdr[126] = ind[0]
	hdr[127] = ind[1]
	e.Out = append(e.Out, hdr[:]...)
}

// Pad inserts padding bytes as needed to make the output a multiple
// of 8 bytes. If the output is already correctly aligned, no padding
// is inserted.
func (e *Encoder) Pad() {
	extra := len(e.Out) % 8
	if extra == 0 {
		return
	}
	var pad [8]byte
	e.Out = append(e.Out, pad[:8-extra]...)
}

// Write writes bs as-is to the output. It is the caller's
// responsibility to ensure correct padding and framing.
func (e *Encoder) Write(bs []byte) {
	e.Out = append(e.Out, bs...)
}

// Tag writes a full 8-byte element tag for an element of type t
// holding n payload bytes. The caller must write exactly n payload
// bytes next, followed by [Encoder.Pad].
func (e *Encoder) Tag(t Type, n int) {
	e.Out = e.Order.AppendUint32(e.Out, uint32(t))
	e.Out = e.Order.AppendUint32(e.Out, uint32(n))
}

// Element writes a complete data element of type t with the given
// payload, using the packed small-element form when the payload fits
// in four bytes, and pads the output to the next 64-bit boundary.
func (e *Encoder) Element(t Type, payload []byte) {
	if len(payload) <= 4 {
		// Small data element: type in the low half-word, byte count
		// in the high half-word, payload packed into the second word.
		e.Out = e.Order.AppendUint32(e.Out, uint32(t)|uint32(len(payload))<<16)
		var word [4]byte
		copy(word[:], payload)
		e.Out = append(e.Out, word[:]...)
		return
	}
	e.Tag(t, len(payload))
	e.Out = append(e.Out, payload...)
	e.Pad()
}

// BeginMatrix writes a miMATRIX tag with a placeholder size and
// returns a mark for [Encoder.EndMatrix].
func (e *Encoder) BeginMatrix() int {
	e.Tag(Matrix, 0)
	return len(e.Out)
}

// EndMatrix patches the size of the matrix element opened at mark to
// cover everything written since.
func (e *Encoder) EndMatrix(mark int) {
	e.Order.PutUint32(e.Out[mark-4:mark], uint32(len(e.Out)-mark))
}

// ArrayFlags writes the array flags subelement for a matrix of the
// given class. flags is a combination of FlagComplex, FlagGlobal and
// FlagLogical. nzmax is the nonzero capacity for sparse matrices and
// zero otherwise.
func (e *Encoder) ArrayFlags(class Class, flags uint16, nzmax uint32) {
	e.Tag(Uint32, 8)
	e.Out = e.Order.AppendUint32(e.Out, uint32(class)|uint32(flags))
	e.Out = e.Order.AppendUint32(e.Out, nzmax)
}

// Dimensions writes the dimensions subelement.
func (e *Encoder) Dimensions(dims []int) {
	payload := make([]byte, 0, 4*len(dims))
	for _, d := range dims {
		payload = e.Order.AppendUint32(payload, uint32(int32(d)))
	}
	e.Element(Int32, payload)
}

// Name writes the array name subelement.
func (e *Encoder) Name(name string) {
	e.Element(Int8, []byte(name))
}
