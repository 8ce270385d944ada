package matfile

import (
	"encoding/binary"

	"golang.org/x/sys/cpu"
)

// ByteOrder is the byte order used to read and write multi-byte
// values in a MAT-file.
type ByteOrder interface {
	byteOrder
	// indicator returns the two endian indicator bytes stored at
	// offset 126 of the file header: "MI" written in the producer's
	// byte order.
	indicator() [2]byte
}

type byteOrder interface {
	binary.ByteOrder
	binary.AppendByteOrder
}

type wrapStd struct {
	byteOrder
}

func (w wrapStd) indicator() [2]byte {
	switch w.byteOrder {
	case binary.BigEndian:
		return [2]byte{'M', 'I'}
	case binary.LittleEndian:
		return [2]byte{'I', 'M'}
	case binary.NativeEndian:
		if cpu.IsBigEndian {
			return [2]byte{'M', 'I'}
		}
		return [2]byte{'I', 'M'}
	default:
		panic("unknown ByteOrder, how did you manage to make one of those?")
	}
}

var (
	BigEndian    = wrapStd{binary.BigEndian}
	LittleEndian = wrapStd{binary.LittleEndian}
	NativeEndian = wrapStd{binary.NativeEndian}
)
