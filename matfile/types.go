package matfile

import "fmt"

// Type identifies the storage type of a MAT-file data element.
type Type uint32

const (
	Int8       Type = 1
	Uint8      Type = 2
	Int16      Type = 3
	Uint16     Type = 4
	Int32      Type = 5
	Uint32     Type = 6
	Single     Type = 7
	Double     Type = 9
	Int64      Type = 12
	Uint64     Type = 13
	Matrix     Type = 14
	Compressed Type = 15
	UTF8       Type = 16
	UTF16      Type = 17
	UTF32      Type = 18
)

// Size returns the width in bytes of one value of type t, or 0 for
// container and variable-width types.
func (t Type) Size() int {
	switch t {
	case Int8, Uint8, UTF8:
		return 1
	case Int16, Uint16, UTF16:
		return 2
	case Int32, Uint32, Single, UTF32:
		return 4
	case Double, Int64, Uint64:
		return 8
	}
	return 0
}

func (t Type) String() string {
	switch t {
	case Int8:
		return "miINT8"
	case Uint8:
		return "miUINT8"
	case Int16:
		return "miINT16"
	case Uint16:
		return "miUINT16"
	case Int32:
		return "miINT32"
	case Uint32:
		return "miUINT32"
	case Single:
		return "miSINGLE"
	case Double:
		return "miDOUBLE"
	case Int64:
		return "miINT64"
	case Uint64:
		return "miUINT64"
	case Matrix:
		return "miMATRIX"
	case Compressed:
		return "miCOMPRESSED"
	case UTF8:
		return "miUTF8"
	case UTF16:
		return "miUTF16"
	case UTF32:
		return "miUTF32"
	}
	return fmt.Sprintf("miUNKNOWN(%d)", uint32(t))
}

// Class identifies the array class of a matrix element.
type Class uint8

const (
	CellClass     Class = 1
	StructClass   Class = 2
	ObjectClass   Class = 3
	CharClass     Class = 4
	SparseClass   Class = 5
	DoubleClass   Class = 6
	SingleClass   Class = 7
	Int8Class     Class = 8
	Uint8Class    Class = 9
	Int16Class    Class = 10
	Uint16Class   Class = 11
	Int32Class    Class = 12
	Uint32Class   Class = 13
	Int64Class    Class = 14
	Uint64Class   Class = 15
	FunctionClass Class = 16
)

func (c Class) String() string {
	switch c {
	case CellClass:
		return "mxCELL_CLASS"
	case StructClass:
		return "mxSTRUCT_CLASS"
	case ObjectClass:
		return "mxOBJECT_CLASS"
	case CharClass:
		return "mxCHAR_CLASS"
	case SparseClass:
		return "mxSPARSE_CLASS"
	case DoubleClass:
		return "mxDOUBLE_CLASS"
	case SingleClass:
		return "mxSINGLE_CLASS"
	case Int8Class:
		return "mxINT8_CLASS"
	case Uint8Class:
		return "mxUINT8_CLASS"
	case Int16Class:
		return "mxINT16_CLASS"
	case Uint16Class:
		return "mxUINT16_CLASS"
	case Int32Class:
		return "mxINT32_CLASS"
	case Uint32Class:
		return "mxUINT32_CLASS"
	case Int64Class:
		return "mxINT64_CLASS"
	case Uint64Class:
		return "mxUINT64_CLASS"
	case FunctionClass:
		return "mxFUNCTION_CLASS"
	}
	return fmt.Sprintf("mxUNKNOWN(%d)", uint8(c))
}

// Matrix flag bits stored in the array flags subelement.
const (
	FlagComplex uint16 = 0x0800
	FlagGlobal  uint16 = 0x0400
	FlagLogical uint16 = 0x0200
)
