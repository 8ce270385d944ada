package octave

import (
	"github.com/matgo/octave/matfile"
)

// The numeric kind matrix is total in both directions: every Kind has
// exactly one storage type and array class, and every numeric array
// class maps back to a Kind. No width or signedness changes in
// transit; the only sanctioned conversion is the codec's default
// integer-to-float encoding, which happens before these tables are
// consulted.

var (
	// kindToType maps a Kind to the storage type its elements are
	// written as.
	kindToType = map[Kind]matfile.Type{
		Float64: matfile.Double,
		Float32: matfile.Single,
		Int8:    matfile.Int8,
		Int16:   matfile.Int16,
		Int32:   matfile.Int32,
		Int64:   matfile.Int64,
		Uint8:   matfile.Uint8,
		Uint16:  matfile.Uint16,
		Uint32:  matfile.Uint32,
		Uint64:  matfile.Uint64,
		Bool:    matfile.Uint8,
	}

	// kindToClass maps a Kind to its matrix class. Bool travels as a
	// uint8 class with the logical flag set.
	kindToClass = map[Kind]matfile.Class{
		Float64: matfile.DoubleClass,
		Float32: matfile.SingleClass,
		Int8:    matfile.Int8Class,
		Int16:   matfile.Int16Class,
		Int32:   matfile.Int32Class,
		Int64:   matfile.Int64Class,
		Uint8:   matfile.Uint8Class,
		Uint16:  matfile.Uint16Class,
		Uint32:  matfile.Uint32Class,
		Uint64:  matfile.Uint64Class,
		Bool:    matfile.Uint8Class,
	}

	// classToKind is the inverse of kindToClass for numeric classes.
	// The logical flag, checked by the decoder before this table,
	// turns any of these into Bool.
	classToKind = map[matfile.Class]Kind{
		matfile.DoubleClass: Float64,
		matfile.SingleClass: Float32,
		matfile.Int8Class:   Int8,
		matfile.Int16Class:  Int16,
		matfile.Int32Class:  Int32,
		matfile.Int64Class:  Int64,
		matfile.Uint8Class:  Uint8,
		matfile.Uint16Class: Uint16,
		matfile.Uint32Class: Uint32,
		matfile.Uint64Class: Uint64,
	}
)
