// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package dtypes

import "fmt"

// DType is an enum that represents the data type of a buffer or a scalar.
//
// The values are kept numerically aligned with the PJRT buffer type enum used across the
// GoMLX projects, so they can be exchanged with other backends without translation.
// Only the dtypes the CPU compute kernels operate on are defined here; the accelerator-only
// types (F8*, S4/U4, etc.) are not.
type DType int32

const (
	// InvalidDType serves as the default, invalid value.
	InvalidDType DType = 0

	// Bool is a two-state boolean (PRED in the C enum).
	Bool DType = 1

	// Int8 to Int64 are signed integral values of fixed width.
	Int8  DType = 2
	Int16 DType = 3
	Int32 DType = 4
	Int64 DType = 5

	// Uint8 to Uint64 are unsigned integral values of fixed width.
	Uint8  DType = 6
	Uint16 DType = 7
	Uint32 DType = 8
	Uint64 DType = 9

	// Float16 is the IEEE 754 half-precision floating point format.
	Float16 DType = 10

	// Float32 and Float64 are the IEEE 754 single and double precision formats.
	Float32 DType = 11
	Float64 DType = 12

	// BFloat16 is the truncated 16 bit floating-point format: 1 bit for the sign,
	// 8 bits for the exponent (same range as Float32) and 7 bits for the mantissa.
	BFloat16 DType = 13

	// Complex64 is a paired F32 (real, imag), as in std::complex<float>.
	Complex64 DType = 14

	// Complex128 is a paired F64 (real, imag), as in std::complex<double>.
	Complex128 DType = 15
)

// MaxDType is one past the largest valid DType value, for dispatch tables indexed by DType.
const MaxDType = 16

// Aliases from the PJRT C enum names.
const (
	INVALID = InvalidDType
	PRED    = Bool
	S8      = Int8
	S16     = Int16
	S32     = Int32
	S64     = Int64
	U8      = Uint8
	U16     = Uint16
	U32     = Uint32
	U64     = Uint64
	F16     = Float16
	F32     = Float32
	F64     = Float64
	BF16    = BFloat16
	C64     = Complex64
	C128    = Complex128
)

// MapOfNames to their dtypes. It includes also aliases to the various dtypes.
// It is also later initialized to include the lower-case version of the names.
var MapOfNames = map[string]DType{
	"InvalidDType": InvalidDType,
	"INVALID":      InvalidDType,
	"Bool":         Bool,
	"PRED":         Bool,
	"Int8":         Int8,
	"S8":           Int8,
	"Int16":        Int16,
	"S16":          Int16,
	"Int32":        Int32,
	"S32":          Int32,
	"Int64":        Int64,
	"S64":          Int64,
	"Uint8":        Uint8,
	"U8":           Uint8,
	"Uint16":       Uint16,
	"U16":          Uint16,
	"Uint32":       Uint32,
	"U32":          Uint32,
	"Uint64":       Uint64,
	"U64":          Uint64,
	"Float16":      Float16,
	"F16":          Float16,
	"Float32":      Float32,
	"F32":          Float32,
	"Float64":      Float64,
	"F64":          Float64,
	"BFloat16":     BFloat16,
	"BF16":         BFloat16,
	"Complex64":    Complex64,
	"C64":          Complex64,
	"Complex128":   Complex128,
	"C128":         Complex128,
}

// canonical names indexed by the DType value, used by String.
var dtypeNames = [MaxDType]string{
	"InvalidDType",
	"Bool",
	"Int8", "Int16", "Int32", "Int64",
	"Uint8", "Uint16", "Uint32", "Uint64",
	"Float16", "Float32", "Float64",
	"BFloat16",
	"Complex64", "Complex128",
}

// String implements fmt.Stringer and returns the canonical (camel-case) name of the dtype.
func (dtype DType) String() string {
	if dtype < 0 || dtype >= MaxDType {
		return fmt.Sprintf("DType(%d)", int32(dtype))
	}
	return dtypeNames[dtype]
}
