// tensortype.go - GGML TensorType Definitionen
// Enthaelt: TensorType Konstanten fuer unquantisierte Typen, Parsing und Groessen
//
// Die numerischen Werte entsprechen ggml_type, damit geschriebene Dateien
// von GGUF-Werkzeugen gelesen werden koennen.

package ggml

import (
	"fmt"
	"strings"
)

// TensorType ist aequivalent zu ggml_type fuer einzelne Tensor-Typen
type TensorType uint32

const (
	TensorTypeF32  TensorType = 0
	TensorTypeF16  TensorType = 1
	TensorTypeI8   TensorType = 24
	TensorTypeI16  TensorType = 25
	TensorTypeI32  TensorType = 26
	TensorTypeI64  TensorType = 27
	TensorTypeF64  TensorType = 28
	TensorTypeBF16 TensorType = 30
)

// ParseTensorType parst den Tensortyp aus einem String (GGUF- oder safetensors-Schreibweise)
func ParseTensorType(s string) (TensorType, error) {
	switch strings.ToUpper(s) {
	case "F32":
		return TensorTypeF32, nil
	case "F16":
		return TensorTypeF16, nil
	case "BF16":
		return TensorTypeBF16, nil
	case "F64":
		return TensorTypeF64, nil
	case "I8":
		return TensorTypeI8, nil
	case "I16":
		return TensorTypeI16, nil
	case "I32":
		return TensorTypeI32, nil
	case "I64":
		return TensorTypeI64, nil
	default:
		return 0, fmt.Errorf("unsupported tensor type %s", s)
	}
}

// IsFloat prueft ob der Typ ein Gleitkommatyp ist
func (t TensorType) IsFloat() bool {
	switch t {
	case TensorTypeF32, TensorTypeF16, TensorTypeBF16, TensorTypeF64:
		return true
	default:
		return false
	}
}

// TypeSize gibt die Byte-Groesse pro Element zurueck
func (t TensorType) TypeSize() uint64 {
	switch t {
	case TensorTypeI8:
		return 1
	case TensorTypeF16, TensorTypeBF16, TensorTypeI16:
		return 2
	case TensorTypeF32, TensorTypeI32:
		return 4
	case TensorTypeF64, TensorTypeI64:
		return 8
	default:
		return 0
	}
}

// String gibt die String-Repraesentation des TensorType zurueck
func (t TensorType) String() string {
	switch t {
	case TensorTypeF32:
		return "F32"
	case TensorTypeF16:
		return "F16"
	case TensorTypeBF16:
		return "BF16"
	case TensorTypeF64:
		return "F64"
	case TensorTypeI8:
		return "I8"
	case TensorTypeI16:
		return "I16"
	case TensorTypeI32:
		return "I32"
	case TensorTypeI64:
		return "I64"
	default:
		return "unknown"
	}
}
