// tensor.go - Materialisierter Tensor mit Checkpoint-Datentyp
//
// Enthaelt:
// - Tensor: *tensor.Dense plus ggml.TensorType
// - NewTensor, ZerosOf: Konstruktoren
// - Cast: Datentyp-Konvertierung
// - Equal: bit-identischer Vergleich
// - Bytes/WriteTo: Little-Endian Serialisierung nach Datentyp
//
// Speicherklassen: F32/F16/BF16 liegen als float32 vor, Integer in ihrer Breite.
package weights

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"slices"

	bfloat16 "github.com/d4l3k/go-bfloat16"
	"github.com/pdevine/tensor"
	"github.com/x448/float16"

	"github.com/ollama/weightpipe/fs/ggml"
)

// Tensor ist ein materialisierter Tensor zusammen mit seinem Datentyp
type Tensor struct {
	*tensor.Dense
	Type ggml.TensorType
}

// storageDtype gibt die Speicherklasse fuer einen Datentyp zurueck
func storageDtype(typ ggml.TensorType) (tensor.Dtype, error) {
	switch typ {
	case ggml.TensorTypeF32, ggml.TensorTypeF16, ggml.TensorTypeBF16:
		return tensor.Float32, nil
	case ggml.TensorTypeF64:
		return tensor.Float64, nil
	case ggml.TensorTypeI8:
		return tensor.Int8, nil
	case ggml.TensorTypeI16:
		return tensor.Int16, nil
	case ggml.TensorTypeI32:
		return tensor.Int32, nil
	case ggml.TensorTypeI64:
		return tensor.Int64, nil
	default:
		return tensor.Dtype{}, fmt.Errorf("unsupported tensor type %s", typ)
	}
}

// NewTensor erstellt einen Tensor; backing muss zur Speicherklasse passen
func NewTensor(typ ggml.TensorType, shape []int, backing any) (*Tensor, error) {
	dt, err := storageDtype(typ)
	if err != nil {
		return nil, err
	}

	n := 1
	for _, d := range shape {
		n *= d
	}

	var size int
	switch b := backing.(type) {
	case []float32:
		size = len(b)
	case []float64:
		size = len(b)
	case []int8:
		size = len(b)
	case []int16:
		size = len(b)
	case []int32:
		size = len(b)
	case []int64:
		size = len(b)
	default:
		return nil, fmt.Errorf("unsupported backing %T", backing)
	}

	if size != n {
		return nil, fmt.Errorf("backing has %d elements, shape %v needs %d", size, shape, n)
	}

	d := tensor.New(tensor.WithShape(slices.Clone(shape)...), tensor.WithBacking(backing))
	if d.Dtype() != dt {
		return nil, fmt.Errorf("backing %s does not match %s", d.Dtype(), typ)
	}

	return &Tensor{Dense: d, Type: typ}, nil
}

// ZerosOf erstellt einen mit Nullen gefuellten Tensor
func ZerosOf(typ ggml.TensorType, shape ...int) (*Tensor, error) {
	dt, err := storageDtype(typ)
	if err != nil {
		return nil, err
	}
	return &Tensor{Dense: tensor.New(tensor.Of(dt), tensor.WithShape(slices.Clone(shape)...)), Type: typ}, nil
}

// raw gibt den Backing-Slice zurueck, auch fuer Tensoren mit einem Element
func raw(d *tensor.Dense) any {
	switch d.Dtype() {
	case tensor.Float32:
		return d.Float32s()
	case tensor.Float64:
		return d.Float64s()
	case tensor.Int8:
		return d.Int8s()
	case tensor.Int16:
		return d.Int16s()
	case tensor.Int32:
		return d.Int32s()
	case tensor.Int64:
		return d.Int64s()
	default:
		return nil
	}
}

func (t *Tensor) dims() []int {
	return slices.Clone([]int(t.Shape()))
}

// with uebernimmt den Datentyp fuer einen neuen Dense
func (t *Tensor) with(d *tensor.Dense) *Tensor {
	return &Tensor{Dense: d, Type: t.Type}
}

// Float32s gibt die Werte eines Float-Tensors zurueck (ohne Kopie)
func (t *Tensor) Float32s() ([]float32, error) {
	vs, ok := raw(t.Dense).([]float32)
	if !ok {
		return nil, fmt.Errorf("tensor of type %s has no float32 storage", t.Type)
	}
	return vs, nil
}

func (t *Tensor) isFloat() bool {
	return t.Type.IsFloat()
}

// float64s liest alle Werte unabhaengig von der Speicherklasse
func (t *Tensor) float64s() []float64 {
	switch vs := raw(t.Dense).(type) {
	case []float32:
		return convertSlice[float32, float64](vs)
	case []float64:
		return slices.Clone(vs)
	case []int8:
		return convertSlice[int8, float64](vs)
	case []int16:
		return convertSlice[int16, float64](vs)
	case []int32:
		return convertSlice[int32, float64](vs)
	case []int64:
		return convertSlice[int64, float64](vs)
	default:
		return nil
	}
}

func (t *Tensor) int64s() []int64 {
	switch vs := raw(t.Dense).(type) {
	case []int8:
		return convertSlice[int8, int64](vs)
	case []int16:
		return convertSlice[int16, int64](vs)
	case []int32:
		return convertSlice[int32, int64](vs)
	case []int64:
		return slices.Clone(vs)
	default:
		return convertSlice[float64, int64](t.float64s())
	}
}

type number interface {
	~int8 | ~int16 | ~int32 | ~int64 | ~float32 | ~float64
}

func convertSlice[S, D number](s []S) []D {
	d := make([]D, len(s))
	for i, v := range s {
		d[i] = D(v)
	}
	return d
}

// roundFloat rundet float32-Werte auf die Genauigkeit des Zieltyps
func roundFloat(typ ggml.TensorType, vs []float32) []float32 {
	switch typ {
	case ggml.TensorTypeF16:
		for i, v := range vs {
			vs[i] = float16.Fromfloat32(v).Float32()
		}
	case ggml.TensorTypeBF16:
		vs = bfloat16.DecodeFloat32(bfloat16.EncodeFloat32(vs))
	}
	return vs
}

// Cast konvertiert den Tensor in den Zieltyp
func (t *Tensor) Cast(typ ggml.TensorType) (*Tensor, error) {
	if typ == t.Type {
		return t, nil
	}

	shape := t.dims()
	var backing any
	switch typ {
	case ggml.TensorTypeF32, ggml.TensorTypeF16, ggml.TensorTypeBF16:
		var vs []float32
		if src, ok := raw(t.Dense).([]float32); ok {
			vs = slices.Clone(src)
		} else {
			vs = convertSlice[float64, float32](t.float64s())
		}
		backing = roundFloat(typ, vs)
	case ggml.TensorTypeF64:
		backing = t.float64s()
	case ggml.TensorTypeI8:
		backing = convertSlice[int64, int8](t.int64s())
	case ggml.TensorTypeI16:
		backing = convertSlice[int64, int16](t.int64s())
	case ggml.TensorTypeI32:
		backing = convertSlice[int64, int32](t.int64s())
	case ggml.TensorTypeI64:
		backing = t.int64s()
	default:
		return nil, fmt.Errorf("cannot cast %s to %s", t.Type, typ)
	}

	return NewTensor(typ, shape, backing)
}

// Bytes serialisiert den Tensor im Little-Endian-Format seines Datentyps
func (t *Tensor) Bytes() ([]byte, error) {
	switch t.Type {
	case ggml.TensorTypeF16:
		vs, err := t.Float32s()
		if err != nil {
			return nil, err
		}
		u16s := make([]uint16, len(vs))
		for i, v := range vs {
			u16s[i] = float16.Fromfloat32(v).Bits()
		}
		var buf bytes.Buffer
		if err := binary.Write(&buf, binary.LittleEndian, u16s); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	case ggml.TensorTypeBF16:
		vs, err := t.Float32s()
		if err != nil {
			return nil, err
		}
		return bfloat16.EncodeFloat32(vs), nil
	default:
		var buf bytes.Buffer
		if err := binary.Write(&buf, binary.LittleEndian, raw(t.Dense)); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	}
}

// WriteTo implementiert io.WriterTo fuer den GGUF-Writer
func (t *Tensor) WriteTo(w io.Writer) (int64, error) {
	bts, err := t.Bytes()
	if err != nil {
		return 0, err
	}
	n, err := w.Write(bts)
	return int64(n), err
}

// Equal prueft auf bit-identische Tensoren (Typ, Shape, Bytes)
func (t *Tensor) Equal(o *Tensor) bool {
	if t == nil || o == nil {
		return t == o
	}
	if t.Type != o.Type || !slices.Equal(t.dims(), o.dims()) {
		return false
	}
	a, err := t.Bytes()
	if err != nil {
		return false
	}
	b, err := o.Bytes()
	if err != nil {
		return false
	}
	return bytes.Equal(a, b)
}

func (t *Tensor) String() string {
	return fmt.Sprintf("%s%v", t.Type, t.dims())
}

// Format ersetzt die Formatierung von tensor.Dense, die sonst alle Werte ausgibt
func (t *Tensor) Format(f fmt.State, _ rune) {
	io.WriteString(f, t.String())
}
