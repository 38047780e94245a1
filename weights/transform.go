// transform.go - Reine Tensor-Shape-Funktionen
//
// Enthaelt:
// - Transform: benannte Funktion ueber eine geordnete Tensor-Liste
// - Identity, Transpose, Concat0, Concat1, Stack, StackMoeW1
// - Pad, PadW13, MergeQKVHF, Zeros
// - MergeQKVLoraA, MergeQKVLoraB: LoRA-Vorverarbeitung fuer fusioniertes QKV
// - StackMoeW1LoraB: Block-Diagonale pro Experte fuer gestapelte LoRA-B
//
// Jede Funktion prueft Rang und Shapes und liefert einen ShapeMismatchError.
// Es wird nie gebroadcastet.
package weights

import (
	"errors"
	"fmt"
	"slices"

	"github.com/pdevine/tensor"

	"github.com/ollama/weightpipe/fs/ggml"
)

// Transform ist eine benannte, seiteneffektfreie Funktion; der Nullwert ist Identity
type Transform struct {
	name string
	fn   func(ts []*Tensor) (*Tensor, error)
}

func newTransform(name string, fn func(ts []*Tensor) (*Tensor, error)) Transform {
	return Transform{name: name, fn: fn}
}

func (f Transform) String() string {
	if f.fn == nil {
		return "identity"
	}
	return f.name
}

// IsIdentity prueft auf den Nullwert
func (f Transform) IsIdentity() bool {
	return f.fn == nil
}

// Apply wendet die Funktion an; Eingaben werden nie veraendert
func (f Transform) Apply(ts ...*Tensor) (*Tensor, error) {
	for _, t := range ts {
		if t == nil || t.Dense == nil {
			return nil, &ShapeMismatchError{Op: f.String(), Detail: "nil input tensor"}
		}
	}

	var out *Tensor
	var err error
	if f.fn == nil {
		out, err = identity(ts)
	} else {
		out, err = f.fn(ts)
	}

	if err != nil {
		var se *ShapeMismatchError
		if errors.As(err, &se) && se.Op == "" {
			se.Op = f.String()
		}
		return nil, err
	}
	return out, nil
}

// ============================================================================
// Basis-Funktionen
// ============================================================================

// Identity gibt den einzigen Eingabe-Tensor unveraendert zurueck
func Identity() Transform {
	return Transform{}
}

func identity(ts []*Tensor) (*Tensor, error) {
	if len(ts) != 1 {
		return nil, shapeError("identity", ts, "expects exactly 1 tensor, got %d", len(ts))
	}
	return ts[0], nil
}

// Transpose vertauscht die beiden letzten Dimensionen
func Transpose() Transform {
	return newTransform("transpose", func(ts []*Tensor) (*Tensor, error) {
		if len(ts) != 1 {
			return nil, shapeError("", ts, "expects exactly 1 tensor, got %d", len(ts))
		}
		return transpose(ts[0])
	})
}

func transpose(t *Tensor) (*Tensor, error) {
	shape := t.dims()
	if len(shape) < 2 {
		return nil, shapeError("transpose", []*Tensor{t}, "needs rank >= 2, got rank %d", len(shape))
	}

	axes := make([]int, len(shape))
	for i := range axes {
		axes[i] = i
	}
	n := len(axes)
	axes[n-2], axes[n-1] = axes[n-1], axes[n-2]

	tt, err := tensor.Transpose(t.Dense, axes...)
	if err != nil {
		return nil, shapeError("transpose", []*Tensor{t}, "%v", err)
	}
	return t.with(tensor.Materialize(tt).(*tensor.Dense)), nil
}

// Concat0 verbindet Shards entlang Dimension 0
func Concat0() Transform {
	return newTransform("concat_0", func(ts []*Tensor) (*Tensor, error) {
		return concat(0, ts)
	})
}

// Concat1 verbindet Shards entlang Dimension 1
func Concat1() Transform {
	return newTransform("concat_1", func(ts []*Tensor) (*Tensor, error) {
		return concat(1, ts)
	})
}

func concat(axis int, ts []*Tensor) (*Tensor, error) {
	if len(ts) == 0 {
		return nil, shapeError("", ts, "no tensors to concatenate")
	}

	first := ts[0].dims()
	if axis >= len(first) {
		return nil, shapeError("", ts, "axis %d out of range for rank %d", axis, len(first))
	}
	for _, t := range ts[1:] {
		if t.Type != ts[0].Type {
			return nil, shapeError("", ts, "mixed types %s and %s", ts[0].Type, t.Type)
		}
		shape := t.dims()
		if len(shape) != len(first) {
			return nil, shapeError("", ts, "mixed ranks")
		}
		for d := range shape {
			if d != axis && shape[d] != first[d] {
				return nil, shapeError("", ts, "dimension %d differs", d)
			}
		}
	}

	if len(ts) == 1 {
		return ts[0], nil
	}

	others := make([]tensor.Tensor, 0, len(ts)-1)
	for _, t := range ts[1:] {
		others = append(others, t.Dense)
	}

	out, err := tensor.Concat(axis, ts[0].Dense, others...)
	if err != nil {
		return nil, shapeError("", ts, "%v", err)
	}
	return ts[0].with(tensor.Materialize(out).(*tensor.Dense)), nil
}

// Stack stapelt gleich geformte Tensoren entlang einer neuen fuehrenden Achse
func Stack() Transform {
	return newTransform("stack", stack)
}

func stack(ts []*Tensor) (*Tensor, error) {
	if len(ts) == 0 {
		return nil, shapeError("", ts, "no tensors to stack")
	}

	expanded := make([]*Tensor, len(ts))
	for i, t := range ts {
		if t.Type != ts[0].Type || !slices.Equal(t.dims(), ts[0].dims()) {
			return nil, shapeError("", ts, "tensor %d differs from tensor 0", i)
		}

		d := t.Dense.Clone().(*tensor.Dense)
		if err := d.Reshape(append([]int{1}, t.dims()...)...); err != nil {
			return nil, shapeError("", ts, "%v", err)
		}
		expanded[i] = t.with(d)
	}

	return concat(0, expanded)
}

// StackMoeW1 - erste Haelfte der Eingaben sind die ersten Projektionen pro Experte,
// zweite Haelfte die zweiten; pro Experte wird das Paar entlang Dimension 0
// verbunden und danach in aufsteigender Experten-Reihenfolge gestapelt.
func StackMoeW1() Transform {
	return newTransform("stack_moe_w1", func(ts []*Tensor) (*Tensor, error) {
		if len(ts) == 0 || len(ts)%2 != 0 {
			return nil, shapeError("", ts, "expects an even, non-zero number of tensors, got %d", len(ts))
		}

		n := len(ts) / 2
		pairs := make([]*Tensor, n)
		for i := range n {
			t, err := concat(0, []*Tensor{ts[i], ts[n+i]})
			if err != nil {
				return nil, err
			}
			pairs[i] = t
		}
		return stack(pairs)
	})
}

// ============================================================================
// Padding
// ============================================================================

// Pad fuellt einen 2-D Tensor entlang dim mit Nullen auf size auf
func Pad(size, dim int) Transform {
	return newTransform(fmt.Sprintf("pad(%d,dim=%d)", size, dim), func(ts []*Tensor) (*Tensor, error) {
		if len(ts) != 1 {
			return nil, shapeError("", ts, "expects exactly 1 tensor, got %d", len(ts))
		}
		return pad(ts[0], size, dim)
	})
}

// PadW13 fuellt Gate und Up einzeln auf und verbindet sie entlang Dimension 1
func PadW13(size, dim int) Transform {
	return newTransform(fmt.Sprintf("pad_w13(%d,dim=%d)", size, dim), func(ts []*Tensor) (*Tensor, error) {
		if len(ts) != 2 {
			return nil, shapeError("", ts, "expects a gate/up pair, got %d tensors", len(ts))
		}
		w1, err := pad(ts[0], size, dim)
		if err != nil {
			return nil, err
		}
		w3, err := pad(ts[1], size, dim)
		if err != nil {
			return nil, err
		}
		return concat(1, []*Tensor{w1, w3})
	})
}

func pad(t *Tensor, size, dim int) (*Tensor, error) {
	shape := t.dims()
	if len(shape) != 2 {
		return nil, shapeError("", []*Tensor{t}, "needs rank 2, got rank %d", len(shape))
	}
	if dim != 0 && dim != 1 {
		return nil, shapeError("", []*Tensor{t}, "invalid pad dimension %d", dim)
	}
	if size < shape[dim] {
		return nil, shapeError("", []*Tensor{t}, "target size %d smaller than dimension %d (%d)", size, dim, shape[dim])
	}
	if size == shape[dim] {
		return t, nil
	}

	rows, cols := shape[0], shape[1]
	var backing any
	switch vs := raw(t.Dense).(type) {
	case []float32:
		backing = padRows(vs, rows, cols, size, dim)
	case []float64:
		backing = padRows(vs, rows, cols, size, dim)
	case []int8:
		backing = padRows(vs, rows, cols, size, dim)
	case []int16:
		backing = padRows(vs, rows, cols, size, dim)
	case []int32:
		backing = padRows(vs, rows, cols, size, dim)
	case []int64:
		backing = padRows(vs, rows, cols, size, dim)
	default:
		return nil, fmt.Errorf("pad: unsupported storage for %s", t.Type)
	}

	shape[dim] = size
	return NewTensor(t.Type, shape, backing)
}

func padRows[T any](src []T, rows, cols, size, dim int) []T {
	if dim == 0 {
		dst := make([]T, size*cols)
		copy(dst, src)
		return dst
	}

	dst := make([]T, rows*size)
	for r := range rows {
		copy(dst[r*size:r*size+cols], src[r*cols:(r+1)*cols])
	}
	return dst
}

// ============================================================================
// QKV
// ============================================================================

// MergeQKVHF transponiert q, k, v und verbindet sie entlang Dimension 1
func MergeQKVHF() Transform {
	return newTransform("merge_qkv_hf", func(ts []*Tensor) (*Tensor, error) {
		if len(ts) != 3 {
			return nil, shapeError("", ts, "expects q, k, v, got %d tensors", len(ts))
		}
		return transposeConcat1(ts)
	})
}

func transposeConcat1(ts []*Tensor) (*Tensor, error) {
	transposed := make([]*Tensor, len(ts))
	for i, t := range ts {
		if len(t.dims()) != 2 {
			return nil, shapeError("", ts, "tensor %d needs rank 2", i)
		}
		tt, err := transpose(t)
		if err != nil {
			return nil, err
		}
		transposed[i] = tt
	}
	return concat(1, transposed)
}

// StackMoeW1LoraB - wie StackMoeW1, aber pro Experte als Block-Diagonale
// [out1+out2, r1+r2], damit B x A zur gestapelten Basis aus StackMoeW1 passt
func StackMoeW1LoraB() Transform {
	return newTransform("stack_moe_w1_lora_b", func(ts []*Tensor) (*Tensor, error) {
		if len(ts) == 0 || len(ts)%2 != 0 {
			return nil, shapeError("", ts, "expects an even, non-zero number of tensors, got %d", len(ts))
		}

		n := len(ts) / 2
		blocks := make([]*Tensor, n)
		for i := range n {
			t, err := blockDiag([]*Tensor{ts[i], ts[n+i]})
			if err != nil {
				return nil, err
			}
			blocks[i] = t
		}
		return stack(blocks)
	})
}

// blockDiag legt 2-D Float-Tensoren [rows_i, cols_i] auf die Diagonale
func blockDiag(ts []*Tensor) (*Tensor, error) {
	var rows, cols int
	for i, t := range ts {
		shape := t.dims()
		if len(shape) != 2 {
			return nil, shapeError("", ts, "tensor %d needs rank 2", i)
		}
		if !t.isFloat() {
			return nil, shapeError("", ts, "tensor %d is %s, want float", i, t.Type)
		}
		rows += shape[0]
		cols += shape[1]
	}

	dst := make([]float64, rows*cols)
	var r0, c0 int
	for _, t := range ts {
		h, w := t.dims()[0], t.dims()[1]
		src := t.float64s()
		for r := range h {
			copy(dst[(r0+r)*cols+c0:(r0+r)*cols+c0+w], src[r*w:(r+1)*w])
		}
		r0 += h
		c0 += w
	}

	blk, err := NewTensor(ggml.TensorTypeF64, []int{rows, cols}, dst)
	if err != nil {
		return nil, err
	}
	return blk.Cast(ts[0].Type)
}

// Zeros erzeugt einen F32-Nulltensor; fuer fehlende Bias- und Beta-Gewichte
func Zeros(shape ...int) Transform {
	shape = slices.Clone(shape)
	return newTransform(fmt.Sprintf("zeros(%v)", shape), func(ts []*Tensor) (*Tensor, error) {
		if len(ts) != 0 {
			return nil, shapeError("", ts, "takes no inputs, got %d", len(ts))
		}
		for _, d := range shape {
			if d <= 0 {
				return nil, shapeError("", nil, "invalid shape %v", shape)
			}
		}
		return ZerosOf(ggml.TensorTypeF32, shape...)
	})
}

// MergeQKVLoraA transponiert die A-Matrizen von q, k, v ([r, in] -> [in, r])
// und verbindet sie entlang Dimension 1 zu [in, 3r]
func MergeQKVLoraA() Transform {
	return newTransform("merge_qkv_lora_a", func(ts []*Tensor) (*Tensor, error) {
		if len(ts) != 3 {
			return nil, shapeError("", ts, "expects q, k, v lora A, got %d tensors", len(ts))
		}
		return transposeConcat1(ts)
	})
}

// MergeQKVLoraB baut aus den B-Matrizen von q, k, v ([out, r]) eine
// Block-Diagonale [3r, q+k+v], damit A_cat * B_blk die Produkte pro Projektion
// im fusionierten Layout ergibt
func MergeQKVLoraB(cfg AttnConfig) Transform {
	return newTransform("merge_qkv_lora_b", func(ts []*Tensor) (*Tensor, error) {
		if len(ts) != 3 {
			return nil, shapeError("", ts, "expects q, k, v lora B, got %d tensors", len(ts))
		}

		want := []int{cfg.QSize(), cfg.KVSize(), cfg.KVSize()}
		var rows, cols int
		for i, t := range ts {
			shape := t.dims()
			if len(shape) != 2 {
				return nil, shapeError("", ts, "tensor %d needs rank 2", i)
			}
			if cfg != (AttnConfig{}) && shape[0] != want[i] {
				return nil, shapeError("", ts, "tensor %d has %d output features, want %d", i, shape[0], want[i])
			}
			if !t.isFloat() {
				return nil, shapeError("", ts, "tensor %d is %s, want float", i, t.Type)
			}
			rows += shape[1]
			cols += shape[0]
		}

		dst := make([]float64, rows*cols)
		var r0, c0 int
		for _, t := range ts {
			out, rank := t.dims()[0], t.dims()[1]
			src := t.float64s()
			// src[o, k] -> dst[r0+k, c0+o]
			for o := range out {
				for k := range rank {
					dst[(r0+k)*cols+c0+o] = src[o*rank+k]
				}
			}
			r0 += rank
			c0 += out
		}

		blk, err := NewTensor(ggml.TensorTypeF64, []int{rows, cols}, dst)
		if err != nil {
			return nil, err
		}
		return blk.Cast(ts[0].Type)
	})
}
