// lora.go - LoRA-Adapter fuer Deskriptoren
//
// Enthaelt:
// - LoraFuncs: Vorverarbeitung und Tensor-Parallel-Split fuer A und B
// - SplitParams, SplitFunc: Sp0, Sp1, SpNeg1, SpID, SpHeadLora
// - LoadLora: A/B eines Deskriptors aus einem Adapter lesen
// - MergeLora: base + scale * (A x B) ueber gonum
package weights

import (
	"fmt"
	"strings"

	"gonum.org/v1/gonum/mat"

	"github.com/ollama/weightpipe/fs/ggml"
)

// SplitParams beschreibt den Tensor-Parallel-Rang fuer die Split-Funktionen
type SplitParams struct {
	TP   int
	Rank int

	HiddenSize  int
	HeadNum     int
	HeadNumKV   int
	SizePerHead int
}

func (p SplitParams) validate() error {
	if p.TP <= 0 || p.Rank < 0 || p.Rank >= p.TP {
		return fmt.Errorf("invalid tensor parallel rank %d of %d", p.Rank, p.TP)
	}
	return nil
}

// SplitFunc waehlt den Shard eines Ranges aus
type SplitFunc func(t *Tensor, p SplitParams) (*Tensor, error)

// LoraFuncs sind die LoRA-Funktionen eines Deskriptors; Nullwerte sind Identity
type LoraFuncs struct {
	ProcessA Transform
	ProcessB Transform
	SplitA   SplitFunc
	SplitB   SplitFunc

	// BA gilt fuer Basis-Gewichte im Checkpoint-Layout [.., out, in]:
	// das Delta ist dann B x A statt A x B
	BA bool
}

// LoraPair sind die vorverarbeiteten Adapter-Matrizen. Ohne BA ist
// A [.., in, r] und B [.., r, out], mit BA ist A [.., r, in] und B [.., out, r].
type LoraPair struct {
	A  *Tensor
	B  *Tensor
	BA bool
}

// LoraNames gibt die Adapter-Namen fuer einen Checkpoint-Namen zurueck
func LoraNames(ckptName string) (string, string) {
	base := "base_model.model." + strings.TrimSuffix(ckptName, SuffixWeight)
	return base + ".lora_A.weight", base + ".lora_B.weight"
}

// ============================================================================
// Split-Funktionen
// ============================================================================

// SpID nimmt den ganzen Tensor
func SpID(t *Tensor, p SplitParams) (*Tensor, error) {
	return t, nil
}

// Sp0 teilt entlang Dimension 0
func Sp0(t *Tensor, p SplitParams) (*Tensor, error) {
	return splitAxis(t, 0, p)
}

// Sp1 teilt entlang Dimension 1
func Sp1(t *Tensor, p SplitParams) (*Tensor, error) {
	return splitAxis(t, 1, p)
}

// SpNeg1 teilt entlang der letzten Dimension
func SpNeg1(t *Tensor, p SplitParams) (*Tensor, error) {
	return splitAxis(t, len(t.dims())-1, p)
}

// SpHeadLora teilt die fusionierte q/k/v-Ausgabeachse pro Projektion und
// nimmt von jeder Projektion den Shard des Ranges
func SpHeadLora(t *Tensor, p SplitParams) (*Tensor, error) {
	if err := p.validate(); err != nil {
		return nil, err
	}

	shape := t.dims()
	axis := len(shape) - 1
	q := p.HeadNum * p.SizePerHead
	kv := p.HeadNumKV * p.SizePerHead
	if axis < 0 || q <= 0 || kv <= 0 || shape[axis] != q+2*kv {
		return nil, shapeError("sp_head_lora", []*Tensor{t}, "last dimension must be q+k+v = %d", q+2*kv)
	}

	parts := make([]*Tensor, 0, 3)
	for _, r := range [][2]int{{0, q}, {q, q + kv}, {q + kv, q + 2*kv}} {
		proj, err := sliceAxis(t, axis, r[0], r[1])
		if err != nil {
			return nil, err
		}
		shard, err := splitAxis(proj, axis, p)
		if err != nil {
			return nil, err
		}
		parts = append(parts, shard)
	}
	return concat(axis, parts)
}

func splitAxis(t *Tensor, axis int, p SplitParams) (*Tensor, error) {
	if err := p.validate(); err != nil {
		return nil, err
	}

	shape := t.dims()
	if axis < 0 || axis >= len(shape) {
		return nil, shapeError("split", []*Tensor{t}, "axis %d out of range", axis)
	}
	if shape[axis]%p.TP != 0 {
		return nil, shapeError("split", []*Tensor{t}, "dimension %d (%d) not divisible by tp %d", axis, shape[axis], p.TP)
	}
	if p.TP == 1 {
		return t, nil
	}

	n := shape[axis] / p.TP
	return sliceAxis(t, axis, p.Rank*n, (p.Rank+1)*n)
}

// sliceAxis kopiert [start, end) entlang axis; die Dimension bleibt erhalten
func sliceAxis(t *Tensor, axis, start, end int) (*Tensor, error) {
	shape := t.dims()
	if start < 0 || end > shape[axis] || start >= end {
		return nil, shapeError("slice", []*Tensor{t}, "range [%d,%d) out of bounds for dimension %d", start, end, axis)
	}

	outer, inner := 1, 1
	for _, d := range shape[:axis] {
		outer *= d
	}
	for _, d := range shape[axis+1:] {
		inner *= d
	}

	var backing any
	switch vs := raw(t.Dense).(type) {
	case []float32:
		backing = sliceBlocks(vs, outer, shape[axis], inner, start, end)
	case []float64:
		backing = sliceBlocks(vs, outer, shape[axis], inner, start, end)
	case []int8:
		backing = sliceBlocks(vs, outer, shape[axis], inner, start, end)
	case []int16:
		backing = sliceBlocks(vs, outer, shape[axis], inner, start, end)
	case []int32:
		backing = sliceBlocks(vs, outer, shape[axis], inner, start, end)
	case []int64:
		backing = sliceBlocks(vs, outer, shape[axis], inner, start, end)
	default:
		return nil, fmt.Errorf("slice: unsupported storage for %s", t.Type)
	}

	shape[axis] = end - start
	return NewTensor(t.Type, shape, backing)
}

func sliceBlocks[T any](src []T, outer, dim, inner, start, end int) []T {
	dst := make([]T, 0, outer*(end-start)*inner)
	for o := range outer {
		base := o * dim * inner
		dst = append(dst, src[base+start*inner:base+end*inner]...)
	}
	return dst
}

// ============================================================================
// Laden und Mergen
// ============================================================================

// LoadLora liest A und B fuer alle (expandierten) Referenzen des Deskriptors,
// wendet die LoRA-Vorverarbeitung an und waehlt den Shard des Ranges
func LoadLora(m WeightModule, adapter Reader, scope Scope, p SplitParams) (LoraPair, error) {
	w, ok := m.(*AtomicWeight)
	if !ok || w.lora == nil {
		return LoraPair{}, &UnsupportedWeightCategoryError{Weight: m.Name(), Scheme: "lora"}
	}

	names, tfs, err := w.resolve(scope)
	if err != nil {
		return LoraPair{}, fmt.Errorf("%s lora (%s): %w", w.name, scope, err)
	}

	as := make([]*Tensor, len(names))
	bs := make([]*Tensor, len(names))
	for i, name := range names {
		aName, bName := LoraNames(name)
		for _, x := range []struct {
			name string
			dst  []*Tensor
		}{{aName, as}, {bName, bs}} {
			shards, err := adapter.Load(x.name)
			if err != nil {
				return LoraPair{}, fmt.Errorf("%s lora (%s): %w", w.name, scope, err)
			}
			t, err := tfs[i].Apply(shards...)
			if err != nil {
				return LoraPair{}, w.wrap(scope, err)
			}
			x.dst[i] = t
		}
	}

	a, err := w.lora.ProcessA.Apply(as...)
	if err != nil {
		return LoraPair{}, w.wrap(scope, err)
	}
	b, err := w.lora.ProcessB.Apply(bs...)
	if err != nil {
		return LoraPair{}, w.wrap(scope, err)
	}

	splitA, splitB := w.lora.SplitA, w.lora.SplitB
	if splitA == nil {
		splitA = SpID
	}
	if splitB == nil {
		splitB = SpID
	}

	if a, err = splitA(a, p); err != nil {
		return LoraPair{}, w.wrap(scope, err)
	}
	if b, err = splitB(b, p); err != nil {
		return LoraPair{}, w.wrap(scope, err)
	}
	return LoraPair{A: a, B: b, BA: w.lora.BA}, nil
}

// MergeLora gibt base + scale * (A x B) bzw. (B x A) im Datentyp von base
// zurueck. Rang 3 wird pro fuehrendem Index (Experte) multipliziert.
func MergeLora(base *Tensor, pair LoraPair, scale float64) (*Tensor, error) {
	if base == nil || pair.A == nil || pair.B == nil {
		return nil, fmt.Errorf("merge lora: missing tensor")
	}
	left, right := pair.A, pair.B
	if pair.BA {
		left, right = pair.B, pair.A
	}

	ts := []*Tensor{base, left, right}
	for _, t := range ts {
		if !t.isFloat() {
			return nil, shapeError("merge_lora", ts, "%s is not a float tensor", t.Type)
		}
	}

	bs, ls, rs := base.dims(), left.dims(), right.dims()
	if len(bs) != len(ls) || len(bs) != len(rs) || (len(bs) != 2 && len(bs) != 3) {
		return nil, shapeError("merge_lora", ts, "base, A and B need equal rank 2 or 3")
	}

	batch := 1
	if len(bs) == 3 {
		if ls[0] != bs[0] || rs[0] != bs[0] {
			return nil, shapeError("merge_lora", ts, "leading dimensions differ")
		}
		batch = bs[0]
		bs, ls, rs = bs[1:], ls[1:], rs[1:]
	}

	m, n, r := bs[0], bs[1], ls[1]
	if ls[0] != m || rs[0] != r || rs[1] != n {
		return nil, shapeError("merge_lora", ts, "[%d,%d] x [%d,%d] does not give [%d,%d]", ls[0], ls[1], rs[0], rs[1], m, n)
	}

	baseVals, lVals, rVals := base.float64s(), left.float64s(), right.float64s()
	out := make([]float64, 0, len(baseVals))
	for i := range batch {
		a := mat.NewDense(m, r, lVals[i*m*r:(i+1)*m*r])
		b := mat.NewDense(r, n, rVals[i*r*n:(i+1)*r*n])

		var delta mat.Dense
		delta.Mul(a, b)

		merged := mat.NewDense(m, n, append([]float64(nil), baseVals[i*m*n:(i+1)*m*n]...))
		merged.Apply(func(row, col int, v float64) float64 {
			return v + scale*delta.At(row, col)
		}, merged)
		out = append(out, merged.RawMatrix().Data...)
	}

	t, err := NewTensor(ggml.TensorTypeF64, base.dims(), out)
	if err != nil {
		return nil, err
	}
	return t.Cast(base.Type)
}
