// cpu.go - GPTQ/AWQ-Entpacken auf der CPU
//
// Enthaelt:
// - cpu: ExportedDevice fuer dichte und MoE-Gewichte
// - unpackRows/unpackCols: int32-Woerter in bits-breite Werte zerlegen
//
// Ergebnis: int8-Kernel [K, N] mit Vorzeichen, Zero-Offsets
// -(z - 2^(bits-1)) * scale im Typ der Scales, Scales unveraendert.
// GPTQ packt den Kernel entlang K und speichert Zeros um 1 verringert,
// AWQ packt Kernel und Zeros entlang N in verschraenkter Reihenfolge.
package device

import (
	"fmt"
	"log/slog"

	"github.com/ollama/weightpipe/fs/ggml"
	"github.com/ollama/weightpipe/logutil"
	"github.com/ollama/weightpipe/weights"
)

type cpu struct{}

type scheme struct {
	gptq bool
	bits int
}

func newScheme(isGptq, isAwq bool, bits int) (scheme, error) {
	if isGptq == isAwq {
		return scheme{}, fmt.Errorf("exactly one of gptq and awq must be set (gptq=%t, awq=%t)", isGptq, isAwq)
	}
	switch bits {
	case 2, 4, 8:
	default:
		return scheme{}, fmt.Errorf("unsupported weight bits %d", bits)
	}
	return scheme{gptq: isGptq, bits: bits}, nil
}

func (s scheme) pack() int   { return 32 / s.bits }
func (s scheme) mask() int32 { return 1<<s.bits - 1 }
func (s scheme) half() int32 { return 1 << (s.bits - 1) }

// order gibt die Position des j-ten Werts im Wort zurueck
func (s scheme) order() []int {
	if !s.gptq && s.bits == 4 {
		return []int{0, 2, 4, 6, 1, 3, 5, 7}
	}
	o := make([]int, s.pack())
	for i := range o {
		o[i] = i
	}
	return o
}

// matrix ist ein zeilenweiser 2D-Ausschnitt
type matrix[T any] struct {
	data       []T
	rows, cols int
}

func (m matrix[T]) transpose() matrix[T] {
	out := make([]T, len(m.data))
	for r := range m.rows {
		for c := range m.cols {
			out[c*m.rows+r] = m.data[r*m.cols+c]
		}
	}
	return matrix[T]{data: out, rows: m.cols, cols: m.rows}
}

// unpackRows zerlegt [rows, cols] in [rows*pack, cols]
func unpackRows(q matrix[int32], s scheme) matrix[int32] {
	pack := s.pack()
	out := make([]int32, len(q.data)*pack)
	for r := range q.rows {
		for j := range pack {
			for c := range q.cols {
				w := uint32(q.data[r*q.cols+c])
				out[(r*pack+j)*q.cols+c] = int32(w>>(s.bits*j)) & s.mask()
			}
		}
	}
	return matrix[int32]{data: out, rows: q.rows * pack, cols: q.cols}
}

// unpackCols zerlegt [rows, cols] in [rows, cols*pack]
func unpackCols(q matrix[int32], s scheme) matrix[int32] {
	pack, order := s.pack(), s.order()
	out := make([]int32, len(q.data)*pack)
	for r := range q.rows {
		for c := range q.cols {
			w := uint32(q.data[r*q.cols+c])
			for j := range pack {
				out[r*q.cols*pack+c*pack+order[j]] = int32(w>>(s.bits*j)) & s.mask()
			}
		}
	}
	return matrix[int32]{data: out, rows: q.rows, cols: q.cols * pack}
}

// repack arbeitet auf dem dichten Layout: kernel gepackt, zero [G, N/pack], scale [G, N]
func repack(kernel, zero matrix[int32], scale matrix[float32], s scheme) (matrix[int8], matrix[float32], error) {
	var k matrix[int32]
	if s.gptq {
		k = unpackRows(kernel, s)
	} else {
		k = unpackCols(kernel, s)
	}
	z := unpackCols(zero, s)

	if z.rows != scale.rows || z.cols != scale.cols {
		return matrix[int8]{}, matrix[float32]{}, fmt.Errorf("zeros unpack to [%d %d], scales are [%d %d]", z.rows, z.cols, scale.rows, scale.cols)
	}
	if k.cols != scale.cols || scale.rows == 0 || k.rows%scale.rows != 0 {
		return matrix[int8]{}, matrix[float32]{}, fmt.Errorf("kernel unpacks to [%d %d], scales are [%d %d]", k.rows, k.cols, scale.rows, scale.cols)
	}

	ki := matrix[int8]{data: make([]int8, len(k.data)), rows: k.rows, cols: k.cols}
	for i, v := range k.data {
		ki.data[i] = int8(v - s.half())
	}

	zf := matrix[float32]{data: make([]float32, len(z.data)), rows: z.rows, cols: z.cols}
	for i, v := range z.data {
		if s.gptq {
			v++
		}
		zf.data[i] = -float32(v-s.half()) * scale.data[i]
	}
	return ki, zf, nil
}

func int32Matrix(t *weights.Tensor, what string, shape []int) (matrix[int32], error) {
	if t.Type != ggml.TensorTypeI32 {
		return matrix[int32]{}, fmt.Errorf("%s must be I32, got %s", what, t)
	}
	return matrix[int32]{data: t.Dense.Int32s(), rows: shape[0], cols: shape[1]}, nil
}

func floatMatrix(t *weights.Tensor, shape []int) (matrix[float32], error) {
	vs, err := t.Float32s()
	if err != nil {
		return matrix[float32]{}, fmt.Errorf("scale: %w", err)
	}
	return matrix[float32]{data: vs, rows: shape[0], cols: shape[1]}, nil
}

func checkRank(rank int, ts ...*weights.Tensor) error {
	for _, t := range ts {
		if t == nil {
			return fmt.Errorf("missing quantized tensor")
		}
		if len(t.Shape()) != rank {
			return fmt.Errorf("%s: expected rank %d", t, rank)
		}
	}
	return nil
}

func (cpu) PreprocessGroupwiseWeightParams(kernel, zero, scale *weights.Tensor, device string, isGptq, isAwq bool, bits int) (*weights.Tensor, *weights.Tensor, *weights.Tensor, error) {
	s, err := newScheme(isGptq, isAwq, bits)
	if err != nil {
		return nil, nil, nil, err
	}
	if err := checkRank(2, kernel, zero, scale); err != nil {
		return nil, nil, nil, err
	}

	km, err := int32Matrix(kernel, "kernel", kernel.Shape())
	if err != nil {
		return nil, nil, nil, err
	}
	zm, err := int32Matrix(zero, "zero", zero.Shape())
	if err != nil {
		return nil, nil, nil, err
	}
	sm, err := floatMatrix(scale, scale.Shape())
	if err != nil {
		return nil, nil, nil, err
	}

	k, z, err := repack(km, zm, sm, s)
	if err != nil {
		return nil, nil, nil, err
	}

	kt, err := weights.NewTensor(ggml.TensorTypeI8, []int{k.rows, k.cols}, k.data)
	if err != nil {
		return nil, nil, nil, err
	}
	zt, err := zeroTensor(z.data, []int{z.rows, z.cols}, scale.Type)
	if err != nil {
		return nil, nil, nil, err
	}

	logutil.Trace("cpu repack", "device", device, "kernel", kt, "zero", zt, "gptq", s.gptq, "bits", s.bits)
	return kt, zt, scale, nil
}

// PreprocessMoeGroupwiseWeightParams erwartet pro Experte transponierte
// Matrizen, gestapelt zu [E, ...]; die Ergebnisse bleiben transponiert
func (cpu) PreprocessMoeGroupwiseWeightParams(kernel, zero, scale *weights.Tensor, device string, isGptq, isAwq bool, bits int) (*weights.Tensor, *weights.Tensor, *weights.Tensor, error) {
	s, err := newScheme(isGptq, isAwq, bits)
	if err != nil {
		return nil, nil, nil, err
	}
	if err := checkRank(3, kernel, zero, scale); err != nil {
		return nil, nil, nil, err
	}

	ks, zs, ss := kernel.Shape(), zero.Shape(), scale.Shape()
	experts := ks[0]
	if zs[0] != experts || ss[0] != experts {
		return nil, nil, nil, fmt.Errorf("expert count differs: kernel %s, zero %s, scale %s", kernel, zero, scale)
	}

	km, err := int32Matrix(kernel, "kernel", []int{experts * ks[1], ks[2]})
	if err != nil {
		return nil, nil, nil, err
	}
	zm, err := int32Matrix(zero, "zero", []int{experts * zs[1], zs[2]})
	if err != nil {
		return nil, nil, nil, err
	}
	sm, err := floatMatrix(scale, []int{experts * ss[1], ss[2]})
	if err != nil {
		return nil, nil, nil, err
	}

	var kernels []int8
	var zeros []float32
	var kshape, zshape []int
	for e := range experts {
		k, z, err := repack(
			expert(km, e, experts).transpose(),
			expert(zm, e, experts).transpose(),
			expert(sm, e, experts).transpose(),
			s)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("expert %d: %w", e, err)
		}

		k, z = k.transpose(), z.transpose()
		kernels = append(kernels, k.data...)
		zeros = append(zeros, z.data...)
		kshape, zshape = []int{experts, k.rows, k.cols}, []int{experts, z.rows, z.cols}
	}

	kt, err := weights.NewTensor(ggml.TensorTypeI8, kshape, kernels)
	if err != nil {
		return nil, nil, nil, err
	}
	zt, err := zeroTensor(zeros, zshape, scale.Type)
	if err != nil {
		return nil, nil, nil, err
	}

	slog.Debug("cpu moe repack", "device", device, "experts", experts, "kernel", kt, "zero", zt)
	return kt, zt, scale, nil
}

// expert gibt die Matrix von Experte e aus einem [E*rows, cols]-Stapel zurueck
func expert[T any](m matrix[T], e, experts int) matrix[T] {
	rows := m.rows / experts
	return matrix[T]{data: m.data[e*rows*m.cols : (e+1)*rows*m.cols], rows: rows, cols: m.cols}
}

func zeroTensor(vs []float32, shape []int, typ ggml.TensorType) (*weights.Tensor, error) {
	t, err := weights.NewTensor(ggml.TensorTypeF32, shape, vs)
	if err != nil {
		return nil, err
	}
	return t.Cast(typ)
}
