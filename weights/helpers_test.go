package weights

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ollama/weightpipe/fs/ggml"
)

// memReader ist ein Checkpoint im Speicher; zaehlt Lesezugriffe pro Name
type memReader struct {
	mu     sync.Mutex
	shards map[string][]*Tensor
	reads  map[string]int
}

func newMemReader() *memReader {
	return &memReader{shards: make(map[string][]*Tensor), reads: make(map[string]int)}
}

func (r *memReader) add(name string, ts ...*Tensor) *memReader {
	r.shards[name] = append(r.shards[name], ts...)
	return r
}

func (r *memReader) Load(name string) ([]*Tensor, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reads[name]++
	ts, ok := r.shards[name]
	if !ok {
		return nil, &MissingWeightError{Name: name, Path: "mem"}
	}
	return ts, nil
}

// fakeDevice protokolliert die Aufrufe und gibt die Eingaben zurueck
type fakeDevice struct {
	mu    sync.Mutex
	calls []string
	err   error
}

func (d *fakeDevice) record(kind string, kernel *Tensor, device string, isGptq, isAwq bool, bits int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls = append(d.calls, fmt.Sprintf("%s:%s:%s:gptq=%t:awq=%t:bits=%d", kind, device, kernel, isGptq, isAwq, bits))
}

func (d *fakeDevice) PreprocessGroupwiseWeightParams(kernel, zero, scale *Tensor, device string, isGptq, isAwq bool, bits int) (*Tensor, *Tensor, *Tensor, error) {
	d.record("dense", kernel, device, isGptq, isAwq, bits)
	return kernel, zero, scale, d.err
}

func (d *fakeDevice) PreprocessMoeGroupwiseWeightParams(kernel, zero, scale *Tensor, device string, isGptq, isAwq bool, bits int) (*Tensor, *Tensor, *Tensor, error) {
	d.record("moe", kernel, device, isGptq, isAwq, bits)
	return kernel, zero, scale, d.err
}

// seq erzeugt 0, 1, 2, ... als float32
func seq(n int) []float32 {
	vs := make([]float32, n)
	for i := range vs {
		vs[i] = float32(i)
	}
	return vs
}

func f32(t *testing.T, shape []int, vals []float32) *Tensor {
	t.Helper()
	x, err := NewTensor(ggml.TensorTypeF32, shape, vals)
	require.NoError(t, err)
	return x
}

func i32(t *testing.T, shape []int, vals []int32) *Tensor {
	t.Helper()
	x, err := NewTensor(ggml.TensorTypeI32, shape, vals)
	require.NoError(t, err)
	return x
}

// i32seq erzeugt einen I32-Tensor mit aufsteigenden Werten ab start
func i32seq(t *testing.T, start int32, shape ...int) *Tensor {
	t.Helper()
	n := 1
	for _, d := range shape {
		n *= d
	}
	vs := make([]int32, n)
	for i := range vs {
		vs[i] = start + int32(i)
	}
	return i32(t, shape, vs)
}

func values(t *testing.T, x *Tensor) []float64 {
	t.Helper()
	return x.float64s()
}

func mustScheme(t *testing.T, family Family, bits, groupSize int) QuantScheme {
	t.Helper()
	s, err := NewQuantScheme(family, bits, groupSize)
	require.NoError(t, err)
	return s
}
