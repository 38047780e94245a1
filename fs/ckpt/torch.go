// torch.go - PyTorch-Checkpoints (.bin / .pth) ueber gopickle
//
// Enthaelt:
// - parseTorch: laedt die State-Dicts vollstaendig in den Speicher
// - torchTensor: zusammenhaengender Ausschnitt eines Storage
package ckpt

import (
	"fmt"

	"github.com/nlpodyssey/gopickle/pytorch"
	"github.com/nlpodyssey/gopickle/types"

	"github.com/ollama/weightpipe/fs/ggml"
	"github.com/ollama/weightpipe/weights"
)

func parseTorch(c *Checkpoint, ps ...string) error {
	for _, p := range ps {
		pt, err := pytorch.Load(p)
		if err != nil {
			return fmt.Errorf("%s: %w", p, err)
		}

		dict, ok := pt.(*types.Dict)
		if !ok {
			return fmt.Errorf("%s: unexpected state dict %T", p, pt)
		}

		for _, k := range dict.Keys() {
			name, ok := k.(string)
			if !ok {
				continue
			}

			t, ok := dict.MustGet(k).(*pytorch.Tensor)
			if !ok {
				continue
			}

			c.add(name, &torchTensor{path: p, t: t})
		}
	}
	return nil
}

type torchTensor struct {
	path string
	t    *pytorch.Tensor
}

func (tt *torchTensor) load() (*weights.Tensor, error) {
	shape := append([]int(nil), tt.t.Size...)
	n := 1
	for _, d := range shape {
		n *= d
	}

	lo, hi := tt.t.StorageOffset, tt.t.StorageOffset+n
	window := func(size int) error {
		if hi > size {
			return fmt.Errorf("%s: tensor [%d, %d) beyond storage of %d", tt.path, lo, hi, size)
		}
		return nil
	}

	switch s := tt.t.Source.(type) {
	case *pytorch.FloatStorage:
		if err := window(len(s.Data)); err != nil {
			return nil, err
		}
		return weights.NewTensor(ggml.TensorTypeF32, shape, append([]float32(nil), s.Data[lo:hi]...))
	case *pytorch.HalfStorage:
		if err := window(len(s.Data)); err != nil {
			return nil, err
		}
		return weights.NewTensor(ggml.TensorTypeF16, shape, append([]float32(nil), s.Data[lo:hi]...))
	case *pytorch.BFloat16Storage:
		if err := window(len(s.Data)); err != nil {
			return nil, err
		}
		return weights.NewTensor(ggml.TensorTypeBF16, shape, append([]float32(nil), s.Data[lo:hi]...))
	case *pytorch.IntStorage:
		if err := window(len(s.Data)); err != nil {
			return nil, err
		}
		return weights.NewTensor(ggml.TensorTypeI32, shape, append([]int32(nil), s.Data[lo:hi]...))
	case *pytorch.LongStorage:
		if err := window(len(s.Data)); err != nil {
			return nil, err
		}
		return weights.NewTensor(ggml.TensorTypeI64, shape, append([]int64(nil), s.Data[lo:hi]...))
	default:
		return nil, fmt.Errorf("%s: unsupported storage %T", tt.path, s)
	}
}
