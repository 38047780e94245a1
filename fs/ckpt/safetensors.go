// safetensors.go - Safetensors-Dateien ueber mmap
//
// Enthaelt:
// - parseSafetensors: liest Header und registriert die Tensoren
// - safetensor: dekodiert F32, F16, BF16, F64, I64, I32, I16, I8, U8
package ckpt

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"

	bfloat16 "github.com/d4l3k/go-bfloat16"
	"github.com/x448/float16"
	"golang.org/x/exp/mmap"

	"github.com/ollama/weightpipe/fs/ggml"
	"github.com/ollama/weightpipe/weights"
)

// maxHeaderSize begrenzt den JSON-Header
const maxHeaderSize = 100 << 20

type safetensorMetadata struct {
	Type    string   `json:"dtype"`
	Shape   []int    `json:"shape"`
	Offsets [2]int64 `json:"data_offsets"`
}

func parseSafetensors(c *Checkpoint, ps ...string) error {
	for _, p := range ps {
		r, err := mmap.Open(p)
		if err != nil {
			return err
		}
		c.files = append(c.files, r)

		var hdr [8]byte
		if _, err := r.ReadAt(hdr[:], 0); err != nil {
			return fmt.Errorf("%s: read header size: %w", p, err)
		}

		n := int64(binary.LittleEndian.Uint64(hdr[:]))
		if n <= 0 || n > maxHeaderSize || 8+n > int64(r.Len()) {
			return fmt.Errorf("%s: invalid header size %d", p, n)
		}

		bts := make([]byte, n)
		if _, err := r.ReadAt(bts, 8); err != nil {
			return fmt.Errorf("%s: read header: %w", p, err)
		}

		var headers map[string]json.RawMessage
		if err := json.Unmarshal(bts, &headers); err != nil {
			return fmt.Errorf("%s: %w", p, err)
		}

		for name, raw := range headers {
			if name == "__metadata__" {
				continue
			}

			var m safetensorMetadata
			if err := json.Unmarshal(raw, &m); err != nil {
				return fmt.Errorf("%s: %s: %w", p, name, err)
			}
			if start, end := m.Offsets[0], m.Offsets[1]; start < 0 || end < start || end > int64(r.Len())-8-n {
				return fmt.Errorf("%s: %s: invalid data_offsets [%d, %d]", p, name, start, end)
			}

			st := &safetensor{r: r, path: p, offset: 8 + n + m.Offsets[0], size: m.Offsets[1] - m.Offsets[0], dtype: m.Type, shape: m.Shape}
			if err := st.check(); err != nil {
				return fmt.Errorf("%s: %s: %w", p, name, err)
			}
			c.add(name, st)
		}
	}
	return nil
}

type safetensor struct {
	r      *mmap.ReaderAt
	path   string
	offset int64
	size   int64
	dtype  string
	shape  []int
}

func elementSize(dtype string) (int64, error) {
	switch dtype {
	case "F64", "I64":
		return 8, nil
	case "F32", "I32":
		return 4, nil
	case "F16", "BF16", "I16":
		return 2, nil
	case "I8", "U8":
		return 1, nil
	default:
		return 0, fmt.Errorf("unsupported dtype %q", dtype)
	}
}

func (st *safetensor) check() error {
	size, err := elementSize(st.dtype)
	if err != nil {
		return err
	}

	n := int64(1)
	for _, d := range st.shape {
		if d < 0 {
			return fmt.Errorf("negative dimension in shape %v", st.shape)
		}
		if d > 0 && n > math.MaxInt64/size/int64(d) {
			return fmt.Errorf("shape %v too large", st.shape)
		}
		n *= int64(d)
	}
	if n*size != st.size {
		return fmt.Errorf("shape %v as %s needs %d bytes, data has %d", st.shape, st.dtype, n*size, st.size)
	}
	if st.offset+st.size > int64(st.r.Len()) {
		return fmt.Errorf("data [%d, %d) beyond end of file", st.offset, st.offset+st.size)
	}
	return nil
}

func (st *safetensor) load() (*weights.Tensor, error) {
	bts := make([]byte, st.size)
	if _, err := st.r.ReadAt(bts, st.offset); err != nil {
		return nil, fmt.Errorf("%s: %w", st.path, err)
	}

	typ, backing := decode(st.dtype, bts)
	if backing == nil {
		return nil, fmt.Errorf("unsupported dtype %q", st.dtype)
	}
	return weights.NewTensor(typ, st.shape, backing)
}

// decode wandelt Little-Endian-Bytes in die Speicherklasse des Datentyps
func decode(dtype string, bts []byte) (ggml.TensorType, any) {
	switch dtype {
	case "F32":
		vs := make([]float32, len(bts)/4)
		for i := range vs {
			vs[i] = math.Float32frombits(binary.LittleEndian.Uint32(bts[4*i:]))
		}
		return ggml.TensorTypeF32, vs
	case "F16":
		vs := make([]float32, len(bts)/2)
		for i := range vs {
			vs[i] = float16.Frombits(binary.LittleEndian.Uint16(bts[2*i:])).Float32()
		}
		return ggml.TensorTypeF16, vs
	case "BF16":
		return ggml.TensorTypeBF16, bfloat16.DecodeFloat32(bts)
	case "F64":
		vs := make([]float64, len(bts)/8)
		for i := range vs {
			vs[i] = math.Float64frombits(binary.LittleEndian.Uint64(bts[8*i:]))
		}
		return ggml.TensorTypeF64, vs
	case "I64":
		vs := make([]int64, len(bts)/8)
		for i := range vs {
			vs[i] = int64(binary.LittleEndian.Uint64(bts[8*i:]))
		}
		return ggml.TensorTypeI64, vs
	case "I32":
		vs := make([]int32, len(bts)/4)
		for i := range vs {
			vs[i] = int32(binary.LittleEndian.Uint32(bts[4*i:]))
		}
		return ggml.TensorTypeI32, vs
	case "I16":
		vs := make([]int16, len(bts)/2)
		for i := range vs {
			vs[i] = int16(binary.LittleEndian.Uint16(bts[2*i:]))
		}
		return ggml.TensorTypeI16, vs
	case "I8":
		vs := make([]int8, len(bts))
		for i, b := range bts {
			vs[i] = int8(b)
		}
		return ggml.TensorTypeI8, vs
	case "U8":
		// keine vorzeichenlose Speicherklasse, daher verbreitert
		vs := make([]int16, len(bts))
		for i, b := range bts {
			vs[i] = int16(b)
		}
		return ggml.TensorTypeI16, vs
	default:
		return 0, nil
	}
}
