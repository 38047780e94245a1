// Package ggml - GGUF Write Operations
//
// Dieses Modul enthaelt Funktionen zum Schreiben von GGUF-Dateien:
// - WriteGGUF: Schreibt Header, KV-Paare, Tensor-Infos und Daten (V3)
// - ggufWriteKV: Key-Value Paar Serialisierung
// - ggufWriteTensorInfo: Tensor-Metadaten Serialisierung
package ggml

import (
	"cmp"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"runtime"
	"slices"

	"golang.org/x/sync/errgroup"
)

// DefaultAlignment ist das Daten-Alignment falls general.alignment fehlt
const DefaultAlignment = 32

var ErrNoArchitecture = errors.New("architecture not set")

// WriteGGUF schreibt ein GGUF-File mit KV-Paaren und Tensors (V3 Format).
// Tensoren werden nach Block und Name sortiert; die Daten werden parallel geschrieben.
func WriteGGUF(f *os.File, kv KV, ts []*Tensor) error {
	if _, ok := kv["general.architecture"].(string); !ok {
		return ErrNoArchitecture
	}

	header := []any{
		[]byte("GGUF"),
		uint32(3),
		uint64(len(ts)),
		uint64(kv.Len()),
	}
	for _, v := range header {
		if err := binary.Write(f, binary.LittleEndian, v); err != nil {
			return err
		}
	}

	for _, key := range slices.Sorted(kv.Keys()) {
		if err := ggufWriteKV(f, kv.qualify(key), kv[key]); err != nil {
			return err
		}
	}

	slices.SortStableFunc(ts, func(a, b *Tensor) int {
		return cmp.Or(cmp.Compare(a.block(), b.block()), cmp.Compare(a.Name, b.Name))
	})

	alignment := int64(kv.Uint("general.alignment", DefaultAlignment))

	var s uint64
	for _, t := range ts {
		t.Offset = s
		if err := ggufWriteTensorInfo(f, t); err != nil {
			return err
		}
		s += t.Size()
		s += uint64(ggufPadding(int64(s), alignment))
	}

	offset, err := f.Seek(0, io.SeekCurrent)
	if err != nil {
		return err
	}
	offset += ggufPadding(offset, alignment)

	var g errgroup.Group
	g.SetLimit(runtime.GOMAXPROCS(0))
	for _, t := range ts {
		w := io.NewOffsetWriter(f, offset+int64(t.Offset))
		g.Go(func() error {
			n, err := t.WriteTo(w)
			if err != nil {
				return fmt.Errorf("%s: %w", t.Name, err)
			}
			if uint64(n) != t.Size() {
				return fmt.Errorf("%s: wrote %d bytes, expected %d", t.Name, n, t.Size())
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	// Datei bis zum Ende des letzten Tensors auffuellen
	return f.Truncate(offset + int64(s))
}

func writeGGUF[V any](w io.Writer, t uint32, v V) error {
	if err := binary.Write(w, binary.LittleEndian, t); err != nil {
		return err
	}
	return binary.Write(w, binary.LittleEndian, v)
}

func writeRawString(w io.Writer, s string) error {
	if err := binary.Write(w, binary.LittleEndian, uint64(len(s))); err != nil {
		return err
	}
	_, err := io.WriteString(w, s)
	return err
}

func writeGGUFArray[S ~[]E, E any](w io.Writer, t uint32, s S) error {
	for _, v := range []any{ggufTypeArray, t, uint64(len(s))} {
		if err := binary.Write(w, binary.LittleEndian, v); err != nil {
			return err
		}
	}

	// Strings muessen einzeln geschrieben werden
	if t == ggufTypeString {
		for _, e := range any(s).([]string) {
			if err := writeRawString(w, e); err != nil {
				return err
			}
		}
		return nil
	}

	return binary.Write(w, binary.LittleEndian, s)
}

// ggufWriteKV schreibt ein Key-Value Paar; k ist bereits qualifiziert
func ggufWriteKV(w io.Writer, k string, v any) error {
	slog.Debug(k, "type", fmt.Sprintf("%T", v))

	if err := writeRawString(w, k); err != nil {
		return err
	}

	switch v := v.(type) {
	case uint8:
		return writeGGUF(w, ggufTypeUint8, v)
	case int8:
		return writeGGUF(w, ggufTypeInt8, v)
	case uint16:
		return writeGGUF(w, ggufTypeUint16, v)
	case int16:
		return writeGGUF(w, ggufTypeInt16, v)
	case int32:
		return writeGGUF(w, ggufTypeInt32, v)
	case int64:
		return writeGGUF(w, ggufTypeInt64, v)
	case uint32:
		return writeGGUF(w, ggufTypeUint32, v)
	case uint64:
		return writeGGUF(w, ggufTypeUint64, v)
	case float32:
		return writeGGUF(w, ggufTypeFloat32, v)
	case float64:
		return writeGGUF(w, ggufTypeFloat64, v)
	case bool:
		return writeGGUF(w, ggufTypeBool, v)
	case string:
		if err := binary.Write(w, binary.LittleEndian, ggufTypeString); err != nil {
			return err
		}
		return writeRawString(w, v)
	case []int32:
		return writeGGUFArray(w, ggufTypeInt32, v)
	case []int64:
		return writeGGUFArray(w, ggufTypeInt64, v)
	case []uint32:
		return writeGGUFArray(w, ggufTypeUint32, v)
	case []float32:
		return writeGGUFArray(w, ggufTypeFloat32, v)
	case []string:
		return writeGGUFArray(w, ggufTypeString, v)
	case []bool:
		return writeGGUFArray(w, ggufTypeBool, v)
	default:
		return fmt.Errorf("improper type %T for '%s'", v, k)
	}
}

// ggufWriteTensorInfo schreibt Name, Dimensionen, Typ und Offset
func ggufWriteTensorInfo(w io.Writer, t *Tensor) error {
	slog.Debug(t.Name, "kind", TensorType(t.Kind), "shape", t.Shape, "offset", t.Offset)

	if err := writeRawString(w, t.Name); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, uint32(len(t.Shape))); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, t.Shape); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, t.Kind); err != nil {
		return err
	}
	return binary.Write(w, binary.LittleEndian, t.Offset)
}

func ggufPadding(offset, align int64) int64 {
	return (align - offset%align) % align
}
