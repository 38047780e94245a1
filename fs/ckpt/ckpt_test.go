package ckpt

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"

	"github.com/ollama/weightpipe/fs/ggml"
	"github.com/ollama/weightpipe/weights"
)

type fixture struct {
	name  string
	dtype string
	shape []int
	data  any
}

// writeSafetensors schreibt eine minimale safetensors-Datei
func writeSafetensors(t *testing.T, path string, fs ...fixture) {
	t.Helper()

	var data bytes.Buffer
	header := map[string]any{"__metadata__": map[string]string{"format": "pt"}}
	for _, f := range fs {
		start := data.Len()
		require.NoError(t, binary.Write(&data, binary.LittleEndian, f.data))
		header[f.name] = map[string]any{
			"dtype":        f.dtype,
			"shape":        f.shape,
			"data_offsets": []int{start, data.Len()},
		}
	}

	bts, err := json.Marshal(header)
	require.NoError(t, err)

	var out bytes.Buffer
	require.NoError(t, binary.Write(&out, binary.LittleEndian, uint64(len(bts))))
	out.Write(bts)
	out.Write(data.Bytes())
	require.NoError(t, os.WriteFile(path, out.Bytes(), 0o644))
}

func shardedCheckpoint(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	writeSafetensors(t, filepath.Join(dir, "model-00001-of-00002.safetensors"),
		fixture{"model.embed_tokens.weight", "F32", []int{2, 2}, []float32{1, 2, 3, 4}},
		fixture{"model.norm.weight", "F16", []int{2}, []uint16{0x3800, 0xc000}},
	)
	writeSafetensors(t, filepath.Join(dir, "model-00002-of-00002.safetensors"),
		fixture{"model.embed_tokens.weight", "BF16", []int{1, 2}, []uint16{0x3f80, 0x4000}},
		fixture{"model.layers.0.mlp.down_proj.g_idx", "U8", []int{3}, []uint8{1, 200, 255}},
		fixture{"model.layers.0.self_attn.o_proj.qzeros", "I32", []int{1, 2}, []int32{-1, 7}},
		fixture{"position_ids", "I64", []int{1}, []int64{42}},
	)
	return dir
}

// TestOpen_Safetensors testet Index, Shards und Datentypen
func TestOpen_Safetensors(t *testing.T) {
	c, err := Open(shardedCheckpoint(t))
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })

	if c.Format() != "safetensors" {
		t.Errorf("Format = %s", c.Format())
	}

	want := []string{
		"model.embed_tokens.weight",
		"model.layers.0.mlp.down_proj.g_idx",
		"model.layers.0.self_attn.o_proj.qzeros",
		"model.norm.weight",
		"position_ids",
	}
	if diff := cmp.Diff(want, c.Names()); diff != "" {
		t.Errorf("Namen (-want +got):\n%s", diff)
	}

	// ein Tensor pro Shard in Dateireihenfolge
	ts, err := c.Load("model.embed_tokens.weight")
	require.NoError(t, err)
	require.Len(t, ts, 2)
	if ts[0].String() != "F32[2 2]" || ts[1].String() != "BF16[1 2]" {
		t.Errorf("Shards = %s, %s", ts[0], ts[1])
	}
	first, err := ts[0].Float32s()
	require.NoError(t, err)
	if diff := cmp.Diff([]float32{1, 2, 3, 4}, first); diff != "" {
		t.Errorf("F32 (-want +got):\n%s", diff)
	}
	second, err := ts[1].Float32s()
	require.NoError(t, err)
	if diff := cmp.Diff([]float32{1, 2}, second); diff != "" {
		t.Errorf("BF16 (-want +got):\n%s", diff)
	}

	tests := []struct {
		name string
		typ  ggml.TensorType
		want any
		got  func(*weights.Tensor) any
	}{
		{"model.norm.weight", ggml.TensorTypeF16, []float32{0.5, -2}, func(x *weights.Tensor) any { return x.Dense.Float32s() }},
		{"model.layers.0.mlp.down_proj.g_idx", ggml.TensorTypeI16, []int16{1, 200, 255}, func(x *weights.Tensor) any { return x.Dense.Int16s() }},
		{"model.layers.0.self_attn.o_proj.qzeros", ggml.TensorTypeI32, []int32{-1, 7}, func(x *weights.Tensor) any { return x.Dense.Int32s() }},
		{"position_ids", ggml.TensorTypeI64, []int64{42}, func(x *weights.Tensor) any { return x.Dense.Int64s() }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts, err := c.Load(tt.name)
			require.NoError(t, err)
			require.Len(t, ts, 1)
			if ts[0].Type != tt.typ {
				t.Errorf("Typ = %s, erwartet %s", ts[0].Type, tt.typ)
			}
			if diff := cmp.Diff(tt.want, tt.got(ts[0])); diff != "" {
				t.Errorf("Werte (-want +got):\n%s", diff)
			}
		})
	}
}

// TestLoad_Missing testet den Fehler mit Pfad und Vorschlag
func TestLoad_Missing(t *testing.T) {
	dir := shardedCheckpoint(t)
	c, err := Open(dir)
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })

	_, err = c.Load("model.embed_token.weight")
	if !errors.Is(err, weights.ErrMissingWeight) {
		t.Fatalf("erwartet ErrMissingWeight, bekam %v", err)
	}

	var me *weights.MissingWeightError
	require.ErrorAs(t, err, &me)
	if me.Path != dir {
		t.Errorf("Path = %q, erwartet %q", me.Path, dir)
	}
	if me.Suggestion != "model.embed_tokens.weight" {
		t.Errorf("Suggestion = %q", me.Suggestion)
	}

	_, err = c.Load("lm_head.weight")
	require.ErrorAs(t, err, &me)
	if me.Suggestion != "" {
		t.Errorf("kein Vorschlag erwartet, bekam %q", me.Suggestion)
	}
}

// TestLoad_Concurrent testet parallele Loads auf denselben Dateien
func TestLoad_Concurrent(t *testing.T) {
	c, err := Open(shardedCheckpoint(t))
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })

	var wg sync.WaitGroup
	errs := make(chan error, 16)
	for i := range 16 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			name := c.Names()[i%len(c.Names())]
			if _, err := c.Load(name); err != nil {
				errs <- err
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Error(err)
	}
}

// TestOpen_Invalid testet unbekannte Formate und kaputte Header
func TestOpen_Invalid(t *testing.T) {
	t.Run("Leeres Verzeichnis", func(t *testing.T) {
		if _, err := Open(t.TempDir()); !errors.Is(err, ErrUnknownFormat) {
			t.Errorf("erwartet ErrUnknownFormat, bekam %v", err)
		}
	})

	t.Run("Header zu gross", func(t *testing.T) {
		dir := t.TempDir()
		var bts [8]byte
		binary.LittleEndian.PutUint64(bts[:], 1<<40)
		require.NoError(t, os.WriteFile(filepath.Join(dir, "model.safetensors"), bts[:], 0o644))
		if _, err := Open(dir); err == nil {
			t.Error("Erwartete Fehler")
		}
	})

	t.Run("Shape passt nicht", func(t *testing.T) {
		dir := t.TempDir()
		writeSafetensors(t, filepath.Join(dir, "model.safetensors"),
			fixture{"x", "F32", []int{3}, []float32{1, 2}})
		if _, err := Open(dir); err == nil {
			t.Error("Erwartete Fehler")
		}
	})

	t.Run("Unbekannter Datentyp", func(t *testing.T) {
		dir := t.TempDir()
		writeSafetensors(t, filepath.Join(dir, "model.safetensors"),
			fixture{"x", "F8_E4M3", []int{2}, []uint8{1, 2}})
		if _, err := Open(dir); err == nil {
			t.Error("Erwartete Fehler")
		}
	})
}

// rawSafetensors schreibt einen beliebigen Header vor data
func rawSafetensors(t *testing.T, path string, header map[string]any, data []byte) {
	t.Helper()
	bts, err := json.Marshal(header)
	require.NoError(t, err)

	var out bytes.Buffer
	require.NoError(t, binary.Write(&out, binary.LittleEndian, uint64(len(bts))))
	out.Write(bts)
	out.Write(data)
	require.NoError(t, os.WriteFile(path, out.Bytes(), 0o644))
}

// TestOpen_InvalidHeader testet Offsets und Shapes die nicht zu den Daten passen
func TestOpen_InvalidHeader(t *testing.T) {
	tests := []struct {
		name    string
		shape   []int
		offsets []int64
	}{
		{"Ende vor Anfang", []int{-1}, []int64{8, 4}},
		{"Negativer Anfang", []int{2}, []int64{-8, 0}},
		{"Negative Dimensionen", []int{-1, -2}, []int64{0, 8}},
		{"Ende hinter den Daten", []int{4}, []int64{0, 16}},
		{"Anfang hinter den Daten", []int{0}, []int64{1 << 62, 1 << 62}},
		{"Ueberlauf", []int{1 << 40, 1 << 40}, []int64{0, 0}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			rawSafetensors(t, filepath.Join(dir, "model.safetensors"), map[string]any{
				"x": map[string]any{"dtype": "F32", "shape": tt.shape, "data_offsets": tt.offsets},
			}, make([]byte, 8))

			c, err := Open(dir)
			if err == nil {
				c.Close()
				t.Fatal("Erwartete Fehler")
			}
		})
	}

	t.Run("Leerer Tensor", func(t *testing.T) {
		dir := t.TempDir()
		rawSafetensors(t, filepath.Join(dir, "model.safetensors"), map[string]any{
			"x": map[string]any{"dtype": "F32", "shape": []int{0, 4}, "data_offsets": []int64{8, 8}},
		}, make([]byte, 8))

		c, err := Open(dir)
		require.NoError(t, err)
		c.Close()
	})
}
