package weights

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"

	"github.com/ollama/weightpipe/fs/ggml"
)

// TestLoraNames testet die PEFT-Namenskonvention
func TestLoraNames(t *testing.T) {
	a, b := LoraNames("model.layers.0.self_attn.o_proj.weight")
	if a != "base_model.model.model.layers.0.self_attn.o_proj.lora_A.weight" {
		t.Errorf("A = %q", a)
	}
	if b != "base_model.model.model.layers.0.self_attn.o_proj.lora_B.weight" {
		t.Errorf("B = %q", b)
	}
}

// TestSplit testet die Tensor-Parallel-Split-Funktionen
func TestSplit(t *testing.T) {
	x := f32(t, []int{4, 2}, seq(8))
	p := SplitParams{TP: 2, Rank: 1}

	tests := []struct {
		name  string
		fn    SplitFunc
		shape []int
		vals  []float64
	}{
		{"SpID", SpID, []int{4, 2}, []float64{0, 1, 2, 3, 4, 5, 6, 7}},
		{"Sp0", Sp0, []int{2, 2}, []float64{4, 5, 6, 7}},
		{"Sp1", Sp1, []int{4, 1}, []float64{1, 3, 5, 7}},
		{"SpNeg1", SpNeg1, []int{4, 1}, []float64{1, 3, 5, 7}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := tt.fn(x, p)
			require.NoError(t, err)
			if diff := cmp.Diff(tt.shape, out.dims()); diff != "" {
				t.Errorf("Shape (-want +got):\n%s", diff)
			}
			if diff := cmp.Diff(tt.vals, values(t, out)); diff != "" {
				t.Errorf("Werte (-want +got):\n%s", diff)
			}
		})
	}

	if _, err := Sp0(f32(t, []int{3, 2}, seq(6)), p); !errors.Is(err, ErrShapeMismatch) {
		t.Errorf("nicht teilbar: erwartet ErrShapeMismatch, bekam %v", err)
	}
	if _, err := Sp0(x, SplitParams{TP: 2, Rank: 2}); err == nil {
		t.Error("Rang ausserhalb sollte fehlschlagen")
	}
}

// TestSpHeadLora testet den Split der fusionierten q/k/v-Achse
func TestSpHeadLora(t *testing.T) {
	// q = 4, k = v = 2 Spalten; r = 1
	x := f32(t, []int{1, 8}, []float32{0, 1, 2, 3, 10, 11, 20, 21})
	p := SplitParams{TP: 2, Rank: 1, HeadNum: 2, HeadNumKV: 1, SizePerHead: 2}

	out, err := SpHeadLora(x, p)
	require.NoError(t, err)
	if diff := cmp.Diff([]float64{2, 3, 11, 21}, values(t, out)); diff != "" {
		t.Errorf("Werte (-want +got):\n%s", diff)
	}

	p.HeadNum = 4
	if _, err := SpHeadLora(x, p); !errors.Is(err, ErrShapeMismatch) {
		t.Errorf("falsche Breite: erwartet ErrShapeMismatch, bekam %v", err)
	}
}

// TestLoadLora_MergeLora testet o_proj: Adapter laden und mit der Basis verrechnen
func TestLoadLora_MergeLora(t *testing.T) {
	o := NewAtomicWeight(NameAttnOW, []CkptRef{Ref("model.layers.{i}.self_attn.o_proj.weight", Concat1())}, Transpose(),
		WithLora(LoraFuncs{ProcessA: Transpose(), ProcessB: Transpose(), SplitA: Sp0, SplitB: SpID}))

	// Basis [out=2, in=2] -> transponiert [in, out]
	ckpt := newMemReader().add("model.layers.0.self_attn.o_proj.weight", f32(t, []int{2, 2}, []float32{1, 2, 3, 4}))
	base, err := o.Materialize(ckpt, LayerScope(0), nil)
	require.NoError(t, err)

	// A [r=1, in=2], B [out=2, r=1]
	adapter := newMemReader().
		add("base_model.model.model.layers.0.self_attn.o_proj.lora_A.weight", f32(t, []int{1, 2}, []float32{1, 2})).
		add("base_model.model.model.layers.0.self_attn.o_proj.lora_B.weight", f32(t, []int{2, 1}, []float32{10, 20}))

	pair, err := LoadLora(o, adapter, LayerScope(0), SplitParams{TP: 1})
	require.NoError(t, err)
	if diff := cmp.Diff([]int{2, 1}, pair.A.dims()); diff != "" {
		t.Errorf("A Shape (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]int{1, 2}, pair.B.dims()); diff != "" {
		t.Errorf("B Shape (-want +got):\n%s", diff)
	}

	merged, err := MergeLora(base, pair, 0.5)
	require.NoError(t, err)
	if merged.Type != ggml.TensorTypeF32 {
		t.Errorf("Type = %s", merged.Type)
	}
	// base^T = [[1,3],[2,4]], A x B = [[10,20],[20,40]]
	if diff := cmp.Diff([]float64{6, 13, 12, 24}, values(t, merged)); diff != "" {
		t.Errorf("Merge (-want +got):\n%s", diff)
	}
}

// TestLoadLora_Unsupported testet Deskriptoren ohne LoRA-Funktionen
func TestLoadLora_Unsupported(t *testing.T) {
	emb := NewAtomicWeight(NameEmbedding, []CkptRef{Ref("model.embed_tokens.weight", Concat1())}, Identity())
	if _, err := LoadLora(emb, newMemReader(), GlobalScope, SplitParams{TP: 1}); !errors.Is(err, ErrUnsupportedWeightCategory) {
		t.Errorf("erwartet ErrUnsupportedWeightCategory, bekam %v", err)
	}

	g, err := NewGroupWiseWeight(oProj(), mustScheme(t, FamilyGPTQ, 4, 128))
	require.NoError(t, err)
	if _, err := LoadLora(g, newMemReader(), LayerScope(0), SplitParams{TP: 1}); !errors.Is(err, ErrUnsupportedWeightCategory) {
		t.Errorf("quantisiert: erwartet ErrUnsupportedWeightCategory, bekam %v", err)
	}
}

// TestMergeLora_Errors testet inkompatible Shapes
func TestMergeLora_Errors(t *testing.T) {
	base := f32(t, []int{2, 2}, seq(4))
	a := f32(t, []int{2, 1}, seq(2))
	b := f32(t, []int{1, 3}, seq(3))
	if _, err := MergeLora(base, LoraPair{A: a, B: b}, 1); !errors.Is(err, ErrShapeMismatch) {
		t.Errorf("erwartet ErrShapeMismatch, bekam %v", err)
	}
	if _, err := MergeLora(i32seq(t, 0, 2, 2), LoraPair{A: a, B: f32(t, []int{1, 2}, seq(2))}, 1); !errors.Is(err, ErrShapeMismatch) {
		t.Errorf("Integer-Basis: erwartet ErrShapeMismatch, bekam %v", err)
	}
}

// TestMergeLora_Experts testet B x A pro Experte fuer Basen im Layout [E, out, in]
func TestMergeLora_Experts(t *testing.T) {
	base := f32(t, []int{2, 2, 2}, []float32{1, 2, 3, 4, 5, 6, 7, 8})
	a := f32(t, []int{2, 1, 2}, []float32{1, 0, 0, 1})
	b := f32(t, []int{2, 2, 1}, []float32{1, 1, 2, 0})

	tests := []struct {
		name string
		pair LoraPair
		want []float32
		err  bool
	}{
		{"B x A", LoraPair{A: a, B: b, BA: true}, []float32{2, 2, 4, 4, 5, 8, 7, 8}, false},
		{"A x B passt nicht", LoraPair{A: a, B: b}, nil, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := MergeLora(base, tt.pair, 1)
			if tt.err {
				if !errors.Is(err, ErrShapeMismatch) {
					t.Errorf("erwartet ErrShapeMismatch, bekam %v", err)
				}
				return
			}
			require.NoError(t, err)
			vs, err := got.Float32s()
			require.NoError(t, err)
			if diff := cmp.Diff(tt.want, vs); diff != "" {
				t.Errorf("Werte (-want +got):\n%s", diff)
			}
		})
	}
}

// TestStackMoeW1LoraB testet die Block-Diagonale pro Experte
func TestStackMoeW1LoraB(t *testing.T) {
	w3e0 := f32(t, []int{1, 1}, []float32{1})
	w3e1 := f32(t, []int{1, 1}, []float32{2})
	w1e0 := f32(t, []int{2, 1}, []float32{3, 4})
	w1e1 := f32(t, []int{2, 1}, []float32{5, 6})

	got, err := StackMoeW1LoraB().Apply(w3e0, w3e1, w1e0, w1e1)
	require.NoError(t, err)
	if diff := cmp.Diff([]int{2, 3, 2}, got.dims()); diff != "" {
		t.Errorf("Shape (-want +got):\n%s", diff)
	}
	vs, err := got.Float32s()
	require.NoError(t, err)
	want := []float32{
		1, 0, 0, 3, 0, 4,
		2, 0, 0, 5, 0, 6,
	}
	if diff := cmp.Diff(want, vs); diff != "" {
		t.Errorf("Werte (-want +got):\n%s", diff)
	}

	if _, err := StackMoeW1LoraB().Apply(w3e0, w3e1, w1e0); !errors.Is(err, ErrShapeMismatch) {
		t.Errorf("ungerade Anzahl: erwartet ErrShapeMismatch, bekam %v", err)
	}
}
