package weights

import (
	"errors"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"

	"github.com/ollama/weightpipe/fs/ggml"
)

func refNames(w *AtomicWeight) []string {
	names := make([]string, len(w.refs))
	for i, r := range w.refs {
		names[i] = string(r.Name)
	}
	return names
}

func oProj() *AtomicWeight {
	return NewAtomicWeight(NameAttnOW,
		[]CkptRef{Ref("model.layers.{i}.self_attn.o_proj.weight", Concat1())},
		Transpose(),
		WithConfig(AttnConfig{HeadNum: 4, HeadNumKV: 2, HiddenSize: 8, SizePerHead: 2}))
}

// TestResolveGroupWise_Suffixes testet das Suffix-Mapping fuer alle Kategorien
func TestResolveGroupWise_Suffixes(t *testing.T) {
	gptq := mustScheme(t, FamilyGPTQ, 4, 128)
	ffn := FfnConfig{IsGatedActivation: true, InterPaddingSize: 1024}
	moe := MoeConfig{ExpertNum: 2, InterPaddingSize: 1024}

	sources := []*AtomicWeight{
		oProj(),
		NewAtomicWeight(NameAttnQKVW, []CkptRef{
			Ref("model.layers.{i}.self_attn.q_proj.weight", Identity()),
			Ref("model.layers.{i}.self_attn.k_proj.weight", Identity()),
			Ref("model.layers.{i}.self_attn.v_proj.weight", Identity()),
		}, MergeQKVHF()),
		NewAtomicWeight(NameFfnW1, []CkptRef{Ref("model.layers.{i}.mlp.gate_proj.weight", Identity())}, Transpose(), WithConfig(ffn)),
		NewAtomicWeight(NameFfnW3, []CkptRef{Ref("model.layers.{i}.mlp.up_proj.weight", Identity())}, Transpose(), WithConfig(ffn)),
		NewAtomicWeight(NameFfnW2, []CkptRef{Ref("model.layers.{i}.mlp.down_proj.weight", Identity())}, Transpose(), WithConfig(ffn)),
		NewAtomicWeight(NameFfnW13, []CkptRef{
			Ref("model.layers.{i}.mlp.gate_proj.weight", Identity()),
			Ref("model.layers.{i}.mlp.up_proj.weight", Identity()),
		}, Concat1(), WithConfig(ffn)),
		NewAtomicWeight(NameMoeW1, []CkptRef{
			Ref("model.layers.{i}.block_sparse_moe.experts.{expert_id}.w3.weight", Identity()),
			Ref("model.layers.{i}.block_sparse_moe.experts.{expert_id}.w1.weight", Identity()),
		}, StackMoeW1(), WithConfig(moe)),
		NewAtomicWeight(NameMoeW2, []CkptRef{
			Ref("model.layers.{i}.block_sparse_moe.experts.{expert_id}.w2.weight", Identity()),
		}, Stack(), WithConfig(moe)),
	}

	for _, src := range sources {
		t.Run(src.Name().String(), func(t *testing.T) {
			s, err := ResolveGroupWise(src, gptq)
			require.NoError(t, err)

			for _, x := range []struct {
				w      *AtomicWeight
				suffix string
			}{{s.Kernel, SuffixQWeight}, {s.Zero, SuffixQZeros}, {s.Scale, SuffixScales}} {
				require.Len(t, x.w.refs, len(src.refs))
				for i, r := range x.w.refs {
					want := strings.TrimSuffix(string(src.refs[i].Name), SuffixWeight) + x.suffix
					if string(r.Name) != want {
						t.Errorf("%s ref %d = %q, erwartet %q", x.w.Name(), i, r.Name, want)
					}
				}
			}

			if typ, ok := s.Kernel.DataType(); !ok || typ != ggml.TensorTypeI32 {
				t.Errorf("Kernel Datentyp = %v/%v, erwartet I32", typ, ok)
			}
			if typ, ok := s.Zero.DataType(); !ok || typ != ggml.TensorTypeI32 {
				t.Errorf("Zero Datentyp = %v/%v, erwartet I32", typ, ok)
			}
			if _, ok := s.Scale.DataType(); ok {
				t.Error("Scale sollte den Datentyp nicht setzen")
			}
			if s.ActScale != nil {
				t.Error("ActScale sollte ohne NeedFfnActScale nil sein")
			}
		})
	}
}

// TestResolveGroupWise_QKV testet 1 und 3 Referenzen
func TestResolveGroupWise_QKV(t *testing.T) {
	awq := mustScheme(t, FamilyAWQ, 4, 64)

	fused := NewAtomicWeight(NameAttnQKVW, []CkptRef{Ref("model.layers.{i}.self_attn.W_pack.weight", Identity())}, Transpose())
	s, err := ResolveGroupWise(fused, awq)
	require.NoError(t, err)
	if !s.Kernel.merge.IsIdentity() || !s.Kernel.refs[0].Transform.IsIdentity() {
		t.Errorf("1 Referenz: erwartet Identity, bekam %s", s.Kernel)
	}

	split := NewAtomicWeight(NameAttnQKVW, []CkptRef{
		Ref("q.weight", Identity()), Ref("k.weight", Identity()), Ref("v.weight", Identity()),
	}, MergeQKVHF(), WithConfig(AttnConfig{HeadNum: 2, HeadNumKV: 1, HiddenSize: 4, SizePerHead: 2}))
	s, err = ResolveGroupWise(split, awq)
	require.NoError(t, err)
	for _, w := range []*AtomicWeight{s.Kernel, s.Zero, s.Scale} {
		if w.merge.String() != "merge_qkv_hf" {
			t.Errorf("%s merge = %s, erwartet merge_qkv_hf", w.Name(), w.merge)
		}
		for _, r := range w.refs {
			if r.Transform.String() != "transpose" {
				t.Errorf("%s ref %s transform = %s, erwartet transpose", w.Name(), r.Name, r.Transform)
			}
		}
		if w.Config() != split.Config() {
			t.Errorf("%s sollte die Config uebernehmen", w.Name())
		}
	}
	if diff := cmp.Diff([]string{"q.qzeros", "k.qzeros", "v.qzeros"}, refNames(s.Zero)); diff != "" {
		t.Errorf("Zero refs (-want +got):\n%s", diff)
	}

	two := NewAtomicWeight(NameAttnQKVW, []CkptRef{Ref("q.weight", Identity()), Ref("k.weight", Identity())}, Concat1())
	if _, err := ResolveGroupWise(two, awq); err == nil {
		t.Error("2 Referenzen sollten fehlschlagen")
	}
}

// TestResolveGroupWise_Padding testet die Padding-Regeln pro Kategorie
func TestResolveGroupWise_Padding(t *testing.T) {
	ffn := FfnConfig{IsGatedActivation: true, InterPaddingSize: 1024}
	down := NewAtomicWeight(NameFfnW2, []CkptRef{Ref("model.layers.{i}.mlp.down_proj.weight", Identity())}, Transpose(), WithConfig(ffn))
	gate := NewAtomicWeight(NameFfnW1, []CkptRef{Ref("model.layers.{i}.mlp.gate_proj.weight", Identity())}, Transpose(), WithConfig(ffn))
	w13 := NewAtomicWeight(NameFfnW13, []CkptRef{
		Ref("model.layers.{i}.mlp.gate_proj.weight", Identity()),
		Ref("model.layers.{i}.mlp.up_proj.weight", Identity()),
	}, Concat1(), WithConfig(ffn))

	tests := []struct {
		name                string
		src                 *AtomicWeight
		family              Family
		kernel, zero, scale string
	}{
		{"down GPTQ", down, FamilyGPTQ, "pad(128,dim=0)", "pad(8,dim=0)", "pad(8,dim=0)"},
		{"down AWQ", down, FamilyAWQ, "pad(1024,dim=0)", "pad(8,dim=0)", "pad(8,dim=0)"},
		{"gate GPTQ", gate, FamilyGPTQ, "pad(1024,dim=1)", "pad(128,dim=1)", "pad(1024,dim=1)"},
		{"gate AWQ", gate, FamilyAWQ, "pad(128,dim=1)", "pad(128,dim=1)", "pad(1024,dim=1)"},
		{"w13 GPTQ", w13, FamilyGPTQ, "pad_w13(1024,dim=1)", "pad_w13(128,dim=1)", "pad_w13(1024,dim=1)"},
		{"w13 AWQ", w13, FamilyAWQ, "pad_w13(128,dim=1)", "pad_w13(128,dim=1)", "pad_w13(1024,dim=1)"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := ResolveGroupWise(tt.src, mustScheme(t, tt.family, 4, 128))
			require.NoError(t, err)
			got := []string{s.Kernel.merge.String(), s.Zero.merge.String(), s.Scale.merge.String()}
			if diff := cmp.Diff([]string{tt.kernel, tt.zero, tt.scale}, got); diff != "" {
				t.Errorf("Merge (-want +got):\n%s", diff)
			}
		})
	}
}

// TestResolveGroupWise_ActScale testet die Aktivierungs-Skala von FFN down
func TestResolveGroupWise_ActScale(t *testing.T) {
	cfg := FfnConfig{IsGatedActivation: true, InterPaddingSize: 256, NeedFfnActScale: true}
	down := NewAtomicWeight(NameFfnW2, []CkptRef{Ref("model.layers.{i}.mlp.down_proj.weight", Identity())}, Transpose(), WithConfig(cfg))

	s, err := ResolveGroupWise(down, mustScheme(t, FamilyGPTQ, 8, 64))
	require.NoError(t, err)
	require.NotNil(t, s.ActScale)
	if diff := cmp.Diff([]string{"model.layers.{i}.mlp.act.scales"}, refNames(s.ActScale)); diff != "" {
		t.Errorf("ActScale refs (-want +got):\n%s", diff)
	}
	if s.ActScale.Name() != NameFfnActS {
		t.Errorf("ActScale Name = %s", s.ActScale.Name())
	}
	if len(s.Modules()) != 4 {
		t.Errorf("Modules = %d, erwartet 4", len(s.Modules()))
	}

	// 8 Bit GPTQ: Pack-Faktor 4
	if got := s.Kernel.merge.String(); got != "pad(64,dim=0)" {
		t.Errorf("Kernel merge = %s, erwartet pad(64,dim=0)", got)
	}

	gate := NewAtomicWeight(NameFfnW1, []CkptRef{Ref("model.layers.{i}.mlp.gate_proj.weight", Identity())}, Transpose(), WithConfig(cfg))
	s, err = ResolveGroupWise(gate, mustScheme(t, FamilyGPTQ, 8, 64))
	require.NoError(t, err)
	if s.ActScale != nil {
		t.Error("ActScale nur fuer FFN down")
	}
}

// TestResolveGroupWise_Moe testet transponierte Referenzen und Experten-Reihenfolge
func TestResolveGroupWise_Moe(t *testing.T) {
	moe := MoeConfig{ExpertNum: 3, InterPaddingSize: 64}
	w1 := NewAtomicWeight(NameMoeW1, []CkptRef{
		Ref("model.layers.{i}.block_sparse_moe.experts.{expert_id}.w3.weight", Identity()),
		Ref("model.layers.{i}.block_sparse_moe.experts.{expert_id}.w1.weight", Identity()),
	}, StackMoeW1(), WithConfig(moe), WithLora(LoraFuncs{}))

	s, err := ResolveGroupWise(w1, mustScheme(t, FamilyGPTQ, 4, 32))
	require.NoError(t, err)
	if s.Kernel.merge.String() != "stack_moe_w1" {
		t.Errorf("merge = %s", s.Kernel.merge)
	}
	if s.Kernel.SupportsLora() {
		t.Error("MoE-Geschwister werden neu gebaut und verlieren LoRA")
	}

	names, err := s.Kernel.ResolvedNames(LayerScope(5))
	require.NoError(t, err)
	want := []string{
		"model.layers.5.block_sparse_moe.experts.0.w3.qweight",
		"model.layers.5.block_sparse_moe.experts.1.w3.qweight",
		"model.layers.5.block_sparse_moe.experts.2.w3.qweight",
		"model.layers.5.block_sparse_moe.experts.0.w1.qweight",
		"model.layers.5.block_sparse_moe.experts.1.w1.qweight",
		"model.layers.5.block_sparse_moe.experts.2.w1.qweight",
	}
	if diff := cmp.Diff(want, names); diff != "" {
		t.Errorf("aufgeloeste Namen (-want +got):\n%s", diff)
	}
	for _, r := range s.Scale.refs {
		if r.Transform.String() != "transpose" {
			t.Errorf("Scale ref transform = %s", r.Transform)
		}
	}
}

// TestResolveGroupWise_Unsupported testet Fehler ausserhalb der Kategorien
func TestResolveGroupWise_Unsupported(t *testing.T) {
	gptq := mustScheme(t, FamilyGPTQ, 4, 128)

	emb := NewAtomicWeight(NameEmbedding, []CkptRef{Ref("model.embed_tokens.weight", Concat1())}, Identity())
	_, err := ResolveGroupWise(emb, gptq)
	if !errors.Is(err, ErrUnsupportedWeightCategory) {
		t.Errorf("embedding: erwartet ErrUnsupportedWeightCategory, bekam %v", err)
	}

	bad := NewAtomicWeight(NameAttnOW, []CkptRef{Ref("model.layers.{i}.self_attn.o_proj.bias", Identity())}, Identity())
	if _, err := ResolveGroupWise(bad, gptq); err == nil {
		t.Error("Referenz ohne .weight sollte fehlschlagen")
	}
}
