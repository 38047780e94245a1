// convert_llama.go - Dense Decoder: Llama, Mistral und Qwen2
//
// Enthaelt:
// - llamaModel: Manifest fuer LlamaForCausalLM / MistralForCausalLM
// - Qwen2ForCausalLM nutzt denselben Aufbau mit QKV-Bias
// - globalWeights/attentionWeights: gemeinsam mit den MoE-Architekturen
package convert

import (
	"github.com/ollama/weightpipe/fs/ggml"
	"github.com/ollama/weightpipe/weights"
)

type llamaModel struct {
	ModelParameters

	arch    string
	qkvBias bool
}

var _ ModelConverter = (*llamaModel)(nil)

func (m *llamaModel) KV() ggml.KV {
	kv := m.ModelParameters.kv(m.arch)
	kv["feed_forward_length"] = m.IntermediateSize
	return kv
}

func (m *llamaModel) WeightInfo(opts Options) (*weights.ModelWeightInfo, error) {
	if err := m.validate(); err != nil {
		return nil, err
	}
	if m.IntermediateSize == 0 {
		return nil, errMissing("intermediate_size")
	}

	ffn := weights.FfnConfig{
		IsGatedActivation: true,
		InterPaddingSize:  m.interPaddingSize(m.IntermediateSize, opts),
		NeedFfnActScale:   opts.FfnActScale,
	}

	info := &weights.ModelWeightInfo{Weights: m.globalWeights()}
	for range m.NumHiddenLayers {
		layer := m.attentionWeights(m.qkvBias)
		layer = append(layer, denseFfnWeights("model.layers.{i}.mlp", ffn)...)
		info.LayerWeights = append(info.LayerWeights, layer)
	}
	return info, nil
}

// globalWeights - Embedding, lm_head und finale Norm
func (p *ModelParameters) globalWeights() []weights.WeightModule {
	lmHead := "lm_head.weight"
	if p.TieWordEmbeddings {
		lmHead = "model.embed_tokens.weight"
	}

	return []weights.WeightModule{
		weights.NewAtomicWeight(weights.NameEmbedding, []weights.CkptRef{weights.Ref("model.embed_tokens.weight", weights.Concat1())}, weights.Identity()),
		weights.NewAtomicWeight(weights.NameLmHead, []weights.CkptRef{weights.Ref(lmHead, weights.Identity())}, weights.Identity()),
		weights.NewAtomicWeight(weights.NameFinalLnGamma, []weights.CkptRef{weights.Ref("model.norm.weight", weights.Identity())}, weights.Identity()),
		weights.NewAtomicWeight(weights.NameFinalLnBeta, nil, weights.Zeros(int(p.HiddenSize))),
	}
}

// attentionWeights - Normen, QKV und Output-Projektion eines Layers
func (p *ModelParameters) attentionWeights(bias bool) []weights.WeightModule {
	attn := p.attnConfig()
	proj := func(name string) weights.CkptRef {
		return weights.Ref("model.layers.{i}.self_attn."+name, weights.Concat0())
	}

	ws := []weights.WeightModule{
		weights.NewAtomicWeight(weights.NamePreLnGamma, []weights.CkptRef{weights.Ref("model.layers.{i}.input_layernorm.weight", weights.Identity())}, weights.Identity()),
		weights.NewAtomicWeight(weights.NameAttnQKVW,
			[]weights.CkptRef{proj("q_proj.weight"), proj("k_proj.weight"), proj("v_proj.weight")},
			weights.MergeQKVHF(),
			weights.WithConfig(attn),
			weights.WithLora(weights.LoraFuncs{
				ProcessA: weights.MergeQKVLoraA(),
				ProcessB: weights.MergeQKVLoraB(attn),
				SplitA:   weights.SpID,
				SplitB:   weights.SpHeadLora,
			})),
	}
	if bias {
		ws = append(ws, weights.NewAtomicWeight(weights.NameAttnQKVB,
			[]weights.CkptRef{proj("q_proj.bias"), proj("k_proj.bias"), proj("v_proj.bias")},
			weights.Concat0(), weights.WithConfig(attn)))
	}

	return append(ws,
		weights.NewAtomicWeight(weights.NameAttnOW,
			[]weights.CkptRef{weights.Ref("model.layers.{i}.self_attn.o_proj.weight", weights.Concat1())},
			weights.Transpose(),
			weights.WithConfig(attn),
			weights.WithLora(weights.LoraFuncs{
				ProcessA: weights.Transpose(),
				ProcessB: weights.Transpose(),
				SplitA:   weights.Sp0,
				SplitB:   weights.SpID,
			})),
		weights.NewAtomicWeight(weights.NamePostLnGamma, []weights.CkptRef{weights.Ref("model.layers.{i}.post_attention_layernorm.weight", weights.Identity())}, weights.Identity()),
	)
}

// denseFfnWeights - gate (w1), down (w2) und up (w3) unter prefix
func denseFfnWeights(prefix string, ffn weights.FfnConfig) []weights.WeightModule {
	upLora := weights.WithLora(weights.LoraFuncs{
		ProcessA: weights.Transpose(),
		ProcessB: weights.Transpose(),
		SplitA:   weights.SpID,
		SplitB:   weights.SpNeg1,
	})
	// Shards von down sind entlang der Spalten geteilt
	ffnWeight := func(name weights.Name, proj string, tf weights.Transform, opts ...weights.Option) *weights.AtomicWeight {
		return weights.NewAtomicWeight(name,
			[]weights.CkptRef{weights.Ref(prefix+"."+proj+".weight", tf)},
			weights.Transpose(),
			append([]weights.Option{weights.WithConfig(ffn)}, opts...)...)
	}

	return []weights.WeightModule{
		ffnWeight(weights.NameFfnW1, "gate_proj", weights.Concat0(), upLora),
		ffnWeight(weights.NameFfnW2, "down_proj", weights.Concat1(), weights.WithLora(weights.LoraFuncs{
			ProcessA: weights.Transpose(),
			ProcessB: weights.Transpose(),
			SplitA:   weights.Sp0,
			SplitB:   weights.SpID,
		})),
		ffnWeight(weights.NameFfnW3, "up_proj", weights.Concat0(), upLora),
	}
}
