// convert_qwen2moe.go - Qwen2MoeForCausalLM
//
// Enthaelt:
// - qwen2MoeModel: Qwen2-Attention mit Bias, MoE-Block mit Shared Expert
//
// Die Experten nutzen moe_intermediate_size, der Shared Expert
// shared_expert_intermediate_size. Der Shared Expert ist ein dichtes FFN und
// wird nicht ueber den MoE-Pfad umgepackt. Nur decoder_sparse_step = 1 wird unterstuetzt.
package convert

import (
	"fmt"

	"github.com/ollama/weightpipe/fs/ggml"
	"github.com/ollama/weightpipe/weights"
)

type qwen2MoeModel struct {
	ModelParameters

	NumExperts                   uint32 `json:"num_experts"`
	NumExpertsPerTok             uint32 `json:"num_experts_per_tok"`
	MoeIntermediateSize          uint32 `json:"moe_intermediate_size"`
	SharedExpertIntermediateSize uint32 `json:"shared_expert_intermediate_size"`
	DecoderSparseStep            uint32 `json:"decoder_sparse_step"`
	NormTopkProb                 bool   `json:"norm_topk_prob"`
}

var _ ModelConverter = (*qwen2MoeModel)(nil)

func (m *qwen2MoeModel) KV() ggml.KV {
	kv := m.ModelParameters.kv("qwen2moe")
	kv["feed_forward_length"] = m.SharedExpertIntermediateSize
	kv["expert_feed_forward_length"] = m.MoeIntermediateSize
	kv["expert_count"] = m.NumExperts
	kv["expert_used_count"] = m.NumExpertsPerTok
	kv["expert_weights_norm"] = m.NormTopkProb
	return kv
}

func (m *qwen2MoeModel) WeightInfo(opts Options) (*weights.ModelWeightInfo, error) {
	if err := m.validate(); err != nil {
		return nil, err
	}
	switch {
	case m.NumExperts == 0:
		return nil, errMissing("num_experts")
	case m.MoeIntermediateSize == 0:
		return nil, errMissing("moe_intermediate_size")
	case m.SharedExpertIntermediateSize == 0:
		return nil, errMissing("shared_expert_intermediate_size")
	case m.DecoderSparseStep > 1:
		return nil, fmt.Errorf("qwen2moe: decoder_sparse_step %d is not supported", m.DecoderSparseStep)
	}

	moe := weights.MoeConfig{
		ExpertNum:           int(m.NumExperts),
		InterPaddingSize:    m.interPaddingSize(m.MoeIntermediateSize, opts),
		RoutedScalingFactor: 1,
	}
	shared := weights.FfnConfig{
		IsGatedActivation: true,
		InterPaddingSize:  m.interPaddingSize(m.SharedExpertIntermediateSize, opts),
		NeedFfnActScale:   opts.FfnActScale,
	}

	sharedWeight := func(name weights.Name, proj string) *weights.AtomicWeight {
		return weights.NewAtomicWeight(name,
			[]weights.CkptRef{weights.Ref("model.layers.{i}.mlp.shared_expert."+proj+".weight", weights.Identity())},
			weights.Transpose(), weights.WithConfig(shared))
	}

	info := &weights.ModelWeightInfo{Weights: m.globalWeights()}
	for range m.NumHiddenLayers {
		group, err := weights.NewCompositeWeight(weights.NameMoeWithShared, []weights.WeightModule{
			weights.NewAtomicWeight(weights.NameMoeGate,
				[]weights.CkptRef{weights.Ref("model.layers.{i}.mlp.gate.weight", weights.Identity())},
				weights.Transpose(), weights.WithConfig(moe)),
			sharedWeight(weights.NameFfnW1, "gate_proj"),
			sharedWeight(weights.NameFfnW2, "down_proj"),
			sharedWeight(weights.NameFfnW3, "up_proj"),
			weights.NewAtomicWeight(weights.NameMoeW1, []weights.CkptRef{
				weights.Ref("model.layers.{i}.mlp.experts.{expert_id}.up_proj.weight", weights.Identity()),
				weights.Ref("model.layers.{i}.mlp.experts.{expert_id}.gate_proj.weight", weights.Identity()),
			}, weights.StackMoeW1(), weights.WithConfig(moe)),
			weights.NewAtomicWeight(weights.NameMoeW2,
				[]weights.CkptRef{weights.Ref("model.layers.{i}.mlp.experts.{expert_id}.down_proj.weight", weights.Identity())},
				weights.Stack(), weights.WithConfig(moe)),
			weights.NewAtomicWeight(weights.NameSharedExpertGate,
				[]weights.CkptRef{weights.Ref("model.layers.{i}.mlp.shared_expert_gate.weight", weights.Identity())},
				weights.Transpose(), weights.WithConfig(moe)),
		}, weights.WithGroupConfig(moe))
		if err != nil {
			return nil, err
		}

		info.LayerWeights = append(info.LayerWeights, append(m.attentionWeights(true), group))
	}
	return info, nil
}
