// convert_mixtral.go - MixtralForCausalLM
// Jeder Layer hat einen MoE-Block ohne Shared Expert
package convert

import (
	"github.com/ollama/weightpipe/fs/ggml"
	"github.com/ollama/weightpipe/weights"
)

type mixtralModel struct {
	ModelParameters

	NumLocalExperts  uint32 `json:"num_local_experts"`
	NumExpertsPerTok uint32 `json:"num_experts_per_tok"`
}

var _ ModelConverter = (*mixtralModel)(nil)

func (m *mixtralModel) KV() ggml.KV {
	kv := m.ModelParameters.kv("mixtral")
	kv["feed_forward_length"] = m.IntermediateSize
	kv["expert_count"] = m.NumLocalExperts
	kv["expert_used_count"] = m.NumExpertsPerTok
	return kv
}

func (m *mixtralModel) WeightInfo(opts Options) (*weights.ModelWeightInfo, error) {
	if err := m.validate(); err != nil {
		return nil, err
	}
	switch {
	case m.IntermediateSize == 0:
		return nil, errMissing("intermediate_size")
	case m.NumLocalExperts == 0:
		return nil, errMissing("num_local_experts")
	}

	moe := weights.MoeConfig{
		ExpertNum:           int(m.NumLocalExperts),
		InterPaddingSize:    m.interPaddingSize(m.IntermediateSize, opts),
		RoutedScalingFactor: 1,
	}

	info := &weights.ModelWeightInfo{Weights: m.globalWeights()}
	for range m.NumHiddenLayers {
		group, err := weights.NewCompositeWeight(weights.NameMoe, []weights.WeightModule{
			weights.NewAtomicWeight(weights.NameMoeGate,
				[]weights.CkptRef{weights.Ref("model.layers.{i}.block_sparse_moe.gate.weight", weights.Concat0())},
				weights.Transpose(), weights.WithConfig(moe),
				weights.WithLora(weights.LoraFuncs{
					ProcessA: weights.Transpose(),
					ProcessB: weights.Transpose(),
					SplitA:   weights.SpID,
					SplitB:   weights.SpNeg1,
				})),
			// Experten bleiben im Layout [E, out, in]
			weights.NewAtomicWeight(weights.NameMoeW1, []weights.CkptRef{
				weights.Ref("model.layers.{i}.block_sparse_moe.experts.{expert_id}.w3.weight", weights.Identity()),
				weights.Ref("model.layers.{i}.block_sparse_moe.experts.{expert_id}.w1.weight", weights.Identity()),
			}, weights.StackMoeW1(), weights.WithConfig(moe),
				weights.WithLora(weights.LoraFuncs{
					ProcessA: weights.StackMoeW1(),
					ProcessB: weights.StackMoeW1LoraB(),
					SplitA:   weights.SpID,
					SplitB:   weights.SpNeg1,
					BA:       true,
				})),
			weights.NewAtomicWeight(weights.NameMoeW2,
				[]weights.CkptRef{weights.Ref("model.layers.{i}.block_sparse_moe.experts.{expert_id}.w2.weight", weights.Identity())},
				weights.Stack(), weights.WithConfig(moe),
				weights.WithLora(weights.LoraFuncs{
					ProcessA: weights.Stack(),
					ProcessB: weights.Stack(),
					SplitA:   weights.Sp0,
					SplitB:   weights.SpID,
					BA:       true,
				})),
		}, weights.WithGroupConfig(moe))
		if err != nil {
			return nil, err
		}

		info.LayerWeights = append(info.LayerWeights, append(m.attentionWeights(false), group))
	}
	return info, nil
}
