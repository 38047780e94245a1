package ggml

import (
	"testing"
)

// TestKVGetters testet qualifizierte und unqualifizierte Keys
func TestKVGetters(t *testing.T) {
	tests := []struct {
		name string
		kv   KV
		want [4]uint64
		qm   string
	}{
		{"Unqualifiziert", KV{
			"general.architecture":    "mixtral",
			"block_count":             uint32(32),
			"attention.head_count":    uint32(32),
			"attention.head_count_kv": uint32(8),
			"expert_count":            uint32(8),
		}, [4]uint64{32, 32, 8, 8}, "none"},
		{"Qualifiziert", KV{
			"general.architecture":        "llama",
			"llama.block_count":           uint32(2),
			"llama.attention.head_count":  uint32(4),
			"general.quantization.method": "gptq",
		}, [4]uint64{2, 4, 4, 0}, "gptq"},
		{"Leer", KV{}, [4]uint64{}, "none"},
		{"Falscher Typ", KV{"block_count": "2"}, [4]uint64{}, "none"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := [4]uint64{tt.kv.BlockCount(), tt.kv.HeadCount(), tt.kv.HeadCountKV(), tt.kv.ExpertCount()}
			if got != tt.want {
				t.Errorf("erwartet %v, bekam %v", tt.want, got)
			}
			if qm := tt.kv.QuantMethod(); qm != tt.qm {
				t.Errorf("QuantMethod: erwartet %s, bekam %s", tt.qm, qm)
			}
		})
	}

	if arch := (KV{}).Architecture(); arch != "unknown" {
		t.Errorf("Architecture: erwartet unknown, bekam %s", arch)
	}
}
