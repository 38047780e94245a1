// convert_kv.go - GGUF-Metadaten und Quantisierungs-Konfiguration
// Hauptfunktionen: ModelParameters.kv, QuantizationConfig.Scheme, parseMore
package convert

import (
	"cmp"
	"encoding/json"
	"errors"
	"io/fs"

	"github.com/ollama/weightpipe/fs/ggml"
	"github.com/ollama/weightpipe/weights"
)

// QuantizationConfig - quantization_config aus config.json bzw. quantize_config.json.
// AutoAWQ schreibt w_bit / q_group_size statt bits / group_size.
type QuantizationConfig struct {
	QuantMethod string `json:"quant_method"`
	Bits        int    `json:"bits"`
	WBit        int    `json:"w_bit"`
	GroupSize   int    `json:"group_size"`
	QGroupSize  int    `json:"q_group_size"`
	Version     string `json:"version"`
}

// Scheme wandelt die Konfiguration in ein QuantScheme; ohne quant_method,
// aber mit bits, wird GPTQ angenommen
func (c *QuantizationConfig) Scheme() (weights.QuantScheme, error) {
	if c == nil {
		return weights.NoQuant, nil
	}

	bits := cmp.Or(c.Bits, c.WBit)
	method := c.QuantMethod
	if method == "" && bits > 0 {
		method = "gptq"
	}

	family, err := weights.ParseFamily(method)
	if err != nil {
		return weights.QuantScheme{}, err
	}
	return weights.NewQuantScheme(family, bits, cmp.Or(c.GroupSize, c.QGroupSize))
}

// parseMore liest quantize_config.json falls config.json keine
// quantization_config enthaelt
func (p *ModelParameters) parseMore(fsys fs.FS) error {
	if p.QuantizationConfig != nil {
		return nil
	}

	bts, err := fs.ReadFile(fsys, "quantize_config.json")
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	} else if err != nil {
		return err
	}

	var c QuantizationConfig
	if err := json.Unmarshal(bts, &c); err != nil {
		return err
	}
	p.QuantizationConfig = &c
	return nil
}

// kv - gemeinsame Metadaten; Keys ohne general. werden beim Schreiben
// mit der Architektur qualifiziert
func (p *ModelParameters) kv(arch string) ggml.KV {
	attn := p.attnConfig()
	kv := ggml.KV{
		"general.architecture":             arch,
		"general.name":                     cmp.Or(p.ModelType, arch),
		"block_count":                      p.NumHiddenLayers,
		"embedding_length":                 p.HiddenSize,
		"attention.head_count":             p.NumAttentionHeads,
		"attention.head_count_kv":          uint32(attn.HeadNumKV),
		"attention.key_length":             uint32(attn.SizePerHead),
		"attention.value_length":           uint32(attn.SizePerHead),
		"attention.layer_norm_rms_epsilon": cmp.Or(p.RMSNormEPS, 1e-6),
		"rope.freq_base":                   cmp.Or(p.RopeTheta, 10000),
	}

	if p.MaxPositionEmbeddings > 0 {
		kv["context_length"] = p.MaxPositionEmbeddings
	}
	if p.VocabSize > 0 {
		kv["vocab_size"] = p.VocabSize
	}

	q := p.Quantization()
	kv["general.quantization.method"] = q.Family().String()
	if q.Family() != weights.FamilyNone {
		kv["general.quantization.bits"] = uint32(q.WeightBits())
		kv["general.quantization.group_size"] = uint32(q.GroupSize())
	}
	return kv
}
