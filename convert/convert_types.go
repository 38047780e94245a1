// convert_types.go - Basis-Typen fuer die Konvertierung
// Haupttypen: ModelParameters, Options, ModelConverter
package convert

import (
	"cmp"
	"io/fs"

	"github.com/ollama/weightpipe/envconfig"
	"github.com/ollama/weightpipe/fs/ggml"
	"github.com/ollama/weightpipe/weights"
)

// ModelParameters - Gemeinsame Felder aus config.json
type ModelParameters struct {
	Architectures []string `json:"architectures"`
	ModelType     string   `json:"model_type"`
	VocabSize     uint32   `json:"vocab_size"`

	HiddenSize            uint32  `json:"hidden_size"`
	NumHiddenLayers       uint32  `json:"num_hidden_layers"`
	NumAttentionHeads     uint32  `json:"num_attention_heads"`
	NumKeyValueHeads      uint32  `json:"num_key_value_heads"`
	HeadDim               uint32  `json:"head_dim"`
	IntermediateSize      uint32  `json:"intermediate_size"`
	MaxPositionEmbeddings uint32  `json:"max_position_embeddings"`
	RMSNormEPS            float32 `json:"rms_norm_eps"`
	RopeTheta             float32 `json:"rope_theta"`
	TieWordEmbeddings     bool    `json:"tie_word_embeddings"`

	QuantizationConfig *QuantizationConfig `json:"quantization_config"`
}

// Options - Einstellungen fuer Manifest und Laden
type Options struct {
	// Device ist der Name des Repack-Geraets (ml/device)
	Device      string
	Concurrency int

	// InterAlign ist das Alignment der Intermediate-Groesse; bei
	// Quantisierung mindestens die Gruppengroesse
	InterAlign  int
	FfnActScale bool

	// Lora ist ein optionales PEFT-Adapter-Verzeichnis
	Lora string

	Progress func(float32)
}

// DefaultOptions liest die Einstellungen aus der Umgebung
func DefaultOptions() Options {
	return Options{
		Device:      envconfig.Device(),
		Concurrency: envconfig.LoadConcurrency(),
		InterAlign:  int(envconfig.InterAlign()),
		FfnActScale: envconfig.FfnActScale(),
	}
}

// ModelConverter - Interface pro Architektur
type ModelConverter interface {
	// KV gibt die GGUF-Metadaten zurueck
	KV() ggml.KV
	// WeightInfo baut das unquantisierte Gewichts-Manifest
	WeightInfo(Options) (*weights.ModelWeightInfo, error)
	// Quantization gibt das Schema des Checkpoints zurueck
	Quantization() weights.QuantScheme

	params() *ModelParameters
}

// moreParser - Interface fuer zusaetzliche Konfigurationsdateien
type moreParser interface {
	parseMore(fs.FS) error
}

func (p *ModelParameters) params() *ModelParameters { return p }

// Quantization gibt das Schema aus quantization_config zurueck
func (p *ModelParameters) Quantization() weights.QuantScheme {
	if p.QuantizationConfig == nil {
		return weights.NoQuant
	}
	s, err := p.QuantizationConfig.Scheme()
	if err != nil {
		return weights.NoQuant
	}
	return s
}

func (p *ModelParameters) validate() error {
	switch {
	case p.NumHiddenLayers == 0:
		return errMissing("num_hidden_layers")
	case p.HiddenSize == 0:
		return errMissing("hidden_size")
	case p.NumAttentionHeads == 0:
		return errMissing("num_attention_heads")
	}
	return nil
}

// attnConfig leitet die Attention-Dimensionen ab; head_dim ist optional
func (p *ModelParameters) attnConfig() weights.AttnConfig {
	return weights.AttnConfig{
		HeadNum:     int(p.NumAttentionHeads),
		HeadNumKV:   int(cmp.Or(p.NumKeyValueHeads, p.NumAttentionHeads)),
		HiddenSize:  int(p.HiddenSize),
		SizePerHead: int(cmp.Or(p.HeadDim, p.HiddenSize/p.NumAttentionHeads)),
	}
}

// splitParams - Adapter werden in ungeteilte Gewichte eingerechnet, TP ist immer 1
func (p *ModelParameters) splitParams() weights.SplitParams {
	attn := p.attnConfig()
	return weights.SplitParams{
		TP:          1,
		HiddenSize:  attn.HiddenSize,
		HeadNum:     attn.HeadNum,
		HeadNumKV:   attn.HeadNumKV,
		SizePerHead: attn.SizePerHead,
	}
}

// interPaddingSize richtet inter auf das Alignment aus
func (p *ModelParameters) interPaddingSize(inter uint32, opts Options) int {
	align := max(opts.InterAlign, 1)
	if q := p.Quantization(); q.IsGroupwise() {
		align = max(align, q.GroupSize())
	}
	return alignUp(int(inter), align)
}

func alignUp(n, align int) int {
	return (n + align - 1) / align * align
}
