// convert_model.go - Model-Konvertierung: Checkpoint -> Manifest -> GGUF
// Hauptfunktionen: LoadModelMetadata, Manifest, ConvertModel, writeFile
package convert

import (
	"cmp"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"

	"github.com/ollama/weightpipe/fs/ckpt"
	"github.com/ollama/weightpipe/fs/ggml"
	"github.com/ollama/weightpipe/loader"
	"github.com/ollama/weightpipe/ml/device"
	"github.com/ollama/weightpipe/weights"
)

var (
	ErrUnsupportedArchitecture = errors.New("unsupported architecture")

	errMissingParameter = errors.New("missing model parameter")
)

func errMissing(key string) error {
	return fmt.Errorf("%w: %s", errMissingParameter, key)
}

// LoadModelMetadata - Laedt config.json und optionale Zusatzdateien
func LoadModelMetadata(fsys fs.FS) (ModelConverter, error) {
	bts, err := fs.ReadFile(fsys, "config.json")
	if err != nil {
		return nil, err
	}

	var p ModelParameters
	if err := json.Unmarshal(bts, &p); err != nil {
		return nil, err
	}

	if len(p.Architectures) < 1 {
		return nil, fmt.Errorf("%w: architectures not set", ErrUnsupportedArchitecture)
	}

	conv := createModelConverter(p.Architectures[0])
	if conv == nil {
		return nil, fmt.Errorf("%w %q", ErrUnsupportedArchitecture, p.Architectures[0])
	}

	if err := json.Unmarshal(bts, conv); err != nil {
		return nil, err
	}

	if t, ok := conv.(moreParser); ok {
		if err := t.parseMore(fsys); err != nil {
			return nil, err
		}
	}

	if _, err := conv.params().QuantizationConfig.Scheme(); err != nil {
		return nil, fmt.Errorf("quantization_config: %w", err)
	}

	kv := conv.KV()
	slog.Debug("model metadata", "architecture", kv.Architecture(), "layers", kv.BlockCount(),
		"heads", kv.HeadCount(), "kv_heads", kv.HeadCountKV(), "experts", kv.ExpertCount(),
		"quantization", kv.QuantMethod())
	return conv, nil
}

// createModelConverter - Factory fuer Model-Converter basierend auf Architektur
func createModelConverter(arch string) ModelConverter {
	switch arch {
	case "LlamaForCausalLM":
		return &llamaModel{arch: "llama"}
	case "MistralForCausalLM":
		return &llamaModel{arch: "llama"}
	case "Qwen2ForCausalLM":
		return &llamaModel{arch: "qwen2", qkvBias: true}
	case "MixtralForCausalLM":
		return &mixtralModel{}
	case "Qwen2MoeForCausalLM":
		return &qwen2MoeModel{}
	default:
		return nil
	}
}

// Manifest baut, prueft und quantisiert das Gewichts-Manifest
func Manifest(conv ModelConverter, opts Options) (*weights.ModelWeightInfo, error) {
	info, err := conv.WeightInfo(opts)
	if err != nil {
		return nil, err
	}
	if err := info.Validate(); err != nil {
		return nil, err
	}

	q := conv.Quantization()
	if !q.IsGroupwise() {
		return info, nil
	}
	return info.Quantize(q)
}

// ConvertModel - Konvertiert den Checkpoint in dir zu GGUF
// Unterstuetzte Eingabeformate: safetensors, pytorch (.bin/.pth)
func ConvertModel(ctx context.Context, dir string, f *os.File, opts Options) (loader.Summary, error) {
	conv, err := LoadModelMetadata(os.DirFS(dir))
	if err != nil {
		return loader.Summary{}, err
	}

	info, err := Manifest(conv, opts)
	if err != nil {
		return loader.Summary{}, err
	}

	dev, err := device.Lookup(cmp.Or(opts.Device, "cpu"))
	if err != nil {
		return loader.Summary{}, err
	}

	c, err := ckpt.Open(dir)
	if err != nil {
		return loader.Summary{}, err
	}
	defer c.Close()

	lopts := loader.Options{Concurrency: opts.Concurrency, Progress: opts.Progress}
	if opts.Lora != "" {
		lora, closer, err := LoadAdapter(opts.Lora, conv.params().splitParams())
		if err != nil {
			return loader.Summary{}, fmt.Errorf("lora: %w", err)
		}
		defer closer.Close()
		lopts.Lora = lora
	}

	store := loader.NewMemStore()
	sum, err := loader.Load(ctx, info, c, weights.NewLoadContext(cmp.Or(opts.Device, "cpu"), dev), store, lopts)
	if err != nil {
		return sum, err
	}

	kv := conv.KV()
	if opts.Lora != "" {
		kv["general.lora.merged"] = uint32(sum.Merged)
	}
	return sum, writeFile(f, kv, store)
}

// writeFile - Schreibt GGUF-Datei mit KV-Metadaten und Tensoren
func writeFile(f *os.File, kv ggml.KV, store *loader.MemStore) error {
	if store.Len() == 0 {
		return errors.New("no tensors to write")
	}
	return ggml.WriteGGUF(f, kv, store.GGUFTensors())
}
