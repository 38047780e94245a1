// convert_adapter.go - PEFT LoRA-Adapter
// Hauptfunktionen: LoadAdapter, AdapterParameters.Scale
package convert

import (
	"encoding/json"
	"fmt"
	"io"
	"io/fs"
	"os"

	"github.com/ollama/weightpipe/fs/ckpt"
	"github.com/ollama/weightpipe/loader"
	"github.com/ollama/weightpipe/weights"
)

// AdapterParameters - Felder aus adapter_config.json
type AdapterParameters struct {
	Alpha         float64  `json:"lora_alpha"`
	Rank          int      `json:"r"`
	TargetModules []string `json:"target_modules"`
}

// Scale ist alpha / r
func (p AdapterParameters) Scale() (float64, error) {
	if p.Rank <= 0 {
		return 0, fmt.Errorf("adapter: invalid rank %d", p.Rank)
	}
	return p.Alpha / float64(p.Rank), nil
}

// LoadAdapter oeffnet ein Adapter-Verzeichnis; der Aufrufer schliesst den
// zurueckgegebenen Closer nach dem Laden
func LoadAdapter(dir string, split weights.SplitParams) (*loader.Lora, io.Closer, error) {
	bts, err := fs.ReadFile(os.DirFS(dir), "adapter_config.json")
	if err != nil {
		return nil, nil, err
	}

	var p AdapterParameters
	if err := json.Unmarshal(bts, &p); err != nil {
		return nil, nil, fmt.Errorf("adapter_config.json: %w", err)
	}

	scale, err := p.Scale()
	if err != nil {
		return nil, nil, err
	}

	c, err := ckpt.Open(dir)
	if err != nil {
		return nil, nil, err
	}

	return &loader.Lora{Reader: c, Scale: scale, Split: split}, c, nil
}
