// device.go - Schnittstellen zu Checkpoint-Reader und Zielgeraet
//
// Enthaelt:
// - Reader: liest einen Checkpoint-Tensor (ein Tensor pro Shard)
// - ExportedDevice: geraetespezifisches Umpacken quantisierter Gewichte
// - LoadContext: Geraet + ExportedDevice + kritischer Abschnitt
package weights

import (
	"errors"
	"sync"
)

// Reader liest Checkpoint-Tensoren; muss parallele Aufrufe fuer verschiedene Namen erlauben
type Reader interface {
	Load(name string) ([]*Tensor, error)
}

// ExportedDevice packt kernel/zero/scale fuer die Laufzeit-Kernels um
type ExportedDevice interface {
	PreprocessGroupwiseWeightParams(kernel, zero, scale *Tensor, device string, isGptq, isAwq bool, bits int) (*Tensor, *Tensor, *Tensor, error)
	PreprocessMoeGroupwiseWeightParams(kernel, zero, scale *Tensor, device string, isGptq, isAwq bool, bits int) (*Tensor, *Tensor, *Tensor, error)
}

var ErrNoExportedDevice = errors.New("load context has no exported device")

// LoadContext wird nur beim Materialisieren uebergeben, nie in Deskriptoren gespeichert
type LoadContext struct {
	Device   string
	Exported ExportedDevice

	mu sync.Mutex
}

// NewLoadContext erstellt einen LoadContext fuer ein Geraet
func NewLoadContext(device string, exported ExportedDevice) *LoadContext {
	return &LoadContext{Device: device, Exported: exported}
}

// Exclusive fuehrt fn im kritischen Abschnitt aus; die Sperre wird immer freigegeben
func (lc *LoadContext) Exclusive(fn func() error) error {
	if lc == nil {
		return fn()
	}
	lc.mu.Lock()
	defer lc.mu.Unlock()
	return fn()
}
