// Package device - Zielgeraete fuer das Umpacken quantisierter Gewichte
//
// Enthaelt:
// - Register/Lookup: Registrierung der Geraete nach Name
// - passthrough: gibt kernel/zero/scale unveraendert zurueck
// - cpu: siehe cpu.go
package device

import (
	"errors"
	"fmt"
	"maps"
	"slices"

	"github.com/ollama/weightpipe/weights"
)

var ErrUnknownDevice = errors.New("unknown device")

var devices = make(map[string]weights.ExportedDevice)

// Register registriert ein Geraet; doppelte Namen sind ein Programmierfehler
func Register(name string, d weights.ExportedDevice) {
	if _, ok := devices[name]; ok {
		panic("device: device already registered")
	}

	devices[name] = d
}

// Lookup gibt das Geraet mit dem Namen zurueck
func Lookup(name string) (weights.ExportedDevice, error) {
	if d, ok := devices[name]; ok {
		return d, nil
	}

	return nil, fmt.Errorf("%w %q (available: %v)", ErrUnknownDevice, name, Names())
}

// Names gibt die registrierten Geraete sortiert zurueck
func Names() []string {
	return slices.Sorted(maps.Keys(devices))
}

func init() {
	Register("cpu", cpu{})
	Register("passthrough", passthrough{})
}

type passthrough struct{}

func (passthrough) PreprocessGroupwiseWeightParams(kernel, zero, scale *weights.Tensor, _ string, _, _ bool, _ int) (*weights.Tensor, *weights.Tensor, *weights.Tensor, error) {
	return kernel, zero, scale, nil
}

func (passthrough) PreprocessMoeGroupwiseWeightParams(kernel, zero, scale *weights.Tensor, _ string, _, _ bool, _ int) (*weights.Tensor, *weights.Tensor, *weights.Tensor, error) {
	return kernel, zero, scale, nil
}
