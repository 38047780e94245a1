// Package ckpt - Checkpoint-Reader fuer HuggingFace-Verzeichnisse
//
// Enthaelt:
// - Checkpoint: Tensor-Index ueber alle Dateien, implementiert weights.Reader
// - Open: waehlt das Format (safetensors vor torch)
// - Load: ein Tensor pro Shard, Dateireihenfolge
package ckpt

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"slices"

	"github.com/agnivade/levenshtein"

	"github.com/ollama/weightpipe/weights"
)

var ErrUnknownFormat = errors.New("unknown checkpoint format")

// source ist ein einzelner Tensor in einer Checkpoint-Datei
type source interface {
	load() (*weights.Tensor, error)
}

// Checkpoint ist nach Open nur lesend und erlaubt parallele Loads
type Checkpoint struct {
	path   string
	format string

	files   []io.Closer
	tensors map[string][]source
	names   []string
}

type parseFunc func(c *Checkpoint, paths ...string) error

// Open liest den Index aller Checkpoint-Dateien in dir
func Open(dir string) (*Checkpoint, error) {
	patterns := []struct {
		Pattern string
		Format  string
		parseFn parseFunc
	}{
		{"*.safetensors", "safetensors", parseSafetensors},
		{"pytorch_model-*-of-*.bin", "torch", parseTorch},
		{"pytorch_model.bin", "torch", parseTorch},
		{"consolidated.*.pth", "torch", parseTorch},
	}

	for _, pattern := range patterns {
		matches, err := filepath.Glob(filepath.Join(dir, pattern.Pattern))
		if err != nil {
			return nil, err
		}

		if len(matches) > 0 {
			c := &Checkpoint{path: dir, format: pattern.Format, tensors: make(map[string][]source)}
			if err := pattern.parseFn(c, matches...); err != nil {
				c.Close()
				return nil, err
			}
			slices.Sort(c.names)
			slog.Debug("checkpoint opened", "path", dir, "format", c.format, "files", len(matches), "tensors", len(c.names))
			return c, nil
		}
	}

	return nil, fmt.Errorf("%s: %w", dir, ErrUnknownFormat)
}

func (c *Checkpoint) add(name string, s source) {
	if _, ok := c.tensors[name]; !ok {
		c.names = append(c.names, name)
	}
	c.tensors[name] = append(c.tensors[name], s)
}

// Path gibt das Checkpoint-Verzeichnis zurueck
func (c *Checkpoint) Path() string { return c.path }

// Format gibt "safetensors" oder "torch" zurueck
func (c *Checkpoint) Format() string { return c.format }

// Names gibt alle Tensor-Namen sortiert zurueck
func (c *Checkpoint) Names() []string {
	return slices.Clone(c.names)
}

// Shards gibt die Anzahl der Dateien zurueck in denen name vorkommt
func (c *Checkpoint) Shards(name string) int {
	return len(c.tensors[name])
}

// Load liest alle Shards eines Tensors in Dateireihenfolge
func (c *Checkpoint) Load(name string) ([]*weights.Tensor, error) {
	srcs, ok := c.tensors[name]
	if !ok {
		return nil, &weights.MissingWeightError{Name: name, Path: c.path, Suggestion: c.suggest(name)}
	}

	ts := make([]*weights.Tensor, len(srcs))
	for i, s := range srcs {
		t, err := s.load()
		if err != nil {
			return nil, fmt.Errorf("%s: %w", name, err)
		}
		ts[i] = t
	}
	return ts, nil
}

// suggest gibt den aehnlichsten bekannten Namen zurueck, falls nah genug
func (c *Checkpoint) suggest(name string) string {
	best, score := "", max(3, len(name)/4)+1
	for _, n := range c.names {
		if d := levenshtein.ComputeDistance(name, n); d < score {
			best, score = n, d
		}
	}
	return best
}

// Close gibt alle gemappten Dateien frei
func (c *Checkpoint) Close() error {
	var errs []error
	for _, f := range c.files {
		errs = append(errs, f.Close())
	}
	c.files = nil
	return errors.Join(errs...)
}
