// store.go - Laufzeit-Store im Speicher
//
// Enthaelt:
// - MemStore: Name -> Tensor, doppelte Namen sind ein Fehler
// - GGUFTensors: Beschreibungen fuer ggml.WriteGGUF
package loader

import (
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/ollama/weightpipe/fs/ggml"
	"github.com/ollama/weightpipe/weights"
)

var ErrDuplicateTensor = errors.New("duplicate runtime tensor")

type MemStore struct {
	mu      sync.Mutex
	tensors map[string]*weights.Tensor
}

func NewMemStore() *MemStore {
	return &MemStore{tensors: make(map[string]*weights.Tensor)}
}

func (s *MemStore) Put(name string, t *weights.Tensor) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t == nil {
		return fmt.Errorf("%s: nil tensor", name)
	}
	if _, ok := s.tensors[name]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateTensor, name)
	}
	s.tensors[name] = t
	return nil
}

// Get gibt einen abgelegten Tensor zurueck
func (s *MemStore) Get(name string) (*weights.Tensor, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tensors[name]
	return t, ok
}

// Names gibt alle Namen sortiert zurueck
func (s *MemStore) Names() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, 0, len(s.tensors))
	for name := range s.tensors {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

func (s *MemStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tensors)
}

// GGUFTensors gibt die Tensoren fuer den GGUF-Writer zurueck
func (s *MemStore) GGUFTensors() []*ggml.Tensor {
	names := s.Names()

	s.mu.Lock()
	defer s.mu.Unlock()
	ts := make([]*ggml.Tensor, 0, len(names))
	for _, name := range names {
		t := s.tensors[name]
		ts = append(ts, &ggml.Tensor{
			Name:     name,
			Kind:     uint32(t.Type),
			Shape:    ggml.ShapeFromDims(t.Shape()),
			WriterTo: t,
		})
	}
	return ts
}
