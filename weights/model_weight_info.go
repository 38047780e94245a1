// model_weight_info.go - Gewichts-Manifest eines Modells
//
// Enthaelt:
// - ModelWeightInfo: globale Gewichte + Gewichte pro Layer
// - Validate, Quantize, Walk
package weights

import (
	"fmt"
)

// ModelWeightInfo wird einmal pro Architektur gebaut
type ModelWeightInfo struct {
	Weights      []WeightModule
	LayerWeights [][]WeightModule
}

// NumLayers gibt die Anzahl der Layer zurueck
func (m *ModelWeightInfo) NumLayers() int {
	return len(m.LayerWeights)
}

// Walk besucht jedes Modul mit seinem Scope; globale Gewichte zuerst
func (m *ModelWeightInfo) Walk(fn func(scope Scope, w WeightModule) error) error {
	for _, w := range m.Weights {
		if err := fn(GlobalScope, w); err != nil {
			return err
		}
	}
	for i, layer := range m.LayerWeights {
		for _, w := range layer {
			if err := fn(LayerScope(i), w); err != nil {
				return err
			}
		}
	}
	return nil
}

// Count gibt die Anzahl der Module ueber alle Scopes zurueck
func (m *ModelWeightInfo) Count() int {
	n := len(m.Weights)
	for _, layer := range m.LayerWeights {
		n += len(layer)
	}
	return n
}

// Validate prueft alle Deskriptoren und eindeutige Namen pro Scope
func (m *ModelWeightInfo) Validate() error {
	seen := make(map[Scope]map[Name]struct{})
	return m.Walk(func(scope Scope, w WeightModule) error {
		if w == nil {
			return fmt.Errorf("%s: nil weight module", scope)
		}
		if err := w.Validate(); err != nil {
			return fmt.Errorf("%s: %w", scope, err)
		}

		names, ok := seen[scope]
		if !ok {
			names = make(map[Name]struct{})
			seen[scope] = names
		}
		for _, name := range leafNames(w) {
			if _, dup := names[name]; dup {
				return fmt.Errorf("%s: duplicate weight %s", scope, name)
			}
			names[name] = struct{}{}
		}
		return nil
	})
}

// leafNames gibt die Namen der atomaren Gewichte eines Moduls zurueck
func leafNames(w WeightModule) []Name {
	switch w := w.(type) {
	case *GroupWiseWeight:
		return leafNames(w.CompositeWeight)
	case *CompositeWeight:
		var names []Name
		for _, sub := range w.Modules() {
			names = append(names, leafNames(sub)...)
		}
		return names
	default:
		return []Name{w.Name()}
	}
}

// Quantize gibt ein neues Manifest zurueck in dem jeder unterstuetzte
// Deskriptor (auch in Gruppen) durch ein GroupWiseWeight ersetzt ist
func (m *ModelWeightInfo) Quantize(algo QuantAlgo) (*ModelWeightInfo, error) {
	q := &ModelWeightInfo{
		Weights:      make([]WeightModule, len(m.Weights)),
		LayerWeights: make([][]WeightModule, len(m.LayerWeights)),
	}

	for i, w := range m.Weights {
		qw, err := quantizeModule(w, algo)
		if err != nil {
			return nil, err
		}
		q.Weights[i] = qw
	}

	for i, layer := range m.LayerWeights {
		q.LayerWeights[i] = make([]WeightModule, len(layer))
		for j, w := range layer {
			qw, err := quantizeModule(w, algo)
			if err != nil {
				return nil, fmt.Errorf("layer %d: %w", i, err)
			}
			q.LayerWeights[i][j] = qw
		}
	}
	return q, nil
}

func quantizeModule(w WeightModule, algo QuantAlgo) (WeightModule, error) {
	switch w := w.(type) {
	case *AtomicWeight:
		if !SupportsGroupWise(algo, w) {
			return w, nil
		}
		return NewGroupWiseWeight(w, algo)
	case *CompositeWeight:
		subs := w.Modules()
		for i, sub := range subs {
			qs, err := quantizeModule(sub, algo)
			if err != nil {
				return nil, err
			}
			subs[i] = qs
		}
		return w.withModules(subs)
	default:
		return w, nil
	}
}
