// atomic.go - Deskriptor fuer ein einzelnes Laufzeit-Gewicht
//
// Enthaelt:
// - CkptRef: Checkpoint-Namensvorlage + Transform pro Referenz
// - AtomicWeight: Name, Referenzen, Merge, Datentyp, Config, LoRA-Funktionen
// - CreateFrom: Ableitung von Geschwister-Deskriptoren
// - Materialize: aufloesen, lesen, transformieren, mergen, casten
package weights

import (
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/ollama/weightpipe/fs/ggml"
	"github.com/ollama/weightpipe/logutil"
)

// CkptRef referenziert einen Checkpoint-Tensor
type CkptRef struct {
	Name      Template
	Transform Transform
}

// Ref erstellt eine CkptRef
func Ref(name string, tf Transform) CkptRef {
	return CkptRef{Name: Template(name), Transform: tf}
}

func (r CkptRef) String() string {
	return fmt.Sprintf("%s|%s", r.Name, r.Transform)
}

// WeightModule ist die gemeinsame Schnittstelle von Atomic-, Composite- und GroupWise-Gewichten
type WeightModule interface {
	Name() Name
	Validate() error
	Load(r Reader, scope Scope, lc *LoadContext) (map[Name]*Tensor, error)
}

// AtomicWeight ist unveraenderlich; Ableitungen entstehen ueber CreateFrom
type AtomicWeight struct {
	name     Name
	refs     []CkptRef
	merge    Transform
	dataType ggml.TensorType
	hasType  bool
	config   Config
	lora     *LoraFuncs
}

// Option setzt optionale Felder beim Erstellen
type Option func(*AtomicWeight)

// WithDataType setzt den Ziel-Datentyp
func WithDataType(t ggml.TensorType) Option {
	return func(w *AtomicWeight) {
		w.dataType = t
		w.hasType = true
	}
}

// WithConfig haengt ein Config-Objekt an
func WithConfig(c Config) Option {
	return func(w *AtomicWeight) {
		w.config = c
	}
}

// WithLora setzt die LoRA-Vorverarbeitung und Split-Funktionen
func WithLora(l LoraFuncs) Option {
	return func(w *AtomicWeight) {
		w.lora = &l
	}
}

// NewAtomicWeight erstellt einen Deskriptor
func NewAtomicWeight(name Name, refs []CkptRef, merge Transform, opts ...Option) *AtomicWeight {
	w := &AtomicWeight{name: name, refs: slices.Clone(refs), merge: merge}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// CreateFrom leitet einen Deskriptor mit gleicher Config und gleichen LoRA-Funktionen ab.
// Der Datentyp wird nicht uebernommen.
func (w *AtomicWeight) CreateFrom(name Name, refs []CkptRef, merge Transform, opts ...Option) *AtomicWeight {
	d := &AtomicWeight{
		name:   name,
		refs:   slices.Clone(refs),
		merge:  merge,
		config: w.config,
		lora:   w.lora,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

func (w *AtomicWeight) Name() Name         { return w.name }
func (w *AtomicWeight) Refs() []CkptRef    { return slices.Clone(w.refs) }
func (w *AtomicWeight) Merge() Transform   { return w.merge }
func (w *AtomicWeight) Config() Config     { return w.config }
func (w *AtomicWeight) Lora() *LoraFuncs   { return w.lora }
func (w *AtomicWeight) SupportsLora() bool { return w.lora != nil }

// DataType gibt den Ziel-Datentyp zurueck, falls gesetzt
func (w *AtomicWeight) DataType() (ggml.TensorType, bool) {
	return w.dataType, w.hasType
}

func (w *AtomicWeight) String() string {
	refs := make([]string, len(w.refs))
	for i, r := range w.refs {
		refs[i] = r.String()
	}
	s := fmt.Sprintf("%s[%s]->%s", w.name, strings.Join(refs, ","), w.merge)
	if w.hasType {
		s += ":" + w.dataType.String()
	}
	return s
}

// Validate prueft Name, Vorlagen, Config und QKV-Referenzanzahl
func (w *AtomicWeight) Validate() error {
	if !w.name.Valid() {
		return fmt.Errorf("unknown weight name %q", w.name)
	}

	for _, r := range w.refs {
		if err := r.Name.Validate(); err != nil {
			return fmt.Errorf("%s: %w", w.name, err)
		}
		if r.Name.Has(PlaceholderExpert) {
			if _, ok := w.config.(MoeConfig); !ok {
				return fmt.Errorf("%s: %w: {%s} needs a moe config", w.name, ErrInvalidConfig, PlaceholderExpert)
			}
		}
	}

	if w.config != nil {
		if err := w.config.Validate(); err != nil {
			return fmt.Errorf("%s: %w", w.name, err)
		}
	}

	switch w.name {
	case NameAttnQKVW, NameAttnQKVZ, NameAttnQKVS:
		if len(w.refs) != 1 && len(w.refs) != 3 {
			return fmt.Errorf("%s: qkv needs 1 or 3 checkpoint refs, got %d", w.name, len(w.refs))
		}
	}
	return nil
}

// resolve loest alle Referenzen im Scope auf; {expert_id} wird pro Referenz
// ueber 0..ExpertNum-1 aufsteigend expandiert
func (w *AtomicWeight) resolve(scope Scope) ([]string, []Transform, error) {
	vars := scope.vars()

	var names []string
	var tfs []Transform
	for _, r := range w.refs {
		if !r.Name.Has(PlaceholderExpert) {
			name, err := r.Name.Expand(vars)
			if err != nil {
				return nil, nil, err
			}
			names = append(names, name)
			tfs = append(tfs, r.Transform)
			continue
		}

		moe, ok := w.config.(MoeConfig)
		if !ok {
			return nil, nil, fmt.Errorf("%w: {%s} needs a moe config", ErrInvalidConfig, PlaceholderExpert)
		}
		for e := range moe.ExpertNum {
			vars[PlaceholderExpert] = e
			name, err := r.Name.Expand(vars)
			if err != nil {
				return nil, nil, err
			}
			names = append(names, name)
			tfs = append(tfs, r.Transform)
		}
		delete(vars, PlaceholderExpert)
	}
	return names, tfs, nil
}

// ResolvedNames gibt die Checkpoint-Namen im Scope zurueck
func (w *AtomicWeight) ResolvedNames(scope Scope) ([]string, error) {
	names, _, err := w.resolve(scope)
	return names, err
}

// Materialize liest und transformiert das Gewicht im gegebenen Scope
func (w *AtomicWeight) Materialize(r Reader, scope Scope, lc *LoadContext) (*Tensor, error) {
	names, tfs, err := w.resolve(scope)
	if err != nil {
		return nil, fmt.Errorf("%s (%s): %w", w.name, scope, err)
	}

	ts := make([]*Tensor, len(names))
	for i, name := range names {
		shards, err := r.Load(name)
		if err != nil {
			return nil, fmt.Errorf("%s (%s): %w", w.name, scope, err)
		}

		t, err := tfs[i].Apply(shards...)
		if err != nil {
			return nil, w.wrap(scope, err)
		}
		ts[i] = t
	}

	t, err := w.merge.Apply(ts...)
	if err != nil {
		return nil, w.wrap(scope, err)
	}

	if w.hasType {
		if t, err = t.Cast(w.dataType); err != nil {
			return nil, fmt.Errorf("%s (%s): %w", w.name, scope, err)
		}
	}

	logutil.Trace("materialized weight", "name", w.name, "scope", scope, "refs", len(names), "tensor", t)
	return t, nil
}

// wrap traegt den Deskriptor-Namen in Shape-Fehler ein
func (w *AtomicWeight) wrap(scope Scope, err error) error {
	var se *ShapeMismatchError
	if errors.As(err, &se) && se.Weight == "" {
		se.Weight = w.name
	}
	return fmt.Errorf("%s (%s): %w", w.name, scope, err)
}

// Load verpackt Materialize in eine Map mit einem Eintrag
func (w *AtomicWeight) Load(r Reader, scope Scope, lc *LoadContext) (map[Name]*Tensor, error) {
	t, err := w.Materialize(r, scope, lc)
	if err != nil {
		return nil, err
	}
	return map[Name]*Tensor{w.name: t}, nil
}
