// composite.go - Gruppe von Gewichten mit gemeinsamer Nachverarbeitung
//
// Enthaelt:
// - CompositeWeight: geordnete Map Sub-Name -> WeightModule
// - PostprocessFunc: laeuft im kritischen Abschnitt des LoadContext
package weights

import (
	"fmt"

	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// PostprocessFunc verarbeitet die geladenen Sub-Tensoren einer Gruppe
type PostprocessFunc func(ts map[Name]*Tensor, lc *LoadContext) (map[Name]*Tensor, error)

// CompositeWeight gruppiert Sub-Gewichte; Schluessel sind eindeutig und
// gleich dem Namen des jeweiligen Sub-Gewichts
type CompositeWeight struct {
	name        Name
	subs        *orderedmap.OrderedMap[Name, WeightModule]
	postprocess PostprocessFunc
	config      Config
}

// CompositeOption setzt optionale Felder einer Gruppe
type CompositeOption func(*CompositeWeight)

// WithPostprocess setzt die Nachverarbeitung
func WithPostprocess(fn PostprocessFunc) CompositeOption {
	return func(c *CompositeWeight) {
		c.postprocess = fn
	}
}

// WithGroupConfig haengt ein Config-Objekt an die Gruppe
func WithGroupConfig(cfg Config) CompositeOption {
	return func(c *CompositeWeight) {
		c.config = cfg
	}
}

// NewCompositeWeight erstellt eine Gruppe; doppelte Sub-Namen sind ein Fehler
func NewCompositeWeight(name Name, subs []WeightModule, opts ...CompositeOption) (*CompositeWeight, error) {
	c := &CompositeWeight{name: name, subs: orderedmap.New[Name, WeightModule]()}
	for _, sub := range subs {
		if sub == nil {
			continue
		}
		if _, present := c.subs.Get(sub.Name()); present {
			return nil, fmt.Errorf("%s: duplicate sub weight %s", name, sub.Name())
		}
		c.subs.Set(sub.Name(), sub)
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

func (c *CompositeWeight) Name() Name     { return c.name }
func (c *CompositeWeight) Config() Config { return c.config }
func (c *CompositeWeight) Len() int       { return c.subs.Len() }

// Sub gibt ein Sub-Gewicht zurueck
func (c *CompositeWeight) Sub(name Name) (WeightModule, bool) {
	return c.subs.Get(name)
}

// Modules gibt die Sub-Gewichte in Einfuege-Reihenfolge zurueck
func (c *CompositeWeight) Modules() []WeightModule {
	ms := make([]WeightModule, 0, c.subs.Len())
	for pair := c.subs.Oldest(); pair != nil; pair = pair.Next() {
		ms = append(ms, pair.Value)
	}
	return ms
}

// Names gibt die Sub-Namen in Einfuege-Reihenfolge zurueck
func (c *CompositeWeight) Names() []Name {
	ns := make([]Name, 0, c.subs.Len())
	for pair := c.subs.Oldest(); pair != nil; pair = pair.Next() {
		ns = append(ns, pair.Key)
	}
	return ns
}

// withModules baut eine Kopie mit ersetzten Sub-Gewichten
func (c *CompositeWeight) withModules(subs []WeightModule) (*CompositeWeight, error) {
	return NewCompositeWeight(c.name, subs, WithPostprocess(c.postprocess), WithGroupConfig(c.config))
}

func (c *CompositeWeight) Validate() error {
	if !c.name.Valid() {
		return fmt.Errorf("unknown weight group name %q", c.name)
	}
	if c.subs.Len() == 0 {
		return fmt.Errorf("%s: empty weight group", c.name)
	}
	for pair := c.subs.Oldest(); pair != nil; pair = pair.Next() {
		if pair.Key != pair.Value.Name() {
			return fmt.Errorf("%s: sub weight key %s does not match its name %s", c.name, pair.Key, pair.Value.Name())
		}
		if err := pair.Value.Validate(); err != nil {
			return fmt.Errorf("%s: %w", c.name, err)
		}
	}
	if c.config != nil {
		if err := c.config.Validate(); err != nil {
			return fmt.Errorf("%s: %w", c.name, err)
		}
	}
	return nil
}

// Load laedt alle Sub-Gewichte und ruft danach die Nachverarbeitung im
// kritischen Abschnitt auf
func (c *CompositeWeight) Load(r Reader, scope Scope, lc *LoadContext) (map[Name]*Tensor, error) {
	out := make(map[Name]*Tensor)
	for pair := c.subs.Oldest(); pair != nil; pair = pair.Next() {
		ts, err := pair.Value.Load(r, scope, lc)
		if err != nil {
			return nil, err
		}
		for name, t := range ts {
			if _, dup := out[name]; dup {
				return nil, fmt.Errorf("%s: sub weights produce %s twice", c.name, name)
			}
			out[name] = t
		}
	}

	if c.postprocess == nil {
		return out, nil
	}

	var processed map[Name]*Tensor
	if err := lc.Exclusive(func() error {
		var err error
		processed, err = c.postprocess(out, lc)
		return err
	}); err != nil {
		return nil, fmt.Errorf("%s (%s): postprocess: %w", c.name, scope, err)
	}
	return processed, nil
}
