// groupwise.go - Group-wise quantisiertes Gewicht (GPTQ/AWQ)
//
// Enthaelt:
// - SupportsGroupWise: Klassifikation ueber die Tabelle (Kategorie, Familie)
// - GroupWiseWeight: kernel/zero/scale (+ act scale) mit Geraete-Nachverarbeitung
package weights

import (
	"fmt"
	"log/slog"
)

// SupportsGroupWise prueft ob das Schema das Gewicht quantisieren kann.
// false bedeutet "nicht anwendbar", kein Fehler.
func SupportsGroupWise(algo QuantAlgo, m WeightModule) bool {
	if algo == nil || m == nil || !algo.IsGroupwise() {
		return false
	}
	if _, ok := m.(*AtomicWeight); !ok {
		return false
	}
	return groupWiseSupport[m.Name().Category()][familyOf(algo)]
}

// GroupWiseWeight ist die quantisierte Form eines unquantisierten Deskriptors
type GroupWiseWeight struct {
	*CompositeWeight

	algo     QuantAlgo
	siblings QuantSiblings
}

// NewGroupWiseWeight leitet die Gruppe ab; ausserhalb der Tabelle gibt es
// einen UnsupportedWeightCategoryError
func NewGroupWiseWeight(src *AtomicWeight, algo QuantAlgo) (*GroupWiseWeight, error) {
	if src == nil {
		return nil, fmt.Errorf("group-wise weight: nil source")
	}
	if !SupportsGroupWise(algo, src) {
		return nil, &UnsupportedWeightCategoryError{Weight: src.name, Scheme: describeScheme(algo)}
	}

	siblings, err := ResolveGroupWise(src, algo)
	if err != nil {
		return nil, err
	}

	g := &GroupWiseWeight{algo: algo, siblings: siblings}
	// ActScale == nil wird hier herausgefiltert
	g.CompositeWeight, err = NewCompositeWeight(src.name, siblings.Modules(), WithPostprocess(g.postprocess), WithGroupConfig(src.config))
	if err != nil {
		return nil, err
	}
	return g, nil
}

// Algo gibt das Schema zurueck
func (g *GroupWiseWeight) Algo() QuantAlgo { return g.algo }

// usesMoePostprocess waehlt zwischen normaler und MoE-Nachverarbeitung
func (g *GroupWiseWeight) usesMoePostprocess() bool {
	category := g.siblings.Kernel.name.Category()
	switch {
	case category == CategoryAttnQKV, category == CategoryAttnOut:
		return false
	case category.isMoe():
		return true
	default:
		return isMoeConfig(g.siblings.Kernel.config)
	}
}

func (g *GroupWiseWeight) postprocess(ts map[Name]*Tensor, lc *LoadContext) (map[Name]*Tensor, error) {
	if lc == nil || lc.Exported == nil {
		return nil, ErrNoExportedDevice
	}

	kernel, zero, scale := ts[g.siblings.Kernel.name], ts[g.siblings.Zero.name], ts[g.siblings.Scale.name]
	if kernel == nil || zero == nil || scale == nil {
		return nil, fmt.Errorf("%s: incomplete quantized group", g.name)
	}

	post := lc.Exported.PreprocessGroupwiseWeightParams
	if g.usesMoePostprocess() {
		post = lc.Exported.PreprocessMoeGroupwiseWeightParams
	}

	slog.Debug("apply quant postprocess", "weight", g.siblings.Kernel.name, "kernel", kernel, "zero", zero, "scale", scale,
		"gptq", g.algo.IsGptq(), "awq", g.algo.IsAwq(), "bits", g.algo.WeightBits(), "moe", g.usesMoePostprocess())

	kernel, zero, scale, err := post(kernel, zero, scale, lc.Device, g.algo.IsGptq(), g.algo.IsAwq(), g.algo.WeightBits())
	if err != nil {
		return nil, err
	}

	out := map[Name]*Tensor{
		g.siblings.Kernel.name: kernel,
		g.siblings.Zero.name:   zero,
		g.siblings.Scale.name:  scale,
	}
	if g.siblings.ActScale != nil {
		if act, ok := ts[g.siblings.ActScale.name]; ok {
			out[g.siblings.ActScale.name] = act
		}
	}
	return out, nil
}
