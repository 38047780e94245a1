// resolver.go - Ableitung quantisierter Geschwister-Deskriptoren
//
// Enthaelt:
// - QuantSiblings: kernel, zero, scale und optionale Aktivierungs-Skala
// - ResolveGroupWise: Suffix-Mapping und Padding-Regeln pro Kategorie
//
// Checkpoint-Suffixe: .weight -> .qweight / .qzeros / .scales,
// Aktivierungs-Skala unter <parent>.act.scales.
package weights

import (
	"fmt"
	"strings"

	"github.com/ollama/weightpipe/fs/ggml"
)

const (
	SuffixWeight   = ".weight"
	SuffixQWeight  = ".qweight"
	SuffixQZeros   = ".qzeros"
	SuffixScales   = ".scales"
	SuffixActScale = ".act.scales"
)

// QuantSiblings sind die abgeleiteten Deskriptoren; ActScale ist nil wenn nicht benoetigt
type QuantSiblings struct {
	Kernel   *AtomicWeight
	Zero     *AtomicWeight
	Scale    *AtomicWeight
	ActScale *AtomicWeight
}

// Modules gibt die gesetzten Geschwister in fester Reihenfolge zurueck
func (s QuantSiblings) Modules() []WeightModule {
	ms := []WeightModule{s.Kernel, s.Zero, s.Scale}
	if s.ActScale != nil {
		ms = append(ms, s.ActScale)
	}
	return ms
}

// baseNames entfernt .weight von allen Referenzen
func baseNames(src *AtomicWeight) ([]string, error) {
	names := make([]string, len(src.refs))
	for i, r := range src.refs {
		name, ok := strings.CutSuffix(string(r.Name), SuffixWeight)
		if !ok {
			return nil, fmt.Errorf("%s: checkpoint name %q must end with %s", src.name, r.Name, SuffixWeight)
		}
		names[i] = name
	}
	return names, nil
}

func suffixed(bases []string, suffix string, tf Transform) []CkptRef {
	refs := make([]CkptRef, len(bases))
	for i, base := range bases {
		refs[i] = Ref(base+suffix, tf)
	}
	return refs
}

// ResolveGroupWise leitet die quantisierten Geschwister eines Deskriptors ab
func ResolveGroupWise(src *AtomicWeight, algo QuantAlgo) (QuantSiblings, error) {
	if src == nil {
		return QuantSiblings{}, fmt.Errorf("resolve group-wise: nil weight")
	}
	if algo == nil || algo.WeightBits() <= 0 || 32%algo.WeightBits() != 0 {
		return QuantSiblings{}, &UnsupportedWeightCategoryError{Weight: src.name, Scheme: describeScheme(algo)}
	}

	switch src.name.Category() {
	case CategoryAttnQKV:
		return resolveQKV(src)
	case CategoryAttnOut:
		return resolveAttnOut(src)
	case CategoryFfnGate, CategoryFfnUp, CategoryFfnDown, CategoryFfnGateUp, CategoryMoeGateUp, CategoryMoeDown:
		return resolveFfn(src, algo)
	default:
		return QuantSiblings{}, &UnsupportedWeightCategoryError{Weight: src.name, Scheme: describeScheme(algo)}
	}
}

func resolveQKV(src *AtomicWeight) (QuantSiblings, error) {
	bases, err := baseNames(src)
	if err != nil {
		return QuantSiblings{}, err
	}

	var tf, merge Transform
	switch len(bases) {
	case 1:
		tf, merge = Identity(), Identity()
	case 3:
		// gleiche Merge-Konvention wie das unquantisierte fusionierte QKV
		tf, merge = Transpose(), MergeQKVHF()
	default:
		return QuantSiblings{}, fmt.Errorf("%s: qkv needs 1 or 3 checkpoint refs, got %d", src.name, len(bases))
	}

	cfg := WithConfig(src.config)
	return QuantSiblings{
		Kernel: src.CreateFrom(NameAttnQKVW, suffixed(bases, SuffixQWeight, tf), merge, WithDataType(ggml.TensorTypeI32), cfg),
		Zero:   src.CreateFrom(NameAttnQKVZ, suffixed(bases, SuffixQZeros, tf), merge, WithDataType(ggml.TensorTypeI32), cfg),
		Scale:  src.CreateFrom(NameAttnQKVS, suffixed(bases, SuffixScales, tf), merge, cfg),
	}, nil
}

func resolveAttnOut(src *AtomicWeight) (QuantSiblings, error) {
	bases, err := baseNames(src)
	if err != nil {
		return QuantSiblings{}, err
	}
	if len(bases) != 1 {
		return QuantSiblings{}, fmt.Errorf("%s: attention output needs 1 checkpoint ref, got %d", src.name, len(bases))
	}

	cfg := WithConfig(src.config)
	return QuantSiblings{
		Kernel: src.CreateFrom(NameAttnOW, suffixed(bases, SuffixQWeight, Identity()), Identity(), WithDataType(ggml.TensorTypeI32), cfg),
		Zero:   src.CreateFrom(NameAttnOZ, suffixed(bases, SuffixQZeros, Identity()), Identity(), WithDataType(ggml.TensorTypeI32), cfg),
		Scale:  src.CreateFrom(NameAttnOS, suffixed(bases, SuffixScales, Identity()), Identity(), cfg),
	}, nil
}

func resolveFfn(src *AtomicWeight, algo QuantAlgo) (QuantSiblings, error) {
	bases, err := baseNames(src)
	if err != nil {
		return QuantSiblings{}, err
	}
	if len(bases) == 0 {
		return QuantSiblings{}, fmt.Errorf("%s: no checkpoint refs", src.name)
	}

	inter, _ := interPaddingSize(src.config)
	groupSize := algo.GroupSize()
	padDiv := 32 / algo.WeightBits()
	cfg := WithConfig(src.config)
	i32 := WithDataType(ggml.TensorTypeI32)

	single := func() error {
		if len(bases) != 1 {
			return fmt.Errorf("%s: needs 1 checkpoint ref, got %d", src.name, len(bases))
		}
		if inter <= 0 {
			return fmt.Errorf("%s: %w: missing inter_padding_size", src.name, ErrInvalidConfig)
		}
		return nil
	}

	switch src.name {
	case NameFfnW2:
		if err := single(); err != nil {
			return QuantSiblings{}, err
		}
		if groupSize <= 0 {
			return QuantSiblings{}, fmt.Errorf("%s: group size %d", src.name, groupSize)
		}

		// GPTQ packt entlang K (Zeilen), daher teilt nur dort der Pack-Faktor
		kernelSize := inter
		if algo.IsGptq() {
			kernelSize = inter / padDiv
		}

		s := QuantSiblings{
			Kernel: NewAtomicWeight(NameFfnW2, suffixed(bases, SuffixQWeight, Identity()), Pad(kernelSize, 0), i32, cfg),
			Zero:   NewAtomicWeight(NameFfnZ2, suffixed(bases, SuffixQZeros, Identity()), Pad(inter/groupSize, 0), i32, cfg),
			Scale:  NewAtomicWeight(NameFfnS2, suffixed(bases, SuffixScales, Identity()), Pad(inter/groupSize, 0), cfg),
		}
		if needFfnActScale(src.config) {
			parent := bases[0]
			if i := strings.LastIndexByte(parent, '.'); i >= 0 {
				parent = parent[:i]
			}
			s.ActScale = NewAtomicWeight(NameFfnActS, []CkptRef{Ref(parent+SuffixActScale, Identity())}, Identity(), cfg)
		}
		return s, nil

	case NameMoeW1, NameMoeW2:
		names := [3]Name{NameMoeW1, NameMoeZ1, NameMoeS1}
		merge := StackMoeW1()
		if src.name == NameMoeW2 {
			names = [3]Name{NameMoeW2, NameMoeZ2, NameMoeS2}
			merge = Stack()
		}
		return QuantSiblings{
			Kernel: NewAtomicWeight(names[0], suffixed(bases, SuffixQWeight, Transpose()), merge, i32, cfg),
			Zero:   NewAtomicWeight(names[1], suffixed(bases, SuffixQZeros, Transpose()), merge, i32, cfg),
			Scale:  NewAtomicWeight(names[2], suffixed(bases, SuffixScales, Transpose()), merge, cfg),
		}, nil

	case NameFfnW13:
		if len(bases) != 2 {
			return QuantSiblings{}, fmt.Errorf("%s: needs gate and up checkpoint refs, got %d", src.name, len(bases))
		}
		if inter <= 0 {
			return QuantSiblings{}, fmt.Errorf("%s: %w: missing inter_padding_size", src.name, ErrInvalidConfig)
		}

		// AWQ packt entlang N (Spalten)
		kernelSize := inter
		if algo.IsAwq() {
			kernelSize = inter / padDiv
		}
		return QuantSiblings{
			Kernel: NewAtomicWeight(NameFfnW13, suffixed(bases, SuffixQWeight, Identity()), PadW13(kernelSize, 1), i32, cfg),
			Zero:   NewAtomicWeight(NameFfnZ13, suffixed(bases, SuffixQZeros, Identity()), PadW13(inter/padDiv, 1), i32, cfg),
			Scale:  NewAtomicWeight(NameFfnS13, suffixed(bases, SuffixScales, Identity()), PadW13(inter, 1), cfg),
		}, nil

	case NameFfnW1, NameFfnW3:
		if err := single(); err != nil {
			return QuantSiblings{}, err
		}
		names := [3]Name{NameFfnW1, NameFfnZ1, NameFfnS1}
		if src.name == NameFfnW3 {
			names = [3]Name{NameFfnW3, NameFfnZ3, NameFfnS3}
		}

		kernelSize := inter
		if algo.IsAwq() {
			kernelSize = inter / padDiv
		}
		return QuantSiblings{
			Kernel: NewAtomicWeight(names[0], suffixed(bases, SuffixQWeight, Identity()), Pad(kernelSize, 1), i32, cfg),
			Zero:   NewAtomicWeight(names[1], suffixed(bases, SuffixQZeros, Identity()), Pad(inter/padDiv, 1), i32, cfg),
			Scale:  NewAtomicWeight(names[2], suffixed(bases, SuffixScales, Identity()), Pad(inter, 1), cfg),
		}, nil
	}

	return QuantSiblings{}, &UnsupportedWeightCategoryError{Weight: src.name, Scheme: describeScheme(algo)}
}
