// scheme.go - Quantisierungs-Schema
//
// Enthaelt:
// - QuantAlgo: Schnittstelle die der Resolver liest
// - Family: None, GPTQ, AWQ
// - QuantScheme: konkrete, validierte Implementierung
package weights

import (
	"fmt"
	"strings"
)

// QuantAlgo beschreibt ein Quantisierungs-Schema (nur lesend)
type QuantAlgo interface {
	GroupSize() int
	WeightBits() int
	IsGptq() bool
	IsAwq() bool
	IsGroupwise() bool
}

// Family ist die Quantisierungs-Familie
type Family int

const (
	FamilyNone Family = iota
	FamilyGPTQ
	FamilyAWQ

	numFamilies
)

func (f Family) String() string {
	switch f {
	case FamilyGPTQ:
		return "gptq"
	case FamilyAWQ:
		return "awq"
	default:
		return "none"
	}
}

// ParseFamily liest quant_method aus einer quantization_config
func ParseFamily(s string) (Family, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "none":
		return FamilyNone, nil
	case "gptq":
		return FamilyGPTQ, nil
	case "awq":
		return FamilyAWQ, nil
	default:
		return FamilyNone, fmt.Errorf("unsupported quant method %q", s)
	}
}

func familyOf(algo QuantAlgo) Family {
	switch {
	case algo == nil:
		return FamilyNone
	case algo.IsGptq():
		return FamilyGPTQ
	case algo.IsAwq():
		return FamilyAWQ
	default:
		return FamilyNone
	}
}

func describeScheme(algo QuantAlgo) string {
	if algo == nil {
		return "none"
	}
	return fmt.Sprintf("%s(bits=%d,group_size=%d,groupwise=%t)", familyOf(algo), algo.WeightBits(), algo.GroupSize(), algo.IsGroupwise())
}

// QuantScheme ist die Standard-Implementierung von QuantAlgo
type QuantScheme struct {
	family    Family
	bits      int
	groupSize int
}

// NoQuant ist das Schema fuer unquantisierte Checkpoints
var NoQuant = QuantScheme{}

// NewQuantScheme erstellt ein Schema; group-wise wenn groupSize > 0
func NewQuantScheme(family Family, bits, groupSize int) (QuantScheme, error) {
	if family == FamilyNone {
		return NoQuant, nil
	}
	if family < 0 || family >= numFamilies {
		return QuantScheme{}, fmt.Errorf("unknown quant family %d", family)
	}
	if bits <= 0 || bits > 8 || 32%bits != 0 {
		return QuantScheme{}, fmt.Errorf("%s: unsupported weight bits %d", family, bits)
	}
	if groupSize < 0 {
		return QuantScheme{}, fmt.Errorf("%s: invalid group size %d", family, groupSize)
	}
	return QuantScheme{family: family, bits: bits, groupSize: groupSize}, nil
}

func (s QuantScheme) Family() Family    { return s.family }
func (s QuantScheme) GroupSize() int    { return s.groupSize }
func (s QuantScheme) WeightBits() int   { return s.bits }
func (s QuantScheme) IsGptq() bool      { return s.family == FamilyGPTQ }
func (s QuantScheme) IsAwq() bool       { return s.family == FamilyAWQ }
func (s QuantScheme) IsGroupwise() bool { return s.family != FamilyNone && s.groupSize > 0 }

func (s QuantScheme) String() string {
	return describeScheme(s)
}
