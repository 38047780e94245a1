// Package ggml - Tensor Datenstrukturen
//
// Dieses Modul enthaelt die Tensor-Beschreibung fuer den GGUF-Writer:
// - Tensor: Name, Typ, Offset, Shape (ggml-Reihenfolge) und Daten
// - ShapeFromDims: Zeilen-Major-Dimensionen nach ggml-Reihenfolge
package ggml

import (
	"fmt"
	"io"
	"math"
	"slices"
)

// Tensor repraesentiert einen einzelnen GGML-Tensor
type Tensor struct {
	Name   string `json:"name"`
	Kind   uint32 `json:"kind"`
	Offset uint64 `json:"-"`

	// Shape ist die Anzahl der Elemente in jeder Dimension, schnellste zuerst
	Shape []uint64 `json:"shape"`

	io.WriterTo `json:"-"`
}

// ShapeFromDims dreht Zeilen-Major-Dimensionen in die ggml-Reihenfolge
func ShapeFromDims(dims []int) []uint64 {
	shape := make([]uint64, len(dims))
	for i, d := range dims {
		shape[len(dims)-1-i] = uint64(d)
	}
	return shape
}

// Dims gibt die Shape in Zeilen-Major-Reihenfolge zurueck
func (t Tensor) Dims() []uint64 {
	dims := slices.Clone(t.Shape)
	slices.Reverse(dims)
	return dims
}

// block extrahiert die Block-Nummer aus dem Tensor-Namen
func (t Tensor) block() (n int) {
	if _, err := fmt.Sscanf(t.Name, "blk.%d.", &n); err != nil {
		return math.MaxInt
	}
	return
}

// Elements gibt die Gesamtanzahl der Elemente im Tensor zurueck
func (t Tensor) Elements() uint64 {
	var count uint64 = 1
	for _, n := range t.Shape {
		count *= n
	}
	return count
}

// Size gibt die Groesse des Tensors in Bytes zurueck
func (t Tensor) Size() uint64 {
	return t.Elements() * TensorType(t.Kind).TypeSize()
}

// Type gibt den Typ-Namen als String zurueck
func (t Tensor) Type() string {
	return TensorType(t.Kind).String()
}
