// Package gguf - KeyValue, Value und TensorInfo
package gguf

import (
	"slices"

	"github.com/ollama/weightpipe/fs/ggml"
)

type KeyValue struct {
	Key string
	Value
}

// Valid meldet ob der Key gefunden wurde
func (kv KeyValue) Valid() bool {
	return kv.Key != "" && kv.Value.value != nil
}

// Value kapselt einen dekodierten GGUF-Wert
type Value struct {
	value any
}

// Any gibt den rohen Wert zurueck
func (v Value) Any() any {
	return v.value
}

// Int gibt den Wert als int64 zurueck falls er ganzzahlig ist
func (v Value) Int() int64 {
	switch n := v.value.(type) {
	case uint8:
		return int64(n)
	case int8:
		return int64(n)
	case uint16:
		return int64(n)
	case int16:
		return int64(n)
	case uint32:
		return int64(n)
	case int32:
		return int64(n)
	case uint64:
		return int64(n)
	case int64:
		return n
	default:
		return 0
	}
}

// Float gibt den Wert als float64 zurueck
func (v Value) Float() float64 {
	switch n := v.value.(type) {
	case float32:
		return float64(n)
	case float64:
		return n
	default:
		return float64(v.Int())
	}
}

// Bool gibt den Wert als bool zurueck
func (v Value) Bool() bool {
	b, _ := v.value.(bool)
	return b
}

// String gibt den Wert als string zurueck
func (v Value) String() string {
	s, _ := v.value.(string)
	return s
}

// Strings gibt den Wert als []string zurueck
func (v Value) Strings() []string {
	s, _ := v.value.([]string)
	return s
}

// TensorInfo beschreibt einen Tensor im GGUF-Header
type TensorInfo struct {
	Name   string
	Offset uint64
	Shape  []uint64
	Type   ggml.TensorType
}

// NumValues gibt die Anzahl der Elemente zurueck
func (ti TensorInfo) NumValues() int64 {
	var numItems int64 = 1
	for _, dim := range ti.Shape {
		numItems *= int64(dim)
	}
	return numItems
}

// NumBytes gibt die Groesse der Tensor-Daten in Bytes zurueck
func (ti TensorInfo) NumBytes() int64 {
	return ti.NumValues() * int64(ti.Type.TypeSize())
}

// Dims gibt die Shape in Zeilen-Major-Reihenfolge zurueck
func (ti TensorInfo) Dims() []int {
	dims := make([]int, len(ti.Shape))
	for i, d := range slices.Backward(ti.Shape) {
		dims[len(ti.Shape)-1-i] = int(d)
	}
	return dims
}
