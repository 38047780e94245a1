// Package ggml - GGUF Type-Konstanten
//
// Dieses Modul definiert die Typ-Praefixe fuer KV-Werte im GGUF-Header.
package ggml

const (
	ggufTypeUint8 uint32 = iota
	ggufTypeInt8
	ggufTypeUint16
	ggufTypeInt16
	ggufTypeUint32
	ggufTypeInt32
	ggufTypeFloat32
	ggufTypeBool
	ggufTypeString
	ggufTypeArray
	ggufTypeUint64
	ggufTypeInt64
	ggufTypeFloat64
)
