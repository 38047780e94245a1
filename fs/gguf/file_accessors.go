// Package gguf - GGUF File Accessor Methoden
//
// Dieses Modul enthaelt die Zugriffs-Methoden fuer GGUF-Dateien:
// - KeyValue, KeyValues, NumKeyValues
// - TensorInfo, TensorInfos, NumTensors
// - TensorReader: Liefert einen Reader fuer Tensor-Daten
package gguf

import (
	"fmt"
	"io"
	"iter"
	"slices"
	"strings"
)

// KeyValue sucht ein Key-Value Paar nach Name.
// Keys ohne "general."/"adapter." Praefix werden mit der Architektur qualifiziert.
func (f *File) KeyValue(key string) KeyValue {
	if !strings.HasPrefix(key, "general.") && !strings.HasPrefix(key, "adapter.") {
		if arch := f.KeyValue("general.architecture").String(); arch != "" && !strings.HasPrefix(key, arch+".") {
			key = arch + "." + key
		}
	}

	if i := slices.IndexFunc(f.keyValues, func(kv KeyValue) bool { return kv.Key == key }); i >= 0 {
		return f.keyValues[i]
	}
	return KeyValue{}
}

// NumKeyValues gibt die Anzahl der Key-Value Paare zurueck
func (f *File) NumKeyValues() int {
	return len(f.keyValues)
}

// KeyValues gibt einen Iterator ueber alle Key-Value Paare zurueck
func (f *File) KeyValues() iter.Seq2[int, KeyValue] {
	return slices.All(f.keyValues)
}

// TensorInfo sucht Tensor-Info nach Name
func (f *File) TensorInfo(name string) TensorInfo {
	if i := slices.IndexFunc(f.tensors, func(t TensorInfo) bool { return t.Name == name }); i >= 0 {
		return f.tensors[i]
	}
	return TensorInfo{}
}

// NumTensors gibt die Anzahl der Tensors zurueck
func (f *File) NumTensors() int {
	return len(f.tensors)
}

// TensorInfos gibt einen Iterator ueber alle Tensor-Infos zurueck
func (f *File) TensorInfos() iter.Seq2[int, TensorInfo] {
	return slices.All(f.tensors)
}

// TensorReader liefert Tensor-Info und einen Reader fuer die Tensor-Daten
func (f *File) TensorReader(name string) (TensorInfo, io.Reader, error) {
	t := f.TensorInfo(name)
	if t.Name == "" {
		return TensorInfo{}, nil, fmt.Errorf("tensor %s not found", name)
	}
	return t, io.NewSectionReader(f.file, f.offset+int64(t.Offset), t.NumBytes()), nil
}
