// Package ggml - KV (Key-Value) Metadaten
//
// Dieses Modul enthaelt den KV-Typ fuer den GGUF-Header:
// - Architektur-Getter (Architecture, BlockCount, HeadCount, ...)
// - Generische Getter (String, Uint)
//
// Keys ohne "general."-Praefix werden mit der Architektur qualifiziert. Der
// Converter legt Keys unqualifiziert ab, daher gilt auch der rohe Key.
package ggml

import (
	"iter"
	"log/slog"
	"maps"
	"strings"
)

// KV repraesentiert GGUF Key-Value Metadaten
type KV map[string]any

// Architecture gibt die Modell-Architektur zurueck
func (kv KV) Architecture() string {
	return kv.String("general.architecture", "unknown")
}

// BlockCount gibt die Anzahl der Bloecke/Layer zurueck
func (kv KV) BlockCount() uint64 {
	return uint64(kv.Uint("block_count"))
}

// HeadCount gibt die Anzahl der Attention-Heads zurueck
func (kv KV) HeadCount() uint64 {
	return uint64(kv.Uint("attention.head_count"))
}

// HeadCountKV gibt die Anzahl der KV-Heads zurueck
func (kv KV) HeadCountKV() uint64 {
	return uint64(kv.Uint("attention.head_count_kv", uint32(kv.HeadCount())))
}

// ExpertCount gibt die Anzahl der Experten zurueck (0 fuer Dense-Modelle)
func (kv KV) ExpertCount() uint64 {
	return uint64(kv.Uint("expert_count"))
}

// QuantMethod gibt das Quantisierungs-Verfahren zurueck
func (kv KV) QuantMethod() string {
	return kv.String("general.quantization.method", "none")
}

// String gibt einen String-Wert zurueck
func (kv KV) String(key string, defaultValue ...string) string {
	val, _ := keyValue(kv, key, append(defaultValue, "")...)
	return val
}

// Uint gibt einen uint32-Wert zurueck
func (kv KV) Uint(key string, defaultValue ...uint32) uint32 {
	val, _ := keyValue(kv, key, append(defaultValue, 0)...)
	return val
}

// Len gibt die Anzahl der KV-Paare zurueck
func (kv KV) Len() int {
	return len(kv)
}

// Keys gibt einen Iterator ueber alle Keys zurueck
func (kv KV) Keys() iter.Seq[string] {
	return maps.Keys(kv)
}

// qualify ergaenzt den Architektur-Praefix
func (kv KV) qualify(key string) string {
	if strings.HasPrefix(key, "general.") || strings.HasPrefix(key, "adapter.") {
		return key
	}
	arch, _ := kv["general.architecture"].(string)
	if arch == "" || strings.HasPrefix(key, arch+".") {
		return key
	}
	return arch + "." + key
}

type valueTypes interface {
	uint32 | string
}

// keyValue ist eine generische Hilfsfunktion zum Lesen von KV-Werten
func keyValue[T valueTypes](kv KV, key string, defaultValue ...T) (T, bool) {
	if val, ok := kv[kv.qualify(key)].(T); ok {
		return val, true
	}
	if val, ok := kv[key].(T); ok {
		return val, true
	}

	slog.Debug("key with type not found", "key", key, "default", defaultValue[0])
	return defaultValue[0], false
}
