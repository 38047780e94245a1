// config_utils.go - Utility-Funktionen und Export fuer Konfiguration
//
// Dieses Modul enthaelt:
// - BoolWithDefault/Bool: Boolean-Getter mit Default-Wert
// - Uint: Integer-Getter mit Default-Wert
// - EnvVar: Struktur fuer Environment-Variablen-Info
// - AsMap: Gibt alle Konfigurationen als Map zurueck
// - Values: Gibt alle Konfigurationswerte als String-Map zurueck
package envconfig

import (
	"fmt"
	"log/slog"
	"strconv"
)

// =============================================================================
// Getter
// =============================================================================

// BoolWithDefault gibt eine Funktion zurueck, die einen Bool mit Default-Wert liest
func BoolWithDefault(k string) func(defaultValue bool) bool {
	return func(defaultValue bool) bool {
		if s := Var(k); s != "" {
			b, err := strconv.ParseBool(s)
			if err != nil {
				return true
			}
			return b
		}
		return defaultValue
	}
}

// Bool gibt eine Funktion zurueck, die einen Bool liest (Default: false)
func Bool(k string) func() bool {
	withDefault := BoolWithDefault(k)
	return func() bool {
		return withDefault(false)
	}
}

// Uint gibt eine Funktion zurueck, die einen uint mit Default-Wert liest
func Uint(key string, defaultValue uint) func() uint {
	return func() uint {
		if s := Var(key); s != "" {
			if n, err := strconv.ParseUint(s, 10, 64); err != nil {
				slog.Warn("invalid environment variable, using default", "key", key, "value", s, "default", defaultValue)
			} else {
				return uint(n)
			}
		}
		return defaultValue
	}
}

// =============================================================================
// Export
// =============================================================================

// EnvVar repraesentiert eine Environment-Variable mit Metadaten
type EnvVar struct {
	Name        string
	Value       any
	Description string
}

// AsMap gibt alle Konfigurationen als Map zurueck
func AsMap() map[string]EnvVar {
	return map[string]EnvVar{
		"WEIGHTPIPE_DEBUG":            {"WEIGHTPIPE_DEBUG", LogLevel(), "Show additional debug information (e.g. WEIGHTPIPE_DEBUG=1, 2 for trace)"},
		"WEIGHTPIPE_LOAD_CONCURRENCY": {"WEIGHTPIPE_LOAD_CONCURRENCY", LoadConcurrency(), "Maximum number of weights materialized in parallel (default: GOMAXPROCS)"},
		"WEIGHTPIPE_DEVICE":           {"WEIGHTPIPE_DEVICE", Device(), "Device used to repack quantized weights (default: cpu)"},
		"WEIGHTPIPE_FFN_ACT_SCALE":    {"WEIGHTPIPE_FFN_ACT_SCALE", FfnActScale(), "Also load activation scales for the FFN down projection"},
		"WEIGHTPIPE_INTER_ALIGN":      {"WEIGHTPIPE_INTER_ALIGN", InterAlign(), "Alignment of the padded intermediate size (default: 64)"},
	}
}

// Values gibt alle Konfigurationswerte als String-Map zurueck
func Values() map[string]string {
	vals := make(map[string]string)
	for k, v := range AsMap() {
		vals[k] = fmt.Sprintf("%v", v.Value)
	}
	return vals
}
