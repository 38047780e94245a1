// config.go - Haupt-Konfigurationsfunktionen fuer weightpipe
//
// Dieses Modul enthaelt:
// - LogLevel: Gibt Log-Level zurueck (WEIGHTPIPE_DEBUG)
// - LoadConcurrency: Parallele Lade-Jobs (WEIGHTPIPE_LOAD_CONCURRENCY)
// - Device: Ziel-Device fuer das Repacking (WEIGHTPIPE_DEVICE)
// - Var: Liest eine bereinigte Environment-Variable
//
// Weitere Konfigurationen sind ausgelagert:
// - config_features.go: Pipeline-Einstellungen (Alignment, Tensor-Parallel)
// - config_utils.go: Utility-Funktionen und AsMap/Values
package envconfig

import (
	"log/slog"
	"os"
	"runtime"
	"strconv"
	"strings"
)

// LogLevel gibt das Log-Level zurueck
// Konfigurierbar via WEIGHTPIPE_DEBUG
// Werte: 0/false = INFO (Default), 1/true = DEBUG, 2 = TRACE
func LogLevel() slog.Level {
	level := slog.LevelInfo
	if s := Var("WEIGHTPIPE_DEBUG"); s != "" {
		if b, _ := strconv.ParseBool(s); b {
			level = slog.LevelDebug
		} else if i, _ := strconv.ParseInt(s, 10, 64); i != 0 {
			level = slog.Level(i * -4)
		}
	}

	return level
}

// LoadConcurrency gibt die Anzahl paralleler Lade-Jobs zurueck
// Konfigurierbar via WEIGHTPIPE_LOAD_CONCURRENCY
// Default: GOMAXPROCS
func LoadConcurrency() int {
	n := Uint("WEIGHTPIPE_LOAD_CONCURRENCY", 0)()
	if n == 0 {
		return runtime.GOMAXPROCS(0)
	}
	return int(n)
}

// Device gibt den Namen des Repack-Devices zurueck
// Konfigurierbar via WEIGHTPIPE_DEVICE
// Default: cpu
func Device() string {
	if s := Var("WEIGHTPIPE_DEVICE"); s != "" {
		return strings.ToLower(s)
	}
	return "cpu"
}

// Var gibt eine Environment-Variable zurueck
// Entfernt fuehrende/trailing Quotes und Leerzeichen
func Var(key string) string {
	return strings.Trim(strings.TrimSpace(os.Getenv(key)), "\"'")
}
