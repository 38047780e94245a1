// cache.go - Aufloesung von Modell-IDs im lokalen HuggingFace Hub-Cache
// Kompatibel mit der Cache-Struktur von huggingface_hub:
//
//	<cache>/models--<org>--<name>/refs/<revision>      -> Commit-Hash
//	<cache>/models--<org>--<name>/snapshots/<commit>/  -> Dateien
//
// Es wird nichts heruntergeladen.
package huggingface

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
)

// Cache-Konstanten
const (
	EnvHFHome     = "HF_HOME"
	EnvHFHubCache = "HF_HUB_CACHE"

	DefaultCacheSubdir = "huggingface/hub"
	DefaultRevision    = "main"
	CacheRefDir        = "refs"
	CacheSnapshotDir   = "snapshots"
	CacheModelPrefix   = "models--"
)

// Cache-Fehler
var (
	ErrModelNotInCache = errors.New("model not in cache")
	ErrCacheCorrupted  = errors.New("cache structure corrupted")
	ErrInvalidModelID  = errors.New("invalid model id")
)

// HuggingFaceError kapselt Fehler mit Operation und Modell
type HuggingFaceError struct {
	Op      string
	ModelID string
	Err     error
}

func (e *HuggingFaceError) Error() string {
	if e.ModelID != "" {
		return "huggingface " + e.Op + " [" + e.ModelID + "]: " + e.Err.Error()
	}
	return "huggingface " + e.Op + ": " + e.Err.Error()
}

// Unwrap ermoeglicht errors.Is/As
func (e *HuggingFaceError) Unwrap() error {
	return e.Err
}

// GetCacheDir gibt das Cache-Verzeichnis zurueck
func GetCacheDir() string {
	if cacheDir := os.Getenv(EnvHFHubCache); cacheDir != "" {
		return cacheDir
	}
	if hfHome := os.Getenv(EnvHFHome); hfHome != "" {
		return filepath.Join(hfHome, "hub")
	}
	return getDefaultCacheDir()
}

func getDefaultCacheDir() string {
	var baseDir string
	switch runtime.GOOS {
	case "windows":
		if userProfile := os.Getenv("USERPROFILE"); userProfile != "" {
			baseDir = filepath.Join(userProfile, ".cache")
		} else {
			baseDir = filepath.Join(os.TempDir(), "huggingface_cache")
		}
	default:
		if xdgCache := os.Getenv("XDG_CACHE_HOME"); xdgCache != "" {
			baseDir = xdgCache
		} else if home, err := os.UserHomeDir(); err == nil {
			baseDir = filepath.Join(home, ".cache")
		} else {
			baseDir = filepath.Join(os.TempDir(), "huggingface_cache")
		}
	}
	return filepath.Join(baseDir, DefaultCacheSubdir)
}

// ParseModelID zerlegt "org/name[@revision]"
func ParseModelID(s string) (modelID, revision string, err error) {
	modelID, revision, _ = strings.Cut(s, "@")
	org, name, ok := strings.Cut(modelID, "/")
	if !ok || org == "" || name == "" || strings.Contains(name, "/") || strings.Contains(modelID, "--") {
		return "", "", &HuggingFaceError{Op: "parse", ModelID: s, Err: ErrInvalidModelID}
	}
	if revision == "" {
		revision = DefaultRevision
	}
	return modelID, revision, nil
}

// Snapshot gibt das Snapshot-Verzeichnis einer Revision zurueck. revision ist
// ein Ref-Name (z.B. main) oder direkt ein Commit-Hash.
func Snapshot(modelID, revision string) (string, error) {
	modelDir := filepath.Join(GetCacheDir(), modelIDToCacheDir(modelID))
	if _, err := os.Stat(modelDir); errors.Is(err, os.ErrNotExist) {
		return "", &HuggingFaceError{Op: "snapshot", ModelID: modelID, Err: ErrModelNotInCache}
	} else if err != nil {
		return "", &HuggingFaceError{Op: "snapshot", ModelID: modelID, Err: err}
	}

	commit := revision
	if bts, err := os.ReadFile(filepath.Join(modelDir, CacheRefDir, revision)); err == nil {
		commit = strings.TrimSpace(string(bts))
		if commit == "" {
			return "", &HuggingFaceError{Op: "snapshot", ModelID: modelID, Err: fmt.Errorf("%w: empty ref %s", ErrCacheCorrupted, revision)}
		}
	}

	snapshot := filepath.Join(modelDir, CacheSnapshotDir, commit)
	entries, err := os.ReadDir(snapshot)
	if errors.Is(err, os.ErrNotExist) {
		return "", &HuggingFaceError{Op: "snapshot", ModelID: modelID, Err: fmt.Errorf("%w: revision %s", ErrModelNotInCache, revision)}
	} else if err != nil {
		return "", &HuggingFaceError{Op: "snapshot", ModelID: modelID, Err: err}
	}
	if len(entries) == 0 {
		return "", &HuggingFaceError{Op: "snapshot", ModelID: modelID, Err: fmt.Errorf("%w: empty snapshot %s", ErrCacheCorrupted, commit)}
	}
	return snapshot, nil
}

// ResolveDir gibt arg zurueck falls es ein Verzeichnis ist, sonst den
// Snapshot der Modell-ID arg
func ResolveDir(arg string) (string, error) {
	if fi, err := os.Stat(arg); err == nil {
		if !fi.IsDir() {
			return "", fmt.Errorf("%s is not a directory", arg)
		}
		return arg, nil
	}

	modelID, revision, err := ParseModelID(arg)
	if err != nil {
		return "", err
	}
	return Snapshot(modelID, revision)
}

func modelIDToCacheDir(modelID string) string {
	return CacheModelPrefix + strings.ReplaceAll(modelID, "/", "--")
}
