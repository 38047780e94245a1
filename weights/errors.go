// errors.go - Fehler-Taxonomie fuer das Laden von Gewichten
//
// Enthaelt:
// - ErrMissingWeight, ErrShapeMismatch, ErrUnsupportedWeightCategory (Sentinels)
// - MissingWeightError: Checkpoint-Tensor fehlt
// - ShapeMismatchError: inkompatible Shapes in Transform/Merge
// - UnsupportedWeightCategoryError: Resolver/Composite ausserhalb der Kategorien
//
// Alle Fehler sind fatal und werden nicht wiederholt.
package weights

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrMissingWeight             = errors.New("missing weight")
	ErrShapeMismatch             = errors.New("shape mismatch")
	ErrUnsupportedWeightCategory = errors.New("unsupported weight category")
)

// MissingWeightError - Ein aufgeloester Tensor-Name existiert nicht im Checkpoint
type MissingWeightError struct {
	Name       string // aufgeloester Checkpoint-Name
	Path       string // Checkpoint-Verzeichnis oder Datei
	Suggestion string // aehnlichster bekannter Name, falls vorhanden
}

func (e *MissingWeightError) Error() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "missing weight %q", e.Name)
	if e.Path != "" {
		fmt.Fprintf(&sb, " in %s", e.Path)
	}
	if e.Suggestion != "" {
		fmt.Fprintf(&sb, " (did you mean %q?)", e.Suggestion)
	}
	return sb.String()
}

func (e *MissingWeightError) Is(target error) bool {
	return target == ErrMissingWeight
}

// ShapeMismatchError - Tensor-Shapes passen nicht zur Transform-Funktion
type ShapeMismatchError struct {
	Weight Name    // Deskriptor, wird beim Materialisieren gesetzt
	Op     string  // Transform-Name, z.B. "pad(128,dim=0)"
	Shapes [][]int // beobachtete Shapes der Eingaben
	Detail string
}

func (e *ShapeMismatchError) Error() string {
	var sb strings.Builder
	sb.WriteString("shape mismatch")
	if e.Weight != "" {
		fmt.Fprintf(&sb, " for %s", e.Weight)
	}
	if e.Op != "" {
		fmt.Fprintf(&sb, " in %s", e.Op)
	}
	if e.Detail != "" {
		sb.WriteString(": ")
		sb.WriteString(e.Detail)
	}
	if len(e.Shapes) > 0 {
		fmt.Fprintf(&sb, " (observed %v)", e.Shapes)
	}
	return sb.String()
}

func (e *ShapeMismatchError) Is(target error) bool {
	return target == ErrShapeMismatch
}

// UnsupportedWeightCategoryError - Deskriptor liegt ausserhalb der deklarierten Kategorien
type UnsupportedWeightCategoryError struct {
	Weight Name
	Scheme string
}

func (e *UnsupportedWeightCategoryError) Error() string {
	if e.Scheme == "" {
		return fmt.Sprintf("unsupported weight category for %s", e.Weight)
	}
	return fmt.Sprintf("unsupported weight category for %s under %s", e.Weight, e.Scheme)
}

func (e *UnsupportedWeightCategoryError) Is(target error) bool {
	return target == ErrUnsupportedWeightCategory
}

// shapeError baut einen ShapeMismatchError aus den Eingabe-Tensoren
func shapeError(op string, ts []*Tensor, format string, args ...any) error {
	shapes := make([][]int, 0, len(ts))
	for _, t := range ts {
		if t == nil || t.Dense == nil {
			shapes = append(shapes, nil)
			continue
		}
		shapes = append(shapes, t.dims())
	}
	return &ShapeMismatchError{Op: op, Shapes: shapes, Detail: fmt.Sprintf(format, args...)}
}
