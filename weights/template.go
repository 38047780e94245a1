// template.go - Checkpoint-Namensvorlagen mit Platzhaltern
//
// Enthaelt:
// - Template: Name mit {i}, {i_1}, {expert_id}
// - Scope: Layer-Kontext fuer die Aufloesung
// - TemplateError: ungueltige Vorlage oder unaufgeloester Platzhalter
package weights

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

const (
	PlaceholderLayer     = "i"
	PlaceholderNextLayer = "i_1"
	PlaceholderExpert    = "expert_id"
)

var ErrTemplate = errors.New("invalid name template")

// TemplateError - Vorlage ist fehlerhaft oder nicht vollstaendig aufloesbar
type TemplateError struct {
	Template    Template
	Placeholder string
	Detail      string
}

func (e *TemplateError) Error() string {
	if e.Placeholder != "" {
		return fmt.Sprintf("template %q: %s {%s}", string(e.Template), e.Detail, e.Placeholder)
	}
	return fmt.Sprintf("template %q: %s", string(e.Template), e.Detail)
}

func (e *TemplateError) Is(target error) bool {
	return target == ErrTemplate
}

// Template ist ein Checkpoint-Name mit optionalen Platzhaltern
type Template string

type segment struct {
	text        string
	placeholder string
}

func (t Template) parse() ([]segment, error) {
	var segs []segment
	s := string(t)
	for len(s) > 0 {
		start := strings.IndexByte(s, '{')
		end := strings.IndexByte(s, '}')
		if end >= 0 && (start < 0 || end < start) {
			return nil, &TemplateError{Template: t, Detail: "unmatched '}'"}
		}
		if start < 0 {
			segs = append(segs, segment{text: s})
			break
		}
		if start > 0 {
			segs = append(segs, segment{text: s[:start]})
		}
		if end < 0 {
			return nil, &TemplateError{Template: t, Detail: "unmatched '{'"}
		}

		name := s[start+1 : end]
		switch name {
		case PlaceholderLayer, PlaceholderNextLayer, PlaceholderExpert:
		case "":
			return nil, &TemplateError{Template: t, Detail: "empty placeholder"}
		default:
			if strings.ContainsRune(name, '{') {
				return nil, &TemplateError{Template: t, Detail: "nested '{'"}
			}
			return nil, &TemplateError{Template: t, Placeholder: name, Detail: "unknown placeholder"}
		}
		segs = append(segs, segment{placeholder: name})
		s = s[end+1:]
	}
	return segs, nil
}

// Validate prueft Klammern und Platzhalter-Namen
func (t Template) Validate() error {
	_, err := t.parse()
	return err
}

// Has prueft ob die Vorlage den Platzhalter enthaelt
func (t Template) Has(placeholder string) bool {
	return strings.Contains(string(t), "{"+placeholder+"}")
}

// Expand ersetzt alle Platzhalter; fehlende Werte sind ein Fehler
func (t Template) Expand(vars map[string]int) (string, error) {
	segs, err := t.parse()
	if err != nil {
		return "", err
	}

	var sb strings.Builder
	for _, seg := range segs {
		if seg.placeholder == "" {
			sb.WriteString(seg.text)
			continue
		}
		v, ok := vars[seg.placeholder]
		if !ok {
			return "", &TemplateError{Template: t, Placeholder: seg.placeholder, Detail: "unresolved placeholder"}
		}
		sb.WriteString(strconv.Itoa(v))
	}
	return sb.String(), nil
}

func (t Template) String() string {
	return string(t)
}

// Scope ist der Layer-Kontext beim Materialisieren
type Scope struct {
	Layer int
}

// GlobalScope gilt fuer Gewichte ausserhalb der Layer
var GlobalScope = Scope{Layer: -1}

// LayerScope gibt den Scope fuer Layer i zurueck
func LayerScope(i int) Scope {
	return Scope{Layer: i}
}

func (s Scope) IsGlobal() bool {
	return s.Layer < 0
}

func (s Scope) vars() map[string]int {
	if s.IsGlobal() {
		return map[string]int{}
	}
	return map[string]int{
		PlaceholderLayer:     s.Layer,
		PlaceholderNextLayer: s.Layer + 1,
	}
}

func (s Scope) String() string {
	if s.IsGlobal() {
		return "global"
	}
	return "layer " + strconv.Itoa(s.Layer)
}
