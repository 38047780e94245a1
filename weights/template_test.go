package weights

import (
	"errors"
	"testing"
)

// TestTemplate_Expand testet die Aufloesung im Layer- und globalen Scope
func TestTemplate_Expand(t *testing.T) {
	tests := []struct {
		name     string
		template Template
		scope    Scope
		extra    map[string]int
		want     string
		wantErr  bool
	}{
		{"Ohne Platzhalter", "model.norm.weight", GlobalScope, nil, "model.norm.weight", false},
		{"Layer", "model.layers.{i}.self_attn.o_proj.weight", LayerScope(3), nil, "model.layers.3.self_attn.o_proj.weight", false},
		{"Naechster Layer", "model.layers.{i_1}.input_layernorm.weight", LayerScope(3), nil, "model.layers.4.input_layernorm.weight", false},
		{"Experte", "model.layers.{i}.block_sparse_moe.experts.{expert_id}.w1.weight", LayerScope(0), map[string]int{PlaceholderExpert: 7}, "model.layers.0.block_sparse_moe.experts.7.w1.weight", false},
		{"Layer im globalen Scope", "model.layers.{i}.mlp.weight", GlobalScope, nil, "", true},
		{"Experte fehlt", "experts.{expert_id}.w2.weight", LayerScope(1), nil, "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			vars := tt.scope.vars()
			for k, v := range tt.extra {
				vars[k] = v
			}
			got, err := tt.template.Expand(vars)
			if tt.wantErr {
				if !errors.Is(err, ErrTemplate) {
					t.Errorf("erwartet ErrTemplate, bekam %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Unerwarteter Fehler: %v", err)
			}
			if got != tt.want {
				t.Errorf("Got %q, want %q", got, tt.want)
			}
		})
	}
}

// TestTemplate_Validate testet Klammern und unbekannte Platzhalter
func TestTemplate_Validate(t *testing.T) {
	tests := []struct {
		template    Template
		placeholder string
		ok          bool
	}{
		{"model.layers.{i}.mlp.down_proj.weight", "", true},
		{"model.layers.{i}.experts.{expert_id}.w1.weight", "", true},
		{"lm_head.weight", "", true},
		{"model.layers.{layer}.weight", "layer", false},
		{"model.layers.{i.weight", "", false},
		{"model.layers.i}.weight", "", false},
		{"model.layers.{}.weight", "", false},
	}

	for _, tt := range tests {
		t.Run(string(tt.template), func(t *testing.T) {
			err := tt.template.Validate()
			if tt.ok {
				if err != nil {
					t.Errorf("Unerwarteter Fehler: %v", err)
				}
				return
			}
			var te *TemplateError
			if !errors.As(err, &te) {
				t.Fatalf("erwartet TemplateError, bekam %v", err)
			}
			if te.Placeholder != tt.placeholder {
				t.Errorf("Placeholder = %q, erwartet %q", te.Placeholder, tt.placeholder)
			}
		})
	}
}

// TestScope_String testet die Darstellung in Fehlermeldungen
func TestScope_String(t *testing.T) {
	if got := GlobalScope.String(); got != "global" {
		t.Errorf("GlobalScope = %q", got)
	}
	if got := LayerScope(12).String(); got != "layer 12" {
		t.Errorf("LayerScope(12) = %q", got)
	}
	if !GlobalScope.IsGlobal() || LayerScope(0).IsGlobal() {
		t.Error("IsGlobal falsch")
	}
}
