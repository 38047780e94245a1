// names.go - Kanonische Laufzeit-Namen der Gewichte
//
// Enthaelt:
// - Name: geschlossene Aufzaehlung der Gewichts-Rollen
// - Category: Gewichts-Kategorien fuer die Quantisierung
// - groupWiseSupport: Tabelle (Kategorie, Familie) -> unterstuetzt
package weights

// Name ist der kanonische Laufzeit-Name eines Gewichts
type Name string

const (
	NameEmbedding    Name = "embedding"
	NameLmHead       Name = "lm_head"
	NameFinalLnGamma Name = "final_layernorm.gamma"
	NameFinalLnBeta  Name = "final_layernorm.beta"
	NamePreLnGamma   Name = "pre_layernorm_weights.gamma"
	NamePostLnGamma  Name = "post_layernorm_weights.gamma"

	NameAttnQKVW Name = "self_attention_weights.query_weight.kernel"
	NameAttnQKVB Name = "self_attention_weights.query_weight.bias"
	NameAttnQKVZ Name = "self_attention_weights.query_weight.zero"
	NameAttnQKVS Name = "self_attention_weights.query_weight.weight_only_quant_scale"
	NameAttnOW   Name = "self_attention_weights.attention_output_weight.kernel"
	NameAttnOZ   Name = "self_attention_weights.attention_output_weight.zero"
	NameAttnOS   Name = "self_attention_weights.attention_output_weight.weight_only_quant_scale"

	// w1 = gate, w3 = up, w2 = down
	NameFfnW1   Name = "ffn_weights.intermediate_weight.kernel"
	NameFfnZ1   Name = "ffn_weights.intermediate_weight.zero"
	NameFfnS1   Name = "ffn_weights.intermediate_weight.weight_only_quant_scale"
	NameFfnW3   Name = "ffn_weights.intermediate_weight3.kernel"
	NameFfnZ3   Name = "ffn_weights.intermediate_weight3.zero"
	NameFfnS3   Name = "ffn_weights.intermediate_weight3.weight_only_quant_scale"
	NameFfnW2   Name = "ffn_weights.intermediate_weight2.kernel"
	NameFfnZ2   Name = "ffn_weights.intermediate_weight2.zero"
	NameFfnS2   Name = "ffn_weights.intermediate_weight2.weight_only_quant_scale"
	NameFfnW13  Name = "ffn_weights.intermediate_weight13.kernel"
	NameFfnZ13  Name = "ffn_weights.intermediate_weight13.zero"
	NameFfnS13  Name = "ffn_weights.intermediate_weight13.weight_only_quant_scale"
	NameFfnActS Name = "ffn_weights.intermediate_weight2.act_scale"

	NameMoeGate Name = "partial_moe_weights.gate.kernel"
	NameMoeW1   Name = "partial_moe_weights.intermediate_weight.kernel"
	NameMoeZ1   Name = "partial_moe_weights.intermediate_weight.zero"
	NameMoeS1   Name = "partial_moe_weights.intermediate_weight.weight_only_quant_scale"
	NameMoeW2   Name = "partial_moe_weights.intermediate_weight2.kernel"
	NameMoeZ2   Name = "partial_moe_weights.intermediate_weight2.zero"
	NameMoeS2   Name = "partial_moe_weights.intermediate_weight2.weight_only_quant_scale"

	NameSharedExpertGate Name = "ffn_weights.shared_expert_gate.kernel"

	// Gruppen
	NameMoe           Name = "partial_moe_weights"
	NameMoeWithShared Name = "partial_moe_weights.with_shared_expert"
)

var knownNames = map[Name]struct{}{
	NameEmbedding: {}, NameLmHead: {}, NameFinalLnGamma: {}, NameFinalLnBeta: {},
	NamePreLnGamma: {}, NamePostLnGamma: {},
	NameAttnQKVW: {}, NameAttnQKVB: {}, NameAttnQKVZ: {}, NameAttnQKVS: {},
	NameAttnOW: {}, NameAttnOZ: {}, NameAttnOS: {},
	NameFfnW1: {}, NameFfnZ1: {}, NameFfnS1: {},
	NameFfnW3: {}, NameFfnZ3: {}, NameFfnS3: {},
	NameFfnW2: {}, NameFfnZ2: {}, NameFfnS2: {},
	NameFfnW13: {}, NameFfnZ13: {}, NameFfnS13: {},
	NameFfnActS: {},
	NameMoeGate: {}, NameMoeW1: {}, NameMoeZ1: {}, NameMoeS1: {},
	NameMoeW2: {}, NameMoeZ2: {}, NameMoeS2: {},
	NameSharedExpertGate: {},
	NameMoe: {}, NameMoeWithShared: {},
}

// Valid prueft ob der Name zur geschlossenen Aufzaehlung gehoert
func (n Name) Valid() bool {
	_, ok := knownNames[n]
	return ok
}

func (n Name) String() string {
	return string(n)
}

// Category ist die Gewichts-Kategorie fuer Quantisierungs-Entscheidungen
type Category int

const (
	CategoryOther Category = iota
	CategoryAttnQKV
	CategoryAttnOut
	CategoryFfnGate
	CategoryFfnUp
	CategoryFfnDown
	CategoryFfnGateUp
	CategoryMoeGateUp
	CategoryMoeDown

	numCategories
)

var categoryNames = [numCategories]string{
	CategoryOther:     "other",
	CategoryAttnQKV:   "attn_qkv",
	CategoryAttnOut:   "attn_o",
	CategoryFfnGate:   "ffn_gate",
	CategoryFfnUp:     "ffn_up",
	CategoryFfnDown:   "ffn_down",
	CategoryFfnGateUp: "ffn_gate_up",
	CategoryMoeGateUp: "moe_gate_up",
	CategoryMoeDown:   "moe_down",
}

func (c Category) String() string {
	if c < 0 || c >= numCategories {
		return "unknown"
	}
	return categoryNames[c]
}

// Category gibt die Kategorie eines unquantisierten Gewichts zurueck
func (n Name) Category() Category {
	switch n {
	case NameAttnQKVW:
		return CategoryAttnQKV
	case NameAttnOW:
		return CategoryAttnOut
	case NameFfnW1:
		return CategoryFfnGate
	case NameFfnW3:
		return CategoryFfnUp
	case NameFfnW2:
		return CategoryFfnDown
	case NameFfnW13:
		return CategoryFfnGateUp
	case NameMoeW1:
		return CategoryMoeGateUp
	case NameMoeW2:
		return CategoryMoeDown
	default:
		return CategoryOther
	}
}

// groupWiseSupport - welche Kategorie unter welcher Familie group-wise quantisiert wird.
// Die Array-Groessen erzwingen einen Eintrag pro (Kategorie, Familie).
var groupWiseSupport = [numCategories][numFamilies]bool{
	CategoryOther:     {FamilyNone: false, FamilyGPTQ: false, FamilyAWQ: false},
	CategoryAttnQKV:   {FamilyNone: false, FamilyGPTQ: true, FamilyAWQ: true},
	CategoryAttnOut:   {FamilyNone: false, FamilyGPTQ: true, FamilyAWQ: true},
	CategoryFfnGate:   {FamilyNone: false, FamilyGPTQ: true, FamilyAWQ: true},
	CategoryFfnUp:     {FamilyNone: false, FamilyGPTQ: true, FamilyAWQ: true},
	CategoryFfnDown:   {FamilyNone: false, FamilyGPTQ: true, FamilyAWQ: true},
	CategoryFfnGateUp: {FamilyNone: false, FamilyGPTQ: true, FamilyAWQ: true},
	CategoryMoeGateUp: {FamilyNone: false, FamilyGPTQ: true, FamilyAWQ: true},
	CategoryMoeDown:   {FamilyNone: false, FamilyGPTQ: true, FamilyAWQ: true},
}

// isMoe - Kategorien die immer im Experten-Layout vorliegen
func (c Category) isMoe() bool {
	return c == CategoryMoeGateUp || c == CategoryMoeDown
}
