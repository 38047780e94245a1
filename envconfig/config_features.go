// config_features.go - Pipeline-Einstellungen
//
// Dieses Modul enthaelt:
// - Aktivierungs-Skalen fuer FFN down
// - Alignment der Intermediate-Groesse
// - Tensor-Parallel Rang und Groesse fuer LoRA-Splits
package envconfig

// =============================================================================
// Quantisierung
// =============================================================================

var (
	// FfnActScale laedt zusaetzlich die Aktivierungs-Skalen von FFN down
	FfnActScale = Bool("WEIGHTPIPE_FFN_ACT_SCALE")

	// InterAlign ist das Alignment der gepaddeten Intermediate-Groesse
	// Konfigurierbar via WEIGHTPIPE_INTER_ALIGN
	InterAlign = Uint("WEIGHTPIPE_INTER_ALIGN", 64)
)
