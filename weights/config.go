// config.go - Shape-Parameter der Gewichte
//
// Enthaelt:
// - Config: gemeinsames Interface
// - AttnConfig, FfnConfig, MoeConfig: unveraenderliche Wertobjekte
//
// Fehlende Pflichtwerte werden beim Bau des Manifests abgelehnt, nicht erst beim Laden.
package weights

import (
	"errors"
	"fmt"
)

var ErrInvalidConfig = errors.New("invalid weight config")

// Config wird beim Bau an einen Deskriptor gehaengt und nie veraendert
type Config interface {
	Validate() error
}

// AttnConfig - Attention-Dimensionen
type AttnConfig struct {
	HeadNum     int
	HeadNumKV   int
	HiddenSize  int
	SizePerHead int
}

func (c AttnConfig) Validate() error {
	switch {
	case c.HeadNum <= 0:
		return fmt.Errorf("%w: attention head_num %d", ErrInvalidConfig, c.HeadNum)
	case c.HeadNumKV <= 0:
		return fmt.Errorf("%w: attention head_num_kv %d", ErrInvalidConfig, c.HeadNumKV)
	case c.HiddenSize <= 0:
		return fmt.Errorf("%w: attention hidden_size %d", ErrInvalidConfig, c.HiddenSize)
	case c.SizePerHead <= 0:
		return fmt.Errorf("%w: attention size_per_head %d", ErrInvalidConfig, c.SizePerHead)
	case c.HeadNum%c.HeadNumKV != 0:
		return fmt.Errorf("%w: head_num %d not divisible by head_num_kv %d", ErrInvalidConfig, c.HeadNum, c.HeadNumKV)
	}
	return nil
}

// QSize gibt die Breite der Q-Projektion zurueck
func (c AttnConfig) QSize() int {
	return c.HeadNum * c.SizePerHead
}

// KVSize gibt die Breite der K- bzw. V-Projektion zurueck
func (c AttnConfig) KVSize() int {
	return c.HeadNumKV * c.SizePerHead
}

// FfnConfig - Dense-FFN bzw. Shared-Expert
type FfnConfig struct {
	IsGatedActivation bool
	InterPaddingSize  int
	IsMoe             bool
	NeedFfnActScale   bool
}

func (c FfnConfig) Validate() error {
	if c.InterPaddingSize <= 0 {
		return fmt.Errorf("%w: ffn inter_padding_size %d", ErrInvalidConfig, c.InterPaddingSize)
	}
	return nil
}

// MoeConfig - Experten-Layer
type MoeConfig struct {
	ExpertNum           int
	InterPaddingSize    int
	RoutedScalingFactor float64 // Gewichtung der gerouteten Experten
}

func (c MoeConfig) Validate() error {
	switch {
	case c.ExpertNum <= 0:
		return fmt.Errorf("%w: moe expert_num %d", ErrInvalidConfig, c.ExpertNum)
	case c.InterPaddingSize <= 0:
		return fmt.Errorf("%w: moe inter_padding_size %d", ErrInvalidConfig, c.InterPaddingSize)
	case c.RoutedScalingFactor < 0:
		return fmt.Errorf("%w: moe routed_scaling_factor %v", ErrInvalidConfig, c.RoutedScalingFactor)
	}
	return nil
}

func interPaddingSize(c Config) (int, bool) {
	switch c := c.(type) {
	case FfnConfig:
		return c.InterPaddingSize, true
	case MoeConfig:
		return c.InterPaddingSize, true
	}
	return 0, false
}

func isMoeConfig(c Config) bool {
	switch c := c.(type) {
	case MoeConfig:
		return true
	case FfnConfig:
		return c.IsMoe
	}
	return false
}

func needFfnActScale(c Config) bool {
	fc, ok := c.(FfnConfig)
	return ok && fc.NeedFfnActScale
}
