package config

import (
	_ "embed"
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
)

// ModelPricing is the USD-per-1M-token rate for one model, split by the
// three rate classes spec.md §4.8 requires: non-cached input, cached
// input (conventionally half the input rate), and output.
type ModelPricing struct {
	Input       float64 `toml:"input_per_million"`
	CachedInput float64 `toml:"cached_input_per_million"`
	Output      float64 `toml:"output_per_million"`
}

// PricingTable maps model id -> rates, plus a fallback for unknown models.
type PricingTable struct {
	Models   map[string]ModelPricing `toml:"models"`
	Fallback ModelPricing            `toml:"fallback"`
}

//go:embed pricing.toml
var defaultPricingTOML []byte

// LoadPricing reads the default embedded pricing table, optionally
// overridden by a file at overridePath (if it exists).
func LoadPricing(overridePath string) (*PricingTable, error) {
	var table PricingTable
	if err := toml.Unmarshal(defaultPricingTOML, &table); err != nil {
		return nil, fmt.Errorf("parsing embedded pricing table: %w", err)
	}

	if overridePath == "" {
		return &table, nil
	}
	data, err := os.ReadFile(overridePath)
	if os.IsNotExist(err) {
		return &table, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading pricing override %s: %w", overridePath, err)
	}
	if err := toml.Unmarshal(data, &table); err != nil {
		return nil, fmt.Errorf("parsing pricing override %s: %w", overridePath, err)
	}
	return &table, nil
}

// RateFor returns the pricing for model, falling back to the highest-tier
// (Fallback) entry for unknown models, matching spec.md §4.8.
func (t *PricingTable) RateFor(model string) ModelPricing {
	if t == nil {
		return ModelPricing{}
	}
	if p, ok := t.Models[model]; ok {
		return p
	}
	return t.Fallback
}
