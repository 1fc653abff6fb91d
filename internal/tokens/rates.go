package tokens

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// DefaultModel is assumed when an event carries no model identifier.
const DefaultModel = "opus"

// Rate is a per-million-token price pair in USD.
type Rate struct {
	Input  float64 `yaml:"input"`
	Output float64 `yaml:"output"`
}

// RateTable maps model families to prices. Lookup is by substring so that
// versioned model identifiers resolve to their family rate.
type RateTable struct {
	families []string
	rates    map[string]Rate
	fallback Rate
}

// DefaultRates returns the built-in price table.
func DefaultRates() *RateTable {
	t := &RateTable{rates: map[string]Rate{}}
	t.add("opus", Rate{Input: 15, Output: 75})
	t.add("sonnet", Rate{Input: 3, Output: 15})
	t.add("haiku", Rate{Input: 0.8, Output: 4})
	t.fallback = t.rates["opus"]
	return t
}

// LoadRates reads a YAML rate file layered over the defaults. The file maps
// family names to {input, output} prices:
//
//	opus:
//	  input: 15
//	  output: 75
func LoadRates(path string) (*RateTable, error) {
	t := DefaultRates()
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read rates file: %w", err)
	}
	var overrides map[string]Rate
	if err := yaml.Unmarshal(raw, &overrides); err != nil {
		return nil, fmt.Errorf("failed to parse rates file %s: %w", path, err)
	}
	for family, rate := range overrides {
		t.add(strings.ToLower(family), rate)
	}
	if r, ok := t.rates[DefaultModel]; ok {
		t.fallback = r
	}
	return t, nil
}

func (t *RateTable) add(family string, rate Rate) {
	if _, ok := t.rates[family]; !ok {
		t.families = append(t.families, family)
	}
	t.rates[family] = rate
}

// Lookup resolves the rate for a model identifier. Unknown models fall back
// to the most expensive family so costs are never underestimated.
func (t *RateTable) Lookup(model string) Rate {
	m := strings.ToLower(model)
	for _, family := range t.families {
		if strings.Contains(m, family) {
			return t.rates[family]
		}
	}
	return t.fallback
}

// Cost computes the USD cost of a token pair under this rate.
func (r Rate) Cost(inputTokens, outputTokens int64) (input, output float64) {
	return float64(inputTokens) * r.Input / 1e6, float64(outputTokens) * r.Output / 1e6
}
