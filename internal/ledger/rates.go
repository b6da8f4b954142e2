// Package ledger prices enrichment work and records what was actually spent
// as append-only cost records.
package ledger

import (
	"os"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"
)

// Rates holds per-service pricing. Unit rates are USD per 1000 items except
// research, which is flat per query.
type Rates struct {
	ListingsPerK      float64 `yaml:"listings_per_k" mapstructure:"listings_per_k"`
	PagesPerK         float64 `yaml:"pages_per_k" mapstructure:"pages_per_k"`
	ProfilesPerK      float64 `yaml:"profiles_per_k" mapstructure:"profiles_per_k"`
	VerificationsPerK float64 `yaml:"verifications_per_k" mapstructure:"verifications_per_k"`
	ResearchPerQuery  float64 `yaml:"research_per_query" mapstructure:"research_per_query"`
}

// DefaultRates returns the default pricing rates.
func DefaultRates() Rates {
	return Rates{
		ListingsPerK:      7.50,
		PagesPerK:         3.00,
		ProfilesPerK:      10.00,
		VerificationsPerK: 2.50,
		ResearchPerQuery:  0.02,
	}
}

// LoadRates reads rates from a YAML file. Zero-valued fields fall back to
// the defaults so a partial file only overrides what it names.
func LoadRates(path string) (Rates, error) {
	rates := DefaultRates()

	data, err := os.ReadFile(path)
	if err != nil {
		return rates, eris.Wrapf(err, "ledger: read rates file %s", path)
	}

	var loaded Rates
	if err := yaml.Unmarshal(data, &loaded); err != nil {
		return rates, eris.Wrapf(err, "ledger: parse rates file %s", path)
	}

	if loaded.ListingsPerK > 0 {
		rates.ListingsPerK = loaded.ListingsPerK
	}
	if loaded.PagesPerK > 0 {
		rates.PagesPerK = loaded.PagesPerK
	}
	if loaded.ProfilesPerK > 0 {
		rates.ProfilesPerK = loaded.ProfilesPerK
	}
	if loaded.VerificationsPerK > 0 {
		rates.VerificationsPerK = loaded.VerificationsPerK
	}
	if loaded.ResearchPerQuery > 0 {
		rates.ResearchPerQuery = loaded.ResearchPerQuery
	}

	return rates, nil
}
