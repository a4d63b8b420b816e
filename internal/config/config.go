package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"gopkg.in/yaml.v3"
)

// Config models intentpay.yml: every policy constant the engine applies.
// Rates and deltas live here so product can tune them without a rebuild.
type Config struct {
	Wallet struct {
		Currency string `yaml:"currency"`
	} `yaml:"wallet"`
	Rules struct {
		HighValueThreshold    int64   `yaml:"high_value_threshold"`
		MerchantRiskThreshold float64 `yaml:"merchant_risk_threshold"`
		TierAmountThreshold   int64   `yaml:"tier_amount_threshold"`
	} `yaml:"rules"`
	Escrow struct {
		MisusePenaltyRate     float64 `yaml:"misuse_penalty_rate"`
		SavingsAllocationRate float64 `yaml:"savings_allocation_rate"`
		DefaultDurationDays   int     `yaml:"default_duration_days"`
	} `yaml:"escrow"`
	Reputation struct {
		Deltas map[string]int `yaml:"deltas"`
		Tiers  []TierBand     `yaml:"tiers"`
	} `yaml:"reputation"`
	Catalog struct {
		Categories    map[string]CategoryEntry `yaml:"categories"`
		MCCCategories map[string][]string      `yaml:"mcc_categories"`
		CityBounds    map[string]GeoBounds     `yaml:"city_bounds"`
	} `yaml:"catalog"`
	Logging LoggingConfig `yaml:"logging"`
}

// LoggingConfig selects the handler level and output format.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// TierBand maps a minimum score to a credit tier.
type TierBand struct {
	MinScore     int     `yaml:"min_score"`
	Name         string  `yaml:"name"`
	MaxCredit    int64   `yaml:"max_credit"`
	InterestRate float64 `yaml:"interest_rate"`
}

// CategoryEntry binds a category key to its keywords and MCC codes.
type CategoryEntry struct {
	Keywords []string `yaml:"keywords"`
	MCCs     []string `yaml:"mccs"`
}

// GeoBounds is a city bounding box for geo-fencing.
type GeoBounds struct {
	MinLat float64 `yaml:"min_lat"`
	MaxLat float64 `yaml:"max_lat"`
	MinLng float64 `yaml:"min_lng"`
	MaxLng float64 `yaml:"max_lng"`
}

// Contains reports whether the point falls inside the box.
func (b GeoBounds) Contains(lat, lng float64) bool {
	return lat >= b.MinLat && lat <= b.MaxLat && lng >= b.MinLng && lng <= b.MaxLng
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if c.Wallet.Currency == "" {
		return fmt.Errorf("config.wallet.currency is required")
	}
	if c.Escrow.MisusePenaltyRate < 0 || c.Escrow.MisusePenaltyRate >= 1 {
		return fmt.Errorf("config.escrow.misuse_penalty_rate must be in [0,1)")
	}
	if c.Escrow.SavingsAllocationRate < 0 || c.Escrow.SavingsAllocationRate >= 1 {
		return fmt.Errorf("config.escrow.savings_allocation_rate must be in [0,1)")
	}
	if len(c.Reputation.Deltas) == 0 {
		return fmt.Errorf("config.reputation.deltas is required")
	}
	if len(c.Reputation.Tiers) == 0 {
		return fmt.Errorf("config.reputation.tiers is required")
	}
	for i, t := range c.Reputation.Tiers {
		if t.Name == "" {
			return fmt.Errorf("config.reputation.tiers[%d] has empty name", i)
		}
	}
	byScore := sort.SliceIsSorted(c.Reputation.Tiers, func(i, j int) bool {
		return c.Reputation.Tiers[i].MinScore > c.Reputation.Tiers[j].MinScore
	})
	if !byScore {
		return fmt.Errorf("config.reputation.tiers must be ordered by descending min_score")
	}
	if c.Reputation.Tiers[len(c.Reputation.Tiers)-1].MinScore != 0 {
		return fmt.Errorf("config.reputation.tiers must end with a min_score 0 band")
	}
	for key, entry := range c.Catalog.Categories {
		if key == "" {
			return fmt.Errorf("config.catalog.categories contains empty key")
		}
		if len(entry.Keywords) == 0 {
			return fmt.Errorf("category %s has no keywords", key)
		}
	}
	return nil
}

// Delta returns the score delta for a reputation event kind.
func (c *Config) Delta(kind string) (int, bool) {
	d, ok := c.Reputation.Deltas[kind]
	return d, ok
}

// TierFor derives the credit tier for a score. Pure function of the
// score; tiers are never stored.
func (c *Config) TierFor(score int) TierBand {
	for _, t := range c.Reputation.Tiers {
		if score >= t.MinScore {
			return t
		}
	}
	return c.Reputation.Tiers[len(c.Reputation.Tiers)-1]
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "intentpay.yml")
}

// Load reads config from the workspace, falling back to defaults when
// no file exists.
func Load(workspace string) (*Config, error) {
	data, err := os.ReadFile(Path(workspace))
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// Default returns the built-in policy configuration.
func Default() *Config {
	var cfg Config
	_ = yaml.NewDecoder(bytes.NewBufferString(defaultTemplate)).Decode(&cfg)
	return &cfg
}

// FromYAML parses and validates config from raw YAML bytes.
func FromYAML(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

// GenerateDefault returns the default config YAML for export.
func GenerateDefault() string {
	return defaultTemplate
}

const defaultTemplate = `wallet:
  currency: INR

rules:
  # Amounts are paise.
  high_value_threshold: 1000000
  merchant_risk_threshold: 0.3
  tier_amount_threshold: 500000

escrow:
  misuse_penalty_rate: 0.02
  savings_allocation_rate: 0.30
  default_duration_days: 30

reputation:
  deltas:
    intent_compliance: 10
    intent_violation_attempt: -15
    escrow_released: 20
    escrow_clawback_misuse: -30
    proof_submitted: 5
    emergency_override: -5
    intent_created: 2
    savings_milestone: 15
  tiers:
    - min_score: 800
      name: PREMIUM
      max_credit: 10000000
      interest_rate: 8.5
    - min_score: 600
      name: STANDARD
      max_credit: 2500000
      interest_rate: 12.0
    - min_score: 400
      name: BASIC
      max_credit: 500000
      interest_rate: 18.0
    - min_score: 0
      name: RESTRICTED
      max_credit: 0
      interest_rate: 0

catalog:
  categories:
    books:
      keywords: [books, education, stationery]
      mccs: ["5942", "8299"]
    food:
      keywords: [food, restaurant, dining, beverages, meals]
      mccs: ["5812", "5411"]
    grocery:
      keywords: [grocery, groceries, daily-essentials, vegetables]
      mccs: ["5411"]
    medical:
      keywords: [medical, healthcare, pharmacy, hospital, medicines]
      mccs: ["5912", "8099"]
    electronics:
      keywords: [electronics, technology, gadgets, laptop, phone]
      mccs: ["5732"]
    education:
      keywords: [education, school, tuition, course, training]
      mccs: ["8299"]
    travel:
      keywords: [travel, transport, flight, hotel, cab]
      mccs: ["4111", "7011", "4511"]
    entertainment:
      keywords: [entertainment, movies, games, sports]
      mccs: ["7832", "7993"]

  mcc_categories:
    "5942": [books, education, stationery]
    "5812": [food, restaurant, beverages]
    "5411": [grocery, food, daily-essentials]
    "5732": [electronics, technology]
    "5912": [medical, healthcare, pharmacy]
    "5999": [mixed, general]
    "8099": [medical, healthcare, hospital]
    "8299": [education, school, training]

  city_bounds:
    chennai: { min_lat: 12.9, max_lat: 13.3, min_lng: 80.1, max_lng: 80.4 }
    mumbai: { min_lat: 18.9, max_lat: 19.3, min_lng: 72.7, max_lng: 73.1 }
    delhi: { min_lat: 28.4, max_lat: 28.9, min_lng: 76.8, max_lng: 77.5 }
    bengaluru: { min_lat: 12.8, max_lat: 13.2, min_lng: 77.4, max_lng: 77.8 }
    hyderabad: { min_lat: 17.2, max_lat: 17.6, min_lng: 78.3, max_lng: 78.7 }
    pune: { min_lat: 18.4, max_lat: 18.7, min_lng: 73.7, max_lng: 74.0 }

logging:
  level: info
  format: text
`
