package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/gagliardetto/solana-go"
	"gopkg.in/yaml.v3"

	"taskmarket/internal/codec"
	"taskmarket/internal/instruction"
	"taskmarket/internal/program"
)

// Config models taskmarket.yml.
type Config struct {
	Program struct {
		ID string `yaml:"id" json:"id"`
	} `yaml:"program" json:"program"`
	Sysvars struct {
		Rent          string `yaml:"rent" json:"rent"`
		TokenProgram  string `yaml:"token_program" json:"token_program"`
		SystemProgram string `yaml:"system_program" json:"system_program"`
	} `yaml:"sysvars" json:"sysvars"`
	Rent   Rent `yaml:"rent" json:"rent"`
	Limits struct {
		MaxStringLen int `yaml:"max_string_len" json:"max_string_len"`
	} `yaml:"limits" json:"limits"`
	Policy struct {
		AcceptanceThreshold int    `yaml:"acceptance_threshold" json:"acceptance_threshold"`
		StakeCurrency       string `yaml:"stake_currency" json:"stake_currency"`
	} `yaml:"policy" json:"policy"`
	Webhooks []WebhookConfig `yaml:"webhooks" json:"webhooks,omitempty"`
}

// Rent prices cell storage per byte-year.
type Rent struct {
	LamportsPerByteYear uint64 `yaml:"lamports_per_byte_year" json:"lamports_per_byte_year"`
	ExemptionThreshold  uint64 `yaml:"exemption_threshold" json:"exemption_threshold"`
}

// accountOverhead is the per-cell metadata size charged on top of its data.
const accountOverhead = 128

// MinimumBalance returns the lamports a cell of space bytes needs to be exempt.
func (r Rent) MinimumBalance(space int) uint64 {
	return (accountOverhead + uint64(space)) * r.LamportsPerByteYear * r.ExemptionThreshold
}

func (r Rent) IsExempt(lamports uint64, space int) bool {
	return lamports >= r.MinimumBalance(space)
}

type WebhookConfig struct {
	URL            string   `yaml:"url" json:"url"`
	Events         []string `yaml:"events" json:"events,omitempty"`
	Secret         string   `yaml:"secret" json:"secret,omitempty"`
	Enabled        *bool    `yaml:"enabled" json:"enabled,omitempty"`
	TimeoutSeconds int      `yaml:"timeout_seconds" json:"timeout_seconds,omitempty"`
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if c.Program.ID == "" {
		return fmt.Errorf("config.program.id is required")
	}
	keys := map[string]string{
		"program.id":             c.Program.ID,
		"sysvars.rent":           c.Sysvars.Rent,
		"sysvars.token_program":  c.Sysvars.TokenProgram,
		"sysvars.system_program": c.Sysvars.SystemProgram,
	}
	for field, v := range keys {
		if _, err := solana.PublicKeyFromBase58(v); err != nil {
			return fmt.Errorf("config.%s: %w", field, err)
		}
	}
	if c.Rent.LamportsPerByteYear == 0 || c.Rent.ExemptionThreshold == 0 {
		return fmt.Errorf("config.rent values must be positive")
	}
	if c.Limits.MaxStringLen <= 0 {
		return fmt.Errorf("config.limits.max_string_len must be positive")
	}
	if c.Policy.AcceptanceThreshold < 0 || c.Policy.AcceptanceThreshold > 100 {
		return fmt.Errorf("config.policy.acceptance_threshold must be within 0..100")
	}
	if c.Policy.StakeCurrency == "" {
		return fmt.Errorf("config.policy.stake_currency is required")
	}
	for i, hook := range c.Webhooks {
		if hook.URL == "" {
			return fmt.Errorf("config.webhooks[%d].url is required", i)
		}
		if hook.TimeoutSeconds < 0 {
			return fmt.Errorf("config.webhooks[%d].timeout_seconds must not be negative", i)
		}
	}
	return nil
}

// ProgramID returns the parsed program id. Call after Validate.
func (c *Config) ProgramID() solana.PublicKey {
	return solana.MustPublicKeyFromBase58(c.Program.ID)
}

// WellKnown returns the injected sysvar ids. Call after Validate.
func (c *Config) WellKnown() instruction.WellKnown {
	return instruction.WellKnown{
		Rent:   solana.MustPublicKeyFromBase58(c.Sysvars.Rent),
		Token:  solana.MustPublicKeyFromBase58(c.Sysvars.TokenProgram),
		System: solana.MustPublicKeyFromBase58(c.Sysvars.SystemProgram),
	}
}

func (c *Config) CodecLimits() codec.Limits {
	return codec.Limits{MaxStringLen: c.Limits.MaxStringLen}
}

func (c *Config) ProgramPolicy() program.Policy {
	return program.Policy{
		AcceptanceThreshold: uint8(c.Policy.AcceptanceThreshold),
		StakeCurrency:       c.Policy.StakeCurrency,
	}
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "taskmarket.yml")
}

// GenerateDefault returns default config YAML for a program id.
func GenerateDefault(programID string) string {
	return fmt.Sprintf(defaultTemplate, programID)
}

// Default returns the default Config for a program id.
func Default(programID string) *Config {
	var cfg Config
	_ = yaml.Unmarshal([]byte(GenerateDefault(programID)), &cfg)
	return &cfg
}

// LoadOptional returns nil,nil if the config file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	data, err := os.ReadFile(Path(workspace))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	return FromYAML(data)
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

const defaultTemplate = `program:
  id: %s

sysvars:
  rent: SysvarRent111111111111111111111111111111111
  token_program: TokenkegQfeZyiNwAJbNbGKPFXCWuBvf9Ss623VQ5DA
  system_program: "11111111111111111111111111111111"

rent:
  lamports_per_byte_year: 3480
  exemption_threshold: 2

limits:
  max_string_len: 256

policy:
  acceptance_threshold: 60
  stake_currency: SOL

webhooks: []
`
