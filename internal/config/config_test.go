package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gagliardetto/solana-go"
)

func TestDefaultValidates(t *testing.T) {
	id := solana.NewWallet().PublicKey().String()
	cfg := Default(id)
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	if cfg.ProgramID().String() != id {
		t.Fatalf("expected program id %s, got %s", id, cfg.ProgramID())
	}
	if cfg.Policy.AcceptanceThreshold != 60 || cfg.Policy.StakeCurrency != "SOL" {
		t.Fatalf("unexpected policy %+v", cfg.Policy)
	}
	if cfg.WellKnown().System != solana.SystemProgramID {
		t.Fatalf("unexpected system program %s", cfg.WellKnown().System)
	}
	if cfg.WellKnown().Rent != solana.SysVarRentPubkey {
		t.Fatalf("unexpected rent sysvar %s", cfg.WellKnown().Rent)
	}
}

func TestRentMinimumBalance(t *testing.T) {
	r := Rent{LamportsPerByteYear: 10, ExemptionThreshold: 2}
	if got := r.MinimumBalance(72); got != 4000 {
		t.Fatalf("expected 4000, got %d", got)
	}
	if r.IsExempt(3999, 72) || !r.IsExempt(4000, 72) {
		t.Fatalf("exemption boundary wrong")
	}
}

func TestValidateRejects(t *testing.T) {
	id := solana.NewWallet().PublicKey().String()
	cases := map[string]func(*Config){
		"program.id":           func(c *Config) { c.Program.ID = "" },
		"sysvars.rent":         func(c *Config) { c.Sysvars.Rent = "not-base58!" },
		"rent":                 func(c *Config) { c.Rent.ExemptionThreshold = 0 },
		"max_string_len":       func(c *Config) { c.Limits.MaxStringLen = 0 },
		"acceptance_threshold": func(c *Config) { c.Policy.AcceptanceThreshold = 101 },
		"stake_currency":       func(c *Config) { c.Policy.StakeCurrency = "" },
		"webhooks":             func(c *Config) { c.Webhooks = []WebhookConfig{{}} },
	}
	for name, mutate := range cases {
		cfg := Default(id)
		mutate(cfg)
		err := cfg.Validate()
		if err == nil {
			t.Fatalf("%s: expected validation error", name)
		}
		if !strings.Contains(err.Error(), strings.Split(name, ".")[0]) {
			t.Fatalf("%s: error %q does not name the field", name, err)
		}
	}
}

func TestFromFileAndLoadOptional(t *testing.T) {
	dir := t.TempDir()
	cfg, err := LoadOptional(dir)
	if err != nil || cfg != nil {
		t.Fatalf("expected nil config for empty workspace, got %v %v", cfg, err)
	}
	id := solana.NewWallet().PublicKey().String()
	doc := GenerateDefault(id) + "  - url: http://localhost:9000/hook\n    events: [tx.succeeded]\n"
	doc = strings.Replace(doc, "webhooks: []\n", "webhooks:\n", 1)
	if err := os.WriteFile(filepath.Join(dir, "taskmarket.yml"), []byte(doc), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	cfg, err = FromFile(Path(dir))
	if err != nil {
		t.Fatalf("from file: %v", err)
	}
	if len(cfg.Webhooks) != 1 || cfg.Webhooks[0].Events[0] != "tx.succeeded" {
		t.Fatalf("unexpected webhooks %+v", cfg.Webhooks)
	}
	if _, err := FromYAML([]byte("program: [")); err == nil {
		t.Fatalf("expected yaml error")
	}
}
