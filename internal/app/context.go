package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/gagliardetto/solana-go"

	"taskmarket/internal/config"
	"taskmarket/internal/repo"
)

// ResolveConfig returns the ledger's active config, seeding it on first use.
// A taskmarket.yml in the workspace wins over the stored copy and replaces it;
// without either, a default config with a fresh program id is stored.
func ResolveConfig(ctx context.Context, workspace string, r repo.Repo) (*config.Config, error) {
	fileCfg, err := config.LoadOptional(workspace)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", config.Path(workspace), err)
	}
	if fileCfg != nil {
		if err := r.UpsertLedgerConfig(ctx, nil, fileCfg); err != nil {
			return nil, fmt.Errorf("store ledger config: %w", err)
		}
		return fileCfg, nil
	}
	cfg, err := r.GetLedgerConfig(ctx)
	if err == nil {
		return cfg, nil
	}
	if !errors.Is(err, repo.ErrNotFound) {
		return nil, err
	}
	seed := config.Default(solana.NewWallet().PublicKey().String())
	if err := r.UpsertLedgerConfig(ctx, nil, seed); err != nil {
		return nil, fmt.Errorf("seed ledger config: %w", err)
	}
	return seed, nil
}
