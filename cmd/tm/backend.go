package main

import (
	"context"
	"strings"

	"github.com/gagliardetto/solana-go"
	"github.com/spf13/viper"

	"taskmarket/internal/app"
	"taskmarket/internal/db"
	"taskmarket/internal/engine"
	"taskmarket/internal/migrate"
	"taskmarket/internal/repo"
	taskmarketsdk "taskmarket/sdk/go"
)

// backend is where instruction commands create cells and submit
// transactions: the local workspace ledger or a remote API (--api).
type backend interface {
	ledger(ctx context.Context) (taskmarketsdk.Ledger, error)
	createCell(ctx context.Context, kind string) (solana.PublicKey, error)
	submit(ctx context.Context, tx engine.Transaction) (engine.Receipt, error)
}

type localBackend struct {
	e     engine.Engine
	actor string
}

func (b localBackend) ledger(context.Context) (taskmarketsdk.Ledger, error) {
	return taskmarketsdk.Ledger{ProgramID: b.e.Config.ProgramID(), Sysvars: b.e.Config.WellKnown()}, nil
}

func (b localBackend) createCell(ctx context.Context, kind string) (solana.PublicKey, error) {
	a, err := b.e.CreateAccount(ctx, engine.AccountOptions{Kind: kind, ActorID: b.actor})
	if err != nil {
		return solana.PublicKey{}, err
	}
	return a.Key, nil
}

func (b localBackend) submit(ctx context.Context, tx engine.Transaction) (engine.Receipt, error) {
	return b.e.Submit(ctx, tx)
}

type remoteBackend struct {
	client *taskmarketsdk.Client
}

func (b remoteBackend) ledger(ctx context.Context) (taskmarketsdk.Ledger, error) {
	return b.client.Ledger(ctx)
}

func (b remoteBackend) createCell(ctx context.Context, kind string) (solana.PublicKey, error) {
	a, err := b.client.CreateAccount(ctx, kind, solana.PublicKey{})
	if err != nil {
		return solana.PublicKey{}, err
	}
	return solana.PublicKeyFromBase58(a.Pubkey)
}

func (b remoteBackend) submit(ctx context.Context, tx engine.Transaction) (engine.Receipt, error) {
	return b.client.Submit(ctx, tx)
}

func withBackend(ctx context.Context, fn func(context.Context, backend) error) error {
	if api := strings.TrimSpace(viper.GetString("api")); api != "" {
		client := taskmarketsdk.New(api)
		client.APIKey = viper.GetString("api-key")
		client.BearerToken = viper.GetString("token")
		return fn(ctx, remoteBackend{client: client})
	}
	return withEngine(ctx, func(ctx context.Context, e engine.Engine) error {
		return fn(ctx, localBackend{e: e, actor: viper.GetString("actor-id")})
	})
}

func withEngine(ctx context.Context, fn func(context.Context, engine.Engine) error) error {
	workspace := viper.GetString("workspace")
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := migrate.Migrate(ctx, conn); err != nil {
		return err
	}
	r := repo.Repo{DB: conn}
	cfg, err := app.ResolveConfig(ctx, workspace, r)
	if err != nil {
		return err
	}
	e := engine.New(conn, cfg)
	return fn(ctx, e)
}

func withRepo(ctx context.Context, fn func(context.Context, repo.Repo) error) error {
	workspace := viper.GetString("workspace")
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := migrate.Migrate(ctx, conn); err != nil {
		return err
	}
	return fn(ctx, repo.Repo{DB: conn})
}
