package taskmarketsdk

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/require"

	"taskmarket/internal/config"
	"taskmarket/internal/db"
	"taskmarket/internal/domain"
	"taskmarket/internal/engine"
	"taskmarket/internal/instruction"
	"taskmarket/internal/migrate"
	"taskmarket/internal/server"
)

func newClient(t *testing.T) *Client {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	require.NoError(t, migrate.Migrate(context.Background(), conn))
	e := engine.New(conn, config.Default(solana.NewWallet().PublicKey().String()))
	handler, err := server.New(server.Config{Engine: e, Auth: server.AuthConfig{JWTSecret: "sdk-secret"}})
	require.NoError(t, err)
	ts := httptest.NewServer(handler)
	t.Cleanup(ts.Close)
	return New(ts.URL)
}

func TestClientRegistersAgent(t *testing.T) {
	ctx := context.Background()
	c := newClient(t)
	owner := solana.NewWallet().PrivateKey
	require.NoError(t, c.DevLogin(ctx, owner.PublicKey()))

	me, err := c.Me(ctx)
	require.NoError(t, err)
	require.Equal(t, owner.PublicKey().String(), me.ActorID)

	ledger, err := c.Ledger(ctx)
	require.NoError(t, err)

	cell, err := c.CreateAccount(ctx, domain.KindAgent, solana.PublicKey{})
	require.NoError(t, err)
	agent := solana.MustPublicKeyFromBase58(cell.Pubkey)

	tx, err := ledger.Build(&instruction.RegisterAgent{Name: "worker", AgentType: domain.AgentWorker, PublicKey: "wpk"},
		1, []solana.PrivateKey{owner}, owner.PublicKey(), agent)
	require.NoError(t, err)
	receipt, err := c.Submit(ctx, tx)
	require.NoError(t, err)
	require.True(t, receipt.Succeeded(), "receipt: %+v", receipt)

	_, err = c.Submit(ctx, tx)
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	require.Equal(t, http.StatusConflict, apiErr.StatusCode)

	fetched, err := c.Account(ctx, agent)
	require.NoError(t, err)
	require.Equal(t, domain.KindAgent, fetched.Kind)
	require.NotNil(t, fetched.Record)
}

func TestClientDepositAndEvents(t *testing.T) {
	ctx := context.Background()
	c := newClient(t)
	owner := solana.NewWallet().PublicKey()
	require.NoError(t, c.DevLogin(ctx, owner))

	_, err := c.Deposit(ctx, owner, "USDC", 250)
	require.NoError(t, err)
	balances, err := c.Balances(ctx, owner)
	require.NoError(t, err)
	require.Len(t, balances, 1)
	require.Equal(t, uint64(250), balances[0].Amount)

	page, err := c.EventsPage(ctx, 10, "")
	require.NoError(t, err)
	require.NotEmpty(t, page.Items)
	require.Equal(t, "balance.deposited", page.Items[0].Type)
}

func TestClientWithoutCredentials(t *testing.T) {
	c := newClient(t)
	_, err := c.Me(context.Background())
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	require.Equal(t, http.StatusUnauthorized, apiErr.StatusCode)
}
