package engine

import (
	"context"

	"github.com/gagliardetto/solana-go"

	"taskmarket/internal/domain"
	"taskmarket/internal/events"
)

// IssueAPIKey creates an API key bound to wallet and records who issued it.
// The plaintext key is only returned here.
func (e Engine) IssueAPIKey(ctx context.Context, wallet solana.PublicKey, name, actorID string) (domain.APIKey, string, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.APIKey{}, "", err
	}
	defer tx.Rollback()
	key, secret, err := e.Repo.CreateAPIKey(ctx, tx, wallet, name)
	if err != nil {
		return domain.APIKey{}, "", err
	}
	payload := events.EventPayload{"wallet": key.ActorID, "name": key.Name}
	if err := e.events().Append(ctx, tx, events.APIKeyCreated, "api_key", key.ID, actorID, payload); err != nil {
		return domain.APIKey{}, "", err
	}
	if err := tx.Commit(); err != nil {
		return domain.APIKey{}, "", err
	}
	return key, secret, nil
}
