package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/gagliardetto/solana-go"

	"taskmarket/internal/domain"
	"taskmarket/internal/program"
	"taskmarket/internal/repo"
)

// ledgerCustody applies token movements inside the transaction that runs
// the instruction, so they commit or roll back with the cells.
type ledgerCustody struct {
	repo repo.Repo
	tx   *sql.Tx
}

func (c ledgerCustody) MintTaskToken(ctx context.Context, mint, task, owner solana.PublicKey) error {
	err := c.repo.InsertTaskToken(ctx, c.tx, domain.TaskToken{Mint: mint, Task: task, Owner: owner})
	if errors.Is(err, repo.ErrExists) {
		return &program.Error{Code: program.InvalidArgument, Detail: fmt.Sprintf("mint %s already issued", mint)}
	}
	return err
}

func (c ledgerCustody) BurnTaskToken(ctx context.Context, mint, owner solana.PublicKey) error {
	tok, err := c.repo.GetTaskToken(ctx, c.tx, mint)
	if errors.Is(err, repo.ErrNotFound) {
		return &program.Error{Code: program.Unauthorized, Detail: fmt.Sprintf("no task token %s", mint)}
	}
	if err != nil {
		return err
	}
	if tok.BurnedAt != nil {
		return &program.Error{Code: program.Unauthorized, Detail: fmt.Sprintf("task token %s already burned", mint)}
	}
	if tok.Owner != owner {
		return &program.Error{Code: program.Unauthorized, Detail: fmt.Sprintf("task token %s is held by %s", mint, tok.Owner)}
	}
	return c.repo.BurnTaskToken(ctx, c.tx, mint)
}

func (c ledgerCustody) LockStake(ctx context.Context, from, stake solana.PublicKey, currency string, amount uint64) error {
	return c.transfer(ctx, from, stake, currency, amount)
}

func (c ledgerCustody) ReleaseStake(ctx context.Context, stake, to solana.PublicKey, currency string, amount uint64) error {
	return c.transfer(ctx, stake, to, currency, amount)
}

func (c ledgerCustody) TransferReward(ctx context.Context, from, to solana.PublicKey, currency string, amount uint64) error {
	return c.transfer(ctx, from, to, currency, amount)
}

func (c ledgerCustody) transfer(ctx context.Context, from, to solana.PublicKey, currency string, amount uint64) error {
	err := c.repo.Transfer(ctx, c.tx, from, to, currency, amount)
	if errors.Is(err, repo.ErrInsufficientFunds) {
		return &program.Error{Code: program.InsufficientFunds, Detail: err.Error()}
	}
	return err
}
