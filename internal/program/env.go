package program

import (
	"context"
	"io"
	"log/slog"

	"github.com/gagliardetto/solana-go"

	"taskmarket/internal/instruction"
)

// Rent answers whether a cell of the given size holding the given balance is
// exempt from rent.
type Rent interface {
	IsExempt(lamports uint64, space int) bool
}

// Custody moves tokens on behalf of the program. Every call happens after
// the instruction's guards passed; an error aborts the instruction.
type Custody interface {
	MintTaskToken(ctx context.Context, mint, task, owner solana.PublicKey) error
	BurnTaskToken(ctx context.Context, mint, owner solana.PublicKey) error
	LockStake(ctx context.Context, from, stake solana.PublicKey, currency string, amount uint64) error
	ReleaseStake(ctx context.Context, stake, to solana.PublicKey, currency string, amount uint64) error
	TransferReward(ctx context.Context, from, to solana.PublicKey, currency string, amount uint64) error
}

// Policy holds the settlement parameters the program does not hard-code.
type Policy struct {
	// AcceptanceThreshold is the lowest mean score that accepts a deliverable.
	AcceptanceThreshold uint8
	StakeCurrency       string
}

// Env is everything an instruction sees besides its accounts.
type Env struct {
	ProgramID solana.PublicKey
	Sysvars   instruction.WellKnown
	// Now is the clock reading for the whole instruction, in unix seconds.
	Now     int64
	Rent    Rent
	Custody Custody
	Policy  Policy
	Logger  *slog.Logger
}

func (e Env) logger() *slog.Logger {
	if e.Logger != nil {
		return e.Logger
	}
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
