package domain

import (
	"github.com/gagliardetto/solana-go"
)

// Account kinds, recorded when a cell is created so readers know how to
// decode it.
const (
	KindTask        = "task"
	KindAgent       = "agent"
	KindJudge       = "judge"
	KindStake       = "stake"
	KindDeliverable = "deliverable"
)

// Account is a stored cell as the host ledger keeps it.
type Account struct {
	Key       solana.PublicKey `json:"pubkey"`
	Owner     solana.PublicKey `json:"owner"`
	Lamports  uint64           `json:"lamports"`
	Data      []byte           `json:"data"`
	Kind      string           `json:"kind,omitempty"`
	CreatedAt string           `json:"created_at"`
	UpdatedAt string           `json:"updated_at"`
}

const (
	TxSucceeded = "succeeded"
	TxFailed    = "failed"
)

// TxRecord is the outcome of one submitted transaction.
type TxRecord struct {
	ID          string  `json:"id"`
	Instruction string  `json:"instruction"`
	FeePayer    string  `json:"fee_payer"`
	Status      string  `json:"status"`
	Code        *uint32 `json:"code,omitempty"`
	Message     string  `json:"message,omitempty"`
	CreatedAt   string  `json:"created_at"`
}

type Balance struct {
	Owner     solana.PublicKey `json:"owner"`
	Currency  string           `json:"currency"`
	Amount    uint64           `json:"amount"`
	UpdatedAt string           `json:"updated_at"`
}

// TaskToken is the token standing in for a task while it is live.
type TaskToken struct {
	Mint      solana.PublicKey `json:"mint"`
	Task      solana.PublicKey `json:"task"`
	Owner     solana.PublicKey `json:"owner"`
	CreatedAt string           `json:"created_at"`
	BurnedAt  *string          `json:"burned_at,omitempty"`
}

type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts"`
	Type       string `json:"type"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload"`
}

type APIKey struct {
	ID        string `json:"id"`
	ActorID   string `json:"actor_id"`
	Name      string `json:"name,omitempty"`
	KeyHash   string `json:"-"`
	CreatedAt string `json:"created_at"`
}
