package server

import (
	"encoding/json"
	"fmt"

	"github.com/gagliardetto/solana-go"

	"taskmarket/internal/domain"
	"taskmarket/internal/engine"
	"taskmarket/internal/instruction"
)

// Request payloads

type AccountMetaRequest struct {
	Pubkey   string `json:"pubkey"`
	Signer   bool   `json:"signer,omitempty"`
	Writable bool   `json:"writable,omitempty"`
}

type TransactionRequest struct {
	ProgramID  string               `json:"program_id"`
	Accounts   []AccountMetaRequest `json:"accounts"`
	Data       []byte               `json:"data" doc:"Instruction bytes, base64"`
	Nonce      uint64               `json:"nonce,omitempty"`
	Signatures []string             `json:"signatures" doc:"Base58 signatures in signer order"`
}

type BatchRequest struct {
	Transactions []TransactionRequest `json:"transactions" minItems:"1" maxItems:"256"`
}

type CreateAccountRequest struct {
	Pubkey         string `json:"pubkey,omitempty"`
	Owner          string `json:"owner,omitempty"`
	Kind           string `json:"kind,omitempty" enum:"task,agent,judge,stake,deliverable"`
	Space          int    `json:"space,omitempty"`
	Lamports       uint64 `json:"lamports,omitempty"`
	AllowNonExempt bool   `json:"allow_non_exempt,omitempty"`
}

type DepositRequest struct {
	Owner    string `json:"owner"`
	Currency string `json:"currency"`
	Amount   uint64 `json:"amount" minimum:"1"`
}

type DevLoginRequest struct {
	ActorID string `json:"actor_id" doc:"Wallet public key"`
}

type CreateAPIKeyRequest struct {
	Name string `json:"name,omitempty"`
}

// Response payloads

type AccountResponse struct {
	Pubkey    string `json:"pubkey"`
	Owner     string `json:"owner"`
	Lamports  uint64 `json:"lamports"`
	Space     int    `json:"space"`
	Kind      string `json:"kind,omitempty"`
	Data      []byte `json:"data,omitempty"`
	Record    any    `json:"record,omitempty"`
	CreatedAt string `json:"created_at"`
	UpdatedAt string `json:"updated_at"`
}

type ReceiptResponse = engine.Receipt

type BatchResponse struct {
	Receipts []ReceiptResponse `json:"receipts"`
}

type BalanceResponse struct {
	Owner     string `json:"owner"`
	Currency  string `json:"currency"`
	Amount    uint64 `json:"amount"`
	UpdatedAt string `json:"updated_at,omitempty"`
}

type EventResponse struct {
	ID         int64           `json:"id"`
	TS         string          `json:"ts"`
	Type       string          `json:"type"`
	EntityKind string          `json:"entity_kind"`
	EntityID   string          `json:"entity_id,omitempty"`
	ActorID    string          `json:"actor_id"`
	Payload    json.RawMessage `json:"payload,omitempty"`
}

type paginatedEvents struct {
	Items      []EventResponse `json:"items"`
	NextCursor string          `json:"next_cursor,omitempty"`
}

type WhoAmIResponse struct {
	ActorID string `json:"actor_id"`
	Source  string `json:"source"`
}

type DevLoginResponse struct {
	Token string `json:"token"`
}

type LedgerResponse struct {
	ProgramID           string `json:"program_id"`
	Rent                string `json:"rent_sysvar"`
	TokenProgram        string `json:"token_program"`
	SystemProgram       string `json:"system_program"`
	LamportsPerByteYear uint64 `json:"lamports_per_byte_year"`
	ExemptionThreshold  uint64 `json:"exemption_threshold"`
	AcceptanceThreshold int    `json:"acceptance_threshold"`
	StakeCurrency       string `json:"stake_currency"`
}

// Decode parses the program id and the sysvar ids.
func (r LedgerResponse) Decode() (solana.PublicKey, instruction.WellKnown, error) {
	var (
		programID solana.PublicKey
		w         instruction.WellKnown
	)
	for _, f := range []struct {
		dst *solana.PublicKey
		src string
	}{
		{&programID, r.ProgramID},
		{&w.Rent, r.Rent},
		{&w.Token, r.TokenProgram},
		{&w.System, r.SystemProgram},
	} {
		k, err := solana.PublicKeyFromBase58(f.src)
		if err != nil {
			return solana.PublicKey{}, instruction.WellKnown{}, fmt.Errorf("invalid ledger id %q: %w", f.src, err)
		}
		*f.dst = k
	}
	return programID, w, nil
}

type APIKeyResponse struct {
	ID        string `json:"id"`
	ActorID   string `json:"actor_id"`
	Name      string `json:"name,omitempty"`
	Key       string `json:"key,omitempty" doc:"Plaintext key, returned once on creation"`
	CreatedAt string `json:"created_at"`
}

func (r TransactionRequest) toTransaction() (engine.Transaction, error) {
	programID, err := solana.PublicKeyFromBase58(r.ProgramID)
	if err != nil {
		return engine.Transaction{}, fmt.Errorf("invalid program_id: %w", err)
	}
	t := engine.Transaction{ProgramID: programID, Data: r.Data, Nonce: r.Nonce}
	for i, m := range r.Accounts {
		k, err := solana.PublicKeyFromBase58(m.Pubkey)
		if err != nil {
			return engine.Transaction{}, fmt.Errorf("invalid accounts[%d].pubkey: %w", i, err)
		}
		t.Accounts = append(t.Accounts, solana.NewAccountMeta(k, m.Writable, m.Signer))
	}
	for i, s := range r.Signatures {
		sig, err := solana.SignatureFromBase58(s)
		if err != nil {
			return engine.Transaction{}, fmt.Errorf("invalid signatures[%d]: %w", i, err)
		}
		t.Signatures = append(t.Signatures, sig)
	}
	return t, nil
}

// TransactionRequestFrom encodes a signed transaction for the wire.
func TransactionRequestFrom(t engine.Transaction) TransactionRequest {
	req := TransactionRequest{
		ProgramID:  t.ProgramID.String(),
		Data:       t.Data,
		Nonce:      t.Nonce,
		Accounts:   []AccountMetaRequest{},
		Signatures: []string{},
	}
	for _, m := range t.Accounts {
		req.Accounts = append(req.Accounts, AccountMetaRequest{Pubkey: m.PublicKey.String(), Signer: m.IsSigner, Writable: m.IsWritable})
	}
	for _, s := range t.Signatures {
		req.Signatures = append(req.Signatures, s.String())
	}
	return req
}

func accountResponse(a domain.Account, withData bool) (AccountResponse, error) {
	resp := AccountResponse{
		Pubkey:    a.Key.String(),
		Owner:     a.Owner.String(),
		Lamports:  a.Lamports,
		Space:     len(a.Data),
		Kind:      a.Kind,
		CreatedAt: a.CreatedAt,
		UpdatedAt: a.UpdatedAt,
	}
	if !withData {
		return resp, nil
	}
	resp.Data = a.Data
	record, err := engine.DecodeCell(a.Kind, a.Data)
	if err != nil {
		return resp, err
	}
	resp.Record = record
	return resp, nil
}

func balanceResponse(b domain.Balance) BalanceResponse {
	return BalanceResponse{Owner: b.Owner.String(), Currency: b.Currency, Amount: b.Amount, UpdatedAt: b.UpdatedAt}
}

func eventResponse(evt domain.Event) EventResponse {
	resp := EventResponse{
		ID:         evt.ID,
		TS:         evt.TS,
		Type:       evt.Type,
		EntityKind: evt.EntityKind,
		EntityID:   evt.EntityID,
		ActorID:    evt.ActorID,
	}
	if evt.Payload != "" && json.Valid([]byte(evt.Payload)) {
		resp.Payload = json.RawMessage(evt.Payload)
	}
	return resp
}

func apiKeyResponse(k domain.APIKey, secret string) APIKeyResponse {
	return APIKeyResponse{ID: k.ID, ActorID: k.ActorID, Name: k.Name, Key: secret, CreatedAt: k.CreatedAt}
}
