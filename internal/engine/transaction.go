package engine

import (
	"bytes"
	"encoding/binary"
	"fmt"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
	"github.com/google/uuid"

	"taskmarket/internal/engine/auth"
	"taskmarket/internal/instruction"
)

// txNamespace seeds deterministic transaction ids.
var txNamespace = uuid.NewSHA1(uuid.NameSpaceOID, []byte("taskmarket.transaction"))

// Transaction is one signed instruction invocation.
type Transaction struct {
	ProgramID solana.PublicKey
	Accounts  solana.AccountMetaSlice
	Data      []byte
	// Nonce distinguishes otherwise identical invocations.
	Nonce      uint64
	Signatures []solana.Signature
}

// NewTransaction wraps a built instruction.
func NewTransaction(ix *solana.GenericInstruction, nonce uint64) Transaction {
	return Transaction{
		ProgramID: ix.ProgramID(),
		Accounts:  ix.AccountValues,
		Data:      ix.DataBytes,
		Nonce:     nonce,
	}
}

// Signers lists the distinct signer keys in account order.
func (t Transaction) Signers() []solana.PublicKey {
	var out []solana.PublicKey
	seen := map[solana.PublicKey]bool{}
	for _, m := range t.Accounts {
		if m == nil || !m.IsSigner || seen[m.PublicKey] {
			continue
		}
		seen[m.PublicKey] = true
		out = append(out, m.PublicKey)
	}
	return out
}

// Message is the byte string every signer signs.
func (t Transaction) Message() []byte {
	var buf bytes.Buffer
	enc := bin.NewBorshEncoder(&buf)
	_ = enc.WriteBytes(t.ProgramID[:], false)
	_ = enc.WriteUint32(uint32(len(t.Accounts)), binary.LittleEndian)
	for _, m := range t.Accounts {
		var key solana.PublicKey
		var flags uint8
		if m != nil {
			key = m.PublicKey
			if m.IsSigner {
				flags |= 1
			}
			if m.IsWritable {
				flags |= 2
			}
		}
		_ = enc.WriteBytes(key[:], false)
		_ = enc.WriteUint8(flags)
	}
	_ = enc.WriteBytes(t.Data, true)
	_ = enc.WriteUint64(t.Nonce, binary.LittleEndian)
	return buf.Bytes()
}

// ID is derived from the message, so a replayed transaction keeps its id.
func (t Transaction) ID() string {
	return uuid.NewSHA1(txNamespace, t.Message()).String()
}

// Sign replaces the signatures using keys, which must cover every signer.
func (t *Transaction) Sign(keys ...solana.PrivateKey) error {
	sigs, err := auth.Sign(t.Message(), t.Signers(), keys...)
	if err != nil {
		return err
	}
	t.Signatures = sigs
	return nil
}

// Verify checks every signer's signature.
func (t Transaction) Verify() error {
	return auth.VerifyAll(t.Message(), t.Signers(), t.Signatures)
}

// InstructionName names the instruction in Data, or "unknown".
func (t Transaction) InstructionName() string {
	if len(t.Data) == 0 {
		return "unknown"
	}
	d := instruction.Discriminant(t.Data[0])
	if !d.Valid() {
		return "unknown"
	}
	return d.String()
}

// FeePayer is the first signer.
func (t Transaction) FeePayer() solana.PublicKey {
	if s := t.Signers(); len(s) > 0 {
		return s[0]
	}
	return solana.PublicKey{}
}

func (t Transaction) validate() error {
	for i, m := range t.Accounts {
		if m == nil {
			return fmt.Errorf("account %d missing", i)
		}
	}
	return nil
}

// keys lists the distinct account keys.
func (t Transaction) keys() []solana.PublicKey {
	var out []solana.PublicKey
	seen := map[solana.PublicKey]bool{}
	for _, m := range t.Accounts {
		if m == nil || seen[m.PublicKey] {
			continue
		}
		seen[m.PublicKey] = true
		out = append(out, m.PublicKey)
	}
	return out
}
