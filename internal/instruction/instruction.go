// Package instruction defines the request payloads accepted by the program
// and the positional account list each one expects.
package instruction

import (
	"errors"
	"fmt"

	"github.com/gagliardetto/solana-go"

	"taskmarket/internal/codec"
	"taskmarket/internal/domain"
)

// Discriminant is the leading byte of every instruction payload.
type Discriminant uint8

const (
	DInitializeTask Discriminant = iota
	DRegisterAgent
	DRegisterJudge
	DStakeOnTask
	DSubmitDeliverable
	DJudgeDeliverable
	DCompleteTask
	DReturnStake
	DBurnTaskNFT
)

var discriminantNames = [...]string{
	"initialize_task",
	"register_agent",
	"register_judge",
	"stake_on_task",
	"submit_deliverable",
	"judge_deliverable",
	"complete_task",
	"return_stake",
	"burn_task_nft",
}

func (d Discriminant) Valid() bool { return int(d) < len(discriminantNames) }

func (d Discriminant) String() string {
	if !d.Valid() {
		return fmt.Sprintf("instruction(%d)", uint8(d))
	}
	return discriminantNames[d]
}

// All lists every discriminant in order.
func All() []Discriminant {
	out := make([]Discriminant, len(discriminantNames))
	for i := range out {
		out[i] = Discriminant(i)
	}
	return out
}

// ErrUnknown is returned for a payload whose leading byte names no instruction.
var ErrUnknown = errors.New("instruction: unknown discriminant")

// Instruction is one of the nine payload variants below.
type Instruction interface {
	Discriminant() Discriminant
	encode(e *codec.Encoder)
	decode(d *codec.Decoder)
}

type InitializeTask struct {
	Title               string             `json:"title"`
	Summary             string             `json:"summary"`
	EncryptedPayloadURL string             `json:"encrypted_payload_url"`
	Deadline            int64              `json:"deadline"`
	RewardAmount        uint64             `json:"reward_amount"`
	RewardCurrency      string             `json:"reward_currency"`
	Judges              []solana.PublicKey `json:"judges"`
}

type RegisterAgent struct {
	Name        string           `json:"name"`
	Description string           `json:"description"`
	AgentType   domain.AgentType `json:"agent_type"`
	PublicKey   string           `json:"public_key"`
}

type RegisterJudge struct {
	Name           string `json:"name"`
	Description    string `json:"description"`
	PublicKey      string `json:"public_key"`
	Specialization string `json:"specialization"`
}

type StakeOnTask struct {
	Amount uint64 `json:"amount"`
}

type SubmitDeliverable struct {
	EncryptedContentURL string                 `json:"encrypted_content_url"`
	EncryptionKeys      []domain.EncryptionKey `json:"encryption_keys"`
}

type JudgeDeliverable struct {
	Score    uint8  `json:"score"`
	Feedback string `json:"feedback"`
}

type CompleteTask struct{}

type ReturnStake struct{}

type BurnTaskNFT struct{}

func (*InitializeTask) Discriminant() Discriminant    { return DInitializeTask }
func (*RegisterAgent) Discriminant() Discriminant     { return DRegisterAgent }
func (*RegisterJudge) Discriminant() Discriminant     { return DRegisterJudge }
func (*StakeOnTask) Discriminant() Discriminant       { return DStakeOnTask }
func (*SubmitDeliverable) Discriminant() Discriminant { return DSubmitDeliverable }
func (*JudgeDeliverable) Discriminant() Discriminant  { return DJudgeDeliverable }
func (*CompleteTask) Discriminant() Discriminant      { return DCompleteTask }
func (*ReturnStake) Discriminant() Discriminant       { return DReturnStake }
func (*BurnTaskNFT) Discriminant() Discriminant       { return DBurnTaskNFT }

func (ix *InitializeTask) encode(e *codec.Encoder) {
	e.Str(ix.Title)
	e.Str(ix.Summary)
	e.Str(ix.EncryptedPayloadURL)
	e.I64(ix.Deadline)
	e.U64(ix.RewardAmount)
	e.Str(ix.RewardCurrency)
	e.Len(len(ix.Judges))
	for _, j := range ix.Judges {
		e.Key(j)
	}
}

func (ix *InitializeTask) decode(d *codec.Decoder) {
	ix.Title = d.Str()
	ix.Summary = d.Str()
	ix.EncryptedPayloadURL = d.Str()
	ix.Deadline = d.I64()
	ix.RewardAmount = d.U64()
	ix.RewardCurrency = d.Str()
	n := d.Len(32)
	if n > 0 {
		ix.Judges = make([]solana.PublicKey, n)
		for i := range ix.Judges {
			ix.Judges[i] = d.Key()
		}
	}
}

func (ix *RegisterAgent) encode(e *codec.Encoder) {
	e.Str(ix.Name)
	e.Str(ix.Description)
	e.U8(uint8(ix.AgentType))
	e.Str(ix.PublicKey)
}

func (ix *RegisterAgent) decode(d *codec.Decoder) {
	ix.Name = d.Str()
	ix.Description = d.Str()
	ix.AgentType = domain.AgentType(d.U8())
	ix.PublicKey = d.Str()
}

func (ix *RegisterJudge) encode(e *codec.Encoder) {
	e.Str(ix.Name)
	e.Str(ix.Description)
	e.Str(ix.PublicKey)
	e.Str(ix.Specialization)
}

func (ix *RegisterJudge) decode(d *codec.Decoder) {
	ix.Name = d.Str()
	ix.Description = d.Str()
	ix.PublicKey = d.Str()
	ix.Specialization = d.Str()
}

func (ix *StakeOnTask) encode(e *codec.Encoder) { e.U64(ix.Amount) }
func (ix *StakeOnTask) decode(d *codec.Decoder) { ix.Amount = d.U64() }

func (ix *SubmitDeliverable) encode(e *codec.Encoder) {
	e.Str(ix.EncryptedContentURL)
	codec.EncodeEncryptionKeys(e, ix.EncryptionKeys)
}

func (ix *SubmitDeliverable) decode(d *codec.Decoder) {
	ix.EncryptedContentURL = d.Str()
	ix.EncryptionKeys = codec.DecodeEncryptionKeys(d)
}

func (ix *JudgeDeliverable) encode(e *codec.Encoder) {
	e.U8(ix.Score)
	e.Str(ix.Feedback)
}

func (ix *JudgeDeliverable) decode(d *codec.Decoder) {
	ix.Score = d.U8()
	ix.Feedback = d.Str()
}

func (*CompleteTask) encode(*codec.Encoder) {}
func (*CompleteTask) decode(*codec.Decoder) {}
func (*ReturnStake) encode(*codec.Encoder)  {}
func (*ReturnStake) decode(*codec.Decoder)  {}
func (*BurnTaskNFT) encode(*codec.Encoder)  {}
func (*BurnTaskNFT) decode(*codec.Decoder)  {}

// Encode returns the discriminant byte followed by the payload.
func Encode(ix Instruction) ([]byte, error) {
	e := codec.NewEncoder()
	e.U8(uint8(ix.Discriminant()))
	ix.encode(e)
	return e.Bytes()
}

func empty(d Discriminant) Instruction {
	switch d {
	case DInitializeTask:
		return &InitializeTask{}
	case DRegisterAgent:
		return &RegisterAgent{}
	case DRegisterJudge:
		return &RegisterJudge{}
	case DStakeOnTask:
		return &StakeOnTask{}
	case DSubmitDeliverable:
		return &SubmitDeliverable{}
	case DJudgeDeliverable:
		return &JudgeDeliverable{}
	case DCompleteTask:
		return &CompleteTask{}
	case DReturnStake:
		return &ReturnStake{}
	case DBurnTaskNFT:
		return &BurnTaskNFT{}
	}
	return nil
}

// Decode parses a full payload. Every byte must be consumed.
func Decode(data []byte) (Instruction, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty payload", codec.ErrTruncated)
	}
	ix := empty(Discriminant(data[0]))
	if ix == nil {
		return nil, fmt.Errorf("%w: %d", ErrUnknown, data[0])
	}
	d := codec.NewDecoder(data[1:])
	ix.decode(d)
	if err := d.Finish(); err != nil {
		return nil, err
	}
	if ra, ok := ix.(*RegisterAgent); ok && !ra.AgentType.Valid() {
		return nil, fmt.Errorf("%w: agent type %d", codec.ErrMalformed, ra.AgentType)
	}
	return ix, nil
}
