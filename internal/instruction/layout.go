package instruction

import (
	"fmt"

	"github.com/gagliardetto/solana-go"
)

// Sysvar marks a slot that must hold one of the injected well-known ids.
type Sysvar uint8

const (
	NotSysvar Sysvar = iota
	RentSysvar
	TokenProgram
	SystemProgram
)

// AccountSpec describes one positional account slot.
type AccountSpec struct {
	Name     string
	Writable bool
	Signer   bool
	Sysvar   Sysvar
}

// WellKnown holds the ids the host injects for the Sysvar slots.
type WellKnown struct {
	Rent   solana.PublicKey
	Token  solana.PublicKey
	System solana.PublicKey
}

func (w WellKnown) key(s Sysvar) solana.PublicKey {
	switch s {
	case RentSysvar:
		return w.Rent
	case TokenProgram:
		return w.Token
	case SystemProgram:
		return w.System
	}
	return solana.PublicKey{}
}

func signer(name string) AccountSpec   { return AccountSpec{Name: name, Writable: true, Signer: true} }
func writable(name string) AccountSpec { return AccountSpec{Name: name, Writable: true} }
func readonly(name string) AccountSpec { return AccountSpec{Name: name} }
func sysvar(s Sysvar) AccountSpec {
	names := map[Sysvar]string{RentSysvar: "rent", TokenProgram: "token_program", SystemProgram: "system_program"}
	return AccountSpec{Name: names[s], Sysvar: s}
}

var layouts = map[Discriminant][]AccountSpec{
	DInitializeTask: {
		signer("creator"), writable("task"), writable("task_token"),
		sysvar(RentSysvar), sysvar(TokenProgram), sysvar(SystemProgram),
	},
	DRegisterAgent: {
		signer("owner"), writable("agent"), sysvar(RentSysvar), sysvar(SystemProgram),
	},
	DRegisterJudge: {
		signer("owner"), writable("judge"), writable("agent"), sysvar(RentSysvar), sysvar(SystemProgram),
	},
	DStakeOnTask: {
		signer("owner"), writable("stake"), writable("task"), writable("agent"),
		sysvar(RentSysvar), sysvar(SystemProgram),
	},
	DSubmitDeliverable: {
		signer("owner"), writable("deliverable"), writable("task"), writable("agent"),
		sysvar(RentSysvar), sysvar(SystemProgram),
	},
	DJudgeDeliverable: {
		signer("owner"), writable("deliverable"), writable("task"), writable("judge"), sysvar(SystemProgram),
	},
	DCompleteTask: {
		signer("creator"), writable("task"), writable("agent"), writable("task_wallet"), writable("agent_wallet"),
		sysvar(TokenProgram), sysvar(SystemProgram),
	},
	DReturnStake: {
		signer("judge"), writable("stake"), writable("agent"), sysvar(SystemProgram), readonly("task"),
	},
	DBurnTaskNFT: {
		signer("creator"), writable("task"), writable("task_token"), sysvar(TokenProgram), sysvar(SystemProgram),
	},
}

// Layout returns the account slots of d, or nil for an unknown discriminant.
func Layout(d Discriminant) []AccountSpec {
	return layouts[d]
}

// Metas builds the account list for d. keys fills the non-sysvar slots in
// order and w fills the rest.
func Metas(d Discriminant, w WellKnown, keys ...solana.PublicKey) (solana.AccountMetaSlice, error) {
	layout := Layout(d)
	if layout == nil {
		return nil, fmt.Errorf("%w: %d", ErrUnknown, d)
	}
	var out solana.AccountMetaSlice
	next := 0
	for _, spec := range layout {
		k := w.key(spec.Sysvar)
		if spec.Sysvar == NotSysvar {
			if next >= len(keys) {
				return nil, fmt.Errorf("%s: missing %s account", d, spec.Name)
			}
			k = keys[next]
			next++
		}
		out = append(out, solana.NewAccountMeta(k, spec.Writable, spec.Signer))
	}
	if next != len(keys) {
		return nil, fmt.Errorf("%s: %d accounts given, %d expected", d, len(keys), next)
	}
	return out, nil
}

// New encodes ix and pairs it with its account list.
func New(programID solana.PublicKey, w WellKnown, ix Instruction, keys ...solana.PublicKey) (*solana.GenericInstruction, error) {
	data, err := Encode(ix)
	if err != nil {
		return nil, err
	}
	metas, err := Metas(ix.Discriminant(), w, keys...)
	if err != nil {
		return nil, err
	}
	return solana.NewInstruction(programID, metas, data), nil
}
