package program

import (
	"github.com/gagliardetto/solana-go"
)

// AccountInfo is one storage cell as presented to an instruction. Data is
// the cell itself; the program writes into it only after every guard passed.
type AccountInfo struct {
	Key        solana.PublicKey
	Owner      solana.PublicKey
	Lamports   uint64
	Data       []byte
	IsSigner   bool
	IsWritable bool
}

// initialized reads the leading is_initialized byte shared by every record.
// Any non-zero value counts, so a cell is never overwritten unless it is
// all zero there.
func (a *AccountInfo) initialized() bool {
	return len(a.Data) > 0 && a.Data[0] != 0
}

func requireSigner(a *AccountInfo) error {
	if !a.IsSigner {
		return fail(MissingRequiredSignature, "%s did not sign", a.Key)
	}
	return nil
}

func requireOwned(a *AccountInfo, program solana.PublicKey) error {
	if !a.Owner.Equals(program) {
		return fail(IncorrectProgramID, "%s is owned by %s", a.Key, a.Owner)
	}
	return nil
}

func requireWritable(a *AccountInfo) error {
	if !a.IsWritable {
		return fail(InvalidArgument, "%s is not writable", a.Key)
	}
	return nil
}

func requireKey(a *AccountInfo, want solana.PublicKey) error {
	if !a.Key.Equals(want) {
		return fail(InvalidArgument, "expected %s, got %s", want, a.Key)
	}
	return nil
}

func requireRentExempt(a *AccountInfo, rent Rent) error {
	if !rent.IsExempt(a.Lamports, len(a.Data)) {
		return fail(NotRentExempt, "%s holds %d lamports for %d bytes", a.Key, a.Lamports, len(a.Data))
	}
	return nil
}

// check runs guards in order and returns the first failure.
func check(guards ...func() error) error {
	for _, g := range guards {
		if err := g(); err != nil {
			return err
		}
	}
	return nil
}
