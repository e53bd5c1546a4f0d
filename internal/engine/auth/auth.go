package auth

import (
	"fmt"

	"github.com/gagliardetto/solana-go"
)

// MissingSignatureError indicates a signer meta without a valid signature.
type MissingSignatureError struct {
	Signer solana.PublicKey
}

func (e MissingSignatureError) Error() string {
	return fmt.Sprintf("missing or invalid signature for %s", e.Signer)
}

// SignatureCountError indicates a signature list that does not line up with the signers.
type SignatureCountError struct {
	Want, Got int
}

func (e SignatureCountError) Error() string {
	return fmt.Sprintf("expected %d signatures, got %d", e.Want, e.Got)
}

// Verify checks one ed25519 signature over msg.
func Verify(msg []byte, signer solana.PublicKey, sig solana.Signature) error {
	if sig.IsZero() || !sig.Verify(signer, msg) {
		return MissingSignatureError{Signer: signer}
	}
	return nil
}

// VerifyAll checks that sigs[i] is signers[i]'s signature over msg.
func VerifyAll(msg []byte, signers []solana.PublicKey, sigs []solana.Signature) error {
	if len(sigs) != len(signers) {
		return SignatureCountError{Want: len(signers), Got: len(sigs)}
	}
	for i, signer := range signers {
		if err := Verify(msg, signer, sigs[i]); err != nil {
			return err
		}
	}
	return nil
}

// Sign produces signatures for signers from the given keys, in signer order.
func Sign(msg []byte, signers []solana.PublicKey, keys ...solana.PrivateKey) ([]solana.Signature, error) {
	byKey := make(map[solana.PublicKey]solana.PrivateKey, len(keys))
	for _, k := range keys {
		byKey[k.PublicKey()] = k
	}
	sigs := make([]solana.Signature, len(signers))
	for i, signer := range signers {
		k, ok := byKey[signer]
		if !ok {
			return nil, MissingSignatureError{Signer: signer}
		}
		sig, err := k.Sign(msg)
		if err != nil {
			return nil, fmt.Errorf("sign for %s: %w", signer, err)
		}
		sigs[i] = sig
	}
	return sigs, nil
}
