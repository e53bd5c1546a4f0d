package auth

import (
	"errors"
	"testing"

	"github.com/gagliardetto/solana-go"
)

func TestSignAndVerify(t *testing.T) {
	a := solana.NewWallet().PrivateKey
	b := solana.NewWallet().PrivateKey
	msg := []byte("stake 500")
	signers := []solana.PublicKey{a.PublicKey(), b.PublicKey()}

	sigs, err := Sign(msg, signers, b, a)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if err := VerifyAll(msg, signers, sigs); err != nil {
		t.Fatalf("verify: %v", err)
	}

	sigs[0], sigs[1] = sigs[1], sigs[0]
	var missing MissingSignatureError
	if err := VerifyAll(msg, signers, sigs); !errors.As(err, &missing) || missing.Signer != a.PublicKey() {
		t.Fatalf("expected missing signature for %s, got %v", a.PublicKey(), err)
	}
	if err := VerifyAll(msg, signers, sigs[:1]); err == nil {
		t.Fatalf("expected count error")
	}
	if err := Verify(msg, a.PublicKey(), solana.Signature{}); err == nil {
		t.Fatalf("zero signature must not verify")
	}
}

func TestSignRequiresEveryKey(t *testing.T) {
	a := solana.NewWallet().PrivateKey
	other := solana.NewWallet().PublicKey()
	if _, err := Sign([]byte("m"), []solana.PublicKey{a.PublicKey(), other}, a); err == nil {
		t.Fatalf("expected error for signer without key")
	}
}
