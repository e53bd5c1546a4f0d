package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/gagliardetto/solana-go"

	"taskmarket/internal/db"
)

var keyNamePattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)

// keystore keeps base58 private keys as one file per name under the workspace.
type keystore struct {
	dir string
}

type storedKey struct {
	Name   string `json:"name"`
	Pubkey string `json:"pubkey"`
}

func openKeystore(workspace string) (keystore, error) {
	root, err := db.EnsureWorkspace(workspace)
	if err != nil {
		return keystore{}, err
	}
	dir := filepath.Join(root, "keys")
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return keystore{}, err
	}
	return keystore{dir: dir}, nil
}

func (k keystore) path(name string) string {
	return filepath.Join(k.dir, name+".key")
}

func (k keystore) create(name string) (solana.PrivateKey, error) {
	if !keyNamePattern.MatchString(name) {
		return nil, fmt.Errorf("invalid key name %q", name)
	}
	if _, err := os.Stat(k.path(name)); err == nil {
		return nil, fmt.Errorf("key %q already exists", name)
	}
	priv := solana.NewWallet().PrivateKey
	if err := os.WriteFile(k.path(name), []byte(priv.String()+"\n"), 0o600); err != nil {
		return nil, err
	}
	return priv, nil
}

func (k keystore) load(name string) (solana.PrivateKey, error) {
	data, err := os.ReadFile(k.path(name))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("no key named %q (create one with 'tm keys new')", name)
		}
		return nil, err
	}
	priv, err := solana.PrivateKeyFromBase58(strings.TrimSpace(string(data)))
	if err != nil {
		return nil, fmt.Errorf("key %q: %w", name, err)
	}
	return priv, nil
}

func (k keystore) list() ([]storedKey, error) {
	entries, err := os.ReadDir(k.dir)
	if err != nil {
		return nil, err
	}
	var out []storedKey
	for _, e := range entries {
		name, ok := strings.CutSuffix(e.Name(), ".key")
		if !ok || e.IsDir() {
			continue
		}
		priv, err := k.load(name)
		if err != nil {
			return nil, err
		}
		out = append(out, storedKey{Name: name, Pubkey: priv.PublicKey().String()})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// resolve accepts a stored key name or a base58 public key.
func (k keystore) resolve(ref string) (solana.PublicKey, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return solana.PublicKey{}, errors.New("account reference required")
	}
	if keyNamePattern.MatchString(ref) {
		if _, err := os.Stat(k.path(ref)); err == nil {
			priv, err := k.load(ref)
			if err != nil {
				return solana.PublicKey{}, err
			}
			return priv.PublicKey(), nil
		}
	}
	pk, err := solana.PublicKeyFromBase58(ref)
	if err != nil {
		return solana.PublicKey{}, fmt.Errorf("%q is neither a stored key nor a public key", ref)
	}
	return pk, nil
}
