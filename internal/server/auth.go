package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/gagliardetto/solana-go"
	"github.com/golang-jwt/jwt/v5"

	"taskmarket/internal/observability"
	"taskmarket/internal/repo"
)

type AuthConfig struct {
	JWTSecret string
	// AllowLegacyActorHeader trusts X-Actor-Id without credentials. Local use only.
	AllowLegacyActorHeader bool
	Logger                 *slog.Logger
}

// Principal is the authenticated caller. Every principal is a wallet.
type Principal struct {
	ActorID string
	Wallet  solana.PublicKey
	Source  string
}

const (
	sourceJWT    = "jwt"
	sourceAPIKey = "api_key"
	sourceHeader = "legacy_header"
)

var errNoCredentials = errors.New("authentication required")

type principalKey struct{}

func withPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

func principalFromRequest(ctx context.Context) (Principal, huma.StatusError) {
	if p, ok := ctx.Value(principalKey{}).(Principal); ok && !p.Wallet.IsZero() {
		return p, nil
	}
	return Principal{}, newAPIError(http.StatusUnauthorized, "unauthorized", "authentication required", nil)
}

func walletPrincipal(actor, source string) (Principal, error) {
	actor = strings.TrimSpace(actor)
	wallet, err := solana.PublicKeyFromBase58(actor)
	if err != nil {
		return Principal{}, fmt.Errorf("actor %q is not a wallet: %w", actor, err)
	}
	return Principal{ActorID: actor, Wallet: wallet, Source: source}, nil
}

func requireWallet(actor string) error {
	_, err := walletPrincipal(actor, "")
	return err
}

// signDevToken mints a short-lived HS256 token for a wallet.
func signDevToken(secret, actor string, ttl time.Duration) (string, error) {
	if strings.TrimSpace(secret) == "" {
		return "", errors.New("jwt secret not configured")
	}
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Subject:   actor,
		Issuer:    "taskmarket",
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

// authenticator resolves a request's principal from the first credential
// present: bearer token, then X-Api-Key, then (if allowed) X-Actor-Id.
type authenticator struct {
	cfg  AuthConfig
	repo repo.Repo
	log  *slog.Logger
}

func (a authenticator) authenticate(req *http.Request) (Principal, error) {
	if authz := strings.TrimSpace(req.Header.Get("Authorization")); authz != "" {
		scheme, token, ok := strings.Cut(authz, " ")
		if !ok || !strings.EqualFold(scheme, "bearer") || strings.TrimSpace(token) == "" {
			return Principal{}, errors.New("malformed authorization header")
		}
		return a.fromJWT(strings.TrimSpace(token))
	}
	if key := strings.TrimSpace(req.Header.Get("X-Api-Key")); key != "" {
		return a.fromAPIKey(req.Context(), key)
	}
	if actor := strings.TrimSpace(req.Header.Get("X-Actor-Id")); actor != "" && a.cfg.AllowLegacyActorHeader {
		a.log.Warn("using unauthenticated X-Actor-Id header", "actor_id", actor)
		return walletPrincipal(actor, sourceHeader)
	}
	return Principal{}, errNoCredentials
}

func (a authenticator) fromJWT(token string) (Principal, error) {
	secret := a.cfg.JWTSecret
	if strings.TrimSpace(secret) == "" {
		return Principal{}, errors.New("jwt secret not configured")
	}
	claims := &jwt.RegisteredClaims{}
	parser := jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())
	if _, err := parser.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return []byte(secret), nil
	}); err != nil {
		return Principal{}, err
	}
	return walletPrincipal(claims.Subject, sourceJWT)
}

func (a authenticator) fromAPIKey(ctx context.Context, key string) (Principal, error) {
	stored, err := a.repo.GetAPIKeyByHash(ctx, repo.HashAPIKey(key))
	if err != nil {
		return Principal{}, err
	}
	return walletPrincipal(stored.ActorID, sourceAPIKey)
}

func newAuthMiddleware(basePath string, cfg AuthConfig, r repo.Repo) func(http.Handler) http.Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = observability.Discard()
	}
	auth := authenticator{cfg: cfg, repo: r, log: logger}
	open := map[string]bool{
		path.Join(basePath, "health"):         true,
		path.Join(basePath, "openapi.json"):   true,
		path.Join(basePath, "auth/dev/login"): true,
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			if (basePath != "" && !strings.HasPrefix(req.URL.Path, basePath)) || open[req.URL.Path] {
				next.ServeHTTP(w, req)
				return
			}
			principal, err := auth.authenticate(req)
			switch {
			case errors.Is(err, errNoCredentials):
				respondStatusError(w, newAPIError(http.StatusUnauthorized, "unauthorized", "authentication required", nil))
				return
			case err != nil:
				logger.Debug("credentials rejected", "err", err)
				respondStatusError(w, newAPIError(http.StatusUnauthorized, "invalid_credentials", "invalid credentials", nil))
				return
			}
			next.ServeHTTP(w, req.WithContext(withPrincipal(req.Context(), principal)))
		})
	}
}

func respondStatusError(w http.ResponseWriter, err huma.StatusError) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(err.GetStatus())
	_ = json.NewEncoder(w).Encode(err)
}
