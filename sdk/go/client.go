package taskmarketsdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gagliardetto/solana-go"

	"taskmarket/internal/engine"
	"taskmarket/internal/instruction"
	"taskmarket/internal/server"
)

// Client is a minimal Taskmarket HTTP API client.
type Client struct {
	BaseURL     string
	BasePath    string
	APIKey      string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL:  baseURL,
		BasePath: "/v0",
		Timeout:  10 * time.Second,
	}
}

type (
	Receipt   = server.ReceiptResponse
	Account   = server.AccountResponse
	Balance   = server.BalanceResponse
	Event     = server.EventResponse
	APIKey    = server.APIKeyResponse
	Principal = server.WhoAmIResponse
)

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// PaginatedEvents wraps list responses with cursors.
type PaginatedEvents struct {
	Items      []Event `json:"items"`
	NextCursor string  `json:"next_cursor"`
}

// Ledger identifies the program and sysvar ids transactions must carry.
type Ledger struct {
	ProgramID solana.PublicKey
	Sysvars   instruction.WellKnown
}

// Ledger fetches the served program id and sysvar ids.
func (c *Client) Ledger(ctx context.Context) (Ledger, error) {
	var resp server.LedgerResponse
	if err := c.do(ctx, http.MethodGet, "ledger", nil, &resp); err != nil {
		return Ledger{}, err
	}
	programID, sysvars, err := resp.Decode()
	if err != nil {
		return Ledger{}, err
	}
	return Ledger{ProgramID: programID, Sysvars: sysvars}, nil
}

// Build encodes ix for the ledger and signs it with signers. keys fill the
// non-sysvar account slots in layout order.
func (l Ledger) Build(ix instruction.Instruction, nonce uint64, signers []solana.PrivateKey, keys ...solana.PublicKey) (engine.Transaction, error) {
	gi, err := instruction.New(l.ProgramID, l.Sysvars, ix, keys...)
	if err != nil {
		return engine.Transaction{}, err
	}
	tx := engine.NewTransaction(gi, nonce)
	if err := tx.Sign(signers...); err != nil {
		return engine.Transaction{}, err
	}
	return tx, nil
}

// Submit sends one signed transaction. Program failures come back in the
// receipt; replays surface as an APIError with status 409.
func (c *Client) Submit(ctx context.Context, tx engine.Transaction) (Receipt, error) {
	var resp Receipt
	err := c.do(ctx, http.MethodPost, "transactions", server.TransactionRequestFrom(tx), &resp)
	return resp, err
}

// SubmitBatch sends transactions to run concurrently on the server.
func (c *Client) SubmitBatch(ctx context.Context, txs []engine.Transaction) ([]Receipt, error) {
	body := server.BatchRequest{}
	for _, tx := range txs {
		body.Transactions = append(body.Transactions, server.TransactionRequestFrom(tx))
	}
	var resp server.BatchResponse
	err := c.do(ctx, http.MethodPost, "transactions/batch", body, &resp)
	return resp.Receipts, err
}

// CreateAccount funds a zeroed cell of kind; a zero key lets the server pick one.
func (c *Client) CreateAccount(ctx context.Context, kind string, key solana.PublicKey) (Account, error) {
	body := server.CreateAccountRequest{Kind: kind}
	if !key.IsZero() {
		body.Pubkey = key.String()
	}
	var resp Account
	err := c.do(ctx, http.MethodPost, "accounts", body, &resp)
	return resp, err
}

// Account fetches a cell with its decoded record.
func (c *Client) Account(ctx context.Context, key solana.PublicKey) (Account, error) {
	var resp Account
	err := c.do(ctx, http.MethodGet, "accounts/"+url.PathEscape(key.String()), nil, &resp)
	return resp, err
}

// Deposit credits amount of currency to owner.
func (c *Client) Deposit(ctx context.Context, owner solana.PublicKey, currency string, amount uint64) (Balance, error) {
	body := server.DepositRequest{Owner: owner.String(), Currency: currency, Amount: amount}
	var resp Balance
	err := c.do(ctx, http.MethodPost, "balances/deposit", body, &resp)
	return resp, err
}

// Balances lists the token balances of owner.
func (c *Client) Balances(ctx context.Context, owner solana.PublicKey) ([]Balance, error) {
	var resp []Balance
	err := c.do(ctx, http.MethodGet, "balances/"+url.PathEscape(owner.String()), nil, &resp)
	return resp, err
}

// EventsPage returns a paginated event listing, newest first.
func (c *Client) EventsPage(ctx context.Context, limit int, cursor string) (PaginatedEvents, error) {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", fmt.Sprintf("%d", limit))
	}
	if cursor != "" {
		q.Set("cursor", cursor)
	}
	endpoint := "events"
	if len(q) > 0 {
		endpoint += "?" + q.Encode()
	}
	var resp PaginatedEvents
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// DevLogin mints a development token for actor and uses it for later calls.
// Only works against servers with a JWT secret configured.
func (c *Client) DevLogin(ctx context.Context, actor solana.PublicKey) error {
	var resp server.DevLoginResponse
	if err := c.do(ctx, http.MethodPost, "auth/dev/login", server.DevLoginRequest{ActorID: actor.String()}, &resp); err != nil {
		return err
	}
	c.BearerToken = resp.Token
	return nil
}

// Me returns the authenticated principal.
func (c *Client) Me(ctx context.Context) (Principal, error) {
	var resp Principal
	err := c.do(ctx, http.MethodGet, "me", nil, &resp)
	return resp, err
}

// CreateAPIKey issues a key for the calling wallet. The plaintext key is only
// returned here.
func (c *Client) CreateAPIKey(ctx context.Context, name string) (APIKey, error) {
	var resp APIKey
	err := c.do(ctx, http.MethodPost, "api-keys", server.CreateAPIKeyRequest{Name: name}, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	target := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, target, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	switch {
	case c.BearerToken != "":
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	case c.APIKey != "":
		req.Header.Set("X-Api-Key", c.APIKey)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return &APIError{StatusCode: resp.StatusCode, Body: string(b)}
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/") + "/" + strings.Trim(c.BasePath, "/")
}
