package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/gagliardetto/solana-go"

	"taskmarket/internal/config"
	"taskmarket/internal/domain"
)

type Repo struct {
	DB *sql.DB
}

var (
	ErrNotFound          = errors.New("not found")
	ErrExists            = errors.New("already exists")
	ErrInsufficientFunds = errors.New("insufficient balance")
)

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// q runs against tx when one is given, else against the pool.
func (r Repo) q(tx *sql.Tx) querier {
	if tx != nil {
		return tx
	}
	return r.DB
}

func nowString() string {
	return time.Now().UTC().Format(time.RFC3339)
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func toSQLAmount(v uint64) (int64, error) {
	if v > math.MaxInt64 {
		return 0, fmt.Errorf("amount %d out of range", v)
	}
	return int64(v), nil
}

func parseKey(s string) (solana.PublicKey, error) {
	k, err := solana.PublicKeyFromBase58(s)
	if err != nil {
		return solana.PublicKey{}, fmt.Errorf("stored key %q: %w", s, err)
	}
	return k, nil
}

// --- accounts

func (r Repo) InsertAccount(ctx context.Context, tx *sql.Tx, a domain.Account) error {
	lamports, err := toSQLAmount(a.Lamports)
	if err != nil {
		return err
	}
	if a.CreatedAt == "" {
		a.CreatedAt = nowString()
	}
	if a.UpdatedAt == "" {
		a.UpdatedAt = a.CreatedAt
	}
	_, err = r.q(tx).ExecContext(ctx, `INSERT INTO accounts(pubkey,owner,lamports,data,kind,created_at,updated_at) VALUES (?,?,?,?,?,?,?)`,
		a.Key.String(), a.Owner.String(), lamports, a.Data, nullable(a.Kind), a.CreatedAt, a.UpdatedAt)
	if err != nil && strings.Contains(strings.ToLower(err.Error()), "unique") {
		return fmt.Errorf("account %s: %w", a.Key, ErrExists)
	}
	return err
}

const accountColumns = `pubkey,owner,lamports,data,COALESCE(kind,''),created_at,updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAccount(row rowScanner) (domain.Account, error) {
	var (
		a             domain.Account
		key, owner    string
		lamports      int64
	)
	err := row.Scan(&key, &owner, &lamports, &a.Data, &a.Kind, &a.CreatedAt, &a.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return a, ErrNotFound
	}
	if err != nil {
		return a, err
	}
	if a.Key, err = parseKey(key); err != nil {
		return a, err
	}
	if a.Owner, err = parseKey(owner); err != nil {
		return a, err
	}
	a.Lamports = uint64(lamports)
	return a, nil
}

func (r Repo) GetAccount(ctx context.Context, key solana.PublicKey) (domain.Account, error) {
	return r.GetAccountTx(ctx, nil, key)
}

func (r Repo) GetAccountTx(ctx context.Context, tx *sql.Tx, key solana.PublicKey) (domain.Account, error) {
	return scanAccount(r.q(tx).QueryRowContext(ctx, `SELECT `+accountColumns+` FROM accounts WHERE pubkey=?`, key.String()))
}

// UpdateAccountData replaces the cell bytes; the cell size never changes.
func (r Repo) UpdateAccountData(ctx context.Context, tx *sql.Tx, key solana.PublicKey, data []byte) error {
	res, err := r.q(tx).ExecContext(ctx, `UPDATE accounts SET data=?, updated_at=? WHERE pubkey=? AND length(data)=?`,
		data, nowString(), key.String(), len(data))
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("account %s: %w", key, ErrNotFound)
	}
	return nil
}

type AccountFilters struct {
	Owner string
	Kind  string
	Limit int
}

func (r Repo) ListAccounts(ctx context.Context, f AccountFilters) ([]domain.Account, error) {
	clauses := []string{"1=1"}
	var args []any
	if f.Owner != "" {
		clauses = append(clauses, "owner=?")
		args = append(args, f.Owner)
	}
	if f.Kind != "" {
		clauses = append(clauses, "kind=?")
		args = append(args, f.Kind)
	}
	limit := f.Limit
	if limit <= 0 {
		limit = 100
	}
	query := `SELECT ` + accountColumns + ` FROM accounts WHERE ` + strings.Join(clauses, " AND ") + ` ORDER BY created_at DESC, pubkey LIMIT ?`
	args = append(args, limit)
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Account
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, a)
	}
	return res, rows.Err()
}

// --- transactions

func (r Repo) InsertTransaction(ctx context.Context, tx *sql.Tx, rec domain.TxRecord) error {
	if rec.CreatedAt == "" {
		rec.CreatedAt = nowString()
	}
	var code any
	if rec.Code != nil {
		code = int64(*rec.Code)
	}
	_, err := r.q(tx).ExecContext(ctx, `INSERT INTO transactions(id,instruction,fee_payer,status,code,message,created_at) VALUES (?,?,?,?,?,?,?)`,
		rec.ID, rec.Instruction, rec.FeePayer, rec.Status, code, nullable(rec.Message), rec.CreatedAt)
	if err != nil && strings.Contains(strings.ToLower(err.Error()), "unique") {
		return fmt.Errorf("transaction %s: %w", rec.ID, ErrExists)
	}
	return err
}

// TransactionExists reports whether id was already processed, in either outcome.
func (r Repo) TransactionExists(ctx context.Context, tx *sql.Tx, id string) (bool, error) {
	var n int
	err := r.q(tx).QueryRowContext(ctx, `SELECT COUNT(1) FROM transactions WHERE id=?`, id).Scan(&n)
	return n > 0, err
}

func scanTx(row rowScanner) (domain.TxRecord, error) {
	var (
		rec  domain.TxRecord
		code sql.NullInt64
		msg  sql.NullString
	)
	err := row.Scan(&rec.ID, &rec.Instruction, &rec.FeePayer, &rec.Status, &code, &msg, &rec.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return rec, ErrNotFound
	}
	if err != nil {
		return rec, err
	}
	if code.Valid {
		c := uint32(code.Int64)
		rec.Code = &c
	}
	rec.Message = msg.String
	return rec, nil
}

func (r Repo) GetTransaction(ctx context.Context, id string) (domain.TxRecord, error) {
	return scanTx(r.DB.QueryRowContext(ctx, `SELECT id,instruction,fee_payer,status,code,message,created_at FROM transactions WHERE id=?`, id))
}

func (r Repo) ListTransactions(ctx context.Context, limit int) ([]domain.TxRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.DB.QueryContext(ctx, `SELECT id,instruction,fee_payer,status,code,message,created_at FROM transactions ORDER BY created_at DESC, id LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.TxRecord
	for rows.Next() {
		rec, err := scanTx(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, rec)
	}
	return res, rows.Err()
}

// --- token balances

func (r Repo) GetBalance(ctx context.Context, tx *sql.Tx, owner solana.PublicKey, currency string) (uint64, error) {
	var amount int64
	err := r.q(tx).QueryRowContext(ctx, `SELECT amount FROM token_balances WHERE owner=? AND currency=?`, owner.String(), currency).Scan(&amount)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	return uint64(amount), err
}

func (r Repo) Credit(ctx context.Context, tx *sql.Tx, owner solana.PublicKey, currency string, amount uint64) error {
	current, err := r.GetBalance(ctx, tx, owner, currency)
	if err != nil {
		return err
	}
	if current+amount < current {
		return fmt.Errorf("credit %d %s to %s overflows", amount, currency, owner)
	}
	next, err := toSQLAmount(current + amount)
	if err != nil {
		return err
	}
	_, err = r.q(tx).ExecContext(ctx, `INSERT INTO token_balances(owner,currency,amount,updated_at) VALUES (?,?,?,?)
ON CONFLICT(owner,currency) DO UPDATE SET amount=excluded.amount, updated_at=excluded.updated_at`,
		owner.String(), currency, next, nowString())
	return err
}

func (r Repo) Debit(ctx context.Context, tx *sql.Tx, owner solana.PublicKey, currency string, amount uint64) error {
	current, err := r.GetBalance(ctx, tx, owner, currency)
	if err != nil {
		return err
	}
	if current < amount {
		return fmt.Errorf("%s holds %d %s, needs %d: %w", owner, current, currency, amount, ErrInsufficientFunds)
	}
	_, err = r.q(tx).ExecContext(ctx, `UPDATE token_balances SET amount=?, updated_at=? WHERE owner=? AND currency=?`,
		int64(current-amount), nowString(), owner.String(), currency)
	return err
}

// Transfer debits from and credits to inside tx.
func (r Repo) Transfer(ctx context.Context, tx *sql.Tx, from, to solana.PublicKey, currency string, amount uint64) error {
	if err := r.Debit(ctx, tx, from, currency, amount); err != nil {
		return err
	}
	return r.Credit(ctx, tx, to, currency, amount)
}

func (r Repo) ListBalances(ctx context.Context, owner solana.PublicKey) ([]domain.Balance, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT currency,amount,updated_at FROM token_balances WHERE owner=? ORDER BY currency`, owner.String())
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Balance
	for rows.Next() {
		b := domain.Balance{Owner: owner}
		var amount int64
		if err := rows.Scan(&b.Currency, &amount, &b.UpdatedAt); err != nil {
			return nil, err
		}
		b.Amount = uint64(amount)
		res = append(res, b)
	}
	return res, rows.Err()
}

// --- task tokens

func (r Repo) InsertTaskToken(ctx context.Context, tx *sql.Tx, t domain.TaskToken) error {
	if t.CreatedAt == "" {
		t.CreatedAt = nowString()
	}
	_, err := r.q(tx).ExecContext(ctx, `INSERT INTO task_tokens(mint,task,owner,created_at) VALUES (?,?,?,?)`,
		t.Mint.String(), t.Task.String(), t.Owner.String(), t.CreatedAt)
	if err != nil && strings.Contains(strings.ToLower(err.Error()), "unique") {
		return fmt.Errorf("task token %s: %w", t.Mint, ErrExists)
	}
	return err
}

func (r Repo) GetTaskToken(ctx context.Context, tx *sql.Tx, mint solana.PublicKey) (domain.TaskToken, error) {
	var (
		t                 domain.TaskToken
		mintS, task, owner string
		burned            sql.NullString
	)
	err := r.q(tx).QueryRowContext(ctx, `SELECT mint,task,owner,created_at,burned_at FROM task_tokens WHERE mint=?`, mint.String()).
		Scan(&mintS, &task, &owner, &t.CreatedAt, &burned)
	if errors.Is(err, sql.ErrNoRows) {
		return t, ErrNotFound
	}
	if err != nil {
		return t, err
	}
	if t.Mint, err = parseKey(mintS); err != nil {
		return t, err
	}
	if t.Task, err = parseKey(task); err != nil {
		return t, err
	}
	if t.Owner, err = parseKey(owner); err != nil {
		return t, err
	}
	if burned.Valid {
		t.BurnedAt = &burned.String
	}
	return t, nil
}

func (r Repo) BurnTaskToken(ctx context.Context, tx *sql.Tx, mint solana.PublicKey) error {
	res, err := r.q(tx).ExecContext(ctx, `UPDATE task_tokens SET burned_at=? WHERE mint=? AND burned_at IS NULL`, nowString(), mint.String())
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("live task token %s: %w", mint, ErrNotFound)
	}
	return nil
}

// --- ledger config

func (r Repo) UpsertLedgerConfig(ctx context.Context, tx *sql.Tx, cfg *config.Config) error {
	if cfg == nil {
		return fmt.Errorf("config nil")
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	payload, err := json.Marshal(cfg)
	if err != nil {
		return err
	}
	now := nowString()
	_, err = r.q(tx).ExecContext(ctx, `INSERT INTO ledger_config(id,config_json,created_at,updated_at) VALUES (1,?,?,?)
ON CONFLICT(id) DO UPDATE SET config_json=excluded.config_json, updated_at=excluded.updated_at`, string(payload), now, now)
	return err
}

func (r Repo) GetLedgerConfig(ctx context.Context) (*config.Config, error) {
	var payload string
	err := r.DB.QueryRowContext(ctx, `SELECT config_json FROM ledger_config WHERE id=1`).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var cfg config.Config
	if err := json.Unmarshal([]byte(payload), &cfg); err != nil {
		return nil, err
	}
	return &cfg, cfg.Validate()
}

// --- events

type EventFilters struct {
	Type       string
	EntityKind string
	EntityID   string
	// Before pages backwards from an event id.
	Before int64
	Limit  int
}

const eventColumns = `id,ts,type,entity_kind,COALESCE(entity_id,''),actor_id,payload_json`

func scanEvents(rows *sql.Rows) ([]domain.Event, error) {
	defer rows.Close()
	var res []domain.Event
	for rows.Next() {
		var e domain.Event
		var payload sql.NullString
		if err := rows.Scan(&e.ID, &e.TS, &e.Type, &e.EntityKind, &e.EntityID, &e.ActorID, &payload); err != nil {
			return nil, err
		}
		e.Payload = payload.String
		res = append(res, e)
	}
	return res, rows.Err()
}

// LatestEvents returns matching events, newest first.
func (r Repo) LatestEvents(ctx context.Context, f EventFilters) ([]domain.Event, error) {
	clauses := []string{"1=1"}
	var args []any
	if f.Type != "" {
		clauses = append(clauses, "type=?")
		args = append(args, f.Type)
	}
	if f.EntityKind != "" {
		clauses = append(clauses, "entity_kind=?")
		args = append(args, f.EntityKind)
	}
	if f.EntityID != "" {
		clauses = append(clauses, "entity_id=?")
		args = append(args, f.EntityID)
	}
	if f.Before > 0 {
		clauses = append(clauses, "id<?")
		args = append(args, f.Before)
	}
	limit := f.Limit
	if limit <= 0 {
		limit = 50
	}
	query := fmt.Sprintf(`SELECT %s FROM events WHERE %s ORDER BY id DESC LIMIT ?`, eventColumns, strings.Join(clauses, " AND "))
	args = append(args, limit)
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return scanEvents(rows)
}

// EventsAfter returns events with IDs greater than the cursor in ascending order.
func (r Repo) EventsAfter(ctx context.Context, limit int, cursor int64) ([]domain.Event, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.DB.QueryContext(ctx, `SELECT `+eventColumns+` FROM events WHERE id>? ORDER BY id ASC LIMIT ?`, cursor, limit)
	if err != nil {
		return nil, err
	}
	return scanEvents(rows)
}

// LatestEventID returns the most recent event ID.
func (r Repo) LatestEventID(ctx context.Context) (int64, error) {
	var id int64
	if err := r.DB.QueryRowContext(ctx, `SELECT COALESCE(MAX(id),0) FROM events`).Scan(&id); err != nil {
		return 0, err
	}
	return id, nil
}
