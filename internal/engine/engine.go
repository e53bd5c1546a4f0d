package engine

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"time"

	"github.com/gagliardetto/solana-go"
	"golang.org/x/sync/errgroup"

	"taskmarket/internal/codec"
	"taskmarket/internal/config"
	"taskmarket/internal/domain"
	"taskmarket/internal/events"
	"taskmarket/internal/observability"
	"taskmarket/internal/program"
	"taskmarket/internal/repo"
)

var (
	ErrReplay        = errors.New("transaction already processed")
	ErrNotRentExempt = errors.New("account is not rent exempt")
)

type Engine struct {
	DB      *sql.DB
	Repo    repo.Repo
	Events  events.Writer
	Config  *config.Config
	Now     func() time.Time
	Logger  *slog.Logger
	Metrics *observability.Metrics

	locks *cellLocks
}

func New(db *sql.DB, cfg *config.Config) Engine {
	return Engine{
		DB:     db,
		Repo:   repo.Repo{DB: db},
		Config: cfg,
		Now:    time.Now,
		Logger: observability.Discard(),
		locks:  newCellLocks(),
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) log() *slog.Logger {
	if e.Logger != nil {
		return e.Logger
	}
	return observability.Discard()
}

func (e Engine) events() events.Writer {
	w := e.Events
	if w.Now == nil {
		w.Now = e.now
	}
	return w
}

// Receipt reports how a submitted transaction ended. Program failures are
// receipts, not errors.
type Receipt struct {
	ID          string  `json:"id"`
	Instruction string  `json:"instruction"`
	Status      string  `json:"status"`
	Code        *uint32 `json:"code,omitempty"`
	CodeName    string  `json:"code_name,omitempty"`
	Message     string  `json:"message,omitempty"`
}

func (r Receipt) Succeeded() bool { return r.Status == domain.TxSucceeded }

// Submit verifies and executes one transaction. The returned error is set only
// for host failures and replays.
func (e Engine) Submit(ctx context.Context, t Transaction) (Receipt, error) {
	if e.Config == nil {
		return Receipt{}, errors.New("config not loaded")
	}
	if e.locks == nil {
		return Receipt{}, errors.New("engine not built with New")
	}
	start := time.Now()
	receipt, err := e.submit(ctx, t)
	result := observability.ResultError
	if err == nil {
		result = observability.ResultFailed
		if receipt.Succeeded() {
			result = observability.ResultSucceeded
		}
	}
	e.Metrics.Observe(t.InstructionName(), result, time.Since(start))
	return receipt, err
}

func (e Engine) submit(ctx context.Context, t Transaction) (Receipt, error) {
	receipt := Receipt{ID: t.ID(), Instruction: t.InstructionName()}
	// Unauthenticated rejections are not recorded, so they cannot claim the id.
	if err := t.validate(); err != nil {
		return failed(receipt, &program.Error{Code: program.InvalidArgument, Detail: err.Error()}), nil
	}
	if !t.ProgramID.Equals(e.Config.ProgramID()) {
		return failed(receipt, &program.Error{Code: program.InvalidArgument, Detail: fmt.Sprintf("transaction targets program %s", t.ProgramID)}), nil
	}
	if err := t.Verify(); err != nil {
		return failed(receipt, &program.Error{Code: program.MissingRequiredSignature, Detail: err.Error()}), nil
	}

	release, err := e.locks.acquire(ctx, e.lockKeys(t))
	if err != nil {
		return receipt, err
	}
	defer release()

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return receipt, err
	}
	defer tx.Rollback()

	seen, err := e.Repo.TransactionExists(ctx, tx, receipt.ID)
	if err != nil {
		return receipt, err
	}
	if seen {
		return receipt, fmt.Errorf("%w: %s", ErrReplay, receipt.ID)
	}
	infos, cells, err := e.loadAccounts(ctx, tx, t)
	if err != nil {
		if _, ok := program.CodeOf(err); ok {
			_ = tx.Rollback()
			return e.reject(ctx, t, receipt, err)
		}
		return receipt, err
	}
	env := program.Env{
		ProgramID: e.Config.ProgramID(),
		Sysvars:   e.Config.WellKnown(),
		Now:       e.now().Unix(),
		Rent:      e.Config.Rent,
		Custody:   ledgerCustody{repo: e.Repo, tx: tx},
		Policy:    e.Config.ProgramPolicy(),
		Logger:    e.log().With("tx", receipt.ID),
	}
	if err := program.Process(ctx, env, infos, t.Data); err != nil {
		_ = tx.Rollback()
		return e.reject(ctx, t, receipt, err)
	}
	var changed []string
	for _, c := range cells {
		if bytes.Equal(c.before, c.info.Data) {
			continue
		}
		if err := e.Repo.UpdateAccountData(ctx, tx, c.info.Key, c.info.Data); err != nil {
			return receipt, fmt.Errorf("persist %s: %w", c.info.Key, err)
		}
		changed = append(changed, c.info.Key.String())
	}
	feePayer := t.FeePayer().String()
	rec := domain.TxRecord{
		ID:          receipt.ID,
		Instruction: receipt.Instruction,
		FeePayer:    feePayer,
		Status:      domain.TxSucceeded,
		CreatedAt:   e.now().UTC().Format(time.RFC3339),
	}
	if err := e.Repo.InsertTransaction(ctx, tx, rec); err != nil {
		return receipt, err
	}
	payload := events.EventPayload{"instruction": receipt.Instruction, "changed": changed}
	if err := e.events().Append(ctx, tx, events.TxSucceeded, "transaction", receipt.ID, feePayer, payload); err != nil {
		return receipt, err
	}
	if err := tx.Commit(); err != nil {
		return receipt, err
	}
	receipt.Status = domain.TxSucceeded
	e.log().Info("transaction succeeded", "tx", receipt.ID, "instruction", receipt.Instruction, "changed", len(changed))
	return receipt, nil
}

// reject records a failed transaction outside the rolled back one. Errors
// without a boundary code are host failures and are returned as is.
func (e Engine) reject(ctx context.Context, t Transaction, receipt Receipt, cause error) (Receipt, error) {
	if _, ok := program.CodeOf(cause); !ok {
		return receipt, cause
	}
	receipt = failed(receipt, cause)
	c := *receipt.Code

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return receipt, err
	}
	defer tx.Rollback()
	seen, err := e.Repo.TransactionExists(ctx, tx, receipt.ID)
	if err != nil {
		return receipt, err
	}
	if seen {
		return receipt, fmt.Errorf("%w: %s", ErrReplay, receipt.ID)
	}
	feePayer := t.FeePayer().String()
	rec := domain.TxRecord{
		ID:          receipt.ID,
		Instruction: receipt.Instruction,
		FeePayer:    feePayer,
		Status:      domain.TxFailed,
		Code:        &c,
		Message:     receipt.Message,
		CreatedAt:   e.now().UTC().Format(time.RFC3339),
	}
	if err := e.Repo.InsertTransaction(ctx, tx, rec); err != nil {
		return receipt, err
	}
	payload := events.EventPayload{"instruction": receipt.Instruction, "code": c, "code_name": receipt.CodeName}
	if err := e.events().Append(ctx, tx, events.TxFailed, "transaction", receipt.ID, feePayer, payload); err != nil {
		return receipt, err
	}
	if err := tx.Commit(); err != nil {
		return receipt, err
	}
	e.log().Warn("transaction failed", "tx", receipt.ID, "instruction", receipt.Instruction, "code", receipt.CodeName, "err", cause)
	return receipt, nil
}

func failed(receipt Receipt, cause error) Receipt {
	code, _ := program.CodeOf(cause)
	c := uint32(code)
	receipt.Status = domain.TxFailed
	receipt.Code = &c
	receipt.CodeName = code.String()
	receipt.Message = cause.Error()
	return receipt
}

// lockKeys is the account set minus the well-known ids every transaction shares.
func (e Engine) lockKeys(t Transaction) []solana.PublicKey {
	w := e.Config.WellKnown()
	var out []solana.PublicKey
	for _, k := range t.keys() {
		if k == w.Rent || k == w.Token || k == w.System {
			continue
		}
		out = append(out, k)
	}
	return out
}

type loadedCell struct {
	info   *program.AccountInfo
	before []byte
}

// loadAccounts reads every account inside tx. Keys without a stored cell are
// plain wallets or sysvars and get an empty, system-owned view.
func (e Engine) loadAccounts(ctx context.Context, tx *sql.Tx, t Transaction) ([]*program.AccountInfo, []loadedCell, error) {
	infos := make([]*program.AccountInfo, len(t.Accounts))
	var cells []loadedCell
	stored := map[solana.PublicKey]bool{}
	system := e.Config.WellKnown().System
	for i, m := range t.Accounts {
		if stored[m.PublicKey] {
			return nil, nil, &program.Error{Code: program.InvalidArgument, Detail: fmt.Sprintf("cell %s passed twice", m.PublicKey)}
		}
		a, err := e.Repo.GetAccountTx(ctx, tx, m.PublicKey)
		if errors.Is(err, repo.ErrNotFound) {
			infos[i] = &program.AccountInfo{Key: m.PublicKey, Owner: system, IsSigner: m.IsSigner, IsWritable: m.IsWritable}
			continue
		}
		if err != nil {
			return nil, nil, err
		}
		info := &program.AccountInfo{
			Key:        a.Key,
			Owner:      a.Owner,
			Lamports:   a.Lamports,
			Data:       a.Data,
			IsSigner:   m.IsSigner,
			IsWritable: m.IsWritable,
		}
		infos[i] = info
		stored[m.PublicKey] = true
		cells = append(cells, loadedCell{info: info, before: append([]byte(nil), a.Data...)})
	}
	return infos, cells, nil
}

// SubmitBatch runs transactions concurrently; ones sharing accounts serialize
// on their cell locks. Receipts line up with txs.
func (e Engine) SubmitBatch(ctx context.Context, txs []Transaction) ([]Receipt, error) {
	receipts := make([]Receipt, len(txs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.GOMAXPROCS(0))
	for i := range txs {
		i := i
		g.Go(func() error {
			r, err := e.Submit(gctx, txs[i])
			if err != nil {
				return fmt.Errorf("transaction %d: %w", i, err)
			}
			receipts[i] = r
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return receipts, err
	}
	return receipts, nil
}

// Space returns the cell size for a record kind under the configured limits.
func (e Engine) Space(kind string) (int, error) {
	if e.Config == nil {
		return 0, errors.New("config not loaded")
	}
	l := e.Config.CodecLimits()
	switch kind {
	case domain.KindTask:
		return codec.TaskSpace(l), nil
	case domain.KindAgent:
		return codec.AgentSpace(l), nil
	case domain.KindJudge:
		return codec.JudgeSpace(l), nil
	case domain.KindStake:
		return codec.StakeSpace(l), nil
	case domain.KindDeliverable:
		return codec.DeliverableSpace(l), nil
	}
	return 0, fmt.Errorf("unknown account kind %q", kind)
}

// AccountOptions are parameters for funding a new cell.
type AccountOptions struct {
	// Key defaults to a fresh random key.
	Key solana.PublicKey
	// Owner defaults to the program id.
	Owner solana.PublicKey
	Kind  string
	// Space defaults to the size of Kind.
	Space int
	// Lamports defaults to the rent-exempt minimum.
	Lamports       uint64
	AllowNonExempt bool
	ActorID        string
}

// CreateAccount allocates a zeroed cell.
func (e Engine) CreateAccount(ctx context.Context, opts AccountOptions) (domain.Account, error) {
	if e.Config == nil {
		return domain.Account{}, errors.New("config not loaded")
	}
	space := opts.Space
	if space == 0 {
		var err error
		if space, err = e.Space(opts.Kind); err != nil {
			return domain.Account{}, err
		}
	}
	if space <= 0 {
		return domain.Account{}, fmt.Errorf("space must be positive")
	}
	key := opts.Key
	if key.IsZero() {
		key = solana.NewWallet().PublicKey()
	}
	owner := opts.Owner
	if owner.IsZero() {
		owner = e.Config.ProgramID()
	}
	lamports := opts.Lamports
	if lamports == 0 {
		lamports = e.Config.Rent.MinimumBalance(space)
	}
	if !opts.AllowNonExempt && !e.Config.Rent.IsExempt(lamports, space) {
		return domain.Account{}, fmt.Errorf("%w: %d lamports for %d bytes, need %d", ErrNotRentExempt, lamports, space, e.Config.Rent.MinimumBalance(space))
	}

	release, err := e.locks.acquire(ctx, []solana.PublicKey{key})
	if err != nil {
		return domain.Account{}, err
	}
	defer release()

	now := e.now().UTC().Format(time.RFC3339)
	a := domain.Account{
		Key:       key,
		Owner:     owner,
		Lamports:  lamports,
		Data:      make([]byte, space),
		Kind:      opts.Kind,
		CreatedAt: now,
		UpdatedAt: now,
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Account{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.InsertAccount(ctx, tx, a); err != nil {
		return domain.Account{}, err
	}
	payload := events.EventPayload{"owner": owner.String(), "kind": a.Kind, "space": space, "lamports": lamports}
	if err := e.events().Append(ctx, tx, events.AccountCreated, "account", key.String(), opts.ActorID, payload); err != nil {
		return domain.Account{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Account{}, err
	}
	return a, nil
}

// Deposit credits tokens to a wallet, the ledger's faucet.
func (e Engine) Deposit(ctx context.Context, owner solana.PublicKey, currency string, amount uint64, actorID string) (domain.Balance, error) {
	if owner.IsZero() {
		return domain.Balance{}, errors.New("owner required")
	}
	if currency == "" {
		return domain.Balance{}, errors.New("currency required")
	}
	if amount == 0 {
		return domain.Balance{}, errors.New("amount must be positive")
	}
	release, err := e.locks.acquire(ctx, []solana.PublicKey{owner})
	if err != nil {
		return domain.Balance{}, err
	}
	defer release()

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Balance{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.Credit(ctx, tx, owner, currency, amount); err != nil {
		return domain.Balance{}, err
	}
	total, err := e.Repo.GetBalance(ctx, tx, owner, currency)
	if err != nil {
		return domain.Balance{}, err
	}
	payload := events.EventPayload{"currency": currency, "amount": amount, "balance": total}
	if err := e.events().Append(ctx, tx, events.BalanceDeposited, "wallet", owner.String(), actorID, payload); err != nil {
		return domain.Balance{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Balance{}, err
	}
	return domain.Balance{Owner: owner, Currency: currency, Amount: total, UpdatedAt: e.now().UTC().Format(time.RFC3339)}, nil
}
