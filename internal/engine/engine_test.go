package engine_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/gagliardetto/solana-go"

	"taskmarket/internal/codec"
	"taskmarket/internal/config"
	"taskmarket/internal/db"
	"taskmarket/internal/domain"
	"taskmarket/internal/engine"
	"taskmarket/internal/events"
	"taskmarket/internal/instruction"
	"taskmarket/internal/migrate"
	"taskmarket/internal/program"
	"taskmarket/internal/repo"
)

var testNow = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

type testEnv struct {
	t      *testing.T
	Engine engine.Engine
	Ctx    context.Context
	nonce  uint64
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	ctx := context.Background()
	if err := migrate.Migrate(ctx, conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	cfg := config.Default(solana.NewWallet().PublicKey().String())
	eng := engine.New(conn, cfg)
	eng.Now = func() time.Time { return testNow }
	return &testEnv{t: t, Engine: eng, Ctx: ctx}
}

func wallet() solana.PrivateKey { return solana.NewWallet().PrivateKey }

func (e *testEnv) cell(kind string) solana.PublicKey {
	e.t.Helper()
	a, err := e.Engine.CreateAccount(e.Ctx, engine.AccountOptions{Kind: kind, ActorID: "tester"})
	if err != nil {
		e.t.Fatalf("create %s cell: %v", kind, err)
	}
	return a.Key
}

func (e *testEnv) build(ix instruction.Instruction, keys ...solana.PublicKey) engine.Transaction {
	e.t.Helper()
	gi, err := instruction.New(e.Engine.Config.ProgramID(), e.Engine.Config.WellKnown(), ix, keys...)
	if err != nil {
		e.t.Fatalf("build %T: %v", ix, err)
	}
	e.nonce++
	return engine.NewTransaction(gi, e.nonce)
}

func (e *testEnv) run(ix instruction.Instruction, signer solana.PrivateKey, keys ...solana.PublicKey) engine.Receipt {
	e.t.Helper()
	tx := e.build(ix, keys...)
	if err := tx.Sign(signer); err != nil {
		e.t.Fatalf("sign: %v", err)
	}
	r, err := e.Engine.Submit(e.Ctx, tx)
	if err != nil {
		e.t.Fatalf("submit %T: %v", ix, err)
	}
	return r
}

func (e *testEnv) deposit(owner solana.PublicKey, currency string, amount uint64) {
	e.t.Helper()
	if _, err := e.Engine.Deposit(e.Ctx, owner, currency, amount, "tester"); err != nil {
		e.t.Fatalf("deposit: %v", err)
	}
}

func (e *testEnv) balance(owner solana.PublicKey, currency string) uint64 {
	e.t.Helper()
	v, err := e.Engine.Repo.GetBalance(e.Ctx, nil, owner, currency)
	if err != nil {
		e.t.Fatalf("balance: %v", err)
	}
	return v
}

func (e *testEnv) data(k solana.PublicKey) []byte {
	e.t.Helper()
	a, err := e.Engine.Repo.GetAccount(e.Ctx, k)
	if err != nil {
		e.t.Fatalf("get account %s: %v", k, err)
	}
	return a.Data
}

func (e *testEnv) task(k solana.PublicKey) domain.Task {
	e.t.Helper()
	v, err := codec.DecodeTask(e.data(k))
	if err != nil {
		e.t.Fatalf("decode task: %v", err)
	}
	return v
}

func requireOK(t *testing.T, r engine.Receipt) {
	t.Helper()
	if !r.Succeeded() {
		t.Fatalf("%s failed: %s (%s)", r.Instruction, r.CodeName, r.Message)
	}
}

func requireFailed(t *testing.T, r engine.Receipt, want program.Code) {
	t.Helper()
	if r.Status != domain.TxFailed || r.Code == nil || program.Code(*r.Code) != want {
		t.Fatalf("expected %s, got status=%s code=%s msg=%s", want, r.Status, r.CodeName, r.Message)
	}
}

type market struct {
	creator, worker, judgeOwner solana.PrivateKey
	task, token, agent, judge   solana.PublicKey
}

// newMarket registers a worker and a judge and opens a task judged by that judge.
func newMarket(e *testEnv) market {
	e.t.Helper()
	m := market{creator: wallet(), worker: wallet(), judgeOwner: wallet(), token: solana.NewWallet().PublicKey()}
	m.agent = e.cell(domain.KindAgent)
	requireOK(e.t, e.run(&instruction.RegisterAgent{Name: "worker", Description: "labels", AgentType: domain.AgentWorker, PublicKey: "wpk"},
		m.worker, m.worker.PublicKey(), m.agent))

	judgeBase := e.cell(domain.KindAgent)
	requireOK(e.t, e.run(&instruction.RegisterAgent{Name: "judge", Description: "reviews", AgentType: domain.AgentJudge, PublicKey: "jpk"},
		m.judgeOwner, m.judgeOwner.PublicKey(), judgeBase))
	m.judge = e.cell(domain.KindJudge)
	requireOK(e.t, e.run(&instruction.RegisterJudge{Name: "judge", Description: "reviews", PublicKey: "jpk", Specialization: "vision"},
		m.judgeOwner, m.judgeOwner.PublicKey(), m.judge, judgeBase))

	m.task = e.cell(domain.KindTask)
	requireOK(e.t, e.run(&instruction.InitializeTask{
		Title:               "Label images",
		Summary:             "bounding boxes",
		EncryptedPayloadURL: "ipfs://payload",
		Deadline:            testNow.Unix() + 3600,
		RewardAmount:        1000,
		RewardCurrency:      "USDC",
		Judges:              []solana.PublicKey{m.judgeOwner.PublicKey()},
	}, m.creator, m.creator.PublicKey(), m.task, m.token))
	return m
}

func TestLifecycleSettlesTokens(t *testing.T) {
	env := newTestEnv(t)
	m := newMarket(env)
	env.deposit(m.creator.PublicKey(), "USDC", 1000)
	env.deposit(m.worker.PublicKey(), "SOL", 500)

	stake := env.cell(domain.KindStake)
	requireOK(t, env.run(&instruction.StakeOnTask{Amount: 500}, m.worker, m.worker.PublicKey(), stake, m.task, m.agent))
	if got := env.balance(stake, "SOL"); got != 500 {
		t.Fatalf("expected 500 SOL locked in stake, got %d", got)
	}

	deliv := env.cell(domain.KindDeliverable)
	requireOK(t, env.run(&instruction.SubmitDeliverable{
		EncryptedContentURL: "ipfs://result",
		EncryptionKeys:      []domain.EncryptionKey{{Judge: m.judgeOwner.PublicKey(), Key: "sealed"}},
	}, m.worker, m.worker.PublicKey(), deliv, m.task, m.agent))

	requireOK(t, env.run(&instruction.JudgeDeliverable{Score: 80, Feedback: "good"}, m.judgeOwner, m.judgeOwner.PublicKey(), deliv, m.task, m.judge))
	if task := env.task(m.task); task.Status != domain.TaskJudged || task.Outcome != domain.OutcomeAccepted {
		t.Fatalf("expected judged+accepted, got %s/%s", task.Status, task.Outcome)
	}

	requireOK(t, env.run(&instruction.CompleteTask{}, m.creator,
		m.creator.PublicKey(), m.task, m.agent, m.creator.PublicKey(), m.worker.PublicKey()))
	requireOK(t, env.run(&instruction.ReturnStake{}, m.judgeOwner, m.judgeOwner.PublicKey(), stake, m.agent, m.task))
	requireOK(t, env.run(&instruction.BurnTaskNFT{}, m.creator, m.creator.PublicKey(), m.task, m.token))

	if got := env.balance(m.worker.PublicKey(), "USDC"); got != 1000 {
		t.Fatalf("expected reward 1000 USDC, got %d", got)
	}
	if got := env.balance(m.creator.PublicKey(), "USDC"); got != 0 {
		t.Fatalf("expected creator drained, got %d", got)
	}
	if got := env.balance(m.worker.PublicKey(), "SOL"); got != 500 {
		t.Fatalf("expected stake returned, got %d", got)
	}
	tok, err := env.Engine.Repo.GetTaskToken(env.Ctx, nil, m.token)
	if err != nil || tok.BurnedAt == nil {
		t.Fatalf("expected burned token, got %+v %v", tok, err)
	}
	task := env.task(m.task)
	if task.Status != domain.TaskCompleted || !task.NFTID.IsZero() {
		t.Fatalf("unexpected final task %+v", task)
	}
	agent, err := codec.DecodeAgent(env.data(m.agent))
	if err != nil || agent.SuccessfulTasks != 1 || agent.ReputationScore != 80 {
		t.Fatalf("unexpected agent %+v %v", agent, err)
	}
}

func TestRewardNeverPaidFromThirdPartyWallet(t *testing.T) {
	env := newTestEnv(t)
	m := newMarket(env)
	bystander := wallet().PublicKey()
	env.deposit(bystander, "USDC", 1000)
	env.deposit(m.worker.PublicKey(), "SOL", 500)

	stake := env.cell(domain.KindStake)
	requireOK(t, env.run(&instruction.StakeOnTask{Amount: 500}, m.worker, m.worker.PublicKey(), stake, m.task, m.agent))
	deliv := env.cell(domain.KindDeliverable)
	requireOK(t, env.run(&instruction.SubmitDeliverable{EncryptedContentURL: "ipfs://result"},
		m.worker, m.worker.PublicKey(), deliv, m.task, m.agent))
	requireOK(t, env.run(&instruction.JudgeDeliverable{Score: 90}, m.judgeOwner, m.judgeOwner.PublicKey(), deliv, m.task, m.judge))

	r := env.run(&instruction.CompleteTask{}, m.creator,
		m.creator.PublicKey(), m.task, m.agent, bystander, m.worker.PublicKey())
	requireFailed(t, r, program.Unauthorized)
	if got := env.balance(bystander, "USDC"); got != 1000 {
		t.Fatalf("bystander balance moved to %d", got)
	}
	if got := env.balance(m.worker.PublicKey(), "USDC"); got != 0 {
		t.Fatalf("worker paid %d from someone else's wallet", got)
	}
	if task := env.task(m.task); task.Status != domain.TaskJudged {
		t.Fatalf("expected task still judged, got %s", task.Status)
	}

	// the creator cannot cover the reward either
	r = env.run(&instruction.CompleteTask{}, m.creator,
		m.creator.PublicKey(), m.task, m.agent, m.creator.PublicKey(), m.worker.PublicKey())
	requireFailed(t, r, program.InsufficientFunds)
}

func TestFailedInstructionIsAtomic(t *testing.T) {
	env := newTestEnv(t)
	m := newMarket(env)
	stake := env.cell(domain.KindStake)
	beforeTask, beforeStake := env.data(m.task), env.data(stake)

	// no SOL deposited: the custody call fails after every guard passed
	r := env.run(&instruction.StakeOnTask{Amount: 500}, m.worker, m.worker.PublicKey(), stake, m.task, m.agent)
	requireFailed(t, r, program.InsufficientFunds)

	if string(env.data(m.task)) != string(beforeTask) || string(env.data(stake)) != string(beforeStake) {
		t.Fatalf("cells changed by a failed transaction")
	}
	rec, err := env.Engine.Repo.GetTransaction(env.Ctx, r.ID)
	if err != nil {
		t.Fatalf("get transaction: %v", err)
	}
	if rec.Status != domain.TxFailed || rec.Code == nil || *rec.Code != uint32(program.InsufficientFunds) {
		t.Fatalf("unexpected record %+v", rec)
	}
	evts, err := env.Engine.Repo.LatestEvents(env.Ctx, repo.EventFilters{Type: events.TxFailed, EntityID: r.ID})
	if err != nil || len(evts) != 1 {
		t.Fatalf("expected one tx.failed event, got %d (%v)", len(evts), err)
	}
}

func TestJudgeCannotStake(t *testing.T) {
	env := newTestEnv(t)
	m := newMarket(env)
	judgeAgent := env.cell(domain.KindAgent)
	owner := wallet()
	requireOK(t, env.run(&instruction.RegisterAgent{Name: "j", AgentType: domain.AgentJudge}, owner, owner.PublicKey(), judgeAgent))
	env.deposit(owner.PublicKey(), "SOL", 10)
	stake := env.cell(domain.KindStake)
	requireFailed(t, env.run(&instruction.StakeOnTask{Amount: 10}, owner, owner.PublicKey(), stake, m.task, judgeAgent), program.InvalidAgentState)
	if got := env.balance(owner.PublicKey(), "SOL"); got != 10 {
		t.Fatalf("balance moved: %d", got)
	}
}

func TestSignatureRequired(t *testing.T) {
	env := newTestEnv(t)
	owner := wallet()
	agent := env.cell(domain.KindAgent)
	tx := env.build(&instruction.RegisterAgent{Name: "w", AgentType: domain.AgentWorker}, owner.PublicKey(), agent)

	r, err := env.Engine.Submit(env.Ctx, tx)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	requireFailed(t, r, program.MissingRequiredSignature)

	forged := wallet()
	sig, err := forged.Sign(tx.Message())
	if err != nil {
		t.Fatal(err)
	}
	tx.Signatures = []solana.Signature{sig}
	r, err = env.Engine.Submit(env.Ctx, tx)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	requireFailed(t, r, program.MissingRequiredSignature)
	if _, err := env.Engine.Repo.GetTransaction(env.Ctx, r.ID); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("unsigned transaction must not be recorded, got %v", err)
	}

	if err := tx.Sign(owner); err != nil {
		t.Fatal(err)
	}
	r, err = env.Engine.Submit(env.Ctx, tx)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	requireOK(t, r)
}

func TestReplayRejected(t *testing.T) {
	env := newTestEnv(t)
	owner := wallet()
	agent := env.cell(domain.KindAgent)
	tx := env.build(&instruction.RegisterAgent{Name: "w", AgentType: domain.AgentWorker}, owner.PublicKey(), agent)
	if err := tx.Sign(owner); err != nil {
		t.Fatal(err)
	}
	r, err := env.Engine.Submit(env.Ctx, tx)
	if err != nil {
		t.Fatal(err)
	}
	requireOK(t, r)
	if _, err := env.Engine.Submit(env.Ctx, tx); !errors.Is(err, engine.ErrReplay) {
		t.Fatalf("expected replay error, got %v", err)
	}
}

func TestWrongProgramRejected(t *testing.T) {
	env := newTestEnv(t)
	owner := wallet()
	agent := env.cell(domain.KindAgent)
	tx := env.build(&instruction.RegisterAgent{Name: "w", AgentType: domain.AgentWorker}, owner.PublicKey(), agent)
	tx.ProgramID = solana.NewWallet().PublicKey()
	if err := tx.Sign(owner); err != nil {
		t.Fatal(err)
	}
	r, err := env.Engine.Submit(env.Ctx, tx)
	if err != nil {
		t.Fatal(err)
	}
	requireFailed(t, r, program.InvalidArgument)
}

func TestDuplicateCellRejected(t *testing.T) {
	env := newTestEnv(t)
	owner := wallet()
	base := env.cell(domain.KindAgent)
	// the same cell as both judge and base agent
	r := env.run(&instruction.RegisterJudge{Name: "j"}, owner, owner.PublicKey(), base, base)
	requireFailed(t, r, program.InvalidArgument)
}

func TestCreateAccountRentExemption(t *testing.T) {
	env := newTestEnv(t)
	space, err := env.Engine.Space(domain.KindTask)
	if err != nil {
		t.Fatal(err)
	}
	min := env.Engine.Config.Rent.MinimumBalance(space)
	_, err = env.Engine.CreateAccount(env.Ctx, engine.AccountOptions{Kind: domain.KindTask, Lamports: min - 1})
	if !errors.Is(err, engine.ErrNotRentExempt) {
		t.Fatalf("expected rent error, got %v", err)
	}
	poor, err := env.Engine.CreateAccount(env.Ctx, engine.AccountOptions{Kind: domain.KindTask, Lamports: min - 1, AllowNonExempt: true})
	if err != nil {
		t.Fatal(err)
	}
	if len(poor.Data) != space || poor.Owner != env.Engine.Config.ProgramID() {
		t.Fatalf("unexpected account %+v", poor)
	}
	creator := wallet()
	r := env.run(&instruction.InitializeTask{Title: "t", Deadline: testNow.Unix() + 60, RewardCurrency: "USDC"},
		creator, creator.PublicKey(), poor.Key, solana.NewWallet().PublicKey())
	requireFailed(t, r, program.NotRentExempt)

	if _, err := env.Engine.CreateAccount(env.Ctx, engine.AccountOptions{Key: poor.Key, Kind: domain.KindTask}); !errors.Is(err, repo.ErrExists) {
		t.Fatalf("expected duplicate key error, got %v", err)
	}
	if _, err := env.Engine.CreateAccount(env.Ctx, engine.AccountOptions{Kind: "escrow"}); err == nil {
		t.Fatalf("expected unknown kind error")
	}
}

func TestSubmitBatchSerializesOverlappingStakes(t *testing.T) {
	env := newTestEnv(t)
	m := newMarket(env)
	const workers = 4
	var txs []engine.Transaction
	var owners []solana.PrivateKey
	for i := 0; i < workers; i++ {
		owner := wallet()
		agent := env.cell(domain.KindAgent)
		requireOK(t, env.run(&instruction.RegisterAgent{Name: "w", AgentType: domain.AgentWorker}, owner, owner.PublicKey(), agent))
		env.deposit(owner.PublicKey(), "SOL", 100)
		stake := env.cell(domain.KindStake)
		tx := env.build(&instruction.StakeOnTask{Amount: 100}, owner.PublicKey(), stake, m.task, agent)
		if err := tx.Sign(owner); err != nil {
			t.Fatal(err)
		}
		txs = append(txs, tx)
		owners = append(owners, owner)
	}
	receipts, err := env.Engine.SubmitBatch(env.Ctx, txs)
	if err != nil {
		t.Fatalf("batch: %v", err)
	}
	winners := 0
	for i, r := range receipts {
		if r.Succeeded() {
			winners++
			if got := env.balance(owners[i].PublicKey(), "SOL"); got != 0 {
				t.Fatalf("winner kept %d SOL", got)
			}
			continue
		}
		requireFailed(t, r, program.InvalidTaskState)
		if got := env.balance(owners[i].PublicKey(), "SOL"); got != 100 {
			t.Fatalf("loser lost SOL: %d", got)
		}
	}
	if winners != 1 {
		t.Fatalf("expected exactly one stake to win, got %d", winners)
	}
	if task := env.task(m.task); task.Status != domain.TaskStaked || task.Worker == nil {
		t.Fatalf("unexpected task %+v", task)
	}
}

func TestDepositEmitsEvent(t *testing.T) {
	env := newTestEnv(t)
	owner := solana.NewWallet().PublicKey()
	env.deposit(owner, "USDC", 7)
	b, err := env.Engine.Deposit(env.Ctx, owner, "USDC", 3, "tester")
	if err != nil || b.Amount != 10 {
		t.Fatalf("expected 10, got %+v %v", b, err)
	}
	if _, err := env.Engine.Deposit(env.Ctx, owner, "USDC", 0, "tester"); err == nil {
		t.Fatalf("expected zero amount error")
	}
	evts, err := env.Engine.Repo.LatestEvents(env.Ctx, repo.EventFilters{Type: events.BalanceDeposited})
	if err != nil || len(evts) != 2 || evts[0].EntityID != owner.String() {
		t.Fatalf("unexpected events %+v %v", evts, err)
	}
}

func TestDecodeCellByKind(t *testing.T) {
	env := newTestEnv(t)
	m := newMarket(env)
	v, err := engine.DecodeCell(domain.KindTask, env.data(m.task))
	if err != nil {
		t.Fatal(err)
	}
	if task, ok := v.(domain.Task); !ok || task.Title != "Label images" {
		t.Fatalf("unexpected view %#v", v)
	}
	empty := env.cell(domain.KindStake)
	if v, err := engine.DecodeCell(domain.KindStake, env.data(empty)); v != nil || err != nil {
		t.Fatalf("expected nil view for empty cell, got %v %v", v, err)
	}
	if _, err := engine.DecodeCell(domain.KindAgent, env.data(m.task)); err == nil {
		t.Fatalf("expected decode error for mismatched kind")
	}
	if _, err := engine.DecodeCell(domain.KindAgent, env.data(m.judge)); err == nil {
		t.Fatalf("expected a judge cell not to decode as an agent")
	}
}
