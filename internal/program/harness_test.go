package program

import (
	"bytes"
	"context"
	"testing"

	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/require"

	"taskmarket/internal/codec"
	"taskmarket/internal/domain"
	"taskmarket/internal/instruction"
)

const testNow = int64(1_700_000_000)

var limits = codec.Limits{MaxStringLen: 64}

type fakeRent struct{ min uint64 }

func (r fakeRent) IsExempt(lamports uint64, _ int) bool { return lamports >= r.min }

type custodyCall struct {
	Op       string
	From, To solana.PublicKey
	Currency string
	Amount   uint64
}

type fakeCustody struct {
	calls []custodyCall
	err   error
}

func (c *fakeCustody) record(call custodyCall) error {
	if c.err != nil {
		return c.err
	}
	c.calls = append(c.calls, call)
	return nil
}

func (c *fakeCustody) MintTaskToken(_ context.Context, mint, task, owner solana.PublicKey) error {
	return c.record(custodyCall{Op: "mint", From: mint, To: owner})
}

func (c *fakeCustody) BurnTaskToken(_ context.Context, mint, owner solana.PublicKey) error {
	return c.record(custodyCall{Op: "burn", From: mint, To: owner})
}

func (c *fakeCustody) LockStake(_ context.Context, from, stake solana.PublicKey, currency string, amount uint64) error {
	return c.record(custodyCall{Op: "lock", From: from, To: stake, Currency: currency, Amount: amount})
}

func (c *fakeCustody) ReleaseStake(_ context.Context, stake, to solana.PublicKey, currency string, amount uint64) error {
	return c.record(custodyCall{Op: "release", From: stake, To: to, Currency: currency, Amount: amount})
}

func (c *fakeCustody) TransferReward(_ context.Context, from, to solana.PublicKey, currency string, amount uint64) error {
	return c.record(custodyCall{Op: "reward", From: from, To: to, Currency: currency, Amount: amount})
}

type harness struct {
	t       *testing.T
	env     Env
	custody *fakeCustody
	cells   map[solana.PublicKey]*AccountInfo
	next    uint16
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{t: t, custody: &fakeCustody{}, cells: map[solana.PublicKey]*AccountInfo{}}
	h.env = Env{
		ProgramID: h.newKey(),
		Sysvars:   instruction.WellKnown{Rent: h.newKey(), Token: h.newKey(), System: h.newKey()},
		Now:       testNow,
		Rent:      fakeRent{min: 100},
		Custody:   h.custody,
		Policy:    Policy{AcceptanceThreshold: 60, StakeCurrency: "SOL"},
	}
	return h
}

func (h *harness) newKey() solana.PublicKey {
	h.next++
	var k solana.PublicKey
	k[0], k[1], k[31] = byte(h.next>>8), byte(h.next), 0xA5
	return k
}

// cell allocates a zeroed, funded, program-owned cell.
func (h *harness) cell(space int) solana.PublicKey {
	k := h.newKey()
	h.cells[k] = &AccountInfo{Key: k, Owner: h.env.ProgramID, Lamports: 1_000, Data: make([]byte, space)}
	return k
}

// run executes ix with the given signer; a zero signer means nobody signed.
func (h *harness) run(ix instruction.Instruction, signer solana.PublicKey, keys ...solana.PublicKey) error {
	h.t.Helper()
	data, err := instruction.Encode(ix)
	require.NoError(h.t, err)
	metas, err := instruction.Metas(ix.Discriminant(), h.env.Sysvars, keys...)
	require.NoError(h.t, err)
	return h.runRaw(data, signer, metas)
}

func (h *harness) runRaw(data []byte, signer solana.PublicKey, metas solana.AccountMetaSlice) error {
	accounts := make([]*AccountInfo, len(metas))
	for i, m := range metas {
		acc := AccountInfo{Key: m.PublicKey}
		if c, ok := h.cells[m.PublicKey]; ok {
			acc = *c
		}
		acc.IsWritable = m.IsWritable
		acc.IsSigner = m.IsSigner && !signer.IsZero() && m.PublicKey.Equals(signer)
		accounts[i] = &acc
	}
	return Process(context.Background(), h.env, accounts, data)
}

func (h *harness) snapshot() map[solana.PublicKey][]byte {
	out := make(map[solana.PublicKey][]byte, len(h.cells))
	for k, c := range h.cells {
		out[k] = bytes.Clone(c.Data)
	}
	return out
}

func (h *harness) requireUnchanged(before map[solana.PublicKey][]byte) {
	h.t.Helper()
	for k, data := range before {
		require.Equal(h.t, data, h.cells[k].Data, "cell %s changed", k)
	}
}

func (h *harness) task(k solana.PublicKey) domain.Task {
	h.t.Helper()
	v, err := codec.DecodeTask(h.cells[k].Data)
	require.NoError(h.t, err)
	return v
}

func (h *harness) agent(k solana.PublicKey) domain.Agent {
	h.t.Helper()
	v, err := codec.DecodeAgent(h.cells[k].Data)
	require.NoError(h.t, err)
	return v
}

func (h *harness) judge(k solana.PublicKey) domain.Judge {
	h.t.Helper()
	v, err := codec.DecodeJudge(h.cells[k].Data)
	require.NoError(h.t, err)
	return v
}

func (h *harness) stake(k solana.PublicKey) domain.Stake {
	h.t.Helper()
	v, err := codec.DecodeStake(h.cells[k].Data)
	require.NoError(h.t, err)
	return v
}

func (h *harness) deliverable(k solana.PublicKey) domain.Deliverable {
	h.t.Helper()
	v, err := codec.DecodeDeliverable(h.cells[k].Data)
	require.NoError(h.t, err)
	return v
}

type taskRefs struct {
	creator, task, token solana.PublicKey
}

func (h *harness) createTask(judges ...solana.PublicKey) taskRefs {
	h.t.Helper()
	r := taskRefs{creator: h.newKey(), task: h.cell(codec.TaskSpace(limits)), token: h.newKey()}
	err := h.run(&instruction.InitializeTask{
		Title:               "Label images",
		Summary:             "bounding boxes",
		EncryptedPayloadURL: "ipfs://payload",
		Deadline:            testNow + 3600,
		RewardAmount:        1000,
		RewardCurrency:      "USDC",
		Judges:              judges,
	}, r.creator, r.creator, r.task, r.token)
	require.NoError(h.t, err)
	return r
}

type agentRefs struct {
	owner, agent solana.PublicKey
}

func (h *harness) registerAgent(name string, typ domain.AgentType) agentRefs {
	h.t.Helper()
	r := agentRefs{owner: h.newKey(), agent: h.cell(codec.AgentSpace(limits))}
	err := h.run(&instruction.RegisterAgent{Name: name, Description: "d", AgentType: typ, PublicKey: "pk"},
		r.owner, r.owner, r.agent)
	require.NoError(h.t, err)
	return r
}

type judgeRefs struct {
	agentRefs
	judge solana.PublicKey
}

func (h *harness) registerJudge(name string) judgeRefs {
	h.t.Helper()
	r := judgeRefs{agentRefs: h.registerAgent(name, domain.AgentJudge), judge: h.cell(codec.JudgeSpace(limits))}
	err := h.run(&instruction.RegisterJudge{Name: name, Description: "d", PublicKey: "pk", Specialization: "vision"},
		r.owner, r.owner, r.judge, r.agent)
	require.NoError(h.t, err)
	return r
}

func (h *harness) stakeOn(w agentRefs, task solana.PublicKey, amount uint64) (solana.PublicKey, error) {
	h.t.Helper()
	stake := h.cell(codec.StakeSpace(limits))
	return stake, h.run(&instruction.StakeOnTask{Amount: amount}, w.owner, w.owner, stake, task, w.agent)
}

func (h *harness) submit(w agentRefs, task solana.PublicKey, keys ...domain.EncryptionKey) (solana.PublicKey, error) {
	h.t.Helper()
	deliv := h.cell(codec.DeliverableSpace(limits))
	ix := &instruction.SubmitDeliverable{EncryptedContentURL: "ipfs://result", EncryptionKeys: keys}
	return deliv, h.run(ix, w.owner, w.owner, deliv, task, w.agent)
}

func (h *harness) score(j judgeRefs, deliv, task solana.PublicKey, score uint8) error {
	h.t.Helper()
	return h.run(&instruction.JudgeDeliverable{Score: score, Feedback: "fb"}, j.owner, j.owner, deliv, task, j.judge)
}

func requireCode(t *testing.T, err error, want Code) {
	t.Helper()
	require.Error(t, err)
	got, ok := CodeOf(err)
	require.True(t, ok, "error %v carries no code", err)
	require.Equal(t, want, got, "error: %v", err)
}
