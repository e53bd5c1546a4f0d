// Package program is the task marketplace program: a stateless processor that
// decodes one instruction, validates the accounts it was handed and writes the
// next state of each record back into its cell.
package program

import (
	"context"
	"log/slog"

	"taskmarket/internal/codec"
	"taskmarket/internal/domain"
	"taskmarket/internal/instruction"
)

type processor struct {
	ctx      context.Context
	env      Env
	accounts []*AccountInfo
	writes   writeSet
	log      *slog.Logger
}

// Process runs one instruction. On error no account has been modified.
func Process(ctx context.Context, env Env, accounts []*AccountInfo, data []byte) error {
	log := env.logger()
	ix, err := instruction.Decode(data)
	if err != nil {
		log.Debug("rejected instruction", "err", err)
		return fail(InvalidInstructionData, "%v", err)
	}
	d := ix.Discriminant()
	log = log.With("instruction", d.String())

	if want := len(instruction.Layout(d)); len(accounts) < want {
		return fail(InvalidArgument, "%s takes %d accounts, got %d", d, want, len(accounts))
	}
	for i, a := range accounts {
		if a == nil {
			return fail(InvalidArgument, "account %d is missing", i)
		}
	}

	p := &processor{ctx: ctx, env: env, accounts: accounts, log: log}
	switch v := ix.(type) {
	case *instruction.InitializeTask:
		err = p.initializeTask(v)
	case *instruction.RegisterAgent:
		err = p.registerAgent(v)
	case *instruction.RegisterJudge:
		err = p.registerJudge(v)
	case *instruction.StakeOnTask:
		err = p.stakeOnTask(v)
	case *instruction.SubmitDeliverable:
		err = p.submitDeliverable(v)
	case *instruction.JudgeDeliverable:
		err = p.judgeDeliverable(v)
	case *instruction.CompleteTask:
		err = p.completeTask()
	case *instruction.ReturnStake:
		err = p.returnStake()
	case *instruction.BurnTaskNFT:
		err = p.burnTaskNFT()
	default:
		err = fail(InvalidInstructionData, "no handler for %s", d)
	}
	if err != nil {
		log.Debug("instruction failed", "err", err)
		return err
	}
	return p.writes.flush()
}

func (p *processor) account(i int) *AccountInfo { return p.accounts[i] }

// sysvars checks that the well-known slots of the current layout hold the
// injected ids.
func (p *processor) sysvars(d instruction.Discriminant) error {
	want := p.env.Sysvars
	for i, spec := range instruction.Layout(d) {
		var err error
		switch spec.Sysvar {
		case instruction.RentSysvar:
			err = requireKey(p.account(i), want.Rent)
		case instruction.TokenProgram:
			err = requireKey(p.account(i), want.Token)
		case instruction.SystemProgram:
			err = requireKey(p.account(i), want.System)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

func (p *processor) stageTask(a *AccountInfo, t domain.Task) error {
	data, err := codec.EncodeTask(t)
	return p.writes.stage(a, codec.TagTask, data, err)
}

func (p *processor) stageAgent(a *AccountInfo, ag domain.Agent) error {
	data, err := codec.EncodeAgent(ag)
	return p.writes.stage(a, codec.TagAgent, data, err)
}

func (p *processor) stageJudge(a *AccountInfo, j domain.Judge) error {
	data, err := codec.EncodeJudge(j)
	return p.writes.stage(a, codec.TagJudge, data, err)
}

func (p *processor) stageStake(a *AccountInfo, s domain.Stake) error {
	data, err := codec.EncodeStake(s)
	return p.writes.stage(a, codec.TagStake, data, err)
}

func (p *processor) stageDeliverable(a *AccountInfo, v domain.Deliverable) error {
	data, err := codec.EncodeDeliverable(v)
	return p.writes.stage(a, codec.TagDeliverable, data, err)
}

// The loaders below decode a record and map an uninitialized cell, or a
// cell holding another kind of record, to the entity's state error. A cell
// that does not decode is InvalidAccountData.

func requireRecord(a *AccountInfo, tag codec.Tag, c Code) error {
	if !a.initialized() {
		return fail(c, "%s %s is not initialized", tag, a.Key)
	}
	if got := codec.CellTag(a.Data); got != tag {
		return fail(c, "%s holds a %s record, not a %s", a.Key, got, tag)
	}
	return nil
}

func (p *processor) loadTask(a *AccountInfo) (domain.Task, error) {
	if err := requireRecord(a, codec.TagTask, InvalidTaskState); err != nil {
		return domain.Task{}, err
	}
	t, err := codec.DecodeTask(a.Data)
	if err != nil {
		return domain.Task{}, fail(InvalidAccountData, "task %s: %v", a.Key, err)
	}
	return t, nil
}

func (p *processor) loadAgent(a *AccountInfo) (domain.Agent, error) {
	if err := requireRecord(a, codec.TagAgent, InvalidAgentState); err != nil {
		return domain.Agent{}, err
	}
	ag, err := codec.DecodeAgent(a.Data)
	if err != nil {
		return domain.Agent{}, fail(InvalidAccountData, "agent %s: %v", a.Key, err)
	}
	return ag, nil
}

func (p *processor) loadJudge(a *AccountInfo) (domain.Judge, error) {
	if err := requireRecord(a, codec.TagJudge, InvalidJudgeState); err != nil {
		return domain.Judge{}, err
	}
	j, err := codec.DecodeJudge(a.Data)
	if err != nil {
		return domain.Judge{}, fail(InvalidAccountData, "judge %s: %v", a.Key, err)
	}
	return j, nil
}

func (p *processor) loadStake(a *AccountInfo) (domain.Stake, error) {
	if err := requireRecord(a, codec.TagStake, InvalidStakeState); err != nil {
		return domain.Stake{}, err
	}
	s, err := codec.DecodeStake(a.Data)
	if err != nil {
		return domain.Stake{}, fail(InvalidAccountData, "stake %s: %v", a.Key, err)
	}
	return s, nil
}

func (p *processor) loadDeliverable(a *AccountInfo) (domain.Deliverable, error) {
	if err := requireRecord(a, codec.TagDeliverable, InvalidDeliverable); err != nil {
		return domain.Deliverable{}, err
	}
	v, err := codec.DecodeDeliverable(a.Data)
	if err != nil {
		return domain.Deliverable{}, fail(InvalidAccountData, "deliverable %s: %v", a.Key, err)
	}
	return v, nil
}

func uninitialized(a *AccountInfo, c Code, what string) func() error {
	return func() error {
		if a.initialized() {
			return fail(c, "%s %s is already initialized", what, a.Key)
		}
		return nil
	}
}
