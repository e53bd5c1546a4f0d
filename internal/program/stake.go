package program

import (
	"taskmarket/internal/domain"
	"taskmarket/internal/instruction"
)

func (p *processor) stakeOnTask(ix *instruction.StakeOnTask) error {
	owner, stakeAcc, taskAcc, agentAcc := p.account(0), p.account(1), p.account(2), p.account(3)
	err := check(
		func() error { return requireSigner(owner) },
		func() error { return requireOwned(stakeAcc, p.env.ProgramID) },
		func() error { return requireOwned(taskAcc, p.env.ProgramID) },
		func() error { return requireOwned(agentAcc, p.env.ProgramID) },
		func() error { return requireWritable(stakeAcc) },
		func() error { return requireWritable(taskAcc) },
		uninitialized(stakeAcc, InvalidStakeState, "stake"),
		func() error {
			if ix.Amount == 0 {
				return fail(InvalidArgument, "stake amount must be positive")
			}
			return nil
		},
		func() error { return p.sysvars(instruction.DStakeOnTask) },
	)
	if err != nil {
		return err
	}
	task, err := p.loadTask(taskAcc)
	if err != nil {
		return err
	}
	agent, err := p.loadAgent(agentAcc)
	if err != nil {
		return err
	}
	if !agent.WalletAddress.Equals(owner.Key) {
		return fail(Unauthorized, "agent %s belongs to %s", agentAcc.Key, agent.WalletAddress)
	}
	if agent.AgentType != domain.AgentWorker {
		return fail(InvalidAgentState, "agent %s is a %s", agentAcc.Key, agent.AgentType)
	}
	if err := ensureBeforeDeadline(task.Deadline, p.env.Now); err != nil {
		return err
	}
	if err := ensureTaskTransition(task.Status, domain.TaskStaked); err != nil {
		return err
	}
	if err := requireRentExempt(stakeAcc, p.env.Rent); err != nil {
		return err
	}

	stake := domain.Stake{
		IsInitialized: true,
		TaskID:        taskAcc.Key,
		AgentID:       agentAcc.Key,
		Amount:        ix.Amount,
		Status:        domain.StakeActive,
		StakedAt:      p.env.Now,
	}
	worker := agentAcc.Key
	task.Status = domain.TaskStaked
	task.Worker = &worker
	task.UpdatedAt = p.env.Now

	if err := p.stageStake(stakeAcc, stake); err != nil {
		return err
	}
	if err := p.stageTask(taskAcc, task); err != nil {
		return err
	}
	if err := p.env.Custody.LockStake(p.ctx, owner.Key, stakeAcc.Key, p.env.Policy.StakeCurrency, ix.Amount); err != nil {
		return err
	}
	p.log.Info("stake placed", "task", taskAcc.Key, "agent", agentAcc.Key, "amount", ix.Amount)
	return nil
}

func (p *processor) returnStake() error {
	judgeKey, stakeAcc, agentAcc, taskAcc := p.account(0), p.account(1), p.account(2), p.account(4)
	err := check(
		func() error { return requireSigner(judgeKey) },
		func() error { return requireOwned(stakeAcc, p.env.ProgramID) },
		func() error { return requireOwned(agentAcc, p.env.ProgramID) },
		func() error { return requireOwned(taskAcc, p.env.ProgramID) },
		func() error { return requireWritable(stakeAcc) },
		func() error { return p.sysvars(instruction.DReturnStake) },
	)
	if err != nil {
		return err
	}
	stake, err := p.loadStake(stakeAcc)
	if err != nil {
		return err
	}
	if !stake.AgentID.Equals(agentAcc.Key) || !stake.TaskID.Equals(taskAcc.Key) {
		return fail(Unauthorized, "stake %s does not belong to agent %s on task %s", stakeAcc.Key, agentAcc.Key, taskAcc.Key)
	}
	task, err := p.loadTask(taskAcc)
	if err != nil {
		return err
	}
	if !task.HasJudge(judgeKey.Key) {
		return fail(Unauthorized, "%s is not a judge of task %s", judgeKey.Key, taskAcc.Key)
	}
	if err := ensureStakeTransition(stake.Status, domain.StakeReturned); err != nil {
		return err
	}
	agent, err := p.loadAgent(agentAcc)
	if err != nil {
		return err
	}

	released := p.env.Now
	stake.Status = domain.StakeReturned
	stake.ReleasedAt = &released
	if err := p.stageStake(stakeAcc, stake); err != nil {
		return err
	}
	err = p.env.Custody.ReleaseStake(p.ctx, stakeAcc.Key, agent.WalletAddress, p.env.Policy.StakeCurrency, stake.Amount)
	if err != nil {
		return err
	}
	p.log.Info("stake returned", "stake", stakeAcc.Key, "amount", stake.Amount)
	return nil
}
