package program

import (
	"taskmarket/internal/domain"
	"taskmarket/internal/instruction"
)

func (p *processor) registerAgent(ix *instruction.RegisterAgent) error {
	owner, agentAcc := p.account(0), p.account(1)
	err := check(
		func() error { return requireSigner(owner) },
		func() error { return requireOwned(agentAcc, p.env.ProgramID) },
		func() error { return requireWritable(agentAcc) },
		uninitialized(agentAcc, InvalidAgentState, "agent"),
		func() error { return p.sysvars(instruction.DRegisterAgent) },
		func() error { return requireRentExempt(agentAcc, p.env.Rent) },
	)
	if err != nil {
		return err
	}
	if !ix.AgentType.Valid() {
		return fail(InvalidInstructionData, "agent type %d", ix.AgentType)
	}

	agent := domain.Agent{
		IsInitialized: true,
		Name:          ix.Name,
		Description:   ix.Description,
		AgentType:     ix.AgentType,
		WalletAddress: owner.Key,
		PublicKey:     ix.PublicKey,
		CreatedAt:     p.env.Now,
		UpdatedAt:     p.env.Now,
	}
	if err := p.stageAgent(agentAcc, agent); err != nil {
		return err
	}
	p.log.Info("agent registered", "agent", agentAcc.Key, "type", agent.AgentType.String())
	return nil
}

func (p *processor) registerJudge(ix *instruction.RegisterJudge) error {
	owner, judgeAcc, agentAcc := p.account(0), p.account(1), p.account(2)
	err := check(
		func() error { return requireSigner(owner) },
		func() error { return requireOwned(judgeAcc, p.env.ProgramID) },
		func() error { return requireOwned(agentAcc, p.env.ProgramID) },
		func() error { return requireWritable(judgeAcc) },
		uninitialized(judgeAcc, InvalidJudgeState, "judge"),
		func() error { return p.sysvars(instruction.DRegisterJudge) },
	)
	if err != nil {
		return err
	}
	base, err := p.loadAgent(agentAcc)
	if err != nil {
		return err
	}
	if !base.WalletAddress.Equals(owner.Key) {
		return fail(Unauthorized, "agent %s belongs to %s", agentAcc.Key, base.WalletAddress)
	}
	if base.AgentType != domain.AgentJudge {
		return fail(InvalidAgentState, "agent %s is a %s", agentAcc.Key, base.AgentType)
	}
	if err := requireRentExempt(judgeAcc, p.env.Rent); err != nil {
		return err
	}

	judge := domain.Judge{
		Agent: domain.Agent{
			IsInitialized:   true,
			Name:            ix.Name,
			Description:     ix.Description,
			AgentType:       domain.AgentJudge,
			WalletAddress:   owner.Key,
			PublicKey:       ix.PublicKey,
			ReputationScore: base.ReputationScore,
			CompletedTasks:  base.CompletedTasks,
			SuccessfulTasks: base.SuccessfulTasks,
			CreatedAt:       p.env.Now,
			UpdatedAt:       p.env.Now,
		},
		Specialization: ix.Specialization,
	}
	if err := p.stageJudge(judgeAcc, judge); err != nil {
		return err
	}
	p.log.Info("judge registered", "judge", judgeAcc.Key, "agent", agentAcc.Key)
	return nil
}
