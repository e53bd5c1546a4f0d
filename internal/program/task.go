package program

import (
	"github.com/gagliardetto/solana-go"

	"taskmarket/internal/domain"
	"taskmarket/internal/instruction"
)

func (p *processor) initializeTask(ix *instruction.InitializeTask) error {
	creator, taskAcc, token := p.account(0), p.account(1), p.account(2)
	err := check(
		func() error { return requireSigner(creator) },
		func() error { return requireOwned(taskAcc, p.env.ProgramID) },
		func() error { return requireWritable(taskAcc) },
		func() error { return requireWritable(token) },
		uninitialized(taskAcc, InvalidTaskState, "task"),
		func() error { return p.sysvars(instruction.DInitializeTask) },
		func() error { return requireRentExempt(taskAcc, p.env.Rent) },
	)
	if err != nil {
		return err
	}
	if ix.Deadline <= p.env.Now {
		return fail(TaskDeadlineExpired, "deadline %d is not after %d", ix.Deadline, p.env.Now)
	}
	judges, err := domain.JudgeSlots(ix.Judges)
	if err != nil {
		return fail(InvalidArgument, "%v", err)
	}

	task := domain.Task{
		IsInitialized:       true,
		NFTID:               token.Key,
		Title:               ix.Title,
		Summary:             ix.Summary,
		EncryptedPayloadURL: ix.EncryptedPayloadURL,
		CreatorID:           creator.Key,
		Status:              domain.TaskCreated,
		Deadline:            ix.Deadline,
		RewardAmount:        ix.RewardAmount,
		RewardCurrency:      ix.RewardCurrency,
		Judges:              judges,
		CreatedAt:           p.env.Now,
		UpdatedAt:           p.env.Now,
		Outcome:             domain.OutcomePending,
	}
	if err := p.stageTask(taskAcc, task); err != nil {
		return err
	}
	if err := p.env.Custody.MintTaskToken(p.ctx, token.Key, taskAcc.Key, creator.Key); err != nil {
		return err
	}
	p.log.Info("task initialized", "task", taskAcc.Key, "judges", task.JudgeCount())
	return nil
}

func (p *processor) completeTask() error {
	creator, taskAcc, agentAcc := p.account(0), p.account(1), p.account(2)
	taskWallet, agentWallet := p.account(3), p.account(4)
	err := check(
		func() error { return requireSigner(creator) },
		func() error { return requireOwned(taskAcc, p.env.ProgramID) },
	)
	if err != nil {
		return err
	}
	task, err := p.loadTask(taskAcc)
	if err != nil {
		return err
	}
	if !task.CreatorID.Equals(creator.Key) {
		return fail(Unauthorized, "%s is not the task creator", creator.Key)
	}
	err = check(
		func() error { return requireOwned(agentAcc, p.env.ProgramID) },
		func() error { return requireWritable(taskAcc) },
		func() error { return requireWritable(agentAcc) },
		func() error { return p.sysvars(instruction.DCompleteTask) },
	)
	if err != nil {
		return err
	}
	if err := ensureTaskTransition(task.Status, domain.TaskCompleted); err != nil {
		return err
	}
	// The reward is paid out of the signing creator's own balance.
	if !taskWallet.Key.Equals(task.CreatorID) {
		return fail(Unauthorized, "%s is not the creator's wallet", taskWallet.Key)
	}
	if task.Worker == nil || !task.Worker.Equals(agentAcc.Key) {
		return fail(Unauthorized, "%s is not the task worker", agentAcc.Key)
	}
	agent, err := p.loadAgent(agentAcc)
	if err != nil {
		return err
	}
	if !agent.WalletAddress.Equals(agentWallet.Key) {
		return fail(Unauthorized, "%s is not the worker wallet", agentWallet.Key)
	}

	accepted := task.Outcome == domain.OutcomeAccepted
	task.Status = domain.TaskCompleted
	task.UpdatedAt = p.env.Now
	agent.CompletedTasks++
	if accepted {
		agent.SuccessfulTasks++
		agent.ReputationScore += uint64(task.FinalScore)
	}
	agent.UpdatedAt = p.env.Now

	if err := p.stageTask(taskAcc, task); err != nil {
		return err
	}
	if err := p.stageAgent(agentAcc, agent); err != nil {
		return err
	}
	if accepted && task.RewardAmount > 0 {
		err := p.env.Custody.TransferReward(p.ctx, taskWallet.Key, agentWallet.Key, task.RewardCurrency, task.RewardAmount)
		if err != nil {
			return err
		}
	}
	p.log.Info("task completed", "task", taskAcc.Key, "outcome", task.Outcome.String())
	return nil
}

func (p *processor) burnTaskNFT() error {
	creator, taskAcc, token := p.account(0), p.account(1), p.account(2)
	err := check(
		func() error { return requireSigner(creator) },
		func() error { return requireOwned(taskAcc, p.env.ProgramID) },
		func() error { return requireWritable(taskAcc) },
		func() error { return requireWritable(token) },
		func() error { return p.sysvars(instruction.DBurnTaskNFT) },
	)
	if err != nil {
		return err
	}
	task, err := p.loadTask(taskAcc)
	if err != nil {
		return err
	}
	if !task.CreatorID.Equals(creator.Key) {
		return fail(Unauthorized, "%s is not the task creator", creator.Key)
	}
	if task.NFTID.IsZero() || !task.NFTID.Equals(token.Key) {
		return fail(Unauthorized, "%s is not the task token", token.Key)
	}

	task.NFTID = solana.PublicKey{}
	task.UpdatedAt = p.env.Now
	if err := p.stageTask(taskAcc, task); err != nil {
		return err
	}
	if err := p.env.Custody.BurnTaskToken(p.ctx, token.Key, creator.Key); err != nil {
		return err
	}
	p.log.Info("task token burned", "task", taskAcc.Key)
	return nil
}
