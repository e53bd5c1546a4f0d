package program

import (
	"github.com/gagliardetto/solana-go"

	"taskmarket/internal/domain"
	"taskmarket/internal/instruction"
)

func (p *processor) submitDeliverable(ix *instruction.SubmitDeliverable) error {
	owner, delivAcc, taskAcc, agentAcc := p.account(0), p.account(1), p.account(2), p.account(3)
	err := check(
		func() error { return requireSigner(owner) },
		func() error { return requireOwned(delivAcc, p.env.ProgramID) },
		func() error { return requireOwned(taskAcc, p.env.ProgramID) },
		func() error { return requireOwned(agentAcc, p.env.ProgramID) },
		func() error { return requireWritable(delivAcc) },
		func() error { return requireWritable(taskAcc) },
		uninitialized(delivAcc, InvalidDeliverable, "deliverable"),
		func() error { return p.sysvars(instruction.DSubmitDeliverable) },
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
	if err := ensureTaskTransition(task.Status, domain.TaskSubmitted); err != nil {
		return err
	}
	if task.Worker == nil || !task.Worker.Equals(agentAcc.Key) {
		return fail(Unauthorized, "%s does not hold the stake on task %s", agentAcc.Key, taskAcc.Key)
	}
	if err := validateKeys(task, ix); err != nil {
		return err
	}
	if err := requireRentExempt(delivAcc, p.env.Rent); err != nil {
		return err
	}

	deliv := domain.Deliverable{
		IsInitialized:       true,
		TaskID:              taskAcc.Key,
		AgentID:             agentAcc.Key,
		EncryptedContentURL: ix.EncryptedContentURL,
		EncryptionKeys:      ix.EncryptionKeys,
		Status:              domain.DeliverableSubmitted,
		SubmittedAt:         p.env.Now,
	}
	task.Status = domain.TaskSubmitted
	task.UpdatedAt = p.env.Now

	if err := p.stageDeliverable(delivAcc, deliv); err != nil {
		return err
	}
	if err := p.stageTask(taskAcc, task); err != nil {
		return err
	}
	p.log.Info("deliverable submitted", "task", taskAcc.Key, "deliverable", delivAcc.Key)
	return nil
}

func validateKeys(task domain.Task, ix *instruction.SubmitDeliverable) error {
	if ix.EncryptedContentURL == "" {
		return fail(InvalidDeliverable, "content url is empty")
	}
	if len(ix.EncryptionKeys) > domain.MaxJudges {
		return fail(InvalidDeliverable, "%d encryption keys, at most %d allowed", len(ix.EncryptionKeys), domain.MaxJudges)
	}
	seen := make(map[solana.PublicKey]bool, len(ix.EncryptionKeys))
	for _, k := range ix.EncryptionKeys {
		if !task.HasJudge(k.Judge) {
			return fail(InvalidDeliverable, "%s is not a judge of the task", k.Judge)
		}
		if seen[k.Judge] {
			return fail(InvalidDeliverable, "duplicate key for judge %s", k.Judge)
		}
		seen[k.Judge] = true
	}
	return nil
}

func (p *processor) judgeDeliverable(ix *instruction.JudgeDeliverable) error {
	owner, delivAcc, taskAcc, judgeAcc := p.account(0), p.account(1), p.account(2), p.account(3)
	err := check(
		func() error { return requireSigner(owner) },
		func() error { return requireOwned(delivAcc, p.env.ProgramID) },
		func() error { return requireOwned(taskAcc, p.env.ProgramID) },
		func() error { return requireOwned(judgeAcc, p.env.ProgramID) },
		func() error { return requireWritable(delivAcc) },
		func() error { return requireWritable(taskAcc) },
		func() error { return requireWritable(judgeAcc) },
		func() error { return p.sysvars(instruction.DJudgeDeliverable) },
	)
	if err != nil {
		return err
	}
	if ix.Score > domain.MaxScore {
		return fail(InvalidDeliverable, "score %d is above %d", ix.Score, domain.MaxScore)
	}
	judge, err := p.loadJudge(judgeAcc)
	if err != nil {
		return err
	}
	if judge.Agent.AgentType != domain.AgentJudge {
		return fail(InvalidJudgeState, "judge %s is a %s", judgeAcc.Key, judge.Agent.AgentType)
	}
	if !judge.Agent.WalletAddress.Equals(owner.Key) {
		return fail(Unauthorized, "judge %s belongs to %s", judgeAcc.Key, judge.Agent.WalletAddress)
	}
	task, err := p.loadTask(taskAcc)
	if err != nil {
		return err
	}
	deliv, err := p.loadDeliverable(delivAcc)
	if err != nil {
		return err
	}
	if !deliv.TaskID.Equals(taskAcc.Key) {
		return fail(Unauthorized, "deliverable %s is for task %s", delivAcc.Key, deliv.TaskID)
	}
	if !task.HasJudge(owner.Key) {
		return fail(Unauthorized, "%s is not a judge of task %s", owner.Key, taskAcc.Key)
	}
	if task.Status != domain.TaskSubmitted {
		return fail(InvalidTaskState, "task is %s", task.Status)
	}
	if err := ensureBeforeDeadline(task.Deadline, p.env.Now); err != nil {
		return err
	}
	if deliv.Status != domain.DeliverableSubmitted && deliv.Status != domain.DeliverableJudged {
		return fail(InvalidDeliverable, "deliverable is %s", deliv.Status)
	}
	if deliv.ScoredBy(owner.Key) {
		return fail(InvalidJudgeState, "%s already scored this deliverable", owner.Key)
	}

	slot := -1
	for i, s := range deliv.Scores {
		if s == nil {
			slot = i
			break
		}
	}
	if slot < 0 {
		return fail(InvalidDeliverable, "no free score slot")
	}
	deliv.Scores[slot] = &domain.JudgeScore{Judge: owner.Key, Score: ix.Score}
	deliv.Feedback = ix.Feedback
	deliv.Score = deliv.MeanScore()
	judgedAt := p.env.Now
	deliv.JudgedAt = &judgedAt

	next := domain.DeliverableJudged
	final := deliv.ScoreCount() >= task.JudgeCount()
	if final {
		var outcome domain.Outcome
		next, outcome = verdict(deliv.Score, p.env.Policy.AcceptanceThreshold)
		if err := ensureTaskTransition(task.Status, domain.TaskJudged); err != nil {
			return err
		}
		task.Status = domain.TaskJudged
		task.Outcome = outcome
		task.FinalScore = deliv.Score
		task.UpdatedAt = p.env.Now
	}
	if err := ensureDeliverableTransition(deliv.Status, next); err != nil {
		return err
	}
	deliv.Status = next
	judge.JudgedTasks++
	judge.Agent.UpdatedAt = p.env.Now

	if err := p.stageDeliverable(delivAcc, deliv); err != nil {
		return err
	}
	if err := p.stageJudge(judgeAcc, judge); err != nil {
		return err
	}
	if final {
		if err := p.stageTask(taskAcc, task); err != nil {
			return err
		}
	}
	p.log.Info("deliverable judged", "deliverable", delivAcc.Key, "score", ix.Score, "status", next.String())
	return nil
}
