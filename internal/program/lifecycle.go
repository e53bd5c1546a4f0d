package program

import (
	"taskmarket/internal/domain"
)

func ensureTaskTransition(from, to domain.TaskStatus) error {
	ok := false
	switch from {
	case domain.TaskCreated:
		ok = to == domain.TaskStaked
	case domain.TaskStaked:
		ok = to == domain.TaskInProgress || to == domain.TaskSubmitted
	case domain.TaskInProgress:
		ok = to == domain.TaskSubmitted
	case domain.TaskSubmitted:
		ok = to == domain.TaskJudged
	case domain.TaskJudged:
		ok = to == domain.TaskCompleted
	}
	if !ok {
		return fail(InvalidTaskState, "task cannot move from %s to %s", from, to)
	}
	return nil
}

func ensureStakeTransition(from, to domain.StakeStatus) error {
	if from == domain.StakeActive && (to == domain.StakeReturned || to == domain.StakeForfeited) {
		return nil
	}
	return fail(InvalidStakeState, "stake cannot move from %s to %s", from, to)
}

func ensureDeliverableTransition(from, to domain.DeliverableStatus) error {
	ok := false
	switch from {
	case domain.DeliverableSubmitted:
		ok = to == domain.DeliverableJudged || to == domain.DeliverableAccepted || to == domain.DeliverableRejected
	case domain.DeliverableJudged:
		ok = to == domain.DeliverableJudged || to == domain.DeliverableAccepted || to == domain.DeliverableRejected
	}
	if !ok {
		return fail(InvalidDeliverable, "deliverable cannot move from %s to %s", from, to)
	}
	return nil
}

// ensureBeforeDeadline rejects any task transition short of completion once
// the deadline is reached.
func ensureBeforeDeadline(deadline, now int64) error {
	if now >= deadline {
		return fail(TaskDeadlineExpired, "deadline %d reached at %d", deadline, now)
	}
	return nil
}

// verdict resolves the final deliverable status from the mean score.
func verdict(mean, threshold uint8) (domain.DeliverableStatus, domain.Outcome) {
	if mean >= threshold {
		return domain.DeliverableAccepted, domain.OutcomeAccepted
	}
	return domain.DeliverableRejected, domain.OutcomeRejected
}
