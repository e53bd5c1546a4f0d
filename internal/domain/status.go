package domain

import (
	"fmt"
	"strings"
)

type TaskStatus uint8

const (
	TaskCreated TaskStatus = iota
	TaskStaked
	TaskInProgress
	TaskSubmitted
	TaskJudged
	TaskCompleted
)

var taskStatusNames = [...]string{"created", "staked", "in_progress", "submitted", "judged", "completed"}

func (s TaskStatus) Valid() bool { return int(s) < len(taskStatusNames) }

func (s TaskStatus) String() string {
	if !s.Valid() {
		return fmt.Sprintf("task_status(%d)", uint8(s))
	}
	return taskStatusNames[s]
}

func (s TaskStatus) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

func (s *TaskStatus) UnmarshalText(b []byte) error {
	v, err := parseEnum(string(b), taskStatusNames[:])
	if err != nil {
		return fmt.Errorf("task status: %w", err)
	}
	*s = TaskStatus(v)
	return nil
}

type AgentType uint8

const (
	AgentWorker AgentType = iota
	AgentJudge
)

var agentTypeNames = [...]string{"worker", "judge"}

func (t AgentType) Valid() bool { return int(t) < len(agentTypeNames) }

func (t AgentType) String() string {
	if !t.Valid() {
		return fmt.Sprintf("agent_type(%d)", uint8(t))
	}
	return agentTypeNames[t]
}

func (t AgentType) MarshalText() ([]byte, error) { return []byte(t.String()), nil }

func (t *AgentType) UnmarshalText(b []byte) error {
	v, err := ParseAgentType(string(b))
	if err != nil {
		return err
	}
	*t = v
	return nil
}

// ParseAgentType accepts "worker" or "judge", case-insensitively.
func ParseAgentType(s string) (AgentType, error) {
	v, err := parseEnum(s, agentTypeNames[:])
	if err != nil {
		return 0, fmt.Errorf("agent type: %w", err)
	}
	return AgentType(v), nil
}

type StakeStatus uint8

const (
	StakeActive StakeStatus = iota
	StakeReturned
	StakeForfeited
)

var stakeStatusNames = [...]string{"active", "returned", "forfeited"}

func (s StakeStatus) Valid() bool { return int(s) < len(stakeStatusNames) }

func (s StakeStatus) String() string {
	if !s.Valid() {
		return fmt.Sprintf("stake_status(%d)", uint8(s))
	}
	return stakeStatusNames[s]
}

func (s StakeStatus) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

func (s *StakeStatus) UnmarshalText(b []byte) error {
	v, err := parseEnum(string(b), stakeStatusNames[:])
	if err != nil {
		return fmt.Errorf("stake status: %w", err)
	}
	*s = StakeStatus(v)
	return nil
}

type DeliverableStatus uint8

const (
	DeliverableSubmitted DeliverableStatus = iota
	DeliverableJudged
	DeliverableAccepted
	DeliverableRejected
)

var deliverableStatusNames = [...]string{"submitted", "judged", "accepted", "rejected"}

func (s DeliverableStatus) Valid() bool { return int(s) < len(deliverableStatusNames) }

func (s DeliverableStatus) String() string {
	if !s.Valid() {
		return fmt.Sprintf("deliverable_status(%d)", uint8(s))
	}
	return deliverableStatusNames[s]
}

func (s DeliverableStatus) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

func (s *DeliverableStatus) UnmarshalText(b []byte) error {
	v, err := parseEnum(string(b), deliverableStatusNames[:])
	if err != nil {
		return fmt.Errorf("deliverable status: %w", err)
	}
	*s = DeliverableStatus(v)
	return nil
}

// Outcome is the judging verdict carried on the task once every judge scored.
type Outcome uint8

const (
	OutcomePending Outcome = iota
	OutcomeAccepted
	OutcomeRejected
)

var outcomeNames = [...]string{"pending", "accepted", "rejected"}

func (o Outcome) Valid() bool { return int(o) < len(outcomeNames) }

func (o Outcome) String() string {
	if !o.Valid() {
		return fmt.Sprintf("outcome(%d)", uint8(o))
	}
	return outcomeNames[o]
}

func (o Outcome) MarshalText() ([]byte, error) { return []byte(o.String()), nil }

func (o *Outcome) UnmarshalText(b []byte) error {
	v, err := parseEnum(string(b), outcomeNames[:])
	if err != nil {
		return fmt.Errorf("outcome: %w", err)
	}
	*o = Outcome(v)
	return nil
}

func parseEnum(s string, names []string) (int, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for i, n := range names {
		if n == s {
			return i, nil
		}
	}
	return 0, fmt.Errorf("unknown value %q (want one of %s)", s, strings.Join(names, ", "))
}
