package codec

import "taskmarket/internal/domain"

// Limits bounds the variable-length fields so a cell can be sized before the
// record that goes into it is known.
type Limits struct {
	MaxStringLen int
}

func (l Limits) str() int { return 4 + l.MaxStringLen }

const (
	optKey = 1 + keyLen
	optI64 = 1 + 8
)

// The *Space functions size a cell for the largest record of a kind plus its
// tag.

func TaskSpace(l Limits) int {
	return TagLen + 1 + keyLen + 3*l.str() + keyLen + 1 + 8 + 8 + l.str() +
		domain.MaxJudges*optKey + 8 + 8 + optKey + 1 + 1
}

func AgentSpace(l Limits) int {
	return TagLen + 1 + 2*l.str() + 1 + keyLen + l.str() + 8 + 4 + 4 + 8 + 8
}

func JudgeSpace(l Limits) int {
	return AgentSpace(l) + l.str() + 4
}

func StakeSpace(Limits) int {
	return TagLen + 1 + keyLen + keyLen + 8 + 1 + 8 + optI64
}

func DeliverableSpace(l Limits) int {
	keys := 4 + domain.MaxJudges*(keyLen+l.str())
	scores := domain.MaxJudges * (1 + keyLen + 1)
	return TagLen + 1 + keyLen + keyLen + l.str() + keys + 1 + 1 + l.str() + scores + 8 + optI64
}
