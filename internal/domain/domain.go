package domain

import (
	"fmt"

	"github.com/gagliardetto/solana-go"
)

// MaxJudges is the number of judge slots carried by every task.
const MaxJudges = 5

// MaxScore is the highest score a judge may award.
const MaxScore = 100

type Task struct {
	IsInitialized       bool                         `json:"is_initialized"`
	NFTID               solana.PublicKey             `json:"nft_id"`
	Title               string                       `json:"title"`
	Summary             string                       `json:"summary"`
	EncryptedPayloadURL string                       `json:"encrypted_payload_url"`
	CreatorID           solana.PublicKey             `json:"creator_id"`
	Status              TaskStatus                   `json:"status"`
	Deadline            int64                        `json:"deadline"`
	RewardAmount        uint64                       `json:"reward_amount"`
	RewardCurrency      string                       `json:"reward_currency"`
	Judges              [MaxJudges]*solana.PublicKey `json:"judges"`
	CreatedAt           int64                        `json:"created_at"`
	UpdatedAt           int64                        `json:"updated_at"`
	Worker              *solana.PublicKey            `json:"worker,omitempty"`
	Outcome             Outcome                      `json:"outcome"`
	FinalScore          uint8                        `json:"final_score"`
}

// JudgeCount returns the number of occupied judge slots.
func (t Task) JudgeCount() int {
	n := 0
	for _, j := range t.Judges {
		if j != nil {
			n++
		}
	}
	return n
}

// HasJudge reports whether key occupies one of the judge slots.
func (t Task) HasJudge(key solana.PublicKey) bool {
	for _, j := range t.Judges {
		if j != nil && j.Equals(key) {
			return true
		}
	}
	return false
}

// JudgeKeys returns the occupied judge slots in slot order.
func (t Task) JudgeKeys() []solana.PublicKey {
	var out []solana.PublicKey
	for _, j := range t.Judges {
		if j != nil {
			out = append(out, *j)
		}
	}
	return out
}

// JudgeSlots packs keys into the fixed slot array. Every key must be a
// distinct, non-zero wallet and there may be at most MaxJudges of them.
func JudgeSlots(keys []solana.PublicKey) (slots [MaxJudges]*solana.PublicKey, err error) {
	if len(keys) > MaxJudges {
		return slots, fmt.Errorf("%d judges, at most %d allowed", len(keys), MaxJudges)
	}
	for i := range keys {
		k := keys[i]
		if k.IsZero() {
			return [MaxJudges]*solana.PublicKey{}, fmt.Errorf("judge %d is the zero key", i)
		}
		for _, prev := range keys[:i] {
			if prev.Equals(k) {
				return [MaxJudges]*solana.PublicKey{}, fmt.Errorf("judge %s listed twice", k)
			}
		}
		slots[i] = &k
	}
	return slots, nil
}

type Agent struct {
	IsInitialized   bool             `json:"is_initialized"`
	Name            string           `json:"name"`
	Description     string           `json:"description"`
	AgentType       AgentType        `json:"agent_type"`
	WalletAddress   solana.PublicKey `json:"wallet_address"`
	PublicKey       string           `json:"public_key"`
	ReputationScore uint64           `json:"reputation_score"`
	CompletedTasks  uint32           `json:"completed_tasks"`
	SuccessfulTasks uint32           `json:"successful_tasks"`
	CreatedAt       int64            `json:"created_at"`
	UpdatedAt       int64            `json:"updated_at"`
}

// Judge holds a full Agent value next to its judging fields.
type Judge struct {
	Agent          Agent  `json:"agent"`
	Specialization string `json:"specialization"`
	JudgedTasks    uint32 `json:"judged_tasks"`
}

func (j Judge) IsInitialized() bool { return j.Agent.IsInitialized }

type Stake struct {
	IsInitialized bool             `json:"is_initialized"`
	TaskID        solana.PublicKey `json:"task_id"`
	AgentID       solana.PublicKey `json:"agent_id"`
	Amount        uint64           `json:"amount"`
	Status        StakeStatus      `json:"status"`
	StakedAt      int64            `json:"staked_at"`
	ReleasedAt    *int64           `json:"released_at,omitempty"`
}

// EncryptionKey is the deliverable key sealed for one judge.
type EncryptionKey struct {
	Judge solana.PublicKey `json:"judge"`
	Key   string           `json:"key"`
}

// JudgeScore records the score one assigned judge awarded.
type JudgeScore struct {
	Judge solana.PublicKey `json:"judge"`
	Score uint8            `json:"score"`
}

type Deliverable struct {
	IsInitialized       bool                   `json:"is_initialized"`
	TaskID              solana.PublicKey       `json:"task_id"`
	AgentID             solana.PublicKey       `json:"agent_id"`
	EncryptedContentURL string                 `json:"encrypted_content_url"`
	EncryptionKeys      []EncryptionKey        `json:"encryption_keys"`
	Status              DeliverableStatus      `json:"status"`
	Score               uint8                  `json:"score"`
	Feedback            string                 `json:"feedback"`
	Scores              [MaxJudges]*JudgeScore `json:"scores"`
	SubmittedAt         int64                  `json:"submitted_at"`
	JudgedAt            *int64                 `json:"judged_at,omitempty"`
}

// ScoredBy reports whether judge already has a score slot.
func (d Deliverable) ScoredBy(judge solana.PublicKey) bool {
	for _, s := range d.Scores {
		if s != nil && s.Judge.Equals(judge) {
			return true
		}
	}
	return false
}

// ScoreCount returns the number of recorded judge scores.
func (d Deliverable) ScoreCount() int {
	n := 0
	for _, s := range d.Scores {
		if s != nil {
			n++
		}
	}
	return n
}

// MeanScore is the integer mean of the recorded scores, 0 when none.
func (d Deliverable) MeanScore() uint8 {
	var sum, n uint
	for _, s := range d.Scores {
		if s != nil {
			sum += uint(s.Score)
			n++
		}
	}
	if n == 0 {
		return 0
	}
	return uint8(sum / n)
}
