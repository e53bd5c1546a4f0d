package codec

import (
	"fmt"

	"taskmarket/internal/domain"
)

func EncodeTask(t domain.Task) ([]byte, error) {
	e := NewEncoder()
	e.Bool(t.IsInitialized)
	e.Key(t.NFTID)
	e.Str(t.Title)
	e.Str(t.Summary)
	e.Str(t.EncryptedPayloadURL)
	e.Key(t.CreatorID)
	e.U8(uint8(t.Status))
	e.I64(t.Deadline)
	e.U64(t.RewardAmount)
	e.Str(t.RewardCurrency)
	for _, j := range t.Judges {
		e.OptionKey(j)
	}
	e.I64(t.CreatedAt)
	e.I64(t.UpdatedAt)
	e.OptionKey(t.Worker)
	e.U8(uint8(t.Outcome))
	e.U8(t.FinalScore)
	return e.Bytes()
}

// DecodeTask reads a task from the front of data; trailing bytes are ignored.
func DecodeTask(data []byte) (domain.Task, error) {
	d := NewDecoder(data)
	var t domain.Task
	t.IsInitialized = d.Bool()
	t.NFTID = d.Key()
	t.Title = d.Str()
	t.Summary = d.Str()
	t.EncryptedPayloadURL = d.Str()
	t.CreatorID = d.Key()
	t.Status = domain.TaskStatus(d.U8())
	t.Deadline = d.I64()
	t.RewardAmount = d.U64()
	t.RewardCurrency = d.Str()
	for i := range t.Judges {
		t.Judges[i] = d.OptionKey()
	}
	t.CreatedAt = d.I64()
	t.UpdatedAt = d.I64()
	t.Worker = d.OptionKey()
	t.Outcome = domain.Outcome(d.U8())
	t.FinalScore = d.U8()
	if err := d.Err(); err != nil {
		return domain.Task{}, err
	}
	if !t.Status.Valid() {
		return domain.Task{}, fmt.Errorf("%w: task status %d", ErrMalformed, t.Status)
	}
	if !t.Outcome.Valid() {
		return domain.Task{}, fmt.Errorf("%w: outcome %d", ErrMalformed, t.Outcome)
	}
	return t, nil
}

func encodeAgent(e *Encoder, a domain.Agent) {
	e.Bool(a.IsInitialized)
	e.Str(a.Name)
	e.Str(a.Description)
	e.U8(uint8(a.AgentType))
	e.Key(a.WalletAddress)
	e.Str(a.PublicKey)
	e.U64(a.ReputationScore)
	e.U32(a.CompletedTasks)
	e.U32(a.SuccessfulTasks)
	e.I64(a.CreatedAt)
	e.I64(a.UpdatedAt)
}

func decodeAgent(d *Decoder) (domain.Agent, error) {
	var a domain.Agent
	a.IsInitialized = d.Bool()
	a.Name = d.Str()
	a.Description = d.Str()
	a.AgentType = domain.AgentType(d.U8())
	a.WalletAddress = d.Key()
	a.PublicKey = d.Str()
	a.ReputationScore = d.U64()
	a.CompletedTasks = d.U32()
	a.SuccessfulTasks = d.U32()
	a.CreatedAt = d.I64()
	a.UpdatedAt = d.I64()
	if err := d.Err(); err != nil {
		return domain.Agent{}, err
	}
	if !a.AgentType.Valid() {
		return domain.Agent{}, fmt.Errorf("%w: agent type %d", ErrMalformed, a.AgentType)
	}
	return a, nil
}

func EncodeAgent(a domain.Agent) ([]byte, error) {
	e := NewEncoder()
	encodeAgent(e, a)
	return e.Bytes()
}

func DecodeAgent(data []byte) (domain.Agent, error) {
	return decodeAgent(NewDecoder(data))
}

func EncodeJudge(j domain.Judge) ([]byte, error) {
	e := NewEncoder()
	encodeAgent(e, j.Agent)
	e.Str(j.Specialization)
	e.U32(j.JudgedTasks)
	return e.Bytes()
}

func DecodeJudge(data []byte) (domain.Judge, error) {
	d := NewDecoder(data)
	a, err := decodeAgent(d)
	if err != nil {
		return domain.Judge{}, err
	}
	j := domain.Judge{Agent: a}
	j.Specialization = d.Str()
	j.JudgedTasks = d.U32()
	if err := d.Err(); err != nil {
		return domain.Judge{}, err
	}
	return j, nil
}

func EncodeStake(s domain.Stake) ([]byte, error) {
	e := NewEncoder()
	e.Bool(s.IsInitialized)
	e.Key(s.TaskID)
	e.Key(s.AgentID)
	e.U64(s.Amount)
	e.U8(uint8(s.Status))
	e.I64(s.StakedAt)
	e.OptionI64(s.ReleasedAt)
	return e.Bytes()
}

func DecodeStake(data []byte) (domain.Stake, error) {
	d := NewDecoder(data)
	var s domain.Stake
	s.IsInitialized = d.Bool()
	s.TaskID = d.Key()
	s.AgentID = d.Key()
	s.Amount = d.U64()
	s.Status = domain.StakeStatus(d.U8())
	s.StakedAt = d.I64()
	s.ReleasedAt = d.OptionI64()
	if err := d.Err(); err != nil {
		return domain.Stake{}, err
	}
	if !s.Status.Valid() {
		return domain.Stake{}, fmt.Errorf("%w: stake status %d", ErrMalformed, s.Status)
	}
	return s, nil
}

// EncodeEncryptionKeys writes the length-prefixed (judge, key) list used by
// deliverables and by the submit instruction.
func EncodeEncryptionKeys(e *Encoder, keys []domain.EncryptionKey) {
	e.Len(len(keys))
	for _, k := range keys {
		e.Key(k.Judge)
		e.Str(k.Key)
	}
}

func DecodeEncryptionKeys(d *Decoder) []domain.EncryptionKey {
	n := d.Len(keyLen + 4)
	if n == 0 || d.Err() != nil {
		return nil
	}
	keys := make([]domain.EncryptionKey, 0, n)
	for i := 0; i < n; i++ {
		k := domain.EncryptionKey{Judge: d.Key(), Key: d.Str()}
		if d.Err() != nil {
			return nil
		}
		keys = append(keys, k)
	}
	return keys
}

func EncodeDeliverable(v domain.Deliverable) ([]byte, error) {
	e := NewEncoder()
	e.Bool(v.IsInitialized)
	e.Key(v.TaskID)
	e.Key(v.AgentID)
	e.Str(v.EncryptedContentURL)
	EncodeEncryptionKeys(e, v.EncryptionKeys)
	e.U8(uint8(v.Status))
	e.U8(v.Score)
	e.Str(v.Feedback)
	for _, s := range v.Scores {
		e.Present(s != nil)
		if s != nil {
			e.Key(s.Judge)
			e.U8(s.Score)
		}
	}
	e.I64(v.SubmittedAt)
	e.OptionI64(v.JudgedAt)
	return e.Bytes()
}

func DecodeDeliverable(data []byte) (domain.Deliverable, error) {
	d := NewDecoder(data)
	var v domain.Deliverable
	v.IsInitialized = d.Bool()
	v.TaskID = d.Key()
	v.AgentID = d.Key()
	v.EncryptedContentURL = d.Str()
	v.EncryptionKeys = DecodeEncryptionKeys(d)
	v.Status = domain.DeliverableStatus(d.U8())
	v.Score = d.U8()
	v.Feedback = d.Str()
	for i := range v.Scores {
		if d.Present() && d.Err() == nil {
			s := domain.JudgeScore{Judge: d.Key(), Score: d.U8()}
			v.Scores[i] = &s
		}
	}
	v.SubmittedAt = d.I64()
	v.JudgedAt = d.OptionI64()
	if err := d.Err(); err != nil {
		return domain.Deliverable{}, err
	}
	if !v.Status.Valid() {
		return domain.Deliverable{}, fmt.Errorf("%w: deliverable status %d", ErrMalformed, v.Status)
	}
	for _, s := range v.Scores {
		if s != nil && s.Score > domain.MaxScore {
			return domain.Deliverable{}, fmt.Errorf("%w: score %d", ErrMalformed, s.Score)
		}
	}
	return v, nil
}
