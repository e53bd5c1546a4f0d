package codec

import (
	"strings"
	"testing"

	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/require"

	"taskmarket/internal/domain"
)

func key(b byte) solana.PublicKey {
	var k solana.PublicKey
	for i := range k {
		k[i] = b
	}
	return k
}

func sampleTask(judges int) domain.Task {
	keys := make([]solana.PublicKey, judges)
	for i := range keys {
		keys[i] = key(byte(10 + i))
	}
	slots, _ := domain.JudgeSlots(keys)
	return domain.Task{
		IsInitialized:       true,
		NFTID:               key(1),
		Title:               "Label images",
		Summary:             "500 images, bounding boxes",
		EncryptedPayloadURL: "ipfs://payload",
		CreatorID:           key(2),
		Status:              domain.TaskCreated,
		Deadline:            1_700_003_600,
		RewardAmount:        1000,
		RewardCurrency:      "USDC",
		Judges:              slots,
		CreatedAt:           1_700_000_000,
		UpdatedAt:           1_700_000_000,
	}
}

func TestTaskRoundTripJudgeCounts(t *testing.T) {
	for _, n := range []int{0, 2, domain.MaxJudges} {
		task := sampleTask(n)
		enc, err := EncodeTask(task)
		require.NoError(t, err)

		got, err := DecodeTask(enc)
		require.NoError(t, err)
		require.Equal(t, task, got)
		require.Equal(t, n, got.JudgeCount())
		for i := n; i < domain.MaxJudges; i++ {
			require.Nil(t, got.Judges[i], "slot %d", i)
		}
	}
}

func TestTaskRoundTripWithWorkerAndOutcome(t *testing.T) {
	task := sampleTask(1)
	w := key(9)
	task.Worker = &w
	task.Status = domain.TaskJudged
	task.Outcome = domain.OutcomeAccepted
	task.FinalScore = 88

	enc, err := EncodeTask(task)
	require.NoError(t, err)
	got, err := DecodeTask(enc)
	require.NoError(t, err)
	require.Equal(t, task, got)
}

func TestDecodeIgnoresTrailingCellBytes(t *testing.T) {
	task := sampleTask(3)
	enc, err := EncodeTask(task)
	require.NoError(t, err)

	cell := make([]byte, TaskSpace(Limits{MaxStringLen: 64}))
	require.NoError(t, WriteRecord(cell, enc, TagTask))
	got, err := DecodeTask(cell)
	require.NoError(t, err)
	require.Equal(t, task, got)
}

func TestDecodeTruncated(t *testing.T) {
	enc, err := EncodeTask(sampleTask(2))
	require.NoError(t, err)
	for _, n := range []int{0, 1, 20, len(enc) - 1} {
		got, err := DecodeTask(enc[:n])
		require.ErrorIs(t, err, ErrTruncated, "prefix %d", n)
		require.Equal(t, domain.Task{}, got)
	}
}

func TestDecodeRejectsBadBool(t *testing.T) {
	enc, err := EncodeStake(domain.Stake{IsInitialized: true, Amount: 5})
	require.NoError(t, err)
	enc[0] = 2
	_, err = DecodeStake(enc)
	require.ErrorIs(t, err, ErrMalformed)
}

func TestDecodeRejectsUnknownStatus(t *testing.T) {
	enc, err := EncodeStake(domain.Stake{IsInitialized: true, Amount: 5})
	require.NoError(t, err)
	enc[1+32+32+8] = 7
	_, err = DecodeStake(enc)
	require.ErrorIs(t, err, ErrMalformed)
}

func TestDecodeRejectsOversizedLength(t *testing.T) {
	e := NewEncoder()
	e.Bool(true)
	e.U32(1 << 30)
	enc, err := e.Bytes()
	require.NoError(t, err)
	_, err = DecodeAgent(enc)
	require.ErrorIs(t, err, ErrTruncated)
}

func TestAgentAndJudgeRoundTrip(t *testing.T) {
	a := domain.Agent{
		IsInitialized:   true,
		Name:            "W1",
		Description:     "worker one",
		AgentType:       domain.AgentWorker,
		WalletAddress:   key(4),
		PublicKey:       "age1xyz",
		ReputationScore: 12,
		CompletedTasks:  3,
		SuccessfulTasks: 2,
		CreatedAt:       100,
		UpdatedAt:       200,
	}
	enc, err := EncodeAgent(a)
	require.NoError(t, err)
	gotA, err := DecodeAgent(enc)
	require.NoError(t, err)
	require.Equal(t, a, gotA)

	a.AgentType = domain.AgentJudge
	j := domain.Judge{Agent: a, Specialization: "vision", JudgedTasks: 7}
	enc, err = EncodeJudge(j)
	require.NoError(t, err)
	gotJ, err := DecodeJudge(enc)
	require.NoError(t, err)
	require.Equal(t, j, gotJ)
	require.True(t, gotJ.IsInitialized())
}

func TestStakeRoundTrip(t *testing.T) {
	released := int64(1_700_000_500)
	for _, s := range []domain.Stake{
		{IsInitialized: true, TaskID: key(1), AgentID: key(2), Amount: 500, Status: domain.StakeActive, StakedAt: 10},
		{IsInitialized: true, TaskID: key(1), AgentID: key(2), Amount: 500, Status: domain.StakeReturned, StakedAt: 10, ReleasedAt: &released},
	} {
		enc, err := EncodeStake(s)
		require.NoError(t, err)
		require.LessOrEqual(t, len(enc)+TagLen, StakeSpace(Limits{}))
		got, err := DecodeStake(enc)
		require.NoError(t, err)
		require.Equal(t, s, got)
	}
}

func TestDeliverableRoundTrip(t *testing.T) {
	judged := int64(55)
	v := domain.Deliverable{
		IsInitialized:       true,
		TaskID:              key(1),
		AgentID:             key(2),
		EncryptedContentURL: "ipfs://result",
		EncryptionKeys: []domain.EncryptionKey{
			{Judge: key(10), Key: "k0"},
			{Judge: key(11), Key: "k1"},
		},
		Status:      domain.DeliverableJudged,
		Score:       70,
		Feedback:    "ok",
		SubmittedAt: 50,
		JudgedAt:    &judged,
	}
	v.Scores[0] = &domain.JudgeScore{Judge: key(10), Score: 70}

	enc, err := EncodeDeliverable(v)
	require.NoError(t, err)
	got, err := DecodeDeliverable(enc)
	require.NoError(t, err)
	require.Equal(t, v, got)
	require.True(t, got.ScoredBy(key(10)))
	require.False(t, got.ScoredBy(key(11)))
}

func TestWorstCaseSizesHoldWorstCaseRecords(t *testing.T) {
	l := Limits{MaxStringLen: 16}
	s := strings.Repeat("x", l.MaxStringLen)

	task := sampleTask(domain.MaxJudges)
	task.Title, task.Summary, task.EncryptedPayloadURL, task.RewardCurrency = s, s, s, s
	w := key(3)
	task.Worker = &w
	enc, err := EncodeTask(task)
	require.NoError(t, err)
	require.Equal(t, TaskSpace(l), len(enc)+TagLen)

	j := domain.Judge{Agent: domain.Agent{Name: s, Description: s, PublicKey: s}, Specialization: s}
	enc, err = EncodeJudge(j)
	require.NoError(t, err)
	require.Equal(t, JudgeSpace(l), len(enc)+TagLen)

	v := domain.Deliverable{EncryptedContentURL: s, Feedback: s}
	for i := 0; i < domain.MaxJudges; i++ {
		v.EncryptionKeys = append(v.EncryptionKeys, domain.EncryptionKey{Judge: key(byte(i)), Key: s})
		v.Scores[i] = &domain.JudgeScore{Judge: key(byte(i)), Score: 1}
	}
	at := int64(1)
	v.JudgedAt = &at
	enc, err = EncodeDeliverable(v)
	require.NoError(t, err)
	require.Equal(t, DeliverableSpace(l), len(enc)+TagLen)
}

func TestEncoderRejectsInvalidUTF8(t *testing.T) {
	_, err := EncodeAgent(domain.Agent{Name: string([]byte{0xff, 0xfe})})
	require.ErrorIs(t, err, ErrMalformed)
}

func TestWriteRecordStampsTag(t *testing.T) {
	cell := []byte{9, 9, 9, 9, 9}
	require.NoError(t, WriteRecord(cell, []byte{1, 2}, TagJudge))
	require.Equal(t, []byte{1, 2, 0, 0, byte(TagJudge)}, cell)
	require.Equal(t, TagJudge, CellTag(cell))

	err := WriteRecord(cell, []byte{1, 2, 3, 4, 5}, TagAgent)
	require.ErrorIs(t, err, ErrTooLarge)
	require.Equal(t, TagJudge, CellTag(cell))
	require.Equal(t, TagNone, CellTag(nil))
	require.Equal(t, "deliverable", TagDeliverable.String())
}
