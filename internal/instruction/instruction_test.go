package instruction

import (
	"testing"

	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/require"

	"taskmarket/internal/codec"
	"taskmarket/internal/domain"
)

func key(b byte) solana.PublicKey {
	var k solana.PublicKey
	k[0], k[31] = b, b
	return k
}

func TestRoundTripEveryVariant(t *testing.T) {
	cases := []Instruction{
		&InitializeTask{Title: "t", Summary: "s", EncryptedPayloadURL: "u", Deadline: 99, RewardAmount: 1000, RewardCurrency: "USDC"},
		&InitializeTask{Title: "t", Judges: []solana.PublicKey{key(1), key(2), key(3), key(4), key(5)}},
		&RegisterAgent{Name: "W1", Description: "d", AgentType: domain.AgentJudge, PublicKey: "pk"},
		&RegisterJudge{Name: "J1", Description: "d", PublicKey: "pk", Specialization: "nlp"},
		&StakeOnTask{Amount: 500},
		&SubmitDeliverable{EncryptedContentURL: "ipfs://x", EncryptionKeys: []domain.EncryptionKey{{Judge: key(1), Key: "k"}}},
		&JudgeDeliverable{Score: 100, Feedback: "great"},
		&CompleteTask{},
		&ReturnStake{},
		&BurnTaskNFT{},
	}
	seen := map[Discriminant]bool{}
	for _, ix := range cases {
		data, err := Encode(ix)
		require.NoError(t, err)
		require.Equal(t, byte(ix.Discriminant()), data[0])

		got, err := Decode(data)
		require.NoError(t, err)
		require.Equal(t, ix, got)
		seen[ix.Discriminant()] = true
	}
	for _, d := range All() {
		require.True(t, seen[d], "variant %s not covered", d)
		require.NotNil(t, Layout(d), "variant %s has no layout", d)
	}
}

func TestDecodeUnknownDiscriminant(t *testing.T) {
	_, err := Decode([]byte{9})
	require.ErrorIs(t, err, ErrUnknown)
	_, err = Decode(nil)
	require.ErrorIs(t, err, codec.ErrTruncated)
}

func TestDecodeRequiresFullConsumption(t *testing.T) {
	data, err := Encode(&StakeOnTask{Amount: 1})
	require.NoError(t, err)
	_, err = Decode(append(data, 0))
	require.ErrorIs(t, err, codec.ErrMalformed)
	_, err = Decode(data[:len(data)-1])
	require.ErrorIs(t, err, codec.ErrTruncated)
}

func TestDecodeRejectsUnknownAgentType(t *testing.T) {
	data, err := Encode(&RegisterAgent{Name: "a", AgentType: domain.AgentWorker})
	require.NoError(t, err)
	// discriminant, name (4+1), description (4+0), then the type byte
	data[1+5+4] = 2
	_, err = Decode(data)
	require.ErrorIs(t, err, codec.ErrMalformed)
}

func TestDecodeKeepsJudgeOverflowForHandler(t *testing.T) {
	ix := &InitializeTask{Judges: make([]solana.PublicKey, 6)}
	data, err := Encode(ix)
	require.NoError(t, err)
	got, err := Decode(data)
	require.NoError(t, err)
	require.Len(t, got.(*InitializeTask).Judges, 6)
}

func TestMetasFillsSysvarSlots(t *testing.T) {
	w := WellKnown{Rent: key(100), Token: key(101), System: key(102)}
	metas, err := Metas(DInitializeTask, w, key(1), key(2), key(3))
	require.NoError(t, err)
	require.Len(t, metas, 6)

	require.True(t, metas[0].IsSigner)
	require.True(t, metas[0].IsWritable)
	require.Equal(t, key(2), metas[1].PublicKey)
	require.Equal(t, w.Rent, metas[3].PublicKey)
	require.Equal(t, w.Token, metas[4].PublicKey)
	require.Equal(t, w.System, metas[5].PublicKey)
	require.False(t, metas[5].IsWritable)

	_, err = Metas(DInitializeTask, w, key(1))
	require.Error(t, err)
	_, err = Metas(DInitializeTask, w, key(1), key(2), key(3), key(4))
	require.Error(t, err)
}

func TestReturnStakeTakesTrailingTask(t *testing.T) {
	metas, err := Metas(DReturnStake, WellKnown{System: key(102)}, key(1), key(2), key(3), key(4))
	require.NoError(t, err)
	require.Len(t, metas, 5)
	require.Equal(t, key(102), metas[3].PublicKey)
	require.Equal(t, key(4), metas[4].PublicKey)
	require.False(t, metas[4].IsWritable)
}

func TestNewBuildsGenericInstruction(t *testing.T) {
	program := key(50)
	gi, err := New(program, WellKnown{}, &StakeOnTask{Amount: 7}, key(1), key(2), key(3), key(4))
	require.NoError(t, err)
	require.Equal(t, program, gi.ProgramID())
	require.Len(t, gi.Accounts(), 6)

	data, err := gi.Data()
	require.NoError(t, err)
	ix, err := Decode(data)
	require.NoError(t, err)
	require.Equal(t, &StakeOnTask{Amount: 7}, ix)
}
