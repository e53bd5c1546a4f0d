package program

import (
	"testing"

	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/require"

	"taskmarket/internal/codec"
)

func TestWriteSetLeavesRoomForTag(t *testing.T) {
	a := &AccountInfo{Key: solana.PublicKey{1}, Data: make([]byte, 4), IsWritable: true}
	var w writeSet
	requireCode(t, w.stage(a, codec.TagStake, []byte{1, 2, 3, 4}, nil), InvalidAccountData)
	require.NoError(t, w.stage(a, codec.TagStake, []byte{1, 2, 3}, nil))
	require.NoError(t, w.flush())
	require.Equal(t, []byte{1, 2, 3, byte(codec.TagStake)}, a.Data)
}

func TestFlushWritesAllOrNothing(t *testing.T) {
	a := &AccountInfo{Key: solana.PublicKey{1}, Data: make([]byte, 8), IsWritable: true}
	b := &AccountInfo{Key: solana.PublicKey{2}, Data: make([]byte, 8), IsWritable: true}
	var w writeSet
	require.NoError(t, w.stage(a, codec.TagStake, []byte{1, 2}, nil))
	require.NoError(t, w.stage(b, codec.TagTask, []byte{1, 2, 3}, nil))

	b.Data = b.Data[:3]
	requireCode(t, w.flush(), InvalidAccountData)
	require.Equal(t, make([]byte, 8), a.Data)

	b.Data = b.Data[:8]
	require.NoError(t, w.flush())
	require.Equal(t, []byte{1, 2, 0, 0, 0, 0, 0, byte(codec.TagStake)}, a.Data)
	require.Equal(t, codec.TagTask, codec.CellTag(b.Data))
}
