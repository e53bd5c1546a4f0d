package program

import (
	"taskmarket/internal/codec"
)

type pendingWrite struct {
	acc  *AccountInfo
	data []byte
	tag  codec.Tag
}

// writeSet buffers re-encoded records until the instruction has passed every
// guard and custody call.
type writeSet struct {
	pending []pendingWrite
}

// stage encodes a record for acc. It fails if acc is not writable or the
// encoding and its tag do not fit the cell, leaving every cell untouched.
func (w *writeSet) stage(acc *AccountInfo, tag codec.Tag, data []byte, err error) error {
	if err != nil {
		return fail(InvalidAccountData, "encode %s: %v", acc.Key, err)
	}
	if !acc.IsWritable {
		return fail(InvalidArgument, "%s is not writable", acc.Key)
	}
	if len(data)+codec.TagLen > len(acc.Data) {
		return fail(InvalidAccountData, "%s needs %d bytes, cell holds %d", acc.Key, len(data)+codec.TagLen, len(acc.Data))
	}
	w.pending = append(w.pending, pendingWrite{acc: acc, data: data, tag: tag})
	return nil
}

// flush writes every staged record, or none of them if one no longer fits.
func (w *writeSet) flush() error {
	for _, p := range w.pending {
		if len(p.data)+codec.TagLen > len(p.acc.Data) {
			return fail(InvalidAccountData, "%s holds %d bytes", p.acc.Key, len(p.acc.Data))
		}
	}
	for _, p := range w.pending {
		if err := codec.WriteRecord(p.acc.Data, p.data, p.tag); err != nil {
			return fail(InvalidAccountData, "write %s: %v", p.acc.Key, err)
		}
	}
	w.pending = nil
	return nil
}
