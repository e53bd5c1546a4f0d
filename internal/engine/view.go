package engine

import (
	"fmt"

	"taskmarket/internal/codec"
	"taskmarket/internal/domain"
)

var kindTags = map[string]codec.Tag{
	domain.KindTask:        codec.TagTask,
	domain.KindAgent:       codec.TagAgent,
	domain.KindJudge:       codec.TagJudge,
	domain.KindStake:       codec.TagStake,
	domain.KindDeliverable: codec.TagDeliverable,
}

// DecodeCell decodes a cell by its recorded kind. Uninitialized cells and
// cells of unknown kind decode to nil; a cell holding another kind of record
// is an error.
func DecodeCell(kind string, data []byte) (any, error) {
	want, ok := kindTags[kind]
	if !ok || len(data) == 0 || data[0] == 0 {
		return nil, nil
	}
	if got := codec.CellTag(data); got != want {
		return nil, fmt.Errorf("%s cell holds a %s record", kind, got)
	}
	var (
		v   any
		err error
	)
	switch want {
	case codec.TagTask:
		v, err = codec.DecodeTask(data)
	case codec.TagAgent:
		v, err = codec.DecodeAgent(data)
	case codec.TagJudge:
		v, err = codec.DecodeJudge(data)
	case codec.TagStake:
		v, err = codec.DecodeStake(data)
	case codec.TagDeliverable:
		v, err = codec.DecodeDeliverable(data)
	}
	if err != nil {
		return nil, fmt.Errorf("decode %s cell: %w", kind, err)
	}
	return v, nil
}
