package codec

import "fmt"

// Tag names the record a cell holds. The program stamps it into the last
// byte of the cell whenever it writes a record, so a cell holding one kind of
// record is never read as another.
type Tag uint8

const (
	TagNone Tag = iota
	TagTask
	TagAgent
	TagJudge
	TagStake
	TagDeliverable
)

// TagLen is the room every cell reserves for its tag.
const TagLen = 1

var tagNames = [...]string{"none", "task", "agent", "judge", "stake", "deliverable"}

func (t Tag) String() string {
	if int(t) < len(tagNames) {
		return tagNames[t]
	}
	return fmt.Sprintf("tag(%d)", uint8(t))
}

// CellTag reads the tag of cell.
func CellTag(cell []byte) Tag {
	if len(cell) == 0 {
		return TagNone
	}
	return Tag(cell[len(cell)-1])
}

// WriteRecord copies enc into the start of cell, zeroes the rest and stamps
// tag into the last byte. cell is untouched when enc does not fit.
func WriteRecord(cell, enc []byte, tag Tag) error {
	if len(enc)+TagLen > len(cell) {
		return fmt.Errorf("%w: %d byte record into %d byte cell", ErrTooLarge, len(enc), len(cell))
	}
	n := copy(cell, enc)
	clear(cell[n:])
	cell[len(cell)-1] = byte(tag)
	return nil
}
