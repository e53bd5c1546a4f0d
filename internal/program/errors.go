package program

import (
	"errors"
	"fmt"
)

// Code is the stable boundary code of a failed instruction.
type Code uint32

const (
	InvalidInstructionData Code = iota
	NotRentExempt
	IncorrectProgramID
	InvalidAccountData
	InsufficientFunds
	InvalidTaskState
	InvalidAgentState
	InvalidJudgeState
	InvalidStakeState
	Unauthorized
	TaskDeadlineExpired
	InvalidDeliverable
)

// Host-level conditions, reported verbatim next to the program codes.
const (
	MissingRequiredSignature Code = 0x1000
	InvalidArgument          Code = 0x1001
)

var codeNames = map[Code]string{
	InvalidInstructionData:   "InvalidInstructionData",
	NotRentExempt:            "NotRentExempt",
	IncorrectProgramID:       "IncorrectProgramId",
	InvalidAccountData:       "InvalidAccountData",
	InsufficientFunds:        "InsufficientFunds",
	InvalidTaskState:         "InvalidTaskState",
	InvalidAgentState:        "InvalidAgentState",
	InvalidJudgeState:        "InvalidJudgeState",
	InvalidStakeState:        "InvalidStakeState",
	Unauthorized:             "Unauthorized",
	TaskDeadlineExpired:      "TaskDeadlineExpired",
	InvalidDeliverable:       "InvalidDeliverable",
	MissingRequiredSignature: "MissingRequiredSignature",
	InvalidArgument:          "InvalidArgument",
}

var codeMessages = map[Code]string{
	InvalidInstructionData:   "invalid instruction data",
	NotRentExempt:            "account is not rent exempt",
	IncorrectProgramID:       "account is not owned by the program",
	InvalidAccountData:       "invalid account data",
	InsufficientFunds:        "insufficient funds",
	InvalidTaskState:         "invalid task state",
	InvalidAgentState:        "invalid agent state",
	InvalidJudgeState:        "invalid judge state",
	InvalidStakeState:        "invalid stake state",
	Unauthorized:             "unauthorized",
	TaskDeadlineExpired:      "task deadline expired",
	InvalidDeliverable:       "invalid deliverable",
	MissingRequiredSignature: "missing required signature",
	InvalidArgument:          "invalid argument",
}

func (c Code) String() string {
	if n, ok := codeNames[c]; ok {
		return n
	}
	return fmt.Sprintf("Code(%d)", uint32(c))
}

// Message is the static description of c.
func (c Code) Message() string {
	if m, ok := codeMessages[c]; ok {
		return m
	}
	return "unknown error"
}

// Codes lists every boundary code.
func Codes() []Code {
	out := make([]Code, 0, len(codeNames))
	for c := InvalidInstructionData; c <= InvalidDeliverable; c++ {
		out = append(out, c)
	}
	return append(out, MissingRequiredSignature, InvalidArgument)
}

// Error is a failed instruction. Two errors with the same code match under
// errors.Is regardless of detail.
type Error struct {
	Code   Code
	Detail string
}

func (e *Error) Error() string {
	if e.Detail == "" {
		return e.Code.Message()
	}
	return e.Code.Message() + ": " + e.Detail
}

func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code
}

// Err returns a bare error for c, usable as an errors.Is target.
func Err(c Code) *Error { return &Error{Code: c} }

func fail(c Code, format string, args ...any) *Error {
	return &Error{Code: c, Detail: fmt.Sprintf(format, args...)}
}

// CodeOf returns the boundary code carried by err. Errors that carry none
// report InvalidAccountData.
func CodeOf(err error) (Code, bool) {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Code, true
	}
	return InvalidAccountData, false
}
