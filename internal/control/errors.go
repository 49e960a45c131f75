package control

import (
	"errors"
	"fmt"
)

// Kind is the fixed failure taxonomy surfaced to external callers. Each kind
// implies a different corrective action for the operator, so control results
// always carry one.
type Kind int

const (
	KindProcessNotFound Kind = iota + 1
	KindCriticalProcessProtected
	KindPermissionDenied
	KindInvalidPriority
	KindAlreadyInTargetState
	KindSystemError
)

func (k Kind) String() string {
	switch k {
	case KindProcessNotFound:
		return "process_not_found"
	case KindCriticalProcessProtected:
		return "critical_process_protected"
	case KindPermissionDenied:
		return "permission_denied"
	case KindInvalidPriority:
		return "invalid_priority"
	case KindAlreadyInTargetState:
		return "already_in_target_state"
	default:
		return "system_error"
	}
}

// Error is the structured result of a failed control operation.
type Error struct {
	Op      string
	PID     int32
	Kind    Kind
	Message string
}

func (e *Error) Error() string {
	if e.PID != 0 {
		return fmt.Sprintf("[%s] pid %d: %s (%s)", e.Op, e.PID, e.Message, e.Kind)
	}
	return fmt.Sprintf("[%s] %s (%s)", e.Op, e.Message, e.Kind)
}

// KindOf extracts the taxonomy kind from an error chain. Non-control errors
// report KindSystemError; nil reports 0.
func KindOf(err error) Kind {
	if err == nil {
		return 0
	}
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Kind
	}
	return KindSystemError
}

func opError(op string, pid int32, kind Kind, format string, args ...interface{}) *Error {
	return &Error{Op: op, PID: pid, Kind: kind, Message: fmt.Sprintf(format, args...)}
}
