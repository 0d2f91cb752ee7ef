// Package errno defines the kernel's error codes and the typed errors that
// carry them.
//
// Every syscall returns a signed 32-bit result. Negative values are
// -Code; non-negative values are success payloads. Inside the kernel the
// same conditions travel as *Error values so callers can match them with
// errors.Is:
//
//	if errors.Is(err, errno.ErrInval) { ... }
//
// Specific sentinels such as ErrBadAddr and ErrBadPerm share the Inval code
// and match both themselves and ErrInval.
package errno

import (
	"errors"
	"fmt"
)

// Code is a kernel error number. The ABI result for a code is its negation.
type Code int32

const (
	Unspecified   Code = 1 + iota // unspecified or unknown problem
	BadEnv                        // environment does not exist or is stale
	Inval                         // invalid parameter
	NoMem                         // out of physical pages
	NoFreeEnv                     // environment table full
	Fault                         // memory fault
	IPCNotRecv                    // target is not receiving
	Forbidden                     // caller may not act on the target
	Escalation                    // requested write access the source lacks
	NetQueueFull                  // transmit ring has no free slot
	NetQueueEmpty                 // receive ring has no filled slot
)

var codeNames = map[Code]string{
	Unspecified:   "E_UNSPECIFIED",
	BadEnv:        "E_BAD_ENV",
	Inval:         "E_INVAL",
	NoMem:         "E_NO_MEM",
	NoFreeEnv:     "E_NO_FREE_ENV",
	Fault:         "E_FAULT",
	IPCNotRecv:    "E_IPC_NOT_RECV",
	Forbidden:     "E_FORBIDDEN",
	Escalation:    "E_ESCALATION",
	NetQueueFull:  "E_NET_QUEUE_FULL",
	NetQueueEmpty: "E_NET_QUEUE_EMPTY",
}

var codeMessages = map[Code]string{
	Unspecified:   "unspecified error",
	BadEnv:        "bad environment",
	Inval:         "invalid parameter",
	NoMem:         "out of memory",
	NoFreeEnv:     "out of environments",
	Fault:         "segmentation fault",
	IPCNotRecv:    "env is not recving",
	Forbidden:     "operation not permitted on environment",
	Escalation:    "write permission escalation",
	NetQueueFull:  "transmit queue full",
	NetQueueEmpty: "receive queue empty",
}

// String returns the symbolic name of the code.
func (c Code) String() string {
	if n, ok := codeNames[c]; ok {
		return n
	}
	return fmt.Sprintf("E_%d", int32(c))
}

// Result returns the negative ABI value for the code.
func (c Code) Result() int32 {
	return -int32(c)
}

// Error is a kernel error: a code plus optional context.
type Error struct {
	Code   Code
	Op     string
	Reason string
}

func (e *Error) Error() string {
	msg := e.Reason
	if msg == "" {
		msg = codeMessages[e.Code]
		if msg == "" {
			msg = e.Code.String()
		}
	}
	if e.Op != "" {
		return e.Op + ": " + msg
	}
	return msg
}

// Is reports whether target names the same condition. A target without a
// Reason matches any error of the same code.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t.Code != e.Code {
		return false
	}
	return t.Reason == "" || t.Reason == e.Reason
}

// WithOp returns a copy of e tagged with the operation that failed.
func (e *Error) WithOp(op string) *Error {
	c := *e
	c.Op = op
	return &c
}

// Base sentinels, one per code.
var (
	ErrUnspecified = &Error{Code: Unspecified}
	ErrBadEnv      = &Error{Code: BadEnv}
	ErrInval       = &Error{Code: Inval}
	ErrNoMem       = &Error{Code: NoMem}
	ErrNoFreeEnv   = &Error{Code: NoFreeEnv}
	ErrFault       = &Error{Code: Fault}
	ErrIPCNotRecv  = &Error{Code: IPCNotRecv}
	ErrForbidden   = &Error{Code: Forbidden}
	ErrEscalation  = &Error{Code: Escalation}
	ErrQueueFull   = &Error{Code: NetQueueFull}
	ErrQueueEmpty  = &Error{Code: NetQueueEmpty}
)

// Refined conditions that share a base code.
var (
	ErrBadAddr        = &Error{Code: Inval, Reason: "address not page aligned or not below UTOP"}
	ErrBadPerm        = &Error{Code: Inval, Reason: "permission bits not allowed"}
	ErrNotMapped      = &Error{Code: Inval, Reason: "no page mapped at address"}
	ErrBadStatus      = &Error{Code: Inval, Reason: "status must be runnable or not runnable"}
	ErrTooBig         = &Error{Code: Inval, Reason: "packet larger than buffer"}
	ErrBufferTooSmall = &Error{Code: Inval, Reason: "buffer too small for received packet"}
	ErrNoDevice       = &Error{Code: Inval, Reason: "no network device attached"}
	ErrBadSyscall     = &Error{Code: Inval, Reason: "unknown syscall"}
	ErrAttach         = &Error{Code: Unspecified, Reason: "device attach failed"}
)

var byCode = map[Code]*Error{
	Unspecified:   ErrUnspecified,
	BadEnv:        ErrBadEnv,
	Inval:         ErrInval,
	NoMem:         ErrNoMem,
	NoFreeEnv:     ErrNoFreeEnv,
	Fault:         ErrFault,
	IPCNotRecv:    ErrIPCNotRecv,
	Forbidden:     ErrForbidden,
	Escalation:    ErrEscalation,
	NetQueueFull:  ErrQueueFull,
	NetQueueEmpty: ErrQueueEmpty,
}

// FromResult converts a syscall result into an error. Non-negative results
// are success and yield nil.
func FromResult(r int32) error {
	if r >= 0 {
		return nil
	}
	if e, ok := byCode[Code(-r)]; ok {
		return e
	}
	return &Error{Code: Code(-r)}
}

// ResultOf converts an error into a syscall result. Errors that carry no
// code map to -E_UNSPECIFIED.
func ResultOf(err error) int32 {
	if err == nil {
		return 0
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Code.Result()
	}
	return Unspecified.Result()
}

// CodeOf extracts the code from err, or 0 if err is nil.
func CodeOf(err error) Code {
	if err == nil {
		return 0
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return Unspecified
}

// IsSteadyState reports whether err is an expected ring condition that a
// poller retries silently.
func IsSteadyState(err error) bool {
	return errors.Is(err, ErrQueueFull) || errors.Is(err, ErrQueueEmpty)
}
