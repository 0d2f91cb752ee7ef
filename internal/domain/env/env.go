// Package env holds the environment table: fixed slots addressed by
// generation-tagged identifiers, each carrying the saved register state,
// address space, fault upcall and IPC mailbox of one environment.
package env

import (
	"fmt"

	"github.com/GriffinCanCode/AgentOS/exokernel/internal/domain/mem"
)

// ID identifies an environment: generation<<GenShift | slot index. The
// zero ID names the calling environment.
type ID int32

// GenShift is the bit position of the generation counter within an ID.
const GenShift = 12

// MaxEnv bounds the table size so slot indices fit below the generation.
const MaxEnv = 1 << GenShift

// Self is the ID that resolves to the caller.
const Self ID = 0

func (id ID) String() string { return fmt.Sprintf("%08x", uint32(id)) }

// Status is the run state of a slot.
type Status uint32

const (
	Free Status = iota
	Dying
	Runnable
	NotRunnable
)

func (s Status) String() string {
	switch s {
	case Free:
		return "free"
	case Dying:
		return "dying"
	case Runnable:
		return "runnable"
	case NotRunnable:
		return "not_runnable"
	default:
		return fmt.Sprintf("status(%d)", uint32(s))
	}
}

// Type distinguishes ordinary environments from network service ones.
type Type uint32

const (
	TypeUser Type = iota
	TypeNS
)

func (t Type) String() string {
	if t == TypeNS {
		return "ns"
	}
	return "user"
}

// Mailbox is the single-slot rendezvous state. From, Value and Perm are
// meaningful only after a send has completed.
type Mailbox struct {
	Recving  bool
	WantPage bool
	DstVA    uint32
	From     ID
	Value    uint32
	Perm     mem.PTE
}

// Env is one environment slot.
type Env struct {
	ID       ID
	ParentID ID
	Type     Type
	Status   Status
	Runs     uint32
	TF       TrapFrame
	AS       *mem.AddrSpace

	// PgfaultUpcall is a handler capability, 0 when unset.
	PgfaultUpcall uint32

	IPC Mailbox

	index int32
	next  int32
}

// Index is the slot number of the environment.
func (e *Env) Index() int { return int(e.index) }

// Snapshot is a read-only copy of the user-visible fields of an Env.
type Snapshot struct {
	ID            ID
	ParentID      ID
	Type          Type
	Status        Status
	Runs          uint32
	PgfaultUpcall uint32
	IPC           Mailbox
	TF            TrapFrame
}

// Snapshot copies the user-visible fields.
func (e *Env) Snapshot() Snapshot {
	return Snapshot{
		ID:            e.ID,
		ParentID:      e.ParentID,
		Type:          e.Type,
		Status:        e.Status,
		Runs:          e.Runs,
		PgfaultUpcall: e.PgfaultUpcall,
		IPC:           e.IPC,
		TF:            e.TF,
	}
}
