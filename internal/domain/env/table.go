package env

import (
	"fmt"

	"github.com/GriffinCanCode/AgentOS/exokernel/internal/domain/errno"
	"github.com/GriffinCanCode/AgentOS/exokernel/internal/domain/mem"
)

// Table is the fixed array of environment slots. It is not synchronized;
// the kernel serializes access.
type Table struct {
	envs     []Env
	freeHead int32
	nfree    int
}

// NewTable creates n free slots. n must be a power of two no larger than
// MaxEnv so that an ID's low bits select the slot.
func NewTable(n int) (*Table, error) {
	if n <= 0 || n&(n-1) != 0 || n > MaxEnv {
		return nil, fmt.Errorf("env table size %d must be a power of two in [1, %d]", n, MaxEnv)
	}
	t := &Table{envs: make([]Env, n), freeHead: -1}
	// Slot 0 ends up at the head so the first allocation returns it.
	for i := n - 1; i >= 0; i-- {
		e := &t.envs[i]
		e.index = int32(i)
		t.pushFree(e)
	}
	return t, nil
}

func (t *Table) pushFree(e *Env) {
	e.next = t.freeHead
	t.freeHead = e.index
	t.nfree++
}

// Len is the number of slots.
func (t *Table) Len() int { return len(t.envs) }

// NFree is the number of free slots.
func (t *Table) NFree() int { return t.nfree }

// At returns slot i.
func (t *Table) At(i int) *Env { return &t.envs[i] }

// IndexOf maps an ID to its slot index.
func (t *Table) IndexOf(id ID) int { return int(id) & (len(t.envs) - 1) }

// Alloc takes a free slot, assigns it a fresh ID and resets its state. The
// environment starts NotRunnable with no address space; the caller
// attaches one.
func (t *Table) Alloc(parent ID) (*Env, error) {
	if t.freeHead < 0 {
		return nil, errno.ErrNoFreeEnv
	}
	e := &t.envs[t.freeHead]
	t.freeHead = e.next
	t.nfree--

	gen := (int32(e.ID) + 1<<GenShift) &^ int32(len(t.envs)-1)
	if gen <= 0 {
		gen = 1 << GenShift
	}
	*e = Env{
		ID:       ID(gen | e.index),
		ParentID: parent,
		Type:     TypeUser,
		Status:   NotRunnable,
		index:    e.index,
		next:     -1,
	}
	e.TF.Sanitize()
	e.TF.ESP = mem.USTACKTOP
	return e, nil
}

// Release returns a slot to the free list. The caller has already torn
// down the address space.
func (t *Table) Release(e *Env) {
	if e.Status == Free {
		panic(fmt.Sprintf("env %s released twice", e.ID))
	}
	e.Status = Free
	e.AS = nil
	e.IPC = Mailbox{}
	e.PgfaultUpcall = 0
	t.pushFree(e)
}

// Lookup finds the live environment with exactly this ID.
func (t *Table) Lookup(id ID) (*Env, error) {
	e := &t.envs[t.IndexOf(id)]
	if e.Status == Free || e.ID != id {
		return nil, errno.ErrBadEnv
	}
	return e, nil
}

// Resolve converts an ID named by caller into an environment. Self means
// the caller. With checkperm set the target must be the caller or one of
// its immediate children.
func (t *Table) Resolve(id ID, caller *Env, checkperm bool) (*Env, error) {
	if id == Self {
		if caller == nil {
			return nil, errno.ErrBadEnv
		}
		return caller, nil
	}
	e, err := t.Lookup(id)
	if err != nil {
		return nil, err
	}
	if checkperm && e != caller && (caller == nil || e.ParentID != caller.ID) {
		return nil, errno.ErrForbidden
	}
	return e, nil
}

// Each calls fn for every non-free slot in index order.
func (t *Table) Each(fn func(e *Env)) {
	for i := range t.envs {
		if t.envs[i].Status != Free {
			fn(&t.envs[i])
		}
	}
}
