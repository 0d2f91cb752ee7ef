package programs

import (
	"fmt"

	"github.com/GriffinCanCode/AgentOS/exokernel/internal/domain/env"
	"github.com/GriffinCanCode/AgentOS/exokernel/internal/domain/kernel"
	"github.com/GriffinCanCode/AgentOS/exokernel/internal/domain/mem"
	"github.com/GriffinCanCode/AgentOS/exokernel/internal/ulib"
)

// Addresses faultalloc reads before anything is mapped there. The second
// string crosses a page boundary.
const (
	faultA uint32 = 0xdeadbeef
	faultB uint32 = 0xcafebffe
)

// allocFault maps a fresh page at the faulting address and writes a
// message into it.
func allocFault(u *kernel.User, utf *env.UTrapframe) {
	addr := utf.FaultVA
	ulib.Printf(u, "fault %x\n", addr)
	if err := ulib.PageAlloc(u, 0, mem.RoundDown(addr, mem.PGSIZE), ulib.PermRW); err != nil {
		ulib.Panicf(u, "allocating at %x in page fault handler: %v", addr, err)
		return
	}
	u.Store(addr, append([]byte(fmt.Sprintf("this string was faulted in at %x", addr)), 0))
}

func faultalloc(u *kernel.User) {
	if _, err := ulib.SetPgfaultHandler(u, "faultalloc.handler", allocFault); err != nil {
		ulib.Panicf(u, "%v", err)
		return
	}
	ulib.Printf(u, "%s\n", cstring(u, faultA, 100))
	ulib.Printf(u, "%s\n", cstring(u, faultB, 100))
}

// cstring reads a NUL-terminated string of at most max bytes.
func cstring(u *kernel.User, va uint32, max int) string {
	b := make([]byte, 0, max)
	for i := 0; i < max; i++ {
		c := u.LoadByte(va + uint32(i))
		if c == 0 {
			break
		}
		b = append(b, c)
	}
	return string(b)
}
