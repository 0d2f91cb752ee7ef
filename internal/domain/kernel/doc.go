// Package kernel is the privileged core of the machine: it owns physical
// memory and the environment table, schedules environments cooperatively
// and is the only path by which user code reaches either.
//
// User programs are Go functions registered in an Image and started from
// the EntryRef held in an environment's trap frame EIP. They run with a
// *User, which offers three things:
//
//   - Syscall, the trap instruction. Arguments and results travel through
//     the trap frame registers, and every handle and pointer is validated
//     against the caller before any state changes. A bad pointer destroys
//     the caller.
//   - Load and Store through the environment's page tables. A failed
//     translation is a page fault, delivered to the environment's upcall
//     on its exception stack; without a usable upcall the environment is
//     destroyed.
//   - Read-only views of the environment array (ThisEnv, EnvInfo) and of
//     the page tables through the UVPT self map.
//
// Each environment executes on its own goroutine, but exactly one holds
// the CPU at a time: Run hands the CPU to an environment and waits until
// it yields, blocks in ipc_recv, exits or restarts. Kernel state is under
// one mutex taken for every kernel entry.
//
//	k, _ := kernel.New(kernel.DefaultConfig(), logger)
//	ref := k.Image().Entry("hello", func(u *kernel.User) { ... })
//	k.Create(ref, env.TypeUser)
//	k.Run(ctx)
package kernel
