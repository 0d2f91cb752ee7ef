// Package programs is the boot image: the user programs the kernel can
// start by name.
package programs

import (
	"fmt"
	"sort"

	"github.com/GriffinCanCode/AgentOS/exokernel/internal/domain/env"
	"github.com/GriffinCanCode/AgentOS/exokernel/internal/domain/kernel"
	"github.com/GriffinCanCode/AgentOS/exokernel/internal/ulib"
)

// Program is one bootable user program.
type Program struct {
	Name string
	Type env.Type
	Help string
	Main kernel.Entry
}

var catalog = []Program{
	{Name: "hello", Type: env.TypeUser, Help: "print a greeting and exit", Main: hello},
	{Name: "yield", Type: env.TypeUser, Help: "yield five times", Main: yield},
	{Name: "faultalloc", Type: env.TypeUser, Help: "fault pages in on demand", Main: faultalloc},
	{Name: "forktree", Type: env.TypeUser, Help: "fork a binary tree of depth 3", Main: forktree},
	{Name: "pingpong", Type: env.TypeUser, Help: "bounce a counter between parent and child", Main: pingpong},
	{Name: "primes", Type: env.TypeUser, Help: "concurrent prime sieve", Main: primes},
	{Name: "netecho", Type: env.TypeNS, Help: "echo every received frame", Main: netecho},
}

// All lists the catalog sorted by name.
func All() []Program {
	out := append([]Program(nil), catalog...)
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Find looks a program up by name.
func Find(name string) (Program, bool) {
	for _, p := range catalog {
		if p.Name == name {
			return p, true
		}
	}
	return Program{}, false
}

// Register adds every program to im.
func Register(im *kernel.Image) {
	for _, p := range catalog {
		im.Entry(p.Name, p.Main)
	}
}

// Launch creates a runnable environment for the named program.
func Launch(k *kernel.Kernel, name string) (env.ID, error) {
	p, ok := Find(name)
	if !ok {
		return 0, fmt.Errorf("unknown program %q", name)
	}
	return k.Create(k.Image().Entry(p.Name, p.Main), p.Type)
}

func hello(u *kernel.User) {
	ulib.Printf(u, "hello, world\n")
	ulib.Printf(u, "i am environment %s\n", ulib.Getenvid(u))
}

func yield(u *kernel.User) {
	id := ulib.Getenvid(u)
	ulib.Printf(u, "Hello, I am environment %s.\n", id)
	for i := range 5 {
		ulib.Yield(u)
		ulib.Printf(u, "Back in environment %s, iteration %d.\n", id, i)
	}
	ulib.Printf(u, "All done in environment %s.\n", id)
}
