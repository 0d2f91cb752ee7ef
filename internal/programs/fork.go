package programs

import (
	"github.com/GriffinCanCode/AgentOS/exokernel/internal/domain/env"
	"github.com/GriffinCanCode/AgentOS/exokernel/internal/domain/kernel"
	"github.com/GriffinCanCode/AgentOS/exokernel/internal/domain/mem"
	"github.com/GriffinCanCode/AgentOS/exokernel/internal/ulib"
)

// dataVA is the page forking programs keep their state in, so a child
// resumes with a copy of it.
const dataVA = mem.UTEXT

const (
	treeDepth  = 3
	pingRounds = 10
	primeLimit = 100
)

func mapData(u *kernel.User) {
	if err := ulib.PageAlloc(u, 0, dataVA, ulib.PermRW); err != nil {
		ulib.Panicf(u, "data page: %v", err)
	}
}

// forktree

func forktree(u *kernel.User) {
	mapData(u)
	u.Store(dataVA, []byte{0})
	branch(u, "")
}

func forktreeChild(u *kernel.User) {
	branch(u, cstring(u, dataVA, treeDepth+1))
}

func branch(u *kernel.User, cur string) {
	ulib.Printf(u, "%s: I am '%s'\n", ulib.Getenvid(u), cur)
	forkChild(u, cur, '0')
	forkChild(u, cur, '1')
}

func forkChild(u *kernel.User, cur string, b byte) {
	if len(cur) >= treeDepth {
		return
	}
	u.Store(dataVA, append([]byte(cur+string(b)), 0))
	if _, err := ulib.Fork(u, u.Image().Entry("forktree.child", forktreeChild)); err != nil {
		ulib.Panicf(u, "fork: %v", err)
	}
}

// pingpong

func pingpong(u *kernel.User) {
	res, err := ulib.Fork(u, u.Image().Entry("pingpong.child", pingpongChild))
	if err != nil {
		ulib.Panicf(u, "fork: %v", err)
		return
	}
	ulib.Printf(u, "send 0 from %s to %s\n", ulib.Getenvid(u), res.ID)
	if err := ulib.IPCSend(u, res.ID, 0, ulib.NoPage, 0); err != nil {
		ulib.Panicf(u, "send: %v", err)
		return
	}
	bounce(u)
}

func pingpongChild(u *kernel.User) { bounce(u) }

func bounce(u *kernel.User) {
	self := ulib.Getenvid(u)
	for {
		i, who, _, err := ulib.IPCRecv(u, ulib.NoPage)
		if err != nil {
			ulib.Panicf(u, "recv: %v", err)
			return
		}
		ulib.Printf(u, "%s got %d from %s\n", self, i, who)
		if i == pingRounds {
			return
		}
		i++
		if err := ulib.IPCSend(u, who, i, ulib.NoPage, 0); err != nil {
			ulib.Panicf(u, "send: %v", err)
			return
		}
		if i == pingRounds {
			return
		}
	}
}

// primes is a pipeline of sieve environments. The generator feeds
// 2..primeLimit to the first stage and then a zero, which every stage
// passes on before exiting.

func primes(u *kernel.User) {
	res, err := ulib.Fork(u, u.Image().Entry("primes.stage", primeStage))
	if err != nil {
		ulib.Panicf(u, "fork: %v", err)
		return
	}
	for i := uint32(2); i <= primeLimit; i++ {
		if err := ulib.IPCSend(u, res.ID, i, ulib.NoPage, 0); err != nil {
			ulib.Panicf(u, "send %d: %v", i, err)
			return
		}
	}
	ulib.IPCSend(u, res.ID, 0, ulib.NoPage, 0)
}

func primeStage(u *kernel.User) {
	p, _, _, err := ulib.IPCRecv(u, ulib.NoPage)
	if err != nil || p == 0 {
		return
	}
	ulib.Printf(u, "%d ", p)

	var next env.ID
	for {
		i, _, _, err := ulib.IPCRecv(u, ulib.NoPage)
		if err != nil {
			return
		}
		if i != 0 && i%p == 0 {
			continue
		}
		if next == 0 {
			if i == 0 {
				ulib.Printf(u, "\n")
				return
			}
			res, err := ulib.Fork(u, u.Image().Entry("primes.stage", primeStage))
			if err != nil {
				ulib.Panicf(u, "fork: %v", err)
				return
			}
			next = res.ID
		}
		if err := ulib.IPCSend(u, next, i, ulib.NoPage, 0); err != nil {
			return
		}
		if i == 0 {
			return
		}
	}
}
