package programs

import (
	"github.com/GriffinCanCode/AgentOS/exokernel/internal/domain/kernel"
	"github.com/GriffinCanCode/AgentOS/exokernel/internal/netglue"
	"github.com/GriffinCanCode/AgentOS/exokernel/internal/ulib"
)

const (
	echoVA       uint32 = 0x00b00000
	echoInterval uint32 = 1000
	statsEvery   uint32 = 60
)

// netecho is a network server that returns every frame to its sender,
// swapping the Ethernet source and destination addresses.
func netecho(u *kernel.User) {
	h, err := netglue.Start(u, echoInterval)
	if err != nil {
		ulib.Panicf(u, "netecho: %v", err)
		return
	}
	ulib.Printf(u, "netecho: input %s output %s\n", h.Input, h.Output)

	var echoed, ticks uint32
	for {
		value, from, perm, err := ulib.IPCRecv(u, echoVA)
		if err != nil {
			ulib.Panicf(u, "netecho: recv: %v", err)
			return
		}
		switch {
		case value == netglue.ReqTimer && from == h.Timer:
			if ticks++; ticks%statsEvery == 0 {
				ulib.Printf(u, "netecho: %d frames echoed\n", echoed)
			}
		case value == netglue.ReqInput && from == h.Input && perm != 0:
			frame := netglue.Frame(u, echoVA)
			swapMAC(frame)
			netglue.PutFrame(u, echoVA, frame)
			if err := ulib.IPCSend(u, h.Output, netglue.ReqOutput, echoVA, ulib.PermRW); err != nil {
				ulib.Panicf(u, "netecho: send: %v", err)
				return
			}
			ulib.PageUnmap(u, 0, echoVA)
			echoed++
		}
	}
}

// swapMAC exchanges the destination and source addresses of an Ethernet
// frame.
func swapMAC(f []byte) {
	if len(f) < 12 {
		return
	}
	for i := range 6 {
		f[i], f[6+i] = f[6+i], f[i]
	}
}
