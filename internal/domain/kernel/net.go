package kernel

import (
	"encoding/binary"
	"errors"

	"github.com/GriffinCanCode/AgentOS/exokernel/internal/domain/errno"
	"github.com/GriffinCanCode/AgentOS/exokernel/internal/domain/mem"
)

// sysCputs writes a user string to the console.
func (k *Kernel) sysCputs(r *runner, a [5]uint32) (int32, action, error) {
	s, n := a[0], a[1]
	if err := userMemAssert(r.e, s, n, 0); err != nil {
		return 0, actReturn, err
	}
	buf := make([]byte, n)
	if err := r.e.AS.Read(s, buf); err != nil {
		return 0, actReturn, &fatal{va: s, reason: "string unreadable"}
	}
	k.console.Write(buf)
	k.metrics.AddConsoleBytes(len(buf))
	return 0, actReturn, nil
}

// sysCgetc returns the next console input byte, or 0 if there is none.
func (k *Kernel) sysCgetc(_ *runner, _ [5]uint32) (int32, action, error) {
	c, ok := k.console.Getc()
	if !ok {
		return 0, actReturn, nil
	}
	return int32(c), actReturn, nil
}

// sysTimeMsec returns milliseconds since boot.
func (k *Kernel) sysTimeMsec(_ *runner, _ [5]uint32) (int32, action, error) {
	return int32(k.now().Sub(k.boot).Milliseconds()), actReturn, nil
}

// sysTryTransmitPacket queues one frame on the NIC without blocking.
func (k *Kernel) sysTryTransmitPacket(r *runner, a [5]uint32) (int32, action, error) {
	va, n := a[0], a[1]
	if k.nic == nil {
		return 0, actReturn, errno.ErrNoDevice
	}
	if err := userMemAssert(r.e, va, n, 0); err != nil {
		return 0, actReturn, err
	}
	if n > uint32(len(k.netbuf)) {
		return 0, actReturn, errno.ErrTooBig
	}
	pkt := k.netbuf[:n]
	if err := r.e.AS.Read(va, pkt); err != nil {
		return 0, actReturn, &fatal{va: va, reason: "packet unreadable"}
	}
	if err := k.nic.Transmit(pkt); err != nil {
		if errors.Is(err, errno.ErrQueueFull) {
			k.metrics.RecordQueueEvent("tx_full")
		}
		return 0, actReturn, err
	}
	k.metrics.RecordPacket("tx", int(n))
	return 0, actReturn, nil
}

// sysTryRecvPacket takes one frame off the NIC without blocking. The
// frame length is stored at lenp on success and when the buffer is too
// small, so the caller can retry with enough room.
func (k *Kernel) sysTryRecvPacket(r *runner, a [5]uint32) (int32, action, error) {
	va, size, lenp := a[0], a[1], a[2]
	if k.nic == nil {
		return 0, actReturn, errno.ErrNoDevice
	}
	if err := userMemAssert(r.e, va, size, mem.PTE_W); err != nil {
		return 0, actReturn, err
	}
	if err := userMemAssert(r.e, lenp, 4, mem.PTE_W); err != nil {
		return 0, actReturn, err
	}
	buf := k.netbuf[:min(size, uint32(len(k.netbuf)))]
	n, err := k.nic.Receive(buf)
	switch {
	case err == nil:
	case errors.Is(err, errno.ErrBufferTooSmall):
		if werr := k.storeLen(r, lenp, n); werr != nil {
			return 0, actReturn, werr
		}
		return 0, actReturn, err
	case errors.Is(err, errno.ErrQueueEmpty):
		k.metrics.RecordQueueEvent("rx_empty")
		return 0, actReturn, err
	default:
		return 0, actReturn, err
	}
	if err := r.e.AS.Write(va, buf[:n]); err != nil {
		return 0, actReturn, &fatal{va: va, reason: "packet buffer unwritable"}
	}
	if err := k.storeLen(r, lenp, n); err != nil {
		return 0, actReturn, err
	}
	k.metrics.RecordPacket("rx", n)
	return int32(n), actReturn, nil
}

func (k *Kernel) storeLen(r *runner, lenp uint32, n int) error {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], uint32(n))
	if err := r.e.AS.Write(lenp, b[:]); err != nil {
		return &fatal{va: lenp, reason: "length unwritable"}
	}
	return nil
}
