package env

import (
	"encoding/binary"
	"fmt"
)

// Segment selectors and flags loaded into every user trap frame.
const (
	GD_UT = 0x18 // user text
	GD_UD = 0x20 // user data

	FL_IF        uint32 = 0x00000200 // interrupts enabled
	FL_IOPL_MASK uint32 = 0x00003000 // I/O privilege level
)

// PushRegs is the general register block, in pushal order.
type PushRegs struct {
	EDI  uint32
	ESI  uint32
	EBP  uint32
	OESP uint32 // unused
	EBX  uint32
	EDX  uint32
	ECX  uint32
	EAX  uint32
}

// TrapFrame is the saved user register state of an environment.
type TrapFrame struct {
	Regs   PushRegs
	ES     uint16
	DS     uint16
	TrapNo uint32
	Err    uint32
	EIP    uint32
	CS     uint16
	EFLAGS uint32
	ESP    uint32
	SS     uint16
}

// TrapFrameSize is the byte size of an encoded TrapFrame.
const TrapFrameSize = 68

// UTrapframe is the record pushed onto the user exception stack for a
// page fault upcall.
type UTrapframe struct {
	FaultVA uint32
	Err     uint32
	Regs    PushRegs
	EIP     uint32
	EFLAGS  uint32
	ESP     uint32
}

// UTrapframeSize is the byte size of an encoded UTrapframe.
const UTrapframeSize = 52

func putRegs(b []byte, r PushRegs) {
	le := binary.LittleEndian
	le.PutUint32(b[0:], r.EDI)
	le.PutUint32(b[4:], r.ESI)
	le.PutUint32(b[8:], r.EBP)
	le.PutUint32(b[12:], r.OESP)
	le.PutUint32(b[16:], r.EBX)
	le.PutUint32(b[20:], r.EDX)
	le.PutUint32(b[24:], r.ECX)
	le.PutUint32(b[28:], r.EAX)
}

func getRegs(b []byte) PushRegs {
	le := binary.LittleEndian
	return PushRegs{
		EDI:  le.Uint32(b[0:]),
		ESI:  le.Uint32(b[4:]),
		EBP:  le.Uint32(b[8:]),
		OESP: le.Uint32(b[12:]),
		EBX:  le.Uint32(b[16:]),
		EDX:  le.Uint32(b[20:]),
		ECX:  le.Uint32(b[24:]),
		EAX:  le.Uint32(b[28:]),
	}
}

// MarshalBinary encodes the frame in its in-memory layout. Segment
// registers occupy the low half of a 32-bit slot.
func (tf *TrapFrame) MarshalBinary() ([]byte, error) {
	b := make([]byte, TrapFrameSize)
	le := binary.LittleEndian
	putRegs(b, tf.Regs)
	le.PutUint32(b[32:], uint32(tf.ES))
	le.PutUint32(b[36:], uint32(tf.DS))
	le.PutUint32(b[40:], tf.TrapNo)
	le.PutUint32(b[44:], tf.Err)
	le.PutUint32(b[48:], tf.EIP)
	le.PutUint32(b[52:], uint32(tf.CS))
	le.PutUint32(b[56:], tf.EFLAGS)
	le.PutUint32(b[60:], tf.ESP)
	le.PutUint32(b[64:], uint32(tf.SS))
	return b, nil
}

// UnmarshalBinary decodes a frame encoded by MarshalBinary.
func (tf *TrapFrame) UnmarshalBinary(b []byte) error {
	if len(b) < TrapFrameSize {
		return fmt.Errorf("trap frame: need %d bytes, have %d", TrapFrameSize, len(b))
	}
	le := binary.LittleEndian
	tf.Regs = getRegs(b)
	tf.ES = uint16(le.Uint32(b[32:]))
	tf.DS = uint16(le.Uint32(b[36:]))
	tf.TrapNo = le.Uint32(b[40:])
	tf.Err = le.Uint32(b[44:])
	tf.EIP = le.Uint32(b[48:])
	tf.CS = uint16(le.Uint32(b[52:]))
	tf.EFLAGS = le.Uint32(b[56:])
	tf.ESP = le.Uint32(b[60:])
	tf.SS = uint16(le.Uint32(b[64:]))
	return nil
}

// Sanitize forces user segments and privilege: interrupts on, IOPL 0.
func (tf *TrapFrame) Sanitize() {
	tf.CS = GD_UT | 3
	tf.DS = GD_UD | 3
	tf.ES = GD_UD | 3
	tf.SS = GD_UD | 3
	tf.EFLAGS |= FL_IF
	tf.EFLAGS &^= FL_IOPL_MASK
}

// MarshalBinary encodes the record as it sits on the exception stack.
func (u *UTrapframe) MarshalBinary() ([]byte, error) {
	b := make([]byte, UTrapframeSize)
	le := binary.LittleEndian
	le.PutUint32(b[0:], u.FaultVA)
	le.PutUint32(b[4:], u.Err)
	putRegs(b[8:], u.Regs)
	le.PutUint32(b[40:], u.EIP)
	le.PutUint32(b[44:], u.EFLAGS)
	le.PutUint32(b[48:], u.ESP)
	return b, nil
}

// UnmarshalBinary decodes an exception stack record.
func (u *UTrapframe) UnmarshalBinary(b []byte) error {
	if len(b) < UTrapframeSize {
		return fmt.Errorf("utrapframe: need %d bytes, have %d", UTrapframeSize, len(b))
	}
	le := binary.LittleEndian
	u.FaultVA = le.Uint32(b[0:])
	u.Err = le.Uint32(b[4:])
	u.Regs = getRegs(b[8:])
	u.EIP = le.Uint32(b[40:])
	u.EFLAGS = le.Uint32(b[44:])
	u.ESP = le.Uint32(b[48:])
	return nil
}
