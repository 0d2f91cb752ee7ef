package e1000

// PCI identity of the 82540EM.
const (
	VendorID = 0x8086
	DeviceID = 0x100e
)

// Register byte offsets.
const (
	CTRL   = 0x00000
	STATUS = 0x00008
	ICR    = 0x000c0
	IMS    = 0x000d0
	IMC    = 0x000d8
	RCTL   = 0x00100
	TCTL   = 0x00400
	TIPG   = 0x00410

	RDBAL = 0x02800
	RDBAH = 0x02804
	RDLEN = 0x02808
	RDH   = 0x02810
	RDT   = 0x02818

	TDBAL = 0x03800
	TDBAH = 0x03804
	TDLEN = 0x03808
	TDH   = 0x03810
	TDT   = 0x03818

	MPC  = 0x04010 // missed packets
	GPRC = 0x04074 // good packets received
	GPTC = 0x04080 // good packets transmitted
	ROC  = 0x040ac // receive oversize
	TORL = 0x040c0 // total octets received, low
	TOTL = 0x040c8 // total octets transmitted, low

	MTA  = 0x05200 // multicast table, MTASize words
	RAL0 = 0x05400
	RAH0 = 0x05404

	MTASize = 128
	RegSize = 0x20000
)

// STATUS value of a full duplex 1000Mb/s link that is up.
const LinkUp = 0x80080783

// TCTL bits.
const (
	TCTL_EN         = 0x00000002
	TCTL_PSP        = 0x00000008
	TCTL_CT_SHIFT   = 4
	TCTL_COLD_SHIFT = 12
)

// RCTL bits.
const (
	RCTL_EN         = 0x00000002
	RCTL_BAM        = 0x00008000
	RCTL_BSIZE_2048 = 0x00000000
	RCTL_SECRC      = 0x04000000
)

// TIPG fields.
const (
	TIPG_IPGR1_SHIFT = 10
	TIPG_IPGR2_SHIFT = 20
)

const RAH_AV = 0x80000000

// Descriptor layout. Both rings use 16-byte descriptors: a 64-bit buffer
// address, then a word holding the length (and, for transmit, the command
// byte at bits 24..31), then a word whose low byte is the status.
const (
	DescSize = 16

	DescAddrLo = 0
	DescAddrHi = 4
	DescLength = 8
	DescStatus = 12

	TXD_CMD_EOP   = 0x01
	TXD_CMD_RS    = 0x08
	TXD_CMD_SHIFT = 24

	STAT_DD      = 0x01 // descriptor done
	RXD_STAT_EOP = 0x02
)
