// Package mdiosim emulates a Clause 22 PHY register file behind the
// [phy.MDIOBus] interface for tests and host simulation.
package mdiosim

import (
	"errors"
	"sync"

	"github.com/soypat/lneto/phy"
)

var _ phy.MDIOBus = (*Bus)(nil) // compile time guarantee of interface implementation.

var (
	// ErrTimeout is returned for accesses while a fault is injected.
	ErrTimeout     = errors.New("mdiosim: register access timeout")
	errNoPHY       = errors.New("mdiosim: no PHY at address")
	errClause45    = errors.New("mdiosim: clause 45 access unsupported")
	errBadRegister = errors.New("mdiosim: register out of range")
)

// Special status register bits of LAN87xx PHYs.
const (
	regSpecialStatus = 0x1f
	ss10M            = 1 << 2
	ssFullDuplex     = 1 << 4
	ssAutoDone       = 1 << 12
)

// Bus is a single PHY on an emulated MDIO bus.
type Bus struct {
	mu       sync.Mutex
	addr     uint8
	regs     [32]uint16
	fault    map[uint16]bool
	faultAll bool // Fails every access.
	reads    int
	writes   int
}

// New returns a bus with one PHY at addr whose registers hold typical
// power-on values: autonegotiation capable, 10/100 abilities, link down.
func New(addr uint8) *Bus {
	b := &Bus{addr: addr, fault: make(map[uint16]bool)}
	b.regs[phy.AddrBMCR] = uint16(phy.BMCRSpeed100)
	b.regs[phy.AddrBMSR] = uint16(phy.BMSRExtCap | phy.BMSRANCap |
		phy.BMSR10Half | phy.BMSR10Full | phy.BMSR100Half | phy.BMSR100Full)
	b.regs[phy.AddrANAR] = uint16(phy.NewANAR())
	b.regs[0x02] = 0x0007 // Microchip OUI.
	b.regs[0x03] = 0xc0f1
	return b
}

// Read implements [phy.MDIOBus].
func (b *Bus) Read(phyAddr, devAddr uint8, regAddr uint16) (uint16, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.check(phyAddr, devAddr, regAddr); err != nil {
		return 0xffff, err
	}
	b.reads++
	return b.regs[regAddr], nil
}

// Write implements [phy.MDIOBus]. The reset and autonegotiation restart
// bits of BMCR self-clear.
func (b *Bus) Write(phyAddr, devAddr uint8, regAddr, value uint16) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.check(phyAddr, devAddr, regAddr); err != nil {
		return err
	}
	b.writes++
	switch regAddr {
	case phy.AddrBMCR:
		value &^= uint16(phy.BMCRReset | phy.BMCRANRestart)
	case phy.AddrBMSR, regSpecialStatus:
		return nil // Read only.
	}
	b.regs[regAddr] = value
	return nil
}

func (b *Bus) check(phyAddr, devAddr uint8, regAddr uint16) error {
	switch {
	case devAddr != 0:
		return errClause45
	case regAddr > 31:
		return errBadRegister
	case phyAddr != b.addr:
		return errNoPHY
	case b.faultAll || b.fault[regAddr]:
		return ErrTimeout
	}
	return nil
}

// Link describes the PHY state as seen on the wire side.
type Link struct {
	Up          bool // Link status bit.
	AutoNegDone bool // Autonegotiation complete bit.
	Speed10     bool // Resolved 10Mbps instead of 100Mbps.
	FullDuplex  bool
}

// SetLink updates the status and special status registers.
func (b *Bus) SetLink(l Link) {
	b.mu.Lock()
	defer b.mu.Unlock()
	bsr := phy.BMSR(b.regs[phy.AddrBMSR]) &^ (phy.BMSRLinkStatus | phy.BMSRANComplete)
	if l.Up {
		bsr |= phy.BMSRLinkStatus
	}
	if l.AutoNegDone {
		bsr |= phy.BMSRANComplete
	}
	b.regs[phy.AddrBMSR] = uint16(bsr)
	var ss uint16
	if l.Speed10 {
		ss |= ss10M
	}
	if l.FullDuplex {
		ss |= ssFullDuplex
	}
	if l.AutoNegDone {
		ss |= ssAutoDone
	}
	b.regs[regSpecialStatus] = ss
}

// SetFault makes accesses to regAddr fail with [ErrTimeout] while fail is true.
func (b *Bus) SetFault(regAddr uint16, fail bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if fail {
		b.fault[regAddr] = true
	} else {
		delete(b.fault, regAddr)
	}
}

// SetFaultAll makes every access fail while fail is true.
func (b *Bus) SetFaultAll(fail bool) {
	b.mu.Lock()
	b.faultAll = fail
	b.mu.Unlock()
}

// SetRegister sets the raw value of a register, read only ones included.
func (b *Bus) SetRegister(regAddr, value uint16) {
	b.mu.Lock()
	b.regs[regAddr&31] = value
	b.mu.Unlock()
}

// Register returns the raw value of a register bypassing faults.
func (b *Bus) Register(regAddr uint16) uint16 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.regs[regAddr&31]
}

// Accesses returns the number of successful reads and writes.
func (b *Bus) Accesses() (reads, writes int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.reads, b.writes
}
