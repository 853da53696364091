package ethmac

import (
	"github.com/soypat/lneto/phy"
)

// Registers specific to SMSC/Microchip LAN87xx PHYs (LAN8720, LAN8742A).
const (
	regSpecialControlStatus = 0x1f
)

// SpecialStatus represents the LAN87xx PHY Special Control/Status register at address 0x1f.
// It reports the speed and duplex resolved by autonegotiation.
type SpecialStatus uint16

const (
	SpecialStatus10M        SpecialStatus = 1 << 2  // Resolved speed is 10Mbps; 100Mbps when clear.
	SpecialStatusFullDuplex SpecialStatus = 1 << 4  // Resolved duplex is full; half when clear.
	SpecialStatusAutoDone   SpecialStatus = 1 << 12 // Autonegotiation done.
)

// LinkMode returns the speed and duplex encoded in the register:
// 100Mbps unless the 10M bit is set, full duplex only if the duplex bit is set.
func (ss SpecialStatus) LinkMode() phy.LinkMode {
	tenM := ss&SpecialStatus10M != 0
	full := ss&SpecialStatusFullDuplex != 0
	switch {
	case tenM && full:
		return phy.Link10FDX
	case tenM:
		return phy.Link10HDX
	case full:
		return phy.Link100FDX
	default:
		return phy.Link100HDX
	}
}

// PHYConfig holds the configuration parameters for bringing up the PHY.
type PHYConfig struct {
	// Addr is the MDIO address of the PHY. Valid range is 0-31.
	Addr uint8
	// Advertisement is OR'ed into the PHY's current autonegotiation
	// advertisement. Zero advertises all 10/100 half/full modes.
	Advertisement phy.ANAR
	// Reset performs a PHY software reset before configuring.
	Reset bool
}

// PHY represents a LAN87xx Ethernet PHY. It wraps the generic PHY device
// from the phy package and adds access to the vendor special status register.
type PHY struct {
	phy.Device
	mdio phy.MDIOBus
}

// Configure initializes the PHY on the given MDIO bus: it extends the
// autonegotiation advertisement with cfg.Advertisement and enables
// autonegotiation. Any MDIO failure is returned wrapped in [ErrDeviceFault].
func (d *PHY) Configure(mdio phy.MDIOBus, cfg PHYConfig) (err error) {
	if cfg.Advertisement == 0 {
		cfg.Advertisement = phy.NewANAR().With10M().With100M()
	}
	if cfg.Addr > 31 || mdio == nil {
		return errBadPHYConfig
	}
	p := &d.Device
	p.ConfigureAs22(mdio, cfg.Addr)
	d.mdio = mdio
	if cfg.Reset {
		err = p.ResetPHY()
		if err != nil {
			return wrapFault("PHY reset", err)
		}
	}
	ad, err := p.Advertisement()
	if err != nil {
		return wrapFault("read ANAR", err)
	}
	err = p.SetAdvertisement(ad | cfg.Advertisement)
	if err != nil {
		return wrapFault("write ANAR", err)
	}
	err = p.EnableAutoNegotiation(true)
	if err != nil {
		return wrapFault("enable autonegotiation", err)
	}
	return nil
}

// SpecialStatus reads the Special Control/Status register.
func (d *PHY) SpecialStatus() (SpecialStatus, error) {
	v, err := d.mdio.Read(d.PHYAddr(), 0, regSpecialControlStatus)
	return SpecialStatus(v), err
}
