package ethmac

import (
	"log/slog"

	"github.com/soypat/lneto/phy"
)

// LinkState is the physical link state tracked by the link monitor.
type LinkState uint8

const (
	LinkDown        LinkState = iota // down
	LinkNegotiating                  // negotiating
	LinkUp                           // up
)

func (ls LinkState) String() string {
	switch ls {
	case LinkDown:
		return "down"
	case LinkNegotiating:
		return "negotiating"
	case LinkUp:
		return "up"
	default:
		return "LinkState(?)"
	}
}

// LinkState returns the link state observed at the last PHY poll and the
// negotiated mode, which is [phy.LinkDown] unless the link is up.
func (iface *Interface) LinkState() (LinkState, phy.LinkMode) {
	return LinkState(iface.state.Load()), phy.LinkMode(iface.mode.Load())
}

// pollLink reads the PHY basic status and reconciles it with the stack's
// view of the link. The link counts as up only when both the link status
// and autonegotiation complete bits are set. On a down to up transition
// the negotiated speed and duplex are read from the special status
// register, the MAC is reconfigured and the stack notified. A special
// status without its autonegotiation done bit is treated as still
// negotiating. PHY failures
// leave the link state untouched and are retried on the next poll.
// Must be called with the stack lock held.
func (iface *Interface) pollLink() {
	bsr, err := iface.phy.BasicStatus()
	if err != nil {
		iface.stats.phyFaults.Add(1)
		iface.logerr("ethmac:link-bsr", slog.String("err", err.Error()))
		return
	}
	const linkMask = phy.BMSRLinkStatus | phy.BMSRANComplete
	linkUp := bsr&linkMask == linkMask
	wasUp := iface.stack.LinkUp()
	if !linkUp && bsr&phy.BMSRLinkStatus != 0 {
		iface.state.Store(uint32(LinkNegotiating))
	} else if !linkUp {
		iface.state.Store(uint32(LinkDown))
	}
	if linkUp == wasUp {
		if linkUp {
			iface.state.Store(uint32(LinkUp))
		}
		return
	}

	if !linkUp {
		iface.mode.Store(uint32(phy.LinkDown))
		iface.stack.SetLinkDown()
		iface.stats.linkChanges.Add(1)
		iface.info("ethmac:link-down")
		return
	}

	ssr, err := iface.phy.SpecialStatus()
	if err != nil {
		iface.stats.phyFaults.Add(1)
		iface.logerr("ethmac:link-ssr", slog.String("err", err.Error()))
		return
	}
	if ssr&SpecialStatusAutoDone == 0 {
		// Resolved speed and duplex are not valid yet.
		iface.stats.phyFaults.Add(1)
		iface.state.Store(uint32(LinkNegotiating))
		iface.logerr("ethmac:link-ssr-pending", slog.Uint64("ssr", uint64(ssr)))
		return
	}
	mode := ssr.LinkMode()
	err = iface.mac.ConfigureMAC(mode)
	if err != nil {
		iface.stats.phyFaults.Add(1)
		iface.logerr("ethmac:link-configure", slog.String("mode", mode.String()), slog.String("err", err.Error()))
		return
	}
	iface.mode.Store(uint32(mode))
	iface.state.Store(uint32(LinkUp))
	iface.stack.SetLinkUp(mode)
	iface.stats.linkChanges.Add(1)
	iface.info("ethmac:link-up", slog.String("mode", mode.String()))
}
