package ethmac

import (
	"log/slog"

	"github.com/soypat/ethmac/dma"
	"github.com/soypat/ethmac/pbuf"
)

// Transmit copies the chain into consecutive TX slots starting at the TX
// cursor and starts transmission. Before writing into a slot the descriptor
// must be software owned; otherwise Transmit abandons the frame and returns
// [ErrBusy], leaving retransmission to the caller. The chain remains owned
// by the caller.
//
// Whatever the outcome, a pending transmit underflow is cleared and the
// DMA transmit process resumed before returning.
func (iface *Interface) Transmit(frame *pbuf.Buf) (err error) {
	if iface.mac == nil {
		return errNotReady
	}
	defer iface.recoverTxUnderflow()
	iface.txmu.Lock()
	defer iface.txmu.Unlock()

	ring := &iface.tx
	start := ring.Cursor()
	slot := start
	if ring.Owner(slot) != dma.OwnedBySoftware {
		iface.stats.txBusy.Add(1)
		return ErrBusy
	}
	dst := ring.Buffer(slot)
	off := 0
	length := 0
	for seg := frame; seg != nil; seg = seg.Next {
		p := seg.Payload
		for len(p) > 0 {
			if off == len(dst) {
				slot = ring.Next(slot)
				if slot == start {
					return errFrameTooLong
				}
				if ring.Owner(slot) != dma.OwnedBySoftware {
					iface.stats.txBusy.Add(1)
					return ErrBusy
				}
				dst = ring.Buffer(slot)
				off = 0
			}
			n := copy(dst[off:], p)
			p = p[n:]
			off += n
			length += n
		}
	}
	if length == 0 {
		return errEmptyFrame
	}
	err = ring.CommitTx(length)
	if err != nil {
		return err
	}
	iface.mac.DemandTxPoll()
	iface.stats.txFrames.Add(1)
	iface.trace("ethmac:tx", slog.Int("plen", length))
	return nil
}

func (iface *Interface) recoverTxUnderflow() {
	if iface.mac.Status()&dma.StatusTxUnderflow != 0 {
		iface.mac.ClearStatus(dma.StatusTxUnderflow)
		iface.mac.DemandTxPoll()
		iface.stats.txResumed.Add(1)
	}
}
