package ethmac

import (
	"log/slog"

	"github.com/soypat/ethmac/dma"
	"github.com/soypat/ethmac/pbuf"
)

// drainRx delivers every completed frame in the RX ring to the stack in
// ring order. Frames the stack rejects are freed immediately. A suspended
// receive process is resumed once the ring has been drained, even if no
// frame was found.
func (iface *Interface) drainRx() {
	for {
		frame, ok := iface.receiveFrame()
		if !ok {
			iface.resumeRx()
			return
		}
		if frame == nil {
			continue // Dropped.
		}
		err := iface.stack.Input(frame)
		if err != nil {
			iface.stats.rxRejected.Add(1)
			iface.debug("ethmac:rx-rejected", slog.Int("plen", frame.Len()), slog.String("err", err.Error()))
			iface.alloc.Free(frame)
			continue
		}
		iface.stats.rxFrames.Add(1)
	}
}

// receiveFrame reassembles the next completed frame from the RX ring into
// a freshly allocated chain. ok is false when no frame is ready. A nil
// frame with ok set means a frame was consumed but dropped, either because
// allocation failed, it was empty or its reported length was malformed.
// The frame's descriptors are handed back to the DMA in every case.
func (iface *Interface) receiveFrame() (frame *pbuf.Buf, ok bool) {
	ring := &iface.rx
	info, ok := ring.ReceivedFrame()
	if !ok {
		return nil, false
	}
	switch {
	case !info.Valid(ring):
		iface.stats.rxDropped.Add(1)
		iface.logerr("ethmac:rx-bad-length", slog.Int("plen", info.Length), slog.Int("segs", info.Segments))
	case info.Length == 0:
		iface.stats.rxDropped.Add(1)
	default:
		var err error
		frame, err = iface.alloc.Alloc(info.Length)
		if err != nil {
			frame = nil
			iface.stats.rxDropped.Add(1)
			iface.debug("ethmac:rx-alloc", slog.Int("plen", info.Length), slog.String("err", err.Error()))
			break
		}
		copyFromRing(frame, ring, info.First)
		iface.trace("ethmac:rx", slog.Int("plen", info.Length), slog.Int("segs", info.Segments))
	}
	ring.Release(info)
	return frame, true
}

// resumeRx restarts reception if the DMA suspended it for lack of
// descriptors.
func (iface *Interface) resumeRx() {
	if iface.mac.Status()&dma.StatusRxBufferUnavailable == 0 {
		return
	}
	iface.mac.ClearStatus(dma.StatusRxBufferUnavailable)
	iface.mac.DemandRxPoll()
	iface.stats.rxResumed.Add(1)
	iface.debug("ethmac:rx-resume")
}

// copyFromRing fills every segment of dst with bytes read from the ring
// starting at the slot of descriptor first. When a slot is exhausted the
// copy continues at the start of the next slot in ring order. The caller
// guarantees dst.Len() does not exceed the bytes held by the frame's slots.
func copyFromRing(dst *pbuf.Buf, ring *dma.Ring, first int) {
	slot := first
	src := ring.Buffer(slot)
	off := 0
	for seg := dst; seg != nil; seg = seg.Next {
		p := seg.Payload
		for len(p) > 0 {
			if off == len(src) {
				slot = ring.Next(slot)
				src = ring.Buffer(slot)
				off = 0
			}
			n := copy(p, src[off:])
			p = p[n:]
			off += n
		}
	}
}
