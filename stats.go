package ethmac

import "sync/atomic"

// Stats holds interface counters.
type Stats struct {
	RxFrames    uint64 // Frames delivered to the stack.
	RxRejected  uint64 // Frames the stack refused.
	RxDropped   uint64 // Frames dropped on allocation failure or bad length.
	RxResumed   uint64 // Recoveries from RX buffer unavailable.
	TxFrames    uint64
	TxBusy      uint64 // Transmits refused with ErrBusy.
	TxResumed   uint64 // Recoveries from TX underflow.
	LinkChanges uint64
	PHYFaults   uint64
}

type stats struct {
	rxFrames    atomic.Uint64
	rxRejected  atomic.Uint64
	rxDropped   atomic.Uint64
	rxResumed   atomic.Uint64
	txFrames    atomic.Uint64
	txBusy      atomic.Uint64
	txResumed   atomic.Uint64
	linkChanges atomic.Uint64
	phyFaults   atomic.Uint64
}

// Stats returns a snapshot of the interface counters.
func (iface *Interface) Stats() Stats {
	s := &iface.stats
	return Stats{
		RxFrames:    s.rxFrames.Load(),
		RxRejected:  s.rxRejected.Load(),
		RxDropped:   s.rxDropped.Load(),
		RxResumed:   s.rxResumed.Load(),
		TxFrames:    s.txFrames.Load(),
		TxBusy:      s.txBusy.Load(),
		TxResumed:   s.txResumed.Load(),
		LinkChanges: s.linkChanges.Load(),
		PHYFaults:   s.phyFaults.Load(),
	}
}
