package dma

import (
	"errors"
	"sync"
	"sync/atomic"

	"github.com/soypat/lneto/phy"
)

// Status holds the DMA status flags. Flags are cleared by writing them back
// with [Engine.ClearStatus].
type Status uint32

const (
	// StatusRxComplete is set whenever a frame has been written to the RX ring.
	StatusRxComplete Status = 1 << iota
	// StatusRxBufferUnavailable is set when the engine found the next RX
	// descriptor owned by software. Reception is suspended until an RX poll demand.
	StatusRxBufferUnavailable
	// StatusTxComplete is set whenever a frame has been transmitted.
	StatusTxComplete
	// StatusTxUnderflow is set when the transmit FIFO ran dry mid frame.
	// Transmission is suspended until a TX poll demand.
	StatusTxUnderflow
)

var (
	ErrStopped       = errors.New("dma: engine stopped")
	ErrRxSuspended   = errors.New("dma: reception suspended, no buffers available")
	errNotAttached   = errors.New("dma: rings not attached")
	errUnsupportedLM = errors.New("dma: unsupported link mode")
)

// EngineConfig configures the software DMA engine.
type EngineConfig struct {
	// OnReceive is invoked after a frame has been written to the RX ring.
	// It plays the role of the receive-complete interrupt and runs on the
	// goroutine that called [Engine.Receive].
	OnReceive func()
	// OnTransmit is invoked with every frame the engine puts on the wire.
	// frame is only valid for the duration of the call.
	OnTransmit func(frame []byte)
	// ManualTx defers transmission until [Engine.ProcessTx] is called instead
	// of draining the TX ring on every poll demand. Useful to observe
	// DMA owned descriptors.
	ManualTx bool
}

// Engine is a software rendition of an Ethernet MAC with descriptor based
// DMA. It owns the hardware side of the RX and TX rings: it writes incoming
// frames into DMA owned RX slots and reads outgoing frames from DMA owned
// TX slots, flipping ownership back when done.
type Engine struct {
	mu          sync.Mutex
	cfg         EngineConfig
	rx, tx      *Ring
	rxCur       int
	txCur       int
	status      atomic.Uint32
	running     bool
	rxSuspended bool
	txSuspended bool
	mode        phy.LinkMode
	hwaddr      [6]byte
	txframe     []byte
	transmitted int
}

// Configure resets the engine with cfg. Rings must be attached again afterwards.
func (e *Engine) Configure(cfg EngineConfig) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.cfg = cfg
	e.rx, e.tx = nil, nil
	e.rxCur, e.txCur = 0, 0
	e.status.Store(0)
	e.running = false
	e.rxSuspended = false
	e.txSuspended = false
	e.mode = phy.Link100FDX
	e.hwaddr = [6]byte{}
	e.transmitted = 0
}

// Attach points the engine at the descriptor lists, as writing the
// descriptor list address registers does on real hardware.
func (e *Engine) Attach(rx, tx *Ring) error {
	if rx == nil || tx == nil || rx.Len() == 0 || tx.Len() == 0 {
		return errNotInit
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.rx, e.tx = rx, tx
	e.rxCur, e.txCur = 0, 0
	if cap(e.txframe) < tx.Capacity() {
		e.txframe = make([]byte, 0, tx.Capacity())
	}
	return nil
}

// Start enables reception and transmission.
func (e *Engine) Start() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.rx == nil {
		return errNotAttached
	}
	e.running = true
	return nil
}

// Stop disables reception and transmission.
func (e *Engine) Stop() error {
	e.mu.Lock()
	e.running = false
	e.mu.Unlock()
	return nil
}

// SetHardwareAddr programs the station address.
func (e *Engine) SetHardwareAddr(addr [6]byte) {
	e.mu.Lock()
	e.hwaddr = addr
	e.mu.Unlock()
}

// HardwareAddr returns the programmed station address.
func (e *Engine) HardwareAddr() [6]byte {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.hwaddr
}

// ConfigureMAC sets the speed and duplex of the MAC.
func (e *Engine) ConfigureMAC(mode phy.LinkMode) error {
	switch mode.SpeedMbps() {
	case 10, 100:
	default:
		return errUnsupportedLM
	}
	e.mu.Lock()
	e.mode = mode
	e.mu.Unlock()
	return nil
}

// LinkMode returns the speed and duplex the MAC is configured with.
func (e *Engine) LinkMode() phy.LinkMode {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.mode
}

// Status returns the current status flags.
func (e *Engine) Status() Status { return Status(e.status.Load()) }

// ClearStatus clears the flags set in s.
func (e *Engine) ClearStatus(s Status) { e.status.And(^uint32(s)) }

// SetStatus raises the flags in s. Raising [StatusTxUnderflow] suspends
// transmission the way a real underflow does.
func (e *Engine) SetStatus(s Status) {
	if s&StatusTxUnderflow != 0 {
		e.mu.Lock()
		e.txSuspended = true
		e.mu.Unlock()
	}
	if s&StatusRxBufferUnavailable != 0 {
		e.mu.Lock()
		e.rxSuspended = true
		e.mu.Unlock()
	}
	e.status.Or(uint32(s))
}

// DemandRxPoll resumes a suspended receive process.
func (e *Engine) DemandRxPoll() {
	e.mu.Lock()
	e.rxSuspended = false
	e.mu.Unlock()
}

// DemandTxPoll resumes the transmit process which drains DMA owned TX
// descriptors unless the engine is configured with ManualTx.
func (e *Engine) DemandTxPoll() {
	e.mu.Lock()
	e.txSuspended = false
	manual := e.cfg.ManualTx
	e.mu.Unlock()
	if !manual {
		e.ProcessTx()
	}
}

// Receive writes frame into the RX ring as the MAC would after taking it off
// the wire. The frame is dropped with [ErrRxSuspended] if the descriptors it
// needs are not all owned by the DMA, in which case
// [StatusRxBufferUnavailable] is raised.
func (e *Engine) Receive(frame []byte) error {
	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		return ErrStopped
	} else if e.rxSuspended {
		e.mu.Unlock()
		e.SetStatus(StatusRxBufferUnavailable)
		return ErrRxSuspended
	}
	r := e.rx
	if len(frame) > r.Capacity() {
		e.mu.Unlock()
		return ErrBadLength
	}
	n := r.SlotsFor(len(frame))
	i := e.rxCur
	for range n {
		if r.Owner(i) != OwnedByDMA {
			e.rxSuspended = true
			e.mu.Unlock()
			e.SetStatus(StatusRxBufferUnavailable)
			return ErrRxSuspended
		}
		i = r.Next(i)
	}
	first := e.rxCur
	i = first
	rem := frame
	for k := range n {
		var flags Flags
		if k == 0 {
			flags |= FlagFirst
		}
		if k == n-1 {
			flags |= FlagLast
		}
		c := copy(r.Buffer(i), rem)
		rem = rem[c:]
		length := 0
		if flags&FlagLast != 0 {
			length = len(frame)
		}
		r.SetStatus(i, flags, length)
		i = r.Next(i)
	}
	e.rxCur = i
	for k := n - 1; k >= 0; k-- {
		r.SetOwner((first+k)%r.Len(), OwnedBySoftware)
	}
	onrx := e.cfg.OnReceive
	e.mu.Unlock()
	e.SetStatus(StatusRxComplete)
	if onrx != nil {
		onrx()
	}
	return nil
}

// ProcessTx transmits every complete frame found in DMA owned TX
// descriptors starting at the engine's TX position and returns the number
// of frames put on the wire. Descriptors are handed back to software.
func (e *Engine) ProcessTx() (frames int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.tx == nil || !e.running || e.txSuspended {
		return 0
	}
	r := e.tx
	for range r.Len() {
		i := e.txCur
		if r.Owner(i) != OwnedByDMA {
			break
		}
		flags, _ := r.Status(i)
		if flags&FlagFirst == 0 {
			// Not the start of a frame; skip it.
			r.SetOwner(i, OwnedBySoftware)
			e.txCur = r.Next(i)
			continue
		}
		if !e.txFrameReady(i) {
			break
		}
		e.txframe = e.txframe[:0]
		for {
			flags, length := r.Status(i)
			e.txframe = append(e.txframe, r.Buffer(i)[:length]...)
			r.SetOwner(i, OwnedBySoftware)
			i = r.Next(i)
			if flags&FlagLast != 0 {
				break
			}
		}
		e.txCur = i
		frames++
		e.transmitted++
		if e.cfg.OnTransmit != nil {
			e.cfg.OnTransmit(e.txframe)
		}
	}
	if frames > 0 {
		e.status.Or(uint32(StatusTxComplete))
	}
	return frames
}

// txFrameReady reports whether the frame starting at first is DMA owned up to its last segment.
func (e *Engine) txFrameReady(first int) bool {
	r := e.tx
	i := first
	for range r.Len() {
		if r.Owner(i) != OwnedByDMA {
			return false
		}
		if flags, _ := r.Status(i); flags&FlagLast != 0 {
			return true
		}
		i = r.Next(i)
	}
	return false
}

// Transmitted returns the number of frames transmitted since Configure.
func (e *Engine) Transmitted() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.transmitted
}
