// Package ethmac binds an Ethernet MAC with descriptor based DMA and a
// LAN87xx PHY to a network stack.
//
// The [Interface] moves raw frames between a fixed set of DMA buffer slots
// and the stack's chained packet buffers, polls the PHY once a second to
// track link state and keeps the stack's notion of link up/down in sync.
// Reception is driven by [Interface.Run], a long-lived loop woken by
// [Interface.HandleInterrupt]; transmission runs synchronously on the
// caller's goroutine through [Interface.Transmit].
package ethmac

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/soypat/ethmac/dma"
	"github.com/soypat/ethmac/pbuf"
	"github.com/soypat/lneto/ethernet"
	"github.com/soypat/lneto/phy"
)

const (
	MTU = 1500
	// MFU is the maximum frame size handled, including header and FCS.
	MFU = MTU + ethernet.MaxOverheadSize

	// Ring geometry used when Config leaves it unset.
	DefaultRxBuffers  = 4
	DefaultTxBuffers  = 4
	DefaultBufferSize = 1524

	// DefaultPollInterval is how long the input loop waits for a frame
	// before polling the PHY for link changes.
	DefaultPollInterval = time.Second

	// LevelTrace is the log level used for per-frame records.
	LevelTrace slog.Level = slog.LevelDebug - 2

	interfaceName = "st"
)

// MAC is the Ethernet peripheral as seen by the driver: its DMA control
// and status registers and the MAC configuration. [dma.Engine] implements it.
type MAC interface {
	// Attach points the DMA at the RX and TX descriptor rings.
	Attach(rx, tx *dma.Ring) error
	// SetHardwareAddr programs the station address filter.
	SetHardwareAddr(addr [6]byte)
	// ConfigureMAC sets speed and duplex.
	ConfigureMAC(mode phy.LinkMode) error
	// Start enables the MAC and DMA.
	Start() error
	// Status returns the DMA status flags.
	Status() dma.Status
	// ClearStatus clears the given DMA status flags.
	ClearStatus(dma.Status)
	// DemandRxPoll resumes a suspended receive process.
	DemandRxPoll()
	// DemandTxPoll makes the DMA fetch TX descriptors and resumes a
	// suspended transmit process.
	DemandTxPoll()
}

// Stack is the network stack the interface delivers frames and link events to.
// All methods are called with the stack lock held.
type Stack interface {
	// Input hands a received frame to the stack. On a nil error the stack
	// takes ownership of the chain; otherwise the interface frees it.
	Input(frame *pbuf.Buf) error
	// SetLinkUp notifies the stack the link came up with the given mode.
	SetLinkUp(mode phy.LinkMode)
	// SetLinkDown notifies the stack the link went down.
	SetLinkDown()
	// LinkUp reports the stack's current view of the link.
	LinkUp() bool
}

// Allocator allocates chained packet buffers. [pbuf.Pool] implements it.
type Allocator interface {
	Alloc(n int) (*pbuf.Buf, error)
	Free(*pbuf.Buf)
}

// Config holds the configuration parameters for initializing an Interface.
type Config struct {
	MAC   MAC
	MDIO  phy.MDIOBus
	PHY   PHYConfig
	Stack Stack
	Alloc Allocator
	// Lock serializes calls into the stack. If nil the interface uses a
	// private mutex; pass the stack's own lock to share it with the
	// stack's other contexts.
	Lock sync.Locker
	// UniqueID is the device's 96-bit unique identifier from which the
	// hardware address is derived.
	UniqueID [12]byte
	// RxBuffers and TxBuffers are the number of DMA descriptors per ring.
	RxBuffers, TxBuffers int
	// BufferSize is the size of each DMA buffer slot.
	BufferSize   int
	PollInterval time.Duration
	Logger       *slog.Logger
}

// Interface is the Ethernet network interface driver.
type Interface struct {
	mac   MAC
	phy   PHY
	stack Stack
	alloc Allocator
	lock  sync.Locker
	log   *slog.Logger

	rx dma.Ring
	tx dma.Ring
	// txmu guards the TX ring cursor against concurrent transmitters.
	txmu       sync.Mutex
	frameReady semaphore

	hwaddr       [6]byte
	pollInterval time.Duration
	state        atomic.Uint32 // LinkState
	mode         atomic.Uint32 // phy.LinkMode
	stats        stats
}

// Initialize sets up the interface: hardware address, PHY autonegotiation,
// descriptor rings and MAC. It must complete before Run or Transmit are
// called. Register access failures are returned wrapped in [ErrDeviceFault].
func (iface *Interface) Initialize(cfg Config) error {
	if cfg.MAC == nil || cfg.MDIO == nil || cfg.Stack == nil || cfg.Alloc == nil {
		return errMissingDep
	}
	if cfg.RxBuffers <= 0 {
		cfg.RxBuffers = DefaultRxBuffers
	}
	if cfg.TxBuffers <= 0 {
		cfg.TxBuffers = DefaultTxBuffers
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = DefaultBufferSize
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.Lock == nil {
		cfg.Lock = new(sync.Mutex)
	}
	iface.mac = cfg.MAC
	iface.stack = cfg.Stack
	iface.alloc = cfg.Alloc
	iface.lock = cfg.Lock
	iface.log = cfg.Logger
	iface.pollInterval = cfg.PollInterval
	iface.hwaddr = HardwareAddrFromUID(cfg.UniqueID)
	iface.state.Store(uint32(LinkDown))
	iface.mode.Store(uint32(phy.LinkDown))

	iface.mac.SetHardwareAddr(iface.hwaddr)
	err := iface.mac.ConfigureMAC(phy.Link100FDX)
	if err != nil {
		return wrapFault("configure MAC", err)
	}
	err = iface.phy.Configure(cfg.MDIO, cfg.PHY)
	if err != nil {
		return err
	}

	err = iface.rx.Init(dma.MakeBuffers(cfg.RxBuffers, cfg.BufferSize), dma.OwnedByDMA)
	if err != nil {
		return err
	}
	err = iface.tx.Init(dma.MakeBuffers(cfg.TxBuffers, cfg.BufferSize), dma.OwnedBySoftware)
	if err != nil {
		return err
	}
	err = iface.mac.Attach(&iface.rx, &iface.tx)
	if err != nil {
		return wrapFault("attach rings", err)
	}
	// Starts at one so the first wait drains whatever arrived during bring-up.
	iface.frameReady.init(cfg.RxBuffers, 1)

	err = iface.mac.Start()
	if err != nil {
		return wrapFault("start MAC", err)
	}
	iface.info("ethmac:init",
		slog.String("name", interfaceName),
		slog.String("hwaddr", string(ethernet.AppendAddr(nil, iface.hwaddr))),
		slog.Int("rxbufs", cfg.RxBuffers),
		slog.Int("txbufs", cfg.TxBuffers),
		slog.Int("bufsize", cfg.BufferSize),
	)
	return nil
}

// Run is the input loop. It waits for the frame-ready signal for up to the
// poll interval: when signaled it drains all received frames into the
// stack, on timeout it polls the PHY for link changes. The stack lock is
// held for the duration of each iteration and released before waiting.
// Run returns when ctx is done.
func (iface *Interface) Run(ctx context.Context) error {
	if iface.lock == nil {
		return errNotReady
	}
	for {
		signaled, err := iface.frameReady.tryWaitFor(ctx, iface.pollInterval)
		if err != nil {
			return err
		}
		iface.lock.Lock()
		if signaled {
			iface.drainRx()
		} else {
			// A suspension raised between interrupts would otherwise
			// stall reception until the next frame-ready signal.
			iface.resumeRx()
			iface.pollLink()
		}
		iface.lock.Unlock()
	}
}

// Name returns the two letter interface name.
func (iface *Interface) Name() string { return interfaceName }

// MTU returns the interface's maximum transfer unit.
func (iface *Interface) MTU() int { return MTU }

// HardwareAddr returns the interface's hardware address.
func (iface *Interface) HardwareAddr() [6]byte { return iface.hwaddr }

// PHY returns the PHY device managed by the interface.
func (iface *Interface) PHY() *PHY { return &iface.phy }

func (iface *Interface) info(msg string, attrs ...slog.Attr) {
	iface.logattrs(slog.LevelInfo, msg, attrs...)
}

func (iface *Interface) debug(msg string, attrs ...slog.Attr) {
	iface.logattrs(slog.LevelDebug, msg, attrs...)
}

func (iface *Interface) trace(msg string, attrs ...slog.Attr) {
	iface.logattrs(LevelTrace, msg, attrs...)
}

func (iface *Interface) logerr(msg string, attrs ...slog.Attr) {
	iface.logattrs(slog.LevelError, msg, attrs...)
}

func (iface *Interface) logattrs(level slog.Level, msg string, attrs ...slog.Attr) {
	if iface.log != nil {
		iface.log.LogAttrs(context.Background(), level, msg, attrs...)
	}
}
