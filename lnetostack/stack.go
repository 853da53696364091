// Package lnetostack implements the network stack side of an ethmac
// interface on top of lneto's asynchronous stack.
package lnetostack

import (
	"context"
	"errors"
	"hash/crc32"
	"io"
	"log/slog"
	"net/netip"
	"sync"
	"time"

	"github.com/soypat/ethmac"
	"github.com/soypat/ethmac/pbuf"
	"github.com/soypat/lneto/ethernet"
	"github.com/soypat/lneto/phy"
	"github.com/soypat/lneto/x/xnet"
)

var errFrameTooLarge = errors.New("lnetostack: frame larger than MFU")

// Transmitter sends one frame. [ethmac.Interface] implements it.
type Transmitter interface {
	Transmit(frame *pbuf.Buf) error
}

// Stack wraps lneto's networking stack so it can be driven by an
// ethmac interface. Stack implements [ethmac.Stack]; its lock must be
// passed as [ethmac.Config.Lock] so frame delivery, link notifications and
// outgoing traffic are serialized.
type Stack struct {
	mu      sync.Mutex
	s       xnet.StackAsync
	alloc   ethmac.Allocator
	log     *slog.Logger
	sendbuf []byte
	rxbuf   []byte
	// pending holds the length of an encapsulated frame refused by the
	// transmitter, retried on the next Poll.
	pending int
	linkUp  bool
	mode    phy.LinkMode
	// pcap fields for packet capture printing.
	pcap         xnet.CapturePrinter
	enableRxPcap bool
	enableTxPcap bool
	stats        Stats
}

// Stats holds stack adapter counters.
type Stats struct {
	RxFrames   uint64
	RxErrors   uint64
	TxFrames   uint64
	TxDeferred uint64 // Transmissions deferred because the interface was busy.
}

type StackConfig struct {
	StaticAddress   netip.Addr
	Hostname        string
	MaxTCPPorts     int
	RandSeed        int64
	HardwareAddress [6]byte
	// Alloc frees the chains handed over by the interface.
	Alloc  ethmac.Allocator
	Logger *slog.Logger
	// PcapWriter receives pcap style printouts of frames when
	// EnableRxPcapPrint or EnableTxPcapPrint are set.
	PcapWriter        io.Writer
	EnableRxPcapPrint bool
	EnableTxPcapPrint bool
}

// crcTable is the IEEE CRC-32 table used for Ethernet FCS calculation.
var crcTable = crc32.MakeTable(crc32.IEEE)

func New(cfg StackConfig) (*Stack, error) {
	if cfg.Alloc == nil {
		return nil, errors.New("lnetostack: nil allocator")
	}
	if cfg.Hostname == "" {
		cfg.Hostname = "ethmac"
	}
	stack := &Stack{
		alloc:        cfg.Alloc,
		log:          cfg.Logger,
		sendbuf:      make([]byte, ethmac.MFU),
		rxbuf:        make([]byte, ethmac.MFU),
		enableRxPcap: cfg.EnableRxPcapPrint && cfg.PcapWriter != nil,
		enableTxPcap: cfg.EnableTxPcapPrint && cfg.PcapWriter != nil,
	}
	if stack.enableRxPcap || stack.enableTxPcap {
		stack.pcap.Configure(cfg.PcapWriter, xnet.CapturePrinterConfig{
			TimePrecision: 3,
			Now:           time.Now,
		})
	}
	err := stack.s.Reset(xnet.StackConfig{
		StaticAddress:   cfg.StaticAddress,
		Hostname:        cfg.Hostname,
		MaxTCPConns:     cfg.MaxTCPPorts,
		RandSeed:        time.Now().UnixNano() ^ cfg.RandSeed,
		HardwareAddress: cfg.HardwareAddress,
		MTU:             ethmac.MTU,
		EthernetTxCRC32Update: func(crc uint32, b []byte) uint32 {
			return crc32.Update(crc, crcTable, b)
		},
	})
	if err != nil {
		return nil, err
	}
	return stack, nil
}

// Locker returns the stack lock.
func (stack *Stack) Locker() sync.Locker { return &stack.mu }

func (stack *Stack) Hostname() string {
	return stack.s.Hostname()
}

// LnetoStack returns the underlying lneto stack. Callers must hold the stack
// lock. [Stack.DoDHCPv4], [Stack.ResolveHardwareAddress] and [Stack.SetGateway]
// take it themselves.
func (stack *Stack) LnetoStack() *xnet.StackAsync {
	return &stack.s
}

// Input implements [ethmac.Stack]. The chain is flattened into the receive
// buffer, freed, and demultiplexed. Demux errors are logged, not returned,
// since the chain has already been consumed.
func (stack *Stack) Input(frame *pbuf.Buf) error {
	n := frame.Len()
	if n > len(stack.rxbuf) {
		stack.stats.RxErrors++
		return errFrameTooLarge
	}
	frame.CopyTo(stack.rxbuf)
	stack.alloc.Free(frame)
	stack.stats.RxFrames++
	data := stack.rxbuf[:n]
	if _, err := ethernet.NewFrame(data); err != nil {
		stack.stats.RxErrors++
		stack.logerr("Input:NewFrame", slog.Int("plen", n), slog.String("err", err.Error()))
		return nil
	}
	if stack.enableRxPcap {
		stack.pcap.PrintPacket("RX", data)
	}
	err := stack.s.Demux(data, 0)
	if err != nil {
		stack.stats.RxErrors++
		stack.logerr("Input:Demux", slog.Int("plen", n), slog.String("err", err.Error()))
	}
	return nil
}

// SetLinkUp implements [ethmac.Stack].
func (stack *Stack) SetLinkUp(mode phy.LinkMode) {
	stack.linkUp = true
	stack.mode = mode
	stack.loginfo("link up", slog.String("mode", mode.String()))
}

// SetLinkDown implements [ethmac.Stack].
func (stack *Stack) SetLinkDown() {
	stack.linkUp = false
	stack.mode = phy.LinkDown
	stack.loginfo("link down")
}

// LinkUp implements [ethmac.Stack].
func (stack *Stack) LinkUp() bool { return stack.linkUp }

// Poll encapsulates at most one outgoing frame and hands it to tx. A frame
// refused with [ethmac.ErrBusy] is kept and retried on the next call.
// Nothing is sent while the link is down. Poll acquires the stack lock.
func (stack *Stack) Poll(tx Transmitter) (sent int, err error) {
	stack.mu.Lock()
	defer stack.mu.Unlock()
	if !stack.linkUp {
		return 0, nil
	}
	n := stack.pending
	if n == 0 {
		n, err = stack.s.Encapsulate(stack.sendbuf, -1, 0)
		if err != nil {
			stack.logerr("Poll:Encapsulate", slog.Int("plen", n), slog.String("err", err.Error()))
			return 0, err
		} else if n == 0 {
			return 0, nil
		}
	}
	frame := pbuf.Buf{Payload: stack.sendbuf[:n]}
	err = tx.Transmit(&frame)
	if errors.Is(err, ethmac.ErrBusy) {
		stack.pending = n
		stack.stats.TxDeferred++
		return 0, nil
	}
	stack.pending = 0
	if err != nil {
		stack.logerr("Poll:Transmit", slog.Int("plen", n), slog.String("err", err.Error()))
		return 0, err
	}
	stack.stats.TxFrames++
	if stack.enableTxPcap {
		stack.pcap.PrintPacket("TX", stack.sendbuf[:n])
	}
	return n, nil
}

// Stats returns the adapter counters.
func (stack *Stack) Stats() Stats {
	stack.mu.Lock()
	defer stack.mu.Unlock()
	return stack.stats
}

func (stack *Stack) loginfo(msg string, attrs ...slog.Attr) {
	if stack.log != nil {
		stack.log.LogAttrs(context.Background(), slog.LevelInfo, msg, attrs...)
	}
}

func (stack *Stack) logerr(msg string, attrs ...slog.Attr) {
	if stack.log != nil {
		stack.log.LogAttrs(context.Background(), slog.LevelError, msg, attrs...)
	}
}
