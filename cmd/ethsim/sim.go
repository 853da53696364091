package main

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/soypat/ethmac"
	"github.com/soypat/ethmac/dma"
	"github.com/soypat/ethmac/internal/mdiosim"
	"github.com/soypat/ethmac/lnetostack"
	"github.com/soypat/ethmac/pbuf"
	"github.com/soypat/lneto/arp"
	"github.com/soypat/lneto/ethernet"
)

const minFrameSize = 60

// sim is a simulated board: PHY behind an MDIO bus, MAC with DMA, packet
// buffer pool, interface driver and network stack.
type sim struct {
	sc    Scenario
	log   *slog.Logger
	bus   *mdiosim.Bus
	eng   dma.Engine
	pool  pbuf.Pool
	iface ethmac.Interface
	stack *lnetostack.Stack
	peer  [6]byte
	// Wire side counters.
	txFrames   atomic.Int64
	arpReplies atomic.Int64
}

func newSim(sc Scenario, logger *slog.Logger, pcapw io.Writer) (*sim, error) {
	s := &sim{
		sc:   sc,
		log:  logger,
		bus:  mdiosim.New(sc.PHYAddr),
		pool: pbuf.Pool{SegmentSize: sc.Pool.SegmentSize, Segments: sc.Pool.Segments},
		peer: [6]byte{0x02, 0xde, 0xad, 0xbe, 0xef, 0x01},
	}
	s.eng.Configure(dma.EngineConfig{
		OnReceive:  s.iface.HandleInterrupt,
		OnTransmit: s.onTransmit,
	})
	var uid [12]byte
	copy(uid[:], sc.Hostname)
	stack, err := lnetostack.New(lnetostack.StackConfig{
		StaticAddress:     sc.addr(),
		Hostname:          sc.Hostname,
		HardwareAddress:   ethmac.HardwareAddrFromUID(uid),
		Alloc:             &s.pool,
		Logger:            logger,
		PcapWriter:        pcapw,
		EnableRxPcapPrint: pcapw != nil,
		EnableTxPcapPrint: pcapw != nil,
	})
	if err != nil {
		return nil, err
	}
	s.stack = stack
	err = s.iface.Initialize(ethmac.Config{
		MAC:          &s.eng,
		MDIO:         s.bus,
		PHY:          ethmac.PHYConfig{Addr: sc.PHYAddr},
		Stack:        stack,
		Alloc:        &s.pool,
		Lock:         stack.Locker(),
		UniqueID:     uid,
		RxBuffers:    sc.RxBuffers,
		TxBuffers:    sc.TxBuffers,
		BufferSize:   sc.BufferSize,
		PollInterval: sc.PollInterval,
		Logger:       logger,
	})
	if err != nil {
		return nil, err
	}
	return s, nil
}

func (s *sim) onTransmit(frame []byte) {
	s.txFrames.Add(1)
	if isARPReply(frame) {
		s.arpReplies.Add(1)
	}
}

// pump moves outgoing stack traffic into the interface until ctx is done.
func (s *sim) pump(ctx context.Context) error {
	for ctx.Err() == nil {
		sent, err := s.stack.Poll(&s.iface)
		if err != nil {
			s.log.Debug("pump", slog.String("err", err.Error()))
		}
		if sent == 0 {
			time.Sleep(time.Millisecond)
		}
	}
	return ctx.Err()
}

// play applies the link script and then runs each pattern n times.
func (s *sim) play(ctx context.Context, patterns []pattern, n int) error {
	for _, step := range s.sc.Link {
		if err := sleep(ctx, step.After); err != nil {
			return err
		}
		s.setLink(step)
	}
	if err := sleep(ctx, s.sc.Settle); err != nil {
		return err
	}
	for _, p := range patterns {
		var st stats
		s.log.Info("pattern", slog.String("name", p.name), slog.Int("n", n))
		err := p.fn(ctx, s, &st, n)
		if err != nil {
			return err
		}
		printf("--- %s (n=%d) ---\n    %s\n\n", p.name, n, &st)
	}
	return nil
}

func (s *sim) setLink(step LinkStep) {
	autoneg := step.Up
	if step.AutoNeg != nil {
		autoneg = *step.AutoNeg
	}
	s.bus.SetLink(mdiosim.Link{
		Up:          step.Up,
		AutoNegDone: autoneg,
		Speed10:     step.Speed10,
		FullDuplex:  step.FullDuplex,
	})
}

// inject puts frame on the wire towards the MAC, retrying while reception
// is suspended for lack of descriptors.
func (s *sim) inject(ctx context.Context, frame []byte) error {
	const retries = 100
	for range retries {
		err := s.eng.Receive(frame)
		if !errors.Is(err, dma.ErrRxSuspended) {
			return err
		}
		if err := sleep(ctx, time.Millisecond); err != nil {
			return err
		}
	}
	return dma.ErrRxSuspended
}

// waitLink waits up to timeout for the interface to report the link up.
func (s *sim) waitLink(ctx context.Context, up bool, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		state, _ := s.iface.LinkState()
		if (state == ethmac.LinkUp) == up {
			return true
		}
		if sleep(ctx, time.Millisecond) != nil {
			return false
		}
	}
	return false
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// arpRequest appends a broadcast ARP who-has request for target to dst,
// zero padded to size bytes.
func arpRequest(dst []byte, senderHW [6]byte, sender, target [4]byte, size int) []byte {
	start := len(dst)
	dst = append(dst, make([]byte, max(size, minFrameSize))...)
	efrm, _ := ethernet.NewFrame(dst[start:])
	*efrm.DestinationHardwareAddr() = ethernet.BroadcastAddr()
	*efrm.SourceHardwareAddr() = senderHW
	efrm.SetEtherType(ethernet.TypeARP)

	afrm, _ := arp.NewFrame(efrm.Payload())
	afrm.SetHardware(1, 6)                 // Ethernet, 6-byte addresses
	afrm.SetProtocol(ethernet.TypeIPv4, 4) // IPv4, 4-byte addresses
	afrm.SetOperation(arp.OpRequest)
	sndHW, sndIP := afrm.Sender4()
	*sndHW = senderHW
	*sndIP = sender
	_, tgtIP := afrm.Target4()
	*tgtIP = target
	return dst
}

func isARPReply(frame []byte) bool {
	efrm, err := ethernet.NewFrame(frame)
	if err != nil || efrm.EtherTypeOrSize() != ethernet.TypeARP {
		return false
	}
	afrm, err := arp.NewFrame(efrm.Payload())
	return err == nil && afrm.Operation() == arp.OpReply
}
