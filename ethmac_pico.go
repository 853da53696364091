//go:build rp2040 || rp2350

package ethmac

import (
	"errors"
	"machine"
	"sync/atomic"
	"time"

	"github.com/soypat/ethmac/dma"
	"github.com/soypat/lneto/phy"
	pio "github.com/tinygo-org/pio/rp2-pio"
	"github.com/tinygo-org/pio/rp2-pio/piolib"
)

// PicoConfig holds configuration for creating a MAC on RP2040/RP2350.
type PicoConfig struct {
	// PIO is the PIO peripheral to use for RMII state machines.
	// Use pio.PIO0 or pio.PIO1.
	PIO *pio.PIO
	// MDC is the MDIO clock pin.
	MDC machine.Pin
	// MDIO is the MDIO data pin.
	MDIO machine.Pin
	// TxConfig configures the RMII transmit path.
	TxConfig piolib.RMIITxConfig
	// RxConfig configures the RMII receive path.
	RxConfig piolib.RMIIRxConfig
}

// PicoMAC is a MAC for RP2040/RP2350 built from PIO RMII state machines.
// The RP2 has no Ethernet DMA, so the descriptor rings are serviced by the
// software [dma.Engine]: received frames are moved into the RX ring by
// [PicoMAC.Pump] and frames committed to the TX ring are sent over RMII on
// every TX poll demand.
type PicoMAC struct {
	dma.Engine
	tx     piolib.RMIITx
	rx     piolib.RMIIRx
	rxbuf  []byte
	rxgot  atomic.Int32
	txerrs atomic.Uint32
}

// NewPicoMAC configures MDIO bit-bang communication for PHY management and
// PIO-based RMII state machines for frame transmission and reception.
// onReceive is called whenever a frame lands in the RX ring and should be
// the interface's [Interface.HandleInterrupt].
func NewPicoMAC(cfg PicoConfig, onReceive func()) (*PicoMAC, phy.MDIOBus, error) {
	mdiomsk := (1 << cfg.MDC) | (1 << cfg.MDIO)
	txmsk := 0b111 << cfg.TxConfig.TxBase
	rxmsk := 0b111 << cfg.RxConfig.RxBase
	aliased := rxmsk & txmsk & mdiomsk
	if aliased != 0 {
		return nil, nil, errors.New("aliased pins, check pin definitions")
	}
	mdio := makeMDIO(cfg.MDC, cfg.MDIO)

	mac := &PicoMAC{rxbuf: make([]byte, MFU)}
	err := mac.rx.Configure(cfg.PIO, cfg.RxConfig)
	if err != nil {
		return nil, nil, err
	}
	err = mac.tx.Configure(cfg.PIO, cfg.TxConfig)
	if err != nil {
		return nil, nil, err
	}
	mac.Engine.Configure(dma.EngineConfig{
		OnReceive:  onReceive,
		OnTransmit: mac.sendFrame,
	})
	return mac, mdio, nil
}

// Start enables the DMA engine and begins RMII reception.
func (mac *PicoMAC) Start() error {
	err := mac.Engine.Start()
	if err != nil {
		return err
	}
	err = mac.rx.SetRxIRQHandler(mac.rxbuf, func(buf []byte) {
		mac.rxgot.Store(int32(len(buf)))
	})
	if err != nil {
		return err
	}
	return mac.rx.StartRx()
}

// Pump moves a frame captured by the RMII receiver into the RX ring and
// restarts reception. It returns the number of bytes moved and must be
// called periodically from a goroutine.
func (mac *PicoMAC) Pump() (n int, err error) {
	n = int(mac.rxgot.Swap(0))
	if n == 0 {
		return 0, nil
	}
	err = mac.Engine.Receive(mac.rxbuf[:n])
	rxerr := mac.rx.StartRx()
	if err == nil {
		err = rxerr
	}
	return n, err
}

func (mac *PicoMAC) sendFrame(frame []byte) {
	for mac.tx.IsSending() {
		time.Sleep(time.Microsecond)
	}
	if mac.tx.SendFrame(frame) != nil {
		mac.txerrs.Add(1)
	}
}

// TxErrors returns the number of frames the RMII transmitter failed to send.
func (mac *PicoMAC) TxErrors() uint32 { return mac.txerrs.Load() }

// makeMDIO sets up MDIO bit-bang interface for PHY register access.
func makeMDIO(pinMDC, pinMDIO machine.Pin) *phy.MDIOBitBang {
	const mdioDelay = 340 * time.Nanosecond // MDIO spec max turnaround time

	pinMDIO.Configure(machine.PinConfig{Mode: machine.PinInputPullup})
	pinMDC.Configure(machine.PinConfig{Mode: machine.PinOutput})
	pinMDC.Low()

	var bus phy.MDIOBitBang
	bus.Configure(
		func(outBit bool) {
			// sendBit: set data, clock high, clock low
			if outBit {
				pinMDIO.Configure(machine.PinConfig{Mode: machine.PinInputPullup})
			} else {
				pinMDIO.Low()
				pinMDIO.Configure(machine.PinConfig{Mode: machine.PinOutput})
			}
			time.Sleep(mdioDelay)
			pinMDC.High()
			time.Sleep(mdioDelay)
			pinMDC.Low()
		},
		func() bool {
			// getBit: clock high, read, clock low
			time.Sleep(mdioDelay)
			pinMDC.High()
			time.Sleep(mdioDelay)
			pinMDC.Low()
			return pinMDIO.Get()
		},
		func(setOut bool) {
			// setDir: configure pin direction
			if setOut {
				pinMDIO.Configure(machine.PinConfig{Mode: machine.PinInputPullup})
			} else {
				pinMDIO.Configure(machine.PinConfig{Mode: machine.PinInput})
			}
		},
	)
	return &bus
}
