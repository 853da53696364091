package main

import (
	"errors"
	"fmt"
	"io"
	"net/netip"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Scenario describes a simulated board and the events played against it.
type Scenario struct {
	Hostname     string        `yaml:"hostname"`
	Address      string        `yaml:"address"`
	PHYAddr      uint8         `yaml:"phy_addr"`
	RxBuffers    int           `yaml:"rx_buffers"`
	TxBuffers    int           `yaml:"tx_buffers"`
	BufferSize   int           `yaml:"buffer_size"`
	PollInterval time.Duration `yaml:"poll_interval"`
	Pool         PoolConfig    `yaml:"pool"`
	// Link is the link script. Steps are applied in order, each after
	// waiting its After duration.
	Link []LinkStep `yaml:"link"`
	// Settle is how long to wait after the link script before running patterns.
	Settle time.Duration `yaml:"settle"`
}

type PoolConfig struct {
	SegmentSize int `yaml:"segment_size"`
	Segments    int `yaml:"segments"`
}

type LinkStep struct {
	After      time.Duration `yaml:"after"`
	Up         bool          `yaml:"up"`
	AutoNeg    *bool         `yaml:"autoneg"` // Defaults to Up.
	Speed10    bool          `yaml:"speed10"`
	FullDuplex bool          `yaml:"full_duplex"`
}

func defaultScenario() Scenario {
	return Scenario{
		Hostname:     "ethsim",
		Address:      "192.168.1.99",
		PHYAddr:      1,
		RxBuffers:    4,
		TxBuffers:    4,
		BufferSize:   1524,
		PollInterval: 50 * time.Millisecond,
		Pool:         PoolConfig{SegmentSize: 256, Segments: 64},
		Link: []LinkStep{
			{After: 0, Up: true, FullDuplex: true},
		},
		Settle: 200 * time.Millisecond,
	}
}

// loadScenario reads a YAML scenario from path. Fields missing from the
// file keep their default values.
func loadScenario(path string) (Scenario, error) {
	sc := defaultScenario()
	if path == "" {
		return sc, nil
	}
	f, err := os.Open(path)
	if err != nil {
		return sc, err
	}
	defer f.Close()
	return decodeScenario(f)
}

func decodeScenario(r io.Reader) (Scenario, error) {
	sc := defaultScenario()
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	err := dec.Decode(&sc)
	if err != nil && !errors.Is(err, io.EOF) {
		return sc, fmt.Errorf("decoding scenario: %w", err)
	}
	return sc, sc.validate()
}

func (sc *Scenario) validate() error {
	if _, err := netip.ParseAddr(sc.Address); err != nil {
		return fmt.Errorf("scenario address: %w", err)
	}
	if sc.PHYAddr > 31 {
		return errors.New("scenario phy_addr must be below 32")
	}
	if sc.Pool.SegmentSize <= 0 || sc.Pool.Segments <= 0 {
		return errors.New("scenario pool must have positive segment_size and segments")
	}
	return nil
}

func (sc *Scenario) addr() netip.Addr {
	return netip.MustParseAddr(sc.Address)
}
