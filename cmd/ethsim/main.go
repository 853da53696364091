// ethsim runs an ethmac interface against a simulated MAC, DMA engine and
// PHY on the host and plays traffic patterns at it.
//
// Usage:
//
//	go run ./cmd/ethsim [flags] [scenario.yaml]
//	go run ./cmd/ethsim -n 100 -pattern burst -v scenario.yaml
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"time"

	"github.com/soypat/ethmac"
	"golang.org/x/sync/errgroup"
)

func main() {
	n := flag.Int("n", 20, "iterations per pattern")
	pat := flag.String("pattern", "all", "pattern to run (arp, burst, sizes, link-flap, all)")
	verbose := flag.Bool("v", false, "enable debug logging")
	trace := flag.Bool("trace", false, "enable per frame logging")
	pcap := flag.Bool("pcap", false, "print frames crossing the stack")
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s [flags] [scenario.yaml]\n\nSimulate an ethmac interface.\n\nFlags:\n", os.Args[0])
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nPatterns:\n")
		fmt.Fprintf(os.Stderr, "  arp        ARP request and wait for reply, one at a time\n")
		fmt.Fprintf(os.Stderr, "  burst      Back to back ARP requests overrunning the RX ring\n")
		fmt.Fprintf(os.Stderr, "  sizes      ARP requests padded to random sizes up to the MFU\n")
		fmt.Fprintf(os.Stderr, "  link-flap  Link down/up cycling\n")
		fmt.Fprintf(os.Stderr, "  all        Run all patterns sequentially\n")
	}
	flag.Parse()
	if err := run(*n, *pat, *verbose, *trace, *pcap, flag.Arg(0)); err != nil {
		fmt.Fprintln(os.Stderr, "ethsim:", err)
		os.Exit(1)
	}
}

func run(n int, pat string, verbose, trace, pcap bool, scenarioPath string) error {
	sc, err := loadScenario(scenarioPath)
	if err != nil {
		return err
	}
	var toRun []pattern
	if pat == "all" {
		toRun = patterns
	} else {
		for _, p := range patterns {
			if p.name == pat {
				toRun = append(toRun, p)
			}
		}
		if len(toRun) == 0 {
			return fmt.Errorf("unknown pattern: %s", pat)
		}
	}

	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	if trace {
		level = ethmac.LevelTrace
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	var pcapw io.Writer
	if pcap {
		pcapw = os.Stdout
	}
	s, err := newSim(sc, logger, pcapw)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	start := time.Now()
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return s.iface.Run(gctx) })
	g.Go(func() error { return s.pump(gctx) })
	g.Go(func() error {
		defer cancel()
		return s.play(gctx, toRun, n)
	})
	err = g.Wait()
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	s.printStats()
	printf("done in %s\n", time.Since(start).Round(time.Millisecond))
	return nil
}

func (s *sim) printStats() {
	st := s.iface.Stats()
	sst := s.stack.Stats()
	state, mode := s.iface.LinkState()
	printf("interface %s hwaddr=%x link=%s mode=%s\n", s.iface.Name(), s.iface.HardwareAddr(), state, mode)
	printf("    rx=%d rejected=%d dropped=%d resumed=%d\n", st.RxFrames, st.RxRejected, st.RxDropped, st.RxResumed)
	printf("    tx=%d busy=%d resumed=%d\n", st.TxFrames, st.TxBusy, st.TxResumed)
	printf("    linkchanges=%d phyfaults=%d\n", st.LinkChanges, st.PHYFaults)
	printf("stack rx=%d rxerr=%d tx=%d deferred=%d\n", sst.RxFrames, sst.RxErrors, sst.TxFrames, sst.TxDeferred)
	printf("wire tx=%d arp-replies=%d pool-inuse=%d\n", s.txFrames.Load(), s.arpReplies.Load(), s.pool.InUse())
}

func printf(format string, args ...any) {
	fmt.Printf(format, args...)
}
