package main

import (
	"context"
	"fmt"
	"math/rand"
	"sync/atomic"
	"time"

	"github.com/soypat/ethmac"
)

type stats struct {
	attempted atomic.Int64
	succeeded atomic.Int64
	failed    atomic.Int64
}

func (s *stats) String() string {
	return fmt.Sprintf("attempted=%d succeeded=%d failed=%d",
		s.attempted.Load(), s.succeeded.Load(), s.failed.Load())
}

type pattern struct {
	name string
	fn   func(ctx context.Context, s *sim, st *stats, n int) error
}

var patterns = []pattern{
	{"arp", arpPattern},
	{"burst", burstPattern},
	{"sizes", sizesPattern},
	{"link-flap", linkFlapPattern},
}

// arpPattern sends ARP requests for the interface address one at a time
// and waits for each reply.
func arpPattern(ctx context.Context, s *sim, st *stats, n int) error {
	if !s.waitLink(ctx, true, 10*s.sc.PollInterval) {
		return fmt.Errorf("arp: link not up")
	}
	var buf []byte
	for range n {
		st.attempted.Add(1)
		before := s.arpReplies.Load()
		buf = arpRequest(buf[:0], s.peer, peerIP, s.sc.addr().As4(), minFrameSize)
		err := s.inject(ctx, buf)
		if err != nil {
			st.failed.Add(1)
			continue
		}
		if waitCounter(ctx, &s.arpReplies, before+1, 100*time.Millisecond) {
			st.succeeded.Add(1)
		} else {
			st.failed.Add(1)
		}
	}
	return ctx.Err()
}

// burstPattern sends n ARP requests back to back without waiting, forcing
// the receive ring to fill up and the driver to resume reception.
func burstPattern(ctx context.Context, s *sim, st *stats, n int) error {
	before := s.arpReplies.Load()
	frame := arpRequest(nil, s.peer, peerIP, s.sc.addr().As4(), minFrameSize)
	var injected int64
	for range n {
		st.attempted.Add(1)
		if s.inject(ctx, frame) == nil {
			injected++
		}
	}
	waitCounter(ctx, &s.arpReplies, before+injected, time.Second)
	got := s.arpReplies.Load() - before
	st.succeeded.Add(got)
	st.failed.Add(int64(n) - got)
	return ctx.Err()
}

// sizesPattern sends padded ARP requests of random size up to the largest
// frame the interface handles, exercising frames that span several slots.
func sizesPattern(ctx context.Context, s *sim, st *stats, n int) error {
	rng := rand.New(rand.NewSource(int64(n)))
	var buf []byte
	for range n {
		st.attempted.Add(1)
		size := minFrameSize + rng.Intn(ethmac.MFU-minFrameSize+1)
		before := s.arpReplies.Load()
		buf = arpRequest(buf[:0], s.peer, peerIP, s.sc.addr().As4(), size)
		if s.inject(ctx, buf) != nil {
			st.failed.Add(1)
			continue
		}
		if waitCounter(ctx, &s.arpReplies, before+1, 100*time.Millisecond) {
			st.succeeded.Add(1)
		} else {
			st.failed.Add(1)
		}
	}
	return ctx.Err()
}

// linkFlapPattern takes the link down and back up, waiting for the
// interface to observe each transition.
func linkFlapPattern(ctx context.Context, s *sim, st *stats, n int) error {
	timeout := 4 * s.sc.PollInterval
	for range n {
		st.attempted.Add(1)
		s.setLink(LinkStep{Up: false})
		down := s.waitLink(ctx, false, timeout)
		s.setLink(LinkStep{Up: true, FullDuplex: true})
		up := s.waitLink(ctx, true, timeout)
		if down && up {
			st.succeeded.Add(1)
		} else {
			st.failed.Add(1)
		}
	}
	return ctx.Err()
}

var peerIP = [4]byte{192, 168, 1, 1}

// waitCounter waits until c reaches want or timeout elapses.
func waitCounter(ctx context.Context, c *atomic.Int64, want int64, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for c.Load() < want {
		if time.Now().After(deadline) || sleep(ctx, time.Millisecond) != nil {
			return false
		}
	}
	return true
}
