package lnetostack

import (
	"context"
	"errors"
	"log/slog"
	"net/netip"
	"slices"
	"time"

	"github.com/soypat/lneto/x/xnet"
)

// retryPoll is how long the exchange helpers sleep between result checks.
// The stack lock is not held while sleeping.
const retryPoll = 5 * time.Millisecond

var errDeadlineExceeded = errors.New("lnetostack: deadline exceeded")

// DoDHCPv4 obtains an address lease for the interface, requesting addr.
// Up to retries attempts are made, each lasting at most timeout.
//
// The stack lock is held only while a request is started and while its
// result is checked so the interface and the transmit loop keep running
// in between. Callers must not hold the stack lock.
func (stack *Stack) DoDHCPv4(ctx context.Context, addr [4]byte, timeout time.Duration, retries int) (xnet.DHCPResults, error) {
	var results xnet.DHCPResults
	err := stack.retrying(ctx, "dhcp", timeout, retries,
		func() error { return stack.s.StartDHCPv4Request(addr) },
		func() bool {
			res, err := stack.s.ResultDHCP()
			if err != nil {
				return false
			}
			results = *res
			results.DNSServers = slices.Clone(res.DNSServers)
			return true
		},
		nil,
	)
	return results, err
}

// ResolveHardwareAddress finds the hardware address of addr over ARP. It
// locks the stack the way [Stack.DoDHCPv4] does.
func (stack *Stack) ResolveHardwareAddress(ctx context.Context, addr netip.Addr, timeout time.Duration, retries int) (hw [6]byte, err error) {
	err = stack.retrying(ctx, "arp", timeout, retries,
		func() error { return stack.s.StartResolveHardwareAddress6(addr) },
		func() bool {
			var rerr error
			hw, rerr = stack.s.ResultResolveHardwareAddress6(addr)
			return rerr == nil
		},
		func() { stack.s.DiscardResolveHardwareAddress6(addr) },
	)
	return hw, err
}

// SetGateway sets the hardware address frames leaving the subnet are sent
// to. It acquires the stack lock.
func (stack *Stack) SetGateway(hw [6]byte) {
	stack.mu.Lock()
	stack.s.SetGateway6(hw)
	stack.mu.Unlock()
}

// retrying runs up to retries attempts of an exchange. An attempt calls
// start once and then done every retryPoll until it reports completion or
// timeout elapses. start, done and abort run with the stack lock held.
// abort, if not nil, is called after every failed attempt.
func (stack *Stack) retrying(ctx context.Context, op string, timeout time.Duration, retries int, start func() error, done func() bool, abort func()) (err error) {
	retries = max(retries, 1)
	for attempt := range retries {
		if attempt > 0 {
			stack.loginfo("retrying", slog.String("op", op), slog.Int("attempt", attempt))
		}
		stack.mu.Lock()
		err = start()
		stack.mu.Unlock()
		if err != nil {
			return err
		}
		err = stack.await(ctx, timeout, done)
		if err == nil {
			return nil
		}
		if abort != nil {
			stack.mu.Lock()
			abort()
			stack.mu.Unlock()
		}
		if ctx.Err() != nil {
			return err
		}
	}
	stack.logerr("retries exceeded", slog.String("op", op), slog.String("err", err.Error()))
	return err
}

func (stack *Stack) await(ctx context.Context, timeout time.Duration, done func() bool) error {
	deadline := time.Now().Add(timeout)
	timer := time.NewTimer(retryPoll)
	defer timer.Stop()
	for {
		stack.mu.Lock()
		ok := done()
		stack.mu.Unlock()
		if ok {
			return nil
		} else if time.Now().After(deadline) {
			return errDeadlineExceeded
		}
		timer.Reset(retryPoll)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
		}
	}
}
