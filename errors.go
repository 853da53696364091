package ethmac

import (
	"errors"
	"fmt"
)

var (
	// ErrBusy is returned by [Interface.Transmit] when the next TX descriptor
	// is still owned by the DMA. The caller should retry later.
	ErrBusy = errors.New("ethmac: transmit descriptor busy")
	// ErrDeviceFault wraps unexpected peripheral or PHY register failures.
	ErrDeviceFault = errors.New("ethmac: device fault")

	errFrameTooLong = errors.New("ethmac: frame exceeds TX ring capacity")
	errEmptyFrame   = errors.New("ethmac: empty frame")
	errNotReady     = errors.New("ethmac: interface not initialized")
	errMissingDep   = errors.New("ethmac: config requires MAC, MDIO, Stack and Alloc")
	errBadPHYConfig = errors.New("ethmac: PHY address must be 0-31")
)

func wrapFault(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrDeviceFault, op, err)
}
