package ethmac

import (
	"bytes"
	"errors"
	"testing"

	"github.com/soypat/ethmac/dma"
	"github.com/soypat/ethmac/pbuf"
)

func TestTransmit(t *testing.T) {
	h := newHarness(t, harnessConfig{txbufs: 4, bufsize: 64, segsize: 64, segs: 4})
	frame := make([]byte, 200)
	for i := range frame {
		frame[i] = byte(i)
	}
	err := h.iface.Transmit(pbuf.Chain(frame[:100], 30))
	if err != nil {
		t.Fatal(err)
	}
	if len(h.sent) != 1 || !bytes.Equal(h.sent[0], frame[:100]) {
		t.Fatal("multi-slot frame not transmitted intact")
	}
	if h.iface.tx.OwnedCount(dma.OwnedBySoftware) != 4 {
		t.Error("TX descriptors not returned after transmission")
	}
	if got := h.iface.Stats().TxFrames; got != 1 {
		t.Errorf("got %d TX frames; want 1", got)
	}
	// Spans the last two slots and wraps to the first.
	err = h.iface.Transmit(pbuf.Chain(frame[:150], 0))
	if err != nil {
		t.Fatal(err)
	}
	if len(h.sent) != 2 || !bytes.Equal(h.sent[1], frame[:150]) {
		t.Fatal("wrapped frame not transmitted intact")
	}
}

func TestTransmitErrors(t *testing.T) {
	h := newHarness(t, harnessConfig{txbufs: 4, bufsize: 64, segsize: 64, segs: 4})
	err := h.iface.Transmit(pbuf.Chain(make([]byte, 257), 0))
	if !errors.Is(err, errFrameTooLong) {
		t.Errorf("got %v; want %v", err, errFrameTooLong)
	}
	err = h.iface.Transmit(&pbuf.Buf{})
	if !errors.Is(err, errEmptyFrame) {
		t.Errorf("got %v; want %v", err, errEmptyFrame)
	}
	if h.iface.tx.Cursor() != 0 || len(h.sent) != 0 {
		t.Error("failed transmit changed ring state")
	}
	var uninit Interface
	if err = uninit.Transmit(&pbuf.Buf{}); !errors.Is(err, errNotReady) {
		t.Errorf("got %v; want %v", err, errNotReady)
	}
}

func TestTransmitBusyUnderflow(t *testing.T) {
	h := newHarness(t, harnessConfig{txbufs: 4, bufsize: 64, segsize: 64, segs: 4, manualTx: true})
	h.eng.SetStatus(dma.StatusTxUnderflow)
	for i := range h.iface.tx.Len() {
		h.iface.tx.SetOwner(i, dma.OwnedByDMA)
	}
	err := h.iface.Transmit(pbuf.Chain([]byte("busy frame"), 0))
	if !errors.Is(err, ErrBusy) {
		t.Fatalf("got %v; want %v", err, ErrBusy)
	}
	if len(h.sent) != 0 {
		t.Error("frame submitted while descriptors DMA owned")
	}
	if h.eng.Status()&dma.StatusTxUnderflow != 0 {
		t.Error("underflow status not cleared")
	}
	st := h.iface.Stats()
	if st.TxBusy != 1 || st.TxResumed != 1 {
		t.Errorf("got busy=%d resumed=%d; want 1,1", st.TxBusy, st.TxResumed)
	}
}

func TestTransmitRingFull(t *testing.T) {
	h := newHarness(t, harnessConfig{txbufs: 2, bufsize: 64, segsize: 64, segs: 4, manualTx: true})
	frames := [][]byte{[]byte("one"), []byte("two"), []byte("three")}
	for _, f := range frames[:2] {
		if err := h.iface.Transmit(pbuf.Chain(f, 0)); err != nil {
			t.Fatal(err)
		}
	}
	err := h.iface.Transmit(pbuf.Chain(frames[2], 0))
	if !errors.Is(err, ErrBusy) {
		t.Fatalf("got %v; want %v", err, ErrBusy)
	}
	if n := h.eng.ProcessTx(); n != 2 {
		t.Fatalf("got %d frames on the wire; want 2", n)
	}
	if err = h.iface.Transmit(pbuf.Chain(frames[2], 0)); err != nil {
		t.Fatal("retry after DMA freed descriptors:", err)
	}
	h.eng.ProcessTx()
	for i := range frames {
		if !bytes.Equal(h.sent[i], frames[i]) {
			t.Errorf("frame %d: got %q; want %q", i, h.sent[i], frames[i])
		}
	}
}

func TestTransmitBusyMidFrame(t *testing.T) {
	h := newHarness(t, harnessConfig{txbufs: 3, bufsize: 64, segsize: 64, segs: 4, manualTx: true})
	h.iface.tx.SetOwner(1, dma.OwnedByDMA)
	err := h.iface.Transmit(pbuf.Chain(make([]byte, 100), 0))
	if !errors.Is(err, ErrBusy) {
		t.Fatalf("got %v; want %v", err, ErrBusy)
	}
	if h.iface.tx.Owner(0) != dma.OwnedBySoftware || h.iface.tx.Cursor() != 0 {
		t.Error("abandoned frame left descriptors committed")
	}
}
