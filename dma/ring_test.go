package dma

import (
	"bytes"
	"errors"
	"testing"

	"github.com/soypat/lneto/phy"
)

func TestRingInit(t *testing.T) {
	var r Ring
	err := r.Init(nil, OwnedByDMA)
	if err == nil {
		t.Fatal("expected error initializing ring without buffers")
	}
	err = r.Init([][]byte{make([]byte, 8), make([]byte, 4)}, OwnedByDMA)
	if err == nil {
		t.Fatal("expected error for unequal buffers")
	}
	err = r.Init(MakeBuffers(3, 16), OwnedByDMA)
	if err != nil {
		t.Fatal(err)
	}
	if r.Len() != 3 || r.BufferSize() != 16 || r.Capacity() != 48 {
		t.Errorf("got len=%d size=%d cap=%d; want 3,16,48", r.Len(), r.BufferSize(), r.Capacity())
	}
	if got := r.OwnedCount(OwnedByDMA); got != 3 {
		t.Errorf("got %d DMA owned; want 3", got)
	}
	if r.Next(2) != 0 {
		t.Error("ring did not wrap around")
	}
	for _, test := range []struct{ length, slots int }{{0, 1}, {1, 1}, {16, 1}, {17, 2}, {48, 3}} {
		if got := r.SlotsFor(test.length); got != test.slots {
			t.Errorf("SlotsFor(%d)=%d; want %d", test.length, got, test.slots)
		}
	}
}

func TestCommitTx(t *testing.T) {
	var r Ring
	err := r.Init(MakeBuffers(4, 10), OwnedBySoftware)
	if err != nil {
		t.Fatal(err)
	}
	if err = r.CommitTx(0); !errors.Is(err, ErrBadLength) {
		t.Fatalf("got %v; want %v", err, ErrBadLength)
	}
	if err = r.CommitTx(41); !errors.Is(err, ErrBadLength) {
		t.Fatalf("got %v; want %v", err, ErrBadLength)
	}
	err = r.CommitTx(25)
	if err != nil {
		t.Fatal(err)
	}
	if r.Cursor() != 3 {
		t.Errorf("got cursor %d; want 3", r.Cursor())
	}
	wantFlags := []Flags{FlagFirst, 0, FlagLast}
	wantLen := []int{10, 10, 5}
	for i := range 3 {
		flags, length := r.Status(i)
		if flags != wantFlags[i] || length != wantLen[i] {
			t.Errorf("desc %d: got flags=%d len=%d; want flags=%d len=%d", i, flags, length, wantFlags[i], wantLen[i])
		}
		if r.Owner(i) != OwnedByDMA {
			t.Errorf("desc %d not handed to DMA", i)
		}
	}
	// Only one slot left, needs two.
	if err = r.CommitTx(15); !errors.Is(err, ErrOwnedByDMA) {
		t.Fatalf("got %v; want %v", err, ErrOwnedByDMA)
	}
	if r.Cursor() != 3 {
		t.Error("failed commit moved cursor")
	}
}

func TestReceivedFrame(t *testing.T) {
	var r Ring
	err := r.Init(MakeBuffers(4, 8), OwnedByDMA)
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := r.ReceivedFrame(); ok {
		t.Fatal("frame found in empty ring")
	}
	// Incomplete frame: last segment still owned by DMA.
	r.SetStatus(0, FlagFirst, 0)
	r.SetOwner(0, OwnedBySoftware)
	if _, ok := r.ReceivedFrame(); ok {
		t.Fatal("incomplete frame reported")
	}
	r.SetStatus(1, FlagLast, 12)
	r.SetOwner(1, OwnedBySoftware)
	info, ok := r.ReceivedFrame()
	if !ok {
		t.Fatal("complete frame not found")
	}
	if info != (FrameInfo{First: 0, Segments: 2, Length: 12}) {
		t.Errorf("got %+v", info)
	}
	if !info.Valid(&r) {
		t.Error("frame should be valid")
	}
	if r.Cursor() != 2 {
		t.Errorf("got cursor %d; want 2", r.Cursor())
	}
	r.Release(info)
	if r.OwnedCount(OwnedByDMA) != 4 {
		t.Error("release did not hand descriptors back")
	}
	if (FrameInfo{First: 0, Segments: 1, Length: 9}).Valid(&r) {
		t.Error("length beyond spanned slots should be invalid")
	}
}

func TestReceivedFrameStrays(t *testing.T) {
	var r Ring
	err := r.Init(MakeBuffers(4, 8), OwnedByDMA)
	if err != nil {
		t.Fatal(err)
	}
	// Stray middle segment, then an unterminated first, then a full frame.
	r.SetStatus(0, 0, 0)
	r.SetStatus(1, FlagFirst, 0)
	r.SetStatus(2, FlagFirst|FlagLast, 5)
	for i := range 3 {
		r.SetOwner(i, OwnedBySoftware)
	}
	info, ok := r.ReceivedFrame()
	if !ok {
		t.Fatal("frame not found")
	}
	if info.First != 2 || info.Segments != 1 || info.Length != 5 {
		t.Errorf("got %+v; want first=2 segs=1 len=5", info)
	}
	if r.Owner(0) != OwnedByDMA || r.Owner(1) != OwnedByDMA {
		t.Error("stray descriptors not handed back to DMA")
	}
	if r.Cursor() != 3 {
		t.Errorf("got cursor %d; want 3", r.Cursor())
	}

	// Unterminated run wrapping the whole ring.
	var w Ring
	must(t, w.Init(MakeBuffers(2, 8), OwnedBySoftware))
	w.SetStatus(0, FlagFirst, 0)
	w.SetStatus(1, 0, 0)
	if _, ok = w.ReceivedFrame(); ok {
		t.Fatal("unterminated frame reported complete")
	}
	if n := w.OwnedCount(OwnedByDMA); n != 2 {
		t.Errorf("got %d/2 descriptors DMA owned after unterminated run", n)
	}
	if w.Cursor() != 0 {
		t.Errorf("got cursor %d; want 0", w.Cursor())
	}
	// Same run started mid ring behind a stray.
	must(t, w.Init(MakeBuffers(3, 8), OwnedBySoftware))
	w.SetStatus(1, FlagFirst, 0)
	if _, ok = w.ReceivedFrame(); ok {
		t.Fatal("unterminated frame reported complete")
	}
	if n := w.OwnedCount(OwnedByDMA); n != 3 {
		t.Errorf("got %d/3 descriptors DMA owned", n)
	}
	if w.Cursor() != 0 {
		t.Errorf("got cursor %d; want 0", w.Cursor())
	}
}

func TestEngineReceive(t *testing.T) {
	var rx, tx Ring
	var e Engine
	received := 0
	e.Configure(EngineConfig{OnReceive: func() { received++ }})
	must(t, rx.Init(MakeBuffers(2, 8), OwnedByDMA))
	must(t, tx.Init(MakeBuffers(2, 8), OwnedBySoftware))
	if err := e.Receive([]byte{1}); !errors.Is(err, ErrStopped) {
		t.Fatalf("got %v; want %v", err, ErrStopped)
	}
	must(t, e.Attach(&rx, &tx))
	must(t, e.Start())

	frame := []byte("0123456789ab")
	must(t, e.Receive(frame))
	if received != 1 || e.Status()&StatusRxComplete == 0 {
		t.Fatal("receive complete not signaled")
	}
	info, ok := rx.ReceivedFrame()
	if !ok || info.Length != len(frame) || info.Segments != 2 {
		t.Fatalf("got %+v ok=%v", info, ok)
	}
	got := append(rx.Buffer(0)[:8:8], rx.Buffer(1)[:4]...)
	if !bytes.Equal(got, frame) {
		t.Errorf("got %q; want %q", got, frame)
	}

	// Ring full: descriptors still held by software.
	err := e.Receive([]byte{1})
	if !errors.Is(err, ErrRxSuspended) {
		t.Fatalf("got %v; want %v", err, ErrRxSuspended)
	}
	if e.Status()&StatusRxBufferUnavailable == 0 {
		t.Fatal("RBUS not raised")
	}
	rx.Release(info)
	if err = e.Receive([]byte{1}); !errors.Is(err, ErrRxSuspended) {
		t.Fatal("reception must stay suspended until poll demand")
	}
	e.ClearStatus(StatusRxBufferUnavailable)
	e.DemandRxPoll()
	must(t, e.Receive([]byte{1}))
	if err = e.Receive(make([]byte, 17)); !errors.Is(err, ErrBadLength) {
		t.Errorf("got %v; want %v", err, ErrBadLength)
	}
}

func TestEngineTransmit(t *testing.T) {
	var rx, tx Ring
	var e Engine
	var sent [][]byte
	e.Configure(EngineConfig{
		ManualTx: true,
		OnTransmit: func(frame []byte) {
			sent = append(sent, append([]byte(nil), frame...))
		},
	})
	must(t, rx.Init(MakeBuffers(2, 8), OwnedByDMA))
	must(t, tx.Init(MakeBuffers(3, 8), OwnedBySoftware))
	must(t, e.Attach(&rx, &tx))
	must(t, e.Start())

	frame := []byte("hello, world")
	copy(tx.Buffer(0), frame)
	copy(tx.Buffer(1), frame[8:])
	must(t, tx.CommitTx(len(frame)))
	e.DemandTxPoll()
	if len(sent) != 0 {
		t.Fatal("manual engine transmitted on poll demand")
	}
	if n := e.ProcessTx(); n != 1 {
		t.Fatalf("got %d frames; want 1", n)
	}
	if !bytes.Equal(sent[0], frame) {
		t.Errorf("got %q; want %q", sent[0], frame)
	}
	if tx.OwnedCount(OwnedBySoftware) != 3 {
		t.Error("TX descriptors not returned to software")
	}
	if e.Status()&StatusTxComplete == 0 {
		t.Error("TX complete not raised")
	}

	// Underflow suspends transmission until a poll demand.
	copy(tx.Buffer(2), "x")
	must(t, tx.CommitTx(1))
	e.SetStatus(StatusTxUnderflow)
	if n := e.ProcessTx(); n != 0 {
		t.Fatal("suspended engine transmitted")
	}
	e.DemandTxPoll()
	if n := e.ProcessTx(); n != 1 {
		t.Fatalf("got %d frames after resume; want 1", n)
	}
	if e.Transmitted() != 2 {
		t.Errorf("got %d transmitted; want 2", e.Transmitted())
	}
}

func TestEngineConfigureMAC(t *testing.T) {
	var e Engine
	e.Configure(EngineConfig{})
	if err := e.ConfigureMAC(phy.Link10HDX); err != nil {
		t.Fatal(err)
	}
	if e.LinkMode() != phy.Link10HDX {
		t.Errorf("got %s; want %s", e.LinkMode(), phy.Link10HDX)
	}
}

func must(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Fatal(err)
	}
}
