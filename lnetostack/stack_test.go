package lnetostack

import (
	"net/netip"
	"testing"

	"github.com/soypat/ethmac"
	"github.com/soypat/ethmac/pbuf"
	"github.com/soypat/lneto/arp"
	"github.com/soypat/lneto/ethernet"
	"github.com/soypat/lneto/phy"
)

var (
	ourIP   = [4]byte{10, 0, 0, 2}
	peerIP  = [4]byte{10, 0, 0, 1}
	ourHW   = [6]byte{0x02, 0, 0, 0, 0, 0x02}
	peerHW  = [6]byte{0x02, 0, 0, 0, 0, 0x01}
	bcastHW = [6]byte{0xff, 0xff, 0xff, 0xff, 0xff, 0xff}
)

type recorder struct {
	frames [][]byte
	busy   int // Number of calls to refuse.
}

func (r *recorder) Transmit(frame *pbuf.Buf) error {
	if r.busy > 0 {
		r.busy--
		return ethmac.ErrBusy
	}
	r.frames = append(r.frames, frame.AppendTo(nil))
	return nil
}

func newTestStack(t *testing.T, pool *pbuf.Pool) *Stack {
	t.Helper()
	stack, err := New(StackConfig{
		StaticAddress:   netip.AddrFrom4(ourIP),
		Hostname:        "test",
		HardwareAddress: ourHW,
		RandSeed:        1,
		Alloc:           pool,
	})
	if err != nil {
		t.Fatal(err)
	}
	return stack
}

func arpRequest() []byte {
	return arpFrame(arp.OpRequest, peerHW, peerIP, [6]byte{}, ourIP)
}

// arpFrame builds a minimum size ARP frame. Requests are broadcast, replies
// are sent to targetHW.
func arpFrame(op arp.Operation, senderHW [6]byte, senderIP [4]byte, targetHW [6]byte, targetIP [4]byte) []byte {
	buf := make([]byte, 60)
	efrm, _ := ethernet.NewFrame(buf)
	if op == arp.OpRequest {
		*efrm.DestinationHardwareAddr() = bcastHW
	} else {
		*efrm.DestinationHardwareAddr() = targetHW
	}
	*efrm.SourceHardwareAddr() = senderHW
	efrm.SetEtherType(ethernet.TypeARP)
	afrm, _ := arp.NewFrame(efrm.Payload())
	afrm.SetHardware(1, 6)
	afrm.SetProtocol(ethernet.TypeIPv4, 4)
	afrm.SetOperation(op)
	hw, ip := afrm.Sender4()
	*hw, *ip = senderHW, senderIP
	hw, ip = afrm.Target4()
	*hw, *ip = targetHW, targetIP
	return buf
}

func inputChain(t *testing.T, stack *Stack, pool *pbuf.Pool, data []byte) {
	t.Helper()
	chain, err := pool.Alloc(len(data))
	if err != nil {
		t.Fatal(err)
	}
	off := 0
	for seg := chain; seg != nil; seg = seg.Next {
		off += copy(seg.Payload, data[off:])
	}
	stack.mu.Lock()
	err = stack.Input(chain)
	stack.mu.Unlock()
	if err != nil {
		t.Fatal(err)
	}
}

func TestNew(t *testing.T) {
	_, err := New(StackConfig{})
	if err == nil {
		t.Fatal("expected error without allocator")
	}
	stack := newTestStack(t, &pbuf.Pool{SegmentSize: 64, Segments: 4})
	if stack.Hostname() != "test" {
		t.Errorf("got hostname %q", stack.Hostname())
	}
}

func TestStackARPReply(t *testing.T) {
	pool := pbuf.Pool{SegmentSize: 16, Segments: 8}
	stack := newTestStack(t, &pool)
	var tx recorder

	inputChain(t, stack, &pool, arpRequest())
	if pool.InUse() != 0 {
		t.Fatal("input chain not freed")
	}
	// Link down: nothing goes out.
	if n, err := stack.Poll(&tx); n != 0 || err != nil {
		t.Fatalf("got n=%d err=%v with link down", n, err)
	}
	stack.mu.Lock()
	stack.SetLinkUp(phy.Link100FDX)
	stack.mu.Unlock()

	tx.busy = 1
	n, err := stack.Poll(&tx)
	if n != 0 || err != nil {
		t.Fatalf("got n=%d err=%v on busy transmitter", n, err)
	}
	n, err = stack.Poll(&tx)
	if err != nil {
		t.Fatal(err)
	} else if n == 0 || len(tx.frames) != 1 {
		t.Fatal("ARP reply not retried after busy transmitter")
	}
	efrm, err := ethernet.NewFrame(tx.frames[0])
	if err != nil {
		t.Fatal(err)
	}
	if *efrm.DestinationHardwareAddr() != peerHW || efrm.EtherTypeOrSize() != ethernet.TypeARP {
		t.Fatalf("unexpected reply header % x", tx.frames[0][:14])
	}
	afrm, err := arp.NewFrame(efrm.Payload())
	if err != nil {
		t.Fatal(err)
	}
	if op := afrm.Operation(); op != arp.OpReply {
		t.Errorf("got ARP op %v; want reply", op)
	}
	hw, ip := afrm.Sender4()
	if *hw != ourHW || *ip != ourIP {
		t.Errorf("reply sender %x %v; want %x %v", *hw, *ip, ourHW, ourIP)
	}
	st := stack.Stats()
	if st.RxFrames != 1 || st.TxFrames != 1 || st.TxDeferred != 1 {
		t.Errorf("got %+v", st)
	}
}

func TestStackLink(t *testing.T) {
	stack := newTestStack(t, &pbuf.Pool{SegmentSize: 64, Segments: 4})
	if stack.LinkUp() {
		t.Fatal("new stack reports link up")
	}
	stack.SetLinkUp(phy.Link10HDX)
	if !stack.LinkUp() || stack.mode != phy.Link10HDX {
		t.Error("link up not recorded")
	}
	stack.SetLinkDown()
	if stack.LinkUp() || stack.mode != phy.LinkDown {
		t.Error("link down not recorded")
	}
}

func TestStackInputTooLarge(t *testing.T) {
	pool := pbuf.Pool{SegmentSize: 512, Segments: 4}
	stack := newTestStack(t, &pool)
	chain, err := pool.Alloc(ethmac.MFU + 1)
	if err != nil {
		t.Fatal(err)
	}
	if err = stack.Input(chain); err == nil {
		t.Fatal("expected error for oversized frame")
	}
	pool.Free(chain) // Rejected chains stay with the caller.
	if pool.InUse() != 0 {
		t.Error("chain leaked")
	}
}
