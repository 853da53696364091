package dma

// FrameInfo locates a completed received frame inside the RX ring.
type FrameInfo struct {
	// First is the index of the descriptor holding the first segment.
	First int
	// Segments is the number of consecutive descriptors the frame spans.
	Segments int
	// Length is the frame length reported by the DMA.
	Length int
}

// Valid reports whether the reported length fits in the slots the frame spans.
func (fi FrameInfo) Valid(r *Ring) bool {
	return fi.Segments > 0 && fi.Length >= 0 && fi.Length <= fi.Segments*r.bufSize
}

// ReceivedFrame scans the RX ring from the cursor for a completed frame, that
// is a run of software owned descriptors from one flagged FlagFirst to one
// flagged FlagLast. On success the cursor is advanced past the frame.
// Software owned descriptors found before a first segment carry no frame
// and are handed back to the DMA, as is a first segment whose run fills
// the rest of the ring without a last segment.
//
// The returned ok is false when no complete frame is available yet.
func (r *Ring) ReceivedFrame() (info FrameInfo, ok bool) {
	if len(r.desc) == 0 {
		return info, false
	}
	i := r.cur
	started := false
	for range len(r.desc) {
		if r.Owner(i) != OwnedBySoftware {
			return FrameInfo{}, false // Frame not complete or nothing received.
		}
		flags, length := r.Status(i)
		switch {
		case flags&FlagFirst != 0:
			if started {
				// Previous frame was never terminated. Drop its segments.
				r.releaseRun(info.First, info.Segments)
				r.cur = i
			}
			started = true
			info = FrameInfo{First: i, Segments: 1}
		case started:
			info.Segments++
		default:
			// Stray segment with no first descriptor.
			r.SetStatus(i, 0, 0)
			r.SetOwner(i, OwnedByDMA)
			r.cur = r.Next(i)
			i = r.cur
			continue
		}
		if flags&FlagLast != 0 {
			info.Length = length
			r.cur = r.Next(i)
			return info, true
		}
		i = r.Next(i)
	}
	if started {
		// Every descriptor is software owned and no last segment was found,
		// so the run can never be completed. Drop it so the DMA gets its
		// descriptors back.
		r.releaseRun(info.First, info.Segments)
		r.cur = (info.First + info.Segments) % len(r.desc)
	}
	return FrameInfo{}, false
}

// Release hands every descriptor spanned by the frame back to the DMA in
// traversal order.
func (r *Ring) Release(info FrameInfo) {
	r.releaseRun(info.First, info.Segments)
}

func (r *Ring) releaseRun(first, n int) {
	i := first
	for range n {
		r.SetStatus(i, 0, 0)
		r.SetOwner(i, OwnedByDMA)
		i = r.Next(i)
	}
}

// CommitTx marks the length bytes already written from the cursor onwards as
// one frame and hands its descriptors to the DMA. The cursor advances past
// the frame. Ownership of the first descriptor is transferred last so the
// DMA never observes a partially committed frame.
func (r *Ring) CommitTx(length int) error {
	if len(r.desc) == 0 {
		return errNotInit
	}
	if length <= 0 || length > r.Capacity() {
		return ErrBadLength
	}
	n := r.SlotsFor(length)
	i := r.cur
	for range n {
		if r.Owner(i) != OwnedBySoftware {
			return ErrOwnedByDMA
		}
		i = r.Next(i)
	}
	first := r.cur
	i = first
	remaining := length
	for k := range n {
		var flags Flags
		if k == 0 {
			flags |= FlagFirst
		}
		if k == n-1 {
			flags |= FlagLast
		}
		chunk := min(remaining, r.bufSize)
		r.SetStatus(i, flags, chunk)
		remaining -= chunk
		i = r.Next(i)
	}
	r.cur = i
	// Hand over in reverse order.
	for k := n - 1; k >= 0; k-- {
		r.SetOwner((first+k)%len(r.desc), OwnedByDMA)
	}
	return nil
}
