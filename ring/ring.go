// Package ring provides the single-producer / single-consumer (SPSC) byte
// ring shared between the I/O processor's interrupt path and the foreground
// AT-command/stream-handling path (the "BBFFR" of the modem core).
//
// Semantics
//   - Exactly one producer goroutine and exactly one consumer goroutine.
//   - Capacity must be a power of two >= 2.
//   - Indices are uint32 and may wrap; distances use modular arithmetic.
//   - Distance invariant: 0 <= (wr - rd) <= size at all times.
//   - Empty: wr == rd. Full: (wr - rd) == size.
//   - Readiness notifications are edge-coalesced (buffered size 1); always
//     re-check state after waking.
//
// APIs
//   - Span/block: PushBlock/FinalizePush, PopBlock/FinalizePop
//   - Scanning:   Find
//   - Copy-based: PopTo, TryWriteFrom
//   - Bookkeeping: SkipTail, Reset, Occupied, Space, Cap
package ring

import (
	"sync/atomic"
)

// NotFound is returned by Find when the needle does not occur in the
// occupied region within the requested scan bound.
const NotFound = -1

// Ring is a fixed-capacity byte ring buffer. The zero value is not usable;
// construct with New.
type Ring struct {
	buf  []byte
	mask uint32
	rd   atomic.Uint32 // consumer index (monotonic modulo size)
	wr   atomic.Uint32 // producer index (monotonic modulo size)

	readable chan struct{} // empty -> non-empty edge
	writable chan struct{} // full  -> non-full  edge

	pushing atomic.Bool // guards against a second concurrent PushBlock
	popping atomic.Bool // guards against a second concurrent PopBlock
}

// New returns a ring with the given power-of-two capacity (>= 2).
func New(capacity int) *Ring {
	if capacity < 2 || capacity&(capacity-1) != 0 {
		panic("ring: capacity must be a power of two >= 2")
	}
	return &Ring{
		buf:      make([]byte, capacity),
		mask:     uint32(capacity - 1),
		readable: make(chan struct{}, 1),
		writable: make(chan struct{}, 1),
	}
}

func (r *Ring) size() uint32 { return uint32(len(r.buf)) }

// Cap returns the capacity in bytes.
func (r *Ring) Cap() int { return len(r.buf) }

// Occupied returns bytes available to the consumer.
func (r *Ring) Occupied() int {
	return int(r.wr.Load() - r.rd.Load())
}

// Space returns bytes free for the producer.
func (r *Ring) Space() int {
	return int(r.size() - (r.wr.Load() - r.rd.Load()))
}

// Readable returns a coalesced notification when the ring transitions from
// empty to non-empty. Always re-check state after waking.
func (r *Ring) Readable() <-chan struct{} { return r.readable }

// Writable returns a coalesced notification when the ring transitions from
// full to non-full. Always re-check state after waking.
func (r *Ring) Writable() <-chan struct{} { return r.writable }

// Reset empties the ring. Only safe when neither side holds an outstanding
// block reservation (e.g. during a bridge FIFO reset recovery).
func (r *Ring) Reset() {
	r.rd.Store(r.wr.Load())
}

// ---- Block (zero-copy) API ----

// PushBlock exposes up to n contiguous free bytes for the producer to write
// into directly. The caller must follow with FinalizePush(written) before
// issuing another PushBlock. Returns a slice shorter than n if the
// contiguous run to the end of the backing array is the limiting factor
// (the remainder requires a second PushBlock after wrap) or if free space
// is smaller than n.
func (r *Ring) PushBlock(n int) []byte {
	if !r.pushing.CompareAndSwap(false, true) {
		panic("ring: concurrent PushBlock")
	}
	rd := r.rd.Load()
	wr := r.wr.Load()
	space := int(r.size() - (wr - rd))
	if space == 0 || n <= 0 {
		return nil
	}
	if n > space {
		n = space
	}
	wrIdx := wr & r.mask
	tillEnd := int(r.size() - wrIdx)
	if n > tillEnd {
		n = tillEnd
	}
	return r.buf[wrIdx : wrIdx+uint32(n)]
}

// FinalizePush commits committed bytes (<= the length returned by the last
// PushBlock) and releases the push reservation.
func (r *Ring) FinalizePush(committed int) {
	defer r.pushing.Store(false)
	if committed <= 0 {
		return
	}
	rd := r.rd.Load()
	wr := r.wr.Load()
	beforeAvail := wr - rd

	r.wr.Store(wr + uint32(committed))

	if beforeAvail == 0 {
		r.notify(r.readable)
	}
}

// PopBlock exposes up to n contiguous occupied bytes for the consumer to
// read directly. The caller must follow with FinalizePop before issuing
// another PopBlock. Like PushBlock, the returned slice may be shorter than
// n at a wrap boundary; call PopBlock again after FinalizePop to see the
// rest.
func (r *Ring) PopBlock(n int) []byte {
	if !r.popping.CompareAndSwap(false, true) {
		panic("ring: concurrent PopBlock")
	}
	rd := r.rd.Load()
	wr := r.wr.Load()
	avail := int(wr - rd)
	if avail == 0 || n <= 0 {
		return nil
	}
	if n > avail {
		n = avail
	}
	rdIdx := rd & r.mask
	tillEnd := int(r.size() - rdIdx)
	if n > tillEnd {
		n = tillEnd
	}
	return r.buf[rdIdx : rdIdx+uint32(n)]
}

// FinalizePop releases the pop reservation, advancing the tail by consumed
// bytes only if consume is true (a peek-only pass can pass consume=false).
func (r *Ring) FinalizePop(consumed int, consume bool) {
	defer r.popping.Store(false)
	if !consume || consumed <= 0 {
		return
	}
	r.advanceTail(consumed)
}

func (r *Ring) advanceTail(n int) {
	rd := r.rd.Load()
	wr := r.wr.Load()
	beforeSpace := r.size() - (wr - rd)

	r.rd.Store(rd + uint32(n))

	if beforeSpace == 0 {
		r.notify(r.writable)
	}
}

func (r *Ring) notify(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}

// ---- Scanning ----

// Find scans the occupied region, starting at startOffset bytes from the
// tail and looking across at most maxScan bytes (0 means "to the end of
// the occupied region"), for the literal needle. It returns the offset of
// the first match from the tail, or NotFound. If consumeThrough is true and
// the needle is found, the tail is advanced past the end of the match.
func (r *Ring) Find(needle []byte, startOffset, maxScan int, consumeThrough bool) int {
	if len(needle) == 0 {
		return NotFound
	}
	occupied := r.Occupied()
	if startOffset < 0 || startOffset >= occupied {
		return NotFound
	}
	scanLimit := occupied
	if maxScan > 0 && startOffset+maxScan < scanLimit {
		scanLimit = startOffset + maxScan
	}

	rd := r.rd.Load()
	at := func(i int) byte {
		return r.buf[(rd+uint32(i))&r.mask]
	}

	for i := startOffset; i+len(needle) <= scanLimit; i++ {
		match := true
		for j := range needle {
			if at(i+j) != needle[j] {
				match = false
				break
			}
		}
		if match {
			if consumeThrough {
				r.advanceTail(i + len(needle))
			}
			return i
		}
	}
	return NotFound
}

// ---- Copy-based helpers ----

// PopTo copies up to n bytes out of the ring into dst (which must have
// capacity >= n), advancing the tail by the number of bytes copied, and
// returns that count.
func (r *Ring) PopTo(dst []byte, n int) int {
	if n > len(dst) {
		n = len(dst)
	}
	total := 0
	for total < n {
		chunk := r.PopBlock(n - total)
		if len(chunk) == 0 {
			r.popping.Store(false)
			break
		}
		copy(dst[total:], chunk)
		total += len(chunk)
		r.FinalizePop(len(chunk), true)
	}
	return total
}

// SkipTail advances the consumer index by n bytes, dropping them without
// copying. n is clamped to the occupied count.
func (r *Ring) SkipTail(n int) int {
	occ := r.Occupied()
	if n > occ {
		n = occ
	}
	if n <= 0 {
		return 0
	}
	r.advanceTail(n)
	return n
}

// TryWriteFrom writes as much of src as fits right now using the block API.
// Returns bytes written (may be 0 if full).
func (r *Ring) TryWriteFrom(src []byte) int {
	if len(src) == 0 {
		return 0
	}
	total := 0
	for total < len(src) {
		chunk := r.PushBlock(len(src) - total)
		if len(chunk) == 0 {
			r.pushing.Store(false)
			break
		}
		n := copy(chunk, src[total:])
		r.FinalizePush(n)
		total += n
		if n < len(chunk) {
			break
		}
	}
	return total
}

// PeekByte returns the byte at offset bytes from the tail and true, or
// (0, false) if offset is outside the occupied region.
func (r *Ring) PeekByte(offset int) (byte, bool) {
	if offset < 0 || offset >= r.Occupied() {
		return 0, false
	}
	rd := r.rd.Load()
	return r.buf[(rd+uint32(offset))&r.mask], true
}
