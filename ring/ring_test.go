package ring

import (
	"bytes"
	"math/rand"
	"testing"
)

func TestPushPopRoundTripAcrossWrap(t *testing.T) {
	r := New(64)
	const n = 2000
	src := make([]byte, n)
	for i := range src {
		src[i] = byte(i)
	}
	dst := make([]byte, 0, n)

	rng := rand.New(rand.NewSource(1))
	written, read := 0, 0
	for read < n {
		if written < n {
			step := 1 + rng.Intn(7)
			if step > n-written {
				step = n - written
			}
			got := r.TryWriteFrom(src[written : written+step])
			written += got
		}
		var tmp [17]byte
		got := r.PopTo(tmp[:], len(tmp))
		if got > 0 {
			dst = append(dst, tmp[:got]...)
			read += got
		}
	}
	if !bytes.Equal(dst, src) {
		t.Fatalf("round trip mismatch")
	}
}

func TestOccupiedNeverExceedsCapacity(t *testing.T) {
	r := New(16)
	rng := rand.New(rand.NewSource(2))
	for i := 0; i < 10000; i++ {
		if rng.Intn(2) == 0 {
			buf := make([]byte, 1+rng.Intn(5))
			r.TryWriteFrom(buf)
		} else {
			var tmp [5]byte
			r.PopTo(tmp[:], 1+rng.Intn(4))
		}
		if r.Occupied() > r.Cap() {
			t.Fatalf("occupied %d exceeds capacity %d", r.Occupied(), r.Cap())
		}
		if r.Occupied()+r.Space() != r.Cap() {
			t.Fatalf("occupied+space invariant broken")
		}
	}
}

func TestFindLeastOffsetAndConsumeThrough(t *testing.T) {
	r := New(32)
	r.TryWriteFrom([]byte("garbageOKneedleXYZ"))
	off := r.Find([]byte("needle"), 0, 0, false)
	if off != 9 {
		t.Fatalf("expected offset 9, got %d", off)
	}
	// Peek shouldn't have consumed anything.
	if r.Occupied() != len("garbageOKneedleXYZ") {
		t.Fatalf("non-consuming find mutated occupancy")
	}
	off2 := r.Find([]byte("needle"), 0, 0, true)
	if off2 != 9 {
		t.Fatalf("expected offset 9 on consume pass, got %d", off2)
	}
	if r.Occupied() != len("XYZ") {
		t.Fatalf("expected tail advanced past needle, occupied=%d", r.Occupied())
	}
}

func TestFindNotFound(t *testing.T) {
	r := New(16)
	r.TryWriteFrom([]byte("hello"))
	if got := r.Find([]byte("zzz"), 0, 0, false); got != NotFound {
		t.Fatalf("expected NotFound, got %d", got)
	}
}

func TestFindAcrossWrap(t *testing.T) {
	r := New(8)
	r.TryWriteFrom([]byte("xxxxxx"))
	var tmp [4]byte
	r.PopTo(tmp[:], 4) // tail now at 4, head at 6; 2 bytes occupied
	r.TryWriteFrom([]byte("AB--OK"))
	// occupied bytes, in order: "xx" + "AB--OK" = "xxAB--OK", wrapping in the backing array.
	off := r.Find([]byte("OK"), 0, 0, false)
	if off != 6 {
		t.Fatalf("expected offset 6 across wrap, got %d", off)
	}
}

func TestSkipTailDropsBytes(t *testing.T) {
	r := New(16)
	r.TryWriteFrom([]byte("0123456789"))
	n := r.SkipTail(4)
	if n != 4 {
		t.Fatalf("expected 4 skipped, got %d", n)
	}
	var tmp [16]byte
	got := r.PopTo(tmp[:], 16)
	if string(tmp[:got]) != "456789" {
		t.Fatalf("unexpected remainder %q", tmp[:got])
	}
}

func TestReadableWritableEdges(t *testing.T) {
	r := New(8)
	select {
	case <-r.Readable():
		t.Fatal("unexpected Readable on empty ring")
	default:
	}
	if n := r.TryWriteFrom([]byte{1, 2, 3}); n != 3 {
		t.Fatalf("write 3 -> %d", n)
	}
	select {
	case <-r.Readable():
	default:
		t.Fatal("expected Readable")
	}
	select {
	case <-r.Readable():
		t.Fatal("unexpected extra Readable (not coalesced)")
	default:
	}
}

func TestResetEmptiesRing(t *testing.T) {
	r := New(8)
	r.TryWriteFrom([]byte{1, 2, 3, 4})
	r.Reset()
	if r.Occupied() != 0 {
		t.Fatalf("expected empty after reset, got occupied=%d", r.Occupied())
	}
	if r.Space() != r.Cap() {
		t.Fatalf("expected full space after reset")
	}
}
