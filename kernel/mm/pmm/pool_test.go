package pmm

import (
	"bytes"
	"fmt"
	"math/rand"
	"strings"
	"testing"

	"ringos/kernel/kfmt"
	"ringos/kernel/mm"
	"ringos/kernel/sync"
)

type mockCPU struct {
	enabled bool
}

func (c *mockCPU) InterruptsEnabled() bool { return c.enabled }
func (c *mockCPU) DisableInterrupts()      { c.enabled = false }
func (c *mockCPU) EnableInterrupts()       { c.enabled = true }

func newTestPool(frames uint32) *Pool {
	start := mm.FrameFromAddress(mm.ArenaStart)
	return NewPool(start, start+mm.Frame(frames), sync.NewIRQLock(&mockCPU{enabled: true}))
}

func TestPoolReusesFreedFrames(t *testing.T) {
	pool := newTestPool(16)

	first, err := pool.Alloc()
	if err != nil {
		t.Fatal(err)
	}
	if first.Address() != mm.ArenaStart {
		t.Fatalf("expected first frame at %#x; got %#x", mm.ArenaStart, first.Address())
	}

	second, _ := pool.Alloc()
	if err := pool.Free(first); err != nil {
		t.Fatal(err)
	}

	cursor := pool.Cursor()
	again, err := pool.Alloc()
	if err != nil {
		t.Fatal(err)
	}
	if again != first {
		t.Fatalf("expected freed frame %d to be reused; got %d", first, again)
	}
	if pool.Cursor() != cursor {
		t.Fatal("expected reuse not to bump the cursor")
	}

	// LIFO order.
	pool.Free(again)
	pool.Free(second)
	if f, _ := pool.Alloc(); f != second {
		t.Fatalf("expected most recently freed frame %d; got %d", second, f)
	}
	if got := pool.Allocated(); got != 1 {
		t.Fatalf("expected 1 allocated frame; got %d", got)
	}
}

func TestPoolBounds(t *testing.T) {
	defer kfmt.SetOutputSink(nil)
	var buf bytes.Buffer
	kfmt.SetOutputSink(&buf)

	pool := newTestPool(8)
	start, end := pool.Bounds()

	rng := rand.New(rand.NewSource(42))
	var live []mm.Frame
	for i := 0; i < 500; i++ {
		prevCursor := pool.Cursor()

		if len(live) == 0 || rng.Intn(3) != 0 {
			frame, err := pool.Alloc()
			switch {
			case err == ErrOutOfMemory:
				if len(live) != 8 {
					t.Fatalf("unexpected OOM with %d live frames", len(live))
				}
			case err != nil:
				t.Fatal(err)
			default:
				if frame < start || frame >= end {
					t.Fatalf("frame %d outside arena [%d, %d)", frame, start, end)
				}
				live = append(live, frame)
			}
		} else {
			index := rng.Intn(len(live))
			if err := pool.Free(live[index]); err != nil {
				t.Fatal(err)
			}
			live = append(live[:index], live[index+1:]...)
		}

		if pool.Cursor() < prevCursor || pool.Cursor() > end {
			t.Fatalf("cursor moved from %d to %d (end %d)", prevCursor, pool.Cursor(), end)
		}
	}

	// Allocated frames must be unique.
	seen := make(map[mm.Frame]bool)
	for _, f := range live {
		if seen[f] {
			t.Fatalf("frame %d handed out twice", f)
		}
		seen[f] = true
	}
}

func TestPoolContains(t *testing.T) {
	pool := newTestPool(4)
	start, end := pool.Bounds()

	specs := []struct {
		frame mm.Frame
		exp   bool
	}{
		{start - 1, false},
		{start, true},
		{end - 1, true},
		{end, false},
		{mm.FrameFromAddress(mm.ImageOrigin(0)), false},
	}

	for specIndex, spec := range specs {
		t.Run(fmt.Sprint(specIndex), func(t *testing.T) {
			if got := pool.Contains(spec.frame); got != spec.exp {
				t.Fatalf("expected Contains(%d) to be %t; got %t", spec.frame, spec.exp, got)
			}
		})
	}
}

func TestPoolOutOfMemory(t *testing.T) {
	defer kfmt.SetOutputSink(nil)
	var buf bytes.Buffer
	kfmt.SetOutputSink(&buf)

	pool := newTestPool(2)
	pool.Alloc()
	pool.Alloc()

	frame, err := pool.Alloc()
	if err != ErrOutOfMemory {
		t.Fatalf("expected ErrOutOfMemory; got %v", err)
	}
	if frame.Valid() {
		t.Fatal("expected an invalid frame on OOM")
	}

	exp := fmt.Sprintf("OOM: the arena is not enough to allocate\nchunk_size: 1000\narena_current: %#x\narena_end: %#x\n",
		mm.ArenaStart+2*mm.PageSize, mm.ArenaStart+2*mm.PageSize)
	if got := buf.String(); got != exp {
		t.Fatalf("expected diagnostic:\n%q\ngot:\n%q", exp, got)
	}
}

func TestPoolFreeErrors(t *testing.T) {
	pool := newTestPool(4)
	start, end := pool.Bounds()
	allocated, _ := pool.Alloc()

	specs := []struct {
		frame  mm.Frame
		expErr error
	}{
		{start - 1, ErrInvalidFrame},
		{end, ErrInvalidFrame},
		// inside the arena but never handed out
		{start + 2, ErrInvalidFrame},
		{allocated, nil},
		{allocated, ErrDoubleFree},
	}

	for specIndex, spec := range specs {
		err := pool.Free(spec.frame)
		if (err == nil && spec.expErr != nil) || (err != nil && err != spec.expErr) {
			t.Errorf("[spec %d] expected error %v; got %v", specIndex, spec.expErr, err)
		}
	}

	if pool.Allocated() != 0 {
		t.Fatalf("expected no allocated frames; got %d", pool.Allocated())
	}
	if !strings.Contains(ErrDoubleFree.Error(), "already free") {
		t.Fatal("unexpected error message")
	}
}

func TestPoolMasksInterrupts(t *testing.T) {
	cpu := &mockCPU{enabled: true}
	start := mm.FrameFromAddress(mm.ArenaStart)
	pool := NewPool(start, start+1, sync.NewIRQLock(cpu))

	if _, err := pool.Alloc(); err != nil {
		t.Fatal(err)
	}
	if !cpu.enabled {
		t.Fatal("expected interrupt flag to be restored after Alloc")
	}
}
