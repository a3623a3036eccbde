// Package pmm implements the physical page pool that hands out 4 KiB frames
// from a fixed arena.
package pmm

import (
	"ringos/kernel"
	"ringos/kernel/kfmt"
	"ringos/kernel/mm"
	"ringos/kernel/sync"
)

var (
	// ErrOutOfMemory is returned by Alloc when both the free list and the
	// arena are exhausted.
	ErrOutOfMemory = &kernel.Error{Module: "pmm", Message: "out of memory"}

	// ErrInvalidFrame is returned by Free for frames that were never handed
	// out by the pool.
	ErrInvalidFrame = &kernel.Error{Module: "pmm", Message: "frame was not allocated from this pool"}

	// ErrDoubleFree is returned by Free for frames that are already free.
	ErrDoubleFree = &kernel.Error{Module: "pmm", Message: "frame is already free"}
)

// Pool is a frame allocator over the arena [start, end). Frames are handed
// out from a LIFO free list first and from a bump cursor otherwise. Every
// frame below the cursor is tracked as either allocated or free so that bad
// frees are detected instead of corrupting the list.
type Pool struct {
	lock *sync.IRQLock

	start, end mm.Frame
	cursor     mm.Frame

	// freeList holds the indices (relative to start) of released frames.
	freeList []uint32

	// allocated is a bitmap indexed by frame - start.
	allocated []uint64
	inUse     uint32
}

// NewPool returns a pool managing the frames in [start, end). All mutations
// run inside a critical section guarded by lock.
func NewPool(start, end mm.Frame, lock *sync.IRQLock) *Pool {
	if end < start {
		end = start
	}

	return &Pool{
		lock:      lock,
		start:     start,
		end:       end,
		cursor:    start,
		allocated: make([]uint64, (uint32(end-start)+63)/64),
	}
}

// Alloc reserves a frame. The contents of the returned frame are undefined.
func (p *Pool) Alloc() (mm.Frame, *kernel.Error) {
	var (
		frame = mm.InvalidFrame
		err   *kernel.Error
	)

	p.lock.Do(func() {
		if n := len(p.freeList); n != 0 {
			frame = p.start + mm.Frame(p.freeList[n-1])
			p.freeList = p.freeList[:n-1]
		} else if p.cursor < p.end {
			frame = p.cursor
			p.cursor++
		} else {
			err = ErrOutOfMemory
			return
		}

		p.setAllocated(frame, true)
		p.inUse++
	})

	if err != nil {
		kfmt.Printf("OOM: the arena is not enough to allocate\nchunk_size: %x\narena_current: %#x\narena_end: %#x\n",
			mm.PageSize, p.cursor.Address(), p.end.Address())
	}
	return frame, err
}

// Free returns a frame obtained by Alloc to the pool.
func (p *Pool) Free(frame mm.Frame) *kernel.Error {
	var err *kernel.Error

	p.lock.Do(func() {
		switch {
		case frame < p.start || frame >= p.cursor:
			err = ErrInvalidFrame
		case !p.isAllocated(frame):
			err = ErrDoubleFree
		default:
			p.setAllocated(frame, false)
			p.freeList = append(p.freeList, uint32(frame-p.start))
			p.inUse--
		}
	})

	return err
}

// Contains reports whether frame lies inside the pool arena.
func (p *Pool) Contains(frame mm.Frame) bool {
	return frame >= p.start && frame < p.end
}

// Allocated returns the number of frames currently handed out.
func (p *Pool) Allocated() uint32 { return p.inUse }

// Cursor returns the next frame the bump allocator would hand out.
func (p *Pool) Cursor() mm.Frame { return p.cursor }

// Bounds returns the arena limits.
func (p *Pool) Bounds() (start, end mm.Frame) { return p.start, p.end }

func (p *Pool) isAllocated(frame mm.Frame) bool {
	index := uint32(frame - p.start)
	return p.allocated[index>>6]&(1<<(index&63)) != 0
}

func (p *Pool) setAllocated(frame mm.Frame, allocated bool) {
	index := uint32(frame - p.start)
	if allocated {
		p.allocated[index>>6] |= 1 << (index & 63)
		return
	}
	p.allocated[index>>6] &^= 1 << (index & 63)
}
