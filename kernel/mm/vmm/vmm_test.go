package vmm

import (
	"fmt"
	"strings"
	"testing"

	"ringos/kernel/cpu"
	"ringos/kernel/mm"
	"ringos/kernel/mm/pmm"
	"ringos/kernel/sync"
)

const (
	testRAMSize = uint32(16 << 20)
	testFBAddr  = uint32(0xfd000000)
	testFBSize  = uint32(640 * 480 * 4)
)

func testManager() (*Manager, *cpu.Machine, *pmm.Pool) {
	m := cpu.NewMachine(cpu.Config{
		RAMSize:           testRAMSize,
		FramebufferAddr:   testFBAddr,
		FramebufferWidth:  640,
		FramebufferHeight: 480,
	})
	pool := pmm.NewPool(mm.FrameFromAddress(mm.ArenaStart), mm.FrameFromAddress(testRAMSize), sync.NewIRQLock(m))
	return NewManager(m, pool, testFBAddr, testFBSize), m, pool
}

func TestEntryEncoding(t *testing.T) {
	specs := []struct {
		entry    Entry
		dirLevel bool
		exp      uint32
	}{
		{Entry{}, false, 0},
		{Entry{Kind: Page, Frame: 0x123, Flags: FlagRW | FlagUser}, false, 0x123007},
		{Entry{Kind: Page, Frame: 0x400}, false, 0x400001},
		{Entry{Kind: Table, Frame: 0x401, Flags: FlagRW}, true, 0x401003},
		{Entry{Kind: Huge, Frame: mm.FrameFromAddress(0xfd000000), Flags: FlagRW | FlagUser}, true, 0xfd000087},
	}

	for specIndex, spec := range specs {
		if got := spec.entry.Encode(); got != spec.exp {
			t.Errorf("[spec %d] expected encoding %#x; got %#x", specIndex, spec.exp, got)
		}
		if got := DecodeEntry(spec.exp, spec.dirLevel); got != spec.entry {
			t.Errorf("[spec %d] expected decoded entry %+v; got %+v", specIndex, spec.entry, got)
		}
	}

	// Huge entries drop the low bits of unaligned frames.
	e := Entry{Kind: Huge, Frame: mm.FrameFromAddress(0x00c01000)}
	if got := e.Encode(); got&^0xfff != 0x00c00000 {
		t.Fatalf("expected a 4 MiB aligned address; got %#x", got)
	}
}

func TestInitKernelPaging(t *testing.T) {
	mgr, m, _ := testManager()

	as, err := mgr.InitKernelPaging()
	if err != nil {
		t.Fatal(err)
	}
	if mgr.KernelSpace() != as {
		t.Fatal("expected KernelSpace to return the kernel directory")
	}
	if m.ActivePDT() != as.Dir().Address() || !m.PagingEnabled() {
		t.Fatal("expected the kernel directory to be active with paging enabled")
	}

	specs := []struct {
		addr    uint32
		expUser bool
	}{
		{0, false},
		{mm.KernelStackTop - 4, false},
		{mm.LowGuardEnd, true},
		{0x7f000, true},
		{0xb8000, false},
		{mm.ImageBase, false},
		{mm.KernelOnlyEnd - 1, false},
		{testFBAddr + testFBSize - 1, true},
	}
	for specIndex, spec := range specs {
		phys, flags, ok := as.Translate(spec.addr)
		if !ok || phys != spec.addr {
			t.Errorf("[spec %d] expected %#x to be identity mapped; got %#x (%t)", specIndex, spec.addr, phys, ok)
			continue
		}
		if got := flags&FlagUser != 0; got != spec.expUser {
			t.Errorf("[spec %d] expected user access %t for %#x; got %t", specIndex, spec.expUser, spec.addr, got)
		}

		// The MMU must agree with the typed tables.
		if mmuPhys, ok := m.Translate(spec.addr); !ok || mmuPhys != phys {
			t.Errorf("[spec %d] MMU translated %#x to %#x (%t)", specIndex, spec.addr, mmuPhys, ok)
		}
	}

	if _, _, ok := as.Translate(mm.StackTop - 4); ok {
		t.Fatal("expected the stack region of the kernel directory to be empty")
	}
}

func buildProcessSpace(t *testing.T, mgr *Manager) *AddressSpace {
	as, err := mgr.NewAddressSpace()
	if err != nil {
		t.Fatal(err)
	}
	if err = as.InitCodePages(mm.ImageOrigin(1)); err != nil {
		t.Fatal(err)
	}
	if err = as.InitStackPages(); err != nil {
		t.Fatal(err)
	}
	if _, _, err = as.InitArgsPages([]string{"counter", "10"}); err != nil {
		t.Fatal(err)
	}
	if err = as.EnableStackPages(mm.StackTop - 5*mm.PageSize); err != nil {
		t.Fatal(err)
	}
	return as
}

func TestAlignmentInvariant(t *testing.T) {
	mgr, m, _ := testManager()
	as := buildProcessSpace(t, mgr)

	var leaves, huge int
	as.Visit(func(dirIndex, tableIndex int, e Entry) bool {
		var word uint32
		if tableIndex < 0 {
			word = m.ReadPhys32(as.Dir().Address() + uint32(dirIndex)*4)
		} else {
			tbl := as.DirEntry(dirIndex).Frame
			word = m.ReadPhys32(tbl.Address() + uint32(tableIndex)*4)
		}

		if word != e.Encode() {
			t.Errorf("[%d/%d] hardware entry %#x does not match typed entry %+v", dirIndex, tableIndex, word, e)
		}

		switch e.Kind {
		case Huge:
			huge++
			if !mm.HugePageAligned(word &^ 0xfff) {
				t.Errorf("[%d] huge entry address %#x is not 4 MiB aligned", dirIndex, word&^0xfff)
			}
		case Page:
			leaves++
			if !mm.PageAligned(e.Frame.Address()) {
				t.Errorf("[%d/%d] leaf address %#x is not page aligned", dirIndex, tableIndex, e.Frame.Address())
			}
		}
		return true
	})

	if huge != 1 {
		t.Errorf("expected the framebuffer to need 1 huge page; got %d", huge)
	}
	// identity + code + 5 stack pages + argv and 2 strings
	if exp := mm.EntriesPerTable + mm.CodePages + 5 + 3; leaves != exp {
		t.Errorf("expected %d leaves; got %d", exp, leaves)
	}
}

func TestInitStackPagesIsIdempotent(t *testing.T) {
	mgr, _, pool := testManager()
	as := buildProcessSpace(t, mgr)
	if as.StackPages() != 5 {
		t.Fatalf("expected 5 stack pages before reset; got %d", as.StackPages())
	}

	var allocated uint32
	for i := 0; i < 3; i++ {
		if err := as.InitStackPages(); err != nil {
			t.Fatal(err)
		}
		if got := as.StackPages(); got != 1 {
			t.Fatalf("[call %d] expected exactly 1 stack page; got %d", i, got)
		}
		if _, _, ok := as.Translate(mm.StackTop - 4); !ok {
			t.Fatalf("[call %d] expected the top stack page to be present", i)
		}
		if as.StackWatermark() != mm.EntriesPerTable-1 {
			t.Fatalf("[call %d] expected watermark to be reset; got %d", i, as.StackWatermark())
		}

		if i == 0 {
			allocated = pool.Allocated()
		} else if pool.Allocated() != allocated {
			t.Fatalf("[call %d] expected stack resets not to leak frames; %d != %d", i, pool.Allocated(), allocated)
		}
	}
}

func TestEnableStackPages(t *testing.T) {
	mgr, m, _ := testManager()
	as, _ := mgr.NewAddressSpace()
	if err := as.InitStackPages(); err != nil {
		t.Fatal(err)
	}

	frames := func() map[int]mm.Frame {
		out := make(map[int]mm.Frame)
		as.Visit(func(dirIndex, tableIndex int, e Entry) bool {
			if dirIndex == mm.StackDirIndex && tableIndex >= 0 {
				out[tableIndex] = e.Frame
			}
			return true
		})
		return out
	}

	// Dirty the top page; growth must not replace it.
	top, _, _ := as.Translate(mm.StackTop - 4)
	m.WritePhys32(top, 0xfeedface)

	for _, faultAddr := range []uint32{mm.StackTop - 20*mm.PageSize + 12, mm.StackTop - 100*mm.PageSize, mm.StackBottom} {
		before := frames()
		if err := as.EnableStackPages(faultAddr); err != nil {
			t.Fatal(err)
		}
		after := frames()

		faultIndex := mm.PageFromAddress(faultAddr).TableIndex()
		if as.StackWatermark() != faultIndex {
			t.Fatalf("expected watermark %d; got %d", faultIndex, as.StackWatermark())
		}
		for index := faultIndex; index < mm.EntriesPerTable; index++ {
			if _, ok := after[index]; !ok {
				t.Fatalf("[fault %#x] expected stack page %d to be present", faultAddr, index)
			}
		}
		for index, frame := range before {
			if after[index] != frame {
				t.Fatalf("[fault %#x] page %d was remapped", faultAddr, index)
			}
		}
		if len(after) != mm.EntriesPerTable-faultIndex {
			t.Fatalf("[fault %#x] expected %d pages; got %d", faultAddr, mm.EntriesPerTable-faultIndex, len(after))
		}
	}

	if got := m.ReadPhys32(top); got != 0xfeedface {
		t.Fatalf("expected top page contents to survive growth; got %#x", got)
	}

	// A fault above the watermark is a no-op.
	if err := as.EnableStackPages(mm.StackTop - 4); err != nil || as.StackWatermark() != 0 {
		t.Fatalf("unexpected result: %v, watermark %d", err, as.StackWatermark())
	}

	for _, addr := range []uint32{mm.StackBottom - 1, mm.StackTop, 0} {
		if err := as.EnableStackPages(addr); err != ErrNotStackAddress {
			t.Errorf("[addr %#x] expected ErrNotStackAddress; got %v", addr, err)
		}
	}
}

func TestInitArgsPages(t *testing.T) {
	mgr, _, pool := testManager()
	as, _ := mgr.NewAddressSpace()

	args := []string{"echo", "hello world", strings.Repeat("x", int(mm.PageSize)-1)}
	argc, argv, err := as.InitArgsPages(args)
	if err != nil {
		t.Fatal(err)
	}
	if argc != 3 || argv != mm.ArgsBase {
		t.Fatalf("expected argc=3 argv=%#x; got argc=%d argv=%#x", mm.ArgsBase, argc, argv)
	}

	for i, arg := range args {
		var ptr [4]byte
		if err := as.CopyFromUser(ptr[:], argv+uint32(i)*4); err != nil {
			t.Fatal(err)
		}
		addr := uint32(ptr[0]) | uint32(ptr[1])<<8 | uint32(ptr[2])<<16 | uint32(ptr[3])<<24

		got := make([]byte, len(arg)+1)
		if err := as.CopyFromUser(got, addr); err != nil {
			t.Fatal(err)
		}
		if string(got[:len(arg)]) != arg || got[len(arg)] != 0 {
			t.Errorf("[arg %d] expected %q followed by NUL; got %q", i, arg, got)
		}
	}

	// Re-laying out arguments releases the previous pages.
	allocated := pool.Allocated()
	if _, _, err = as.InitArgsPages([]string{"a", "b", "c"}); err != nil {
		t.Fatal(err)
	}
	if pool.Allocated() != allocated {
		t.Fatalf("expected %d allocated frames; got %d", allocated, pool.Allocated())
	}

	specs := []struct {
		args   []string
		expErr error
	}{
		{make([]string, mm.MaxArgs), nil},
		{make([]string, mm.MaxArgs+1), ErrTooManyArgs},
		{[]string{strings.Repeat("x", int(mm.PageSize))}, ErrArgTooLong},
	}
	for specIndex, spec := range specs {
		_, _, err := as.InitArgsPages(spec.args)
		if (spec.expErr == nil && err != nil) || (spec.expErr != nil && err != spec.expErr) {
			t.Errorf("[spec %d] expected error %v; got %v", specIndex, spec.expErr, err)
		}
	}
}

func TestDeleteProcessPages(t *testing.T) {
	mgr, m, pool := testManager()

	base, _ := mgr.NewAddressSpace()
	baseline := pool.Allocated()
	baseTables := mgr.Tables()
	_ = base

	// Mark the image so we can verify it is not scrubbed.
	m.WritePhys32(mm.ImageOrigin(1), 0xc0dec0de)

	as := buildProcessSpace(t, mgr)
	if err := as.DeleteProcessPages(); err != nil {
		t.Fatal(err)
	}

	for _, index := range []int{mm.StackDirIndex, mm.CodeDirIndex, mm.ArgsDirIndex} {
		if as.DirEntry(index).Present() {
			t.Errorf("expected directory slot %d to be cleared", index)
		}
		if word := m.ReadPhys32(as.Dir().Address() + uint32(index)*4); word != 0 {
			t.Errorf("expected hardware directory slot %d to be cleared; got %#x", index, word)
		}
	}
	if !as.DirEntry(mm.IdentityDirIndex).Present() {
		t.Error("expected identity mapping to survive")
	}

	// Only the directory and identity table of the process remain.
	if exp := baseline * 2; pool.Allocated() != exp {
		t.Errorf("expected %d allocated frames; got %d", exp, pool.Allocated())
	}
	if exp := baseTables * 2; mgr.Tables() != exp {
		t.Errorf("expected %d live tables; got %d", exp, mgr.Tables())
	}
	if m.ReadPhys32(mm.ImageOrigin(1)) != 0xc0dec0de {
		t.Error("expected image frames to be left untouched")
	}

	// The address space can be rebuilt in place.
	if err := as.InitCodePages(mm.ImageOrigin(1)); err != nil {
		t.Fatal(err)
	}
	if err := as.InitStackPages(); err != nil {
		t.Fatal(err)
	}
	if as.StackPages() != 1 {
		t.Fatalf("expected 1 stack page after respawn; got %d", as.StackPages())
	}

	// Deleting twice is harmless.
	if err := as.DeleteProcessPages(); err != nil {
		t.Fatal(err)
	}
	if err := as.DeleteProcessPages(); err != nil {
		t.Fatal(err)
	}
}

func TestDeleteProcessPagesReleasesPoolBackedCode(t *testing.T) {
	mgr, _, pool := testManager()
	as := buildProcessSpace(t, mgr)

	frame, err := pool.Alloc()
	if err != nil {
		t.Fatal(err)
	}
	code := as.DirEntry(mm.CodeDirIndex).Frame
	mgr.setEntry(code, mm.CodePages, Entry{Kind: Page, Frame: frame, Flags: FlagRW | FlagUser})

	if err = as.DeleteProcessPages(); err != nil {
		t.Fatal(err)
	}

	// The frame went back to the pool so freeing it again is a double free.
	if err = pool.Free(frame); err != pmm.ErrDoubleFree {
		t.Fatalf("expected the pool-backed code page to be released; got %v", err)
	}
}

func TestCopyFromUser(t *testing.T) {
	mgr, m, _ := testManager()
	as, _ := mgr.NewAddressSpace()
	if err := as.InitCodePages(mm.ImageOrigin(0)); err != nil {
		t.Fatal(err)
	}
	m.WritePhys(mm.ImageOrigin(0)+mm.PageSize-2, []byte("ring"))

	specs := []struct {
		addr   uint32
		size   int
		exp    string
		expErr error
	}{
		// straddles two code pages
		{mm.CodeBase + mm.PageSize - 2, 4, "ring", nil},
		{0, 1, "", ErrInvalidUserPointer},
		{mm.KernelOnlyStart, 4, "", ErrInvalidUserPointer},
		{mm.StackTop - 2, 4, "", ErrInvalidUserPointer},
		{mm.CodeBase + mm.CodePages*mm.PageSize - 1, 2, "", ErrInvalidUserPointer},
		{0xffffffff, 2, "", ErrInvalidUserPointer},
		{mm.LowGuardEnd, 0, "", nil},
	}

	for specIndex, spec := range specs {
		t.Run(fmt.Sprint(specIndex), func(t *testing.T) {
			buf := make([]byte, spec.size)
			err := as.CopyFromUser(buf, spec.addr)
			if (spec.expErr == nil && err != nil) || (spec.expErr != nil && err != spec.expErr) {
				t.Fatalf("expected error %v; got %v", spec.expErr, err)
			}
			if spec.expErr == nil && string(buf) != spec.exp {
				t.Fatalf("expected %q; got %q", spec.exp, buf)
			}
		})
	}
}
