package mm

// Physical layout. The descriptor tables and the kernel stack live in the low
// guard region which is never reachable from ring 3.
const (
	GDTAddr = uint32(0x1000)
	TSSAddr = uint32(0x1100)
	IDTAddr = uint32(0x2000)

	// KernelStackTop is loaded into TSS.ESP0 and is used on every
	// ring 3 -> ring 0 transition.
	KernelStackTop = uint32(0x7c00)

	// LowGuardEnd marks the end of the kernel-only low region of the
	// identity table.
	LowGuardEnd = uint32(0x8000)

	// KernelOnlyStart and KernelOnlyEnd delimit the legacy video window,
	// the kernel image and the process images.
	KernelOnlyStart = uint32(0x80000)
	KernelOnlyEnd   = uint32(0x400000)

	// ImageBase is the physical origin of the first build-baked process
	// image. Image n lives at ImageBase + n*ImageStride.
	ImageBase   = uint32(0x100000)
	ImageStride = uint32(0x40000)
	MaxImages   = 8

	// ArenaStart is the first physical address handed out by the page pool.
	ArenaStart = uint32(0x400000)

	// DefaultRAMSize is used when the boot command line does not specify one.
	DefaultRAMSize = uint32(32 << 20)

	// Framebuffer defaults; the boot stub reports the actual values.
	DefaultFramebufferAddr   = uint32(0xfd000000)
	DefaultFramebufferWidth  = 640
	DefaultFramebufferHeight = 480
)

// Virtual layout of every process address space.
const (
	// IdentityDirIndex covers [0, 4 MiB) and is 1:1 mapped.
	IdentityDirIndex = 0

	// StackDirIndex covers [StackBottom, StackTop).
	StackDirIndex = 1
	StackBottom   = uint32(0x400000)
	StackTop      = uint32(0x800000)

	// CodeDirIndex covers the code region; user entry is at CodeBase.
	CodeDirIndex = 2
	CodeBase     = uint32(0x800000)
	CodePages    = 64

	// ArgsDirIndex covers the argument region. The argv vector occupies
	// the first page and argument i is stored at ArgsBase+(i+1)*PageSize.
	ArgsDirIndex = 3
	ArgsBase     = uint32(0xc00000)
	MaxArgs      = 1008
)

// Page fault bands; a user-mode fault is classified by its linear address.
const (
	NullRegionEnd     = uint32(0x200000)
	OverflowRegionEnd = uint32(0x400000)
	GuardRegionEnd    = StackTop
)

// ImageOrigin returns the physical origin of build-baked image n.
func ImageOrigin(n int) uint32 {
	return ImageBase + uint32(n)*ImageStride
}
