package types

import (
	"encoding/binary"
	"fmt"
	"strings"
)

// A FileHeader represents a 64-bit Mach-O file header (the mach_header_64
// struct), as found at the start of every architecture slice.
type FileHeader struct {
	Magic        Magic
	CPU          CPU
	SubCPU       CPUSubtype
	Type         HeaderFileType
	NCommands    uint32
	SizeCommands uint32
	Flags        HeaderFlag
	Reserved     uint32
}

// Size64 is the on-disk size of a 64-bit Mach-O header.
const Size64 = 8 * 4

// Get decodes a 64-bit Mach-O header from b (Size64 bytes) using byte
// order o.
func (h *FileHeader) Get(b []byte, o binary.ByteOrder) {
	h.Magic = Magic(o.Uint32(b[0:]))
	h.CPU = CPU(o.Uint32(b[4:]))
	h.SubCPU = CPUSubtype(o.Uint32(b[8:]))
	h.Type = HeaderFileType(o.Uint32(b[12:]))
	h.NCommands = o.Uint32(b[16:])
	h.SizeCommands = o.Uint32(b[20:])
	h.Flags = HeaderFlag(o.Uint32(b[24:]))
	h.Reserved = o.Uint32(b[28:])
}

func (h *FileHeader) Put(b []byte, o binary.ByteOrder) {
	o.PutUint32(b[0:], uint32(h.Magic))
	o.PutUint32(b[4:], uint32(h.CPU))
	o.PutUint32(b[8:], uint32(h.SubCPU))
	o.PutUint32(b[12:], uint32(h.Type))
	o.PutUint32(b[16:], h.NCommands)
	o.PutUint32(b[20:], h.SizeCommands)
	o.PutUint32(b[24:], uint32(h.Flags))
	o.PutUint32(b[28:], h.Reserved)
}

func (h FileHeader) String() string {
	arch, err := ArchName(h.CPU, h.SubCPU)
	if err != nil {
		arch = h.CPU.String()
	}
	return fmt.Sprintf(
		"Magic         = %s\n"+
			"Type          = %s\n"+
			"CPU           = %s\n"+
			"Commands      = %d (Size: %d)\n"+
			"Flags         = %s\n",
		h.Magic,
		h.Type,
		arch,
		h.NCommands,
		h.SizeCommands,
		h.Flags.Flags(),
	)
}

// Magic identifies the byte layout of a Mach-O file or fat archive. All
// four recognized forms are read as a little-endian uint32 from the start
// of the file, per the loader's own convention of self-describing byte
// order via paired magic/cigam constants.
type Magic uint32

const (
	Magic32       Magic = 0xfeedface // MH_MAGIC, 32-bit thin slice
	Magic64       Magic = 0xfeedfacf // MH_MAGIC_64, 64-bit thin slice
	MagicCigam    Magic = 0xcefaedfe // MH_CIGAM, byte-swapped 32-bit
	MagicCigam64  Magic = 0xcffaedfe // MH_CIGAM_64, byte-swapped 64-bit
	MagicFat      Magic = 0xcafebabe // FAT_MAGIC, host-endian fat header
	MagicFatCigam Magic = 0xbebafeca // FAT_CIGAM, big-endian fat header
)

var magicStrings = []IntName{
	{uint32(Magic32), "32-bit MachO"},
	{uint32(Magic64), "64-bit MachO"},
	{uint32(MagicCigam), "32-bit MachO (byte-swapped)"},
	{uint32(MagicCigam64), "64-bit MachO (byte-swapped)"},
	{uint32(MagicFat), "Fat MachO"},
	{uint32(MagicFatCigam), "Fat MachO (big-endian)"},
}

func (i Magic) Int() uint32      { return uint32(i) }
func (i Magic) String() string   { return StringName(uint32(i), magicStrings, false) }
func (i Magic) GoString() string { return StringName(uint32(i), magicStrings, true) }

// A HeaderFileType is the Mach-O file type, e.g. an object file, executable, or dynamic library.
type HeaderFileType uint32

const (
	MH_OBJECT      HeaderFileType = 0x1 /* relocatable object file */
	MH_EXECUTE     HeaderFileType = 0x2 /* demand paged executable file */
	MH_FVMLIB      HeaderFileType = 0x3 /* fixed VM shared library file */
	MH_CORE        HeaderFileType = 0x4 /* core file */
	MH_PRELOAD     HeaderFileType = 0x5 /* preloaded executable file */
	MH_DYLIB       HeaderFileType = 0x6 /* dynamically bound shared library */
	MH_DYLINKER    HeaderFileType = 0x7 /* dynamic link editor */
	MH_BUNDLE      HeaderFileType = 0x8 /* dynamically bound bundle file */
	MH_DYLIB_STUB  HeaderFileType = 0x9 /* shared library stub for static linking only, no section contents */
	MH_DSYM        HeaderFileType = 0xa /* companion file with only debug sections */
	MH_KEXT_BUNDLE HeaderFileType = 0xb /* x86_64 kexts */
	MH_FILESET     HeaderFileType = 0xc /* a file composed of other Mach-Os sharing a single linkedit */
)

var fileTypeStrings = []IntName{
	{uint32(MH_OBJECT), "Object"},
	{uint32(MH_EXECUTE), "Executable"},
	{uint32(MH_FVMLIB), "Fixed VM Library"},
	{uint32(MH_CORE), "Core"},
	{uint32(MH_PRELOAD), "Preload"},
	{uint32(MH_DYLIB), "Dylib"},
	{uint32(MH_DYLINKER), "Dylinker"},
	{uint32(MH_BUNDLE), "Bundle"},
	{uint32(MH_DYLIB_STUB), "Dylib Stub"},
	{uint32(MH_DSYM), "dSYM"},
	{uint32(MH_KEXT_BUNDLE), "Kext Bundle"},
	{uint32(MH_FILESET), "Fileset"},
}

func (t HeaderFileType) String() string   { return StringName(uint32(t), fileTypeStrings, false) }
func (t HeaderFileType) GoString() string { return StringName(uint32(t), fileTypeStrings, true) }

// RequiresSignature reports whether the loader enforces code signing for
// this file type on Apple Silicon: executables, preloaded binaries,
// dylibs, the dynamic linker itself, bundles and kext bundles.
func (t HeaderFileType) RequiresSignature() bool {
	switch t {
	case MH_EXECUTE, MH_PRELOAD, MH_DYLIB, MH_DYLINKER, MH_BUNDLE, MH_KEXT_BUNDLE:
		return true
	default:
		return false
	}
}

type HeaderFlag uint32

const (
	NoUndefs            HeaderFlag = 0x1
	IncrLink            HeaderFlag = 0x2
	DyldLink            HeaderFlag = 0x4
	BindAtLoad          HeaderFlag = 0x8
	TwoLevel            HeaderFlag = 0x80
	WeakDefines         HeaderFlag = 0x8000
	AllowStackExecution HeaderFlag = 0x20000
	PIE                 HeaderFlag = 0x200000
	HasTLVDescriptors   HeaderFlag = 0x800000
	NoHeapExecution     HeaderFlag = 0x1000000
	AppExtensionSafe    HeaderFlag = 0x2000000
)

var headerFlagStrings = []IntName{
	{uint32(NoUndefs), "NoUndefs"},
	{uint32(IncrLink), "IncrLink"},
	{uint32(DyldLink), "DyldLink"},
	{uint32(BindAtLoad), "BindAtLoad"},
	{uint32(TwoLevel), "TwoLevel"},
	{uint32(WeakDefines), "WeakDefines"},
	{uint32(AllowStackExecution), "AllowStackExecution"},
	{uint32(PIE), "PIE"},
	{uint32(HasTLVDescriptors), "HasTLVDescriptors"},
	{uint32(NoHeapExecution), "NoHeapExecution"},
	{uint32(AppExtensionSafe), "AppExtensionSafe"},
}

// Has reports whether flag is set.
func (f HeaderFlag) Has(flag HeaderFlag) bool { return f&flag != 0 }

// List returns the set flags' names, in table order.
func (f HeaderFlag) List() []string {
	var names []string
	for _, n := range headerFlagStrings {
		if f.Has(HeaderFlag(n.I)) {
			names = append(names, n.S)
		}
	}
	return names
}

func (f HeaderFlag) Flags() string {
	return strings.Join(f.List(), ", ")
}
