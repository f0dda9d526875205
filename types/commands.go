package types

import (
	"encoding/binary"
	"fmt"
)

// A LoadCmd is a Mach-O load command type, the first field of every load
// command header. The full historical set is retained here purely for
// naming: a slice's load commands beyond LC_SEGMENT_64 and
// LC_CODE_SIGNATURE are carried opaquely (raw bytes, reported by this
// name where recognized) since this system never interprets them.
type LoadCmd uint32

func (c LoadCmd) Command() LoadCmd { return c }

const (
	LC_REQ_DYLD       LoadCmd = 0x80000000
	LC_SEGMENT        LoadCmd = 0x1  // segment of this file to be mapped
	LC_SYMTAB         LoadCmd = 0x2  // link-edit stab symbol table info
	LC_SYMSEG         LoadCmd = 0x3  // link-edit gdb symbol table info (obsolete)
	LC_THREAD         LoadCmd = 0x4  // thread
	LC_UNIXTHREAD     LoadCmd = 0x5  // thread+stack
	LC_LOADFVMLIB     LoadCmd = 0x6  // load a specified fixed VM shared library
	LC_IDFVMLIB       LoadCmd = 0x7  // fixed VM shared library identification
	LC_IDENT          LoadCmd = 0x8  // object identification info (obsolete)
	LC_FVMFILE        LoadCmd = 0x9  // fixed VM file inclusion (internal use)
	LC_PREPAGE        LoadCmd = 0xa  // prepage command (internal use)
	LC_DYSYMTAB       LoadCmd = 0xb  // dynamic link-edit symbol table info
	LC_LOAD_DYLIB     LoadCmd = 0xc  // load dylib command
	LC_ID_DYLIB       LoadCmd = 0xd  // id dylib command
	LC_LOAD_DYLINKER  LoadCmd = 0xe  // load a dynamic linker
	LC_ID_DYLINKER    LoadCmd = 0xf  // id dylinker command (not load dylinker command)
	LC_PREBOUND_DYLIB LoadCmd = 0x10 // modules prebound for a dynamically linked shared library
	LC_ROUTINES       LoadCmd = 0x11 // image routines
	LC_SUB_FRAMEWORK  LoadCmd = 0x12 // sub framework
	LC_SUB_UMBRELLA   LoadCmd = 0x13 // sub umbrella
	LC_SUB_CLIENT     LoadCmd = 0x14 // sub client
	LC_SUB_LIBRARY    LoadCmd = 0x15 // sub library
	LC_TWOLEVEL_HINTS LoadCmd = 0x16 // two-level namespace lookup hints
	LC_PREBIND_CKSUM  LoadCmd = 0x17 // prebind checksum

	LC_LOAD_WEAK_DYLIB          LoadCmd = 0x18 | LC_REQ_DYLD
	LC_SEGMENT_64               LoadCmd = 0x19 // 64-bit segment of this file to be mapped
	LC_ROUTINES_64              LoadCmd = 0x1a // 64-bit image routines
	LC_UUID                     LoadCmd = 0x1b // the uuid
	LC_RPATH                    LoadCmd = 0x1c | LC_REQ_DYLD
	LC_CODE_SIGNATURE           LoadCmd = 0x1d // location of code signature
	LC_SEGMENT_SPLIT_INFO       LoadCmd = 0x1e
	LC_REEXPORT_DYLIB           LoadCmd = 0x1f | LC_REQ_DYLD
	LC_LAZY_LOAD_DYLIB          LoadCmd = 0x20
	LC_ENCRYPTION_INFO          LoadCmd = 0x21
	LC_DYLD_INFO                LoadCmd = 0x22
	LC_DYLD_INFO_ONLY           LoadCmd = 0x22 | LC_REQ_DYLD
	LC_LOAD_UPWARD_DYLIB        LoadCmd = 0x23 | LC_REQ_DYLD
	LC_VERSION_MIN_MACOSX       LoadCmd = 0x24
	LC_VERSION_MIN_IPHONEOS     LoadCmd = 0x25
	LC_FUNCTION_STARTS          LoadCmd = 0x26
	LC_DYLD_ENVIRONMENT         LoadCmd = 0x27
	LC_MAIN                     LoadCmd = 0x28 | LC_REQ_DYLD
	LC_DATA_IN_CODE             LoadCmd = 0x29
	LC_SOURCE_VERSION           LoadCmd = 0x2A
	LC_DYLIB_CODE_SIGN_DRS      LoadCmd = 0x2B
	LC_ENCRYPTION_INFO_64       LoadCmd = 0x2C
	LC_LINKER_OPTION            LoadCmd = 0x2D
	LC_LINKER_OPTIMIZATION_HINT LoadCmd = 0x2E
	LC_VERSION_MIN_TVOS         LoadCmd = 0x2F
	LC_VERSION_MIN_WATCHOS      LoadCmd = 0x30
	LC_NOTE                     LoadCmd = 0x31
	LC_BUILD_VERSION            LoadCmd = 0x32
	LC_DYLD_EXPORTS_TRIE        LoadCmd = 0x33 | LC_REQ_DYLD
	LC_DYLD_CHAINED_FIXUPS      LoadCmd = 0x34 | LC_REQ_DYLD
	LC_FILESET_ENTRY            LoadCmd = 0x35 | LC_REQ_DYLD
)

var loadCmdStrings = []IntName{
	{uint32(LC_SEGMENT), "LC_SEGMENT"},
	{uint32(LC_SYMTAB), "LC_SYMTAB"},
	{uint32(LC_DYSYMTAB), "LC_DYSYMTAB"},
	{uint32(LC_LOAD_DYLIB), "LC_LOAD_DYLIB"},
	{uint32(LC_ID_DYLIB), "LC_ID_DYLIB"},
	{uint32(LC_LOAD_DYLINKER), "LC_LOAD_DYLINKER"},
	{uint32(LC_SEGMENT_64), "LC_SEGMENT_64"},
	{uint32(LC_UUID), "LC_UUID"},
	{uint32(LC_RPATH), "LC_RPATH"},
	{uint32(LC_CODE_SIGNATURE), "LC_CODE_SIGNATURE"},
	{uint32(LC_REEXPORT_DYLIB), "LC_REEXPORT_DYLIB"},
	{uint32(LC_ENCRYPTION_INFO), "LC_ENCRYPTION_INFO"},
	{uint32(LC_DYLD_INFO), "LC_DYLD_INFO"},
	{uint32(LC_DYLD_INFO_ONLY), "LC_DYLD_INFO_ONLY"},
	{uint32(LC_VERSION_MIN_MACOSX), "LC_VERSION_MIN_MACOSX"},
	{uint32(LC_FUNCTION_STARTS), "LC_FUNCTION_STARTS"},
	{uint32(LC_MAIN), "LC_MAIN"},
	{uint32(LC_DATA_IN_CODE), "LC_DATA_IN_CODE"},
	{uint32(LC_SOURCE_VERSION), "LC_SOURCE_VERSION"},
	{uint32(LC_ENCRYPTION_INFO_64), "LC_ENCRYPTION_INFO_64"},
	{uint32(LC_LINKER_OPTION), "LC_LINKER_OPTION"},
	{uint32(LC_BUILD_VERSION), "LC_BUILD_VERSION"},
	{uint32(LC_DYLD_EXPORTS_TRIE), "LC_DYLD_EXPORTS_TRIE"},
	{uint32(LC_DYLD_CHAINED_FIXUPS), "LC_DYLD_CHAINED_FIXUPS"},
	{uint32(LC_FILESET_ENTRY), "LC_FILESET_ENTRY"},
}

func (c LoadCmd) String() string   { return StringName(uint32(c), loadCmdStrings, false) }
func (c LoadCmd) GoString() string { return StringName(uint32(c), loadCmdStrings, true) }

// VmProtection mirrors the vm_prot_t bitmask carried in segment load
// commands (read/write/execute).
type VmProtection int32

const (
	VmProtRead    VmProtection = 0x1
	VmProtWrite   VmProtection = 0x2
	VmProtExecute VmProtection = 0x4
)

func (p VmProtection) String() string {
	r, w, x := "-", "-", "-"
	if p&VmProtRead != 0 {
		r = "r"
	}
	if p&VmProtWrite != 0 {
		w = "w"
	}
	if p&VmProtExecute != 0 {
		x = "x"
	}
	return r + w + x
}

type SegFlag uint32

const (
	HighVM            SegFlag = 0x1
	FvmLib            SegFlag = 0x2
	NoReLoc           SegFlag = 0x4
	ProtectedVersion1 SegFlag = 0x8
	ReadOnly          SegFlag = 0x10
)

// Segment64 is a 64-bit Mach-O segment load command (LC_SEGMENT_64). The
// signer reads __TEXT's Offset and Filesz to compute the code signature's
// execSegBase/execSegLimit fields.
type Segment64 struct {
	Name    [16]byte
	Addr    uint64
	Memsz   uint64
	Offset  uint64
	Filesz  uint64
	Maxprot VmProtection
	Prot    VmProtection
	Nsect   uint32
	Flag    SegFlag
}

// Get decodes a segment_command_64 body from b using byte order o.
func (s *Segment64) Get(b []byte, o binary.ByteOrder) {
	copy(s.Name[:], b[0:16])
	s.Addr = o.Uint64(b[16:])
	s.Memsz = o.Uint64(b[24:])
	s.Offset = o.Uint64(b[32:])
	s.Filesz = o.Uint64(b[40:])
	s.Maxprot = VmProtection(o.Uint32(b[48:]))
	s.Prot = VmProtection(o.Uint32(b[52:]))
	s.Nsect = o.Uint32(b[56:])
	s.Flag = SegFlag(o.Uint32(b[60:]))
}

// SegName returns the segment name with its trailing NUL padding trimmed.
func (s Segment64) SegName() string {
	n := 0
	for n < len(s.Name) && s.Name[n] != 0 {
		n++
	}
	return string(s.Name[:n])
}

// SegmentCmdSize64 is the on-disk size of a segment_command_64 body, the
// {cmd, cmdsize} header excluded.
const SegmentCmdSize64 = 64

func (s *Segment64) String() string {
	return fmt.Sprintf("%-16s addr=%#x size=%#x off=%#x prot=%s/%s",
		s.SegName(), s.Addr, s.Filesz, s.Offset, s.Prot, s.Maxprot)
}

// CodeSignatureCmd is a Mach-O code signature command (LC_CODE_SIGNATURE),
// a linkedit_data_command pointing at the SuperBlob appended (or reserved
// as padding) at the end of the file.
type CodeSignatureCmd struct {
	DataOff  uint32
	DataSize uint32
}

// Get decodes a linkedit_data_command body (dataoff, datasize) from b
// using byte order o.
func (c *CodeSignatureCmd) Get(b []byte, o binary.ByteOrder) {
	c.DataOff = o.Uint32(b[0:])
	c.DataSize = o.Uint32(b[4:])
}

// Put encodes a linkedit_data_command body using byte order o.
func (c *CodeSignatureCmd) Put(b []byte, o binary.ByteOrder) {
	o.PutUint32(b[0:], c.DataOff)
	o.PutUint32(b[4:], c.DataSize)
}

// CodeSignatureCmdSize is the on-disk size of a linkedit_data_command,
// header excluded.
const CodeSignatureCmdSize = 8
