package types

import "encoding/binary"

// CodeDirectoryVersion is the fixed compatibility version this system
// writes: 0x020400, the version that introduces the exec-segment fields
// ad-hoc signing on Apple Silicon requires.
const CodeDirectoryVersion = 0x020400

// ADHOC is the only CodeDirectory flag this system ever sets: there is no
// identity-backed signing path.
const ADHOC = 0x2

// ExecSegMainBinary marks the exec segment as belonging to the main
// binary rather than a dynamic library or helper.
const ExecSegMainBinary = 0x1

const (
	hashSizeSHA256 = 32
	hashTypeSHA256 = 2
	pageSizeBits   = 12 // log2(4096)

	// cdPreludeSize is the fixed byte length of the CodeDirectory header
	// fields written before the identifier and hash data, independent of
	// host struct alignment.
	cdPreludeSize = 88
)

// uint32Max is the codeLimit/codeLimit64 clamp threshold: per the
// original implementation, the 32-bit field pins to this value once the
// true limit reaches it, with the 64-bit field carrying the real value.
const uint32Max = 0xffffffff

// CodeDirectory is the blob listing per-page code hashes and the
// metadata the loader checks against the mapped image. Only special
// slots 2 (Requirements) and 5 (Entitlements) are ever populated; all
// other special indices are emitted as zero hashes, and those below the
// highest populated index still count toward nSpecialSlots.
type CodeDirectory struct {
	Identifier string

	Flags uint32

	CodeLimit   uint32
	CodeLimit64 uint64

	ExecSegBase  uint64
	ExecSegLimit uint64
	ExecSegFlags uint64

	CodeHashes    [][hashSizeSHA256]byte
	SpecialHashes map[uint32][hashSizeSHA256]byte
}

// NewCodeDirectory returns a CodeDirectory preset with the page size and
// ad-hoc flag this system always uses.
func NewCodeDirectory(identifier string) *CodeDirectory {
	return &CodeDirectory{
		Identifier:    identifier,
		Flags:         ADHOC,
		SpecialHashes: make(map[uint32][hashSizeSHA256]byte),
	}
}

// SetCodeLimit applies the 32/64-bit clamp: codeLimit64 is populated only
// once limit reaches uint32Max, matching the threshold the system being
// modeled uses (a strict >=, preserved here rather than tightened to >).
func (cd *CodeDirectory) SetCodeLimit(limit uint64) {
	if limit >= uint32Max {
		cd.CodeLimit = uint32Max
		cd.CodeLimit64 = limit
	} else {
		cd.CodeLimit = uint32(limit)
		cd.CodeLimit64 = 0
	}
}

// AddCodeHash appends one page's hash, in page order.
func (cd *CodeDirectory) AddCodeHash(h [hashSizeSHA256]byte) {
	cd.CodeHashes = append(cd.CodeHashes, h)
}

// SetSpecialHash populates a special slot (2=Requirements, 5=Entitlements).
func (cd *CodeDirectory) SetSpecialHash(index uint32, h [hashSizeSHA256]byte) {
	cd.SpecialHashes[index] = h
}

func (cd *CodeDirectory) nSpecialSlots() uint32 {
	var max uint32
	for idx := range cd.SpecialHashes {
		if idx > max {
			max = idx
		}
	}
	return max
}

func (cd *CodeDirectory) identOffset() uint32 { return cdPreludeSize }

func (cd *CodeDirectory) hashOffset() uint32 {
	return cd.identOffset() + uint32(len(cd.Identifier)) + 1 + hashSizeSHA256*cd.nSpecialSlots()
}

func (cd *CodeDirectory) Length() uint32 {
	return cd.hashOffset() + hashSizeSHA256*uint32(len(cd.CodeHashes))
}

func (cd *CodeDirectory) Emit() []byte {
	identOffset := cd.identOffset()
	nSpecial := cd.nSpecialSlots()
	hashOffset := cd.hashOffset()
	length := cd.Length()

	b := make([]byte, length)
	o := binary.BigEndian

	o.PutUint32(b[0:], uint32(MagicCodeDirectory))
	o.PutUint32(b[4:], length)
	o.PutUint32(b[8:], CodeDirectoryVersion)
	o.PutUint32(b[12:], cd.Flags)
	o.PutUint32(b[16:], hashOffset)
	o.PutUint32(b[20:], identOffset)
	o.PutUint32(b[24:], nSpecial)
	o.PutUint32(b[28:], uint32(len(cd.CodeHashes)))
	o.PutUint32(b[32:], cd.CodeLimit)
	b[36] = hashSizeSHA256
	b[37] = hashTypeSHA256
	b[38] = 0 // platform: not a platform binary
	b[39] = pageSizeBits
	o.PutUint32(b[40:], 0) // spare2
	o.PutUint32(b[44:], 0) // scatterOffset
	o.PutUint32(b[48:], 0) // teamOffset
	o.PutUint32(b[52:], 0) // spare3
	o.PutUint64(b[56:], cd.CodeLimit64)
	o.PutUint64(b[64:], cd.ExecSegBase)
	o.PutUint64(b[72:], cd.ExecSegLimit)
	o.PutUint64(b[80:], cd.ExecSegFlags)

	copy(b[identOffset:], cd.Identifier)
	b[identOffset+uint32(len(cd.Identifier))] = 0

	for idx := uint32(1); idx <= nSpecial; idx++ {
		pos := hashOffset - hashSizeSHA256*idx
		if h, ok := cd.SpecialHashes[idx]; ok {
			copy(b[pos:pos+hashSizeSHA256], h[:])
		}
	}
	for i, h := range cd.CodeHashes {
		pos := hashOffset + uint32(i)*hashSizeSHA256
		copy(b[pos:pos+hashSizeSHA256], h[:])
	}

	return b
}
