// Package types is the in-memory model of an embedded ad-hoc code
// signature: the SuperBlob container and the CodeDirectory, Requirements,
// Entitlements and CMS-wrapper blobs nested inside it. Every blob exposes
// Length and Emit; Length must equal len(Emit()) exactly, since the
// SuperBlob's index offsets are computed from it before any byte is
// written.
package types

import "encoding/binary"

// Magic identifies a blob's wire format.
type Magic uint32

const (
	MagicRequirements      Magic = 0xfade0c01
	MagicCodeDirectory     Magic = 0xfade0c02
	MagicEmbeddedSignature Magic = 0xfade0cc0
	MagicEntitlements      Magic = 0xfade7171
	MagicBlobWrapper       Magic = 0xfade0b01
)

// SlotType is a SuperBlob index entry's slot number. Only the four this
// system emits are named; CodeDirectory always occupies slot 0.
type SlotType uint32

const (
	SlotCodeDirectory SlotType = 0
	SlotRequirements  SlotType = 2
	SlotEntitlements  SlotType = 5
	SlotSignature     SlotType = 0x10000
)

// Blob is one entry in a SuperBlob: a self-contained, self-describing
// byte range. Length must be pure and match len(Emit()) exactly.
type Blob interface {
	Length() uint32
	Emit() []byte
}

// SuperBlob is the top-level embedded-signature container: a fixed
// 12-byte header, a blob index, then the blob bodies in declaration
// order.
type SuperBlob struct {
	entries []superBlobEntry
}

type superBlobEntry struct {
	slot SlotType
	blob Blob
}

const superBlobHeaderSize = 12
const superBlobIndexEntrySize = 8

// Add appends a blob under the given slot, in emission order.
func (s *SuperBlob) Add(slot SlotType, b Blob) {
	s.entries = append(s.entries, superBlobEntry{slot: slot, blob: b})
}

// Count is the number of blobs added so far.
func (s *SuperBlob) Count() int { return len(s.entries) }

func (s *SuperBlob) Length() uint32 {
	total := uint32(superBlobHeaderSize + superBlobIndexEntrySize*len(s.entries))
	for _, e := range s.entries {
		total += e.blob.Length()
	}
	return total
}

func (s *SuperBlob) Emit() []byte {
	total := s.Length()
	b := make([]byte, total)
	o := binary.BigEndian

	o.PutUint32(b[0:], uint32(MagicEmbeddedSignature))
	o.PutUint32(b[4:], total)
	o.PutUint32(b[8:], uint32(len(s.entries)))

	indexBase := superBlobHeaderSize
	dataOffset := uint32(superBlobHeaderSize + superBlobIndexEntrySize*len(s.entries))
	for i, e := range s.entries {
		ip := indexBase + i*superBlobIndexEntrySize
		o.PutUint32(b[ip:], uint32(e.slot))
		o.PutUint32(b[ip+4:], dataOffset)
		dataOffset += e.blob.Length()
	}

	pos := uint32(superBlobHeaderSize + superBlobIndexEntrySize*len(s.entries))
	for _, e := range s.entries {
		body := e.blob.Emit()
		copy(b[pos:], body)
		pos += uint32(len(body))
	}
	return b
}

// Requirements is always the empty requirement set in this system: no
// requirement-expression language is interpreted or generated.
type Requirements struct{}

func (r *Requirements) Length() uint32 { return 12 }

func (r *Requirements) Emit() []byte {
	b := make([]byte, 12)
	o := binary.BigEndian
	o.PutUint32(b[0:], uint32(MagicRequirements))
	o.PutUint32(b[4:], 12)
	o.PutUint32(b[8:], 0) // count
	return b
}

// Entitlements wraps a raw entitlements plist as an opaque byte string;
// this system never parses or generates DER entitlements.
type Entitlements struct {
	Plist []byte
}

func (e *Entitlements) Length() uint32 { return 8 + uint32(len(e.Plist)) }

func (e *Entitlements) Emit() []byte {
	b := make([]byte, e.Length())
	o := binary.BigEndian
	o.PutUint32(b[0:], uint32(MagicEntitlements))
	o.PutUint32(b[4:], e.Length())
	copy(b[8:], e.Plist)
	return b
}

// SignatureWrapper is the empty CMS slot this system always emits: ad-hoc
// signing carries no cryptographic signature, only the wrapper header.
type SignatureWrapper struct{}

func (s *SignatureWrapper) Length() uint32 { return 8 }

func (s *SignatureWrapper) Emit() []byte {
	b := make([]byte, 8)
	o := binary.BigEndian
	o.PutUint32(b[0:], uint32(MagicBlobWrapper))
	o.PutUint32(b[4:], 8)
	return b
}
