// Package macho parses a thin or fat Mach-O file into the slices and load
// commands the signer and allocator coordinator need: CPU identity, file
// type, the __TEXT segment bounds, and any existing LC_CODE_SIGNATURE
// region. It does not interpret symbol tables, dyld info, or any other
// load command payload.
package macho

import (
	"encoding/binary"
	"fmt"
	"os"

	"github.com/appsworld/sigtool/types"
)

// NotAMachOFile is returned by Parse when the leading magic isn't one of
// the four this parser recognizes. Callers that treat "not applicable" as
// a normal outcome (check-requires-signature) should match on this type
// rather than failing.
type NotAMachOFile struct {
	Magic uint32
}

func (e *NotAMachOFile) Error() string {
	return fmt.Sprintf("not a mach-o file: unrecognized magic %#08x", e.Magic)
}

// LoadCommand is one decoded {cmd, cmdsize} record. Segment and CodeSig
// are populated only for the two command types this system interprets;
// every other command is retained with Raw holding its undecoded body so
// that byte-for-byte round-tripping remains possible.
type LoadCommand struct {
	Cmd     types.LoadCmd
	CmdSize uint32
	Segment *types.Segment64
	CodeSig *types.CodeSignatureCmd
	Raw     []byte
}

// Slice is a single architecture's Mach-O image within a file.
type Slice struct {
	Offset int64
	Size   int64
	Order  binary.ByteOrder

	Header   types.FileHeader
	Commands []LoadCommand
}

// Segment64 returns the first LC_SEGMENT_64 command whose name matches,
// comparing against the NUL-padded 16-byte segname.
func (s *Slice) Segment64(name string) *types.Segment64 {
	for _, c := range s.Commands {
		if c.Segment != nil && c.Segment.SegName() == name {
			return c.Segment
		}
	}
	return nil
}

// CodeSignature returns the slice's LC_CODE_SIGNATURE command, if any.
func (s *Slice) CodeSignature() *types.CodeSignatureCmd {
	for _, c := range s.Commands {
		if c.CodeSig != nil {
			return c.CodeSig
		}
	}
	return nil
}

// RequiresSignature reports whether the loader enforces code signing for
// this slice's file type.
func (s *Slice) RequiresSignature() bool {
	return s.Header.Type.RequiresSignature()
}

// Container is a non-empty, offset-ordered sequence of slices parsed from
// one file. A thin file has exactly one slice at offset 0.
type Container struct {
	Path   string
	Slices []*Slice
}

const (
	fatHeaderSize  = 8  // magic + nfat_arch, big-endian
	fatArchSize    = 20 // cputype, cpusubtype, offset, size, align
	thinMagicBytes = 4
)

// Parse opens path and decodes it as a thin or fat 64-bit Mach-O file.
func Parse(path string) (*Container, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("macho: open %s: %w", path, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("macho: stat %s: %w", path, err)
	}

	var magicBuf [thinMagicBytes]byte
	if _, err := f.ReadAt(magicBuf[:], 0); err != nil {
		return nil, fmt.Errorf("macho: read magic of %s: %w", path, err)
	}
	magic := binary.LittleEndian.Uint32(magicBuf[:])

	c := &Container{Path: path}

	switch types.Magic(magic) {
	case types.Magic64, types.MagicCigam64:
		s, err := parseSlice(f, 0, info.Size())
		if err != nil {
			return nil, err
		}
		c.Slices = append(c.Slices, s)

	case types.MagicFat, types.MagicFatCigam:
		hdr := make([]byte, fatHeaderSize)
		if _, err := f.ReadAt(hdr, 0); err != nil {
			return nil, fmt.Errorf("macho: read fat header of %s: %w", path, err)
		}
		count := binary.BigEndian.Uint32(hdr[4:8])
		archTab := make([]byte, int(count)*fatArchSize)
		if _, err := f.ReadAt(archTab, fatHeaderSize); err != nil {
			return nil, fmt.Errorf("macho: read fat arch table of %s: %w", path, err)
		}
		for i := 0; i < int(count); i++ {
			e := archTab[i*fatArchSize:]
			offset := int64(binary.BigEndian.Uint32(e[8:12]))
			size := int64(binary.BigEndian.Uint32(e[12:16]))
			s, err := parseSlice(f, offset, size)
			if err != nil {
				return nil, fmt.Errorf("macho: slice %d of %s: %w", i, path, err)
			}
			c.Slices = append(c.Slices, s)
		}

	default:
		return nil, &NotAMachOFile{Magic: magic}
	}

	if len(c.Slices) == 0 {
		return nil, fmt.Errorf("macho: %s: fat header declares zero architectures", path)
	}
	return c, nil
}

func parseSlice(f *os.File, offset, size int64) (*Slice, error) {
	hdrBuf := make([]byte, types.Size64)
	if _, err := f.ReadAt(hdrBuf, offset); err != nil {
		return nil, fmt.Errorf("read header at %#x: %w", offset, err)
	}
	magic := binary.LittleEndian.Uint32(hdrBuf[0:4])

	var order binary.ByteOrder
	switch types.Magic(magic) {
	case types.Magic64:
		order = binary.LittleEndian
	case types.MagicCigam64:
		order = binary.BigEndian
	default:
		return nil, &NotAMachOFile{Magic: magic}
	}

	s := &Slice{Offset: offset, Size: size, Order: order}
	s.Header.Get(hdrBuf, order)

	pos := offset + int64(types.Size64)
	for i := uint32(0); i < s.Header.NCommands; i++ {
		cmdHdr := make([]byte, 8)
		if _, err := f.ReadAt(cmdHdr, pos); err != nil {
			return nil, fmt.Errorf("read load command %d header at %#x: %w", i, pos, err)
		}
		cmd := types.LoadCmd(order.Uint32(cmdHdr[0:4]))
		cmdSize := order.Uint32(cmdHdr[4:8])
		if cmdSize < 8 {
			return nil, fmt.Errorf("load command %d at %#x: cmdsize %d too small", i, pos, cmdSize)
		}

		body := make([]byte, cmdSize-8)
		if len(body) > 0 {
			if _, err := f.ReadAt(body, pos+8); err != nil {
				return nil, fmt.Errorf("read load command %d body at %#x: %w", i, pos+8, err)
			}
		}

		lc := LoadCommand{Cmd: cmd, CmdSize: cmdSize}
		switch cmd {
		case types.LC_SEGMENT_64:
			if len(body) < types.SegmentCmdSize64 {
				return nil, fmt.Errorf("load command %d at %#x: LC_SEGMENT_64 body too short", i, pos)
			}
			seg := &types.Segment64{}
			seg.Get(body[:types.SegmentCmdSize64], order)
			lc.Segment = seg
		case types.LC_CODE_SIGNATURE:
			if len(body) < types.CodeSignatureCmdSize {
				return nil, fmt.Errorf("load command %d at %#x: LC_CODE_SIGNATURE body too short", i, pos)
			}
			cs := &types.CodeSignatureCmd{}
			cs.Get(body[:types.CodeSignatureCmdSize], order)
			lc.CodeSig = cs
		default:
			lc.Raw = body
		}

		s.Commands = append(s.Commands, lc)
		pos += int64(cmdSize)
	}

	return s, nil
}
