package macho

import (
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"

	"github.com/appsworld/sigtool/types"
)

// buildThinSlice writes a minimal 64-bit Mach-O: a header, one
// LC_SEGMENT_64 for __TEXT, and one LC_CODE_SIGNATURE, followed by
// padding up to the signature's dataoff and a zeroed signature region.
func buildThinSlice(t *testing.T, o binary.ByteOrder, magic types.Magic, cpu types.CPU, sub types.CPUSubtype, fileType types.HeaderFileType) []byte {
	t.Helper()

	const (
		textFilesz  = 0x1000
		sigDataOff  = 0x2000
		sigDataSize = 0x1000
	)

	hdr := types.FileHeader{
		Magic:        magic,
		CPU:          cpu,
		SubCPU:       sub,
		Type:         fileType,
		NCommands:    2,
		SizeCommands: (8 + types.SegmentCmdSize64) + (8 + types.CodeSignatureCmdSize),
	}

	buf := make([]byte, sigDataOff+sigDataSize)
	hb := make([]byte, types.Size64)
	hdr.Put(hb, o)
	copy(buf, hb)

	pos := types.Size64

	o.PutUint32(buf[pos:], uint32(types.LC_SEGMENT_64))
	o.PutUint32(buf[pos+4:], 8+types.SegmentCmdSize64)
	body := buf[pos+8:]
	copy(body[0:16], []byte("__TEXT"))
	o.PutUint64(body[16:], 0)          // addr
	o.PutUint64(body[24:], textFilesz) // memsz
	o.PutUint64(body[32:], 0)          // offset
	o.PutUint64(body[40:], textFilesz) // filesz
	o.PutUint32(body[48:], uint32(types.VmProtRead|types.VmProtExecute))
	o.PutUint32(body[52:], uint32(types.VmProtRead|types.VmProtExecute))
	pos += 8 + types.SegmentCmdSize64

	o.PutUint32(buf[pos:], uint32(types.LC_CODE_SIGNATURE))
	o.PutUint32(buf[pos+4:], 8+types.CodeSignatureCmdSize)
	cs := types.CodeSignatureCmd{DataOff: sigDataOff, DataSize: sigDataSize}
	cs.Put(buf[pos+8:], o)

	return buf
}

func writeTemp(t *testing.T, b []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "a.out")
	if err := os.WriteFile(path, b, 0o755); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestParseThinLittleEndian(t *testing.T) {
	buf := buildThinSlice(t, binary.LittleEndian, types.Magic64, types.CPUArm64, types.CPUSubtypeArm64All, types.MH_EXECUTE)
	path := writeTemp(t, buf)

	c, err := Parse(path)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(c.Slices) != 1 {
		t.Fatalf("got %d slices, want 1", len(c.Slices))
	}
	s := c.Slices[0]
	if s.Header.CPU != types.CPUArm64 {
		t.Errorf("CPU = %v, want arm64", s.Header.CPU)
	}
	if !s.RequiresSignature() {
		t.Error("MH_EXECUTE should require a signature")
	}
	text := s.Segment64("__TEXT")
	if text == nil {
		t.Fatal("expected __TEXT segment")
	}
	if text.Filesz != 0x1000 {
		t.Errorf("__TEXT filesz = %#x, want 0x1000", text.Filesz)
	}
	cs := s.CodeSignature()
	if cs == nil {
		t.Fatal("expected LC_CODE_SIGNATURE")
	}
	if cs.DataOff != 0x2000 || cs.DataSize != 0x1000 {
		t.Errorf("CodeSignature = %+v, want {0x2000 0x1000}", cs)
	}
}

func TestParseThinBigEndianCigam(t *testing.T) {
	// MH_MAGIC_64 written big-endian reads back little-endian as MH_CIGAM_64.
	buf := buildThinSlice(t, binary.BigEndian, types.Magic64, types.CPUAmd64, types.CPUSubtypeX8664All, types.MH_DYLIB)
	path := writeTemp(t, buf)

	c, err := Parse(path)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	s := c.Slices[0]
	if s.Order != binary.BigEndian {
		t.Error("expected big-endian order for MagicCigam64 slice")
	}
	if s.Header.CPU != types.CPUAmd64 {
		t.Errorf("CPU = %v, want x86_64", s.Header.CPU)
	}
}

func TestParseUnrecognizedMagic(t *testing.T) {
	buf := make([]byte, types.Size64)
	binary.LittleEndian.PutUint32(buf, 0xdeadbeef)
	path := writeTemp(t, buf)

	_, err := Parse(path)
	if err == nil {
		t.Fatal("expected an error")
	}
	var notMachO *NotAMachOFile
	if !asNotAMachOFile(err, &notMachO) {
		t.Fatalf("expected *NotAMachOFile, got %v (%T)", err, err)
	}
	if notMachO.Magic != 0xdeadbeef {
		t.Errorf("Magic = %#x, want 0xdeadbeef", notMachO.Magic)
	}
}

func TestParseFat(t *testing.T) {
	slice1 := buildThinSlice(t, binary.LittleEndian, types.Magic64, types.CPUAmd64, types.CPUSubtypeX8664All, types.MH_EXECUTE)
	slice2 := buildThinSlice(t, binary.LittleEndian, types.Magic64, types.CPUArm64, types.CPUSubtypeArm64All, types.MH_EXECUTE)

	const fatHeaderAndTable = fatHeaderSize + 2*fatArchSize
	off1 := int64(roundUpFat(fatHeaderAndTable))
	off2 := off1 + int64(len(slice1))

	buf := make([]byte, off2+int64(len(slice2)))
	binary.BigEndian.PutUint32(buf[0:], uint32(types.MagicFat))
	binary.BigEndian.PutUint32(buf[4:], 2)

	e := buf[fatHeaderSize:]
	binary.BigEndian.PutUint32(e[0:], uint32(types.CPUAmd64))
	binary.BigEndian.PutUint32(e[4:], uint32(types.CPUSubtypeX8664All))
	binary.BigEndian.PutUint32(e[8:], uint32(off1))
	binary.BigEndian.PutUint32(e[12:], uint32(len(slice1)))
	binary.BigEndian.PutUint32(e[16:], 12)

	e2 := buf[fatHeaderSize+fatArchSize:]
	binary.BigEndian.PutUint32(e2[0:], uint32(types.CPUArm64))
	binary.BigEndian.PutUint32(e2[4:], uint32(types.CPUSubtypeArm64All))
	binary.BigEndian.PutUint32(e2[8:], uint32(off2))
	binary.BigEndian.PutUint32(e2[12:], uint32(len(slice2)))
	binary.BigEndian.PutUint32(e2[16:], 12)

	copy(buf[off1:], slice1)
	copy(buf[off2:], slice2)

	path := writeTemp(t, buf)
	c, err := Parse(path)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(c.Slices) != 2 {
		t.Fatalf("got %d slices, want 2", len(c.Slices))
	}
	if c.Slices[0].Header.CPU != types.CPUAmd64 {
		t.Errorf("slice 0 CPU = %v, want x86_64", c.Slices[0].Header.CPU)
	}
	if c.Slices[1].Header.CPU != types.CPUArm64 {
		t.Errorf("slice 1 CPU = %v, want arm64", c.Slices[1].Header.CPU)
	}
}

func roundUpFat(n int) int { return (n + 0xf) &^ 0xf }

func asNotAMachOFile(err error, target **NotAMachOFile) bool {
	if e, ok := err.(*NotAMachOFile); ok {
		*target = e
		return true
	}
	return false
}
