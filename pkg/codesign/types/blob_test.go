package types

import (
	"bytes"
	"encoding/binary"
	"testing"
)

func TestSuperBlobLengthMatchesEmit(t *testing.T) {
	cd := NewCodeDirectory("hello")
	cd.AddCodeHash([32]byte{1})
	cd.AddCodeHash([32]byte{2})
	reqs := &Requirements{}
	cd.SetSpecialHash(uint32(SlotRequirements), [32]byte{3})

	sb := &SuperBlob{}
	sb.Add(SlotCodeDirectory, cd)
	sb.Add(SlotRequirements, reqs)
	sb.Add(SlotSignature, &SignatureWrapper{})

	emitted := sb.Emit()
	if uint32(len(emitted)) != sb.Length() {
		t.Fatalf("len(Emit())=%d != Length()=%d", len(emitted), sb.Length())
	}

	o := binary.BigEndian
	if got := o.Uint32(emitted[0:4]); got != uint32(MagicEmbeddedSignature) {
		t.Errorf("magic = %#x, want %#x", got, uint32(MagicEmbeddedSignature))
	}
	if got := o.Uint32(emitted[8:12]); got != 3 {
		t.Errorf("count = %d, want 3", got)
	}

	// Index offsets must be strictly increasing and equal the cumulative
	// byte position of each blob's body.
	wantOffset := uint32(superBlobHeaderSize + superBlobIndexEntrySize*3)
	for i := 0; i < 3; i++ {
		ip := superBlobHeaderSize + i*superBlobIndexEntrySize
		off := o.Uint32(emitted[ip+4:])
		if off != wantOffset {
			t.Errorf("blob %d offset = %d, want %d", i, off, wantOffset)
		}
		switch i {
		case 0:
			wantOffset += cd.Length()
		case 1:
			wantOffset += reqs.Length()
		}
	}
}

func TestRequirementsEmit(t *testing.T) {
	r := &Requirements{}
	got := r.Emit()
	want := []byte{0xfa, 0xde, 0x0c, 0x01, 0, 0, 0, 12, 0, 0, 0, 0}
	if !bytes.Equal(got, want) {
		t.Errorf("Requirements.Emit() = % x, want % x", got, want)
	}
	if r.Length() != uint32(len(want)) {
		t.Errorf("Length() = %d, want %d", r.Length(), len(want))
	}
}

func TestEntitlementsLength(t *testing.T) {
	plist := make([]byte, 37)
	e := &Entitlements{Plist: plist}
	if e.Length() != 45 {
		t.Errorf("Length() = %d, want 45", e.Length())
	}
	if uint32(len(e.Emit())) != e.Length() {
		t.Errorf("len(Emit()) != Length()")
	}
}

func TestSignatureWrapperEmit(t *testing.T) {
	s := &SignatureWrapper{}
	got := s.Emit()
	want := []byte{0xfa, 0xde, 0x0b, 0x01, 0, 0, 0, 8}
	if !bytes.Equal(got, want) {
		t.Errorf("SignatureWrapper.Emit() = % x, want % x", got, want)
	}
}
