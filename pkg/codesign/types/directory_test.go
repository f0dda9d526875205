package types

import (
	"encoding/binary"
	"testing"
)

func TestCodeDirectoryLayout(t *testing.T) {
	cd := NewCodeDirectory("hello")
	cd.AddCodeHash([32]byte{0xaa})
	cd.AddCodeHash([32]byte{0xbb})
	cd.SetSpecialHash(uint32(SlotRequirements), [32]byte{0x01})
	cd.SetSpecialHash(uint32(SlotEntitlements), [32]byte{0x02})

	if got := cd.nSpecialSlots(); got != 5 {
		t.Fatalf("nSpecialSlots() = %d, want 5 (highest populated index)", got)
	}

	b := cd.Emit()
	if uint32(len(b)) != cd.Length() {
		t.Fatalf("len(Emit())=%d != Length()=%d", len(b), cd.Length())
	}

	o := binary.BigEndian
	identOffset := o.Uint32(b[20:24])
	hashOffset := o.Uint32(b[16:20])
	nSpecial := o.Uint32(b[24:28])
	nCode := o.Uint32(b[28:32])

	if identOffset != cdPreludeSize {
		t.Errorf("identOffset = %d, want %d", identOffset, cdPreludeSize)
	}
	if nSpecial != 5 {
		t.Errorf("nSpecialSlots field = %d, want 5", nSpecial)
	}
	if nCode != 2 {
		t.Errorf("nCodeSlots field = %d, want 2", nCode)
	}

	wantIdent := "hello\x00"
	if string(b[identOffset:identOffset+uint32(len(wantIdent))]) != wantIdent {
		t.Errorf("identifier bytes = %q, want %q", b[identOffset:identOffset+uint32(len(wantIdent))], wantIdent)
	}

	// Special slot 2 sits 2 hashes before hashOffset (descending order);
	// slot 5, the highest populated, sits immediately after identifier+NUL.
	slot2 := b[hashOffset-2*32 : hashOffset-32]
	if slot2[0] != 0x01 {
		t.Errorf("special slot 2 hash = % x, want leading byte 0x01", slot2)
	}
	slot5 := b[hashOffset-5*32 : hashOffset-4*32]
	if slot5[0] != 0x02 {
		t.Errorf("special slot 5 hash = % x, want leading byte 0x02", slot5)
	}
	// Slots 3 and 4 are unpopulated and must be zero.
	slot3 := b[hashOffset-3*32 : hashOffset-2*32]
	for _, x := range slot3 {
		if x != 0 {
			t.Fatalf("unpopulated special slot 3 not zero: % x", slot3)
		}
	}

	code0 := b[hashOffset : hashOffset+32]
	if code0[0] != 0xaa {
		t.Errorf("code hash 0 = % x, want leading byte 0xaa", code0)
	}
	code1 := b[hashOffset+32 : hashOffset+64]
	if code1[0] != 0xbb {
		t.Errorf("code hash 1 = % x, want leading byte 0xbb", code1)
	}
}

func TestSetCodeLimitClamp(t *testing.T) {
	cd := NewCodeDirectory("x")

	cd.SetCodeLimit(8192)
	if cd.CodeLimit != 8192 || cd.CodeLimit64 != 0 {
		t.Errorf("limit below threshold: CodeLimit=%d CodeLimit64=%d", cd.CodeLimit, cd.CodeLimit64)
	}

	cd.SetCodeLimit(uint32Max)
	if cd.CodeLimit != uint32Max || cd.CodeLimit64 != uint32Max {
		t.Errorf("limit at threshold: CodeLimit=%d CodeLimit64=%d", cd.CodeLimit, cd.CodeLimit64)
	}

	cd.SetCodeLimit(uint32Max + 100)
	if cd.CodeLimit != uint32Max || cd.CodeLimit64 != uint32Max+100 {
		t.Errorf("limit above threshold: CodeLimit=%d CodeLimit64=%d", cd.CodeLimit, cd.CodeLimit64)
	}
}

func TestCodeDirectoryNoSpecialSlots(t *testing.T) {
	cd := NewCodeDirectory("x")
	cd.AddCodeHash([32]byte{1})
	if cd.nSpecialSlots() != 0 {
		t.Fatalf("nSpecialSlots() = %d, want 0", cd.nSpecialSlots())
	}
	b := cd.Emit()
	if uint32(len(b)) != cdPreludeSize+uint32(len("x"))+1+32 {
		t.Fatalf("unexpected length %d", len(b))
	}
}
