// Package codesign builds and injects ad-hoc code signatures into Mach-O
// files. Signing never contacts an identity or certificate store: the
// CMS slot is always the empty wrapper blob, matching `codesign -s -`.
package codesign

import (
	"context"
	"crypto/sha256"
	"fmt"
	"io"
	"os"

	cstypes "github.com/appsworld/sigtool/pkg/codesign/types"
	"github.com/appsworld/sigtool/pkg/macho"
	"github.com/appsworld/sigtool/types"
	"zombiezen.com/go/log"
)

const pageSize = 4096

// SignOptions configures a signing run shared by Codesign, ShowSize and
// Generate: the identifier recorded in the CodeDirectory, and an
// optional raw entitlements plist.
type SignOptions struct {
	Identifier   string
	Entitlements []byte
	Force        bool
}

// SignSlice builds the SuperBlob for one architecture slice: a
// CodeDirectory carrying per-page SHA-256 hashes up to the slice's
// signable limit, an empty Requirements blob, an optional Entitlements
// blob, and an empty CMS wrapper.
func SignSlice(ctx context.Context, path string, slice *macho.Slice, identifier string, entitlements []byte) (*cstypes.SuperBlob, error) {
	if identifier == "" {
		identifier = path
	}

	cd := cstypes.NewCodeDirectory(identifier)
	if slice.Header.Type == types.MH_EXECUTE {
		cd.ExecSegFlags = cstypes.ExecSegMainBinary
	}
	if text := slice.Segment64("__TEXT"); text != nil {
		cd.ExecSegBase = text.Offset
		cd.ExecSegLimit = text.Offset + text.Filesz
	}

	limit := uint64(slice.Size)
	if cs := slice.CodeSignature(); cs != nil {
		limit = uint64(cs.DataOff)
	}
	cd.SetCodeLimit(limit)

	if err := hashPages(path, slice.Offset, limit, cd); err != nil {
		return nil, fmt.Errorf("signer: %w", err)
	}

	reqs := &cstypes.Requirements{}
	cd.SetSpecialHash(uint32(cstypes.SlotRequirements), sha256.Sum256(reqs.Emit()))

	sb := &cstypes.SuperBlob{}
	sb.Add(cstypes.SlotCodeDirectory, cd)
	sb.Add(cstypes.SlotRequirements, reqs)

	if len(entitlements) > 0 {
		ent := &cstypes.Entitlements{Plist: entitlements}
		cd.SetSpecialHash(uint32(cstypes.SlotEntitlements), sha256.Sum256(ent.Emit()))
		sb.Add(cstypes.SlotEntitlements, ent)
	}

	sb.Add(cstypes.SlotSignature, &cstypes.SignatureWrapper{})

	log.Debugf(ctx, "signed slice at %#x: %d code hash(es), %d byte superblob", slice.Offset, len(cd.CodeHashes), sb.Length())
	return sb, nil
}

// hashPages reads limit bytes of the slice starting at offset, 4096
// bytes at a time, and appends each page's SHA-256 to cd. The final page
// is short when limit isn't a page multiple; only its valid bytes are
// hashed.
func hashPages(path string, offset int64, limit uint64, cd *cstypes.CodeDirectory) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	buf := make([]byte, pageSize)
	var pos uint64
	for pos < limit {
		n := pageSize
		if remaining := limit - pos; remaining < uint64(pageSize) {
			n = int(remaining)
		}
		if _, err := f.ReadAt(buf[:n], offset+int64(pos)); err != nil && err != io.EOF {
			return fmt.Errorf("read page at %#x: %w", pos, err)
		}
		cd.AddCodeHash(sha256.Sum256(buf[:n]))
		pos += uint64(n)
	}
	return nil
}
