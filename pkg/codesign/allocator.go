package codesign

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"

	cstypes "github.com/appsworld/sigtool/pkg/codesign/types"
	"github.com/appsworld/sigtool/pkg/macho"
	"github.com/appsworld/sigtool/types"
	"zombiezen.com/go/log"
)

const (
	allocatorEnvVar  = "CODESIGN_ALLOCATE"
	defaultAllocator = "codesign_allocate"

	// allocationSlack is added to each slice's measured SuperBlob length
	// after 16-byte alignment, giving the loader and later re-signs room
	// to grow without another allocation pass.
	allocationSlack = 1024
	allocationAlign = 16
)

func allocatorPath() string {
	if p := os.Getenv(allocatorEnvVar); p != "" {
		return p
	}
	return defaultAllocator
}

type sliceNeed struct {
	cpuType    types.CPU
	cpuSubtype types.CPUSubtype
	size       uint32
}

// Codesign signs every slice of filename in place: it builds a SuperBlob
// per architecture, invokes the external allocator to carve out an
// LC_CODE_SIGNATURE region of sufficient size in a staged copy, injects
// the finished bytes, and renames the staged copy over the original.
func Codesign(ctx context.Context, filename string, opts SignOptions) error {
	c, err := macho.Parse(filename)
	if err != nil {
		return fmt.Errorf("codesign: %w", err)
	}

	if !opts.Force {
		for _, s := range c.Slices {
			if s.CodeSignature() != nil {
				return fmt.Errorf("codesign: %s: already signed (use -f to force)", filename)
			}
		}
	}

	blobs := make([]*cstypes.SuperBlob, len(c.Slices))
	needs := make([]sliceNeed, len(c.Slices))
	for i, s := range c.Slices {
		sb, err := SignSlice(ctx, filename, s, opts.Identifier, opts.Entitlements)
		if err != nil {
			return fmt.Errorf("codesign: slice %d: %w", i, err)
		}
		blobs[i] = sb
		need := (sb.Length()+allocationAlign-1) &^ (allocationAlign - 1)
		needs[i] = sliceNeed{
			cpuType:    s.Header.CPU,
			cpuSubtype: s.Header.SubCPU.Masked(),
			size:       need + allocationSlack,
		}
	}

	allocArgs, err := allocateArgs(filename, needs)
	if err != nil {
		return fmt.Errorf("codesign: %w", err)
	}

	staged, err := stageAllocation(ctx, filename, allocArgs)
	if err != nil {
		return fmt.Errorf("codesign: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			os.Remove(staged)
		}
	}()

	if err := injectAll(staged, blobs); err != nil {
		return fmt.Errorf("codesign: %w", err)
	}

	if err := os.Rename(staged, filename); err != nil {
		return fmt.Errorf("codesign: rename staged file over %s: %w", filename, err)
	}
	committed = true

	log.Infof(ctx, "signed %s (%d slice(s))", filename, len(c.Slices))
	return nil
}

// RemoveSignature strips the signature region of every slice by asking
// the allocator to rebuild the file with no LC_CODE_SIGNATURE sizing
// request, then renaming the result over the original. No injection
// follows: the allocator's own -r handling is authoritative.
func RemoveSignature(ctx context.Context, filename string) error {
	staged, err := stageAllocation(ctx, filename, []string{"-i", filename, "-r"})
	if err != nil {
		return fmt.Errorf("codesign: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			os.Remove(staged)
		}
	}()

	if err := os.Rename(staged, filename); err != nil {
		return fmt.Errorf("codesign: rename staged file over %s: %w", filename, err)
	}
	committed = true

	log.Infof(ctx, "removed signature from %s", filename)
	return nil
}

// VerifySignature reports whether every slice has an LC_CODE_SIGNATURE
// load command. This is a structural check only, not cryptographic, and
// it requires all slices to carry the command rather than just one.
func VerifySignature(filename string) (bool, error) {
	c, err := macho.Parse(filename)
	if err != nil {
		return false, fmt.Errorf("verify: %w", err)
	}
	for _, s := range c.Slices {
		if s.CodeSignature() == nil {
			return false, nil
		}
	}
	return true, nil
}

// ShowSize returns each slice's signed SuperBlob length, without
// modifying the file.
func ShowSize(ctx context.Context, filename string, opts SignOptions) ([]uint32, error) {
	c, err := macho.Parse(filename)
	if err != nil {
		return nil, fmt.Errorf("size: %w", err)
	}
	sizes := make([]uint32, len(c.Slices))
	for i, s := range c.Slices {
		sb, err := SignSlice(ctx, filename, s, opts.Identifier, opts.Entitlements)
		if err != nil {
			return nil, fmt.Errorf("size: slice %d: %w", i, err)
		}
		sizes[i] = sb.Length()
	}
	return sizes, nil
}

// Generate returns each slice's serialized SuperBlob bytes without
// touching the file.
func Generate(ctx context.Context, filename string, opts SignOptions) ([][]byte, error) {
	c, err := macho.Parse(filename)
	if err != nil {
		return nil, fmt.Errorf("generate: %w", err)
	}
	out := make([][]byte, len(c.Slices))
	for i, s := range c.Slices {
		sb, err := SignSlice(ctx, filename, s, opts.Identifier, opts.Entitlements)
		if err != nil {
			return nil, fmt.Errorf("generate: slice %d: %w", i, err)
		}
		out[i] = sb.Emit()
	}
	return out, nil
}

// Inject writes pre-built SuperBlobs into filename's existing
// LC_CODE_SIGNATURE regions, one per slice in parse order. Unlike
// Codesign, it does not invoke the allocator: the regions must already
// be large enough.
func Inject(filename string, blobs [][]byte) error {
	c, err := macho.Parse(filename)
	if err != nil {
		return fmt.Errorf("inject: %w", err)
	}
	if len(c.Slices) != len(blobs) {
		return fmt.Errorf("inject: %s has %d slice(s), got %d blob(s)", filename, len(c.Slices), len(blobs))
	}

	f, err := os.OpenFile(filename, os.O_WRONLY, 0)
	if err != nil {
		return fmt.Errorf("inject: open %s: %w", filename, err)
	}
	defer f.Close()

	for i, s := range c.Slices {
		cs := s.CodeSignature()
		if cs == nil {
			return errors.New("inject: cannot inject signature without appropriate load command")
		}
		if uint32(cs.DataSize) < uint32(len(blobs[i])) {
			return errors.New("inject: allocated size too small")
		}
		if _, err := f.WriteAt(blobs[i], s.Offset+int64(cs.DataOff)); err != nil {
			return fmt.Errorf("inject: write signature for slice %d: %w", i, err)
		}
	}
	return nil
}

// ShowArch names each slice's architecture: x86_64, x86_64h, arm64 or
// arm64e.
func ShowArch(filename string) ([]string, error) {
	c, err := macho.Parse(filename)
	if err != nil {
		return nil, fmt.Errorf("show-arch: %w", err)
	}
	names := make([]string, len(c.Slices))
	for i, s := range c.Slices {
		name, err := types.ArchName(s.Header.CPU, s.Header.SubCPU)
		if err != nil {
			return nil, fmt.Errorf("show-arch: %w", err)
		}
		names[i] = name
	}
	return names, nil
}

// CheckRequiresSignature reports whether the loader would require a
// signature on any slice of filename. A file whose magic isn't
// recognized is not an error here: it simply answers no.
func CheckRequiresSignature(filename string) (bool, error) {
	c, err := macho.Parse(filename)
	if err != nil {
		var notMachO *macho.NotAMachOFile
		if errors.As(err, &notMachO) {
			return false, nil
		}
		return false, fmt.Errorf("check-requires-signature: %w", err)
	}
	for _, s := range c.Slices {
		if s.RequiresSignature() {
			return true, nil
		}
	}
	return false, nil
}

func injectAll(stagedPath string, blobs []*cstypes.SuperBlob) error {
	raw := make([][]byte, len(blobs))
	for i, b := range blobs {
		raw[i] = b.Emit()
	}
	return Inject(stagedPath, raw)
}

// allocateArgs builds the codesign_allocate argument vector: -i
// <filename>, one "-a <arch-name> <size>" pair per slice, then -o is
// appended by stageAllocation once the staging path is known.
func allocateArgs(filename string, needs []sliceNeed) ([]string, error) {
	args := []string{"-i", filename}
	for _, n := range needs {
		arch, err := types.ArchName(n.cpuType, n.cpuSubtype)
		if err != nil {
			return nil, err
		}
		args = append(args, "-a", arch, strconv.FormatUint(uint64(n.size), 10))
	}
	return args, nil
}

// stageAllocation creates a temp file next to filename with filename's
// mode bits, invokes the external allocator with args plus "-o
// <tempfile>", and returns the staged path on success. The temp fd is
// held open across the allocator call and closed only once the
// allocator has exited, per spec.md's staging ordering. The caller
// owns removing the staged file on any later failure.
func stageAllocation(ctx context.Context, filename string, args []string) (string, error) {
	info, err := os.Stat(filename)
	if err != nil {
		return "", fmt.Errorf("stat %s: %w", filename, err)
	}

	dir := filepath.Dir(filename)
	tmp, err := os.CreateTemp(dir, filepath.Base(filename)+".")
	if err != nil {
		return "", fmt.Errorf("create staging file: %w", err)
	}
	tmpPath := tmp.Name()
	if err := tmp.Chmod(info.Mode()); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return "", fmt.Errorf("chmod staging file: %w", err)
	}

	fullArgs := append(append([]string{}, args...), "-o", tmpPath)
	runErr := runAllocator(ctx, fullArgs)
	tmp.Close()
	if runErr != nil {
		os.Remove(tmpPath)
		return "", runErr
	}
	return tmpPath, nil
}

// runAllocator spawns codesign_allocate (or CODESIGN_ALLOCATE's
// override) and waits for it to exit. os/exec's Wait retries internally
// on EINTR, so no manual waitpid loop is needed here.
func runAllocator(ctx context.Context, args []string) error {
	path := allocatorPath()
	cmd := exec.CommandContext(ctx, path, args...)
	cmd.Stderr = os.Stderr
	log.Debugf(ctx, "running %s %v", path, args)
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	return nil
}
