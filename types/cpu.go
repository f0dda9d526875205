package types

import "fmt"

// A CPU is a Mach-O cpu_type_t.
type CPU uint32

const (
	cpuArch64 = 0x01000000 // 64 bit ABI
)

const (
	CPU386   CPU = 7
	CPUAmd64 CPU = CPU386 | cpuArch64
	CPUArm   CPU = 12
	CPUArm64 CPU = CPUArm | cpuArch64
)

var cpuStrings = []IntName{
	{uint32(CPU386), "i386"},
	{uint32(CPUAmd64), "x86_64"},
	{uint32(CPUArm), "ARM"},
	{uint32(CPUArm64), "ARM64"},
}

func (i CPU) String() string   { return StringName(uint32(i), cpuStrings, false) }
func (i CPU) GoString() string { return StringName(uint32(i), cpuStrings, true) }

// A CPUSubtype is a Mach-O cpu_subtype_t.
type CPUSubtype uint32

const (
	CPUSubtypeX8664All CPUSubtype = 3
	CPUSubtypeX86_64H  CPUSubtype = 8 // x86_64h, "Haswell"

	CPUSubtypeArm64All CPUSubtype = 0
	CPUSubtypeArm64E   CPUSubtype = 2
)

// SubtypeMask masks off the feature/capability bits (the top byte) of a
// cpu_subtype_t, leaving the bare subtype for comparison. Both the
// allocator invocation and the architecture-name table apply this mask
// before comparing subtypes.
const SubtypeMask CPUSubtype = 0x00ffffff

// Masked returns the subtype with its feature bits cleared.
func (st CPUSubtype) Masked() CPUSubtype { return st & SubtypeMask }

// ArchName renders the {cpuType, cpuSubtype} pair the way `codesign`'s
// -a/show-arch output and the allocator's -a flag do: x86_64, x86_64h,
// arm64 or arm64e. Any cpu type other than x86_64 or arm64 is an error;
// an x86_64 or arm64 subtype other than x86_64h or arm64e is named as
// plain x86_64 or arm64.
func ArchName(cpu CPU, sub CPUSubtype) (string, error) {
	masked := sub.Masked()
	switch cpu {
	case CPUAmd64:
		switch masked {
		case CPUSubtypeX86_64H:
			return "x86_64h", nil
		default:
			return "x86_64", nil
		}
	case CPUArm64:
		switch masked {
		case CPUSubtypeArm64E:
			return "arm64e", nil
		default:
			return "arm64", nil
		}
	}
	return "", fmt.Errorf("unsupported cpu type %#x/%#x", uint32(cpu), uint32(sub))
}
