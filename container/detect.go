package container

import (
	"armstatic/analyzerr"
	"armstatic/bytesource"
)

// Open trial-verifies the given file against each known container
// format per spec.md §4.1: exactly one of ELF or Mach-O may recognize
// its magic bytes. Recognizing more than one is AmbiguousFormat;
// recognizing none is UnknownFormat. DetectElf/DetectMachO return
// (nil, nil) only when the magic bytes don't match at all; any other
// result — including a TruncatedFile/DanglingReference/MalformedHeader
// error from a file that matched magic but has a corrupted table —
// means the format matched and that error must propagate, not get
// swallowed into a less diagnostic UnknownFormat.
func Open(bs *bytesource.ByteSource) (Container, error) {
	elf, elfErr := DetectElf(bs)
	macho, machoErr := DetectMachO(bs)

	elfMatched := elf != nil || elfErr != nil
	machoMatched := macho != nil || machoErr != nil

	switch {
	case elfMatched && machoMatched:
		return nil, analyzerr.New(analyzerr.AmbiguousFormat, "file matches both ELF and Mach-O magic bytes")

	case elfMatched:
		if elfErr != nil {
			return nil, elfErr
		}
		return elf, nil

	case machoMatched:
		if machoErr != nil {
			return nil, machoErr
		}
		return macho, nil

	default:
		return nil, analyzerr.New(analyzerr.UnknownFormat, "file matches no known container format")
	}
}
