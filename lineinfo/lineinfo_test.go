package lineinfo

import (
	"bytes"
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"

	"armstatic/bytesource"
	"armstatic/container"
)

// buildStrippedElf constructs a minimal little-endian ELF32 object
// with no .debug_* sections at all, exercising the common case this
// package exists for: a stripped or debug-free binary.
func buildStrippedElf(t *testing.T) []byte {
	t.Helper()

	le := binary.LittleEndian
	shstrtab := append([]byte{0}, append([]byte(".text\x00"), []byte(".shstrtab\x00")...)...)

	const (
		ehdrSize  = 52
		shEntSize = 40
		shNum     = 3
		shOffset  = ehdrSize
	)

	var buf bytes.Buffer
	buf.Write([]byte{0x7F, 'E', 'L', 'F', 1, 1, 1, 0})
	buf.Write(make([]byte, 8))

	writeU16 := func(v uint16) { binary.Write(&buf, le, v) }
	writeU32 := func(v uint32) { binary.Write(&buf, le, v) }

	writeU16(2)         // e_type
	writeU16(40)        // e_machine (EM_ARM)
	writeU32(1)         // e_version
	writeU32(0x8000)    // e_entry
	writeU32(0)         // e_phoff
	writeU32(shOffset)  // e_shoff
	writeU32(0)         // e_flags
	writeU16(ehdrSize)  // e_ehsize
	writeU16(0)         // e_phentsize
	writeU16(0)         // e_phnum
	writeU16(shEntSize) // e_shentsize
	writeU16(shNum)     // e_shnum
	writeU16(2)         // e_shstrndx

	out := buf.Bytes()

	appendSection := func(nameOff, typ, flags uint32, offset, size uint64) {
		rec := make([]byte, shEntSize)
		le.PutUint32(rec[0:4], nameOff)
		le.PutUint32(rec[4:8], typ)
		le.PutUint32(rec[8:12], flags)
		le.PutUint32(rec[16:20], uint32(offset))
		le.PutUint32(rec[20:24], uint32(size))
		out = append(out, rec...)
	}

	textNameOff := uint32(1)
	shstrtabNameOff := textNameOff + uint32(len(".text")) + 1

	textOffset := uint64(shOffset + shEntSize*shNum)
	shstrtabOffset := textOffset + 4

	appendSection(0, 0, 0, 0, 0)
	appendSection(textNameOff, 1, 0x6, textOffset, 4)
	appendSection(shstrtabNameOff, 3, 0, shstrtabOffset, uint64(len(shstrtab)))

	out = append(out, 0x1E, 0xFF, 0x2F, 0xE1) // BX LR
	out = append(out, shstrtab...)

	return out
}

func writeTempElf(t *testing.T, data []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "stripped.elf")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	return path
}

func TestOpenWithNoDebugSectionsDegradesToUnknown(t *testing.T) {
	path := writeTempElf(t, buildStrippedElf(t))
	bs, err := bytesource.Open(path)
	if err != nil {
		t.Fatalf("bytesource.Open: %v", err)
	}
	defer bs.Close()

	c, err := container.Open(bs)
	if err != nil {
		t.Fatalf("container.Open: %v", err)
	}

	r := Open(bs, c)
	if r == nil {
		t.Fatalf("Open returned nil Resolver")
	}
	if got := r.Lookup(0x8000); got != UnknownLocation {
		t.Errorf("Lookup(0x8000) = %q, want %q", got, UnknownLocation)
	}
}

func TestNilResolverLookupDegradesToUnknown(t *testing.T) {
	var r *Resolver
	if got := r.Lookup(0x1234); got != UnknownLocation {
		t.Errorf("Lookup on nil *Resolver = %q, want %q", got, UnknownLocation)
	}
}
