package container

import (
	"bytes"
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"

	"armstatic/bytesource"
)

// buildMinimalElf32 constructs a tiny little-endian ELF32 object with one
// PT_LOAD segment, a .text section, a .symtab/.strtab pair holding a
// single global function symbol, and a .shstrtab for section names.
func buildMinimalElf32(t *testing.T) []byte {
	t.Helper()

	const (
		textVAddr  = 0x8000
		textOffset = 0x1000
		textSize   = 0x40
	)

	shstrtab := buildStrtab("", ".text", ".symtab", ".strtab", ".shstrtab")
	strtab := buildStrtab("", "my_function")

	var buf bytes.Buffer
	// Section layout, chosen after header/program-header space:
	// [0] NULL, [1] .text, [2] .symtab, [3] .strtab, [4] .shstrtab
	textOff := int64(textOffset)
	symtabOff := textOff + textSize
	strtabOff := symtabOff + 16 // one Elf32_Sym record
	shstrtabOff := strtabOff + int64(len(strtab))

	le := binary.LittleEndian

	// e_ident
	buf.Write([]byte{0x7F, 'E', 'L', 'F', elfClass32, elfDataLSB, 1, 0})
	buf.Write(make([]byte, 8)) // padding to 16

	writeU16 := func(v uint16) { binary.Write(&buf, le, v) }
	writeU32 := func(v uint32) { binary.Write(&buf, le, v) }

	writeU16(2)         // e_type
	writeU16(40)        // e_machine (EM_ARM)
	writeU32(1)         // e_version
	writeU32(textVAddr) // e_entry
	writeU32(0)         // e_phoff (no program headers in this fixture)
	writeU32(0)         // e_shoff placeholder, patched below once known
	writeU32(0)         // e_flags
	writeU16(52) // e_ehsize
	writeU16(32) // e_phentsize
	writeU16(0)  // e_phnum
	writeU16(40) // e_shentsize
	writeU16(5)  // e_shnum
	writeU16(4)  // e_shstrndx

	header := buf.Bytes()
	// Fix e_shoff (offset 32 in header) now that we know the section
	// header table lands right after e_ident+ehdr-tail, i.e. at 52.
	shoff := uint32(52)
	le.PutUint32(header[32:36], shoff)

	out := make([]byte, shoff)
	copy(out, header)

	appendSection := func(nameOff uint32, typ uint32, flags uint32, addr, offset, size uint64, link uint32) {
		rec := make([]byte, 40)
		le.PutUint32(rec[0:4], nameOff)
		le.PutUint32(rec[4:8], typ)
		le.PutUint32(rec[8:12], flags)
		le.PutUint32(rec[12:16], uint32(addr))
		le.PutUint32(rec[16:20], uint32(offset))
		le.PutUint32(rec[20:24], uint32(size))
		le.PutUint32(rec[24:28], link)
		out = append(out, rec...)
	}

	nullName := uint32(0)
	textName := uint32(1)
	symtabName := textName + uint32(len(".text")) + 1
	strtabName := symtabName + uint32(len(".symtab")) + 1
	shstrtabName := strtabName + uint32(len(".strtab")) + 1

	appendSection(nullName, 0, 0, 0, 0, 0, 0)
	appendSection(textName, shtProgbits, shfAlloc|shfExecinstr, textVAddr, uint64(textOffset), textSize, 0)
	appendSection(symtabName, shtSymtab, 0, 0, uint64(symtabOff), 16, 3)
	appendSection(strtabName, shtStrtab, 0, 0, uint64(strtabOff), uint64(len(strtab)), 0)
	appendSection(shstrtabName, shtStrtab, 0, 0, uint64(shstrtabOff), uint64(len(shstrtab)), 0)

	// Pad up to text section.
	for int64(len(out)) < textOff {
		out = append(out, 0)
	}
	out = append(out, make([]byte, textSize)...)

	// Symbol table: one Elf32_Sym naming the .text function.
	sym := make([]byte, 16)
	le.PutUint32(sym[0:4], 1) // name offset into strtab (skips leading NUL)
	le.PutUint32(sym[4:8], textVAddr|1) // Thumb bit set
	le.PutUint32(sym[8:12], 8)          // st_size
	sym[12] = byte(stbGlobal<<4 | sttFunc)
	le.PutUint16(sym[14:16], 1) // st_shndx -> .text
	out = append(out, sym...)

	out = append(out, strtab...)
	out = append(out, shstrtab...)

	return out
}

func buildStrtab(entries ...string) []byte {
	var b []byte
	for _, e := range entries {
		b = append(b, []byte(e)...)
		b = append(b, 0)
	}
	return b
}

func writeTempElf(t *testing.T, data []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "sample.elf")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	return path
}

func TestDetectElf32ParsesSectionsAndSymbols(t *testing.T) {
	path := writeTempElf(t, buildMinimalElf32(t))
	bs, err := bytesource.Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer bs.Close()

	c, err := DetectElf(bs)
	if err != nil {
		t.Fatalf("DetectElf: %v", err)
	}
	if c == nil {
		t.Fatalf("DetectElf: magic not recognized")
	}
	if c.Format() != FormatElf32 {
		t.Errorf("Format() = %v, want ELF32", c.Format())
	}

	var text *Section
	for _, s := range c.Sections() {
		if s.Name == ".text" {
			text = s
		}
	}
	if text == nil {
		t.Fatalf("no .text section found among %d sections", len(c.Sections()))
	}
	if !text.IsExecutableProgbits() {
		t.Errorf(".text section not classified as executable progbits")
	}

	fns := c.FunctionSymbols()
	if len(fns) != 1 {
		t.Fatalf("FunctionSymbols() = %d symbols, want 1", len(fns))
	}
	if fns[0].Name != "my_function" {
		t.Errorf("symbol name = %q, want my_function", fns[0].Name)
	}
	if !fns[0].IsThumbFunction() {
		t.Errorf("expected Thumb bit set on function symbol")
	}
	if !fns[0].IsGlobal() {
		t.Errorf("expected global binding")
	}
	if fns[0].Address() != 0x8000 {
		t.Errorf("Address() = 0x%x, want 0x8000", fns[0].Address())
	}
}

func TestDetectElfRejectsNonElf(t *testing.T) {
	path := writeTempElf(t, []byte("not an elf file, just padding bytes"))
	bs, err := bytesource.Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer bs.Close()

	c, err := DetectElf(bs)
	if c != nil || err != nil {
		t.Errorf("DetectElf on non-ELF data: got (%v, %v), want (nil, nil)", c, err)
	}
}
