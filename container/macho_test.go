package container

import (
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"

	"armstatic/bytesource"
)

// buildMinimalMachO64 constructs a tiny little-endian Mach-O64 object
// with one __TEXT segment (holding a __text section) and a symtab
// naming one function.
func buildMinimalMachO64(t *testing.T) []byte {
	t.Helper()

	const (
		textVAddr   = 0x100000000
		textOffset  = 0x200
		textSize    = 0x20
		segFileSize = 0x1000
	)

	le := binary.LittleEndian

	const segCmdSize = 72 + 80 // segment_command_64 + one section_64
	const symCmdSize = 24

	header := make([]byte, machHeader64Size)
	le.PutUint32(header[0:4], machMagic64)
	le.PutUint32(header[4:8], cpuTypeARM)
	le.PutUint32(header[16:20], 2) // ncmds

	seg := make([]byte, segCmdSize)
	le.PutUint32(seg[0:4], lcSegment64)
	le.PutUint32(seg[4:8], uint32(segCmdSize))
	copy(seg[8:24], "__TEXT")
	le.PutUint64(seg[24:32], uint64(textVAddr))
	le.PutUint64(seg[32:40], uint64(segFileSize))
	le.PutUint64(seg[40:48], uint64(0))
	le.PutUint64(seg[48:56], uint64(segFileSize))
	le.PutUint32(seg[64:68], 1) // nsects

	sect := seg[72:152]
	copy(sect[0:16], "__text")
	copy(sect[16:32], "__TEXT")
	le.PutUint64(sect[32:40], uint64(textVAddr+textOffset))
	le.PutUint64(sect[40:48], uint64(textSize))
	le.PutUint32(sect[48:52], uint32(textOffset))
	le.PutUint32(sect[64:68], 0x80000000) // S_ATTR_PURE_INSTRUCTIONS

	strtab := buildStrtab("", "thumb_fn")
	symOff := machHeader64Size + segCmdSize + symCmdSize
	strOff := symOff + 16 // one nlist_64

	symcmd := make([]byte, symCmdSize)
	le.PutUint32(symcmd[0:4], lcSymtab)
	le.PutUint32(symcmd[4:8], uint32(symCmdSize))
	le.PutUint32(symcmd[8:12], uint32(symOff))
	le.PutUint32(symcmd[12:16], 1) // nsyms
	le.PutUint32(symcmd[16:20], uint32(strOff))
	le.PutUint32(symcmd[20:24], uint32(len(strtab)))

	nlist := make([]byte, 16)
	le.PutUint32(nlist[0:4], 1) // strx
	nlist[4] = nTypeSect | nExt
	nlist[5] = 1 // n_sect
	le.PutUint64(nlist[8:16], uint64(textVAddr+textOffset+1))

	out := append([]byte{}, header...)
	out = append(out, seg...)
	out = append(out, symcmd...)
	out = append(out, nlist...)
	out = append(out, strtab...)
	return out
}

func writeTempMachO(t *testing.T, data []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "sample.macho")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	return path
}

func TestDetectMachO64ParsesSectionsAndSymbols(t *testing.T) {
	path := writeTempMachO(t, buildMinimalMachO64(t))
	bs, err := bytesource.Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer bs.Close()

	c, err := DetectMachO(bs)
	if err != nil {
		t.Fatalf("DetectMachO: %v", err)
	}
	if c == nil {
		t.Fatalf("DetectMachO: magic not recognized")
	}
	if c.Format() != FormatMachO64 {
		t.Errorf("Format() = %v, want MachO64", c.Format())
	}

	var text *Section
	for _, s := range c.Sections() {
		if s.IsExecutableProgbits() {
			text = s
		}
	}
	if text == nil {
		t.Fatalf("no executable section found among %d sections", len(c.Sections()))
	}

	fns := c.FunctionSymbols()
	if len(fns) != 1 {
		t.Fatalf("FunctionSymbols() = %d, want 1", len(fns))
	}
	if fns[0].Name != "thumb_fn" {
		t.Errorf("symbol name = %q, want thumb_fn", fns[0].Name)
	}
	if !fns[0].IsThumbFunction() {
		t.Errorf("expected Thumb bit set")
	}
}

func TestDetectMachO32ReturnsUnimplemented(t *testing.T) {
	buf := make([]byte, 32)
	binary.LittleEndian.PutUint32(buf[0:4], machMagic32)
	path := writeTempMachO(t, buf)
	bs, err := bytesource.Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer bs.Close()

	_, err = DetectMachO(bs)
	if err == nil {
		t.Fatalf("DetectMachO on Mach-O32: want UnimplementedFormat error, got nil")
	}
}
