package container

import (
	"encoding/binary"
	"sort"

	"armstatic/analyzerr"
	"armstatic/bytesource"
)

// Mach-O structural constants (subset needed for analysis).
const (
	machMagic32    = 0xFEEDFACE
	machMagic64    = 0xFEEDFACF
	machCigam32    = 0xCEFAEDFE // byte-swapped MH_MAGIC, big-endian fat order
	machCigam64    = 0xCFFAEDFE

	lcSegment   = 0x1
	lcSymtab    = 0x2
	lcSegment64 = 0x19

	cpuTypeARM = 0xC

	nTypeMask = 0x0e
	nTypeSect = 0x0e
	nExt      = 0x01
	nStab     = 0xe0
)

// MachOContainer implements Container over a 64-bit Mach-O object file.
// Mach-O32 is detected (so format identification never misreports it as
// unknown) but its load-command and symbol parsing raise
// UnimplementedFormat: spec.md §9's Open Question resolves in favor of
// ARM Mach-O64 coverage, since every modern ARM/AArch32 Apple toolchain
// output the pack's original_source/ targets is LC_SEGMENT_64-shaped.
type MachOContainer struct {
	is64     bool
	order    binary.ByteOrder
	entry    uint64
	sections []*Section
	symbols  []*Symbol
}

// DetectMachO verifies the Mach-O magic and, for the 64-bit case, fully
// parses load commands. It returns (nil, nil) when the magic does not
// match at all.
func DetectMachO(bs *bytesource.ByteSource) (Container, error) {
	magicBuf, err := bs.ReadExact(0, 4)
	if err != nil {
		return nil, nil
	}

	be := binary.BigEndian.Uint32(magicBuf)
	le := binary.LittleEndian.Uint32(magicBuf)

	switch {
	case le == machMagic64:
		c := &MachOContainer{is64: true, order: binary.LittleEndian}
		return c, c.parse64(bs)
	case be == machMagic64:
		c := &MachOContainer{is64: true, order: binary.BigEndian}
		return c, c.parse64(bs)
	case le == machMagic32 || be == machMagic32:
		return nil, analyzerr.New(analyzerr.UnimplementedFormat, "Mach-O32 load command and symbol parsing is not implemented")
	default:
		return nil, nil
	}
}

// mach_header_64 layout: magic(4) cputype(4) cpusubtype(4) filetype(4)
// ncmds(4) sizeofcmds(4) flags(4) reserved(4) = 32 bytes.
const machHeader64Size = 32

func (c *MachOContainer) parse64(bs *bytesource.ByteSource) error {
	hdr, err := bs.ReadExact(0, machHeader64Size)
	if err != nil {
		return analyzerr.Wrap(analyzerr.TruncatedFile, err, "Mach-O header")
	}
	o := c.order
	ncmds := o.Uint32(hdr[16:20])

	off := int64(machHeader64Size)
	var segFileOffset, segVAddr uint64
	var haveText bool

	for i := uint32(0); i < ncmds; i++ {
		lcHdr, err := bs.ReadExact(off, 8)
		if err != nil {
			return analyzerr.Wrap(analyzerr.TruncatedFile, err, "load command %d", i)
		}
		cmd := o.Uint32(lcHdr[0:4])
		cmdsize := o.Uint32(lcHdr[4:8])
		if cmdsize < 8 {
			return analyzerr.New(analyzerr.MalformedHeader, "load command %d has impossible size %d", i, cmdsize)
		}

		switch cmd {
		case lcSegment64:
			body, err := bs.ReadExact(off, int(cmdsize))
			if err != nil {
				return analyzerr.Wrap(analyzerr.TruncatedFile, err, "segment_command_64 %d", i)
			}
			secs, fileOff, vaddr, isText := c.parseSegment64(body)
			c.sections = append(c.sections, secs...)
			if isText {
				segFileOffset, segVAddr, haveText = fileOff, vaddr, true
			}

		case lcSymtab:
			body, err := bs.ReadExact(off, int(cmdsize))
			if err != nil {
				return analyzerr.Wrap(analyzerr.TruncatedFile, err, "symtab_command %d", i)
			}
			syms, err := c.parseSymtab64(bs, body)
			if err != nil {
				return err
			}
			c.symbols = syms
		}

		off += int64(cmdsize)
	}

	if haveText {
		c.entry = segVAddr
		_ = segFileOffset
	}

	return nil
}

// segment_command_64: cmd(4) cmdsize(4) segname(16) vmaddr(8) vmsize(8)
// fileoff(8) filesize(8) maxprot(4) initprot(4) nsects(4) flags(4) = 72
// bytes, followed by nsects section_64 records of 80 bytes each.
func (c *MachOContainer) parseSegment64(body []byte) (secs []*Section, fileOffset, vaddr uint64, isText bool) {
	o := c.order
	name := cString(body[8:24])
	vaddr = o.Uint64(body[24:32])
	fileOffset = o.Uint64(body[40:48])
	nsects := o.Uint32(body[64:68])

	isText = name == "__TEXT"

	const sectHdrSize = 72
	const sect64RecSize = 80
	for i := uint32(0); i < nsects; i++ {
		rOff := sectHdrSize + int(i)*sect64RecSize
		if rOff+sect64RecSize > len(body) {
			break
		}
		r := body[rOff : rOff+sect64RecSize]

		sectName := cString(r[0:16])
		segName := cString(r[16:32])
		sAddr := o.Uint64(r[32:40])
		sSize := o.Uint64(r[40:48])
		sOffset := uint64(o.Uint32(r[48:52]))
		flags := o.Uint32(r[64:68])

		const sAttrSomeInstructions = 0x00000400
		const sAttrPureInstructions = 0x80000000

		s := &Section{
			Name:       segName + "." + sectName,
			FileOffset: sOffset,
			VAddr:      sAddr,
			Size:       sSize,
			isProgbits: true,
		}
		exec := flags&sAttrPureInstructions != 0 || flags&sAttrSomeInstructions != 0
		s.Flags = SectionFlags{Read: true, Exec: exec, Alloc: true}
		if exec {
			s.Kind = SectionKindText
		} else {
			s.Kind = SectionKindData
		}
		secs = append(secs, s)
	}
	return secs, fileOffset, vaddr, isText
}

// symtab_command: cmd(4) cmdsize(4) symoff(4) nsyms(4) stroff(4) strsize(4).
func (c *MachOContainer) parseSymtab64(bs *bytesource.ByteSource, body []byte) ([]*Symbol, error) {
	o := c.order
	symoff := o.Uint32(body[8:12])
	nsyms := o.Uint32(body[12:16])
	stroff := o.Uint32(body[16:20])
	strsize := o.Uint32(body[20:24])

	strtab, err := bs.ReadExact(int64(stroff), int(strsize))
	if err != nil {
		return nil, analyzerr.Wrap(analyzerr.TruncatedFile, err, "Mach-O string table")
	}

	// nlist_64: n_strx(4) n_type(1) n_sect(1) n_desc(2) n_value(8) = 16 bytes.
	const nlist64Size = 16
	syms := make([]*Symbol, 0, nsyms)
	for i := uint32(0); i < nsyms; i++ {
		off := int64(symoff) + int64(i)*nlist64Size
		rec, err := bs.ReadExact(off, nlist64Size)
		if err != nil {
			return nil, analyzerr.Wrap(analyzerr.TruncatedFile, err, "nlist_64 entry %d", i)
		}
		strx := o.Uint32(rec[0:4])
		nType := rec[4]
		nSect := rec[5]
		value := o.Uint64(rec[8:16])

		if nType&nStab != 0 {
			continue // debugger symbol, not a function candidate
		}

		sym := &Symbol{
			Name:         cStringFrom(strtab, strx),
			Value:        value,
			SectionIndex: int(nSect),
		}
		if nType&nExt != 0 {
			sym.Binding = BindGlobal
		} else {
			sym.Binding = BindLocal
		}
		if nType&nTypeMask == nTypeSect && nSect != 0 {
			sym.Type = SymTypeFunction
		} else {
			sym.Type = SymTypeOther
		}
		syms = append(syms, sym)
	}
	return syms, nil
}

func cString(b []byte) string {
	for i, c := range b {
		if c == 0 {
			return string(b[:i])
		}
	}
	return string(b)
}

func cStringFrom(strtab []byte, off uint32) string {
	if int(off) >= len(strtab) {
		return ""
	}
	return cString(strtab[off:])
}

func (c *MachOContainer) Format() Format {
	if c.is64 {
		return FormatMachO64
	}
	return FormatMachO32
}

func (c *MachOContainer) EntryAddress() uint64  { return c.entry }
func (c *MachOContainer) Sections() []*Section  { return c.sections }
func (c *MachOContainer) Segments() []*Segment  { return nil }

func (c *MachOContainer) FunctionSymbols() []*Symbol {
	var fns []*Symbol
	for _, s := range c.symbols {
		if s.IsFunction() {
			fns = append(fns, s)
		}
	}
	sort.Slice(fns, func(i, j int) bool { return fns[i].Address() < fns[j].Address() })
	return fns
}

// VaddrToFileOffset maps through the enclosing __TEXT-family section
// rather than a segment table, since Mach-O containers report no
// Segments (the LC_SEGMENT_64 content is folded into Sections).
func (c *MachOContainer) VaddrToFileOffset(v uint64) uint64 {
	for _, s := range c.sections {
		if s.Contains(v) {
			return v - s.VAddr + s.FileOffset
		}
	}
	return NotFileBacked
}

func (c *MachOContainer) InsideTextRange(v uint64) bool {
	for _, s := range c.sections {
		if s.IsExecutableProgbits() && s.Contains(v) {
			return true
		}
	}
	return false
}
