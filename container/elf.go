package container

import (
	"encoding/binary"
	"sort"

	"armstatic/analyzerr"
	"armstatic/bytesource"
)

// ELF structural constants (subset needed for analysis).
const (
	elfMagic0 = 0x7F
	elfMagic1 = 'E'
	elfMagic2 = 'L'
	elfMagic3 = 'F'

	elfClass32 = 1
	elfClass64 = 2

	elfDataLSB = 1
	elfDataMSB = 2

	elfIdentSize = 16

	shtProgbits = 1
	shtSymtab   = 2
	shtStrtab   = 3
	shtNobits   = 8
	shtDynsym   = 11

	shfWrite     = 0x1
	shfAlloc     = 0x2
	shfExecinstr = 0x4
	shfMerge     = 0x10

	sttFunc    = 2
	sttSection = 3
	sttFile    = 4

	stbLocal  = 0
	stbGlobal = 1
	stbWeak   = 2
)

// ElfContainer implements Container over an ELF32 or ELF64 object file.
// The 32/64 distinction is kept as a runtime class bit rather than a
// type parameter, per spec.md §9's design note: the traversal logic is
// identical, only the on-disk record widths differ, so a single parser
// parameterized by those widths serves both classes.
type ElfContainer struct {
	class    int // elfClass32 or elfClass64
	order    binary.ByteOrder
	entry    uint64
	sections []*Section
	segments []*Segment
	symbols  []*Symbol
}

// DetectElf verifies the ELF magic and class and, on success, fully
// parses the section/segment/symbol tables. It returns (nil, nil) if
// the magic does not match at all (not an error — the caller tries
// other formats), and a non-nil error for a match that fails
// structurally.
func DetectElf(bs *bytesource.ByteSource) (Container, error) {
	ident, err := bs.ReadExact(0, elfIdentSize)
	if err != nil {
		return nil, nil // too short to be any format; let detection move on
	}
	if ident[0] != elfMagic0 || ident[1] != elfMagic1 || ident[2] != elfMagic2 || ident[3] != elfMagic3 {
		return nil, nil
	}

	class := int(ident[4])
	if class != elfClass32 && class != elfClass64 {
		return nil, analyzerr.New(analyzerr.MalformedHeader, "ELF EI_CLASS byte %d is neither 32 nor 64-bit", class)
	}

	var order binary.ByteOrder
	switch ident[5] {
	case elfDataLSB:
		order = binary.LittleEndian
	case elfDataMSB:
		order = binary.BigEndian
	default:
		return nil, analyzerr.New(analyzerr.MalformedHeader, "ELF EI_DATA byte %d is not a known endianness", ident[5])
	}

	c := &ElfContainer{class: class, order: order}
	if err := c.parse(bs); err != nil {
		return nil, err
	}
	return c, nil
}

// elfHeader is the subset of the ELF file header fields needed beyond
// e_ident, laid out at fixed byte offsets from elfIdentSize that differ
// between the 32 and 64-bit record shapes.
type elfHeader struct {
	entry     uint64
	phoff     uint64
	shoff     uint64
	phentsize uint16
	phnum     uint16
	shentsize uint16
	shnum     uint16
	shstrndx  uint16
}

func (c *ElfContainer) readHeader(buf []byte) elfHeader {
	o := c.order
	var h elfHeader
	b := buf[elfIdentSize:]
	if c.class == elfClass32 {
		// e_type(2) e_machine(2) e_version(4) e_entry(4) e_phoff(4) e_shoff(4)
		// e_flags(4) e_ehsize(2) e_phentsize(2) e_phnum(2) e_shentsize(2)
		// e_shnum(2) e_shstrndx(2), all following the 16-byte e_ident.
		h.entry = uint64(o.Uint32(b[8:12]))
		h.phoff = uint64(o.Uint32(b[12:16]))
		h.shoff = uint64(o.Uint32(b[16:20]))
		h.phentsize = o.Uint16(b[26:28])
		h.phnum = o.Uint16(b[28:30])
		h.shentsize = o.Uint16(b[30:32])
		h.shnum = o.Uint16(b[32:34])
		h.shstrndx = o.Uint16(b[34:36])
	} else {
		// e_entry/e_phoff/e_shoff widen to 8 bytes; everything after shifts.
		h.entry = o.Uint64(b[8:16])
		h.phoff = o.Uint64(b[16:24])
		h.shoff = o.Uint64(b[24:32])
		h.phentsize = o.Uint16(b[38:40])
		h.phnum = o.Uint16(b[40:42])
		h.shentsize = o.Uint16(b[42:44])
		h.shnum = o.Uint16(b[44:46])
		h.shstrndx = o.Uint16(b[46:48])
	}
	return h
}

func (c *ElfContainer) headerSize() int {
	if c.class == elfClass32 {
		return elfIdentSize + 36
	}
	return elfIdentSize + 48
}

func (c *ElfContainer) parse(bs *bytesource.ByteSource) error {
	hdrBuf, err := bs.ReadExact(0, c.headerSize())
	if err != nil {
		return analyzerr.Wrap(analyzerr.TruncatedFile, err, "ELF file header")
	}
	h := c.readHeader(hdrBuf)
	c.entry = h.entry

	segments, err := c.parseSegments(bs, h)
	if err != nil {
		return err
	}
	c.segments = segments

	raws, err := c.parseRawSections(bs, h)
	if err != nil {
		return err
	}

	if int(h.shstrndx) >= len(raws) {
		return analyzerr.New(analyzerr.DanglingReference, "e_shstrndx %d out of range (%d sections)", h.shstrndx, len(raws))
	}
	shstrtab, err := readStringTable(bs, raws[h.shstrndx].offset, raws[h.shstrndx].size)
	if err != nil {
		return err
	}

	sections := make([]*Section, len(raws))
	strtabBySection := make(map[int]map[uint32]string, len(raws))
	for i, r := range raws {
		s := &Section{
			Name:       stringAt(shstrtab, r.nameOff),
			FileOffset: r.offset,
			VAddr:      r.vaddr,
			Size:       r.size,
			isProgbits: r.typ == shtProgbits,
		}
		s.Flags = SectionFlags{
			Read:  true,
			Write: r.flags&shfWrite != 0,
			Exec:  r.flags&shfExecinstr != 0,
			Alloc: r.flags&shfAlloc != 0,
			Merge: r.flags&shfMerge != 0,
		}
		s.Kind = classifySection(r, i == int(h.shstrndx))
		sections[i] = s

		if s.Kind == SectionKindSymTab {
			linked := int(r.link)
			if linked >= 0 && linked < len(raws) {
				strtab, err := readStringTable(bs, raws[linked].offset, raws[linked].size)
				if err != nil {
					return err
				}
				strtabBySection[i] = strtab
			}
		}
	}
	c.sections = sections

	symbols, err := c.parseSymbols(bs, raws, strtabBySection)
	if err != nil {
		return err
	}
	c.symbols = symbols

	return nil
}

func (c *ElfContainer) segmentRecordSize() int64 {
	if c.class == elfClass32 {
		return 32
	}
	return 56
}

func (c *ElfContainer) parseSegments(bs *bytesource.ByteSource, h elfHeader) ([]*Segment, error) {
	if h.phnum == 0 {
		return nil, nil
	}
	recSize := c.segmentRecordSize()
	if int64(h.phentsize) != 0 && int64(h.phentsize) != recSize {
		return nil, analyzerr.New(analyzerr.MalformedHeader, "unexpected program header entry size %d", h.phentsize)
	}

	segs := make([]*Segment, 0, h.phnum)
	for i := 0; i < int(h.phnum); i++ {
		off := int64(h.phoff) + int64(i)*recSize
		rec, err := bs.ReadExact(off, int(recSize))
		if err != nil {
			return nil, analyzerr.Wrap(analyzerr.TruncatedFile, err, "program header %d", i)
		}

		o := c.order
		seg := &Segment{}
		if c.class == elfClass32 {
			seg.Type = o.Uint32(rec[0:4])
			seg.FileOffset = uint64(o.Uint32(rec[4:8]))
			seg.VAddr = uint64(o.Uint32(rec[8:12]))
			seg.FileSize = uint64(o.Uint32(rec[16:20]))
			seg.MemSize = uint64(o.Uint32(rec[20:24]))
			seg.Flags = o.Uint32(rec[24:28])
		} else {
			seg.Type = o.Uint32(rec[0:4])
			seg.Flags = o.Uint32(rec[4:8])
			seg.FileOffset = o.Uint64(rec[8:16])
			seg.VAddr = o.Uint64(rec[16:24])
			seg.FileSize = o.Uint64(rec[32:40])
			seg.MemSize = o.Uint64(rec[40:48])
		}
		segs = append(segs, seg)
	}
	return segs, nil
}

func (c *ElfContainer) sectionRecordSize() int64 {
	if c.class == elfClass32 {
		return 40
	}
	return 64
}

type rawSection struct {
	nameOff uint32
	typ     uint32
	flags   uint64
	vaddr   uint64
	offset  uint64
	size    uint64
	link    uint32
}

func (c *ElfContainer) parseRawSections(bs *bytesource.ByteSource, h elfHeader) ([]rawSection, error) {
	if h.shnum == 0 {
		return nil, nil
	}
	recSize := c.sectionRecordSize()
	if int64(h.shentsize) != 0 && int64(h.shentsize) != recSize {
		return nil, analyzerr.New(analyzerr.MalformedHeader, "unexpected section header entry size %d", h.shentsize)
	}

	raws := make([]rawSection, h.shnum)
	o := c.order
	for i := 0; i < int(h.shnum); i++ {
		off := int64(h.shoff) + int64(i)*recSize
		rec, err := bs.ReadExact(off, int(recSize))
		if err != nil {
			return nil, analyzerr.Wrap(analyzerr.TruncatedFile, err, "section header %d", i)
		}

		var r rawSection
		if c.class == elfClass32 {
			r.nameOff = o.Uint32(rec[0:4])
			r.typ = o.Uint32(rec[4:8])
			r.flags = uint64(o.Uint32(rec[8:12]))
			r.vaddr = uint64(o.Uint32(rec[12:16]))
			r.offset = uint64(o.Uint32(rec[16:20]))
			r.size = uint64(o.Uint32(rec[20:24]))
			r.link = o.Uint32(rec[24:28])
		} else {
			r.nameOff = o.Uint32(rec[0:4])
			r.typ = o.Uint32(rec[4:8])
			r.flags = o.Uint64(rec[8:16])
			r.vaddr = o.Uint64(rec[16:24])
			r.offset = o.Uint64(rec[24:32])
			r.size = o.Uint64(rec[32:40])
			r.link = o.Uint32(rec[40:44])
		}
		raws[i] = r
	}
	return raws, nil
}

func classifySection(r rawSection, isShstrtab bool) SectionKind {
	switch r.typ {
	case shtSymtab, shtDynsym:
		return SectionKindSymTab
	case shtStrtab:
		return SectionKindStringTab
	case shtNobits:
		return SectionKindBSS
	case shtProgbits:
		if r.flags&shfExecinstr != 0 {
			return SectionKindText
		}
		if r.flags&shfAlloc != 0 {
			return SectionKindData
		}
		return SectionKindDebug
	}
	if isShstrtab {
		return SectionKindStringTab
	}
	return SectionKindUnknown
}

func readStringTable(bs *bytesource.ByteSource, offset, size uint64) (map[uint32]string, error) {
	if size == 0 {
		return map[uint32]string{}, nil
	}
	data, err := bs.ReadExact(int64(offset), int(size))
	if err != nil {
		return nil, analyzerr.Wrap(analyzerr.TruncatedFile, err, "string table at 0x%x", offset)
	}
	return indexNullTerminatedStrings(data), nil
}

// indexNullTerminatedStrings treats raw as a sequence of NUL-terminated
// strings indexed by byte offset, per spec.md §4.1's string-table
// contract: any byte offset into the table may be used as a lookup key
// and yields the string starting there.
func indexNullTerminatedStrings(raw []byte) map[uint32]string {
	out := make(map[uint32]string)
	start := 0
	for i := 0; i <= len(raw); i++ {
		if i == len(raw) || raw[i] == 0 {
			out[uint32(start)] = string(raw[start:i])
			start = i + 1
		}
	}
	return out
}

// stringAt resolves a byte offset into a NUL-terminated string table,
// accepting offsets that land mid-string as well as ones that land
// exactly on a recorded start.
func stringAt(table map[uint32]string, off uint32) string {
	if s, ok := table[off]; ok {
		return s
	}
	best := ""
	bestStart := uint32(0)
	found := false
	for start, s := range table {
		if start <= off && (!found || start > bestStart) {
			bestStart = start
			best = s
			found = true
		}
	}
	if !found || off-bestStart >= uint32(len(best)) {
		return ""
	}
	return best[off-bestStart:]
}

func (c *ElfContainer) symbolRecordSize() int64 {
	if c.class == elfClass32 {
		return 16
	}
	return 24
}

func (c *ElfContainer) parseSymbols(bs *bytesource.ByteSource, raws []rawSection, strtabBySection map[int]map[uint32]string) ([]*Symbol, error) {
	var all []*Symbol
	recSize := c.symbolRecordSize()

	for secIdx, r := range raws {
		if classifySection(r, false) != SectionKindSymTab {
			continue
		}
		if r.size == 0 {
			continue
		}
		count := int(r.size / uint64(recSize))
		strtab := strtabBySection[secIdx]

		for i := 0; i < count; i++ {
			off := int64(r.offset) + int64(i)*recSize
			rec, err := bs.ReadExact(off, int(recSize))
			if err != nil {
				return nil, analyzerr.Wrap(analyzerr.TruncatedFile, err, "symbol table entry %d", i)
			}

			o := c.order
			var nameOff uint32
			var value, size uint64
			var info uint8
			var shndx uint16

			if c.class == elfClass32 {
				nameOff = o.Uint32(rec[0:4])
				value = uint64(o.Uint32(rec[4:8]))
				size = uint64(o.Uint32(rec[8:12]))
				info = rec[12]
				shndx = o.Uint16(rec[14:16])
			} else {
				nameOff = o.Uint32(rec[0:4])
				info = rec[4]
				shndx = o.Uint16(rec[6:8])
				value = o.Uint64(rec[8:16])
				size = o.Uint64(rec[16:24])
			}

			sym := &Symbol{
				Value:        value,
				Size:         size,
				SectionIndex: int(shndx),
				Type:         symbolType(info & 0xf),
				Binding:      symbolBinding(info >> 4),
			}
			if strtab != nil {
				sym.Name = stringAt(strtab, nameOff)
			}
			all = append(all, sym)
		}
	}
	return all, nil
}

func symbolType(t uint8) SymbolType {
	switch t {
	case sttFunc:
		return SymTypeFunction
	case 1:
		return SymTypeObject
	case sttSection:
		return SymTypeSection
	case sttFile:
		return SymTypeFile
	case 0:
		return SymTypeNone
	default:
		return SymTypeOther
	}
}

func symbolBinding(b uint8) SymbolBinding {
	switch b {
	case stbLocal:
		return BindLocal
	case stbGlobal:
		return BindGlobal
	case stbWeak:
		return BindWeak
	default:
		return BindOther
	}
}

func (c *ElfContainer) Format() Format {
	if c.class == elfClass32 {
		return FormatElf32
	}
	return FormatElf64
}

func (c *ElfContainer) EntryAddress() uint64 { return c.entry }
func (c *ElfContainer) Sections() []*Section { return c.sections }
func (c *ElfContainer) Segments() []*Segment { return c.segments }

func (c *ElfContainer) FunctionSymbols() []*Symbol {
	var fns []*Symbol
	for _, s := range c.symbols {
		if s.IsFunction() {
			fns = append(fns, s)
		}
	}
	sort.Slice(fns, func(i, j int) bool { return fns[i].Address() < fns[j].Address() })
	return fns
}

func (c *ElfContainer) VaddrToFileOffset(v uint64) uint64 {
	for _, seg := range c.segments {
		if seg.IsValidVaddr(v) {
			return seg.VaddrToFileOffset(v)
		}
	}
	return NotFileBacked
}

func (c *ElfContainer) InsideTextRange(v uint64) bool {
	for _, s := range c.sections {
		if s.IsExecutableProgbits() && s.Contains(v) {
			return true
		}
	}
	return false
}
