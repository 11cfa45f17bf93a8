// Package lineinfo performs best-effort DWARF addr -> file:line lookups.
// Debug-line-info extraction is named in spec.md §1 as an out-of-scope
// external collaborator referenced only by interface; this package is
// the thin wrapper SPEC_FULL.md adds around it, always degrading to
// UnknownLocation rather than failing the rest of the analysis when
// debug info is absent or unparseable.
package lineinfo

import (
	"fmt"

	"armstatic/bytesource"
	"armstatic/container"

	"github.com/blacktop/go-dwarf"
)

// UnknownLocation is printed for any address with no resolvable
// source location.
const UnknownLocation = "__unknown__"

var debugSectionNames = []string{
	".debug_abbrev", ".debug_info", ".debug_line", ".debug_str", ".debug_ranges",
}

// Resolver maps virtual addresses to "file:line" strings using a
// container's DWARF debug sections, if present.
type Resolver struct {
	data *dwarf.Data
}

// Open reads the container's DWARF debug sections and builds a
// Resolver. When .debug_info is absent, empty, or fails to parse, Open
// still returns a non-nil Resolver whose Lookup always reports
// UnknownLocation — callers never need to special-case "no debug
// info" themselves.
func Open(bs *bytesource.ByteSource, c container.Container) *Resolver {
	sections := readDebugSections(bs, c)
	if len(sections[".debug_info"]) == 0 {
		return &Resolver{}
	}

	d, err := dwarf.New(
		sections[".debug_abbrev"],
		nil, nil,
		sections[".debug_info"],
		sections[".debug_line"],
		nil,
		sections[".debug_ranges"],
		sections[".debug_str"],
	)
	if err != nil {
		return &Resolver{}
	}
	return &Resolver{data: d}
}

func readDebugSections(bs *bytesource.ByteSource, c container.Container) map[string][]byte {
	out := make(map[string][]byte, len(debugSectionNames))
	wanted := make(map[string]bool, len(debugSectionNames))
	for _, n := range debugSectionNames {
		wanted[n] = true
	}

	for _, s := range c.Sections() {
		if !wanted[s.Name] || s.Size == 0 {
			continue
		}
		buf, err := bs.ReadExact(int64(s.FileOffset), int(s.Size))
		if err != nil {
			continue
		}
		out[s.Name] = buf
	}
	return out
}

// Lookup returns "file:line" for addr, or UnknownLocation if this
// Resolver carries no debug info, addr falls outside every compile
// unit, or the unit's line table carries no File.
func (r *Resolver) Lookup(addr uint64) string {
	if r == nil || r.data == nil {
		return UnknownLocation
	}

	cu, err := r.data.Reader().SeekPC(addr)
	if err != nil || cu == nil {
		return UnknownLocation
	}

	lr, err := r.data.LineReader(cu)
	if err != nil || lr == nil {
		return UnknownLocation
	}

	var entry dwarf.LineEntry
	var best *dwarf.LineEntry
	for lr.Next(&entry) == nil {
		if entry.Address > addr {
			break
		}
		found := entry
		best = &found
	}
	if best == nil || best.File == nil {
		return UnknownLocation
	}
	return fmt.Sprintf("%s:%d", best.File.Name, best.Line)
}
