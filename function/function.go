// Package function disassembles the byte range backing one function
// symbol into Instructions and partitions them into basic-block
// leaders, per spec.md §4.3. It does not build the control-flow graph
// itself — cfg.Build consumes the block list this package produces —
// keeping disassembly and graph construction as separate, individually
// testable stages the way the teacher keeps packet processing and
// trace-decode as separate stages.
package function

import (
	"sort"

	"armstatic"
	"armstatic/bytesource"
	"armstatic/container"
	"armstatic/decode"
	"armstatic/instr"
)

// Block is one leader-partitioned run of instructions, prior to CFG
// wiring. cfg.Build consumes a []*Block to produce indexed,
// edge-wired BasicBlocks.
type Block struct {
	Instructions []*instr.Instruction
}

// StartAddress is this block's first instruction's address.
func (b *Block) StartAddress() uint64 {
	return b.Instructions[0].Address
}

// Tail is this block's last instruction, the one whose control targets
// determine the block's successors.
func (b *Block) Tail() *instr.Instruction {
	return b.Instructions[len(b.Instructions)-1]
}

// Function is one function symbol's address range plus its decoded
// instruction stream. Disassemble() is idempotent and safe to call at
// most once; a second call is a no-op, matching EPAX's Function::
// disassemble guard via the controlflow-already-built check, here made
// explicit via a disassembled flag rather than a nil-pointer sentinel
// (§9's REDESIGN FLAGS: explicit one-shot state over lazy init).
type Function struct {
	Name       string
	VAddr      uint64
	Size       uint64
	FileOffset uint64
	IsThumb    bool
	Index      int

	instructions []*instr.Instruction
	blocks       []*Block
	disassembled bool
	log          armstatic.Logger
}

// New constructs a Function descriptor. Disassemble must be called
// separately to populate its instruction stream. Logs nowhere until
// WithLogger attaches a real Logger.
func New(name string, vaddr, size, fileOffset uint64, isThumb bool, index int) *Function {
	return &Function{
		Name: name, VAddr: vaddr, Size: size, FileOffset: fileOffset,
		IsThumb: isThumb, Index: index,
		log: armstatic.NewNoOpLogger(),
	}
}

// WithLogger attaches l as this Function's logger. Returns the
// receiver for chaining.
func (f *Function) WithLogger(l armstatic.Logger) *Function {
	f.log = l
	return f
}

// InRange reports whether addr lies within this function's byte range,
// per §4.3's "inside this function" definition.
func (f *Function) InRange(addr uint64) bool {
	return addr >= f.VAddr && addr < f.VAddr+f.Size
}

// Mode returns the initial decode mode for this function's entry
// point: Thumb2 if the owning symbol's Thumb bit was set, ARM
// otherwise (§4.3's disassembleMode; EPAX never distinguishes plain
// Thumb from Thumb2 at the function level since the decoder's
// mode-resolution rule handles the 16/32-bit split per instruction).
func (f *Function) Mode() decode.Mode {
	if f.IsThumb {
		return decode.ModeThumb2
	}
	return decode.ModeARM
}

// Instructions returns the flat, address-ordered instruction stream.
// Valid only after Disassemble.
func (f *Function) Instructions() []*instr.Instruction { return f.instructions }

// Blocks returns the leader-partitioned basic blocks. Valid only after
// Disassemble.
func (f *Function) Blocks() []*Block { return f.blocks }

// Disassembled reports whether Disassemble has run (successfully or as
// a no-op) on this Function.
func (f *Function) Disassembled() bool { return f.disassembled }

// Disassemble reads this function's byte range from bs, decodes it
// into an instruction stream using dec, and partitions the result into
// leader-delimited basic blocks. It is idempotent: a second call
// returns nil immediately. A FileOffset of 0 is a documented no-op
// (§4.3) — such functions carry no disassembly and no CFG.
func (f *Function) Disassemble(bs *bytesource.ByteSource, dec decode.Decoder) error {
	if f.disassembled {
		return nil
	}
	f.disassembled = true

	if f.FileOffset == container.NotFileBacked {
		return nil
	}
	if f.Size == 0 {
		return nil
	}

	buf, err := bs.ReadExact(int64(f.FileOffset), int(f.Size))
	if err != nil {
		return err
	}

	mode := f.Mode()
	var insns []*instr.Instruction
	addrToIndex := make(map[uint64]int)

	for cur := uint32(0); cur < uint32(len(buf)); {
		addr := f.VAddr + uint64(cur)

		window := buf[cur:]
		if len(window) > 4 {
			window = window[:4]
		}
		dres, derr := dec.Decode(window, mode, addr)
		if derr != nil {
			// §7: DecodeFailure is logged, not fatal — the affected
			// instruction is emitted as an opaque, zero-value "__unknown__"
			// decode (non-branching, non-memory, non-fp by construction)
			// and disassembly continues past it rather than truncating
			// the rest of the function.
			f.log.Logf(armstatic.SeverityWarning, "%s: %s", f.Name, derr)
			unitSize := minUnitSize(mode)
			if unitSize > len(window) {
				break
			}
			dres = &decode.Decoded{Size: unitSize, Opcode: decode.OpUnknown, Mode: mode}
			ins := instr.New(addr, dres, f.VAddr, f.Size)
			addrToIndex[addr] = len(insns)
			insns = append(insns, ins)
			cur += uint32(unitSize)
			continue
		}
		if uint32(cur)+uint32(dres.Size) > uint32(len(buf)) {
			break
		}

		ins := instr.New(addr, dres, f.VAddr, f.Size)
		addrToIndex[addr] = len(insns)
		insns = append(insns, ins)
		cur += uint32(dres.Size)
	}

	if len(insns) == 0 {
		return nil
	}
	f.instructions = insns

	leaders := make([]bool, len(insns))
	leaders[0] = true
	for _, ins := range insns {
		if !ins.IsBranch() {
			continue
		}
		ft := ins.FallthroughTarget()
		if f.InRange(ft) {
			if idx, ok := addrToIndex[ft]; ok {
				leaders[idx] = true
			}
		}
		tgt := ins.BranchTarget()
		if tgt != instr.InvalidAddress && f.InRange(tgt) {
			if idx, ok := addrToIndex[tgt]; ok {
				leaders[idx] = true
			}
		}
	}

	var blocks []*Block
	cur := &Block{Instructions: []*instr.Instruction{insns[0]}}
	for i := 1; i < len(insns); i++ {
		if leaders[i] {
			blocks = append(blocks, cur)
			cur = &Block{}
		}
		cur.Instructions = append(cur.Instructions, insns[i])
	}
	if len(cur.Instructions) > 0 {
		blocks = append(blocks, cur)
	}
	f.blocks = blocks

	return nil
}

// minUnitSize is the smallest possible encoding length in the given
// mode — the amount to advance past an instruction the decoder could
// not recognize, so a single bad halfword/word doesn't desync the rest
// of the stream.
func minUnitSize(mode decode.Mode) int {
	if mode == decode.ModeARM {
		return 4
	}
	return 2
}

// FindInstruction returns the instruction at addr, or nil if none
// decoded there. Uses a binary search over the address-sorted
// instruction stream (§9 Open Questions: corrects the source's linear
// scan / unimplemented-binary-search TODO).
func (f *Function) FindInstruction(addr uint64) *instr.Instruction {
	insns := f.instructions
	idx := sort.Search(len(insns), func(i int) bool { return insns[i].Address >= addr })
	if idx < len(insns) && insns[idx].Address == addr {
		return insns[idx]
	}
	return nil
}
