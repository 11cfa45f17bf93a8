// Package report writes the line-oriented "static file" of spec.md
// §6.2: a fixed comment preamble followed by one primary line per
// instruction plus its tag continuation lines. Formatting follows the
// teacher's printer/printer.go style — pure fmt.Sprintf, one function
// per line kind, no templating library.
package report

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"armstatic/binary"
	"armstatic/cfg"
	"armstatic/decode"
	"armstatic/instr"
	"armstatic/lineinfo"
)

// unknown is the literal §6.2 mandates for every unresolved string field.
const unknown = "__unknown__"

// WriteFile runs Write against a freshly created path, per §6.3's
// "<path-to-binary>.static" output convention.
func WriteFile(path string, b *binary.Binary) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return Write(f, b)
}

// Write emits the full static file for b, which must already have
// WithFunctions run on it.
func Write(w io.Writer, b *binary.Binary) error {
	bw := bufio.NewWriter(w)
	dwarf := b.DWARF()

	fns := b.Functions()
	if _, err := bw.WriteString(formatPreamble(b, fns)); err != nil {
		return err
	}

	seq := 0
	for _, fn := range fns {
		if fn.CFG == nil {
			continue
		}
		if err := writeFunction(bw, b, fn, dwarf, &seq); err != nil {
			return err
		}
	}
	return bw.Flush()
}

// formatPreamble renders the fixed comment preamble: appname, appsize,
// total block count, total instruction count.
func formatPreamble(b *binary.Binary, fns []*binary.Function) string {
	var appsize, blocks, insns int
	for _, fn := range fns {
		appsize += int(fn.Size)
		if fn.CFG != nil {
			blocks += len(fn.CFG.Blocks)
			insns += len(fn.CFG.Instructions)
		}
	}
	return fmt.Sprintf("; appname=%s appsize=%d blocks=%d insns=%d\n",
		filepath.Base(b.Path), appsize, blocks, insns)
}

func writeFunction(bw *bufio.Writer, b *binary.Binary, fn *binary.Function, dwarf *lineinfo.Resolver, seq *int) error {
	g := fn.CFG
	for _, block := range g.Blocks {
		for _, ins := range block.Instructions {
			if err := writeInstruction(bw, b, g, fn, block, ins, dwarf, *seq); err != nil {
				return err
			}
			*seq++
		}
	}
	return nil
}

func writeInstruction(bw *bufio.Writer, b *binary.Binary, g *cfg.Graph, fn *binary.Function, block *cfg.BasicBlock, ins *instr.Instruction, dwarf *lineinfo.Resolver, seq int) error {
	lines := []string{formatPrimaryLine(seq, ins, fn, block, dwarf)}
	lines = append(lines, formatStrLine(ins))
	lines = append(lines, formatIsaLine(b, ins))
	if l := formatPrdLine(ins); l != "" {
		lines = append(lines, l)
	}
	if l := formatFlwLine(ins); l != "" {
		lines = append(lines, l)
	}
	if l := formatLpiLine(g, block); l != "" {
		lines = append(lines, l)
	}
	if l := formatLpcLine(g, block); l != "" {
		lines = append(lines, l)
	}
	lines = append(lines, formatCntLine(ins))
	if l := formatSrgLine(ins); l != "" {
		lines = append(lines, l)
	}
	if l := formatIpaLine(b, ins); l != "" {
		lines = append(lines, l)
	}

	for _, l := range lines {
		if _, err := bw.WriteString(l); err != nil {
			return err
		}
		if err := bw.WriteByte('\n'); err != nil {
			return err
		}
	}
	return nil
}

// formatPrimaryLine renders "<seq> <vaddr> <funcName> <funcId> <bbId>
// <srcFile>:<srcLine>". funcId is the function's dense index in the
// vaddr-sorted function list, which the walk visits in order. bbId is
// the block's index within its own function: it restarts at 0 for each
// function rather than counting blocks across the whole walk.
func formatPrimaryLine(seq int, ins *instr.Instruction, fn *binary.Function, block *cfg.BasicBlock, dwarf *lineinfo.Resolver) string {
	loc := unknown
	if dwarf != nil {
		loc = dwarf.Lookup(ins.Address)
	}
	return fmt.Sprintf("%d 0x%x %s %d %d %s", seq, ins.Address, fn.Name, fn.Index, block.Index, loc)
}

func formatStrLine(ins *instr.Instruction) string {
	mnemonic := ins.Stem()
	operands := formatOperands(ins)
	if operands == "" {
		return fmt.Sprintf("  +str %s", mnemonic)
	}
	return fmt.Sprintf("  +str %s %s", mnemonic, operands)
}

func formatOperands(ins *instr.Instruction) string {
	seen := make(map[uint8]bool)
	var parts []string
	for _, r := range ins.Raw.OperandRegs {
		if seen[r] {
			continue
		}
		seen[r] = true
		parts = append(parts, registerName(r))
	}
	for n := uint8(0); n < 16; n++ {
		if ins.Raw.RegisterList&(1<<n) == 0 || seen[n] {
			continue
		}
		parts = append(parts, registerName(n))
	}
	return strings.Join(parts, ",")
}

func registerName(n uint8) string {
	switch n {
	case 13:
		return "sp"
	case 14:
		return "lr"
	case 15:
		return "pc"
	default:
		return fmt.Sprintf("r%d", n)
	}
}

// formatIsaLine renders "+isa <group1,group2,...> <bytes>", reading
// the instruction's original encoded bytes back out of the binary
// since Decoded only keeps the classified form.
func formatIsaLine(b *binary.Binary, ins *instr.Instruction) string {
	groups := classificationGroups(ins)
	raw, err := b.ReadBytes(ins.Address, ins.Size())
	bytesField := unknown
	if err == nil {
		bytesField = fmt.Sprintf("%x", raw)
	}
	return fmt.Sprintf("  +isa %s %s", strings.Join(groups, ","), bytesField)
}

func classificationGroups(ins *instr.Instruction) []string {
	var groups []string
	if ins.IsCall() {
		groups = append(groups, "call")
	}
	if ins.IsBranch() {
		groups = append(groups, "branch")
	}
	if ins.IsLoad() {
		groups = append(groups, "load")
	}
	if ins.IsStore() {
		groups = append(groups, "store")
	}
	if ins.IsFpOp() {
		groups = append(groups, "fp")
	}
	if len(groups) == 0 {
		groups = append(groups, "data")
	}
	return groups
}

// formatPrdLine renders "+prd <condName>", omitted for unconditional
// or always-executed instructions.
func formatPrdLine(ins *instr.Instruction) string {
	cond := ins.Raw.Condition
	if cond == decode.CondAL || cond == decode.CondUnconditional {
		return ""
	}
	return fmt.Sprintf("  +prd %s", cond.String())
}

// formatFlwLine renders "+flw <tgt1> <tgt2> ...", omitted when the
// instruction has no explicit control targets.
func formatFlwLine(ins *instr.Instruction) string {
	targets := ins.GetControlTargets()
	if len(targets) == 0 {
		return ""
	}
	parts := make([]string, len(targets))
	for i, t := range targets {
		parts[i] = fmt.Sprintf("0x%x", t)
	}
	return fmt.Sprintf("  +flw %s", strings.Join(parts, " "))
}

// formatLpiLine renders "+lpi <loopCount> <loopId> <depth>
// <loopHeadAddr> <loopTailAddr>" for a block's innermost loop, omitted
// outside any loop.
func formatLpiLine(g *cfg.Graph, block *cfg.BasicBlock) string {
	if block.Loop == nil {
		return ""
	}
	loop := block.Loop
	loopID := loopIndex(g, loop)
	return fmt.Sprintf("  +lpi %d %d %d 0x%x 0x%x",
		len(g.Loops), loopID, loop.Depth, loop.Head().StartAddress(), loop.Tail().StartAddress())
}

// formatLpcLine renders "+lpc <parentHeadAddr> <parentTailAddr>",
// omitted when the block's innermost loop has no parent.
func formatLpcLine(g *cfg.Graph, block *cfg.BasicBlock) string {
	if block.Loop == nil {
		return ""
	}
	parent := g.GetParentOf(block.Loop)
	if parent == nil {
		return ""
	}
	return fmt.Sprintf("  +lpc 0x%x 0x%x", parent.Head().StartAddress(), parent.Tail().StartAddress())
}

func loopIndex(g *cfg.Graph, l *cfg.Loop) int {
	for i, other := range g.Loops {
		if other == l {
			return i
		}
	}
	return -1
}

// formatCntLine renders "+cnt <isBranch> <isFpOp> <isLoad> <isStore>"
// as 0/1 decimal flags.
func formatCntLine(ins *instr.Instruction) string {
	return fmt.Sprintf("  +cnt %s %s %s %s",
		boolFlag(ins.IsBranch()), boolFlag(ins.IsFpOp()), boolFlag(ins.IsLoad()), boolFlag(ins.IsStore()))
}

func boolFlag(b bool) string {
	if b {
		return "1"
	}
	return "0"
}

// formatSrgLine renders "+srg <elems>x<elemBits>:<isFp>:<isInt>",
// omitted when neither operand carries a known datatype. elems is
// always 1: the decoder does not track SIMD lane counts, only the
// scalar element type of a load/store/VFP operand.
func formatSrgLine(ins *instr.Instruction) string {
	dt := ins.Raw.SourceType
	if dt == decode.DatatypeNone {
		dt = ins.Raw.DestType
	}
	bits, isFp, ok := datatypeWidth(dt)
	if !ok {
		return ""
	}
	return fmt.Sprintf("  +srg 1x%d:%s:%s", bits, boolFlag(isFp), boolFlag(!isFp))
}

func datatypeWidth(dt decode.Datatype) (bits int, isFp bool, ok bool) {
	switch dt {
	case decode.DatatypeI8:
		return 8, false, true
	case decode.DatatypeI16:
		return 16, false, true
	case decode.DatatypeI32:
		return 32, false, true
	case decode.DatatypeI64:
		return 64, false, true
	case decode.DatatypeF16:
		return 16, true, true
	case decode.DatatypeF32:
		return 32, true, true
	case decode.DatatypeF64:
		return 64, true, true
	default:
		return 0, false, false
	}
}

// formatIpaLine renders "+ipa <callTargetAddr> <callTargetName>",
// emitted only for call instructions.
func formatIpaLine(b *binary.Binary, ins *instr.Instruction) string {
	if !ins.IsCall() {
		return ""
	}
	target := ins.BranchTarget()
	if target == instr.InvalidAddress {
		return fmt.Sprintf("  +ipa %s %s", unknown, unknown)
	}
	name := unknown
	if f := b.FindFunctionAt(target); f != nil {
		name = f.Name
	}
	return fmt.Sprintf("  +ipa 0x%x %s", target, name)
}
