// Package instr wraps a decode.Decoded result with the classification
// predicates spec.md §4.4 defines: isBranch/isConditionalBranch/
// isUnconditionalBranch/isCall/isLoad/isStore/isFpOp/hasFallthrough,
// plus the Stem() supplemented feature for a compact mnemonic-only
// rendering used by report.
package instr

import (
	"fmt"

	"armstatic/decode"
)

// InvalidAddress marks a branch target that cannot be determined
// statically (register/indirect forms), per §4.4.
const InvalidAddress = decode.InvalidAddress

var loadOpcodes = map[decode.Opcode]bool{
	decode.OpLDR: true, decode.OpLDM: true, decode.OpPOP: true,
	decode.OpVLD1: true, decode.OpVLD2: true, decode.OpVLD3: true, decode.OpVLD4: true,
	decode.OpVLDR: true, decode.OpVLDM: true, decode.OpVLDMIA: true, decode.OpVLDMDB: true,
	decode.OpVPOP: true,
}

var storeOpcodes = map[decode.Opcode]bool{
	decode.OpSTR: true, decode.OpSTM: true, decode.OpPUSH: true,
	decode.OpVST1: true, decode.OpVST2: true, decode.OpVST3: true, decode.OpVST4: true,
	decode.OpVSTR: true, decode.OpVSTM: true, decode.OpVSTMIA: true, decode.OpVSTMDB: true,
	decode.OpVPUSH: true,
}

var callOpcodes = map[decode.Opcode]bool{
	decode.OpBL: true, decode.OpBLX: true,
}

var fpDatatypes = map[decode.Datatype]bool{
	decode.DatatypeF16: true, decode.DatatypeF32: true, decode.DatatypeF64: true,
}

// Instruction is one decoded instruction attached to the function that
// owns it, per spec.md §3's Instruction entity.
type Instruction struct {
	Address uint64
	Raw     *decode.Decoded

	// funcVAddr/funcSize scope "inside this function" checks for branch
	// target classification (§4.3); they are the owning function's
	// address range, copied at construction so Instruction never holds
	// a back-pointer to Function (§9's arena/index-ownership design).
	funcVAddr uint64
	funcSize  uint64
}

// New wraps a decoded instruction with its owning function's address
// range.
func New(addr uint64, raw *decode.Decoded, funcVAddr, funcSize uint64) *Instruction {
	return &Instruction{Address: addr, Raw: raw, funcVAddr: funcVAddr, funcSize: funcSize}
}

// Size is the instruction's encoded length in bytes (2 or 4).
func (i *Instruction) Size() int { return i.Raw.Size }

// IsBranch reports isConditionalBranch ∨ isUnconditionalBranch.
func (i *Instruction) IsBranch() bool {
	return i.IsConditionalBranch() || i.IsUnconditionalBranch()
}

// IsConditionalBranch reports touchesPC ∧ (cond≠always ∨ opcode∈{CBZ,CBNZ}).
func (i *Instruction) IsConditionalBranch() bool {
	if !i.TouchesPC() {
		return false
	}
	if i.Raw.Opcode == decode.OpCBZ || i.Raw.Opcode == decode.OpCBNZ {
		return true
	}
	return i.Raw.Condition != decode.CondAL && i.Raw.Condition != decode.CondUnconditional
}

// IsUnconditionalBranch reports touchesPC ∧ cond=always ∧ opcode∉{CBZ,CBNZ}.
func (i *Instruction) IsUnconditionalBranch() bool {
	if !i.TouchesPC() {
		return false
	}
	if i.Raw.Opcode == decode.OpCBZ || i.Raw.Opcode == decode.OpCBNZ {
		return false
	}
	return i.Raw.Condition == decode.CondAL || i.Raw.Condition == decode.CondUnconditional
}

// TouchesPC reports whether this instruction's control flow reads PC,
// per §4.4: named branch opcodes, or PC as destination/register-list
// member.
func (i *Instruction) TouchesPC() bool {
	return i.Raw.TouchesPC
}

// IsCall reports opcode ∈ {BL, BLX}.
func (i *Instruction) IsCall() bool {
	return callOpcodes[i.Raw.Opcode]
}

// IsLoad reports opcode ∈ the load-family set named in §4.4.
func (i *Instruction) IsLoad() bool {
	return loadOpcodes[i.Raw.Opcode]
}

// IsStore reports opcode ∈ the store-family set named in §4.4.
func (i *Instruction) IsStore() bool {
	return storeOpcodes[i.Raw.Opcode]
}

// IsFpOp reports whether the source or destination datatype is a
// float kind.
func (i *Instruction) IsFpOp() bool {
	return fpDatatypes[i.Raw.SourceType] || fpDatatypes[i.Raw.DestType]
}

// HasFallthrough reports ¬isBranch ∨ isConditionalBranch ∨ isCall.
func (i *Instruction) HasFallthrough() bool {
	if !i.IsBranch() {
		return true
	}
	if i.IsConditionalBranch() {
		return true
	}
	return i.IsCall()
}

// FallthroughTarget is the address immediately following this
// instruction. Only meaningful when HasFallthrough is true.
func (i *Instruction) FallthroughTarget() uint64 {
	return i.Address + uint64(i.Raw.Size)
}

// BranchTarget returns the statically-known branch target, or
// InvalidAddress if this instruction has no encoded immediate (a
// register/indirect branch).
func (i *Instruction) BranchTarget() uint64 {
	if !i.Raw.HasTarget {
		return InvalidAddress
	}
	return i.Raw.BranchTarget
}

// InsideFunction reports whether vaddr lies within [funcVAddr,
// funcVAddr+funcSize), the §4.3 definition of "inside this function".
func (i *Instruction) InsideFunction(vaddr uint64) bool {
	return vaddr >= i.funcVAddr && vaddr < i.funcVAddr+i.funcSize
}

// GetControlTargets appends, in order, the fall-through target (if
// any) then the branch target (if any non-invalid), per §4.4.
func (i *Instruction) GetControlTargets() []uint64 {
	var targets []uint64
	if i.HasFallthrough() {
		targets = append(targets, i.FallthroughTarget())
	}
	if i.IsBranch() {
		if t := i.BranchTarget(); t != InvalidAddress {
			targets = append(targets, t)
		}
	}
	return targets
}

// IsTerminalSink reports whether this instruction has neither a
// fall-through nor a (valid) branch target — a true dead end, recorded
// without CFG edges per §4.4.
func (i *Instruction) IsTerminalSink() bool {
	return len(i.GetControlTargets()) == 0
}

// Stem returns a compact mnemonic-only rendering of this instruction
// (supplemented feature; EPAX's Instruction::stringRep returns the full
// darm disassembly text, which this toolkit's decoder does not
// reproduce — Stem gives report callers a stable identifier instead).
func (i *Instruction) Stem() string {
	if i.Raw.Opcode == decode.OpUnknown {
		return "__unknown__"
	}
	return i.Raw.Opcode.String()
}

// String renders address and mnemonic for debugging/logging.
func (i *Instruction) String() string {
	return fmt.Sprintf("%#x: %s", i.Address, i.Stem())
}
