// Package decode is the external collaborator spec.md §4.2 describes:
// given raw bytes, a decode mode, and a virtual address, it recognizes
// one ARM/Thumb/Thumb2 instruction and reports enough about it
// (opcode identity, condition, operands, branch target) for the
// instr and function packages to build control flow without ever
// re-reading memory themselves.
package decode

import "fmt"

// Mode is the instruction set an instruction is decoded under.
type Mode int

const (
	ModeARM Mode = iota
	ModeThumb
	ModeThumb2
)

func (m Mode) String() string {
	switch m {
	case ModeARM:
		return "ARM"
	case ModeThumb:
		return "Thumb"
	case ModeThumb2:
		return "Thumb2"
	default:
		return "unknown"
	}
}

// Opcode identifies an instruction's mnemonic class. Only the classes
// spec.md §4.4's predicates distinguish are named individually;
// everything else decodes to OpData. OpUnknown marks an instruction
// the decoder failed on: function.Disassemble substitutes it when
// Decode returns a DecodeFailure.
type Opcode int

const (
	OpUnknown Opcode = iota
	OpData           // generic data-processing / unclassified instruction

	OpB
	OpBL
	OpBX
	OpBLX
	OpBXJ
	OpCBZ
	OpCBNZ

	OpLDR
	OpLDM
	OpPOP
	OpVLD1
	OpVLD2
	OpVLD3
	OpVLD4
	OpVLDR
	OpVLDM
	OpVLDMIA
	OpVLDMDB
	OpVPOP

	OpSTR
	OpSTM
	OpPUSH
	OpVST1
	OpVST2
	OpVST3
	OpVST4
	OpVSTR
	OpVSTM
	OpVSTMIA
	OpVSTMDB
	OpVPUSH
)

var opcodeNames = map[Opcode]string{
	OpUnknown: "__unknown__",
	OpData:    "data",
	OpB:       "B", OpBL: "BL", OpBX: "BX", OpBLX: "BLX", OpBXJ: "BXJ",
	OpCBZ: "CBZ", OpCBNZ: "CBNZ",
	OpLDR: "LDR", OpLDM: "LDM", OpPOP: "POP",
	OpVLD1: "VLD1", OpVLD2: "VLD2", OpVLD3: "VLD3", OpVLD4: "VLD4",
	OpVLDR: "VLDR", OpVLDM: "VLDM", OpVLDMIA: "VLDMIA", OpVLDMDB: "VLDMDB", OpVPOP: "VPOP",
	OpSTR: "STR", OpSTM: "STM", OpPUSH: "PUSH",
	OpVST1: "VST1", OpVST2: "VST2", OpVST3: "VST3", OpVST4: "VST4",
	OpVSTR: "VSTR", OpVSTM: "VSTM", OpVSTMIA: "VSTMIA", OpVSTMDB: "VSTMDB", OpVPUSH: "VPUSH",
}

func (o Opcode) String() string {
	if s, ok := opcodeNames[o]; ok {
		return s
	}
	return fmt.Sprintf("Opcode(%d)", int(o))
}

// Condition is the 4-bit ARM condition field.
type Condition uint8

const (
	CondEQ Condition = iota
	CondNE
	CondCS
	CondCC
	CondMI
	CondPL
	CondVS
	CondVC
	CondHI
	CondLS
	CondGE
	CondLT
	CondGT
	CondLE
	CondAL
	CondUnconditional // Thumb/Thumb2 16-bit unconditional encodings carry no field
)

var condNames = map[Condition]string{
	CondEQ: "EQ", CondNE: "NE", CondCS: "CS", CondCC: "CC",
	CondMI: "MI", CondPL: "PL", CondVS: "VS", CondVC: "VC",
	CondHI: "HI", CondLS: "LS", CondGE: "GE", CondLT: "LT",
	CondGT: "GT", CondLE: "LE", CondAL: "AL", CondUnconditional: "AL",
}

// String renders the condition's two-letter mnemonic suffix. Both
// CondAL and CondUnconditional render "AL" — report callers that need
// to omit the always-true case check the condition value, not this
// string, per §4.4/§6.2.
func (c Condition) String() string {
	if s, ok := condNames[c]; ok {
		return s
	}
	return fmt.Sprintf("Condition(%d)", int(c))
}

// Datatype is the element type of a load/store or FP/SIMD operand,
// used by isFpOp (§4.4).
type Datatype int

const (
	DatatypeNone Datatype = iota
	DatatypeI8
	DatatypeI16
	DatatypeI32
	DatatypeI64
	DatatypeF16
	DatatypeF32
	DatatypeF64
)

// InvalidAddress is what instr.Instruction.BranchTarget reports when a
// branch has no statically-known target (register/indirect forms, which
// the decoder returns with HasTarget false), per §4.4.
const InvalidAddress = ^uint64(0)

// pcRegister is the register number conventionally aliased to PC in
// both the ARM and Thumb general register files.
const pcRegister = 15

// lrRegister is the register number conventionally aliased to LR.
const lrRegister = 14

// spRegister is the register number conventionally aliased to SP.
const spRegister = 13

// Decoded is one successfully recognized instruction, matching the
// §4.2 success contract.
type Decoded struct {
	Size           int // 2 or 4
	Opcode         Opcode
	Condition      Condition
	Immediate      int64
	Mode           Mode
	OperandRegs    []uint8
	RegisterList   uint32 // bitmap, bit n set means register n is in the list
	SourceType     Datatype
	DestType       Datatype
	HasTarget      bool
	BranchTarget   uint64
	TouchesPC      bool // destination register or register list includes PC
	IsLink         bool // BL/BLX forms that write LR
	IsIndirect     bool // register-form branch (BX/BLX reg, LDR pc, LDM..pc)
}

// Decoder is the external collaborator contract: recognize one
// instruction from data (which may hold up to 4 bytes, possibly
// fewer near end-of-buffer), under the given mode, located at vaddr.
type Decoder interface {
	Decode(data []byte, mode Mode, vaddr uint64) (*Decoded, error)
}
