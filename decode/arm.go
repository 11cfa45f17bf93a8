package decode

import (
	"encoding/binary"

	"armstatic/analyzerr"
)

// ArmDecoder is the reference Decoder: a direct adaptation of the
// teacher's ptm.InstrDecoder opcode-matching style (mask/compare
// against fixed bit patterns, one case per recognized instruction
// family) to operate on an in-memory byte window instead of a
// MemoryAccessor, and to report the richer Decoded shape §4.2 needs
// rather than just branch behavior.
type ArmDecoder struct{}

// NewArmDecoder constructs the reference decoder. It carries no state;
// mode is passed per call since a single function may mix ARM and
// Thumb2 regions is never true in practice, but the Decoder contract
// is mode-per-call regardless.
func NewArmDecoder() *ArmDecoder {
	return &ArmDecoder{}
}

// Decode implements Decoder. See §4.2 for the mode-resolution rule
// this follows for Thumb2.
func (d *ArmDecoder) Decode(data []byte, mode Mode, vaddr uint64) (*Decoded, error) {
	switch mode {
	case ModeARM:
		return d.decodeARM(data, vaddr)
	case ModeThumb, ModeThumb2:
		return d.decodeThumb(data, vaddr)
	default:
		return nil, analyzerr.New(analyzerr.DecodeFailure, "unknown decode mode %v", mode)
	}
}

func (d *ArmDecoder) decodeARM(data []byte, vaddr uint64) (*Decoded, error) {
	if len(data) < 4 {
		return nil, analyzerr.New(analyzerr.DecodeFailure, "truncated ARM instruction at 0x%x: %d bytes available", vaddr, len(data))
	}
	opcode := binary.LittleEndian.Uint32(data[0:4])
	out := &Decoded{Size: 4, Mode: ModeARM, Immediate: 0}

	cond := (opcode >> 28) & 0xF
	if cond == 0xF {
		out.Condition = CondUnconditional
		if (opcode & 0xFE000000) == 0xFA000000 {
			out.Opcode = OpBLX
			out.IsLink = true
			out.TouchesPC = true
			offset := int32(opcode&0x00FFFFFF) << 2
			if opcode&0x01000000 != 0 {
				offset |= 2
			}
			if offset&0x02000000 != 0 {
				offset |= ^int32(0x03FFFFFF)
			}
			// ARM-state BLX (immediate, switches to Thumb): word-aligned
			// address plus 8 plus the offset; the H bit supplies offset bit 1.
			target := (vaddr &^ 3) + 8 + uint64(int64(offset))
			out.HasTarget = true
			out.BranchTarget = target & 0xFFFFFFFF
			return out, nil
		}
		out.Opcode = OpData
		return out, nil
	}

	out.Condition = Condition(cond)
	if cond == 0xE {
		out.Condition = CondAL
	}

	// B/BL: bits 27-25 = 101
	if (opcode & 0x0E000000) == 0x0A000000 {
		out.TouchesPC = true
		if opcode&0x01000000 != 0 {
			out.Opcode = OpBL
			out.IsLink = true
		} else {
			out.Opcode = OpB
		}
		offset := int32(opcode & 0x00FFFFFF)
		if offset&0x00800000 != 0 {
			offset |= ^int32(0x00FFFFFF)
		}
		offset <<= 2
		out.HasTarget = true
		out.BranchTarget = uint64(int64(vaddr)+int64(offset)+8) & 0xFFFFFFFF
		return out, nil
	}

	// BX/BLX (register)
	if (opcode&0x0FFFFFF0) == 0x012FFF10 || (opcode&0x0FFFFFF0) == 0x012FFF30 {
		out.TouchesPC = true
		out.IsIndirect = true
		if opcode&0x012FFF30 == 0x012FFF30 {
			out.Opcode = OpBLX
			out.IsLink = true
		} else {
			out.Opcode = OpBX
		}
		rm := uint8(opcode & 0xF)
		out.OperandRegs = []uint8{rm}
		out.HasTarget = false
		return out, nil
	}

	// LDM with PC in register list
	if (opcode&0x0E000000) == 0x08000000 && opcode&0x00100000 != 0 {
		regList := uint32(opcode & 0x0000FFFF)
		out.RegisterList = regList
		if regList&(1<<pcRegister) != 0 {
			out.Opcode = OpLDM
			out.TouchesPC = true
			out.IsIndirect = true
			out.HasTarget = false
			return out, nil
		}
		out.Opcode = OpLDM
		out.SourceType = DatatypeI32
		return out, nil
	}

	// LDR (any Rt); Rt = PC makes it an indirect branch
	if (opcode&0x0C000000) == 0x04000000 && opcode&0x00100000 != 0 {
		rd := uint8((opcode >> 12) & 0xF)
		out.OperandRegs = []uint8{rd}
		out.Opcode = OpLDR
		out.SourceType = DatatypeI32
		if rd == pcRegister {
			out.TouchesPC = true
			out.IsIndirect = true
		}
		return out, nil
	}

	// STR: bits 27-26 = 01, L bit (20) = 0
	if (opcode&0x0C000000) == 0x04000000 && opcode&0x00100000 == 0 {
		rd := uint8((opcode >> 12) & 0xF)
		out.OperandRegs = []uint8{rd}
		out.Opcode = OpSTR
		out.DestType = DatatypeI32
		return out, nil
	}

	// STM: bits 27-25 = 100, L bit (20) = 0
	if (opcode&0x0E000000) == 0x08000000 && opcode&0x00100000 == 0 {
		out.Opcode = OpSTM
		out.RegisterList = uint32(opcode & 0x0000FFFF)
		out.DestType = DatatypeI32
		return out, nil
	}

	// VFP/SIMD register-based loads and stores (single/double precision):
	// VLDR/VSTR use 1101 UD1L rn rd 101X imm8; coprocessor 0xB (dbl) / 0xA (sgl).
	if (opcode&0x0E100E00) == 0x0C100A00 {
		out.Opcode = OpVLDR
		out.SourceType = vfpDatatype(opcode)
		return out, nil
	}
	if (opcode&0x0E100E00) == 0x0C000A00 {
		out.Opcode = OpVSTR
		out.DestType = vfpDatatype(opcode)
		return out, nil
	}

	out.Opcode = OpData
	return out, nil
}

func vfpDatatype(opcode uint32) Datatype {
	if opcode&0x00000100 != 0 {
		return DatatypeF64
	}
	return DatatypeF32
}

func (d *ArmDecoder) decodeThumb(data []byte, vaddr uint64) (*Decoded, error) {
	if len(data) < 2 {
		return nil, analyzerr.New(analyzerr.DecodeFailure, "truncated Thumb instruction at 0x%x: %d bytes available", vaddr, len(data))
	}
	hw1 := binary.LittleEndian.Uint16(data[0:2])

	// Thumb2 32-bit prefix: top 5 bits of hw1 ∈ {0b11101,0b11110,0b11111}.
	if hw1&0xF800 >= 0xE800 {
		if len(data) < 4 {
			// Demote to a 2-byte attempt per §4.2's buffer-exhaustion rule.
			return d.decodeThumb16(hw1, vaddr)
		}
		hw2 := binary.LittleEndian.Uint16(data[2:4])
		return d.decodeThumb2(hw1, hw2, vaddr)
	}

	return d.decodeThumb16(hw1, vaddr)
}

func (d *ArmDecoder) decodeThumb16(hw1 uint16, vaddr uint64) (*Decoded, error) {
	out := &Decoded{Size: 2, Mode: ModeThumb, Condition: CondUnconditional}

	// B (conditional): 1101 cccc ssss ssss, cccc ≠ 1110/1111.
	if hw1&0xF000 == 0xD000 && hw1&0x0F00 < 0x0E00 {
		out.Opcode = OpB
		out.TouchesPC = true
		out.Condition = Condition((hw1 >> 8) & 0xF)
		offset := int32(int8(hw1 & 0xFF))
		offset <<= 1
		out.HasTarget = true
		out.BranchTarget = uint64(int64(vaddr)+int64(offset)+4) & 0xFFFFFFFF
		return out, nil
	}

	// CBZ/CBNZ: 1011 op0i iiii irrr (op bit 11 selects Z vs NZ).
	if hw1&0xF500 == 0xB100 {
		if hw1&0x0800 != 0 {
			out.Opcode = OpCBNZ
		} else {
			out.Opcode = OpCBZ
		}
		out.TouchesPC = true
		out.Condition = CondUnconditional
		i := (hw1 >> 9) & 1
		imm5 := (hw1 >> 3) & 0x1F
		offset := int32(i<<6|imm5<<1) & 0x7F
		out.HasTarget = true
		out.BranchTarget = uint64(int64(vaddr)+int64(offset)+4) & 0xFFFFFFFF
		out.OperandRegs = []uint8{uint8(hw1 & 0x7)}
		return out, nil
	}

	// B (unconditional): 11100 sssssssssss.
	if hw1&0xF800 == 0xE000 {
		out.Opcode = OpB
		out.TouchesPC = true
		out.Condition = CondUnconditional
		offset := int32(hw1 & 0x07FF)
		if offset&0x0400 != 0 {
			offset |= ^int32(0x07FF)
		}
		offset <<= 1
		out.HasTarget = true
		out.BranchTarget = uint64(int64(vaddr)+int64(offset)+4) & 0xFFFFFFFF
		return out, nil
	}

	// BX/BLX (register): 010001 11 L rrrr 000.
	if hw1&0xFF00 == 0x4700 {
		out.TouchesPC = true
		out.IsIndirect = true
		out.Condition = CondUnconditional
		rm := uint8((hw1 >> 3) & 0xF)
		out.OperandRegs = []uint8{rm}
		if hw1&0x0080 != 0 {
			out.Opcode = OpBLX
			out.IsLink = true
		} else {
			out.Opcode = OpBX
		}
		return out, nil
	}

	// POP {...,PC}: 1011 110 r rrrrrrrr (bit 8 = PC included).
	if hw1&0xFE00 == 0xBC00 {
		out.Opcode = OpPOP
		regList := uint32(hw1 & 0xFF)
		if hw1&0x0100 != 0 {
			regList |= 1 << pcRegister
			out.TouchesPC = true
			out.IsIndirect = true
		}
		out.RegisterList = regList
		return out, nil
	}

	// PUSH {...,LR}: 1011 010 r rrrrrrrr.
	if hw1&0xFE00 == 0xB400 {
		out.Opcode = OpPUSH
		regList := uint32(hw1 & 0xFF)
		if hw1&0x0100 != 0 {
			regList |= 1 << lrRegister
		}
		out.RegisterList = regList
		return out, nil
	}

	out.Opcode = OpData
	out.Condition = CondUnconditional
	return out, nil
}

func (d *ArmDecoder) decodeThumb2(hw1, hw2 uint16, vaddr uint64) (*Decoded, error) {
	out := &Decoded{Size: 4, Mode: ModeThumb2, Condition: CondUnconditional}

	// B (conditional, T3): 11110 S cccc imm6 : 10 J1 0 J2 imm11.
	if hw1&0xF800 == 0xF000 && hw2&0xD000 == 0x8000 {
		out.Opcode = OpB
		out.TouchesPC = true
		out.Condition = Condition((hw1 >> 6) & 0xF)
		s := uint32(hw1>>10) & 1
		j1 := uint32(hw2>>13) & 1
		j2 := uint32(hw2>>11) & 1
		imm6 := uint32(hw1) & 0x3F
		imm11 := uint32(hw2) & 0x7FF
		offset := int32(s<<20 | j2<<19 | j1<<18 | imm6<<12 | imm11<<1)
		if offset&0x00100000 != 0 {
			offset |= ^int32(0x001FFFFF)
		}
		out.HasTarget = true
		out.BranchTarget = uint64(int64(vaddr)+int64(offset)+4) & 0xFFFFFFFF
		return out, nil
	}

	// B (unconditional, T4): 11110 S imm10 : 10 J1 1 J2 imm11. BL (T1)
	// has the same layout with bit 14 of the second halfword set
	// (11 J1 1 J2 imm11); BLX (T2, to ARM) also sets bit 14 but clears
	// bit 12 and forces the low two target bits to 0.
	if hw1&0xF800 == 0xF000 && (hw2&0xD000 == 0x9000 || hw2&0xC000 == 0xC000) {
		out.TouchesPC = true
		isLink := hw2&0x4000 != 0
		isBL := hw2&0x1000 != 0
		s := uint32(hw1>>10) & 1
		j1 := uint32(hw2>>13) & 1
		j2 := uint32(hw2>>11) & 1
		imm10 := uint32(hw1) & 0x3FF
		imm11 := uint32(hw2) & 0x7FF
		i1 := ((j1 ^ s) ^ 1) & 1
		i2 := ((j2 ^ s) ^ 1) & 1
		offset := int32(s<<24 | i1<<23 | i2<<22 | imm10<<12 | imm11<<1)
		if offset&0x01000000 != 0 {
			offset |= ^int32(0x01FFFFFF)
		}
		target := int64(vaddr) + int64(offset) + 4
		switch {
		case !isLink:
			out.Opcode = OpB
		case isBL:
			out.Opcode = OpBL
			out.IsLink = true
		default:
			out.Opcode = OpBLX
			out.IsLink = true
			target &^= 3 // BLX targets ARM mode, always word-aligned
		}
		out.HasTarget = true
		out.BranchTarget = uint64(target) & 0xFFFFFFFF
		return out, nil
	}

	// LDR (literal/immediate) to PC: 1111 1000 u1 01 1111 rd ... or similar
	// load-word encodings with Rt = PC; recognize the common T3 form
	// 11111000 U1011111 (literal) and T3 register/immediate forms with
	// Rt bits = 1111.
	if hw1&0xFF70 == 0xF850 {
		rt := uint8((hw2 >> 12) & 0xF)
		out.Opcode = OpLDR
		out.SourceType = DatatypeI32
		out.OperandRegs = []uint8{rt}
		if rt == pcRegister {
			out.TouchesPC = true
			out.IsIndirect = true
		}
		return out, nil
	}

	// STM/LDM (T2): 1110 100 op 0 W L rn : regbits, op = 01 (increment
	// after) or 10 (decrement before). Covers PUSH.W (STMDB sp!) and
	// POP.W (LDMIA sp!) when the register list includes PC/LR.
	if op := (hw1 >> 7) & 3; hw1&0xFE40 == 0xE800 && (op == 1 || op == 2) {
		regList := uint32(hw2)
		out.RegisterList = regList
		if hw1&0x0010 == 0 {
			out.Opcode = OpSTM
			return out, nil
		}
		out.Opcode = OpLDM
		if regList&(1<<pcRegister) != 0 {
			out.TouchesPC = true
			out.IsIndirect = true
		}
		return out, nil
	}

	// VLDR/VSTR (T1): 1110 1101 UD0L rn vd 101X imm8.
	if hw1&0xFF30 == 0xED10 {
		out.Opcode = OpVLDR
		out.SourceType = thumb2VfpDatatype(hw2)
		return out, nil
	}
	if hw1&0xFF30 == 0xED00 {
		out.Opcode = OpVSTR
		out.DestType = thumb2VfpDatatype(hw2)
		return out, nil
	}

	// VLDM/VSTM (T1/T2): 1110 110P UDW1/0 rn vd ...
	if hw1&0xFE10 == 0xEC10 {
		out.Opcode = OpVLDM
		out.SourceType = thumb2VfpDatatype(hw2)
		return out, nil
	}
	if hw1&0xFE10 == 0xEC00 {
		out.Opcode = OpVSTM
		out.DestType = thumb2VfpDatatype(hw2)
		return out, nil
	}

	out.Opcode = OpData
	return out, nil
}

func thumb2VfpDatatype(hw2 uint16) Datatype {
	if hw2&0x0100 != 0 {
		return DatatypeF64
	}
	return DatatypeF32
}
