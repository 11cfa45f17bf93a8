package decode

import "testing"

func TestArmDecoder_ARMBranch(t *testing.T) {
	// B #0x38: ARM encoding 0xEA00000E little-endian bytes 0E 00 00 EA.
	d := NewArmDecoder()
	got, err := d.Decode([]byte{0x0E, 0x00, 0x00, 0xEA}, ModeARM, 0x80000000)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if got.Opcode != OpB {
		t.Errorf("Opcode = %v, want B", got.Opcode)
	}
	if got.Size != 4 {
		t.Errorf("Size = %d, want 4", got.Size)
	}
	if !got.HasTarget {
		t.Fatalf("expected HasTarget")
	}
	want := uint64(0x80000000 + 56 + 8)
	if got.BranchTarget != want {
		t.Errorf("BranchTarget = 0x%x, want 0x%x", got.BranchTarget, want)
	}
}

func TestArmDecoder_ARMData(t *testing.T) {
	// MOV r0, #0: E3 A0 00 00 (little-endian)
	d := NewArmDecoder()
	got, err := d.Decode([]byte{0x00, 0x00, 0xA0, 0xE3}, ModeARM, 0x80000000)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if got.Opcode != OpData {
		t.Errorf("Opcode = %v, want data", got.Opcode)
	}
	if got.TouchesPC {
		t.Errorf("expected TouchesPC = false")
	}
}

func TestArmDecoder_ThumbUnconditionalBranch(t *testing.T) {
	// B (T2): 11100 sssssssssss with offset 0 -> 0xE000 little-endian 00 E0.
	d := NewArmDecoder()
	got, err := d.Decode([]byte{0x00, 0xE0}, ModeThumb, 0x1000)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if got.Opcode != OpB || got.Size != 2 {
		t.Fatalf("got %+v, want 2-byte B", got)
	}
	if got.BranchTarget != 0x1004 {
		t.Errorf("BranchTarget = 0x%x, want 0x1004", got.BranchTarget)
	}
}

func TestArmDecoder_Thumb2BranchLink(t *testing.T) {
	// BL with zero offset: hw1=0xF000, hw2=0xF800 (J1=J2=1, S=0, imm=0).
	d := NewArmDecoder()
	got, err := d.Decode([]byte{0x00, 0xF0, 0x00, 0xF8}, ModeThumb2, 0x2000)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if got.Opcode != OpBL {
		t.Errorf("Opcode = %v, want BL", got.Opcode)
	}
	if got.Size != 4 {
		t.Errorf("Size = %d, want 4", got.Size)
	}
	if !got.IsLink {
		t.Errorf("expected IsLink")
	}
	if got.BranchTarget != 0x2004 {
		t.Errorf("BranchTarget = 0x%x, want 0x2004", got.BranchTarget)
	}
}

func TestArmDecoder_ThumbBXReturn(t *testing.T) {
	// BX LR: 0100 0111 0 1110 000 -> 0x4770
	d := NewArmDecoder()
	got, err := d.Decode([]byte{0x70, 0x47}, ModeThumb, 0x3000)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if got.Opcode != OpBX {
		t.Errorf("Opcode = %v, want BX", got.Opcode)
	}
	if !got.IsIndirect || got.HasTarget {
		t.Errorf("expected indirect branch with no static target, got %+v", got)
	}
	if len(got.OperandRegs) != 1 || got.OperandRegs[0] != lrRegister {
		t.Errorf("OperandRegs = %v, want [LR]", got.OperandRegs)
	}
}

func TestArmDecoder_TruncatedBuffer(t *testing.T) {
	d := NewArmDecoder()
	if _, err := d.Decode(nil, ModeARM, 0); err == nil {
		t.Fatalf("expected error decoding empty buffer")
	}
}

func TestArmDecoder_Thumb2DemotesOnShortBuffer(t *testing.T) {
	// hw1 alone matches the Thumb2 prefix but only 2 bytes are available;
	// per §4.2 this demotes to a 16-bit decode attempt rather than failing.
	d := NewArmDecoder()
	got, err := d.Decode([]byte{0x00, 0xF0}, ModeThumb2, 0x4000)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if got.Size != 2 {
		t.Errorf("Size = %d, want 2 (demoted)", got.Size)
	}
}
