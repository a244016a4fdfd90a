package bytecode

import (
	"encoding/binary"
	"fmt"
	"math"
	"strings"
)

func float64FromLEBytes(b []byte) float64 {
	return math.Float64frombits(binary.LittleEndian.Uint64(b))
}

// Disassemble returns a human-readable instruction listing for code, one
// line per instruction: offset, mnemonic, and decoded operand value(s).
// Malformed bytes are rendered inline rather than aborting the listing, so
// Disassemble is also useful for inspecting code the verifier has already
// rejected.
func Disassemble(code []byte) string {
	var sb strings.Builder
	i := 0
	for i < len(code) {
		offset := i
		b := code[i]
		op := Op(b)
		if !Valid(b) {
			fmt.Fprintf(&sb, "%6d  <invalid 0x%02x>\n", offset, b)
			i++
			continue
		}
		width := op.OperandSize()
		i++
		if i+width > len(code) {
			fmt.Fprintf(&sb, "%6d  %-20s <truncated operand>\n", offset, op.String())
			break
		}
		operands := code[i : i+width]
		i += width
		fmt.Fprintf(&sb, "%6d  %-20s%s\n", offset, op.String(), formatOperands(op, offset, operands))
	}
	return sb.String()
}

func formatOperands(op Op, offset int, b []byte) string {
	switch len(b) {
	case 0:
		return ""
	case 2:
		return fmt.Sprintf(" %d", le16(b))
	case 3:
		// NativeCall/ModuleNativeCall: u16 id + u8 argCount
		return fmt.Sprintf(" id=%d argc=%d", le16(b[:2]), b[2])
	case 4:
		if op == ConstI32 {
			return fmt.Sprintf(" %d", int32(le32(b)))
		}
		if op.IsJump() {
			target := offset + 1 + len(b) + int(int32(le32(b)))
			return fmt.Sprintf(" %+d (-> %d)", int32(le32(b)), target)
		}
		return fmt.Sprintf(" %d", le32(b))
	case 6:
		return fmt.Sprintf(" idx=%d argc=%d", le32(b[:4]), le16(b[4:6]))
	case 8:
		if op == ConstF64 {
			return fmt.Sprintf(" %v", float64FromLEBytes(b))
		}
		if op == Try {
			return fmt.Sprintf(" catch=%+d finally=%+d", int32(le32(b[:4])), int32(le32(b[4:8])))
		}
		return fmt.Sprintf(" %d %d", le32(b[:4]), le32(b[4:8]))
	default:
		return fmt.Sprintf(" % x", b)
	}
}
