package bytecode

import "fmt"

// MaxStackDepth bounds the abstract operand-stack depth the verifier will
// accept for any reachable instruction.
const MaxStackDepth = 1024

// VerifyError reports a single bytecode verification failure.
type VerifyError struct {
	Offset  int
	Message string
}

func (e *VerifyError) Error() string {
	return fmt.Sprintf("verify error at offset %d: %s", e.Offset, e.Message)
}

// instruction is one decoded instruction, used internally by the verifier
// and the disassembler.
type instruction struct {
	offset   int
	op       Op
	operands []byte
}

// decodeInstructions walks code once, validating instruction-boundary
// discoverability: every byte is either an opcode byte or a declared
// operand byte of the preceding opcode.
func decodeInstructions(code []byte) ([]instruction, []VerifyError) {
	var (
		instrs []instruction
		errs   []VerifyError
	)
	i := 0
	for i < len(code) {
		offset := i
		op := Op(code[i])
		if !Valid(code[i]) {
			errs = append(errs, VerifyError{offset, fmt.Sprintf("invalid opcode 0x%02x", code[i])})
			// Resync by treating it as a zero-operand instruction so later
			// errors still point at real offsets instead of cascading.
			i++
			continue
		}
		width := op.OperandSize()
		i++
		if i+width > len(code) {
			errs = append(errs, VerifyError{offset, fmt.Sprintf("%s truncated operand (need %d bytes)", op, width)})
			break
		}
		instrs = append(instrs, instruction{offset: offset, op: op, operands: code[i : i+width]})
		i += width
	}
	return instrs, errs
}

// boundaries returns the set of valid instruction-start offsets.
func boundaries(instrs []instruction) map[int]bool {
	m := make(map[int]bool, len(instrs))
	for _, in := range instrs {
		m[in.offset] = true
	}
	return m
}

func jumpTarget(in instruction) int {
	off := int32(le32(in.operands))
	return in.offset + 1 + len(in.operands) + int(off)
}

func le32(b []byte) uint32 {
	if len(b) < 4 {
		return 0
	}
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
}

// Verify checks code against the verifier rules described in spec §4.1:
// instruction-boundary discoverability, jump-target validity, a stack-depth
// check bounded by MaxStackDepth, constant-pool and local-slot bounds, and
// a terminator-ending check. The stack-depth check walks the instructions
// once in offset order; it does not follow jump edges, so the depths that
// meet at a merge point are not compared. constCount and
// localCount bound the constant pool and local-variable frame
// respectively; pass -1 to skip that particular bound check (used by
// callers that verify bytecode before a module's constant pool is known).
func Verify(code []byte, constCount, localCount int) []VerifyError {
	instrs, errs := decodeInstructions(code)
	if len(errs) > 0 {
		return errs
	}
	if len(instrs) == 0 {
		return nil
	}

	bounds := boundaries(instrs)
	for _, in := range instrs {
		if in.op.IsJump() {
			target := jumpTarget(in)
			if target < 0 || target > len(code) || (target < len(code) && !bounds[target]) {
				errs = append(errs, VerifyError{in.offset, fmt.Sprintf("invalid jump target %d", target)})
			}
		}
		if in.op == TaskThen {
			errs = append(errs, VerifyError{in.offset, fmt.Sprintf("%s is reserved and not supported", in.op)})
		}
	}

	errs = append(errs, verifyStackDepth(instrs)...)

	if constCount >= 0 {
		errs = append(errs, verifyConstRefs(instrs, constCount)...)
	}
	if localCount >= 0 {
		errs = append(errs, verifyLocalRefs(instrs, localCount)...)
	}

	last := instrs[len(instrs)-1]
	if !last.op.IsTerminator() {
		errs = append(errs, VerifyError{last.offset, "execution falls off end of function"})
	}

	return errs
}

func verifyStackDepth(instrs []instruction) []VerifyError {
	var errs []VerifyError
	depth := 0
	for _, in := range instrs {
		pops, pushes := stackEffect(in)
		if depth < pops {
			errs = append(errs, VerifyError{in.offset, fmt.Sprintf("stack underflow (depth %d, needs %d)", depth, pops)})
			depth = 0
			continue
		}
		depth = depth - pops + pushes
		if depth > MaxStackDepth {
			errs = append(errs, VerifyError{in.offset, fmt.Sprintf("stack overflow (depth %d exceeds %d)", depth, MaxStackDepth)})
		}
	}
	return errs
}

// stackEffect returns (pops, pushes) for an instruction. Call-family and
// Spawn-family opcodes carry an explicit argCount operand, so their true
// pop count is data-dependent; the verifier does not read that operand and
// counts their arguments as zero pops (CallMethod and SpawnClosure pop only
// their receiver), each pushing one result.
func stackEffect(in instruction) (int, int) {
	switch in.op {
	case Nop, Jmp, Yield, Trap, EndTry, Rethrow, Try:
		return 0, 0
	case Pop:
		return 1, 0
	case Dup:
		return 1, 2
	case Swap:
		return 2, 2
	case ConstNull, ConstTrue, ConstFalse, ConstI32, ConstF64, ConstStr, LoadConst:
		return 0, 1
	case LoadLocal, LoadLocal0, LoadLocal1:
		return 0, 1
	case StoreLocal, StoreLocal0, StoreLocal1:
		return 1, 0
	case Iadd, Isub, Imul, Idiv, Imod, Ipow, Ishl, Ishr, Iushr, Iand, Ior, Ixor:
		return 2, 1
	case Ineg, Inot, Fneg, Debugger:
		return 1, 1
	case Fadd, Fsub, Fmul, Fdiv, Fpow, Fmod:
		return 2, 1
	case Nadd, Nsub, Nmul, Ndiv, Nmod:
		return 2, 1
	case Nneg:
		return 1, 1
	case Ieq, Ine, Ilt, Ile, Igt, Ige, Feq, Fne, Flt, Fle, Fgt, Fge:
		return 2, 1
	case Eq, Ne, StrictEq, StrictNe, And, Or:
		return 2, 1
	case Not, Typeof:
		return 1, 1
	case Sconcat:
		return 2, 1
	case Slen, ToString:
		return 1, 1
	case Seq, Sne, Slt, Sle, Sgt, Sge:
		return 2, 1
	case JmpIfFalse, JmpIfTrue, JmpIfNull, JmpIfNotNull:
		return 1, 0
	case Return:
		return 1, 0
	case ReturnVoid:
		return 0, 0
	case Call, CallConstructor, CallSuper, CallStatic:
		return 0, 1
	case CallMethod:
		return 1, 1
	case New:
		return 0, 1
	case LoadField, LoadFieldFast, OptionalField:
		return 1, 1
	case StoreField, StoreFieldFast:
		return 2, 0
	case ObjectLiteral:
		return 0, 1
	case InitObject, InitArray, InitTuple:
		return 0, 0
	case LoadStatic:
		return 0, 1
	case StoreStatic:
		return 1, 0
	case NewArray:
		return 0, 1
	case LoadElem:
		return 2, 1
	case StoreElem:
		return 3, 0
	case ArrayLen:
		return 1, 1
	case ArrayLiteral, TupleLiteral:
		return 0, 1
	case TupleGet:
		return 2, 1
	case ArrayPush:
		return 2, 0
	case ArrayPop:
		return 1, 1
	case Spawn:
		return 0, 1
	case SpawnClosure:
		return 1, 1
	case Await:
		return 1, 1
	case Sleep:
		return 1, 0
	case TaskThen:
		return 1, 1
	case NewMutex:
		return 0, 1
	case NewSemaphore, NewChannel:
		return 1, 1
	case MutexLock, MutexUnlock:
		return 1, 0
	case SemAcquire, SemRelease:
		return 2, 0
	case ChannelSend:
		return 2, 0
	case ChannelRecv:
		return 1, 1
	case WaitAll:
		return 1, 1
	case TaskCancel:
		return 1, 0
	case Throw:
		return 1, 0
	case LoadGlobal:
		return 0, 1
	case StoreGlobal:
		return 1, 0
	case MakeClosure:
		return 0, 1
	case CloseVar:
		return 1, 1
	case LoadCaptured:
		return 0, 1
	case StoreCaptured:
		return 1, 0
	case SetClosureCapture:
		return 2, 1
	case LoadModule:
		return 0, 1
	case NewRefCell, LoadRefCell:
		return 1, 1
	case StoreRefCell:
		return 2, 0
	case JsonGet:
		return 1, 1
	case JsonSet:
		return 2, 0
	case JsonDelete:
		return 1, 0
	case JsonIndex:
		return 2, 1
	case JsonIndexSet:
		return 3, 0
	case JsonPush:
		return 2, 0
	case JsonPop:
		return 1, 1
	case JsonNewObject, JsonNewArray:
		return 0, 1
	case JsonKeys, JsonLength:
		return 1, 1
	case InstanceOf, Cast:
		return 2, 1
	case NativeCall, ModuleNativeCall:
		return 0, 1
	default:
		return 0, 0
	}
}

func verifyConstRefs(instrs []instruction, constCount int) []VerifyError {
	var errs []VerifyError
	for _, in := range instrs {
		switch in.op {
		case ConstStr, LoadConst:
			idx := le32(in.operands)
			if int(idx) >= constCount {
				errs = append(errs, VerifyError{in.offset, fmt.Sprintf("constant pool index %d out of range (pool size %d)", idx, constCount)})
			}
		}
	}
	return errs
}

func le16(b []byte) uint16 {
	if len(b) < 2 {
		return 0
	}
	return uint16(b[0]) | uint16(b[1])<<8
}

func verifyLocalRefs(instrs []instruction, localCount int) []VerifyError {
	var errs []VerifyError
	for _, in := range instrs {
		switch in.op {
		case LoadLocal, StoreLocal:
			idx := le16(in.operands)
			if int(idx) >= localCount {
				errs = append(errs, VerifyError{in.offset, fmt.Sprintf("local slot %d out of range (frame has %d locals)", idx, localCount)})
			}
		case LoadLocal0, StoreLocal0:
			if localCount < 1 {
				errs = append(errs, VerifyError{in.offset, "local slot 0 out of range (frame has 0 locals)"})
			}
		case LoadLocal1, StoreLocal1:
			if localCount < 2 {
				errs = append(errs, VerifyError{in.offset, "local slot 1 out of range"})
			}
		}
	}
	return errs
}
