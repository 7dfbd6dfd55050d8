package interp

import (
	"fmt"
	"slices"

	"github.com/mabhi256/nbtspec/internal/classfile"
)

// snapshot is a full enriched frame captured at a forward-branch target.
type snapshot struct {
	locals []Value
	stack  []Value
}

// Runner symbolically executes one method invocation. It owns a single
// frame and walks the instruction list in address order, resynchronizing
// at stack map entries. Branches are never explored twice: the extra
// stack map preserves enrichment across forward edges instead.
type Runner struct {
	mem         *Memoizer
	cf          *classfile.ClassFile
	method      *classfile.Method
	ptr         MethodPointer
	ignoreSuper bool

	locals []Value
	stack  []Value
	pc     int

	// valid is false in the shadow of an unconditional transfer; it turns
	// true again at the next declared stack map entry.
	valid bool

	declared map[int]*classfile.StackMapFrame
	extra    map[int]*snapshot
	returns  []Value
}

func newRunner(mem *Memoizer, cf *classfile.ClassFile, method *classfile.Method,
	ptr MethodPointer, ignoreSuper bool, args []Value) *Runner {

	code := method.Code
	locals := make([]Value, code.MaxLocals)
	slot := 0
	for _, arg := range args {
		if slot >= len(locals) {
			break
		}
		locals[slot] = arg
		if IsWideValue(arg) {
			slot++
			if slot < len(locals) {
				locals[slot] = NewPrimValue(KindTop)
			}
		}
		slot++
	}
	for i := slot; i < len(locals); i++ {
		locals[i] = NewPrimValue(KindUninitialized)
	}

	declared := make(map[int]*classfile.StackMapFrame, len(code.StackMap))
	for i := range code.StackMap {
		f := &code.StackMap[i]
		declared[f.Offset] = f
	}

	return &Runner{
		mem:         mem,
		cf:          cf,
		method:      method,
		ptr:         ptr,
		ignoreSuper: ignoreSuper,
		locals:      locals,
		declared:    declared,
		extra:       make(map[int]*snapshot),
	}
}

// Run walks the bytecode once, in address order.
func (r *Runner) Run() error {
	bc := r.method.Code.Bytecode
	r.valid = true

	for r.pc < len(bc) {
		if f := r.declared[r.pc]; f != nil {
			r.reconcile(f)
		}
		if !r.valid {
			length, err := instructionLength(bc, r.pc)
			if err != nil {
				return r.fail(err)
			}
			r.pc += length
			continue
		}
		next, err := r.visit(bc)
		if err != nil {
			return r.fail(err)
		}
		r.pc = next
	}
	return nil
}

// reconcile rebuilds the frame at a join point. For each declared slot the
// enriched snapshot stored by a forward branch wins if compatible, then the
// previous live slot, then the plain declared descriptor. This keeps
// inferred NBT/string/lambda information across joins wherever the types
// line up.
func (r *Runner) reconcile(f *classfile.StackMapFrame) {
	snap := r.extra[r.pc]

	newLocals := make([]Value, len(r.locals))
	for i := range newLocals {
		newLocals[i] = NewPrimValue(KindUninitialized)
	}
	slot := 0
	for _, vt := range f.Locals {
		if slot >= len(newLocals) {
			break
		}
		newLocals[slot] = r.pickLocal(vt, snap, slot)
		if vt.Tag == classfile.VTLong || vt.Tag == classfile.VTDouble {
			slot++
			if slot < len(newLocals) {
				newLocals[slot] = NewPrimValue(KindTop)
			}
		}
		slot++
	}

	newStack := make([]Value, len(f.Stack))
	for i, vt := range f.Stack {
		newStack[i] = r.pickStack(vt, snap, i)
	}

	r.locals = newLocals
	r.stack = newStack
	r.valid = true
}

func (r *Runner) pickLocal(vt classfile.VerificationType, snap *snapshot, slot int) Value {
	if snap != nil && slot < len(snap.locals) && matchesVerificationType(snap.locals[slot], vt) {
		return snap.locals[slot]
	}
	if r.valid && slot < len(r.locals) && matchesVerificationType(r.locals[slot], vt) {
		return r.locals[slot]
	}
	return valueForVerificationType(vt)
}

func (r *Runner) pickStack(vt classfile.VerificationType, snap *snapshot, index int) Value {
	if snap != nil && index < len(snap.stack) && matchesVerificationType(snap.stack[index], vt) {
		return snap.stack[index]
	}
	if r.valid && index < len(r.stack) && matchesVerificationType(r.stack[index], vt) {
		return r.stack[index]
	}
	return valueForVerificationType(vt)
}

func (r *Runner) push(v Value) {
	r.stack = append(r.stack, v)
}

func (r *Runner) pop() Value {
	if len(r.stack) == 0 {
		return NewPrimValue(KindUninitialized)
	}
	v := r.stack[len(r.stack)-1]
	r.stack = r.stack[:len(r.stack)-1]
	return v
}

// peek returns the n-th value from the top without popping (0 = top).
func (r *Runner) peek(n int) Value {
	if n >= len(r.stack) {
		return NewPrimValue(KindUninitialized)
	}
	return r.stack[len(r.stack)-1-n]
}

func (r *Runner) setLocal(index int, v Value) {
	if index >= len(r.locals) {
		return
	}
	r.locals[index] = v
	if IsWideValue(v) && index+1 < len(r.locals) {
		r.locals[index+1] = NewPrimValue(KindTop)
	}
}

func (r *Runner) local(index int) Value {
	if index >= len(r.locals) {
		return NewPrimValue(KindUninitialized)
	}
	return r.locals[index]
}

// branch records the stack effect of a branch: the full enriched frame is
// snapshotted at every forward target, and every live tag's optional scope
// is raised so writes before the join point stay optional.
func (r *Runner) branch(targets ...int) {
	for _, target := range targets {
		if target > r.pc {
			r.extra[target] = &snapshot{
				locals: slices.Clone(r.locals),
				stack:  slices.Clone(r.stack),
			}
		}
		r.raiseOptionalUntil(target)
	}
}

func (r *Runner) raiseOptionalUntil(target int) {
	for _, v := range r.locals {
		if t, ok := v.(*Tagged); ok && t.OptionalUntil < target {
			t.OptionalUntil = target
		}
	}
	for _, v := range r.stack {
		if t, ok := v.(*Tagged); ok && t.OptionalUntil < target {
			t.OptionalUntil = target
		}
	}
}

func (r *Runner) recordReturn(v Value) {
	if v != nil {
		r.returns = append(r.returns, v)
	}
	r.valid = false
}

// visit dispatches the instruction at r.pc and returns the next pc.
func (r *Runner) visit(bc []byte) (int, error) {
	op := bc[r.pc]
	next, err := instructionLength(bc, r.pc)
	if err != nil {
		return 0, err
	}
	next += r.pc

	switch {
	case op == opNop:

	case op == opAconstNull:
		r.push(NewPrimValue(KindNull))

	case op >= opIconstM1 && op <= opIconst5:
		r.push(&IntValue{V: int32(op) - int32(opIconstM1) - 1})

	case op == opLconst0 || op == opLconst1:
		r.push(NewPrimValue(KindLong))

	case op >= opFconst0 && op <= opFconst2:
		r.push(NewPrimValue(KindFloat))

	case op == opDconst0 || op == opDconst1:
		r.push(NewPrimValue(KindDouble))

	case op == opBipush:
		r.push(&IntValue{V: int32(int8(bc[r.pc+1]))})

	case op == opSipush:
		r.push(&IntValue{V: int32(readI16(bc, r.pc+1))})

	case op == opLdc:
		r.pushConstant(uint16(bc[r.pc+1]))

	case op == opLdcW, op == opLdc2W:
		r.pushConstant(readU16(bc, r.pc+1))

	case op >= opIload && op <= opAload:
		r.push(r.local(int(bc[r.pc+1])))

	case op >= opIload0 && op < opIaload:
		// iload_0 .. aload_3
		r.push(r.local(int(op-opIload0) % 4))

	case op == opAaload:
		r.visitAaload()

	case op >= opIaload && op <= opSaload:
		r.pop() // index
		arr := r.pop()
		r.push(arrayElementValue(arr, op))

	case op >= opIstore && op <= opAstore:
		r.visitStore(int(bc[r.pc+1]))

	case op >= opIstore0 && op <= opAstore3:
		r.visitStore(int(op-opIstore0) % 4)

	case op == opAastore:
		r.visitAastore()

	case op >= opIastore && op <= opSastore:
		r.pop() // value
		r.pop() // index
		r.pop() // arrayref

	case op >= opPop && op <= opSwap:
		r.visitStackOp(op)

	case op >= opIadd && op <= opDrem:
		// binary arithmetic: both operands share the result type
		r.pop()
		v := r.pop()
		r.push(NewPrimValue(v.Kind()))

	case op >= opIneg && op <= opDneg:
		v := r.pop()
		r.push(NewPrimValue(v.Kind()))

	case op >= opIshl && op <= opLxor:
		r.pop() // shift amount or rhs
		v := r.pop()
		r.push(NewPrimValue(v.Kind()))

	case op == opIinc:
		index := int(bc[r.pc+1])
		if _, ok := r.local(index).(*IntValue); ok {
			r.setLocal(index, NewPrimValue(KindInt))
		}

	case op >= opI2l && op <= opI2s:
		r.pop()
		r.push(NewPrimValue(conversionResult(op)))

	case op >= opLcmp && op <= opDcmpg:
		r.pop()
		r.pop()
		r.push(NewPrimValue(KindInt))

	case op >= opIfeq && op <= opIfle:
		r.pop()
		r.branch(r.pc + int(readI16(bc, r.pc+1)))

	case op >= opIfIcmpeq && op <= opIfAcmpne:
		r.pop()
		r.pop()
		r.branch(r.pc + int(readI16(bc, r.pc+1)))

	case op == opIfnull || op == opIfnonnull:
		r.pop()
		r.branch(r.pc + int(readI16(bc, r.pc+1)))

	case op == opGoto:
		r.branch(r.pc + int(readI16(bc, r.pc+1)))
		r.valid = false

	case op == opGotoW:
		r.branch(r.pc + int(readI32(bc, r.pc+1)))
		r.valid = false

	case op == opTableswitch || op == opLookupswitch:
		r.pop()
		targets, err := switchTargets(bc, r.pc)
		if err != nil {
			return 0, err
		}
		r.branch(targets...)
		r.valid = false

	case op >= opIreturn && op < opReturn:
		r.recordReturn(r.pop())

	case op == opReturn:
		r.recordReturn(nil)

	case op == opGetstatic:
		if err := r.visitGetstatic(readU16(bc, r.pc+1)); err != nil {
			return 0, err
		}

	case op == opPutstatic:
		if err := r.visitPutstatic(readU16(bc, r.pc+1)); err != nil {
			return 0, err
		}

	case op == opGetfield:
		if err := r.visitGetfield(readU16(bc, r.pc+1)); err != nil {
			return 0, err
		}

	case op == opPutfield:
		_, _, _, err := r.cf.ConstantPool.Ref(readU16(bc, r.pc+1))
		if err != nil {
			return 0, err
		}
		r.pop() // value
		r.pop() // receiver

	case op == opInvokevirtual, op == opInvokespecial, op == opInvokestatic, op == opInvokeinterface:
		if err := r.visitInvoke(op, readU16(bc, r.pc+1)); err != nil {
			return 0, err
		}

	case op == opInvokedynamic:
		if err := r.visitInvokedynamic(readU16(bc, r.pc+1)); err != nil {
			return 0, err
		}

	case op == opNew:
		class, err := r.cf.ConstantPool.ClassName(readU16(bc, r.pc+1))
		if err != nil {
			return 0, err
		}
		r.push(NewRef(class))

	case op == opNewarray:
		r.pop() // count
		r.push(NewRef(primitiveArrayName(bc[r.pc+1])))

	case op == opAnewarray:
		if err := r.visitAnewarray(readU16(bc, r.pc+1)); err != nil {
			return 0, err
		}

	case op == opArraylength:
		r.pop()
		r.push(NewPrimValue(KindInt))

	case op == opAthrow:
		r.pop()
		r.valid = false

	case op == opCheckcast:
		class, err := r.cf.ConstantPool.ClassName(readU16(bc, r.pc+1))
		if err != nil {
			return 0, err
		}
		// Casts between NBT types keep the enriched value; only plain
		// references get retyped.
		if _, isPlain := r.peek(0).(*Plain); isPlain {
			r.pop()
			r.push(NewRef(class))
		}

	case op == opInstanceof:
		r.pop()
		r.push(NewPrimValue(KindInt))

	case op == opMonitorenter || op == opMonitorexit:
		r.pop()

	case op == opWide:
		r.visitWide(bc)

	case op == opMultianewarray:
		class, err := r.cf.ConstantPool.ClassName(readU16(bc, r.pc+1))
		if err != nil {
			return 0, err
		}
		dims := int(bc[r.pc+3])
		for i := 0; i < dims; i++ {
			r.pop()
		}
		r.push(NewRef(class))

	case op == opJsr || op == opJsrW || op == opRet:
		return 0, fmt.Errorf("unsupported legacy opcode 0x%02X", op)

	default:
		return 0, fmt.Errorf("unhandled opcode 0x%02X", op)
	}

	return next, nil
}

func (r *Runner) visitStore(index int) {
	v := r.pop()
	// References to NBT containers become tagged on their way into a
	// local, so later writes through the local are recorded.
	if v.Kind() == KindRef {
		v = ensureTyped(v, r.mem.maps)
	}
	r.setLocal(index, v)
}

func (r *Runner) visitStackOp(op byte) {
	switch op {
	case opPop:
		r.pop()
	case opPop2:
		if IsWideValue(r.peek(0)) {
			r.pop()
		} else {
			r.pop()
			r.pop()
		}
	case opDup:
		r.push(r.peek(0))
	case opDupX1:
		v1, v2 := r.pop(), r.pop()
		r.push(v1)
		r.push(v2)
		r.push(v1)
	case opDupX2:
		v1, v2 := r.pop(), r.pop()
		if IsWideValue(v2) {
			r.push(v1)
			r.push(v2)
			r.push(v1)
		} else {
			v3 := r.pop()
			r.push(v1)
			r.push(v3)
			r.push(v2)
			r.push(v1)
		}
	case opDup2:
		if IsWideValue(r.peek(0)) {
			r.push(r.peek(0))
		} else {
			v1, v2 := r.peek(0), r.peek(1)
			r.push(v2)
			r.push(v1)
		}
	case opDup2X1:
		v1 := r.pop()
		if IsWideValue(v1) {
			v2 := r.pop()
			r.push(v1)
			r.push(v2)
			r.push(v1)
		} else {
			v2, v3 := r.pop(), r.pop()
			r.push(v2)
			r.push(v1)
			r.push(v3)
			r.push(v2)
			r.push(v1)
		}
	case opDup2X2:
		v1 := r.pop()
		if IsWideValue(v1) {
			v2 := r.pop()
			if IsWideValue(v2) {
				r.push(v1)
				r.push(v2)
				r.push(v1)
			} else {
				v3 := r.pop()
				r.push(v1)
				r.push(v3)
				r.push(v2)
				r.push(v1)
			}
		} else {
			v2, v3 := r.pop(), r.pop()
			if IsWideValue(v3) {
				r.push(v2)
				r.push(v1)
				r.push(v3)
				r.push(v2)
				r.push(v1)
			} else {
				v4 := r.pop()
				r.push(v2)
				r.push(v1)
				r.push(v4)
				r.push(v3)
				r.push(v2)
				r.push(v1)
			}
		}
	case opSwap:
		v1, v2 := r.pop(), r.pop()
		r.push(v1)
		r.push(v2)
	}
}

func (r *Runner) visitWide(bc []byte) {
	modified := bc[r.pc+1]
	index := int(readU16(bc, r.pc+2))
	switch {
	case modified >= opIload && modified <= opAload:
		r.push(r.local(index))
	case modified >= opIstore && modified <= opAstore:
		r.visitStore(index)
	case modified == opIinc:
		if _, ok := r.local(index).(*IntValue); ok {
			r.setLocal(index, NewPrimValue(KindInt))
		}
	}
}

// pushConstant handles ldc, ldc_w and ldc2_w.
func (r *Runner) pushConstant(index uint16) {
	cp := r.cf.ConstantPool
	switch cp.Tag(index) {
	case classfile.ConstString:
		if s, err := cp.StringAt(index); err == nil {
			r.push(&StringValue{V: s})
			return
		}
		r.push(NewRef("java/lang/String"))
	case classfile.ConstInteger:
		if v, err := cp.IntegerAt(index); err == nil {
			r.push(&IntValue{V: v})
			return
		}
		r.push(NewPrimValue(KindInt))
	case classfile.ConstFloat:
		r.push(NewPrimValue(KindFloat))
	case classfile.ConstLong:
		r.push(NewPrimValue(KindLong))
	case classfile.ConstDouble:
		r.push(NewPrimValue(KindDouble))
	case classfile.ConstClass:
		r.push(NewRef("java/lang/Class"))
	case classfile.ConstMethodType:
		r.push(NewRef("java/lang/invoke/MethodType"))
	case classfile.ConstMethodHandle:
		r.push(NewRef("java/lang/invoke/MethodHandle"))
	default:
		r.push(NewRef("java/lang/Object"))
	}
}

func (r *Runner) visitAnewarray(index uint16) error {
	class, err := r.cf.ConstantPool.ClassName(index)
	if err != nil {
		return err
	}
	count := r.pop()
	if class == "java/lang/String" {
		if c, ok := count.(*IntValue); ok && c.V >= 0 && c.V <= 256 {
			r.push(&StringArray{Slots: make([]*string, c.V)})
			return nil
		}
	}
	r.push(NewRef("[" + classfile.ClassDescriptor(class)))
	return nil
}

func (r *Runner) visitAastore() {
	value := r.pop()
	index := r.pop()
	arr := r.pop()

	sa, ok := arr.(*StringArray)
	if !ok {
		return
	}
	i, iok := index.(*IntValue)
	s, sok := value.(*StringValue)
	if iok && sok && int(i.V) >= 0 && int(i.V) < len(sa.Slots) {
		sa.Slots[i.V] = &s.V
	}
}

func (r *Runner) visitAaload() {
	index := r.pop()
	arr := r.pop()

	if sa, ok := arr.(*StringArray); ok {
		if i, iok := index.(*IntValue); iok && int(i.V) >= 0 && int(i.V) < len(sa.Slots) {
			if slot := sa.Slots[i.V]; slot != nil {
				r.push(&StringValue{V: *slot})
				return
			}
		}
		r.push(&StringFromArray{Choices: knownSlots(sa)})
		return
	}

	// strip one array dimension from the descriptor-ish class name
	class := arr.ClassName()
	if len(class) > 1 && class[0] == '[' {
		r.push(ValueForDescriptor(class[1:]))
		return
	}
	r.push(NewRef("java/lang/Object"))
}

func knownSlots(sa *StringArray) []string {
	var out []string
	for _, s := range sa.Slots {
		if s != nil {
			out = append(out, *s)
		}
	}
	return out
}

func arrayElementValue(arr Value, op byte) Value {
	switch op {
	case 0x2F: // laload
		return NewPrimValue(KindLong)
	case 0x30: // faload
		return NewPrimValue(KindFloat)
	case 0x31: // daload
		return NewPrimValue(KindDouble)
	default: // iaload, baload, caload, saload
		return NewPrimValue(KindInt)
	}
}

func conversionResult(op byte) Kind {
	switch op {
	case 0x85, 0x8C, 0x8F: // i2l, f2l, d2l
		return KindLong
	case 0x86, 0x89, 0x90: // i2f, l2f, d2f
		return KindFloat
	case 0x87, 0x8A, 0x8D: // i2d, l2d, f2d
		return KindDouble
	default: // l2i, f2i, d2i, i2b, i2c, i2s
		return KindInt
	}
}

func primitiveArrayName(atype byte) string {
	switch atype {
	case 4:
		return "[Z"
	case 5:
		return "[C"
	case 6:
		return "[F"
	case 7:
		return "[D"
	case 8:
		return "[B"
	case 9:
		return "[S"
	case 10:
		return "[I"
	case 11:
		return "[J"
	default:
		return "[Ljava/lang/Object;"
	}
}

func (r *Runner) visitGetstatic(index uint16) error {
	class, name, desc, err := r.cf.ConstantPool.Ref(index)
	if err != nil {
		return err
	}
	if err := r.mem.EnsureStaticInit(class); err != nil {
		return err
	}
	if v, ok := r.mem.getStatic(class, name, desc); ok {
		r.push(v)
		return nil
	}
	r.push(ValueForDescriptor(desc))
	return nil
}

func (r *Runner) visitPutstatic(index uint16) error {
	class, name, desc, err := r.cf.ConstantPool.Ref(index)
	if err != nil {
		return err
	}
	r.mem.putStatic(class, name, desc, r.pop())
	return nil
}

func (r *Runner) visitGetfield(index uint16) error {
	_, _, desc, err := r.cf.ConstantPool.Ref(index)
	if err != nil {
		return err
	}
	r.pop() // receiver
	v := ValueForDescriptor(desc)
	// NBT-typed fields come out tagged so writes through them are recorded.
	r.push(ensureTyped(v, r.mem.maps))
	return nil
}
