package interp

import (
	"fmt"
	"strings"

	"github.com/mabhi256/nbtspec/internal/classfile"
	"github.com/mabhi256/nbtspec/internal/nbt"
)

// visitInvoke routes invokevirtual/special/static/interface. The NBT
// library surface and a handful of facade methods are special-cased; every
// other NBT-carrying call goes through the memoizer.
func (r *Runner) visitInvoke(op byte, index uint16) error {
	class, name, desc, err := r.cf.ConstantPool.Ref(index)
	if err != nil {
		return err
	}
	maps := r.mem.maps
	virtual := op == opInvokevirtual
	dispatched := virtual || op == opInvokeinterface

	switch {
	case virtual && class == maps.CompoundClass:
		return r.visitCompoundCall(name, desc)

	case virtual && class == maps.ListClass:
		return r.visitListCall(name, desc)

	case dispatched && maps.isOptionalClass(class) && name == "ifPresent",
		dispatched && maps.isForEachClass(class) && name == "forEach":
		return r.visitLambdaDispatch(desc)

	case dispatched && class == maps.EitherClass && name == "map":
		return r.visitEitherMap(desc)

	case dispatched && class == maps.EntityClass && name == maps.SaveAsPassenger:
		return r.visitSaveAsPassenger(desc)

	case class == maps.EntityClass && name == maps.SaveWithoutId:
		return fmt.Errorf("%w: %s.%s reached through the generic path", ErrUnsafeReentry, class, name)

	case op == opInvokespecial && r.ignoreSuper &&
		name == r.ptr.Name && desc == r.ptr.Desc && class != r.ptr.Class:
		// super-call in an override: the parent method is analyzed
		// separately, skip it here
		return r.defaultCallEffect(desc, true)
	}

	return r.genericInvoke(op, class, name, desc)
}

// defaultCallEffect pops the arguments and pushes a plain return value.
func (r *Runner) defaultCallEffect(desc string, hasReceiver bool) error {
	_, ret, err := r.popCallArgs(desc, hasReceiver)
	if err != nil {
		return err
	}
	if ret != "V" {
		r.push(ValueForDescriptor(ret))
	}
	return nil
}

func (r *Runner) popCallArgs(desc string, hasReceiver bool) ([]Value, string, error) {
	params, ret, err := classfile.ParseMethodDescriptor(desc)
	if err != nil {
		return nil, "", err
	}
	n := len(params)
	if hasReceiver {
		n++
	}
	args := make([]Value, n)
	for i := n - 1; i >= 0; i-- {
		args[i] = r.pop()
	}
	return args, ret, nil
}

// visitCompoundCall records writes into the receiver compound. Calls that
// record nothing (getters, contains, remove) keep the default effect.
func (r *Runner) visitCompoundCall(name, desc string) error {
	maps := r.mem.maps

	var kind nbt.Element
	if k, ok := maps.PutKind(name); ok {
		kind = k
	} else if name == "put" {
		// the recorded kind is whatever tag value is being stored
		if t, ok := r.peek(0).(*Tagged); ok {
			kind = t.Nbt
		} else {
			r.mem.warnf("untyped tag value in %s.put at %s pc %d", classfile.SimpleName(maps.CompoundClass), r.ptr, r.pc)
			kind = nbt.Any{}
		}
	} else {
		return r.defaultCallEffect(desc, true)
	}

	key := r.peek(1)
	receiver := r.peek(2)

	if err := r.recordPut(receiver, key, kind); err != nil {
		return err
	}
	return r.defaultCallEffect(desc, true)
}

func (r *Runner) recordPut(receiver, key Value, kind nbt.Element) error {
	tag, ok := receiver.(*Tagged)
	if !ok {
		r.mem.warnf("untyped compound at write site in %s pc %d", r.ptr, r.pc)
		return nil
	}
	compound, ok := tag.Nbt.(*nbt.Compound)
	if !ok {
		r.mem.warnf("compound write on %s value in %s pc %d", nbt.DebugString(tag.Nbt), r.ptr, r.pc)
		return nil
	}
	optional := r.pc < tag.OptionalUntil

	switch k := key.(type) {
	case *StringValue:
		return compound.Put(k.V, nbt.Entry{Value: kind, Optional: optional}, nbt.SameDataSet)

	case *StringFromArray:
		for _, choice := range k.Choices {
			if err := compound.Put(choice, nbt.Entry{Value: kind, Optional: optional}, nbt.SameDataSet); err != nil {
				return err
			}
		}
		return nil

	default:
		// Sign text keys are produced in a loop the linear walk cannot
		// trace; substitute the known fixed key set. Everything else
		// lands in the unknown-keys channel.
		if r.ptr.Class == r.mem.maps.SignClass {
			r.mem.warnf("synthesizing Text1..Text4 for untraceable sign keys in %s", r.ptr)
			for i := 1; i <= 4; i++ {
				if err := compound.Put(fmt.Sprintf("Text%d", i), nbt.Entry{Value: kind}, nbt.SameDataSet); err != nil {
					return err
				}
			}
			return nil
		}
		compound.AddUnknown(kind)
		return nil
	}
}

// visitListCall folds added elements into the list's element type and hands
// out shared element schemas for getters.
func (r *Runner) visitListCall(name, desc string) error {
	maps := r.mem.maps

	switch name {
	case "add", "addTag", "addFirst", "addLast", "set", "setTag":
		params, _, err := classfile.ParseMethodDescriptor(desc)
		if err != nil {
			return err
		}
		// the element is the last parameter; an index may precede it
		value := r.peek(0)
		receiver := r.peek(len(params))
		if err := r.recordListAdd(receiver, value); err != nil {
			return err
		}
		return r.defaultCallEffect(desc, true)

	case "addAll":
		r.mem.warnf("addAll on %s in %s pc %d is not traced, element types may be missing",
			classfile.SimpleName(maps.ListClass), r.ptr, r.pc)
		return r.defaultCallEffect(desc, true)
	}

	if strings.HasPrefix(name, "get") {
		return r.visitListGet(desc)
	}
	return r.defaultCallEffect(desc, true)
}

func (r *Runner) recordListAdd(receiver, value Value) error {
	tag, ok := receiver.(*Tagged)
	if !ok {
		r.mem.warnf("untyped list at write site in %s pc %d", r.ptr, r.pc)
		return nil
	}
	list, ok := tag.Nbt.(*nbt.List)
	if !ok {
		r.mem.warnf("list write on %s value in %s pc %d", nbt.DebugString(tag.Nbt), r.ptr, r.pc)
		return nil
	}

	var kind nbt.Element = nbt.Any{}
	if t, ok := value.(*Tagged); ok {
		kind = t.Nbt
	}
	// Each added element is its own data set.
	inner, err := nbt.Merge(list.Inner, kind, nbt.DifferentDataSet)
	if err != nil {
		return err
	}
	list.Inner = inner
	return nil
}

// visitListGet pushes a synthetic tagged value sharing the list's element
// schema, so writes through the getter result flow back into the list.
func (r *Runner) visitListGet(desc string) error {
	args, ret, err := r.popCallArgs(desc, true)
	if err != nil {
		return err
	}
	if ret == "V" {
		return nil
	}

	retClass := classfile.DescriptorClassName(ret)
	tag, isTagged := args[0].(*Tagged)
	if !isTagged {
		r.push(ValueForDescriptor(ret))
		return nil
	}
	list, isList := tag.Nbt.(*nbt.List)
	if !isList {
		r.push(ValueForDescriptor(ret))
		return nil
	}

	switch retClass {
	case r.mem.maps.CompoundClass:
		if _, ok := list.Inner.(nbt.Any); ok {
			list.Inner = nbt.NewCompound()
		}
		if c, ok := list.Inner.(*nbt.Compound); ok {
			r.push(&Tagged{Class: retClass, Nbt: c})
			return nil
		}
	case r.mem.maps.ListClass:
		if _, ok := list.Inner.(nbt.Any); ok {
			list.Inner = nbt.NewList()
		}
		if l, ok := list.Inner.(*nbt.List); ok {
			r.push(&Tagged{Class: retClass, Nbt: l})
			return nil
		}
	}
	r.push(ValueForDescriptor(ret))
	return nil
}

// visitLambdaDispatch handles Optional.ifPresent and the primitive-map
// forEach: the lambda runs conditionally (or repeatedly), so it is analyzed
// with the optional override and its effects apply to its captured values.
func (r *Runner) visitLambdaDispatch(desc string) error {
	args, _, err := r.popCallArgs(desc, true)
	if err != nil {
		return err
	}
	lambda, ok := args[len(args)-1].(*Lambda)
	if !ok {
		return nil
	}
	res, err := r.mem.Call(lambda.Target, lambda.Bound, true, false)
	if err != nil {
		return err
	}
	return res.ApplyTo(lambda.Bound, r.pc)
}

// visitEitherMap analyzes both arms and pushes their results as an Either.
func (r *Runner) visitEitherMap(desc string) error {
	args, ret, err := r.popCallArgs(desc, true)
	if err != nil {
		return err
	}
	if len(args) < 3 {
		return fmt.Errorf("%w: Either.map with %d stack values", ErrInvariant, len(args))
	}

	arm := func(v Value) (nbt.Element, error) {
		lambda, ok := v.(*Lambda)
		if !ok {
			return nbt.Any{}, nil
		}
		res, err := r.mem.Call(lambda.Target, lambda.Bound, true, false)
		if err != nil {
			return nil, err
		}
		if err := res.ApplyTo(lambda.Bound, r.pc); err != nil {
			return nil, err
		}
		if res.ReturnNbt == nil {
			return nbt.Any{}, nil
		}
		return nbt.Clone(res.ReturnNbt), nil
	}

	left, err := arm(args[1])
	if err != nil {
		return err
	}
	right, err := arm(args[2])
	if err != nil {
		return err
	}

	if ret != "V" {
		r.push(&Tagged{
			Class: classfile.DescriptorClassName(ret),
			Nbt:   nbt.Either{Left: left, Right: right},
		})
	}
	return nil
}

// visitSaveAsPassenger is the pinned injection point of the entity
// recursion: the target compound becomes a back-reference to the
// polymorphic entity type.
func (r *Runner) visitSaveAsPassenger(desc string) error {
	args, ret, err := r.popCallArgs(desc, true)
	if err != nil {
		return err
	}
	for _, arg := range args[1:] {
		if t, ok := arg.(*Tagged); ok && t.Class == r.mem.maps.CompoundClass {
			t.Nbt = nbt.NestedEntity{}
		}
	}
	if ret != "V" {
		r.push(ValueForDescriptor(ret))
	}
	return nil
}

// genericInvoke analyzes any call whose signature carries an NBT type
// through the memoizer and re-applies its effect here. NBT-free calls keep
// the default stack effect.
func (r *Runner) genericInvoke(op byte, class, name, desc string) error {
	maps := r.mem.maps
	hasReceiver := op != opInvokestatic

	if !signatureCarriesNbt(desc, maps) {
		return r.defaultCallEffect(desc, hasReceiver)
	}

	args, ret, err := r.popCallArgs(desc, hasReceiver)
	if err != nil {
		return err
	}

	target := MethodPointer{Class: class, Name: name, Desc: desc}
	skip := false
	if op == opInvokevirtual || op == opInvokeinterface {
		var receiver Value
		if hasReceiver {
			receiver = args[0]
		}
		target, skip, err = r.resolveVirtual(class, name, desc, receiver)
		if err != nil {
			return err
		}
	} else if maps.IsNbtClass(class) {
		// calls into the NBT library itself contribute no schema
		skip = true
	}

	if target.Class == maps.EntityClass && target.Name == maps.SaveWithoutId {
		return fmt.Errorf("%w: %s resolved through the generic path", ErrUnsafeReentry, target)
	}

	if skip {
		if ret != "V" {
			r.push(ensureTyped(ValueForDescriptor(ret), maps))
		}
		return nil
	}

	res, err := r.mem.Call(target, args, false, false)
	if err != nil {
		return err
	}
	if err := res.ApplyTo(args, r.pc); err != nil {
		return err
	}

	if ret == "V" {
		return nil
	}
	if res.ReturnNbt != nil {
		r.push(&Tagged{
			Class: classfile.DescriptorClassName(ret),
			Nbt:   nbt.Clone(res.ReturnNbt),
		})
		return nil
	}
	r.push(ValueForDescriptor(ret))
	return nil
}

func signatureCarriesNbt(desc string, maps *Mappings) bool {
	params, ret, err := classfile.ParseMethodDescriptor(desc)
	if err != nil {
		return false
	}
	for _, p := range params {
		if maps.IsNbtClass(classfile.DescriptorClassName(p)) {
			return true
		}
	}
	return maps.IsNbtClass(classfile.DescriptorClassName(ret))
}

// resolveVirtual finds the concrete target of a virtual or interface call
// (JVMS 5.4.6): the receiver's known class first, then the declared class,
// walking superclasses and finally looking for a unique default method on
// the superinterfaces. skip=true means the call has no resolvable body and
// passes through.
func (r *Runner) resolveVirtual(declared, name, desc string, receiver Value) (MethodPointer, bool, error) {
	start := declared
	if receiver != nil && receiver.Kind() == KindRef {
		if rc := receiver.ClassName(); rc != "" && !strings.HasPrefix(rc, "[") {
			start = rc
		}
	}

	for _, candidate := range []string{start, declared} {
		ptr, found, err := r.searchClassChain(candidate, name, desc)
		if err != nil {
			return MethodPointer{}, false, err
		}
		if found {
			return ptr, false, nil
		}
		if candidate == declared {
			break
		}
	}

	ptr, found, err := r.searchInterfaces(declared, name, desc)
	if err != nil {
		return MethodPointer{}, false, err
	}
	if found {
		return ptr, false, nil
	}

	cf, err := r.mem.source.Load(declared)
	if err != nil {
		return MethodPointer{}, false, err
	}
	if cf == nil || cf.IsAbstract() || cf.IsInterface() {
		// unresolvable abstract dispatch: serve from the signature
		return MethodPointer{Class: declared, Name: name, Desc: desc}, true, nil
	}
	return MethodPointer{}, false, fmt.Errorf("%w: %s.%s%s", ErrVirtualResolution, declared, name, desc)
}

func (r *Runner) searchClassChain(class, name, desc string) (MethodPointer, bool, error) {
	for class != "" {
		cf, err := r.mem.source.Load(class)
		if err != nil {
			return MethodPointer{}, false, err
		}
		if cf == nil {
			return MethodPointer{}, false, nil
		}
		if m := cf.Method(name, desc); m != nil && !m.IsAbstract() {
			return MethodPointer{Class: class, Name: name, Desc: desc}, true, nil
		}
		class = cf.SuperClass
	}
	return MethodPointer{}, false, nil
}

// searchInterfaces looks for a unique non-abstract maximally specific
// superinterface method.
func (r *Runner) searchInterfaces(class, name, desc string) (MethodPointer, bool, error) {
	seen := make(map[string]bool)
	var queue []string
	var matches []MethodPointer

	for c := class; c != ""; {
		cf, err := r.mem.source.Load(c)
		if err != nil {
			return MethodPointer{}, false, err
		}
		if cf == nil {
			break
		}
		queue = append(queue, cf.Interfaces...)
		c = cf.SuperClass
	}

	for len(queue) > 0 {
		iface := queue[0]
		queue = queue[1:]
		if seen[iface] {
			continue
		}
		seen[iface] = true

		cf, err := r.mem.source.Load(iface)
		if err != nil {
			return MethodPointer{}, false, err
		}
		if cf == nil {
			continue
		}
		if m := cf.Method(name, desc); m != nil && !m.IsAbstract() {
			matches = append(matches, MethodPointer{Class: iface, Name: name, Desc: desc})
		}
		queue = append(queue, cf.Interfaces...)
	}

	if len(matches) == 1 {
		return matches[0], true, nil
	}
	return MethodPointer{}, false, nil
}

// visitInvokedynamic does not model invokedynamic semantics. When the
// bootstrap method is the standard lambda metafactory over a static
// handle, the synthesized value is wrapped as a Lambda remembering the
// backing method and the captured arguments.
func (r *Runner) visitInvokedynamic(index uint16) error {
	cp := r.cf.ConstantPool
	bootstrapIndex, _, factoryDesc, err := cp.InvokeDynamic(index)
	if err != nil {
		return err
	}

	captured, ret, err := r.popCallArgs(factoryDesc, false)
	if err != nil {
		return err
	}
	iface := classfile.DescriptorClassName(ret)
	r.push(NewRef(iface))

	if int(bootstrapIndex) >= len(r.cf.BootstrapMethods) {
		return nil
	}
	row := r.cf.BootstrapMethods[bootstrapIndex]
	if row.Class != "java/lang/invoke/LambdaMetafactory" ||
		(row.Name != "metafactory" && row.Name != "altMetafactory") ||
		len(row.Arguments) < 3 {
		return nil
	}

	refKind, implClass, implName, implDesc, err := cp.MethodHandle(row.Arguments[1])
	if err != nil || refKind != classfile.RefInvokeStatic {
		// only invokeStatic handles are modeled
		return nil
	}
	instantiated, err := cp.MethodTypeAt(row.Arguments[2])
	if err != nil {
		return nil
	}
	runtimeParams, _, err := classfile.ParseMethodDescriptor(instantiated)
	if err != nil {
		return nil
	}

	bound := append([]Value(nil), captured...)
	for _, p := range runtimeParams {
		bound = append(bound, ValueForDescriptor(p))
	}

	r.pop() // replace the plain functional-interface value
	r.push(&Lambda{
		Iface:  iface,
		Target: MethodPointer{Class: implClass, Name: implName, Desc: implDesc},
		Bound:  bound,
	})
	return nil
}
