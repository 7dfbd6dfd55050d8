package interp

import (
	"fmt"

	"github.com/mabhi256/nbtspec/internal/classfile"
	"github.com/mabhi256/nbtspec/internal/nbt"
)

// ClassSource resolves internal class names to parsed class files. A
// missing class is reported as (nil, nil): absence is expected and
// non-fatal.
type ClassSource interface {
	Load(internalName string) (*classfile.ClassFile, error)
}

// CallResult is the memoized effect of one analyzed invocation: the schema
// each NBT-typed argument accumulated, and the schema of the return value.
// Entries are nil for arguments (or returns) that carry no NBT.
type CallResult struct {
	ArgsNbt   []nbt.Element
	ReturnNbt nbt.Element
}

// Memoizer caches analyzed calls, detects recursion and owns the
// process-wide state of one analysis session: the class cache (via the
// source), the static-field map, and the set of recursion-hit calls.
type Memoizer struct {
	source ClassSource
	maps   *Mappings
	warnf  func(format string, args ...any)

	cache      map[string]*CallResult
	active     []string
	activeKeys map[string]bool

	// boxedKeys and boxedNames record calls that were hit recursively;
	// their compounds must survive flattening and keep their exact names.
	boxedKeys  map[string]bool
	boxedNames map[string]bool

	statics    map[string]Value
	clinitDone map[string]bool
}

func NewMemoizer(source ClassSource, maps *Mappings, warnf func(format string, args ...any)) *Memoizer {
	if warnf == nil {
		warnf = func(string, ...any) {}
	}
	return &Memoizer{
		source:     source,
		maps:       maps,
		warnf:      warnf,
		cache:      make(map[string]*CallResult),
		activeKeys: make(map[string]bool),
		boxedKeys:  make(map[string]bool),
		boxedNames: make(map[string]bool),
		statics:    make(map[string]Value),
		clinitDone: make(map[string]bool),
	}
}

// BoxedKeys exposes the recursion-hit call identities for the flatten pass.
func (m *Memoizer) BoxedKeys() map[string]bool { return m.boxedKeys }

// BoxedNames exposes the derived type names of recursion-hit calls.
func (m *Memoizer) BoxedNames() map[string]bool { return m.boxedNames }

// ActiveDepth reports the current call-stack depth. Zero after a completed
// top-level call.
func (m *Memoizer) ActiveDepth() int { return len(m.active) }

// Call analyzes (or replays) the method at ptr with the given argument
// values. The arguments are erased to form the memo key; recursion on an
// active key synthesizes a boxed result instead of descending.
func (m *Memoizer) Call(ptr MethodPointer, args []Value, overrideOptional, ignoreSuper bool) (*CallResult, error) {
	call := &MethodCall{Ptr: ptr, Args: untypeAll(args), OverrideOptional: overrideOptional}
	key := call.Key()

	if res, ok := m.cache[key]; ok {
		return res, nil
	}

	if m.activeKeys[key] {
		return m.boxedResult(call), nil
	}

	cf, err := m.source.Load(ptr.Class)
	if err != nil {
		return nil, err
	}
	if cf == nil {
		// Absent classes are served from the signature alone.
		res := m.passThroughResult(call)
		m.cache[key] = res
		return res, nil
	}

	if err := m.EnsureStaticInit(ptr.Class); err != nil {
		return nil, err
	}

	method := cf.Method(ptr.Name, ptr.Desc)
	if method == nil || method.Code == nil {
		res := m.passThroughResult(call)
		m.cache[key] = res
		return res, nil
	}

	seeded := m.seedArgs(call)

	m.active = append(m.active, key)
	m.activeKeys[key] = true
	defer func() {
		m.active = m.active[:len(m.active)-1]
		delete(m.activeKeys, key)
	}()

	runner := newRunner(m, cf, method, ptr, ignoreSuper, seeded)
	if err := runner.Run(); err != nil {
		return nil, err
	}

	res := &CallResult{ArgsNbt: make([]nbt.Element, len(seeded))}
	for i, arg := range seeded {
		if t, ok := arg.(*Tagged); ok {
			res.ArgsNbt[i] = t.Nbt
		}
	}
	res.ReturnNbt, err = mergeReturns(runner.returns)
	if err != nil {
		return nil, &AnalysisError{Class: ptr.Class, Method: ptr.Name, Err: err}
	}

	m.cache[key] = res
	return res, nil
}

// seedArgs prepares the callee frame values: every NBT argument gets a
// fresh tag, and if exactly one argument is an unnamed compound it is named
// after the call, seeding the human-readable type names.
func (m *Memoizer) seedArgs(call *MethodCall) []Value {
	seeded := make([]Value, len(call.Args))
	var compounds []*Tagged
	for i, arg := range call.Args {
		v := ensureTyped(arg, m.maps)
		if t, ok := v.(*Tagged); ok {
			if call.OverrideOptional {
				t.OptionalUntil = OptionalForever
			}
			if _, isCompound := t.Nbt.(*nbt.Compound); isCompound {
				compounds = append(compounds, t)
			}
		}
		seeded[i] = v
	}

	if len(compounds) == 1 {
		c := compounds[0].Nbt.(*nbt.Compound)
		if c.Name == nil {
			c.Name = &nbt.NameSource{Key: call.Key(), Base: call.BaseName()}
		}
	} else if len(compounds) > 1 {
		m.warnf("more than one compound argument in %s, type naming is best-effort", call.Ptr)
	}
	return seeded
}

// boxedResult synthesizes the result of a recursion hit: compound-typed
// argument and return positions become back-references to the call's type
// name.
func (m *Memoizer) boxedResult(call *MethodCall) *CallResult {
	name := call.BaseName()
	m.boxedKeys[call.Key()] = true
	m.boxedNames[name] = true

	res := &CallResult{ArgsNbt: make([]nbt.Element, len(call.Args))}
	for i, arg := range call.Args {
		if arg.ClassName() == m.maps.CompoundClass {
			res.ArgsNbt[i] = nbt.Boxed{Name: name}
		}
	}
	_, ret, err := classfile.ParseMethodDescriptor(call.Ptr.Desc)
	if err == nil && classfile.DescriptorClassName(ret) == m.maps.CompoundClass {
		res.ReturnNbt = nbt.Boxed{Name: name}
	}
	return res
}

// passThroughResult serves a call whose body is unavailable. Arguments stay
// untouched; an NBT return is approximated from the signature.
func (m *Memoizer) passThroughResult(call *MethodCall) *CallResult {
	res := &CallResult{ArgsNbt: make([]nbt.Element, len(call.Args))}
	_, ret, err := classfile.ParseMethodDescriptor(call.Ptr.Desc)
	if err != nil {
		return res
	}
	switch classfile.DescriptorClassName(ret) {
	case m.maps.CompoundClass:
		res.ReturnNbt = nbt.AnyCompound{}
	case m.maps.ListClass:
		res.ReturnNbt = nbt.NewList()
	case m.maps.TagBaseClass:
		res.ReturnNbt = nbt.Any{}
	}
	return res
}

// EnsureStaticInit runs a class's static initializer the first time the
// class is visited, feeding its writes into the statics map.
func (m *Memoizer) EnsureStaticInit(class string) error {
	if m.clinitDone[class] {
		return nil
	}
	m.clinitDone[class] = true

	cf, err := m.source.Load(class)
	if err != nil || cf == nil {
		return err
	}
	method := cf.Method("<clinit>", "()V")
	if method == nil || method.Code == nil {
		return nil
	}

	ptr := MethodPointer{Class: class, Name: "<clinit>", Desc: "()V"}
	runner := newRunner(m, cf, method, ptr, false, nil)
	return runner.Run()
}

func (m *Memoizer) getStatic(class, name, desc string) (Value, bool) {
	v, ok := m.statics[class+"."+name+":"+desc]
	return v, ok
}

func (m *Memoizer) putStatic(class, name, desc string, v Value) {
	m.statics[class+"."+name+":"+desc] = v
}

// mergeReturns folds the observed return values. Multiple returns are
// distinct data sets.
func mergeReturns(returns []Value) (nbt.Element, error) {
	var acc nbt.Element
	for _, r := range returns {
		t, ok := r.(*Tagged)
		if !ok {
			continue
		}
		if acc == nil || acc == t.Nbt {
			acc = t.Nbt
			continue
		}
		merged, err := nbt.Merge(acc, t.Nbt, nbt.DifferentDataSet)
		if err != nil {
			return nil, fmt.Errorf("merging return values: %w", err)
		}
		acc = merged
	}
	return acc, nil
}

// ApplyTo re-merges a call's argument deltas onto the caller's live
// values. Deltas are cloned so the cached result never shares cells with a
// caller's tree. A caller still inside a branch scope (pc below the live
// tag's OptionalUntil) gets every delta entry forced optional.
func (r *CallResult) ApplyTo(args []Value, pc int) error {
	for i, delta := range r.ArgsNbt {
		if delta == nil || i >= len(args) {
			continue
		}
		if _, isAny := delta.(nbt.Any); isAny {
			continue
		}
		live, ok := args[i].(*Tagged)
		if !ok {
			continue
		}

		switch liveElem := live.Nbt.(type) {
		case *nbt.Compound:
			switch d := delta.(type) {
			case *nbt.Compound:
				cl := nbt.Clone(d).(*nbt.Compound)
				if pc < live.OptionalUntil {
					forceOptional(cl)
				}
				liveElem.Flattened = append(liveElem.Flattened, cl)
			case nbt.Boxed:
				liveElem.Flattened = append(liveElem.Flattened, d)
			default:
				return fmt.Errorf("%w: compound argument received %s delta",
					nbt.ErrIncompatibleMerge, nbt.DebugString(delta))
			}

		case *nbt.List:
			d, ok := delta.(*nbt.List)
			if !ok {
				return fmt.Errorf("%w: list argument received %s delta",
					nbt.ErrIncompatibleMerge, nbt.DebugString(delta))
			}
			merged, err := nbt.Merge(liveElem, nbt.Clone(d), nbt.DifferentDataSet)
			if err != nil {
				return err
			}
			live.Nbt = merged

		case nbt.Any:
			live.Nbt = nbt.Clone(delta)

		default:
			return fmt.Errorf("%w: %s argument received %s delta",
				nbt.ErrIncompatibleMerge, nbt.DebugString(live.Nbt), nbt.DebugString(delta))
		}
	}
	return nil
}

func forceOptional(c *nbt.Compound) {
	for _, key := range c.Keys() {
		entry, _ := c.Entry(key)
		entry.Optional = true
		c.SetEntry(key, entry)
	}
}
