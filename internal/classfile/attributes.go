package classfile

import (
	"errors"
	"fmt"
)

// ErrMalformedFrame reports an invalid frame-type byte in a StackMapTable.
var ErrMalformedFrame = errors.New("malformed stack map frame")

func parseCode(br *BinaryReader, cp *ConstantPool) (*Code, error) {
	code := &Code{}

	maxStack, err := br.ReadU2()
	if err != nil {
		return nil, err
	}
	code.MaxStack = int(maxStack)

	maxLocals, err := br.ReadU2()
	if err != nil {
		return nil, err
	}
	code.MaxLocals = int(maxLocals)

	codeLength, err := br.ReadU4()
	if err != nil {
		return nil, err
	}
	if code.Bytecode, err = br.ReadNBytes(int(codeLength)); err != nil {
		return nil, fmt.Errorf("failed to read %d bytecode bytes: %w", codeLength, err)
	}

	// exception table: start/end/handler/catch_type per entry
	exceptionCount, err := br.ReadU2()
	if err != nil {
		return nil, err
	}
	if err := br.Skip(int(exceptionCount) * 8); err != nil {
		return nil, err
	}

	attrCount, err := br.ReadU2()
	if err != nil {
		return nil, err
	}
	for i := 0; i < int(attrCount); i++ {
		attrName, length, err := readAttributeHeader(br, cp)
		if err != nil {
			return nil, err
		}
		if attrName == "StackMapTable" {
			if code.StackMap, err = parseStackMapTable(br, cp); err != nil {
				return nil, err
			}
		} else if err := br.Skip(int(length)); err != nil {
			return nil, err
		}
	}

	return code, nil
}

// parseStackMapTable reads the diff-encoded frames and converts them to
// absolute form: explicit offsets and full locals lists.
func parseStackMapTable(br *BinaryReader, cp *ConstantPool) ([]StackMapFrame, error) {
	count, err := br.ReadU2()
	if err != nil {
		return nil, err
	}

	frames := make([]StackMapFrame, 0, count)
	var locals []VerificationType
	offset := -1

	for i := 0; i < int(count); i++ {
		frameType, err := br.ReadU1()
		if err != nil {
			return nil, err
		}

		var delta int
		var stack []VerificationType

		switch {
		case frameType <= 63: // same_frame
			delta = int(frameType)

		case frameType <= 127: // same_locals_1_stack_item_frame
			delta = int(frameType) - 64
			vt, err := parseVerificationType(br, cp)
			if err != nil {
				return nil, err
			}
			stack = []VerificationType{vt}

		case frameType == 247: // same_locals_1_stack_item_frame_extended
			d, err := br.ReadU2()
			if err != nil {
				return nil, err
			}
			delta = int(d)
			vt, err := parseVerificationType(br, cp)
			if err != nil {
				return nil, err
			}
			stack = []VerificationType{vt}

		case frameType >= 248 && frameType <= 250: // chop_frame
			d, err := br.ReadU2()
			if err != nil {
				return nil, err
			}
			delta = int(d)
			chopped := 251 - int(frameType)
			if chopped > len(locals) {
				return nil, fmt.Errorf("%w: chop of %d with %d locals", ErrMalformedFrame, chopped, len(locals))
			}
			locals = locals[:len(locals)-chopped]

		case frameType == 251: // same_frame_extended
			d, err := br.ReadU2()
			if err != nil {
				return nil, err
			}
			delta = int(d)

		case frameType >= 252 && frameType <= 254: // append_frame
			d, err := br.ReadU2()
			if err != nil {
				return nil, err
			}
			delta = int(d)
			for k := 0; k < int(frameType)-251; k++ {
				vt, err := parseVerificationType(br, cp)
				if err != nil {
					return nil, err
				}
				locals = append(locals, vt)
			}

		case frameType == 255: // full_frame
			d, err := br.ReadU2()
			if err != nil {
				return nil, err
			}
			delta = int(d)
			localCount, err := br.ReadU2()
			if err != nil {
				return nil, err
			}
			locals = nil
			for k := 0; k < int(localCount); k++ {
				vt, err := parseVerificationType(br, cp)
				if err != nil {
					return nil, err
				}
				locals = append(locals, vt)
			}
			stackCount, err := br.ReadU2()
			if err != nil {
				return nil, err
			}
			stack = nil
			for k := 0; k < int(stackCount); k++ {
				vt, err := parseVerificationType(br, cp)
				if err != nil {
					return nil, err
				}
				stack = append(stack, vt)
			}

		default:
			return nil, fmt.Errorf("%w: frame type %d", ErrMalformedFrame, frameType)
		}

		if offset < 0 {
			offset = delta
		} else {
			offset += delta + 1
		}

		frames = append(frames, StackMapFrame{
			Offset: offset,
			Locals: append([]VerificationType(nil), locals...),
			Stack:  stack,
		})
	}

	return frames, nil
}

func parseVerificationType(br *BinaryReader, cp *ConstantPool) (VerificationType, error) {
	tag, err := br.ReadU1()
	if err != nil {
		return VerificationType{}, err
	}
	vt := VerificationType{Tag: VerificationTag(tag)}

	switch VerificationTag(tag) {
	case VTTop, VTInteger, VTFloat, VTDouble, VTLong, VTNull, VTUninitializedThis:

	case VTObject:
		index, err := br.ReadU2()
		if err != nil {
			return VerificationType{}, err
		}
		if vt.ClassName, err = cp.ClassName(index); err != nil {
			return VerificationType{}, fmt.Errorf("failed to resolve Object verification type: %w", err)
		}

	case VTUninitialized:
		offset, err := br.ReadU2()
		if err != nil {
			return VerificationType{}, err
		}
		vt.Offset = int(offset)

	default:
		return VerificationType{}, fmt.Errorf("%w: verification type tag %d", ErrMalformedFrame, tag)
	}

	return vt, nil
}

func parseBootstrapMethods(br *BinaryReader, cp *ConstantPool, cf *ClassFile) error {
	count, err := br.ReadU2()
	if err != nil {
		return err
	}
	for i := 0; i < int(count); i++ {
		handleIndex, err := br.ReadU2()
		if err != nil {
			return err
		}
		refKind, class, name, desc, err := cp.MethodHandle(handleIndex)
		if err != nil {
			return fmt.Errorf("failed to resolve bootstrap method %d handle: %w", i, err)
		}

		bm := BootstrapMethod{RefKind: refKind, Class: class, Name: name, Descriptor: desc}
		argCount, err := br.ReadU2()
		if err != nil {
			return err
		}
		for a := 0; a < int(argCount); a++ {
			arg, err := br.ReadU2()
			if err != nil {
				return err
			}
			bm.Arguments = append(bm.Arguments, arg)
		}
		cf.BootstrapMethods = append(cf.BootstrapMethods, bm)
	}
	return nil
}
