package classfile

import (
	"bytes"
	"fmt"
)

/*
*	Class file format described here
*	https://docs.oracle.com/javase/specs/jvms/se21/html/jvms-4.html
 */

const classMagic = 0xCAFEBABE

// Parse reads a complete class file from its raw bytes.
func Parse(data []byte) (*ClassFile, error) {
	br := NewBinaryReader(bytes.NewReader(data))

	magic, err := br.ReadU4()
	if err != nil {
		return nil, fmt.Errorf("failed to read magic: %w", err)
	}
	if magic != classMagic {
		return nil, fmt.Errorf("bad magic 0x%08X", magic)
	}

	// minor and major version; the analyzer is version agnostic
	if err := br.Skip(4); err != nil {
		return nil, err
	}

	cp, err := parseConstantPool(br)
	if err != nil {
		return nil, fmt.Errorf("failed to parse constant pool: %w", err)
	}

	cf := &ClassFile{ConstantPool: cp}

	if cf.AccessFlags, err = br.ReadU2(); err != nil {
		return nil, err
	}

	thisClass, err := br.ReadU2()
	if err != nil {
		return nil, err
	}
	if cf.ThisClass, err = cp.ClassName(thisClass); err != nil {
		return nil, fmt.Errorf("failed to resolve this_class: %w", err)
	}

	superClass, err := br.ReadU2()
	if err != nil {
		return nil, err
	}
	if superClass != 0 {
		if cf.SuperClass, err = cp.ClassName(superClass); err != nil {
			return nil, fmt.Errorf("failed to resolve super_class: %w", err)
		}
	}

	interfaceCount, err := br.ReadU2()
	if err != nil {
		return nil, err
	}
	for i := 0; i < int(interfaceCount); i++ {
		index, err := br.ReadU2()
		if err != nil {
			return nil, err
		}
		name, err := cp.ClassName(index)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve interface %d: %w", i, err)
		}
		cf.Interfaces = append(cf.Interfaces, name)
	}

	if err := parseFields(br, cp, cf); err != nil {
		return nil, err
	}
	if err := parseMethods(br, cp, cf); err != nil {
		return nil, err
	}
	if err := parseClassAttributes(br, cp, cf); err != nil {
		return nil, err
	}

	return cf, nil
}

func parseFields(br *BinaryReader, cp *ConstantPool, cf *ClassFile) error {
	count, err := br.ReadU2()
	if err != nil {
		return fmt.Errorf("failed to read field count: %w", err)
	}
	for i := 0; i < int(count); i++ {
		var f Field
		if f.AccessFlags, err = br.ReadU2(); err != nil {
			return err
		}
		nameIndex, err := br.ReadU2()
		if err != nil {
			return err
		}
		if f.Name, err = cp.Utf8(nameIndex); err != nil {
			return fmt.Errorf("failed to resolve field %d name: %w", i, err)
		}
		descIndex, err := br.ReadU2()
		if err != nil {
			return err
		}
		if f.Descriptor, err = cp.Utf8(descIndex); err != nil {
			return fmt.Errorf("failed to resolve field %d descriptor: %w", i, err)
		}
		if err := skipAttributes(br); err != nil {
			return err
		}
		cf.Fields = append(cf.Fields, f)
	}
	return nil
}

func parseMethods(br *BinaryReader, cp *ConstantPool, cf *ClassFile) error {
	count, err := br.ReadU2()
	if err != nil {
		return fmt.Errorf("failed to read method count: %w", err)
	}
	for i := 0; i < int(count); i++ {
		var m Method
		if m.AccessFlags, err = br.ReadU2(); err != nil {
			return err
		}
		nameIndex, err := br.ReadU2()
		if err != nil {
			return err
		}
		if m.Name, err = cp.Utf8(nameIndex); err != nil {
			return fmt.Errorf("failed to resolve method %d name: %w", i, err)
		}
		descIndex, err := br.ReadU2()
		if err != nil {
			return err
		}
		if m.Descriptor, err = cp.Utf8(descIndex); err != nil {
			return fmt.Errorf("failed to resolve method %d descriptor: %w", i, err)
		}

		attrCount, err := br.ReadU2()
		if err != nil {
			return err
		}
		for a := 0; a < int(attrCount); a++ {
			attrName, length, err := readAttributeHeader(br, cp)
			if err != nil {
				return err
			}
			if attrName == "Code" {
				code, err := parseCode(br, cp)
				if err != nil {
					return fmt.Errorf("failed to parse Code of %s%s: %w", m.Name, m.Descriptor, err)
				}
				m.Code = code
			} else if err := br.Skip(int(length)); err != nil {
				return err
			}
		}
		cf.Methods = append(cf.Methods, m)
	}
	return nil
}

func parseClassAttributes(br *BinaryReader, cp *ConstantPool, cf *ClassFile) error {
	count, err := br.ReadU2()
	if err != nil {
		return fmt.Errorf("failed to read class attribute count: %w", err)
	}
	for i := 0; i < int(count); i++ {
		attrName, length, err := readAttributeHeader(br, cp)
		if err != nil {
			return err
		}
		if attrName == "BootstrapMethods" {
			if err := parseBootstrapMethods(br, cp, cf); err != nil {
				return fmt.Errorf("failed to parse BootstrapMethods: %w", err)
			}
		} else if err := br.Skip(int(length)); err != nil {
			return err
		}
	}
	return nil
}

func readAttributeHeader(br *BinaryReader, cp *ConstantPool) (string, uint32, error) {
	nameIndex, err := br.ReadU2()
	if err != nil {
		return "", 0, err
	}
	length, err := br.ReadU4()
	if err != nil {
		return "", 0, err
	}
	name, err := cp.Utf8(nameIndex)
	if err != nil {
		return "", 0, fmt.Errorf("failed to resolve attribute name: %w", err)
	}
	return name, length, nil
}

func skipAttributes(br *BinaryReader) error {
	count, err := br.ReadU2()
	if err != nil {
		return err
	}
	for i := 0; i < int(count); i++ {
		if err := br.Skip(2); err != nil { // name index
			return err
		}
		length, err := br.ReadU4()
		if err != nil {
			return err
		}
		if err := br.Skip(int(length)); err != nil {
			return err
		}
	}
	return nil
}
