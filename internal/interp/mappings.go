package interp

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/mabhi256/nbtspec/internal/nbt"
)

// Mappings pins the class and method identities of the analyzed framework
// version: the NBT container classes, the lambda-bearing facades, the
// entity root and its save methods. The built-in table covers current
// Mojang-mapped jars; a YAML file can override any field for other
// versions.
type Mappings struct {
	CompoundClass string            `yaml:"compoundClass"`
	ListClass     string            `yaml:"listClass"`
	TagBaseClass  string            `yaml:"tagBaseClass"`
	TagClasses    map[string]string `yaml:"tagClasses"` // leaf tag class -> primitive kind

	OptionalClasses []string `yaml:"optionalClasses"`
	ForEachClasses  []string `yaml:"forEachClasses"` // primitive maps whose forEach takes a lambda
	EitherClass     string   `yaml:"eitherClass"`

	EntityClass     string `yaml:"entityClass"`
	SaveWithoutId   string `yaml:"saveWithoutId"`
	SaveAsPassenger string `yaml:"saveAsPassenger"`
	EntitySaveEntry string `yaml:"entitySaveEntry"` // per-class override hook

	BlockEntityClass     string `yaml:"blockEntityClass"`
	BlockEntitySaveEntry string `yaml:"blockEntitySaveEntry"`

	// SignClass names the block entity whose text keys are written in a
	// loop the interpreter cannot trace; writes with unresolvable keys in
	// it synthesize Text1..Text4 instead.
	SignClass string `yaml:"signClass"`
}

// DefaultMappings matches current Mojang-mapped archives.
func DefaultMappings() *Mappings {
	return &Mappings{
		CompoundClass: "net/minecraft/nbt/CompoundTag",
		ListClass:     "net/minecraft/nbt/ListTag",
		TagBaseClass:  "net/minecraft/nbt/Tag",
		TagClasses: map[string]string{
			"net/minecraft/nbt/ByteTag":      "Byte",
			"net/minecraft/nbt/ShortTag":     "Short",
			"net/minecraft/nbt/IntTag":       "Int",
			"net/minecraft/nbt/LongTag":      "Long",
			"net/minecraft/nbt/FloatTag":     "Float",
			"net/minecraft/nbt/DoubleTag":    "Double",
			"net/minecraft/nbt/StringTag":    "String",
			"net/minecraft/nbt/ByteArrayTag": "ByteArray",
			"net/minecraft/nbt/IntArrayTag":  "IntArray",
			"net/minecraft/nbt/LongArrayTag": "LongArray",
		},
		OptionalClasses: []string{
			"java/util/Optional",
			"java/util/OptionalInt",
			"java/util/OptionalLong",
			"java/util/OptionalDouble",
		},
		ForEachClasses: []string{
			"it/unimi/dsi/fastutil/objects/Object2IntMap",
			"it/unimi/dsi/fastutil/objects/Object2FloatMap",
		},
		EitherClass: "com/mojang/datafixers/util/Either",

		EntityClass:     "net/minecraft/world/entity/Entity",
		SaveWithoutId:   "saveWithoutId",
		SaveAsPassenger: "saveAsPassenger",
		EntitySaveEntry: "addAdditionalSaveData",

		BlockEntityClass:     "net/minecraft/world/level/block/entity/BlockEntity",
		BlockEntitySaveEntry: "saveAdditional",

		SignClass: "net/minecraft/world/level/block/entity/SignBlockEntity",
	}
}

// MappingsForVersion adjusts the defaults to an older save-method era. The
// tag is the game version the archive was compiled for; versions before
// 1.18 used BlockEntity.save as the write-out method.
func MappingsForVersion(version string) *Mappings {
	maps := DefaultMappings()
	if version == "" {
		return maps
	}
	if olderThan118(version) {
		maps.BlockEntitySaveEntry = "save"
	}
	return maps
}

func olderThan118(version string) bool {
	var major, minor int
	if _, err := fmt.Sscanf(version, "%d.%d", &major, &minor); err != nil {
		return false
	}
	return major < 1 || (major == 1 && minor < 18)
}

// LoadMappings reads a YAML override file on top of the defaults. Only the
// fields present in the file are replaced.
func LoadMappings(path string) (*Mappings, error) {
	maps := DefaultMappings()
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("unable to read mappings file: %w", err)
	}
	if err := yaml.Unmarshal(data, maps); err != nil {
		return nil, fmt.Errorf("invalid mappings file %s: %w", path, err)
	}
	return maps, nil
}

// IsNbtClass reports whether the internal class name is part of the NBT
// library surface.
func (m *Mappings) IsNbtClass(class string) bool {
	if class == m.CompoundClass || class == m.ListClass || class == m.TagBaseClass {
		return true
	}
	_, ok := m.TagClasses[class]
	return ok
}

// ElementForClass returns a fresh schema element for a value of the given
// NBT class.
func (m *Mappings) ElementForClass(class string) (nbt.Element, bool) {
	switch class {
	case m.CompoundClass:
		return nbt.NewCompound(), true
	case m.ListClass:
		return nbt.NewList(), true
	case m.TagBaseClass:
		return nbt.Any{}, true
	}
	if kind, ok := m.TagClasses[class]; ok {
		if prim, ok := primKindByName(kind); ok {
			return nbt.Prim(prim), true
		}
		return nbt.Any{}, true
	}
	return nil, false
}

// PutKind maps a compound put-method name to the recorded element, or
// (nil, false) for methods that record nothing. The "put" method itself is
// handled separately because its kind comes from the pushed value.
func (m *Mappings) PutKind(name string) (nbt.Element, bool) {
	switch name {
	case "putByte":
		return nbt.Prim(nbt.Byte), true
	case "putShort":
		return nbt.Prim(nbt.Short), true
	case "putInt":
		return nbt.Prim(nbt.Int), true
	case "putLong":
		return nbt.Prim(nbt.Long), true
	case "putFloat":
		return nbt.Prim(nbt.Float), true
	case "putDouble":
		return nbt.Prim(nbt.Double), true
	case "putString":
		return nbt.Prim(nbt.String), true
	case "putByteArray":
		return nbt.Prim(nbt.ByteArray), true
	case "putIntArray":
		return nbt.Prim(nbt.IntArray), true
	case "putLongArray":
		return nbt.Prim(nbt.LongArray), true
	case "putUUID":
		return nbt.Prim(nbt.Uuid), true
	case "putBoolean":
		return nbt.Prim(nbt.Boolean), true
	}
	return nil, false
}

func primKindByName(name string) (nbt.PrimKind, bool) {
	kinds := map[string]nbt.PrimKind{
		"Byte": nbt.Byte, "Short": nbt.Short, "Int": nbt.Int, "Long": nbt.Long,
		"Float": nbt.Float, "Double": nbt.Double, "String": nbt.String,
		"ByteArray": nbt.ByteArray, "IntArray": nbt.IntArray, "LongArray": nbt.LongArray,
		"Uuid": nbt.Uuid, "Boolean": nbt.Boolean,
	}
	k, ok := kinds[name]
	return k, ok
}

func (m *Mappings) isOptionalClass(class string) bool {
	for _, c := range m.OptionalClasses {
		if c == class {
			return true
		}
	}
	return false
}

func (m *Mappings) isForEachClass(class string) bool {
	for _, c := range m.ForEachClasses {
		if c == class {
			return true
		}
	}
	return false
}
