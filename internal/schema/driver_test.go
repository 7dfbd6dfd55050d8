package schema

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mabhi256/nbtspec/internal/cftest"
	"github.com/mabhi256/nbtspec/internal/classfile"
	"github.com/mabhi256/nbtspec/internal/interp"
	"github.com/mabhi256/nbtspec/internal/nbt"
)

const (
	compoundTag  = "net/minecraft/nbt/CompoundTag"
	compoundDesc = "L" + compoundTag + ";"
)

type mapSource map[string][]byte

func (s mapSource) Load(name string) (*classfile.ClassFile, error) {
	data, ok := s[name]
	if !ok {
		return nil, nil
	}
	return classfile.Parse(data)
}

func testArchive(t *testing.T) mapSource {
	t.Helper()
	maps := interp.DefaultMappings()

	root := cftest.NewClass(maps.EntityClass, "java/lang/Object")
	keyAir := root.StringConst("Air")
	putShort := root.Methodref(compoundTag, "putShort", "(Ljava/lang/String;S)V")
	root.AddMethod(classfile.AccPublic, maps.SaveWithoutId,
		"("+compoundDesc+")"+compoundDesc, &cftest.Code{
			MaxStack:  3,
			MaxLocals: 2,
			Bytecode: []byte{
				0x2B,               // aload_1
				0x12, byte(keyAir), // ldc "Air"
				0x04,                   // iconst_1
				0xB6, 0, byte(putShort), // invokevirtual putShort
				0x2B, // aload_1
				0xB0, // areturn
			},
		})

	zombie := cftest.NewClass("com/example/Zombie", maps.EntityClass)
	superSave := zombie.Methodref(maps.EntityClass, maps.EntitySaveEntry, "("+compoundDesc+")V")
	keyBaby := zombie.StringConst("IsBaby")
	putBoolean := zombie.Methodref(compoundTag, "putBoolean", "(Ljava/lang/String;Z)V")
	zombie.AddMethod(classfile.AccPublic, maps.EntitySaveEntry, "("+compoundDesc+")V", &cftest.Code{
		MaxStack:  3,
		MaxLocals: 2,
		Bytecode: []byte{
			0x2A,                     // aload_0
			0x2B,                     // aload_1
			0xB7, 0, byte(superSave), // invokespecial super.addAdditionalSaveData (skipped)
			0x2B,                // aload_1
			0x12, byte(keyBaby), // ldc "IsBaby"
			0x04,                      // iconst_1
			0xB6, 0, byte(putBoolean), // invokevirtual putBoolean
			0xB1, // return
		},
	})

	return mapSource{
		maps.EntityClass:      root.Bytes(),
		"com/example/Zombie":  zombie.Bytes(),
	}
}

func testInput() *EntitiesInput {
	return &EntitiesInput{
		Entities: []InputEntity{
			{ID: "minecraft:zombie", Class: "com.example.Zombie", Experimental: true},
		},
		Classes: map[string]string{
			"com.example.Zombie": "net.minecraft.world.entity.Entity",
		},
	}
}

func TestDriverAnalyzesHierarchy(t *testing.T) {
	driver := &Driver{
		Source: testArchive(t),
		Maps:   interp.DefaultMappings(),
		Warnf:  func(format string, args ...any) { t.Logf("warn: "+format, args...) },
	}

	doc, err := driver.Analyze(testInput(), ModeEntities)
	require.NoError(t, err)

	require.Len(t, doc.Entities, 1)
	assert.Equal(t, "minecraft:zombie", doc.Entities[0].ID)
	assert.Equal(t, "Zombie", doc.Entities[0].Type)
	assert.True(t, doc.Entities[0].Experimental)

	require.Len(t, doc.Types, 2)
	byName := map[string]TypeRow{}
	for _, row := range doc.Types {
		byName[row.Name] = row
	}

	entity := byName["Entity"]
	require.NotNil(t, entity.Nbt)
	assert.Nil(t, entity.Parent)
	air, ok := entity.Nbt.Entry("Air")
	require.True(t, ok)
	assert.True(t, nbt.Equal(air.Value, nbt.Prim(nbt.Short)))

	zombie := byName["Zombie"]
	require.NotNil(t, zombie.Parent)
	assert.Equal(t, "Entity", *zombie.Parent)
	baby, ok := zombie.Nbt.Entry("IsBaby")
	require.True(t, ok)
	assert.True(t, nbt.Equal(baby.Value, nbt.Prim(nbt.Boolean)))
	assert.False(t, baby.Optional)
}

func TestDriverOutputIsDeterministic(t *testing.T) {
	run := func() []byte {
		driver := &Driver{Source: testArchive(t), Maps: interp.DefaultMappings()}
		doc, err := driver.Analyze(testInput(), ModeEntities)
		require.NoError(t, err)
		data, err := doc.Marshal()
		require.NoError(t, err)
		return data
	}
	assert.Equal(t, string(run()), string(run()))
}

func TestDocumentRoundTrip(t *testing.T) {
	driver := &Driver{Source: testArchive(t), Maps: interp.DefaultMappings()}
	doc, err := driver.Analyze(testInput(), ModeEntities)
	require.NoError(t, err)

	data, err := doc.Marshal()
	require.NoError(t, err)

	back, err := Unmarshal(data)
	require.NoError(t, err)
	again, err := back.Marshal()
	require.NoError(t, err)

	assert.Equal(t, string(data), string(again))
}
