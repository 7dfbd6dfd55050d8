package schema

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/mabhi256/nbtspec/internal/nbt"
)

// Document is the emitted schema. Field names and ordering are part of the
// contract consumed by the downstream code generator; all three lists are
// sorted so repeated runs produce byte-identical output.
type Document struct {
	Entities      []EntityRow       `json:"entities"`
	Types         []TypeRow         `json:"types"`
	CompoundTypes []CompoundTypeRow `json:"compoundTypes"`
}

type EntityRow struct {
	ID           string `json:"id"`
	Type         string `json:"type"`
	Experimental bool   `json:"experimental,omitempty"`
}

type TypeRow struct {
	Name   string        `json:"name"`
	Parent *string       `json:"parent"`
	Nbt    *nbt.Compound `json:"nbt"`
}

// CompoundTypeRow is one named anonymous-compound definition. It serializes
// with the compound body inlined next to the name.
type CompoundTypeRow struct {
	Name     string
	Compound *nbt.Compound
}

func (r CompoundTypeRow) MarshalJSON() ([]byte, error) {
	compound := r.Compound
	if compound == nil {
		compound = nbt.NewCompound()
	}
	body, err := json.Marshal(compound)
	if err != nil {
		return nil, err
	}
	name, _ := json.Marshal(r.Name)

	var buf bytes.Buffer
	buf.WriteString(`{"name":`)
	buf.Write(name)
	buf.WriteByte(',')
	buf.Write(body[1:]) // body starts with '{'
	return buf.Bytes(), nil
}

func (r *CompoundTypeRow) UnmarshalJSON(data []byte) error {
	var head struct {
		Name string `json:"name"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return err
	}
	r.Name = head.Name
	r.Compound = nbt.NewCompound()
	return json.Unmarshal(data, r.Compound)
}

// Sort orders the three lists by their respective identities.
func (d *Document) Sort() {
	sort.Slice(d.Entities, func(i, j int) bool { return d.Entities[i].ID < d.Entities[j].ID })
	sort.Slice(d.Types, func(i, j int) bool { return d.Types[i].Name < d.Types[j].Name })
	sort.Slice(d.CompoundTypes, func(i, j int) bool { return d.CompoundTypes[i].Name < d.CompoundTypes[j].Name })
}

// Marshal renders the sorted document. Empty lists are emitted as [], not
// null, so consumers with strict list types stay happy.
func (d *Document) Marshal() ([]byte, error) {
	if d.Entities == nil {
		d.Entities = []EntityRow{}
	}
	if d.Types == nil {
		d.Types = []TypeRow{}
	}
	if d.CompoundTypes == nil {
		d.CompoundTypes = []CompoundTypeRow{}
	}
	d.Sort()
	data, err := json.MarshalIndent(d, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal schema document: %w", err)
	}
	return append(data, '\n'), nil
}

// Unmarshal parses a document emitted by Marshal.
func Unmarshal(data []byte) (*Document, error) {
	var d Document
	if err := json.Unmarshal(data, &d); err != nil {
		return nil, fmt.Errorf("failed to parse schema document: %w", err)
	}
	return &d, nil
}
