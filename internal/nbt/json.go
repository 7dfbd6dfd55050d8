package nbt

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Elements serialize as tagged objects: {"type":"Byte"},
// {"type":"List","inner":...}, {"type":"Compound","name":...} for Named,
// and so on. Structured compounds serialize their body inline
// ({"entries":...,"unknownKeys":...,"flattened":...}) because they only
// appear as the payload of a named type row.

func (Any) MarshalJSON() ([]byte, error) {
	return []byte(`{"type":"Any"}`), nil
}

func (p Primitive) MarshalJSON() ([]byte, error) {
	return json.Marshal(map[string]string{"type": p.Kind.String()})
}

func (l *List) MarshalJSON() ([]byte, error) {
	inner, err := marshalElement(l.Inner)
	if err != nil {
		return nil, err
	}
	return []byte(fmt.Sprintf(`{"type":"List","inner":%s}`, inner)), nil
}

func (e Either) MarshalJSON() ([]byte, error) {
	left, err := marshalElement(e.Left)
	if err != nil {
		return nil, err
	}
	right, err := marshalElement(e.Right)
	if err != nil {
		return nil, err
	}
	return []byte(fmt.Sprintf(`{"type":"Either","left":%s,"right":%s}`, left, right)), nil
}

func (a AnyCompound) MarshalJSON() ([]byte, error) {
	value := a.Value
	if value == nil {
		value = Any{}
	}
	valueJSON, err := marshalElement(value)
	if err != nil {
		return nil, err
	}
	return []byte(fmt.Sprintf(`{"type":"AnyCompound","valueType":%s}`, valueJSON)), nil
}

func (b Boxed) MarshalJSON() ([]byte, error) {
	name, _ := json.Marshal(b.Name)
	return []byte(fmt.Sprintf(`{"type":"Boxed","name":%s}`, name)), nil
}

func (NestedEntity) MarshalJSON() ([]byte, error) {
	return []byte(`{"type":"NestedEntity"}`), nil
}

func (n Named) MarshalJSON() ([]byte, error) {
	name, _ := json.Marshal(n.Name)
	return []byte(fmt.Sprintf(`{"type":"Compound","name":%s}`, name)), nil
}

func (c *Compound) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteString(`{"entries":{`)
	for i, key := range c.keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		keyJSON, _ := json.Marshal(key)
		buf.Write(keyJSON)
		buf.WriteString(`:{"value":`)
		entry := c.entries[key]
		valueJSON, err := marshalElement(entry.Value)
		if err != nil {
			return nil, err
		}
		buf.Write(valueJSON)
		fmt.Fprintf(&buf, `,"optional":%t}`, entry.Optional)
	}
	buf.WriteString(`},"unknownKeys":`)
	if c.UnknownKeys == nil {
		buf.WriteString("null")
	} else {
		unknownJSON, err := marshalElement(c.UnknownKeys)
		if err != nil {
			return nil, err
		}
		buf.Write(unknownJSON)
	}
	buf.WriteString(`,"flattened":[`)
	for i, f := range c.Flattened {
		if i > 0 {
			buf.WriteByte(',')
		}
		fJSON, err := marshalElement(f)
		if err != nil {
			return nil, err
		}
		buf.Write(fJSON)
	}
	buf.WriteString(`]}`)
	return buf.Bytes(), nil
}

func marshalElement(e Element) ([]byte, error) {
	if e == nil {
		return []byte("null"), nil
	}
	return json.Marshal(e)
}

// UnmarshalElement decodes a tagged element. An object carrying a "type"
// tag of "Compound" decodes to Named; full compound bodies are decoded with
// (*Compound).UnmarshalJSON by the callers that expect them.
func UnmarshalElement(data []byte) (Element, error) {
	var raw struct {
		Type      string          `json:"type"`
		Inner     json.RawMessage `json:"inner"`
		Left      json.RawMessage `json:"left"`
		Right     json.RawMessage `json:"right"`
		ValueType json.RawMessage `json:"valueType"`
		Name      string          `json:"name"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to decode element: %w", err)
	}

	switch raw.Type {
	case "Any":
		return Any{}, nil
	case "Byte":
		return Prim(Byte), nil
	case "Short":
		return Prim(Short), nil
	case "Int":
		return Prim(Int), nil
	case "Long":
		return Prim(Long), nil
	case "Float":
		return Prim(Float), nil
	case "Double":
		return Prim(Double), nil
	case "String":
		return Prim(String), nil
	case "ByteArray":
		return Prim(ByteArray), nil
	case "IntArray":
		return Prim(IntArray), nil
	case "LongArray":
		return Prim(LongArray), nil
	case "Uuid":
		return Prim(Uuid), nil
	case "Boolean":
		return Prim(Boolean), nil
	case "List":
		inner, err := UnmarshalElement(raw.Inner)
		if err != nil {
			return nil, err
		}
		return &List{Inner: inner}, nil
	case "Either":
		left, err := UnmarshalElement(raw.Left)
		if err != nil {
			return nil, err
		}
		right, err := UnmarshalElement(raw.Right)
		if err != nil {
			return nil, err
		}
		return Either{Left: left, Right: right}, nil
	case "AnyCompound":
		value, err := UnmarshalElement(raw.ValueType)
		if err != nil {
			return nil, err
		}
		return AnyCompound{Value: value}, nil
	case "Boxed":
		return Boxed{Name: raw.Name}, nil
	case "NestedEntity":
		return NestedEntity{}, nil
	case "Compound":
		return Named{Name: raw.Name}, nil
	default:
		return nil, fmt.Errorf("unknown element type %q", raw.Type)
	}
}

// UnmarshalJSON decodes a compound body, preserving the entry order of the
// document.
func (c *Compound) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	if err := expectDelim(dec, '{'); err != nil {
		return err
	}
	c.keys = nil
	c.entries = make(map[string]Entry)
	c.UnknownKeys = nil
	c.Flattened = nil

	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		field, _ := tok.(string)
		switch field {
		case "entries":
			if err := c.unmarshalEntries(dec); err != nil {
				return err
			}
		case "unknownKeys":
			var raw json.RawMessage
			if err := dec.Decode(&raw); err != nil {
				return err
			}
			if string(raw) != "null" {
				elem, err := UnmarshalElement(raw)
				if err != nil {
					return err
				}
				c.UnknownKeys = elem
			}
		case "flattened":
			var raws []json.RawMessage
			if err := dec.Decode(&raws); err != nil {
				return err
			}
			for _, raw := range raws {
				elem, err := UnmarshalElement(raw)
				if err != nil {
					return err
				}
				c.Flattened = append(c.Flattened, elem)
			}
		default:
			var skip json.RawMessage
			if err := dec.Decode(&skip); err != nil {
				return err
			}
		}
	}
	return expectDelim(dec, '}')
}

func (c *Compound) unmarshalEntries(dec *json.Decoder) error {
	if err := expectDelim(dec, '{'); err != nil {
		return err
	}
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		key, _ := tok.(string)
		var raw struct {
			Value    json.RawMessage `json:"value"`
			Optional bool            `json:"optional"`
		}
		if err := dec.Decode(&raw); err != nil {
			return err
		}
		value, err := UnmarshalElement(raw.Value)
		if err != nil {
			return err
		}
		c.SetEntry(key, Entry{Value: value, Optional: raw.Optional})
	}
	return expectDelim(dec, '}')
}

func expectDelim(dec *json.Decoder, want json.Delim) error {
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if delim, ok := tok.(json.Delim); !ok || delim != want {
		return fmt.Errorf("expected %q, got %v", want, tok)
	}
	return nil
}
