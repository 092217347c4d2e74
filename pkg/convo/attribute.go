package convo

import (
	"encoding/json"
	"fmt"
)

// AttributeKind tags the concrete shape of a custom contact attribute.
type AttributeKind string

const (
	KindText     AttributeKind = "text"
	KindNumber   AttributeKind = "number"
	KindSelect   AttributeKind = "select"
	KindDate     AttributeKind = "date"
	KindCheckbox AttributeKind = "checkbox"
)

// Attribute is a tagged variant for the arbitrary per-contact attributes the
// conversation platform stores. Exactly one value field is meaningful,
// selected by Kind.
type Attribute struct {
	Kind    AttributeKind
	Text    string   // KindText, KindDate (ISO date string)
	Number  float64  // KindNumber
	Value   string   // KindSelect: chosen option
	Options []string // KindSelect: allowed options
	Checked bool     // KindCheckbox
}

type attributeWire struct {
	Type    AttributeKind   `json:"type"`
	Value   json.RawMessage `json:"value"`
	Options []string        `json:"options,omitempty"`
}

// MarshalJSON encodes the attribute as {"type": ..., "value": ...} with
// options carried only for selects.
func (a Attribute) MarshalJSON() ([]byte, error) {
	var (
		value any
		opts  []string
	)

	switch a.Kind {
	case KindText, KindDate:
		value = a.Text
	case KindNumber:
		value = a.Number
	case KindSelect:
		value = a.Value
		opts = a.Options
	case KindCheckbox:
		value = a.Checked
	default:
		return nil, fmt.Errorf("unknown attribute kind %q", a.Kind)
	}

	raw, err := json.Marshal(value)
	if err != nil {
		return nil, err
	}

	return json.Marshal(attributeWire{Type: a.Kind, Value: raw, Options: opts})
}

// UnmarshalJSON decodes the tagged wire form back into the variant.
func (a *Attribute) UnmarshalJSON(data []byte) error {
	var wire attributeWire
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}

	out := Attribute{Kind: wire.Type, Options: wire.Options}

	switch wire.Type {
	case KindText, KindDate:
		if err := json.Unmarshal(wire.Value, &out.Text); err != nil {
			return fmt.Errorf("attribute %q value: %w", wire.Type, err)
		}
	case KindNumber:
		if err := json.Unmarshal(wire.Value, &out.Number); err != nil {
			return fmt.Errorf("attribute %q value: %w", wire.Type, err)
		}
	case KindSelect:
		if err := json.Unmarshal(wire.Value, &out.Value); err != nil {
			return fmt.Errorf("attribute %q value: %w", wire.Type, err)
		}
	case KindCheckbox:
		if err := json.Unmarshal(wire.Value, &out.Checked); err != nil {
			return fmt.Errorf("attribute %q value: %w", wire.Type, err)
		}
	default:
		return fmt.Errorf("unknown attribute kind %q", wire.Type)
	}

	*a = out

	return nil
}
