package agent

import (
	"reflect"
	"sort"
)

// Value is any data carried on a port. Values must be JSON-encodable so the
// ledger can persist them.
type Value = interface{}

// DataType names the kind of value a port accepts.
type DataType string

const (
	TypeAny     DataType = "any"
	TypeString  DataType = "string"
	TypeNumber  DataType = "number"
	TypeBoolean DataType = "boolean"
	TypeObject  DataType = "object"
	TypeArray   DataType = "array"
)

// ErrorPort is the reserved output port on which a failed node emits its
// error message. Linking from it declares an error-handling path.
const ErrorPort = "error"

// IsValid reports whether t is a recognised data type. The empty type is
// treated as TypeAny.
func (t DataType) IsValid() bool {
	switch t {
	case "", TypeAny, TypeString, TypeNumber, TypeBoolean, TypeObject, TypeArray:
		return true
	}
	return false
}

// Accepts reports whether v conforms to t. Nil is accepted by every type and
// handled by the Required check instead.
func (t DataType) Accepts(v Value) bool {
	if v == nil {
		return true
	}
	switch t {
	case "", TypeAny:
		return true
	case TypeString:
		_, ok := v.(string)
		return ok
	case TypeBoolean:
		_, ok := v.(bool)
		return ok
	case TypeNumber:
		switch reflect.TypeOf(v).Kind() {
		case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
			reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
			reflect.Float32, reflect.Float64:
			return true
		}
		return false
	case TypeObject:
		kind := reflect.TypeOf(v).Kind()
		return kind == reflect.Map || kind == reflect.Struct
	case TypeArray:
		kind := reflect.TypeOf(v).Kind()
		return kind == reflect.Slice || kind == reflect.Array
	}
	return false
}

// PortSchema describes one named, typed port of a node.
type PortSchema struct {
	Name        string
	Description string
	Type        DataType
	Required    bool
	Default     Value
}

// HasDefault reports whether the port declares a default value.
func (p PortSchema) HasDefault() bool {
	return p.Default != nil
}

// Schema is an ordered set of ports.
type Schema []PortSchema

// Port looks up a port by name.
func (s Schema) Port(name string) (PortSchema, bool) {
	for _, port := range s {
		if port.Name == name {
			return port, true
		}
	}
	return PortSchema{}, false
}

// Has reports whether the schema declares the named port.
func (s Schema) Has(name string) bool {
	_, ok := s.Port(name)
	return ok
}

// Names returns the declared port names in declaration order.
func (s Schema) Names() []string {
	names := make([]string, 0, len(s))
	for _, port := range s {
		names = append(names, port.Name)
	}
	return names
}

// ApplyDefaults fills missing values with the declared defaults.
func (s Schema) ApplyDefaults(values map[string]Value) map[string]Value {
	merged := make(map[string]Value, len(values)+len(s))
	for k, v := range values {
		merged[k] = v
	}
	for _, port := range s {
		if _, ok := merged[port.Name]; !ok && port.HasDefault() {
			merged[port.Name] = port.Default
		}
	}
	return merged
}

// Validate checks values against the schema: required ports must be present
// and typed ports must carry conforming values. Ports not declared in the
// schema are ignored.
func (s Schema) Validate(values map[string]Value) error {
	for _, port := range s {
		value, ok := values[port.Name]
		if !ok || value == nil {
			if port.Required {
				return NewError(ErrCodeMissingInput, "required port has no value", nil, map[string]interface{}{
					"port": port.Name,
				})
			}
			continue
		}
		if !port.Type.Accepts(value) {
			return newTypeError(port.Name, port.Type, value)
		}
	}
	return nil
}

// validate checks the schema declaration itself.
func (s Schema) validate(nodeID, direction string) error {
	seen := make(map[string]struct{}, len(s))
	for _, port := range s {
		if port.Name == "" {
			return newValidationError("port name is required", map[string]interface{}{
				"node_id":   nodeID,
				"direction": direction,
			})
		}
		if _, dup := seen[port.Name]; dup {
			return newDuplicateError(nodeID + "." + port.Name)
		}
		seen[port.Name] = struct{}{}
		if !port.Type.IsValid() {
			return newValidationError("unknown port type", map[string]interface{}{
				"node_id": nodeID,
				"port":    port.Name,
				"type":    string(port.Type),
			})
		}
		if port.HasDefault() && !port.Type.Accepts(port.Default) {
			return newTypeError(nodeID+"."+port.Name, port.Type, port.Default)
		}
	}
	return nil
}

func sortedKeys(values map[string]Value) []string {
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
