package agent

import "fmt"

// BlockMetadata describes a block implementation and its port contract.
type BlockMetadata struct {
	Type         string
	Name         string
	Description  string
	Version      string
	InputSchema  Schema
	OutputSchema Schema
}

// Validate ensures metadata values satisfy invariants.
func (m BlockMetadata) Validate() error {
	if m.Type == "" {
		return fmt.Errorf("block type is required")
	}
	if m.Name == "" {
		return fmt.Errorf("block name is required")
	}
	if err := m.InputSchema.validate(m.Type, "input"); err != nil {
		return err
	}
	return m.OutputSchema.validate(m.Type, "output")
}

// Invocation is what a block receives for one dispatch.
type Invocation struct {
	ExecutionID     string
	NodeID          string
	NodeExecutionID string
	Generation      int
	// Inputs is the merged bundle: link values, execution input, constants
	// and schema defaults.
	Inputs map[string]Value
	// Constants is the node's constant_input as declared in the graph.
	Constants map[string]Value
}

// Input returns the named input value.
func (inv Invocation) Input(name string) (Value, bool) {
	v, ok := inv.Inputs[name]
	return v, ok
}

// String returns the named input as a string, or "" when absent or not a string.
func (inv Invocation) String(name string) string {
	if s, ok := inv.Inputs[name].(string); ok {
		return s
	}
	return ""
}

// Bool returns the named input as a bool.
func (inv Invocation) Bool(name string) bool {
	b, _ := inv.Inputs[name].(bool)
	return b
}

// Float returns the named input as a float64 when it holds any numeric type.
func (inv Invocation) Float(name string) (float64, bool) {
	return ToFloat(inv.Inputs[name])
}

// Outputs maps output port names to produced values. A block may leave ports
// unset; those ports simply do not fire.
type Outputs map[string]Value

// ToFloat converts numeric values to float64.
func ToFloat(v Value) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	}
	return 0, false
}
