package model

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/mitchellh/mapstructure"
)

// ExecutionContext is the restart state attached to a step or job execution.
// Keys are unique strings; values must be JSON-serializable scalars.
// The engine gives keys no meaning beyond what the owning component stores.
type ExecutionContext map[string]interface{}

// NewExecutionContext creates an empty ExecutionContext.
func NewExecutionContext() ExecutionContext {
	return make(ExecutionContext)
}

// Put stores value under key.
func (ec ExecutionContext) Put(key string, value interface{}) {
	ec[key] = value
}

// Get returns the raw value stored under key.
func (ec ExecutionContext) Get(key string) (interface{}, bool) {
	v, ok := ec[key]
	return v, ok
}

// ContainsKey reports whether key is set.
func (ec ExecutionContext) ContainsKey(key string) bool {
	_, ok := ec[key]
	return ok
}

// Remove deletes key.
func (ec ExecutionContext) Remove(key string) {
	delete(ec, key)
}

// Keys returns the keys in sorted order.
func (ec ExecutionContext) Keys() []string {
	keys := make([]string, 0, len(ec))
	for k := range ec {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// GetString returns a string value.
func (ec ExecutionContext) GetString(key string) (string, bool) {
	s, ok := ec[key].(string)
	return s, ok
}

// GetInt64 returns an integer value. Numbers decoded from JSON arrive as float64
// or json.Number and are converted.
func (ec ExecutionContext) GetInt64(key string) (int64, bool) {
	switch v := ec[key].(type) {
	case int:
		return int64(v), true
	case int32:
		return int64(v), true
	case int64:
		return v, true
	case float64:
		return int64(v), true
	case json.Number:
		n, err := v.Int64()
		return n, err == nil
	default:
		return 0, false
	}
}

// GetInt is GetInt64 narrowed to int.
func (ec ExecutionContext) GetInt(key string) (int, bool) {
	v, ok := ec.GetInt64(key)
	return int(v), ok
}

// GetBool returns a boolean value.
func (ec ExecutionContext) GetBool(key string) (bool, bool) {
	b, ok := ec[key].(bool)
	return b, ok
}

// GetFloat64 returns a floating point value.
func (ec ExecutionContext) GetFloat64(key string) (float64, bool) {
	switch v := ec[key].(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	case json.Number:
		f, err := v.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}

// Copy returns a shallow copy. Values are scalars so this is sufficient.
func (ec ExecutionContext) Copy() ExecutionContext {
	out := make(ExecutionContext, len(ec))
	for k, v := range ec {
		out[k] = v
	}
	return out
}

// Merge copies every entry of other into ec.
func (ec ExecutionContext) Merge(other ExecutionContext) {
	for k, v := range other {
		ec[k] = v
	}
}

// Decode binds the context into target, a pointer to a struct using `mapstructure` tags.
// String values are converted to numbers and booleans where the target requires it.
func (ec ExecutionContext) Decode(target interface{}) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           target,
		WeaklyTypedInput: true,
	})
	if err != nil {
		return fmt.Errorf("failed to create ExecutionContext decoder: %w", err)
	}
	return dec.Decode(map[string]interface{}(ec))
}

// Validate checks that every value is a scalar the repository can serialize.
func (ec ExecutionContext) Validate() error {
	for k, v := range ec {
		switch v.(type) {
		case nil, string, bool, int, int32, int64, float32, float64, json.Number:
		default:
			return fmt.Errorf("ExecutionContext key %q holds unsupported value type %T", k, v)
		}
	}
	return nil
}

// Value implements driver.Valuer, encoding the context as JSON.
func (ec ExecutionContext) Value() (driver.Value, error) {
	if ec == nil {
		return "{}", nil
	}
	data, err := json.Marshal(map[string]interface{}(ec))
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

// Scan implements sql.Scanner.
func (ec *ExecutionContext) Scan(value interface{}) error {
	var b []byte
	switch v := value.(type) {
	case nil:
		*ec = NewExecutionContext()
		return nil
	case []byte:
		b = v
	case string:
		b = []byte(v)
	default:
		return fmt.Errorf("unsupported Scan type for ExecutionContext: %T", value)
	}
	*ec = NewExecutionContext()
	if len(b) == 0 {
		return nil
	}
	m := map[string]interface{}{}
	if err := json.Unmarshal(b, &m); err != nil {
		return fmt.Errorf("failed to unmarshal ExecutionContext JSON: %w", err)
	}
	*ec = ExecutionContext(m)
	return nil
}
