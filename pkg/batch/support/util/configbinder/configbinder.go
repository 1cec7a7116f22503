// Package configbinder binds loosely typed property maps, such as the properties
// block of a job definition or a database entry of the configuration file, onto
// typed structs.
package configbinder

import (
	"fmt"
	"reflect"

	"github.com/mitchellh/mapstructure"
)

// BindProperties binds properties to target, which must be a pointer to a struct.
// Fields are matched by their "yaml" tag. Strings are converted to numbers, booleans
// and time.Duration values ("1s", "250ms") as needed.
func BindProperties(properties map[string]interface{}, target interface{}) error {
	if len(properties) == 0 {
		return nil
	}
	decoderConfig := &mapstructure.DecoderConfig{
		Result:           target,
		TagName:          "yaml",
		WeaklyTypedInput: true,
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		),
	}

	decoder, err := mapstructure.NewDecoder(decoderConfig)
	if err != nil {
		return fmt.Errorf("failed to create mapstructure decoder: %w", err)
	}
	if err := decoder.Decode(properties); err != nil {
		return fmt.Errorf("failed to bind properties to %s: %w", typeName(target), err)
	}
	return nil
}

// BindStringProperties is BindProperties for string-valued maps.
func BindStringProperties(properties map[string]string, target interface{}) error {
	converted := make(map[string]interface{}, len(properties))
	for k, v := range properties {
		converted[k] = v
	}
	return BindProperties(converted, target)
}

func typeName(target interface{}) string {
	t := reflect.TypeOf(target)
	for t != nil && t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	if t == nil {
		return "<nil>"
	}
	return t.Name()
}
