// Package validator provides JobParametersValidator implementations.
package validator

import (
	"sort"

	"github.com/hashicorp/go-multierror"

	port "github.com/tigerroll/chunkbatch/pkg/batch/core/application/port"
	model "github.com/tigerroll/chunkbatch/pkg/batch/core/domain/model"
	exception "github.com/tigerroll/chunkbatch/pkg/batch/support/util/exception"
)

const module = "validator"

// DefaultJobParametersValidator checks parameter keys. Every required key must be
// present. When optional keys are declared, keys that are neither required nor
// optional are rejected.
type DefaultJobParametersValidator struct {
	required []string
	optional map[string]struct{}
}

// NewDefaultJobParametersValidator creates a validator. A key may not be both required and optional.
func NewDefaultJobParametersValidator(required, optional []string) (*DefaultJobParametersValidator, error) {
	v := &DefaultJobParametersValidator{
		required: append([]string(nil), required...),
		optional: make(map[string]struct{}, len(optional)),
	}
	for _, k := range optional {
		v.optional[k] = struct{}{}
	}
	for _, k := range required {
		if _, dup := v.optional[k]; dup {
			return nil, exception.NewBatchErrorf(exception.KindConfiguration, module, "parameter key '%s' cannot be both required and optional", k)
		}
	}
	return v, nil
}

// Validate implements port.JobParametersValidator.
func (v *DefaultJobParametersValidator) Validate(params model.JobParameters) error {
	var missing []string
	for _, k := range v.required {
		if _, ok := params.Get(k); !ok {
			missing = append(missing, k)
		}
	}
	if len(missing) > 0 {
		return exception.NewBatchErrorf(exception.KindJobParametersInvalid, module,
			"required parameter keys %v are missing from %s", missing, params)
	}
	if len(v.optional) == 0 {
		return nil
	}

	required := make(map[string]struct{}, len(v.required))
	for _, k := range v.required {
		required[k] = struct{}{}
	}
	var unknown []string
	for _, k := range params.Keys() {
		_, isRequired := required[k]
		_, isOptional := v.optional[k]
		if !isRequired && !isOptional {
			unknown = append(unknown, k)
		}
	}
	if len(unknown) > 0 {
		sort.Strings(unknown)
		return exception.NewBatchErrorf(exception.KindJobParametersInvalid, module,
			"parameter keys %v are neither required nor optional", unknown)
	}
	return nil
}

// CompositeJobParametersValidator runs every delegate and reports all failures.
type CompositeJobParametersValidator struct {
	validators []port.JobParametersValidator
}

// NewCompositeJobParametersValidator creates a validator over validators.
func NewCompositeJobParametersValidator(validators ...port.JobParametersValidator) *CompositeJobParametersValidator {
	return &CompositeJobParametersValidator{validators: validators}
}

// Validate implements port.JobParametersValidator.
func (c *CompositeJobParametersValidator) Validate(params model.JobParameters) error {
	var result *multierror.Error
	for _, v := range c.validators {
		if err := v.Validate(params); err != nil {
			result = multierror.Append(result, err)
		}
	}
	if result == nil {
		return nil
	}
	if len(result.Errors) == 1 {
		return result.Errors[0]
	}
	return exception.NewBatchError(exception.KindJobParametersInvalid, module, "job parameters failed validation", result)
}

var _ port.JobParametersValidator = (*DefaultJobParametersValidator)(nil)
var _ port.JobParametersValidator = (*CompositeJobParametersValidator)(nil)
