package validator

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	model "github.com/tigerroll/chunkbatch/pkg/batch/core/domain/model"
	exception "github.com/tigerroll/chunkbatch/pkg/batch/support/util/exception"
)

func TestDefaultJobParametersValidator_Required(t *testing.T) {
	v, err := NewDefaultJobParametersValidator([]string{"date"}, nil)
	require.NoError(t, err)

	assert.NoError(t, v.Validate(model.NewJobParametersBuilder().AddString("date", "2024-01-01").AddLong("extra", 1).Build()))

	err = v.Validate(model.NewJobParametersBuilder().AddLong("run.id", 1).Build())
	require.Error(t, err)
	assert.True(t, exception.IsKind(err, exception.KindJobParametersInvalid))
	assert.True(t, exception.IsKind(err, exception.KindJobExecution))
	assert.Contains(t, err.Error(), "date")
}

func TestDefaultJobParametersValidator_Optional(t *testing.T) {
	v, err := NewDefaultJobParametersValidator([]string{"date"}, []string{"run.id"})
	require.NoError(t, err)

	assert.NoError(t, v.Validate(model.NewJobParametersBuilder().AddString("date", "d").AddLong("run.id", 2).Build()))

	err = v.Validate(model.NewJobParametersBuilder().AddString("date", "d").AddString("zeta", "z").AddString("alpha", "a").Build())
	require.Error(t, err)
	assert.True(t, exception.IsKind(err, exception.KindJobParametersInvalid))
	assert.Contains(t, err.Error(), "[alpha zeta]")
}

func TestDefaultJobParametersValidator_RejectsOverlap(t *testing.T) {
	_, err := NewDefaultJobParametersValidator([]string{"date"}, []string{"date"})
	require.Error(t, err)
	assert.True(t, exception.IsKind(err, exception.KindConfiguration))
}

func TestCompositeJobParametersValidator(t *testing.T) {
	needsDate, err := NewDefaultJobParametersValidator([]string{"date"}, nil)
	require.NoError(t, err)
	needsRegion, err := NewDefaultJobParametersValidator([]string{"region"}, nil)
	require.NoError(t, err)
	c := NewCompositeJobParametersValidator(needsDate, needsRegion)

	assert.NoError(t, c.Validate(model.NewJobParametersBuilder().AddString("date", "d").AddString("region", "eu").Build()))

	err = c.Validate(model.NewJobParametersBuilder().Build())
	require.Error(t, err)
	assert.True(t, exception.IsKind(err, exception.KindJobParametersInvalid))
	assert.Contains(t, err.Error(), "region")
	assert.Contains(t, err.Error(), "date")
}
