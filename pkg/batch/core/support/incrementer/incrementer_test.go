package incrementer

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	model "github.com/tigerroll/chunkbatch/pkg/batch/core/domain/model"
	exception "github.com/tigerroll/chunkbatch/pkg/batch/support/util/exception"
)

func TestRunIDIncrementer(t *testing.T) {
	inc := NewRunIDIncrementer("")

	first := inc.GetNext(model.NewJobParametersBuilder().AddString("file", "in.csv").Build())
	id, ok := first.GetLong(DefaultRunIDKey)
	require.True(t, ok)
	assert.EqualValues(t, 1, id)
	file, _ := first.GetString("file")
	assert.Equal(t, "in.csv", file)

	second := inc.GetNext(first)
	id, _ = second.GetLong(DefaultRunIDKey)
	assert.EqualValues(t, 2, id)
	assert.False(t, first.Equal(second))
}

func TestTimestampIncrementer_IsStrictlyIncreasing(t *testing.T) {
	inc := NewTimestampIncrementer("ts")
	fixed := time.UnixMilli(1_700_000_000_000)
	inc.now = func() time.Time { return fixed }

	first := inc.GetNext(model.NewJobParameters())
	second := inc.GetNext(first)

	a, _ := first.GetLong("ts")
	b, _ := second.GetLong("ts")
	assert.EqualValues(t, 1_700_000_000_000, a)
	assert.Equal(t, a+1, b)
}

func TestNew(t *testing.T) {
	inc, err := New(TypeRunID, "seq")
	require.NoError(t, err)
	assert.Equal(t, "RunIDIncrementer[key=seq]", inc.(*RunIDIncrementer).String())

	_, err = New("nope", "")
	assert.True(t, exception.IsKind(err, exception.KindConfiguration))
}
