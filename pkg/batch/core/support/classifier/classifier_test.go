package classifier_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tigerroll/chunkbatch/pkg/batch/core/support/classifier"
	"github.com/tigerroll/chunkbatch/pkg/batch/support/util/exception"
)

type category string

const (
	fatal     category = "fatal"
	skippable category = "skippable"
	retryable category = "retryable"
)

func kindErr(k exception.Kind) error {
	return exception.NewBatchError(k, "test", "failure", nil)
}

func TestClassify_DefaultForNilAndUnmatched(t *testing.T) {
	c, err := classifier.New(fatal, classifier.For(exception.KindTransient, retryable))
	require.NoError(t, err)

	assert.Equal(t, fatal, c.Classify(nil))
	assert.Equal(t, fatal, c.Classify(errors.New("unknown")))
	assert.Equal(t, retryable, c.Classify(kindErr(exception.KindTransient)))
}

func TestClassify_NearestAncestorWins(t *testing.T) {
	c, err := classifier.New(fatal,
		classifier.For(exception.KindError, skippable),
		classifier.For(exception.KindJobExecution, retryable),
		classifier.For(exception.KindJobRestart, fatal),
	)
	require.NoError(t, err)

	assert.Equal(t, fatal, c.Classify(kindErr(exception.KindStartLimitExceeded)), "JobRestart is nearer than JobExecution")
	assert.Equal(t, retryable, c.Classify(kindErr(exception.KindDuplicateJobInstance)))
	assert.Equal(t, skippable, c.Classify(kindErr(exception.KindItemRead)))
	assert.Equal(t, skippable, c.Classify(errors.New("plain errors are KindError")))
}

func TestClassify_Sentinel(t *testing.T) {
	c := classifier.MustNew(fatal, classifier.For(exception.KindInterrupted, skippable))
	assert.Equal(t, skippable, c.Classify(context.Canceled))
}

func TestClassify_PredicateRulesFirst(t *testing.T) {
	sentinel := errors.New("quota")
	c := classifier.MustNew(fatal,
		classifier.For(exception.KindError, skippable),
		classifier.When(func(err error) bool { return errors.Is(err, sentinel) }, retryable),
	)
	assert.Equal(t, retryable, c.Classify(sentinel))
	assert.Equal(t, skippable, c.Classify(errors.New("other")))
}

func TestNew_RejectsUnregisteredKind(t *testing.T) {
	_, err := classifier.New(fatal, classifier.For(exception.Kind("NoSuchKind"), skippable))
	require.Error(t, err)
	assert.True(t, exception.IsKind(err, exception.KindConfiguration))
}

func TestNew_RejectsConflictingCategories(t *testing.T) {
	_, err := classifier.New(fatal,
		classifier.For(exception.KindTransient, skippable),
		classifier.For(exception.KindTransient, retryable),
	)
	assert.Error(t, err)
}

func TestNew_RejectsAmbiguousAncestors(t *testing.T) {
	h := exception.NewHierarchy()
	h.MustRegister("Transient")
	h.MustRegister("DataAccess")
	h.MustRegister("Deadlock", "Transient", "DataAccess")

	_, err := classifier.NewWithHierarchy(h, fatal,
		classifier.For[category]("Transient", retryable),
		classifier.For[category]("DataAccess", skippable),
	)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Deadlock")

	// Same category on both parents is not ambiguous.
	c, err := classifier.NewWithHierarchy(h, fatal,
		classifier.For[category]("Transient", retryable),
		classifier.For[category]("DataAccess", retryable),
	)
	require.NoError(t, err)
	assert.Equal(t, retryable, c.Classify(kindErr("Deadlock")))

	// A rule on the child itself resolves the conflict.
	c, err = classifier.NewWithHierarchy(h, fatal,
		classifier.For[category]("Transient", retryable),
		classifier.For[category]("DataAccess", skippable),
		classifier.For[category]("Deadlock", fatal),
	)
	require.NoError(t, err)
	assert.Equal(t, fatal, c.Classify(kindErr("Deadlock")))
}

func TestBinary(t *testing.T) {
	c, err := classifier.Binary(false,
		[]exception.Kind{exception.KindItemStream},
		[]exception.Kind{exception.KindItemWrite},
	)
	require.NoError(t, err)

	assert.True(t, c.Classify(kindErr(exception.KindItemRead)))
	assert.False(t, c.Classify(kindErr(exception.KindItemWrite)))
	assert.False(t, c.Classify(errors.New("x")))
}

func TestParseKinds(t *testing.T) {
	kinds, err := classifier.ParseKinds([]string{"Transient", " DataConversion "})
	require.NoError(t, err)
	assert.Equal(t, []exception.Kind{exception.KindTransient, exception.KindDataConversion}, kinds)

	_, err = classifier.ParseKinds([]string{"Bogus"})
	assert.Error(t, err)
}
