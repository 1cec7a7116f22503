package jsl

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	exception "github.com/tigerroll/chunkbatch/pkg/batch/support/util/exception"
)

const importJob = `
id: importJob
name: import
start-limit: 3
validator:
  required: [input]
  optional: [run.id]
incrementer:
  ref: runIdIncrementer
flow:
  start-element: load
  elements:
    load:
      reader:
        ref: csvReader
        properties:
          path: /data/in.csv
      writer:
        ref: noOpWriter
      chunk:
        item-count: "5"
        isolation-level: READ_COMMITTED
        retry:
          max_attempts: 3
          retryable_kinds: [Transient]
        skip:
          skip_limit: 2
      transitions:
        - on: COMPLETED
          to: fanout
        - on: "*"
          fail: true
    fanout:
      steps: [left, right]
      next: cleanup
    left:
      tasklet:
        ref: noop
    right:
      tasklet:
        ref: noop
    cleanup:
      tasklet:
        ref: noop
      allow-start-if-complete: true
`

func TestParse_DecodesStepsAndSplits(t *testing.T) {
	job, err := Parse([]byte(importJob))
	require.NoError(t, err)

	assert.Equal(t, "import", job.JobName())
	assert.True(t, job.IsRestartable())
	assert.Equal(t, 3, job.StartLimit)
	assert.Equal(t, []string{"input"}, job.Validator.Required)
	assert.Equal(t, "runIdIncrementer", job.Incrementer.Ref)

	elements, err := job.Elements()
	require.NoError(t, err)
	require.Len(t, elements, 5)

	load := elements["load"].Step
	require.NotNil(t, load)
	assert.True(t, load.IsChunk())
	assert.Equal(t, "/data/in.csv", load.Reader.Properties["path"])
	assert.Equal(t, 5, load.Chunk.ItemCount)
	assert.Equal(t, 3, load.Chunk.Retry.MaxAttempts)
	assert.Equal(t, []string{"Transient"}, load.Chunk.Retry.RetryableKinds)
	assert.Equal(t, 2, load.Chunk.Skip.SkipLimit)
	require.Len(t, load.Transitions, 2)
	assert.True(t, load.Transitions[1].Fail)

	fanout := elements["fanout"].Split
	require.NotNil(t, fanout)
	assert.Equal(t, []string{"left", "right"}, fanout.Steps)
	assert.Equal(t, "cleanup", elements["fanout"].Next())

	assert.True(t, elements["cleanup"].Step.AllowStartIfComplete)
}

func TestParse_RejectsInvalidDefinitions(t *testing.T) {
	cases := map[string]string{
		"missing id": `
flow:
  start-element: a
  elements:
    a: {tasklet: {ref: noop}}
`,
		"unknown start element": `
id: j
flow:
  start-element: b
  elements:
    a: {tasklet: {ref: noop}}
`,
		"chunk and tasklet": `
id: j
flow:
  start-element: a
  elements:
    a: {tasklet: {ref: noop}, reader: {ref: r}, writer: {ref: w}}
`,
		"reader without writer": `
id: j
flow:
  start-element: a
  elements:
    a: {reader: {ref: r}}
`,
		"next and transitions": `
id: j
flow:
  start-element: a
  elements:
    a: {tasklet: {ref: noop}, next: b, transitions: [{on: "*", end: true}]}
    b: {tasklet: {ref: noop}}
`,
		"ambiguous transition": `
id: j
flow:
  start-element: a
  elements:
    a: {tasklet: {ref: noop}, transitions: [{on: "*", end: true, fail: true}]}
`,
		"unknown target": `
id: j
flow:
  start-element: a
  elements:
    a: {tasklet: {ref: noop}, next: missing}
`,
		"cycle": `
id: j
flow:
  start-element: a
  elements:
    a: {tasklet: {ref: noop}, next: b}
    b: {tasklet: {ref: noop}, transitions: [{on: FAILED, to: a}, {on: "*", end: true}]}
`,
		"unknown field": `
id: j
flow:
  start-element: a
  elements:
    a: {tasklet: {ref: noop}, commit-interval: 3}
`,
		"malformed yaml": "id: [",
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Parse([]byte(doc))
			require.Error(t, err)
			assert.True(t, exception.IsKind(err, exception.KindConfiguration), err.Error())
		})
	}
}

func TestLoadAll_RejectsDuplicateNames(t *testing.T) {
	a := JSLDefinitionBytes("id: a\nname: same\nflow: {start-element: s, elements: {s: {tasklet: {ref: noop}}}}\n")
	b := JSLDefinitionBytes("id: b\nname: same\nflow: {start-element: s, elements: {s: {tasklet: {ref: noop}}}}\n")

	jobs, err := LoadAll([]JSLDefinitionBytes{a})
	require.NoError(t, err)
	assert.Len(t, jobs, 1)

	_, err = LoadAll([]JSLDefinitionBytes{a, b})
	assert.True(t, exception.IsKind(err, exception.KindConfiguration))
}
