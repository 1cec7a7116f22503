// Package jsl defines the models for the Job Specification Language (JSL).
// A JSL document declaratively describes the structure, flow and components of
// a batch job in YAML.
package jsl

import (
	config "github.com/tigerroll/chunkbatch/pkg/batch/core/config"
)

// JSLDefinitionBytes holds the content of a JSL file as a byte slice.
type JSLDefinitionBytes []byte

// Job represents the top-level structure of a JSL file.
type Job struct {
	// ID is the unique identifier for the job.
	ID string `yaml:"id"`
	// Name is the job name used to launch it. It defaults to ID.
	Name string `yaml:"name,omitempty"`
	// Description is an optional description for the job.
	Description string `yaml:"description,omitempty"`
	// Restartable defaults to true.
	Restartable *bool `yaml:"restartable,omitempty"`
	// StartLimit bounds the executions of one JobInstance. Zero means unlimited.
	StartLimit int `yaml:"start-limit,omitempty"`
	// Flow defines the execution flow of the job.
	Flow Flow `yaml:"flow"`
	// Listeners is an optional list of JobExecutionListener references applied to this job.
	Listeners []ComponentRef `yaml:"listeners,omitempty"`
	// Incrementer is an optional reference to a JobParametersIncrementer.
	Incrementer *ComponentRef `yaml:"incrementer,omitempty"`
	// Validator declares the required and optional parameter keys.
	Validator *ParametersValidator `yaml:"validator,omitempty"`
}

// JobName returns Name, or ID when no name is set.
func (j Job) JobName() string {
	if j.Name != "" {
		return j.Name
	}
	return j.ID
}

// IsRestartable reports the restartable flag, true when unset.
func (j Job) IsRestartable() bool {
	return j.Restartable == nil || *j.Restartable
}

// ParametersValidator describes the parameter keys a launch must carry.
type ParametersValidator struct {
	Required []string `yaml:"required,omitempty"`
	// Optional, when not empty, rejects every key that is neither required nor optional.
	Optional []string `yaml:"optional,omitempty"`
	// Refs are additional registered JobParametersValidator components.
	Refs []ComponentRef `yaml:"refs,omitempty"`
}

// Flow represents the graph of steps and splits of a job.
type Flow struct {
	// StartElement is the ID of the starting element in the flow.
	StartElement string `yaml:"start-element"`
	// Elements maps element IDs to Step or Split definitions. An element with
	// a 'steps' key is a Split.
	Elements map[string]interface{} `yaml:"elements"`
}

// Step represents a single processing unit within a job. A step is either
// chunk-oriented (reader and writer) or tasklet-oriented, never both.
type Step struct {
	// ID is the unique identifier for the step. It is the step name.
	ID string `yaml:"id"`
	// Description is an optional description for the step.
	Description string `yaml:"description,omitempty"`
	// Reader is a reference to an ItemReader component, for chunk-oriented steps.
	Reader *ComponentRef `yaml:"reader,omitempty"`
	// Processor is an optional reference to an ItemProcessor component.
	Processor *ComponentRef `yaml:"processor,omitempty"`
	// Writer is a reference to an ItemWriter component, for chunk-oriented steps.
	Writer *ComponentRef `yaml:"writer,omitempty"`
	// Chunk defines the properties for chunk-oriented processing.
	Chunk *Chunk `yaml:"chunk,omitempty"`
	// Tasklet is a reference to a Tasklet component, for tasklet-oriented steps.
	Tasklet *ComponentRef `yaml:"tasklet,omitempty"`
	// IsolationLevel is the isolation of a tasklet step's transactions.
	IsolationLevel string `yaml:"isolation-level,omitempty"`
	// TransactionManager names the database entry the step's transactions are
	// begun on. Empty uses the job repository's transaction manager.
	TransactionManager string `yaml:"transaction-manager,omitempty"`
	// StartLimit bounds the executions of this step within one JobInstance.
	StartLimit int `yaml:"start-limit,omitempty"`
	// AllowStartIfComplete reruns the step on restart even if it completed.
	AllowStartIfComplete bool `yaml:"allow-start-if-complete,omitempty"`
	// Listeners are StepExecutionListener references.
	Listeners []ComponentRef `yaml:"listeners,omitempty"`
	// ChunkListeners are ChunkListener references.
	ChunkListeners []ComponentRef `yaml:"chunk-listeners,omitempty"`
	// SkipListeners are SkipListener references.
	SkipListeners []ComponentRef `yaml:"skip-listeners,omitempty"`
	// Next is the element that runs after this one completes.
	Next string `yaml:"next,omitempty"`
	// Transitions route on the step's exit code. They exclude Next.
	Transitions []Transition `yaml:"transitions,omitempty"`
}

// IsChunk reports whether s is chunk-oriented.
func (s Step) IsChunk() bool {
	return s.Reader != nil || s.Writer != nil
}

// ComponentRef refers to a registered component (reader, processor, writer, tasklet, listener).
type ComponentRef struct {
	// Ref is the reference name of the component.
	Ref string `yaml:"ref"`
	// Properties is an optional map of properties injected from JSL.
	Properties map[string]string `yaml:"properties,omitempty"`
}

// Chunk defines the chunk-oriented processing properties for a step.
type Chunk struct {
	// ItemCount is the commit interval. Zero uses chunkbatch.batch.chunk_size.
	ItemCount int `yaml:"item-count,omitempty"`
	// IsolationLevel specifies the transaction isolation level (e.g., "SERIALIZABLE").
	IsolationLevel string `yaml:"isolation-level,omitempty"`
	// Retry overrides chunkbatch.batch.retry.
	Retry *config.RetryConfig `yaml:"retry,omitempty"`
	// Skip overrides chunkbatch.batch.skip.
	Skip *config.SkipConfig `yaml:"skip,omitempty"`
}

// Split runs several flows concurrently. The split completes when all of them have ended.
type Split struct {
	// ID is the unique identifier for the Split.
	ID string `yaml:"id"`
	// Description is an optional description for the Split.
	Description string `yaml:"description,omitempty"`
	// Steps lists the element IDs each starting one concurrent flow.
	Steps []string `yaml:"steps"`
	// Next is the element that runs after the split completes.
	Next string `yaml:"next,omitempty"`
	// Transitions route on the split's aggregated exit code. They exclude Next.
	Transitions []Transition `yaml:"transitions,omitempty"`
}

// Transition defines what follows an element for the exit codes matching On.
type Transition struct {
	// On is the exit code pattern. '*' and '?' are wildcards.
	On string `yaml:"on"`
	// To is the ID of the target element. It is optional if End, Fail, or Stop is true.
	To string `yaml:"to,omitempty"`
	// End completes the job.
	End bool `yaml:"end,omitempty"`
	// Fail ends the job as FAILED.
	Fail bool `yaml:"fail,omitempty"`
	// Stop ends the job as STOPPED.
	Stop bool `yaml:"stop,omitempty"`
}

// ComponentBuilder builds a component from the global configuration and the
// properties injected from JSL.
type ComponentBuilder func(cfg *config.Config, properties map[string]string) (interface{}, error)

// ComponentRegistration names a builder that JSL refers to by Ref. Applications
// provide registrations into the "components" Fx group.
type ComponentRegistration struct {
	Ref     string
	Builder ComponentBuilder
}
