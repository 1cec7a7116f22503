package jsl

import (
	"sort"

	"github.com/mitchellh/mapstructure"
	"gopkg.in/yaml.v3"

	exception "github.com/tigerroll/chunkbatch/pkg/batch/support/util/exception"
	logger "github.com/tigerroll/chunkbatch/pkg/batch/support/util/logger"
)

const module = "jsl_loader"

// Element is a decoded flow element: exactly one of Step and Split is set.
type Element struct {
	Step  *Step
	Split *Split
}

// ID returns the element ID.
func (e Element) ID() string {
	if e.Split != nil {
		return e.Split.ID
	}
	return e.Step.ID
}

// Next returns the element that follows on completion, if any.
func (e Element) Next() string {
	if e.Split != nil {
		return e.Split.Next
	}
	return e.Step.Next
}

// Transitions returns the exit code routes of the element.
func (e Element) Transitions() []Transition {
	if e.Split != nil {
		return e.Split.Transitions
	}
	return e.Step.Transitions
}

func decode(raw interface{}, out interface{}) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:          "yaml",
		ErrorUnused:      true,
		WeaklyTypedInput: true,
		Result:           out,
	})
	if err != nil {
		return err
	}
	return dec.Decode(raw)
}

// DecodeElement decodes the raw YAML value of element id. An element with a
// 'steps' key is a Split, anything else a Step. A missing 'id' defaults to the key.
func DecodeElement(id string, raw interface{}) (Element, error) {
	m, ok := raw.(map[string]interface{})
	if !ok {
		return Element{}, exception.NewBatchErrorf(exception.KindConfiguration, module, "flow element '%s' must be a mapping", id)
	}
	if _, isSplit := m["steps"]; isSplit {
		var sp Split
		if err := decode(m, &sp); err != nil {
			return Element{}, exception.NewBatchError(exception.KindConfiguration, module, "invalid split '"+id+"'", err)
		}
		if sp.ID == "" {
			sp.ID = id
		}
		return Element{Split: &sp}, nil
	}
	var st Step
	if err := decode(m, &st); err != nil {
		return Element{}, exception.NewBatchError(exception.KindConfiguration, module, "invalid step '"+id+"'", err)
	}
	if st.ID == "" {
		st.ID = id
	}
	return Element{Step: &st}, nil
}

// Elements decodes every element of the job flow.
func (j Job) Elements() (map[string]Element, error) {
	out := make(map[string]Element, len(j.Flow.Elements))
	for id, raw := range j.Flow.Elements {
		e, err := DecodeElement(id, raw)
		if err != nil {
			return nil, err
		}
		if e.ID() != id {
			return nil, exception.NewBatchErrorf(exception.KindConfiguration, module, "element ID '%s' does not match map key '%s'", e.ID(), id)
		}
		out[id] = e
	}
	return out, nil
}

// Parse decodes and validates one JSL document.
func Parse(data []byte) (Job, error) {
	var job Job
	if err := yaml.Unmarshal(data, &job); err != nil {
		return Job{}, exception.NewBatchError(exception.KindConfiguration, module, "failed to parse JSL document", err)
	}
	if err := Validate(job); err != nil {
		return Job{}, err
	}
	return job, nil
}

// LoadAll parses every document, rejecting duplicate job IDs and names.
func LoadAll(docs []JSLDefinitionBytes) ([]Job, error) {
	logger.Infof("Starting JSL definition loading.")
	jobs := make([]Job, 0, len(docs))
	ids := make(map[string]bool, len(docs))
	names := make(map[string]bool, len(docs))
	for _, doc := range docs {
		job, err := Parse(doc)
		if err != nil {
			return nil, err
		}
		if ids[job.ID] {
			return nil, exception.NewBatchErrorf(exception.KindConfiguration, module, "JSL Job ID '%s' is duplicated", job.ID)
		}
		if names[job.JobName()] {
			return nil, exception.NewBatchErrorf(exception.KindConfiguration, module, "JSL job name '%s' is duplicated", job.JobName())
		}
		ids[job.ID] = true
		names[job.JobName()] = true
		jobs = append(jobs, job)
		logger.Infof("Loaded JSL job '%s'.", job.ID)
	}
	logger.Infof("JSL definition loading completed. Number of jobs loaded: %d", len(jobs))
	return jobs, nil
}

// Validate checks the structure of job: required fields, element kinds,
// transition targets and the absence of cycles.
func Validate(job Job) error {
	if job.ID == "" {
		return exception.NewBatchError(exception.KindConfiguration, module, "'id' is not defined in JSL document", nil)
	}
	if job.StartLimit < 0 {
		return exception.NewBatchErrorf(exception.KindConfiguration, module, "JSL job '%s' has a negative start-limit", job.ID)
	}
	if job.Flow.StartElement == "" {
		return exception.NewBatchErrorf(exception.KindConfiguration, module, "JSL job '%s' flow does not have 'start-element' defined", job.ID)
	}
	if len(job.Flow.Elements) == 0 {
		return exception.NewBatchErrorf(exception.KindConfiguration, module, "JSL job '%s' flow does not have 'elements' defined", job.ID)
	}
	elements, err := job.Elements()
	if err != nil {
		return err
	}
	if _, ok := elements[job.Flow.StartElement]; !ok {
		return exception.NewBatchErrorf(exception.KindConfiguration, module, "flow 'start-element' '%s' not found in 'elements'", job.Flow.StartElement)
	}

	for _, id := range sortedIDs(elements) {
		if err := validateElement(elements, elements[id]); err != nil {
			return err
		}
	}

	reached := map[string]bool{}
	if err := visit(elements, job.Flow.StartElement, map[string]bool{}, reached); err != nil {
		return err
	}
	for _, id := range sortedIDs(elements) {
		if !reached[id] {
			logger.Warnf("JSL job '%s': element '%s' is not reachable from '%s'.", job.ID, id, job.Flow.StartElement)
		}
	}
	return nil
}

func validateElement(elements map[string]Element, e Element) error {
	id := e.ID()
	if e.Next() != "" && len(e.Transitions()) > 0 {
		return exception.NewBatchErrorf(exception.KindConfiguration, module, "element '%s' cannot declare both 'next' and 'transitions'", id)
	}
	if next := e.Next(); next != "" {
		if _, ok := elements[next]; !ok {
			return exception.NewBatchErrorf(exception.KindConfiguration, module, "element '%s' refers to unknown next element '%s'", id, next)
		}
	}
	for _, t := range e.Transitions() {
		if err := validateTransition(elements, id, t); err != nil {
			return err
		}
	}

	if sp := e.Split; sp != nil {
		if len(sp.Steps) == 0 {
			return exception.NewBatchErrorf(exception.KindConfiguration, module, "split '%s' has no 'steps'", id)
		}
		for _, branch := range sp.Steps {
			if _, ok := elements[branch]; !ok {
				return exception.NewBatchErrorf(exception.KindConfiguration, module, "split '%s' refers to unknown element '%s'", id, branch)
			}
		}
		return nil
	}

	st := e.Step
	switch {
	case st.IsChunk() && st.Tasklet != nil:
		return exception.NewBatchErrorf(exception.KindConfiguration, module, "step '%s' cannot be both chunk-oriented and tasklet-oriented", id)
	case st.IsChunk() && (st.Reader == nil || st.Writer == nil):
		return exception.NewBatchErrorf(exception.KindConfiguration, module, "chunk step '%s' requires both a reader and a writer", id)
	case !st.IsChunk() && st.Tasklet == nil:
		return exception.NewBatchErrorf(exception.KindConfiguration, module, "step '%s' defines neither a reader/writer nor a tasklet", id)
	case !st.IsChunk() && (st.Chunk != nil || st.Processor != nil):
		return exception.NewBatchErrorf(exception.KindConfiguration, module, "tasklet step '%s' cannot declare chunk settings", id)
	}
	if st.StartLimit < 0 {
		return exception.NewBatchErrorf(exception.KindConfiguration, module, "step '%s' has a negative start-limit", id)
	}
	return nil
}

func validateTransition(elements map[string]Element, id string, t Transition) error {
	if t.On == "" {
		return exception.NewBatchErrorf(exception.KindConfiguration, module, "a transition of element '%s' has no 'on' pattern", id)
	}
	targets := 0
	for _, set := range []bool{t.To != "", t.End, t.Fail, t.Stop} {
		if set {
			targets++
		}
	}
	if targets != 1 {
		return exception.NewBatchErrorf(exception.KindConfiguration, module,
			"transition '%s' of element '%s' must declare exactly one of 'to', 'end', 'fail' or 'stop'", t.On, id)
	}
	if t.To != "" {
		if _, ok := elements[t.To]; !ok {
			return exception.NewBatchErrorf(exception.KindConfiguration, module, "transition '%s' of element '%s' refers to unknown element '%s'", t.On, id, t.To)
		}
	}
	return nil
}

// visit walks the flow graph depth first and rejects cycles.
func visit(elements map[string]Element, id string, onPath, reached map[string]bool) error {
	if onPath[id] {
		return exception.NewBatchErrorf(exception.KindConfiguration, module, "flow contains a cycle through element '%s'", id)
	}
	if reached[id] {
		return nil
	}
	onPath[id] = true
	reached[id] = true
	e := elements[id]

	var edges []string
	if e.Split != nil {
		edges = append(edges, e.Split.Steps...)
	}
	if e.Next() != "" {
		edges = append(edges, e.Next())
	}
	for _, t := range e.Transitions() {
		if t.To != "" {
			edges = append(edges, t.To)
		}
	}
	for _, next := range edges {
		if err := visit(elements, next, onPath, reached); err != nil {
			return err
		}
	}
	delete(onPath, id)
	return nil
}

func sortedIDs(elements map[string]Element) []string {
	ids := make([]string, 0, len(elements))
	for id := range elements {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
