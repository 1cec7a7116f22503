package model

import (
	"crypto/sha256"
	"database/sql/driver"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/tigerroll/chunkbatch/pkg/batch/support/util/exception"
)

// ParameterType is the scalar type of a job parameter.
type ParameterType string

const (
	ParameterTypeString ParameterType = "STRING"
	ParameterTypeLong   ParameterType = "LONG"
	ParameterTypeDate   ParameterType = "DATE"
	ParameterTypeDouble ParameterType = "DOUBLE"
)

// JobParameter is a single typed parameter value.
type JobParameter struct {
	Type  ParameterType
	Value interface{} // string, int64, time.Time or float64 according to Type
}

// Equal compares type and value. Dates compare by instant.
func (p JobParameter) Equal(o JobParameter) bool {
	if p.Type != o.Type {
		return false
	}
	if p.Type == ParameterTypeDate {
		a, _ := p.Value.(time.Time)
		b, _ := o.Value.(time.Time)
		return a.Equal(b)
	}
	return p.Value == o.Value
}

// canonical renders the value unambiguously for hashing.
func (p JobParameter) canonical() string {
	switch v := p.Value.(type) {
	case time.Time:
		return v.UTC().Format(time.RFC3339Nano)
	case float64:
		return strconv.FormatFloat(v, 'g', -1, 64)
	case int64:
		return strconv.FormatInt(v, 10)
	default:
		return fmt.Sprint(v)
	}
}

func (p JobParameter) String() string {
	return p.canonical()
}

// JobParameters is an immutable, ordered mapping from parameter name to typed scalar.
// Insertion order is preserved for display and persistence; identity ignores it.
type JobParameters struct {
	keys   []string
	params map[string]JobParameter
}

// NewJobParameters returns an empty parameter set.
func NewJobParameters() JobParameters {
	return JobParameters{params: map[string]JobParameter{}}
}

// Len returns the number of parameters.
func (jp JobParameters) Len() int {
	return len(jp.keys)
}

// IsEmpty reports whether no parameters are set.
func (jp JobParameters) IsEmpty() bool {
	return len(jp.keys) == 0
}

// Keys returns the parameter names in insertion order.
func (jp JobParameters) Keys() []string {
	return append([]string(nil), jp.keys...)
}

// Get returns the parameter stored under key.
func (jp JobParameters) Get(key string) (JobParameter, bool) {
	p, ok := jp.params[key]
	return p, ok
}

// GetString returns a STRING parameter.
func (jp JobParameters) GetString(key string) (string, bool) {
	p, ok := jp.params[key]
	if !ok || p.Type != ParameterTypeString {
		return "", false
	}
	return p.Value.(string), true
}

// GetLong returns a LONG parameter.
func (jp JobParameters) GetLong(key string) (int64, bool) {
	p, ok := jp.params[key]
	if !ok || p.Type != ParameterTypeLong {
		return 0, false
	}
	return p.Value.(int64), true
}

// GetDate returns a DATE parameter.
func (jp JobParameters) GetDate(key string) (time.Time, bool) {
	p, ok := jp.params[key]
	if !ok || p.Type != ParameterTypeDate {
		return time.Time{}, false
	}
	return p.Value.(time.Time), true
}

// GetDouble returns a DOUBLE parameter.
func (jp JobParameters) GetDouble(key string) (float64, bool) {
	p, ok := jp.params[key]
	if !ok || p.Type != ParameterTypeDouble {
		return 0, false
	}
	return p.Value.(float64), true
}

// Equal reports whether both sets hold the same key/value pairs, in any order.
func (jp JobParameters) Equal(other JobParameters) bool {
	if len(jp.params) != len(other.params) {
		return false
	}
	for k, v := range jp.params {
		ov, ok := other.params[k]
		if !ok || !v.Equal(ov) {
			return false
		}
	}
	return true
}

// Hash returns a stable identity hash over the sorted parameters.
// Two sets that are Equal always hash the same.
func (jp JobParameters) Hash() string {
	keys := append([]string(nil), jp.keys...)
	sort.Strings(keys)

	h := sha256.New()
	for _, k := range keys {
		p := jp.params[k]
		fmt.Fprintf(h, "%d:%s|%s|%d:%s;", len(k), k, p.Type, len(p.canonical()), p.canonical())
	}
	return hex.EncodeToString(h.Sum(nil))
}

var (
	maskMu     sync.RWMutex
	maskedKeys = []string{"password", "api_key", "secret"}
)

// SetMaskedParameterKeys replaces the parameter names whose values String() hides.
func SetMaskedParameterKeys(keys []string) {
	maskMu.Lock()
	defer maskMu.Unlock()
	maskedKeys = append([]string(nil), keys...)
}

func isMasked(key string) bool {
	maskMu.RLock()
	defer maskMu.RUnlock()
	for _, k := range maskedKeys {
		if strings.EqualFold(k, key) {
			return true
		}
	}
	return false
}

// String renders the parameters in insertion order, masking sensitive values.
func (jp JobParameters) String() string {
	var sb strings.Builder
	sb.WriteString("{")
	for i, k := range jp.keys {
		if i > 0 {
			sb.WriteString(", ")
		}
		p := jp.params[k]
		v := p.canonical()
		if isMasked(k) {
			v = "********"
		}
		fmt.Fprintf(&sb, "%s=%s(%s)", k, v, p.Type)
	}
	sb.WriteString("}")
	return sb.String()
}

type parameterJSON struct {
	Name  string        `json:"name"`
	Type  ParameterType `json:"type"`
	Value string        `json:"value"`
}

// MarshalJSON encodes the parameters as an ordered list of typed entries.
func (jp JobParameters) MarshalJSON() ([]byte, error) {
	out := make([]parameterJSON, 0, len(jp.keys))
	for _, k := range jp.keys {
		p := jp.params[k]
		out = append(out, parameterJSON{Name: k, Type: p.Type, Value: p.canonical()})
	}
	return json.Marshal(out)
}

// UnmarshalJSON decodes the form written by MarshalJSON.
func (jp *JobParameters) UnmarshalJSON(data []byte) error {
	var in []parameterJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	b := NewJobParametersBuilder()
	for _, e := range in {
		p, err := parseParameter(e.Type, e.Value)
		if err != nil {
			return fmt.Errorf("job parameter %q: %w", e.Name, err)
		}
		b.add(e.Name, p)
	}
	*jp = b.Build()
	return nil
}

func parseParameter(t ParameterType, raw string) (JobParameter, error) {
	switch t {
	case ParameterTypeString:
		return JobParameter{Type: t, Value: raw}, nil
	case ParameterTypeLong:
		v, err := strconv.ParseInt(raw, 10, 64)
		return JobParameter{Type: t, Value: v}, err
	case ParameterTypeDouble:
		v, err := strconv.ParseFloat(raw, 64)
		return JobParameter{Type: t, Value: v}, err
	case ParameterTypeDate:
		v, err := time.Parse(time.RFC3339Nano, raw)
		return JobParameter{Type: t, Value: v}, err
	default:
		return JobParameter{}, fmt.Errorf("unknown parameter type %q", t)
	}
}

// ParseJobParameters parses "name(type)=value" expressions, e.g. "run.date(date)=2024-01-02T00:00:00Z".
// A name without a type suffix is a STRING.
func ParseJobParameters(exprs []string) (JobParameters, error) {
	b := NewJobParametersBuilder()
	for _, expr := range exprs {
		name, raw, ok := strings.Cut(expr, "=")
		if !ok || name == "" {
			return JobParameters{}, exception.NewBatchErrorf(exception.KindConfiguration, "JobParameters", "invalid parameter expression %q", expr)
		}
		t := ParameterTypeString
		if open := strings.Index(name, "("); open > 0 && strings.HasSuffix(name, ")") {
			t = ParameterType(strings.ToUpper(name[open+1 : len(name)-1]))
			name = name[:open]
		}
		p, err := parseParameter(t, raw)
		if err != nil {
			return JobParameters{}, exception.NewBatchError(exception.KindConfiguration, "JobParameters", fmt.Sprintf("invalid value for parameter %q", name), err)
		}
		b.add(name, p)
	}
	return b.Build(), nil
}

// Value implements driver.Valuer.
func (jp JobParameters) Value() (driver.Value, error) {
	data, err := json.Marshal(jp)
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

// Scan implements sql.Scanner.
func (jp *JobParameters) Scan(value interface{}) error {
	var b []byte
	switch v := value.(type) {
	case nil:
		*jp = NewJobParameters()
		return nil
	case []byte:
		b = v
	case string:
		b = []byte(v)
	default:
		return fmt.Errorf("unsupported Scan type for JobParameters: %T", value)
	}
	if len(b) == 0 {
		*jp = NewJobParameters()
		return nil
	}
	return json.Unmarshal(b, jp)
}

// JobParametersBuilder assembles an immutable JobParameters.
type JobParametersBuilder struct {
	keys   []string
	params map[string]JobParameter
}

// NewJobParametersBuilder returns an empty builder.
func NewJobParametersBuilder() *JobParametersBuilder {
	return &JobParametersBuilder{params: map[string]JobParameter{}}
}

// NewJobParametersBuilderFrom returns a builder seeded with params.
func NewJobParametersBuilderFrom(params JobParameters) *JobParametersBuilder {
	b := NewJobParametersBuilder()
	for _, k := range params.keys {
		b.add(k, params.params[k])
	}
	return b
}

func (b *JobParametersBuilder) add(key string, p JobParameter) *JobParametersBuilder {
	if _, exists := b.params[key]; !exists {
		b.keys = append(b.keys, key)
	}
	b.params[key] = p
	return b
}

// AddString adds a STRING parameter. Re-adding a key replaces its value in place.
func (b *JobParametersBuilder) AddString(key, value string) *JobParametersBuilder {
	return b.add(key, JobParameter{Type: ParameterTypeString, Value: value})
}

// AddLong adds a LONG parameter.
func (b *JobParametersBuilder) AddLong(key string, value int64) *JobParametersBuilder {
	return b.add(key, JobParameter{Type: ParameterTypeLong, Value: value})
}

// AddDate adds a DATE parameter.
func (b *JobParametersBuilder) AddDate(key string, value time.Time) *JobParametersBuilder {
	return b.add(key, JobParameter{Type: ParameterTypeDate, Value: value})
}

// AddDouble adds a DOUBLE parameter.
func (b *JobParametersBuilder) AddDouble(key string, value float64) *JobParametersBuilder {
	return b.add(key, JobParameter{Type: ParameterTypeDouble, Value: value})
}

// Build returns the parameters. The builder may keep being used afterwards.
func (b *JobParametersBuilder) Build() JobParameters {
	jp := JobParameters{
		keys:   append([]string(nil), b.keys...),
		params: make(map[string]JobParameter, len(b.params)),
	}
	for k, v := range b.params {
		jp.params[k] = v
	}
	return jp
}
