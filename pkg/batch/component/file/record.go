// Package file provides item readers and writers for flat files and Parquet
// datasets kept in object storage or on the local file system.
package file

import (
	"encoding/csv"
	"fmt"
	"strings"

	"github.com/tigerroll/chunkbatch/pkg/batch/support/util/exception"
)

const module = "file"

// Record is one tokenized line: values paired with the column names they belong to.
type Record struct {
	Names  []string
	Values []string
}

// Get returns the value of the named column.
func (r Record) Get(name string) (string, bool) {
	for i, n := range r.Names {
		if n == name && i < len(r.Values) {
			return r.Values[i], true
		}
	}
	return "", false
}

// Map returns the record keyed by column name. Values without a name are dropped.
func (r Record) Map() map[string]string {
	m := make(map[string]string, len(r.Names))
	for i, n := range r.Names {
		if i < len(r.Values) {
			m[n] = r.Values[i]
		}
	}
	return m
}

// ParseError reports a line that could not be turned into an item. Its kind is
// DataConversion, so it can be declared skippable.
type ParseError struct {
	Object     string
	LineNumber int
	Line       string
	Err        error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parsing error at line %d in '%s': %v (input: %q)", e.LineNumber, e.Object, e.Err, e.Line)
}

func (e *ParseError) Unwrap() error { return e.Err }

func parseError(object string, lineNumber int, line string, err error) error {
	return exception.NewBatchError(exception.KindDataConversion, module, "flat file line could not be mapped",
		&ParseError{Object: object, LineNumber: lineNumber, Line: line, Err: err})
}

// DelimitedLineTokenizer splits a line on a delimiter, honouring double quotes.
type DelimitedLineTokenizer struct {
	// Delimiter defaults to ','.
	Delimiter rune
	// Names are the column names. Columns beyond the names are called "columnN".
	Names []string
	// Strict rejects lines whose column count differs from len(Names).
	Strict bool
}

// Tokenize splits line into a Record.
func (t *DelimitedLineTokenizer) Tokenize(line string) (Record, error) {
	r := csv.NewReader(strings.NewReader(line))
	r.Comma = t.delimiter()
	r.FieldsPerRecord = -1
	values, err := r.Read()
	if err != nil {
		return Record{}, fmt.Errorf("failed to tokenize line: %w", err)
	}
	if t.Strict && len(t.Names) > 0 && len(values) != len(t.Names) {
		return Record{}, fmt.Errorf("expected %d columns, found %d", len(t.Names), len(values))
	}
	names := t.Names
	if len(values) > len(names) {
		names = append(append([]string(nil), names...), make([]string, len(values)-len(names))...)
		for i := len(t.Names); i < len(values); i++ {
			names[i] = fmt.Sprintf("column%d", i+1)
		}
	}
	return Record{Names: names, Values: values}, nil
}

func (t *DelimitedLineTokenizer) delimiter() rune {
	if t.Delimiter == 0 {
		return ','
	}
	return t.Delimiter
}

// DelimitedLineAggregator joins the fields of an item with a delimiter, quoting
// fields as needed.
type DelimitedLineAggregator struct {
	// Delimiter defaults to ','.
	Delimiter rune
	// Names selects and orders the columns of Record and map items.
	Names []string
}

// Aggregate renders item as one line. Records, string maps and string slices are
// rendered field by field; any other value is formatted with fmt.
func (a *DelimitedLineAggregator) Aggregate(item any) (string, error) {
	var fields []string
	switch v := item.(type) {
	case Record:
		if len(a.Names) == 0 {
			fields = v.Values
			break
		}
		for _, n := range a.Names {
			val, _ := v.Get(n)
			fields = append(fields, val)
		}
	case map[string]string:
		if len(a.Names) == 0 {
			return "", fmt.Errorf("column names are required to write map items")
		}
		for _, n := range a.Names {
			fields = append(fields, v[n])
		}
	case []string:
		fields = v
	default:
		fields = []string{fmt.Sprint(v)}
	}

	var sb strings.Builder
	w := csv.NewWriter(&sb)
	if a.Delimiter != 0 {
		w.Comma = a.Delimiter
	}
	if err := w.Write(fields); err != nil {
		return "", err
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return "", err
	}
	return strings.TrimSuffix(sb.String(), "\n"), nil
}
