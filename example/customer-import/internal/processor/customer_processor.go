// Package processor turns customer CSV records into rows of the customers table.
package processor

import (
	"context"
	"fmt"
	"net/mail"
	"strconv"
	"strings"

	"github.com/tigerroll/chunkbatch/pkg/batch/component/file"
	port "github.com/tigerroll/chunkbatch/pkg/batch/core/application/port"
	exception "github.com/tigerroll/chunkbatch/pkg/batch/support/util/exception"
)

const module = "customerProcessor"

// CustomerProcessor validates and normalizes one record with the columns id,
// name, email and country. Records flagged inactive are filtered.
type CustomerProcessor struct {
	// DefaultCountry is used when the country column is empty.
	DefaultCountry string
}

// NewCustomerProcessor creates a CustomerProcessor.
func NewCustomerProcessor(defaultCountry string) *CustomerProcessor {
	return &CustomerProcessor{DefaultCountry: strings.ToUpper(defaultCountry)}
}

// Process implements port.ItemProcessor.
func (p *CustomerProcessor) Process(_ context.Context, item any) (any, error) {
	rec, ok := item.(file.Record)
	if !ok {
		return nil, exception.NewBatchErrorf(exception.KindDataConversion, module, "unexpected item type %T", item)
	}
	fields := rec.Map()

	if strings.EqualFold(strings.TrimSpace(fields["status"]), "inactive") {
		return nil, port.ErrItemFiltered
	}

	id, err := strconv.ParseInt(strings.TrimSpace(fields["id"]), 10, 64)
	if err != nil || id <= 0 {
		return nil, exception.NewBatchErrorf(exception.KindDataConversion, module, "invalid customer id %q", fields["id"])
	}
	name := strings.Join(strings.Fields(fields["name"]), " ")
	if name == "" {
		return nil, exception.NewBatchErrorf(exception.KindDataConversion, module, "customer %d has no name", id)
	}
	addr, err := mail.ParseAddress(strings.TrimSpace(fields["email"]))
	if err != nil {
		return nil, exception.NewBatchError(exception.KindDataConversion, module, fmt.Sprintf("customer %d has an invalid email", id), err)
	}
	country := strings.ToUpper(strings.TrimSpace(fields["country"]))
	if country == "" {
		country = p.DefaultCountry
	}

	return map[string]interface{}{
		"id":      id,
		"name":    name,
		"email":   strings.ToLower(addr.Address),
		"country": country,
	}, nil
}

var _ port.ItemProcessor[any, any] = (*CustomerProcessor)(nil)
