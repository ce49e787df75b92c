package testutil

import (
	"context"

	"gutensync/internal/model"
)

// StubCatalog serves a fixed set of catalog records.
type StubCatalog struct {
	Records []*model.Record
	Err     error // returned by Each before visiting anything
	Calls   int   // number of Each invocations
}

func NewStubCatalog(records ...*model.Record) *StubCatalog {
	return &StubCatalog{Records: records}
}

func (c *StubCatalog) Each(ctx context.Context, visit func(*model.Record) error) error {
	c.Calls++
	if c.Err != nil {
		return c.Err
	}
	for _, rec := range c.Records {
		if err := visit(rec); err != nil {
			return err
		}
	}
	return nil
}
