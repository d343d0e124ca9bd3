// Package source provides record sources that feed pipelines. A source
// produces a single-use stream: once Stream returns, the channel is
// consumed until closed and the source is spent.
package source

import (
	"context"

	"github.com/c360/flowline/errors"
	"github.com/c360/flowline/record"
)

// Source produces the stream of records a pipeline consumes.
type Source interface {
	// Name identifies the source for logging and reporting.
	Name() string

	// Stream starts producing records. The returned channel closes when
	// the source is exhausted or ctx is cancelled. Stream may be called
	// at most once.
	Stream(ctx context.Context) (<-chan *record.Record, error)
}

// Slice is a source backed by an in-memory slice of records, yielded in
// order.
type Slice struct {
	records []*record.Record
	used    bool
}

// FromSlice creates a source over the given records.
func FromSlice(records []*record.Record) *Slice {
	return &Slice{records: records}
}

// FromMaps creates a slice source from raw field maps, one record each.
func FromMaps(maps []map[string]any) *Slice {
	records := make([]*record.Record, len(maps))
	for i, m := range maps {
		records[i] = record.FromMap(m)
	}
	return &Slice{records: records}
}

func (s *Slice) Name() string { return "slice" }

func (s *Slice) Stream(ctx context.Context) (<-chan *record.Record, error) {
	if s.used {
		return nil, errors.WrapInterface(errors.ErrAlreadyStarted, "source.Slice", "Stream",
			"sources are single-use")
	}
	s.used = true

	out := make(chan *record.Record)
	go func() {
		defer close(out)
		for _, rec := range s.records {
			select {
			case out <- rec:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

// Channel adapts an existing record channel into a Source. Ownership of
// the channel transfers to the pipeline; the producer closes it.
type Channel struct {
	name string
	ch   <-chan *record.Record
	used bool
}

// FromChannel creates a source over an externally produced channel.
func FromChannel(name string, ch <-chan *record.Record) *Channel {
	return &Channel{name: name, ch: ch}
}

func (c *Channel) Name() string { return c.name }

func (c *Channel) Stream(_ context.Context) (<-chan *record.Record, error) {
	if c.used {
		return nil, errors.WrapInterface(errors.ErrAlreadyStarted, "source.Channel", "Stream",
			"sources are single-use")
	}
	c.used = true
	return c.ch, nil
}

// GeneratorFunc produces the next record. Returning nil record with nil
// error ends the stream.
type GeneratorFunc func(ctx context.Context, seq int) (*record.Record, error)

// Generator is a source producing records from a function, pulled one
// at a time by the consumer.
type Generator struct {
	name string
	fn   GeneratorFunc
	used bool

	// onError observes generation failures; the stream ends after one.
	onError func(error)
}

// FromFunc creates a generator source.
func FromFunc(name string, fn GeneratorFunc) *Generator {
	return &Generator{name: name, fn: fn}
}

// OnError sets an observer for generation failures.
func (g *Generator) OnError(fn func(error)) *Generator {
	g.onError = fn
	return g
}

func (g *Generator) Name() string { return g.name }

func (g *Generator) Stream(ctx context.Context) (<-chan *record.Record, error) {
	if g.used {
		return nil, errors.WrapInterface(errors.ErrAlreadyStarted, "source.Generator", "Stream",
			"sources are single-use")
	}
	if g.fn == nil {
		return nil, errors.WrapConfig(errors.ErrInvalidConfig, "source.Generator", "Stream",
			"generator function required")
	}
	g.used = true

	out := make(chan *record.Record)
	go func() {
		defer close(out)
		for seq := 0; ; seq++ {
			rec, err := g.fn(ctx, seq)
			if err != nil {
				if g.onError != nil {
					g.onError(err)
				}
				return
			}
			if rec == nil {
				return
			}
			select {
			case out <- rec:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}
