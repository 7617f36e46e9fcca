// Package sql implements a Postgres-backed SQL provider: a single
// sql.query operation that runs a parameterised read query through a
// pooled connection and returns the result rows as a MessagePack-encoded
// slice of column maps.
package sql

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/oriys/flowhost/internal/entity"
	"github.com/oriys/flowhost/internal/packet"
	"github.com/oriys/flowhost/internal/provider"
)

// querier is the subset of *pgxpool.Pool this provider needs, narrow
// enough that a test can satisfy it with a mock pool instead of a live
// Postgres connection.
type querier interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
}

// Provider runs queries against a pooled Postgres connection.
type Provider struct {
	pool        querier
	closer      func()
	invocations atomic.Int64
	errors      atomic.Int64
}

// New builds a Provider from an already-established connection pool; pool
// lifecycle (DSN parsing, connect, health-check) is the caller's concern.
func New(pool *pgxpool.Pool) *Provider {
	return &Provider{pool: pool, closer: pool.Close}
}

// newWithQuerier builds a Provider directly over a querier, bypassing
// pool construction -- used by tests to substitute a mock pool.
func newWithQuerier(q querier) *Provider {
	return &Provider{pool: q}
}

type queryInput struct {
	SQL    string        `msgpack:"sql"`
	Params []interface{} `msgpack:"params"`
}

// Invoke implements provider.Provider.
func (p *Provider) Invoke(ctx context.Context, target entity.Entity, operation string, payload []byte) (provider.Stream, error) {
	if operation != "sql.query" {
		return provider.Stream{}, fmt.Errorf("sql: unknown operation %q", operation)
	}
	p.invocations.Add(1)

	out := make(chan packet.PortedPacket, 2)
	go func() {
		defer close(out)
		out <- packet.PortedPacket{Port: "output", Packet: p.query(ctx, payload)}
		out <- packet.PortedPacket{Port: "output", Packet: packet.Done()}
	}()

	return provider.Stream{Packets: out}, nil
}

func (p *Provider) query(ctx context.Context, payload []byte) packet.Packet {
	var in queryInput
	if err := msgpack.Unmarshal(payload, &in); err != nil {
		p.errors.Add(1)
		return packet.Err(fmt.Sprintf("sql: decode input: %v", err))
	}

	rows, err := p.pool.Query(ctx, in.SQL, in.Params...)
	if err != nil {
		p.errors.Add(1)
		return packet.Err(fmt.Sprintf("sql: query: %v", err))
	}
	defer rows.Close()

	results, err := pgx.CollectRows(rows, pgx.RowToMap)
	if err != nil {
		p.errors.Add(1)
		return packet.Err(fmt.Sprintf("sql: collect rows: %v", err))
	}

	data, err := msgpack.Marshal(results)
	if err != nil {
		p.errors.Add(1)
		return packet.Err(fmt.Sprintf("sql: encode result: %v", err))
	}
	return packet.Success(data)
}

// List implements provider.Provider.
func (p *Provider) List(ctx context.Context) ([]provider.HostedType, error) {
	return []provider.HostedType{
		{Operation: "sql.query", Inputs: []string{"input"}, Outputs: []string{"output"}},
	}, nil
}

// Stats implements provider.Provider.
func (p *Provider) Stats(ctx context.Context, id string) (provider.Stats, error) {
	if id != "" && id != "sql.query" {
		return provider.Stats{}, fmt.Errorf("sql: unknown operation %q", id)
	}
	return provider.Stats{Invocations: p.invocations.Load(), Errors: p.errors.Load()}, nil
}

// Close releases the underlying pool.
func (p *Provider) Close() {
	if p.closer != nil {
		p.closer()
	}
}
