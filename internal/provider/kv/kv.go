// Package kv implements a Redis-backed KV provider: two operations,
// kv.get and kv.set, exposed through the same Provider interface as any
// other backend (the ProviderKind "Lattice"-style external
// service binding).
package kv

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/redis/go-redis/v9"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/oriys/flowhost/internal/entity"
	"github.com/oriys/flowhost/internal/packet"
	"github.com/oriys/flowhost/internal/provider"
)

// Config holds Redis connection settings.
type Config struct {
	Addr      string
	Password  string
	DB        int
	KeyPrefix string
}

// Provider is a thin Redis client exposed as two fixed operations.
type Provider struct {
	client *redis.Client
	prefix string
	stats  map[string]*counters
}

type counters struct {
	invocations atomic.Int64
	errors      atomic.Int64
}

// New builds a Provider from Config.
func New(cfg Config) *Provider {
	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = "flowhost:kv:"
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	return &Provider{
		client: client,
		prefix: prefix,
		stats: map[string]*counters{
			"kv.get": {},
			"kv.set": {},
		},
	}
}

func (p *Provider) key(k string) string { return p.prefix + k }

type getInput struct {
	Key string `msgpack:"key"`
}

type setInput struct {
	Key   string `msgpack:"key"`
	Value []byte `msgpack:"value"`
}

// Invoke implements provider.Provider.
func (p *Provider) Invoke(ctx context.Context, target entity.Entity, operation string, payload []byte) (provider.Stream, error) {
	st, ok := p.stats[operation]
	if !ok {
		return provider.Stream{}, fmt.Errorf("kv: unknown operation %q", operation)
	}
	st.invocations.Add(1)

	out := make(chan packet.PortedPacket, 2)
	go func() {
		defer close(out)
		var result packet.Packet
		switch operation {
		case "kv.get":
			result = p.get(ctx, payload, st)
		case "kv.set":
			result = p.set(ctx, payload, st)
		}
		out <- packet.PortedPacket{Port: "output", Packet: result}
		out <- packet.PortedPacket{Port: "output", Packet: packet.Done()}
	}()

	return provider.Stream{Packets: out}, nil
}

func (p *Provider) get(ctx context.Context, payload []byte, st *counters) packet.Packet {
	var in getInput
	if err := msgpack.Unmarshal(payload, &in); err != nil {
		st.errors.Add(1)
		return packet.Err(fmt.Sprintf("kv: decode get input: %v", err))
	}
	val, err := p.client.Get(ctx, p.key(in.Key)).Bytes()
	if err == redis.Nil {
		st.errors.Add(1)
		return packet.Err(fmt.Sprintf("kv: key %q not found", in.Key))
	}
	if err != nil {
		st.errors.Add(1)
		return packet.Err(fmt.Sprintf("kv: get: %v", err))
	}
	data, err := msgpack.Marshal(val)
	if err != nil {
		st.errors.Add(1)
		return packet.Err(fmt.Sprintf("kv: encode result: %v", err))
	}
	return packet.Success(data)
}

func (p *Provider) set(ctx context.Context, payload []byte, st *counters) packet.Packet {
	var in setInput
	if err := msgpack.Unmarshal(payload, &in); err != nil {
		st.errors.Add(1)
		return packet.Err(fmt.Sprintf("kv: decode set input: %v", err))
	}
	if err := p.client.Set(ctx, p.key(in.Key), in.Value, 0).Err(); err != nil {
		st.errors.Add(1)
		return packet.Err(fmt.Sprintf("kv: set: %v", err))
	}
	data, err := msgpack.Marshal(true)
	if err != nil {
		st.errors.Add(1)
		return packet.Err(fmt.Sprintf("kv: encode result: %v", err))
	}
	return packet.Success(data)
}

// List implements provider.Provider.
func (p *Provider) List(ctx context.Context) ([]provider.HostedType, error) {
	return []provider.HostedType{
		{Operation: "kv.get", Inputs: []string{"input"}, Outputs: []string{"output"}},
		{Operation: "kv.set", Inputs: []string{"input"}, Outputs: []string{"output"}},
	}, nil
}

// Stats implements provider.Provider.
func (p *Provider) Stats(ctx context.Context, id string) (provider.Stats, error) {
	if id == "" {
		var agg provider.Stats
		for _, c := range p.stats {
			agg.Invocations += c.invocations.Load()
			agg.Errors += c.errors.Load()
		}
		return agg, nil
	}
	c, ok := p.stats[id]
	if !ok {
		return provider.Stats{}, fmt.Errorf("kv: unknown operation %q", id)
	}
	return provider.Stats{Invocations: c.invocations.Load(), Errors: c.errors.Load()}, nil
}

// Close releases the underlying Redis client.
func (p *Provider) Close() error { return p.client.Close() }
