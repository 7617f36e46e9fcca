package sql

import (
	"context"
	"testing"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/oriys/flowhost/internal/entity"
)

func encodeQuery(t *testing.T, sql string, params ...interface{}) []byte {
	t.Helper()
	data, err := msgpack.Marshal(queryInput{SQL: sql, Params: params})
	if err != nil {
		t.Fatalf("encode query input: %v", err)
	}
	return data
}

func drain(t *testing.T, ctx context.Context, p *Provider, payload []byte) []byte {
	t.Helper()
	stream, err := p.Invoke(ctx, entity.Component("sql::sql.query"), "sql.query", payload)
	if err != nil {
		t.Fatalf("invoke: %v", err)
	}
	var result []byte
	for pp := range stream.Packets {
		if pp.Packet.IsDone() {
			continue
		}
		result = pp.Packet.Bytes()
	}
	return result
}

func TestQueryReturnsRowsAsColumnMaps(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("new mock pool: %v", err)
	}
	defer mock.Close()

	rows := pgxmock.NewRows([]string{"id", "name"}).
		AddRow(int64(1), "alpha").
		AddRow(int64(2), "beta")
	mock.ExpectQuery("SELECT id, name FROM widgets").WillReturnRows(rows)

	p := newWithQuerier(mock)
	out := drain(t, context.Background(), p, encodeQuery(t, "SELECT id, name FROM widgets"))

	var decoded []map[string]interface{}
	if err := msgpack.Unmarshal(out, &decoded); err != nil {
		t.Fatalf("decode result: %v", err)
	}
	if len(decoded) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(decoded))
	}
	if decoded[0]["name"] != "alpha" || decoded[1]["name"] != "beta" {
		t.Fatalf("unexpected rows: %+v", decoded)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
	stats, _ := p.Stats(context.Background(), "sql.query")
	if stats.Invocations != 1 || stats.Errors != 0 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
}

func TestQueryErrorSurfacesAsErrorPacket(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("new mock pool: %v", err)
	}
	defer mock.Close()

	mock.ExpectQuery("SELECT 1").WillReturnError(context.DeadlineExceeded)

	p := newWithQuerier(mock)
	stream, err := p.Invoke(context.Background(), entity.Component("sql::sql.query"), "sql.query", encodeQuery(t, "SELECT 1"))
	if err != nil {
		t.Fatalf("invoke: %v", err)
	}
	var sawError bool
	for pp := range stream.Packets {
		if pp.Packet.Message() != "" {
			sawError = true
		}
	}
	if !sawError {
		t.Fatal("expected an error packet from a failing query")
	}
	stats, _ := p.Stats(context.Background(), "sql.query")
	if stats.Errors != 1 {
		t.Fatalf("expected 1 recorded error, got %d", stats.Errors)
	}
}

func TestInvokeUnknownOperation(t *testing.T) {
	p := newWithQuerier(nil)
	if _, err := p.Invoke(context.Background(), entity.Component("sql::other"), "sql.other", nil); err == nil {
		t.Fatal("expected an error for an unknown operation")
	}
}

func TestList(t *testing.T) {
	p := newWithQuerier(nil)
	types, err := p.List(context.Background())
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(types) != 1 || types[0].Operation != "sql.query" {
		t.Fatalf("unexpected types: %+v", types)
	}
}
