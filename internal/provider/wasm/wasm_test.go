package wasm

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oriys/flowhost/internal/entity"
)

// emptyModule is the minimal valid WASM binary: just the magic number and
// version, no imports or exports. It is enough to exercise Provider's
// compile/instantiate bookkeeping and its "no alloc export"/"no operation
// export" error paths without needing a real guest toolchain to build a
// module against the __log/__link_call/__output ABI.
var emptyModule = []byte{0x00, 0x61, 0x73, 0x6d, 0x01, 0x00, 0x00, 0x00}

func writeModule(t *testing.T, data []byte) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "guest.wasm")
	require.NoError(t, os.WriteFile(path, data, 0o644))
	return path
}

func TestNewCompilesAValidModule(t *testing.T) {
	ctx := context.Background()
	path := writeModule(t, emptyModule)

	p, err := New(ctx, Config{ModulePath: path}, nil)
	require.NoError(t, err)
	defer p.Close(ctx)

	p.Register("echo", Signature{Inputs: []string{"input"}, Outputs: []string{"output"}})
	types, err := p.List(ctx)
	require.NoError(t, err)
	require.Len(t, types, 1)
	assert.Equal(t, "echo", types[0].Operation)
}

func TestNewRejectsMissingModule(t *testing.T) {
	_, err := New(context.Background(), Config{ModulePath: "/nonexistent/guest.wasm"}, nil)
	assert.Error(t, err)
}

func TestInvokeRejectsUnregisteredOperation(t *testing.T) {
	ctx := context.Background()
	path := writeModule(t, emptyModule)

	p, err := New(ctx, Config{ModulePath: path}, nil)
	require.NoError(t, err)
	defer p.Close(ctx)

	_, err = p.Invoke(ctx, entity.Component("wasm::echo"), "echo", []byte("hi"))
	assert.Error(t, err)
}

func TestInvokeFailsWithoutGuestExports(t *testing.T) {
	ctx := context.Background()
	path := writeModule(t, emptyModule)

	p, err := New(ctx, Config{ModulePath: path}, nil)
	require.NoError(t, err)
	defer p.Close(ctx)

	p.Register("echo", Signature{Inputs: []string{"input"}, Outputs: []string{"output"}})

	_, err = p.Invoke(ctx, entity.Component("wasm::echo"), "echo", []byte("hi"))
	assert.Error(t, err, "the empty module exports neither alloc nor echo")
}

func TestStatsUnknownOperation(t *testing.T) {
	ctx := context.Background()
	path := writeModule(t, emptyModule)

	p, err := New(ctx, Config{ModulePath: path}, nil)
	require.NoError(t, err)
	defer p.Close(ctx)

	_, err = p.Stats(ctx, "missing")
	assert.Error(t, err)
}
