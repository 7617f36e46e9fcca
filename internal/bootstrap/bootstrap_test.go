package bootstrap

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oriys/flowhost/internal/config"
	"github.com/oriys/flowhost/internal/schematic"
)

func nativeManifest() *schematic.Manifest {
	return &schematic.Manifest{
		Schematics: []schematic.Def{
			{
				Name: "greet",
				Providers: []schematic.ProviderRef{
					{Namespace: "core", Kind: schematic.ProviderNative},
				},
				Instances: map[string]schematic.InstanceRef{
					"echoer": {Namespace: "core", Operation: "echo"},
				},
			},
		},
	}
}

func TestBuildRegistryRegistersNativeProvider(t *testing.T) {
	cfg := config.DefaultConfig()
	result, err := BuildRegistry(context.Background(), cfg, nativeManifest())
	require.NoError(t, err)
	defer result.Close()

	p, ok := result.Registry.Get("core")
	require.True(t, ok)
	types, err := p.List(context.Background())
	require.NoError(t, err)
	assert.NotEmpty(t, types)
}

func TestBuildRegistryDedupesNamespaceAcrossSchematics(t *testing.T) {
	cfg := config.DefaultConfig()
	manifest := &schematic.Manifest{
		Schematics: []schematic.Def{
			{Name: "a", Providers: []schematic.ProviderRef{{Namespace: "core", Kind: schematic.ProviderNative}}},
			{Name: "b", Providers: []schematic.ProviderRef{{Namespace: "core", Kind: schematic.ProviderNative}}},
		},
	}
	result, err := BuildRegistry(context.Background(), cfg, manifest)
	require.NoError(t, err)
	defer result.Close()

	assert.Len(t, result.Registry.Namespaces(), 1)
}

func TestBuildRegistryRejectsUnknownKind(t *testing.T) {
	cfg := config.DefaultConfig()
	manifest := &schematic.Manifest{
		Schematics: []schematic.Def{
			{Name: "bogus", Providers: []schematic.ProviderRef{{Namespace: "x", Kind: "NotAKind"}}},
		},
	}
	_, err := BuildRegistry(context.Background(), cfg, manifest)
	assert.Error(t, err)
}

func TestBuildRegistrySkipsNetworkKind(t *testing.T) {
	cfg := config.DefaultConfig()
	manifest := &schematic.Manifest{
		Schematics: []schematic.Def{
			{Name: "nested", Providers: []schematic.ProviderRef{{Namespace: "sub", Kind: schematic.ProviderNetwork}}},
		},
	}
	result, err := BuildRegistry(context.Background(), cfg, manifest)
	require.NoError(t, err)
	defer result.Close()

	_, ok := result.Registry.Get("sub")
	assert.False(t, ok, "Network-kind providers are registered by the caller, not BuildRegistry")
}

func TestLinkCallRejectsMalformedTarget(t *testing.T) {
	cfg := config.DefaultConfig()
	result, err := BuildRegistry(context.Background(), cfg, nativeManifest())
	require.NoError(t, err)
	defer result.Close()

	fn := linkCall(result.Registry)
	_, err = fn("core::echo", "not-qualified", nil)
	assert.Error(t, err)
}

func TestLinkCallRejectsUnregisteredNamespace(t *testing.T) {
	cfg := config.DefaultConfig()
	result, err := BuildRegistry(context.Background(), cfg, nativeManifest())
	require.NoError(t, err)
	defer result.Close()

	fn := linkCall(result.Registry)
	_, err = fn("core::echo", "missing::op", nil)
	assert.Error(t, err, "no provider registered for namespace \"missing\"")
}
