package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/oriys/flowhost/internal/bootstrap"
	"github.com/oriys/flowhost/internal/circuitbreaker"
	"github.com/oriys/flowhost/internal/config"
	"github.com/oriys/flowhost/internal/errs"
	"github.com/oriys/flowhost/internal/invocation"
	"github.com/oriys/flowhost/internal/network"
	"github.com/oriys/flowhost/internal/transaction"
)

// validateCmd builds the same provider registry and Network a serve would,
// against the configured manifest directory, and reports schematic
// validation errors without accepting any Request -- a dry run of
// everything LoadManifest checks: dangling connections, input ports with
// neither a connection nor a default, cyclic graphs, signature mismatches
// against a namespace's actual List(). Bracket balance is a runtime check
// of the transaction engine and is not part of this dry run.
func validateCmd() *cobra.Command {
	var manifestDir string

	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate schematic manifests against their declared providers",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("manifests") {
				cfg.Network.ManifestDir = manifestDir
			}

			manifest, err := loadManifestDir(cfg.Network.ManifestDir)
			if err != nil {
				return err
			}

			ctx := context.Background()
			registered, err := bootstrap.BuildRegistry(ctx, cfg, manifest)
			if err != nil {
				return errs.NewProvider(errs.CodeUninitialized, err.Error())
			}
			defer registered.Close()

			signer := invocation.NewHMACSigner([]byte(cfg.Signing.Secret))
			net := network.New(registered.Registry, signer, cfg.Signing.Issuer, txConfig(cfg), breakerRegistry())

			if err := net.LoadManifest(manifest); err != nil {
				return fmt.Errorf("validation failed: %w", err)
			}

			fmt.Printf("%d schematic(s) valid: %v\n", len(net.ListSchematics()), net.ListSchematics())
			return nil
		},
	}

	cmd.Flags().StringVar(&manifestDir, "manifests", "", "Directory of schematic manifest YAML files (overrides config)")
	return cmd
}

func loadConfig() (*config.Config, error) {
	cfg := config.DefaultConfig()
	if configFile != "" {
		var err error
		cfg, err = config.LoadFromFile(configFile)
		if err != nil {
			return nil, fmt.Errorf("%w: load config: %v", errConfig, err)
		}
	}
	config.LoadFromEnv(cfg)
	return cfg, nil
}

func txConfig(cfg *config.Config) transaction.Config {
	return transaction.Config{
		OutputBufferSize:      cfg.Network.OutputBufferSize,
		BufferHighWater:       cfg.Network.BufferHighWater,
		InheritParentDeadline: cfg.Transaction.InheritParentDeadline,
		DefaultTimeout:        cfg.Transaction.DefaultTimeout,
		BreakerPolicy:         breakerPolicy(cfg),
	}
}

func breakerPolicy(cfg *config.Config) circuitbreaker.Config {
	if !cfg.CircuitBreaker.Enabled {
		return circuitbreaker.Config{}
	}
	return circuitbreaker.Config{
		ErrorPct:       cfg.CircuitBreaker.ErrorPct,
		WindowDuration: cfg.CircuitBreaker.WindowDuration,
		OpenDuration:   cfg.CircuitBreaker.OpenDuration,
		HalfOpenProbes: cfg.CircuitBreaker.HalfOpenProbes,
	}
}

func breakerRegistry() *circuitbreaker.Registry {
	return circuitbreaker.NewRegistry()
}
