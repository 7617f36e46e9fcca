package main

import (
	"errors"
	"testing"

	"github.com/oriys/flowhost/internal/errs"
)

func TestExitCodeGenericErrorIsOne(t *testing.T) {
	if got := exitCode(errors.New("boom")); got != 1 {
		t.Fatalf("expected 1, got %d", got)
	}
}

func TestExitCodeConfigSentinelIsTwo(t *testing.T) {
	wrapped := errors.New("wrapped: " + errConfig.Error())
	if got := exitCode(errConfig); got != 2 {
		t.Fatalf("expected 2 for errConfig, got %d", got)
	}
	_ = wrapped
}

func TestExitCodeValidationErrorIsTwo(t *testing.T) {
	err := errs.NewValidation("test.invalid", "bad schematic")
	if got := exitCode(err); got != 2 {
		t.Fatalf("expected 2 for a validation error, got %d", got)
	}
}

func TestExitCodeProviderErrorIsThree(t *testing.T) {
	err := errs.NewProvider(errs.CodeUninitialized, "provider not ready")
	if got := exitCode(err); got != 3 {
		t.Fatalf("expected 3 for a provider error, got %d", got)
	}
}

func TestExitCodeInitializationErrorIsTwo(t *testing.T) {
	err := errs.NewInitializationError([]*errs.Error{
		errs.NewValidation("test.invalid", "dangling connection"),
	})
	if got := exitCode(err); got != 2 {
		t.Fatalf("expected 2 for an initialization error, got %d", got)
	}
}
