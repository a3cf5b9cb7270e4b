package server

import "testing"

func TestValidateConfigRejectsMissingFields(t *testing.T) {
	cfg := DefaultConfig(t.TempDir())
	cfg.RootHash = ""
	if err := ValidateConfig(cfg); err == nil {
		t.Fatalf("expected error for empty root_hash")
	}

	cfg = DefaultConfig(t.TempDir())
	cfg.PruneInterval = 0
	if err := ValidateConfig(cfg); err == nil {
		t.Fatalf("expected error for zero prune_interval")
	}

	cfg = DefaultConfig(t.TempDir())
	cfg.LogLevel = "verbose"
	if err := ValidateConfig(cfg); err == nil {
		t.Fatalf("expected error for invalid log_level")
	}
}

func TestValidateConfigAcceptsDefaults(t *testing.T) {
	cfg := DefaultConfig(t.TempDir())
	if err := ValidateConfig(cfg); err != nil {
		t.Fatalf("ValidateConfig(defaults) = %v, want nil", err)
	}
}
