package config

import (
	"testing"

	"portfolio-replay-lab/internal/domain"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.InitialBalance != 1000 {
		t.Errorf("InitialBalance = %f, want 1000", cfg.InitialBalance)
	}
	if cfg.AllocationMode != string(domain.AllocationFixed) {
		t.Errorf("AllocationMode = %q, want fixed", cfg.AllocationMode)
	}
	if cfg.ExecProfile != domain.ExecProfileRealistic {
		t.Errorf("ExecProfile = %q, want realistic", cfg.ExecProfile)
	}
	if cfg.UseMemory {
		t.Error("UseMemory = true, want false by default")
	}
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("INITIAL_BALANCE", "500")
	t.Setenv("ALLOCATION_MODE", "hybrid")
	t.Setenv("PROFIT_RESET_MULTIPLE", "2.5")
	t.Setenv("MAX_OPEN_POSITIONS", "3")
	t.Setenv("CAPACITY_PRUNE", "true")
	t.Setenv("USE_MEMORY", "1")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	pc := cfg.PortfolioConfig()
	if pc.InitialBalance != 500 {
		t.Errorf("InitialBalance = %f, want 500", pc.InitialBalance)
	}
	if pc.AllocationMode != domain.AllocationHybrid {
		t.Errorf("AllocationMode = %q, want hybrid", pc.AllocationMode)
	}
	if pc.ProfitResetMultiple != 2.5 {
		t.Errorf("ProfitResetMultiple = %f, want 2.5", pc.ProfitResetMultiple)
	}
	if pc.MaxOpenPositions != 3 {
		t.Errorf("MaxOpenPositions = %d, want 3", pc.MaxOpenPositions)
	}
	if !pc.CapacityPrune {
		t.Error("CapacityPrune = false, want true")
	}
	if !cfg.UseMemory {
		t.Error("UseMemory = false, want true")
	}
}

func TestLoad_InvalidValues(t *testing.T) {
	t.Setenv("INITIAL_BALANCE", "not-a-number")

	if _, err := Load(); err == nil {
		t.Fatal("expected error for invalid INITIAL_BALANCE")
	}
}

func TestConfig_ExecutionConfig(t *testing.T) {
	cfg := &Config{ExecProfile: domain.ExecProfilePessimistic}

	ec, err := cfg.ExecutionConfig()
	if err != nil {
		t.Fatalf("ExecutionConfig failed: %v", err)
	}
	if ec.SlippagePct != 3.0 {
		t.Errorf("SlippagePct = %f, want 3.0", ec.SlippagePct)
	}

	cfg.ExecProfile = "bogus"
	if _, err := cfg.ExecutionConfig(); err == nil {
		t.Fatal("expected error for unknown profile")
	}
}
