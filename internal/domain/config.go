package domain

// AllocationMode selects the sizing base for new positions.
type AllocationMode string

// Allocation mode constants.
const (
	AllocationFixed   AllocationMode = "fixed"   // base = initial balance
	AllocationDynamic AllocationMode = "dynamic" // base = current available balance
	AllocationHybrid  AllocationMode = "hybrid"  // fixed until first reset, dynamic after
)

// ResetBasis selects how the profit reset condition is evaluated.
type ResetBasis string

// Reset basis constants.
const (
	ResetBasisEquityPeak      ResetBasis = "equity_peak"      // include open-position mark-to-market
	ResetBasisRealizedBalance ResetBasis = "realized_balance" // available balance only
)

// PortfolioConfig is the engine-facing configuration surface.
type PortfolioConfig struct {
	InitialBalance  float64
	AllocationMode  AllocationMode
	PercentPerTrade float64 // fraction of the sizing base per trade

	MaxExposureFraction float64 // cap on open notional / (open + available)
	MaxOpenPositions    int

	// ProfitResetMultiple must be finite and > 1.0; any other value
	// disables the profit reset entirely (recorded as a run warning,
	// never fatal).
	ProfitResetMultiple float64
	ProfitResetBasis    ResetBasis

	// MaxHoldMinutes caps a blueprint's own time stop. When both are
	// configured the effective deadline is the earlier of the two.
	// 0 disables the portfolio-level cap.
	MaxHoldMinutes int64

	// CapacityPrune force-closes the oldest open positions when
	// exposure stays above MaxExposureFraction even after rejecting
	// new entries.
	CapacityPrune bool
}

// ExecutionConfig holds the price/fee transformation parameters.
type ExecutionConfig struct {
	ProfileID      string
	SlippagePct    float64 // percent, applied + on buys and - on sells
	SwapFeePct     float64 // percent of executed notional
	LPFeePct       float64 // percent of executed notional
	NetworkFeeFlat float64 // flat SOL fee per execution
}

// Execution profile constants.
const (
	ExecProfileOptimistic  = "optimistic"
	ExecProfileRealistic   = "realistic"
	ExecProfilePessimistic = "pessimistic"
)

// Predefined execution profiles for Solana DEX conditions.
var (
	ExecConfigOptimistic = ExecutionConfig{
		ProfileID:      ExecProfileOptimistic,
		SlippagePct:    0.5,
		SwapFeePct:     0.25,
		LPFeePct:       0.05,
		NetworkFeeFlat: 0.000005,
	}

	ExecConfigRealistic = ExecutionConfig{
		ProfileID:      ExecProfileRealistic,
		SlippagePct:    1.0,
		SwapFeePct:     0.25,
		LPFeePct:       0.30,
		NetworkFeeFlat: 0.0001,
	}

	ExecConfigPessimistic = ExecutionConfig{
		ProfileID:      ExecProfilePessimistic,
		SlippagePct:    3.0,
		SwapFeePct:     0.25,
		LPFeePct:       0.30,
		NetworkFeeFlat: 0.001,
	}
)
