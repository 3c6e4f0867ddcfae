package fingerprint

import (
	"fmt"
	"log/slog"
)

// TuningConfig is a hyperparameter search component (sampler or pruner)
// whose configuration takes part in a cache key. The set of variants is
// closed; configurations the cache cannot describe are represented with
// Unknown.
type TuningConfig interface {
	tuningType() string
}

// TPESampler configures a tree-structured Parzen estimator sampler.
type TPESampler struct {
	Seed                 *int64  `json:"seed"`
	NStartupTrials       int     `json:"n_startup_trials"`
	NEICandidates        int     `json:"n_ei_candidates"`
	ConsiderPrior        bool    `json:"consider_prior"`
	PriorWeight          float64 `json:"prior_weight"`
	ConsiderEndpoints    bool    `json:"consider_endpoints"`
	ConsiderMagicClip    bool    `json:"consider_magic_clip"`
	Multivariate         bool    `json:"multivariate"`
	Group                bool    `json:"group"`
	ConstantLiar         bool    `json:"constant_liar"`
	WarnIndependentTrial bool    `json:"warn_independent_sampling"`
}

// RandomSampler configures uniform random sampling.
type RandomSampler struct {
	Seed *int64 `json:"seed"`
}

// GridSampler configures exhaustive search over SearchSpace.
type GridSampler struct {
	SearchSpace map[string][]any `json:"search_space"`
	Seed        *int64           `json:"seed"`
}

// CmaEsSampler configures a CMA-ES sampler.
type CmaEsSampler struct {
	Sigma0         *float64 `json:"sigma0"`
	NStartupTrials int      `json:"n_startup_trials"`
	Seed           *int64   `json:"seed"`
	RestartFactor  float64  `json:"inc_popsize"`
	Restart        string   `json:"restart_strategy"`
}

// MedianPruner stops trials whose intermediate value is worse than the
// median of previous trials at the same step.
type MedianPruner struct {
	NStartupTrials int `json:"n_startup_trials"`
	NWarmupSteps   int `json:"n_warmup_steps"`
	IntervalSteps  int `json:"interval_steps"`
	NMinTrials     int `json:"n_min_trials"`
}

// PercentilePruner is MedianPruner generalized to an arbitrary percentile.
type PercentilePruner struct {
	Percentile     float64 `json:"percentile"`
	NStartupTrials int     `json:"n_startup_trials"`
	NWarmupSteps   int     `json:"n_warmup_steps"`
	IntervalSteps  int     `json:"interval_steps"`
	NMinTrials     int     `json:"n_min_trials"`
}

// SuccessiveHalvingPruner configures asynchronous successive halving.
type SuccessiveHalvingPruner struct {
	MinResource          *int `json:"min_resource"`
	ReductionFactor      int  `json:"reduction_factor"`
	MinEarlyStoppingRate int  `json:"min_early_stopping_rate"`
}

// HyperbandPruner configures hyperband over successive halving brackets.
type HyperbandPruner struct {
	MinResource     int  `json:"min_resource"`
	MaxResource     *int `json:"max_resource"`
	ReductionFactor int  `json:"reduction_factor"`
}

// NopPruner never prunes.
type NopPruner struct{}

// Unknown stands for a component the cache cannot inspect. Only its type
// name contributes to the key, so two differently configured instances of
// the same type share cache entries.
type Unknown struct {
	TypeName string
}

func (TPESampler) tuningType() string              { return "TPESampler" }
func (RandomSampler) tuningType() string           { return "RandomSampler" }
func (GridSampler) tuningType() string             { return "GridSampler" }
func (CmaEsSampler) tuningType() string            { return "CmaEsSampler" }
func (MedianPruner) tuningType() string            { return "MedianPruner" }
func (PercentilePruner) tuningType() string        { return "PercentilePruner" }
func (SuccessiveHalvingPruner) tuningType() string { return "SuccessiveHalvingPruner" }
func (HyperbandPruner) tuningType() string         { return "HyperbandPruner" }
func (NopPruner) tuningType() string               { return "NopPruner" }
func (u Unknown) tuningType() string               { return u.TypeName }

// Tuning fingerprints sampler and pruner configurations.
type Tuning struct {
	Logger *slog.Logger
}

// Fingerprint implements Fingerprinter. Known variants digest their type
// name and every configuration attribute; Unknown yields its type name.
func (t Tuning) Fingerprint(v any) (string, error) {
	cfg, ok := asTuningConfig(v)
	if !ok {
		return "", fmt.Errorf("%w: %T is not a sampler or pruner configuration", ErrUnsupported, v)
	}

	switch c := cfg.(type) {
	case TPESampler, RandomSampler, GridSampler, CmaEsSampler,
		MedianPruner, PercentilePruner, SuccessiveHalvingPruner, HyperbandPruner, NopPruner:
		return JSON{}.Fingerprint(map[string]any{
			"type":   c.tuningType(),
			"params": c,
		})
	case Unknown:
		if c.TypeName == "" {
			return "", fmt.Errorf("%w: unknown tuning component without a type name", ErrUnsupported)
		}
		t.logger().Warn("fingerprinting unsupported tuning component by type name only; "+
			"different configurations of this type will share cache entries",
			"type", c.TypeName)
		return c.TypeName, nil
	default:
		return "", fmt.Errorf("%w: unhandled tuning component %T", ErrUnsupported, v)
	}
}

func (t Tuning) logger() *slog.Logger {
	if t.Logger != nil {
		return t.Logger
	}
	return slog.Default()
}

func asTuningConfig(v any) (TuningConfig, bool) {
	switch c := v.(type) {
	case *TPESampler:
		return derefOK(c)
	case *RandomSampler:
		return derefOK(c)
	case *GridSampler:
		return derefOK(c)
	case *CmaEsSampler:
		return derefOK(c)
	case *MedianPruner:
		return derefOK(c)
	case *PercentilePruner:
		return derefOK(c)
	case *SuccessiveHalvingPruner:
		return derefOK(c)
	case *HyperbandPruner:
		return derefOK(c)
	case *NopPruner:
		return derefOK(c)
	case *Unknown:
		return derefOK(c)
	case TuningConfig:
		return c, true
	}
	return nil, false
}

func derefOK[T TuningConfig](p *T) (TuningConfig, bool) {
	if p == nil {
		return nil, false
	}
	return *p, true
}
