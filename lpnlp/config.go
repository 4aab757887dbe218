package lpnlp

import (
	"fmt"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/jjhbw/GoMINLP/milp"
	"github.com/jjhbw/GoMINLP/nlp"
)

// Strategy selects the cut generator run after a subproblem solve.
type Strategy string

const (
	// StrategyOA linearizes constraints with their gradients.
	StrategyOA Strategy = "OA"
	// StrategyGOA adds affine cuts from McCormick relaxations.
	StrategyGOA Strategy = "GOA"
)

const (
	InitRNLP = "rNLP"
	InitNone = "none"
)

// Config controls one run. The yaml keys double as the names used in config files.
type Config struct {
	// activity threshold for inequalities and snap distance for bounds
	ZeroTolerance float64 `yaml:"zero_tolerance" validate:"gt=0"`

	// distance from an integer within which values are rounded
	IntegerTolerance float64 `yaml:"integer_tolerance" validate:"gt=0,lt=0.5"`

	Strategy          Strategy `yaml:"strategy" validate:"oneof=OA GOA"`
	UseDual           bool     `yaml:"use_dual"`
	LinearizeActive   bool     `yaml:"linearize_active"`
	LinearizeViolated bool     `yaml:"linearize_violated"`
	LinearizeInactive bool     `yaml:"linearize_inactive"`
	InitialFeas       bool     `yaml:"initial_feas"`

	InitStrategy string      `yaml:"init_strategy" validate:"oneof=rNLP none"`
	Derivatives  Derivatives `yaml:"derivatives" validate:"oneof=analytic finite-difference"`

	// bounds the epigraph variable of a nonlinear objective in the master problem
	ObjectiveBound float64 `yaml:"objective_bound" validate:"gt=0"`

	// stands in for infinite variable bounds in the master problem
	VariableBound float64 `yaml:"variable_bound" validate:"gt=0"`

	// relative slack allowed when checking LB <= UB
	BoundTolerance float64 `yaml:"bound_tolerance" validate:"gte=0"`

	NLP    NLPConfig    `yaml:"nlp"`
	Search SearchConfig `yaml:"search"`
}

type NLPConfig struct {
	MaxOuterIterations   int           `yaml:"max_outer_iterations" validate:"gt=0"`
	MaxInnerIterations   int           `yaml:"max_inner_iterations" validate:"gt=0"`
	FeasibilityTolerance float64       `yaml:"feasibility_tolerance" validate:"gt=0"`
	GradientTolerance    float64       `yaml:"gradient_tolerance" validate:"gt=0"`
	InitialPenalty       float64       `yaml:"initial_penalty" validate:"gt=0"`
	MaxPenalty           float64       `yaml:"max_penalty" validate:"gtfield=InitialPenalty"`
	Timeout              time.Duration `yaml:"timeout" validate:"gte=0"`
}

type SearchConfig struct {
	Workers   int    `yaml:"workers" validate:"gte=1"`
	Branching string `yaml:"branching" validate:"oneof=maxfun most-infeasible naive"`
	MaxNodes  int64  `yaml:"max_nodes" validate:"gte=0"`
}

func DefaultConfig() Config {
	nlpDefaults := nlp.DefaultSettings()
	return Config{
		ZeroTolerance:     1e-8,
		IntegerTolerance:  1e-5,
		Strategy:          StrategyOA,
		UseDual:           true,
		LinearizeActive:   true,
		LinearizeViolated: true,
		LinearizeInactive: false,
		InitialFeas:       true,
		InitStrategy:      InitRNLP,
		Derivatives:       DerivativesAnalytic,
		ObjectiveBound:    1e6,
		VariableBound:     1e6,
		BoundTolerance:    1e-6,
		NLP: NLPConfig{
			MaxOuterIterations:   nlpDefaults.MaxOuterIterations,
			MaxInnerIterations:   nlpDefaults.MaxInnerIterations,
			FeasibilityTolerance: nlpDefaults.FeasibilityTolerance,
			GradientTolerance:    nlpDefaults.GradientTolerance,
			InitialPenalty:       nlpDefaults.InitialPenalty,
			MaxPenalty:           nlpDefaults.MaxPenalty,
		},
		Search: SearchConfig{
			Workers:   4,
			Branching: milp.BRANCH_MOST_INFEASIBLE.String(),
			MaxNodes:  100000,
		},
	}
}

var validate = validator.New()

func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// LoadConfig reads a YAML file on top of DefaultConfig. Keys missing from the file keep
// their default values.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func (c Config) nlpSettings() nlp.Settings {
	return nlp.Settings{
		MaxOuterIterations:   c.NLP.MaxOuterIterations,
		MaxInnerIterations:   c.NLP.MaxInnerIterations,
		FeasibilityTolerance: c.NLP.FeasibilityTolerance,
		GradientTolerance:    c.NLP.GradientTolerance,
		InitialPenalty:       c.NLP.InitialPenalty,
		MaxPenalty:           c.NLP.MaxPenalty,
		Timeout:              c.NLP.Timeout,
	}
}

func (c Config) milpSettings() (milp.Settings, error) {
	h, err := milp.ParseBranchHeuristic(c.Search.Branching)
	if err != nil {
		return milp.Settings{}, err
	}
	s := milp.DefaultSettings()
	s.Workers = c.Search.Workers
	s.Heuristic = h
	s.MaxNodes = c.Search.MaxNodes
	s.IntegralityTolerance = c.IntegerTolerance
	return s, nil
}
