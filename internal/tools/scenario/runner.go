package scenario

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/louisbranch/dizzy/internal/app/todo"
	"github.com/louisbranch/dizzy/internal/dispatch/engine"
	"github.com/louisbranch/dizzy/internal/dispatch/submit"
	"github.com/louisbranch/dizzy/internal/platform/logging"
)

// Config controls scenario execution.
type Config struct {
	Timeout       time.Duration
	MaxDispatches int
	Assertions    AssertionMode
	Verbose       bool
	Logger        *log.Logger
	// Journal, when set, receives the events of every successful submit.
	Journal submit.Journal
}

// DefaultConfig returns default runner configuration.
func DefaultConfig() Config {
	return Config{
		Timeout:       10 * time.Second,
		MaxDispatches: 10000,
		Assertions:    AssertionStrict,
	}
}

// Runner executes Lua scenarios against a fresh todo app per scenario.
type Runner struct {
	assertions    Assertions
	logger        *log.Logger
	verbose       bool
	timeout       time.Duration
	maxDispatches int
	deps          runnerDeps
}

// scenarioEnv is the app a single scenario runs against.
type scenarioEnv struct {
	app     *todo.App
	service *submit.Service
}

// NewRunner prepares a scenario runner.
func NewRunner(cfg Config) (*Runner, error) {
	return newRunnerWithDeps(cfg, runnerDeps{
		now:     time.Now,
		journal: cfg.Journal,
		newIDs:  sequentialIDs,
	})
}

// newRunnerWithDeps builds a Runner from pre-built dependencies.
// Config defaults (logger, timeout) are applied here so they are testable.
func newRunnerWithDeps(cfg Config, deps runnerDeps) (*Runner, error) {
	if deps.newIDs == nil {
		return nil, errors.New("id generator is required")
	}
	if deps.now == nil {
		deps.now = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.New(os.Stderr, "", 0)
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	maxDispatches := cfg.MaxDispatches
	if maxDispatches == 0 {
		maxDispatches = 10000
	}

	return &Runner{
		assertions:    Assertions{Mode: cfg.Assertions, Logger: logger},
		logger:        logger,
		verbose:       cfg.Verbose,
		timeout:       timeout,
		maxDispatches: maxDispatches,
		deps:          deps,
	}, nil
}

// RunFile loads and executes a scenario file.
func RunFile(ctx context.Context, cfg Config, path string) error {
	runner, err := NewRunner(cfg)
	if err != nil {
		return err
	}
	scenario, err := LoadScenarioFromFile(path)
	if err != nil {
		return err
	}
	return runner.RunScenario(ctx, scenario)
}

// RunScenario executes the scenario steps in order.
func (r *Runner) RunScenario(ctx context.Context, scenario *Scenario) error {
	if scenario == nil {
		return errors.New("scenario is required")
	}
	env, err := r.newEnv()
	if err != nil {
		return err
	}
	r.logf("scenario start: %s (%d steps)", scenario.Name, len(scenario.Steps))
	state := &scenarioState{}

	for index, step := range scenario.Steps {
		stepNumber := index + 1
		if step.Kind != stepExpectError {
			if err := r.checkUnhandledError(state); err != nil {
				return fmt.Errorf("step %d (%s): %w", stepNumber, step.Kind, err)
			}
		}
		r.logf("step %d/%d start: %s", stepNumber, len(scenario.Steps), step.Kind)
		stepStart := time.Now()
		stepCtx, cancel := context.WithTimeout(ctx, r.timeout)
		err := r.runStep(stepCtx, env, state, step)
		cancel()
		if err != nil {
			return fmt.Errorf("step %d (%s): %w", stepNumber, step.Kind, err)
		}
		r.logf("step %d/%d done: %s (%s)", stepNumber, len(scenario.Steps), step.Kind, time.Since(stepStart))
	}
	if err := r.checkUnhandledError(state); err != nil {
		return err
	}
	r.logf("scenario done: %s (%d submits)", scenario.Name, state.submits)
	return nil
}

func (r *Runner) newEnv() (scenarioEnv, error) {
	app, err := todo.New(todo.NewStore(),
		todo.WithClock(r.deps.now),
		todo.WithIDGenerator(r.deps.newIDs()),
		todo.WithLogger(logging.WithComponent("scenario")),
	)
	if err != nil {
		return scenarioEnv{}, fmt.Errorf("build todo app: %w", err)
	}
	loop, err := app.Loop(engine.WithMaxDispatches(r.maxDispatches))
	if err != nil {
		return scenarioEnv{}, fmt.Errorf("build dispatch loop: %w", err)
	}
	opts := []submit.Option{}
	if r.deps.journal != nil {
		opts = append(opts, submit.WithJournal(r.deps.journal))
	}
	service, err := submit.NewService(loop, opts...)
	if err != nil {
		return scenarioEnv{}, fmt.Errorf("build submit service: %w", err)
	}
	return scenarioEnv{app: app, service: service}, nil
}

func (r *Runner) logf(format string, args ...any) {
	if !r.verbose || r.logger == nil {
		return
	}
	r.logger.Printf(format, args...)
}
