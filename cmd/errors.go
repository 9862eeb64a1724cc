package cmd

import (
	"errors"
	"fmt"

	"stagehand/internal/environment"
)

// SuiteFailedError is returned when a suite ran but not every scenario
// passed.
type SuiteFailedError struct {
	Failed int
	Errors int
}

func (e *SuiteFailedError) Error() string {
	return fmt.Sprintf("%d scenario(s) failed, %d environment error(s)", e.Failed, e.Errors)
}

// validateScenarios checks every scenario and joins the problems.
func validateScenarios(scenarios []environment.Scenario, kinds environment.KindChecker) error {
	var errs []error
	for _, sc := range scenarios {
		if err := sc.Validate(kinds); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// loadScenarios loads paths, defaulting to ./scenarios, and applies filter.
func loadScenarios(paths []string, filter environment.Filter) ([]environment.Scenario, error) {
	if len(paths) == 0 {
		paths = []string{defaultScenarioDir}
	}
	scenarios, err := environment.LoadAll(paths...)
	if err != nil {
		return nil, err
	}
	return filter.Apply(scenarios), nil
}
