package harness

import (
	"encoding/json"
	"fmt"
	"testing"

	"github.com/sebdah/goldie/v2"
)

// AssertGolden compares a scenario result against its golden file,
// testdata/golden/<scenario>.golden. Run with -update to regenerate.
func AssertGolden(t *testing.T, result *Result) error {
	t.Helper()

	resultJSON, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal result for %s: %w", result.Scenario, err)
	}
	resultJSON = append(resultJSON, '\n')

	// Compare with golden file using goldie
	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, result.Scenario, resultJSON)

	return nil
}
