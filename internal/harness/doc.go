// Package harness runs YAML-defined verification scenarios against the
// capture rules.
//
// A scenario file declares the registered sites, the QR and shift
// configuration, and a sequence of capture steps with expected
// outcomes. The runner builds a verify.Coordinator from that
// declaration, replays the steps, and checks every expectation. Step
// outcomes are also compared against golden files so a rule change
// that shifts any decision shows up as a readable diff.
//
// Scenarios are pure: every step carries its own capture instant, so
// runs are deterministic regardless of wall-clock time.
package harness
