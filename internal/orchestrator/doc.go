// Package orchestrator runs a natural-language task through the
// planner, executor, evaluator, replanner and synthesizer nodes.
//
// The graph is an explicit loop over a node enum. Every node reads the
// current State and returns a partial Update; State.apply merges it with
// fixed per-field rules. Nodes never return errors: failures are folded
// into step results or verdicts so a run always reaches the synthesizer.
package orchestrator
