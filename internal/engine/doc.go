// Package engine is the clinical-state simulation core: a virtual clock, a
// virtual-time event scheduler, the vitals timeline, the intake/output
// ledger, interventions, lab and diagnostic results, and the score.
//
// ARCHITECTURAL RULE: nothing mutates session state outside the command loop.
// Commands, scheduled events and oracle completions are all serialized
// through Engine.Run. Oracle calls run off the loop and post their results
// back; results from a previous session epoch are dropped on arrival.
package engine
