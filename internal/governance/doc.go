// Package governance implements the per-tick safety pipeline of the Sentinel
// governor: a recursive least-squares parameter estimator, a stability-energy
// monitor, a dual-channel redundancy detector, a WCET watchdog and the mode
// arbiter that fuses their verdicts.
//
// The mode machine only escalates (Normal, Degraded, SafeFallback,
// InternalFault). Recovery is an explicit Reset issued from outside the tick.
// Health and advisory reports are pure projections of an immutable snapshot
// published at the end of every tick, so readers never block the control task.
package governance
