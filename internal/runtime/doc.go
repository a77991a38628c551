// Package runtime drives a governance.Governor from a sample source to an
// actuator at a fixed cadence. It owns everything outside the safety core:
// command scaling, the forensic audit trail, the sample history, failure
// events and the policy-gated reset path.
package runtime
