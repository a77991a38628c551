// Package domain defines the core types shared by the Sentinel safety governor,
// its runtime loop, the forensic audit trail and the admin surface.
//
// This package contains pure domain logic with ZERO external dependencies outside the
// Go standard library. Modes, hazards, advisories and step inputs live here so
// that the governance core and the infrastructure around it agree on one
// vocabulary without importing each other.
//
//	Infrastructure → Domain (CORRECT)
//	Domain → Infrastructure (FORBIDDEN)
package domain
