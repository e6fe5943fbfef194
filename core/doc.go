// Package core provides the foundational types shared by every AgencyMesh
// package:
//
//   - the error taxonomy (configuration, routing, provider, tool, round limit)
//     with sentinels for errors.Is matching
//   - the message lifecycle states used by the agency router
//   - the RoundLimiter bounding agent-to-agent delegation
//
// The package has no dependencies on providers, agents or the agency so that
// all of them can share these definitions without import cycles.
package core
