// Package agent implements the provider-backed conversational agent used by
// an agency.
//
// An Agent owns an immutable Config (identity, provider, model, temperature,
// provider options and retry policy), an Instruction, and an optional set of
// tools. Respond drives one turn:
//
//   - the system prompt is the agency's shared instructions followed by the
//     agent's own instruction, rendered with {{.AgentName}} and {{.Description}}
//   - each provider call is retried under the RetryPolicy; only transient
//     kinds (rate limited, server error, timeout) are ever retried
//   - requested tools are validated and executed, and their results are fed
//     back to the model until it answers with plain text
//   - a call to the built-in send_message tool ends the turn with a
//     Delegation which the agency routes along the communication graph
//
// Agents are safe for concurrent use. Optional per-agent history keeps the
// last N messages across turns; it is disabled by default so each call is
// stateless.
package agent
