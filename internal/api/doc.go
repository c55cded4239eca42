// Package api exposes the agent's interaction endpoint over HTTP together
// with health and metrics handlers. The wire format mirrors what existing
// operator tooling expects: interactions are addressed by query parameter and
// failures are reported through a timestamped error envelope.
package api
