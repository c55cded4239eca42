// Package config loads the agent's startup configuration: identity,
// multisig wallet list, per-operation policies, interaction allow-list and
// the infrastructure sections (storage, cache, messaging, alerting). The
// parsed Config is an immutable snapshot passed into constructors; nothing
// in this package is consulted again after startup.
package config
