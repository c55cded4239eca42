// Package agent contains the orchestration engine that watches the
// configured multisig wallets, bundles pending proposals per operation
// across chains, runs the policy-check and two-factor gates, and drives
// confirmation and execution. All engine state is mutated by the tick
// handler; the only external write is the atomic two-factor confirmation.
package agent
