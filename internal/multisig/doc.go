// Package multisig talks to the Safe Transaction Service and the chain
// itself. It provides the proposal source (latest pending multisig
// transaction per wallet) and the transaction executor (off-chain
// confirmation, on-chain execution) consumed by the agent engine.
package multisig
