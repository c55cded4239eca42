// Package mysql provides the operation history repository backed by MySQL.
// It persists every stage a proposal goes through so the interaction
// endpoints can answer status and detail queries after a restart.
package mysql
