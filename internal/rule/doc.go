// Package rule defines automation rules as data: tagged-variant
// trigger, condition, and action specifications interpreted by the
// engine, never compiled or scripted.
//
// A rule has one trigger (state transition, daily time, or sun event),
// an ordered list of conditions that must all hold at trigger time, and
// an ordered list of actions emitted as command intents when the rule
// fires. Conditions compose with and/or/not.
//
// Rules persist in SQLite (Repository) behind an in-memory cache
// (Registry) so the engine's hot path never queries the database.
// A YAML file can seed or update rules at startup (LoadFile, Seed).
//
// Rules are read-mostly configuration. Execution bookkeeping — in-flight
// flags, last-fired timestamps, debounce state — belongs to the engine.
package rule
