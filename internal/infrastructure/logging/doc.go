// Package logging provides structured logging for Cosmo Core.
//
// It wraps log/slog with configuration-driven format and level selection
// and stamps every record with service identity fields. Domain packages
// depend on their own minimal Logger interfaces rather than this type, so
// anything satisfying Debug/Info/Warn/Error can be substituted in tests.
package logging
