//go:build !haven_nopre

package check

// Precondition checks are compiled in; build with -tags haven_nopre to drop them.
const preChecks = true
