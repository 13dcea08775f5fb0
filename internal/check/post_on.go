//go:build !haven_nopost

package check

// Postcondition checks are compiled in; build with -tags haven_nopost to drop them.
const postChecks = true
