//go:build haven_nopre

package check

const preChecks = false
