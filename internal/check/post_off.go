//go:build haven_nopost

package check

const postChecks = false
