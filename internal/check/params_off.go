//go:build haven_noparams

package check

const printParams = false
