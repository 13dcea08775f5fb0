//go:build !haven_noparams

package check

// Parameter capture for failed checks are compiled in; build with -tags haven_noparams to drop them.
const printParams = true
