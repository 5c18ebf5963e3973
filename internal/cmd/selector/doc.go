// Package selector contains the Cobra commands for working with message
// filters from the command line.
package selector
