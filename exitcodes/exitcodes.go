// Package exitcodes defines the exit codes used by op-testrail.
package exitcodes

const (
	Success     = 0 // Results reported, no failures
	TestFailure = 1 // One or more reported tests failed
	RuntimeErr  = 2 // Configuration errors, remote faults, exhausted retries
)
