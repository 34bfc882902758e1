package runstate

import "fmt"

// Status is the last known outcome of a case in a run.
type Status int

const (
	StatusUnset Status = iota
	StatusPassed
	StatusBlocked
	StatusUntested
	StatusRetest
	StatusFailed
	StatusPending
)

// Remote status codes. The table is fixed and bijective.
const (
	CodePassed   = 1
	CodeBlocked  = 2
	CodeUntested = 3
	CodeRetest   = 4
	CodeFailed   = 5
	CodePending  = 6
)

var (
	statusToCode = map[Status]int{
		StatusPassed:   CodePassed,
		StatusBlocked:  CodeBlocked,
		StatusUntested: CodeUntested,
		StatusRetest:   CodeRetest,
		StatusFailed:   CodeFailed,
		StatusPending:  CodePending,
	}
	codeToStatus = map[int]Status{}

	statusNames = map[Status]string{
		StatusUnset:    "unset",
		StatusPassed:   "passed",
		StatusBlocked:  "blocked",
		StatusUntested: "untested",
		StatusRetest:   "retest",
		StatusFailed:   "failed",
		StatusPending:  "pending",
	}
)

func init() {
	for s, c := range statusToCode {
		codeToStatus[c] = s
	}
}

// AllStatuses lists the six statuses that have a remote code.
func AllStatuses() []Status {
	return []Status{StatusPassed, StatusBlocked, StatusUntested, StatusRetest, StatusFailed, StatusPending}
}

// Code returns the remote code for s. ok is false for StatusUnset.
func (s Status) Code() (code int, ok bool) {
	code, ok = statusToCode[s]
	return code, ok
}

// FromCode translates a remote status code. Codes outside the table, such
// as instance-specific custom statuses, map to StatusUnset.
func FromCode(code int) Status {
	if s, ok := codeToStatus[code]; ok {
		return s
	}
	return StatusUnset
}

func (s Status) String() string {
	if name, ok := statusNames[s]; ok {
		return name
	}
	return fmt.Sprintf("status(%d)", int(s))
}

// ParseStatus is the inverse of String.
func ParseStatus(name string) (Status, error) {
	for s, n := range statusNames {
		if n == name {
			return s, nil
		}
	}
	return StatusUnset, fmt.Errorf("unknown status %q", name)
}
