package flow

import "fmt"

// ErrorPolicy decides what a stage does when its function fails.
type ErrorPolicy string

const (
	// PolicySkip logs the failure, drops the branch and serves one more unit
	// of demand in its place.
	PolicySkip ErrorPolicy = "skip"
	// PolicyHalt cancels upstream and in-flight work and signals OnError.
	PolicyHalt ErrorPolicy = "halt"
)

var validErrorPolicies = map[ErrorPolicy]bool{PolicySkip: true, PolicyHalt: true, "": true}

// IsValidErrorPolicy returns true if name is a recognized policy. Empty means skip.
func IsValidErrorPolicy(name string) bool { return validErrorPolicies[ErrorPolicy(name)] }

// ParseErrorPolicy resolves a policy name. Panics on unknown names; callers
// validate configuration first.
func ParseErrorPolicy(name string) ErrorPolicy {
	if !IsValidErrorPolicy(name) {
		panic(fmt.Sprintf("unknown error policy %q", name))
	}
	if name == "" {
		return PolicySkip
	}
	return ErrorPolicy(name)
}
