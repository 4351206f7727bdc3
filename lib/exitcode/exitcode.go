// Package exitcode exports the exit status numbers of mtfs.
package exitcode

const (
	// Success is returned when the command finished without error.
	Success = iota
	// UsageError is returned when there was a syntax or usage error in the arguments.
	UsageError
	// UncategorizedError is returned for any error not categorised otherwise.
	UncategorizedError
	// NotFound is returned when the entry named doesn't exist.
	NotFound
	// NoValidBranch is returned when no branch could serve the operation.
	NoValidBranch
	// InvalidArgument is returned when the server refused the parameters.
	InvalidArgument
	// Unreachable is returned when the remote control server can't be contacted.
	Unreachable
)
