// Package exitcode lists the process exit statuses of tm2load.
package exitcode

const (
	Success          = 0
	UsageError       = 1
	ValidationError  = 2
	DBConnError      = 3
	DownstreamError  = 4
	InputError       = 5
	PartialSuccess   = 6
	AllRecordsFailed = 7
)
