package quarantine

import "strings"

// Classification labels for quarantined failures.
const (
	ClassRetryable = "retryable"
	ClassTerminal  = "terminal"

	PriorityHigh   = "high"
	PriorityNormal = "normal"
)

// terminalTerms mark failures no retry can fix. Checked first: a reason
// matching both tables is terminal.
var terminalTerms = []string{
	"duplicate",
	"insufficient",
	"already",
	"invalid",
	"permission denied",
}

// retryableTerms mark transient failures worth an operator requeue.
var retryableTerms = []string{
	"connection refused",
	"connect",
	"timeout",
	"step function not found",
	"redis connection",
	"service unavailable",
	"other transaction",
	"econnrefused",
	"etimedout",
}

// Classify buckets a failure reason into retryable or terminal by
// substring match, case-insensitive. Unmatched reasons are terminal:
// an unknown failure must not be requeued blindly.
func Classify(reason string) (classification string, canRetry bool, priority string) {
	lower := strings.ToLower(reason)

	for _, term := range terminalTerms {
		if strings.Contains(lower, term) {
			return ClassTerminal, false, PriorityNormal
		}
	}
	for _, term := range retryableTerms {
		if strings.Contains(lower, term) {
			return ClassRetryable, true, PriorityHigh
		}
	}
	return ClassTerminal, false, PriorityNormal
}
