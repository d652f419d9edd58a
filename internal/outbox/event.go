package outbox

import (
	"time"

	"github.com/nkulkarni/authgate/internal/decision"
	"github.com/nkulkarni/authgate/internal/transaction"
)

// Event is an immutable snapshot pairing one transaction with its decision,
// queued for asynchronous durability.
type Event struct {
	Transaction *transaction.Transaction
	Decision    *decision.Decision
	EnqueuedAt  time.Time
}

// Appender is the durability backend boundary. Any returned error is treated
// as retryable; the dispatcher never interprets failure modes.
type Appender interface {
	Append(ev *Event) error
}
