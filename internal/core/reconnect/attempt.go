package reconnect

import "time"

// Attempt records one call to the connect function.
type Attempt struct {
	Timestamp     time.Time
	AttemptNumber int
	Success       bool
	Duration      time.Duration
	Err           error
	Reason        string
}

func (a Attempt) DurationMs() int64 {
	return a.Duration.Milliseconds()
}

const (
	EventAttempt   = "reconnect.attempt"
	EventSucceeded = "reconnect.succeeded"
	EventExhausted = "reconnect.exhausted"
)

const eventSource = "reconnect"

// SucceededEvent closes an episode that restored the connection.
type SucceededEvent struct {
	Reason   string
	Attempts int
	Elapsed  time.Duration
}

// ExhaustedEvent closes an episode that used up its attempt budget.
type ExhaustedEvent struct {
	Reason   string
	Attempts int
	LastErr  error
}
