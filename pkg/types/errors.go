package types

import "fmt"

// AuthError means the exchange rejected the account's credentials. The
// poller backs off the account instead of retrying every cycle; the owner
// has to fix their keys.
type AuthError struct {
	AccountID string
	Code      int    // exchange error code, if any
	Message   string // exchange error message
}

func (e *AuthError) Error() string {
	if e.Code != 0 {
		return fmt.Sprintf("auth failed for account %s: %s (code %d)", e.AccountID, e.Message, e.Code)
	}

	return fmt.Sprintf("auth failed for account %s: %s", e.AccountID, e.Message)
}

// TransientError means the exchange was unreachable, rate limited, or
// otherwise temporarily unhappy. Retried on the next poll cycle, never
// surfaced beyond a log.
type TransientError struct {
	Op      string // operation that failed, e.g. "user-trades"
	Message string
	Err     error
}

func (e *TransientError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("transient %s failure: %s: %v", e.Op, e.Message, e.Err)
	}

	return fmt.Sprintf("transient %s failure: %s", e.Op, e.Message)
}

func (e *TransientError) Unwrap() error {
	return e.Err
}

// GenerationError means the review generator failed for one attempt. The
// scheduler retries within a bounded budget before declaring the fill's
// generation permanently failed.
type GenerationError struct {
	FillID  int64
	Message string
	Err     error
}

func (e *GenerationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("generate review for fill %d: %s: %v", e.FillID, e.Message, e.Err)
	}

	return fmt.Sprintf("generate review for fill %d: %s", e.FillID, e.Message)
}

func (e *GenerationError) Unwrap() error {
	return e.Err
}
