package monitor

import (
	"context"
	"errors"
)

// SessionResetter clears the rows of one session somewhere.
type SessionResetter interface {
	ResetSession(ctx context.Context, sessionID string) (int64, error)
}

// ResetChain resets every target in order and sums the cleared rows. All
// targets are tried even when one fails; the joined error is returned.
type ResetChain []SessionResetter

func (c ResetChain) ResetSession(ctx context.Context, sessionID string) (int64, error) {
	var (
		total int64
		errs  []error
	)
	for _, r := range c {
		if r == nil {
			continue
		}
		n, err := r.ResetSession(ctx, sessionID)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		total += n
	}
	return total, errors.Join(errs...)
}
