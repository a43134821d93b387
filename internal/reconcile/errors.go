package reconcile

import "errors"

var (
	// ErrAlreadyBound is returned when a submission already carries an EMR id.
	ErrAlreadyBound = errors.New("reconcile: submission already bound")
	// ErrUnknownSubmission is returned for ids not in the pending set.
	ErrUnknownSubmission = errors.New("reconcile: unknown submission")
	// ErrNoPending means a candidate arrived with nothing waiting for it. The
	// candidate is dropped.
	ErrNoPending = errors.New("reconcile: no pending submissions")
	// ErrDeferred means every pending submission is still inside the minimum
	// wait. The session retries the candidate on later sweeps.
	ErrDeferred = errors.New("reconcile: candidate deferred")
	// ErrAlreadyStored means the EMR id belongs to a record persisted before
	// this session. No pending submission is consumed.
	ErrAlreadyStored = errors.New("reconcile: emr id already stored")
)
