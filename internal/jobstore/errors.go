// Copyright 2025 James Ross
package jobstore

import "errors"

var (
	// ErrOwnershipLost is returned by TouchLease when its CAS update
	// affected zero rows because the caller no longer holds the lease.
	ErrOwnershipLost = errors.New("jobstore: lease ownership lost")
	// ErrNotAcquired names the case where another owner holds an
	// unexpired lease. AcquireLease reports that case by returning false
	// with a nil error, not by returning ErrNotAcquired.
	ErrNotAcquired = errors.New("jobstore: lease not acquired")
	// ErrJobExists is returned by CreateJob when the id is already in use.
	ErrJobExists = errors.New("jobstore: job already exists")
	// ErrJobNotFound is returned when an operation targets a missing job.
	ErrJobNotFound = errors.New("jobstore: job not found")
)
