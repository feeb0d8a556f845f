package domain

import "errors"

var (
	ErrInvalidArtifactID   = errors.New("invalid artifact id")
	ErrInvalidBusiness     = errors.New("invalid business")
	ErrInvalidSHA          = errors.New("invalid sha")
	ErrNoopDelta           = errors.New("no-op delta")
	ErrInvalidDispatchID   = errors.New("invalid dispatch id")
	ErrInvalidQueueState   = errors.New("invalid queue state")
	ErrInvalidTransition   = errors.New("invalid queue transition")
	ErrInvalidCycleID      = errors.New("invalid cycle id")
	ErrInvalidCycleMode    = errors.New("invalid cycle mode")
	ErrInvalidCycleCounts  = errors.New("invalid cycle counts")
	ErrInvalidOutcomeType  = errors.New("invalid intended outcome type")
	ErrInvalidOutcomeSrc   = errors.New("invalid intended outcome source")
	ErrInvalidDispatchMode = errors.New("invalid dispatch mode")
)
