package models

import "errors"

var (
	// ErrInsufficientData is returned when a training population is too small
	ErrInsufficientData = errors.New("insufficient data to train anomaly model")

	// ErrModelNotTrained is returned when scoring before any artifact is loaded
	ErrModelNotTrained = errors.New("anomaly model not trained")

	// ErrAttributionUnavailable signals that exact attribution cannot run on the loaded model
	ErrAttributionUnavailable = errors.New("tree attribution unavailable")

	// ErrInvalidIdentity is returned for identity references the store does not know
	ErrInvalidIdentity = errors.New("invalid identity")

	// ErrTrainingInProgress is returned when another training run holds the writer slot
	ErrTrainingInProgress = errors.New("training already in progress")

	ErrFindingNotFound    = errors.New("finding not found")
	ErrMitigationNotFound = errors.New("mitigation action not found")
	ErrInvalidTransition  = errors.New("invalid finding status transition")
)
