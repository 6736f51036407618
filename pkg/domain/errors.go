package domain

import "errors"

// Common domain errors
var (
	ErrUnknownStepType  = errors.New("unknown step type")
	ErrConfigInvalid    = errors.New("invalid configuration")
	ErrPolicyEvalFailed = errors.New("policy evaluation failed")
)
