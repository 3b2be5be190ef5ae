package model

import "errors"

var (
	// [CONSTRUCTION] Empty identifiers, nil dependencies, malformed payloads.
	ErrInvalidArgument = errors.New("invalid argument")

	// [CAPACITY] The user already holds the maximum number of sessions.
	ErrSessionLimitExceeded = errors.New("session limit exceeded")

	// [CONSISTENCY] Poll against an unknown or expired session; the client
	// has to start a new one.
	ErrSessionNotFound = errors.New("session does not exist")

	// [PROTOCOL] A second consumer tried to wait on a queue that already has one.
	ErrConsumerBusy = errors.New("queue already has an active consumer")

	// [THROTTLING] The sender ran out of tokens.
	ErrRateLimited = errors.New("rate limit exceeded")
)
