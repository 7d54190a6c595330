package store

import "errors"

var (
	ErrTicketNotFound     = errors.New("ticket not found")
	ErrAssignmentNotFound = errors.New("assignment not found")
	ErrReportNotFound     = errors.New("quality report not found")
	ErrWorkerNotFound     = errors.New("worker not found")
	ErrTicketLocked       = errors.New("ticket locked by another worker")
	ErrInvalidState       = errors.New("invalid ticket state")
	ErrPendingReport      = errors.New("pending quality report exists")
	ErrAlreadyCompleted   = errors.New("assignment already completed")
	ErrCommentRequired    = errors.New("rejection comments required")
	ErrUnknownRole        = errors.New("unknown worker role")
	ErrSessionNotFound    = errors.New("session not found")
)
