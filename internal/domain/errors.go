package domain

import "errors"

var (
	ErrNotDJ              = errors.New("permission denied: sender is not the dj")
	ErrNotPrivileged      = errors.New("permission denied: sender is not privileged")
	ErrDJAlreadyAssigned  = errors.New("dj role is already assigned")
	ErrMemberNotFound     = errors.New("member not found")
	ErrQueueEmpty         = errors.New("queue is empty")
	ErrItemNotFound       = errors.New("queue item not found")
	ErrSavedQueueNotFound = errors.New("saved queue not found")
	ErrEmptyPayload       = errors.New("empty message payload")
)
