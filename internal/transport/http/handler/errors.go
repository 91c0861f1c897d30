package handler

const (
	errInternalServer   = "Internal server error"
	errReminderNotFound = "Reminder not found"
	errAlreadyPaused    = "Reminder is already paused"
	errNotPaused        = "Reminder is not paused"
	errCompleted        = "Reminder has already been delivered"
	errNotFailed        = "Reminder is not in failed state"
	errRetryNotDue      = "Reminder backoff has not elapsed yet"
	errInvalidCursor    = "Invalid cursor"
	errUnknownUser      = "User not found"
	errInvalidTimezone  = "Unknown timezone"
)
