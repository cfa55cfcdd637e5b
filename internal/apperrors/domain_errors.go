package apperrors

var (
	ErrSelfConnection     = InvalidOperation("cannot connect with yourself")
	ErrMissingUser        = InvalidOperation("user id is required")
	ErrEmptyMessage       = InvalidOperation("message content cannot be empty")
	ErrSelfMessage        = InvalidOperation("cannot message yourself")
	ErrConnectionNotFound = NotFound("connection not found")
	ErrNotPending         = InvalidState("connection is not pending")
	ErrNotReceiver        = PermissionDenied("only the receiver can respond to a connection request")
	ErrUnknownCorrelation = NotFound("no optimistic message with that correlation id")
	ErrNotFailed          = InvalidState("message has not failed")
	ErrInboxClosed        = InvalidState("inbox is not open")
)
