package apperrors

type Code string

const (
	CodeUnknown          Code = "UNKNOWN"
	CodeInvalidOperation Code = "INVALID_OPERATION"
	CodeInvalidState     Code = "INVALID_STATE"
	CodeNotFound         Code = "NOT_FOUND"
	CodePermissionDenied Code = "PERMISSION_DENIED"
	CodeStoreFailure     Code = "STORE_FAILURE"
)
