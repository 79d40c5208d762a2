package response

type ErrorCode int

const (
	OK ErrorCode = 0

	InvalidRequest ErrorCode = 40001
	InvalidPath    ErrorCode = 40002
	UnknownShare   ErrorCode = 40003

	TokenExpired ErrorCode = 40101
	InvalidToken ErrorCode = 40103
	MissingToken ErrorCode = 40104

	ProxiedPathNotFound ErrorCode = 40401
	PreferenceNotFound  ErrorCode = 40402

	StaticMode ErrorCode = 40901

	SyncFailed ErrorCode = 50201

	// Frontend prints the message as is
	NotSpecified ErrorCode = 99999
)
