package errs

// 通用错误码：参数 / 鉴权 / 权限 / 记录不存在 / 内部错误
const (
	ServerInternalError = 500
	ArgsError           = 1001
	TokenError          = 1002
	NoPermissionError   = 1003
	RecordNotFoundError = 1004
)

var (
	ErrInternalServer = NewCodeError(ServerInternalError, "ServerInternalError")
	ErrArgs           = NewCodeError(ArgsError, "ArgsError")
	ErrToken          = NewCodeError(TokenError, "TokenError")
	ErrNoPermission   = NewCodeError(NoPermissionError, "NoPermissionError")
	ErrRecordNotFound = NewCodeError(RecordNotFoundError, "RecordNotFoundError")
)
