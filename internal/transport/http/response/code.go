package response

// 业务码沿用 HTTP 语义，0 表示成功。HTTP 层统一回 200，客户端只看 code
const (
	CodeOK           = 0
	CodeBadRequest   = 400
	CodeUnauthorized = 401
	CodeForbidden    = 403
	CodeNotFound     = 404
	CodeConflict     = 409
	CodeServerError  = 500
	CodeTimeout      = 504
)

var CodeMsgMap = map[int]string{
	CodeOK:           "ok",
	CodeBadRequest:   "bad request",
	CodeUnauthorized: "unauthorized",
	CodeForbidden:    "forbidden",
	CodeNotFound:     "not found",
	CodeConflict:     "conflict",
	CodeServerError:  "server error",
	CodeTimeout:      "timeout",
}
