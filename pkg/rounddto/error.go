package rounddto

// Error codes carried in Error.Code.
const (
	CodeNotFound        = "not_found"
	CodeInvalidState    = "invalid_state"
	CodeInvalidArgument = "invalid_argument"
	CodeTransient       = "transient"
	CodeInternal        = "internal"
)

// Error is the body of every non-2xx response.
type Error struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable"`
}

func (e Error) Error() string {
	if e.Message != "" {
		return e.Message
	}
	if e.Code != "" {
		return e.Code
	}
	return "round service error"
}
