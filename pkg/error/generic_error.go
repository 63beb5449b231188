package error

// GenericError is implemented by every status-coded error in this package.
// The REST recovery middleware uses it to map panics to HTTP responses.
type GenericError interface {
	Error() string
	ErrCode() string
	StatusCode() int
}
