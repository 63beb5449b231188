package error

import "net/http"

// ProcessError marks failures inside the media pipeline (integrity check,
// transcode, timeout). It is retried only where a pool wraps it in a retry loop.
type ProcessError string

func (err ProcessError) Error() string {
	return string(err)
}

func (err ProcessError) ErrCode() string {
	return "PROCESS_ERROR"
}

func (err ProcessError) StatusCode() int {
	return http.StatusInternalServerError
}
