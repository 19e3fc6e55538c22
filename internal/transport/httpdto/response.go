package httpdto

import sentinal_errors "sentinal-relay/pkg/errors"

type Response[T any] struct {
	Success bool   `json:"success"`
	Data    T      `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
	Code    string `json:"code,omitempty"`
}

func NewSuccessResponse[T any](data T) Response[T] {
	return Response[T]{
		Success: true,
		Data:    data,
	}
}

func NewErrorResponse(err string, code string) Response[any] {
	return Response[any]{
		Success: false,
		Error:   err,
		Code:    code,
	}
}

// ErrorFrom builds the error body and status for err. Internal failures are
// not echoed to the caller.
func ErrorFrom(err error) (int, Response[any]) {
	code := sentinal_errors.Code(err)
	msg := err.Error()
	if code == "INTERNAL_ERROR" {
		msg = "internal error"
	}
	return sentinal_errors.HTTPStatus(err), NewErrorResponse(msg, code)
}
