package auth

import (
	"net/http"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-router"
)

// HTTPStatus maps a core error to the status code the HTTP layer answers with
func HTTPStatus(err error) int {
	if err == nil {
		return http.StatusOK
	}

	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) && richErr.Code >= 400 && richErr.Code < 600 {
		return richErr.Code
	}

	switch {
	case IsUnauthenticated(err):
		return http.StatusUnauthorized
	case IsForbidden(err):
		return http.StatusForbidden
	case IsConflict(err):
		return http.StatusConflict
	case IsNotFound(err):
		return http.StatusNotFound
	case IsInvalid(err):
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

// ErrorResponse is the JSON body of every failed request
type ErrorResponse struct {
	Code     int            `json:"code"`
	Error    string         `json:"error,omitempty"`
	Message  string         `json:"message"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// NewErrorResponse builds the public body for err. Internal failures only
// expose the status text.
func NewErrorResponse(err error) ErrorResponse {
	status := HTTPStatus(err)
	resp := ErrorResponse{
		Code:    status,
		Message: http.StatusText(status),
	}
	if status >= http.StatusInternalServerError {
		return resp
	}

	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) {
		resp.Error = richErr.TextCode
		resp.Message = richErr.Message
		if IsInvalid(err) {
			resp.Metadata = richErr.Metadata
		}
	}
	return resp
}

func defaultErrHandler(c router.Context, err error) error {
	resp := NewErrorResponse(err)
	return c.JSON(resp.Code, resp)
}

// bearerToken reads the token of the Authorization header
func bearerToken(c router.Context) (string, error) {
	return ExtractBearer(c.Header(router.HeaderAuthorization))
}
