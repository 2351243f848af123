package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
)

var (
	// ErrInsecureBaseURL is returned by New when the base URL is not https.
	ErrInsecureBaseURL = errors.New("transport: base URL must use https")
	// ErrInsecureURL is returned when a request URL is not https.
	ErrInsecureURL = errors.New("transport: request URL must use https")
	// ErrHostNotAllowed is returned when a request targets a host outside the allow-list.
	ErrHostNotAllowed = errors.New("transport: host not allowed")
	// ErrUnexpectedContentType is returned by DoJSON when the response is not JSON.
	ErrUnexpectedContentType = errors.New("transport: unexpected content type")
)

// StatusError is returned for responses with status >= 400. For a 401 whose refresh
// failed, Cause holds the refresh error.
type StatusError struct {
	StatusCode int
	Body       []byte
	Cause      error
}

func (e *StatusError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("transport: status %d: %v", e.StatusCode, e.Cause)
	}
	return fmt.Sprintf("transport: status %d", e.StatusCode)
}

func (e *StatusError) Unwrap() error { return e.Cause }

// AuthFailure reports whether the status ended the session.
func (e *StatusError) AuthFailure() bool {
	return e.StatusCode == http.StatusUnauthorized || e.StatusCode == http.StatusForbidden
}

// User-facing messages.
const (
	MsgTimeout       = "La solicitud tardó demasiado. Intente nuevamente."
	MsgNetwork       = "Error de conexión. Verifique su internet."
	MsgServer        = "Error del servidor. Intente más tarde."
	MsgBadRequest    = "Solicitud incorrecta. Verifique los datos."
	MsgSessionEnded  = "Sesión expirada. Inicie sesión nuevamente."
	MsgBlockedHost   = "Conexión bloqueada: dominio no autorizado."
	MsgInvalidReply  = "Respuesta inválida del servidor"
	MsgUnexpectedErr = "Error inesperado. Intente nuevamente."
)

// UserMessage maps err to a message suitable for showing to the user.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}
	var se *StatusError
	if errors.As(err, &se) {
		switch {
		case se.AuthFailure():
			return MsgSessionEnded
		case se.StatusCode >= 500:
			return MsgServer
		default:
			return MsgBadRequest
		}
	}
	if errors.Is(err, ErrHostNotAllowed) || errors.Is(err, ErrInsecureURL) {
		return MsgBlockedHost
	}
	if errors.Is(err, ErrUnexpectedContentType) {
		return MsgInvalidReply
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return MsgTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return MsgTimeout
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) || netErr != nil {
		return MsgNetwork
	}
	return MsgUnexpectedErr
}
