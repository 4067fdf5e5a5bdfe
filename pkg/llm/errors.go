package llm

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
)

// APIError - ошибка HTTP API провайдера с кодом статуса.
//
// StatusCode == 0 означает что ответ не был получен (сетевая ошибка).
type APIError struct {
	Provider   string
	StatusCode int
	Message    string
	Err        error
}

func (e *APIError) Error() string {
	if e.StatusCode == 0 {
		return fmt.Sprintf("%s api error: %s", e.Provider, e.Message)
	}
	return fmt.Sprintf("%s api error (status %d): %s", e.Provider, e.StatusCode, e.Message)
}

// Unwrap возвращает исходную ошибку SDK.
func (e *APIError) Unwrap() error {
	return e.Err
}

// Transient сообщает является ли ошибка временной.
//
// 408, 429 и 5xx временные, остальные 4xx постоянные.
func (e *APIError) Transient() bool {
	switch {
	case e.StatusCode == 0:
		return true
	case e.StatusCode == http.StatusRequestTimeout,
		e.StatusCode == http.StatusTooManyRequests:
		return true
	case e.StatusCode >= 500:
		return true
	default:
		return false
	}
}

// permanentError помечает ошибку как не подлежащую повтору.
type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent оборачивает ошибку так, что RetryClient не будет её повторять.
// Используется для ошибок подготовки запроса (невалидный JSON и т.д.).
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsRetryable классифицирует ошибку: transient (повторяем) или permanent.
//
// Отмена контекста никогда не повторяется. Неизвестные ошибки считаются
// временными: чаще всего это обрыв соединения без HTTP статуса.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if errors.Is(err, ErrUnsupportedRequest) {
		return false
	}

	var perm *permanentError
	if errors.As(err, &perm) {
		return false
	}

	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Transient()
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}

	return true
}
