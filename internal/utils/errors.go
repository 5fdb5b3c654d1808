package utils

import "net/http"

// AppError carries an HTTP status alongside a user-facing message.
type AppError struct {
	StatusCode int    `json:"-"`
	Message    string `json:"error"`
}

func (e *AppError) Error() string {
	return e.Message
}

func NewBadRequestError(message string) *AppError {
	return &AppError{StatusCode: http.StatusBadRequest, Message: message}
}

func NewNotFoundError(message string) *AppError {
	return &AppError{StatusCode: http.StatusNotFound, Message: message}
}

func NewPayloadTooLargeError(message string) *AppError {
	return &AppError{StatusCode: http.StatusRequestEntityTooLarge, Message: message}
}

func NewGoneError(message string) *AppError {
	return &AppError{StatusCode: http.StatusGone, Message: message}
}

func NewInternalError(message string) *AppError {
	return &AppError{StatusCode: http.StatusInternalServerError, Message: message}
}
