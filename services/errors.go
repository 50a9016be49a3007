package services

import (
	"errors"
	"strings"

	"github.com/gofiber/fiber/v2"
)

// Stable domain errors. Handlers translate these into the JSON `error` kind
// the clients switch on, so the strings here are part of the API contract.
var (
	ErrInvalidAmount     = errors.New("InvalidAmount")
	ErrInvalidTask       = errors.New("InvalidTask")
	ErrInsufficientFunds = errors.New("InsufficientFunds")
	ErrSelfTransfer      = errors.New("SelfTransfer")
	ErrUnknownRecipient  = errors.New("UnknownRecipient")
	ErrUnknownAccount    = errors.New("UnknownAccount")
	ErrSelfDealing       = errors.New("SelfDealing")
	ErrAlreadyAttempted  = errors.New("AlreadyAttempted")
	ErrTaskExhausted     = errors.New("TaskExhausted")
	ErrNotVerifiable     = errors.New("NotVerifiable")
	ErrAlreadyClaimed    = errors.New("AlreadyClaimed")
	ErrTaskNotFound      = errors.New("TaskNotFound")
)

// HTTPStatus maps a domain error to the status code the front-end expects.
// Anything unmapped is an infrastructure error: transient, nothing applied,
// safe for the client to retry.
func HTTPStatus(err error) int {
	switch {
	case errors.Is(err, ErrInvalidAmount), errors.Is(err, ErrInvalidTask):
		return fiber.StatusBadRequest
	case errors.Is(err, ErrInsufficientFunds),
		errors.Is(err, ErrSelfTransfer),
		errors.Is(err, ErrSelfDealing),
		errors.Is(err, ErrAlreadyAttempted),
		errors.Is(err, ErrAlreadyClaimed):
		return fiber.StatusConflict
	case errors.Is(err, ErrTaskExhausted), errors.Is(err, ErrNotVerifiable):
		return fiber.StatusUnprocessableEntity
	case errors.Is(err, ErrUnknownRecipient), errors.Is(err, ErrUnknownAccount), errors.Is(err, ErrTaskNotFound):
		return fiber.StatusNotFound
	default:
		return fiber.StatusInternalServerError
	}
}

// isUniqueViolation detects a unique-constraint failure without tying the
// services to one driver (Postgres in production, SQLite in tests).
func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "duplicate key") || // postgres
		strings.Contains(msg, "SQLSTATE 23505") ||
		strings.Contains(msg, "UNIQUE constraint failed") // sqlite
}
