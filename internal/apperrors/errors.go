package apperrors

import (
	"errors"
)

var (
	ErrAccountNotFound        = errors.New("tip account not found")
	ErrInsufficientTipBalance = errors.New("insufficient tip balance")

	ErrBatchNotFound = errors.New("no pending bulk tip found")
	ErrBatchEmpty    = errors.New("bulk tip batch is empty")

	ErrAmountNotPositive = errors.New("amount must be a positive integer")
)
