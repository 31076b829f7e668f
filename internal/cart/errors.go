package cart

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/noah-isme/cartino/internal/common"
	"github.com/noah-isme/cartino/internal/modifier"
)

var (
	// ErrNotFound indicates the cart, item or modifier could not be located.
	ErrNotFound = errors.New("not found")
	// ErrInvalidInput is returned when the provided payload or owner is invalid.
	ErrInvalidInput = errors.New("invalid input")
	// ErrDuplicateModifier is returned when a modifier with the same name and type is already applied.
	ErrDuplicateModifier = errors.New("modifier already applied")
	// ErrInvalidOperation is returned for requests that cannot be carried out, such as moving an item onto its own collection.
	ErrInvalidOperation = errors.New("invalid operation")
)

// CodeInvalidModifier is the client-facing code for modifier validation failures.
const CodeInvalidModifier = "INVALID_MODIFIER"

func invalidModifier(res modifier.Result) error {
	return &common.AppError{
		Code:       CodeInvalidModifier,
		Message:    "invalid modifier: " + res.String(),
		HTTPStatus: http.StatusBadRequest,
		Err:        fmt.Errorf("invalid modifier: %s: %w", res.String(), ErrInvalidInput),
		Details:    res.Details,
	}
}

func notFound(what string) error {
	return fmt.Errorf("%s: %w", what, ErrNotFound)
}
