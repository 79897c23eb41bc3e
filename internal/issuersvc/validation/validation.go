package validation

import (
	"fmt"
	"net/mail"
	"strings"

	"github.com/cardops/issuer-services/internal/comm"
)

const (
	minAge = 18
	maxAge = 120
)

// FieldError names one violated constraint on the issue request body.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

func (e FieldError) Error() string {
	return e.Field + ": " + e.Message
}

// Validate checks an issue request and returns every violated constraint.
// An empty slice means the request is acceptable.
func Validate(msg comm.CardRequestMessage) []FieldError {
	var violations []FieldError

	if strings.TrimSpace(msg.Customer.DocumentType) == "" {
		violations = append(violations, FieldError{"customer.documentType", "must not be empty"})
	}
	if strings.TrimSpace(msg.Customer.DocumentNumber) == "" {
		violations = append(violations, FieldError{"customer.documentNumber", "must not be empty"})
	}
	if strings.TrimSpace(msg.Customer.FullName) == "" {
		violations = append(violations, FieldError{"customer.fullName", "must not be empty"})
	}
	if msg.Customer.Age < minAge || msg.Customer.Age > maxAge {
		violations = append(violations, FieldError{"customer.age",
			fmt.Sprintf("must be between %d and %d", minAge, maxAge)})
	}
	if !validEmail(msg.Customer.Email) {
		violations = append(violations, FieldError{"customer.email", "must be a valid email address"})
	}
	if strings.TrimSpace(msg.Product.Type) == "" {
		violations = append(violations, FieldError{"product.type", "must not be empty"})
	}
	if strings.TrimSpace(msg.Product.Currency) == "" {
		violations = append(violations, FieldError{"product.currency", "must not be empty"})
	}

	return violations
}

func validEmail(email string) bool {
	if email == "" {
		return false
	}
	addr, err := mail.ParseAddress(email)
	if err != nil {
		return false
	}
	// reject the "Name <addr>" form, only a bare address is acceptable
	return addr.Address == email
}
