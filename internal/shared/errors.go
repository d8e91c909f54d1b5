package shared

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound indicates resource not found.
	ErrNotFound = errors.New("not found")
	// ErrForbidden indicates the actor lacks the required role.
	ErrForbidden = errors.New("forbidden")
)

// Identifiable is a domain error carrying a stable identifier so the API
// layer can translate it into a client-facing error code without string
// matching on the message.
type Identifiable struct {
	ID      string
	Message string
}

// NewIdentifiable constructs an Identifiable error.
func NewIdentifiable(id, message string) *Identifiable {
	return &Identifiable{ID: id, Message: message}
}

func (e *Identifiable) Error() string {
	return fmt.Sprintf("%s (%s)", e.Message, e.ID)
}

// Is matches two Identifiable errors by ID.
func (e *Identifiable) Is(target error) bool {
	var other *Identifiable
	if errors.As(target, &other) {
		return e.ID == other.ID
	}
	return false
}
