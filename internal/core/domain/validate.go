package domain

import (
	"errors"
	"strings"
	"unicode"

	"go.trai.ch/zerr"
)

// MaxIDLength bounds every caller supplied identifier.
const MaxIDLength = 128

// ValidateID checks that id can be used as a document ID.
func ValidateID(field, id string) error {
	switch {
	case id == "":
		return invalid(field, "must not be empty")
	case len(id) > MaxIDLength:
		return invalid(field, "is too long")
	case strings.ContainsRune(id, '/'):
		return invalid(field, "must not contain '/'")
	case strings.IndexFunc(id, func(r rune) bool { return unicode.IsSpace(r) || unicode.IsControl(r) }) >= 0:
		return invalid(field, "must not contain whitespace or control characters")
	}
	return nil
}

func invalid(field, reason string) error {
	return errors.Join(ErrValidation, zerr.New(field+" "+reason))
}
