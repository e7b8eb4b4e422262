package profile

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrNotFound is returned when a profile, question, document or session
	// does not exist.
	ErrNotFound = errors.New("not found")
	// ErrForbidden is returned when the requester does not own the resource.
	ErrForbidden = errors.New("forbidden")
	// ErrAlreadyAnswered rejects a second answer to the same question.
	ErrAlreadyAnswered = errors.New("question already answered")
	// ErrArchived rejects acquisition writes on an archived profile.
	ErrArchived        = errors.New("profile is archived")
	ErrInvalidCategory = errors.New("invalid category")
	ErrInvalidInput    = errors.New("invalid input")
)

// ShortfallError reports how far a profile is from the activation thresholds.
type ShortfallError struct {
	Answered  int
	Required  int
	Uncovered []Category
}

func (e *ShortfallError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "profile not ready: %d of %d answers", e.Answered, e.Required)
	if len(e.Uncovered) > 0 {
		names := make([]string, len(e.Uncovered))
		for i, c := range e.Uncovered {
			names[i] = string(c)
		}
		fmt.Fprintf(&b, ", %d categories below minimum (%s)", len(e.Uncovered), strings.Join(names, ", "))
	}
	return b.String()
}
