package persist

import (
	"fmt"
)

// CardType distinguishes how a card's content is rendered and answered
type CardType string

const (
	// CardTypeBasic is a plain front/back card
	CardTypeBasic CardType = "basic"
	// CardTypeCloze is a fill-in-the-blank card
	CardTypeCloze CardType = "cloze"
)

// SchedulingState holds the spaced-repetition state for a card. The
// scheduling formula itself lives outside this module; these fields are
// opaque to everything but the integrity validator.
type SchedulingState struct {
	IntervalDays float64 `json:"intervalDays" binding:"gte=0"`
	EaseFactor   float64 `json:"easeFactor" binding:"gte=0"`
	Repetitions  int     `json:"repetitions" binding:"gte=0"`
	Lapses       int     `json:"lapses" binding:"gte=0"`
	Due          Millis  `json:"due"`
}

// Card represents a single flashcard. Cards reference tags by name, not by
// ID, so tag existence is eventually consistent rather than enforced.
type Card struct {
	ID           DBID            `json:"id" binding:"required"`
	Front        string          `json:"front" binding:"required"`
	Back         string          `json:"back"`
	Type         CardType        `json:"type"`
	Tags         []string        `json:"tags"`
	Created      Millis          `json:"created"`
	Modified     Millis          `json:"modified"`
	LastReviewed Millis          `json:"lastReviewed,omitempty"`
	Scheduling   SchedulingState `json:"scheduling"`
}

// Tag represents a named grouping of cards. Tags are denormalized by name
// and therefore not renameable after creation.
type Tag struct {
	ID      DBID   `json:"id" binding:"required"`
	Name    string `json:"name" binding:"required"`
	Color   string `json:"color"`
	Created Millis `json:"created"`
}

// ErrCardNotFound is returned when a card is not found by its ID
type ErrCardNotFound struct {
	ID DBID
}

func (e ErrCardNotFound) Error() string {
	return fmt.Sprintf("card not found with ID: %v", e.ID)
}

// ErrTagNotFound is returned when a tag is not found by its name
type ErrTagNotFound struct {
	Name string
}

func (e ErrTagNotFound) Error() string {
	return fmt.Sprintf("tag not found with name: %s", e.Name)
}
