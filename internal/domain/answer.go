package domain

import (
	"bytes"
	"encoding/json"
)

// Answer is one response slot: either Unanswered or an answered option index.
type Answer struct {
	index    int
	answered bool
}

// Unanswered is the zero Answer.
var Unanswered = Answer{}

// Answered returns a slot holding the given option index.
func Answered(index int) Answer {
	return Answer{index: index, answered: true}
}

// Index returns the selected option and whether the slot was answered.
func (a Answer) Index() (int, bool) {
	return a.index, a.answered
}

// Matches reports whether the slot holds exactly the given option.
func (a Answer) Matches(index int) bool {
	return a.answered && a.index == index
}

// MarshalJSON encodes Unanswered as null.
func (a Answer) MarshalJSON() ([]byte, error) {
	if !a.answered {
		return []byte("null"), nil
	}
	return json.Marshal(a.index)
}

func (a *Answer) UnmarshalJSON(data []byte) error {
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		*a = Unanswered
		return nil
	}
	var idx int
	if err := json.Unmarshal(data, &idx); err != nil {
		return err
	}
	*a = Answered(idx)
	return nil
}
