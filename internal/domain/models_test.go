package domain

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestAnswerDistinguishesZeroFromUnanswered(t *testing.T) {
	zero := Answered(0)
	if !zero.Matches(0) {
		t.Fatalf("expected answered zero to match option 0")
	}
	if Unanswered.Matches(0) {
		t.Fatalf("unanswered must not match option 0")
	}

	data, err := json.Marshal([]Answer{Answered(0), Unanswered, Answered(2)})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(data) != "[0,null,2]" {
		t.Fatalf("unexpected encoding %s", data)
	}

	var decoded []Answer
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if _, ok := decoded[1].Index(); ok {
		t.Fatalf("expected slot 1 unanswered")
	}
	if idx, ok := decoded[2].Index(); !ok || idx != 2 {
		t.Fatalf("expected slot 2 = 2, got %d %v", idx, ok)
	}
}

func TestQuestionValidate(t *testing.T) {
	valid := Question{Prompt: "p", Options: []string{"a", "b"}, CorrectIndex: 1}
	if err := valid.Validate(); err != nil {
		t.Fatalf("expected valid question, got %v", err)
	}

	cases := []Question{
		{Prompt: "one option", Options: []string{"a"}},
		{Prompt: "negative", Options: []string{"a", "b"}, CorrectIndex: -1},
		{Prompt: "too large", Options: []string{"a", "b"}, CorrectIndex: 2},
	}
	for _, q := range cases {
		if err := q.Validate(); !errors.Is(err, ErrInvalidQuestion) {
			t.Fatalf("%s: expected ErrInvalidQuestion, got %v", q.Prompt, err)
		}
	}
}
