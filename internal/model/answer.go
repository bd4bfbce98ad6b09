package model

import (
	"bytes"
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// AnswerKind tags which member of AnswerValue is set.
type AnswerKind int

const (
	AnswerKindInvalid AnswerKind = iota
	AnswerKindEmpty
	AnswerKindText
	AnswerKindChoices
)

func (k AnswerKind) String() string {
	switch k {
	case AnswerKindEmpty:
		return "empty"
	case AnswerKindText:
		return "text"
	case AnswerKindChoices:
		return "choices"
	}
	return "invalid"
}

// AnswerValue is a submitted value: a string, a list of strings, or nothing.
// JSON values of any other shape decode to AnswerKindInvalid so the validator
// can report them per question instead of failing the whole request body.
type AnswerValue struct {
	Kind    AnswerKind
	Text    string
	Choices []string
}

func TextAnswer(s string) AnswerValue {
	return AnswerValue{Kind: AnswerKindText, Text: s}
}

func ChoicesAnswer(values ...string) AnswerValue {
	return AnswerValue{Kind: AnswerKindChoices, Choices: values}
}

func (v AnswerValue) MarshalJSON() ([]byte, error) {
	switch v.Kind {
	case AnswerKindText:
		return json.Marshal(v.Text)
	case AnswerKindChoices:
		if v.Choices == nil {
			return []byte("[]"), nil
		}
		return json.Marshal(v.Choices)
	case AnswerKindEmpty:
		return []byte("null"), nil
	}
	return nil, errors.New("answer value: cannot encode invalid value")
}

func (v *AnswerValue) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	*v = AnswerValue{}

	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		v.Kind = AnswerKindEmpty
		return nil
	}

	switch data[0] {
	case '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		v.Kind = AnswerKindText
		v.Text = s
	case '[':
		var list []string
		if err := json.Unmarshal(data, &list); err != nil {
			// arrays of non-strings are a per-question problem, not a body error
			v.Kind = AnswerKindInvalid
			return nil
		}
		v.Kind = AnswerKindChoices
		v.Choices = list
	default:
		v.Kind = AnswerKindInvalid
	}
	return nil
}

func (v AnswerValue) Value() (driver.Value, error) {
	b, err := v.MarshalJSON()
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func (v *AnswerValue) Scan(src any) error {
	switch s := src.(type) {
	case string:
		return v.UnmarshalJSON([]byte(s))
	case []byte:
		return v.UnmarshalJSON(s)
	case nil:
		*v = AnswerValue{Kind: AnswerKindEmpty}
		return nil
	}
	return fmt.Errorf("answer value: unsupported type %T", src)
}

type Answer struct {
	ID          string      `db:"id" json:"-"`
	SessionID   string      `db:"session_id" json:"session_id"`
	QuestionID  string      `db:"question_id" json:"question_id"`
	AnswerValue AnswerValue `db:"answer_value" json:"value"`
	CreatedAt   time.Time   `db:"created_at" json:"created_at"`
}

// Response is one question's value as submitted by a client.
type Response struct {
	QuestionID string      `json:"question_id"`
	Value      AnswerValue `json:"value"`
}
