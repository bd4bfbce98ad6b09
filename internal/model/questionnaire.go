package model

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
)

const (
	QuestionnaireKindForm   = "form"
	QuestionnaireKindSurvey = "survey"
)

type AnswerType string

const (
	AnswerTypeShortText      AnswerType = "short_text"
	AnswerTypeLongText       AnswerType = "long_text"
	AnswerTypeSingleChoice   AnswerType = "single_choice"
	AnswerTypeMultipleChoice AnswerType = "multiple_choice"
	AnswerTypeChecklist      AnswerType = "checklist"
)

// ValueKind returns the answer shape a question type expects.
// ok is false for types this build does not know about.
func (t AnswerType) ValueKind() (kind AnswerKind, ok bool) {
	switch t {
	case AnswerTypeShortText, AnswerTypeLongText, AnswerTypeSingleChoice:
		return AnswerKindText, true
	case AnswerTypeMultipleChoice, AnswerTypeChecklist:
		return AnswerKindChoices, true
	}
	return AnswerKindInvalid, false
}

// LocalizedText maps a locale to a translation and is stored as a JSON object.
type LocalizedText map[string]string

// In returns the translation for locale, falling back to fallback and then to any value.
func (t LocalizedText) In(locale, fallback string) string {
	if v, ok := t[locale]; ok && v != "" {
		return v
	}
	if v, ok := t[fallback]; ok && v != "" {
		return v
	}
	for _, v := range t {
		return v
	}
	return ""
}

func (t LocalizedText) Value() (driver.Value, error) {
	b, err := json.Marshal(map[string]string(t))
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func (t *LocalizedText) Scan(src any) error {
	var raw []byte
	switch v := src.(type) {
	case nil:
		*t = LocalizedText{}
		return nil
	case string:
		raw = []byte(v)
	case []byte:
		raw = v
	default:
		return fmt.Errorf("localized text: unsupported type %T", src)
	}
	m := map[string]string{}
	err := json.Unmarshal(raw, &m)
	if err != nil {
		return fmt.Errorf("localized text: %w", err)
	}
	*t = m
	return nil
}

type Questionnaire struct {
	ID        string        `db:"id"`
	Kind      string        `db:"kind"`
	Title     LocalizedText `db:"title"`
	Questions []*Question   `db:"-"`
}

type Question struct {
	ID              string            `db:"id"`
	QuestionnaireID string            `db:"questionnaire_id"`
	Text            LocalizedText     `db:"text"`
	AnswerType      AnswerType        `db:"answer_type"`
	Required        bool              `db:"required"`
	DisplayOrder    int               `db:"display_order"`
	Options         []*QuestionOption `db:"-"`
}

// HasOption reports whether value is one of the declared option texts.
func (q *Question) HasOption(value string) bool {
	for _, o := range q.Options {
		if o.OptionText == value {
			return true
		}
	}
	return false
}

type QuestionOption struct {
	ID           string `db:"id"`
	QuestionID   string `db:"question_id"`
	OptionText   string `db:"option_text"`
	DisplayOrder int    `db:"display_order"`
}
