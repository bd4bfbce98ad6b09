package validation

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/templui/formpipe/internal/apperror"
	"github.com/templui/formpipe/internal/model"
)

const (
	MaxShortTextLength = 500
	MaxLongTextLength  = 5000
)

// ValidateResponses checks responses against the questionnaire and returns the
// answers to persist, in question order. Every violation is collected into a
// single validation error. Free text is sanitized before it is returned.
// Empty optional answers are dropped. A question with an answer type this
// build does not know is a schema error and yields an internal error.
func ValidateResponses(q *model.Questionnaire, responses []model.Response) ([]*model.Answer, error) {
	byQuestion := make(map[string]model.AnswerValue, len(responses))
	var fields []apperror.FieldError

	known := make(map[string]bool, len(q.Questions))
	for _, question := range q.Questions {
		known[question.ID] = true
	}

	for _, r := range responses {
		if !known[r.QuestionID] {
			fields = append(fields, apperror.FieldError{Field: r.QuestionID, Message: "unknown question"})
			continue
		}
		if _, dup := byQuestion[r.QuestionID]; dup {
			fields = append(fields, apperror.FieldError{Field: r.QuestionID, Message: "answered more than once"})
			continue
		}
		byQuestion[r.QuestionID] = r.Value
	}

	var answers []*model.Answer
	for _, question := range q.Questions {
		value, ok := byQuestion[question.ID]
		if !ok {
			value = model.AnswerValue{Kind: model.AnswerKindEmpty}
		}

		clean, msg, err := validateAnswer(question, value)
		if err != nil {
			return nil, apperror.Internal(err)
		}
		if msg != "" {
			fields = append(fields, apperror.FieldError{Field: question.ID, Message: msg})
			continue
		}
		if clean.Kind == model.AnswerKindEmpty {
			continue
		}
		answers = append(answers, &model.Answer{QuestionID: question.ID, AnswerValue: clean})
	}

	if len(fields) > 0 {
		return nil, apperror.Validation("Some answers are missing or invalid", fields...)
	}
	return answers, nil
}

// validateAnswer returns the cleaned value, or a client-facing message when the
// value is unacceptable. err is only set for schema problems.
func validateAnswer(question *model.Question, value model.AnswerValue) (model.AnswerValue, string, error) {
	want, ok := question.AnswerType.ValueKind()
	if !ok {
		return model.AnswerValue{}, "", fmt.Errorf("question %s: unknown answer type %q", question.ID, question.AnswerType)
	}

	switch value.Kind {
	case model.AnswerKindEmpty:
		return emptyAnswer(question)

	case model.AnswerKindText:
		if want != model.AnswerKindText {
			return model.AnswerValue{}, "expected a list of options", nil
		}
		text := strings.TrimSpace(value.Text)
		if question.AnswerType != model.AnswerTypeSingleChoice {
			text = SanitizeText(text)
		}
		if text == "" {
			return emptyAnswer(question)
		}
		return checkText(question, text)

	case model.AnswerKindChoices:
		if want != model.AnswerKindChoices {
			return model.AnswerValue{}, "expected a single value", nil
		}
		if len(value.Choices) == 0 {
			return emptyAnswer(question)
		}
		return checkChoices(question, value.Choices)

	case model.AnswerKindInvalid:
		return model.AnswerValue{}, "must be a string or a list of strings", nil
	}

	return model.AnswerValue{}, "", fmt.Errorf("question %s: unhandled answer kind %s", question.ID, value.Kind)
}

func emptyAnswer(question *model.Question) (model.AnswerValue, string, error) {
	if question.Required {
		return model.AnswerValue{}, "required", nil
	}
	return model.AnswerValue{Kind: model.AnswerKindEmpty}, "", nil
}

func checkText(question *model.Question, text string) (model.AnswerValue, string, error) {
	switch question.AnswerType {
	case model.AnswerTypeShortText:
		if utf8.RuneCountInString(text) > MaxShortTextLength {
			return model.AnswerValue{}, fmt.Sprintf("must be at most %d characters", MaxShortTextLength), nil
		}
	case model.AnswerTypeLongText:
		if utf8.RuneCountInString(text) > MaxLongTextLength {
			return model.AnswerValue{}, fmt.Sprintf("must be at most %d characters", MaxLongTextLength), nil
		}
	case model.AnswerTypeSingleChoice:
		if !question.HasOption(text) {
			return model.AnswerValue{}, "not one of the available options", nil
		}
	}
	return model.TextAnswer(text), "", nil
}

func checkChoices(question *model.Question, choices []string) (model.AnswerValue, string, error) {
	seen := make(map[string]bool, len(choices))
	for _, c := range choices {
		if !question.HasOption(c) {
			return model.AnswerValue{}, fmt.Sprintf("%q is not one of the available options", c), nil
		}
		if seen[c] {
			return model.AnswerValue{}, fmt.Sprintf("%q selected more than once", c), nil
		}
		seen[c] = true
	}
	return model.ChoicesAnswer(choices...), "", nil
}
