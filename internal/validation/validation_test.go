package validation

import (
	"bytes"
	"encoding/json"
	"io"
	"reflect"
	"strings"
	"testing"

	"github.com/templui/formpipe/internal/apperror"
	"github.com/templui/formpipe/internal/model"
)

func surveyQuestionnaire() *model.Questionnaire {
	opts := func(questionID string, values ...string) []*model.QuestionOption {
		var out []*model.QuestionOption
		for i, v := range values {
			out = append(out, &model.QuestionOption{ID: questionID + "-" + v, QuestionID: questionID, OptionText: v, DisplayOrder: i})
		}
		return out
	}
	return &model.Questionnaire{
		ID:   "satisfaction",
		Kind: model.QuestionnaireKindSurvey,
		Questions: []*model.Question{
			{ID: "name", AnswerType: model.AnswerTypeShortText, Required: true, DisplayOrder: 1},
			{ID: "overall", AnswerType: model.AnswerTypeSingleChoice, Required: true, DisplayOrder: 2, Options: opts("overall", "good", "bad")},
			{ID: "liked", AnswerType: model.AnswerTypeMultipleChoice, Required: true, DisplayOrder: 3, Options: opts("liked", "a", "b", "c")},
			{ID: "steps", AnswerType: model.AnswerTypeChecklist, Required: false, DisplayOrder: 4, Options: opts("steps", "x", "y")},
			{ID: "comment", AnswerType: model.AnswerTypeLongText, Required: false, DisplayOrder: 5},
		},
	}
}

func decodeResponses(t *testing.T, raw string) []model.Response {
	t.Helper()
	var responses []model.Response
	if err := json.Unmarshal([]byte(raw), &responses); err != nil {
		t.Fatalf("decode responses: %v", err)
	}
	return responses
}

func fieldSet(t *testing.T, err error) map[string]string {
	t.Helper()
	if !apperror.Is(err, apperror.KindValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	out := map[string]string{}
	for _, f := range apperror.From(err).Fields {
		out[f.Field] = f.Message
	}
	return out
}

func TestValidateResponsesAcceptsCompleteSet(t *testing.T) {
	responses := decodeResponses(t, `[
		{"question_id":"name","value":"  Ada  "},
		{"question_id":"overall","value":"good"},
		{"question_id":"liked","value":["b","a"]},
		{"question_id":"comment","value":"Great <b>work</b> & thanks"}
	]`)

	answers, err := ValidateResponses(surveyQuestionnaire(), responses)
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if len(answers) != 4 {
		t.Fatalf("got %d answers", len(answers))
	}

	if answers[0].QuestionID != "name" || answers[0].AnswerValue.Text != "Ada" {
		t.Errorf("name = %+v", answers[0])
	}
	if !reflect.DeepEqual(answers[2].AnswerValue.Choices, []string{"b", "a"}) {
		t.Errorf("liked = %v", answers[2].AnswerValue.Choices)
	}
	if got := answers[3].AnswerValue.Text; got != "Great work & thanks" {
		t.Errorf("comment = %q", got)
	}
}

func TestValidateResponsesCollectsAllViolations(t *testing.T) {
	responses := decodeResponses(t, `[
		{"question_id":"name","value":"   "},
		{"question_id":"overall","value":"meh"},
		{"question_id":"steps","value":["x","z"]},
		{"question_id":"ghost","value":"boo"}
	]`)

	_, err := ValidateResponses(surveyQuestionnaire(), responses)
	fields := fieldSet(t, err)

	for _, id := range []string{"name", "overall", "liked", "steps", "ghost"} {
		if _, ok := fields[id]; !ok {
			t.Errorf("missing violation for %s (got %v)", id, fields)
		}
	}
	if fields["liked"] != "required" {
		t.Errorf("liked message = %q", fields["liked"])
	}
	if _, ok := fields["comment"]; ok {
		t.Error("optional omitted question must not be flagged")
	}
}

func TestValidateResponsesShapeMismatch(t *testing.T) {
	responses := decodeResponses(t, `[
		{"question_id":"name","value":["Ada"]},
		{"question_id":"overall","value":"good"},
		{"question_id":"liked","value":"a"},
		{"question_id":"comment","value":42}
	]`)

	_, err := ValidateResponses(surveyQuestionnaire(), responses)
	fields := fieldSet(t, err)
	if len(fields) != 3 {
		t.Fatalf("fields = %v", fields)
	}
}

func TestValidateResponsesDropsEmptyOptional(t *testing.T) {
	responses := decodeResponses(t, `[
		{"question_id":"name","value":"Ada"},
		{"question_id":"overall","value":"bad"},
		{"question_id":"liked","value":["c"]},
		{"question_id":"steps","value":[]},
		{"question_id":"comment","value":null}
	]`)

	answers, err := ValidateResponses(surveyQuestionnaire(), responses)
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if len(answers) != 3 {
		t.Fatalf("got %d answers, want 3", len(answers))
	}
}

func TestValidateResponsesLengthLimits(t *testing.T) {
	q := surveyQuestionnaire()
	responses := []model.Response{
		{QuestionID: "name", Value: model.TextAnswer(strings.Repeat("é", MaxShortTextLength+1))},
		{QuestionID: "overall", Value: model.TextAnswer("good")},
		{QuestionID: "liked", Value: model.ChoicesAnswer("a")},
		{QuestionID: "comment", Value: model.TextAnswer(strings.Repeat("x", MaxLongTextLength))},
	}

	_, err := ValidateResponses(q, responses)
	fields := fieldSet(t, err)
	if _, ok := fields["name"]; !ok || len(fields) != 1 {
		t.Fatalf("fields = %v", fields)
	}
}

func TestValidateResponsesDuplicateChoiceAndQuestion(t *testing.T) {
	responses := decodeResponses(t, `[
		{"question_id":"name","value":"Ada"},
		{"question_id":"name","value":"Bob"},
		{"question_id":"overall","value":"good"},
		{"question_id":"liked","value":["a","a"]}
	]`)

	_, err := ValidateResponses(surveyQuestionnaire(), responses)
	fields := fieldSet(t, err)
	if _, ok := fields["liked"]; !ok {
		t.Errorf("duplicate choice not flagged: %v", fields)
	}
	if fields["name"] != "answered more than once" {
		t.Errorf("duplicate question not flagged: %v", fields)
	}
}

func TestValidateResponsesUnknownAnswerTypeIsInternal(t *testing.T) {
	q := &model.Questionnaire{Questions: []*model.Question{{ID: "rating", AnswerType: "rating"}}}

	_, err := ValidateResponses(q, nil)
	if !apperror.Is(err, apperror.KindInternal) {
		t.Fatalf("err = %v, want internal", err)
	}
}

func TestSanitizeText(t *testing.T) {
	cases := map[string]string{
		"<script>alert(1)</script>hi": "hi",
		"  plain  ":                   "plain",
		`Tom & "Jerry"`:               `Tom & "Jerry"`,
		"<a href='x'>link</a>":        "link",
	}
	for in, want := range cases {
		if got := SanitizeText(in); got != want {
			t.Errorf("SanitizeText(%q) = %q, want %q", in, got, want)
		}
	}
}

var pngHeader = []byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n', 0, 0, 0, 0x0d, 'I', 'H', 'D', 'R'}

func TestValidateFile(t *testing.T) {
	png := bytes.NewReader(append(append([]byte{}, pngHeader...), make([]byte, 64)...))

	mime, err := ValidateFile(png, "shot.PNG", ImageConstraints, DocumentConstraints)
	if err != nil {
		t.Fatalf("png: %v", err)
	}
	if mime != "image/png" {
		t.Fatalf("mime = %s", mime)
	}
	if pos, _ := png.Seek(0, io.SeekCurrent); pos != 0 {
		t.Fatalf("reader not rewound: %d", pos)
	}

	pdf := bytes.NewReader([]byte("%PDF-1.7\n1 0 obj\n"))
	if _, err := ValidateFile(pdf, "brief.pdf", ImageConstraints, DocumentConstraints); err != nil {
		t.Fatalf("pdf: %v", err)
	}
}

func TestValidateFileRejects(t *testing.T) {
	cases := map[string]struct {
		content []byte
		name    string
	}{
		"spoofed extension": {[]byte("#!/bin/sh\necho hi\n"), "run.png"},
		"wrong extension":   {append([]byte{}, pngHeader...), "shot.pdf"},
		"html":              {[]byte("<html><body>x</body></html>"), "page.html"},
	}
	for name, c := range cases {
		if _, err := ValidateFile(bytes.NewReader(c.content), c.name, ImageConstraints, DocumentConstraints); err == nil {
			t.Errorf("%s: expected rejection", name)
		}
	}

	if _, err := ValidateFile(bytes.NewReader(pngHeader), "x.png"); err != ErrNoConstraints {
		t.Errorf("no constraints: err = %v", err)
	}
}

func TestValidateEmail(t *testing.T) {
	if err := ValidateEmail("ada@example.com"); err != nil {
		t.Errorf("valid email rejected: %v", err)
	}
	for _, bad := range []string{
		"",
		"nope",
		"Ada <ada@example.com>",
		"ada@localhost",
		strings.Repeat("a", 65) + "@example.com",
		strings.Repeat("a", 250) + "@x.io",
	} {
		if err := ValidateEmail(bad); err == nil {
			t.Errorf("%q accepted", bad)
		}
	}
}

func TestNormalizeEmail(t *testing.T) {
	if got := NormalizeEmail("  Ada@Example.COM "); got != "ada@example.com" {
		t.Errorf("NormalizeEmail = %q", got)
	}
}
