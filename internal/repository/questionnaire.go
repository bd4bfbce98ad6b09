package repository

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jmoiron/sqlx"
	"github.com/templui/formpipe/internal/model"
)

var (
	ErrQuestionnaireNotFound = errors.New("questionnaire not found")
)

type QuestionnaireRepository interface {
	ByID(ctx context.Context, id string) (*model.Questionnaire, error)
}

type questionnaireRepository struct {
	db *sqlx.DB
}

func NewQuestionnaireRepository(db *sqlx.DB) QuestionnaireRepository {
	return &questionnaireRepository{db: db}
}

// ByID loads a questionnaire with its questions and their options, all in display order.
func (r *questionnaireRepository) ByID(ctx context.Context, id string) (*model.Questionnaire, error) {
	q := &model.Questionnaire{}
	err := r.db.GetContext(ctx, q, `SELECT id, kind, title FROM questionnaires WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrQuestionnaireNotFound
	}
	if err != nil {
		return nil, err
	}

	var questions []*model.Question
	err = r.db.SelectContext(ctx, &questions, `
		SELECT id, questionnaire_id, text, answer_type, required, display_order
		FROM questions
		WHERE questionnaire_id = $1
		ORDER BY display_order ASC`, id)
	if err != nil {
		return nil, err
	}

	var options []*model.QuestionOption
	err = r.db.SelectContext(ctx, &options, `
		SELECT o.id, o.question_id, o.option_text, o.display_order
		FROM question_options o
		JOIN questions q ON q.id = o.question_id
		WHERE q.questionnaire_id = $1
		ORDER BY o.display_order ASC`, id)
	if err != nil {
		return nil, err
	}

	byQuestion := make(map[string]*model.Question, len(questions))
	for _, question := range questions {
		byQuestion[question.ID] = question
	}
	for _, o := range options {
		if question, ok := byQuestion[o.QuestionID]; ok {
			question.Options = append(question.Options, o)
		}
	}

	q.Questions = questions
	return q, nil
}
