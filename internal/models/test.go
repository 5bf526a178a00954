package models

import (
	"encoding/json"
	"time"

	"gorm.io/datatypes"
)

type QuestionType string

const (
	QuestionSingleChoice QuestionType = "single"
	QuestionMultiChoice  QuestionType = "multi"
	QuestionText         QuestionType = "text"
	QuestionCode         QuestionType = "code"
)

// Test is the question bank an assignment is instantiated from.
type Test struct {
	ID          string  `json:"id" gorm:"primaryKey;size:36"`
	Title       string  `json:"title" gorm:"not null;size:200" validate:"required,min=1,max=200"`
	Description *string `json:"description" gorm:"type:text" validate:"omitempty,max=2000"`
	CreatedBy   string  `json:"created_by" gorm:"not null;index;size:255"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	// Relations
	Questions []Question `json:"questions" gorm:"foreignKey:TestID"`
}

type Question struct {
	ID       string       `json:"id" gorm:"primaryKey;size:36"`
	TestID   string       `json:"test_id" gorm:"not null;index;size:36"`
	Type     QuestionType `json:"type" gorm:"not null;size:16" validate:"required,oneof=single multi text code"`
	Text     string       `json:"text" gorm:"not null;type:text" validate:"required,min=1,max=4000"`
	ImageURL *string      `json:"image_url" gorm:"size:512"`
	Weight   float64      `json:"weight" gorm:"not null;default:1" validate:"min=0,max=1000"`
	Position int          `json:"position" gorm:"not null;default:0"`

	// Options holds []Option for choice questions (jsonb).
	Options datatypes.JSON `json:"options" gorm:"type:jsonb"`

	// AnswerKey holds the correct selection for choice questions (jsonb).
	// It is never serialized into participant-facing views.
	AnswerKey datatypes.JSON `json:"-" gorm:"type:jsonb"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Option is one choice of a single/multi question. Index is the stable bank
// position; answers reference this index regardless of display shuffling.
type Option struct {
	Index    int     `json:"index"`
	Text     string  `json:"text"`
	ImageURL *string `json:"image_url,omitempty"`
}

// AnswerKey is the stored correct answer for auto-graded question types.
type AnswerKey struct {
	Selected        *int  `json:"selected,omitempty"`
	SelectedOptions []int `json:"selected_options,omitempty"`
}

func (q *Question) DecodeOptions() ([]Option, error) {
	if len(q.Options) == 0 {
		return nil, nil
	}
	var opts []Option
	if err := json.Unmarshal(q.Options, &opts); err != nil {
		return nil, err
	}
	return opts, nil
}

func (q *Question) DecodeAnswerKey() (*AnswerKey, error) {
	if len(q.AnswerKey) == 0 {
		return nil, nil
	}
	var key AnswerKey
	if err := json.Unmarshal(q.AnswerKey, &key); err != nil {
		return nil, err
	}
	return &key, nil
}

// AutoGradable reports whether the question type is scored by the server
// without manual review.
func (q *Question) AutoGradable() bool {
	return q.Type == QuestionSingleChoice || q.Type == QuestionMultiChoice
}

func (Test) TableName() string {
	return "tests"
}

func (Question) TableName() string {
	return "questions"
}
