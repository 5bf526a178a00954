package models

import (
	"encoding/json"
	"time"

	"gorm.io/datatypes"
)

// Assignment is a sharable instantiation of a test. The policy is copied
// onto each attempt when it starts.
type Assignment struct {
	ID      string `json:"id" gorm:"primaryKey;size:36"`
	TestID  string `json:"test_id" gorm:"not null;index;size:36"`
	OwnerID string `json:"owner_id" gorm:"not null;index;size:255"`
	Title   string `json:"title" gorm:"not null;size:200" validate:"required,min=1,max=200"`

	// ShareToken is handed to participants, ManageToken to co-owners.
	ShareToken  string `json:"share_token" gorm:"not null;uniqueIndex;size:36"`
	ManageToken string `json:"-" gorm:"not null;uniqueIndex;size:36"`

	Policy AttemptPolicy `json:"policy" gorm:"embedded;embeddedPrefix:policy_"`

	// Fields holds []ParticipantField collected from guests at start (jsonb).
	Fields datatypes.JSON `json:"fields" gorm:"type:jsonb"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	// Relations
	Test Test `json:"test" gorm:"foreignKey:TestID"`
}

// ParticipantField is a custom form field the owner wants collected from
// each participant before the attempt starts.
type ParticipantField struct {
	Key      string `json:"key" validate:"required,min=1,max=64"`
	Label    string `json:"label" validate:"required,min=1,max=120"`
	Required bool   `json:"required"`
}

func (a *Assignment) DecodeFields() ([]ParticipantField, error) {
	if len(a.Fields) == 0 {
		return nil, nil
	}
	var fields []ParticipantField
	if err := json.Unmarshal(a.Fields, &fields); err != nil {
		return nil, err
	}
	return fields, nil
}

func (Assignment) TableName() string {
	return "assignments"
}
