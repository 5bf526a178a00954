package models

import "testing"

func intPtr(v int) *int { return &v }

func TestAnswerPayloadValidate(t *testing.T) {
	tests := []struct {
		name    string
		payload AnswerPayload
		wantErr bool
	}{
		{"single ok", AnswerPayload{Kind: AnswerSingle, Selected: intPtr(2)}, false},
		{"single missing selected", AnswerPayload{Kind: AnswerSingle}, true},
		{"single negative", AnswerPayload{Kind: AnswerSingle, Selected: intPtr(-1)}, true},
		{"multi ok", AnswerPayload{Kind: AnswerMulti, SelectedOptions: []int{0, 2}}, false},
		{"multi empty", AnswerPayload{Kind: AnswerMulti}, true},
		{"multi empty set", AnswerPayload{Kind: AnswerMulti, SelectedOptions: []int{}}, true},
		{"multi duplicate", AnswerPayload{Kind: AnswerMulti, SelectedOptions: []int{1, 1}}, true},
		{"multi negative", AnswerPayload{Kind: AnswerMulti, SelectedOptions: []int{0, -2}}, true},
		{"text ok", AnswerPayload{Kind: AnswerText, Text: "an essay"}, false},
		{"text empty", AnswerPayload{Kind: AnswerText}, true},
		{"code ok", AnswerPayload{Kind: AnswerCode, Code: &CodeAnswer{Language: "go", Body: "package main"}}, false},
		{"code missing body", AnswerPayload{Kind: AnswerCode, Code: &CodeAnswer{Language: "go"}}, true},
		{"unknown kind", AnswerPayload{Kind: "essay"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.payload.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestAnswerPayloadMatchesQuestion(t *testing.T) {
	tests := []struct {
		kind  AnswerKind
		qtype QuestionType
		want  bool
	}{
		{AnswerSingle, QuestionSingleChoice, true},
		{AnswerSingle, QuestionMultiChoice, false},
		{AnswerMulti, QuestionMultiChoice, true},
		{AnswerText, QuestionText, true},
		{AnswerText, QuestionCode, false},
		{AnswerCode, QuestionCode, true},
		{AnswerCode, QuestionSingleChoice, false},
	}

	for _, tt := range tests {
		p := AnswerPayload{Kind: tt.kind}
		if got := p.MatchesQuestion(tt.qtype); got != tt.want {
			t.Errorf("MatchesQuestion(%s, %s) = %v, want %v", tt.kind, tt.qtype, got, tt.want)
		}
	}
}
