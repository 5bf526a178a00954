package services

import (
	"math/rand"
	"sort"

	"github.com/classmark/attempt-service/internal/models"
)

// buildQuestionOrder freezes the question sequence for a new attempt. The
// full bank is shuffled first, then truncated, so max_questions samples a
// random subset rather than a prefix of the authoring order.
func buildQuestionOrder(questions []models.Question, policy models.AttemptPolicy, seed int64) []string {
	ordered := make([]models.Question, len(questions))
	copy(ordered, questions)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Position < ordered[j].Position
	})

	ids := make([]string, len(ordered))
	for i, q := range ordered {
		ids[i] = q.ID
	}

	if policy.ShuffleQuestions {
		rng := rand.New(rand.NewSource(seed))
		rng.Shuffle(len(ids), func(i, j int) {
			ids[i], ids[j] = ids[j], ids[i]
		})
	}

	if policy.MaxQuestions > 0 && policy.MaxQuestions < len(ids) {
		ids = ids[:policy.MaxQuestions]
	}
	return ids
}

// shuffleOptions reorders a copy of the options for display. Each question
// gets its own deterministic permutation derived from the attempt seed and
// the question's position in the frozen order, so re-serving the same
// question shows the same layout. Option.Index is untouched.
func shuffleOptions(opts []models.Option, seed int64, orderPosition int) []models.Option {
	shuffled := make([]models.Option, len(opts))
	copy(shuffled, opts)
	rng := rand.New(rand.NewSource(seed ^ int64(orderPosition+1)))
	rng.Shuffle(len(shuffled), func(i, j int) {
		shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
	})
	return shuffled
}

// scoreAnswer grades a normalized payload against the question. Choice
// questions score immediately; text and code return nil score and count as
// pending until a grader reviews them.
func scoreAnswer(question *models.Question, payload *models.AnswerPayload) (score *float64, isCorrect *bool, pending bool, err error) {
	if !question.AutoGradable() {
		return nil, nil, true, nil
	}

	key, err := question.DecodeAnswerKey()
	if err != nil {
		return nil, nil, false, err
	}

	correct := false
	switch question.Type {
	case models.QuestionSingleChoice:
		correct = key != nil && key.Selected != nil &&
			payload.Selected != nil && *payload.Selected == *key.Selected
	case models.QuestionMultiChoice:
		correct = key != nil && indexSetsEqual(payload.SelectedOptions, key.SelectedOptions)
	}

	s := 0.0
	if correct {
		s = question.Weight
	}
	return &s, &correct, false, nil
}

// indexSetsEqual compares two option index sets ignoring order. Multi-choice
// answers earn the full weight only on an exact match; there is no partial
// credit.
func indexSetsEqual(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	seen := make(map[int]struct{}, len(a))
	for _, idx := range a {
		seen[idx] = struct{}{}
	}
	if len(seen) != len(b) {
		return false
	}
	for _, idx := range b {
		if _, ok := seen[idx]; !ok {
			return false
		}
	}
	return true
}

// validateSelection checks that every referenced option index exists in the
// question's bank.
func validateSelection(question *models.Question, payload *models.AnswerPayload) error {
	opts, err := question.DecodeOptions()
	if err != nil {
		return err
	}
	valid := make(map[int]struct{}, len(opts))
	for _, o := range opts {
		valid[o.Index] = struct{}{}
	}

	if payload.Selected != nil {
		if _, ok := valid[*payload.Selected]; !ok {
			return ErrInvalidAnswerPayload
		}
	}
	for _, idx := range payload.SelectedOptions {
		if _, ok := valid[idx]; !ok {
			return ErrInvalidAnswerPayload
		}
	}
	return nil
}
