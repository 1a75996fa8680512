package domain

import "fmt"

// Answer fields collected by the check-in flows. Ratings are 1..5.
const (
	FieldSleepQuality = "sleep_quality"
	FieldMood         = "mood"
	FieldEnergy       = "energy"
	FieldStress       = "stress"
	FieldSatisfaction = "satisfaction"
)

const (
	MinRating = 1
	MaxRating = 5
)

type Question struct {
	Field  string
	Prompt string
}

var questions = map[Slot][]Question{
	SlotMorning: {
		{FieldSleepQuality, "How was your sleep quality?"},
		{FieldMood, "How is your mood this morning?"},
		{FieldEnergy, "How much energy do you have?"},
	},
	SlotMidday: {
		{FieldMood, "How's your mood right now?"},
		{FieldEnergy, "Energy level?"},
		{FieldStress, "How stressed are you?"},
	},
	SlotEvening: {
		{FieldSatisfaction, "How satisfied are you with your day?"},
		{FieldMood, "Mood this evening?"},
		{FieldStress, "Stress level today?"},
	},
}

// Questions returns the ordered questions of a slot's check-in.
func Questions(s Slot) []Question {
	return questions[s]
}

// ValidateAnswers checks that every question of the slot has a rating in range.
func ValidateAnswers(s Slot, answers map[string]int) error {
	qs := Questions(s)
	if len(qs) == 0 {
		return fmt.Errorf("unknown slot %q", s)
	}
	for _, q := range qs {
		v, ok := answers[q.Field]
		if !ok {
			return fmt.Errorf("missing answer %q", q.Field)
		}
		if v < MinRating || v > MaxRating {
			return fmt.Errorf("answer %q=%d out of range %d..%d", q.Field, v, MinRating, MaxRating)
		}
	}
	return nil
}
