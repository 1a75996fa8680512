package telegram

import (
	"fmt"
	"maps"

	"github.com/ykvlv/checkin-bot/internal/domain"
)

// conversation walks the user through the questions of one check-in.
// Values are immutable; answer returns the next step.
type conversation struct {
	key     domain.InstanceKey
	step    int
	answers map[string]int
}

func newConversation(key domain.InstanceKey) conversation {
	return conversation{key: key, answers: map[string]int{}}
}

// question returns the current question and its position.
func (c conversation) question() (domain.Question, int, int, bool) {
	qs := domain.Questions(c.key.Slot)
	if c.step >= len(qs) {
		return domain.Question{}, c.step, len(qs), false
	}
	return qs[c.step], c.step, len(qs), true
}

// answer records a rating for the current question. done reports that every
// question is answered.
func (c conversation) answer(v int) (next conversation, done bool, err error) {
	q, _, total, ok := c.question()
	if !ok {
		return c, true, fmt.Errorf("check-in %s has no open question", c.key)
	}
	if v < domain.MinRating || v > domain.MaxRating {
		return c, false, fmt.Errorf("rating %d out of range %d..%d", v, domain.MinRating, domain.MaxRating)
	}
	next = c
	next.answers = maps.Clone(c.answers)
	if next.answers == nil {
		next.answers = make(map[string]int, total)
	}
	next.answers[q.Field] = v
	next.step++
	return next, next.step >= total, nil
}
