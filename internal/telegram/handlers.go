package telegram

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"github.com/ykvlv/checkin-bot/internal/domain"
)

const (
	defaultBedtime   = "23:00"
	defaultWakeTime  = "07:00"
	defaultWeekStart = time.Monday
)

// ensureUser makes sure a schedule exists; if not, creates one with defaults
// and arms its reminders.
func (r *Router) ensureUser(ctx context.Context, chatID int64, lang string) (*domain.UserSchedule, error) {
	u, _, err := r.sched.Schedule(ctx, chatID)
	if u != nil {
		return u, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return nil, err
	}
	u = &domain.UserSchedule{
		UserID:          chatID,
		Bedtime:         defaultBedtime,
		WakeTime:        defaultWakeTime,
		TZ:              timezoneForLanguage(lang, r.defaultTZ),
		UseDefaultTimes: true,
		WeekStart:       defaultWeekStart,
	}
	if _, err := r.sched.SaveSchedule(ctx, u); err != nil {
		return nil, err
	}
	r.log.Info("user registered", zap.Int64("chatID", chatID), zap.String("tz", u.TZ))
	return u, nil
}

// --- Generic helpers ---

func (r *Router) answerCallback(ctx context.Context, id, text string) {
	if err := r.out.request(ctx, tgbotapi.NewCallback(id, text)); err != nil {
		r.log.Debug("answer callback failed", zap.Error(err))
	}
}

func (r *Router) sendMarkup(ctx context.Context, chatID int64, text string, markup any) {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ParseMode = tgbotapi.ModeHTML
	msg.ReplyMarkup = markup
	if err := r.out.send(ctx, msg); err != nil {
		r.log.Warn("send message failed", zap.Int64("chatID", chatID), zap.Error(err))
	}
}

// errorText maps core errors to something a user can act on.
func errorText(err error) string {
	switch {
	case errors.Is(err, domain.ErrAlreadyFinalized):
		return msgFinalized
	case errors.Is(err, domain.ErrRemindLimitReached):
		return msgRemindLimit
	case errors.Is(err, domain.ErrUnknownTZ):
		return msgInvalidTZ
	case errors.Is(err, domain.ErrSleepRange):
		return msgInvalidSleep
	case errors.Is(err, domain.ErrInvalidClock), errors.Is(err, domain.ErrEmptyClock):
		return msgInvalidTime
	case errors.Is(err, domain.ErrNotFound):
		return msgNoCheckin
	}
	return msgGenericError
}

func isUserError(err error) bool {
	return errorText(err) != msgGenericError
}

func (r *Router) replyError(ctx context.Context, chatID int64, op string, err error) {
	if isUserError(err) {
		r.log.Info(op+" rejected", zap.Int64("chatID", chatID), zap.Error(err))
	} else {
		r.log.Error(op+" failed", zap.Int64("chatID", chatID), zap.Error(err))
	}
	r.out.sendText(ctx, chatID, errorText(err))
}

// --- Core commands ---

func (r *Router) handleStart(ctx context.Context, chatID int64, lang string) {
	if _, err := r.ensureUser(ctx, chatID, lang); err != nil {
		r.replyError(ctx, chatID, "ensureUser", err)
		return
	}
	r.sendMarkup(ctx, chatID, startText, mainMenuKeyboard())
	r.handleStatus(ctx, chatID)
}

func (r *Router) handleStatus(ctx context.Context, chatID int64) {
	if _, err := r.ensureUser(ctx, chatID, ""); err != nil {
		r.replyError(ctx, chatID, "ensureUser", err)
		return
	}
	u, times, err := r.sched.Schedule(ctx, chatID)
	if err != nil {
		r.replyError(ctx, chatID, "read schedule", err)
		return
	}
	r.sendMarkup(ctx, chatID, statusText(u, times), mainMenuKeyboard())
}

func (r *Router) handleSettings(ctx context.Context, chatID int64) {
	if _, err := r.ensureUser(ctx, chatID, ""); err != nil {
		r.replyError(ctx, chatID, "ensureUser", err)
		return
	}
	r.sendMarkup(ctx, chatID, "What do you want to configure?", settingsInlineKeyboard())
}

func (r *Router) handleWeek(ctx context.Context, chatID int64) {
	if _, err := r.ensureUser(ctx, chatID, ""); err != nil {
		r.replyError(ctx, chatID, "ensureUser", err)
		return
	}
	w, err := r.stats.Week(ctx, chatID, r.now())
	if err != nil {
		r.replyError(ctx, chatID, "weekly stats", err)
		return
	}
	r.sendMarkup(ctx, chatID, weekText(w), nil)
}

func (r *Router) handleJobs(ctx context.Context, chatID int64) {
	u, err := r.ensureUser(ctx, chatID, "")
	if err != nil {
		r.replyError(ctx, chatID, "ensureUser", err)
		return
	}
	slotTimers, retries := r.sched.ActiveTimers(chatID)
	r.out.sendText(ctx, chatID, jobsText(u.TZ, slotTimers, retries))
}

func (r *Router) handleReloadSchedule(ctx context.Context, chatID int64) {
	u, err := r.ensureUser(ctx, chatID, "")
	if err != nil {
		r.replyError(ctx, chatID, "ensureUser", err)
		return
	}
	occs, err := r.sched.ForceReschedule(ctx, chatID)
	if err != nil {
		r.replyError(ctx, chatID, "reschedule", err)
		return
	}
	r.out.sendText(ctx, chatID, rescheduledText(u.TZ, occs))
}

func (r *Router) handleDelete(ctx context.Context, chatID int64) {
	r.sendMarkup(ctx, chatID, msgDeleteConfirm, deleteKeyboard())
}

func (r *Router) handleDeleteCallback(ctx context.Context, chatID int64, confirmed bool, cbID string) {
	r.answerCallback(ctx, cbID, "")
	if !confirmed {
		r.out.sendText(ctx, chatID, msgDeleteKept)
		return
	}
	if err := r.sched.DeleteUser(ctx, chatID); err != nil {
		r.replyError(ctx, chatID, "delete user", err)
		return
	}
	r.clearSession(chatID)
	r.sendMarkup(ctx, chatID, msgDeleted, tgbotapi.NewRemoveKeyboard(true))
}

// --- Check-in flow ---

func (r *Router) handleTrigger(ctx context.Context, chatID int64, slot domain.Slot) {
	if _, err := r.ensureUser(ctx, chatID, ""); err != nil {
		r.replyError(ctx, chatID, "ensureUser", err)
		return
	}
	inst, err := r.sched.TriggerCheckin(ctx, chatID, slot)
	if err != nil {
		r.replyError(ctx, chatID, "trigger check-in", err)
		return
	}
	r.startConversation(ctx, chatID, inst.Key)
}

func (r *Router) startConversation(ctx context.Context, chatID int64, key domain.InstanceKey) {
	c := newConversation(key)
	r.setConversation(chatID, c)
	r.askQuestion(ctx, chatID, c)
}

func (r *Router) askQuestion(ctx context.Context, chatID int64, c conversation) {
	q, step, total, ok := c.question()
	if !ok {
		return
	}
	r.sendMarkup(ctx, chatID, questionText(q, step, total), ratingKeyboard())
}

func (r *Router) handleCheckinCallback(ctx context.Context, chatID int64, data, cbID string) {
	r.answerCallback(ctx, cbID, "")
	action, key, err := parseCheckinData(data)
	if err != nil {
		r.log.Warn("bad check-in callback", zap.String("data", data), zap.Error(err))
		return
	}
	key.UserID = chatID

	switch action {
	case actionStart:
		inst, err := r.sched.Checkin(ctx, key)
		if err != nil {
			r.replyError(ctx, chatID, "load check-in", err)
			return
		}
		if inst.State.Terminal() {
			r.out.sendText(ctx, chatID, msgFinalized)
			return
		}
		r.startConversation(ctx, chatID, key)

	case actionLater:
		inst, err := r.sched.RecordRemindLater(ctx, key)
		if err != nil {
			r.replyError(ctx, chatID, "remind later", err)
			return
		}
		when := "soon"
		if inst.RetryAt != nil {
			if d := inst.RetryAt.Sub(r.now()).Round(time.Minute); d >= time.Minute {
				when = "in " + humanDuration(d)
			}
		}
		r.out.sendText(ctx, chatID, fmt.Sprintf("⏰ OK, I will remind you %s.", when))

	case actionSkip:
		if _, err := r.sched.RecordSkip(ctx, key); err != nil {
			r.replyError(ctx, chatID, "skip check-in", err)
			return
		}
		if c, ok := r.conversation(chatID); ok && c.key == key {
			r.clearConversation(chatID)
		}
		r.out.sendText(ctx, chatID, "⏭ Skipped. See you at the next check-in!")
	}
}

func (r *Router) handleRatingCallback(ctx context.Context, chatID int64, data, cbID string) {
	r.answerCallback(ctx, cbID, "")
	v, err := parseRatingData(data)
	if err != nil {
		r.log.Warn("bad rating callback", zap.String("data", data), zap.Error(err))
		return
	}
	c, ok := r.conversation(chatID)
	if !ok {
		r.out.sendText(ctx, chatID, "No check-in in progress. Use /morning, /midday or /evening to start one.")
		return
	}
	next, done, err := c.answer(v)
	if err != nil {
		r.log.Warn("rating rejected", zap.Int64("chatID", chatID), zap.Error(err))
		r.out.sendText(ctx, chatID, msgUseButtons)
		return
	}
	if !done {
		r.setConversation(chatID, next)
		r.askQuestion(ctx, chatID, next)
		return
	}

	r.clearConversation(chatID)
	inst, err := r.sched.RecordAnswer(ctx, next.key, next.answers)
	if err != nil {
		r.replyError(ctx, chatID, "record answer", err)
		return
	}
	r.out.sendText(ctx, chatID, completedText(inst))
}

// --- Settings flows ---

// updateSchedule applies mutate to a copy of the stored schedule, saves it and
// shows the resulting reminder times.
func (r *Router) updateSchedule(ctx context.Context, chatID int64, mutate func(u *domain.UserSchedule)) {
	u, err := r.ensureUser(ctx, chatID, "")
	if err != nil {
		r.replyError(ctx, chatID, "ensureUser", err)
		return
	}
	next := *u
	next.Overrides = maps.Clone(u.Overrides)
	mutate(&next)
	if _, err := r.sched.SaveSchedule(ctx, &next); err != nil {
		r.replyError(ctx, chatID, "save schedule", err)
		return
	}
	r.handleStatus(ctx, chatID)
}

func (r *Router) askClock(ctx context.Context, chatID int64, cbID, pending, prompt string) {
	r.answerCallback(ctx, cbID, "")
	r.out.sendText(ctx, chatID, prompt)
	r.setPending(chatID, pending)
}

func (r *Router) askTZPresets(ctx context.Context, chatID int64, cbID string) {
	r.answerCallback(ctx, cbID, "")
	r.sendMarkup(ctx, chatID, "Choose a timezone or enter your own (Region/City):", tzPresetsKeyboard())
}

func (r *Router) handleTZCallback(ctx context.Context, chatID int64, data, cbID string) {
	r.answerCallback(ctx, cbID, "")
	if data == "tz:custom" {
		r.sendMarkup(ctx, chatID, "Enter your timezone (e.g., <code>Europe/Kyiv</code>):", nil)
		r.setPending(chatID, pendingTZ)
		return
	}
	r.updateTZ(ctx, chatID, strings.TrimPrefix(data, prefixTZ))
}

func (r *Router) updateTZ(ctx context.Context, chatID int64, text string) {
	tz, err := domain.ValidateTZ(text)
	if err != nil {
		r.out.sendText(ctx, chatID, msgInvalidTZ)
		return
	}
	r.updateSchedule(ctx, chatID, func(u *domain.UserSchedule) { u.TZ = tz })
}

func (r *Router) askTimes(ctx context.Context, chatID int64, cbID string) {
	r.answerCallback(ctx, cbID, "")
	r.sendMarkup(ctx, chatID, "How should reminder times be chosen?", timesKeyboard())
}

func (r *Router) handleTimesCallback(ctx context.Context, chatID int64, data, cbID string) {
	r.answerCallback(ctx, cbID, "")
	if data == cbTimesCustom {
		r.out.sendText(ctx, chatID, "Send morning, midday and evening times, e.g.: 08:00 13:00 21:00")
		r.setPending(chatID, pendingTimes)
		return
	}
	r.updateSchedule(ctx, chatID, func(u *domain.UserSchedule) { u.UseDefaultTimes = true })
}

func (r *Router) askWeekStart(ctx context.Context, chatID int64, cbID string) {
	r.answerCallback(ctx, cbID, "")
	r.sendMarkup(ctx, chatID, "Which day does your week start on?", weekStartKeyboard())
}

func (r *Router) handleWeekStartCallback(ctx context.Context, chatID int64, data, cbID string) {
	r.answerCallback(ctx, cbID, "")
	d, err := parseWeekStartData(data)
	if err != nil {
		r.log.Warn("bad week callback", zap.String("data", data), zap.Error(err))
		return
	}
	r.updateSchedule(ctx, chatID, func(u *domain.UserSchedule) { u.WeekStart = d })
}

// --- Free-form dispatcher (for all "Custom" inputs) ---

func (r *Router) handleFreeForm(ctx context.Context, chatID int64, text string) {
	switch r.getPending(chatID) {
	case pendingBedtime, pendingWake:
		pending := r.getPending(chatID)
		r.clearPending(chatID)
		v, err := domain.NormalizeClock(text)
		if err != nil {
			r.out.sendText(ctx, chatID, msgInvalidTime)
			return
		}
		r.updateSchedule(ctx, chatID, func(u *domain.UserSchedule) {
			if pending == pendingBedtime {
				u.Bedtime = v
			} else {
				u.WakeTime = v
			}
		})

	case pendingTZ:
		r.clearPending(chatID)
		r.updateTZ(ctx, chatID, text)

	case pendingTimes:
		r.clearPending(chatID)
		times, err := domain.ParseDailyTimes(text)
		if err != nil {
			r.out.sendText(ctx, chatID, msgInvalidTimes)
			return
		}
		r.updateSchedule(ctx, chatID, func(u *domain.UserSchedule) {
			u.UseDefaultTimes = false
			u.Overrides = times
		})

	default:
		if _, ok := r.conversation(chatID); ok {
			r.out.sendText(ctx, chatID, msgUseButtons)
		}
		// No pending flow: ignore free-form message
	}
}
