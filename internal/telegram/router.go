package telegram

import (
	"context"
	"strings"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"github.com/ykvlv/checkin-bot/internal/domain"
	"github.com/ykvlv/checkin-bot/internal/stats"
	"github.com/ykvlv/checkin-bot/internal/timers"
)

// Pending state keys used in conversational flows.
const (
	pendingBedtime = "await_bedtime_text"
	pendingWake    = "await_wake_text"
	pendingTZ      = "await_tz_text"
	pendingTimes   = "await_times_text"
)

// Scheduler is what the command layer needs from the schedule coordinator.
type Scheduler interface {
	SaveSchedule(ctx context.Context, u *domain.UserSchedule) ([]domain.Occurrence, error)
	Schedule(ctx context.Context, userID int64) (*domain.UserSchedule, map[domain.Slot]string, error)
	DeleteUser(ctx context.Context, userID int64) error
	ForceReschedule(ctx context.Context, userID int64) ([]domain.Occurrence, error)
	ActiveTimers(userID int64) ([]timers.SlotTimer, []timers.RetryTimer)

	TriggerCheckin(ctx context.Context, userID int64, slot domain.Slot) (*domain.CheckinInstance, error)
	Checkin(ctx context.Context, key domain.InstanceKey) (*domain.CheckinInstance, error)
	RecordAnswer(ctx context.Context, key domain.InstanceKey, answers map[string]int) (*domain.CheckinInstance, error)
	RecordSkip(ctx context.Context, key domain.InstanceKey) (*domain.CheckinInstance, error)
	RecordRemindLater(ctx context.Context, key domain.InstanceKey) (*domain.CheckinInstance, error)
}

// WeeklyStats builds the statistics shown by /week.
type WeeklyStats interface {
	Week(ctx context.Context, userID int64, now time.Time) (stats.WeeklyStats, error)
}

// session is the in-memory, per-chat dialog state.
type session struct {
	pending string
	conv    *conversation
}

// Router wires Telegram updates to handlers and holds minimal in-memory state.
type Router struct {
	out       *Notifier
	log       *zap.Logger
	sched     Scheduler
	stats     WeeklyStats
	defaultTZ string
	now       func() time.Time

	state map[int64]*session // chatID -> dialog state
	mu    sync.RWMutex
}

// NewRouter creates a new Telegram router.
func NewRouter(out *Notifier, log *zap.Logger, sched Scheduler, st WeeklyStats, defaultTZ string) *Router {
	return &Router{
		out:       out,
		log:       log,
		sched:     sched,
		stats:     st,
		defaultTZ: defaultTZ,
		now:       time.Now,
		state:     make(map[int64]*session),
	}
}

// setPending sets a pending state for a chat (non-persistent, in-memory).
func (r *Router) setPending(chatID int64, s string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessionLocked(chatID).pending = s
}

// getPending returns current pending state for a chat.
func (r *Router) getPending(chatID int64) string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if s, ok := r.state[chatID]; ok {
		return s.pending
	}
	return ""
}

// clearPending clears a pending state for a chat.
func (r *Router) clearPending(chatID int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.state[chatID]; ok {
		s.pending = ""
		r.dropIfEmptyLocked(chatID, s)
	}
}

func (r *Router) setConversation(chatID int64, c conversation) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessionLocked(chatID).conv = &c
}

func (r *Router) conversation(chatID int64) (conversation, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if s, ok := r.state[chatID]; ok && s.conv != nil {
		return *s.conv, true
	}
	return conversation{}, false
}

func (r *Router) clearConversation(chatID int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.state[chatID]; ok {
		s.conv = nil
		r.dropIfEmptyLocked(chatID, s)
	}
}

func (r *Router) clearSession(chatID int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.state, chatID)
}

func (r *Router) sessionLocked(chatID int64) *session {
	s, ok := r.state[chatID]
	if !ok {
		s = &session{}
		r.state[chatID] = s
	}
	return s
}

func (r *Router) dropIfEmptyLocked(chatID int64, s *session) {
	if s.pending == "" && s.conv == nil {
		delete(r.state, chatID)
	}
}

// HandleUpdate routes a single update to appropriate handler.
func (r *Router) HandleUpdate(ctx context.Context, upd tgbotapi.Update) {
	// Text messages
	if upd.Message != nil {
		msg := upd.Message
		chatID := msg.Chat.ID
		lang := ""
		if msg.From != nil {
			lang = msg.From.LanguageCode
		}

		switch msg.Command() {
		case "start":
			r.handleStart(ctx, chatID, lang)
		case "help":
			r.out.sendText(ctx, chatID, helpText)
		case "status":
			r.handleStatus(ctx, chatID)
		case "settings":
			r.handleSettings(ctx, chatID)
		case "morning", "midday", "day", "evening":
			slot, _ := domain.ParseSlot(msg.Command())
			r.handleTrigger(ctx, chatID, slot)
		case "week", "weekly_report":
			r.handleWeek(ctx, chatID)
		case "jobs":
			r.handleJobs(ctx, chatID)
		case "reload_schedule":
			r.handleReloadSchedule(ctx, chatID)
		case "delete", "delete_profile":
			r.handleDelete(ctx, chatID)
		case "":
			// Free-form text used in settings flows
			r.handleFreeForm(ctx, chatID, strings.TrimSpace(msg.Text))
		default:
			r.out.sendText(ctx, chatID, helpText)
		}
		return
	}

	// Callback queries (inline buttons)
	if upd.CallbackQuery != nil {
		cb := upd.CallbackQuery
		if cb.Message == nil {
			return
		}
		data := cb.Data
		chatID := cb.Message.Chat.ID

		switch {
		case strings.HasPrefix(data, prefixCheckin):
			r.handleCheckinCallback(ctx, chatID, data, cb.ID)
		case strings.HasPrefix(data, prefixRating):
			r.handleRatingCallback(ctx, chatID, data, cb.ID)

		// Settings sections
		case data == cbSetBedtime:
			r.askClock(ctx, chatID, cb.ID, pendingBedtime, "What is your usual bedtime? (HH:MM)")
		case data == cbSetWake:
			r.askClock(ctx, chatID, cb.ID, pendingWake, "What is your usual wake-up time? (HH:MM)")

		case data == cbSetTZ:
			r.askTZPresets(ctx, chatID, cb.ID)
		case strings.HasPrefix(data, prefixTZ):
			r.handleTZCallback(ctx, chatID, data, cb.ID)

		case data == cbSetTimes:
			r.askTimes(ctx, chatID, cb.ID)
		case data == cbTimesDefault, data == cbTimesCustom:
			r.handleTimesCallback(ctx, chatID, data, cb.ID)

		case data == cbSetWeek:
			r.askWeekStart(ctx, chatID, cb.ID)
		case strings.HasPrefix(data, prefixWeek):
			r.handleWeekStartCallback(ctx, chatID, data, cb.ID)

		case data == cbDeleteYes, data == cbDeleteNo:
			r.handleDeleteCallback(ctx, chatID, data == cbDeleteYes, cb.ID)

		default:
			// Unknown callback; ignore.
			r.answerCallback(ctx, cb.ID, "")
		}
	}
}
