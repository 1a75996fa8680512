package telegram

import (
	"fmt"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/ykvlv/checkin-bot/internal/domain"
	"github.com/ykvlv/checkin-bot/internal/stats"
	"github.com/ykvlv/checkin-bot/internal/timers"
)

// UI texts in English
const (
	startText = "👋 I am your daily check-in bot.\n\n" +
		"Three times a day I will ask how you slept, how you feel and how your day went. " +
		"Reminder times follow your sleep schedule; adjust it in /settings.\n\n" +
		"Use /help to see all commands."
	helpText = "/status: your schedule and next reminders\n" +
		"/settings: bedtime, wake time, timezone, reminder times\n" +
		"/morning, /midday, /evening: start a check-in now\n" +
		"/week: this week's statistics\n" +
		"/jobs: armed reminder timers\n" +
		"/reload_schedule: re-arm reminders from your settings\n" +
		"/delete: delete your data"
	statusTitle = "🧾 Your current settings:"
	statusFmt   = "• Bedtime: %s\n• Wake time: %s\n• TZ: %s\n• Reminder times: %s\n" +
		"• 🌅 Morning: %s\n• ☀️ Midday: %s\n• 🌙 Evening: %s\n• Week starts: %s\n"

	msgGenericError  = "❌ Something went wrong. Please try again in a moment."
	msgUseButtons    = "⚠️ Please use the buttons!"
	msgInvalidTime   = "⚠️ Use format HH:MM (e.g., 23:30)."
	msgInvalidTimes  = "⚠️ Send three times: morning, midday, evening (e.g., 08:00 13:00 21:00)."
	msgInvalidTZ     = "⚠️ Invalid timezone. Example: Europe/Kyiv"
	msgInvalidSleep  = "⚠️ Sleep duration must be between 4 and 12 hours. Please adjust your times."
	msgFinalized     = "✅ This check-in is already finished."
	msgRemindLimit   = "⚠️ No more reminders left for this check-in. Start it now or skip it."
	msgNoCheckin     = "🤷 I could not find that check-in. It may have expired."
	msgDeleteConfirm = "⚠️ This deletes your schedule and every check-in. Are you sure?"
	msgDeleted       = "🗑 Your data was deleted. Send /start to begin again."
	msgDeleteKept    = "👍 Nothing was deleted."
)

var reminderMessages = map[domain.Slot]string{
	domain.SlotMorning: "🌅 <b>Good morning!</b>\n\n" +
		"Time for your morning check-in. " +
		"It only takes 2 minutes to track your sleep and set your day's intentions.",
	domain.SlotMidday: "☀️ <b>Midday check!</b>\n\n" +
		"How's your day going? " +
		"Quick check-in to track your mood and energy levels.",
	domain.SlotEvening: "🌙 <b>Evening reflection time!</b>\n\n" +
		"Let's wrap up your day. " +
		"Reflect on what went well and what you learned today.",
}

var slotTitles = map[domain.Slot]string{
	domain.SlotMorning: "🌅 Morning",
	domain.SlotMidday:  "☀️ Midday",
	domain.SlotEvening: "🌙 Evening",
}

// languageTimezones guesses a first timezone from the Telegram client language.
var languageTimezones = map[string]string{
	"uk": "Europe/Kyiv",
	"pl": "Europe/Warsaw",
	"de": "Europe/Berlin",
	"ru": "Europe/Moscow",
	"fr": "Europe/Paris",
	"es": "Europe/Madrid",
	"it": "Europe/Rome",
}

func timezoneForLanguage(code, fallback string) string {
	if tz, ok := languageTimezones[strings.ToLower(code)]; ok {
		return tz
	}
	return fallback
}

// reminderText grows more urgent with every remind-later used.
func reminderText(slot domain.Slot, remindCount, limit int) string {
	text, ok := reminderMessages[slot]
	if !ok {
		text = "⏰ Time for your check-in!"
	}
	switch {
	case remindCount == 0:
	case remindCount >= limit:
		text += "\n\n⚠️ <b>Last chance!</b> This is your final reminder."
	default:
		text += "\n\n⏰ <i>Friendly reminder!</i>"
	}
	return text
}

// reminderKeyboard hides "remind later" once the limit is used up.
func reminderKeyboard(slot domain.Slot, date domain.Date, remindCount, limit int, delay time.Duration) tgbotapi.InlineKeyboardMarkup {
	rows := [][]tgbotapi.InlineKeyboardButton{
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("▶️ Start "+strings.ToLower(slotName(slot))+" check-in", checkinData(actionStart, date, slot)),
		),
	}
	if remindCount < limit {
		rows = append(rows, tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData(fmt.Sprintf("⏰ Remind me later (%s)", humanDuration(delay)), checkinData(actionLater, date, slot)),
		))
	}
	rows = append(rows, tgbotapi.NewInlineKeyboardRow(
		tgbotapi.NewInlineKeyboardButtonData("⏭ Skip this check-in", checkinData(actionSkip, date, slot)),
	))
	return tgbotapi.NewInlineKeyboardMarkup(rows...)
}

func ratingKeyboard() tgbotapi.InlineKeyboardMarkup {
	row := make([]tgbotapi.InlineKeyboardButton, 0, domain.MaxRating)
	for v := domain.MinRating; v <= domain.MaxRating; v++ {
		row = append(row, tgbotapi.NewInlineKeyboardButtonData(fmt.Sprint(v), ratingData(v)))
	}
	return tgbotapi.NewInlineKeyboardMarkup(row)
}

func questionText(q domain.Question, step, total int) string {
	return fmt.Sprintf("(%d/%d) %s\n1 = very low, 5 = excellent", step+1, total, q.Prompt)
}

func completedText(c *domain.CheckinInstance) string {
	var b strings.Builder
	fmt.Fprintf(&b, "✅ %s check-in saved for %s.\n", slotName(c.Key.Slot), c.Key.Date)
	for _, q := range domain.Questions(c.Key.Slot) {
		fmt.Fprintf(&b, "• %s: %d/5\n", fieldName(q.Field), c.Answers[q.Field])
	}
	return b.String()
}

func slotName(s domain.Slot) string {
	switch s {
	case domain.SlotMorning:
		return "Morning"
	case domain.SlotMidday:
		return "Midday"
	case domain.SlotEvening:
		return "Evening"
	}
	return string(s)
}

func fieldName(f string) string {
	switch f {
	case domain.FieldSleepQuality:
		return "Sleep quality"
	case domain.FieldMood:
		return "Mood"
	case domain.FieldEnergy:
		return "Energy"
	case domain.FieldStress:
		return "Stress"
	case domain.FieldSatisfaction:
		return "Satisfaction"
	}
	return f
}

func humanDuration(d time.Duration) string {
	if d%time.Hour == 0 {
		return fmt.Sprintf("%d h", int(d/time.Hour))
	}
	return fmt.Sprintf("%d min", int(d/time.Minute))
}

func statusText(u *domain.UserSchedule, times map[domain.Slot]string) string {
	mode := "derived from sleep schedule"
	if !u.UseDefaultTimes {
		mode = "custom"
	}
	return fmt.Sprintf("%s\n\n"+statusFmt,
		statusTitle,
		u.Bedtime, u.WakeTime, u.TZ, mode,
		times[domain.SlotMorning], times[domain.SlotMidday], times[domain.SlotEvening],
		u.WeekStart,
	)
}

func jobsText(tz string, slotTimers []timers.SlotTimer, retries []timers.RetryTimer) string {
	if len(slotTimers) == 0 && len(retries) == 0 {
		return "📭 No reminders are armed. Use /reload_schedule to re-arm them."
	}
	var b strings.Builder
	b.WriteString("⏱ Armed reminders:\n")
	for _, t := range slotTimers {
		fmt.Fprintf(&b, "• %s: %s\n", slotTitles[t.Slot], localStamp(t.At, tz))
	}
	for _, t := range retries {
		fmt.Fprintf(&b, "• ⏰ %s retry (%s): %s\n", slotName(t.Key.Slot), t.Key.Date, localStamp(t.At, tz))
	}
	return b.String()
}

func rescheduledText(tz string, occs []domain.Occurrence) string {
	var b strings.Builder
	b.WriteString("🔄 Reminders re-armed:\n")
	for _, o := range occs {
		fmt.Fprintf(&b, "• %s: %s\n", slotTitles[o.Slot], localStamp(o.At, tz))
	}
	return b.String()
}

func localStamp(t time.Time, tz string) string {
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return t.UTC().Format("Mon 02 Jan 15:04 MST")
	}
	return t.In(loc).Format("Mon 02 Jan 15:04")
}

func weekText(w stats.WeeklyStats) string {
	var b strings.Builder
	fmt.Fprintf(&b, "📊 <b>Week %s – %s</b>\n\n", w.Start, w.End.AddDays(-1))
	if w.Total() == 0 {
		b.WriteString("No finished check-ins yet this week.")
		return b.String()
	}
	for _, s := range domain.Slots {
		ss := w.Slots[s]
		fmt.Fprintf(&b, "%s: %d done, %d skipped, %d missed\n", slotTitles[s], ss.Completed, ss.Skipped, ss.Expired)
	}
	fmt.Fprintf(&b, "\nFull days: %d/7\n", w.FullDays)
	for _, f := range []string{domain.FieldMood, domain.FieldEnergy, domain.FieldStress, domain.FieldSleepQuality, domain.FieldSatisfaction} {
		if v, ok := w.Average(f); ok {
			fmt.Fprintf(&b, "Average %s: %.2f/5\n", strings.ToLower(fieldName(f)), v)
		}
	}
	return b.String()
}

func mainMenuKeyboard() tgbotapi.ReplyKeyboardMarkup {
	return tgbotapi.NewReplyKeyboard(
		tgbotapi.NewKeyboardButtonRow(
			tgbotapi.NewKeyboardButton("/status"),
			tgbotapi.NewKeyboardButton("/settings"),
			tgbotapi.NewKeyboardButton("/week"),
		),
		tgbotapi.NewKeyboardButtonRow(
			tgbotapi.NewKeyboardButton("/morning"),
			tgbotapi.NewKeyboardButton("/midday"),
			tgbotapi.NewKeyboardButton("/evening"),
		),
	)
}

// Inline keyboards
func settingsInlineKeyboard() tgbotapi.InlineKeyboardMarkup {
	return tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("🛏 Bedtime", cbSetBedtime),
			tgbotapi.NewInlineKeyboardButtonData("⏰ Wake time", cbSetWake),
		),
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("🌍 Timezone", cbSetTZ),
			tgbotapi.NewInlineKeyboardButtonData("🕘 Reminder times", cbSetTimes),
		),
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("📅 Week start", cbSetWeek),
		),
	)
}

func timesKeyboard() tgbotapi.InlineKeyboardMarkup {
	return tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("🛌 From sleep schedule", cbTimesDefault),
			tgbotapi.NewInlineKeyboardButtonData("✍️ Custom…", cbTimesCustom),
		),
	)
}

func weekStartKeyboard() tgbotapi.InlineKeyboardMarkup {
	return tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("Monday", weekStartData(time.Monday)),
			tgbotapi.NewInlineKeyboardButtonData("Sunday", weekStartData(time.Sunday)),
		),
	)
}

func tzPresetsKeyboard() tgbotapi.InlineKeyboardMarkup {
	return tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("Europe/Kyiv", "tz:Europe/Kyiv"),
			tgbotapi.NewInlineKeyboardButtonData("Europe/Warsaw", "tz:Europe/Warsaw"),
		),
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("Europe/London", "tz:Europe/London"),
			tgbotapi.NewInlineKeyboardButtonData("UTC", "tz:UTC"),
		),
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("✍️ Custom…", "tz:custom"),
		),
	)
}

func deleteKeyboard() tgbotapi.InlineKeyboardMarkup {
	return tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("🗑 Yes, delete", cbDeleteYes),
			tgbotapi.NewInlineKeyboardButtonData("Cancel", cbDeleteNo),
		),
	)
}
