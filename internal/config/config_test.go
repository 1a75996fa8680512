package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ykvlv/checkin-bot/internal/domain"
)

func TestFromEnv_Defaults(t *testing.T) {
	t.Setenv("BOT_TOKEN", "123:abc")

	cfg, err := FromEnv()
	require.NoError(t, err)
	require.Equal(t, "./data/checkin.db", cfg.DBPath)
	require.Equal(t, 15*time.Minute, cfg.RemindLaterDelay)
	require.Equal(t, 3, cfg.RemindLaterMax)

	off, err := cfg.Offsets()
	require.NoError(t, err)
	require.Equal(t, domain.DefaultOffsets(), off)
}

func TestFromEnv_Overrides(t *testing.T) {
	t.Setenv("BOT_TOKEN", "123:abc")
	t.Setenv("MORNING_OFFSET", "90m")
	t.Setenv("MIDDAY_EARLIEST", "12:30")
	t.Setenv("REMIND_LATER_MAX", "5")

	cfg, err := FromEnv()
	require.NoError(t, err)
	require.Equal(t, 5, cfg.RemindLaterMax)

	off, err := cfg.Offsets()
	require.NoError(t, err)
	require.Equal(t, 90*time.Minute, off.Morning)
	require.Equal(t, 12*60+30, off.MiddayEarliest)
}

func TestFromEnv_Invalid(t *testing.T) {
	cases := map[string]map[string]string{
		"missing token": {"BOT_TOKEN": ""},
		"bad tz":        {"DEFAULT_TZ": "Atlantis/Capital"},
		"midday order":  {"MIDDAY_EARLIEST": "18:00"},
		"bad clock":     {"MIDDAY_LATEST": "25:00"},
		"zero delay":    {"REMIND_LATER_DELAY": "0s"},
	}
	for name, env := range cases {
		t.Run(name, func(t *testing.T) {
			t.Setenv("BOT_TOKEN", "123:abc")
			for k, v := range env {
				t.Setenv(k, v)
			}
			_, err := FromEnv()
			require.Error(t, err)
		})
	}
}
