package app

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/ykvlv/checkin-bot/internal/timers"
)

// timerSource is the part of the coordinator the diagnostics endpoints read.
type timerSource interface {
	ActiveTimers(userID int64) ([]timers.SlotTimer, []timers.RetryTimer)
	Ready() <-chan struct{}
}

type slotTimerView struct {
	Slot       string    `json:"slot"`
	At         time.Time `json:"at"`
	Generation uint64    `json:"generation"`
}

type retryTimerView struct {
	Date string    `json:"date"`
	Slot string    `json:"slot"`
	ID   string    `json:"id"`
	At   time.Time `json:"at"`
}

type timersView struct {
	UserID  int64            `json:"user_id"`
	Slots   []slotTimerView  `json:"slots"`
	Retries []retryTimerView `json:"retries"`
}

// newDiagnostics serves /healthz, /metrics and /users/{id}/timers.
func newDiagnostics(log *zap.Logger, ping func(context.Context) error, src timerSource, g prometheus.Gatherer) http.Handler {
	r := mux.NewRouter()

	r.HandleFunc("/healthz", func(w http.ResponseWriter, req *http.Request) {
		select {
		case <-src.Ready():
		default:
			http.Error(w, "reconciling", http.StatusServiceUnavailable)
			return
		}
		ctx, cancel := context.WithTimeout(req.Context(), 2*time.Second)
		defer cancel()
		if err := ping(ctx); err != nil {
			log.Warn("health check: store unreachable", zap.Error(err))
			http.Error(w, "store unreachable", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	}).Methods(http.MethodGet)

	r.Handle("/metrics", promhttp.HandlerFor(g, promhttp.HandlerOpts{})).Methods(http.MethodGet)

	r.HandleFunc("/users/{id:[0-9]+}/timers", func(w http.ResponseWriter, req *http.Request) {
		id, err := strconv.ParseInt(mux.Vars(req)["id"], 10, 64)
		if err != nil {
			http.Error(w, "bad user id", http.StatusBadRequest)
			return
		}
		slots, retries := src.ActiveTimers(id)
		view := timersView{UserID: id, Slots: []slotTimerView{}, Retries: []retryTimerView{}}
		for _, t := range slots {
			view.Slots = append(view.Slots, slotTimerView{Slot: t.Slot.String(), At: t.At, Generation: t.Generation})
		}
		for _, t := range retries {
			view.Retries = append(view.Retries, retryTimerView{Date: t.Key.Date.String(), Slot: t.Key.Slot.String(), ID: t.ID, At: t.At})
		}
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(view); err != nil {
			log.Warn("encode timers", zap.Error(err))
		}
	}).Methods(http.MethodGet)

	return r
}
