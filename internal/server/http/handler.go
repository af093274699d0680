package http

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/leshachaplin/trackpost/internal/apierror"
)

// Tracker is the slice of the tracker surface the ingest server exposes.
type Tracker interface {
	SendView(segments ...string) bool
	SendEvent(category, action, label string) bool
	SendException(description string, fatal bool) bool
	SendSocialInteraction(action, target, network string) bool
	SendGoal(goalID string, revenue uint64) bool
	SendSearch(keyword, category string, hitCount *int) bool
	Dispatch() bool
	QueuedEvents() (int, error)
}

type Handler struct {
	tracker Tracker
	logger  zerolog.Logger
}

func NewHandler(tracker Tracker, logger zerolog.Logger) *Handler {
	return &Handler{
		tracker: tracker,
		logger:  logger,
	}
}

func (h *Handler) error(err error, w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")

	var apiErr apierror.Error
	if !errors.As(err, &apiErr) {
		apiErr = apierror.NewAPIError(err.Error(), http.StatusInternalServerError)
	}

	w.WriteHeader(apiErr.StatusCode())
	if err = json.NewEncoder(w).Encode(apiErr); err != nil {
		h.logger.Error().Err(err).Send()
	}
}
