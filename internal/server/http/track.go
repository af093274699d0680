package http

import (
	"encoding/json"
	"net/http"

	"github.com/leshachaplin/trackpost/internal/apierror"
)

type trackRequest struct {
	Kind           string   `json:"kind"`
	Path           []string `json:"path,omitempty"`
	Category       string   `json:"category,omitempty"`
	Action         string   `json:"action,omitempty"`
	Label          string   `json:"label,omitempty"`
	Description    string   `json:"description,omitempty"`
	Fatal          bool     `json:"fatal,omitempty"`
	Target         string   `json:"target,omitempty"`
	Network        string   `json:"network,omitempty"`
	GoalID         string   `json:"goal_id,omitempty"`
	Revenue        uint64   `json:"revenue,omitempty"`
	Keyword        string   `json:"keyword,omitempty"`
	SearchCategory string   `json:"search_category,omitempty"`
	SearchHits     *int     `json:"search_hits,omitempty"`
}

type trackResponse struct {
	Queued bool `json:"queued"`
}

// Track maps an ingest request onto the matching tracking call. 202 with the
// queued flag reports whether the event entered the queue, never whether it
// was delivered.
func (h *Handler) Track(w http.ResponseWriter, r *http.Request) {
	var req trackRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.error(apierror.NewBadRequest("invalid track request body"), w)
		return
	}

	var queued bool
	switch req.Kind {
	case "screen":
		queued = h.tracker.SendView(req.Path...)
	case "event":
		queued = h.tracker.SendEvent(req.Category, req.Action, req.Label)
	case "exception":
		queued = h.tracker.SendException(req.Description, req.Fatal)
	case "social":
		queued = h.tracker.SendSocialInteraction(req.Action, req.Target, req.Network)
	case "goal":
		queued = h.tracker.SendGoal(req.GoalID, req.Revenue)
	case "search":
		queued = h.tracker.SendSearch(req.Keyword, req.SearchCategory, req.SearchHits)
	default:
		h.error(apierror.NewBadRequest("unknown event kind: "+req.Kind), w)
		return
	}

	if err := encodeJSONResponse(w, http.StatusAccepted, trackResponse{Queued: queued}); err != nil {
		h.logger.Error().Err(err).Msg("encode track response")
	}
}

// DispatchNow starts a manual dispatch cycle.
func (h *Handler) DispatchNow(w http.ResponseWriter, _ *http.Request) {
	started := h.tracker.Dispatch()
	if err := encodeJSONResponse(w, http.StatusAccepted, map[string]bool{"started": started}); err != nil {
		h.logger.Error().Err(err).Msg("encode dispatch response")
	}
}

// Queue reports the number of events waiting for delivery.
func (h *Handler) Queue(w http.ResponseWriter, _ *http.Request) {
	count, err := h.tracker.QueuedEvents()
	if err != nil {
		h.error(err, w)
		return
	}
	if err = encodeJSONResponse(w, http.StatusOK, map[string]int{"count": count}); err != nil {
		h.logger.Error().Err(err).Msg("encode queue response")
	}
}
