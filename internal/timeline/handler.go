package timeline

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/driftwood-social/driftwood/internal/platform/httpx"
	"github.com/driftwood-social/driftwood/internal/shared"
)

// Enqueuer hands a fanout off to the background queue instead of running
// it on the request path.
type Enqueuer interface {
	EnqueueFanout(ctx context.Context, req FanoutRequest) error
}

// Handler exposes timeline fanout and read endpoints.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	enqueuer Enqueuer
	validate *validator.Validate
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{
		logger:   logger,
		service:  service,
		validate: validator.New(validator.WithRequiredStructEnabled()),
	}
}

// SetEnqueuer makes the fanout endpoint enqueue a background job rather
// than write every bucket before responding. Without one the endpoint
// stays synchronous.
func (h *Handler) SetEnqueuer(e Enqueuer) {
	h.enqueuer = e
}

// MountRoutes registers timeline routes. Read routes take the viewer from
// the actor header; fanout and purge are internal operations.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/timelines/fanout", h.fanoutNote)
	r.Get("/timelines/home", h.readHome)
	r.Delete("/timelines/home", h.purgeHome)
	r.Get("/timelines/user/{id}", h.readUser)
	r.Get("/timelines/list/{id}", h.readList)
	r.Get("/timelines/antenna/{id}", h.readAntenna)
	r.Get("/timelines/role/{id}", h.readRole)
	r.Get("/timelines/dimension/{dimension}", h.readDimension)
	r.Post("/timelines/visibility-check", h.visibilityCheck)
}

type fanoutPayload struct {
	Note        *Note    `json:"note" validate:"required"`
	FollowerIDs []string `json:"followerIds"`
	ListIDs     []string `json:"listIds"`
	AntennaIDs  []string `json:"antennaIds"`
}

func (h *Handler) fanoutNote(w http.ResponseWriter, r *http.Request) {
	var payload fanoutPayload
	if err := httpx.DecodeJSON(r, &payload); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "invalid request body", "")
		return
	}
	if err := h.validate.Struct(payload); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, err.Error(), "")
		return
	}
	if payload.Note.ID == "" || payload.Note.UserID == "" {
		httpx.WriteError(w, http.StatusBadRequest, "note id and userId are required", "")
		return
	}

	req := FanoutRequest{
		Note:        payload.Note,
		FollowerIDs: payload.FollowerIDs,
		ListIDs:     payload.ListIDs,
		AntennaIDs:  payload.AntennaIDs,
	}
	if h.enqueuer != nil {
		if err := h.enqueuer.EnqueueFanout(r.Context(), req); err != nil {
			h.logger.Error("enqueue fanout", slog.String("noteId", payload.Note.ID), slog.Any("error", err))
			httpx.WriteError(w, http.StatusInternalServerError, "fanout failed", "")
			return
		}
		httpx.WriteJSON(w, http.StatusAccepted, map[string]any{
			"dimensions": DeliverTargetDimensions(payload.Note),
		})
		return
	}

	if err := h.service.FanoutNote(r.Context(), req); err != nil {
		httpx.WriteError(w, http.StatusInternalServerError, "fanout failed", "")
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{
		"dimensions": DeliverTargetDimensions(payload.Note),
	})
}

func (h *Handler) readHome(w http.ResponseWriter, r *http.Request) {
	actor := shared.ActorFromContext(r.Context())
	if actor == "" {
		httpx.WriteError(w, http.StatusUnauthorized, "actor required", "")
		return
	}
	ids, err := h.service.ReadHome(r.Context(), actor,
		r.URL.Query().Get("withFiles") == "true", queryLimit(r))
	h.writeIDs(w, ids, err)
}

func (h *Handler) purgeHome(w http.ResponseWriter, r *http.Request) {
	actor := shared.ActorFromContext(r.Context())
	if actor == "" {
		httpx.WriteError(w, http.StatusUnauthorized, "actor required", "")
		return
	}
	if err := h.service.PurgeHome(r.Context(), actor); err != nil {
		h.logger.Error("purge home timeline", slog.String("userId", actor), slog.Any("error", err))
		httpx.WriteError(w, http.StatusInternalServerError, "purge failed", "")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) readUser(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	ids, err := h.service.ReadUser(r.Context(), chi.URLParam(r, "id"),
		q.Get("withReplies") == "true", q.Get("withFiles") == "true", queryLimit(r))
	h.writeIDs(w, ids, err)
}

func (h *Handler) readList(w http.ResponseWriter, r *http.Request) {
	ids, err := h.service.ReadList(r.Context(), chi.URLParam(r, "id"),
		r.URL.Query().Get("withFiles") == "true", queryLimit(r))
	h.writeIDs(w, ids, err)
}

func (h *Handler) readAntenna(w http.ResponseWriter, r *http.Request) {
	ids, err := h.service.ReadAntenna(r.Context(), chi.URLParam(r, "id"), queryLimit(r))
	h.writeIDs(w, ids, err)
}

func (h *Handler) readRole(w http.ResponseWriter, r *http.Request) {
	ids, err := h.service.ReadRole(r.Context(), chi.URLParam(r, "id"), queryLimit(r))
	h.writeIDs(w, ids, err)
}

func (h *Handler) readDimension(w http.ResponseWriter, r *http.Request) {
	dimension, err := strconv.Atoi(chi.URLParam(r, "dimension"))
	if err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "invalid dimension", "")
		return
	}
	ids, err := h.service.ReadDimension(r.Context(), dimension, queryLimit(r))
	h.writeIDs(w, ids, err)
}

type visibilityPayload struct {
	Note            *Note  `json:"note" validate:"required"`
	ViewerID        string `json:"viewerId"`
	ViewerDimension *int   `json:"viewerDimension"`
}

// visibilityCheck answers whether a note should appear for a viewer in a
// given dimension context, for callers that filter timelines server-side.
func (h *Handler) visibilityCheck(w http.ResponseWriter, r *http.Request) {
	var payload visibilityPayload
	if err := httpx.DecodeJSON(r, &payload); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "invalid request body", "")
		return
	}
	if err := h.validate.Struct(payload); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, err.Error(), "")
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]bool{
		"deliver": ShouldDeliverByDimension(payload.Note, payload.ViewerDimension, payload.ViewerID),
	})
}

func (h *Handler) writeIDs(w http.ResponseWriter, ids []string, err error) {
	if err != nil {
		h.logger.Error("read timeline", slog.Any("error", err))
		httpx.WriteError(w, http.StatusInternalServerError, "read failed", "")
		return
	}
	if ids == nil {
		ids = []string{}
	}
	httpx.WriteJSON(w, http.StatusOK, map[string][]string{"ids": ids})
}

func queryLimit(r *http.Request) int {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	if limit <= 0 || limit > 100 {
		limit = 30
	}
	return limit
}
