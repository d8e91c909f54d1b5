package roles

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/driftwood-social/driftwood/internal/platform/httpx"
	"github.com/driftwood-social/driftwood/internal/shared"
)

// Handler exposes the role admin API.
type Handler struct {
	logger   *slog.Logger
	service  *Service
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

// MountRoutes registers role routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/roles", h.listRoles)
	r.Post("/roles", h.createRole)
	r.Get("/roles/{id}", h.showRole)
	r.Put("/roles/{id}", h.updateRole)
	r.Delete("/roles/{id}", h.deleteRole)
	r.Post("/roles/{id}/assign", h.assignRole)
	r.Post("/roles/{id}/unassign", h.unassignRole)

	r.Get("/users/{id}/roles", h.listUserRoles)
	r.Get("/users/{id}/assignments", h.listUserAssignments)
	r.Get("/users/{id}/badges", h.listUserBadges)
	r.Get("/users/{id}/policies", h.showUserPolicies)
	r.Get("/users/{id}/inline-policies", h.listInlinePolicies)
	r.Put("/users/{id}/inline-policies", h.updateInlinePolicies)

	r.Get("/moderators", h.listModerators)
	r.Get("/administrators", h.listAdministrators)
}

type rolePayload struct {
	Name            string       `json:"name" validate:"required,max=256"`
	Description     string       `json:"description"`
	Color           string       `json:"color"`
	IconURL         string       `json:"iconUrl"`
	Target          RoleTarget   `json:"target" validate:"required,oneof=manual conditional"`
	CondFormula     *CondFormula `json:"condFormula"`
	IsPublic        bool         `json:"isPublic"`
	IsAdministrator bool         `json:"isAdministrator"`
	IsModerator     bool         `json:"isModerator"`
	IsExplorable    bool         `json:"isExplorable"`
	AsBadge         bool         `json:"asBadge"`
	BadgeBehavior   string       `json:"badgeBehavior"`
	DisplayOrder    int          `json:"displayOrder"`
	Policies        PolicyMap    `json:"policies"`
}

func (p rolePayload) toRole() *Role {
	return &Role{
		Name:            p.Name,
		Description:     p.Description,
		Color:           p.Color,
		IconURL:         p.IconURL,
		Target:          p.Target,
		CondFormula:     p.CondFormula,
		IsPublic:        p.IsPublic,
		IsAdministrator: p.IsAdministrator,
		IsModerator:     p.IsModerator,
		IsExplorable:    p.IsExplorable,
		AsBadge:         p.AsBadge,
		BadgeBehavior:   p.BadgeBehavior,
		DisplayOrder:    p.DisplayOrder,
		Policies:        p.Policies,
	}
}

func (h *Handler) listRoles(w http.ResponseWriter, r *http.Request) {
	all, err := h.service.GetRoles(r.Context())
	if err != nil {
		h.fail(w, "list roles", err)
		return
	}
	if all == nil {
		all = []*Role{}
	}
	httpx.WriteJSON(w, http.StatusOK, all)
}

func (h *Handler) createRole(w http.ResponseWriter, r *http.Request) {
	var payload rolePayload
	if err := httpx.DecodeJSON(r, &payload); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "invalid request body", "")
		return
	}
	if err := h.validate.Struct(payload); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, err.Error(), "")
		return
	}

	created, err := h.service.Create(r.Context(), payload.toRole(), shared.ActorFromContext(r.Context()))
	if err != nil {
		h.fail(w, "create role", err)
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, created)
}

func (h *Handler) showRole(w http.ResponseWriter, r *http.Request) {
	role, err := h.service.GetRole(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, "get role", err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, role)
}

func (h *Handler) updateRole(w http.ResponseWriter, r *http.Request) {
	var payload rolePayload
	if err := httpx.DecodeJSON(r, &payload); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "invalid request body", "")
		return
	}
	if err := h.validate.Struct(payload); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, err.Error(), "")
		return
	}

	role := payload.toRole()
	role.ID = chi.URLParam(r, "id")
	updated, err := h.service.Update(r.Context(), role, shared.ActorFromContext(r.Context()))
	if err != nil {
		h.fail(w, "update role", err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, updated)
}

func (h *Handler) deleteRole(w http.ResponseWriter, r *http.Request) {
	err := h.service.Delete(r.Context(), chi.URLParam(r, "id"), shared.ActorFromContext(r.Context()))
	if err != nil {
		h.fail(w, "delete role", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type assignPayload struct {
	UserID    string     `json:"userId" validate:"required"`
	Memo      string     `json:"memo" validate:"max=256"`
	ExpiresAt *time.Time `json:"expiresAt"`
}

func (h *Handler) assignRole(w http.ResponseWriter, r *http.Request) {
	var payload assignPayload
	if err := httpx.DecodeJSON(r, &payload); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "invalid request body", "")
		return
	}
	if err := h.validate.Struct(payload); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, err.Error(), "")
		return
	}

	err := h.service.Assign(r.Context(), payload.UserID, chi.URLParam(r, "id"),
		payload.Memo, payload.ExpiresAt, shared.ActorFromContext(r.Context()))
	if err != nil {
		h.fail(w, "assign role", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type unassignPayload struct {
	UserID string `json:"userId" validate:"required"`
}

func (h *Handler) unassignRole(w http.ResponseWriter, r *http.Request) {
	var payload unassignPayload
	if err := httpx.DecodeJSON(r, &payload); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "invalid request body", "")
		return
	}
	if err := h.validate.Struct(payload); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, err.Error(), "")
		return
	}

	err := h.service.Unassign(r.Context(), payload.UserID, chi.URLParam(r, "id"),
		shared.ActorFromContext(r.Context()))
	if err != nil {
		h.fail(w, "unassign role", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) listUserRoles(w http.ResponseWriter, r *http.Request) {
	effective, err := h.service.GetUserRoles(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, "list user roles", err)
		return
	}
	if effective == nil {
		effective = []*Role{}
	}
	httpx.WriteJSON(w, http.StatusOK, effective)
}

func (h *Handler) listUserAssignments(w http.ResponseWriter, r *http.Request) {
	assigns, err := h.service.GetUserAssigns(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, "list user assignments", err)
		return
	}
	if assigns == nil {
		assigns = []*Assignment{}
	}
	httpx.WriteJSON(w, http.StatusOK, assigns)
}

func (h *Handler) listUserBadges(w http.ResponseWriter, r *http.Request) {
	publicOnly := r.URL.Query().Get("public") == "true"
	badges, err := h.service.GetUserBadgeRoles(r.Context(), chi.URLParam(r, "id"), publicOnly)
	if err != nil {
		h.fail(w, "list user badges", err)
		return
	}
	if badges == nil {
		badges = []*BadgeRole{}
	}
	httpx.WriteJSON(w, http.StatusOK, badges)
}

func (h *Handler) showUserPolicies(w http.ResponseWriter, r *http.Request) {
	policies, err := h.service.GetUserPolicies(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, "resolve user policies", err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, policies)
}

func (h *Handler) listInlinePolicies(w http.ResponseWriter, r *http.Request) {
	inline, err := h.service.GetInlinePolicies(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, "list inline policies", err)
		return
	}
	if inline == nil {
		inline = []*InlinePolicy{}
	}
	httpx.WriteJSON(w, http.StatusOK, inline)
}

type inlinePoliciesPayload struct {
	Policies []InlinePolicyInput `json:"policies" validate:"dive"`
}

func (h *Handler) updateInlinePolicies(w http.ResponseWriter, r *http.Request) {
	var payload inlinePoliciesPayload
	if err := httpx.DecodeJSON(r, &payload); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "invalid request body", "")
		return
	}
	if err := h.validate.Struct(payload); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, err.Error(), "")
		return
	}

	err := h.service.UpdateInlinePolicies(r.Context(), chi.URLParam(r, "id"),
		payload.Policies, shared.ActorFromContext(r.Context()))
	if err != nil {
		h.fail(w, "update inline policies", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) listModerators(w http.ResponseWriter, r *http.Request) {
	includeAdmins := r.URL.Query().Get("includeAdmins") != "false"
	ids, err := h.service.GetModeratorIDs(r.Context(), includeAdmins)
	if err != nil {
		h.fail(w, "list moderators", err)
		return
	}
	if ids == nil {
		ids = []string{}
	}
	httpx.WriteJSON(w, http.StatusOK, map[string][]string{"userIds": ids})
}

func (h *Handler) listAdministrators(w http.ResponseWriter, r *http.Request) {
	ids, err := h.service.GetAdministratorIDs(r.Context())
	if err != nil {
		h.fail(w, "list administrators", err)
		return
	}
	if ids == nil {
		ids = []string{}
	}
	httpx.WriteJSON(w, http.StatusOK, map[string][]string{"userIds": ids})
}

// fail translates domain errors onto HTTP statuses. Identifiable errors
// carry their stable ID in the code field so clients can match on it.
func (h *Handler) fail(w http.ResponseWriter, action string, err error) {
	var ident *shared.Identifiable
	switch {
	case errors.Is(err, shared.ErrNotFound):
		httpx.WriteError(w, http.StatusNotFound, "not found", "")
	case errors.Is(err, ErrAlreadyAssigned):
		writeIdentifiable(w, http.StatusConflict, err)
	case errors.Is(err, ErrNotAssigned):
		writeIdentifiable(w, http.StatusConflict, err)
	case errors.As(err, &ident):
		writeIdentifiable(w, http.StatusBadRequest, err)
	default:
		h.logger.Error(action+" failed", slog.Any("error", err))
		httpx.WriteError(w, http.StatusInternalServerError, "internal error", "")
	}
}

func writeIdentifiable(w http.ResponseWriter, status int, err error) {
	var ident *shared.Identifiable
	if errors.As(err, &ident) {
		httpx.WriteError(w, status, ident.Message, ident.ID)
		return
	}
	httpx.WriteError(w, status, err.Error(), "")
}
