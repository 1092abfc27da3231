package organization

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/cgirish01/hypervisor-service/internal/apierr"
	"github.com/cgirish01/hypervisor-service/internal/audit"
	"github.com/cgirish01/hypervisor-service/internal/authz"
	"github.com/cgirish01/hypervisor-service/internal/httpserver"
)

// Handler provides HTTP handlers for the organizations API.
type Handler struct {
	store *Store
	audit *audit.Writer
}

// NewHandler creates an organization Handler.
func NewHandler(store *Store, auditWriter *audit.Writer) *Handler {
	return &Handler{store: store, audit: auditWriter}
}

// Routes returns a chi.Router with organization routes mounted.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/", h.handleCreate)
	r.Get("/", h.handleList)
	r.Route("/{id}", func(r chi.Router) {
		r.Get("/", h.handleGet)
		r.Put("/", h.handleUpdate)
		r.Delete("/", h.handleDelete)
	})
	return r
}

type createRequest struct {
	Name string `json:"name" validate:"required,min=1,max=200"`
}

type updateRequest struct {
	Name string `json:"name" validate:"required,min=1,max=200"`
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	if !httpserver.DecodeAndValidate(w, r, &req) {
		return
	}

	id := authz.FromContext(r.Context())
	org, err := h.store.Create(r.Context(), req.Name, id.UserID)
	if err != nil {
		httpserver.RespondAPIErr(w, apierr.Internal("failed to create organization"))
		return
	}

	if h.audit != nil {
		detail, _ := json.Marshal(map[string]string{"name": org.Name})
		h.audit.LogFromRequest(r, "create", "organization", org.ID, detail)
	}

	httpserver.Respond(w, http.StatusCreated, org)
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	params, err := httpserver.ParseOffsetParams(r)
	if err != nil {
		httpserver.RespondAPIErr(w, apierr.Validation(err.Error()))
		return
	}

	id := authz.FromContext(r.Context())
	orgs, total, err := h.store.List(r.Context(), id.UserID, params.PageSize, params.Offset)
	if err != nil {
		httpserver.RespondAPIErr(w, apierr.Internal("failed to list organizations"))
		return
	}

	httpserver.Respond(w, http.StatusOK, httpserver.NewOffsetPage(orgs, params, total))
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	orgID, ok := parseID(w, r)
	if !ok {
		return
	}

	if !h.requireMember(w, r, orgID) {
		return
	}

	org, err := h.store.Get(r.Context(), orgID)
	if err != nil {
		respondStoreErr(w, err)
		return
	}

	httpserver.Respond(w, http.StatusOK, org)
}

func (h *Handler) handleUpdate(w http.ResponseWriter, r *http.Request) {
	orgID, ok := parseID(w, r)
	if !ok {
		return
	}

	if !h.requireMember(w, r, orgID) {
		return
	}

	var req updateRequest
	if !httpserver.DecodeAndValidate(w, r, &req) {
		return
	}

	org, err := h.store.Update(r.Context(), orgID, req.Name)
	if err != nil {
		respondStoreErr(w, err)
		return
	}

	if h.audit != nil {
		h.audit.LogFromRequest(r, "update", "organization", orgID, nil)
	}

	httpserver.Respond(w, http.StatusOK, org)
}

func (h *Handler) handleDelete(w http.ResponseWriter, r *http.Request) {
	orgID, ok := parseID(w, r)
	if !ok {
		return
	}

	if !h.requireMember(w, r, orgID) {
		return
	}

	deleted, err := h.store.Delete(r.Context(), orgID)
	if err != nil {
		httpserver.RespondAPIErr(w, apierr.Internal("failed to delete organization"))
		return
	}
	if !deleted {
		httpserver.RespondAPIErr(w, apierr.NotFound("organization not found"))
		return
	}

	if h.audit != nil {
		h.audit.LogFromRequest(r, "delete", "organization", orgID, nil)
	}

	httpserver.Respond(w, http.StatusNoContent, nil)
}

// requireMember checks org membership for the authenticated caller,
// responding and returning false if unauthorized or on error.
func (h *Handler) requireMember(w http.ResponseWriter, r *http.Request, orgID int64) bool {
	id := authz.FromContext(r.Context())
	member, err := h.store.isMember(r.Context(), orgID, id.UserID)
	if err != nil {
		httpserver.RespondAPIErr(w, apierr.Internal("failed to check membership"))
		return false
	}
	if !member {
		httpserver.RespondAPIErr(w, apierr.Forbidden("not a member of this organization"))
		return false
	}
	return true
}

func parseID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpserver.RespondAPIErr(w, apierr.Validation("invalid organization ID"))
		return 0, false
	}
	return id, true
}

func respondStoreErr(w http.ResponseWriter, err error) {
	if err == ErrNotFound {
		httpserver.RespondAPIErr(w, apierr.NotFound("organization not found"))
		return
	}
	httpserver.RespondAPIErr(w, apierr.Internal("unexpected error"))
}
