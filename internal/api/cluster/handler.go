package cluster

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/cgirish01/hypervisor-service/internal/apierr"
	"github.com/cgirish01/hypervisor-service/internal/audit"
	"github.com/cgirish01/hypervisor-service/internal/authz"
	"github.com/cgirish01/hypervisor-service/internal/httpserver"
)

// Handler provides HTTP handlers for the clusters API.
type Handler struct {
	store *Store
	pool  *pgxpool.Pool
	audit *audit.Writer
}

// NewHandler creates a cluster Handler.
func NewHandler(store *Store, pool *pgxpool.Pool, auditWriter *audit.Writer) *Handler {
	return &Handler{store: store, pool: pool, audit: auditWriter}
}

// Routes returns a chi.Router with cluster routes mounted.
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
	OrganizationID int64   `json:"organization_id" validate:"required,min=1"`
	Name           string  `json:"name" validate:"required,min=1,max=200"`
	TotalRAM       float64 `json:"total_ram" validate:"gt=0"`
	TotalCPU       float64 `json:"total_cpu" validate:"gt=0"`
	TotalGPU       float64 `json:"total_gpu" validate:"gte=0"`
}

type updateRequest struct {
	Name     *string  `json:"name" validate:"omitempty,min=1,max=200"`
	TotalRAM *float64 `json:"total_ram" validate:"omitempty,gt=0"`
	TotalCPU *float64 `json:"total_cpu" validate:"omitempty,gt=0"`
	TotalGPU *float64 `json:"total_gpu" validate:"omitempty,gte=0"`
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	if !httpserver.DecodeAndValidate(w, r, &req) {
		return
	}

	id := authz.FromContext(r.Context())
	allowed, err := authz.CanMutateOrganization(r.Context(), h.pool, id.UserID, req.OrganizationID)
	if err != nil {
		httpserver.RespondAPIErr(w, apierr.Internal("failed to check organization membership"))
		return
	}
	if !allowed {
		httpserver.RespondAPIErr(w, apierr.Forbidden("not a member of this organization"))
		return
	}

	c, err := h.store.Create(r.Context(), CreateInput{
		OrganizationID: req.OrganizationID,
		Name:           req.Name,
		TotalRAM:       req.TotalRAM,
		TotalCPU:       req.TotalCPU,
		TotalGPU:       req.TotalGPU,
		CreatorID:      id.UserID,
	})
	if err != nil {
		httpserver.RespondAPIErr(w, apierr.Internal("failed to create cluster"))
		return
	}

	if h.audit != nil {
		detail, _ := json.Marshal(map[string]string{"name": c.Name})
		h.audit.LogFromRequest(r, "create", "cluster", c.ID, detail)
	}

	httpserver.Respond(w, http.StatusCreated, c)
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	params, err := httpserver.ParseOffsetParams(r)
	if err != nil {
		httpserver.RespondAPIErr(w, apierr.Validation(err.Error()))
		return
	}

	var orgID *int64
	if v := r.URL.Query().Get("organization_id"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			httpserver.RespondAPIErr(w, apierr.Validation("invalid organization_id"))
			return
		}
		orgID = &n
	}

	id := authz.FromContext(r.Context())
	clusters, total, err := h.store.List(r.Context(), id.UserID, orgID, params.PageSize, params.Offset)
	if err != nil {
		httpserver.RespondAPIErr(w, apierr.Internal("failed to list clusters"))
		return
	}

	httpserver.Respond(w, http.StatusOK, httpserver.NewOffsetPage(clusters, params, total))
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	clusterID, ok := parseID(w, r)
	if !ok {
		return
	}

	if !h.requireAccess(w, r, clusterID) {
		return
	}

	c, err := h.store.Get(r.Context(), clusterID)
	if err != nil {
		respondStoreErr(w, err)
		return
	}

	httpserver.Respond(w, http.StatusOK, c)
}

func (h *Handler) handleUpdate(w http.ResponseWriter, r *http.Request) {
	clusterID, ok := parseID(w, r)
	if !ok {
		return
	}

	if !h.requireAccess(w, r, clusterID) {
		return
	}

	var req updateRequest
	if !httpserver.DecodeAndValidate(w, r, &req) {
		return
	}

	c, err := h.store.Update(r.Context(), clusterID, UpdateInput{
		Name:     req.Name,
		TotalRAM: req.TotalRAM,
		TotalCPU: req.TotalCPU,
		TotalGPU: req.TotalGPU,
	})
	if err != nil {
		respondStoreErr(w, err)
		return
	}

	if h.audit != nil {
		h.audit.LogFromRequest(r, "update", "cluster", clusterID, nil)
	}

	httpserver.Respond(w, http.StatusOK, c)
}

func (h *Handler) handleDelete(w http.ResponseWriter, r *http.Request) {
	clusterID, ok := parseID(w, r)
	if !ok {
		return
	}

	if !h.requireAccess(w, r, clusterID) {
		return
	}

	deleted, err := h.store.Delete(r.Context(), clusterID)
	if err != nil {
		httpserver.RespondAPIErr(w, apierr.Internal("failed to delete cluster"))
		return
	}
	if !deleted {
		httpserver.RespondAPIErr(w, apierr.NotFound("cluster not found"))
		return
	}

	if h.audit != nil {
		h.audit.LogFromRequest(r, "delete", "cluster", clusterID, nil)
	}

	httpserver.Respond(w, http.StatusNoContent, nil)
}

// requireAccess checks that the caller belongs to the organization that owns
// clusterID, responding and returning false if not.
func (h *Handler) requireAccess(w http.ResponseWriter, r *http.Request, clusterID int64) bool {
	id := authz.FromContext(r.Context())
	allowed, err := authz.CanMutateCluster(r.Context(), h.pool, id.UserID, clusterID)
	if err != nil {
		httpserver.RespondAPIErr(w, apierr.Internal("failed to check cluster access"))
		return false
	}
	if !allowed {
		httpserver.RespondAPIErr(w, apierr.Forbidden("not a member of the owning organization"))
		return false
	}
	return true
}

func parseID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpserver.RespondAPIErr(w, apierr.Validation("invalid cluster ID"))
		return 0, false
	}
	return id, true
}

func respondStoreErr(w http.ResponseWriter, err error) {
	if ae, ok := apierr.As(err); ok {
		httpserver.RespondAPIErr(w, ae)
		return
	}
	if err == ErrNotFound {
		httpserver.RespondAPIErr(w, apierr.NotFound("cluster not found"))
		return
	}
	httpserver.RespondAPIErr(w, apierr.Internal("unexpected error"))
}
