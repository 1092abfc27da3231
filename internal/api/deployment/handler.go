package deployment

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/cgirish01/hypervisor-service/internal/apierr"
	"github.com/cgirish01/hypervisor-service/internal/audit"
	"github.com/cgirish01/hypervisor-service/internal/authz"
	"github.com/cgirish01/hypervisor-service/internal/engine"
	"github.com/cgirish01/hypervisor-service/internal/events"
	"github.com/cgirish01/hypervisor-service/internal/httpserver"
)

// Handler provides HTTP handlers for the deployments API.
type Handler struct {
	store     *Store
	pool      *pgxpool.Pool
	audit     *audit.Writer
	publisher *events.Publisher
}

// NewHandler creates a deployment Handler.
func NewHandler(store *Store, pool *pgxpool.Pool, auditWriter *audit.Writer, publisher *events.Publisher) *Handler {
	return &Handler{store: store, pool: pool, audit: auditWriter, publisher: publisher}
}

// Routes returns a chi.Router with deployment routes mounted.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/", h.handleCreate)
	r.Get("/", h.handleList)
	r.Route("/{id}", func(r chi.Router) {
		r.Get("/", h.handleGet)
		r.Put("/", h.handleUpdate)
		r.Delete("/", h.handleDelete)
		r.Post("/start", h.handleStart)
		r.Post("/stop", h.handleStop)
		r.Post("/cancel", h.handleCancel)
		r.Get("/dependencies", h.handleDependencies)
		r.Get("/dependents", h.handleDependents)
	})
	return r
}

type createRequest struct {
	ClusterID     int64   `json:"cluster_id" validate:"required,min=1"`
	Name          string  `json:"name" validate:"required,min=1,max=200"`
	ImageRef      string  `json:"docker_image" validate:"required,min=1,max=500"`
	RequiredRAM   float64 `json:"required_ram" validate:"gt=0"`
	RequiredCPU   float64 `json:"required_cpu" validate:"gt=0"`
	RequiredGPU   float64 `json:"required_gpu" validate:"gte=0"`
	Priority      int     `json:"priority" validate:"oneof=1 2 3"`
	DependencyIDs []int64 `json:"dependency_ids"`
}

type updateRequest struct {
	Name          *string  `json:"name" validate:"omitempty,min=1,max=200"`
	ImageRef      *string  `json:"docker_image" validate:"omitempty,min=1,max=500"`
	RequiredRAM   *float64 `json:"required_ram" validate:"omitempty,gt=0"`
	RequiredCPU   *float64 `json:"required_cpu" validate:"omitempty,gt=0"`
	RequiredGPU   *float64 `json:"required_gpu" validate:"omitempty,gte=0"`
	Priority      *int     `json:"priority" validate:"omitempty,oneof=1 2 3"`
	DependencyIDs *[]int64 `json:"dependency_ids"`
	// Status is deliberately not a field here: direct status patches are
	// rejected. Transitions happen only via /start, /stop, /cancel.
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	if !httpserver.DecodeAndValidate(w, r, &req) {
		return
	}

	id := authz.FromContext(r.Context())
	allowed, err := authz.CanMutateCluster(r.Context(), h.pool, id.UserID, req.ClusterID)
	if err != nil {
		httpserver.RespondAPIErr(w, apierr.Internal("failed to check cluster access"))
		return
	}
	if !allowed {
		httpserver.RespondAPIErr(w, apierr.Forbidden("not a member of the owning organization"))
		return
	}

	d, err := h.store.Create(r.Context(), CreateInput{
		ClusterID: req.ClusterID,
		UserID:    id.UserID,
		Name:      req.Name,
		ImageRef:  req.ImageRef,
		Required: engine.Resources{
			RAM: req.RequiredRAM, CPU: req.RequiredCPU, GPU: req.RequiredGPU,
		},
		Priority:      engine.Priority(req.Priority),
		DependencyIDs: req.DependencyIDs,
	})
	if err != nil {
		respondStoreErr(w, err)
		return
	}

	if h.audit != nil {
		detail, _ := json.Marshal(map[string]any{"name": d.Name, "cluster_id": d.ClusterID})
		h.audit.LogFromRequest(r, "create", "deployment", d.ID, detail)
	}
	h.publisher.Publish(r.Context(), events.Event{
		Kind: events.KindCreated, DeploymentID: d.ID, ClusterID: d.ClusterID, Status: d.Status,
	})

	httpserver.Respond(w, http.StatusCreated, d)
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	params, err := httpserver.ParseOffsetParams(r)
	if err != nil {
		httpserver.RespondAPIErr(w, apierr.Validation(err.Error()))
		return
	}

	var f ListFilter
	if v := r.URL.Query().Get("cluster_id"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			httpserver.RespondAPIErr(w, apierr.Validation("invalid cluster_id"))
			return
		}
		f.ClusterID = &n
	}
	if v := r.URL.Query().Get("status"); v != "" {
		f.Status = &v
	}

	id := authz.FromContext(r.Context())
	deployments, total, err := h.store.List(r.Context(), id.UserID, f, params.PageSize, params.Offset)
	if err != nil {
		httpserver.RespondAPIErr(w, apierr.Internal("failed to list deployments"))
		return
	}

	httpserver.Respond(w, http.StatusOK, httpserver.NewOffsetPage(deployments, params, total))
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	depID, ok := parseID(w, r)
	if !ok {
		return
	}
	if !h.requireAccess(w, r, depID) {
		return
	}

	d, err := h.store.Get(r.Context(), depID)
	if err != nil {
		respondStoreErr(w, err)
		return
	}

	httpserver.Respond(w, http.StatusOK, d)
}

func (h *Handler) handleUpdate(w http.ResponseWriter, r *http.Request) {
	depID, ok := parseID(w, r)
	if !ok {
		return
	}
	if !h.requireAccess(w, r, depID) {
		return
	}

	var req updateRequest
	if !httpserver.DecodeAndValidate(w, r, &req) {
		return
	}

	var required *engine.Resources
	if req.RequiredRAM != nil || req.RequiredCPU != nil || req.RequiredGPU != nil {
		current, err := h.store.Get(r.Context(), depID)
		if err != nil {
			respondStoreErr(w, err)
			return
		}
		r := engine.Resources{RAM: current.RequiredRAM, CPU: current.RequiredCPU, GPU: current.RequiredGPU}
		if req.RequiredRAM != nil {
			r.RAM = *req.RequiredRAM
		}
		if req.RequiredCPU != nil {
			r.CPU = *req.RequiredCPU
		}
		if req.RequiredGPU != nil {
			r.GPU = *req.RequiredGPU
		}
		required = &r
	}

	var priority *engine.Priority
	if req.Priority != nil {
		p := engine.Priority(*req.Priority)
		priority = &p
	}

	d, err := h.store.Update(r.Context(), depID, UpdateInput{
		Name: req.Name, ImageRef: req.ImageRef, Required: required,
		Priority: priority, DependencyIDs: req.DependencyIDs,
	})
	if err != nil {
		respondStoreErr(w, err)
		return
	}

	if h.audit != nil {
		h.audit.LogFromRequest(r, "update", "deployment", depID, nil)
	}

	httpserver.Respond(w, http.StatusOK, d)
}

func (h *Handler) handleDelete(w http.ResponseWriter, r *http.Request) {
	depID, ok := parseID(w, r)
	if !ok {
		return
	}
	if !h.requireAccess(w, r, depID) {
		return
	}

	d, err := h.store.Get(r.Context(), depID)
	if err != nil {
		respondStoreErr(w, err)
		return
	}

	deleted, err := h.store.Delete(r.Context(), depID)
	if err != nil {
		httpserver.RespondAPIErr(w, apierr.Internal("failed to delete deployment"))
		return
	}
	if !deleted {
		httpserver.RespondAPIErr(w, apierr.NotFound("deployment not found"))
		return
	}

	if h.audit != nil {
		h.audit.LogFromRequest(r, "delete", "deployment", depID, nil)
	}
	h.publisher.Publish(r.Context(), events.Event{
		Kind: events.KindDeleted, DeploymentID: depID, ClusterID: d.ClusterID,
	})

	httpserver.Respond(w, http.StatusNoContent, nil)
}

func (h *Handler) handleStart(w http.ResponseWriter, r *http.Request) {
	depID, ok := parseID(w, r)
	if !ok {
		return
	}
	if !h.requireAccess(w, r, depID) {
		return
	}

	d, err := h.store.Start(r.Context(), depID)
	if err != nil {
		respondStoreErr(w, err)
		return
	}
	if d == nil {
		httpserver.RespondAPIErr(w, apierr.StateConflict("deployment cannot start: not pending, dependencies unmet, or insufficient resources"))
		return
	}

	if h.audit != nil {
		h.audit.LogFromRequest(r, "start", "deployment", depID, nil)
	}
	h.publisher.Publish(r.Context(), events.Event{
		Kind: events.KindStarted, DeploymentID: d.ID, ClusterID: d.ClusterID, Status: d.Status,
	})

	httpserver.Respond(w, http.StatusOK, d)
}

type stopRequest struct {
	Status string `json:"status" validate:"omitempty,oneof=completed failed COMPLETED FAILED"`
}

func (h *Handler) handleStop(w http.ResponseWriter, r *http.Request) {
	depID, ok := parseID(w, r)
	if !ok {
		return
	}
	if !h.requireAccess(w, r, depID) {
		return
	}

	terminal := "COMPLETED"
	if v := r.URL.Query().Get("status"); v != "" {
		terminal = normalizeTerminal(v)
	} else {
		var req stopRequest
		if r.ContentLength > 0 {
			if !httpserver.DecodeAndValidate(w, r, &req) {
				return
			}
			if req.Status != "" {
				terminal = normalizeTerminal(req.Status)
			}
		}
	}
	if terminal != "COMPLETED" && terminal != "FAILED" {
		httpserver.RespondAPIErr(w, apierr.Validation("status must be completed or failed"))
		return
	}

	d, err := h.store.Stop(r.Context(), depID, terminal)
	if err != nil {
		respondStoreErr(w, err)
		return
	}
	if d == nil {
		httpserver.RespondAPIErr(w, apierr.StateConflict("deployment is not running"))
		return
	}

	if h.audit != nil {
		h.audit.LogFromRequest(r, "stop", "deployment", depID, nil)
	}
	h.publisher.Publish(r.Context(), events.Event{
		Kind: events.KindStopped, DeploymentID: d.ID, ClusterID: d.ClusterID, Status: d.Status,
	})

	httpserver.Respond(w, http.StatusOK, d)
}

func normalizeTerminal(v string) string {
	switch v {
	case "completed", "COMPLETED":
		return "COMPLETED"
	case "failed", "FAILED":
		return "FAILED"
	default:
		return v
	}
}

func (h *Handler) handleCancel(w http.ResponseWriter, r *http.Request) {
	depID, ok := parseID(w, r)
	if !ok {
		return
	}
	if !h.requireAccess(w, r, depID) {
		return
	}

	d, err := h.store.Cancel(r.Context(), depID)
	if err != nil {
		respondStoreErr(w, err)
		return
	}
	if d == nil {
		httpserver.RespondAPIErr(w, apierr.StateConflict("deployment is not pending"))
		return
	}

	if h.audit != nil {
		h.audit.LogFromRequest(r, "cancel", "deployment", depID, nil)
	}
	h.publisher.Publish(r.Context(), events.Event{
		Kind: events.KindCancelled, DeploymentID: d.ID, ClusterID: d.ClusterID, Status: d.Status,
	})

	httpserver.Respond(w, http.StatusOK, d)
}

func (h *Handler) handleDependencies(w http.ResponseWriter, r *http.Request) {
	depID, ok := parseID(w, r)
	if !ok {
		return
	}
	if !h.requireAccess(w, r, depID) {
		return
	}

	ids, err := h.store.Dependencies(r.Context(), depID)
	if err != nil {
		httpserver.RespondAPIErr(w, apierr.Internal("failed to load dependencies"))
		return
	}
	httpserver.Respond(w, http.StatusOK, map[string]any{"dependency_ids": ids})
}

func (h *Handler) handleDependents(w http.ResponseWriter, r *http.Request) {
	depID, ok := parseID(w, r)
	if !ok {
		return
	}
	if !h.requireAccess(w, r, depID) {
		return
	}

	ids, err := h.store.Dependents(r.Context(), depID)
	if err != nil {
		httpserver.RespondAPIErr(w, apierr.Internal("failed to load dependents"))
		return
	}
	httpserver.Respond(w, http.StatusOK, map[string]any{"dependent_ids": ids})
}

// requireAccess checks that the caller belongs to the organization that
// (transitively) owns deploymentID.
func (h *Handler) requireAccess(w http.ResponseWriter, r *http.Request, depID int64) bool {
	id := authz.FromContext(r.Context())
	allowed, err := authz.CanMutateDeployment(r.Context(), h.pool, id.UserID, depID)
	if err != nil {
		httpserver.RespondAPIErr(w, apierr.Internal("failed to check deployment access"))
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
		httpserver.RespondAPIErr(w, apierr.Validation("invalid deployment ID"))
		return 0, false
	}
	return id, true
}

func respondStoreErr(w http.ResponseWriter, err error) {
	if ae, ok := apierr.As(err); ok {
		httpserver.RespondAPIErr(w, ae)
		return
	}
	httpserver.RespondAPIErr(w, apierr.Internal("unexpected error"))
}
