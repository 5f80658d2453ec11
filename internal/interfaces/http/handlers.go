package http

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/garyjia/spend-approval/internal/application/port"
	"github.com/garyjia/spend-approval/internal/application/workflow"
	"github.com/garyjia/spend-approval/internal/domain/apperr"
	"github.com/garyjia/spend-approval/internal/domain/entity"
)

const errorCodeKey = "error_code"

// Handlers contains all HTTP request handlers
type Handlers struct {
	engine workflow.Engine
	health HealthFunc
	logger Logger
}

// NewHandlers creates a new Handlers instance
func NewHandlers(engine workflow.Engine, health HealthFunc, logger Logger) *Handlers {
	return &Handlers{
		engine: engine,
		health: health,
		logger: logger,
	}
}

// Response represents a standard JSON response. Code and Detail are set
// on failures the caller can act on.
type Response struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
	Code    string      `json:"code,omitempty"`
	Detail  interface{} `json:"detail,omitempty"`
}

// HealthResponse represents the health check response
type HealthResponse struct {
	Status     string      `json:"status"`
	Timestamp  string      `json:"timestamp"`
	Components interface{} `json:"components,omitempty"`
}

// ListRequestsQuery represents query parameters for listing requests
type ListRequestsQuery struct {
	OrgUnit   string `form:"org_unit"`
	Requester string `form:"requester"`
	Status    string `form:"status"`
	Limit     int    `form:"limit"`
	Offset    int    `form:"offset"`
}

// ActionBody is the body shared by the approval actions. Version, when
// present, is checked against the stored request before anything changes.
type ActionBody struct {
	Actor   string `json:"actor"`
	Version *int64 `json:"version,omitempty"`
	LineID  int64  `json:"line_id,omitempty"`
	Reason  string `json:"reason,omitempty"`
	Mode    string `json:"mode,omitempty"`
}

// DraftBody is the intake payload for creating or editing a draft.
// Status fields are decoded only so a payload carrying them can be refused.
type DraftBody struct {
	workflow.Draft
	Version       *int64  `json:"version,omitempty"`
	Status        *string `json:"status,omitempty"`
	WorkflowState *string `json:"workflow_state,omitempty"`
	Cancelled     *bool   `json:"cancelled,omitempty"`
}

// statusWrite reports a payload that tries to set status directly
func (b DraftBody) statusWrite() error {
	if b.Status == nil && b.WorkflowState == nil && b.Cancelled == nil {
		return nil
	}
	return fmt.Errorf("%w: status follows the approval workflow and cannot be written", apperr.ErrStatusWrite)
}

// HealthCheck handles GET /health
func (h *Handlers) HealthCheck(c *gin.Context) {
	resp := HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
	status := http.StatusOK

	if h.health != nil {
		ok, detail := h.health(c.Request.Context())
		resp.Components = detail
		if !ok {
			resp.Status = "unhealthy"
			status = http.StatusServiceUnavailable
		}
	}

	c.JSON(status, Response{
		Success: status == http.StatusOK,
		Data:    resp,
	})
}

// ListRequests handles GET /api/v1/requests
func (h *Handlers) ListRequests(c *gin.Context) {
	var q ListRequestsQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		h.badRequest(c, "invalid query parameters")
		return
	}

	if q.Limit <= 0 || q.Limit > 100 {
		q.Limit = 20
	}
	if q.Offset < 0 {
		q.Offset = 0
	}

	reqs, err := h.engine.List(c.Request.Context(), port.RequestFilter{
		OrgUnit:   q.OrgUnit,
		Requester: q.Requester,
		Status:    q.Status,
		Limit:     q.Limit,
		Offset:    q.Offset,
	})
	if err != nil {
		h.fail(c, "list requests", err)
		return
	}
	if reqs == nil {
		reqs = []*entity.SpendRequest{}
	}
	ok(c, reqs)
}

// GetRequest handles GET /api/v1/requests/:id
func (h *Handlers) GetRequest(c *gin.Context) {
	id, valid := h.pathID(c, "id")
	if !valid {
		return
	}
	req, err := h.engine.Get(c.Request.Context(), id)
	if err != nil {
		h.fail(c, "get request", err)
		return
	}
	ok(c, req)
}

// GetHistory handles GET /api/v1/requests/:id/history
func (h *Handlers) GetHistory(c *gin.Context) {
	id, valid := h.pathID(c, "id")
	if !valid {
		return
	}
	entries, err := h.engine.History(c.Request.Context(), id)
	if err != nil {
		h.fail(c, "get history", err)
		return
	}
	ok(c, entries)
}

// GetLinks handles GET /api/v1/requests/:id/links
func (h *Handlers) GetLinks(c *gin.Context) {
	id, valid := h.pathID(c, "id")
	if !valid {
		return
	}
	links, err := h.engine.Links(c.Request.Context(), id)
	if err != nil {
		h.fail(c, "get links", err)
		return
	}
	ok(c, links)
}

// GetReservations handles GET /api/v1/requests/:id/reservations
func (h *Handlers) GetReservations(c *gin.Context) {
	id, valid := h.pathID(c, "id")
	if !valid {
		return
	}
	res, err := h.engine.Reservations(c.Request.Context(), id)
	if err != nil {
		h.fail(c, "get reservations", err)
		return
	}
	ok(c, res)
}

// GetBalance handles GET /api/v1/budgets/:org/:account/:period
func (h *Handlers) GetBalance(c *gin.Context) {
	bal, err := h.engine.Balance(c.Request.Context(), entity.BudgetKey{
		OrgUnit:      c.Param("org"),
		Account:      c.Param("account"),
		FiscalPeriod: c.Param("period"),
	})
	if err != nil {
		h.fail(c, "get balance", err)
		return
	}
	ok(c, bal)
}

// Submit handles POST /api/v1/requests/:id/submit
func (h *Handlers) Submit(c *gin.Context) {
	id, body, valid := h.action(c)
	if !valid {
		return
	}
	req, err := h.engine.Submit(c.Request.Context(), id, body.options()...)
	h.respond(c, "submit", id, req, err)
}

// Approve handles POST /api/v1/requests/:id/approve
func (h *Handlers) Approve(c *gin.Context) {
	id, body, valid := h.action(c)
	if !valid {
		return
	}
	if body.Actor == "" {
		h.badRequest(c, "actor is required")
		return
	}
	req, err := h.engine.Approve(c.Request.Context(), id, body.Actor, body.options()...)
	h.respond(c, "approve", id, req, err)
}

// Reject handles POST /api/v1/requests/:id/reject
func (h *Handlers) Reject(c *gin.Context) {
	id, body, valid := h.action(c)
	if !valid {
		return
	}
	if body.Actor == "" {
		h.badRequest(c, "actor is required")
		return
	}
	req, err := h.engine.Reject(c.Request.Context(), id, body.Actor, body.Reason, body.options()...)
	h.respond(c, "reject", id, req, err)
}

// Cancel handles POST /api/v1/requests/:id/cancel. Mode defaults to manual.
func (h *Handlers) Cancel(c *gin.Context) {
	id, body, valid := h.action(c)
	if !valid {
		return
	}
	mode := entity.CancelManual
	if body.Mode != "" {
		mode = entity.CancelMode(body.Mode)
	}
	if !mode.IsValid() {
		h.badRequest(c, "mode must be manual or cascade")
		return
	}
	req, err := h.engine.Cancel(c.Request.Context(), id, mode, body.options()...)
	h.respond(c, "cancel", id, req, err)
}

// Reopen handles POST /api/v1/requests/:id/reopen
func (h *Handlers) Reopen(c *gin.Context) {
	id, body, valid := h.action(c)
	if !valid {
		return
	}
	req, err := h.engine.Reopen(c.Request.Context(), id, body.options()...)
	h.respond(c, "reopen", id, req, err)
}

// CreateDraft handles POST /api/v1/intake/requests
func (h *Handlers) CreateDraft(c *gin.Context) {
	var body DraftBody
	if err := c.ShouldBindJSON(&body); err != nil {
		h.badRequest(c, "invalid request body: "+err.Error())
		return
	}
	if err := body.statusWrite(); err != nil {
		h.fail(c, "create draft", err)
		return
	}
	req, err := h.engine.CreateDraft(c.Request.Context(), body.Draft)
	if err != nil {
		h.fail(c, "create draft", err)
		return
	}
	c.JSON(http.StatusCreated, Response{Success: true, Data: req})
}

// UpdateDraft handles PUT /api/v1/intake/requests/:id
func (h *Handlers) UpdateDraft(c *gin.Context) {
	id, valid := h.pathID(c, "id")
	if !valid {
		return
	}
	var body DraftBody
	if err := c.ShouldBindJSON(&body); err != nil {
		h.badRequest(c, "invalid request body: "+err.Error())
		return
	}
	if err := body.statusWrite(); err != nil {
		h.fail(c, "update draft", err, "request_id", id)
		return
	}
	var opts []workflow.Option
	if body.Version != nil {
		opts = append(opts, workflow.ExpectVersion(*body.Version))
	}
	req, err := h.engine.UpdateDraft(c.Request.Context(), id, body.Draft, opts...)
	h.respond(c, "update draft", id, req, err)
}

// RecordArtifact handles POST /api/v1/intake/requests/:id/artifacts
func (h *Handlers) RecordArtifact(c *gin.Context) {
	id, valid := h.pathID(c, "id")
	if !valid {
		return
	}
	var report workflow.ArtifactReport
	if err := c.ShouldBindJSON(&report); err != nil {
		h.badRequest(c, "invalid request body: "+err.Error())
		return
	}
	link, err := h.engine.RecordArtifact(c.Request.Context(), id, report)
	if err != nil {
		h.fail(c, "record artifact", err)
		return
	}
	c.JSON(http.StatusCreated, Response{Success: true, Data: link})
}

// UpdateArtifact handles PUT /api/v1/intake/artifacts/:link_id
func (h *Handlers) UpdateArtifact(c *gin.Context) {
	linkID, valid := h.pathID(c, "link_id")
	if !valid {
		return
	}
	var update workflow.ArtifactUpdate
	if err := c.ShouldBindJSON(&update); err != nil {
		h.badRequest(c, "invalid request body: "+err.Error())
		return
	}
	link, err := h.engine.UpdateArtifactState(c.Request.Context(), linkID, update)
	if err != nil {
		h.fail(c, "update artifact", err)
		return
	}
	ok(c, link)
}

func (b ActionBody) options() []workflow.Option {
	var opts []workflow.Option
	if b.Version != nil {
		opts = append(opts, workflow.ExpectVersion(*b.Version))
	}
	if b.LineID != 0 {
		opts = append(opts, workflow.ForLine(b.LineID))
	}
	if b.Actor != "" {
		opts = append(opts, workflow.WithActor(b.Actor))
	}
	return opts
}

// action parses the path id and the optional JSON body of an action call.
// An empty body is accepted.
func (h *Handlers) action(c *gin.Context) (int64, ActionBody, bool) {
	var body ActionBody
	id, valid := h.pathID(c, "id")
	if !valid {
		return 0, body, false
	}
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&body); err != nil {
			h.badRequest(c, "invalid request body: "+err.Error())
			return 0, body, false
		}
	}
	return id, body, true
}

func (h *Handlers) pathID(c *gin.Context, name string) (int64, bool) {
	raw := c.Param(name)
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		h.badRequest(c, "invalid "+name)
		return 0, false
	}
	return id, true
}

func (h *Handlers) respond(c *gin.Context, op string, id int64, req *entity.SpendRequest, err error) {
	if err != nil {
		h.fail(c, op, err, "request_id", id)
		return
	}
	ok(c, req)
}

// fail writes the classified error. Only unexpected failures are logged
// at error level, since business refusals are part of normal traffic.
func (h *Handlers) fail(c *gin.Context, op string, err error, kv ...interface{}) {
	status, code, detail := classify(err)
	c.Set(errorCodeKey, code)

	fields := append([]interface{}{"op", op, "code", code, "error", err}, kv...)
	if status >= http.StatusInternalServerError {
		h.logger.Error("Request failed", fields...)
	} else {
		h.logger.Info("Request refused", fields...)
	}

	msg := err.Error()
	if status >= http.StatusInternalServerError {
		msg = op + " failed"
	}
	c.JSON(status, Response{
		Success: false,
		Error:   msg,
		Code:    code,
		Detail:  detail,
	})
}

func (h *Handlers) badRequest(c *gin.Context, msg string) {
	c.Set(errorCodeKey, CodeValidation)
	c.JSON(http.StatusBadRequest, Response{
		Success: false,
		Error:   msg,
		Code:    CodeValidation,
	})
}

func ok(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, Response{Success: true, Data: data})
}
