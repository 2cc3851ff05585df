package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"

	"github.com/gofiber/fiber/v3"

	"datadesk/internal/email"
	"datadesk/internal/metrics"
	"datadesk/internal/models"
	"datadesk/internal/service"
	"datadesk/internal/sheet"
)

// RequestHandler serves the request API.
type RequestHandler struct {
	svc *service.Service
}

// NewRequestHandler creates a new API request handler.
func NewRequestHandler(svc *service.Service) *RequestHandler {
	return &RequestHandler{svc: svc}
}

// Register mounts the request routes on r.
func (h *RequestHandler) Register(r fiber.Router) {
	r.Get("/requests", h.List)
	r.Post("/requests", h.Create)
	r.Get("/requests/:id", h.Get)
	r.Put("/requests/:id", h.Update)
	r.Put("/requests/:id/status", h.UpdateStatus)
	r.Post("/requests/:id/submissions", h.AddSubmission)
	r.Get("/requests/:id/sheet", h.Sheet)
	r.Put("/requests/:id/sheet", h.SaveSheet)
	r.Get("/requests/:id/progress", h.Progress)
	r.Get("/stats", h.Stats)
}

// List returns all requests.
func (h *RequestHandler) List(c fiber.Ctx) error {
	requests, err := h.svc.ListRequests(c.Context())
	if err != nil {
		return serviceError(c, err, "fetch requests")
	}
	if requests == nil {
		requests = []models.Request{}
	}
	return jsonSuccess(c, requests)
}

// Get returns a single request by id.
func (h *RequestHandler) Get(c fiber.Ctx) error {
	req, err := h.svc.GetRequest(c.Context(), c.Params("id"))
	if err != nil {
		return serviceError(c, err, "fetch request")
	}
	return jsonSuccess(c, req)
}

// Create stores a new request and queues its notification. Notification
// problems are returned as a warning on a successful response.
func (h *RequestHandler) Create(c fiber.Ctx) error {
	var body service.CreateInput
	if err := json.Unmarshal(c.Body(), &body); err != nil {
		return jsonError(c, fiber.StatusBadRequest, "invalid request body")
	}

	res, err := h.svc.CreateRequest(c.Context(), body)
	if err != nil {
		return serviceError(c, err, "create request")
	}

	return jsonStatus(c, fiber.StatusCreated, res.Request, notificationWarning(res.Notification))
}

func notificationWarning(n models.NotificationStatus) string {
	switch n.Reason {
	case "":
		return ""
	case email.ReasonMissingConfig:
		return "request saved; email is not configured, so no notification was sent"
	case email.ReasonNoRecipients:
		return "request saved; the request has no recipients, so no notification was sent"
	default:
		return "request saved; the notification could not be queued (" + n.Reason + ")"
	}
}

// Update applies a partial update. The id in the path always wins.
func (h *RequestHandler) Update(c fiber.Ctx) error {
	var body service.UpdateInput
	if err := json.Unmarshal(c.Body(), &body); err != nil {
		return jsonError(c, fiber.StatusBadRequest, "invalid request body")
	}

	req, report, err := h.svc.UpdateRequest(c.Context(), c.Params("id"), body)
	if err != nil {
		return serviceError(c, err, "update request")
	}

	warning := ""
	if report != nil {
		warning = reportWarning(*report)
	}
	return jsonStatus(c, fiber.StatusOK, req, warning)
}

// UpdateStatus changes the request status.
func (h *RequestHandler) UpdateStatus(c fiber.Ctx) error {
	var body struct {
		Status string `json:"status"`
	}
	if err := json.Unmarshal(c.Body(), &body); err != nil {
		return jsonError(c, fiber.StatusBadRequest, "invalid request body")
	}
	if body.Status == "" {
		return jsonError(c, fiber.StatusBadRequest, "status is required")
	}

	req, err := h.svc.UpdateStatus(c.Context(), c.Params("id"), body.Status)
	if err != nil {
		return serviceError(c, err, "update status")
	}
	return jsonSuccess(c, req)
}

// AddSubmission records a department submission.
func (h *RequestHandler) AddSubmission(c fiber.Ctx) error {
	var body service.SubmissionInput
	if err := json.Unmarshal(c.Body(), &body); err != nil {
		return jsonError(c, fiber.StatusBadRequest, "invalid request body")
	}

	req, err := h.svc.AddSubmission(c.Context(), c.Params("id"), body)
	if err != nil {
		return serviceError(c, err, "add submission")
	}

	metrics.RecordSubmission(body.Completed)
	return jsonStatus(c, fiber.StatusCreated, req, "")
}

// Sheet returns the combined view of a request.
func (h *RequestHandler) Sheet(c fiber.Ctx) error {
	view, err := h.svc.CombinedView(c.Context(), c.Params("id"))
	if err != nil {
		return serviceError(c, err, "fetch sheet")
	}
	return jsonSuccess(c, view)
}

// SaveSheet stores an edited combined view. The body is either an array of
// tagged rows or an object with a "rows" field.
func (h *RequestHandler) SaveSheet(c fiber.Ctx) error {
	rows, err := decodeTaggedRows(c.Body())
	if errors.Is(err, errRowsRequired) {
		return jsonError(c, fiber.StatusBadRequest, err.Error())
	}
	if err != nil {
		return jsonError(c, fiber.StatusBadRequest, "invalid request body")
	}

	req, report, err := h.svc.SaveCombinedView(c.Context(), c.Params("id"), rows)
	if err != nil {
		return serviceError(c, err, "save sheet")
	}
	return jsonStatus(c, fiber.StatusOK, req, reportWarning(report))
}

var errRowsRequired = errors.New("rows is required")

// decodeTaggedRows accepts an array or {"rows": [...]}. A missing or null
// rows field is an error; clearing the sheet takes an explicit empty array.
func decodeTaggedRows(data []byte) ([]models.TaggedRow, error) {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '[' {
		rows := []models.TaggedRow{}
		err := json.Unmarshal(data, &rows)
		return rows, err
	}

	var body struct {
		Rows *[]models.TaggedRow `json:"rows"`
	}
	if err := json.Unmarshal(data, &body); err != nil {
		return nil, err
	}
	if body.Rows == nil {
		return nil, errRowsRequired
	}
	return *body.Rows, nil
}

func reportWarning(r sheet.Report) string {
	if len(r.CreatedDepartments) == 0 {
		return ""
	}
	return "created submissions for departments without one: " + strings.Join(r.CreatedDepartments, ", ")
}

// Progress returns the completion summary of a request.
func (h *RequestHandler) Progress(c fiber.Ctx) error {
	p, err := h.svc.Progress(c.Context(), c.Params("id"))
	if err != nil {
		return serviceError(c, err, "fetch progress")
	}
	return jsonSuccess(c, p)
}

// Stats returns dashboard counts.
func (h *RequestHandler) Stats(c fiber.Ctx) error {
	st, err := h.svc.Stats(c.Context())
	if err != nil {
		return serviceError(c, err, "fetch stats")
	}
	return jsonSuccess(c, st)
}
