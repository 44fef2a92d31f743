package queue

import (
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/ehr/patientflow/internal/domain/triage"
	"github.com/ehr/patientflow/internal/platform/apperr"
	"github.com/ehr/patientflow/internal/platform/auth"
	"github.com/ehr/patientflow/pkg/pagination"
)

type Handler struct {
	svc       *Service
	slaWindow time.Duration
}

// NewHandler serves the queue ledger. slaWindow is the default look-back for
// SLA reports when the request names none.
func NewHandler(svc *Service, slaWindow time.Duration) *Handler {
	if slaWindow <= 0 {
		slaWindow = 24 * time.Hour
	}
	return &Handler{svc: svc, slaWindow: slaWindow}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	// Read endpoints – all clinical staff
	readGroup := api.Group("", auth.RequireRole(auth.RolePhysician, auth.RoleNurse, auth.RoleBedManager))
	readGroup.GET("/queue-entries", h.ListEntries)
	readGroup.GET("/queue-entries/:id", h.GetEntry)
	readGroup.GET("/queue-entries/:id/events", h.ListEvents)
	readGroup.GET("/queue-entries/:id/durations/:status", h.GetDuration)
	readGroup.GET("/departments/:department/queue", h.ListWaiting)
	readGroup.GET("/departments/:department/queue/next", h.GetNext)
	readGroup.GET("/departments/:department/sla", h.GetSLA)

	// Write endpoints – physician, nurse
	writeGroup := api.Group("", auth.RequireRole(auth.RolePhysician, auth.RoleNurse))
	writeGroup.POST("/queue-entries", h.Enqueue)
	writeGroup.PUT("/queue-entries/:id/priority", h.Reprioritize)
	writeGroup.POST("/queue-entries/:id/transitions", h.Transition)
}

func parseID(c echo.Context) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return uuid.Nil, echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	return id, nil
}

// priorityInput accepts either a numeric priority or a triage category.
type priorityInput struct {
	Priority       *int   `json:"priority"`
	TriageCategory string `json:"triage_category"`
}

func (p priorityInput) resolve() (int, error) {
	if p.TriageCategory != "" {
		return triage.Rank(p.TriageCategory)
	}
	if p.Priority == nil {
		return 0, apperr.Validation("priority or triage_category is required")
	}
	return *p.Priority, nil
}

type enqueueRequest struct {
	Department string    `json:"department"`
	CheckinID  uuid.UUID `json:"checkin_id"`
	PatientID  uuid.UUID `json:"patient_id"`
	priorityInput
}

func (h *Handler) Enqueue(c echo.Context) error {
	var req enqueueRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	priority, err := req.resolve()
	if err != nil {
		return apperr.HTTPError(err)
	}
	e, err := h.svc.Enqueue(c.Request().Context(), EnqueueRequest{
		Department: req.Department,
		CheckinID:  req.CheckinID,
		PatientID:  req.PatientID,
		Priority:   priority,
	})
	if err != nil {
		return apperr.HTTPError(err)
	}
	return c.JSON(http.StatusCreated, e)
}

func (h *Handler) Reprioritize(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	var req priorityInput
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	priority, err := req.resolve()
	if err != nil {
		return apperr.HTTPError(err)
	}
	e, err := h.svc.Reprioritize(c.Request().Context(), id, priority)
	if err != nil {
		return apperr.HTTPError(err)
	}
	return c.JSON(http.StatusOK, e)
}

type transitionRequest struct {
	Status Status `json:"status"`
}

func (h *Handler) Transition(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	var req transitionRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	e, err := h.svc.Transition(c.Request().Context(), id, req.Status)
	if err != nil {
		return apperr.HTTPError(err)
	}
	return c.JSON(http.StatusOK, e)
}

func (h *Handler) GetEntry(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	e, err := h.svc.GetEntry(c.Request().Context(), id)
	if err != nil {
		return apperr.HTTPError(err)
	}
	return c.JSON(http.StatusOK, e)
}

func (h *Handler) ListEntries(c echo.Context) error {
	pg := pagination.FromContext(c)
	filters := pagination.Filters(c, "department", "status", "checkin_id", "patient_id")
	items, total, err := h.svc.SearchEntries(c.Request().Context(), filters, pg.Limit, pg.Offset)
	if err != nil {
		return apperr.HTTPError(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

func (h *Handler) ListEvents(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	events, err := h.svc.Events(c.Request().Context(), id)
	if err != nil {
		return apperr.HTTPError(err)
	}
	return c.JSON(http.StatusOK, events)
}

type durationResponse struct {
	EntryID uuid.UUID `json:"entry_id"`
	Status  Status    `json:"status"`
	Seconds float64   `json:"seconds"`
	Minutes float64   `json:"minutes"`
}

func (h *Handler) GetDuration(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	status := Status(c.Param("status"))
	d, err := h.svc.DurationIn(c.Request().Context(), id, status)
	if err != nil {
		return apperr.HTTPError(err)
	}
	return c.JSON(http.StatusOK, durationResponse{
		EntryID: id,
		Status:  status,
		Seconds: d.Seconds(),
		Minutes: round2(d.Minutes()),
	})
}

func (h *Handler) ListWaiting(c echo.Context) error {
	items, err := h.svc.Waiting(c.Request().Context(), c.Param("department"))
	if err != nil {
		return apperr.HTTPError(err)
	}
	return c.JSON(http.StatusOK, items)
}

// GetNext answers 204 when nobody is waiting.
func (h *Handler) GetNext(c echo.Context) error {
	e, err := h.svc.Next(c.Request().Context(), c.Param("department"))
	if err != nil {
		return apperr.HTTPError(err)
	}
	if e == nil {
		return c.NoContent(http.StatusNoContent)
	}
	return c.JSON(http.StatusOK, e)
}

// GetSLA reads ?status= (default waiting), ?window= (Go duration) and ?p=
// (default 95).
func (h *Handler) GetSLA(c echo.Context) error {
	status := StatusWaiting
	if v := c.QueryParam("status"); v != "" {
		status = Status(v)
	}
	window := h.slaWindow
	if v := c.QueryParam("window"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid window")
		}
		window = d
	}
	p := 95.0
	if v := c.QueryParam("p"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid p")
		}
		p = f
	}
	report, err := h.svc.PercentileWait(c.Request().Context(), c.Param("department"), status, window, p)
	if err != nil {
		return apperr.HTTPError(err)
	}
	return c.JSON(http.StatusOK, report)
}
