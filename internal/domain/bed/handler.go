package bed

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/ehr/patientflow/internal/platform/apperr"
	"github.com/ehr/patientflow/internal/platform/auth"
	"github.com/ehr/patientflow/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	// Read endpoints – all clinical staff
	readGroup := api.Group("", auth.RequireRole(auth.RolePhysician, auth.RoleNurse, auth.RoleBedManager))
	readGroup.GET("/beds", h.ListBeds)
	readGroup.GET("/beds/summary", h.GetSummary)
	readGroup.GET("/beds/:id", h.GetBed)
	readGroup.GET("/bed-assignments", h.ListAssignments)
	readGroup.GET("/bed-assignments/:id", h.GetAssignment)

	// Write endpoints – nurse, bed_manager
	writeGroup := api.Group("", auth.RequireRole(auth.RoleNurse, auth.RoleBedManager))
	writeGroup.POST("/beds", h.CreateBed)
	writeGroup.PUT("/beds/:id/maintenance", h.SetMaintenance)
	writeGroup.PUT("/beds/:id/reservation", h.SetReserved)
	writeGroup.POST("/beds/:id/assignments", h.Assign)
	writeGroup.POST("/bed-assignments/:id/discharge", h.Discharge)
	writeGroup.POST("/bed-assignments/:id/transfer", h.Transfer)
}

func parseID(c echo.Context) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return uuid.Nil, echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	return id, nil
}

// -- Bed Handlers --

func (h *Handler) CreateBed(c echo.Context) error {
	var b Bed
	if err := c.Bind(&b); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := h.svc.CreateBed(c.Request().Context(), &b); err != nil {
		return apperr.HTTPError(err)
	}
	return c.JSON(http.StatusCreated, b)
}

func (h *Handler) GetBed(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	b, err := h.svc.GetBed(c.Request().Context(), id)
	if err != nil {
		return apperr.HTTPError(err)
	}
	return c.JSON(http.StatusOK, b)
}

func (h *Handler) ListBeds(c echo.Context) error {
	pg := pagination.FromContext(c)
	filters := pagination.Filters(c, "ward", "bed_type", "status", "bed_number")
	items, total, err := h.svc.SearchBeds(c.Request().Context(), filters, pg.Limit, pg.Offset)
	if err != nil {
		return apperr.HTTPError(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

func (h *Handler) GetSummary(c echo.Context) error {
	sum, err := h.svc.Summary(c.Request().Context())
	if err != nil {
		return apperr.HTTPError(err)
	}
	return c.JSON(http.StatusOK, sum)
}

type toggleRequest struct {
	Enabled *bool `json:"enabled"`
}

func (h *Handler) toggle(c echo.Context, set func(echo.Context, uuid.UUID, bool) (*Bed, error)) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	var req toggleRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.Enabled == nil {
		return echo.NewHTTPError(http.StatusBadRequest, "enabled is required")
	}
	b, err := set(c, id, *req.Enabled)
	if err != nil {
		return apperr.HTTPError(err)
	}
	return c.JSON(http.StatusOK, b)
}

func (h *Handler) SetMaintenance(c echo.Context) error {
	return h.toggle(c, func(c echo.Context, id uuid.UUID, on bool) (*Bed, error) {
		return h.svc.SetMaintenance(c.Request().Context(), id, on)
	})
}

func (h *Handler) SetReserved(c echo.Context) error {
	return h.toggle(c, func(c echo.Context, id uuid.UUID, on bool) (*Bed, error) {
		return h.svc.SetReserved(c.Request().Context(), id, on)
	})
}

// -- Assignment Handlers --

// Assign places a patient in the bed named by the path. assigned_by defaults
// to the authenticated user.
func (h *Handler) Assign(c echo.Context) error {
	bedID, err := parseID(c)
	if err != nil {
		return err
	}
	var req AssignRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	req.BedID = bedID
	if req.AssignedBy == "" {
		req.AssignedBy = auth.UserIDFromContext(c.Request().Context())
	}
	a, err := h.svc.Assign(c.Request().Context(), req)
	if err != nil {
		return apperr.HTTPError(err)
	}
	return c.JSON(http.StatusCreated, a)
}

type dischargeRequest struct {
	Notes *string `json:"notes"`
}

func (h *Handler) Discharge(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	var req dischargeRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	a, err := h.svc.Discharge(c.Request().Context(), id, req.Notes)
	if err != nil {
		return apperr.HTTPError(err)
	}
	return c.JSON(http.StatusOK, a)
}

type transferRequest struct {
	ToBedID uuid.UUID `json:"to_bed_id"`
	Notes   *string   `json:"notes"`
}

func (h *Handler) Transfer(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	var req transferRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	actor := auth.UserIDFromContext(c.Request().Context())
	a, err := h.svc.Transfer(c.Request().Context(), id, req.ToBedID, actor, req.Notes)
	if err != nil {
		return apperr.HTTPError(err)
	}
	return c.JSON(http.StatusCreated, a)
}

func (h *Handler) GetAssignment(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	a, err := h.svc.GetAssignment(c.Request().Context(), id)
	if err != nil {
		return apperr.HTTPError(err)
	}
	return c.JSON(http.StatusOK, a)
}

func (h *Handler) ListAssignments(c echo.Context) error {
	pg := pagination.FromContext(c)
	filters := pagination.Filters(c, "bed_id", "patient_id", "status", "assigned_by")
	items, total, err := h.svc.SearchAssignments(c.Request().Context(), filters, pg.Limit, pg.Offset)
	if err != nil {
		return apperr.HTTPError(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}
