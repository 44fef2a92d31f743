package flow

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/ehr/patientflow/internal/platform/apperr"
	"github.com/ehr/patientflow/internal/platform/auth"
)

type Handler struct {
	coord *Coordinator
}

func NewHandler(coord *Coordinator) *Handler {
	return &Handler{coord: coord}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	// Read endpoints – all clinical staff
	readGroup := api.Group("", auth.RequireRole(auth.RolePhysician, auth.RoleNurse, auth.RoleBedManager))
	readGroup.GET("/flow/overview", h.GetOverview)
	readGroup.GET("/flow/wards", h.ListWards)
	readGroup.GET("/flow/departments", h.ListDepartments)

	// Write endpoints – nurse, bed_manager
	writeGroup := api.Group("", auth.RequireRole(auth.RoleNurse, auth.RoleBedManager))
	writeGroup.POST("/queue-entries/:id/admit", h.Admit)
	writeGroup.POST("/flow/discharges/:id", h.Discharge)
}

func parseID(c echo.Context) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return uuid.Nil, echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	return id, nil
}

// Admit moves the queue entry named by the path into a bed.
func (h *Handler) Admit(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	var req AdmitRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	req.EntryID = id
	if req.AssignedBy == "" {
		req.AssignedBy = auth.UserIDFromContext(c.Request().Context())
	}
	adm, err := h.coord.AdmitFromQueue(c.Request().Context(), req)
	if err != nil {
		return apperr.HTTPError(err)
	}
	return c.JSON(http.StatusCreated, adm)
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
	a, err := h.coord.DischargeAndRelease(c.Request().Context(), id, req.Notes)
	if err != nil {
		return apperr.HTTPError(err)
	}
	return c.JSON(http.StatusOK, a)
}

func (h *Handler) GetOverview(c echo.Context) error {
	ov, err := h.coord.Overview(c.Request().Context())
	if err != nil {
		return apperr.HTTPError(err)
	}
	return c.JSON(http.StatusOK, ov)
}

func (h *Handler) ListWards(c echo.Context) error {
	wards, err := h.coord.WardBreakdown(c.Request().Context())
	if err != nil {
		return apperr.HTTPError(err)
	}
	return c.JSON(http.StatusOK, wards)
}

func (h *Handler) ListDepartments(c echo.Context) error {
	depts, err := h.coord.DepartmentBreakdown(c.Request().Context())
	if err != nil {
		return apperr.HTTPError(err)
	}
	return c.JSON(http.StatusOK, depts)
}
