package medicine

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/medrem/medrem/internal/platform/apperr"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.POST("/add-medicine", h.AddMedicine)
	api.GET("/medicines", h.ListMedicines)
	api.PUT("/medicines/:id", h.UpdateMedicine)
	api.DELETE("/medicines/:id", h.DeleteMedicine)
	api.POST("/upload-medicine-image", h.UploadImage)
	api.POST("/mark-completed", h.MarkCompleted)
	api.POST("/mark-taken", h.MarkTaken)
	api.POST("/mark-missed", h.MarkMissed)
	api.POST("/mark-snoozed", h.MarkSnoozed)
}

// quantity accepts a JSON number, a numeric string, "" or null. The last two
// mean "not supplied".
type quantity struct {
	Value *int
}

func (q *quantity) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if string(b) == "null" {
		return nil
	}
	var raw interface{}
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	switch v := raw.(type) {
	case float64:
		if v != float64(int(v)) {
			return fmt.Errorf("totalQuantity must be a whole number")
		}
		n := int(v)
		q.Value = &n
	case string:
		if strings.TrimSpace(v) == "" {
			return nil
		}
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("totalQuantity must be a number")
		}
		q.Value = &n
	default:
		return fmt.Errorf("totalQuantity must be a number")
	}
	return nil
}

type addMedicineRequest struct {
	Name          string   `json:"name"`
	Times         []string `json:"times"`
	TimeUTC       string   `json:"timeUTC"`
	Time          string   `json:"time"`
	PatientID     string   `json:"patientId"`
	CreatedBy     string   `json:"createdBy"`
	ScheduledDate string   `json:"scheduledDate"`
	TotalQuantity quantity `json:"totalQuantity"`
	StartDate     string   `json:"startDate"`
	EndDate       string   `json:"endDate"`
}

func (r addMedicineRequest) doseTimes() []string {
	if r.Times != nil {
		return r.Times
	}
	if r.TimeUTC != "" {
		return []string{r.TimeUTC}
	}
	if r.Time != "" {
		return []string{r.Time}
	}
	return nil
}

// bindBody binds the request body, keeping the decoder's reason (such as a
// malformed totalQuantity) in the validation message.
func bindBody(c echo.Context, dst interface{}) error {
	err := c.Bind(dst)
	if err == nil {
		return nil
	}
	var he *echo.HTTPError
	if errors.As(err, &he) && he.Internal != nil {
		err = he.Internal
	}
	return apperr.Validation(fmt.Sprintf("invalid request body: %v", err))
}

func (h *Handler) AddMedicine(c echo.Context) error {
	var req addMedicineRequest
	if err := bindBody(c, &req); err != nil {
		return err
	}
	patientID, err := parseID("patientId", req.PatientID)
	if err != nil {
		return err
	}
	createdBy, err := parseID("createdBy", req.CreatedBy)
	if err != nil {
		return err
	}

	m, err := h.svc.CreateMedicine(c.Request().Context(), CreateMedicineInput{
		Name:          req.Name,
		Times:         req.doseTimes(),
		PatientID:     patientID,
		CreatedBy:     createdBy,
		ScheduledDate: req.ScheduledDate,
		TotalQuantity: req.TotalQuantity.Value,
		StartDate:     req.StartDate,
		EndDate:       req.EndDate,
	})
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"success": true, "medicine": m})
}

func (h *Handler) ListMedicines(c echo.Context) error {
	patientID, err := parseID("patientId", c.QueryParam("patientId"))
	if err != nil {
		return err
	}
	out, err := h.svc.ListMedicines(c.Request().Context(), patientID)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"success": true, "medicines": out})
}

type updateMedicineRequest struct {
	Name          *string  `json:"name"`
	Times         []string `json:"times"`
	TotalQuantity quantity `json:"totalQuantity"`
	ImageURL      *string  `json:"imageUrl"`
}

func (h *Handler) UpdateMedicine(c echo.Context) error {
	id, err := parseID("id", c.Param("id"))
	if err != nil {
		return err
	}
	var req updateMedicineRequest
	if err := bindBody(c, &req); err != nil {
		return err
	}
	m, err := h.svc.UpdateMedicine(c.Request().Context(), id, UpdateMedicineInput{
		Name:          req.Name,
		Times:         req.Times,
		TotalQuantity: req.TotalQuantity.Value,
		ImageURL:      req.ImageURL,
	})
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"success": true, "medicine": m})
}

func (h *Handler) DeleteMedicine(c echo.Context) error {
	id, err := parseID("id", c.Param("id"))
	if err != nil {
		return err
	}
	if err := h.svc.DeleteMedicine(c.Request().Context(), id); err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"success": true, "message": "Medicine deleted successfully"})
}

func (h *Handler) UploadImage(c echo.Context) error {
	medicineID, err := parseID("medicineId", c.FormValue("medicineId"))
	if err != nil {
		return err
	}
	file, err := c.FormFile("image")
	if err != nil {
		return apperr.Validation("No image uploaded")
	}
	src, err := file.Open()
	if err != nil {
		return fmt.Errorf("open uploaded file: %w", err)
	}
	defer src.Close()

	m, err := h.svc.AttachImage(c.Request().Context(), medicineID, file.Filename, src)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"success": true, "medicine": m})
}

type doseRequest struct {
	MedicineID string `json:"medicineId"`
	PatientID  string `json:"patientId"`
	TimeUTC    string `json:"timeUTC"`
}

func (h *Handler) bindDose(c echo.Context) (doseRequest, uuid.UUID, error) {
	var req doseRequest
	if err := c.Bind(&req); err != nil {
		return req, uuid.Nil, apperr.Validation("invalid request body")
	}
	id, err := parseID("medicineId", req.MedicineID)
	return req, id, err
}

func (h *Handler) MarkCompleted(c echo.Context) error {
	_, id, err := h.bindDose(c)
	if err != nil {
		return err
	}
	m, err := h.svc.MarkCompleted(c.Request().Context(), id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"success": true, "medicine": m})
}

func (h *Handler) MarkTaken(c echo.Context) error {
	req, id, err := h.bindDose(c)
	if err != nil {
		return err
	}
	res, err := h.svc.MarkTaken(c.Request().Context(), id, req.TimeUTC)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"success":      true,
		"message":      "Medicine marked as taken",
		"entryMatched": res.Matched,
	})
}

func (h *Handler) MarkMissed(c echo.Context) error {
	req, id, err := h.bindDose(c)
	if err != nil {
		return err
	}
	patientID, err := parseID("patientId", req.PatientID)
	if err != nil {
		return err
	}
	res, err := h.svc.MarkMissed(c.Request().Context(), id, req.TimeUTC, patientID)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"success":      true,
		"message":      "Medicine marked as missed, caregiver notified",
		"entryMatched": res.Matched,
		"notified":     len(res.Notifications),
	})
}

func (h *Handler) MarkSnoozed(c echo.Context) error {
	req, id, err := h.bindDose(c)
	if err != nil {
		return err
	}
	res, err := h.svc.MarkSnoozed(c.Request().Context(), id, req.TimeUTC)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"success":      true,
		"message":      "Medicine snoozed",
		"entryMatched": res.Matched,
	})
}

func parseID(field, raw string) (uuid.UUID, error) {
	if strings.TrimSpace(raw) == "" {
		return uuid.Nil, apperr.Validation(field + " is required")
	}
	id, err := uuid.Parse(strings.TrimSpace(raw))
	if err != nil {
		return uuid.Nil, apperr.Validation(field + " must be a valid id")
	}
	return id, nil
}
