package api

import (
	"fmt"
	"net/http"

	"studiobook/internal/clock"
	"studiobook/internal/domain"
	"studiobook/internal/models"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
)

type requestValidator struct {
	v *validator.Validate
}

func newRequestValidator() *requestValidator {
	return &requestValidator{v: validator.New()}
}

func (r *requestValidator) Validate(i interface{}) error {
	return r.v.Struct(i)
}

func bindValid(c echo.Context, req interface{}) error {
	if err := c.Bind(req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	return c.Validate(req)
}

type createBookingsRequest struct {
	UserID int64 `json:"user_id" validate:"omitempty,gt=0"`
	// Quantity nil books a single place. Values below 1 are rejected by the booking engine.
	Quantity *int   `json:"quantity"`
	Status   string `json:"status" validate:"omitempty,oneof=pending confirmed waiting cancelled"`
}

type userRequest struct {
	UserID int64 `json:"user_id" validate:"omitempty,gt=0"`
}

type childrenRequest struct {
	ChildIDs []int64 `json:"child_ids" validate:"dive,gt=0"`
}

type classOptionRequest struct {
	Name         string `json:"name" validate:"required,max=255"`
	Places       int    `json:"places" validate:"required,min=1"`
	Description  string `json:"description" validate:"max=2000"`
	Type         string `json:"type" validate:"omitempty,oneof=adult child"`
	TrialEnabled bool   `json:"trial_enabled"`
}

func (r classOptionRequest) toModel(id int64) *models.ClassOption {
	return &models.ClassOption{
		ID:           id,
		Name:         r.Name,
		Places:       r.Places,
		Description:  r.Description,
		Type:         r.Type,
		TrialEnabled: r.TrialEnabled,
	}
}

type generateRequest struct {
	TenantID      string `json:"tenant_id" validate:"max=64"`
	Start         string `json:"start" validate:"required,datetime=2006-01-02"`
	End           string `json:"end" validate:"required,datetime=2006-01-02"`
	ClearExisting bool   `json:"clear_existing"`
	Async         bool   `json:"async"`
}

func (r generateRequest) toModel() (models.GenerationRequest, error) {
	start, end, err := parseRange(r.Start, r.End)
	if err != nil {
		return models.GenerationRequest{}, err
	}
	return models.GenerationRequest{TenantID: r.TenantID, Start: start, End: end, ClearExisting: r.ClearExisting}, nil
}

type publishRequest struct {
	TenantID string `json:"tenant_id" validate:"max=64"`
	From     string `json:"from" validate:"required,datetime=2006-01-02"`
	To       string `json:"to" validate:"required,datetime=2006-01-02"`
}

func parseRange(from, to string) (clock.Date, clock.Date, error) {
	start, err := clock.ParseDate(from)
	if err != nil {
		return clock.Date{}, clock.Date{}, domain.NewError(domain.KindValidation, "invalid start date %q", from)
	}
	end, err := clock.ParseDate(to)
	if err != nil {
		return clock.Date{}, clock.Date{}, domain.NewError(domain.KindValidation, "invalid end date %q", to)
	}
	if end.Before(start) {
		return clock.Date{}, clock.Date{}, domain.NewError(domain.KindValidation, "end date %s is before start date %s", end, start)
	}
	return start, end, nil
}

func parseOptionalDate(raw, name string) (clock.Date, error) {
	if raw == "" {
		return clock.Date{}, nil
	}
	d, err := clock.ParseDate(raw)
	if err != nil {
		return clock.Date{}, domain.NewError(domain.KindValidation, "invalid %s date %q", name, raw)
	}
	return d, nil
}

type bookingsResponse struct {
	Bookings []models.Booking `json:"bookings"`
}

type statusResponse struct {
	LessonID int64               `json:"lesson_id"`
	Status   models.LessonStatus `json:"status"`
}

type capacityResponse struct {
	LessonID  int64 `json:"lesson_id"`
	Remaining int   `json:"remaining"`
}

func idempotencyScope(p Principal, lessonID int64, key string) string {
	return fmt.Sprintf("%s:lesson:%d:%s", p.Client, lessonID, key)
}
