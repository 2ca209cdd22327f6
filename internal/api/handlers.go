package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"studiobook/internal/domain"
	"studiobook/internal/export"
	"studiobook/internal/models"
	"studiobook/internal/repository"
	"studiobook/internal/service"

	"github.com/labstack/echo/v4"
)

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

func (s *HTTPServer) listLessons(c echo.Context) error {
	from, err := parseOptionalDate(c.QueryParam("from"), "from")
	if err != nil {
		return err
	}
	to, err := parseOptionalDate(c.QueryParam("to"), "to")
	if err != nil {
		return err
	}
	activeOnly, _ := strconv.ParseBool(c.QueryParam("active_only"))

	lessons, err := s.svc.Lessons.ListLessons(c.Request().Context(), service.LessonQuery{
		TenantID:   c.QueryParam("tenant_id"),
		From:       from,
		To:         to,
		ActiveOnly: activeOnly,
	})
	if err != nil {
		return err
	}
	if lessons == nil {
		lessons = []service.LessonDetails{}
	}
	return c.JSON(http.StatusOK, map[string]any{"lessons": lessons})
}

func (s *HTTPServer) getLesson(c echo.Context) error {
	id, err := pathID(c, "id")
	if err != nil {
		return err
	}
	d, err := s.svc.Lessons.GetLesson(c.Request().Context(), id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, d)
}

func (s *HTTPServer) getLessonForBooking(c echo.Context) error {
	id, err := pathID(c, "id")
	if err != nil {
		return err
	}
	d, err := s.svc.Lessons.GetByIDForBooking(c.Request().Context(), id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, d)
}

func (s *HTTPServer) getLessonStatus(c echo.Context) error {
	id, err := pathID(c, "id")
	if err != nil {
		return err
	}
	requested, err := queryID(c, "user_id")
	if err != nil {
		return err
	}

	var requester *int64
	if p := principalOf(c); requested != 0 || p.Actor.UserID != 0 {
		uid, err := targetUser(p, requested)
		if err != nil {
			return err
		}
		requester = &uid
	}

	st, err := s.svc.Bookings.GetBookingStatus(c.Request().Context(), id, requester)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, statusResponse{LessonID: id, Status: st})
}

func (s *HTTPServer) getRemainingCapacity(c echo.Context) error {
	id, err := pathID(c, "id")
	if err != nil {
		return err
	}
	remaining, err := s.svc.Bookings.GetRemainingCapacity(c.Request().Context(), id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, capacityResponse{LessonID: id, Remaining: remaining})
}

func (s *HTTPServer) getUserBookings(c echo.Context) error {
	id, err := pathID(c, "id")
	if err != nil {
		return err
	}
	requested, err := queryID(c, "user_id")
	if err != nil {
		return err
	}
	userID, err := targetUser(principalOf(c), requested)
	if err != nil {
		return err
	}
	bookings, err := s.svc.Bookings.GetUserBookingsForLesson(c.Request().Context(), id, userID)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, bookingsResponse{Bookings: nonNil(bookings)})
}

func (s *HTTPServer) getRoster(c echo.Context) error {
	id, err := pathID(c, "id")
	if err != nil {
		return err
	}
	d, entries, err := s.svc.Lessons.Roster(c.Request().Context(), id)
	if err != nil {
		return err
	}
	if entries == nil {
		entries = []service.RosterEntry{}
	}
	return c.JSON(http.StatusOK, map[string]any{"lesson": d, "entries": entries})
}

func (s *HTTPServer) exportRoster(c echo.Context) error {
	id, err := pathID(c, "id")
	if err != nil {
		return err
	}
	d, entries, err := s.svc.Lessons.Roster(c.Request().Context(), id)
	if err != nil {
		return err
	}
	data, err := export.Roster(d, entries, s.zone)
	if err != nil {
		return domain.WrapStorage(err, "export roster")
	}
	c.Response().Header().Set(echo.HeaderContentDisposition,
		`attachment; filename="`+export.RosterFileName(d.Lesson, s.zone)+`"`)
	return c.Blob(http.StatusOK, xlsxContentType, data)
}

func (s *HTTPServer) deleteLesson(c echo.Context) error {
	id, err := pathID(c, "id")
	if err != nil {
		return err
	}
	if err := s.svc.Lessons.DeleteLesson(c.Request().Context(), id); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

// createBookings replays the stored response when the Idempotency-Key was seen before.
func (s *HTTPServer) createBookings(c echo.Context) error {
	ctx := c.Request().Context()
	lessonID, err := pathID(c, "id")
	if err != nil {
		return err
	}
	var req createBookingsRequest
	if err := bindValid(c, &req); err != nil {
		return err
	}
	p := principalOf(c)
	userID, err := targetUser(p, req.UserID)
	if err != nil {
		return err
	}

	var scoped string
	if key := strings.TrimSpace(c.Request().Header.Get(headerIdempotencyKey)); key != "" && s.svc.Keys != nil {
		scoped = idempotencyScope(p, lessonID, key)
		rec, err := s.svc.Keys.GetRecord(ctx, scoped)
		if err != nil {
			return domain.WrapStorage(err, "idempotency lookup")
		}
		if rec != nil {
			c.Response().Header().Set(headerReplayed, "true")
			return c.JSONBlob(rec.Status, rec.Body)
		}
	}
	if err := s.checkBookingRate(c, p); err != nil {
		return err
	}

	bookings, err := bookPlaces(ctx, s.svc.Bookings, lessonID, userID, req.Quantity, models.BookingStatus(req.Status))
	if err != nil {
		return err
	}

	body, err := json.Marshal(bookingsResponse{Bookings: bookings})
	if err != nil {
		return err
	}
	if scoped != "" {
		stored, err := s.svc.Keys.SaveRecord(ctx, scoped,
			&repository.IdempotencyRecord{Status: http.StatusCreated, Body: body},
			models.IdempotencyTTL*time.Second)
		switch {
		case err != nil:
			s.log.Warn().Err(err).Str("key", scoped).Msg("idempotency record not saved")
		case stored != nil:
			return c.JSONBlob(stored.Status, stored.Body)
		}
	}
	return c.JSONBlob(http.StatusCreated, body)
}

// checkBookingRate applies the per-actor booking limit. A failing key store does not block bookings.
func (s *HTTPServer) checkBookingRate(c echo.Context, p Principal) error {
	limit := s.cfg.RateLimit.BookingsPerMinute
	if s.svc.Keys == nil || limit <= 0 {
		return nil
	}
	ok, err := s.svc.Keys.CheckRateLimit(c.Request().Context(), "bookings:"+p.Client, limit, time.Minute)
	if err != nil {
		s.log.Warn().Err(err).Str("client", p.Client).Msg("booking rate limit check failed")
		return nil
	}
	if !ok {
		return echo.NewHTTPError(http.StatusTooManyRequests, "too many booking requests")
	}
	return nil
}

func (s *HTTPServer) bookingFor(c echo.Context) (int64, int64, error) {
	lessonID, err := pathID(c, "id")
	if err != nil {
		return 0, 0, err
	}
	var req userRequest
	if err := bindValid(c, &req); err != nil {
		return 0, 0, err
	}
	userID, err := targetUser(principalOf(c), req.UserID)
	if err != nil {
		return 0, 0, err
	}
	return lessonID, userID, nil
}

func (s *HTTPServer) joinWaitlist(c echo.Context) error {
	lessonID, userID, err := s.bookingFor(c)
	if err != nil {
		return err
	}
	if err := s.checkBookingRate(c, principalOf(c)); err != nil {
		return err
	}
	b, err := s.svc.Bookings.JoinWaitlist(c.Request().Context(), lessonID, userID)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, b)
}

func (s *HTTPServer) leaveWaitlist(c echo.Context) error {
	lessonID, userID, err := s.bookingFor(c)
	if err != nil {
		return err
	}
	b, err := s.svc.Bookings.LeaveWaitlist(c.Request().Context(), lessonID, userID)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, b)
}

func (s *HTTPServer) checkIn(c echo.Context) error {
	lessonID, userID, err := s.bookingFor(c)
	if err != nil {
		return err
	}
	b, err := s.svc.Bookings.CheckIn(c.Request().Context(), lessonID, userID)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, b)
}

func (s *HTTPServer) bookChildren(c echo.Context) error {
	lessonID, err := pathID(c, "id")
	if err != nil {
		return err
	}
	var req childrenRequest
	if err := bindValid(c, &req); err != nil {
		return err
	}
	p := principalOf(c)
	parentID, err := targetUser(p, 0)
	if err != nil {
		return err
	}
	if err := s.checkBookingRate(c, p); err != nil {
		return err
	}
	bookings, err := s.svc.Bookings.BookChildren(c.Request().Context(), lessonID, parentID, req.ChildIDs)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, bookingsResponse{Bookings: bookings})
}

func (s *HTTPServer) cancelBooking(c echo.Context) error {
	id, err := pathID(c, "id")
	if err != nil {
		return err
	}
	b, err := s.svc.Bookings.CancelBooking(c.Request().Context(), id, principalOf(c).Actor)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, b)
}

func (s *HTTPServer) listClassOptions(c echo.Context) error {
	options, err := s.svc.ClassOptions.List(c.Request().Context())
	if err != nil {
		return err
	}
	if options == nil {
		options = []models.ClassOption{}
	}
	return c.JSON(http.StatusOK, map[string]any{"class_options": options})
}

func (s *HTTPServer) getClassOption(c echo.Context) error {
	id, err := pathID(c, "id")
	if err != nil {
		return err
	}
	option, err := s.svc.ClassOptions.Get(c.Request().Context(), id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, option)
}

func (s *HTTPServer) createClassOption(c echo.Context) error {
	var req classOptionRequest
	if err := bindValid(c, &req); err != nil {
		return err
	}
	option := req.toModel(0)
	if err := s.svc.ClassOptions.Create(c.Request().Context(), option); err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, option)
}

func (s *HTTPServer) updateClassOption(c echo.Context) error {
	id, err := pathID(c, "id")
	if err != nil {
		return err
	}
	var req classOptionRequest
	if err := bindValid(c, &req); err != nil {
		return err
	}
	option := req.toModel(id)
	if err := s.svc.ClassOptions.Update(c.Request().Context(), option); err != nil {
		return err
	}
	return c.JSON(http.StatusOK, option)
}

func (s *HTTPServer) deleteClassOption(c echo.Context) error {
	id, err := pathID(c, "id")
	if err != nil {
		return err
	}
	if err := s.svc.ClassOptions.Delete(c.Request().Context(), id); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *HTTPServer) listSchedules(c echo.Context) error {
	templates, err := s.svc.Schedules.ListTemplates(c.Request().Context())
	if err != nil {
		return err
	}
	if templates == nil {
		templates = []models.ScheduleTemplate{}
	}
	return c.JSON(http.StatusOK, map[string]any{"schedules": templates})
}

func (s *HTTPServer) getSchedule(c echo.Context) error {
	tpl, err := s.svc.Schedules.GetTemplate(c.Request().Context(), c.Param("tenant"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, tpl)
}

func (s *HTTPServer) saveSchedule(c echo.Context) error {
	var tpl models.ScheduleTemplate
	if err := c.Bind(&tpl); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if err := s.svc.Schedules.SaveTemplate(c.Request().Context(), &tpl); err != nil {
		return err
	}
	return c.JSON(http.StatusOK, tpl)
}

func (s *HTTPServer) generateLessons(c echo.Context) error {
	var req generateRequest
	if err := bindValid(c, &req); err != nil {
		return err
	}
	genReq, err := req.toModel()
	if err != nil {
		return err
	}

	ctx := c.Request().Context()
	if req.Async {
		if err := s.svc.Schedules.EnqueueGeneration(ctx, genReq); err != nil {
			return err
		}
		return c.JSON(http.StatusAccepted, map[string]any{"queued": true})
	}
	res, err := s.svc.Schedules.Generate(ctx, genReq)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, res)
}

func (s *HTTPServer) publishSchedule(c echo.Context) error {
	if s.svc.Jobs == nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "sheet publishing is not configured")
	}
	var req publishRequest
	if err := bindValid(c, &req); err != nil {
		return err
	}
	from, to, err := parseRange(req.From, req.To)
	if err != nil {
		return err
	}
	payload := models.PublishRequest{TenantID: req.TenantID, From: from, To: to}
	if err := s.svc.Jobs.Enqueue(c.Request().Context(), models.JobSheetsPublish, payload); err != nil {
		return domain.WrapStorage(err, "enqueue sheet publish")
	}
	return c.JSON(http.StatusAccepted, map[string]any{"queued": true})
}

func nonNil(bookings []models.Booking) []models.Booking {
	if bookings == nil {
		return []models.Booking{}
	}
	return bookings
}

// bookPlaces books one place unless the request names a quantity, so a full
// lesson reports lesson_full to single bookings and insufficient_capacity to batches.
func bookPlaces(
	ctx context.Context,
	svc *service.BookingService,
	lessonID, userID int64,
	quantity *int,
	status models.BookingStatus,
) ([]models.Booking, error) {
	if quantity != nil {
		return svc.CreateBookings(ctx, lessonID, userID, *quantity, status)
	}
	b, err := svc.CreateBooking(ctx, lessonID, userID, status)
	if err != nil {
		return nil, err
	}
	return []models.Booking{*b}, nil
}
