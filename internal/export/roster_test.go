package export

import (
	"bytes"
	"testing"
	"time"

	"studiobook/internal/clock"
	"studiobook/internal/models"
	"studiobook/internal/service"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

func TestRoster(t *testing.T) {
	zone := clock.MustLoad("Europe/Dublin")
	start := time.Date(2025, 6, 2, 17, 0, 0, 0, time.UTC)
	details := &service.LessonDetails{
		Lesson:      models.Lesson{ID: 42, StartTime: start, EndTime: start.Add(time.Hour), Location: "Studio A"},
		ClassOption: models.ClassOption{Name: "Pilates", Places: 10},
		Confirmed:   1,
		Remaining:   9,
	}
	entries := []service.RosterEntry{
		{
			Booking: models.Booking{ID: 1, UserID: 7, Status: models.StatusConfirmed, CheckedIn: true, CreatedAt: start.Add(-48 * time.Hour)},
			User:    &models.User{ID: 7, Name: "Ann", Email: "ann@example.com"},
		},
		{
			Booking: models.Booking{ID: 2, UserID: 8, Status: models.StatusWaiting, CreatedAt: start.Add(-24 * time.Hour)},
		},
	}

	data, err := Roster(details, entries, zone)
	require.NoError(t, err)

	f, err := excelize.OpenReader(bytes.NewReader(data))
	require.NoError(t, err)
	defer f.Close()

	assert.Equal(t, []string{rosterSheet}, f.GetSheetList())

	title, err := f.GetCellValue(rosterSheet, "A1")
	require.NoError(t, err)
	assert.Equal(t, "Pilates, Mon 2 Jun 2025 18:00-19:00, Studio A", title)

	summary, _ := f.GetCellValue(rosterSheet, "A2")
	assert.Equal(t, "Confirmed 1 of 10, 9 remaining", summary)

	for i, h := range rosterHeaders {
		cell, _ := excelize.CoordinatesToCellName(i+1, 4)
		got, _ := f.GetCellValue(rosterSheet, cell)
		assert.Equal(t, h, got)
	}

	want := []string{"1", "7", "Ann", "ann@example.com", "confirmed", "yes", "2025-05-31 18:00"}
	for i, v := range want {
		cell, _ := excelize.CoordinatesToCellName(i+1, 5)
		got, _ := f.GetCellValue(rosterSheet, cell)
		assert.Equal(t, v, got, cell)
	}

	name, _ := f.GetCellValue(rosterSheet, "C6")
	assert.Empty(t, name)
	status, _ := f.GetCellValue(rosterSheet, "E6")
	assert.Equal(t, "waiting", status)
}

func TestRosterFileName(t *testing.T) {
	zone := clock.MustLoad("Europe/Dublin")
	lesson := models.Lesson{ID: 3, StartTime: time.Date(2025, 1, 6, 9, 30, 0, 0, time.UTC)}
	assert.Equal(t, "roster_3_20250106_0930.xlsx", RosterFileName(lesson, zone))
}
