// Package export renders lesson rosters as spreadsheets.
package export

import (
	"bytes"
	"fmt"

	"studiobook/internal/clock"
	"studiobook/internal/models"
	"studiobook/internal/service"

	"github.com/xuri/excelize/v2"
)

const rosterSheet = "Roster"

var rosterHeaders = []string{"Booking", "User ID", "Name", "Email", "Status", "Checked in", "Booked at"}

// RosterFileName is the download name for a lesson roster.
func RosterFileName(lesson models.Lesson, zone *clock.Zone) string {
	start := lesson.StartTime.In(zone.Location())
	return fmt.Sprintf("roster_%d_%s.xlsx", lesson.ID, start.Format("20060102_1504"))
}

// Roster writes the lesson and its bookings to an xlsx workbook.
func Roster(details *service.LessonDetails, entries []service.RosterEntry, zone *clock.Zone) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()

	index, err := f.NewSheet(rosterSheet)
	if err != nil {
		return nil, fmt.Errorf("create sheet: %w", err)
	}
	f.SetActiveSheet(index)
	_ = f.DeleteSheet("Sheet1")

	start := details.Lesson.StartTime.In(zone.Location())
	end := details.Lesson.EndTime.In(zone.Location())
	title := fmt.Sprintf("%s, %s %s-%s", details.ClassOption.Name, start.Format("Mon 2 Jan 2006"), start.Format("15:04"), end.Format("15:04"))
	if details.Lesson.Location != "" {
		title += ", " + details.Lesson.Location
	}
	_ = f.SetCellValue(rosterSheet, "A1", title)
	_ = f.MergeCell(rosterSheet, "A1", "G1")
	_ = f.SetCellValue(rosterSheet, "A2", fmt.Sprintf("Confirmed %d of %d, %d remaining",
		details.Confirmed, details.ClassOption.Places, details.Remaining))

	titleStyle, _ := f.NewStyle(&excelize.Style{
		Font:      &excelize.Font{Bold: true, Size: 14},
		Alignment: &excelize.Alignment{Horizontal: "center"},
	})
	_ = f.SetCellStyle(rosterSheet, "A1", "A1", titleStyle)

	headerStyle, _ := f.NewStyle(&excelize.Style{
		Fill: excelize.Fill{Type: "pattern", Color: []string{"#DDEBF7"}, Pattern: 1},
		Font: &excelize.Font{Bold: true},
	})
	for i, h := range rosterHeaders {
		cell, _ := excelize.CoordinatesToCellName(i+1, 4)
		_ = f.SetCellValue(rosterSheet, cell, h)
		_ = f.SetCellStyle(rosterSheet, cell, cell, headerStyle)
	}
	_ = f.SetColWidth(rosterSheet, "A", "B", 10)
	_ = f.SetColWidth(rosterSheet, "C", "D", 28)
	_ = f.SetColWidth(rosterSheet, "E", "G", 16)

	waitingStyle, _ := f.NewStyle(&excelize.Style{
		Fill: excelize.Fill{Type: "pattern", Color: []string{"#FFEB9C"}, Pattern: 1},
	})

	for i, e := range entries {
		row := i + 5
		name, email := "", ""
		if e.User != nil {
			name, email = e.User.Name, e.User.Email
		}
		values := []interface{}{
			e.Booking.ID,
			e.Booking.UserID,
			name,
			email,
			string(e.Booking.Status),
			yesNo(e.Booking.CheckedIn),
			e.Booking.CreatedAt.In(zone.Location()).Format("2006-01-02 15:04"),
		}
		for col, v := range values {
			cell, _ := excelize.CoordinatesToCellName(col+1, row)
			_ = f.SetCellValue(rosterSheet, cell, v)
		}
		if e.Booking.Status == models.StatusWaiting {
			from, _ := excelize.CoordinatesToCellName(1, row)
			to, _ := excelize.CoordinatesToCellName(len(rosterHeaders), row)
			_ = f.SetCellStyle(rosterSheet, from, to, waitingStyle)
		}
	}

	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		return nil, fmt.Errorf("write roster: %w", err)
	}
	return buf.Bytes(), nil
}

func yesNo(v bool) string {
	if v {
		return "yes"
	}
	return "no"
}
