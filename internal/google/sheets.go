package google

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"studiobook/internal/clock"
	"studiobook/internal/service"

	"golang.org/x/oauth2/google"
	"google.golang.org/api/option"
	"google.golang.org/api/sheets/v4"
)

var lessonHeaders = []interface{}{
	"ID", "Date", "Start", "End", "Class", "Location", "Confirmed", "Places", "Remaining", "Active",
}

// SheetsService writes the published lesson schedule to one sheet of a spreadsheet.
type SheetsService struct {
	service       *sheets.Service
	spreadsheetID string
	sheetName     string
}

func NewSheetsService(ctx context.Context, credentialsFile, spreadsheetID, sheetName string) (*SheetsService, error) {
	credentialsJSON, err := os.ReadFile(credentialsFile)
	if err != nil {
		return nil, fmt.Errorf("unable to read credentials file: %w", err)
	}

	config, err := google.JWTConfigFromJSON(credentialsJSON, sheets.SpreadsheetsScope)
	if err != nil {
		return nil, fmt.Errorf("unable to parse credentials: %w", err)
	}

	srv, err := sheets.NewService(ctx, option.WithHTTPClient(config.Client(ctx)))
	if err != nil {
		return nil, fmt.Errorf("unable to create Sheets service: %w", err)
	}
	return newSheetsService(srv, spreadsheetID, sheetName), nil
}

func newSheetsService(srv *sheets.Service, spreadsheetID, sheetName string) *SheetsService {
	if sheetName == "" {
		sheetName = "Lessons"
	}
	return &SheetsService{service: srv, spreadsheetID: spreadsheetID, sheetName: sheetName}
}

// TestConnection reads the first cell of the sheet.
func (s *SheetsService) TestConnection(ctx context.Context) error {
	_, err := s.service.Spreadsheets.Values.Get(s.spreadsheetID, s.sheetName+"!A1").Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("connection test failed: %w", err)
	}
	return nil
}

// ServiceAccountEmail returns the client_email of a service account key file.
func ServiceAccountEmail(credentialsFile string) (string, error) {
	file, err := os.ReadFile(credentialsFile)
	if err != nil {
		return "", err
	}

	var creds struct {
		ClientEmail string `json:"client_email"`
	}
	if err := json.Unmarshal(file, &creds); err != nil {
		return "", err
	}
	return creds.ClientEmail, nil
}

func lessonRowValues(zone *clock.Zone, d *service.LessonDetails) []interface{} {
	l := &d.Lesson
	return []interface{}{
		l.ID,
		zone.CivilDate(l.StartTime).String(),
		zone.WallClockOf(l.StartTime).String(),
		zone.WallClockOf(l.EndTime).String(),
		d.ClassOption.Name,
		l.Location,
		d.Confirmed,
		d.ClassOption.Places,
		d.Remaining,
		l.Active,
	}
}

// ReplaceLessons rewrites the sheet with a header row and one row per lesson.
func (s *SheetsService) ReplaceLessons(ctx context.Context, zone *clock.Zone, lessons []service.LessonDetails) error {
	_, err := s.service.Spreadsheets.Values.Clear(s.spreadsheetID, s.sheetName+"!A1:Z", &sheets.ClearValuesRequest{}).
		Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("failed to clear lessons sheet: %w", err)
	}

	values := make([][]interface{}, 0, len(lessons)+1)
	values = append(values, lessonHeaders)
	for i := range lessons {
		values = append(values, lessonRowValues(zone, &lessons[i]))
	}

	_, err = s.service.Spreadsheets.Values.Update(s.spreadsheetID, s.sheetName+"!A1", &sheets.ValueRange{Values: values}).
		ValueInputOption("RAW").Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("failed to update lessons sheet: %w", err)
	}
	return nil
}
