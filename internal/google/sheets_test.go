package google

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"studiobook/internal/clock"
	"studiobook/internal/models"
	"studiobook/internal/service"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"
	"google.golang.org/api/sheets/v4"
)

var dublin = clock.MustLoad("Europe/Dublin")

func setupMockServer(t *testing.T) (*http.ServeMux, *SheetsService) {
	t.Helper()
	ctx := context.Background()
	mux := http.NewServeMux()
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)

	srv, err := sheets.NewService(ctx, option.WithEndpoint(server.URL), option.WithoutAuthentication())
	require.NoError(t, err)
	return mux, newSheetsService(srv, "sched_tid", "")
}

func sampleLesson() service.LessonDetails {
	start := time.Date(2025, 6, 2, 8, 0, 0, 0, time.UTC)
	return service.LessonDetails{
		Lesson: models.Lesson{
			ID:        7,
			StartTime: start,
			EndTime:   start.Add(time.Hour),
			Location:  "Studio A",
			Active:    true,
		},
		ClassOption: models.ClassOption{Name: "Vinyasa", Places: 10},
		Confirmed:   3,
		Remaining:   7,
	}
}

func TestLessonRowValues(t *testing.T) {
	d := sampleLesson()
	row := lessonRowValues(dublin, &d)
	require.Len(t, row, len(lessonHeaders))
	assert.Equal(t, int64(7), row[0])
	assert.Equal(t, "2025-06-02", row[1])
	assert.Equal(t, "09:00", row[2])
	assert.Equal(t, "10:00", row[3])
	assert.Equal(t, "Vinyasa", row[4])
	assert.Equal(t, 3, row[6])
	assert.Equal(t, 7, row[8])
}

func TestSheetsService_TestConnection(t *testing.T) {
	mux, s := setupMockServer(t)
	mux.HandleFunc("/v4/spreadsheets/sched_tid/values/Lessons!A1", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(sheets.ValueRange{Values: [][]interface{}{{"ID"}}})
	})
	assert.NoError(t, s.TestConnection(context.Background()))
}

func TestSheetsService_ReplaceLessons(t *testing.T) {
	mux, s := setupMockServer(t)

	var cleared bool
	var written sheets.ValueRange
	mux.HandleFunc("/v4/spreadsheets/sched_tid/values/Lessons!A1:Z:clear", func(w http.ResponseWriter, r *http.Request) {
		cleared = true
		_ = json.NewEncoder(w).Encode(sheets.ClearValuesResponse{})
	})
	mux.HandleFunc("/v4/spreadsheets/sched_tid/values/Lessons!A1", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&written)
		_ = json.NewEncoder(w).Encode(sheets.UpdateValuesResponse{})
	})

	err := s.ReplaceLessons(context.Background(), dublin, []service.LessonDetails{sampleLesson()})
	require.NoError(t, err)
	assert.True(t, cleared)
	require.Len(t, written.Values, 2)
	assert.Equal(t, "ID", written.Values[0][0])
	assert.Equal(t, "Vinyasa", written.Values[1][4])
}

func TestSheetsService_ReplaceLessonsClearError(t *testing.T) {
	mux, s := setupMockServer(t)
	mux.HandleFunc("/v4/spreadsheets/sched_tid/values/Lessons!A1:Z:clear", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusForbidden)
	})
	err := s.ReplaceLessons(context.Background(), dublin, nil)
	assert.ErrorContains(t, err, "clear lessons sheet")
}

func TestServiceAccountEmail(t *testing.T) {
	path := filepath.Join(t.TempDir(), "creds.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"client_email":"bot@example.iam.gserviceaccount.com"}`), 0o600))

	email, err := ServiceAccountEmail(path)
	require.NoError(t, err)
	assert.Equal(t, "bot@example.iam.gserviceaccount.com", email)

	_, err = ServiceAccountEmail(filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)
}

func TestNewSheetsService_MissingCredentials(t *testing.T) {
	_, err := NewSheetsService(context.Background(), filepath.Join(t.TempDir(), "none.json"), "id", "Lessons")
	assert.ErrorContains(t, err, "credentials file")
}
