package seed

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"studiobook/internal/clock"
	"studiobook/internal/database"
	"studiobook/internal/models"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sample = `
class_options:
  - id: 1
    name: "Vinyasa"
    places: 12
    type: "adult"
  - id: 2
    name: "Kids Yoga"
    places: 8
    type: "child"
users:
  - id: 100
    name: "Dana"
    email: "dana@example.com"
  - id: 101
    name: "Sam"
    parent_id: 100
schedules:
  - tenant_id: "north"
    name: "North studio"
    start_date: "2025-06-01"
    default_class_option_id: 1
    days:
      - active: true
        slots:
          - start: "18:00"
            end: "19:00"
            location: "Studio A"
          - start: "10:00"
            end: "10:45"
            class_option_id: 2
            skip_dates: ["2025-06-09"]
      - active: false
      - active: false
      - active: false
      - active: false
      - active: false
      - active: false
`

func TestParse(t *testing.T) {
	d, err := Parse([]byte(sample))
	require.NoError(t, err)

	require.Len(t, d.ClassOptions, 2)
	assert.Equal(t, models.ClassTypeChild, d.ClassOptions[1].Type)

	require.Len(t, d.Users, 2)
	require.NotNil(t, d.Users[1].ParentID)
	assert.Equal(t, int64(100), *d.Users[1].ParentID)

	require.Len(t, d.Schedules, 1)
	tpl := d.Schedules[0]
	assert.Equal(t, clock.Date{Year: 2025, Month: 6, Day: 1}, tpl.StartDate)
	require.Len(t, tpl.Days[0].Slots, 2)
	assert.Equal(t, clock.WallClock{Hour: 18}, tpl.Days[0].Slots[0].Start)
	require.NotNil(t, tpl.Days[0].Slots[1].ClassOptionID)
	assert.Equal(t, int64(2), *tpl.Days[0].Slots[1].ClassOptionID)
	assert.Equal(t, []clock.Date{{Year: 2025, Month: 6, Day: 9}}, tpl.Days[0].Slots[1].SkipDates)
}

func TestParseRejectsInvalid(t *testing.T) {
	_, err := Parse([]byte("class_options:\n  - name: \"Empty\"\n    places: 0\n"))
	assert.Error(t, err)

	_, err = Parse([]byte(`
schedules:
  - tenant_id: "x"
    days:
      - active: true
        slots:
          - start: "19:00"
            end: "18:00"
`))
	assert.Error(t, err)

	_, err = Parse([]byte("class_options: [\n"))
	assert.Error(t, err)
}

func TestLoadAndApplyIsRepeatable(t *testing.T) {
	logger := zerolog.Nop()
	dir := t.TempDir()
	db, err := database.NewDB(filepath.Join(dir, "seed.db"), &logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	path := filepath.Join(dir, "seed.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sample), 0o600))
	d, err := Load(path)
	require.NoError(t, err)

	ctx := context.Background()
	res, err := Apply(ctx, db, d, &logger)
	require.NoError(t, err)
	assert.Equal(t, &Result{OptionsCreated: 2, UsersCreated: 2, Schedules: 1}, res)

	res, err = Apply(ctx, db, d, &logger)
	require.NoError(t, err)
	assert.Equal(t, &Result{OptionsUpdated: 2, Schedules: 1}, res)

	opt, err := db.GetClassOption(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, "Kids Yoga", opt.Name)

	children, err := db.ListChildren(ctx, 100)
	require.NoError(t, err)
	require.Len(t, children, 1)
	assert.Equal(t, "Sam", children[0].Name)

	tpl, err := db.GetSchedule(ctx, "north")
	require.NoError(t, err)
	assert.Equal(t, int64(1), tpl.DefaultClassOptionID)
	assert.Len(t, tpl.Days[0].Slots, 2)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
