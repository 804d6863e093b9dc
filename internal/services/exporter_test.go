package services

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lifesync/internal/core"
)

type fakeUploader struct {
	key         string
	data        []byte
	contentType string
	err         error
}

func (f *fakeUploader) Upload(_ context.Context, key string, data []byte, contentType string) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	f.key, f.data, f.contentType = key, data, contentType
	return "backups/" + key, nil
}

func TestFileName(t *testing.T) {
	assert.Equal(t, "lifesync-backup-2025-06-15.json", FileName(fixedNow))
}

func TestBuildSerializesAllMirrors(t *testing.T) {
	ctx := context.Background()
	c, _ := newTestContainer(t, true, Options{})

	_, err := c.Expenses.Create(ctx, expense(12.5, core.CategoryFood, "Pizza", core.NewDate(2025, 6, 14)))
	require.NoError(t, err)
	_, _, err = c.Health.AddWorkout(ctx, "yoga", 20, "", core.NewDate(2025, 6, 14))
	require.NoError(t, err)
	require.NoError(t, c.Settings.SetBudget(ctx, core.Money{Cents: 75000}))

	name, data, err := c.Exporter.Build()
	require.NoError(t, err)
	assert.Equal(t, "lifesync-backup-2025-06-15.json", name)
	assert.True(t, strings.HasPrefix(string(data), "{\n  \""), "two-space indentation")

	var doc map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(data, &doc))
	assert.Len(t, doc, 6)
	assert.Equal(t, "750.00", string(doc["monthlyBudget"]))
	assert.Equal(t, `"2025-06-15T12:00:00Z"`, string(doc["exportedAt"]))
	assert.JSONEq(t, "[]", string(doc["healthLogs"]))

	var expenses []core.Expense
	require.NoError(t, json.Unmarshal(doc["expenses"], &expenses))
	require.Len(t, expenses, 1)
	assert.Equal(t, "Pizza", expenses[0].Description)

	var goals core.HealthGoals
	require.NoError(t, json.Unmarshal(doc["healthGoals"], &goals))
	assert.Equal(t, core.DefaultHealthGoals(), goals)

	var workouts []core.Workout
	require.NoError(t, json.Unmarshal(doc["workouts"], &workouts))
	require.Len(t, workouts, 1)
	assert.Equal(t, 80, workouts[0].CaloriesBurned)
}

func TestExportRequiresDestination(t *testing.T) {
	c, _ := newTestContainer(t, true, Options{})
	_, err := c.Exporter.Export(context.Background())
	assert.ErrorIs(t, err, ErrNoExportSink)
}

func TestExportWritesToDirectoryAndBucket(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "exports")
	up := &fakeUploader{}
	c, _ := newTestContainer(t, true, Options{ExportDir: dir, Uploader: up})

	res, err := c.Exporter.Export(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "lifesync-backup-2025-06-15.json", res.File)
	assert.Equal(t, filepath.Join(dir, res.File), res.Path)
	assert.Equal(t, "backups/"+res.File, res.Location)

	onDisk, err := os.ReadFile(res.Path)
	require.NoError(t, err)
	assert.Equal(t, onDisk, up.data)
	assert.Equal(t, "application/json", up.contentType)
}

func TestExportUploadFailure(t *testing.T) {
	c, _ := newTestContainer(t, true, Options{Uploader: &fakeUploader{err: errors.New("bucket offline")}})
	_, err := c.Exporter.Export(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bucket offline")
}
