package session

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/alem-hub/quiz-engine/internal/domain/quiz"
	"github.com/alem-hub/quiz-engine/pkg/logger"
)

func writeWorkbook(t *testing.T, path string, rows [][]any) {
	t.Helper()
	f := excelize.NewFile()
	defer f.Close()
	sheet := f.GetSheetName(0)
	for i, row := range rows {
		ref, err := excelize.CoordinatesToCellName(1, i+1)
		require.NoError(t, err)
		require.NoError(t, f.SetSheetRow(sheet, ref, &row))
	}
	require.NoError(t, f.SaveAs(path))
}

func TestRegistry_LoadDirReadsCSVAndWorkbooks(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "history.csv"),
		[]byte("Question,Option A,Option B,Answer\nYear of Hijra?,622,632,A\n"), 0o644))
	writeWorkbook(t, filepath.Join(dir, "physics.xlsx"), [][]any{
		{"Question", "Option A", "Option B", "Correct Answer"},
		{"Unit of force?", "Newton", "Joule", "A"},
		{"Unit of energy?", "Newton", "Joule", "B"},
	})
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("ignored"), 0o644))

	r := NewRegistry(logger.Nop())
	reports, err := r.LoadDir(dir, quiz.CSVOptions{LoadOptions: quiz.DefaultLoadOptions("")})
	require.NoError(t, err)
	assert.Len(t, reports, 2)

	banks := r.List()
	require.Len(t, banks, 2)
	assert.Equal(t, "history", banks[0].ID)
	assert.Equal(t, "physics", banks[1].ID)
	assert.Equal(t, 2, banks[1].Questions)

	physics, err := r.Get("physics")
	require.NoError(t, err)
	assert.Equal(t, "B", physics.At(1).CorrectLabel())
}

func TestRegistry_LoadDirReportsBrokenWorkbook(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "broken.xlsx"), []byte("not a zip"), 0o644))

	r := NewRegistry(logger.Nop())
	reports, err := r.LoadDir(dir, quiz.CSVOptions{LoadOptions: quiz.DefaultLoadOptions("")})
	require.Error(t, err)
	require.Len(t, reports, 1)
	assert.False(t, reports[0].Loaded)
	assert.NotEmpty(t, reports[0].Err)
	assert.Empty(t, r.List())
}
