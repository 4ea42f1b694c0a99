package runlog

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testTime = time.Date(2026, 2, 15, 10, 30, 0, 0, time.UTC)

func testEntry() Entry {
	return Entry{
		Timestamp:  testTime,
		RunID:      "6f1c2a9e-0b7d-4d55-9a43-1f0a3c2b7e11",
		Action:     ActionImport,
		Account:    "CRDB",
		Details:    "rows=12 emitted=11 adjustment=-1500.00",
		CommitHash: "",
	}
}

func TestAppend_NewFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, Append(dir, []Entry{testEntry()}))

	entries, err := Read(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "CRDB", entries[0].Account)
}

func TestAppend_ExistingFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, Append(dir, []Entry{testEntry()}))

	e2 := testEntry()
	e2.Action = ActionLink
	e2.Account = "LOLC Auto Loan"
	require.NoError(t, Append(dir, []Entry{e2}))

	entries, err := Read(dir)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, ActionImport, entries[0].Action)
	assert.Equal(t, ActionLink, entries[1].Action)
}

func TestAppend_Nothing(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, Append(dir, nil))

	_, err := os.Stat(filepath.Join(dir, "logs"))
	assert.True(t, os.IsNotExist(err))
}

func TestRun_FiltersByRunID(t *testing.T) {
	dir := t.TempDir()
	other := testEntry()
	other.RunID = "other"
	require.NoError(t, Append(dir, []Entry{testEntry(), other, testEntry()}))

	entries, err := Run(dir, testEntry().RunID)
	require.NoError(t, err)
	assert.Len(t, entries, 2)
}

func TestRead_NotFound(t *testing.T) {
	entries, err := Read(t.TempDir())
	require.NoError(t, err)
	assert.Nil(t, entries)
}

func TestRead_EmptyFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "logs"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "logs", "import-log.csv"), []byte(Header+"\n"), 0o644))

	entries, err := Read(dir)
	require.NoError(t, err)
	assert.Nil(t, entries)
}

func TestUnmarshalEntry_BadFieldCount(t *testing.T) {
	_, err := UnmarshalEntry([]string{"one", "two"})
	assert.ErrorContains(t, err, "expected 6 fields")
}

func TestUnmarshalEntry_BadTimestamp(t *testing.T) {
	row := MarshalEntry(testEntry())
	row[colTimestamp] = "yesterday"
	_, err := UnmarshalEntry(row)
	assert.ErrorContains(t, err, `parsing timestamp "yesterday"`)
}

func TestTimestampFormat(t *testing.T) {
	e := testEntry()
	e.Timestamp = testTime.In(time.FixedZone("EAT", 3*60*60))
	assert.Equal(t, "2026-02-15T10:30:00Z", MarshalEntry(e)[colTimestamp])
}
