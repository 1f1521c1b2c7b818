package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/dvloznov/finance-import/internal/processor"
)

func TestRootCommand_Subcommands(t *testing.T) {
	root := newRootCommand()
	var names []string
	for _, c := range root.Commands() {
		names = append(names, c.Name())
	}
	assert.ElementsMatch(t, []string{"migrate", "import", "status", "template", "reap", "bq-init"}, names)
}

func TestTemplateCommand(t *testing.T) {
	out := filepath.Join(t.TempDir(), "template.xlsx")

	root := newRootCommand()
	root.SetArgs([]string{"template", "--out", out})
	require.NoError(t, root.Execute())

	f, err := excelize.OpenFile(out)
	require.NoError(t, err)
	defer f.Close()
	rows, err := f.GetRows(f.GetSheetName(0))
	require.NoError(t, err)
	require.NotEmpty(t, rows)
	assert.Equal(t, processor.RequiredColumns, rows[0])
}

func TestImportCommand_EndToEnd(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("FINIMPORT_DATABASE_PATH", filepath.Join(dir, "imports.db"))
	t.Setenv("FINIMPORT_STORAGE_LOCAL_DIR", filepath.Join(dir, "uploads"))
	t.Chdir(dir)

	input := filepath.Join(dir, "march.xlsx")
	f, err := os.Create(input)
	require.NoError(t, err)
	require.NoError(t, processor.WriteTemplate(f, time.Now()))
	require.NoError(t, f.Close())

	root := newRootCommand()
	root.SetArgs([]string{"import", input, "--owner", "owner-1"})
	require.NoError(t, root.Execute())

	root = newRootCommand()
	root.SetArgs([]string{"status", "--owner", "owner-1"})
	require.NoError(t, root.Execute())
}

func TestImportCommand_RequiresOwner(t *testing.T) {
	t.Setenv("FINIMPORT_OWNER", "")
	root := newRootCommand()
	root.SetArgs([]string{"import", "x.xlsx"})
	assert.ErrorContains(t, root.Execute(), "--owner")
}
