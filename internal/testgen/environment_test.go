package testgen

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openagents/gym/internal/sandbox"
)

// TestInferProhibited derives forbidden binaries from conversion phrasing
// and ignores descriptions without a source language.
func TestInferProhibited(t *testing.T) {
	r := InferProhibited("Convert the R script to Python and write result.py afterwards.")
	require.Len(t, r, 2)
	assert.Equal(t, "R", r[0].Name)
	assert.Equal(t, "Rscript", r[1].Name)
	assert.Contains(t, r[0].Reason, "bypass")

	ruby := InferProhibited("Port this ruby tool into Go.")
	require.Len(t, ruby, 1)
	assert.Equal(t, "ruby", ruby[0].Name)

	assert.Nil(t, InferProhibited("Sum the numbers in data.csv."))
	assert.Nil(t, InferProhibited("rewrite it to go fast"), "no source language named")
}

// TestGatherFilesInventory lists the workdir recursively and extracts a flat
// structure from python sources.
func TestGatherFilesInventory(t *testing.T) {
	dir := t.TempDir()
	py := "import sys\n\nLIMIT = 10\n\ndef add(a, b):\n    return a + b\n\ndef scale(value, factor=2):\n    return value * factor\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "main.py"), []byte(py), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "data.csv"), []byte("a,b\n1,2\n"), 0644))
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "sub"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "sub", "notes.txt"), []byte("hi\n"), 0644))

	info, err := gatherFiles(dir)
	require.NoError(t, err)

	assert.Equal(t, dir, info.Workdir)
	assert.Equal(t, []string{"data.csv", "main.py", "sub/notes.txt"}, info.Listing)
	require.Len(t, info.TaskFiles, 3)

	var pyFile *TaskFile
	for i := range info.TaskFiles {
		if info.TaskFiles[i].Path == "main.py" {
			pyFile = &info.TaskFiles[i]
		}
	}
	require.NotNil(t, pyFile)
	assert.Equal(t, "python", pyFile.DetectedType)
	assert.Equal(t, 9, pyFile.LineCount)
	require.NotNil(t, pyFile.Structure)
	assert.Equal(t, []string{"add", "scale"}, pyFile.Structure.Functions)
	assert.Equal(t, []string{"LIMIT"}, pyFile.Structure.Variables)
	assert.Equal(t, []string{"a", "b", "value", "factor"}, pyFile.Structure.Parameters)
}

// TestGatherFilesPreviewCap truncates previews to fifty lines.
func TestGatherFilesPreviewCap(t *testing.T) {
	dir := t.TempDir()
	content := strings.Repeat("line\n", 80)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "big.txt"), []byte(content), 0644))

	info, err := gatherFiles(dir)
	require.NoError(t, err)
	require.Len(t, info.TaskFiles, 1)

	tf := info.TaskFiles[0]
	assert.Equal(t, 80, tf.LineCount)
	assert.Equal(t, previewLines, strings.Count(tf.Preview, "\n")+1)
}

// TestProberGather probes a real local sandbox: the workdir inventory, the
// prohibited-tool inference, and at least the shell must come back.
func TestProberGather(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "hello.txt"), []byte("hi\n"), 0644))

	exec := sandbox.NewLocalExecutor("", nil, zerolog.Nop())
	p := NewProber(exec, zerolog.Nop())

	info, err := p.Gather(context.Background(), dir, "Convert the R script to Python now")
	require.NoError(t, err)

	assert.Equal(t, dir, info.Files.Workdir)
	assert.Contains(t, info.Files.Listing, "hello.txt")
	assert.Contains(t, info.Tools.Available, "sh")
	assert.Equal(t, "command -v", info.Tools.ProhibitedCheck)
	require.Len(t, info.Tools.Prohibited, 2)
	assert.Equal(t, "R", info.Tools.Prohibited[0].Name)
	assert.NotEmpty(t, info.Platform)
}
