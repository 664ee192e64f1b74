package common

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	resumeErrors "resumeunlocked/internal/errors"
	"resumeunlocked/internal/types"
)

func TestReadUpload(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "cv.pdf")
	require.NoError(t, os.WriteFile(path, []byte("%PDF-1.7"), 0600))

	fp := NewFileProcessor(resumeErrors.NewNopLogger())

	file, err := fp.ReadUpload(path, 1024)
	require.NoError(t, err)
	assert.Equal(t, "cv.pdf", file.Name)
	assert.Equal(t, []byte("%PDF-1.7"), file.Data)
}

func TestReadUploadTooLarge(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cv.pdf")
	require.NoError(t, os.WriteFile(path, bytes.Repeat([]byte("x"), 2048), 0600))

	_, err := NewFileProcessor(resumeErrors.NewNopLogger()).ReadUpload(path, 1024)
	require.Error(t, err)
	assert.True(t, resumeErrors.IsType(err, resumeErrors.ErrorTypeValidation))
	assert.Contains(t, err.Error(), "1.0 KB")
}

func TestReadUploadMissing(t *testing.T) {
	_, err := NewFileProcessor(nil).ReadUpload(filepath.Join(t.TempDir(), "nope.pdf"), 0)
	require.Error(t, err)
	assert.True(t, resumeErrors.IsType(err, resumeErrors.ErrorTypeValidation))
}

func TestHandleOutputToWriter(t *testing.T) {
	var buf bytes.Buffer
	oh := NewOutputHandler(resumeErrors.NewNopLogger()).WithWriter(&buf)

	err := oh.HandleOutput(map[string]string{"status": "ok"}, CommandConfig{OutputFormat: "json"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"status":"ok"}`, strings.TrimSpace(buf.String()))
}

func TestHandleOutputToFile(t *testing.T) {
	out := filepath.Join(t.TempDir(), "reports", "status.txt")
	oh := NewOutputHandler(resumeErrors.NewNopLogger())

	require.NoError(t, oh.HandleOutput("signed in", CommandConfig{OutputFile: out, OutputFormat: "text"}))

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Contains(t, string(data), "signed in")
}

func TestHandleDocument(t *testing.T) {
	dir := t.TempDir()
	oh := NewOutputHandler(resumeErrors.NewNopLogger())
	doc := &types.Document{ContentType: "application/pdf", Data: []byte("%PDF")}

	target, err := oh.HandleDocument(doc, filepath.Join(dir, "resume.pdf"))
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "resume.pdf"), target)

	data, err := os.ReadFile(target)
	require.NoError(t, err)
	assert.Equal(t, []byte("%PDF"), data)

	_, err = oh.HandleDocument(nil, "")
	assert.Error(t, err)
}

func TestRunAndOutput(t *testing.T) {
	var buf bytes.Buffer
	oh := NewOutputHandler(resumeErrors.NewNopLogger()).WithWriter(&buf)

	err := RunAndOutput(context.Background(), oh, CommandConfig{OutputFormat: "json"},
		func(context.Context) ([]string, error) { return []string{"SRE"}, nil })
	require.NoError(t, err)
	assert.JSONEq(t, `["SRE"]`, strings.TrimSpace(buf.String()))
}

func TestRunAndOutputRejectsFormatBeforeCalling(t *testing.T) {
	called := false
	oh := NewOutputHandler(resumeErrors.NewNopLogger()).WithWriter(&bytes.Buffer{})

	err := RunAndOutput(context.Background(), oh, CommandConfig{OutputFormat: "xml"},
		func(context.Context) (string, error) { called = true; return "", nil })
	require.Error(t, err)
	assert.False(t, called)
}

func TestRunAndOutputPropagatesError(t *testing.T) {
	boom := errors.New("backend down")
	oh := NewOutputHandler(resumeErrors.NewNopLogger()).WithWriter(&bytes.Buffer{})

	err := RunAndOutput(context.Background(), oh, CommandConfig{OutputFormat: "text"},
		func(context.Context) (string, error) { return "", boom })
	assert.ErrorIs(t, err, boom)
}
