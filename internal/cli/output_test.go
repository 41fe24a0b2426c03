package cli

import (
	"bytes"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOutputFormatter_JSONSuccess(t *testing.T) {
	buf := &bytes.Buffer{}
	formatter := &OutputFormatter{
		Format: "json",
		Writer: buf,
	}

	data := map[string]string{"result": "success"}
	err := formatter.Success(data)
	require.NoError(t, err)

	var resp CLIResponse
	err = json.Unmarshal(buf.Bytes(), &resp)
	require.NoError(t, err)
	assert.Equal(t, "ok", resp.Status)
	assert.NotNil(t, resp.Data)
}

func TestOutputFormatter_JSONError(t *testing.T) {
	buf := &bytes.Buffer{}
	formatter := &OutputFormatter{
		Format: "json",
		Writer: buf,
	}

	err := formatter.Error(ErrCodeVerify, "outside geofence", nil)
	require.NoError(t, err)

	var resp CLIResponse
	err = json.Unmarshal(buf.Bytes(), &resp)
	require.NoError(t, err)
	assert.Equal(t, "error", resp.Status)
	require.NotNil(t, resp.Error)
	assert.Equal(t, ErrCodeVerify, resp.Error.Code)
	assert.Equal(t, "outside geofence", resp.Error.Message)
}

func TestOutputFormatter_TextError(t *testing.T) {
	buf := &bytes.Buffer{}
	formatter := &OutputFormatter{
		Format: "text",
		Writer: buf,
	}

	err := formatter.Error(ErrCodeQueue, "database locked", nil)
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "E_QUEUE")
	assert.Contains(t, buf.String(), "database locked")
}

func TestOutputFormatter_VerboseLogGoesToErrWriter(t *testing.T) {
	out := &bytes.Buffer{}
	errOut := &bytes.Buffer{}
	formatter := &OutputFormatter{
		Format:    "json",
		Writer:    out,
		ErrWriter: errOut,
		Verbose:   true,
	}

	formatter.VerboseLog("probing %s", "endpoint")
	assert.Empty(t, out.String(), "verbose output must not corrupt JSON on stdout")
	assert.Contains(t, errOut.String(), "probing endpoint")
}

func TestOutputFormatter_VerboseLogSilentWhenDisabled(t *testing.T) {
	buf := &bytes.Buffer{}
	formatter := &OutputFormatter{Format: "text", Writer: buf, Verbose: false}

	formatter.VerboseLog("never shown")
	assert.Empty(t, buf.String())
}

func TestExitError(t *testing.T) {
	base := errors.New("disk full")
	wrapped := WrapExitError(ExitCommandError, "opening queue database", base)

	assert.Equal(t, "opening queue database: disk full", wrapped.Error())
	assert.Equal(t, ExitCommandError, GetExitCode(wrapped))
	assert.ErrorIs(t, wrapped, base)

	plain := NewExitError(ExitFailure, "2 entries failed")
	assert.Equal(t, "2 entries failed", plain.Error())
	assert.Equal(t, ExitFailure, GetExitCode(plain))

	// Non-ExitErrors default to generic failure
	assert.Equal(t, ExitFailure, GetExitCode(errors.New("boom")))
}
