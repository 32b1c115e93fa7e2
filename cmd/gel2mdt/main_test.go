package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gel2mdt-server/internal/domain"
	"github.com/gel2mdt-server/internal/setup"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestParseSampleTypes(t *testing.T) {
	all, err := parseSampleTypes(nil)
	require.NoError(t, err)
	assert.Equal(t, []domain.SampleType{domain.RareDisease, domain.Cancer}, all)

	one, err := parseSampleTypes([]string{"Cancer"})
	require.NoError(t, err)
	assert.Equal(t, []domain.SampleType{domain.Cancer}, one)

	_, err = parseSampleTypes([]string{"germline"})
	assert.Error(t, err)
}

func TestNewLogger(t *testing.T) {
	logger := newLogger(domain.LoggingConfig{Level: "debug", Format: "json"})
	assert.Equal(t, logrus.DebugLevel, logger.GetLevel())
	assert.IsType(t, &logrus.JSONFormatter{}, logger.Formatter)

	logger = newLogger(domain.LoggingConfig{Level: "nonsense", Format: "text"})
	assert.Equal(t, logrus.InfoLevel, logger.GetLevel())
	assert.IsType(t, &logrus.TextFormatter{}, logger.Formatter)
}

func TestScheduleList(t *testing.T) {
	dir := t.TempDir()
	configFile := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(configFile, []byte(`
database:
  host: localhost
  database: gel2mdt
schedule:
  cases_not_completed_email: ""
`), 0644))

	out, err := execute(t, "schedule", "list", "--config", configFile)
	require.NoError(t, err)
	assert.Contains(t, out, "update_cases")
	assert.Contains(t, out, "0 0 * * 1-5")
	assert.Contains(t, out, "(manual)")
}

func TestSetupCommands(t *testing.T) {
	dir := t.TempDir()
	clientConfig := filepath.Join(dir, "client.json")

	out, err := execute(t, "setup", "register", "--client-config", clientConfig, "--binary", "/opt/gel2mdt/bin/gel2mdt")
	require.NoError(t, err)
	assert.Contains(t, out, "/opt/gel2mdt/bin/gel2mdt")

	status, err := setup.GetStatus(clientConfig)
	require.NoError(t, err)
	assert.True(t, status.Registered)
	assert.Equal(t, []string{"mcp"}, status.Entry.Args)

	out, err = execute(t, "setup", "status", "--client-config", clientConfig)
	require.NoError(t, err)
	assert.Contains(t, out, "Registered:    true")

	out, err = execute(t, "setup", "unregister", "--client-config", clientConfig)
	require.NoError(t, err)
	assert.Contains(t, out, "removed")
}

func TestPullT3RejectsBadID(t *testing.T) {
	_, err := execute(t, "pull-t3", "abc")
	var vErr *domain.ValidationError
	assert.ErrorAs(t, err, &vErr)
}
