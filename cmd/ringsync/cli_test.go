package main

import (
	"bytes"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newFlagCmd(t *testing.T, args ...string) *cobra.Command {
	t.Helper()
	cmd := &cobra.Command{Use: "test"}
	cmd.Flags().String("log-level", "", "")
	cmd.Flags().Bool("verbose", false, "")
	require.NoError(t, cmd.Flags().Parse(args))
	return cmd
}

func TestConfigureLogger(t *testing.T) {
	tests := []struct {
		name      string
		args      []string
		fileLevel string
		expected  logrus.Level
	}{
		{"silent by default", nil, "", logrus.PanicLevel},
		{"config file level", nil, "warn", logrus.WarnLevel},
		{"verbose beats config file", []string{"--verbose"}, "warn", logrus.DebugLevel},
		{"log-level beats verbose", []string{"--verbose", "--log-level", "error"}, "", logrus.ErrorLevel},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger, err := configureLogger(newFlagCmd(t, tt.args...), tt.fileLevel)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, logger.GetLevel())
		})
	}

	_, err := configureLogger(newFlagCmd(t, "--log-level", "trace"), "")
	assert.ErrorContains(t, err, "invalid log level")
}

func TestProgressPrinter_NonTerminal(t *testing.T) {
	var buf bytes.Buffer
	p := NewCountdownProgressPrinter(&buf, "Scanning", "Scanning", time.Second)
	p.Start()
	p.SetPhase("Connecting")
	time.Sleep(2 * progressUpdateInterval)
	p.Stop()
	p.Stop()

	assert.Empty(t, buf.String(), "progress MUST stay silent when output is not a terminal")
	assert.Panics(t, p.Start, "a printer is single use")
}

func TestProgressPrinter_Seconds(t *testing.T) {
	up := NewProgressPrinter(&bytes.Buffer{}, "p", "x")
	up.startTime = time.Now().Add(-3 * time.Second)
	assert.Equal(t, 3, up.seconds())

	down := NewCountdownProgressPrinter(&bytes.Buffer{}, "p", "x", 10*time.Second)
	down.startTime = time.Now().Add(-3 * time.Second)
	assert.Equal(t, 7, down.seconds())

	down.startTime = time.Now().Add(-time.Minute)
	assert.Equal(t, 0, down.seconds())
}
