package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/srg/ringsync/internal/sample"
	"github.com/srg/ringsync/internal/store"
	"github.com/srg/ringsync/internal/testutils"
)

// CommandTestSuite extends RadioSuite with command execution helpers.
// Every test gets its own config file and database under a temp dir.
type CommandTestSuite struct {
	testutils.RadioSuite

	dir          string
	configPath   string
	dbPath       string
	restoreColor func()
}

func (s *CommandTestSuite) SetupTest() {
	s.RadioSuite.SetupTest()
	s.restoreColor = testutils.StripColors()

	s.dir = s.T().TempDir()
	s.dbPath = filepath.Join(s.dir, "samples.db")
	s.configPath = filepath.Join(s.dir, "config.yaml")
	s.WriteConfig("scan:\n  timeout: 2s\nconnection:\n  handshake_timeout: 2s\n")
}

func (s *CommandTestSuite) TearDownTest() {
	s.restoreColor()
	s.RadioSuite.TearDownTest()
}

// WriteConfig replaces the config file used by ExecuteCommand
func (s *CommandTestSuite) WriteConfig(body string) {
	s.Require().NoError(os.WriteFile(s.configPath, []byte(body), 0o600))
}

// ExecuteCommand runs a fresh root command with args against the suite config
// and database. Returns stdout and the command error.
func (s *CommandTestSuite) ExecuteCommand(stdin string, args ...string) (string, error) {
	root := newRootCmd()
	out := new(bytes.Buffer)
	root.SetOut(out)
	root.SetErr(new(bytes.Buffer))
	root.SetIn(strings.NewReader(stdin))
	root.SetArgs(append(args, "--config", s.configPath, "--db", s.dbPath))
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

// Seed stores samples directly into the suite database
func (s *CommandTestSuite) Seed(samples ...sample.BiometricSample) {
	ctx := context.Background()
	st, err := store.Open(ctx, s.dbPath, s.Logger)
	s.Require().NoError(err)
	defer st.Close()
	for _, smp := range samples {
		s.Require().NoError(st.Save(ctx, smp))
	}
}

// Stored returns every record in the suite database, most recent first
func (s *CommandTestSuite) Stored() []sample.StoredRecord {
	ctx := context.Background()
	st, err := store.Open(ctx, s.dbPath, s.Logger)
	s.Require().NoError(err)
	defer st.Close()
	records, err := st.List(ctx, 1000)
	s.Require().NoError(err)
	return records
}

type scriptedAd struct {
	name string
	addr string
	rssi int
}

// Script registers advertisements emitted once each, 2ms apart, on every scan
func (s *CommandTestSuite) Script(ads ...scriptedAd) {
	b := testutils.NewAdvertisementArrayBuilder()
	for _, ad := range ads {
		b.WithNewAdvertisement().WithName(ad.name).WithAddress(ad.addr).WithRSSI(ad.rssi).Add()
	}
	s.Radio.WithAdvertisements(b.Build()...).WithAdvertisementInterval(2 * time.Millisecond)
}
