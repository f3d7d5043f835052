package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"
	"github.com/srg/ringsync/internal/device"
	"github.com/srg/ringsync/internal/discovery"
	"github.com/srg/ringsync/internal/sample"
	"github.com/srg/ringsync/internal/syncer"
)

// Output formats
const (
	formatText = "text"
	formatJSON = "json"
)

var validFormats = []string{formatText, formatJSON}

func validateFormat(format string) error {
	for _, f := range validFormats {
		if format == f {
			return nil
		}
	}
	return fmt.Errorf("invalid format '%s': must be one of %v", format, validFormats)
}

var (
	labelColor   = color.New(color.Bold)
	successColor = color.New(color.FgGreen, color.Bold)
	warnColor    = color.New(color.FgYellow)
	failColor    = color.New(color.FgRed, color.Bold)
)

func statusColor(kind syncer.StatusKind) *color.Color {
	switch kind {
	case syncer.StatusSuccess:
		return successColor
	case syncer.StatusTimedOut:
		return warnColor
	case syncer.StatusFailed, syncer.StatusUnavailable:
		return failColor
	default:
		return labelColor
	}
}

// phaseName is the progress label of a non terminal status
func phaseName(kind syncer.StatusKind) string {
	switch kind {
	case syncer.StatusScanning:
		return "Scanning"
	case syncer.StatusConnecting:
		return "Connecting"
	case syncer.StatusAwaitingData:
		return "Reading"
	default:
		return kind.String()
	}
}

func printStatus(w io.Writer, st syncer.Status) {
	statusColor(st.Kind).Fprintf(w, "Sync %s\n", st)
}

type sampleField struct {
	label string
	value string
}

// sampleFields lists the present fields only; an absent field is never shown as zero
func sampleFields(s sample.BiometricSample) []sampleField {
	var fields []sampleField
	addInt := func(label string, v *int, unit string) {
		if v != nil {
			fields = append(fields, sampleField{label, strings.TrimSpace(strconv.Itoa(*v) + " " + unit)})
		}
	}
	addFloat := func(label string, v *float64, unit string) {
		if v != nil {
			fields = append(fields, sampleField{label, strconv.FormatFloat(*v, 'f', 1, 64) + " " + unit})
		}
	}
	addInt("Heart rate", s.HeartRate, "bpm")
	addInt("Blood oxygen", s.BloodOxygen, "%")
	addInt("Steps", s.Steps, "")
	addInt("HRV", s.HRV, "ms")
	addInt("Calories", s.Calories, "kcal")
	addInt("Stress index", s.StressIndex, "")
	addInt("Blood glucose", s.BloodGlucose, "mg/dL")
	addInt("VO2 max", s.VO2Max, "ml/kg/min")
	addFloat("Sleep", s.SleepHours, "h")
	addFloat("Body temperature", s.BodyTemperature, "°C")
	return fields
}

func printSample(w io.Writer, s sample.BiometricSample) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "%s\t%s\n", labelColor.Sprint("Timestamp"), s.Timestamp.UTC().Format(time.RFC3339))
	fields := sampleFields(s)
	if len(fields) == 0 {
		fmt.Fprintf(tw, "%s\t%s\n", labelColor.Sprint("Values"), "none reported")
	}
	for _, f := range fields {
		fmt.Fprintf(tw, "%s\t%s\n", labelColor.Sprint(f.label), f.value)
	}
	return tw.Flush()
}

func printRecord(w io.Writer, rec sample.StoredRecord) error {
	fmt.Fprintf(w, "%s #%d stored %s\n", labelColor.Sprint("Record"), rec.ID, rec.CreatedAt.UTC().Format(time.RFC3339))
	return printSample(w, rec.Sample)
}

func optInt(v *int) string {
	if v == nil {
		return "-"
	}
	return strconv.Itoa(*v)
}

func optFloat(v *float64) string {
	if v == nil {
		return "-"
	}
	return strconv.FormatFloat(*v, 'f', 1, 64)
}

func printRecordsTable(w io.Writer, records []sample.StoredRecord) error {
	if len(records) == 0 {
		fmt.Fprintln(w, "No samples stored")
		return nil
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tTIMESTAMP\tHR\tSPO2\tSTEPS\tHRV\tKCAL\tSTRESS\tSLEEP\tTEMP")
	for _, r := range records {
		s := r.Sample
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			r.ID, s.Timestamp.UTC().Format(time.RFC3339),
			optInt(s.HeartRate), optInt(s.BloodOxygen), optInt(s.Steps), optInt(s.HRV),
			optInt(s.Calories), optInt(s.StressIndex), optFloat(s.SleepHours), optFloat(s.BodyTemperature))
	}
	return tw.Flush()
}

func printDevicesTable(w io.Writer, devices []device.DiscoveredDevice, tokens []string) error {
	if len(devices) == 0 {
		fmt.Fprintln(w, "No devices discovered")
		return nil
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tADDRESS\tRSSI\tRING")
	for _, d := range devices {
		name := d.DisplayName()
		if len(name) > 24 {
			name = name[:21] + "..."
		}
		ring := ""
		if discovery.MatchesBrand(d.Name, tokens) {
			ring = successColor.Sprint("yes")
		}
		fmt.Fprintf(tw, "%s\t%s\t%d dBm\t%s\n", name, d.ID, d.RSSI, ring)
	}
	return tw.Flush()
}

func printJSON(w io.Writer, v any) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(v)
}
