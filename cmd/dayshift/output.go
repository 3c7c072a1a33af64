package main

import (
	"fmt"
	"strings"

	"github.com/fatih/color"

	"github.com/livinlefevreloca/dayshift/internal/db"
	"github.com/livinlefevreloca/dayshift/internal/shift"
)

// colorizeStatus formats a run status with semantic color
func colorizeStatus(status string) string {
	upper := strings.ToUpper(status)

	switch status {
	case db.RunStatusCompleted:
		return color.New(color.FgGreen).Sprint(upper)
	case db.RunStatusPartial:
		return color.New(color.FgYellow).Sprint(upper)
	case db.RunStatusFailed:
		return color.New(color.FgRed).Sprint(upper)
	case db.RunStatusRunning:
		return color.New(color.FgHiBlue).Sprint(upper)
	default:
		return upper
	}
}

func printReport(report *shift.Report) {
	status := db.RunStatusCompleted
	if report.Failed() > 0 {
		status = db.RunStatusPartial
	}
	fmt.Printf("%s run %s: delta=%d pages=%d scanned=%d submitted=%d modified=%d failed=%d in %s\n",
		colorizeStatus(status), report.RunID, report.Delta, report.Pages, report.Scanned,
		report.Submitted, report.Modified, report.Failed(), report.Duration)
	for _, f := range report.Failures {
		fmt.Printf("  %s %v\n", color.New(color.FgHiBlack).Sprint("-"), f)
	}
}
