package main

import (
	"fmt"
	"strings"

	"github.com/fatih/color"

	"github.com/dvloznov/finance-import/internal/jobs"
)

var (
	green  = color.New(color.FgGreen)
	yellow = color.New(color.FgYellow, color.Bold)
	blue   = color.New(color.FgBlue)
	red    = color.New(color.FgRed)
)

func printSuccess(text string) {
	green.Printf("  → %s\n", text)
}

func printInfo(text string) {
	fmt.Printf("  → %s\n", text)
}

func printWarning(text string) {
	yellow.Printf("  ⚠ %s\n", text)
}

func printError(text string) {
	red.Printf("Error: %s\n", text)
}

func statusColor(s jobs.JobStatus) *color.Color {
	switch s {
	case jobs.JobStatusCompleted:
		return green
	case jobs.JobStatusFailed:
		return red
	case jobs.JobStatusProcessing:
		return yellow
	}
	return blue
}

// printJob prints one job as an aligned block.
func printJob(job *jobs.ImportJob) {
	fmt.Printf("%-16s %s\n", "id:", job.ID)
	fmt.Printf("%-16s ", "status:")
	statusColor(job.Status).Println(job.Status)
	fmt.Printf("%-16s %s\n", "source:", job.Source)
	fmt.Printf("%-16s %s\n", "file:", job.FileName)
	fmt.Printf("%-16s %d/%d\n", "processed:", job.ProcessedItems, job.TotalItems)
	if job.TaskID != "" {
		fmt.Printf("%-16s %s\n", "task:", job.TaskID)
	}
	fmt.Printf("%-16s %s\n", "created:", job.CreatedAt.Local().Format("2006-01-02 15:04:05"))
	if job.FinishedAt != nil {
		fmt.Printf("%-16s %s\n", "finished:", job.FinishedAt.Local().Format("2006-01-02 15:04:05"))
	}
	if msg := strings.TrimSpace(job.ErrorMessage); msg != "" {
		red.Println("errors:")
		for _, line := range strings.Split(msg, "\n") {
			red.Printf("  %s\n", line)
		}
	}
}

// printJobRow prints one job as a single table line.
func printJobRow(job *jobs.ImportJob) {
	fmt.Printf("%-36s  ", job.ID)
	statusColor(job.Status).Printf("%-10s", job.Status)
	fmt.Printf("  %5d/%-5d  %s\n", job.ProcessedItems, job.TotalItems, job.FileName)
}
