package main

import (
	"fmt"
	"strconv"

	"github.com/joshuapare/haven/mem/page"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(newInfoCmd())
}

func newInfoCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "info [slot-size...]",
		Short: "Report page geometry and puddle capacities",
		Long: `The info command prints the OS page size, the approximate L1 cache
line, and whether idle pages can be loaned back to the OS. For every slot
size given (in bytes) it prints how many slots one puddle holds.

Example:
  havenctl info
  havenctl info 8 16 24 64 --json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInfo(args)
		},
	}
	return cmd
}

// CapacityRow is one line of the capacity table.
type CapacityRow struct {
	SlotSize int `json:"slot_size"`
	Capacity int `json:"capacity"`
	Tail     int `json:"tail_bytes"`
}

// InfoReport is the JSON shape of the info command.
type InfoReport struct {
	PageSize      int           `json:"page_size"`
	CacheLineSize int           `json:"cache_line_size"`
	CanLoan       bool          `json:"can_loan"`
	Capacities    []CapacityRow `json:"capacities,omitempty"`
}

func capacityTable(pageSize int, sizes []int) []CapacityRow {
	rows := make([]CapacityRow, 0, len(sizes))
	for _, size := range sizes {
		capacity := pageSize / size
		rows = append(rows, CapacityRow{
			SlotSize: size,
			Capacity: capacity,
			Tail:     pageSize - capacity*size,
		})
	}
	return rows
}

func parseSizes(args []string) ([]int, error) {
	sizes := make([]int, 0, len(args))
	for _, a := range args {
		n, err := strconv.Atoi(a)
		if err != nil || n <= 0 {
			return nil, fmt.Errorf("invalid slot size %q: must be a positive integer", a)
		}
		sizes = append(sizes, n)
	}
	return sizes, nil
}

func runInfo(args []string) error {
	sizes, err := parseSizes(args)
	if err != nil {
		return err
	}
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}
	alloc := page.New(cfg.PageOptions(logger)...)

	report := InfoReport{
		PageSize:      alloc.PageSize(),
		CacheLineSize: alloc.CacheLineSize(),
		CanLoan:       alloc.CanLoan(),
		Capacities:    capacityTable(alloc.PageSize(), sizes),
	}
	if jsonOut {
		return printJSON(report)
	}

	printInfo("\nMemory:\n")
	printInfo("  Page size:  %d bytes\n", report.PageSize)
	printInfo("  Cache line: %d bytes\n", report.CacheLineSize)
	printInfo("  Loan:       %t\n", report.CanLoan)
	if len(report.Capacities) > 0 {
		printInfo("\nPuddle capacity:\n")
		for _, row := range report.Capacities {
			if row.Capacity == 0 {
				printInfo("  %6d B  too large for one page\n", row.SlotSize)
				continue
			}
			printInfo("  %6d B  %6d slots  (%d B tail)\n", row.SlotSize, row.Capacity, row.Tail)
		}
	}
	return nil
}
