package main

import (
	"runtime"
	"runtime/debug"

	"github.com/joshuapare/haven/mem/page"
	"github.com/spf13/cobra"
)

// Set with -ldflags "-X main.version=... -X main.commit=... -X main.date=...".
// Unset values fall back to the module and VCS data embedded by the Go tool.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version and memory backend information",
	Long: `The version command prints the havenctl build and the virtual-memory
backend it was compiled for, including whether idle pages can be loaned back
to the OS on this host.

Example:
  havenctl version
  havenctl version --json`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runVersion()
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}

// VersionReport is the JSON shape of the version command.
type VersionReport struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	Date      string `json:"date"`
	GoVersion string `json:"go_version"`
	Platform  string `json:"platform"`
	PageSize  int    `json:"page_size"`
	CanLoan   bool   `json:"can_loan"`
}

// buildReport merges ldflags values with the embedded build info.
func buildReport(info *debug.BuildInfo, ok bool) VersionReport {
	r := VersionReport{
		Version:   version,
		Commit:    commit,
		Date:      date,
		GoVersion: runtime.Version(),
		Platform:  runtime.GOOS + "/" + runtime.GOARCH,
	}
	if !ok || info == nil {
		return r
	}
	if r.Version == "dev" && info.Main.Version != "" && info.Main.Version != "(devel)" {
		r.Version = info.Main.Version
	}
	for _, s := range info.Settings {
		switch s.Key {
		case "vcs.revision":
			if r.Commit == "none" {
				r.Commit = s.Value
			}
		case "vcs.time":
			if r.Date == "unknown" {
				r.Date = s.Value
			}
		}
	}
	return r
}

func runVersion() error {
	r := buildReport(debug.ReadBuildInfo())
	alloc := page.New()
	r.PageSize = alloc.PageSize()
	r.CanLoan = alloc.CanLoan()

	if jsonOut {
		return printJSON(r)
	}
	printInfo("havenctl %s\n", r.Version)
	printInfo("  commit: %s\n", r.Commit)
	printInfo("  built: %s\n", r.Date)
	printInfo("  go: %s %s\n", r.GoVersion, r.Platform)
	printInfo("  backend: %d-byte pages, loan %t\n", r.PageSize, r.CanLoan)
	return nil
}
