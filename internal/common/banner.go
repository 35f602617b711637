package common

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/ternarybob/banner"
)

const bannerWidth = 64

var bannerArt = []string{
	`   _____ __             __                    `,
	`  / ___// /_____  _____/ /______ ____  ____   `,
	`  \__ \/ __/ __ \/ ___/ //_/ __ ` + "`" + `/ _ \/ __ \  `,
	` ___/ / /_/ /_/ / /__/ ,< / /_/ /  __/ / / /  `,
	`/____/\__/\____/\___/_/|_|\__, /\___/_/ /_/   `,
	`                         /____/               `,
}

// startupFacts lists what an operator checks first after a restart.
func startupFacts(config *Config) [][2]string {
	store := config.Storage.Backend + " " + config.Storage.Address
	if config.Storage.Backend == "badger" {
		store = config.Storage.Backend + " " + config.Storage.Path
	}
	admin := "disabled"
	if config.Auth.AdminPasswordHash != "" {
		admin = "enabled"
	}
	return [][2]string{
		{"Version", GetVersion() + " (" + GetBuild() + ", " + GetGitCommit() + ")"},
		{"Environment", config.Environment},
		{"Listen", fmt.Sprintf("%s:%d", config.Server.Host, config.Server.Port)},
		{"Storage", store},
		{"Generation", config.Generation.Provider + ", budget " + strconv.Itoa(config.Generation.CallBudget) + " calls/session"},
		{"Session TTL", config.Sessions.GetIdleTTL().String()},
		{"Admin wipe", admin},
	}
}

// writeBanner renders the startup banner to w.
func writeBanner(w io.Writer, config *Config) {
	rule := banner.ColorCyan + strings.Repeat("═", bannerWidth) + banner.ColorReset
	bold := banner.ColorBold + banner.ColorWhite

	fmt.Fprintf(w, "\n%s\n\n", rule)
	for _, line := range bannerArt {
		fmt.Fprintf(w, "%s%s%s\n", bold, line, banner.ColorReset)
	}
	fmt.Fprintf(w, "\n%s  Equity research reports%s\n\n%s\n\n", bold, banner.ColorReset, rule)
	for _, kv := range startupFacts(config) {
		fmt.Fprintf(w, "  %s%-12s%s %s\n", bold, kv[0], banner.ColorReset, kv[1])
	}
	fmt.Fprintf(w, "\n%s\n\n", rule)
}

// PrintBanner writes the startup banner to stderr and logs the same facts.
func PrintBanner(config *Config, logger *Logger) {
	writeBanner(os.Stderr, config)

	event := logger.Info()
	for _, kv := range startupFacts(config) {
		event = event.Str(strings.ToLower(strings.ReplaceAll(kv[0], " ", "_")), kv[1])
	}
	event.Msg("Application started")
}

// PrintShutdownBanner writes a one-line shutdown notice to stderr.
func PrintShutdownBanner(logger *Logger) {
	fmt.Fprintf(os.Stderr, "\n%s  stockgen shutting down%s\n\n", banner.ColorBold+banner.ColorWhite, banner.ColorReset)
	logger.Info().Msg("Application shutting down")
}
