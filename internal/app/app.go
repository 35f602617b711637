package app

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/mark3labs/mcp-go/server"

	"github.com/bobmcallan/stockgen/internal/clients/claude"
	"github.com/bobmcallan/stockgen/internal/clients/gemini"
	"github.com/bobmcallan/stockgen/internal/clients/imagefetch"
	"github.com/bobmcallan/stockgen/internal/common"
	"github.com/bobmcallan/stockgen/internal/interfaces"
	"github.com/bobmcallan/stockgen/internal/services/report"
	"github.com/bobmcallan/stockgen/internal/storage"
)

// App holds all initialized services, clients, and the MCP server.
// It is the shared core used by the HTTP server and the /mcp endpoint.
type App struct {
	Config        *common.Config
	Logger        *common.Logger
	Storage       interfaces.StorageManager
	Generator     interfaces.GenerationClient
	ImageFetcher  interfaces.ImageFetcher
	ReportService *report.Service
	MCPServer     *server.MCPServer
	StartupTime   time.Time
}

// getBinaryDir returns the directory containing the executable.
func getBinaryDir() string {
	exe, err := os.Executable()
	if err != nil {
		return "."
	}
	return filepath.Dir(exe)
}

// NewApp initializes storage, clients, the report service, and the MCP server.
// configPath may be empty, in which case the default resolution logic is used.
func NewApp(configPath string) (*App, error) {
	startupStart := time.Now()

	// Load version from .version file (fallback if ldflags not set)
	common.LoadVersionFromFile()

	binDir := getBinaryDir()

	// Load configuration - check provided path, STOCKGEN_CONFIG, then binary dir, then fallback
	if configPath == "" {
		configPath = os.Getenv("STOCKGEN_CONFIG")
	}
	if configPath == "" {
		configPath = filepath.Join(binDir, "stockgen.toml")
		if _, err := os.Stat(configPath); os.IsNotExist(err) {
			configPath = "config/stockgen.toml" // fallback for development
		}
	}

	config, err := common.LoadConfig(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	// Resolve relative paths to the binary directory
	if config.Storage.Path != "" && !filepath.IsAbs(config.Storage.Path) {
		config.Storage.Path = filepath.Join(binDir, config.Storage.Path)
	}
	if config.Logging.FilePath != "" && !filepath.IsAbs(config.Logging.FilePath) {
		config.Logging.FilePath = filepath.Join(binDir, config.Logging.FilePath)
	}

	logger := common.NewLoggerFromConfig(config.Logging)

	storageManager, err := storage.NewStorageManager(logger, config)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}

	ctx := context.Background()
	generator := newGenerator(ctx, config, logger)

	fetcher := imagefetch.NewClient(
		imagefetch.WithLogger(logger),
		imagefetch.WithRateLimit(config.Images.RateLimit),
		imagefetch.WithTimeout(config.Images.GetTimeout()),
		imagefetch.WithMaxBytes(config.Images.MaxBytes),
	)

	reportService := report.NewService(storageManager, generator, fetcher, logger, report.Options{
		CallBudget:        config.Generation.CallBudget,
		GenerationTimeout: config.Generation.GetTimeout(),
		IdleTTL:           config.Sessions.GetIdleTTL(),
	})

	mcpServer := server.NewMCPServer(
		"stockgen",
		common.GetVersion(),
		server.WithToolCapabilities(true),
	)

	a := &App{
		Config:        config,
		Logger:        logger,
		Storage:       storageManager,
		Generator:     generator,
		ImageFetcher:  fetcher,
		ReportService: reportService,
		MCPServer:     mcpServer,
		StartupTime:   startupStart,
	}

	a.registerTools()

	logger.Info().Dur("startup", time.Since(startupStart)).Str("backend", storageManager.Backend()).Msg("App initialized")

	return a, nil
}

// newGenerator builds the configured completion client. A missing key leaves
// generation disabled: reports still resolve from stored and seed data.
func newGenerator(ctx context.Context, config *common.Config, logger *common.Logger) interfaces.GenerationClient {
	switch config.Generation.Provider {
	case "claude":
		key, err := common.ResolveAPIKey("claude_api_key", config.Clients.Claude.APIKey)
		if err != nil {
			logger.Warn().Msg("Claude API key not configured - generation will be unavailable")
			return nil
		}
		c, err := claude.NewClient(key,
			claude.WithLogger(logger),
			claude.WithModel(config.Clients.Claude.Model),
			claude.WithMaxTokens(config.Clients.Claude.MaxTokens),
			claude.WithRateLimit(config.Clients.Claude.RateLimit),
		)
		if err != nil {
			logger.Warn().Err(err).Msg("Failed to initialize Claude client")
			return nil
		}
		return c

	default:
		key, err := common.ResolveAPIKey("gemini_api_key", config.Clients.Gemini.APIKey)
		if err != nil {
			logger.Warn().Msg("Gemini API key not configured - generation will be unavailable")
			return nil
		}
		c, err := gemini.NewClient(ctx, key,
			gemini.WithLogger(logger),
			gemini.WithModel(config.Clients.Gemini.Model),
			gemini.WithRateLimit(config.Clients.Gemini.RateLimit),
		)
		if err != nil {
			logger.Warn().Err(err).Msg("Failed to initialize Gemini client")
			return nil
		}
		return c
	}
}

// StartSweeper schedules eviction of idle viewer sessions.
func (a *App) StartSweeper() error {
	return a.ReportService.StartSweeper(a.Config.Sessions.SweepSchedule)
}

// Close releases all resources held by the App.
// Shutdown order: stop sessions (cancels in-flight generation), close storage.
func (a *App) Close() {
	if a.ReportService != nil {
		a.ReportService.Stop()
		a.ReportService = nil
	}
	if a.Storage != nil {
		a.Storage.Close()
		a.Storage = nil
	}
}

// registerTools registers all MCP tools on the App's MCPServer.
func (a *App) registerTools() {
	s := a.MCPServer
	svc := a.ReportService
	logger := a.Logger

	s.AddTool(createGetVersionTool(), handleGetVersion())
	s.AddTool(createGetReportTool(), handleGetReport(svc, logger))
	s.AddTool(createEditFieldTool(), handleEditField(svc, logger))
	s.AddTool(createPatchPointTool(), handlePatchPoint(svc, logger))
	s.AddTool(createSaveReportTool(), handleSaveReport(svc, logger))
	s.AddTool(createListReportsTool(), handleListReports(svc, logger))
	s.AddTool(createGetSharedReportTool(), handleGetSharedReport(svc, logger))
}
