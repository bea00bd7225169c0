package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/uloget/uloget/internal/captcha"
	"github.com/uloget/uloget/internal/circuit"
	"github.com/uloget/uloget/internal/config"
	"github.com/uloget/uloget/internal/controller"
	"github.com/uloget/uloget/internal/frontend"
	consolefrontend "github.com/uloget/uloget/internal/frontend/console"
	jsonfrontend "github.com/uloget/uloget/internal/frontend/json"
	"github.com/uloget/uloget/internal/history"
	"github.com/uloget/uloget/internal/logging"
)

var getCmd = &cobra.Command{
	Use:   "get [url]...",
	Short: "download one or more files from anonymizer-gated hosts",
	Long: `get walks each landing page, rotates circuits and solves CAPTCHAs as
needed to acquire a valid download link, then fetches the target in
parallel segments.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runGet,
}

func init() {
	getCmd.Flags().Int("parts", 0, "number of parallel segments (0 = use settings default)")
	getCmd.Flags().StringP("output", "o", "", "destination directory (default: settings' download dir)")
	getCmd.Flags().String("temp", "", "working directory for journals and circuit data (default: system temp)")
	getCmd.Flags().BoolP("yes", "y", false, "overwrite an existing output file without asking")
	getCmd.Flags().Bool("parts-progress", false, "show a progress bar per segment instead of only the total")
	getCmd.Flags().String("log", "", "path to a debug log file (default: <temp>/uloget-debug.log)")
	getCmd.Flags().Bool("auto-captcha", false, "attempt unattended CAPTCHA solving (unsupported in this build)")
	getCmd.Flags().Bool("manual-captcha", true, "prompt on the terminal for the CAPTCHA answer")
	getCmd.Flags().String("password", "", "password for password-protected files")
	getCmd.Flags().Bool("enforce-anon", false, "stored in the runtime config but not acted on: the landing page is always fetched over a direct connection")
	getCmd.Flags().Duration("conn-timeout", 0, "per-request connect timeout (0 = use settings default)")
	getCmd.Flags().String("frontend", "console", "progress frontend: console or json")
	getCmd.Flags().String("settings", "", "path to a settings file (default: "+config.GetSettingsPath()+")")
	getCmd.Flags().String("history", "", "path to the run history database (default: <temp>/uloget-history.db)")
}

func runGet(cmd *cobra.Command, args []string) error {
	settings, err := loadSettingsFlag(cmd)
	if err != nil {
		return fmt.Errorf("load settings: %w", err)
	}
	runtime := settings.ToRuntimeConfig()

	if parts, _ := cmd.Flags().GetInt("parts"); parts > 0 {
		runtime.Parts = parts
	}
	if timeout, _ := cmd.Flags().GetDuration("conn-timeout"); timeout > 0 {
		runtime.ConnTimeout = timeout
	}
	if enforce, _ := cmd.Flags().GetBool("enforce-anon"); enforce {
		runtime.EnforceAnon = true
	}

	outputDir, _ := cmd.Flags().GetString("output")
	if outputDir == "" {
		outputDir = settings.General.DefaultDownloadDir
	}
	tempDir, _ := cmd.Flags().GetString("temp")
	if tempDir == "" {
		tempDir = config.GetTempDir()
	}
	overwrite, _ := cmd.Flags().GetBool("yes")
	password, _ := cmd.Flags().GetString("password")

	logPath, _ := cmd.Flags().GetString("log")
	var log *logging.Logger
	if logPath != "" {
		log, err = logging.New(logPath)
		if err != nil {
			return fmt.Errorf("open log file: %w", err)
		}
		defer log.Close()
	} else {
		log = logging.Default(tempDir)
	}

	solver, err := solverFromFlags(cmd)
	if err != nil {
		return err
	}

	fe, err := frontendFromFlags(cmd)
	if err != nil {
		return err
	}

	historyPath, _ := cmd.Flags().GetString("history")
	if historyPath == "" {
		historyPath = filepath.Join(tempDir, "uloget-history.db")
	}
	hist, err := history.Open(historyPath)
	if err != nil {
		log.Log(logging.Warning, "could not open run history: %v", err)
		hist = nil
	} else {
		defer hist.Close()
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Log(logging.Warning, "interrupted, cancelling in-flight downloads")
		cancel()
	}()

	ctrl := controller.New()
	var firstErr error
	for _, url := range args {
		sup := circuit.NewTorSupervisor()
		circ := circuit.New(sup, tempDir, runtime.GetPortBase(), runtime.GetConnTimeout())

		req := controller.Request{
			URL:       url,
			OutputDir: outputDir,
			Parts:     runtime.GetParts(),
			Overwrite: overwrite,
			Password:  password,
			Runtime:   runtime,
			Log:       log,
			Solver:    solver,
			Circuit:   circ,
			Frontend:  fe,
		}

		var runID int64
		if hist != nil {
			runID, _ = hist.Start(url, outputDir, "")
		}

		result, runErr := ctrl.Run(ctx, req)
		if hist != nil {
			status := "completed"
			if runErr != nil {
				status = "error"
			}
			_ = hist.Finish(runID, status, result.TotalSize, runErr)
		}

		if runErr != nil {
			log.Log(logging.Error, "download of %s failed: %v", url, runErr)
			if firstErr == nil {
				firstErr = runErr
			}
			continue
		}
		log.Log(logging.Success, "downloaded %s to %s in %s", url, result.OutputPath, result.Elapsed.Round(time.Millisecond))
	}

	return firstErr
}

func loadSettingsFlag(cmd *cobra.Command) (*config.Settings, error) {
	path, _ := cmd.Flags().GetString("settings")
	if path == "" {
		return config.LoadSettings()
	}
	return config.LoadSettingsFrom(path)
}

func solverFromFlags(cmd *cobra.Command) (captcha.Solver, error) {
	auto, _ := cmd.Flags().GetBool("auto-captcha")
	if auto {
		return nil, fmt.Errorf("automated captcha solving is not available in this build; pass --manual-captcha instead")
	}
	manual, _ := cmd.Flags().GetBool("manual-captcha")
	if manual {
		return captcha.NewManualSolver(os.Stdin, os.Stdout), nil
	}
	return captcha.NoneSolver{}, nil
}

func frontendFromFlags(cmd *cobra.Command) (frontend.Frontend, error) {
	name, _ := cmd.Flags().GetString("frontend")
	partsProgress, _ := cmd.Flags().GetBool("parts-progress")
	switch name {
	case "json":
		return jsonfrontend.New(os.Stdout), nil
	case "console", "":
		if partsProgress {
			return consolefrontend.NewWithPartsProgress(), nil
		}
		return consolefrontend.New(), nil
	default:
		return nil, fmt.Errorf("unknown frontend %q (want console or json)", name)
	}
}
