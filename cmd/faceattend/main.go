package main

import (
	"fmt"
	"os"
	"runtime"
	"strings"

	"github.com/spf13/cobra"

	"github.com/MrCodeEU/faceattend/pkg/camera"
	"github.com/MrCodeEU/faceattend/pkg/config"
	"github.com/MrCodeEU/faceattend/pkg/logging"
	"github.com/MrCodeEU/faceattend/pkg/vision"

	// Optional backends register themselves when built with their tags.
	_ "github.com/MrCodeEU/faceattend/pkg/dlib"
	_ "github.com/MrCodeEU/faceattend/pkg/opencv"
)

// Build metadata, set by -ldflags at compile time.
var (
	version   = "0.2.0"
	commitSHA = "unknown"
)

var (
	cfg        *config.Config
	configFile string
	debug      bool
)

var rootCmd = &cobra.Command{
	Use:   "faceattend",
	Short: "Face recognition attendance for classrooms",
	Long: `faceattend enrolls students from a local camera, trains an LBPH face
model and marks attendance once per session window.`,
	SilenceUsage:      true,
	PersistentPreRunE: loadConfig,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "Path to configuration file")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "Enable debug logging")

	rootCmd.AddCommand(configCmd, versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func loadConfig(cmd *cobra.Command, args []string) error {
	if err := config.LoadDotEnv(); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: Could not load .env: %v\n", err)
	}

	var err error
	if configFile != "" {
		cfg, err = config.Load(configFile)
		if err != nil {
			return fmt.Errorf("failed to load config %s: %w", configFile, err)
		}
	} else {
		cfg, err = config.LoadDefault()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Warning: Could not load config: %v\n", err)
			cfg = config.DefaultConfig()
		}
	}

	cfg.ApplyEnv()
	cfg.ExpandPaths()
	if err := cfg.Validate(); err != nil {
		return err
	}

	logLevel := cfg.Logging.Level
	if debug {
		logLevel = "debug"
	}
	if err := logging.Init(logLevel, cfg.Logging.File, cfg.Logging.Format); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: Could not initialize file logging: %v\n", err)
	}

	logging.Debugf("faceattend v%s starting", version)
	logging.Debugf("Config loaded, data dir: %s", cfg.Storage.DataDir)
	return nil
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show the effective configuration",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println("Current Configuration:")
		fmt.Println("======================")
		fmt.Println()
		fmt.Println("[Camera]")
		fmt.Printf("  Device:          %s (%s)\n", cfg.Camera.Device, cfg.Camera.Driver)
		fmt.Printf("  Resolution:      %dx%d @ %d FPS\n", cfg.Camera.Width, cfg.Camera.Height, cfg.Camera.FPS)
		fmt.Printf("  Open Attempts:   %d (backoff %s)\n", cfg.Camera.OpenAttempts, cfg.Camera.OpenBackoff)
		fmt.Println()
		fmt.Println("[Detection]")
		fmt.Printf("  Backend:         %s\n", cfg.Detection.Backend)
		fmt.Printf("  Cascade:         %s\n", cfg.Detection.CascadePath)
		fmt.Printf("  Scale/Neighbors: %.2f / %d (min %dpx)\n", cfg.Detection.ScaleFactor, cfg.Detection.MinNeighbors, cfg.Detection.MinSize)
		fmt.Println()
		fmt.Println("[Capture]")
		fmt.Printf("  Max Images:      %d\n", cfg.Capture.MaxImages)
		fmt.Printf("  Timeout:         %s\n", cfg.Capture.Timeout)
		fmt.Printf("  Region Policy:   %s\n", cfg.Capture.RegionPolicy)
		fmt.Println()
		fmt.Println("[Recognition]")
		fmt.Printf("  Threshold:       %.2f (%s)\n", cfg.Recognition.Threshold, cfg.Recognition.Metric)
		fmt.Printf("  Model Path:      %s\n", cfg.Recognition.ModelPath)
		fmt.Printf("  Training Cron:   %s\n", orNone(cfg.Training.Schedule))
		fmt.Println()
		fmt.Println("[Sessions]")
		fmt.Printf("  Timezone:        %s (fallback %s)\n", cfg.Sessions.Timezone, cfg.Sessions.UTCOffset)
		for _, w := range cfg.Sessions.Windows {
			fmt.Printf("  %-16s %s-%s\n", w.Name+":", w.Start, w.End)
		}
		fmt.Println()
		fmt.Println("[Storage]")
		fmt.Printf("  Data Dir:        %s\n", cfg.Storage.DataDir)
		fmt.Printf("  Dataset Dir:     %s\n", cfg.Storage.DatasetDir)
		fmt.Printf("  Encryption:      %t\n", cfg.Storage.EncryptionEnabled)
		fmt.Printf("  Database:        %s\n", cfg.Database.Driver)
		fmt.Println()
		fmt.Println("[Server]")
		fmt.Printf("  Address:         %s\n", cfg.Server.Addr)
		fmt.Printf("  Origins:         %s\n", strings.Join(cfg.Server.AllowedOrigins, ", "))
		fmt.Println()
		fmt.Println("[Logging]")
		fmt.Printf("  Level:           %s (%s)\n", cfg.Logging.Level, cfg.Logging.Format)
		fmt.Printf("  File:            %s\n", orNone(cfg.Logging.File))
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version information",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("faceattend v%s (%s)\n", version, commitSHA)
		fmt.Println()
		fmt.Println("Build Information:")
		fmt.Printf("  Go version: %s\n", runtime.Version())
		fmt.Printf("  Platform:   %s/%s\n", runtime.GOOS, runtime.GOARCH)
		fmt.Printf("  Drivers:    %s\n", strings.Join(camera.Drivers(), ", "))
		for _, b := range vision.Backends() {
			fmt.Printf("  Locator:    %s (%s)\n", b.Backend, b.Name)
		}
	},
}

func orNone(s string) string {
	if s == "" {
		return "(none)"
	}
	return s
}
