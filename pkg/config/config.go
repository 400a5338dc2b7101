// Package config provides configuration management for faceattend.
// It loads configuration from YAML files with sensible defaults and lets
// FACEATTEND_* environment variables (optionally from a .env file) override them.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"regexp"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all faceattend configuration.
type Config struct {
	Camera      CameraConfig      `yaml:"camera"`
	Detection   DetectionConfig   `yaml:"detection"`
	Capture     CaptureConfig     `yaml:"capture"`
	Recognition RecognitionConfig `yaml:"recognition"`
	Training    TrainingConfig    `yaml:"training"`
	Sessions    SessionsConfig    `yaml:"sessions"`
	Attendance  AttendanceConfig  `yaml:"attendance"`
	Storage     StorageConfig     `yaml:"storage"`
	Database    DatabaseConfig    `yaml:"database"`
	Server      ServerConfig      `yaml:"server"`
	Logging     LoggingConfig     `yaml:"logging"`
}

// CameraConfig holds frame source settings.
type CameraConfig struct {
	Device       string        `yaml:"device" validate:"required"`
	Driver       string        `yaml:"driver" validate:"oneof=ffmpeg opencv"`
	FFmpegPath   string        `yaml:"ffmpeg_path"`
	Width        int           `yaml:"width" validate:"gt=0"`
	Height       int           `yaml:"height" validate:"gt=0"`
	FPS          int           `yaml:"fps" validate:"gt=0,lte=120"`
	OpenAttempts int           `yaml:"open_attempts" validate:"gte=3"`
	OpenBackoff  time.Duration `yaml:"open_backoff" validate:"gte=0"`
}

// DetectionConfig holds face locator settings.
type DetectionConfig struct {
	Backend      string  `yaml:"backend" validate:"oneof=auto haar opencv dlib"`
	CascadePath  string  `yaml:"cascade_path"`
	DlibModels   string  `yaml:"dlib_models"`
	ScaleFactor  float64 `yaml:"scale_factor" validate:"gt=1"`
	MinNeighbors int     `yaml:"min_neighbors" validate:"gte=0"`
	MinSize      int     `yaml:"min_size" validate:"gt=0"`
}

// CaptureConfig holds enrollment capture settings.
type CaptureConfig struct {
	MaxImages     int           `yaml:"max_images" validate:"gt=0,lte=999"`
	Timeout       time.Duration `yaml:"timeout" validate:"gt=0"`
	JoinGrace     time.Duration `yaml:"join_grace" validate:"gte=0"`
	FrameInterval time.Duration `yaml:"frame_interval" validate:"gte=0"`
	RegionPolicy  string        `yaml:"region_policy" validate:"oneof=first largest"`
	SampleSize    int           `yaml:"sample_size" validate:"gte=16"`
}

// RecognitionConfig holds recognizer settings.
type RecognitionConfig struct {
	Threshold float64 `yaml:"threshold" validate:"gt=0"`
	Metric    string  `yaml:"metric" validate:"oneof=chi_square euclidean"`
	ModelPath string  `yaml:"model_path"`
	Radius    int     `yaml:"radius" validate:"gte=1,lte=4"`
	GridX     int     `yaml:"grid_x" validate:"gte=1"`
	GridY     int     `yaml:"grid_y" validate:"gte=1"`
}

// TrainingConfig holds trainer settings.
type TrainingConfig struct {
	Workers  int    `yaml:"workers" validate:"gte=1"`
	Schedule string `yaml:"schedule"`
}

// WindowConfig is one named attendance window in civil time.
type WindowConfig struct {
	Name  string `yaml:"name" validate:"required"`
	Start string `yaml:"start" validate:"clock"`
	End   string `yaml:"end" validate:"clock"`
}

// SessionsConfig holds the attendance window layout.
type SessionsConfig struct {
	Timezone  string         `yaml:"timezone"`
	UTCOffset string         `yaml:"utc_offset" validate:"omitempty,offset"`
	Windows   []WindowConfig `yaml:"windows" validate:"required,min=1,dive"`
}

// AttendanceConfig holds marker settings.
type AttendanceConfig struct {
	CaptureWindow time.Duration `yaml:"capture_window" validate:"gt=0"`
	Status        string        `yaml:"status" validate:"required"`
}

// StorageConfig holds on-disk storage settings.
type StorageConfig struct {
	DataDir           string `yaml:"data_dir" validate:"required"`
	DatasetDir        string `yaml:"dataset_dir"`
	EncryptionEnabled bool   `yaml:"encryption_enabled"`
	// EncryptionKey is a passphrase; empty derives a machine-bound key.
	EncryptionKey string `yaml:"encryption_key"`
}

// DatabaseConfig holds the attendance database settings.
type DatabaseConfig struct {
	Driver       string `yaml:"driver" validate:"oneof=sqlite postgres mysql"`
	DSN          string `yaml:"dsn"`
	MaxOpenConns int    `yaml:"max_open_conns" validate:"gte=0"`
	MaxIdleConns int    `yaml:"max_idle_conns" validate:"gte=0"`
	LogLevel     string `yaml:"log_level" validate:"oneof=silent error warn info"`
}

// ServerConfig holds the HTTP boundary settings.
type ServerConfig struct {
	Addr           string        `yaml:"addr" validate:"required"`
	AllowedOrigins []string      `yaml:"allowed_origins"`
	RequestTimeout time.Duration `yaml:"request_timeout" validate:"gt=0"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level" validate:"oneof=debug info warn error"`
	File   string `yaml:"file"`
	Format string `yaml:"format" validate:"oneof=text json"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	homeDir, _ := os.UserHomeDir()
	dataDir := filepath.Join(homeDir, ".local/share/faceattend")

	return &Config{
		Camera: CameraConfig{
			Device:       "/dev/video0",
			Driver:       "ffmpeg",
			FFmpegPath:   "ffmpeg",
			Width:        640,
			Height:       480,
			FPS:          30,
			OpenAttempts: 3,
			OpenBackoff:  500 * time.Millisecond,
		},
		Detection: DetectionConfig{
			Backend:      "auto",
			ScaleFactor:  1.1,
			MinNeighbors: 5,
			MinSize:      60,
		},
		Capture: CaptureConfig{
			MaxImages:     100,
			Timeout:       150 * time.Second,
			JoinGrace:     5 * time.Second,
			FrameInterval: 33 * time.Millisecond,
			RegionPolicy:  "first",
			SampleSize:    200,
		},
		Recognition: RecognitionConfig{
			Threshold: 75,
			Metric:    "chi_square",
			Radius:    1,
			GridX:     8,
			GridY:     8,
		},
		Training: TrainingConfig{
			Workers: runtime.NumCPU(),
		},
		Sessions: SessionsConfig{
			Timezone:  "Asia/Kolkata",
			UTCOffset: "+05:30",
			Windows: []WindowConfig{
				{Name: "AM", Start: "09:00", End: "13:00"},
				{Name: "PM", Start: "14:00", End: "16:00"},
			},
		},
		Attendance: AttendanceConfig{
			CaptureWindow: 700 * time.Millisecond,
			Status:        "PRESENT",
		},
		Storage: StorageConfig{
			DataDir:           dataDir,
			EncryptionEnabled: false,
		},
		Database: DatabaseConfig{
			Driver:       "sqlite",
			MaxOpenConns: 10,
			MaxIdleConns: 5,
			LogLevel:     "warn",
		},
		Server: ServerConfig{
			Addr:           "127.0.0.1:5000",
			AllowedOrigins: []string{"http://localhost:5173"},
			RequestTimeout: 3 * time.Minute,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load loads configuration from the specified file on top of the defaults.
func Load(path string) (*Config, error) {
	config := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return config, err
	}

	if err := yaml.Unmarshal(data, config); err != nil {
		return config, err
	}

	return config, nil
}

// LoadDefault tries to load configuration from default locations.
func LoadDefault() (*Config, error) {
	if _, err := os.Stat("/etc/faceattend/faceattend.yaml"); err == nil {
		return Load("/etc/faceattend/faceattend.yaml")
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return DefaultConfig(), nil
	}

	userConfig := filepath.Join(homeDir, ".config/faceattend/faceattend.yaml")
	if _, err := os.Stat(userConfig); err == nil {
		return Load(userConfig)
	}

	return DefaultConfig(), nil
}

// LoadDotEnv loads a .env file if present. A missing file is not an error.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	var existing []string
	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			existing = append(existing, p)
		}
	}
	if len(existing) == 0 {
		return nil
	}
	return godotenv.Load(existing...)
}

// ApplyEnv overrides selected fields from FACEATTEND_* environment variables.
func (c *Config) ApplyEnv() {
	c.Camera.Device = envString("FACEATTEND_CAMERA_DEVICE", c.Camera.Device)
	c.Camera.Driver = envString("FACEATTEND_CAMERA_DRIVER", c.Camera.Driver)
	c.Detection.Backend = envString("FACEATTEND_DETECTION_BACKEND", c.Detection.Backend)
	c.Detection.CascadePath = envString("FACEATTEND_CASCADE_PATH", c.Detection.CascadePath)
	c.Capture.MaxImages = envInt("FACEATTEND_CAPTURE_MAX_IMAGES", c.Capture.MaxImages)
	c.Recognition.Threshold = envFloat("FACEATTEND_RECOGNITION_THRESHOLD", c.Recognition.Threshold)
	c.Recognition.ModelPath = envString("FACEATTEND_MODEL_PATH", c.Recognition.ModelPath)
	c.Training.Schedule = envString("FACEATTEND_TRAINING_SCHEDULE", c.Training.Schedule)
	c.Storage.DataDir = envString("FACEATTEND_DATA_DIR", c.Storage.DataDir)
	c.Storage.DatasetDir = envString("FACEATTEND_DATASET_DIR", c.Storage.DatasetDir)
	c.Storage.EncryptionKey = envString("FACEATTEND_ENCRYPTION_KEY", c.Storage.EncryptionKey)
	c.Database.Driver = envString("FACEATTEND_DATABASE_DRIVER", c.Database.Driver)
	c.Database.DSN = envString("FACEATTEND_DATABASE_DSN", c.Database.DSN)
	c.Server.Addr = envString("FACEATTEND_SERVER_ADDR", c.Server.Addr)
	c.Logging.Level = envString("FACEATTEND_LOG_LEVEL", c.Logging.Level)
	c.Logging.Format = envString("FACEATTEND_LOG_FORMAT", c.Logging.Format)
}

func envString(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}

func envInt(key string, defaultValue int) int {
	s := os.Getenv(key)
	if s == "" {
		return defaultValue
	}
	if n, err := strconv.Atoi(s); err == nil && n > 0 {
		return n
	}
	return defaultValue
}

func envFloat(key string, defaultValue float64) float64 {
	s := os.Getenv(key)
	if s == "" {
		return defaultValue
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil && f > 0 {
		return f
	}
	return defaultValue
}

// ExpandPath expands ~ and environment variables in a path.
func ExpandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		homeDir, err := os.UserHomeDir()
		if err == nil {
			path = filepath.Join(homeDir, path[2:])
		}
	}
	return os.ExpandEnv(path)
}

// ExpandPaths expands all paths and derives unset ones from the data dir.
func (c *Config) ExpandPaths() {
	c.Camera.Device = ExpandPath(c.Camera.Device)
	c.Storage.DataDir = ExpandPath(c.Storage.DataDir)

	if c.Storage.DatasetDir == "" {
		c.Storage.DatasetDir = filepath.Join(c.Storage.DataDir, "dataset")
	}
	c.Storage.DatasetDir = ExpandPath(c.Storage.DatasetDir)

	if c.Recognition.ModelPath == "" {
		c.Recognition.ModelPath = filepath.Join(c.Storage.DataDir, "models", "lbph.model")
	}
	c.Recognition.ModelPath = ExpandPath(c.Recognition.ModelPath)

	if c.Detection.CascadePath == "" {
		c.Detection.CascadePath = filepath.Join(c.Storage.DataDir, "models", "haarcascade_frontalface_default.xml")
	}
	c.Detection.CascadePath = ExpandPath(c.Detection.CascadePath)

	if c.Detection.DlibModels == "" {
		c.Detection.DlibModels = filepath.Join(c.Storage.DataDir, "models", "dlib")
	}
	c.Detection.DlibModels = ExpandPath(c.Detection.DlibModels)

	if c.Database.Driver == "sqlite" && c.Database.DSN == "" {
		c.Database.DSN = filepath.Join(c.Storage.DataDir, "faceattend.db")
	}

	c.Logging.File = ExpandPath(c.Logging.File)
}

// EnsureDirectories creates the directories faceattend writes into.
func (c *Config) EnsureDirectories() error {
	if err := os.MkdirAll(c.Storage.DataDir, 0700); err != nil {
		return fmt.Errorf("failed to create storage directory: %w", err)
	}

	if err := os.MkdirAll(c.Storage.DatasetDir, 0700); err != nil {
		return fmt.Errorf("failed to create dataset directory: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(c.Recognition.ModelPath), 0700); err != nil {
		return fmt.Errorf("failed to create models directory: %w", err)
	}

	if c.Logging.File != "" {
		if err := os.MkdirAll(filepath.Dir(c.Logging.File), 0755); err != nil {
			return fmt.Errorf("failed to create log directory: %w", err)
		}
	}

	return nil
}

var (
	clockPattern  = regexp.MustCompile(`^([01]\d|2[0-3]):[0-5]\d$|^24:00$`)
	offsetPattern = regexp.MustCompile(`^[+-]([01]\d|2[0-3]):[0-5]\d$`)
)

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("yaml"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	_ = v.RegisterValidation("clock", func(fl validator.FieldLevel) bool {
		return clockPattern.MatchString(fl.Field().String())
	})
	_ = v.RegisterValidation("offset", func(fl validator.FieldLevel) bool {
		return offsetPattern.MatchString(fl.Field().String())
	})
	return v
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if err := newValidator().Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			field := strings.TrimPrefix(fe.Namespace(), "Config.")
			if fe.Param() != "" {
				return fmt.Errorf("invalid %s: failed %s=%s (got %v)", field, fe.Tag(), fe.Param(), fe.Value())
			}
			return fmt.Errorf("invalid %s: failed %s (got %v)", field, fe.Tag(), fe.Value())
		}
		return err
	}

	seen := make(map[string]bool, len(c.Sessions.Windows))
	for _, w := range c.Sessions.Windows {
		if seen[w.Name] {
			return fmt.Errorf("duplicate session window name: %s", w.Name)
		}
		seen[w.Name] = true
		if w.Start >= w.End {
			return fmt.Errorf("session window %s: start %s must be before end %s", w.Name, w.Start, w.End)
		}
	}

	if c.Database.Driver != "sqlite" && c.Database.DSN == "" {
		return fmt.Errorf("database dsn is required for driver %s", c.Database.Driver)
	}

	return nil
}
