package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/your-org/facefinder/internal/models"
)

type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	NATS      NATSConfig      `yaml:"nats"`
	MinIO     MinIOConfig     `yaml:"minio"`
	Vision    VisionConfig    `yaml:"vision"`
	Extractor ExtractorConfig `yaml:"extractor"`
	Faces     FacesConfig     `yaml:"faces"`
	Logging   LoggingConfig   `yaml:"logging"`
}

type ServerConfig struct {
	Port       int    `yaml:"port"`
	WorkerPort int    `yaml:"worker_port"`
	APIKey     string `yaml:"api_key"`
}

type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Name     string `yaml:"name"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	MaxConns int    `yaml:"max_conns"`
	// URL overrides the discrete fields when set.
	URL string `yaml:"url"`
}

func (d DatabaseConfig) DSN() string {
	if d.URL != "" {
		return d.URL
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=disable",
		d.User, d.Password, d.Host, d.Port, d.Name)
}

type NATSConfig struct {
	URL string `yaml:"url"`
}

type MinIOConfig struct {
	Endpoint  string `yaml:"endpoint"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	Bucket    string `yaml:"bucket"`
	UseSSL    bool   `yaml:"use_ssl"`
}

// VisionConfig configures the in-process ONNX extractor.
type VisionConfig struct {
	ModelsDir          string            `yaml:"models_dir"`
	ONNXLibPath        string            `yaml:"onnx_lib_path"`
	DetectorFile       string            `yaml:"detector_file"`
	DetectionThreshold float64           `yaml:"detection_threshold"`
	EmbedderFiles      map[string]string `yaml:"embedder_files"`
}

type ExtractorConfig struct {
	// Mode is "local" (ONNX in-process) or "remote" (HTTP worker).
	Mode      string        `yaml:"mode"`
	RemoteURL string        `yaml:"remote_url"`
	Timeout   time.Duration `yaml:"timeout"`
}

type FacesConfig struct {
	DefaultModel  string             `yaml:"default_model"`
	DefaultMetric string             `yaml:"default_metric"`
	Dimensions    map[string]int     `yaml:"dimensions"`
	Thresholds    map[string]float64 `yaml:"thresholds"`
	// IngestModels is the ordered list of models each new image is run through.
	IngestModels []string `yaml:"ingest_models"`

	SourceDir      string        `yaml:"source_dir"`
	PreviewDir     string        `yaml:"preview_dir"`
	PreviewBackend string        `yaml:"preview_backend"`
	ScanInterval   time.Duration `yaml:"scan_interval"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load reads config from YAML file and applies environment variable overrides.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	applyEnvOverrides(cfg)
	setDefaults(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects configuration that would otherwise surface as runtime
// errors on the first query or ingestion run.
func (c *Config) Validate() error {
	reg, err := c.Registry()
	if err != nil {
		return err
	}
	if _, err := c.DefaultModel(reg); err != nil {
		return fmt.Errorf("faces.default_model: %w", err)
	}
	if _, err := c.DefaultMetric(); err != nil {
		return fmt.Errorf("faces.default_metric: %w", err)
	}
	if _, err := c.IngestModels(reg); err != nil {
		return fmt.Errorf("faces.ingest_models: %w", err)
	}
	switch c.Extractor.Mode {
	case "local":
	case "remote":
		if c.Extractor.RemoteURL == "" {
			return fmt.Errorf("extractor.remote_url is required in remote mode")
		}
	default:
		return fmt.Errorf("extractor.mode: unknown mode %q", c.Extractor.Mode)
	}
	switch c.Faces.PreviewBackend {
	case "dir", "minio":
	default:
		return fmt.Errorf("faces.preview_backend: unknown backend %q", c.Faces.PreviewBackend)
	}
	return nil
}

// Registry builds the immutable model tables. Call once at startup and pass
// the result to constructors.
func (c *Config) Registry() (*models.Registry, error) {
	dims := make(map[models.Model]int, len(c.Faces.Dimensions))
	for name, d := range c.Faces.Dimensions {
		m, err := models.ParseModel(name)
		if err != nil {
			return nil, fmt.Errorf("faces.dimensions: %w", err)
		}
		dims[m] = d
	}
	thresholds := make(map[models.Model]float64, len(c.Faces.Thresholds))
	for name, t := range c.Faces.Thresholds {
		m, err := models.ParseModel(name)
		if err != nil {
			return nil, fmt.Errorf("faces.thresholds: %w", err)
		}
		thresholds[m] = t
	}
	reg, err := models.NewRegistry(dims, thresholds)
	if err != nil {
		return nil, fmt.Errorf("build model registry: %w", err)
	}
	return reg, nil
}

func (c *Config) DefaultModel(reg *models.Registry) (models.Model, error) {
	m, err := models.ParseModel(c.Faces.DefaultModel)
	if err != nil {
		return "", err
	}
	if _, err := reg.Dimension(m); err != nil {
		return "", err
	}
	return m, nil
}

func (c *Config) DefaultMetric() (models.Metric, error) {
	return models.ParseMetric(c.Faces.DefaultMetric)
}

func (c *Config) IngestModels(reg *models.Registry) ([]models.Model, error) {
	out := make([]models.Model, 0, len(c.Faces.IngestModels))
	for _, name := range c.Faces.IngestModels {
		m, err := models.ParseModel(name)
		if err != nil {
			return nil, err
		}
		if _, err := reg.Dimension(m); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, nil
}

func setDefaults(cfg *Config) {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.WorkerPort == 0 {
		cfg.Server.WorkerPort = 8082
	}
	if cfg.Database.Port == 0 {
		cfg.Database.Port = 5432
	}
	if cfg.Database.MaxConns == 0 {
		cfg.Database.MaxConns = 20
	}
	if cfg.Vision.DetectorFile == "" {
		cfg.Vision.DetectorFile = "det_10g.onnx"
	}
	if cfg.Vision.DetectionThreshold == 0 {
		cfg.Vision.DetectionThreshold = 0.5
	}
	if len(cfg.Vision.EmbedderFiles) == 0 {
		cfg.Vision.EmbedderFiles = map[string]string{
			string(models.ModelArcFace): "w600k_r50.onnx",
		}
	}
	if cfg.Extractor.Mode == "" {
		cfg.Extractor.Mode = "local"
	}
	if cfg.Extractor.Timeout == 0 {
		cfg.Extractor.Timeout = 120 * time.Second
	}
	if cfg.Faces.DefaultModel == "" {
		cfg.Faces.DefaultModel = string(models.ModelArcFace)
	}
	if cfg.Faces.DefaultMetric == "" {
		cfg.Faces.DefaultMetric = string(models.MetricCosine)
	}
	if len(cfg.Faces.Dimensions) == 0 {
		cfg.Faces.Dimensions = make(map[string]int, len(models.DefaultDimensions))
		for m, d := range models.DefaultDimensions {
			cfg.Faces.Dimensions[string(m)] = d
		}
	}
	if len(cfg.Faces.Thresholds) == 0 {
		cfg.Faces.Thresholds = make(map[string]float64, len(models.DefaultThresholds))
		for m, t := range models.DefaultThresholds {
			cfg.Faces.Thresholds[string(m)] = t
		}
	}
	if len(cfg.Faces.IngestModels) == 0 {
		cfg.Faces.IngestModels = []string{cfg.Faces.DefaultModel}
	}
	if cfg.Faces.SourceDir == "" {
		cfg.Faces.SourceDir = "static/img"
	}
	if cfg.Faces.PreviewDir == "" {
		cfg.Faces.PreviewDir = "static/preview"
	}
	if cfg.Faces.PreviewBackend == "" {
		cfg.Faces.PreviewBackend = "dir"
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("FF_SERVER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("FF_API_KEY"); v != "" {
		cfg.Server.APIKey = v
	}
	if v := os.Getenv("FF_DATABASE_URL"); v != "" {
		cfg.Database.URL = v
	}
	if v := os.Getenv("FF_DB_HOST"); v != "" {
		cfg.Database.Host = v
	}
	if v := os.Getenv("FF_DB_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Database.Port = port
		}
	}
	if v := os.Getenv("FF_DB_NAME"); v != "" {
		cfg.Database.Name = v
	}
	if v := os.Getenv("FF_DB_USER"); v != "" {
		cfg.Database.User = v
	}
	if v := os.Getenv("FF_DB_PASSWORD"); v != "" {
		cfg.Database.Password = v
	}
	if v := os.Getenv("FF_NATS_URL"); v != "" {
		cfg.NATS.URL = v
	}
	if v := os.Getenv("FF_MINIO_ENDPOINT"); v != "" {
		cfg.MinIO.Endpoint = v
	}
	if v := os.Getenv("FF_MINIO_ACCESS_KEY"); v != "" {
		cfg.MinIO.AccessKey = v
	}
	if v := os.Getenv("FF_MINIO_SECRET_KEY"); v != "" {
		cfg.MinIO.SecretKey = v
	}
	if v := os.Getenv("FF_MINIO_BUCKET"); v != "" {
		cfg.MinIO.Bucket = v
	}
	if v := os.Getenv("FF_MODELS_DIR"); v != "" {
		cfg.Vision.ModelsDir = v
	}
	if v := os.Getenv("FF_ONNX_LIB_PATH"); v != "" {
		cfg.Vision.ONNXLibPath = v
	}
	if v := os.Getenv("FF_EXTRACTOR_MODE"); v != "" {
		cfg.Extractor.Mode = v
	}
	if v := os.Getenv("FF_EXTRACTOR_URL"); v != "" {
		cfg.Extractor.RemoteURL = v
	}
	if v := os.Getenv("FF_DEFAULT_MODEL"); v != "" {
		cfg.Faces.DefaultModel = v
	}
	if v := os.Getenv("FF_DEFAULT_METRIC"); v != "" {
		cfg.Faces.DefaultMetric = v
	}
	if v := os.Getenv("FF_INGEST_MODELS"); v != "" {
		cfg.Faces.IngestModels = strings.Split(v, ",")
	}
	if v := os.Getenv("FF_SOURCE_DIR"); v != "" {
		cfg.Faces.SourceDir = v
	}
	if v := os.Getenv("FF_PREVIEW_DIR"); v != "" {
		cfg.Faces.PreviewDir = v
	}
	if v := os.Getenv("FF_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
}
