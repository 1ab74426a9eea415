package config

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"

	"portfolio/imagestore/internal/media/sniffer"
)

const (
	BackendLocal = "local"
	BackendMinio = "minio"

	DeriveInline = "inline"
	DerivePool   = "pool"
	DeriveQueue  = "queue"
)

// Spec names become part of derivative file names.
var specNamePattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_-]*$`)

type HTTPConfig struct {
	Host         string
	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

type LoggingConfig struct {
	Level string
}

type StorageConfig struct {
	Backend      string
	Root         string
	PublicPrefix string
	ThumbnailDir string

	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	Prefix    string
	UseSSL    bool
	Region    string
}

type TypeConfig struct {
	MIME       string
	Family     string
	Extensions []string
}

type UploadConfig struct {
	MaxBytes int64
	Types    []TypeConfig
}

type SpecConfig struct {
	Name   string
	Width  int
	Height int
}

type ThumbnailConfig struct {
	Specs        []SpecConfig
	Filter       string
	JPEGQuality  int
	WebPFallback string
}

type DeriveConfig struct {
	Mode      string
	Workers   int
	QueueSize int
}

type RedisConfig struct {
	Addr          string
	Password      string
	DB            int
	Stream        string
	Group         string
	Consumer      string
	ClaimInterval time.Duration
}

type MaintenanceConfig struct {
	Enabled  bool
	Schedule string
	Enqueue  bool
}

type MetricsConfig struct {
	Enabled   bool
	Namespace string
}

type AppConfig struct {
	Environment      string
	Logging          LoggingConfig
	HTTP             HTTPConfig
	Storage          StorageConfig
	Upload           UploadConfig
	Thumbnails       ThumbnailConfig
	Derive           DeriveConfig
	Redis            RedisConfig
	Maintenance      MaintenanceConfig
	Metrics          MetricsConfig
	AllowCORSOrigins []string
}

// Load reads config.yaml from the usual search paths. Every key can be
// overridden by IMAGESTORE_<SECTION>_<KEY> environment variables.
func Load() (*AppConfig, error) {
	return LoadFile("")
}

// LoadFile reads the given file, or searches the default paths when file is
// empty. A missing config file is not an error; defaults apply.
func LoadFile(file string) (*AppConfig, error) {
	v := viper.New()
	if file != "" {
		v.SetConfigFile(file)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("../config")
	}

	v.SetEnvPrefix("IMAGESTORE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("load config file: %w", err)
		}
	}

	var cfg AppConfig
	if err := v.Unmarshal(&cfg, func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	}); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *AppConfig) Validate() error {
	var errs []error
	switch c.Storage.Backend {
	case BackendLocal:
		if c.Storage.Root == "" {
			errs = append(errs, errors.New("storage.root is required for the local backend"))
		}
	case BackendMinio:
		if c.Storage.Endpoint == "" || c.Storage.Bucket == "" {
			errs = append(errs, errors.New("storage.endpoint and storage.bucket are required for the minio backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown storage.backend %q", c.Storage.Backend))
	}
	if !strings.HasPrefix(c.Storage.PublicPrefix, "/") || strings.HasSuffix(c.Storage.PublicPrefix, "/") {
		errs = append(errs, fmt.Errorf("storage.publicprefix %q must start and not end with /", c.Storage.PublicPrefix))
	}
	if c.Storage.ThumbnailDir == "" || strings.ContainsAny(c.Storage.ThumbnailDir, `/\.`) {
		errs = append(errs, fmt.Errorf("storage.thumbnaildir %q must be a single directory name", c.Storage.ThumbnailDir))
	}
	if c.Upload.MaxBytes <= 0 {
		errs = append(errs, errors.New("upload.maxbytes must be positive"))
	}
	if len(c.Upload.Types) == 0 {
		errs = append(errs, errors.New("upload.types must not be empty"))
	}
	for _, t := range c.Upload.Types {
		if !sniffer.Known(sniffer.MediaType(t.Family)) {
			errs = append(errs, fmt.Errorf("upload.types: unknown family %q for %s", t.Family, t.MIME))
		}
	}
	if len(c.Thumbnails.Specs) == 0 {
		errs = append(errs, errors.New("thumbnails.specs must not be empty"))
	}
	seen := make(map[string]bool, len(c.Thumbnails.Specs))
	for _, spec := range c.Thumbnails.Specs {
		if !specNamePattern.MatchString(spec.Name) || spec.Width <= 0 || spec.Height <= 0 {
			errs = append(errs, fmt.Errorf("invalid thumbnail spec %+v", spec))
		}
		key := strings.ToLower(spec.Name)
		if seen[key] {
			errs = append(errs, fmt.Errorf("duplicate thumbnail spec name %q", spec.Name))
		}
		seen[key] = true
	}
	switch c.Thumbnails.WebPFallback {
	case "", "jpeg", "png":
	default:
		errs = append(errs, fmt.Errorf("thumbnails.webpfallback %q must be jpeg, png or empty", c.Thumbnails.WebPFallback))
	}
	switch c.Derive.Mode {
	case DeriveInline, DeriveQueue:
	case DerivePool:
		if c.Derive.Workers <= 0 || c.Derive.QueueSize <= 0 {
			errs = append(errs, errors.New("derive.workers and derive.queuesize must be positive in pool mode"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown derive.mode %q", c.Derive.Mode))
	}
	return errors.Join(errs...)
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("environment", "development")
	v.SetDefault("logging.level", "")

	v.SetDefault("http.host", "0.0.0.0")
	v.SetDefault("http.port", 8080)
	v.SetDefault("http.readtimeout", "30s")
	v.SetDefault("http.writetimeout", "30s")
	v.SetDefault("http.idletimeout", "60s")

	v.SetDefault("storage.backend", BackendLocal)
	v.SetDefault("storage.root", "./data/images")
	v.SetDefault("storage.publicprefix", "/images")
	v.SetDefault("storage.thumbnaildir", "thumbnails")
	v.SetDefault("storage.bucket", "portfolio-images")
	v.SetDefault("storage.usessl", false)
	v.SetDefault("storage.region", "us-east-1")

	v.SetDefault("upload.maxbytes", 10<<20)
	v.SetDefault("upload.types", []map[string]any{
		{"mime": "image/jpeg", "family": "jpeg", "extensions": []string{"jpg", "jpeg"}},
		{"mime": "image/png", "family": "png", "extensions": []string{"png"}},
		{"mime": "image/webp", "family": "webp", "extensions": []string{"webp"}},
	})

	v.SetDefault("thumbnails.specs", []map[string]any{
		{"name": "SMALL", "width": 200, "height": 200},
		{"name": "MEDIUM", "width": 800, "height": 600},
		{"name": "LARGE", "width": 1600, "height": 1200},
	})
	v.SetDefault("thumbnails.filter", "linear")
	v.SetDefault("thumbnails.jpegquality", 85)
	v.SetDefault("thumbnails.webpfallback", "jpeg")

	v.SetDefault("derive.mode", DerivePool)
	v.SetDefault("derive.workers", 4)
	v.SetDefault("derive.queuesize", 256)

	v.SetDefault("redis.addr", "127.0.0.1:6379")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.stream", "media:derive")
	v.SetDefault("redis.group", "media-workers")
	v.SetDefault("redis.consumer", "worker-1")
	v.SetDefault("redis.claiminterval", "30s")

	v.SetDefault("maintenance.enabled", true)
	v.SetDefault("maintenance.schedule", "0 0 */6 * * *")
	v.SetDefault("maintenance.enqueue", false)

	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.namespace", "imagestore")

	v.SetDefault("allowcorsorigins", []string{})
}
