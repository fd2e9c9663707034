package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix 环境变量前缀，例如 SIGNDET_SERVER_PORT
const EnvPrefix = "SIGNDET"

type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Model     ModelConfig     `mapstructure:"model"`
	Detection DetectionConfig `mapstructure:"detection"`
	Upload    UploadConfig    `mapstructure:"upload"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Static    StaticConfig    `mapstructure:"static"`
}

type ServerConfig struct {
	Port            string        `mapstructure:"port"`
	Mode            string        `mapstructure:"mode"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type ModelConfig struct {
	Path             string `mapstructure:"path"`
	ClassesPath      string `mapstructure:"classes_path"`
	ClassMappingPath string `mapstructure:"class_mapping_path"`
	InputSize        int    `mapstructure:"input_size"`
	MaxDetections    int    `mapstructure:"max_detections"`
	Backend          string `mapstructure:"backend"` // default, opencv, cuda
	Target           string `mapstructure:"target"`  // cpu, cuda, cuda_fp16
}

type DetectionConfig struct {
	DefaultConf float64 `mapstructure:"default_conf"`
	DefaultIoU  float64 `mapstructure:"default_iou"`
}

type UploadConfig struct {
	MaxSize int64  `mapstructure:"max_size"`
	TempDir string `mapstructure:"temp_dir"` // 为空时使用系统临时目录
}

type RedisConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Addr     string        `mapstructure:"addr"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	TTL      time.Duration `mapstructure:"ttl"`
}

type StaticConfig struct {
	Dir string `mapstructure:"dir"`
}

// Load 从 YAML 文件加载配置
func Load(configPath string) (*Config, error) {
	v := newViper()
	v.SetConfigFile(configPath)
	v.SetConfigType("yaml")

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	return decode(v)
}

// New 加载配置，配置文件不可用时退回默认值（仍然应用环境变量）
func New(configPath string) *Config {
	cfg, err := Load(configPath)
	if err == nil {
		return cfg
	}
	cfg, err = decode(newViper())
	if err != nil {
		return getDefaultConfig()
	}
	return cfg
}

// Validate 检查配置取值范围
func (c *Config) Validate() error {
	if c.Detection.DefaultConf < 0 || c.Detection.DefaultConf > 1 {
		return fmt.Errorf("detection.default_conf must be within [0, 1], got %v", c.Detection.DefaultConf)
	}
	if c.Detection.DefaultIoU < 0 || c.Detection.DefaultIoU > 1 {
		return fmt.Errorf("detection.default_iou must be within [0, 1], got %v", c.Detection.DefaultIoU)
	}
	if c.Model.InputSize <= 0 {
		return fmt.Errorf("model.input_size must be positive, got %d", c.Model.InputSize)
	}
	if c.Model.MaxDetections <= 0 {
		return fmt.Errorf("model.max_detections must be positive, got %d", c.Model.MaxDetections)
	}
	if c.Upload.MaxSize <= 0 {
		return fmt.Errorf("upload.max_size must be positive, got %d", c.Upload.MaxSize)
	}
	return nil
}

func newViper() *viper.Viper {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

func decode(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", ":8000")
	v.SetDefault("server.mode", "debug")
	v.SetDefault("server.read_timeout", 30*time.Second)
	v.SetDefault("server.write_timeout", 60*time.Second)
	v.SetDefault("server.shutdown_timeout", 10*time.Second)

	v.SetDefault("model.path", "model/best.onnx")
	v.SetDefault("model.classes_path", "model/classes.txt")
	v.SetDefault("model.class_mapping_path", "class_mapping.txt")
	v.SetDefault("model.input_size", 640)
	v.SetDefault("model.max_detections", 300)
	v.SetDefault("model.backend", "default")
	v.SetDefault("model.target", "cpu")

	v.SetDefault("detection.default_conf", 0.25)
	v.SetDefault("detection.default_iou", 0.45)

	v.SetDefault("upload.max_size", 20*1024*1024)
	v.SetDefault("upload.temp_dir", "")

	v.SetDefault("redis.enabled", true)
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.ttl", 24*time.Hour)

	v.SetDefault("static.dir", "./static")
}

func getDefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            ":8000",
			Mode:            "debug",
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    60 * time.Second,
			ShutdownTimeout: 10 * time.Second,
		},
		Model: ModelConfig{
			Path:             "model/best.onnx",
			ClassesPath:      "model/classes.txt",
			ClassMappingPath: "class_mapping.txt",
			InputSize:        640,
			MaxDetections:    300,
			Backend:          "default",
			Target:           "cpu",
		},
		Detection: DetectionConfig{
			DefaultConf: 0.25,
			DefaultIoU:  0.45,
		},
		Upload: UploadConfig{
			MaxSize: 20 * 1024 * 1024,
		},
		Redis: RedisConfig{
			Enabled: true,
			Addr:    "localhost:6379",
			TTL:     24 * time.Hour,
		},
		Static: StaticConfig{
			Dir: "./static",
		},
	}
}
