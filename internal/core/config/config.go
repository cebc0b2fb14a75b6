package config

import (
	"log"
	"os"
	"strings"

	"github.com/spf13/viper"
)

type HTTP struct {
	Host            string
	Port            int
	ReadTimeoutSec  int
	WriteTimeoutSec int
	IdleTimeoutSec  int
}
type AdminHTTP struct {
	Host string
	Port int
}

type App struct {
	Name  string
	Env   string
	HTTP  HTTP
	Admin AdminHTTP
}

type FileLog struct {
	Enable     bool
	Filename   string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
}

type Log struct {
	Level string
	JSON  bool
	File  FileLog
}

type JWT struct {
	Secret            string
	Issuer            string
	AccessTokenTTLMin int
}

type Redis struct {
	Addr      string `mapstructure:"addr"`
	Password  string `mapstructure:"password"`
	DB        int    `mapstructure:"db"`
	KeyPrefix string `mapstructure:"keyPrefix"`
}

type DB struct {
	Driver             string
	DSN                string
	Username           string
	Password           string
	MaxOpenConns       int
	MaxIdleConns       int
	ConnMaxLifetimeMin int
	AutoMigrate        bool
	LogLevel           string
}

type Google struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string
}

type Auth struct {
	// 注册时填对该码即授予 admin 角色。码对前端可见，属于共享密钥，
	// 换发需要前后端同步
	AdminCode           string
	RequireEmailConfirm bool
	Google              Google
}

type Storage struct {
	Bucket        string
	PublicBaseURL string
	MaxPhotoMB    int
}

type Cleanup struct {
	Enabled       bool
	RetentionDays int
	IntervalHours int
}

type CORS struct {
	AllowOrigins []string
}

type Config struct {
	App     App
	Log     Log
	JWT     JWT
	DB      DB
	Redis   Redis `mapstructure:"redis"`
	Auth    Auth
	Storage Storage
	Cleanup Cleanup
	CORS    CORS
}

func Load(path string) *Config {
	v := viper.New()
	explicit := path != ""
	if path == "" {
		path = os.Getenv("CONFIG_PATH")
		explicit = path != ""
		if path == "" {
			path = "./configs/config.local.yaml"
		}
	}
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.SetEnvPrefix("APP")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		// 默认路径缺文件照样能跑（默认值 + 环境变量）；显式指定的必须可读
		if explicit {
			log.Fatalf("read config: %v", err)
		}
	}
	var c Config
	if err := v.Unmarshal(&c); err != nil {
		log.Fatalf("unmarshal config: %v", err)
	}
	return &c
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "lostfound")
	v.SetDefault("app.env", "dev")
	v.SetDefault("app.http.host", "0.0.0.0")
	v.SetDefault("app.http.port", 8080)
	v.SetDefault("app.http.readTimeoutSec", 5)
	v.SetDefault("app.http.writeTimeoutSec", 10)
	v.SetDefault("app.http.idleTimeoutSec", 60)
	v.SetDefault("app.admin.host", "0.0.0.0")
	v.SetDefault("app.admin.port", 8081)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.json", false)
	v.SetDefault("log.file.enable", false)
	v.SetDefault("log.file.filename", "logs/app.log")
	v.SetDefault("log.file.maxSizeMB", 100)
	v.SetDefault("log.file.maxBackups", 7)
	v.SetDefault("log.file.maxAgeDays", 30)
	v.SetDefault("log.file.compress", true)

	v.SetDefault("jwt.secret", "dev-secret-change-me")
	v.SetDefault("jwt.issuer", "lostfound")
	v.SetDefault("jwt.accessTokenTTLMin", 720)

	v.SetDefault("db.driver", "sqlite")
	v.SetDefault("db.dsn", "lostfound.db")
	v.SetDefault("db.maxOpenConns", 50)
	v.SetDefault("db.maxIdleConns", 10)
	v.SetDefault("db.connMaxLifetimeMin", 30)
	v.SetDefault("db.autoMigrate", true)
	v.SetDefault("db.logLevel", "warn")

	v.SetDefault("redis.addr", "127.0.0.1:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.keyPrefix", "lf:")

	v.SetDefault("auth.adminCode", "79041167197200060295")
	v.SetDefault("auth.requireEmailConfirm", false)
	// clientID / clientSecret 留空默认，为的是环境变量覆盖能被 Unmarshal 看见
	v.SetDefault("auth.google.clientID", "")
	v.SetDefault("auth.google.clientSecret", "")
	v.SetDefault("auth.google.redirectURL", "http://127.0.0.1:8080/api/v1/auth/google/callback")

	v.SetDefault("storage.bucket", "item-photos")
	// 照片地址按 <publicBaseURL>/storage/<bucket>/<key> 拼，路由挂在 /api/v1 下
	v.SetDefault("storage.publicBaseURL", "http://127.0.0.1:8080/api/v1")
	v.SetDefault("storage.maxPhotoMB", 8)

	v.SetDefault("cleanup.enabled", true)
	v.SetDefault("cleanup.retentionDays", 30)
	v.SetDefault("cleanup.intervalHours", 24)

	v.SetDefault("cors.allowOrigins", []string{"http://localhost:5173"})
}
