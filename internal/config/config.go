package config

import (
	"fmt"
	"os"
	"strings"
)

// AppConfig 汇总运行服务所需的基础配置。
type AppConfig struct {
	ListenAddr        string
	Port              string
	DatabasePath      string
	SessionSecret     string
	GinMode           string
	UploadDir         string
	UploadURLPath     string
	SiteBaseURL       string
	SiteName          string
	SuperRootUserName string
	SuperRootPassword string
	AutoCreatePolicy  string
	SettingsFile      string
	MugshotDetector   string
}

// Load 从环境变量读取应用配置，并为缺失项提供安全的默认值。
func Load() AppConfig {
	port := envOrDefault("PORT", "8080")

	listenAddr := strings.TrimSpace(os.Getenv("LISTEN_ADDR"))
	if listenAddr == "" {
		listenAddr = fmt.Sprintf(":%s", port)
	}

	return AppConfig{
		ListenAddr:        listenAddr,
		Port:              port,
		DatabasePath:      envOrDefault("DATABASE_PATH", "personpages.db"),
		SessionSecret:     envOrDefault("SESSION_SECRET", "personpages-dev-secret"),
		GinMode:           envOrDefault("GIN_MODE", "release"),
		UploadDir:         envOrDefault("UPLOAD_DIR", "web/static/uploads"),
		UploadURLPath:     envOrDefault("UPLOAD_URL_PATH", "/static/uploads"),
		SiteBaseURL:       envOrDefault("SITE_BASE_URL", "http://localhost:8080"),
		SiteName:          envOrDefault("SITE_NAME", "Department People"),
		SuperRootUserName: strings.TrimSpace(os.Getenv("SUPER_ROOT_USER_NAME")),
		SuperRootPassword: strings.TrimSpace(os.Getenv("SUPER_ROOT_PASSWORD")),
		AutoCreatePolicy:  envOrDefault("AUTO_CREATE_POLICY", "slug"),
		SettingsFile:      strings.TrimSpace(os.Getenv("PERSONPAGE_CONFIG")),
		MugshotDetector:   strings.TrimSpace(os.Getenv("MUGSHOT_DETECTOR")),
	}
}

func envOrDefault(key, fallback string) string {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	return value
}
