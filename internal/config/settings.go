package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// 个人主页模块的可配置项，每个键都必须有内置默认值。
const (
	SettingUploadPath           = "upload_path"
	SettingRestructuredTextHelp = "restructuredtext_help"
	SettingPhotoHelp            = "photo_help"
)

var defaultSettings = map[string]string{
	// 个人文件不按人员拆分目录
	SettingUploadPath: "personal/%Y/%m/%d",
	SettingRestructuredTextHelp: `This will be processed as
<a href="https://commonmark.org/help/" target="_blank">Markdown</a>.`,
	SettingPhotoHelp: `This should be a picture of yourself,
between 250 and 400 pixels wide (no more).`,
}

// ErrUnknownSetting 表示配置文件中出现了没有默认值的键。
var ErrUnknownSetting = errors.New("unknown setting")

// Settings 保存个人主页模块的有效配置。
type Settings struct {
	values map[string]string
}

// DefaultSettings 返回仅包含内置默认值的配置。
func DefaultSettings() *Settings {
	return &Settings{values: map[string]string{}}
}

// LoadSettings 读取可选的 YAML 配置文件；path 为空时直接使用默认值。
func LoadSettings(path string) (*Settings, error) {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return DefaultSettings(), nil
	}

	raw, err := os.ReadFile(trimmed)
	if err != nil {
		return nil, fmt.Errorf("read settings file: %w", err)
	}
	return ParseSettings(raw)
}

// ParseSettings 解析 YAML 格式的配置覆盖项。
func ParseSettings(raw []byte) (*Settings, error) {
	overrides := map[string]string{}
	if len(bytes.TrimSpace(raw)) > 0 {
		if err := yaml.Unmarshal(raw, &overrides); err != nil {
			return nil, fmt.Errorf("parse settings: %w", err)
		}
	}

	for key := range overrides {
		if _, ok := defaultSettings[key]; !ok {
			return nil, fmt.Errorf("%w: %q", ErrUnknownSetting, key)
		}
	}

	return &Settings{values: overrides}, nil
}

// Get 返回指定配置项。请求不存在的键属于编程错误，直接 panic。
func (s *Settings) Get(key string) string {
	fallback, ok := defaultSettings[key]
	if !ok {
		panic(fmt.Sprintf("config: the setting %q has no default value", key))
	}
	if s == nil {
		return fallback
	}
	if value, exists := s.values[key]; exists {
		return value
	}
	return fallback
}

// All 返回全部配置项的当前取值。
func (s *Settings) All() map[string]string {
	result := make(map[string]string, len(defaultSettings))
	for key := range defaultSettings {
		result[key] = s.Get(key)
	}
	return result
}

// Keys 返回按字母排序的配置键。
func Keys() []string {
	keys := make([]string, 0, len(defaultSettings))
	for key := range defaultSettings {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}
