// Package configuration loads and serves OakScript's TOML settings file.
package configuration

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/BurntSushi/toml"
)

// Config holds the parsed settings tree, keyed by section then key.
// Values are kept as strings internally so GetInt/GetBool/etc can share
// one parsing path regardless of how TOML typed the original value.
type Config struct {
	settings map[string]map[string]string
	filePath string
	mu       sync.RWMutex
}

var (
	globalConfig *Config
	once         sync.Once
)

// Initialize loads the global configuration from configPath, creating
// a default file there if none exists. A sibling oakscript.local.toml,
// if present, overrides individual keys.
func Initialize(configPath string) error {
	var err error
	once.Do(func() {
		globalConfig, err = loadConfig(configPath)
		if err != nil {
			return
		}
		localPath := localOverridePath(configPath)
		if _, statErr := os.Stat(localPath); statErr == nil {
			_ = globalConfig.mergeFile(localPath)
		}
	})
	return err
}

func localOverridePath(configPath string) string {
	dir := filepath.Dir(configPath)
	ext := filepath.Ext(configPath)
	base := filepath.Base(configPath)
	base = base[:len(base)-len(ext)]
	return filepath.Join(dir, base+".local"+ext)
}

func loadConfig(filePath string) (*Config, error) {
	config := &Config{
		settings: make(map[string]map[string]string),
		filePath: filePath,
	}
	if _, err := os.Stat(filePath); os.IsNotExist(err) {
		config.createDefaultConfig()
		if err := config.saveToFile(); err != nil {
			return nil, fmt.Errorf("failed to create default config: %v", err)
		}
		return config, nil
	}
	if err := config.mergeFile(filePath); err != nil {
		return nil, err
	}
	return config, nil
}

// mergeFile decodes a TOML document into a generic tree and flattens
// it into the string-valued settings map, overwriting existing keys.
func (c *Config) mergeFile(filePath string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var tree map[string]map[string]interface{}
	if _, err := toml.DecodeFile(filePath, &tree); err != nil {
		return err
	}
	for section, kv := range tree {
		if c.settings[section] == nil {
			c.settings[section] = make(map[string]string)
		}
		for key, value := range kv {
			c.settings[section][key] = toStringValue(value)
		}
	}
	return nil
}

func toStringValue(v interface{}) string {
	switch val := v.(type) {
	case string:
		return val
	case bool:
		return strconv.FormatBool(val)
	case int64:
		return strconv.FormatInt(val, 10)
	case float64:
		return strconv.FormatFloat(val, 'g', -1, 64)
	default:
		return fmt.Sprintf("%v", val)
	}
}

// createDefaultConfig seeds every section SPEC_FULL's ambient and
// domain stacks read from.
func (c *Config) createDefaultConfig() {
	c.settings["vm"] = map[string]string{
		"max_stack_depth": "1024",
		"max_call_depth":  "256",
		"trace_enabled":   "false",
	}
	c.settings["compiler"] = map[string]string{
		"format_version":  "1",
		"include_root":    ".",
		"allow_includes":  "true",
	}
	c.settings["debug"] = map[string]string{
		"enable_logging":     "true",
		"log_level":          "INFO",
		"log_file":           "oakscript.log",
		"max_log_size_mb":    "10",
		"log_rotation_count": "3",
		"log_lexer":          "false",
		"log_parser":         "false",
		"log_emitter":        "false",
		"log_container":      "false",
		"log_vm":             "false",
		"log_builtin":        "false",
		"log_storage":        "true",
		"log_sign":           "true",
		"log_debugstream":    "false",
		"log_cli":            "true",
		"log_config":         "true",
		"log_general":        "true",
	}
	c.settings["storage"] = map[string]string{
		"db_path":          "oakscript.db",
		"max_script_bytes": "1048576",
	}
	c.settings["sign"] = map[string]string{
		"issuer":           "oakscript",
		"token_ttl":        "24h",
		"signing_key_file": "oakscript.key",
	}
	c.settings["debugstream"] = map[string]string{
		"listen_addr":        ":8787",
		"max_clients":        "16",
		"write_wait_timeout": "10s",
		"pong_timeout":       "60s",
	}
}

func (c *Config) saveToFile() error {
	dir := filepath.Dir(c.filePath)
	if dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return err
		}
	}
	file, err := os.Create(c.filePath)
	if err != nil {
		return err
	}
	defer file.Close()

	file.WriteString("# OakScript configuration file\n")
	file.WriteString("# Generated automatically - modify with care\n\n")

	sections := []string{"vm", "compiler", "debug", "storage", "sign", "debugstream"}
	enc := toml.NewEncoder(file)
	for _, section := range sections {
		settings, exists := c.settings[section]
		if !exists {
			continue
		}
		fmt.Fprintf(file, "[%s]\n", section)
		if err := enc.Encode(settings); err != nil {
			return err
		}
		file.WriteString("\n")
	}
	return nil
}

func GetString(section, key, defaultValue string) string {
	if globalConfig == nil {
		return defaultValue
	}
	globalConfig.mu.RLock()
	defer globalConfig.mu.RUnlock()
	if sectionMap, exists := globalConfig.settings[section]; exists {
		if value, exists := sectionMap[key]; exists {
			return value
		}
	}
	return defaultValue
}

func GetInt(section, key string, defaultValue int) int {
	str := GetString(section, key, "")
	if str == "" {
		return defaultValue
	}
	if value, err := strconv.Atoi(str); err == nil {
		return value
	}
	return defaultValue
}

func GetFloat(section, key string, defaultValue float64) float64 {
	str := GetString(section, key, "")
	if str == "" {
		return defaultValue
	}
	if value, err := strconv.ParseFloat(str, 64); err == nil {
		return value
	}
	return defaultValue
}

func GetBool(section, key string, defaultValue bool) bool {
	str := GetString(section, key, "")
	if str == "" {
		return defaultValue
	}
	if value, err := strconv.ParseBool(str); err == nil {
		return value
	}
	return defaultValue
}

func GetDuration(section, key string, defaultValue time.Duration) time.Duration {
	str := GetString(section, key, "")
	if str == "" {
		return defaultValue
	}
	if value, err := time.ParseDuration(str); err == nil {
		return value
	}
	return defaultValue
}

func GetSection(sectionName string) map[string]string {
	if globalConfig == nil {
		return make(map[string]string)
	}
	globalConfig.mu.RLock()
	defer globalConfig.mu.RUnlock()
	if section, exists := globalConfig.settings[sectionName]; exists {
		result := make(map[string]string)
		for key, value := range section {
			result[key] = value
		}
		return result
	}
	return make(map[string]string)
}

func SetString(section, key, value string) {
	if globalConfig == nil {
		return
	}
	globalConfig.mu.Lock()
	defer globalConfig.mu.Unlock()
	if globalConfig.settings[section] == nil {
		globalConfig.settings[section] = make(map[string]string)
	}
	globalConfig.settings[section][key] = value
}

func Save() error {
	if globalConfig == nil {
		return fmt.Errorf("configuration not initialized")
	}
	globalConfig.mu.RLock()
	defer globalConfig.mu.RUnlock()
	return globalConfig.saveToFile()
}
