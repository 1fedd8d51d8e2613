package configuration

import (
	"path/filepath"
	"sync"
	"testing"
)

func TestCreateDefaultConfigPopulatesExpectedSections(t *testing.T) {
	c := &Config{settings: make(map[string]map[string]string)}
	c.createDefaultConfig()

	for _, section := range []string{"vm", "compiler", "debug", "storage", "sign", "debugstream"} {
		if _, ok := c.settings[section]; !ok {
			t.Errorf("default config missing section %q", section)
		}
	}
	if c.settings["vm"]["max_stack_depth"] != "1024" {
		t.Errorf("vm.max_stack_depth = %q, want 1024", c.settings["vm"]["max_stack_depth"])
	}
}

func TestToStringValueHandlesTOMLTypes(t *testing.T) {
	tests := []struct {
		name string
		in   interface{}
		want string
	}{
		{"string", "hello", "hello"},
		{"bool", true, "true"},
		{"int64", int64(42), "42"},
		{"float64", 3.5, "3.5"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := toStringValue(tt.in); got != tt.want {
				t.Errorf("toStringValue(%v) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestInitializeCreatesDefaultFileWhenMissing(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "oakscript.toml")

	globalConfig = nil
	once = sync.Once{}

	if err := Initialize(path); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	if GetString("debug", "log_level", "") != "INFO" {
		t.Errorf("log_level = %q, want INFO", GetString("debug", "log_level", ""))
	}
	if GetInt("vm", "max_stack_depth", 0) != 1024 {
		t.Errorf("max_stack_depth = %d, want 1024", GetInt("vm", "max_stack_depth", 0))
	}
	if GetBool("debug", "enable_logging", false) != true {
		t.Error("enable_logging = false, want true")
	}
}

func TestGetStringFallsBackToDefaultForMissingKey(t *testing.T) {
	if got := GetString("nosuchsection", "nosuchkey", "fallback"); got != "fallback" {
		t.Errorf("got %q, want fallback", got)
	}
}
