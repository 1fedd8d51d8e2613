// Package logger is OakScript's structured, area-gated logging system.
package logger

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/oakscript/oak/pkg/configuration"
)

// LogLevel is the severity of a log entry.
type LogLevel int

const (
	DEBUG LogLevel = iota
	INFO
	WARN
	ERROR
	FATAL
)

var logLevelNames = map[LogLevel]string{
	DEBUG: "DEBUG", INFO: "INFO", WARN: "WARN", ERROR: "ERROR", FATAL: "FATAL",
}

// LogArea tags which subsystem produced an entry, so each can be
// enabled or silenced independently.
type LogArea string

const (
	AreaLexer       LogArea = "lexer"
	AreaParser      LogArea = "parser"
	AreaEmitter     LogArea = "emitter"
	AreaContainer   LogArea = "container"
	AreaVM          LogArea = "vm"
	AreaBuiltin     LogArea = "builtin"
	AreaStorage     LogArea = "storage"
	AreaSign        LogArea = "sign"
	AreaDebugStream LogArea = "debugstream"
	AreaCLI         LogArea = "cli"
	AreaConfig      LogArea = "config"
	AreaGeneral     LogArea = "general"
)

var allAreas = []LogArea{
	AreaLexer, AreaParser, AreaEmitter, AreaContainer, AreaVM, AreaBuiltin,
	AreaStorage, AreaSign, AreaDebugStream, AreaCLI, AreaConfig, AreaGeneral,
}

// Logger is the process-wide logging sink: a level, a per-area enable
// flag set, and a rotating log file. All hot-path checks are atomic
// ints so a disabled area costs a few atomic loads, never a lock.
type Logger struct {
	enabled       int32
	level         int32
	areaEnabled   map[LogArea]*int32
	file          *os.File
	mutex         sync.RWMutex
	logPath       string
	maxSizeMB     int64
	rotationCount int
	currentSize   int64
}

var (
	globalLogger *Logger
	initOnce     sync.Once
)

// Initialize sets up the global logger from configuration. Safe to
// call more than once; only the first call takes effect.
func Initialize() error {
	var err error
	initOnce.Do(func() {
		globalLogger, err = newLogger()
	})
	return err
}

func newLogger() (*Logger, error) {
	l := &Logger{areaEnabled: make(map[LogArea]*int32)}
	for _, area := range allAreas {
		l.areaEnabled[area] = new(int32)
	}
	if err := l.loadConfig(); err != nil {
		return nil, err
	}
	if err := l.openLogFile(); err != nil {
		return nil, err
	}
	return l, nil
}

func (l *Logger) loadConfig() error {
	enabled := configuration.GetBool("debug", "enable_logging", true)
	atomic.StoreInt32(&l.enabled, boolToInt32(enabled))

	level := parseLogLevel(configuration.GetString("debug", "log_level", "INFO"))
	atomic.StoreInt32(&l.level, int32(level))

	l.logPath = configuration.GetString("debug", "log_file", "oakscript.log")
	if env := os.Getenv("OAKSCRIPT_LOG"); env != "" {
		l.logPath = env
	}
	l.maxSizeMB = int64(configuration.GetInt("debug", "max_log_size_mb", 10))
	l.rotationCount = configuration.GetInt("debug", "log_rotation_count", 3)

	for area, atomicBool := range l.areaEnabled {
		key := fmt.Sprintf("log_%s", string(area))
		atomic.StoreInt32(atomicBool, boolToInt32(configuration.GetBool("debug", key, false)))
	}
	return nil
}

func (l *Logger) openLogFile() error {
	l.mutex.Lock()
	defer l.mutex.Unlock()

	if l.file != nil {
		l.file.Close()
	}
	if dir := filepath.Dir(l.logPath); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return err
		}
	}
	file, err := os.OpenFile(l.logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return err
	}
	l.file = file
	if stat, err := file.Stat(); err == nil {
		l.currentSize = stat.Size()
	}
	return nil
}

func (l *Logger) rotateLogFile() error {
	l.mutex.Lock()
	defer l.mutex.Unlock()

	if l.file != nil {
		l.file.Close()
		l.file = nil
	}
	for i := l.rotationCount - 1; i >= 1; i-- {
		oldName := fmt.Sprintf("%s.%d", l.logPath, i)
		newName := fmt.Sprintf("%s.%d", l.logPath, i+1)
		if i == l.rotationCount-1 {
			os.Remove(newName)
		}
		os.Rename(oldName, newName)
	}
	os.Rename(l.logPath, l.logPath+".1")

	file, err := os.OpenFile(l.logPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return err
	}
	l.file = file
	l.currentSize = 0
	return nil
}

func (l *Logger) isEnabled() bool { return atomic.LoadInt32(&l.enabled) != 0 }

func (l *Logger) isAreaEnabled(area LogArea) bool {
	if b, ok := l.areaEnabled[area]; ok {
		return atomic.LoadInt32(b) != 0
	}
	return false
}

func (l *Logger) shouldLog(level LogLevel, area LogArea) bool {
	if !l.isEnabled() {
		return false
	}
	if atomic.LoadInt32(&l.level) > int32(level) {
		return false
	}
	return l.isAreaEnabled(area)
}

func (l *Logger) writeLog(level LogLevel, area LogArea, format string, args ...interface{}) {
	message := fmt.Sprintf(format, args...)
	_, file, line, _ := runtime.Caller(3)
	filename := filepath.Base(file)

	entry := fmt.Sprintf("[%s] %s [%s:%d] [%s] %s\n",
		time.Now().Format("2006-01-02 15:04:05.000"),
		logLevelNames[level], filename, line, strings.ToUpper(string(area)), message)

	l.mutex.Lock()
	defer l.mutex.Unlock()
	if l.file != nil {
		n, err := l.file.WriteString(entry)
		if err == nil {
			l.currentSize += int64(n)
			l.file.Sync()
			if l.currentSize > l.maxSizeMB*1024*1024 {
				l.rotateLogFile()
			}
		}
	}
	if level >= WARN {
		log.Printf("[%s] [%s] %s", logLevelNames[level], strings.ToUpper(string(area)), message)
	}
}

func Debug(area LogArea, format string, args ...interface{}) {
	if globalLogger != nil && globalLogger.shouldLog(DEBUG, area) {
		globalLogger.writeLog(DEBUG, area, format, args...)
	}
}

func Info(area LogArea, format string, args ...interface{}) {
	if globalLogger != nil && globalLogger.shouldLog(INFO, area) {
		globalLogger.writeLog(INFO, area, format, args...)
	}
}

func Warn(area LogArea, format string, args ...interface{}) {
	if globalLogger != nil && globalLogger.shouldLog(WARN, area) {
		globalLogger.writeLog(WARN, area, format, args...)
	}
}

func Error(area LogArea, format string, args ...interface{}) {
	if globalLogger != nil && globalLogger.shouldLog(ERROR, area) {
		globalLogger.writeLog(ERROR, area, format, args...)
	}
}

func Fatal(area LogArea, format string, args ...interface{}) {
	if globalLogger != nil {
		globalLogger.writeLog(FATAL, area, format, args...)
	}
	log.Fatalf("[FATAL] [%s] %s", strings.ToUpper(string(area)), fmt.Sprintf(format, args...))
}

// VMTrace logs one VM instruction at DEBUG level under AreaVM, formatted
// as an instruction-level execution trace rather than a free-form
// message. Cost when AreaVM debug logging is off is at most three
// atomic loads and no lock, so callers may invoke it unconditionally from the VM's
// fetch-decode-execute loop without gating it themselves.
func VMTrace(pc int, op string, stackDepth int) {
	if globalLogger != nil && globalLogger.shouldLog(DEBUG, AreaVM) {
		globalLogger.writeLog(DEBUG, AreaVM, "pc=%d op=%s stack=%d", pc, op, stackDepth)
	}
}

// ReloadConfig re-reads logging configuration without restarting.
func ReloadConfig() error {
	if globalLogger != nil {
		return globalLogger.loadConfig()
	}
	return fmt.Errorf("logger not initialized")
}

func EnableArea(area LogArea) {
	if globalLogger != nil {
		if b, ok := globalLogger.areaEnabled[area]; ok {
			atomic.StoreInt32(b, 1)
		}
	}
}

func DisableArea(area LogArea) {
	if globalLogger != nil {
		if b, ok := globalLogger.areaEnabled[area]; ok {
			atomic.StoreInt32(b, 0)
		}
	}
}

func GetAreaStatus(area LogArea) bool {
	if globalLogger != nil {
		return globalLogger.isAreaEnabled(area)
	}
	return false
}

func ListAreas() []LogArea { return allAreas }

func boolToInt32(b bool) int32 {
	if b {
		return 1
	}
	return 0
}

func parseLogLevel(level string) LogLevel {
	switch strings.ToUpper(level) {
	case "DEBUG":
		return DEBUG
	case "INFO":
		return INFO
	case "WARN", "WARNING":
		return WARN
	case "ERROR":
		return ERROR
	case "FATAL":
		return FATAL
	default:
		return INFO
	}
}

// Close flushes and closes the log file.
func Close() {
	if globalLogger != nil {
		globalLogger.mutex.Lock()
		defer globalLogger.mutex.Unlock()
		if globalLogger.file != nil {
			globalLogger.file.Close()
			globalLogger.file = nil
		}
	}
}
