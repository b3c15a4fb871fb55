package common

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/arbor/models"
)

const logTimeFormat = "15:04:05"

// InitLogger builds the process logger from the logging config: level,
// text or JSON records, and any combination of console and file writers.
// With no outputs configured (or a broken file target) it falls back to
// console so startup is never silent.
func InitLogger(config *Config) arbor.ILogger {
	textOutput := config.Logging.Format != "json"
	logger := arbor.NewLogger()

	toFile, toConsole := false, false
	for _, output := range config.Logging.Output {
		switch output {
		case "file":
			toFile = true
		case "stdout", "console":
			toConsole = true
		}
	}

	if toFile {
		logFile, err := logFilePath()
		if err != nil {
			fmt.Printf("Warning: file logging disabled: %v\n", err)
			toConsole = true
		} else {
			logger = logger.WithFileWriter(models.WriterConfiguration{
				Type:       models.LogWriterTypeFile,
				FileName:   logFile,
				TimeFormat: logTimeFormat,
				MaxSize:    100 * 1024 * 1024, // 100 MB
				MaxBackups: 3,
				TextOutput: textOutput,
			})
		}
	}
	if toConsole || !toFile {
		logger = logger.WithConsoleWriter(models.WriterConfiguration{
			Type:       models.LogWriterTypeConsole,
			TimeFormat: logTimeFormat,
			TextOutput: textOutput,
		})
	}

	return logger.WithLevelFromString(config.Logging.Level)
}

// logFilePath resolves logs/noctua.log next to the executable, creating
// the directory on first use.
func logFilePath() (string, error) {
	execPath, err := os.Executable()
	if err != nil {
		return "", err
	}
	logsDir := filepath.Join(filepath.Dir(execPath), "logs")
	if err := os.MkdirAll(logsDir, 0755); err != nil {
		return "", err
	}
	return filepath.Join(logsDir, "noctua.log"), nil
}
