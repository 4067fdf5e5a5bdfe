// Package utils предоставляет простой файловый логгер.
//
// TUI занимает терминал, поэтому лог пишется в .log файл в текущей
// директории с timestamp в имени. До InitLogger все вызовы no-op,
// поэтому тесты пакетов ничего не пишут на диск.
// Thread-safe через sync.Mutex.
package utils

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"
)

// DefaultLogPrefix - префикс имени лог-файла по умолчанию.
const DefaultLogPrefix = "vaultmind"

var (
	logFile      *os.File
	logMutex     sync.Mutex
	initialized  bool
	debugEnabled = true
)

// InitLogger создает/открывает .log файл в текущей директории.
//
// Имя файла: <prefix>-YYYY-MM-DD-HH-MM.log (например, vaultmind-2025-12-27-15-30.log).
// Пустой prefix заменяется на DefaultLogPrefix.
func InitLogger(prefix string) error {
	if prefix == "" {
		prefix = DefaultLogPrefix
	}
	return InitLoggerFile(fmt.Sprintf("%s-%s.log", prefix, time.Now().Format("2006-01-02-15-04")))
}

// InitLoggerFile открывает лог по точному пути.
func InitLoggerFile(filename string) error {
	logMutex.Lock()
	defer logMutex.Unlock()

	if initialized {
		return nil
	}

	var err error
	logFile, err = os.OpenFile(filename, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}

	initialized = true
	// Пишем напрямую без Info чтобы избежать deadlock (мьютекс уже захвачен)
	timestampNow := time.Now().Format("2006-01-02 15:04:05")
	initLine := fmt.Sprintf("[%s] INFO: Logger initialized file=%s\n", timestampNow, filename)

	if _, err := logFile.WriteString(initLine); err != nil {
		// Fallback на stderr при ошибке
		fmt.Fprintf(os.Stderr, "%s", initLine)
		fmt.Fprintf(os.Stderr, "[LOGGER ERROR: WriteString failed: %v]\n", err)
	}

	if err := logFile.Sync(); err != nil {
		fmt.Fprintf(os.Stderr, "[LOGGER WARNING: Sync failed: %v]\n", err)
	}

	return nil
}

// SetDebug включает или выключает DEBUG сообщения.
func SetDebug(enabled bool) {
	logMutex.Lock()
	defer logMutex.Unlock()
	debugEnabled = enabled
}

// Info - информационное сообщение.
func Info(msg string, keyvals ...any) {
	log("INFO", msg, keyvals...)
}

// Error - сообщение об ошибке.
func Error(msg string, keyvals ...any) {
	log("ERROR", msg, keyvals...)
}

// Debug - отладочное сообщение.
func Debug(msg string, keyvals ...any) {
	log("DEBUG", msg, keyvals...)
}

// Warn - предупреждение.
func Warn(msg string, keyvals ...any) {
	log("WARN", msg, keyvals...)
}

// log - внутренняя функция записи в лог.
//
// Формат: [YYYY-MM-DD HH:MM:SS] LEVEL: message key1=value1 key2="value with spaces"
// При ошибке записи в файл, fallback на stderr.
func log(level, msg string, keyvals ...any) {
	logMutex.Lock()
	defer logMutex.Unlock()

	if logFile == nil || (level == "DEBUG" && !debugEnabled) {
		return
	}

	var b strings.Builder
	b.WriteString("[")
	b.WriteString(time.Now().Format("2006-01-02 15:04:05"))
	b.WriteString("] ")
	b.WriteString(level)
	b.WriteString(": ")
	b.WriteString(msg)
	writeKeyvals(&b, keyvals)
	b.WriteByte('\n')
	line := b.String()

	if _, err := logFile.WriteString(line); err != nil {
		fmt.Fprint(os.Stderr, line)
		fmt.Fprintf(os.Stderr, "[LOGGER ERROR: WriteString failed: %v]\n", err)
		return
	}

	if err := logFile.Sync(); err != nil {
		fmt.Fprintf(os.Stderr, "[LOGGER WARNING: Sync failed: %v]\n", err)
	}
}

// writeKeyvals дописывает пары key=value.
//
// Значения с пробелами, кавычками или переводами строк (пути, тексты
// ошибок, запросы пользователя) берутся в кавычки. Ключ без значения
// пишется как key=(MISSING).
func writeKeyvals(b *strings.Builder, keyvals []any) {
	for i := 0; i < len(keyvals); i += 2 {
		b.WriteByte(' ')
		b.WriteString(fmt.Sprint(keyvals[i]))
		b.WriteByte('=')
		if i+1 >= len(keyvals) {
			b.WriteString("(MISSING)")
			return
		}
		b.WriteString(formatValue(keyvals[i+1]))
	}
}

func formatValue(v any) string {
	var s string
	switch val := v.(type) {
	case nil:
		return "<nil>"
	case error:
		s = val.Error()
	case time.Duration:
		return val.String()
	default:
		s = fmt.Sprint(val)
	}
	if s == "" || strings.ContainsAny(s, " \t\n\"=") {
		return strconv.Quote(s)
	}
	return s
}

// Close закрывает лог-файл.
//
// Вызывается через defer в main().
func Close() {
	logMutex.Lock()
	defer logMutex.Unlock()

	if logFile != nil {
		if err := logFile.Close(); err != nil {
			// Логгер уже закрывается, только stderr
			fmt.Fprintf(os.Stderr, "[LOGGER WARNING: Close failed: %v]\n", err)
		}
		logFile = nil
	}
	initialized = false
}
