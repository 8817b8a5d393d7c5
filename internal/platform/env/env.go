package env

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// String returns the value of key, or def when the variable is unset.
// A variable that is set but empty is returned as-is.
func String(key string, def string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return def
}

func Duration(key string, def time.Duration) (time.Duration, error) {
	return parse(key, def, time.ParseDuration)
}

func Bool(key string, def bool) (bool, error) {
	return parse(key, def, strconv.ParseBool)
}

func Int(key string, def int) (int, error) {
	return parse(key, def, strconv.Atoi)
}

func Float(key string, def float64) (float64, error) {
	return parse(key, def, func(v string) (float64, error) {
		return strconv.ParseFloat(v, 64)
	})
}

// Strings splits a comma-separated variable, dropping empty items.
func Strings(key string, def []string) []string {
	v, ok := lookupTrimmed(key)
	if !ok {
		return def
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// parse converts a typed variable. The error names the variable so startup
// failures point at the offending setting.
func parse[T any](key string, def T, conv func(string) (T, error)) (T, error) {
	v, ok := lookupTrimmed(key)
	if !ok {
		return def, nil
	}
	out, err := conv(v)
	if err != nil {
		var zero T
		return zero, fmt.Errorf("parse %s=%q: %w", key, v, err)
	}
	return out, nil
}

// lookupTrimmed treats blank values as unset so that `FOO=` in a .env file
// falls back to the default for typed variables.
func lookupTrimmed(key string) (string, bool) {
	v, ok := os.LookupEnv(key)
	if !ok {
		return "", false
	}
	v = strings.TrimSpace(v)
	return v, v != ""
}
