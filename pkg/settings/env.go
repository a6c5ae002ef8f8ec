package settings

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// envString returns the value of name, or def when unset or empty.
func envString(name string, def string) string {
	if setting, ok := os.LookupEnv(name); ok && setting != "" {
		return setting
	}
	return def
}

// envList splits a comma separated variable, dropping empty entries.
func envList(name string, def []string) []string {
	setting, ok := os.LookupEnv(name)
	if !ok || setting == "" {
		return def
	}
	var values []string
	for _, v := range strings.Split(setting, ",") {
		if v = strings.TrimSpace(v); v != "" {
			values = append(values, v)
		}
	}
	return values
}

func envInt(name string, def int) int {
	setting, ok := os.LookupEnv(name)
	if ok {
		value, err := strconv.Atoi(setting)
		if err != nil {
			return def
		}
		return value
	}
	return def
}

func envFloat(name string, def float64) float64 {
	setting, ok := os.LookupEnv(name)
	if ok {
		value, err := strconv.ParseFloat(setting, 64)
		if err != nil {
			return def
		}
		return value
	}
	return def
}

func envBool(name string, def bool) bool {
	setting, ok := os.LookupEnv(name)
	if ok {
		value, err := strconv.ParseBool(setting)
		if err != nil {
			return def
		}
		return value
	}
	return def
}

// envDuration reads an integer number of units.
func envDuration(name string, unit time.Duration, def time.Duration) time.Duration {
	setting, ok := os.LookupEnv(name)
	if ok {
		value, err := strconv.Atoi(setting)
		if err != nil || value <= 0 {
			return def
		}
		return time.Duration(value) * unit
	}
	return def
}
