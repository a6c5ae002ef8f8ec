package main

import (
	"os"
	"strconv"
	"time"

	"github.com/elsa-data/copy-out-service/fargate/copy-worker/pkg"
)

const defaultCopyTimeout = 60 * time.Minute

const defaultTransfers = 4

// CopyTimeout bounds the copy of a single object, COPY_TIMEOUT in minutes.
func CopyTimeout() time.Duration {
	setting, ok := os.LookupEnv("COPY_TIMEOUT")
	if ok {
		value, err := strconv.Atoi(setting)
		if err != nil || value <= 0 {
			return defaultCopyTimeout
		}
		return time.Duration(value) * time.Minute
	}
	return defaultCopyTimeout
}

// Transfers is the number of objects copied in parallel. It is set through the "transfers"
// parameter of the copy-out request.
func Transfers() int {
	return positiveEnvInt("transfers", defaultTransfers)
}

// PartWorkers is the number of parts copied in parallel for one large object.
func PartWorkers() int {
	return positiveEnvInt("PART_WORKERS", pkg.DefaultCopyWorkers)
}

func positiveEnvInt(name string, def int) int {
	setting, ok := os.LookupEnv(name)
	if !ok {
		return def
	}
	value, err := strconv.Atoi(setting)
	if err != nil || value <= 0 {
		return def
	}
	return value
}
