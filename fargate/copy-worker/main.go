package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/elsa-data/copy-out-service/pkg/copyout"
	"github.com/elsa-data/copy-out-service/pkg/settings"
	log "github.com/sirupsen/logrus"
)

func init() {
	settings.ConfigureLogging()
}

// main entry method for the copy job. Arguments are the sources of the batch, the destination
// is read from the environment. Exits 1 when any source could not be copied.
func main() {
	destination := os.Getenv(copyout.DestinationEnv)
	dest, err := copyout.ParseDestination(destination)
	if err != nil {
		log.Fatalf("invalid destination: %v", err)
	}

	items := make([]copyout.CopyItem, 0, len(os.Args)-1)
	for _, arg := range os.Args[1:] {
		item, err := copyout.ParseSource(arg)
		if err != nil {
			log.Fatalf("invalid source: %v", err)
		}
		items = append(items, item)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	awsSettings := settings.FromEnv().AWS
	cfg, err := settings.LoadAWSConfig(ctx, awsSettings)
	if err != nil {
		log.Fatalf("LoadDefaultConfig: %v\n", err)
	}

	var loader ClientLoader
	if awsSettings.Endpoint != "" {
		loader = makeStaticClientLoader(s3.NewFromConfig(cfg, func(o *s3.Options) {
			o.UsePathStyle = true
		}))
	} else {
		loader = makeRegionalClientLoader(cfg, s3.NewFromConfig(cfg))
	}

	store := NewCopyWorkerStore(NewRegionalClientCache(loader), CopyTimeout(), PartWorkers())

	log.WithFields(log.Fields{
		"sources":     len(items),
		"destination": destination,
		"transfers":   Transfers(),
	}).Info("starting copy")

	failed := store.CopyAll(ctx, items, dest, Transfers())
	if failed > 0 {
		log.WithFields(log.Fields{"failed": failed, "sources": len(items)}).Error("copy finished with failures")
		stop()
		os.Exit(1)
	}

	log.Info("Finished with task.")
}
