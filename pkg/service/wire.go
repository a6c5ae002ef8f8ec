package service

import (
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/ecs"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/elsa-data/copy-out-service/pkg/copyout"
	"github.com/elsa-data/copy-out-service/pkg/fleet"
	"github.com/elsa-data/copy-out-service/pkg/notify"
	"github.com/elsa-data/copy-out-service/pkg/objectstore"
	"github.com/elsa-data/copy-out-service/pkg/report"
	"github.com/elsa-data/copy-out-service/pkg/runstore"
	"github.com/elsa-data/copy-out-service/pkg/settings"
	log "github.com/sirupsen/logrus"
)

// FromSettings builds a Service on AWS clients created from cfg. The run table, report bucket
// and completion topic are wired only when configured.
func FromSettings(cfg aws.Config, s settings.Settings, observer copyout.Observer) (*Service, error) {
	s3Client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		o.UsePathStyle = s.AWS.Endpoint != ""
	})

	var manifests copyout.ObjectGetter = objectstore.NewS3Getter(s3Client)
	if minioCfg, ok := s.MinioConfig(); ok {
		getter, err := objectstore.NewMinioGetter(minioCfg)
		if err != nil {
			return nil, fmt.Errorf("error creating manifest client: %w", err)
		}
		log.WithField("endpoint", minioCfg.Endpoint).Info("reading manifests from S3 compatible endpoint")
		manifests = getter
	}

	runner := fleet.NewRunner(ecs.NewFromConfig(cfg), s.FleetConfig())
	dispatcher := copyout.NewDispatcher(runner, s.DispatcherConfig(), observer)

	svc := &Service{
		Pipeline: copyout.NewOrchestrator(copyout.NewManifestReader(manifests), dispatcher, observer),
	}
	if s.RunsTable != "" {
		svc.Runs = runstore.NewStore(dynamodb.NewFromConfig(cfg), s.RunsTable)
	}
	if s.ReportBucket != "" {
		svc.Reports = report.NewWriter(s3Client, s.ReportBucket)
	}
	if s.CompletionTopicArn != "" {
		svc.Notifier = notify.NewNotifier(sns.NewFromConfig(cfg), s.CompletionTopicArn)
	}
	return svc, nil
}
