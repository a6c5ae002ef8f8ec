// Package settings loads service settings from the environment or a YAML file.
package settings

import (
	"fmt"
	"os"
	"time"

	"github.com/elsa-data/copy-out-service/pkg/copyout"
	"github.com/elsa-data/copy-out-service/pkg/fleet"
	"github.com/elsa-data/copy-out-service/pkg/objectstore"
	log "github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// Environment variables read by FromEnv.
const (
	EnvRunsTable          = "RUNS_TABLE"
	EnvCompletionTopicArn = "COMPLETION_TOPIC_ARN"
	EnvReportBucket       = "REPORT_BUCKET"
	EnvCluster            = "CLUSTER_ARN"
	EnvTaskDefinition     = "TASK_DEF_ARN"
	EnvContainerName      = "CONTAINER_NAME"
	EnvSubnets            = "SUBNET_IDS"
	EnvSecurityGroups     = "SECURITY_GROUPS"
	EnvAssignPublicIp     = "ASSIGN_PUBLIC_IP"
	EnvCapacityProvider   = "CAPACITY_PROVIDER"
	EnvLogStreamPrefix    = "LOG_STREAM_PREFIX"
	EnvRunTaskRate        = "RUN_TASK_RATE"
	EnvPollInterval       = "POLL_INTERVAL"
	EnvJobTimeout         = "JOB_TIMEOUT"
	EnvSubmitRetries      = "SUBMIT_RETRIES"
	EnvManifestEndpoint   = "MANIFEST_ENDPOINT"
	EnvManifestAccessKey  = "MANIFEST_ACCESS_KEY"
	EnvManifestSecretKey  = "MANIFEST_SECRET_KEY"
	EnvAWSEndpoint        = "AWS_ENDPOINT"
	EnvAWSRegion          = "AWS_REGION"
	EnvMetricsAddr        = "METRICS_ADDR"
	EnvLogLevel           = "LOG_LEVEL"
)

// Fleet locates the cluster and the task definition a process launches.
type Fleet struct {
	Cluster          string   `yaml:"cluster"`
	TaskDefinition   string   `yaml:"taskDefinition"`
	ContainerName    string   `yaml:"containerName"`
	Subnets          []string `yaml:"subnets"`
	SecurityGroups   []string `yaml:"securityGroups"`
	AssignPublicIp   bool     `yaml:"assignPublicIp"`
	CapacityProvider string   `yaml:"capacityProvider"`
	LogStreamPrefix  string   `yaml:"logStreamPrefix"`
	RunTaskRate      float64  `yaml:"runTaskRate"`
}

// Dispatcher tunes job polling and resubmission.
type Dispatcher struct {
	PollInterval  time.Duration `yaml:"pollInterval"`
	JobTimeout    time.Duration `yaml:"jobTimeout"`
	SubmitRetries int           `yaml:"submitRetries"`
}

// Manifest selects an S3 compatible endpoint for manifests. Empty means AWS S3.
type Manifest struct {
	Endpoint  string `yaml:"endpoint"`
	AccessKey string `yaml:"accessKey"`
	SecretKey string `yaml:"secretKey"`
}

// AWS overrides the default AWS configuration, for local endpoints.
type AWS struct {
	Region   string `yaml:"region"`
	Endpoint string `yaml:"endpoint"`
}

// Settings is the complete configuration of a copy-out process.
type Settings struct {
	RunsTable          string     `yaml:"runsTable"`
	CompletionTopicArn string     `yaml:"completionTopicArn"`
	ReportBucket       string     `yaml:"reportBucket"`
	MetricsAddr        string     `yaml:"metricsAddr"`
	Fleet              Fleet      `yaml:"fleet"`
	Dispatcher         Dispatcher `yaml:"dispatcher"`
	Manifest           Manifest   `yaml:"manifest"`
	AWS                AWS        `yaml:"aws"`
}

// Defaults returns settings with the built-in dispatcher tuning.
func Defaults() Settings {
	return Settings{
		Fleet: Fleet{
			CapacityProvider: fleet.DefaultCapacityProvider,
			RunTaskRate:      fleet.DefaultRunTaskRate,
		},
		Dispatcher: Dispatcher{
			PollInterval:  copyout.DefaultPollInterval,
			JobTimeout:    copyout.DefaultJobTimeout,
			SubmitRetries: copyout.DefaultSubmitRetries,
		},
	}
}

// FromEnv returns the defaults overridden by the environment.
func FromEnv() Settings {
	return applyEnv(Defaults())
}

// Load reads a YAML settings file over the defaults; the environment overrides the file.
func Load(path string) (Settings, error) {
	s := Defaults()
	data, err := os.ReadFile(path)
	if err != nil {
		return s, fmt.Errorf("error reading settings %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &s); err != nil {
		return s, fmt.Errorf("error parsing settings %s: %w", path, err)
	}
	return applyEnv(s), nil
}

// applyEnv overrides s with any variable that is set. POLL_INTERVAL is in seconds and
// JOB_TIMEOUT in minutes.
func applyEnv(s Settings) Settings {
	s.RunsTable = envString(EnvRunsTable, s.RunsTable)
	s.CompletionTopicArn = envString(EnvCompletionTopicArn, s.CompletionTopicArn)
	s.ReportBucket = envString(EnvReportBucket, s.ReportBucket)
	s.MetricsAddr = envString(EnvMetricsAddr, s.MetricsAddr)

	s.Fleet.Cluster = envString(EnvCluster, s.Fleet.Cluster)
	s.Fleet.TaskDefinition = envString(EnvTaskDefinition, s.Fleet.TaskDefinition)
	s.Fleet.ContainerName = envString(EnvContainerName, s.Fleet.ContainerName)
	s.Fleet.Subnets = envList(EnvSubnets, s.Fleet.Subnets)
	s.Fleet.SecurityGroups = envList(EnvSecurityGroups, s.Fleet.SecurityGroups)
	s.Fleet.AssignPublicIp = envBool(EnvAssignPublicIp, s.Fleet.AssignPublicIp)
	s.Fleet.CapacityProvider = envString(EnvCapacityProvider, s.Fleet.CapacityProvider)
	s.Fleet.LogStreamPrefix = envString(EnvLogStreamPrefix, s.Fleet.LogStreamPrefix)
	s.Fleet.RunTaskRate = envFloat(EnvRunTaskRate, s.Fleet.RunTaskRate)

	s.Dispatcher.PollInterval = envDuration(EnvPollInterval, time.Second, s.Dispatcher.PollInterval)
	s.Dispatcher.JobTimeout = envDuration(EnvJobTimeout, time.Minute, s.Dispatcher.JobTimeout)
	s.Dispatcher.SubmitRetries = envInt(EnvSubmitRetries, s.Dispatcher.SubmitRetries)

	s.Manifest.Endpoint = envString(EnvManifestEndpoint, s.Manifest.Endpoint)
	s.Manifest.AccessKey = envString(EnvManifestAccessKey, s.Manifest.AccessKey)
	s.Manifest.SecretKey = envString(EnvManifestSecretKey, s.Manifest.SecretKey)

	s.AWS.Region = envString(EnvAWSRegion, s.AWS.Region)
	s.AWS.Endpoint = envString(EnvAWSEndpoint, s.AWS.Endpoint)
	return s
}

// FleetConfig returns the ECS launch configuration.
func (s Settings) FleetConfig() fleet.Config {
	return fleet.Config{
		Cluster:          s.Fleet.Cluster,
		TaskDefinition:   s.Fleet.TaskDefinition,
		ContainerName:    s.Fleet.ContainerName,
		Subnets:          s.Fleet.Subnets,
		SecurityGroups:   s.Fleet.SecurityGroups,
		AssignPublicIp:   s.Fleet.AssignPublicIp,
		CapacityProvider: s.Fleet.CapacityProvider,
		LogStreamPrefix:  s.Fleet.LogStreamPrefix,
		RunTaskRate:      s.Fleet.RunTaskRate,
	}
}

// DispatcherConfig returns the dispatcher tuning.
func (s Settings) DispatcherConfig() copyout.DispatcherConfig {
	return copyout.DispatcherConfig{
		PollInterval:  s.Dispatcher.PollInterval,
		JobTimeout:    s.Dispatcher.JobTimeout,
		SubmitRetries: s.Dispatcher.SubmitRetries,
	}
}

// MinioConfig returns the manifest endpoint configuration, or false when manifests are read
// from AWS S3.
func (s Settings) MinioConfig() (objectstore.MinioConfig, bool) {
	if s.Manifest.Endpoint == "" {
		return objectstore.MinioConfig{}, false
	}
	return objectstore.MinioConfig{
		Endpoint:        s.Manifest.Endpoint,
		AccessKeyID:     s.Manifest.AccessKey,
		SecretAccessKey: s.Manifest.SecretKey,
		Region:          s.AWS.Region,
	}, true
}

// Validate checks the settings a process launching tasks needs.
func (s Settings) Validate() error {
	if s.Fleet.Cluster == "" {
		return fmt.Errorf("%s is required", EnvCluster)
	}
	if s.Fleet.TaskDefinition == "" {
		return fmt.Errorf("%s is required", EnvTaskDefinition)
	}
	if s.Fleet.ContainerName == "" {
		return fmt.Errorf("%s is required", EnvContainerName)
	}
	if len(s.Fleet.Subnets) == 0 {
		return fmt.Errorf("%s is required", EnvSubnets)
	}
	return nil
}

// ConfigureLogging sets the JSON formatter and the level from LOG_LEVEL (default info).
func ConfigureLogging() {
	log.SetFormatter(&log.JSONFormatter{})
	ll, err := log.ParseLevel(os.Getenv(EnvLogLevel))
	if err != nil {
		log.SetLevel(log.InfoLevel)
	} else {
		log.SetLevel(ll)
	}
}
