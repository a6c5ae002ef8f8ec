package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/ecs"
	"github.com/elsa-data/copy-out-service/pkg/copyout"
	"github.com/elsa-data/copy-out-service/pkg/fleet"
	"github.com/elsa-data/copy-out-service/pkg/runstore"
	"github.com/elsa-data/copy-out-service/pkg/service"
	"github.com/elsa-data/copy-out-service/pkg/settings"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"github.com/valyala/fastjson"
)

var store *CopyOutAPIStore

var headers = map[string]string{
	"Content-Type":                 "application/json",
	"Access-Control-Allow-Headers": "Content-Type, Authorization",
	"Access-Control-Allow-Origin":  "*",
	"Access-Control-Allow-Methods": "OPTIONS,POST,GET",
}

// init runs on cold start of lambda. TASK_DEF_ARN and CONTAINER_NAME refer to the
// orchestrator task.
func init() {
	settings.ConfigureLogging()

	s := settings.FromEnv()
	cfg, err := settings.LoadAWSConfig(context.Background(), s.AWS)
	if err != nil {
		log.Fatalf("LoadDefaultConfig: %v\n", err)
	}

	store = NewCopyOutAPIStore(
		runstore.NewStore(dynamodb.NewFromConfig(cfg), s.RunsTable),
		fleet.NewRunner(ecs.NewFromConfig(cfg), s.FleetConfig()),
		uuid.NewString,
	)
}

// CopyOutHandler handles requests to the /copy-out endpoints.
func CopyOutHandler(ctx context.Context, request events.APIGatewayV2HTTPRequest) (*events.APIGatewayV2HTTPResponse, error) {
	log.WithFields(log.Fields{
		"route_key":  request.RouteKey,
		"request_id": request.RequestContext.RequestID,
	}).Debug("copy-out api called")

	switch request.RouteKey {
	case "POST /copy-out":
		return store.postCopyOutRoute(ctx, request)
	case "GET /copy-out/{id}":
		return store.getCopyOutRoute(ctx, request)
	}

	return &events.APIGatewayV2HTTPResponse{
		StatusCode: 404,
		Headers:    headers,
		Body:       errorBody(fmt.Sprintf("unknown route %q", request.RouteKey), 404),
	}, nil
}

// postCopyOutRoute validates the request, records the run and launches its orchestrator task.
func (s *CopyOutAPIStore) postCopyOutRoute(ctx context.Context, request events.APIGatewayV2HTTPRequest) (*events.APIGatewayV2HTTPResponse, error) {
	if err := fastjson.Validate(request.Body); err != nil {
		return response(400, errorBody("Error: Invalid JSON payload: "+err.Error(), 400)), nil
	}

	req, err := copyout.ParseRequest([]byte(request.Body))
	if err != nil {
		return response(400, errorBody(err.Error(), 400)), nil
	}

	if n := len(req.JSON()); n > service.MaxRequestSize {
		return response(400, errorBody(fmt.Sprintf("Error: request is %d bytes, the limit is %d", n, service.MaxRequestSize), 400)), nil
	}

	runId := s.newRunId()
	logger := log.WithField("run_id", runId)

	if _, err := s.runs.CreateRun(ctx, runId, req.JSON()); err != nil {
		logger.WithError(err).Error("unable to record run")
		return response(500, errorBody("Error: unable to record copy-out run", 500)), nil
	}

	taskArn, err := s.launcher.Submit(ctx, service.LaunchSpec(runId, req.JSON()))
	if err != nil {
		logger.WithError(err).Error("unable to launch copy-out task")
		if failErr := s.runs.FailRun(ctx, runId, err); failErr != nil {
			logger.WithError(failErr).Error("unable to mark run as failed")
		}
		return response(500, errorBody("Error: unable to start copy-out run", 500)), nil
	}

	if err := s.runs.SetTaskArn(ctx, runId, taskArn); err != nil {
		logger.WithError(err).Warn("unable to record task arn")
	}

	logger.WithFields(log.Fields{
		"task_arn":           taskArn,
		"manifest":           req.ManifestLocation().String(),
		"destination":        req.Destination(),
		"max_items_in_batch": req.MaxItemsPerBatch,
	}).Info("copy-out run started")

	body, _ := json.Marshal(PostResponse{RunId: runId, Status: string(runstore.Pending)})
	return response(202, string(body)), nil
}

// getCopyOutRoute returns the run record.
func (s *CopyOutAPIStore) getCopyOutRoute(ctx context.Context, request events.APIGatewayV2HTTPRequest) (*events.APIGatewayV2HTTPResponse, error) {
	runId := request.PathParameters["id"]
	if runId == "" {
		return response(400, errorBody("Error: run id is required", 400)), nil
	}

	record, err := s.runs.GetRun(ctx, runId)
	if err != nil {
		var notExist *runstore.RunNotExistError
		if errors.As(err, &notExist) {
			return response(404, errorBody(err.Error(), 404)), nil
		}
		log.WithField("run_id", runId).WithError(err).Error("unable to get run")
		return response(500, errorBody("Error: unable to get copy-out run", 500)), nil
	}

	body, err := json.Marshal(record)
	if err != nil {
		return nil, err
	}
	return response(200, string(body)), nil
}

func response(status int, body string) *events.APIGatewayV2HTTPResponse {
	return &events.APIGatewayV2HTTPResponse{StatusCode: status, Headers: headers, Body: body}
}
