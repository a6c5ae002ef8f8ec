package main

import (
	"github.com/aws/aws-lambda-go/lambda"
	"github.com/elsa-data/copy-out-service/lambda/copyout-api/handler"
)

func main() {
	lambda.Start(handler.CopyOutHandler)
}
