package main

import (
	"context"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	"github.com/sirupsen/logrus"

	awsx "github.com/shambadirect/marketplace-backend/internal/aws"
)

func main() {
	log := logrus.New()
	log.SetFormatter(&logrus.JSONFormatter{})
	baseLog := log.WithField("service", "worker")

	clients, err := awsx.NewAWSClients(context.Background())
	if err != nil {
		baseLog.Fatalf("failed to init aws clients: %v", err)
	}

	p := NewProcessor(clients, baseLog)

	lambda.Start(func(ctx context.Context, ev events.SQSEvent) error {
		return p.Handle(ctx, ev)
	})
}
