package main

import (
	"context"
	"net/http"
	"os"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	ginadapter "github.com/awslabs/aws-lambda-go-api-proxy/gin"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	awsx "github.com/shambadirect/marketplace-backend/internal/aws"
	"github.com/shambadirect/marketplace-backend/internal/catalog"
	"github.com/shambadirect/marketplace-backend/internal/handlers"
	"github.com/shambadirect/marketplace-backend/internal/idempotency"
	"github.com/shambadirect/marketplace-backend/internal/ledger"
	"github.com/shambadirect/marketplace-backend/internal/mpesa"
	"github.com/shambadirect/marketplace-backend/internal/orders"
	"github.com/shambadirect/marketplace-backend/internal/settlement"
	"github.com/shambadirect/marketplace-backend/internal/withdrawals"
)

func setupRouter(cfg handlers.HandlerConfig) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())

	// health
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	handlers.RegisterOrdersRoutes(r, cfg)
	handlers.RegisterPaymentRoutes(r, cfg)
	handlers.RegisterWithdrawalsRoutes(r, cfg)
	handlers.RegisterAccountsRoutes(r, cfg)

	return r
}

func main() {
	log := logrus.New()
	log.SetFormatter(&logrus.JSONFormatter{})
	baseLog := log.WithField("service", "api")

	clients, err := awsx.NewAWSClients(context.Background())
	if err != nil {
		baseLog.Fatalf("failed to init aws clients: %v", err)
	}

	ordersStore := orders.NewStore(clients.DynamoDB, os.Getenv("ORDERS_TABLE"), os.Getenv("SUBORDERS_TABLE"))
	catalogStore := catalog.NewStore(clients.DynamoDB, os.Getenv("PRODUCTS_TABLE"))
	ledgerStore := ledger.NewStore(clients.DynamoDB, os.Getenv("ACCOUNTS_TABLE"), os.Getenv("TRANSACTIONS_TABLE"))
	withdrawalsStore := withdrawals.NewStore(clients.DynamoDB, os.Getenv("WITHDRAWALS_TABLE"))
	idempStore := idempotency.NewStore(clients.DynamoDB, os.Getenv("IDEMPOTENCY_TABLE"), 48*time.Hour)

	gateway := mpesa.NewClient(mpesa.Config{
		BaseURL:        os.Getenv("MPESA_BASE_URL"),
		ConsumerKey:    os.Getenv("MPESA_CONSUMER_KEY"),
		ConsumerSecret: os.Getenv("MPESA_CONSUMER_SECRET"),
		ShortCode:      os.Getenv("MPESA_SHORTCODE"),
		Passkey:        os.Getenv("MPESA_PASSKEY"),
		CallbackURL:    os.Getenv("MPESA_CALLBACK_URL"),
	})

	metrics := awsx.NewMetricsRecorder(clients.CloudWatch)

	// An empty queue URL means callbacks settle in-process instead of
	// going through SQS. Useful for local development.
	var publisher *awsx.Publisher
	if queueURL := os.Getenv("CALLBACKS_QUEUE_URL"); queueURL != "" {
		publisher = awsx.NewPublisher(clients.SQS, queueURL)
	}

	cfg := handlers.HandlerConfig{
		Orders:      orders.NewService(ordersStore, catalogStore, gateway, baseLog),
		Settlement:  settlement.NewEngine(clients.DynamoDB, ordersStore, ledgerStore, idempStore, metrics, baseLog),
		Withdrawals: withdrawals.NewService(clients.DynamoDB, withdrawalsStore, ledgerStore, metrics, baseLog),
		Ledger:      ledgerStore,
		Auth:        handlers.NewJWTAuthenticator([]byte(os.Getenv("JWT_SECRET"))),
		Publisher:   publisher,
		Metrics:     metrics,
	}

	r := setupRouter(cfg)

	// if environment variable RUN_LOCAL is set to "true", run local HTTP server for development.
	if os.Getenv("RUN_LOCAL") == "true" {
		addr := ":8080"
		baseLog.Infof("running local server on %s", addr)
		if err := r.Run(addr); err != nil {
			baseLog.Fatalf("failed to run local server: %v", err)
		}
		return
	}

	// lambda adapter
	adapter := ginadapter.New(r)

	lambda.Start(func(ctx context.Context, req events.APIGatewayProxyRequest) (interface{}, error) {
		return adapter.ProxyWithContext(ctx, req)
	})
}
