// Command job-publisher publishes a job activation to the worker's exchange
// the way the engine does. It is used to drive a worker running with
// engine.mode amqp without a workflow engine.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"

	"github.com/cuongbtq/repairshop-worker/internal/config"
	"github.com/cuongbtq/repairshop-worker/internal/engine/amqpgw"
	"github.com/cuongbtq/repairshop-worker/internal/worker/domain"
	"github.com/cuongbtq/repairshop-worker/internal/worker/variables"
	"github.com/cuongbtq/repairshop-worker/shared/logger"
	"github.com/cuongbtq/repairshop-worker/shared/rabbitmq"
)

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	// Load .env file if it exists
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables or flags")
	}

	defaultConfigPath := os.Getenv("WORKER_SERVICE_CONFIG_PATH")
	if defaultConfigPath == "" {
		defaultConfigPath = "configs/worker-service/config.yaml"
	}
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	taskType := flag.String("type", "", "Task type of the job (required)")
	instanceKey := flag.String("instance", "", "Process instance key; generated when empty")
	retries := flag.Uint("retries", 3, "Retries left on the job")
	vars := flag.String("vars", "{}", "Job variables as a JSON object, or @path to a JSON file")
	flag.Parse()

	if *taskType == "" {
		return fmt.Errorf("-type is required")
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.ApplyEnv(os.Getenv); err != nil {
		return fmt.Errorf("invalid environment: %w", err)
	}
	if cfg.RabbitMQ.Host == "" || cfg.RabbitMQ.Exchange.Name == "" {
		return fmt.Errorf("invalid config: rabbitmq host and exchange name are required")
	}

	appLogger, err := logger.New(&logger.Config{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		Output:     "stderr",
		TimeFormat: time.RFC3339,
		NoColor:    cfg.Logging.NoColor,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer appLogger.Close()

	bag, err := parseVariables(*vars)
	if err != nil {
		return err
	}

	job := domain.Job{
		Key:                uuid.NewString(),
		Type:               *taskType,
		ProcessInstanceKey: *instanceKey,
		Retries:            *retries,
		Variables:          bag,
	}
	if job.ProcessInstanceKey == "" {
		job.ProcessInstanceKey = uuid.NewString()
	}

	body, err := amqpgw.EncodeActivation(job)
	if err != nil {
		return fmt.Errorf("failed to encode activation: %w", err)
	}

	// publish-only: no queue is declared
	client, err := rabbitmq.NewClient(&rabbitmq.Config{
		Host:               cfg.RabbitMQ.Host,
		Port:               cfg.RabbitMQ.Port,
		User:               cfg.RabbitMQ.User,
		Password:           cfg.RabbitMQ.Password,
		VHost:              cfg.RabbitMQ.VHost,
		ExchangeName:       cfg.RabbitMQ.Exchange.Name,
		ExchangeType:       cfg.RabbitMQ.Exchange.Type,
		ExchangeDurable:    cfg.RabbitMQ.Exchange.Durable,
		ExchangeAutoDelete: cfg.RabbitMQ.Exchange.AutoDelete,
		RetryAttempts:      cfg.RabbitMQ.Connection.RetryAttempts,
		RetryInterval:      cfg.RabbitMQ.Connection.RetryInterval,
		Heartbeat:          cfg.RabbitMQ.Connection.Heartbeat,
		ConnectionTimeout:  cfg.RabbitMQ.Connection.ConnectionTimeout,
		PublishRetries:     cfg.RabbitMQ.Publish.RetryAttempts,
		PublishRetryDelay:  cfg.RabbitMQ.Publish.RetryInterval,
		PublishBackoffMult: cfg.RabbitMQ.Publish.BackoffMultiplier,
	}, appLogger.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize RabbitMQ: %w", err)
	}
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	routingKey := amqpgw.JobRoutingKey(job.Type)
	if err := client.PublishWithRetry(ctx, routingKey, body, "application/json"); err != nil {
		return fmt.Errorf("failed to publish activation: %w", err)
	}

	appLogger.Info("Job activation published",
		slog.String("job_key", job.Key),
		slog.String("task_type", job.Type),
		slog.String("process_instance_key", job.ProcessInstanceKey),
		slog.String("routing_key", routingKey),
	)
	fmt.Println(job.Key)
	return nil
}

// parseVariables reads a JSON object inline or from @path
func parseVariables(arg string) (variables.Bag, error) {
	data := []byte(arg)
	if path, ok := strings.CutPrefix(arg, "@"); ok {
		b, err := os.ReadFile(path)
		if err != nil {
			return variables.Bag{}, fmt.Errorf("failed to read variables file: %w", err)
		}
		data = b
	}

	var bag variables.Bag
	if err := bag.UnmarshalJSON(data); err != nil {
		return variables.Bag{}, fmt.Errorf("invalid -vars: %w", err)
	}
	return bag, nil
}
