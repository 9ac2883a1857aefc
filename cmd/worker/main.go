package main

// Remote automation worker: consumes session handoffs from SQS, runs the
// automation engine and reports back to the orchestrator's worker API.

import (
	"context"
	"errors"
	"log"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqstypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"

	"applypilot-backend/internal/queue"
	"applypilot-backend/internal/shared/config"
	"applypilot-backend/internal/shared/telemetry"
	"applypilot-backend/internal/worker"
)

const (
	defaultRegion             = "us-east-1"
	defaultVisibilitySeconds  = 900
	defaultWorkerConcurrency  = 4
	defaultShutdownTimeoutSec = 30
)

func main() {
	cfg := config.Load()

	queueURL := strings.TrimSpace(cfg.SQSQueueURL)
	if queueURL == "" {
		log.Fatal("AP_SQS_QUEUE_URL is required")
	}
	if strings.TrimSpace(cfg.WorkerToken) == "" {
		log.Fatal("WORKER_TOKEN is required")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	visibilitySeconds := envInt("AP_SQS_VISIBILITY_TIMEOUT_SECONDS", defaultVisibilitySeconds)
	concurrency := envInt("AP_WORKER_CONCURRENCY", defaultWorkerConcurrency)
	shutdownTimeout := time.Duration(envInt("AP_SHUTDOWN_TIMEOUT_SECONDS", defaultShutdownTimeoutSec)) * time.Second

	region := strings.TrimSpace(cfg.AWSRegion)
	if region == "" {
		region = defaultRegion
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		log.Fatalf("load aws config: %v", err)
	}
	var sqsClient sqsAPI = sqs.NewFromConfig(awsCfg)

	runner := &worker.Runner{
		Reporter: worker.NewHTTPReporter(cfg.OrchestratorBaseURL, cfg.WorkerToken),
		Engine:   worker.SimEngine{StepDelay: 2 * time.Second},
	}

	sem := make(chan struct{}, max(1, concurrency))
	var wg sync.WaitGroup

	log.Printf("worker started queue=%s concurrency=%d visibility=%ds", queueURL, concurrency, visibilitySeconds)

pollLoop:
	for {
		select {
		case <-ctx.Done():
			break pollLoop
		default:
		}

		resp, err := sqsClient.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
			QueueUrl:            aws.String(queueURL),
			MaxNumberOfMessages: 10,
			WaitTimeSeconds:     20,
			VisibilityTimeout:   int32(visibilitySeconds),
		})
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) || ctx.Err() != nil {
				break pollLoop
			}
			log.Printf("receive message: %v", err)
			continue
		}

		for _, msg := range resp.Messages {
			select {
			case <-ctx.Done():
				break pollLoop
			case sem <- struct{}{}:
			}
			wg.Add(1)
			go func(m sqstypes.Message) {
				defer wg.Done()
				defer func() { <-sem }()
				handleMessage(ctx, runner, sqsClient, queueURL, m)
			}(msg)
		}
	}

	log.Printf("shutdown requested, waiting up to %s for in-flight runs", shutdownTimeout)
	waitDone := make(chan struct{})
	go func() {
		wg.Wait()
		close(waitDone)
	}()
	select {
	case <-waitDone:
	case <-time.After(shutdownTimeout):
		log.Printf("shutdown timeout reached; exiting with in-flight runs")
	}
}

type sqsAPI interface {
	ReceiveMessage(ctx context.Context, params *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error)
	DeleteMessage(ctx context.Context, params *sqs.DeleteMessageInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error)
}

// handleMessage runs one handoff. Malformed payloads and completed runs are
// deleted; a run interrupted by shutdown or a dead orchestrator keeps the
// message so another worker picks it up after the visibility timeout.
func handleMessage(ctx context.Context, runner *worker.Runner, client sqsAPI, queueURL string, msg sqstypes.Message) {
	body := aws.ToString(msg.Body)

	h, err := queue.DecodeHandoff([]byte(body))
	if err != nil {
		telemetry.Error("worker.handoff.malformed", map[string]any{
			"message_id": aws.ToString(msg.MessageId),
			"body_len":   len(body),
			"error":      err.Error(),
		})
		deleteMessage(ctx, client, queueURL, msg)
		return
	}

	telemetry.Info("worker.handoff.received", map[string]any{
		"session_id": h.SessionID,
		"user_id":    h.UserID,
		"request_id": h.RequestID,
		"remaining":  h.Remaining,
	})

	if err := runner.Run(ctx, h); err != nil {
		if ctx.Err() != nil {
			// Interrupted by shutdown; redeliver.
			return
		}
		// The run never reached the orchestrator. Leave the message for
		// redelivery; acks dedupe the replay on the other side.
		telemetry.Error("worker.run.unreported", map[string]any{
			"session_id": h.SessionID,
			"request_id": h.RequestID,
			"error":      err.Error(),
		})
		return
	}

	deleteMessage(ctx, client, queueURL, msg)
}

func deleteMessage(ctx context.Context, client sqsAPI, queueURL string, msg sqstypes.Message) {
	if msg.ReceiptHandle == nil {
		return
	}
	_, err := client.DeleteMessage(ctx, &sqs.DeleteMessageInput{
		QueueUrl:      aws.String(queueURL),
		ReceiptHandle: msg.ReceiptHandle,
	})
	if err != nil && ctx.Err() == nil {
		log.Printf("delete message %s: %v", aws.ToString(msg.MessageId), err)
	}
}

func envInt(key string, def int) int {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return def
	}
	return n
}
