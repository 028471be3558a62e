package cli

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sqs"

	"github.com/resumable-http/rufh/pkg/notify"
)

// buildNotifier mirrors the teacher's getHookHandler (cmd/tusd/cli/hooks.go):
// each hook kind is mutually exclusive there, but nothing stops a real
// deployment from wanting more than one sink, so here every configured
// endpoint gets its own Sink appended to the Dispatcher.
func buildNotifier(logger *slog.Logger) (*notify.Dispatcher, error) {
	d := &notify.Dispatcher{Logger: logger}

	if Flags.FileHooksDir != "" {
		logger.Info("using directory for file hooks", "dir", Flags.FileHooksDir)
		d.Sinks = append(d.Sinks, &notify.FileSink{Directory: Flags.FileHooksDir})
	}

	if Flags.HTTPHooksEndpoint != "" {
		logger.Info("using endpoint for HTTP hooks", "endpoint", Flags.HTTPHooksEndpoint)
		d.Sinks = append(d.Sinks, &notify.HTTPSink{
			Endpoint:   Flags.HTTPHooksEndpoint,
			MaxRetries: Flags.HTTPHooksRetry,
			Backoff:    Flags.HTTPHooksBackoff,
		})
	}

	if Flags.GRPCHooksEndpoint != "" {
		logger.Info("using endpoint for gRPC hooks", "endpoint", Flags.GRPCHooksEndpoint)
		d.Sinks = append(d.Sinks, &notify.GRPCSink{
			Endpoint: Flags.GRPCHooksEndpoint,
			Secure:   Flags.GRPCHooksSecure,
		})
	}

	if Flags.SQSHooksQueueURL != "" {
		logger.Info("using queue for SQS hooks", "queue_url", Flags.SQSHooksQueueURL)
		awsCfg, err := config.LoadDefaultConfig(context.Background())
		if err != nil {
			return nil, fmt.Errorf("rufhd: load AWS config: %w", err)
		}
		d.Sinks = append(d.Sinks, &notify.SQSSink{
			Client:   sqs.NewFromConfig(awsCfg),
			QueueURL: Flags.SQSHooksQueueURL,
		})
	}

	return d, nil
}
