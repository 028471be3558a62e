package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/google/uuid"

	"github.com/resumable-http/rufh/pkg/core"
)

// SQSSink publishes one SendMessage call per event to a queue, so a
// separate worker fleet can react to upload lifecycle transitions without
// being in the request path at all. It is the publishing half of the
// pattern Yulian302-lfusys-services-sessions implements on the consuming
// side (queues.UploadsNotifyReceiverImpl), which long-polls the same kind
// of queue and turns completed-upload events into file records.
type SQSSink struct {
	Client   *sqs.Client
	QueueURL string

	// FIFO must be set when QueueURL names a FIFO queue: SendMessage
	// rejects MessageDeduplicationId/MessageGroupId on standard queues.
	FIFO bool
}

func (s *SQSSink) Notify(ctx context.Context, event core.HookEvent) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("notify: marshal event: %w", err)
	}

	input := &sqs.SendMessageInput{
		QueueUrl:    aws.String(s.QueueURL),
		MessageBody: aws.String(string(body)),
		MessageAttributes: map[string]types.MessageAttributeValue{
			"EventKind": {
				DataType:    aws.String("String"),
				StringValue: aws.String(string(event.Kind)),
			},
		},
	}
	if s.FIFO {
		input.MessageDeduplicationId = aws.String(uuid.NewString())
		input.MessageGroupId = aws.String(event.Token.String())
	}

	if _, err := s.Client.SendMessage(ctx, input); err != nil {
		return fmt.Errorf("notify: sqs send: %w", err)
	}
	return nil
}
