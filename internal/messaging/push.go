package messaging

import (
	"context"
	"encoding/json"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/messaging/azservicebus"
	"github.com/pkg/errors"

	"example.com/storefront/services/checkout/config"
	"example.com/storefront/services/checkout/internal/services"
)

// ServiceBusPushSender delivers push payloads by enqueueing them on the
// push-gateway queue. The gateway itself is an external collaborator;
// this sender only honors the success/failure contract.
type ServiceBusPushSender struct {
	client *azservicebus.Client
	sender *azservicebus.Sender
}

// NewServiceBusPushSender creates a new sender for the push queue
func NewServiceBusPushSender(cfg config.AzureConfig) (*ServiceBusPushSender, error) {
	if cfg.PushConnStr == "" {
		return nil, errors.New("push queue connection string is empty")
	}

	client, err := azservicebus.NewClientFromConnectionString(cfg.PushConnStr, nil)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create Service Bus client")
	}

	sender, err := client.NewSender(cfg.PushQueueName, nil)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create Service Bus sender")
	}

	return &ServiceBusPushSender{client: client, sender: sender}, nil
}

type pushEnvelope struct {
	To      string               `json:"to"`
	Payload services.PushPayload `json:"payload"`
	Time    string               `json:"time"`
}

// Send enqueues one push delivery. The caller bounds the attempt with
// a context timeout; no database lock is ever held across this call.
func (s *ServiceBusPushSender) Send(ctx context.Context, address string, payload services.PushPayload) error {
	body, err := json.Marshal(pushEnvelope{
		To:      address,
		Payload: payload,
		Time:    time.Now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		return errors.Wrap(err, "failed to marshal push envelope")
	}

	msg := &azservicebus.Message{
		Body: body,
		ApplicationProperties: map[string]interface{}{
			"source": "checkout-service",
		},
	}
	if err := s.sender.SendMessage(ctx, msg, nil); err != nil {
		return errors.Wrap(err, "failed to enqueue push delivery")
	}
	return nil
}

// Close closes the sender and its client
func (s *ServiceBusPushSender) Close() error {
	if s.sender != nil {
		if err := s.sender.Close(context.Background()); err != nil {
			return err
		}
	}
	if s.client != nil {
		return s.client.Close(context.Background())
	}
	return nil
}
