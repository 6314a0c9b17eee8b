package observability

import (
	"context"
)

// Publisher sends JSON events to the event exchange.
type Publisher interface {
	PublishWithHeaders(ctx context.Context, routingKey string, message any, headers map[string]string) error
}

var defaultPublisher Publisher

// SetPublisher installs the process-wide event publisher. A nil publisher
// disables event publishing.
func SetPublisher(publisher Publisher) {
	defaultPublisher = publisher
}

// PublishEvent publishes message on the default publisher, counting failures.
func PublishEvent(ctx context.Context, routingKey string, message any, headers map[string]string) error {
	if defaultPublisher == nil {
		return nil
	}

	err := defaultPublisher.PublishWithHeaders(ctx, routingKey, message, headers)
	if err != nil {
		IncAMQPPublishError()
	}
	return err
}
