package observability

import (
	"context"
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type failingPublisher struct{ calls int }

func (f *failingPublisher) PublishWithHeaders(ctx context.Context, routingKey string, message any, headers map[string]string) error {
	f.calls++
	return errors.New("broker down")
}

func TestPublishEventCountsFailures(t *testing.T) {
	pub := &failingPublisher{}
	SetPublisher(pub)
	defer SetPublisher(nil)

	before := testutil.ToFloat64(amqpPublishErrorsTotal)
	err := PublishEvent(context.Background(), RoutingChatEvents, EventEnvelope{EventName: "ws_connect"}, nil)

	require.Error(t, err)
	assert.Equal(t, 1, pub.calls)
	assert.Equal(t, before+1, testutil.ToFloat64(amqpPublishErrorsTotal))
}

func TestPublishEventWithoutPublisher(t *testing.T) {
	SetPublisher(nil)
	require.NoError(t, PublishEvent(context.Background(), RoutingCallEvents, EventEnvelope{}, nil))
}

func TestBuildHeadersSkipsEmpty(t *testing.T) {
	assert.Empty(t, BuildHeaders("", ""))
	assert.Equal(t, map[string]string{"x-request-id": "r", "trace_id": "t"}, BuildHeaders("r", "t"))
}

func TestSplitFullMethod(t *testing.T) {
	service, method := splitFullMethod("/grpc.health.v1.Health/Check")
	assert.Equal(t, "grpc.health.v1.Health", service)
	assert.Equal(t, "Check", method)

	service, method = splitFullMethod("bogus")
	assert.Equal(t, "unknown", service)
	assert.Equal(t, "unknown", method)
}

func TestRoutingKey(t *testing.T) {
	assert.Equal(t, RoutingCallEvents, RoutingKey("call"))
	assert.Equal(t, RoutingChatEvents, RoutingKey("chat"))
}
