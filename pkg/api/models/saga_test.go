package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sagaforge/sagaforge/pkg/saga"
)

func buildSaga(t *testing.T) *saga.Saga {
	t.Helper()

	s, err := saga.NewBuilder("order-fulfillment").
		WithCorrelationID("order-42").
		WithInput(map[string]any{"amount": 99.5}).
		WithTimeout(30 * time.Second).
		WithTags("orders", "billing").
		Step("reserve", saga.StepTypeHTTPCall,
			saga.WithConfig(saga.StepConfig{URL: "http://inventory/reserve", HTTPMethod: "POST"}),
		).
		Step("notify", saga.StepTypeBusinessLogic, saga.Optional()).
		Build()
	require.NoError(t, err)
	return s
}

func TestToView(t *testing.T) {
	s := buildSaga(t)
	s.Steps[0].MarkStarted(time.Now())
	s.Steps[0].OutputData = map[string]any{"reservation_id": "r-1"}
	s.Steps[0].MarkFinished(time.Now())

	view := ToView(s)

	assert.Equal(t, s.SagaID, view.SagaID)
	assert.Equal(t, "order-fulfillment", view.Name)
	assert.Equal(t, "order-42", view.CorrelationID)
	assert.Equal(t, string(saga.StatusCreated), view.Status)
	assert.Equal(t, int64(30_000), view.TimeoutMS)
	assert.Equal(t, s.Version, view.Version)
	assert.Equal(t, []string{"orders", "billing"}, view.Tags)

	require.Len(t, view.Steps, 2)
	reserve := view.Steps[0]
	assert.Equal(t, "reserve", reserve.Name)
	assert.Equal(t, 0, reserve.Order)
	assert.Equal(t, string(saga.StepTypeHTTPCall), reserve.Type)
	assert.True(t, reserve.Required)
	assert.Equal(t, map[string]any{"reservation_id": "r-1"}, reserve.Output)
	assert.NotNil(t, reserve.StartedAt)
	assert.NotNil(t, reserve.CompletedAt)

	notify := view.Steps[1]
	assert.False(t, notify.Required)
	assert.Nil(t, notify.StartedAt)
}

func TestToSummary(t *testing.T) {
	s := buildSaga(t)

	summary := ToSummary(s)

	assert.Equal(t, s.SagaID, summary.SagaID)
	assert.Equal(t, "order-fulfillment", summary.Name)
	assert.Equal(t, "order-42", summary.CorrelationID)
	assert.Equal(t, string(saga.StatusCreated), summary.Status)
	assert.Equal(t, 2, summary.Steps)
	assert.Nil(t, summary.CompletedAt)
}
