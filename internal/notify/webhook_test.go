package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWebhookNotifierPostsJSON(t *testing.T) {
	var got ApprovalRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	n := NewWebhookNotifier(srv.URL)
	err := n.ApprovalRequested(context.Background(), ApprovalRequest{
		WorkflowID:  "w1",
		StepID:      "deploy",
		AgentType:   "shell",
		RiskLevel:   "high",
		RequestedAt: time.Now().UTC(),
	})
	require.NoError(t, err)
	assert.Equal(t, "w1", got.WorkflowID)
	assert.Equal(t, "deploy", got.StepID)
}

func TestWebhookNotifierRejectedStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	n := NewWebhookNotifier(srv.URL)
	err := n.ApprovalRequested(context.Background(), ApprovalRequest{WorkflowID: "w1", StepID: "s"})
	require.Error(t, err)
}

func TestChanNotifierDelivers(t *testing.T) {
	n := NewChanNotifier(1)
	require.NoError(t, n.ApprovalRequested(context.Background(), ApprovalRequest{StepID: "s"}))
	select {
	case req := <-n.C:
		assert.Equal(t, "s", req.StepID)
	default:
		t.Fatal("expected a buffered approval request")
	}
}
