package notifier

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"wisefido-attendance/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// fakeNotifier 仅用于单元测试
type fakeNotifier struct {
	calls int
	err   error
}

func (f *fakeNotifier) Notify(ctx context.Context, recipients []string, severity models.Severity, message string, fields map[string]interface{}) error {
	f.calls++
	return f.err
}

func TestMultiNotifier_AllInvoked(t *testing.T) {
	first := &fakeNotifier{}
	second := &fakeNotifier{}
	multi := NewMultiNotifier(zap.NewNop(), first, second)

	err := multi.Notify(context.Background(), nil, models.SeverityWarning, "gap detected", nil)

	require.NoError(t, err)
	assert.Equal(t, 1, first.calls)
	assert.Equal(t, 1, second.calls)
}

func TestMultiNotifier_FailureDoesNotStopOthers(t *testing.T) {
	bad := &fakeNotifier{err: errors.New("broker unreachable")}
	good := &fakeNotifier{}
	multi := NewMultiNotifier(zap.NewNop(), bad, good)

	// fire-and-log：通知失败不向上传播
	err := multi.Notify(context.Background(), nil, models.SeverityCritical, "hash chain broken", nil)

	require.NoError(t, err)
	assert.Equal(t, 1, good.calls)
}

func TestWebhookNotifier_PostsAlert(t *testing.T) {
	var received Alert
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&received))
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	n := NewWebhookNotifier(server.URL, zap.NewNop())

	err := n.Notify(context.Background(),
		[]string{"hr@example.com"},
		models.SeverityCritical,
		"hash chain verification failed",
		map[string]interface{}{"failed_sequences": []int64{7}},
	)

	require.NoError(t, err)
	assert.Equal(t, models.SeverityCritical, received.Severity)
	assert.Equal(t, "hash chain verification failed", received.Message)
	assert.Equal(t, []string{"hr@example.com"}, received.Recipients)
}

func TestWebhookNotifier_ErrorStatusReported(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	n := NewWebhookNotifier(server.URL, zap.NewNop())

	err := n.Notify(context.Background(), nil, models.SeverityWarning, "gap detected", nil)

	assert.Error(t, err)
	assert.Contains(t, err.Error(), "webhook returned status 500")
}
