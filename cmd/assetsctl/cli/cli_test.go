package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-assets/internal/auth"
	"github.com/odyssey-erp/odyssey-assets/internal/shared"
	"github.com/odyssey-erp/odyssey-assets/jobs"
)

type stubClient struct {
	tasks []*asynq.Task
}

func (s *stubClient) EnqueueContext(_ context.Context, task *asynq.Task, _ ...asynq.Option) (*asynq.TaskInfo, error) {
	s.tasks = append(s.tasks, task)
	return &asynq.TaskInfo{ID: "t1", Type: task.Type(), Queue: jobs.QueueDefault}, nil
}

type stubInspector struct {
	info *asynq.QueueInfo
	err  error
}

func (s stubInspector) GetQueueInfo(string) (*asynq.QueueInfo, error) { return s.info, s.err }

func TestTriggerDepreciationRefresh(t *testing.T) {
	client := &stubClient{}
	c := NewJobsCLIWith(client, nil)

	info, err := c.Trigger(context.Background(), jobs.TaskDepreciationRefresh, 17)
	require.NoError(t, err)
	require.Equal(t, jobs.TaskDepreciationRefresh, info.Type)
	require.Len(t, client.tasks, 1)

	var payload jobs.DepreciationRefreshPayload
	require.NoError(t, json.Unmarshal(client.tasks[0].Payload(), &payload))
	require.Equal(t, int64(17), payload.AssetID)

	_, err = c.Trigger(context.Background(), "unknown:job", 0)
	require.Error(t, err)
}

func TestInspectQueue(t *testing.T) {
	c := NewJobsCLIWith(nil, stubInspector{info: &asynq.QueueInfo{Queue: jobs.QueueDefault, Pending: 3, Retry: 1}})
	stats, err := c.InspectQueue()
	require.NoError(t, err)
	require.Equal(t, 3, stats.Pending)
	require.Equal(t, 1, stats.Retry)

	failing := NewJobsCLIWith(nil, stubInspector{err: errors.New("redis down")})
	_, err = failing.InspectQueue()
	require.Error(t, err)

	_, err = NewJobsCLIWith(nil, nil).InspectQueue()
	require.Error(t, err)
}

func TestTokenCommand(t *testing.T) {
	var out, errOut bytes.Buffer
	code := TokenCommand(TokenOptions{Secret: "cli-secret", UserID: 4, TTL: time.Minute, Stdout: &out, Stderr: &errOut})
	require.Equal(t, 0, code, errOut.String())

	verifier, err := auth.NewVerifier("cli-secret", "")
	require.NoError(t, err)
	principal, err := verifier.Verify(strings.TrimSpace(out.String()))
	require.NoError(t, err)
	require.Equal(t, int64(4), principal.UserID)
	require.ElementsMatch(t, shared.AssetScopes(), principal.Permissions)

	errOut.Reset()
	require.Equal(t, 1, TokenCommand(TokenOptions{Secret: "cli-secret", Stderr: &errOut}))
	require.Contains(t, errOut.String(), "--user")

	errOut.Reset()
	require.Equal(t, 1, TokenCommand(TokenOptions{UserID: 1, Stderr: &errOut, Stdout: &out}))
}
