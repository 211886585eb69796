package consensus_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/kapetan-io/partlife/consensus"
	"github.com/kapetan-io/partlife/partition"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStepDownCallsRemoteEndpoint(t *testing.T) {
	var hits int32
	var gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		gotPath = r.URL.Path
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c, err := consensus.New(consensus.ClientConfig{Endpoint: srv.URL, PartitionID: 7})
	require.NoError(t, err)

	require.NoError(t, c.StepDown(context.Background()))
	assert.Equal(t, int32(1), atomic.LoadInt32(&hits))
	assert.Equal(t, consensus.RPCStepDown, gotPath)
}

func TestGoInactiveCallsRemoteEndpoint(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, consensus.RPCGoInactive, r.URL.Path)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c, err := consensus.New(consensus.ClientConfig{Endpoint: srv.URL, PartitionID: 3})
	require.NoError(t, err)

	require.NoError(t, c.GoInactive(context.Background()))
}

func TestCallRetriesUntilAttemptsExhausted(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c, err := consensus.New(consensus.ClientConfig{
		Endpoint:      srv.URL,
		PartitionID:   1,
		RetryAttempts: 3,
	})
	require.NoError(t, err)

	err = c.StepDown(context.Background())
	require.Error(t, err)
	assert.Equal(t, int32(3), atomic.LoadInt32(&hits))
}

func TestReceiveRoleChangeForwardsToListener(t *testing.T) {
	c, err := consensus.New(consensus.ClientConfig{Endpoint: "http://127.0.0.1:0", PartitionID: 1})
	require.NoError(t, err)

	type event struct {
		role partition.Role
		term int64
	}
	events := make(chan event, 1)
	c.AddRoleListener(roleListenerFunc(func(role partition.Role, term int64) {
		events <- event{role: role, term: term}
	}))

	c.ReceiveRoleChange(partition.Leader, 5)

	select {
	case e := <-events:
		assert.Equal(t, partition.Leader, e.role)
		assert.Equal(t, int64(5), e.term)
	default:
		t.Fatal("listener was not notified")
	}

	assert.Equal(t, partition.Leader, c.CurrentRole())
	assert.Equal(t, int64(5), c.CurrentTerm())
	assert.Equal(t, int64(5), c.Term())
}

func TestRemoveRoleListenerStopsForwarding(t *testing.T) {
	c, err := consensus.New(consensus.ClientConfig{Endpoint: "http://127.0.0.1:0", PartitionID: 1})
	require.NoError(t, err)

	var calls int32
	l := roleListenerFunc(func(partition.Role, int64) { atomic.AddInt32(&calls, 1) })
	c.AddRoleListener(l)
	c.RemoveRoleListener(l)

	c.ReceiveRoleChange(partition.Follower, 1)
	assert.Equal(t, int32(0), atomic.LoadInt32(&calls))
}

type roleListenerFunc func(role partition.Role, term int64)

func (f roleListenerFunc) OnNewRole(role partition.Role, term int64) { f(role, term) }
