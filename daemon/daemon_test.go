package daemon_test

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/kapetan-io/partlife/daemon"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name        string
		conf        daemon.Config
		expectedErr string
	}{
		{
			name:        "InvalidStorageDriver",
			conf:        daemon.Config{StorageDriver: "mongo", ConsensusEndpoint: "http://localhost:2319"},
			expectedErr: "invalid storage driver",
		},
		{
			name:        "EmptyConsensusEndpoint",
			conf:        daemon.Config{StorageDriver: daemon.StorageDriverBolt},
			expectedErr: "ConsensusEndpoint is empty",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := daemon.NewDaemon(context.Background(), tt.conf)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.expectedErr)
		})
	}
}

func TestNewDaemonBootstrapsAndServesMetrics(t *testing.T) {
	consensusSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer consensusSrv.Close()

	registry := prometheus.NewRegistry()
	conf := daemon.Config{
		PartitionID:       9,
		NodeID:            1,
		StorageDriver:     daemon.StorageDriverBolt,
		StorageDir:        t.TempDir(),
		ConsensusEndpoint: consensusSrv.URL,
		ListenAddress:     "127.0.0.1:0",
		StepOpenTimeout:   5 * time.Second,
		Registry:          registry,
	}

	d, err := daemon.NewDaemon(context.Background(), conf)
	require.NoError(t, err)
	require.NotNil(t, d.Listener)

	resp, err := http.Get(fmt.Sprintf("http://%s/metrics", d.Listener.Addr().String()))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	require.NoError(t, d.Shutdown(context.Background()))
}
