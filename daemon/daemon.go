// Package daemon wires a Supervisor to concrete storage, consensus, and
// metrics collaborators and runs it as a long-lived process component -
// the same role the teacher's daemon package plays for a querator service.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"

	"github.com/duh-rpc/duh-go"
	"github.com/kapetan-io/partlife/consensus"
	"github.com/kapetan-io/partlife/partition"
	"github.com/kapetan-io/partlife/startup"
	"github.com/kapetan-io/partlife/step"
	"github.com/kapetan-io/partlife/store"
	"github.com/kapetan-io/partlife/supervisor"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Daemon owns a Supervisor for one partition replica plus the HTTP server
// that exposes its Prometheus metrics.
type Daemon struct {
	conf       Config
	Supervisor *supervisor.Supervisor
	consensus  *consensus.Client

	servers  []*http.Server
	wg       sync.WaitGroup
	Listener net.Listener
}

// NewDaemon builds and starts a Daemon: it resolves the configured storage
// backend, builds a consensus client for the configured endpoint (no
// connection is made until the first request), builds the supervisor's step lists,
// starts the supervisor, and spawns the metrics server.
func NewDaemon(ctx context.Context, conf Config) (*Daemon, error) {
	conf.SetDefaults()
	if err := conf.validate(); err != nil {
		return nil, err
	}

	stores, err := newPartitionStore(conf)
	if err != nil {
		return nil, err
	}

	cc, err := consensus.New(consensus.ClientConfig{
		Endpoint:    conf.ConsensusEndpoint,
		PartitionID: conf.PartitionID,
	})
	if err != nil {
		return nil, fmt.Errorf("while creating consensus client: %w", err)
	}

	log := conf.Log.With("code.namespace", "Daemon", "partition", conf.PartitionID)

	timeout := func(s startup.Step[*partition.Context]) startup.Step[*partition.Context] {
		return startup.WithTimeout(s, conf.StepOpenTimeout)
	}

	sup := supervisor.New(supervisor.Config{
		PartitionID: conf.PartitionID,
		NodeID:      conf.NodeID,
		Consensus:   cc,
		BootstrapSteps: []startup.Step[*partition.Context]{
			timeout(&step.KVStore{StoreName: conf.StorageDriver, Stores: stores, Log: log}),
			timeout(&step.LogStream{Log: log}),
		},
		LeaderSteps: []startup.Step[*partition.Context]{
			timeout(&step.MessagingService{Log: log}),
			timeout(&step.StreamProcessor{Log: log}),
			timeout(&step.ExporterDirector{Log: log}),
			timeout(&step.SnapshotDirector{Log: log}),
		},
		FollowerSteps: []startup.Step[*partition.Context]{
			timeout(&step.MessagingService{Log: log}),
			timeout(&step.StreamProcessor{Log: log}),
		},
		Listeners:       conf.Listeners,
		HealthCheckTick: conf.HealthCheckTick,
		StepOpenTimeout: conf.StepOpenTimeout,
		HealthRegistry:  conf.Registry,
		Log:             conf.Log,
		Clock:           conf.Clock,
	})

	d := &Daemon{
		conf:       conf,
		Supervisor: sup,
		consensus:  cc,
	}

	if err := sup.Start(ctx); err != nil {
		return nil, fmt.Errorf("while starting supervisor: %w", err)
	}

	if err := d.spawnMetricsServer(ctx); err != nil {
		return nil, err
	}

	return d, nil
}

func newPartitionStore(conf Config) (store.PartitionStore, error) {
	switch conf.StorageDriver {
	case StorageDriverBadger:
		return store.NewBadgerPartitionStore(store.BadgerConfig{StorageDir: conf.StorageDir, Log: conf.Log}), nil
	case StorageDriverBolt:
		return store.NewBoltPartitionStore(store.BoltConfig{StorageDir: conf.StorageDir, Log: conf.Log}), nil
	default:
		return nil, fmt.Errorf("invalid storage driver; '%s' is not one of (bolt, badger)", conf.StorageDriver)
	}
}

// Shutdown closes the supervisor, drains its consensus registrations, and
// stops the metrics server.
func (d *Daemon) Shutdown(ctx context.Context) error {
	if err := d.Supervisor.Close(ctx); err != nil {
		return err
	}
	for _, srv := range d.servers {
		d.conf.Log.Info("shutting down server", "address", srv.Addr)
		_ = srv.Shutdown(ctx)
	}
	d.servers = nil
	return nil
}

func (d *Daemon) spawnMetricsServer(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(d.conf.Registry, promhttp.HandlerOpts{}))

	srv := &http.Server{
		ErrorLog: slog.NewLogLogger(d.conf.Log.Handler(), slog.LevelError),
		Addr:     d.conf.ListenAddress,
		Handler:  mux,
	}

	var err error
	d.Listener, err = net.Listen("tcp", d.conf.ListenAddress)
	if err != nil {
		return fmt.Errorf("while starting metrics listener: %w", err)
	}
	srv.Addr = d.Listener.Addr().String()

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.conf.Log.Info("metrics listening", "address", d.Listener.Addr().String())
		if err := srv.Serve(d.Listener); err != nil {
			if !errors.Is(err, http.ErrServerClosed) {
				d.conf.Log.Error("while serving metrics", "error", err)
			}
		}
	}()

	if err := duh.WaitForConnect(ctx, d.Listener.Addr().String(), nil); err != nil {
		return err
	}

	d.servers = append(d.servers, srv)
	return nil
}
