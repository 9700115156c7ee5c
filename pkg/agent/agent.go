/*
Package agent composes every other package into the running device agent:
it loads identity, connects to the local broker, ensures the KV buckets
exist, and spawns every handler loop, discovery loop, and reconciler.
*/
package agent

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nkeys"

	"github.com/oats-center/avena/pkg/broker"
	"github.com/oats-center/avena/pkg/discovery"
	"github.com/oats-center/avena/pkg/handlers"
	"github.com/oats-center/avena/pkg/hlc"
	"github.com/oats-center/avena/pkg/identity"
	"github.com/oats-center/avena/pkg/jwtauth"
	"github.com/oats-center/avena/pkg/kv"
	"github.com/oats-center/avena/pkg/log"
	"github.com/oats-center/avena/pkg/mesh"
	"github.com/oats-center/avena/pkg/messages"
	"github.com/oats-center/avena/pkg/servicemgr"
	"github.com/oats-center/avena/pkg/workload"
)

const (
	devicesBucket    = "avena_devices"
	linksBucket      = "avena_links"
	workloadsBucket  = "avena_workloads"
	announceInterval = 30 * time.Second
	kvHistory        = 5
)

// Config is every filesystem path and connection parameter the agent
// composition layer needs to bring the device up.
type Config struct {
	NatsURL        string
	NatsCfgDir     string // <config_dir>/nats
	ConfigDir      string // <config_dir>, containing containers/systemd
	SystemdDir     string // <config_dir>/containers/systemd
	DataDir        string // <data_dir>, containing links/
	AvenaAdminCreds string // <config_dir>/nats/avena-admin.creds
	SysAdminCreds   string // <config_dir>/nats/sys-admin.creds
}

// Agent holds every live connection and subscription the composition layer
// created, so Stop can tear them all down cleanly.
type Agent struct {
	cfg      Config
	identity *identity.Identity
	clock    *hlc.Clock
	nc       *nats.Conn
	mgr      *servicemgr.Manager

	devicesKV   *kv.Store
	linksKV     *kv.Store
	workloadsKV *kv.Store

	subs   []*nats.Subscription
	stopCh chan struct{}
	wg     sync.WaitGroup

	workloadReconciler *workload.Reconciler
	meshReconciler     *mesh.Reconciler
}

// Start performs the full C10 composition sequence: load identity, connect
// to the local broker with the workload admin credentials, ensure the KV
// buckets exist, then spawn every handler loop and the announce/observe/
// reconcile loops. A failure to load the identity, connect, open a bucket or
// reach the service manager aborts startup with a non-nil error; a handler
// subscription that fails to start is logged and skipped, and a failed
// initial mesh reconciliation is logged as a warning.
func Start(ctx context.Context, cfg Config, avenaAccountKP nkeys.KeyPair, jwtMgr *jwtauth.Manager) (*Agent, error) {
	id, err := identity.LoadOrGenerate()
	if err != nil {
		return nil, fmt.Errorf("agent: load identity: %w", err)
	}
	log.SetSelfDeviceID(id.ID)
	logger := log.WithComponent("agent")

	hlcPath := filepath.Join(cfg.DataDir, "hlc.json")
	clock := hlc.LoadOrNew(id.ID, hlcPath)

	nc, err := broker.Connect(broker.Options{
		URL:          cfg.NatsURL,
		Name:         id.ID,
		CredsPath:    cfg.AvenaAdminCreds,
		ReconnectMax: -1,
	})
	if err != nil {
		return nil, fmt.Errorf("agent: connect to broker: %w", err)
	}

	devicesKV, err := kv.Open(nc, devicesBucket, kvHistory)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("agent: open %s bucket: %w", devicesBucket, err)
	}
	linksKV, err := kv.Open(nc, linksBucket, kvHistory)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("agent: open %s bucket: %w", linksBucket, err)
	}
	workloadsKV, err := kv.Open(nc, workloadsBucket, kvHistory)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("agent: open %s bucket: %w", workloadsBucket, err)
	}

	mgr, err := servicemgr.Connect(ctx)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("agent: connect to service manager: %w", err)
	}

	a := &Agent{
		cfg:         cfg,
		identity:    id,
		clock:       clock,
		nc:          nc,
		mgr:         mgr,
		devicesKV:   devicesKV,
		linksKV:     linksKV,
		workloadsKV: workloadsKV,
		stopCh:      make(chan struct{}),
	}

	a.meshReconciler = &mesh.Reconciler{
		Store:         linksKV,
		NatsCfgDir:    cfg.NatsCfgDir,
		ConfigDir:     cfg.ConfigDir,
		NatsURL:       cfg.NatsURL,
		SysAdminCreds: cfg.SysAdminCreds,
	}

	a.workloadReconciler = workload.NewReconciler(
		workloadsKV, mgr, id.ID, cfg.SystemdDir, cfg.NatsCfgDir,
		filepath.Join(cfg.ConfigDir, "containers", "systemd", "server.conf"),
	)

	hServer := &handlers.Server{
		NC:       nc,
		Clock:    clock,
		DeviceID: id.ID,
		NatsName: nc.Opts.Name,
		Started:  time.Now(),
		Manager:  mgr,
	}

	subscribe := func(sub *nats.Subscription, err error, what string) {
		if err != nil {
			logger.Error().Err(err).Str("what", what).Msg("failed to start subscription")
			return
		}
		a.subs = append(a.subs, sub)
	}

	sub, err := hServer.ServePing(messages.BroadcastPingSubject)
	subscribe(sub, err, "ping broadcast")
	sub, err = hServer.ServePing(messages.PingSubject(id.ID))
	subscribe(sub, err, "ping")
	sub, err = hServer.ServeStatus(messages.StatusSubject(id.ID))
	subscribe(sub, err, "status")
	sub, err = hServer.ServeWorkloadsList(messages.WorkloadsListSubject(id.ID))
	subscribe(sub, err, "workloads list")
	sub, err = hServer.ServeWorkloadCommand(messages.WorkloadCommandSubject(id.ID))
	subscribe(sub, err, "workload command")

	linksDir := filepath.Join(cfg.DataDir, "links")
	initiator := &mesh.Initiator{
		Identity:  id,
		LinksDir:  linksDir,
		Store:     linksKV,
		Reconcile: a.meshReconciler.Reconcile,
	}
	acceptor := &mesh.Acceptor{
		NC:             nc,
		Clock:          clock,
		Identity:       id,
		Store:          linksKV,
		JWTManager:     jwtMgr,
		AvenaAccountKP: avenaAccountKP,
		CredsDir:       linksDir,
		LeafURL:        cfg.NatsURL,
	}
	sub, err = acceptor.Start()
	subscribe(sub, err, "link acceptor")

	registerHandler := &mesh.RegisterHandler{NC: nc, Clock: clock, Initiator: initiator}
	sub, err = registerHandler.Start(ctx)
	subscribe(sub, err, "link register")

	unregisterHandler := &mesh.UnregisterHandler{NC: nc, Clock: clock, Store: linksKV, Reconcile: a.meshReconciler.Reconcile}
	sub, err = unregisterHandler.Start(ctx)
	subscribe(sub, err, "link unregister")

	pubKey := id.PubKey
	publisher := &discovery.Publisher{
		NC:       nc,
		Store:    devicesKV,
		DeviceID: id.ID,
		PubKey:   pubKey,
		Version:  handlers.AvenaVersion,
		NatsName: nc.Opts.Name,
		Started:  time.Now(),
		Interval: announceInterval,
	}
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		publisher.Run(a.stopCh)
	}()

	observer := &discovery.Observer{NC: nc, Store: devicesKV}
	sub, err = observer.Start()
	subscribe(sub, err, "announce observer")

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		a.workloadReconciler.Run(ctx, a.stopCh)
	}()

	if err := a.meshReconciler.Reconcile(ctx); err != nil {
		logger.Warn().Err(err).Msg("initial mesh reconciliation failed")
	}

	logger.Info().Str("device", id.ID).Msg("agent started")
	return a, nil
}

// Stop cancels every loop, unsubscribes every handler, flushes, and closes
// the broker connection.
func (a *Agent) Stop() {
	close(a.stopCh)
	for _, sub := range a.subs {
		_ = sub.Unsubscribe()
	}
	a.wg.Wait()
	if err := a.clock.Save(filepath.Join(a.cfg.DataDir, "hlc.json")); err != nil {
		log.WithComponent("agent").Warn().Err(err).Msg("failed to persist hlc state")
	}
	_ = a.nc.Flush()
	a.nc.Close()
	a.mgr.Close()
}
