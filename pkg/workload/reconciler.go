package workload

import (
	"context"
	"fmt"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/oats-center/avena/pkg/kv"
	"github.com/oats-center/avena/pkg/log"
	"github.com/oats-center/avena/pkg/messages"
	"github.com/oats-center/avena/pkg/metrics"
	"github.com/oats-center/avena/pkg/servicemgr"
)

const (
	listKeysTimeout  = 5 * time.Second
	perKeyTimeout    = 2 * time.Second
	jobMode          = "replace"
	safetyNetPeriod  = 30 * time.Second
)

// Reconciler converges the local service manager's avena-* units to the
// desired state recorded under device/<id>/ in the workload KV bucket. It
// runs on two triggers: a periodic safety net and a KV watch on its prefix.
type Reconciler struct {
	store          *kv.Store
	mgr            *servicemgr.Manager
	deviceID       string
	systemdDir     string
	natsCfgDir     string
	serverConfPath string
}

// NewReconciler builds a reconciler for deviceID, rendering unit files into
// systemdDir.
func NewReconciler(store *kv.Store, mgr *servicemgr.Manager, deviceID, systemdDir, natsCfgDir, serverConfPath string) *Reconciler {
	return &Reconciler{
		store:          store,
		mgr:            mgr,
		deviceID:       deviceID,
		systemdDir:     systemdDir,
		natsCfgDir:     natsCfgDir,
		serverConfPath: serverConfPath,
	}
}

func (r *Reconciler) prefix() string { return fmt.Sprintf("device/%s/", r.deviceID) }

// Reconcile performs one convergence pass: list desired workloads from the
// KV bucket, deploy/restart each, then stop any avena-* unit no longer
// desired (except required units). Errors while listing keys are logged and
// swallowed — the reconciler tries again on the next trigger rather than
// failing the caller.
func (r *Reconciler) Reconcile(ctx context.Context) error {
	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.WorkloadReconciliationDuration)
	metrics.WorkloadReconciliationCyclesTotal.Inc()

	logger := log.WithComponent("workload")

	listCtx, cancel := context.WithTimeout(ctx, listKeysTimeout)
	keys, err := r.listKeys(listCtx)
	cancel()
	if err != nil {
		logger.Warn().Err(err).Msg("unable to list KV keys")
		return nil
	}

	desired := make(map[string]messages.WorkloadSpec)
	prefix := r.prefix()
	for _, key := range keys {
		if len(key) < len(prefix) || key[:len(prefix)] != prefix {
			continue
		}
		val, err := r.getWithTimeout(ctx, key, perKeyTimeout)
		if err != nil {
			continue
		}
		state, err := messages.DecodeWorkloadDesiredState(val)
		if err != nil {
			continue
		}
		desired[state.Name] = state.Spec
	}

	for _, req := range RequiredDeployments(r.natsCfgDir, r.serverConfPath) {
		name := req.Name
		if _, ok := desired[name]; !ok {
			desired[name] = req.Spec
		}
	}

	logger.Info().Int("count", len(desired)).Msg("reconciling workloads")

	active := make(map[string]bool)
	for name, spec := range desired {
		wlog := log.WithWorkload(name)
		unitName := UnitName(name)
		dep := Deployment{Name: unitName, Spec: spec}
		if err := dep.Deploy(r.systemdDir); err != nil {
			wlog.Error().Err(err).Msg("deploy failed, aborting this reconciliation")
			metrics.WorkloadDeploysTotal.WithLabelValues("error").Inc()
			return nil
		}
		if err := r.mgr.Reload(ctx); err != nil {
			logger.Warn().Err(err).Msg("service manager reload failed")
		}
		if err := r.mgr.RestartUnit(ctx, unitName+".service", jobMode); err != nil {
			wlog.Error().Err(err).Msg("restart failed, aborting this reconciliation")
			metrics.WorkloadDeploysTotal.WithLabelValues("error").Inc()
			return nil
		}
		active[unitName+".service"] = true
		metrics.WorkloadDeploysTotal.WithLabelValues("ok").Inc()
		wlog.Info().Str("unit", unitName).Msg("deployed workload")
	}

	units, err := r.mgr.ListUnits(ctx)
	if err != nil {
		logger.Warn().Err(err).Msg("list units failed during sweep")
		return nil
	}
	for _, u := range units {
		if !servicemgr.IsAvenaUnit(u.Name) || active[u.Name] || IsRequiredUnit(u.Name) {
			continue
		}
		_ = r.mgr.StopUnit(ctx, u.Name, jobMode)
		logger.Info().Str("unit", u.Name).Msg("stopped undesired workload")
	}

	return nil
}

func (r *Reconciler) getWithTimeout(ctx context.Context, key string, timeout time.Duration) ([]byte, error) {
	done := make(chan struct {
		val []byte
		err error
	}, 1)
	go func() {
		val, err := r.store.Get(key)
		done <- struct {
			val []byte
			err error
		}{val, err}
	}()
	select {
	case res := <-done:
		return res.val, res.err
	case <-time.After(timeout):
		return nil, fmt.Errorf("workload: get %s timed out", key)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (r *Reconciler) listKeys(ctx context.Context) ([]string, error) {
	done := make(chan struct {
		keys []string
		err  error
	}, 1)
	go func() {
		keys, err := r.store.Keys()
		done <- struct {
			keys []string
			err  error
		}{keys, err}
	}()
	select {
	case res := <-done:
		return res.keys, res.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Run starts the periodic safety-net loop and the event-driven watch loop;
// it blocks until stopCh is closed.
func (r *Reconciler) Run(ctx context.Context, stopCh <-chan struct{}) {
	logger := log.WithComponent("workload")

	watcher, err := r.store.Watch(">")
	if err != nil {
		logger.Error().Err(err).Msg("unable to start workload watch; falling back to periodic-only reconciliation")
	}
	if watcher != nil {
		defer watcher.Stop()
	}

	ticker := time.NewTicker(safetyNetPeriod)
	defer ticker.Stop()

	if err := r.Reconcile(ctx); err != nil {
		logger.Error().Err(err).Msg("initial reconcile failed")
	}

	var updates chan jetstream.KeyValueEntry
	if watcher != nil {
		updates = make(chan jetstream.KeyValueEntry)
		go func() {
			for entry := range watcher.Updates() {
				updates <- entry
			}
			close(updates)
		}()
	}

	for {
		select {
		case <-stopCh:
			return
		case <-ticker.C:
			if err := r.Reconcile(ctx); err != nil {
				logger.Error().Err(err).Msg("periodic reconcile failed")
			}
		case entry, ok := <-updates:
			if !ok {
				updates = nil
				continue
			}
			if entry == nil {
				continue
			}
			prefix := r.prefix()
			if key := entry.Key(); len(key) < len(prefix) || key[:len(prefix)] != prefix {
				continue
			}
			logger.Info().Msg("workload KV change detected")
			if err := r.Reconcile(ctx); err != nil {
				logger.Error().Err(err).Msg("watch-triggered reconcile failed")
			}
		}
	}
}
