// Package pipeline orchestrates the flow from protocol drivers through the
// normalizer chain to the emitters.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sync"
	"sync/atomic"
	"time"

	"github.com/GabrielNunesIT/go-libs/logger"
	"golang.org/x/sync/errgroup"

	"github.com/GabrielNunesIT/protocol-hub/internal/config"
	"github.com/GabrielNunesIT/protocol-hub/internal/driver"
	"github.com/GabrielNunesIT/protocol-hub/internal/emitter"
	"github.com/GabrielNunesIT/protocol-hub/internal/enrich"
	"github.com/GabrielNunesIT/protocol-hub/internal/metrics"
	"github.com/GabrielNunesIT/protocol-hub/internal/model"
	"github.com/GabrielNunesIT/protocol-hub/internal/normalizer"
)

// ErrNoDriverStarted is returned by Run when every configured driver failed
// to bind.
var ErrNoDriverStarted = errors.New("no driver could be started")

const (
	defaultBufferSize     = 4096
	defaultHandoffTimeout = 100 * time.Millisecond
	defaultShutdown       = 30 * time.Second
	dropLogEvery          = 1000
)

// managedDriver wraps a driver with the configuration it was built from.
type managedDriver struct {
	driver  driver.Driver
	cfg     any
	static  bool
	running bool
}

// managedEmitter wraps an emitter with the configuration it was built from.
type managedEmitter struct {
	emitter emitter.Emitter
	cfg     any
	static  bool
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithEmitters adds emitters that are not driven by configuration. They are
// kept across Reconfigure.
func WithEmitters(emitters ...emitter.Emitter) Option {
	return func(p *Pipeline) {
		for _, e := range emitters {
			p.emitters[e.Name()] = &managedEmitter{emitter: e, static: true}
		}
	}
}

// WithDrivers adds drivers that are not driven by configuration. They are
// kept across Reconfigure.
func WithDrivers(drivers ...driver.Driver) Option {
	return func(p *Pipeline) {
		for _, d := range drivers {
			d.SetListener(p.listen)
			p.drivers[d.PluginID()] = &managedDriver{driver: d, static: true}
		}
	}
}

// Pipeline coordinates drivers, the normalizer registry and emitters.
type Pipeline struct {
	cfg    *config.Config
	logger logger.ILogger
	mu     sync.RWMutex

	drivers  map[string]*managedDriver
	emitters map[string]*managedEmitter

	enricher enrich.Enricher
	registry atomic.Pointer[normalizer.Registry]

	metrics       *metrics.Registry
	metricsServer *metrics.Server

	// fanoutChan receives normalized events for distribution to emitters.
	fanoutChan     chan model.NormalizedEvent
	dropOnFull     bool
	handoffTimeout time.Duration
	handoffDropped atomic.Uint64

	runCtx  context.Context
	emitCtx context.Context
	running bool
	stopped bool
	ready   chan struct{}
}

// New creates a pipeline from configuration. Rule files and MIB modules are
// loaded here, so their errors surface before any socket is bound.
func New(cfg *config.Config, log logger.ILogger, opts ...Option) (*Pipeline, error) {
	bufferSize := cfg.Pipeline.BufferSize
	if bufferSize <= 0 {
		bufferSize = defaultBufferSize
	}
	handoffTimeout := cfg.Pipeline.HandoffTimeout
	if handoffTimeout <= 0 {
		handoffTimeout = defaultHandoffTimeout
	}

	p := &Pipeline{
		cfg:            cfg,
		logger:         log.SubLogger("Pipeline"),
		drivers:        make(map[string]*managedDriver),
		emitters:       make(map[string]*managedEmitter),
		fanoutChan:     make(chan model.NormalizedEvent, bufferSize),
		dropOnFull:     cfg.Pipeline.DropOnFullBuffer,
		handoffTimeout: handoffTimeout,
		ready:          make(chan struct{}),
	}
	for _, opt := range opts {
		opt(p)
	}

	p.metrics = metrics.NewRegistry(p)
	if cfg.Metrics.Enabled {
		p.metricsServer = metrics.NewServer(cfg.Metrics.Address, cfg.Metrics.Path, p.metrics, p.logger)
	}

	enricher, err := buildEnricher(cfg.MIB, p.logger)
	if err != nil {
		return nil, fmt.Errorf("loading MIB modules: %w", err)
	}
	p.enricher = enricher

	registry, err := normalizer.Build(cfg.Normalizers, p.logger)
	if err != nil {
		return nil, fmt.Errorf("building normalizers: %w", err)
	}
	p.registry.Store(registry)

	if err := p.buildDrivers(); err != nil {
		return nil, fmt.Errorf("building drivers: %w", err)
	}

	if err := p.buildEmitters(); err != nil {
		return nil, fmt.Errorf("building emitters: %w", err)
	}

	return p, nil
}

// buildEnricher returns the MIB enricher, or nil when MIB enrichment is off.
func buildEnricher(cfg config.MIBConfig, log logger.ILogger) (enrich.Enricher, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	m, err := enrich.NewMIBEnricher(enrich.MIBOptions{
		Dir:             cfg.Dir,
		Modules:         cfg.Modules,
		TolerateMissing: cfg.TolerateMissing,
	}, log)
	if err != nil {
		return nil, err
	}
	return m, nil
}

// driverConfigs returns the configuration of every configured driver keyed
// by plugin id.
func driverConfigs(cfg *config.Config) (map[string]any, error) {
	out := make(map[string]any)
	add := func(id string, c any) error {
		if _, dup := out[id]; dup {
			return fmt.Errorf("duplicate plugin id %q", id)
		}
		out[id] = c
		return nil
	}
	for _, c := range cfg.Drivers.Line {
		if err := add(c.PluginID, c); err != nil {
			return nil, err
		}
	}
	for _, c := range cfg.Drivers.Traps {
		if err := add(c.PluginID, c); err != nil {
			return nil, err
		}
	}
	if cfg.Drivers.Journal.Enabled {
		if err := add(cfg.Drivers.Journal.PluginID, cfg.Drivers.Journal); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// buildDrivers creates every configured driver.
func (p *Pipeline) buildDrivers() error {
	cfgs, err := driverConfigs(p.cfg)
	if err != nil {
		return err
	}
	for id, c := range cfgs {
		d, err := p.newDriver(c)
		if err != nil {
			return fmt.Errorf("driver %s: %w", id, err)
		}
		p.drivers[id] = &managedDriver{driver: d, cfg: c}
	}

	if len(p.drivers) == 0 {
		return fmt.Errorf("no drivers configured")
	}

	p.logger.Debugf("built %d drivers", len(p.drivers))
	return nil
}

// newDriver creates one driver and points it at the pipeline listener.
func (p *Pipeline) newDriver(c any) (driver.Driver, error) {
	var (
		d   driver.Driver
		err error
	)
	switch c := c.(type) {
	case config.LineDriverConfig:
		d, err = driver.NewLineDriver(c, p.logger)
	case config.TrapDriverConfig:
		var opts []driver.TrapOption
		if p.enricher != nil {
			opts = append(opts, driver.WithEnricher(p.enricher))
		}
		d, err = driver.NewTrapDriver(c, p.logger, opts...)
	case config.JournalDriverConfig:
		d = driver.NewJournalDriver(c, p.logger)
	default:
		return nil, fmt.Errorf("unknown driver config %T", c)
	}
	if err != nil {
		return nil, err
	}
	d.SetListener(p.listen)
	return d, nil
}

// emitterConfigs returns the configuration of every enabled emitter keyed
// by name.
func emitterConfigs(cfg *config.Config) map[string]any {
	out := make(map[string]any)
	e := cfg.Emitters
	if e.Stdout.Enabled {
		out["stdout"] = e.Stdout
	}
	if e.File.Enabled {
		out["file"] = e.File
	}
	if e.Elasticsearch.Enabled {
		out["elasticsearch"] = e.Elasticsearch
	}
	if e.Loki.Enabled {
		out["loki"] = e.Loki
	}
	if e.VictoriaLogs.Enabled {
		out["victorialogs"] = e.VictoriaLogs
	}
	if e.NATS.Enabled {
		out["nats"] = e.NATS
	}
	return out
}

// buildEmitters creates enabled emitters.
func (p *Pipeline) buildEmitters() error {
	for name, c := range emitterConfigs(p.cfg) {
		em, err := p.newEmitter(c)
		if err != nil {
			return fmt.Errorf("emitter %s: %w", name, err)
		}
		p.emitters[name] = &managedEmitter{emitter: em, cfg: c}
	}

	if len(p.emitters) == 0 {
		return fmt.Errorf("no emitters enabled")
	}

	p.logger.Debugf("built %d emitters", len(p.emitters))
	return nil
}

func (p *Pipeline) newEmitter(c any) (emitter.Emitter, error) {
	switch c := c.(type) {
	case config.StdoutEmitterConfig:
		return emitter.NewStdoutEmitter(c, p.logger), nil
	case config.FileEmitterConfig:
		return emitter.NewFileEmitter(c), nil
	case config.ElasticsearchEmitterConfig:
		return emitter.NewElasticsearchEmitter(c, p.logger), nil
	case config.LokiEmitterConfig:
		return emitter.NewLokiEmitter(c, p.logger), nil
	case config.VictoriaLogsEmitterConfig:
		return emitter.NewVictoriaLogsEmitter(c, p.logger), nil
	case config.NATSEmitterConfig:
		return emitter.NewNATSEmitter(c, p.logger), nil
	}
	return nil, fmt.Errorf("unknown emitter config %T", c)
}

// Run starts emitters, then drivers, and blocks until ctx is cancelled. A
// driver that cannot bind is logged and skipped; Run fails only when no
// driver starts.
func (p *Pipeline) Run(ctx context.Context) error {
	p.mu.Lock()
	if p.running || p.stopped {
		p.mu.Unlock()
		return errors.New("pipeline already started")
	}
	p.runCtx = ctx
	// Emitters outlive ctx so the buffer can be drained on shutdown.
	p.emitCtx = context.WithoutCancel(ctx)
	p.running = true
	p.mu.Unlock()

	if p.metricsServer != nil {
		if err := p.metricsServer.Start(); err != nil {
			p.shutdown()
			return err
		}
	}

	// Start all emitters
	p.mu.RLock()
	for name, me := range p.emitters {
		if err := me.emitter.Start(p.emitCtx); err != nil {
			p.mu.RUnlock()
			p.shutdown()
			return fmt.Errorf("starting emitter %s: %w", name, err)
		}
		p.logger.Debugf("started emitter: %s", name)
	}
	p.mu.RUnlock()

	var g errgroup.Group

	// Start fanout goroutine
	g.Go(func() error {
		p.runFanout(p.emitCtx)
		return nil
	})

	if p.startDrivers(ctx) == 0 {
		p.shutdown()
		_ = g.Wait()
		return ErrNoDriverStarted
	}
	close(p.ready)

	<-ctx.Done()

	p.shutdown()
	return g.Wait()
}

// Ready is closed once Run has started at least one driver.
func (p *Pipeline) Ready() <-chan struct{} {
	return p.ready
}

// startDrivers starts every driver and returns how many are running.
func (p *Pipeline) startDrivers(ctx context.Context) int {
	p.mu.Lock()
	defer p.mu.Unlock()

	started := 0
	for id, md := range p.drivers {
		if err := p.startDriver(ctx, id, md); err != nil {
			continue
		}
		started++
	}
	return started
}

func (p *Pipeline) startDriver(ctx context.Context, id string, md *managedDriver) error {
	if err := md.driver.Start(ctx); err != nil {
		var bindErr *driver.BindError
		if errors.As(err, &bindErr) {
			p.logger.Errorf("driver %s not started: %v", id, bindErr)
		} else {
			p.logger.Errorf("driver %s failed to start: %v", id, err)
		}
		return err
	}
	md.running = true
	p.logger.Infof("driver started: %s", id)
	return nil
}

// shutdown stops drivers, drains the handoff buffer into the emitters and
// stops them.
func (p *Pipeline) shutdown() {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return
	}
	p.stopped = true
	for id, md := range p.drivers {
		if !md.running {
			continue
		}
		if err := md.driver.Stop(); err != nil {
			p.logger.Warningf("driver stop error: id=%s, error=%v", id, err)
		}
		md.running = false
	}
	p.mu.Unlock()
	p.logger.Debug("all drivers stopped")

	// No driver goroutine can hand off any more.
	close(p.fanoutChan)

	timeout := p.cfg.Pipeline.ShutdownTimeout
	if timeout <= 0 {
		timeout = defaultShutdown
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if p.metricsServer != nil {
		if err := p.metricsServer.Stop(shutdownCtx); err != nil {
			p.logger.Warningf("metrics server stop error: %v", err)
		}
	}
}

// listen is the callback every driver delivers to. It runs the normalizer
// chain and hands the result to the fan-out.
func (p *Pipeline) listen(ev model.NormalizedEvent) {
	p.handoff(p.registry.Load().Apply(ev))
}

// handoff offers an event to the fan-out buffer, waiting at most
// handoffTimeout unless the pipeline drops on a full buffer.
func (p *Pipeline) handoff(ev model.NormalizedEvent) {
	select {
	case p.fanoutChan <- ev:
		return
	default:
	}

	if !p.dropOnFull {
		timer := time.NewTimer(p.handoffTimeout)
		defer timer.Stop()
		select {
		case p.fanoutChan <- ev:
			return
		case <-timer.C:
		}
	}

	p.metrics.HandoffDropped.Inc()
	if n := p.handoffDropped.Add(1); n == 1 || n%dropLogEvery == 0 {
		p.logger.Warningf("emitter buffer full, dropped %d events so far (last from %s)", n, ev.PluginID)
	}
}

// runFanout distributes events to all emitters until the buffer is closed
// and drained, then stops the emitters.
func (p *Pipeline) runFanout(ctx context.Context) {
	for ev := range p.fanoutChan {
		p.emitToAll(ctx, ev)
	}

	p.mu.RLock()
	defer p.mu.RUnlock()

	timeout := p.cfg.Pipeline.ShutdownTimeout
	if timeout <= 0 {
		timeout = defaultShutdown
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	for name, me := range p.emitters {
		if err := me.emitter.Stop(shutdownCtx); err != nil {
			p.logger.Warningf("emitter stop error: name=%s, error=%v", name, err)
		}
	}
	p.logger.Debug("all emitters stopped")
}

// emitToAll sends an event to all enabled emitters.
func (p *Pipeline) emitToAll(ctx context.Context, ev model.NormalizedEvent) {
	p.mu.RLock()
	emitters := make([]emitter.Emitter, 0, len(p.emitters))
	for _, me := range p.emitters {
		emitters = append(emitters, me.emitter)
	}
	p.mu.RUnlock()

	var wg sync.WaitGroup
	for _, e := range emitters {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := e.Emit(ctx, ev); err != nil {
				p.metrics.EmitterError(e.Name())
				p.logger.Debugf("emit error: emitter=%s, error=%v", e.Name(), err)
			}
		}()
	}
	wg.Wait()
}

// Reconfigure applies a new configuration. Drivers are diffed by plugin id
// and emitters by name: removed or changed ones are stopped, new or changed
// ones are started. The normalizer registry is swapped atomically. Buffer
// and handoff settings only take effect on restart.
func (p *Pipeline) Reconfigure(newCfg *config.Config) error {
	registry, err := normalizer.Build(newCfg.Normalizers, p.logger)
	if err != nil {
		return fmt.Errorf("building normalizers: %w", err)
	}
	driverCfgs, err := driverConfigs(newCfg)
	if err != nil {
		return fmt.Errorf("reconfiguring drivers: %w", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.stopped {
		return errors.New("pipeline stopped")
	}

	oldCfg := p.cfg
	mibChanged := !reflect.DeepEqual(oldCfg.MIB, newCfg.MIB)
	if mibChanged {
		enricher, err := buildEnricher(newCfg.MIB, p.logger)
		if err != nil {
			return fmt.Errorf("loading MIB modules: %w", err)
		}
		p.enricher = enricher
	}
	if oldCfg.Pipeline != newCfg.Pipeline {
		p.logger.Warning("pipeline buffer settings changed; restart to apply")
	}

	p.cfg = newCfg
	p.registry.Store(registry)

	if err := p.reconfigureDrivers(driverCfgs, mibChanged); err != nil {
		return fmt.Errorf("reconfiguring drivers: %w", err)
	}

	if err := p.reconfigureEmitters(emitterConfigs(newCfg)); err != nil {
		return fmt.Errorf("reconfiguring emitters: %w", err)
	}

	p.logger.Infof("configuration applied: drivers=%d, emitters=%d, normalizers=%d",
		len(p.drivers), len(p.emitters), registry.Len())

	return nil
}

// reconfigureDrivers handles adding, replacing and removing drivers.
func (p *Pipeline) reconfigureDrivers(cfgs map[string]any, mibChanged bool) error {
	for id, md := range p.drivers {
		if md.static {
			continue
		}
		c, ok := cfgs[id]
		_, isTrap := c.(config.TrapDriverConfig)
		if ok && reflect.DeepEqual(md.cfg, c) && md.running == p.running && !(isTrap && mibChanged) {
			continue
		}
		p.removeDriver(id)
	}

	var errs []error
	for id, c := range cfgs {
		if _, exists := p.drivers[id]; exists {
			continue
		}
		if err := p.addDriver(id, c); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// addDriver builds a driver and starts it when the pipeline is running. A
// driver that fails to bind is not kept, so the next reload retries it.
func (p *Pipeline) addDriver(id string, c any) error {
	d, err := p.newDriver(c)
	if err != nil {
		return fmt.Errorf("driver %s: %w", id, err)
	}
	md := &managedDriver{driver: d, cfg: c}
	if p.running {
		if err := p.startDriver(p.runCtx, id, md); err != nil {
			return err
		}
	}
	p.drivers[id] = md
	p.logger.Infof("driver added: %s", id)
	return nil
}

// removeDriver stops and removes a driver.
func (p *Pipeline) removeDriver(id string) {
	md, ok := p.drivers[id]
	if !ok {
		return
	}
	if md.running {
		if err := md.driver.Stop(); err != nil {
			p.logger.Warningf("driver stop error: id=%s, error=%v", id, err)
		}
	}
	delete(p.drivers, id)
	p.logger.Infof("driver removed: %s", id)
}

// reconfigureEmitters handles adding, replacing and removing emitters.
func (p *Pipeline) reconfigureEmitters(cfgs map[string]any) error {
	for name, me := range p.emitters {
		if me.static {
			continue
		}
		if c, ok := cfgs[name]; ok && reflect.DeepEqual(me.cfg, c) {
			continue
		}
		p.removeEmitter(name)
	}

	var errs []error
	for name, c := range cfgs {
		if _, exists := p.emitters[name]; exists {
			continue
		}
		if err := p.addEmitter(name, c); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// addEmitter adds a new emitter at runtime.
func (p *Pipeline) addEmitter(name string, c any) error {
	em, err := p.newEmitter(c)
	if err != nil {
		return fmt.Errorf("emitter %s: %w", name, err)
	}

	if p.running {
		if err := em.Start(p.emitCtx); err != nil {
			return fmt.Errorf("starting emitter %s: %w", name, err)
		}
	}

	p.emitters[name] = &managedEmitter{emitter: em, cfg: c}
	p.logger.Infof("emitter added: %s", name)
	return nil
}

// removeEmitter stops and removes an emitter.
func (p *Pipeline) removeEmitter(name string) {
	me, ok := p.emitters[name]
	if !ok {
		return
	}

	if p.running {
		timeout := p.cfg.Pipeline.ShutdownTimeout
		if timeout <= 0 {
			timeout = defaultShutdown
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()

		if err := me.emitter.Stop(shutdownCtx); err != nil {
			p.logger.Warningf("emitter stop error: name=%s, error=%v", name, err)
		}
	}

	delete(p.emitters, name)
	p.logger.Infof("emitter removed: %s", name)
}

// DriverStats returns the counters of every running driver keyed by plugin
// id.
func (p *Pipeline) DriverStats() map[string]driver.Stats {
	p.mu.RLock()
	defer p.mu.RUnlock()

	out := make(map[string]driver.Stats, len(p.drivers))
	for id, md := range p.drivers {
		if md.running {
			out[id] = md.driver.Stats()
		}
	}
	return out
}

// Driver returns the driver with the given plugin id.
func (p *Pipeline) Driver(id string) (driver.Driver, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	md, ok := p.drivers[id]
	if !ok {
		return nil, false
	}
	return md.driver, true
}

// Metrics returns the pipeline's metrics registry.
func (p *Pipeline) Metrics() *metrics.Registry {
	return p.metrics
}

// Normalizers returns the names of the active normalizer chain.
func (p *Pipeline) Normalizers() []string {
	return p.registry.Load().Names()
}

// DriverCount returns the number of configured drivers.
func (p *Pipeline) DriverCount() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.drivers)
}

// EmitterCount returns the number of enabled emitters.
func (p *Pipeline) EmitterCount() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.emitters)
}
