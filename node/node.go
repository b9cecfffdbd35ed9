// node.go assembles a running prover from a Config: checkpoint cache,
// proving backend, composer, driver loop and relay, wired together under a
// lifecycle manager.
package node

import (
	"io"
	"os"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/lightfold/lightfold/checkpoint"
	"github.com/lightfold/lightfold/driver"
	"github.com/lightfold/lightfold/light"
	"github.com/lightfold/lightfold/log"
	"github.com/lightfold/lightfold/metrics"
	"github.com/lightfold/lightfold/proofs"
	"github.com/lightfold/lightfold/relay"
)

// Node is an assembled prover. Start brings its services up, Stop tears
// them down in reverse order; Source is where consensus updates come in.
type Node struct {
	cfg    Config
	log    zerolog.Logger
	lm     *LifecycleManager
	driver *driver.Driver
	source *driver.ChannelSource
	cache  *checkpoint.Cache
	reg    *prometheus.Registry

	relayFile *os.File
}

// New builds a node from a validated config.
func New(cfg Config) (*Node, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	logger := log.New(cfg.Log.LogConfig())
	params := cfg.Chain.Params()

	genesis, err := checkpoint.LoadGenesis(cfg.GenesisFile)
	if err != nil {
		return nil, err
	}

	backend, err := newBackend(cfg.Backend, params)
	if err != nil {
		return nil, err
	}

	reg := prometheus.NewRegistry()
	cache := checkpoint.NewCache()
	source := driver.NewChannelSource(cfg.SourceBuffer)
	composer := proofs.NewComposer(params, backend, nil)

	drv, err := driver.New(driver.Config{
		Params:   params,
		Genesis:  genesis,
		Source:   source,
		Composer: composer,
		Cache:    cache,
		Retry:    cfg.Retry.Retry(),
		Logger:   log.Module(logger, "driver"),
		Metrics:  metrics.New(reg),
	})
	if err != nil {
		return nil, err
	}

	n := &Node{
		cfg:    cfg,
		log:    logger,
		lm:     NewLifecycleManager(DefaultLifecycleConfig()),
		driver: drv,
		source: source,
		cache:  cache,
		reg:    reg,
	}

	sink, err := n.openSink()
	if err != nil {
		return nil, err
	}
	rel := relay.New(drv, sink, log.Module(logger, "relay"))

	if cfg.MetricsAddr != "" {
		ms := newMetricsServer(cfg.MetricsAddr, reg, log.Module(logger, "metrics"))
		if err := n.lm.Register(ms, 10); err != nil {
			return nil, err
		}
	}
	if err := n.lm.Register(rel, 20); err != nil {
		return nil, err
	}
	if err := n.lm.Register(drv, 30); err != nil {
		return nil, err
	}
	return n, nil
}

// Start brings every service up. On a partial start the already-running
// services are stopped before returning the error.
func (n *Node) Start() error {
	n.log.Info().
		Str("backend", n.cfg.Backend).
		Str("genesis", n.cfg.GenesisFile).
		Msg("starting node")
	if err := n.lm.StartAll(); err != nil {
		n.lm.StopAll()
		return err
	}
	return nil
}

// Stop closes the update source and shuts the services down in reverse
// start order.
func (n *Node) Stop() error {
	n.source.Close()
	errs := n.lm.StopAll()
	if n.relayFile != nil {
		if err := n.relayFile.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return errors.Errorf("node: shutdown with %d errors, first: %v", len(errs), errs[0])
	}
	return nil
}

// Source returns the intake channel for consensus updates.
func (n *Node) Source() *driver.ChannelSource { return n.source }

// Cache returns the checkpoint cache for inspection.
func (n *Node) Cache() *checkpoint.Cache { return n.cache }

// Driver returns the prover loop for state inspection.
func (n *Node) Driver() *driver.Driver { return n.driver }

// HealthCheck reports the lifecycle state of every service.
func (n *Node) HealthCheck() map[string]ServiceState { return n.lm.HealthCheck() }

// --- Internal helpers ---

// newBackend constructs the proving backend named in the config. The
// groth16 and recursive backends compile and set up their circuits here,
// which takes real time at large committee sizes.
func newBackend(name string, params light.ChainParams) (proofs.Backend, error) {
	switch name {
	case BackendMock:
		return proofs.NewMockBackend(params), nil
	case BackendGroth16:
		return proofs.NewGroth16Backend(params)
	case BackendRecursive:
		return proofs.NewRecursiveBackend(params)
	default:
		return nil, errors.Wrap(ErrUnknownBackend, name)
	}
}

func (n *Node) openSink() (relay.Sink, error) {
	var w io.Writer = os.Stdout
	if n.cfg.RelayFile != "" {
		f, err := os.OpenFile(n.cfg.RelayFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, errors.Wrap(err, "node: open relay file")
		}
		n.relayFile = f
		w = f
	}
	return relay.NewWriterSink(w), nil
}
