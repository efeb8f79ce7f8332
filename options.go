package reactor

import (
	"github.com/xmidt-org/retry"
	"go.uber.org/zap"
)

// selectorConfig holds the resolved result of applying a set of
// SelectorOptions. Unexported: callers only ever see the functional option
// constructors below, mirroring eventloop.options.go's
// loopOptions/LoopOption split between the resolved struct and the public
// option interface.
type selectorConfig struct {
	logger        *zap.Logger
	pollTimeoutMs int
	acceptBackoff retry.PolicyFactory
}

// SelectorOption configures an AcceptorSelector or WorkerSelector at
// construction.
type SelectorOption interface {
	apply(*selectorConfig)
}

type selectorOptionFunc func(*selectorConfig)

func (f selectorOptionFunc) apply(cfg *selectorConfig) { f(cfg) }

// WithLogger sets the *zap.Logger used for the selector's own diagnostic
// logging (distinct from EventHandler callbacks, which carry application
// errors). Defaults to a no-op logger.
func WithLogger(logger *zap.Logger) SelectorOption {
	return selectorOptionFunc(func(cfg *selectorConfig) { cfg.logger = logger })
}

// WithPollTimeout overrides the readiness primitive's per-iteration poll
// timeout in milliseconds. Defaults to defaultPollTimeoutMs.
func WithPollTimeout(ms int) SelectorOption {
	return selectorOptionFunc(func(cfg *selectorConfig) { cfg.pollTimeoutMs = ms })
}

// WithAcceptBackoff configures an AcceptorSelector to temporarily disarm
// ACCEPT interest on a listening channel that is repeatedly failing to
// accept (e.g. EMFILE), following the delay sequence pf produces. Has no
// effect on a WorkerSelector. Supplemental behavior beyond spec.md.
func WithAcceptBackoff(pf retry.PolicyFactory) SelectorOption {
	return selectorOptionFunc(func(cfg *selectorConfig) { cfg.acceptBackoff = pf })
}

func resolveSelectorOptions(opts []SelectorOption) selectorConfig {
	cfg := selectorConfig{pollTimeoutMs: defaultPollTimeoutMs}
	for _, o := range opts {
		o.apply(&cfg)
	}
	return cfg
}
