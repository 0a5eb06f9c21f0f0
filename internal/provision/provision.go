// Package provision ensures a page agent is present and responsive in a
// target tab before any adapter call is attempted.
package provision

import (
	"context"
	"errors"
	"strconv"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/promptdock/promptdock/internal/agent"
	"github.com/promptdock/promptdock/internal/logging"
	"github.com/promptdock/promptdock/internal/model"
	"github.com/promptdock/promptdock/internal/tabs"
)

// ErrAlreadyInjected is the distinguishable duplicate-injection error. It is
// success from the provisioner's point of view.
var ErrAlreadyInjected = errors.New("page agent already injected")

// Injector is the code-injection collaborator.
type Injector interface {
	Inject(ctx context.Context, tabID int) error
}

type Config struct {
	ProbeTimeout  time.Duration
	SettleDelay   time.Duration
	InjectTimeout time.Duration
}

func ConfigFrom(cfg model.ProvisionConfig) Config {
	return Config{
		ProbeTimeout:  time.Duration(cfg.ProbeTimeoutMs) * time.Millisecond,
		SettleDelay:   time.Duration(cfg.SettleDelayMs) * time.Millisecond,
		InjectTimeout: time.Duration(cfg.InjectTimeoutMs) * time.Millisecond,
	}
}

// Provisioner provisions page agents. Concurrent calls for the same tab are
// collapsed; every individual step is idempotent regardless, so losing the
// race is also safe.
type Provisioner struct {
	transport agent.Transport
	injector  Injector
	cfg       Config
	logger    *logging.Logger
	group     singleflight.Group
}

func New(transport agent.Transport, injector Injector, cfg Config, logger *logging.Logger) *Provisioner {
	return &Provisioner{
		transport: transport,
		injector:  injector,
		cfg:       cfg,
		logger:    logger,
	}
}

// EnsureAgent reports whether a responsive agent exists in the tab,
// injecting one if needed. Unsupported sites fail fast. The probe treats a
// transport error as "collaborator absent", not a failure of the operation.
func (p *Provisioner) EnsureAgent(ctx context.Context, tab tabs.Tab) bool {
	if _, ok := model.MatchURL(tab.URL); !ok {
		return false
	}

	key := tabKey(tab.ID)
	v, _, _ := p.group.Do(key, func() (any, error) {
		return p.ensure(ctx, tab), nil
	})
	ok, _ := v.(bool)
	return ok
}

func (p *Provisioner) ensure(ctx context.Context, tab tabs.Tab) bool {
	if p.probe(ctx, tab.ID) {
		p.logger.Debugf("agent already provisioned tab=%d", tab.ID)
		return true
	}

	injectCtx, cancel := context.WithTimeout(ctx, p.cfg.InjectTimeout)
	err := p.injector.Inject(injectCtx, tab.ID)
	cancel()
	if err != nil && !errors.Is(err, ErrAlreadyInjected) {
		p.logger.Warnf("inject failed tab=%d error=%v", tab.ID, err)
		return false
	}

	// DOM/script initialization is not synchronously observable; give the
	// agent a fixed settle interval before the verification probe.
	select {
	case <-ctx.Done():
		return false
	case <-time.After(p.cfg.SettleDelay):
	}

	alive := p.probe(ctx, tab.ID)
	if alive {
		p.logger.Infof("agent provisioned tab=%d", tab.ID)
	} else {
		p.logger.Warnf("agent unresponsive after injection tab=%d", tab.ID)
	}
	return alive
}

func (p *Provisioner) probe(ctx context.Context, tabID int) bool {
	probeCtx, cancel := context.WithTimeout(ctx, p.cfg.ProbeTimeout)
	defer cancel()

	resp, err := p.transport.Send(probeCtx, tabID, agent.Message{Type: agent.MsgPing})
	if err != nil {
		return false
	}
	return resp != nil && resp.Success
}

func tabKey(id int) string {
	return "tab:" + strconv.Itoa(id)
}
