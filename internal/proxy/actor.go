// Package proxy implements the proxy-side policy actor: it owns the
// current HTTP and TCP policies, evaluates them at the hook points, and
// speaks the framed control protocol with its host agent.
package proxy

import (
	"context"
	"fmt"
	"net/netip"
	"sync"
	"time"

	"armour.dev/armour/internal/codec"
	"armour.dev/armour/internal/expressions"
	"armour.dev/armour/internal/externals"
	"armour.dev/armour/internal/interpret"
	"armour.dev/armour/internal/labels"
	"armour.dev/armour/internal/literals"
	"armour.dev/armour/internal/logging"
	"armour.dev/armour/internal/meta"
	"armour.dev/armour/internal/metrics"
	"armour.dev/armour/internal/policy"
)

// Config carries the launcher knobs for one proxy instance.
type Config struct {
	Label       labels.Label
	Timeout     time.Duration
	Debug       bool
	Port        uint16
	IngressAddr string // fixed upstream for ingress proxies
}

// PolicyActor owns a proxy's policy state. Its mutex linearizes policy
// installation against evaluation: an evaluation sees either the old
// program or the new one, never a mix.
type PolicyActor struct {
	mu sync.RWMutex

	label   labels.Label
	sealer  *meta.Sealer
	httpPol *policy.Policy
	tcpPol  *policy.Policy

	httpDebug bool
	tcpDebug  bool
	ingress   string

	connNumber     int64
	defaultTimeout time.Duration
	labelMap       map[string]*labels.Set // IP address or host name → labels

	externals *externals.Client
	resolver  interpret.Resolver
	logger    *logging.Logger

	httpProxy *httpProxy
	tcpProxy  *tcpProxy
}

// NewPolicyActor builds an actor starting from deny-all policies with a
// fresh metadata key.
func NewPolicyActor(cfg Config) (*PolicyActor, error) {
	sealer, err := meta.NewSealer(meta.NewRandomKey())
	if err != nil {
		return nil, err
	}
	a := &PolicyActor{
		label:          cfg.Label,
		sealer:         sealer,
		httpPol:        policy.DenyAll(policy.HTTP),
		tcpPol:         policy.DenyAll(policy.TCP),
		httpDebug:      cfg.Debug,
		tcpDebug:       cfg.Debug,
		ingress:        cfg.IngressAddr,
		defaultTimeout: cfg.Timeout,
		labelMap:       map[string]*labels.Set{},
		externals:      externals.NewClient(),
		resolver:       interpret.NewDNSResolver(""),
		logger:         logging.WithComponent("proxy"),
	}
	return a, nil
}

// Label returns the proxy's identity label.
func (a *PolicyActor) Label() labels.Label { return a.label }

// SetPolicy validates and atomically installs a distributed policy,
// returning the hash of each updated protocol. On failure the running
// policies are unchanged.
func (a *PolicyActor) SetPolicy(w policy.Wire) (map[policy.Protocol]string, error) {
	updated := map[policy.Protocol]string{}
	var newHTTP, newTCP *policy.Policy
	if w.Protocol.Covers(policy.HTTP) {
		p, err := w.Resolve(policy.HTTP)
		if err != nil {
			metrics.Get().PolicyFailures.Inc()
			return nil, err
		}
		newHTTP = p
	}
	if w.Protocol.Covers(policy.TCP) {
		p, err := w.Resolve(policy.TCP)
		if err != nil {
			metrics.Get().PolicyFailures.Inc()
			return nil, err
		}
		newTCP = p
	}

	a.mu.Lock()
	if newHTTP != nil {
		if a.defaultTimeout > 0 && newHTTP.Program != nil {
			newHTTP.Program.SetTimeout(a.defaultTimeout)
		}
		a.httpPol = newHTTP
		updated[policy.HTTP] = newHTTP.Hash()
	}
	if newTCP != nil {
		if a.defaultTimeout > 0 && newTCP.Program != nil {
			newTCP.Program.SetTimeout(a.defaultTimeout)
		}
		a.tcpPol = newTCP
		updated[policy.TCP] = newTCP.Hash()
	}
	a.mu.Unlock()

	for proto, hash := range updated {
		metrics.Get().PolicyUpdates.WithLabelValues(string(proto)).Inc()
		a.logger.Info("installed policy", "protocol", proto, "hash", hash)
	}
	return updated, nil
}

// SetDebug updates a protocol's debug flag.
func (a *PolicyActor) SetDebug(proto policy.Protocol, on bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if proto.Covers(policy.HTTP) {
		a.httpDebug = on
	}
	if proto.Covers(policy.TCP) {
		a.tcpDebug = on
	}
}

// SetTimeout adjusts the external-call timeout of the installed programs by
// installing adjusted copies; running evaluations keep the programs they
// started with.
func (a *PolicyActor) SetTimeout(d time.Duration) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, pol := range []**policy.Policy{&a.httpPol, &a.tcpPol} {
		if (*pol).Program != nil {
			prog := *(*pol).Program
			prog.SetTimeout(d)
			adjusted := **pol
			adjusted.Program = &prog
			*pol = &adjusted
		}
	}
}

// ApplyLabelOp binds or unbinds a label on a target (IP or host name).
func (a *PolicyActor) ApplyLabelOp(op codec.LabelOp) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	switch op.Op {
	case codec.LabelAdd:
		if op.Label == nil {
			return fmt.Errorf("label add without a label")
		}
		set, ok := a.labelMap[op.Target]
		if !ok {
			set = labels.NewSet()
			a.labelMap[op.Target] = set
		}
		set.Insert(*op.Label)
		return nil
	case codec.LabelRemove:
		if op.Label == nil {
			delete(a.labelMap, op.Target)
			return nil
		}
		if set, ok := a.labelMap[op.Target]; ok {
			set.RemoveMatch(*op.Label)
			if set.Len() == 0 {
				delete(a.labelMap, op.Target)
			}
		}
		return nil
	default:
		return fmt.Errorf("unknown label op %q", op.Op)
	}
}

// Status reports the proxy's current state.
func (a *PolicyActor) Status() codec.Status {
	a.mu.RLock()
	defer a.mu.RUnlock()
	st := codec.Status{
		Label:  a.label,
		Labels: map[string][]labels.Label{},
		HTTP: codec.ProtoStatus{
			Hash:        a.httpPol.Hash(),
			Description: a.httpPol.Description(),
			Debug:       a.httpDebug,
		},
		TCP: codec.ProtoStatus{
			Hash:        a.tcpPol.Hash(),
			Description: a.tcpPol.Description(),
			Debug:       a.tcpDebug,
		},
	}
	for target, set := range a.labelMap {
		st.Labels[target] = set.All()
	}
	if a.httpProxy != nil {
		p := a.httpProxy.port
		st.HTTP.Port = &p
	}
	if a.tcpProxy != nil {
		p := a.tcpProxy.port
		st.TCP.Port = &p
	}
	return st
}

// httpPolicy returns the current HTTP policy.
func (a *PolicyActor) httpPolicy() *policy.Policy {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.httpPol
}

// tcpPolicy returns the current TCP policy.
func (a *PolicyActor) tcpPolicy() *policy.Policy {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.tcpPol
}

// labelsFor returns the labels bound to a target.
func (a *PolicyActor) labelsFor(target string) *labels.Set {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if set, ok := a.labelMap[target]; ok {
		return labels.NewSet(set.All()...)
	}
	return labels.NewSet()
}

// idFor builds an endpoint ID from a socket address, attaching any labels
// bound to the address or host name.
func (a *PolicyActor) idFor(addr netip.AddrPort, host string) literals.ID {
	set := labels.NewSet()
	if addr.IsValid() {
		for _, l := range a.labelsFor(addr.Addr().Unmap().String()).All() {
			set.Insert(l)
		}
	}
	id := literals.NewID(addr, set)
	if host != "" {
		for _, l := range a.labelsFor(host).All() {
			set.Insert(l)
		}
		id = id.AddHost(host)
	}
	return id
}

// connection builds the next Connection value; numbers are strictly
// increasing per proxy.
func (a *PolicyActor) connection(from, to literals.ID) literals.Connection {
	a.mu.Lock()
	a.connNumber++
	n := a.connNumber
	a.mu.Unlock()
	return literals.Connection{From: from, To: to, Number: n}
}

// evalEntry runs one program-defined entry point and returns its result
// literal; callers interpret the outcome.
func (a *PolicyActor) evalEntry(ctx context.Context, pol *policy.Policy, fn string, args []literals.Literal, handler interpret.MetaHandler) (literals.Literal, error) {
	fp := pol.Get(fn)
	if fp.Kind != policy.FnArgs {
		return literals.Literal{}, fmt.Errorf("entry %q is not program-defined", fn)
	}
	if fp.Args < len(args) {
		args = args[:fp.Args]
	}
	env := &interpret.Env{
		Prog:      pol.Program,
		Meta:      handler,
		Externals: a.externals,
		Resolver:  a.resolver,
	}
	start := time.Now()
	lit, err := interpret.Eval(ctx, env, expressions.CallFnExpr(fn, args), nil)
	metrics.Get().EvalDuration.WithLabelValues(string(pol.Protocol), fn).Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.Get().EvalErrors.WithLabelValues(string(pol.Protocol), fn).Inc()
	}
	return lit, err
}

// decide evaluates a boolean decision hook. FnPolicy Allow and Deny
// short-circuit; evaluation errors deny.
func (a *PolicyActor) decide(ctx context.Context, pol *policy.Policy, fn string, args []literals.Literal, handler interpret.MetaHandler) bool {
	reg := metrics.Get()
	switch fp := pol.Get(fn); fp.Kind {
	case policy.FnAllow:
		reg.Evaluations.WithLabelValues(string(pol.Protocol), fn, "allow").Inc()
		return true
	case policy.FnDeny:
		reg.Evaluations.WithLabelValues(string(pol.Protocol), fn, "deny").Inc()
		return false
	default:
		lit, err := a.evalEntry(ctx, pol, fn, args, handler)
		if err != nil {
			a.logger.Warn("evaluation failed, denying", "function", fn, "error", err)
			reg.Evaluations.WithLabelValues(string(pol.Protocol), fn, "error").Inc()
			return false
		}
		allowed, ok := lit.AsBool()
		if !ok {
			a.logger.Warn("entry returned non-bool, denying", "function", fn, "got", lit.Typ().String())
			reg.Evaluations.WithLabelValues(string(pol.Protocol), fn, "error").Inc()
			return false
		}
		decision := "deny"
		if allowed {
			decision = "allow"
		}
		reg.Evaluations.WithLabelValues(string(pol.Protocol), fn, decision).Inc()
		return allowed
	}
}

// Shutdown stops the listeners and drops external connections.
func (a *PolicyActor) Shutdown() {
	a.StopHTTP()
	a.StopTCP()
	a.externals.Close()
}
