// Package interceptor implements the ordered, named, bypassable stage
// pipeline every directory operation passes through before reaching the
// partition nexus. Stages are chained the way HTTP middleware is chained
// (func(Handler) Handler), generalized over a fixed capability set so one
// stage value can participate in every operation kind instead of requiring
// a separate interface per operation.
package interceptor

import (
	"context"
	"sync"

	"dirsrv/internal/telemetry"
	"dirsrv/pkg/cursor"
	"dirsrv/pkg/dirserrors"
	"dirsrv/pkg/entry"
	"dirsrv/pkg/metrics"
	"dirsrv/pkg/opctx"
)

type (
	BindFunc     func(ctx context.Context, op *opctx.BindContext) (*opctx.Session, error)
	LookupFunc   func(ctx context.Context, op *opctx.LookupContext) (*entry.Entry, error)
	AddFunc      func(ctx context.Context, op *opctx.AddContext) error
	DeleteFunc   func(ctx context.Context, op *opctx.DeleteContext) error
	ModifyFunc   func(ctx context.Context, op *opctx.ModifyContext) error
	ModifyDNFunc func(ctx context.Context, op *opctx.ModifyDNContext) error
	SearchFunc   func(ctx context.Context, op *opctx.SearchContext) (cursor.Cursor, error)
	CompareFunc  func(ctx context.Context, op *opctx.CompareContext) (bool, error)
)

// Stage is one named link in the pipeline. It implements the full
// capability set so the chain can dispatch any operation kind to any
// stage without a type switch on the stage itself; a stage that has
// nothing to say about a given capability embeds Passthrough and lets it
// forward unchanged.
type Stage interface {
	Bind(ctx context.Context, op *opctx.BindContext, next BindFunc) (*opctx.Session, error)
	Lookup(ctx context.Context, op *opctx.LookupContext, next LookupFunc) (*entry.Entry, error)
	Add(ctx context.Context, op *opctx.AddContext, next AddFunc) error
	Delete(ctx context.Context, op *opctx.DeleteContext, next DeleteFunc) error
	Modify(ctx context.Context, op *opctx.ModifyContext, next ModifyFunc) error
	ModifyDN(ctx context.Context, op *opctx.ModifyDNContext, next ModifyDNFunc) error
	Search(ctx context.Context, op *opctx.SearchContext, next SearchFunc) (cursor.Cursor, error)
	Compare(ctx context.Context, op *opctx.CompareContext, next CompareFunc) (bool, error)
}

// Passthrough implements Stage by forwarding every call to next unchanged.
// Concrete stages embed it and override only the methods they care about.
type Passthrough struct{}

func (Passthrough) Bind(ctx context.Context, op *opctx.BindContext, next BindFunc) (*opctx.Session, error) {
	return next(ctx, op)
}

func (Passthrough) Lookup(ctx context.Context, op *opctx.LookupContext, next LookupFunc) (*entry.Entry, error) {
	return next(ctx, op)
}

func (Passthrough) Add(ctx context.Context, op *opctx.AddContext, next AddFunc) error {
	return next(ctx, op)
}

func (Passthrough) Delete(ctx context.Context, op *opctx.DeleteContext, next DeleteFunc) error {
	return next(ctx, op)
}

func (Passthrough) Modify(ctx context.Context, op *opctx.ModifyContext, next ModifyFunc) error {
	return next(ctx, op)
}

func (Passthrough) ModifyDN(ctx context.Context, op *opctx.ModifyDNContext, next ModifyDNFunc) error {
	return next(ctx, op)
}

func (Passthrough) Search(ctx context.Context, op *opctx.SearchContext, next SearchFunc) (cursor.Cursor, error) {
	return next(ctx, op)
}

func (Passthrough) Compare(ctx context.Context, op *opctx.CompareContext, next CompareFunc) (bool, error) {
	return next(ctx, op)
}

type namedStage struct {
	name  string
	stage Stage
}

// Chain holds the ordered, named stage list. It is built with Append and
// InsertBefore, then Freeze'd; dispatch methods may be called concurrently
// once frozen, but the builder methods are not safe for concurrent use
// with dispatch.
type Chain struct {
	mu      sync.RWMutex
	stages  []namedStage
	byName  map[string]int
	frozen  bool
	metrics *metrics.DirectoryMetrics
}

// New returns an empty chain.
func New() *Chain {
	return &Chain{byName: make(map[string]int)}
}

// SetMetrics attaches the stage-invocation counter. A nil metrics set is
// valid and records nothing.
func (c *Chain) SetMetrics(m *metrics.DirectoryMetrics) { c.metrics = m }

// Append adds a stage at the tail of the chain. It fails if the chain is
// frozen or the name is already taken.
func (c *Chain) Append(name string, s Stage) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.frozen {
		return dirserrors.New(dirserrors.UnwillingToPerform, "chain is frozen")
	}
	if _, exists := c.byName[name]; exists {
		return dirserrors.Newf(dirserrors.UnwillingToPerform, "stage %q already registered", name)
	}
	c.byName[name] = len(c.stages)
	c.stages = append(c.stages, namedStage{name: name, stage: s})
	return nil
}

// InsertBefore adds a stage immediately before the named stage. It fails
// if the chain is frozen, the name is already taken, or before does not
// name an existing stage.
func (c *Chain) InsertBefore(name, before string, s Stage) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.frozen {
		return dirserrors.New(dirserrors.UnwillingToPerform, "chain is frozen")
	}
	if _, exists := c.byName[name]; exists {
		return dirserrors.Newf(dirserrors.UnwillingToPerform, "stage %q already registered", name)
	}
	idx, ok := c.byName[before]
	if !ok {
		return dirserrors.Newf(dirserrors.UnwillingToPerform, "no such stage %q to insert before", before)
	}
	c.stages = append(c.stages[:idx], append([]namedStage{{name: name, stage: s}}, c.stages[idx:]...)...)
	c.rebuildIndex()
	return nil
}

func (c *Chain) rebuildIndex() {
	c.byName = make(map[string]int, len(c.stages))
	for i, ns := range c.stages {
		c.byName[ns.name] = i
	}
}

// Freeze prevents further structural changes. Dispatch is only valid on a
// frozen chain.
func (c *Chain) Freeze() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.frozen = true
}

// Names returns the configured stage names in order, for diagnostics and
// tests that assert invocation order against configuration order.
func (c *Chain) Names() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	names := make([]string, len(c.stages))
	for i, ns := range c.stages {
		names[i] = ns.name
	}
	return names
}

func (c *Chain) snapshot() []namedStage {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]namedStage, len(c.stages))
	copy(out, c.stages)
	return out
}

// Bind dispatches a bind operation through the chain, calling terminal
// once every non-bypassed stage has forwarded.
func (c *Chain) Bind(ctx context.Context, op *opctx.BindContext, terminal BindFunc) (*opctx.Session, error) {
	next := terminal
	for _, ns := range reverseStages(c.snapshot()) {
		ns := ns
		localNext := next
		if op.Bypassed(ns.name) {
			continue
		}
		next = func(ctx context.Context, op *opctx.BindContext) (*opctx.Session, error) {
			ctx, span := telemetry.StartStageSpan(ctx, ns.name)
			defer span.End()
			c.metrics.RecordStageInvocation(ns.name, "bind")
			sess, err := ns.stage.Bind(ctx, op, localNext)
			recordOutcome(ctx, err)
			return sess, err
		}
	}
	return next(ctx, op)
}

// Lookup dispatches a single-entry lookup through the chain.
func (c *Chain) Lookup(ctx context.Context, op *opctx.LookupContext, terminal LookupFunc) (*entry.Entry, error) {
	next := terminal
	for _, ns := range reverseStages(c.snapshot()) {
		ns := ns
		localNext := next
		if op.Bypassed(ns.name) {
			continue
		}
		next = func(ctx context.Context, op *opctx.LookupContext) (*entry.Entry, error) {
			ctx, span := telemetry.StartStageSpan(ctx, ns.name)
			defer span.End()
			c.metrics.RecordStageInvocation(ns.name, "lookup")
			e, err := ns.stage.Lookup(ctx, op, localNext)
			recordOutcome(ctx, err)
			return e, err
		}
	}
	return next(ctx, op)
}

// Add dispatches an add operation through the chain.
func (c *Chain) Add(ctx context.Context, op *opctx.AddContext, terminal AddFunc) error {
	next := terminal
	for _, ns := range reverseStages(c.snapshot()) {
		ns := ns
		localNext := next
		if op.Bypassed(ns.name) {
			continue
		}
		next = func(ctx context.Context, op *opctx.AddContext) error {
			ctx, span := telemetry.StartStageSpan(ctx, ns.name)
			defer span.End()
			c.metrics.RecordStageInvocation(ns.name, "add")
			err := ns.stage.Add(ctx, op, localNext)
			recordOutcome(ctx, err)
			return err
		}
	}
	return next(ctx, op)
}

// Delete dispatches a delete operation through the chain.
func (c *Chain) Delete(ctx context.Context, op *opctx.DeleteContext, terminal DeleteFunc) error {
	next := terminal
	for _, ns := range reverseStages(c.snapshot()) {
		ns := ns
		localNext := next
		if op.Bypassed(ns.name) {
			continue
		}
		next = func(ctx context.Context, op *opctx.DeleteContext) error {
			ctx, span := telemetry.StartStageSpan(ctx, ns.name)
			defer span.End()
			c.metrics.RecordStageInvocation(ns.name, "delete")
			err := ns.stage.Delete(ctx, op, localNext)
			recordOutcome(ctx, err)
			return err
		}
	}
	return next(ctx, op)
}

// Modify dispatches a modify operation through the chain.
func (c *Chain) Modify(ctx context.Context, op *opctx.ModifyContext, terminal ModifyFunc) error {
	next := terminal
	for _, ns := range reverseStages(c.snapshot()) {
		ns := ns
		localNext := next
		if op.Bypassed(ns.name) {
			continue
		}
		next = func(ctx context.Context, op *opctx.ModifyContext) error {
			ctx, span := telemetry.StartStageSpan(ctx, ns.name)
			defer span.End()
			c.metrics.RecordStageInvocation(ns.name, "modify")
			err := ns.stage.Modify(ctx, op, localNext)
			recordOutcome(ctx, err)
			return err
		}
	}
	return next(ctx, op)
}

// ModifyDN dispatches a rename, move, or moveAndRename operation through
// the chain.
func (c *Chain) ModifyDN(ctx context.Context, op *opctx.ModifyDNContext, terminal ModifyDNFunc) error {
	next := terminal
	for _, ns := range reverseStages(c.snapshot()) {
		ns := ns
		localNext := next
		if op.Bypassed(ns.name) {
			continue
		}
		next = func(ctx context.Context, op *opctx.ModifyDNContext) error {
			ctx, span := telemetry.StartStageSpan(ctx, ns.name)
			defer span.End()
			c.metrics.RecordStageInvocation(ns.name, "modifyDN")
			err := ns.stage.ModifyDN(ctx, op, localNext)
			recordOutcome(ctx, err)
			return err
		}
	}
	return next(ctx, op)
}

// Search dispatches a search operation through the chain.
func (c *Chain) Search(ctx context.Context, op *opctx.SearchContext, terminal SearchFunc) (cursor.Cursor, error) {
	next := terminal
	for _, ns := range reverseStages(c.snapshot()) {
		ns := ns
		localNext := next
		if op.Bypassed(ns.name) {
			continue
		}
		next = func(ctx context.Context, op *opctx.SearchContext) (cursor.Cursor, error) {
			ctx, span := telemetry.StartStageSpan(ctx, ns.name)
			defer span.End()
			c.metrics.RecordStageInvocation(ns.name, "search")
			cur, err := ns.stage.Search(ctx, op, localNext)
			recordOutcome(ctx, err)
			return cur, err
		}
	}
	return next(ctx, op)
}

// Compare dispatches a compare operation through the chain.
func (c *Chain) Compare(ctx context.Context, op *opctx.CompareContext, terminal CompareFunc) (bool, error) {
	next := terminal
	for _, ns := range reverseStages(c.snapshot()) {
		ns := ns
		localNext := next
		if op.Bypassed(ns.name) {
			continue
		}
		next = func(ctx context.Context, op *opctx.CompareContext) (bool, error) {
			ctx, span := telemetry.StartStageSpan(ctx, ns.name)
			defer span.End()
			c.metrics.RecordStageInvocation(ns.name, "compare")
			ok, err := ns.stage.Compare(ctx, op, localNext)
			recordOutcome(ctx, err)
			return ok, err
		}
	}
	return next(ctx, op)
}

func recordOutcome(ctx context.Context, err error) {
	if err != nil {
		telemetry.RecordError(ctx, err)
	}
}

// reverseStages returns stages in reverse order so folding from the first
// element builds a chain that, once invoked, calls stages in forward
// configured order (configured-position 0's closure is the last one built,
// so it is the outermost and runs first). Building this
// way mirrors the chainable func(Handler) Handler composition idiom: wrap
// from the tail inward.
func reverseStages(stages []namedStage) []namedStage {
	out := make([]namedStage, len(stages))
	for i, ns := range stages {
		out[len(stages)-1-i] = ns
	}
	return out
}
