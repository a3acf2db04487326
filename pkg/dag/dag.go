package dag

import (
	stderrors "errors"
	"fmt"
	"maps"
	"slices"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	"github.com/zclconf/go-cty/cty"
	"github.com/zclconf/go-cty/cty/convert"
	"github.com/zclconf/go-cty/cty/function"

	"github.com/matzehuels/modeldag/pkg/errors"
	"github.com/matzehuels/modeldag/pkg/observability"
)

var (
	// ErrUnknownNode is returned when a [Handle] does not name a live node
	// of the graph. Handles are never reused, so a destroyed node's handle
	// stays unknown forever.
	ErrUnknownNode = stderrors.New("unknown node")

	// ErrClamped is returned by [Graph.SetValue] and [Graph.Redraw] when the
	// stochastic node holds observed data.
	ErrClamped = stderrors.New("node is clamped")

	// ErrNotSettable is returned by [Graph.SetValue] for transform and
	// reference nodes, whose values are always derived from their parents.
	ErrNotSettable = stderrors.New("node value is derived")

	// ErrNotStochastic is returned by operations that only make sense on a
	// random variable (log-probability, clamping, redraw).
	ErrNotStochastic = stderrors.New("node is not stochastic")

	// ErrHasChildren is returned by [Graph.Destroy] when the node still has
	// live children. Retarget the children first.
	ErrHasChildren = stderrors.New("node has live children")

	// ErrInTransaction is returned by structural operations that are not
	// allowed while a touch wave is open.
	ErrInTransaction = stderrors.New("transaction in progress")

	// ErrDetached is returned when reading a node that lost its parents
	// through [Graph.Retarget] and is waiting to be released.
	ErrDetached = stderrors.New("node was retargeted")

	// ErrNoStoredProbability is returned by [Graph.LnProbabilityRatio] when
	// the node's log-probability had not been computed before the touch.
	ErrNoStoredProbability = stderrors.New("no stored log-probability")

	// ErrGraphHasCycle is returned by [Graph.Validate] and [Graph.Retarget]
	// when an edge would close a directed cycle.
	ErrGraphHasCycle = stderrors.New("graph contains a cycle")

	// ErrAsymmetricEdge is returned by [Graph.Validate] when a parent list
	// and a child set disagree. This indicates graph corruption.
	ErrAsymmetricEdge = stderrors.New("asymmetric edge")
)

// Handle identifies a node within one [Graph]. Handles are assigned in
// creation order starting at 1 and are never reused. The zero Handle names
// no node.
type Handle uint64

// String returns the handle as "#n".
func (h Handle) String() string { return fmt.Sprintf("#%d", uint64(h)) }

// Kind is the closed set of node variants.
type Kind int

const (
	// KindConstant is a leaf holding a literal value.
	KindConstant Kind = iota
	// KindTransform applies a pure function to its parents' values.
	KindTransform
	// KindStochastic is a random variable drawn from a distribution whose
	// parameters are its parents.
	KindStochastic
	// KindReference designates an element or member of its first parent's
	// value, selected by the remaining parents.
	KindReference
)

// String returns the lower-case kind name.
func (k Kind) String() string {
	switch k {
	case KindConstant:
		return "constant"
	case KindTransform:
		return "transform"
	case KindStochastic:
		return "stochastic"
	case KindReference:
		return "reference"
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Function is a named pure function evaluated by transform nodes. The
// implementation is a cty function, so argument arity and types are
// checked once when the transform is constructed.
type Function struct {
	Name string
	Impl function.Function
}

// node is the arena record behind a handle. Fields below the edge lists
// are only meaningful for the kinds noted.
type node struct {
	id    Handle
	name  string
	kind  Kind
	typ   cty.Type
	value cty.Value

	// dirty means the cached value (transform, reference) or the cached
	// log-probability (stochastic) is stale. Constants are never dirty.
	dirty bool
	// touched is the transaction flag of the current wave.
	touched bool
	// detached is set on a retargeted node that lost its parents.
	detached bool

	// rollback state saved by the first touch of a wave
	hasStored    bool
	stored       cty.Value
	storedDirty  bool
	storedLnProb float64
	storedElems  []int

	parents  []Handle // ordered, may repeat
	children []Handle // set, insertion ordered

	// transform
	fn Function
	// transform and reference: converts the raw result to typ
	out convert.Conversion

	// stochastic
	dist    Distribution
	conv    []convert.Conversion // per parent, into the distribution's parameter types
	clamped bool
	lnProb  float64

	// reference: per index parent conversion (nil means resolve on read)
	// and the one-based positions resolved by the last read
	idxConv []convert.Conversion
	elems   []int
}

func (n *node) label() string {
	if n.name != "" {
		return n.name
	}
	return n.id.String()
}

// Option configures a [Graph].
type Option func(*Graph)

// WithLogger sets the logger used for structural operations. The
// transaction hot path does not log.
func WithLogger(l *log.Logger) Option {
	return func(g *Graph) {
		if l != nil {
			g.logger = l
		}
	}
}

// WithHooks sets per-graph transaction hooks instead of the globally
// registered [observability.Transaction] hooks.
func WithHooks(h observability.TransactionHooks) Option {
	return func(g *Graph) {
		if h != nil {
			g.hooks = h
		}
	}
}

// Graph is an arena of model nodes addressed by [Handle].
//
// The zero value is not usable - use New to create a valid Graph.
// Graph is single-threaded: it performs no locking, and exactly one
// transaction driver may use it at a time. Independent computations run
// on independent clones (see [Graph.Clone]).
type Graph struct {
	id     uuid.UUID
	nodes  map[Handle]*node
	next   Handle
	open   int // nodes with the transaction flag set
	logger *log.Logger
	hooks  observability.TransactionHooks
}

// New creates an empty graph with a fresh random identifier.
func New(opts ...Option) *Graph {
	g := &Graph{
		id:     uuid.New(),
		nodes:  make(map[Handle]*node),
		logger: log.Default(),
		hooks:  observability.Transaction(),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// ID returns the graph instance identifier. Clones get a new one.
func (g *Graph) ID() uuid.UUID { return g.id }

func (g *Graph) lookup(h Handle) (*node, error) {
	n, ok := g.nodes[h]
	if !ok {
		return nil, errors.Wrap(errors.ErrCodeNotFound, ErrUnknownNode, "node %s", h)
	}
	return n, nil
}

func (g *Graph) lookupAll(hs []Handle) ([]*node, error) {
	ns := make([]*node, len(hs))
	for i, h := range hs {
		n, err := g.lookup(h)
		if err != nil {
			return nil, err
		}
		ns[i] = n
	}
	return ns, nil
}

func (g *Graph) insert(n *node) Handle {
	g.next++
	n.id = g.next
	g.nodes[n.id] = n
	for _, p := range n.parents {
		g.link(p, n.id)
	}
	return n.id
}

// link records child in parent's child set.
func (g *Graph) link(parent, child Handle) {
	p := g.nodes[parent]
	if !slices.Contains(p.children, child) {
		p.children = append(p.children, child)
	}
}

// unlink removes child from parent's child set.
func (g *Graph) unlink(parent, child Handle) {
	p, ok := g.nodes[parent]
	if !ok {
		return
	}
	p.children = slices.DeleteFunc(p.children, func(c Handle) bool { return c == child })
}

// Destroy removes a node from the arena after deregistering its edges to
// its parents. A node with live children cannot be destroyed: that would
// leave them with a dangling parent, so the call fails with a
// DANGLING_EDGE error wrapping [ErrHasChildren]. Touched nodes cannot be
// destroyed until the wave is closed.
func (g *Graph) Destroy(h Handle) error {
	n, err := g.lookup(h)
	if err != nil {
		return err
	}
	if len(n.children) > 0 {
		return errors.Wrap(errors.ErrCodeDanglingEdge, ErrHasChildren,
			"destroy %s: %d children", n.label(), len(n.children))
	}
	if n.touched {
		return errors.Wrap(errors.ErrCodeInvalidOperation, ErrInTransaction, "destroy %s", n.label())
	}
	for _, p := range n.parents {
		g.unlink(p, h)
	}
	n.parents = nil
	delete(g.nodes, h)
	return nil
}

// Release destroys h if it has no children and pinned does not claim it,
// then walks up to each parent that became childless and releases it in
// turn. pinned reports external owners such as named bindings; nil means
// no external owners. Release returns the destroyed handles in order. A
// node that is still referenced is left alone without error.
func (g *Graph) Release(h Handle, pinned func(Handle) bool) ([]Handle, error) {
	if _, err := g.lookup(h); err != nil {
		return nil, err
	}
	if pinned == nil {
		pinned = func(Handle) bool { return false }
	}

	var released []Handle
	var release func(h Handle) error
	release = func(h Handle) error {
		n, ok := g.nodes[h]
		if !ok || len(n.children) > 0 || pinned(h) {
			return nil
		}
		parents := uniqueHandles(n.parents)
		if err := g.Destroy(h); err != nil {
			return err
		}
		released = append(released, h)
		for _, p := range parents {
			if err := release(p); err != nil {
				return err
			}
		}
		return nil
	}

	if err := release(h); err != nil {
		return released, err
	}
	if len(released) > 0 {
		g.logger.Debug("released nodes", "graph", g.id, "count", len(released))
	}
	return released, nil
}

// NodeInfo is a read-only snapshot of a node's bookkeeping state.
type NodeInfo struct {
	Handle       Handle
	Name         string
	Kind         Kind
	Type         cty.Type
	Dirty        bool
	Touched      bool
	Clamped      bool
	Function     string // transform nodes
	Distribution string // stochastic nodes
	Parents      []Handle
	Children     []Handle
}

// Node returns a snapshot of the node's state. Reading the snapshot never
// triggers recomputation.
func (g *Graph) Node(h Handle) (NodeInfo, bool) {
	n, ok := g.nodes[h]
	if !ok {
		return NodeInfo{}, false
	}
	info := NodeInfo{
		Handle:   n.id,
		Name:     n.name,
		Kind:     n.kind,
		Type:     n.typ,
		Dirty:    n.dirty,
		Touched:  n.touched,
		Clamped:  n.clamped,
		Parents:  slices.Clone(n.parents),
		Children: g.Children(h),
	}
	if n.kind == KindTransform {
		info.Function = n.fn.Name
	}
	if n.dist != nil {
		info.Distribution = n.dist.Name()
	}
	return info, true
}

// Name returns the node's display name, or its handle string if unnamed.
func (g *Graph) Name(h Handle) string {
	if n, ok := g.nodes[h]; ok {
		return n.label()
	}
	return h.String()
}

// Find returns the first node (in handle order) with the given name.
func (g *Graph) Find(name string) (Handle, bool) {
	for _, h := range g.Nodes() {
		if g.nodes[h].name == name {
			return h, true
		}
	}
	return 0, false
}

// Kind returns the node's kind. It returns false for unknown handles.
func (g *Graph) Kind(h Handle) (Kind, bool) {
	n, ok := g.nodes[h]
	if !ok {
		return 0, false
	}
	return n.kind, true
}

// Type returns the node's declared value type.
func (g *Graph) Type(h Handle) cty.Type {
	if n, ok := g.nodes[h]; ok {
		return n.typ
	}
	return cty.NilType
}

// IsDirty reports whether the node must be recomputed before its next read.
func (g *Graph) IsDirty(h Handle) bool {
	n, ok := g.nodes[h]
	return ok && n.dirty
}

// IsTouched reports whether the node's transaction flag is set.
func (g *Graph) IsTouched(h Handle) bool {
	n, ok := g.nodes[h]
	return ok && n.touched
}

// HasStoredValue reports whether the node holds rollback state.
func (g *Graph) HasStoredValue(h Handle) bool {
	n, ok := g.nodes[h]
	return ok && n.hasStored
}

// IsClamped reports whether the node is a stochastic node holding
// observed data.
func (g *Graph) IsClamped(h Handle) bool {
	n, ok := g.nodes[h]
	return ok && n.clamped
}

// InTransaction reports whether any node has its transaction flag set.
func (g *Graph) InTransaction() bool { return g.open > 0 }

// Parents returns the node's parents in argument order. The slice is a
// copy; repeated arguments appear repeatedly.
func (g *Graph) Parents(h Handle) []Handle {
	if n, ok := g.nodes[h]; ok {
		return slices.Clone(n.parents)
	}
	return nil
}

// Children returns the node's children sorted by handle.
func (g *Graph) Children(h Handle) []Handle {
	n, ok := g.nodes[h]
	if !ok {
		return nil
	}
	out := slices.Clone(n.children)
	slices.Sort(out)
	return out
}

// Nodes returns every live handle in creation order.
func (g *Graph) Nodes() []Handle {
	return slices.Sorted(maps.Keys(g.nodes))
}

// NodeCount returns the number of live nodes.
func (g *Graph) NodeCount() int { return len(g.nodes) }

// EdgeCount returns the number of distinct parent-child pairs.
func (g *Graph) EdgeCount() int {
	total := 0
	for _, n := range g.nodes {
		total += len(n.children)
	}
	return total
}

// Sources returns nodes without parents, in handle order.
func (g *Graph) Sources() []Handle {
	var out []Handle
	for _, h := range g.Nodes() {
		if len(g.nodes[h].parents) == 0 {
			out = append(out, h)
		}
	}
	return out
}

// Sinks returns nodes without children, in handle order.
func (g *Graph) Sinks() []Handle {
	var out []Handle
	for _, h := range g.Nodes() {
		if len(g.nodes[h].children) == 0 {
			out = append(out, h)
		}
	}
	return out
}

// Stochastic returns every stochastic node in handle order.
func (g *Graph) Stochastic() []Handle {
	var out []Handle
	for _, h := range g.Nodes() {
		if g.nodes[h].kind == KindStochastic {
			out = append(out, h)
		}
	}
	return out
}

func uniqueHandles(hs []Handle) []Handle {
	out := make([]Handle, 0, len(hs))
	for _, h := range hs {
		if !slices.Contains(out, h) {
			out = append(out, h)
		}
	}
	return out
}
