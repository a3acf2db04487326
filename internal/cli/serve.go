package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"github.com/zclconf/go-cty/cty"
	ctyjson "github.com/zclconf/go-cty/cty/json"

	"github.com/matzehuels/modeldag/pkg/cache"
	"github.com/matzehuels/modeldag/pkg/dag"
	"github.com/matzehuels/modeldag/pkg/errors"
	"github.com/matzehuels/modeldag/pkg/model"
	"github.com/matzehuels/modeldag/pkg/pipeline"
	"github.com/matzehuels/modeldag/pkg/render"
)

func (c *CLI) serveCommand() *cobra.Command {
	var (
		addr  string
		flags cacheFlags
	)

	cmd := &cobra.Command{
		Use:   "serve model.hcl",
		Short: "Serve a model over HTTP",
		Long: `Load a model and serve it over a JSON API:

  GET  /api/model               all named nodes
  GET  /api/nodes/{name}        one node with its structure
  PUT  /api/nodes/{name}        set a value: {"value": 1.5, "observed": false}
  GET  /api/graph/{format}      the graph as dot, svg, pdf or png
  POST /api/runs                sample: {"iterations": 1000, "chains": 2}
  GET  /metrics                 Prometheus metrics
  GET  /healthz                 liveness`,
		Args:              cobra.ExactArgs(1),
		ValidArgsFunction: completeModels,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			opts := pipeline.Options{Model: args[0]}
			flags.apply(&opts)
			keyer := cache.NewScopedKeyer(nil, "serve:"+filepath.Base(args[0])+":")
			runner, err := c.newRunner(ctx, opts.WithDefaults().Cache, keyer)
			if err != nil {
				return err
			}
			defer runner.Close()

			reg := prometheus.NewRegistry()
			reg.MustRegister(
				collectors.NewGoCollector(),
				collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
			)
			newMetrics(reg).install()

			srv, err := newServer(ctx, args[0], runner, reg)
			if err != nil {
				return err
			}
			return srv.listen(ctx, addr)
		},
	}

	cmd.Flags().StringVar(&addr, "addr", ":8080", "listen address")
	flags.register(cmd)
	return cmd
}

// =============================================================================
// Server
// =============================================================================

// server serves one workspace. Handlers that read or change the graph
// hold mu; sampling works on clones but holds mu while cloning.
type server struct {
	path    string
	runner  *pipeline.Runner
	metrics prometheus.Gatherer
	logger  *log.Logger

	mu      sync.Mutex
	ws      *model.Workspace
	srcHash string
	rev     int // number of value changes since load
}

func newServer(ctx context.Context, path string, runner *pipeline.Runner, metrics prometheus.Gatherer) (*server, error) {
	ws, src, err := runner.Load(ctx, path)
	if err != nil {
		return nil, err
	}
	return &server{
		path:    path,
		runner:  runner,
		metrics: metrics,
		logger:  runner.Logger,
		ws:      ws,
		srcHash: cache.Hash(src),
	}, nil
}

// modelHash identifies the current state of the workspace for cache
// keys. Changed values get a new hash.
func (s *server) modelHash() string {
	if s.rev == 0 {
		return s.srcHash
	}
	return cache.Hash([]byte(s.srcHash + "#" + strconv.Itoa(s.rev)))
}

func (s *server) handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.logRequests)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprintln(w, "OK")
	})
	if s.metrics != nil {
		r.Handle("/metrics", promhttp.HandlerFor(s.metrics, promhttp.HandlerOpts{}))
	}

	r.Route("/api", func(r chi.Router) {
		r.Get("/model", s.getModel)
		r.Get("/nodes/{name}", s.getNode)
		r.Put("/nodes/{name}", s.putNode)
		r.Get("/graph/{format}", s.getGraph)
		r.Post("/runs", s.postRun)
	})
	return r
}

func (s *server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Debug("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"id", middleware.GetReqID(r.Context()),
			"duration", time.Since(start))
	})
}

// listen serves until ctx is done, then shuts down gracefully.
func (s *server) listen(ctx context.Context, addr string) error {
	hs := &http.Server{
		Addr:              addr,
		Handler:           s.handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		s.logger.Info("serving model", "path", s.path, "addr", addr)
		errc <- hs.ListenAndServe()
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return hs.Shutdown(shutdownCtx)
}

// =============================================================================
// Handlers
// =============================================================================

type nodeJSON struct {
	Name          string                  `json:"name"`
	Kind          string                  `json:"kind"`
	Type          string                  `json:"type"`
	Value         ctyjson.SimpleJSONValue `json:"value"`
	Function      string                  `json:"function,omitempty"`
	Distribution  string                  `json:"distribution,omitempty"`
	Observed      bool                    `json:"observed,omitempty"`
	LnProbability *float64                `json:"ln_probability,omitempty"`
	Parents       []string                `json:"parents"`
	Structure     string                  `json:"structure,omitempty"`
}

type modelJSON struct {
	Path      string     `json:"path"`
	ModelHash string     `json:"model_hash"`
	Nodes     []nodeJSON `json:"nodes"`
	NodeCount int        `json:"node_count"`
	EdgeCount int        `json:"edge_count"`
}

// nodeInfo describes the node bound to name. Callers hold s.mu.
func (s *server) nodeInfo(name string) (nodeJSON, error) {
	h, ok := s.ws.Lookup(name)
	if !ok {
		return nodeJSON{}, errors.Wrap(errors.ErrCodeNotFound, dag.ErrUnknownNode, "%s", name)
	}
	g := s.ws.Graph()
	info, ok := g.Node(h)
	if !ok {
		return nodeJSON{}, errors.Wrap(errors.ErrCodeNotFound, dag.ErrUnknownNode, "%s", name)
	}
	v, err := g.Value(h)
	if err != nil {
		return nodeJSON{}, err
	}
	n := nodeJSON{
		Name:         name,
		Kind:         info.Kind.String(),
		Type:         info.Type.FriendlyName(),
		Value:        ctyjson.SimpleJSONValue{Value: v},
		Function:     info.Function,
		Distribution: info.Distribution,
		Observed:     info.Clamped,
		Parents:      make([]string, len(info.Parents)),
	}
	for i, p := range info.Parents {
		if pn, ok := s.ws.NameOf(p); ok {
			n.Parents[i] = pn
		} else {
			n.Parents[i] = g.Name(p)
		}
	}
	if info.Kind == dag.KindStochastic {
		if lp, err := g.LnProbability(h); err == nil && !math.IsInf(lp, 0) && !math.IsNaN(lp) {
			n.LnProbability = &lp
		}
	}
	return n, nil
}

func (s *server) getModel(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()

	g := s.ws.Graph()
	resp := modelJSON{
		Path:      s.path,
		ModelHash: s.modelHash(),
		Nodes:     []nodeJSON{},
		NodeCount: g.NodeCount(),
		EdgeCount: g.EdgeCount(),
	}
	for _, name := range s.ws.Names() {
		n, err := s.nodeInfo(name)
		if err != nil {
			writeError(w, err)
			return
		}
		resp.Nodes = append(resp.Nodes, n)
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *server) getNode(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()

	name := chi.URLParam(r, "name")
	n, err := s.nodeInfo(name)
	if err != nil {
		writeError(w, err)
		return
	}
	h, _ := s.ws.Lookup(name)
	n.Structure, _ = s.ws.Graph().StructureInfo(h)
	writeJSON(w, http.StatusOK, n)
}

type putNodeRequest struct {
	Value    json.RawMessage `json:"value"`
	Observed bool            `json:"observed"`
}

// putNode sets the value of a constant or stochastic node. With
// "observed" the stochastic node is clamped to the value.
func (s *server) putNode(w http.ResponseWriter, r *http.Request) {
	var req putNodeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || len(req.Value) == 0 {
		writeError(w, errors.New(errors.ErrCodeInvalidInput, "body must be {\"value\": ...}"))
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	name := chi.URLParam(r, "name")
	h, ok := s.ws.Lookup(name)
	if !ok {
		writeError(w, errors.Wrap(errors.ErrCodeNotFound, dag.ErrUnknownNode, "%s", name))
		return
	}
	v, err := decodeValue(req.Value, s.ws.Graph().Type(h))
	if err != nil {
		writeError(w, err)
		return
	}
	if req.Observed {
		err = s.ws.Clamp(name, v)
	} else {
		err = s.ws.Set(name, v)
	}
	if err != nil {
		writeError(w, err)
		return
	}
	s.rev++

	n, err := s.nodeInfo(name)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, n)
}

// decodeValue converts JSON to a value of type ty. Dynamically typed
// nodes take the type the JSON implies.
func decodeValue(raw []byte, ty cty.Type) (cty.Value, error) {
	if ty == cty.DynamicPseudoType {
		implied, err := ctyjson.ImpliedType(raw)
		if err != nil {
			return cty.NilVal, errors.Wrap(errors.ErrCodeInvalidInput, err, "decode value")
		}
		ty = implied
	}
	v, err := ctyjson.Unmarshal(raw, ty)
	if err != nil {
		return cty.NilVal, errors.Wrap(errors.ErrCodeTypeMismatch, err, "decode value as %s", ty.FriendlyName())
	}
	return v, nil
}

var contentTypes = map[render.Format]string{
	render.FormatDOT: "text/vnd.graphviz",
	render.FormatSVG: "image/svg+xml",
	render.FormatPDF: "application/pdf",
	render.FormatPNG: "image/png",
}

func (s *server) getGraph(w http.ResponseWriter, r *http.Request) {
	f, err := render.ParseFormat(chi.URLParam(r, "format"))
	if err != nil {
		writeError(w, err)
		return
	}
	q := r.URL.Query()
	opts := pipeline.Options{
		Values: q.Get("values") == "true",
		Ranked: q.Get("ranked") == "true",
		Scale:  pipeline.DefaultScale,
	}
	if scale := q.Get("scale"); scale != "" {
		if opts.Scale, err = strconv.ParseFloat(scale, 64); err != nil || opts.Scale <= 0 {
			writeError(w, errors.New(errors.ErrCodeInvalidInput, "invalid scale %q", scale))
			return
		}
	}

	s.mu.Lock()
	data, err := s.runner.Render(r.Context(), s.ws, s.modelHash(), f, opts)
	s.mu.Unlock()
	if err != nil {
		writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", contentTypes[f])
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

type runResponse struct {
	*pipeline.Result
	Means map[string]float64 `json:"means"`
}

// postRun samples the current workspace. The body holds sampling options
// in the run configuration's keys; the model, trace and rendering come
// from the server.
func (s *server) postRun(w http.ResponseWriter, r *http.Request) {
	var opts pipeline.Options
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&opts); err != nil {
			writeError(w, errors.Wrap(errors.ErrCodeInvalidInput, err, "decode run options"))
			return
		}
	}
	opts.Model = s.path
	opts.Trace, opts.Format, opts.Output = "", "", ""
	opts.Cache = pipeline.CacheOptions{}
	opts = opts.WithDefaults()
	if err := opts.Validate(); err != nil {
		writeError(w, err)
		return
	}

	s.mu.Lock()
	ws, hash := s.ws, s.modelHash()
	clone, err := ws.Clone(opts.Seed)
	s.mu.Unlock()
	if err != nil {
		writeError(w, err)
		return
	}

	start := time.Now()
	chains, hit, err := s.runner.SampleWithCacheInfo(r.Context(), clone, hash, opts)
	if err != nil {
		writeError(w, err)
		return
	}
	res := &pipeline.Result{
		RunID:     uuid.NewString(),
		ModelHash: hash,
		Chains:    chains,
		Stats: pipeline.Stats{
			NodeCount:  clone.Graph().NodeCount(),
			EdgeCount:  clone.Graph().EdgeCount(),
			SampleTime: time.Since(start),
		},
		CacheInfo: pipeline.CacheInfo{RunHit: hit},
	}
	writeJSON(w, http.StatusOK, runResponse{Result: res, Means: res.Means()})
}

// =============================================================================
// Responses
// =============================================================================

type errorJSON struct {
	Code    errors.Code `json:"code"`
	Message string      `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	code := errors.GetCodeOr(err, errors.ErrCodeInternal)
	writeJSON(w, httpStatus(code), errorJSON{Code: code, Message: errors.UserMessage(err)})
}

// httpStatus maps an error code to a response status.
func httpStatus(code errors.Code) int {
	switch code {
	case errors.ErrCodeNotFound, errors.ErrCodeFileNotFound:
		return http.StatusNotFound
	case errors.ErrCodeInvalidInput, errors.ErrCodeInvalidName, errors.ErrCodeInvalidConfig,
		errors.ErrCodeTypeMismatch, errors.ErrCodeIndexOutOfRange, errors.ErrCodeDomain:
		return http.StatusBadRequest
	case errors.ErrCodeInvalidOperation, errors.ErrCodeCycle:
		return http.StatusConflict
	case errors.ErrCodeUnsupported:
		return http.StatusNotImplemented
	}
	return http.StatusInternalServerError
}
