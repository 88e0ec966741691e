package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"

	"taxiifeed/internal/feed"
	"taxiifeed/internal/metrics"
	"taxiifeed/internal/shard"
	"taxiifeed/internal/stix"
)

const (
	taxiiMediaType = "application/taxii+json;version=2.1"
	stixMediaType  = "application/stix+json;version=2.1"
	snapshotHeader = "X-Feed-Snapshot"
)

// Server wraps HTTP and gRPC servers
type Server struct {
	feed    *feed.Service
	cfg     *Config
	logger  *zap.Logger
	router  *mux.Router
	limiter *clientLimiter
	health  *health.Server
	grpcSrv *grpc.Server
}

func New(svc *feed.Service, cfg *Config, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		feed:    svc,
		cfg:     cfg,
		logger:  logger,
		router:  mux.NewRouter(),
		limiter: newClientLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst),
		health:  health.NewServer(),
		grpcSrv: grpc.NewServer(),
	}
	s.routes()
	s.registerGRPC()
	return s
}

func (s *Server) routes() {
	s.router.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, "Not Found")
	})
	s.router.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "Method Not Allowed")
	})
	s.router.Use(s.accessLog)

	s.router.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)

	api := s.router.PathPrefix("/").Subrouter()
	api.Use(s.rateLimit, s.requireAPIKey)

	api.HandleFunc("/api/v1/indicators", s.handleIndicators).Methods(http.MethodGet)
	api.HandleFunc("/api/v1/collections", s.handleCollections).Methods(http.MethodGet)
	api.HandleFunc("/api/v1/collections/{collection_id}/objects", s.handleCollectionObjects).Methods(http.MethodGet)

	root := s.cfg.TAXIIAPIRootPath
	api.HandleFunc("/taxii2/", s.handleDiscovery).Methods(http.MethodGet)
	api.HandleFunc(root+"/", s.handleAPIRoot).Methods(http.MethodGet)
	api.HandleFunc(root+"/collections{slash:/?}", s.handleTAXIICollections).Methods(http.MethodGet)
	api.HandleFunc(root+"/collections/{collection_id}/objects{slash:/?}", s.handleTAXIIObjects).Methods(http.MethodGet)
	api.HandleFunc(root+"/collections/{collection_id}/objects/{object_id}{slash:/?}", s.handleTAXIIObject).Methods(http.MethodGet)
}

// Router returns the HTTP handler serving the API.
func (s *Server) Router() http.Handler { return s.cors(s.router) }

// MetricsHandler serves the Prometheus registry.
func (s *Server) MetricsHandler() http.Handler {
	m := http.NewServeMux()
	m.Handle("/metrics", promhttp.Handler())
	return m
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, "application/json", map[string]string{"status": "ok"})
}

type indicatorsResponse struct {
	Count        int           `json:"count"`
	Total        int           `json:"total"`
	More         bool          `json:"more"`
	Next         string        `json:"next,omitempty"`
	SourceSystem string        `json:"sourcesystem"`
	Objects      []stix.Object `json:"stixobjects"`
}

// handleIndicators serves indicators only. Without page_size or limit the
// page is as large as the policy allows.
func (s *Server) handleIndicators(w http.ResponseWriter, r *http.Request) {
	size, err := s.pageSize(r, "page_size", "limit")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if size == 0 {
		size = s.feed.Limits().MaxPageSize
	}
	q := s.query(r, "since", size)
	q.Types = []string{stix.TypeIndicator}

	page, err := s.feed.Search(r.Context(), q)
	if err != nil {
		s.writeFeedError(w, err)
		return
	}
	if s.writeValidators(w, page) {
		return
	}
	metrics.ObjectsServed.WithLabelValues("indicators").Add(float64(len(page.Objects)))
	writeJSON(w, http.StatusOK, "application/json", indicatorsResponse{
		Count:        len(page.Objects),
		Total:        page.Total,
		More:         page.More,
		Next:         page.Next,
		SourceSystem: s.cfg.SourceSystem,
		Objects:      nonNil(page.Objects),
	})
}

type collectionInfo struct {
	feed.Collection
	CanRead  bool `json:"can_read"`
	CanWrite bool `json:"can_write"`
}

func (s *Server) collectionInfos() []collectionInfo {
	var out []collectionInfo
	for _, c := range s.feed.Collections() {
		out = append(out, collectionInfo{Collection: c, CanRead: true})
	}
	return out
}

func (s *Server) handleCollections(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, "application/json", map[string]any{"collections": s.collectionInfos()})
}

type objectsResponse struct {
	Objects      []stix.Object `json:"objects"`
	More         bool          `json:"more"`
	Next         string        `json:"next,omitempty"`
	Total        *int          `json:"total,omitempty"`
	SourceSystem string        `json:"sourcesystem,omitempty"`
}

func (s *Server) handleCollectionObjects(w http.ResponseWriter, r *http.Request) {
	size, err := s.pageSize(r, "page_size")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	q := s.query(r, "since", size)
	q.Types = feed.ParseTypes(r.URL.Query().Get("types"))

	page, err := s.feed.Objects(r.Context(), mux.Vars(r)["collection_id"], q)
	if err != nil {
		s.writeFeedError(w, err)
		return
	}
	if s.writeValidators(w, page) {
		return
	}
	metrics.ObjectsServed.WithLabelValues("collection").Add(float64(len(page.Objects)))
	writeJSON(w, http.StatusOK, "application/json", objectsResponse{
		Objects:      nonNil(page.Objects),
		More:         page.More,
		Next:         page.Next,
		Total:        &page.Total,
		SourceSystem: s.cfg.SourceSystem,
	})
}

func (s *Server) handleDiscovery(w http.ResponseWriter, r *http.Request) {
	base := baseURL(r)
	writeJSON(w, http.StatusOK, taxiiMediaType, map[string]any{
		"title":       "Synthetic TAXII 2.1 Server",
		"description": "Serves synthetic STIX 2.1 indicators generated in-container",
		"default":     base + s.cfg.TAXIIAPIRootPath + "/",
		"api_roots":   []string{base + s.cfg.TAXIIAPIRootPath + "/"},
	})
}

func (s *Server) handleAPIRoot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, taxiiMediaType, map[string]any{
		"title":              "Synthetic API Root",
		"versions":           []string{taxiiMediaType},
		"max_content_length": 10 * 1024 * 1024,
	})
}

func (s *Server) handleTAXIICollections(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, taxiiMediaType, map[string]any{"collections": s.collectionInfos()})
}

func (s *Server) handleTAXIIObjects(w http.ResponseWriter, r *http.Request) {
	size, err := s.pageSize(r, "limit")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	q := s.query(r, "added_after", size)
	q.Types = feed.ParseTypes(firstParam(r, "types", "match[type]"))
	if s.cfg.TAXIIIndicatorsOnly {
		q.Types = []string{stix.TypeIndicator}
	}

	page, err := s.feed.Objects(r.Context(), mux.Vars(r)["collection_id"], q)
	if err != nil {
		s.writeFeedError(w, err)
		return
	}
	if s.writeValidators(w, page) {
		return
	}
	metrics.ObjectsServed.WithLabelValues("taxii").Add(float64(len(page.Objects)))
	writeJSON(w, http.StatusOK, taxiiMediaType, objectsResponse{
		Objects:      nonNil(page.Objects),
		More:         page.More,
		Next:         page.Next,
		SourceSystem: s.cfg.SourceSystem,
	})
}

func (s *Server) handleTAXIIObject(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	obj, err := s.feed.Object(r.Context(), vars["collection_id"], vars["object_id"])
	if err != nil {
		s.writeFeedError(w, err)
		return
	}
	if s.cfg.TAXIIIndicatorsOnly && obj.Type != stix.TypeIndicator {
		s.writeFeedError(w, feed.ErrObjectNotFound)
		return
	}
	metrics.ObjectsServed.WithLabelValues("taxii_object").Inc()
	writeJSON(w, http.StatusOK, taxiiMediaType, objectsResponse{Objects: []stix.Object{obj}})
}

// query assembles a feed query from the request's parameters and
// conditional headers.
func (s *Server) query(r *http.Request, sinceParam string, size int) feed.Query {
	return feed.Query{
		Since:           r.URL.Query().Get(sinceParam),
		PageSize:        size,
		Cursor:          r.URL.Query().Get("next"),
		IfNoneMatch:     r.Header.Get("If-None-Match"),
		IfModifiedSince: r.Header.Get("If-Modified-Since"),
	}
}

// pageSize reads the first present parameter of names. It returns 0 when
// none is present and an error when the value is not an integer in
// [1, MaxPageSize].
func (s *Server) pageSize(r *http.Request, names ...string) (int, error) {
	maxSize := s.feed.Limits().MaxPageSize
	for _, name := range names {
		if !r.URL.Query().Has(name) {
			continue
		}
		n, err := strconv.Atoi(r.URL.Query().Get(name))
		if err != nil || n < 1 || n > maxSize {
			return 0, fmt.Errorf("%s must be an integer between 1 and %d", name, maxSize)
		}
		return n, nil
	}
	return 0, nil
}

// writeValidators sets the cache headers for page and, when the client's
// copy is current, finishes the response with 304.
func (s *Server) writeValidators(w http.ResponseWriter, page *feed.Page) bool {
	h := w.Header()
	h.Set("ETag", page.Validators.ETag)
	h.Set("Last-Modified", page.Validators.LastModifiedHeader())
	h.Set(snapshotHeader, page.Snapshot)
	if !page.NotModified {
		return false
	}
	metrics.NotModified.WithLabelValues(page.Freshness.String()).Inc()
	w.WriteHeader(http.StatusNotModified)
	return true
}

func (s *Server) writeFeedError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, feed.ErrCollectionNotFound):
		writeError(w, http.StatusNotFound, "Collection not found")
	case errors.Is(err, feed.ErrObjectNotFound):
		writeError(w, http.StatusNotFound, "Object not found")
	case errors.Is(err, shard.ErrRootUnreadable):
		s.logger.Error("data directory unreadable", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Data directory unavailable")
	default:
		s.logger.Error("feed request failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Internal Server Error")
	}
}

func writeJSON(w http.ResponseWriter, status int, contentType string, v any) {
	w.Header().Set("Content-Type", contentType)
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, "application/json", map[string]string{"detail": detail})
}

func firstParam(r *http.Request, names ...string) string {
	for _, name := range names {
		if v := r.URL.Query().Get(name); v != "" {
			return v
		}
	}
	return ""
}

// baseURL is the scheme and host the client used to reach us.
func baseURL(r *http.Request) string {
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	if p := r.Header.Get("X-Forwarded-Proto"); p != "" {
		scheme = strings.TrimSpace(strings.Split(p, ",")[0])
	}
	return scheme + "://" + r.Host
}

func nonNil(objects []stix.Object) []stix.Object {
	if objects == nil {
		return []stix.Object{}
	}
	return objects
}
