package server

import (
	"context"
	"encoding/json"
	"io"
	"net"
	nethttp "net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/go-kratos/kratos/v2/middleware/recovery"
	"github.com/go-kratos/kratos/v2/transport/http"
	"github.com/google/uuid"

	"github.com/puneetrinity/LLMsearch/app/llm_search/internal/service"
	"github.com/puneetrinity/LLMsearch/app/llm_search/pkg/config"
	"github.com/puneetrinity/LLMsearch/app/llm_search/pkg/errs"
	"github.com/puneetrinity/LLMsearch/app/llm_search/pkg/model"
)

const (
	OperationSearch = "/llm_search.v1.Search/Search"
	OperationHealth = "/llm_search.v1.Search/Health"

	headerRequestID   = "X-Request-ID"
	headerProcessTime = "X-Process-Time"
	headerAPIKey      = "X-API-Key"

	maxBodyBytes = 64 << 10
)

type ctxKey struct{}

type requestMeta struct {
	id    string
	start time.Time
}

func metaFrom(ctx context.Context) requestMeta {
	m, _ := ctx.Value(ctxKey{}).(requestMeta)
	return m
}

func NewHTTPServer(c *config.Config, s *service.SearchService, logger log.Logger) *http.Server {
	var opts = []http.ServerOption{
		http.Middleware(
			recovery.Recovery(),
		),
		http.Filter(requestIDFilter),
		http.ErrorEncoder(encodeError),
		http.ResponseEncoder(encodeResponse),
	}
	if c.Server.Addr != "" {
		opts = append(opts, http.Address(c.Server.Addr))
	}
	if c.Server.Timeout > 0 {
		opts = append(opts, http.Timeout(c.Server.Timeout))
	}

	srv := http.NewServer(opts...)
	registerRoutes(srv, s)
	log.NewHelper(logger).Infof("http routes registered, addr=%s", c.Server.Addr)
	return srv
}

func registerRoutes(srv *http.Server, s *service.SearchService) {
	r := srv.Route("/")
	r.POST("/api/v1/search", searchHandler(s))
	r.GET("/health", healthHandler(s))
	r.GET("/", func(ctx http.Context) error {
		return ctx.Result(nethttp.StatusOK, s.Info())
	})
}

func searchHandler(s *service.SearchService) http.HandlerFunc {
	return func(ctx http.Context) error {
		var in model.Request
		dec := json.NewDecoder(io.LimitReader(ctx.Request().Body, maxBodyBytes))
		if err := dec.Decode(&in); err != nil {
			return errs.Validation("invalid JSON body: %v", err)
		}
		in.RequestID = metaFrom(ctx.Request().Context()).id
		in.ClientID = clientID(ctx.Request())

		http.SetOperation(ctx, OperationSearch)
		h := ctx.Middleware(func(ctx context.Context, req any) (any, error) {
			return s.Search(ctx, req.(*model.Request))
		})
		out, err := h(ctx, &in)
		if err != nil {
			return err
		}
		return ctx.Result(nethttp.StatusOK, out)
	}
}

func healthHandler(s *service.SearchService) http.HandlerFunc {
	return func(ctx http.Context) error {
		http.SetOperation(ctx, OperationHealth)
		h := ctx.Middleware(func(ctx context.Context, _ any) (any, error) {
			return s.Health(ctx), nil
		})
		out, err := h(ctx, nil)
		if err != nil {
			return err
		}
		return ctx.Result(nethttp.StatusOK, out)
	}
}

// clientID 优先使用 API Key，其次是客户端 IP
func clientID(r *nethttp.Request) string {
	if key := strings.TrimSpace(r.Header.Get(headerAPIKey)); key != "" {
		return "key:" + key
	}
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		return "ip:" + strings.TrimSpace(strings.Split(fwd, ",")[0])
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	return "ip:" + host
}

// requestIDFilter 为每个请求分配追踪 ID 并记录开始时间
func requestIDFilter(next nethttp.Handler) nethttp.Handler {
	return nethttp.HandlerFunc(func(w nethttp.ResponseWriter, r *nethttp.Request) {
		id := r.Header.Get(headerRequestID)
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set(headerRequestID, id)
		ctx := context.WithValue(r.Context(), ctxKey{}, requestMeta{id: id, start: time.Now()})
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func setProcessTime(w nethttp.ResponseWriter, r *nethttp.Request) {
	if m := metaFrom(r.Context()); !m.start.IsZero() {
		w.Header().Set(headerProcessTime, strconv.FormatFloat(time.Since(m.start).Seconds(), 'f', 4, 64))
	}
}

func writeJSON(w nethttp.ResponseWriter, code int, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_, err = w.Write(data)
	return err
}

func encodeResponse(w nethttp.ResponseWriter, r *nethttp.Request, v any) error {
	setProcessTime(w, r)
	return writeJSON(w, nethttp.StatusOK, v)
}

func encodeError(w nethttp.ResponseWriter, r *nethttp.Request, err error) {
	setProcessTime(w, r)
	code, body := errs.ToResponse(err, metaFrom(r.Context()).id)
	_ = writeJSON(w, code, body)
}
