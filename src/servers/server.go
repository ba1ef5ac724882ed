// Package servers exposes the local control surface: a JSON API over HTTP for
// the overlay UI, an SSE stream for push updates, and prometheus metrics.
package servers

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/rematch-coach/rematch-coach/src/configs"
	"github.com/rematch-coach/rematch-coach/src/instance"
	"github.com/rematch-coach/rematch-coach/src/interfaces"
	applog "github.com/rematch-coach/rematch-coach/src/log"
	appsentry "github.com/rematch-coach/rematch-coach/src/pkg/sentry"
)

type Server struct {
	server *http.Server
}

type commonResp struct {
	ErrNo  int         `json:"err_no"`
	ErrMsg string      `json:"err_msg"`
	Data   interface{} `json:"data,omitempty"`
}

func writeJSON(w http.ResponseWriter, data interface{}) {
	writeJsonWithStatusCode(w, http.StatusOK, data)
}

func writeJsonWithStatusCode(w http.ResponseWriter, code int, data interface{}) {
	b, err := json.Marshal(data)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_, _ = w.Write(b)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJsonWithStatusCode(w, code, commonResp{ErrNo: code, ErrMsg: msg})
}

func NewServer(ctx context.Context) *Server {
	inst := instance.GetInstance(ctx)
	config := configs.GetCurrentConfig()
	router := mux.NewRouter()
	router.Use(logMiddleware)

	apiRoute := router.PathPrefix("/api").Subrouter()
	apiRoute.HandleFunc("/info", getAppInfo).Methods(http.MethodGet)
	apiRoute.HandleFunc("/match/current", getCurrentMatch).Methods(http.MethodGet)
	apiRoute.HandleFunc("/match/start", postMatchStart).Methods(http.MethodPost)
	apiRoute.HandleFunc("/match/goal", postMatchGoal).Methods(http.MethodPost)
	apiRoute.HandleFunc("/match/end", postMatchEnd).Methods(http.MethodPost)
	apiRoute.HandleFunc("/match/record", postMatchRecord).Methods(http.MethodPost)
	apiRoute.HandleFunc("/records", getRecords).Methods(http.MethodGet)
	apiRoute.HandleFunc("/records/{id}", getRecord).Methods(http.MethodGet)
	apiRoute.HandleFunc("/prompt/reply", postPromptReply).Methods(http.MethodPost)
	apiRoute.HandleFunc("/settings", getSettings).Methods(http.MethodGet)
	apiRoute.HandleFunc("/settings", putSettings).Methods(http.MethodPut)
	apiRoute.HandleFunc("/sse", sseHandler).Methods(http.MethodGet)

	router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	httpServer := &http.Server{
		Addr:        config.RPC.Bind,
		Handler:     router,
		BaseContext: func(net.Listener) context.Context { return ctx },
	}
	s := &Server{server: httpServer}
	inst.Server = s
	return s
}

func (s *Server) Start(ctx context.Context) error {
	inst := instance.GetInstance(ctx)
	inst.WaitGroup.Add(1)
	RegisterSSEEventListeners(inst)
	appsentry.Go(func() {
		switch err := s.server.ListenAndServe(); err {
		case nil, http.ErrServerClosed:
		default:
			applog.GetLogger().WithError(err).Error("http server exited")
		}
	})
	applog.GetLogger().Infof("http server start at %s", s.server.Addr)
	return nil
}

func (s *Server) Close(ctx context.Context) {
	inst := instance.GetInstance(ctx)
	defer inst.WaitGroup.Done()
	GetSSEHub().Close()
	c, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := s.server.Shutdown(c); err != nil {
		applog.GetLogger().WithError(err).Error("http server shutdown")
	}
}

var _ interfaces.Module = (*Server)(nil)
