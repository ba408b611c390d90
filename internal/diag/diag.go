// Package diag serves local diagnostics: status snapshot, metrics and live record stream.
package diag

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gorilla/mux"
	"github.com/juju/errors"
	"github.com/temoto/flowtele/log2"
)

type Server struct {
	Hub *Hub

	log    *log2.Log
	listen string
	status atomic.Value // []byte
	router *mux.Router
	srv    *http.Server
}

// New metrics may be nil.
func New(listen string, metrics http.Handler, log *log2.Log) *Server {
	self := &Server{
		Hub:    NewHub(log),
		log:    log,
		listen: listen,
		router: mux.NewRouter(),
	}
	self.router.HandleFunc("/status", self.handleStatus).Methods("GET")
	self.router.HandleFunc("/live", self.Hub.serve).Methods("GET")
	if metrics != nil {
		self.router.Handle("/metrics", metrics).Methods("GET")
	}
	return self
}

func (self *Server) Handler() http.Handler { return self.router }

// SetStatus stores immutable JSON copy of v.
func (self *Server) SetStatus(v interface{}) {
	b, err := json.Marshal(v)
	if err != nil {
		self.log.Errorf("diag status encode err=%v", err)
		return
	}
	self.status.Store(b)
}

// Broadcast sends encoded record to /live clients.
func (self *Server) Broadcast(b []byte) { self.Hub.Broadcast(b) }

func (self *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	b, _ := self.status.Load().([]byte)
	if b == nil {
		http.Error(w, "not ready", http.StatusServiceUnavailable)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(b)
}

// Start binds listen address synchronously so config errors surface at boot.
func (self *Server) Start() error {
	ln, err := net.Listen("tcp", self.listen)
	if err != nil {
		return errors.Annotatef(err, "diag listen=%s", self.listen)
	}
	self.srv = &http.Server{Handler: self.router, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := self.srv.Serve(ln); err != nil && err != http.ErrServerClosed {
			self.log.Errorf("diag serve err=%v", err)
		}
	}()
	self.log.Infof("diag listen=%s", ln.Addr())
	return nil
}

func (self *Server) Stop(ctx context.Context) error {
	self.Hub.CloseAll()
	if self.srv == nil {
		return nil
	}
	return errors.Annotate(self.srv.Shutdown(ctx), "diag stop")
}
