// https://github.com/jerryryle/odkey
//
// Copyright (c) The ODKey Authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

// Package http exposes the bearer-token-authenticated HTTP control
// plane (spec.md §4.H "The HTTP surface"): a resource model equivalent
// to the USB raw-HID command set, served over a gvisor userspace
// netstack exactly the way the teacher's example/web_server.go stands
// up its demo server with gonet.NewListener plus net/http.Server.
package http

import (
	"encoding/binary"
	"errors"
	"io"
	"log"
	"net/http"

	"gvisor.dev/gvisor/pkg/tcpip"
	"gvisor.dev/gvisor/pkg/tcpip/adapters/gonet"
	"gvisor.dev/gvisor/pkg/tcpip/network/ipv4"
	"gvisor.dev/gvisor/pkg/tcpip/stack"

	"github.com/jerryryle/odkey/cmdbus"
	"github.com/jerryryle/odkey/config"
	"github.com/jerryryle/odkey/handlers"
	"github.com/jerryryle/odkey/store"
)

// MaxProgramUploadBytes bounds a POST /api/program body the same way
// the RAM store variant bounds an upload (spec.md §4.F).
const MaxProgramUploadBytes = 1 << 20

// Server is the HTTP control-plane surface. It calls straight into
// handlers.Handlers with store.HttpChannel as the owner tag, since the
// HTTP surface uses a single streaming body per request rather than
// the USB bus's chunked upload protocol.
type Server struct {
	handlers *handlers.Handlers
	apiKey   string

	mux *http.ServeMux
}

// New returns a Server bound to h, requiring apiKey as a bearer token
// on every request. The caller (board wiring) is responsible for not
// constructing a Server at all when config's http_api_key is unset,
// per spec.md §6's "unset disables HTTP".
func New(h *handlers.Handlers, apiKey string) *Server {
	s := &Server{handlers: h, apiKey: apiKey, mux: http.NewServeMux()}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.mux.HandleFunc("/api/program", s.auth(s.handleProgram))
	s.mux.HandleFunc("/api/program/execute", s.auth(s.handleProgramExecute))
	s.mux.HandleFunc("/api/nvs/", s.auth(s.handleNVS))
	s.mux.HandleFunc("/api/log", s.auth(s.handleLog))
}

// Serve accepts connections on the given netstack/address and blocks
// serving the HTTP API, mirroring startWebServer's
// gonet.NewListener-plus-http.Server wiring in the teacher's
// example/web_server.go (minus the TLS-demo scaffolding, which this
// API's bearer-token model replaces).
func (s *Server) Serve(stk *stack.Stack, addr tcpip.Address, port uint16, nic tcpip.NICID) error {
	full := tcpip.FullAddress{Addr: addr, Port: port, NIC: nic}
	listener, err := gonet.NewListener(stk, full, ipv4.ProtocolNumber)
	if err != nil {
		return err
	}

	srv := &http.Server{Handler: s.mux}
	log.Printf("http: serving api on %s:%d", addr, port)
	return srv.Serve(listener)
}

// ServeMux exposes the handler tree directly, for tests that drive it
// with httptest rather than a real netstack listener.
func (s *Server) ServeMux() http.Handler { return s.mux }

func (s *Server) auth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		const prefix = "Bearer "
		h := r.Header.Get("Authorization")
		if len(h) <= len(prefix) || h[:len(prefix)] != prefix || h[len(prefix):] != s.apiKey {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		next(w, r)
	}
}

func (s *Server) handleProgram(w http.ResponseWriter, r *http.Request) {
	target := targetFromQuery(r)

	switch r.Method {
	case http.MethodPost:
		body, err := io.ReadAll(io.LimitReader(r.Body, MaxProgramUploadBytes+1))
		if err != nil {
			writeError(w, err)
			return
		}
		if len(body) > MaxProgramUploadBytes {
			writeStatus(w, http.StatusBadRequest, store.ErrBadSize)
			return
		}

		n := uint32(len(body))
		if err := s.handlers.ProgramStart(target, n, store.HttpChannel); err != nil {
			writeError(w, err)
			return
		}
		if err := s.handlers.ProgramChunk(target, body, store.HttpChannel); err != nil {
			writeError(w, err)
			return
		}
		if err := s.handlers.ProgramFinish(target, n, store.HttpChannel); err != nil {
			writeError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)

	case http.MethodGet:
		program, _, err := s.handlers.ProgramRead(target)
		if err != nil {
			writeError(w, err)
			return
		}
		w.Header().Set("Content-Type", "application/octet-stream")
		_, _ = w.Write(program)

	case http.MethodDelete:
		if err := s.handlers.ProgramErase(target); err != nil {
			writeError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)

	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (s *Server) handleProgramExecute(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	target := targetFromQuery(r)
	if err := s.handlers.ProgramExecute(target); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleNVS(w http.ResponseWriter, r *http.Request) {
	key := r.URL.Path[len("/api/nvs/"):]
	if err := config.ValidateKey(key); err != nil {
		writeStatus(w, http.StatusBadRequest, err)
		return
	}

	switch r.Method {
	case http.MethodPost:
		body, err := io.ReadAll(io.LimitReader(r.Body, config.MaxValueLen+1))
		if err != nil {
			writeError(w, err)
			return
		}
		if len(body) > config.MaxValueLen {
			writeStatus(w, http.StatusBadRequest, config.ErrValueTooLarge)
			return
		}

		t, err := typeFromQuery(r, len(body))
		if err != nil {
			writeStatus(w, http.StatusBadRequest, err)
			return
		}
		if err := s.handlers.ConfigSet(key, t, body); err != nil {
			writeError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)

	case http.MethodGet:
		t, value, err := s.handlers.ConfigGet(key)
		if err != nil {
			writeError(w, err)
			return
		}
		w.Header().Set("X-ODKey-Type", typeName(t))
		w.Header().Set("Content-Type", "application/octet-stream")
		_, _ = w.Write(value)

	case http.MethodDelete:
		if err := s.handlers.ConfigDelete(key); err != nil {
			writeError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)

	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (s *Server) handleLog(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet, http.MethodPost:
		reader := s.handlers.LogSnapshot()
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		for {
			chunk := reader.ReadChunk(4096)
			if len(chunk) == 0 {
				break
			}
			if _, err := w.Write(chunk); err != nil {
				return
			}
		}

	case http.MethodDelete:
		s.handlers.LogClear()
		w.WriteHeader(http.StatusNoContent)

	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func targetFromQuery(r *http.Request) cmdbus.ProgramTarget {
	if r.URL.Query().Get("store") == "ram" {
		return cmdbus.TargetRAM
	}
	return cmdbus.TargetFlash
}

func typeFromQuery(r *http.Request, valueLen int) (config.Type, error) {
	switch r.URL.Query().Get("type") {
	case "u32", "":
		if valueLen != 4 {
			return 0, errors.New("http: u32 value must be 4 bytes")
		}
		return config.TypeU32, nil
	case "string":
		return config.TypeString, nil
	case "bytes":
		return config.TypeBytes, nil
	default:
		return 0, errors.New("http: unknown type")
	}
}

func typeName(t config.Type) string {
	switch t {
	case config.TypeU32:
		return "u32"
	case config.TypeString:
		return "string"
	default:
		return "bytes"
	}
}

// writeError maps the error taxonomy of spec.md §7 to HTTP status
// codes per SPEC_FULL.md's "HTTP resource handlers mirror the USB
// command set" supplement.
func writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, store.ErrNoProgram), errors.Is(err, config.ErrNotFound):
		writeStatus(w, http.StatusNotFound, err)
	case errors.Is(err, store.ErrBadSize),
		errors.Is(err, store.ErrOverflowExpected),
		errors.Is(err, config.ErrKeyLengthInvalid),
		errors.Is(err, config.ErrValueTooLarge),
		errors.Is(err, config.ErrTypeMismatch):
		writeStatus(w, http.StatusBadRequest, err)
	case errors.Is(err, store.ErrStateMismatch),
		errors.Is(err, store.ErrSourceMismatch),
		errors.Is(err, cmdbus.ErrTransferStateMismatch),
		errors.Is(err, handlers.ErrVMBusy):
		writeStatus(w, http.StatusConflict, err)
	case errors.Is(err, store.ErrBackingIoFailure):
		writeStatus(w, http.StatusInternalServerError, err)
	default:
		writeStatus(w, http.StatusInternalServerError, err)
	}
}

func writeStatus(w http.ResponseWriter, code int, err error) {
	if err == nil {
		w.WriteHeader(code)
		return
	}
	http.Error(w, err.Error(), code)
}
