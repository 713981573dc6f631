// Package api exposes a read-mostly HTTP surface over a running node, in
// JSON. It is meant for local tooling and monitoring, not for the swarm:
// bind it to loopback.
package api

import (
	"encoding/json"
	"net"
	"net/http"
	"time"

	"github.com/julienschmidt/httprouter"
	"gitlab.com/NebulousLabs/errors"

	"go.filefleet.net/fleetd/build"
)

// Error is the JSON shape of every API error.
type Error struct {
	Message string `json:"message"`
}

// Error implements the error interface.
func (err Error) Error() string {
	return err.Message
}

// WriteError writes an error to the API caller.
func WriteError(w http.ResponseWriter, err Error, code int) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	encodingErr := json.NewEncoder(w).Encode(err)
	if _, isJSONErr := encodingErr.(*json.SyntaxError); isJSONErr {
		// Marshalling should only fail in the event of a developer error.
		build.Critical("failed to encode API error response:", encodingErr)
	}
}

// WriteJSON writes the object to the ResponseWriter. If the encoding fails,
// an error is written instead.
func WriteJSON(w http.ResponseWriter, obj interface{}) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	err := json.NewEncoder(w).Encode(obj)
	if _, isJSONErr := err.(*json.SyntaxError); isJSONErr {
		build.Critical("failed to encode API response:", err)
	}
}

// WriteSuccess writes the HTTP header with status 204 No Content to the
// ResponseWriter. WriteSuccess should only be used to indicate that the
// requested action succeeded AND there is no data to return.
func WriteSuccess(w http.ResponseWriter) {
	w.WriteHeader(http.StatusNoContent)
}

// A Server serves one router over one listener.
type Server struct {
	listener net.Listener
	server   *http.Server
	router   *httprouter.Router
}

// NewServer binds an API server to addr. Routes are registered on Router()
// before Serve is called.
func NewServer(addr string) (*Server, error) {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, errors.AddContext(err, "unable to bind api listener")
	}
	router := httprouter.New()
	srv := &Server{
		listener: listener,
		server: &http.Server{
			Handler:           router,
			ReadHeaderTimeout: 10 * time.Second,
		},
		router: router,
	}
	return srv, nil
}

// Router returns the server's route table.
func (srv *Server) Router() *httprouter.Router {
	return srv.router
}

// Address returns the address the server is bound to.
func (srv *Server) Address() string {
	return srv.listener.Addr().String()
}

// Serve blocks, serving requests until Close is called.
func (srv *Server) Serve() error {
	err := srv.server.Serve(srv.listener)
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Close stops the server.
func (srv *Server) Close() error {
	return srv.server.Close()
}
