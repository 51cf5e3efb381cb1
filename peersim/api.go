package peersim

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/scratchomised/scratchomised-sdk-go/scratchomised/rest"
)

func (s *Server) routes() *mux.Router {
	r := mux.NewRouter()

	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/objects", s.handleListObjects).Methods(http.MethodGet)
	api.HandleFunc("/objects", s.handleAddObject).Methods(http.MethodPost)
	api.HandleFunc("/objects/{id}", s.handleRemoveObject).Methods(http.MethodDelete)
	api.HandleFunc("/objects/{id}/properties/{name}", s.handleSetProperty).Methods(http.MethodPut)
	api.HandleFunc("/objects/{id}/click", s.handleClick).Methods(http.MethodPost)
	api.HandleFunc("/test", s.handleTest).Methods(http.MethodPost)
	api.HandleFunc("/clients", s.handleClients).Methods(http.MethodGet)
	api.HandleFunc("/clients/close", s.handleCloseClients).Methods(http.MethodPost)
	api.HandleFunc("/clients/drop", s.handleDropClients).Methods(http.MethodPost)

	r.HandleFunc("/", s.serveWS)
	r.HandleFunc("/ws", s.serveWS)
	return r
}

func (s *Server) handleListObjects(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.Objects())
}

func (s *Server) handleAddObject(w http.ResponseWriter, r *http.Request) {
	var obj rest.Object
	if !readJSON(w, r, &obj) {
		return
	}
	if obj == nil {
		writeError(w, http.StatusBadRequest, "object body required")
		return
	}
	if _, ok := obj["id"]; ok && obj.ID() == "" {
		writeError(w, http.StatusBadRequest, "id must be a non-empty string")
		return
	}
	writeJSON(w, http.StatusCreated, s.AddObject(obj))
}

func (s *Server) handleRemoveObject(w http.ResponseWriter, r *http.Request) {
	if err := s.RemoveObject(mux.Vars(r)["id"]); err != nil {
		writeErr(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleSetProperty(w http.ResponseWriter, r *http.Request) {
	var req rest.PropertyRequest
	if !readJSON(w, r, &req) {
		return
	}
	vars := mux.Vars(r)
	obj, err := s.SetProperty(vars["id"], vars["name"], req.Value)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, obj)
}

func (s *Server) handleClick(w http.ResponseWriter, r *http.Request) {
	n, err := s.Click(mux.Vars(r)["id"])
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rest.CountResponse{Count: n})
}

func (s *Server) handleTest(w http.ResponseWriter, r *http.Request) {
	var req rest.TestRequest
	if !readJSON(w, r, &req) {
		return
	}
	writeJSON(w, http.StatusOK, rest.CountResponse{Count: s.SendTest(req.Message)})
}

func (s *Server) handleClients(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.Clients())
}

func (s *Server) handleCloseClients(w http.ResponseWriter, r *http.Request) {
	var req rest.CloseRequest
	if !readJSON(w, r, &req) {
		return
	}
	if req.Code == 0 {
		req.Code = websocket.CloseNormalClosure
	}
	if req.Code < 1000 || req.Code > 4999 || req.Code == websocket.CloseNoStatusReceived || req.Code == websocket.CloseAbnormalClosure {
		writeError(w, http.StatusBadRequest, "close code cannot be sent")
		return
	}
	writeJSON(w, http.StatusOK, rest.CountResponse{Count: s.CloseAll(req.Code, req.Reason)})
}

func (s *Server) handleDropClients(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, rest.CountResponse{Count: s.DropAll()})
}

// readJSON decodes an optional body into dest and reports whether the
// handler should go on.
func readJSON(w http.ResponseWriter, r *http.Request, dest any) bool {
	if r.Body == nil || r.ContentLength == 0 {
		return true
	}
	if err := json.NewDecoder(r.Body).Decode(dest); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return false
	}
	return true
}

func writeErr(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrUnknownObject):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, ErrReadOnlyProperty), errors.Is(err, ErrBadValue):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, rest.ErrorResponse{Error: msg})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
