package api

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
)

// NewHTTPHandler routes the HTTP API.
func NewHTTPHandler(s *Service) http.Handler {
	h := &httpHandler{service: s}
	r := mux.NewRouter()
	r.HandleFunc("/healthz", h.health).Methods("GET")
	r.HandleFunc("/api/v1/top", h.topN).Methods("GET")
	r.HandleFunc("/api/v1/intervals/{interval}", h.interval).Methods("GET")
	r.HandleFunc("/api/v1/flows/count", h.flowCount).Methods("GET")
	r.HandleFunc("/api/v1/capture/restart", h.restart).Methods("POST")
	r.HandleFunc("/api/v1/history/{interval}", h.history).Methods("GET")
	r.HandleFunc("/api/v1/talkers/{interval}", h.talkers).Methods("GET")
	r.Handle("/metrics", promhttp.Handler())
	return r
}

type httpHandler struct {
	service *Service
}

func (h *httpHandler) health(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (h *httpHandler) topN(w http.ResponseWriter, r *http.Request) {
	n := 0
	if v := r.URL.Query().Get("n"); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil {
			http.Error(w, fmt.Sprintf("invalid n: %v", err), http.StatusBadRequest)
			return
		}
		n = parsed
	}
	resp, err := h.service.TopN(r.Context(), n)
	if err != nil {
		writeError(w, err)
		return
	}
	writeProto(w, resp)
}

func (h *httpHandler) interval(w http.ResponseWriter, r *http.Request) {
	resp, err := h.service.Interval(mux.Vars(r)["interval"])
	if err != nil {
		writeError(w, err)
		return
	}
	writeProto(w, resp)
}

func (h *httpHandler) flowCount(w http.ResponseWriter, r *http.Request) {
	count, err := h.service.FlowCount(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	resp, err := structpb.NewStruct(map[string]any{"flows": float64(count)})
	if err != nil {
		writeError(w, err)
		return
	}
	writeProto(w, resp)
}

func (h *httpHandler) restart(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, fmt.Sprintf("failed to read request body: %v", err), http.StatusBadRequest)
		return
	}
	// Body: {"interface": "<name>"}
	var req structpb.Struct
	if err := protojson.Unmarshal(body, &req); err != nil {
		http.Error(w, fmt.Sprintf("failed to decode request: %v", err), http.StatusBadRequest)
		return
	}
	iface := req.GetFields()["interface"].GetStringValue()
	if iface == "" {
		http.Error(w, "interface is required", http.StatusBadRequest)
		return
	}
	if err := h.service.RestartCapture(iface); err != nil {
		http.Error(w, fmt.Sprintf("failed to restart capture: %v", err), http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *httpHandler) history(w http.ResponseWriter, r *http.Request) {
	since, until, limit, err := rangeParams(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	resp, err := h.service.History(r.Context(), mux.Vars(r)["interval"], since, until, limit)
	if err != nil {
		writeError(w, err)
		return
	}
	writeProto(w, resp)
}

func (h *httpHandler) talkers(w http.ResponseWriter, r *http.Request) {
	since, until, limit, err := rangeParams(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	resp, err := h.service.TopTalkers(r.Context(), mux.Vars(r)["interval"], since, until, limit)
	if err != nil {
		writeError(w, err)
		return
	}
	writeProto(w, resp)
}

// rangeParams reads the optional since, until (RFC 3339) and limit query
// parameters.
func rangeParams(r *http.Request) (since, until time.Time, limit int, err error) {
	q := r.URL.Query()
	if v := q.Get("since"); v != "" {
		if since, err = time.Parse(time.RFC3339Nano, v); err != nil {
			return since, until, 0, fmt.Errorf("invalid since: %w", err)
		}
	}
	if v := q.Get("until"); v != "" {
		if until, err = time.Parse(time.RFC3339Nano, v); err != nil {
			return since, until, 0, fmt.Errorf("invalid until: %w", err)
		}
	}
	if v := q.Get("limit"); v != "" {
		if limit, err = strconv.Atoi(v); err != nil {
			return since, until, 0, fmt.Errorf("invalid limit: %w", err)
		}
	}
	return since, until, limit, nil
}

func writeError(w http.ResponseWriter, err error) {
	code := http.StatusInternalServerError
	switch {
	case errors.Is(err, errUnknownInterval):
		code = http.StatusNotFound
	case errors.Is(err, errNoHistory):
		code = http.StatusNotImplemented
	}
	http.Error(w, err.Error(), code)
}

func writeProto(w http.ResponseWriter, m proto.Message) {
	jsonBytes, err := protojson.Marshal(m)
	if err != nil {
		http.Error(w, fmt.Sprintf("failed to marshal response: %v", err), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(jsonBytes)
}
