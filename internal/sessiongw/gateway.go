// Package sessiongw is the grpc-gateway/v2 HTTP facade for the session
// service in internal/sessionsvc: the teacher's pkg/transport/jsonrpc_handler.go
// bridges its own streaming service onto raw HTTP/SSE by hand rather than
// through generated gateway stubs, and this package does the same thing for
// a real grpc-gateway dependency — reusing its runtime.JSONPb marshaler and
// runtime.HTTPStatusFromCode mapping (the two stable entry points generated
// *.pb.gw.go files call) instead of the ServeMux pattern machinery, since
// that machinery is only reachable through protoc-gen-grpc-gateway codegen.
package sessiongw

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	gwruntime "github.com/grpc-ecosystem/grpc-gateway/v2/runtime"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/ariacorp/ariarun/internal/sessionsvc"
)

var marshaler = &gwruntime.JSONPb{}

// Handler is the HTTP surface New builds: "POST /v1/sessions",
// "GET /v1/sessions/{id}", and "POST /v1/sessions/{id}/turns" (SSE).
type Handler struct {
	client *sessionsvc.Client
}

// New builds the gateway handler atop an already-dialed session service client.
func New(client *sessionsvc.Client) http.Handler {
	h := &Handler{client: client}

	r := chi.NewRouter()
	r.Post("/v1/sessions", h.createSession)
	r.Get("/v1/sessions/{id}", h.getSession)
	r.Post("/v1/sessions/{id}/turns", h.executeTurn)
	return r
}

func (h *Handler) createSession(w http.ResponseWriter, r *http.Request) {
	var body struct {
		UserID string `json:"user_id"`
		Agent  string `json:"agent"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	out, err := h.client.CreateSession(r.Context(), body.UserID, body.Agent)
	if err != nil {
		writeGRPCError(w, err)
		return
	}
	writeStruct(w, http.StatusOK, out)
}

func (h *Handler) getSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	out, err := h.client.GetSession(r.Context(), id)
	if err != nil {
		writeGRPCError(w, err)
		return
	}
	writeStruct(w, http.StatusOK, out)
}

// executeTurn proxies the server-streaming ExecuteTurn RPC onto SSE,
// mirroring the teacher's handleStreamingMessage: set the event-stream
// headers, then write one "event: <kind>\ndata: <json>\n\n" frame per
// message and flush immediately.
func (h *Handler) executeTurn(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var body struct {
		Input string `json:"input"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	stream, err := h.client.ExecuteTurn(r.Context(), id, body.Input)
	if err != nil {
		writeGRPCError(w, err)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	for {
		msg := new(structpb.Struct)
		if err := stream.RecvMsg(msg); err != nil {
			if !errors.Is(err, io.EOF) {
				fmt.Fprintf(w, "event: error\ndata: %q\n\n", err.Error())
				flusher.Flush()
			}
			return
		}

		payload, err := marshaler.Marshal(msg)
		if err != nil {
			continue
		}
		kind := "message"
		if v, ok := msg.Fields["kind"]; ok {
			kind = v.GetStringValue()
		}
		fmt.Fprintf(w, "event: %s\ndata: %s\n\n", kind, payload)
		flusher.Flush()
	}
}

func writeStruct(w http.ResponseWriter, code int, s *structpb.Struct) {
	payload, err := marshaler.Marshal(s)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	w.Write(payload)
}

func writeGRPCError(w http.ResponseWriter, err error) {
	st, _ := status.FromError(err)
	http.Error(w, st.Message(), gwruntime.HTTPStatusFromCode(st.Code()))
}
