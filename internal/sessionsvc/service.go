// Package sessionsvc is the supplemented gRPC session service named in
// original_source/'s grpc/session_service surface: CreateSession,
// GetSession, and a server-streaming ExecuteTurn, exposed over
// google.golang.org/grpc so any gRPC client — not just ariactl or the
// HTTP facade in internal/sessiongw — can drive the §4.12 session API.
//
// No .proto was compiled for this: protoc/codegen is off-limits for this
// build, so the wire messages are plain *structpb.Struct values (a real
// proto.Message with no generated code required) and the grpc.ServiceDesc
// that protoc-gen-go-grpc would normally emit is hand-assembled here,
// the same way it would be if generated.
package sessionsvc

import (
	"context"
	"fmt"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/ariacorp/ariarun/internal/domain"
	"github.com/ariacorp/ariarun/internal/runtime"
)

// ServiceName is the gRPC full service name, the equivalent of a .proto
// package.service declaration.
const ServiceName = "aria.runtime.v1.SessionService"

// Server implements the session service against a wired *runtime.Runtime.
// It is registered on a *grpc.Server with RegisterSessionServiceServer.
type Server struct {
	rt *runtime.Runtime
}

// NewServer builds a Server bound to rt.
func NewServer(rt *runtime.Runtime) *Server {
	return &Server{rt: rt}
}

func (s *Server) createSession(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	userID := stringField(req, "user_id")
	agent := stringField(req, "agent")
	if userID == "" || agent == "" {
		return nil, fmt.Errorf("sessionsvc: create_session requires user_id and agent")
	}
	sess, err := s.rt.CreateSession(ctx, userID, agent)
	if err != nil {
		return nil, err
	}
	return sessionToStruct(sess)
}

func (s *Server) getSession(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	id := stringField(req, "session_id")
	sess, err := s.rt.GetSession(ctx, id)
	if err != nil {
		return nil, err
	}
	return sessionToStruct(sess)
}

func (s *Server) executeTurn(req *structpb.Struct, stream grpc.ServerStream) error {
	sessionID := stringField(req, "session_id")
	input := stringField(req, "input")

	for ev := range s.rt.ExecuteTurn(stream.Context(), sessionID, input) {
		msg, err := turnEventToStruct(ev)
		if err != nil {
			return err
		}
		if err := stream.SendMsg(msg); err != nil {
			return err
		}
	}
	return nil
}

func stringField(s *structpb.Struct, key string) string {
	if s == nil {
		return ""
	}
	if v, ok := s.Fields[key]; ok {
		return v.GetStringValue()
	}
	return ""
}

func sessionToStruct(sess domain.Session) (*structpb.Struct, error) {
	return structpb.NewStruct(map[string]any{
		"id":          sess.ID,
		"user_id":     sess.UserID,
		"agent":       sess.AgentConfig.Name,
		"status":      string(sess.Status),
		"tool_calls":  float64(sess.ToolCalls),
		"tokens_used": float64(sess.TokensUsed),
		"created_at":  sess.CreatedAt.Format(time.RFC3339),
	})
}

func turnEventToStruct(ev runtime.TurnEvent) (*structpb.Struct, error) {
	fields := map[string]any{
		"session_id": ev.SessionID,
		"kind":       ev.Kind,
		"message":    ev.Message,
	}
	if ev.Err != nil {
		fields["error"] = ev.Err.Error()
	}
	if ev.Step != nil {
		fields["step"] = map[string]any{
			"tool_used":      ev.Step.ToolUsed,
			"agent_used":     ev.Step.AgentUsed,
			"container_used": ev.Step.ContainerUsed,
			"success":        ev.Step.Success,
			"duration_ms":    float64(ev.Step.Duration().Milliseconds()),
		}
	}
	if ev.Final != nil && ev.Final.RuntimeContext != nil {
		fields["suggested_action"] = string(ev.Final.SuggestedAction)
		fields["steps_completed"] = float64(len(ev.Final.RuntimeContext.History))
	}
	return structpb.NewStruct(fields)
}
