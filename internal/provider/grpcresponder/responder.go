// Package grpcresponder implements the Responder collaborator against a
// remote reply service over gRPC. Requests and replies are
// google.protobuf.Struct messages so the service needs no shared stubs:
//
//	request:  {"messages": [{"role": "user", "content": "..."}]}
//	response: {"content": "..."}
package grpcresponder

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"google.golang.org/grpc"
	"google.golang.org/grpc/connectivity"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/rbright/parley/internal/conversation"
	"github.com/rbright/parley/internal/voice"
)

const DefaultMethod = "/parley.v1.Responder/Complete"

var tracer = otel.Tracer("github.com/rbright/parley/internal/provider/grpcresponder")

type Config struct {
	Target        string
	Method        string
	HealthService string
	DialTimeout   time.Duration
	CallTimeout   time.Duration
	DialOptions   []grpc.DialOption
}

type Responder struct {
	conn *grpc.ClientConn
	cfg  Config
}

var _ voice.Responder = (*Responder)(nil)

// Dial connects to the reply service and waits until the channel is ready.
func Dial(ctx context.Context, cfg Config) (*Responder, error) {
	if strings.TrimSpace(cfg.Target) == "" {
		return nil, errors.New("grpc responder target is empty")
	}
	if cfg.Method == "" {
		cfg.Method = DefaultMethod
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = 5 * time.Second
	}

	opts := []grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithKeepaliveParams(keepalive.ClientParameters{
			Time:                10 * time.Second,
			Timeout:             3 * time.Second,
			PermitWithoutStream: true,
		}),
	}
	opts = append(opts, cfg.DialOptions...)

	conn, err := grpc.NewClient(cfg.Target, opts...)
	if err != nil {
		return nil, fmt.Errorf("create grpc client: %w", err)
	}
	conn.Connect()

	readyCtx, cancel := context.WithTimeout(ctx, cfg.DialTimeout)
	defer cancel()
	if err := waitForReady(readyCtx, conn); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("wait for grpc ready: %w", err)
	}

	return &Responder{conn: conn, cfg: cfg}, nil
}

func (r *Responder) Complete(ctx context.Context, messages []conversation.Message) (string, error) {
	ctx, span := tracer.Start(ctx, "grpcresponder.complete")
	defer span.End()
	span.SetAttributes(
		attribute.String("rpc.method", r.cfg.Method),
		attribute.Int("conversation.messages", len(messages)),
	)

	if r.cfg.CallTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.cfg.CallTimeout)
		defer cancel()
	}

	req, err := encodeMessages(messages)
	if err != nil {
		return "", &voice.ResponderError{Err: err}
	}

	resp := &structpb.Struct{}
	if err := r.conn.Invoke(ctx, r.cfg.Method, req, resp); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, status.Code(err).String())
		return "", &voice.ResponderError{Err: fmt.Errorf("invoke %s (%s): %w", r.cfg.Method, status.Code(err), err)}
	}

	content, ok := resp.GetFields()["content"]
	if !ok {
		err := errors.New("reply has no content field")
		span.RecordError(err)
		return "", &voice.ResponderError{Err: err}
	}
	return content.GetStringValue(), nil
}

// Check queries the standard gRPC health service.
func (r *Responder) Check(ctx context.Context) error {
	resp, err := healthpb.NewHealthClient(r.conn).Check(ctx, &healthpb.HealthCheckRequest{Service: r.cfg.HealthService})
	if err != nil {
		return fmt.Errorf("health check: %w", err)
	}
	if resp.GetStatus() != healthpb.HealthCheckResponse_SERVING {
		return fmt.Errorf("reply service status %s", resp.GetStatus())
	}
	return nil
}

func (r *Responder) Close() error {
	return r.conn.Close()
}

func encodeMessages(messages []conversation.Message) (*structpb.Struct, error) {
	items := make([]any, 0, len(messages))
	for _, msg := range messages {
		items = append(items, map[string]any{
			"role":    string(msg.Role),
			"content": msg.Content,
		})
	}
	req, err := structpb.NewStruct(map[string]any{"messages": items})
	if err != nil {
		return nil, fmt.Errorf("encode messages: %w", err)
	}
	return req, nil
}

func waitForReady(ctx context.Context, conn *grpc.ClientConn) error {
	for {
		state := conn.GetState()
		switch state {
		case connectivity.Ready:
			return nil
		case connectivity.Shutdown:
			return errors.New("grpc connection entered shutdown state")
		}

		if !conn.WaitForStateChange(ctx, state) {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("grpc readiness wait timed out in state %s", state.String())
		}
	}
}
