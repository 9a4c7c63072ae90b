package tools

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/jhump/protoreflect/desc"
	"github.com/jhump/protoreflect/dynamic"
	"github.com/jhump/protoreflect/grpcreflect"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	rpb "google.golang.org/grpc/reflection/grpc_reflection_v1alpha"

	"github.com/lumen-lang/lumen/vm"
)

// ---------------------------------------------------------------------------
// gRPC provider
// ---------------------------------------------------------------------------

// GrpcProvider dispatches tool calls as unary RPCs against reflective gRPC
// servers. The tool's Target is the server address and its ID names the
// method as "package.Service/Method". Requests and responses are mapped
// through protobuf dynamic messages, so no generated stubs are needed.
type GrpcProvider struct {
	mu      sync.Mutex
	clients map[string]*grpcClient
}

type grpcClient struct {
	conn      *grpc.ClientConn
	refClient *grpcreflect.Client
}

func NewGrpcProvider() *GrpcProvider {
	return &GrpcProvider{clients: make(map[string]*grpcClient)}
}

func (g *GrpcProvider) client(target string) (*grpcClient, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if c, ok := g.clients[target]; ok {
		return c, nil
	}
	conn, err := grpc.NewClient(target, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("connect %s: %w", target, err)
	}
	c := &grpcClient{
		conn:      conn,
		refClient: grpcreflect.NewClientV1Alpha(context.Background(), rpb.NewServerReflectionClient(conn)),
	}
	g.clients[target] = c
	return c, nil
}

// resolveMethod parses "package.Service/Method" and resolves it through
// server reflection.
func (c *grpcClient) resolveMethod(fullMethod string) (*desc.MethodDescriptor, error) {
	serviceName, methodName, ok := strings.Cut(fullMethod, "/")
	if !ok {
		return nil, fmt.Errorf("invalid method format %q (expected 'service/method')", fullMethod)
	}
	svcDesc, err := c.refClient.ResolveService(serviceName)
	if err != nil {
		return nil, fmt.Errorf("cannot resolve service %s: %w", serviceName, err)
	}
	methodDesc := svcDesc.FindMethodByName(methodName)
	if methodDesc == nil {
		return nil, fmt.Errorf("method %s not found in service %s", methodName, serviceName)
	}
	return methodDesc, nil
}

func (g *GrpcProvider) Invoke(ctx context.Context, decl vm.ToolDecl, args any) (any, error) {
	if decl.Target == "" {
		return nil, fmt.Errorf("tool %q has no target address", decl.Alias)
	}
	c, err := g.client(decl.Target)
	if err != nil {
		return nil, err
	}
	methodDesc, err := c.resolveMethod(decl.ID)
	if err != nil {
		return nil, err
	}
	if methodDesc.IsClientStreaming() || methodDesc.IsServerStreaming() {
		return nil, fmt.Errorf("method %s is streaming; only unary calls are supported", decl.ID)
	}

	reqMsg, err := mapToProto(args, methodDesc.GetInputType())
	if err != nil {
		return nil, fmt.Errorf("request conversion: %w", err)
	}
	respMsg := dynamic.NewMessage(methodDesc.GetOutputType())
	if err := c.conn.Invoke(ctx, "/"+decl.ID, reqMsg, respMsg); err != nil {
		return nil, fmt.Errorf("call failed: %w", err)
	}
	return protoToMap(respMsg)
}

func (g *GrpcProvider) Close() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	var first error
	for target, c := range g.clients {
		c.refClient.Reset()
		if err := c.conn.Close(); err != nil && first == nil {
			first = fmt.Errorf("close %s: %w", target, err)
		}
	}
	g.clients = make(map[string]*grpcClient)
	return first
}

// ---------------------------------------------------------------------------
// Message conversion: native map <-> protobuf
// ---------------------------------------------------------------------------

// mapToProto builds a dynamic request message from a native argument map.
// Unknown keys are skipped rather than rejected: tool schemas evolve ahead
// of callers.
func mapToProto(args any, msgDesc *desc.MessageDescriptor) (*dynamic.Message, error) {
	msg := dynamic.NewMessage(msgDesc)
	fields, ok := args.(map[string]any)
	if !ok {
		if args == nil {
			return msg, nil
		}
		return nil, fmt.Errorf("arguments must be a map, got %T", args)
	}
	for name, val := range fields {
		field := msgDesc.FindFieldByName(name)
		if field == nil {
			continue
		}
		protoVal, err := nativeToProtoField(val, field)
		if err != nil {
			return nil, fmt.Errorf("field %s: %w", name, err)
		}
		if err := msg.TrySetField(field, protoVal); err != nil {
			return nil, fmt.Errorf("setting field %s: %w", name, err)
		}
	}
	return msg, nil
}

func nativeToProtoField(val any, field *desc.FieldDescriptor) (any, error) {
	if field.IsRepeated() {
		list, ok := val.([]any)
		if !ok {
			return nil, fmt.Errorf("expected list for repeated field")
		}
		out := make([]any, len(list))
		for i, e := range list {
			conv, err := nativeToProtoScalar(e, field)
			if err != nil {
				return nil, err
			}
			out[i] = conv
		}
		return out, nil
	}
	return nativeToProtoScalar(val, field)
}

func nativeToProtoScalar(val any, field *desc.FieldDescriptor) (any, error) {
	switch field.GetType().String() {
	case "TYPE_STRING":
		s, ok := val.(string)
		if !ok {
			return nil, fmt.Errorf("expected string, got %T", val)
		}
		return s, nil
	case "TYPE_BOOL":
		b, ok := val.(bool)
		if !ok {
			return nil, fmt.Errorf("expected bool, got %T", val)
		}
		return b, nil
	case "TYPE_INT32", "TYPE_SINT32", "TYPE_SFIXED32":
		n, ok := asInt64(val)
		if !ok {
			return nil, fmt.Errorf("expected integer, got %T", val)
		}
		return int32(n), nil
	case "TYPE_INT64", "TYPE_SINT64", "TYPE_SFIXED64":
		n, ok := asInt64(val)
		if !ok {
			return nil, fmt.Errorf("expected integer, got %T", val)
		}
		return n, nil
	case "TYPE_UINT32", "TYPE_FIXED32":
		n, ok := asInt64(val)
		if !ok {
			return nil, fmt.Errorf("expected integer, got %T", val)
		}
		return uint32(n), nil
	case "TYPE_UINT64", "TYPE_FIXED64":
		n, ok := asInt64(val)
		if !ok {
			return nil, fmt.Errorf("expected integer, got %T", val)
		}
		return uint64(n), nil
	case "TYPE_FLOAT":
		f, ok := asFloat64(val)
		if !ok {
			return nil, fmt.Errorf("expected number, got %T", val)
		}
		return float32(f), nil
	case "TYPE_DOUBLE":
		f, ok := asFloat64(val)
		if !ok {
			return nil, fmt.Errorf("expected number, got %T", val)
		}
		return f, nil
	case "TYPE_BYTES":
		s, ok := val.(string)
		if !ok {
			return nil, fmt.Errorf("expected string, got %T", val)
		}
		return []byte(s), nil
	case "TYPE_MESSAGE":
		return mapToProto(val, field.GetMessageType())
	}
	return nil, fmt.Errorf("unsupported field type %s", field.GetType())
}

func asFloat64(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	}
	if i, ok := asInt64(v); ok {
		return float64(i), true
	}
	return 0, false
}

// protoToMap renders a dynamic response message as a native map,
// descending into nested messages and repeated fields.
func protoToMap(msg *dynamic.Message) (map[string]any, error) {
	out := make(map[string]any)
	for _, field := range msg.GetKnownFields() {
		if !msg.HasField(field) && !field.IsRepeated() {
			continue
		}
		val, err := protoFieldToNative(msg.GetField(field), field)
		if err != nil {
			return nil, fmt.Errorf("field %s: %w", field.GetName(), err)
		}
		out[field.GetName()] = val
	}
	return out, nil
}

func protoFieldToNative(val any, field *desc.FieldDescriptor) (any, error) {
	if field.IsRepeated() && !field.IsMap() {
		list, ok := val.([]any)
		if !ok {
			return []any{}, nil
		}
		out := make([]any, len(list))
		for i, e := range list {
			conv, err := protoScalarToNative(e)
			if err != nil {
				return nil, err
			}
			out[i] = conv
		}
		return out, nil
	}
	return protoScalarToNative(val)
}

func protoScalarToNative(val any) (any, error) {
	switch v := val.(type) {
	case nil:
		return nil, nil
	case bool, string, int64, uint64, float64:
		return v, nil
	case int32:
		return int64(v), nil
	case uint32:
		return int64(v), nil
	case float32:
		return float64(v), nil
	case []byte:
		return string(v), nil
	case *dynamic.Message:
		return protoToMap(v)
	}
	return nil, fmt.Errorf("unsupported proto value %T", val)
}
