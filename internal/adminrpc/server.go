package adminrpc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/MarkoPoloResearchLab/terminus/internal/gateway"
	"github.com/MarkoPoloResearchLab/terminus/pkg/ledger"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

const (
	errorPrefix = "*** "

	fieldSuccess    = "success"
	fieldName       = "name"
	fieldNames      = "names"
	fieldMsats      = "msats"
	fieldCap        = "cap"
	fieldBeacon     = "beacon"
	fieldSharedSeed = "shared_seed"
)

var errUnknownMethod = errors.New("unknown method")

// Admin is the gateway surface the server drives.
type Admin interface {
	Create(ctx context.Context, msats string, base string, capRaw string) (gateway.CreateResult, error)
	Remove(ctx context.Context, name string) error
	Connect(ctx context.Context, name string, rawBeacon string) (gateway.ConnectResult, error)
	Listen(ctx context.Context, name string, rawSeed string) (gateway.ListenResult, error)
	Clear(ctx context.Context, name string) error
	GetInfo() gateway.Info
	GetAccountInfo(names ...string) []ledger.AccountAttributes
	GetAccountReceipts(name string) ([]ledger.ReceiptSession, error)
}

// Server implements Handler on top of Admin.
type Server struct {
	admin Admin
}

// NewServer constructs a Server.
func NewServer(admin Admin) *Server {
	return &Server{admin: admin}
}

func (server *Server) Handle(ctx context.Context, method string, request *structpb.Struct) (*structpb.Struct, error) {
	response, err := server.dispatch(ctx, method, request)
	if err != nil {
		return nil, mapToGRPCError(err)
	}
	response[fieldSuccess] = true
	return newStruct(response)
}

func (server *Server) dispatch(ctx context.Context, method string, request *structpb.Struct) (map[string]any, error) {
	fields := request.AsMap()
	switch method {
	case MethodGetInfo:
		info := server.admin.GetInfo()
		return map[string]any{"accounts": info.Accounts, "summary": info.Summary}, nil
	case MethodGetAccountInfo:
		return map[string]any{"accounts": server.admin.GetAccountInfo(stringList(fields, fieldNames)...)}, nil
	case MethodGetAccountReceipts:
		name := stringField(fields, fieldName)
		receipts, err := server.admin.GetAccountReceipts(name)
		if err != nil {
			return nil, err
		}
		return map[string]any{fieldName: name, "receipts": receipts}, nil
	case MethodCreate:
		result, err := server.admin.Create(ctx, stringField(fields, fieldMsats), stringField(fields, fieldName), stringField(fields, fieldCap))
		if err != nil {
			return nil, err
		}
		return map[string]any{fieldName: result.Name, "wad": result.Wad.String(), fieldCap: result.Cap.String()}, nil
	case MethodRemove:
		name := stringField(fields, fieldName)
		if err := server.admin.Remove(ctx, name); err != nil {
			return nil, err
		}
		return map[string]any{fieldName: name}, nil
	case MethodConnect:
		result, err := server.admin.Connect(ctx, stringField(fields, fieldName), stringField(fields, fieldBeacon))
		if err != nil {
			return nil, err
		}
		return map[string]any{fieldName: result.Name, "location": result.Location}, nil
	case MethodListen:
		result, err := server.admin.Listen(ctx, stringField(fields, fieldName), stringField(fields, fieldSharedSeed))
		if err != nil {
			return nil, err
		}
		return map[string]any{fieldName: result.Name, fieldBeacon: result.Beacon}, nil
	case MethodClear:
		name := stringField(fields, fieldName)
		if err := server.admin.Clear(ctx, name); err != nil {
			return nil, err
		}
		return map[string]any{fieldName: name}, nil
	default:
		return nil, fmt.Errorf("%w: %s", errUnknownMethod, method)
	}
}

// LoggingInterceptor logs every admin call with its outcome.
func LoggingInterceptor(logger *zap.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, request any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		started := time.Now()
		response, err := handler(ctx, request)
		fields := []zap.Field{
			zap.String("method", info.FullMethod),
			zap.Duration("elapsed", time.Since(started)),
			zap.Stringer("code", status.Code(err)),
		}
		if err != nil {
			logger.Warn("admin call failed", append(fields, zap.Error(err))...)
		} else {
			logger.Info("admin call", fields...)
		}
		return response, err
	}
}

func mapToGRPCError(source error) error {
	message := errorPrefix + source.Error()
	if errors.Is(source, errUnknownMethod) {
		return status.Error(codes.Unimplemented, message)
	}
	if errors.Is(source, ledger.ErrUnknownAccount) {
		return status.Error(codes.NotFound, message)
	}
	switch ledger.KindOf(source) {
	case ledger.ErrorKindValidation:
		if errors.Is(source, ledger.ErrAccountHasConnections) || errors.Is(source, ledger.ErrMaxBeaconsExceeded) {
			return status.Error(codes.FailedPrecondition, message)
		}
		if errors.Is(source, ledger.ErrDuplicateSharedSeed) || errors.Is(source, ledger.ErrAccountExists) {
			return status.Error(codes.AlreadyExists, message)
		}
		return status.Error(codes.InvalidArgument, message)
	case ledger.ErrorKindBalance:
		return status.Error(codes.FailedPrecondition, message)
	case ledger.ErrorKindCollision:
		return status.Error(codes.Aborted, message)
	case ledger.ErrorKindCollaborator:
		return status.Error(codes.Unavailable, message)
	default:
		return status.Error(codes.Internal, message)
	}
}

// newStruct converts a response through its JSON form so domain types keep
// their json tags on the wire.
func newStruct(values map[string]any) (*structpb.Struct, error) {
	encoded, err := json.Marshal(values)
	if err != nil {
		return nil, status.Error(codes.Internal, errorPrefix+err.Error())
	}
	var plain map[string]any
	if err := json.Unmarshal(encoded, &plain); err != nil {
		return nil, status.Error(codes.Internal, errorPrefix+err.Error())
	}
	response, err := structpb.NewStruct(plain)
	if err != nil {
		return nil, status.Error(codes.Internal, errorPrefix+err.Error())
	}
	return response, nil
}

func stringField(fields map[string]any, key string) string {
	value, ok := fields[key]
	if !ok || value == nil {
		return ""
	}
	switch typed := value.(type) {
	case string:
		return typed
	case float64:
		return strconv.FormatFloat(typed, 'f', -1, 64)
	default:
		return fmt.Sprint(value)
	}
}

func stringList(fields map[string]any, key string) []string {
	values, ok := fields[key].([]any)
	if !ok {
		return nil
	}
	names := make([]string, 0, len(values))
	for _, value := range values {
		if text, ok := value.(string); ok {
			names = append(names, text)
		}
	}
	return names
}
