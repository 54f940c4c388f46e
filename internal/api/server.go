package api

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/matheus3301/wptrack/internal/archive"
	"github.com/matheus3301/wptrack/internal/bus"
	"github.com/matheus3301/wptrack/internal/metrics"
	"github.com/matheus3301/wptrack/internal/store"
	"github.com/matheus3301/wptrack/internal/wa"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	grpcstatus "google.golang.org/grpc/status"
)

// watchBuffer is the per-stream bus buffer; a slower client misses events.
const watchBuffer = 64

// Service implements ArchiveServer on top of the archive facade.
type Service struct {
	archive   *archive.Service
	bus       *bus.Bus
	profile   string
	startedAt time.Time
	logger    *zap.Logger

	closing   chan struct{}
	closeOnce sync.Once
}

// NewService creates the RPC handlers for one profile.
func NewService(a *archive.Service, b *bus.Bus, profile string, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		archive:   a,
		bus:       b,
		profile:   profile,
		startedAt: time.Now(),
		logger:    logger.Named("api"),
		closing:   make(chan struct{}),
	}
}

// Shutdown ends every open Watch stream so a graceful server stop can finish.
func (s *Service) Shutdown() {
	s.closeOnce.Do(func() { close(s.closing) })
}

func (s *Service) Contacts(ctx context.Context, _ *ContactsRequest) (*ContactsResponse, error) {
	contacts, err := s.archive.Contacts(ctx)
	if err != nil {
		return nil, toStatus(err)
	}
	return &ContactsResponse{Contacts: contacts}, nil
}

func (s *Service) History(ctx context.Context, req *HistoryRequest) (*HistoryResponse, error) {
	if strings.TrimSpace(req.ChatID) == "" {
		return nil, grpcstatus.Error(codes.InvalidArgument, "chat_id is required")
	}
	msgs, err := s.archive.History(ctx, req.ChatID, req.Limit)
	if err != nil {
		return nil, toStatus(err)
	}
	return &HistoryResponse{Messages: msgs}, nil
}

func (s *Service) MediaInfo(ctx context.Context, req *MediaInfoRequest) (*MediaInfoResponse, error) {
	if strings.TrimSpace(req.MessageID) == "" {
		return nil, grpcstatus.Error(codes.InvalidArgument, "message_id is required")
	}
	info, err := s.archive.MediaInfo(ctx, req.MessageID)
	if err != nil {
		return nil, toStatus(err)
	}
	return &MediaInfoResponse{Media: *info}, nil
}

func (s *Service) Export(ctx context.Context, req *ExportRequest) (*ExportResponse, error) {
	if strings.TrimSpace(req.ChatID) == "" {
		return nil, grpcstatus.Error(codes.InvalidArgument, "chat_id is required")
	}
	if !filepath.IsAbs(req.Dir) {
		return nil, grpcstatus.Error(codes.InvalidArgument, "dir must be an absolute path")
	}
	res, err := s.archive.Export(ctx, req.ChatID, req.Dir)
	if err != nil {
		return nil, toStatus(err)
	}
	return &ExportResponse{Result: *res}, nil
}

func (s *Service) Send(ctx context.Context, req *SendRequest) (*SendResponse, error) {
	if strings.TrimSpace(req.ChatID) == "" || strings.TrimSpace(req.Text) == "" {
		return nil, grpcstatus.Error(codes.InvalidArgument, "chat_id and text are required")
	}
	res, err := s.archive.Send(ctx, req.ChatID, req.Text)
	if err != nil {
		return nil, toStatus(err)
	}
	return &SendResponse{Result: res}, nil
}

func (s *Service) Logout(ctx context.Context, _ *LogoutRequest) (*LogoutResponse, error) {
	if err := s.archive.Logout(ctx); err != nil {
		return nil, toStatus(err)
	}
	return &LogoutResponse{}, nil
}

func (s *Service) Status(ctx context.Context, _ *StatusRequest) (*StatusResponse, error) {
	rep, err := s.archive.Status(ctx)
	if err != nil {
		return nil, toStatus(err)
	}
	return &StatusResponse{
		Status:  *rep,
		Profile: s.profile,
		PID:     os.Getpid(),
		Uptime:  time.Since(s.startedAt),
	}, nil
}

func (s *Service) Watch(req *WatchRequest, stream WatchStream) error {
	ch, unsub := s.bus.Subscribe(req.Namespace, watchBuffer)
	defer unsub()

	for {
		select {
		case evt, ok := <-ch:
			if !ok {
				return nil
			}
			out := &WatchEvent{Kind: evt.Kind, Timestamp: evt.Timestamp}
			if evt.Payload != nil {
				payload, err := json.Marshal(evt.Payload)
				if err != nil {
					s.logger.Warn("unencodable bus payload", zap.String("kind", evt.Kind), zap.Error(err))
					continue
				}
				out.Payload = payload
			}
			if err := stream.Send(out); err != nil {
				return err
			}
		case <-stream.Context().Done():
			return nil
		case <-s.closing:
			return nil
		}
	}
}

// toStatus maps domain errors onto gRPC codes.
func toStatus(err error) error {
	switch {
	case errors.Is(err, archive.ErrNotFound):
		return grpcstatus.Error(codes.NotFound, err.Error())
	case errors.Is(err, wa.ErrTransport), errors.Is(err, store.ErrDatabaseUnavailable):
		return grpcstatus.Error(codes.Unavailable, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return grpcstatus.Error(codes.DeadlineExceeded, err.Error())
	case errors.Is(err, context.Canceled):
		return grpcstatus.Error(codes.Canceled, err.Error())
	default:
		return grpcstatus.Error(codes.Internal, err.Error())
	}
}

// UnaryMetrics counts unary RPCs by method and resulting code.
func UnaryMetrics(m *metrics.Metrics) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		resp, err := handler(ctx, req)
		m.RPCs.WithLabelValues(methodName(info.FullMethod), grpcstatus.Code(err).String()).Inc()
		return resp, err
	}
}

// StreamMetrics counts streaming RPCs when they end.
func StreamMetrics(m *metrics.Metrics) grpc.StreamServerInterceptor {
	return func(srv any, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		err := handler(srv, ss)
		m.RPCs.WithLabelValues(methodName(info.FullMethod), grpcstatus.Code(err).String()).Inc()
		return err
	}
}

func methodName(full string) string {
	if i := strings.LastIndex(full, "/"); i >= 0 {
		return full[i+1:]
	}
	return full
}
