package ipc

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/rpc"
	"net/rpc/jsonrpc"
	"os"
	"sync"

	"github.com/google/uuid"

	"daqserver/internal/faults"
	"daqserver/internal/history"
	"daqserver/internal/logging"
	"daqserver/internal/session"
)

// SessionHistory supplies past sessions to the Sessions method.
type SessionHistory interface {
	Recent(ctx context.Context, limit int) ([]history.Record, error)
}

// Server exposes a session manager via JSON-RPC over TCP.
type Server struct {
	listener  net.Listener
	rpcServer *rpc.Server
	logger    *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	connMu sync.Mutex
	conns  map[net.Conn]struct{}
}

// NewServer listens on addr and registers the Daq service. history may be nil.
func NewServer(ctx context.Context, addr string, manager *session.Manager, sessions SessionHistory, logger *slog.Logger) (*Server, error) {
	if manager == nil {
		return nil, errors.New("ipc server requires a session manager")
	}
	logger = logging.NewComponentLogger(logger, "ipc")

	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen on %s: %w", addr, err)
	}

	rpcServer := rpc.NewServer()
	svc := &service{manager: manager, history: sessions, logger: logger, ctx: ctx, pid: os.Getpid()}
	if err := rpcServer.RegisterName(ServiceName, svc); err != nil {
		listener.Close()
		return nil, fmt.Errorf("register rpc service: %w", err)
	}

	serverCtx, cancel := context.WithCancel(ctx)
	return &Server{
		listener:  listener,
		rpcServer: rpcServer,
		logger:    logger,
		ctx:       serverCtx,
		cancel:    cancel,
		conns:     make(map[net.Conn]struct{}),
	}, nil
}

// Addr returns the bound listen address.
func (s *Server) Addr() net.Addr {
	return s.listener.Addr()
}

// Serve starts accepting RPC connections until Close is called.
func (s *Server) Serve() {
	s.logger.Info("rpc server listening", logging.String("address", s.listener.Addr().String()))
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for {
			conn, err := s.listener.Accept()
			if err != nil {
				select {
				case <-s.ctx.Done():
					return
				default:
				}
				if errors.Is(err, net.ErrClosed) {
					return
				}
				logging.WarnWithContext(s.logger, "accept failed", "ipc_accept_failed",
					logging.Error(err),
					logging.String(logging.FieldImpact, "clients may fail to connect"),
					logging.String(logging.FieldErrorHint, "check the listen address and restart the server if needed"))
				continue
			}
			if !s.track(conn) {
				conn.Close()
				return
			}
			s.wg.Add(1)
			go func(c net.Conn) {
				defer s.wg.Done()
				defer s.untrack(c)
				s.logger.Debug("client connected", logging.String("remote", c.RemoteAddr().String()))
				s.rpcServer.ServeCodec(jsonrpc.NewServerCodec(c))
			}(conn)
		}
	}()
}

// Close stops accepting, drops open connections and waits for handlers.
func (s *Server) Close() {
	s.cancel()
	_ = s.listener.Close()
	s.connMu.Lock()
	for conn := range s.conns {
		_ = conn.Close()
	}
	s.conns = nil
	s.connMu.Unlock()
	s.wg.Wait()
}

func (s *Server) track(conn net.Conn) bool {
	s.connMu.Lock()
	defer s.connMu.Unlock()
	if s.conns == nil {
		return false
	}
	s.conns[conn] = struct{}{}
	return true
}

func (s *Server) untrack(conn net.Conn) {
	s.connMu.Lock()
	if s.conns != nil {
		delete(s.conns, conn)
	}
	s.connMu.Unlock()
}

type service struct {
	manager *session.Manager
	history SessionHistory
	logger  *slog.Logger
	ctx     context.Context
	pid     int
}

// request tags a call with a fresh request id.
func (s *service) request(method string) (context.Context, *slog.Logger) {
	ctx := logging.WithRequest(s.ctx, method, uuid.NewString())
	logger := logging.WithContext(ctx, s.logger)
	logger.Debug("rpc call")
	return ctx, logger
}

// fault converts err to its wire form. Internal faults are also logged here
// since nothing else reports them on the server side.
func (s *service) fault(logger *slog.Logger, err error) error {
	if err == nil {
		return nil
	}
	kind := faults.Kind(err)
	if kind == faults.KindInternal {
		logging.ErrorWithContext(logger, "rpc call failed", "rpc_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "inspect the server log around this request id"))
	} else {
		logger.Info("rpc call rejected", logging.String("fault", kind), logging.Error(err))
	}
	return errors.New(faults.Encode(err))
}

func (s *service) Configure(req ConfigureRequest, resp *ConfigureResponse) error {
	ctx, logger := s.request("configure")
	dir, err := s.manager.Configure(ctx, req.Config)
	if err != nil {
		return s.fault(logger, err)
	}
	resp.Session = sessionName(dir)
	return nil
}

func (s *service) Start(_ Empty, _ *StartResponse) error {
	ctx, logger := s.request("start")
	return s.fault(logger, s.manager.Start(ctx))
}

func (s *service) Stop(_ Empty, _ *StopResponse) error {
	ctx, logger := s.request("stop")
	return s.fault(logger, s.manager.Stop(ctx))
}

func (s *service) ListDevices(_ Empty, resp *ListDevicesResponse) error {
	ctx, logger := s.request("list_devices")
	devices, err := s.manager.ListDevices(ctx)
	if err != nil {
		return s.fault(logger, err)
	}
	resp.Devices = devices
	return nil
}

func (s *service) ListPorts(_ Empty, resp *ListPortsResponse) error {
	_, logger := s.request("list_ports")
	labels, err := s.manager.ListPorts()
	if err != nil {
		return s.fault(logger, err)
	}
	resp.Labels = labels
	return nil
}

func (s *service) ListPortFiles(_ Empty, resp *ListPortFilesResponse) error {
	_, logger := s.request("list_port_files")
	labels, err := s.manager.ListPortFiles()
	if err != nil {
		return s.fault(logger, err)
	}
	resp.Labels = labels
	return nil
}

func (s *service) OpenPortFile(req OpenPortFileRequest, resp *OpenPortFileResponse) error {
	_, logger := s.request("open_port_file")
	handle, err := s.manager.OpenPortFile(req.Label)
	if err != nil {
		return s.fault(logger.With(logging.String(logging.FieldLabel, req.Label)), err)
	}
	resp.Descriptor = handle.Descriptor
	resp.Name = handle.Name
	return nil
}

func (s *service) ReadPortFile(req ReadPortFileRequest, resp *ReadPortFileResponse) error {
	data, err := s.manager.ReadPortFile(req.Descriptor, req.Size)
	if err != nil {
		_, logger := s.request("read_port_file")
		return s.fault(logger.With(logging.String(logging.FieldDescriptor, req.Descriptor)), err)
	}
	resp.Data = data
	return nil
}

func (s *service) ClosePortFile(req ClosePortFileRequest, _ *ClosePortFileResponse) error {
	_, logger := s.request("close_port_file")
	if err := s.manager.ClosePortFile(req.Descriptor); err != nil {
		return s.fault(logger.With(logging.String(logging.FieldDescriptor, req.Descriptor)), err)
	}
	return nil
}

func (s *service) Close(_ Empty, _ *CloseResponse) error {
	ctx, logger := s.request("close")
	return s.fault(logger, s.manager.Close(ctx))
}

func (s *service) Status(_ Empty, resp *StatusResponse) error {
	*resp = statusResponse(s.manager.Status(), s.pid)
	return nil
}

func (s *service) Sessions(req SessionsRequest, resp *SessionsResponse) error {
	ctx, logger := s.request("sessions")
	if s.history == nil {
		resp.Sessions = []SessionRecord{}
		return nil
	}
	records, err := s.history.Recent(ctx, req.Limit)
	if err != nil {
		return s.fault(logger, fmt.Errorf("load session history: %w", err))
	}
	resp.Sessions = make([]SessionRecord, 0, len(records))
	for _, rec := range records {
		resp.Sessions = append(resp.Sessions, sessionRecord(rec))
	}
	return nil
}
