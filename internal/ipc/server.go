package ipc

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/rpc"
	"net/rpc/jsonrpc"
	"os"
	"sync"

	"log/slog"

	"meridian/internal/command"
	"meridian/internal/logging"
)

// Backend is the control surface every daemon serves over IPC.
type Backend interface {
	ID() string
	Submit(cmd command.Command) error
	EmergencyStop()
	Interrupt() bool
	Status() command.DaemonStatus
	Ping() error
}

// QueueBackend is the extra surface served by the exposure queue daemon.
type QueueBackend interface {
	Enqueue(spec ExposureSpec, priority int, requestedBy string) (int64, error)
	Cancel(id int64) (bool, error)
	List(statuses []string) ([]QueueEntry, bool, error)
	Pause() error
	Resume() error
	Clear(all bool) (int64, error)
}

// PilotBackend is the extra surface served by the pilot daemon.
type PilotBackend interface {
	NightStatus() PilotStatusResponse
	AbortNight(reason string) error
}

// Server exposes a daemon backend via JSON-RPC over a Unix domain socket.
type Server struct {
	path      string
	logger    *slog.Logger
	listener  net.Listener
	rpcServer *rpc.Server

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// ServerOptions carries the optional hooks a daemon host can wire in.
type ServerOptions struct {
	// OnShutdown is invoked when a client requests process shutdown.
	OnShutdown func()
}

// NewServer configures the IPC server for the backend at the given socket
// path. Queue and pilot methods become available when the backend also
// implements QueueBackend or PilotBackend.
func NewServer(ctx context.Context, path string, backend Backend, logger *slog.Logger, opts ServerOptions) (*Server, error) {
	if backend == nil {
		return nil, errors.New("ipc server requires backend")
	}
	if logger == nil {
		logger = logging.NewNop()
	}

	if err := os.RemoveAll(path); err != nil {
		return nil, fmt.Errorf("remove existing socket: %w", err)
	}

	listener, err := net.Listen("unix", path)
	if err != nil {
		return nil, fmt.Errorf("listen on socket: %w", err)
	}

	rpcServer := rpc.NewServer()
	queueBackend, _ := backend.(QueueBackend)
	pilotBackend, _ := backend.(PilotBackend)
	srv := &service{
		backend:    backend,
		queue:      queueBackend,
		pilot:      pilotBackend,
		logger:     logger,
		onShutdown: opts.OnShutdown,
	}
	if err := rpcServer.RegisterName("Meridian", srv); err != nil {
		listener.Close()
		return nil, fmt.Errorf("register rpc service: %w", err)
	}

	serverCtx, cancel := context.WithCancel(ctx)
	return &Server{
		path:      path,
		logger:    logger,
		listener:  listener,
		rpcServer: rpcServer,
		ctx:       serverCtx,
		cancel:    cancel,
	}, nil
}

// Serve starts accepting RPC connections until the context is canceled.
func (s *Server) Serve() {
	s.logger.Debug("IPC server listening", logging.String("socket", s.path))
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
				s.logger.Warn("accept failed",
					logging.Error(err),
					logging.String(logging.FieldEventType, "ipc_accept_failed"),
					logging.String(logging.FieldErrorHint, "Check socket permissions and restart the daemon if needed"))
				continue
			}
			s.wg.Add(1)
			go func(c net.Conn) {
				defer s.wg.Done()
				s.rpcServer.ServeCodec(jsonrpc.NewServerCodec(c))
			}(conn)
		}
	}()
}

// Close stops the server and removes the socket file.
func (s *Server) Close() {
	s.cancel()
	if s.listener != nil {
		_ = s.listener.Close()
	}
	s.wg.Wait()
	if err := os.RemoveAll(s.path); err != nil {
		s.logger.Warn("failed to remove socket",
			logging.String("socket", s.path),
			logging.Error(err),
			logging.String(logging.FieldEventType, "ipc_socket_cleanup_failed"),
			logging.String(logging.FieldErrorHint, "Remove the socket file manually or rerun meridian daemon stop"))
	}
}

type service struct {
	backend    Backend
	queue      QueueBackend
	pilot      PilotBackend
	logger     *slog.Logger
	onShutdown func()
}

func (s *service) log() *slog.Logger {
	if s.logger == nil {
		return logging.NewNop()
	}
	return s.logger.With(logging.String(logging.FieldComponent, "ipc"))
}

func (s *service) Submit(req SubmitRequest, resp *SubmitResponse) error {
	cmd := req.Command.ToModel()
	s.log().Debug("command submitted",
		logging.String(logging.FieldCommand, cmd.Name),
		logging.String(logging.FieldCommandID, cmd.ID),
		logging.Int(logging.FieldUnit, cmd.Unit))
	if err := s.backend.Submit(cmd); err != nil {
		resp.Accepted = false
		resp.Reason = err.Error()
		return nil
	}
	resp.Accepted = true
	resp.CommandID = cmd.ID
	return nil
}

func (s *service) EmergencyStop(_ EmergencyStopRequest, resp *EmergencyStopResponse) error {
	s.backend.EmergencyStop()
	resp.Stopped = true
	s.log().Warn("emergency stop issued via IPC",
		logging.String(logging.FieldDaemon, s.backend.ID()),
		logging.String(logging.FieldEventType, "emergency_stop"))
	return nil
}

func (s *service) Interrupt(_ InterruptRequest, resp *InterruptResponse) error {
	resp.Interrupted = s.backend.Interrupt()
	if resp.Interrupted {
		s.log().Info("current command interrupted via IPC",
			logging.String(logging.FieldDaemon, s.backend.ID()),
			logging.String(logging.FieldEventType, "command_interrupt"))
	}
	return nil
}

func (s *service) Status(_ StatusRequest, resp *StatusResponse) error {
	resp.Status = s.backend.Status()
	return nil
}

func (s *service) Ping(_ PingRequest, resp *PingResponse) error {
	if err := s.backend.Ping(); err != nil {
		resp.OK = false
		resp.Detail = err.Error()
		return nil
	}
	resp.OK = true
	return nil
}

func (s *service) Shutdown(_ ShutdownRequest, resp *ShutdownResponse) error {
	s.log().Info("daemon shutdown requested via IPC",
		logging.String(logging.FieldDaemon, s.backend.ID()),
		logging.String(logging.FieldEventType, "daemon_shutdown"))
	resp.OK = true
	if s.onShutdown != nil {
		go s.onShutdown()
	}
	return nil
}

var errNotQueueDaemon = errors.New("daemon does not serve the exposure queue")

func (s *service) Enqueue(req EnqueueRequest, resp *EnqueueResponse) error {
	if s.queue == nil {
		return errNotQueueDaemon
	}
	id, err := s.queue.Enqueue(req.Spec, req.Priority, req.RequestedBy)
	if err != nil {
		return err
	}
	resp.ID = id
	s.log().Info("exposure set enqueued",
		logging.String(logging.FieldEventType, "exq_enqueue"),
		logging.Int64(logging.FieldEntryID, id),
		logging.String("target", req.Spec.Target),
		logging.Int("priority", req.Priority))
	return nil
}

func (s *service) Cancel(req CancelRequest, resp *CancelResponse) error {
	if s.queue == nil {
		return errNotQueueDaemon
	}
	if req.ID <= 0 {
		return fmt.Errorf("invalid queue entry id %d", req.ID)
	}
	cancelled, err := s.queue.Cancel(req.ID)
	if err != nil {
		return err
	}
	resp.Cancelled = cancelled
	if cancelled {
		s.log().Info("queue entry cancelled",
			logging.String(logging.FieldEventType, "exq_cancel"),
			logging.Int64(logging.FieldEntryID, req.ID))
	}
	return nil
}

func (s *service) QueueList(req QueueListRequest, resp *QueueListResponse) error {
	if s.queue == nil {
		return errNotQueueDaemon
	}
	entries, paused, err := s.queue.List(req.Statuses)
	if err != nil {
		return err
	}
	resp.Entries = entries
	resp.Paused = paused
	return nil
}

func (s *service) QueuePause(_ QueuePauseRequest, resp *QueuePauseResponse) error {
	if s.queue == nil {
		return errNotQueueDaemon
	}
	if err := s.queue.Pause(); err != nil {
		return err
	}
	resp.Paused = true
	s.log().Info("queue dispatch paused",
		logging.String(logging.FieldEventType, "exq_pause"))
	return nil
}

func (s *service) QueueResume(_ QueueResumeRequest, resp *QueueResumeResponse) error {
	if s.queue == nil {
		return errNotQueueDaemon
	}
	if err := s.queue.Resume(); err != nil {
		return err
	}
	resp.Paused = false
	s.log().Info("queue dispatch resumed",
		logging.String(logging.FieldEventType, "exq_resume"))
	return nil
}

func (s *service) QueueClear(req QueueClearRequest, resp *QueueClearResponse) error {
	if s.queue == nil {
		return errNotQueueDaemon
	}
	removed, err := s.queue.Clear(req.All)
	if err != nil {
		return err
	}
	resp.Removed = removed
	s.log().Info("queue cleared",
		logging.String(logging.FieldEventType, "exq_clear"),
		logging.Int64("removed_count", removed))
	return nil
}

var errNotPilotDaemon = errors.New("daemon does not serve the pilot")

func (s *service) PilotStatus(_ PilotStatusRequest, resp *PilotStatusResponse) error {
	if s.pilot == nil {
		return errNotPilotDaemon
	}
	*resp = s.pilot.NightStatus()
	return nil
}

func (s *service) PilotAbort(req PilotAbortRequest, resp *PilotAbortResponse) error {
	if s.pilot == nil {
		return errNotPilotDaemon
	}
	if err := s.pilot.AbortNight(req.Reason); err != nil {
		return err
	}
	resp.Aborting = true
	s.log().Warn("pilot night aborted via IPC",
		logging.String(logging.FieldEventType, "pilot_abort"),
		logging.String("reason", req.Reason))
	return nil
}
