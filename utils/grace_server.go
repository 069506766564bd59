package utils

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"
)

// SIGINT and SIGTERM drain the server and then run the shutdown hooks.
// SIGUSR2 re-executes the binary with the listening socket inherited on fd 3
// and drains this process once the child is running.
const (
	serverReadTimeout  = 60 * time.Second
	serverHeaderWait   = 10 * time.Second
	serverWriteTimeout = 60 * time.Second
	drainTimeout       = 30 * time.Second

	inheritEnvKey = "QUESTBOARD_INHERIT_LISTENER"
	inheritedFD   = 3
)

// Server is an http.Server that owns its listener and shutdown sequence.
type Server struct {
	*http.Server

	listener  net.Listener
	inherited bool
	signals   chan os.Signal
	stopped   chan struct{}
	stopOnce  sync.Once
	hooks     []func()
}

// NewServer builds a Server for handler. The listener is inherited from the
// parent process when started by a SIGUSR2 restart.
func NewServer(addr string, handler http.Handler) *Server {
	return &Server{
		Server: &http.Server{
			Addr:              addr,
			Handler:           handler,
			ReadTimeout:       serverReadTimeout,
			ReadHeaderTimeout: serverHeaderWait,
			WriteTimeout:      serverWriteTimeout,
		},
		inherited: os.Getenv(inheritEnvKey) == "1",
		signals:   make(chan os.Signal, 1),
		stopped:   make(chan struct{}),
	}
}

// OnShutdown registers fn to run after the server drained, in registration
// order.
func (srv *Server) OnShutdown(fn func()) {
	srv.hooks = append(srv.hooks, fn)
}

// ListenAndServe blocks until the server was stopped and every hook ran.
// A clean stop returns nil.
func (srv *Server) ListenAndServe() error {
	ln, err := srv.listen()
	if err != nil {
		return err
	}
	return srv.Serve(ln)
}

// Serve runs on ln with signal handling installed.
func (srv *Server) Serve(ln net.Listener) error {
	srv.listener = ln
	signal.Notify(srv.signals, syscall.SIGTERM, syscall.SIGINT, syscall.SIGUSR2)
	go srv.watchSignals()

	err := srv.Server.Serve(ln)
	<-srv.stopped
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func (srv *Server) listen() (net.Listener, error) {
	if srv.inherited {
		ln, err := net.FileListener(os.NewFile(inheritedFD, "listener"))
		if err != nil {
			return nil, fmt.Errorf("inherit listener: %w", err)
		}
		return ln, nil
	}
	addr := srv.Addr
	if addr == "" {
		addr = ":http"
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen %s: %w", addr, err)
	}
	return ln, nil
}

func (srv *Server) watchSignals() {
	for sig := range srv.signals {
		switch sig {
		case syscall.SIGUSR2:
			pid, err := srv.restart()
			if err != nil {
				Logger.Error("restart failed, still serving", zap.Error(err))
				continue
			}
			Logger.Info("restarted, draining old process", zap.Int("pid", pid))
			go srv.Stop()
		default:
			Logger.Info("signal received, draining", zap.String("signal", sig.String()))
			go srv.Stop()
		}
	}
}

// Stop drains in-flight requests and runs the shutdown hooks. Calls after the
// first one are no-ops.
func (srv *Server) Stop() {
	srv.stopOnce.Do(func() {
		signal.Stop(srv.signals)
		close(srv.signals)

		ctx, cancel := context.WithTimeout(context.Background(), drainTimeout)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			Logger.Error("http shutdown", zap.Error(err))
		}
		for _, fn := range srv.hooks {
			fn()
		}
		close(srv.stopped)
	})
}

// restart forks the current binary handing it the listening socket.
func (srv *Server) restart() (int, error) {
	tcp, ok := srv.listener.(*net.TCPListener)
	if !ok {
		return 0, errors.New("listener is not a TCP listener")
	}
	file, err := tcp.File()
	if err != nil {
		return 0, fmt.Errorf("listener file: %w", err)
	}
	defer file.Close()

	env := make([]string, 0, len(os.Environ())+1)
	for _, e := range os.Environ() {
		if e != inheritEnvKey+"=1" {
			env = append(env, e)
		}
	}
	env = append(env, inheritEnvKey+"=1")

	return syscall.ForkExec(os.Args[0], os.Args, &syscall.ProcAttr{
		Env:   env,
		Files: []uintptr{os.Stdin.Fd(), os.Stdout.Fd(), os.Stderr.Fd(), file.Fd()},
	})
}

// GraceServer serves handler on addr until a termination signal, then runs
// hooks in order.
func GraceServer(addr string, handler http.Handler, hooks ...func()) error {
	srv := NewServer(addr, handler)
	for _, fn := range hooks {
		srv.OnShutdown(fn)
	}
	return srv.ListenAndServe()
}
