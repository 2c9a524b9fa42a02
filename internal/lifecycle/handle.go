package lifecycle

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/localrivet/toolgate/internal/errortypes"
)

// Stop timing. Stopping first requests a graceful drain so in-flight
// requests can complete, then escalates to a hard deadline, then forces
// closure. Process-level shutdown waits for the worker a while longer.
const (
	StopGracePeriod  = 1 * time.Second
	StopHardDeadline = 5 * time.Second
	ShutdownWait     = 10 * time.Second
)

// Handle is the exclusively owned reference to one running embedded server
// instance. At most one Handle exists at a time; the manager stops and
// discards the previous one before creating a replacement.
type Handle interface {
	// Addr returns the address the server is listening on.
	Addr() string

	// Stop drains and closes the server. The handle is unusable afterward.
	Stop() error
}

// HandleFactory constructs and starts a server bound to bindAddress:port
// with the given handler installed. Tests substitute a stub factory.
type HandleFactory func(bindAddress string, port int, handler http.Handler) (Handle, error)

// serverHandle wraps a net/http server plus its listener.
type serverHandle struct {
	srv    *http.Server
	ln     net.Listener
	logger *slog.Logger
}

// NewHandleFactory returns the production factory backed by net/http.
// Binding happens eagerly via net.Listen so that a port conflict surfaces
// as an error from the factory rather than asynchronously from Serve.
func NewHandleFactory(logger *slog.Logger) HandleFactory {
	if logger == nil {
		logger = slog.Default()
	}
	return func(bindAddress string, port int, handler http.Handler) (Handle, error) {
		addr := net.JoinHostPort(bindAddress, strconv.Itoa(port))
		ln, err := net.Listen("tcp", addr)
		if err != nil {
			return nil, errortypes.NetworkError(err, "failed to bind listener").
				WithField("address", addr)
		}

		h := &serverHandle{
			srv: &http.Server{
				Handler:           handler,
				ReadHeaderTimeout: 10 * time.Second,
			},
			ln:     ln,
			logger: logger,
		}

		go func() {
			if serveErr := h.srv.Serve(ln); serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
				logger.Error("Embedded server terminated unexpectedly",
					"address", addr, "error", serveErr)
			}
		}()

		logger.Info("Embedded server listening", "address", ln.Addr().String())
		return h, nil
	}
}

func (h *serverHandle) Addr() string {
	return h.ln.Addr().String()
}

// Stop requests a graceful drain within StopGracePeriod, extends the wait
// to StopHardDeadline for stubborn connections, and finally force-closes
// whatever remains. The listener is released in every path.
func (h *serverHandle) Stop() error {
	graceCtx, cancel := context.WithTimeout(context.Background(), StopGracePeriod)
	defer cancel()
	if err := h.srv.Shutdown(graceCtx); err == nil {
		return nil
	}

	h.logger.Warn("Graceful drain window elapsed, extending to hard deadline")
	hardCtx, cancelHard := context.WithTimeout(context.Background(), StopHardDeadline-StopGracePeriod)
	defer cancelHard()
	if err := h.srv.Shutdown(hardCtx); err == nil {
		return nil
	}

	h.logger.Warn("Hard deadline elapsed, forcing server closure")
	if err := h.srv.Close(); err != nil {
		return errortypes.NetworkError(err, "failed to close embedded server")
	}
	return nil
}
