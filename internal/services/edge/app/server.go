// Package app wires the edge proxy: the HTTP surface, the admin API and the
// process runtime.
package app

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"net/http/httputil"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/louisbranch/folio/internal/platform/httpx"
	"github.com/louisbranch/folio/internal/platform/timeouts"
)

// AdminPathPrefix is reserved for the edge's own endpoints.
const AdminPathPrefix = "/_edge/"

// HandlerConfig wires the proxy handler.
type HandlerConfig struct {
	// Origin receives origin-form requests.
	Origin *url.URL
	// Transport answers every proxied request; normally the lifecycle
	// controller.
	Transport http.RoundTripper
	// Admin serves AdminPathPrefix. Nil disables the admin API.
	Admin http.Handler
	Logf  func(string, ...any)
}

// NewHandler returns the edge HTTP handler. Origin-form requests are sent to
// the origin, absolute-form requests keep their target and CONNECT requests
// are tunneled without inspection.
func NewHandler(cfg HandlerConfig) (http.Handler, error) {
	if cfg.Origin == nil || cfg.Origin.Scheme == "" || cfg.Origin.Host == "" {
		return nil, errors.New("origin must be an absolute URL")
	}
	if cfg.Transport == nil {
		return nil, errors.New("transport is required")
	}
	logf := cfg.Logf
	if logf == nil {
		logf = log.Printf
	}

	origin := cfg.Origin
	proxy := &httputil.ReverseProxy{
		Rewrite: func(pr *httputil.ProxyRequest) {
			if !pr.In.URL.IsAbs() {
				pr.SetURL(origin)
			}
			pr.SetXForwarded()
			// Let the transport negotiate compression so stored bodies stay decoded.
			pr.Out.Header.Del("Accept-Encoding")
		},
		Transport: cfg.Transport,
		ErrorHandler: func(w http.ResponseWriter, r *http.Request, err error) {
			logf("proxy %s %s: %v", r.Method, r.URL.Redacted(), err)
			http.Error(w, http.StatusText(http.StatusBadGateway), http.StatusBadGateway)
		},
	}
	tunnel := tunnelHandler(logf)
	admin := cfg.Admin

	root := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodConnect:
			tunnel.ServeHTTP(w, r)
		case !r.URL.IsAbs() && strings.HasPrefix(r.URL.Path, AdminPathPrefix):
			if admin == nil {
				http.NotFound(w, r)
				return
			}
			admin.ServeHTTP(w, r)
		default:
			proxy.ServeHTTP(w, r)
		}
	})

	return httpx.Chain(root,
		httpx.RecoverPanic(logf),
		httpx.RequestID(),
		httpx.RequestLogger(logf),
	), nil
}

func tunnelHandler(logf func(string, ...any)) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		target := r.Host
		if _, _, err := net.SplitHostPort(target); err != nil {
			http.Error(w, "CONNECT target must be host:port", http.StatusBadRequest)
			return
		}

		dialer := net.Dialer{Timeout: timeouts.TunnelDial}
		upstream, err := dialer.DialContext(r.Context(), "tcp", target)
		if err != nil {
			logf("tunnel dial %s: %v", target, err)
			http.Error(w, http.StatusText(http.StatusBadGateway), http.StatusBadGateway)
			return
		}

		client, buffered, err := http.NewResponseController(w).Hijack()
		if err != nil {
			_ = upstream.Close()
			logf("tunnel hijack %s: %v", target, err)
			http.Error(w, "tunneling not supported", http.StatusInternalServerError)
			return
		}
		if _, err := io.WriteString(client, "HTTP/1.1 200 Connection Established\r\n\r\n"); err != nil {
			_ = client.Close()
			_ = upstream.Close()
			return
		}
		go pipe(client, buffered.Reader, upstream)
	})
}

// pipe copies in both directions until either side closes.
func pipe(client net.Conn, clientReader *bufio.Reader, upstream net.Conn) {
	var closeOnce sync.Once
	closeBoth := func() {
		closeOnce.Do(func() {
			_ = client.Close()
			_ = upstream.Close()
		})
	}
	done := make(chan struct{}, 2)
	go func() {
		_, _ = io.Copy(upstream, clientReader)
		closeBoth()
		done <- struct{}{}
	}()
	go func() {
		_, _ = io.Copy(client, upstream)
		closeBoth()
		done <- struct{}{}
	}()
	<-done
	<-done
}

// Server hosts the edge HTTP surface.
type Server struct {
	httpAddr        string
	shutdownTimeout time.Duration
	httpServer      *http.Server
}

// NewServer builds a server for handler on addr.
func NewServer(addr string, handler http.Handler) (*Server, error) {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return nil, errors.New("http address is required")
	}
	if handler == nil {
		return nil, errors.New("handler is required")
	}
	return &Server{
		httpAddr:        addr,
		shutdownTimeout: timeouts.Shutdown,
		httpServer: &http.Server{
			Addr:              addr,
			Handler:           handler,
			ReadHeaderTimeout: timeouts.ReadHeader,
		},
	}, nil
}

// ListenAndServe runs the HTTP server until the context ends.
func (s *Server) ListenAndServe(ctx context.Context) error {
	if s == nil {
		return errors.New("edge server is nil")
	}
	if ctx == nil {
		return errors.New("context is required")
	}

	serveErr := make(chan error, 1)
	log.Printf("edge server listening on %s", s.httpAddr)
	go func() {
		serveErr <- s.httpServer.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
		err := s.httpServer.Shutdown(shutdownCtx)
		cancel()
		if err != nil {
			return fmt.Errorf("shutdown http server: %w", err)
		}
		return nil
	case err := <-serveErr:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("serve http: %w", err)
	}
}
