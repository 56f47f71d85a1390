// Package profiling exposes optional pprof and Pyroscope profiling.
package profiling

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/pprof"
	"os"
	"runtime"
	"time"

	"github.com/grafana/pyroscope-go"

	infralogger "github.com/jonesrussell/ocrbase/infrastructure/logger"
)

// Config enables each profiler independently.
type Config struct {
	PprofEnabled     bool   `env:"ENABLE_PROFILING"            yaml:"pprof_enabled"`
	PprofAddr        string `env:"PPROF_ADDR"                  yaml:"pprof_addr"`
	PyroscopeEnabled bool   `env:"ENABLE_CONTINUOUS_PROFILING" yaml:"pyroscope_enabled"`
	PyroscopeURL     string `env:"PYROSCOPE_SERVER_URL"        yaml:"pyroscope_url"`
}

// Profiler owns whichever profilers were started. The zero value is a no-op.
type Profiler struct {
	srv       *http.Server
	pyroscope *pyroscope.Profiler
}

const readHeaderTimeout = 5 * time.Second

// Start launches the configured profilers. pprof binds to localhost by default.
func Start(cfg Config, service, version, environment string, log infralogger.Logger) (*Profiler, error) {
	p := &Profiler{}

	if cfg.PprofEnabled {
		addr := cfg.PprofAddr
		if addr == "" {
			addr = "localhost:6060"
		}
		mux := http.NewServeMux()
		mux.HandleFunc("/debug/pprof/", pprof.Index)
		mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
		mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
		mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
		mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
		p.srv = &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: readHeaderTimeout}

		go func() {
			log.Info("pprof server listening", infralogger.String("addr", addr))
			if err := p.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error("pprof server stopped", infralogger.Error(err))
			}
		}()
	}

	if cfg.PyroscopeEnabled {
		serverURL := cfg.PyroscopeURL
		if serverURL == "" {
			serverURL = "http://pyroscope:4040"
		}
		hostname, _ := os.Hostname()
		prof, err := pyroscope.Start(pyroscope.Config{
			ApplicationName: service,
			ServerAddress:   serverURL,
			ProfileTypes: []pyroscope.ProfileType{
				pyroscope.ProfileCPU,
				pyroscope.ProfileAllocSpace,
				pyroscope.ProfileInuseSpace,
				pyroscope.ProfileGoroutines,
			},
			Tags: map[string]string{
				"environment": environment,
				"version":     version,
				"hostname":    hostname,
				"go_version":  runtime.Version(),
			},
		})
		if err != nil {
			_ = p.Stop(context.Background())
			return nil, fmt.Errorf("start pyroscope: %w", err)
		}
		p.pyroscope = prof
		log.Info("continuous profiling started", infralogger.String("server", serverURL))
	}

	return p, nil
}

// Stop shuts down anything Start launched.
func (p *Profiler) Stop(ctx context.Context) error {
	if p == nil {
		return nil
	}
	var errs []error
	if p.srv != nil {
		errs = append(errs, p.srv.Shutdown(ctx))
	}
	if p.pyroscope != nil {
		errs = append(errs, p.pyroscope.Stop())
	}
	return errors.Join(errs...)
}
