// Package app wires configuration into the pieces a front end needs: the
// workspace guard, the model client, the audit store and new sessions.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ollacode/ollacode/agentloop"
	"github.com/ollacode/ollacode/audit"
	"github.com/ollacode/ollacode/config"
	"github.com/ollacode/ollacode/unifiedllm"
	"github.com/ollacode/ollacode/workspace"
)

// Runtime is shared by every session of a process.
type Runtime struct {
	Config *config.Config
	Logger *slog.Logger
	Guard  *workspace.Guard
	Client *unifiedllm.Client
	// Audit is nil when AUDIT_DB is not set.
	Audit *audit.SQLiteStore

	mu      sync.Mutex // serialises text adapter registration
	newText func(endpoint, model string) (unifiedllm.ProviderAdapter, error)
}

// Option configures a Runtime.
type Option func(*Runtime)

// WithOllamaAdapter replaces the native adapter, e.g. with one pointed at a
// test server.
func WithOllamaAdapter(a unifiedllm.ProviderAdapter) Option {
	return func(r *Runtime) { r.Client.RegisterProvider(unifiedllm.OllamaProviderName, a) }
}

// WithTextAdapterFactory replaces how text-protocol adapters are built.
func WithTextAdapterFactory(fn func(endpoint, model string) (unifiedllm.ProviderAdapter, error)) Option {
	return func(r *Runtime) { r.newText = fn }
}

// New builds a Runtime from cfg. The caller must Close it.
func New(cfg *config.Config, logger *slog.Logger, opts ...Option) (*Runtime, error) {
	guard, err := workspace.New(cfg.WorkspaceDir, workspace.WithCommandTimeout(cfg.CommandTimeout, 0))
	if err != nil {
		return nil, err
	}

	client := unifiedllm.NewClient(
		unifiedllm.WithProvider(unifiedllm.OllamaProviderName, unifiedllm.NewOllamaAdapter(cfg.OllamaHost)),
		unifiedllm.WithDefaultProvider(unifiedllm.OllamaProviderName),
		unifiedllm.WithStreamMiddleware(unifiedllm.LoggingStreamMiddleware(logger)),
	)

	r := &Runtime{
		Config: cfg,
		Logger: logger,
		Guard:  guard,
		Client: client,
		newText: func(endpoint, model string) (unifiedllm.ProviderAdapter, error) {
			return unifiedllm.NewGollmAdapter(endpoint, model)
		},
	}
	for _, opt := range opts {
		opt(r)
	}

	if cfg.AuditDB != "" {
		store, err := audit.NewSQLite(cfg.AuditDB)
		if err != nil {
			return nil, err
		}
		r.Audit = store
		logger.Info("audit trail enabled", "path", cfg.AuditDB)
	}
	return r, nil
}

// Close releases the model client and the audit store.
func (r *Runtime) Close() error {
	err := r.Client.Close()
	if r.Audit != nil {
		if cerr := r.Audit.Close(); err == nil {
			err = cerr
		}
	}
	return err
}

// CheckHealth pings the Ollama server.
func (r *Runtime) CheckHealth(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := r.Client.Ping(ctx); err != nil {
		var unreachable *unifiedllm.ServerUnreachableError
		if errors.As(err, &unreachable) {
			return err
		}
		return fmt.Errorf("cannot reach Ollama at %s: %w", r.Config.OllamaHost, err)
	}
	return nil
}

// Profile resolves the model profile for model and makes sure the client can
// route it. Text-protocol models get their own adapter, registered under a
// provider name that includes the model.
func (r *Runtime) Profile(model string) (agentloop.ModelProfile, error) {
	p, err := agentloop.NewModelProfile(model, r.Config.ToolProtocol, r.Config.MaxContextTokens)
	if err != nil {
		return agentloop.ModelProfile{}, err
	}
	if p.ToolProtocol != unifiedllm.ToolProtocolText {
		return p, nil
	}

	p.Provider = unifiedllm.GollmProviderName + ":" + model
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.Client.HasProvider(p.Provider) {
		adapter, err := r.newText(r.Config.OllamaHost, model)
		if err != nil {
			return agentloop.ModelProfile{}, err
		}
		r.Client.RegisterProvider(p.Provider, adapter)
	}
	return p, nil
}

// SessionConfig derives the session configuration from the process config.
func (r *Runtime) SessionConfig() agentloop.SessionConfig {
	sc := agentloop.DefaultSessionConfig()
	sc.CommandTimeout = r.Config.CommandTimeout
	sc.Match = r.Config.Match
	sc.CompactMode = r.Config.CompactMode
	return sc
}

// NewSession starts a session on model. Extra options are applied last.
func (r *Runtime) NewSession(model string, opts ...agentloop.SessionOption) (*agentloop.Session, error) {
	profile, err := r.Profile(model)
	if err != nil {
		return nil, err
	}
	base := []agentloop.SessionOption{
		agentloop.WithConfig(r.SessionConfig()),
		agentloop.WithLogger(r.Logger),
	}
	if r.Audit != nil {
		base = append(base, agentloop.WithRecorder(r.Audit))
	}
	s := agentloop.NewSession(r.Client, r.Guard, profile, append(base, opts...)...)
	r.Logger.Info("session started",
		"session_id", s.ID(),
		"model", profile.Model,
		"provider", profile.Provider,
		"project_memory", s.HasProjectMemory(),
	)
	return s, nil
}

// SwitchModel points s at another model. It fails while s is busy.
func (r *Runtime) SwitchModel(s *agentloop.Session, model string) (agentloop.ModelProfile, error) {
	profile, err := r.Profile(model)
	if err != nil {
		return agentloop.ModelProfile{}, err
	}
	if err := s.SetProfile(profile); err != nil {
		return agentloop.ModelProfile{}, err
	}
	r.Logger.Info("model switched", "session_id", s.ID(), "model", model)
	return profile, nil
}

// RecentToolCalls returns the newest audit records, or nil when the audit
// trail is disabled.
func (r *Runtime) RecentToolCalls(ctx context.Context, n int) ([]audit.Record, error) {
	if r.Audit == nil {
		return nil, nil
	}
	return r.Audit.Recent(ctx, n)
}
