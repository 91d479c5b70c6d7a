package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/prefctl/prefctl/internal/adaptation"
	"github.com/prefctl/prefctl/internal/agents"
	"github.com/prefctl/prefctl/internal/api"
	"github.com/prefctl/prefctl/internal/approval"
	"github.com/prefctl/prefctl/internal/arbitration"
	"github.com/prefctl/prefctl/internal/auth"
	"github.com/prefctl/prefctl/internal/config"
	"github.com/prefctl/prefctl/internal/eventbus"
	"github.com/prefctl/prefctl/internal/explanation"
	"github.com/prefctl/prefctl/internal/feedback"
	"github.com/prefctl/prefctl/internal/governance"
	"github.com/prefctl/prefctl/internal/invariant"
	"github.com/prefctl/prefctl/internal/notify"
	"github.com/prefctl/prefctl/internal/obs"
	"github.com/prefctl/prefctl/internal/pipeline"
	"github.com/prefctl/prefctl/internal/projection"
	"github.com/prefctl/prefctl/internal/proposal"
	"github.com/prefctl/prefctl/internal/registry"
	"github.com/prefctl/prefctl/internal/store"
	"github.com/prefctl/prefctl/internal/store/memory"
	"github.com/prefctl/prefctl/internal/store/rediskv"
	"github.com/prefctl/prefctl/internal/store/sqlite"
	"github.com/prefctl/prefctl/internal/suggestion"
)

var (
	version = "dev"
	commit  = "none"
)

func main() {
	var configFile string
	var port int

	rootCmd := &cobra.Command{
		Use:   "prefctl",
		Short: "Preference Decision Plane control server",
		Long:  "prefctl — governs how autonomous agents propose, arbitrate and apply preference changes.",
	}
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "Path to config file (default: prefctl.yaml)")

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Wire every service and start the admin HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(configFile, port)
		},
	}
	serveCmd.Flags().IntVarP(&port, "port", "p", 0, "Override HTTP port")

	migrateCmd := &cobra.Command{
		Use:   "migrate",
		Short: "Create (or update) the sqlite schema at storage.path",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMigrate(configFile)
		},
	}

	policyCmd := &cobra.Command{Use: "policy", Short: "Policy management"}
	policyValidateCmd := &cobra.Command{
		Use:   "validate",
		Short: "Compile arbitration/invariant CEL rules without starting the server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPolicyValidate(configFile)
		},
	}
	policyCmd.AddCommand(policyValidateCmd)

	registryCmd := &cobra.Command{Use: "registry", Short: "Preference registry tools"}
	registryDumpCmd := &cobra.Command{
		Use:   "dump",
		Short: "Print the effective preference registry",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRegistryDump(configFile)
		},
	}
	registryCmd.AddCommand(registryDumpCmd)

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("prefctl %s (%s)\n", version, commit)
		},
	}

	rootCmd.AddCommand(serveCmd, migrateCmd, policyCmd, registryCmd, versionCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newLogger(level string) *slog.Logger {
	logLevel := slog.LevelInfo
	switch strings.ToLower(level) {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	}
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel}))
}

// redisIdempotentStore embeds the domain store.Store and shadows its
// idempotency methods with Redis-backed ones, so in-flight/completed
// request state is visible across every prefctl instance behind a load
// balancer instead of being pinned to whichever process first saw the
// request.
type redisIdempotentStore struct {
	store.Store
	idem *rediskv.IdempotencyStore
}

func (s *redisIdempotentStore) Get(ctx context.Context, key string) (*store.IdempotencyRecord, error) {
	return s.idem.Get(ctx, key)
}

func (s *redisIdempotentStore) Begin(ctx context.Context, key string) (*store.IdempotencyRecord, bool, error) {
	return s.idem.Begin(ctx, key)
}

func (s *redisIdempotentStore) Complete(ctx context.Context, rec store.IdempotencyRecord) error {
	return s.idem.Complete(ctx, rec)
}

func openStore(cfg *config.Config) (store.Store, func() error, error) {
	var st store.Store
	var closers []func() error

	switch cfg.Storage.Driver {
	case "sqlite":
		s, err := sqlite.Open(cfg.Storage.Path)
		if err != nil {
			return nil, nil, fmt.Errorf("open sqlite store: %w", err)
		}
		if err := s.Initialize(); err != nil {
			return nil, nil, fmt.Errorf("initialize sqlite schema: %w", err)
		}
		st, closers = s, append(closers, s.Close)
	case "memory", "":
		st, closers = memory.New(), append(closers, func() error { return nil })
	default:
		return nil, nil, fmt.Errorf("unknown storage driver %q", cfg.Storage.Driver)
	}

	if cfg.Secrets.RedisURL != "" {
		idem, err := rediskv.Open(cfg.Secrets.RedisURL)
		if err != nil {
			return nil, nil, fmt.Errorf("open redis idempotency store: %w", err)
		}
		st = &redisIdempotentStore{Store: st, idem: idem}
		closers = append(closers, idem.Close)
	}

	closeAll := func() error {
		var firstErr error
		for _, c := range closers {
			if err := c(); err != nil && firstErr == nil {
				firstErr = err
			}
		}
		return firstErr
	}
	return st, closeAll, nil
}

func loadRegistry(cfg *config.Config, logger *slog.Logger) *registry.Registry {
	reg := registry.New()
	if cfg.Registry.SchemaDir == "" {
		return reg
	}
	path := cfg.Registry.SchemaDir + "/preferences.yaml"
	entries, err := registry.LoadFromFile(path)
	if err != nil {
		logger.Warn("no preference registry loaded from schema dir, starting empty", "path", path, "error", err)
		return reg
	}
	reg.LoadEntries(entries)
	return reg
}

// buildLockChecker closes over the Adaptation Policy store so arbitration
// veto rules can see locked preferences. arbitration.Engine has no
// direct dependency on store.AdaptationPolicyStore (see
// internal/arbitration.LockChecker's doc comment), so this wiring lives
// here at the composition root instead.
func buildLockChecker(st store.AdaptationPolicyStore) arbitration.LockChecker {
	return func(category, key string) bool {
		policies, err := st.ListAdaptationPolicies(context.Background())
		if err != nil {
			return false
		}
		for _, p := range policies {
			for _, r := range p.ScopeRestrictions {
				if r.Category == category && r.Key == key && r.Locked {
					return true
				}
			}
		}
		return false
	}
}

// seedAgentPolicies ensures every known agent kind has a governance
// AgentPolicy record before the server starts taking traffic, since
// GenerateWithGovernance errors immediately on a missing one. Existing
// records are left untouched so an admin's prior customization survives
// a restart against persistent storage.
func seedAgentPolicies(ctx context.Context, gov *governance.Engine, logger *slog.Logger) {
	for _, kind := range agents.Known() {
		name := string(kind)
		if _, err := gov.Policy(ctx, name); err == nil {
			continue
		} else if err != store.ErrNotFound {
			logger.Warn("failed to check existing agent policy", "agent", name, "error", err)
			continue
		}
		if err := gov.RegisterPolicy(ctx, store.AgentPolicy{
			AgentName:              name,
			MaxSuggestionsPerEvent: 3,
			ConfidenceThreshold:    0.6,
			CooldownMs:             0,
			AIEnabled:              false,
			FallbackToRules:        true,
		}); err != nil {
			logger.Warn("failed to seed default agent policy", "agent", name, "error", err)
		}
	}
}

type services struct {
	store         store.Store
	bus           *eventbus.Bus
	obs           *obs.Context
	reg           *registry.Registry
	agentRegistry *agents.Registry

	policies    *adaptation.PolicyService
	attempts    *adaptation.AttemptService
	suggestions *suggestion.Service
	proposals   *proposal.AgentProposalService
	conflicts   *proposal.ConflictDetectionService
	arbiter     *arbitration.Engine
	governance  *governance.Engine
	pipeline    *pipeline.Coordinator
	feedback    *feedback.Service
	escalations *approval.EscalationApprovalService
	rollbacks   *approval.RollbackService
	projections *projection.Service
	explanations *explanation.Service
	notifier    *notify.Manager

	tokens *auth.TokenManager
	creds  auth.CredentialStore
}

func buildServices(cfg *config.Config, st store.Store, logger *slog.Logger) (*services, error) {
	metricsReg := prometheus.NewRegistry()
	observability := obs.New(logger, metricsReg)
	bus := eventbus.New(logger)
	reg := loadRegistry(cfg, logger)
	agentRegistry := agents.NewRegistry()

	invariants, err := invariant.NewEngineWithDefaults(logger)
	if err != nil {
		return nil, fmt.Errorf("build invariant engine: %w", err)
	}

	breaker := governance.NewBreaker(cfg.LLM.CircuitBreakerTrip, cfg.LLM.Timeout*3)
	var llm governance.LLMPort
	if cfg.LLM.Provider != "none" && cfg.LLM.Provider != "" {
		llm = governance.NewHTTPLLMClient(cfg.LLM.Model, 0)
	}
	governanceEngine := governance.New(st, st, llm, breaker, observability)

	policies := adaptation.NewPolicyService(st, reg, observability)
	attempts := adaptation.NewAttemptService(policies, st, st, reg, bus, observability)
	suggestions := suggestion.New(st, st, reg, bus, suggestion.DefaultThresholds, observability)

	proposals := proposal.NewAgentProposalService(st, bus, observability)
	conflicts := proposal.NewConflictDetectionService(st, st, bus, observability).WithInvariants(invariants)

	arbiter, err := arbitration.NewEngine(st, st, st, st, bus, buildLockChecker(st), observability)
	if err != nil {
		return nil, fmt.Errorf("build arbitration engine: %w", err)
	}
	arbiter = arbiter.WithProfiles(st)

	seedAgentPolicies(context.Background(), governanceEngine, logger)

	pipelineCoordinator := pipeline.New(agentRegistry, governanceEngine, proposals, conflicts, arbiter, st, st, observability)
	pipelineCoordinator.Subscribe(bus)
	attempts = attempts.WithProposals(pipelineCoordinator)

	feedbackSvc := feedback.New(st, st, suggestions, cfg.Feedback.SuggestionThreshold, cfg.Feedback.AutoTriggerEnabled, observability).
		WithAutoAdaptation(attempts)

	escalations := approval.NewEscalationApprovalService(st, st, st, st, bus, observability)
	rollbacks := approval.NewRollbackService(attempts, st, st, st, st, observability)
	projections := projection.NewService(st)
	explanations := explanation.NewService(st, st, st, st)

	// No delivery channels are configured by default; the notifier still
	// runs so notify.Subscribe's handlers never need a nil-manager guard,
	// it just has nothing to fan out to until a Sender is added here.
	notifier := notify.NewManager(logger, 5*time.Minute)
	notify.Subscribe(bus, notifier)

	tokens, err := auth.NewTokenManager([]byte(cfg.Secrets.JWTSigningKey), cfg.Auth.AccessTTL, cfg.Auth.RefreshTTL, logger)
	if err != nil {
		return nil, fmt.Errorf("build token manager: %w", err)
	}
	creds := auth.NewStaticCredentialStore(nil)

	return &services{
		store: st, bus: bus, obs: observability, reg: reg, agentRegistry: agentRegistry,
		policies: policies, attempts: attempts, suggestions: suggestions,
		proposals: proposals, conflicts: conflicts, arbiter: arbiter, governance: governanceEngine,
		pipeline: pipelineCoordinator, feedback: feedbackSvc,
		escalations: escalations, rollbacks: rollbacks, projections: projections, explanations: explanations,
		notifier: notifier, tokens: tokens, creds: creds,
	}, nil
}

func runServe(configFile string, portOverride int) error {
	cfg, err := config.Load(configFile)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if portOverride > 0 {
		cfg.Server.Port = portOverride
	}

	logger := newLogger(cfg.Observability.LogLevel)

	st, closeStore, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = closeStore() }()

	svc, err := buildServices(cfg, st, logger)
	if err != nil {
		return err
	}

	apiServer := api.NewServer(api.Config{
		RequestTimeout:  cfg.Server.RequestTimeout,
		IdempotencyTTL:  cfg.Server.IdempotencyTTL,
		CORSAllowAll:    cfg.Server.CORSAllowAll,
		WebSocketOrigin: cfg.Server.WebSocketOrigin,
	}, api.Deps{
		Store: st, Tokens: svc.tokens, Credentials: svc.creds,
		Suggestions: svc.suggestions, AttemptSvc: svc.attempts, PolicySvc: svc.policies, Feedback: svc.feedback,
		Escalations: svc.escalations, Rollbacks: svc.rollbacks,
		Projections: svc.projections, Explanations: svc.explanations,
		Bus: svc.bus, Observability: svc.obs,
	})

	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      apiServer.Handler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0,
		IdleTimeout:  120 * time.Second,
	}

	fmt.Println()
	fmt.Println("  prefctl " + version)
	fmt.Printf("  -> admin API: http://localhost:%d/admin\n", cfg.Server.Port)
	fmt.Printf("  -> storage:   %s (%s)\n", cfg.Storage.Driver, cfg.Storage.Path)
	fmt.Printf("  -> registry:  %d preference entries\n", len(svc.reg.Entries()))
	fmt.Println()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("shutting down")
		shutCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = httpServer.Shutdown(shutCtx)
	}()

	logger.Info("starting admin HTTP server", "port", cfg.Server.Port)
	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("HTTP server error: %w", err)
	}
	return nil
}

func runMigrate(configFile string) error {
	cfg, err := config.Load(configFile)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if cfg.Storage.Driver != "sqlite" {
		return fmt.Errorf("migrate is only meaningful for storage.driver=sqlite, got %q", cfg.Storage.Driver)
	}
	st, err := sqlite.Open(cfg.Storage.Path)
	if err != nil {
		return fmt.Errorf("open sqlite store: %w", err)
	}
	defer func() { _ = st.Close() }()
	if err := st.Initialize(); err != nil {
		return fmt.Errorf("initialize schema: %w", err)
	}
	fmt.Printf("✓ schema ready at %s\n", cfg.Storage.Path)
	return nil
}

func runPolicyValidate(configFile string) error {
	cfg, err := config.Load(configFile)
	if err != nil {
		fmt.Printf("✗ invalid config: %s\n", err)
		return err
	}
	fmt.Printf("✓ config valid\n")
	fmt.Printf("  storage:  %s\n", cfg.Storage.Driver)
	fmt.Printf("  port:     %d\n", cfg.Server.Port)

	if _, err := arbitration.NewEngine(nil, nil, nil, nil, nil, nil, nil); err != nil {
		fmt.Printf("  ✗ arbitration veto CEL environment: %s\n", err)
		return err
	}
	fmt.Printf("  ✓ arbitration veto CEL environment compiles\n")

	if _, err := invariant.NewEngineWithDefaults(nil); err != nil {
		fmt.Printf("  ✗ invariant CEL environment: %s\n", err)
		return err
	}
	fmt.Printf("  ✓ invariant CEL environment compiles, %d default rules\n", len(invariant.DefaultRules()))

	return nil
}

func runRegistryDump(configFile string) error {
	cfg, err := config.Load(configFile)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	reg := loadRegistry(cfg, slog.New(slog.NewTextHandler(os.Stdout, nil)))
	for _, e := range reg.Entries() {
		fmt.Println(e.Describe())
	}
	return nil
}
