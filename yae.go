package yae

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
)

// AdminStore is the server-wide persistence: users, webhooks, and ingested
// webhook events. Implementations live under store/.
type AdminStore interface {
	CreateUser(ctx context.Context, u User) error
	GetUser(ctx context.Context, id string) (User, error)
	GetUserByToken(ctx context.Context, token string) (User, error)
	ListUsers(ctx context.Context) ([]User, error)
	DeleteUser(ctx context.Context, id string) error

	CreateWebhook(ctx context.Context, w Webhook) error
	GetWebhookBySlug(ctx context.Context, slug string) (Webhook, error)
	ListWebhooks(ctx context.Context) ([]Webhook, error)
	UpdateWebhook(ctx context.Context, w Webhook) error
	DeleteWebhook(ctx context.Context, id string) error

	// InsertWebhookEvent records a delivery. When the event carries an
	// external id that was already ingested for the same webhook, the prior
	// event id is returned instead of inserting a duplicate.
	InsertWebhookEvent(ctx context.Context, ev WebhookEvent) (string, error)
	UpdateWebhookEventStatus(ctx context.Context, id string, status WebhookEventStatus, errMsg string) error
	ListWebhookEvents(ctx context.Context, webhookID string, limit int) ([]WebhookEvent, error)

	Close() error
}

// AgentStores is the per-user persistence opened by an AgentOpener.
type AgentStores struct {
	Memory   MemoryBackend
	Messages MessageBackend
	Files    FileStore
	// Closer, when set, is closed when the agent is closed.
	Closer io.Closer
}

// AgentOpener opens (or creates) the per-user datastore for userID.
type AgentOpener func(ctx context.Context, userID string) (AgentStores, error)

// Config wires a Yae server singleton.
type Config struct {
	Admin     AdminStore
	Runs      WorkflowRunStore
	OpenAgent AgentOpener
	Provider  Provider
	Web       WebAdapter
	PoolSize  int
	Logger    *slog.Logger
	Tracer    Tracer
}

// Yae is the process-wide server state: the admin store, the per-user agent
// map, and the worker pool. It exclusively owns both the map and the pool.
type Yae struct {
	admin      AdminStore
	runs       WorkflowRunStore
	openAgent  AgentOpener
	provider   Provider
	web        WebAdapter
	pool       *WorkerPool
	logger     *slog.Logger
	tracer     Tracer
	adminToken string

	mu     sync.RWMutex
	agents map[string]*UserAgent
}

var (
	instanceMu sync.Mutex
	instance   *Yae
)

// Initialize creates the singleton: sweeps stale workflow runs, builds the
// worker pool, and generates a fresh ephemeral admin token. Calling it twice
// without an intervening Shutdown is an error.
func Initialize(ctx context.Context, cfg Config) (*Yae, error) {
	instanceMu.Lock()
	defer instanceMu.Unlock()
	if instance != nil {
		return nil, errors.New("yae: already initialized")
	}
	if cfg.Admin == nil || cfg.Runs == nil || cfg.OpenAgent == nil || cfg.Provider == nil {
		return nil, errors.New("yae: Config requires Admin, Runs, OpenAgent, and Provider")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = nopLogger
	}

	// No run may be scheduled while rows from a previous process still
	// claim to be running.
	swept, err := cfg.Runs.MarkStaleAsFailed(ctx)
	if err != nil {
		return nil, fmt.Errorf("sweep stale runs: %w", err)
	}
	if swept > 0 {
		logger.Warn("swept stale workflow runs", "count", swept)
	}

	token, err := newAdminToken()
	if err != nil {
		return nil, fmt.Errorf("generate admin token: %w", err)
	}

	instance = &Yae{
		admin:      cfg.Admin,
		runs:       cfg.Runs,
		openAgent:  cfg.OpenAgent,
		provider:   cfg.Provider,
		web:        cfg.Web,
		pool:       NewWorkerPool(cfg.PoolSize, WithPoolLogger(logger)),
		logger:     logger,
		tracer:     cfg.Tracer,
		adminToken: token,
		agents:     make(map[string]*UserAgent),
	}
	logger.Info("yae initialized", "pool_size", instance.pool.Size(), "stale_runs_swept", swept)
	return instance, nil
}

// GetInstance returns the singleton, or ErrNotInitialized before Initialize.
func GetInstance() (*Yae, error) {
	instanceMu.Lock()
	defer instanceMu.Unlock()
	if instance == nil {
		return nil, ErrNotInitialized
	}
	return instance, nil
}

// Shutdown closes every agent datastore, clears the pool, closes the admin
// store, and releases the singleton.
func (y *Yae) Shutdown(ctx context.Context) error {
	y.mu.Lock()
	var firstErr error
	for id, agent := range y.agents {
		if err := agent.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("close agent %s: %w", id, err)
		}
	}
	y.agents = make(map[string]*UserAgent)
	y.mu.Unlock()

	y.pool.Clear()
	if err := y.admin.Close(); err != nil && firstErr == nil {
		firstErr = fmt.Errorf("close admin store: %w", err)
	}

	instanceMu.Lock()
	if instance == y {
		instance = nil
	}
	instanceMu.Unlock()

	y.logger.Info("yae shut down")
	return firstErr
}

// AgentFor returns the user's agent, creating and caching it on first use.
func (y *Yae) AgentFor(ctx context.Context, userID string) (*UserAgent, error) {
	y.mu.RLock()
	agent, ok := y.agents[userID]
	y.mu.RUnlock()
	if ok {
		return agent, nil
	}

	y.mu.Lock()
	defer y.mu.Unlock()
	if agent, ok := y.agents[userID]; ok {
		return agent, nil
	}

	stores, err := y.openAgent(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("open agent stores for %s: %w", userID, err)
	}
	agent, err = NewUserAgent(ctx, AgentConfig{
		UserID:   userID,
		Memory:   NewMemoryStore(stores.Memory, WithMemoryLogger(y.logger)),
		Messages: NewMessageStore(stores.Messages, WithMessagesLogger(y.logger)),
		Files:    stores.Files,
		Runs:     y.runs,
		Provider: y.provider,
		Web:      y.web,
		Pool:     y.pool,
		Logger:   y.logger,
		Tracer:   y.tracer,
		Closer:   stores.Closer,
	})
	if err != nil {
		if stores.Closer != nil {
			_ = stores.Closer.Close()
		}
		return nil, err
	}
	y.agents[userID] = agent
	y.logger.Info("agent created", "user", userID)
	return agent, nil
}

// DeleteUserAgent closes and evicts the user's live agent, if any. The
// user's durable data is the store's concern, not the map's.
func (y *Yae) DeleteUserAgent(userID string) error {
	y.mu.Lock()
	agent, ok := y.agents[userID]
	delete(y.agents, userID)
	y.mu.Unlock()
	if !ok {
		return nil
	}
	return agent.Close()
}

// Admin exposes the admin store to the HTTP layer.
func (y *Yae) Admin() AdminStore { return y.admin }

// Runs exposes the workflow run store.
func (y *Yae) Runs() WorkflowRunStore { return y.runs }

// Pool exposes the worker pool.
func (y *Yae) Pool() *WorkerPool { return y.pool }

// AdminToken returns the ephemeral admin token generated at Initialize.
func (y *Yae) AdminToken() string { return y.adminToken }

// VerifyAdminToken compares token against the admin token in constant time.
func (y *Yae) VerifyAdminToken(token string) bool {
	return subtle.ConstantTimeCompare([]byte(token), []byte(y.adminToken)) == 1
}

// DispatchWebhookEvent routes a freshly ingested event to its target. The
// event is marked dispatched once routing succeeds.
// TODO: enqueue the webhook's target workflow on the pool once a workflow
// registry maps TargetWorkflow names to definitions.
func (y *Yae) DispatchWebhookEvent(ctx context.Context, hook Webhook, eventID string) error {
	if hook.TargetUserID != "" {
		if _, err := y.AgentFor(ctx, hook.TargetUserID); err != nil {
			_ = y.admin.UpdateWebhookEventStatus(ctx, eventID, WebhookEventFailed, err.Error())
			return err
		}
	}
	if err := y.admin.UpdateWebhookEventStatus(ctx, eventID, WebhookEventDispatched, ""); err != nil {
		return fmt.Errorf("mark event dispatched: %w", err)
	}
	y.logger.Debug("webhook event dispatched",
		"webhook", hook.Slug,
		"event", eventID,
		"target_user", hook.TargetUserID,
		"target_workflow", hook.TargetWorkflow)
	return nil
}

// newAdminToken returns 32 random bytes, hex-encoded.
func newAdminToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
