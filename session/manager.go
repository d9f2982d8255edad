package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/Mokete-tech/citypulse-voice/config"
	"github.com/Mokete-tech/citypulse-voice/functions"
	"github.com/Mokete-tech/citypulse-voice/gemini"
	"github.com/Mokete-tech/citypulse-voice/metrics"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"
	"google.golang.org/genai"
)

// Manager manages all client sessions
type Manager struct {
	sessions  map[string]*Session
	mu        sync.RWMutex
	redis     *redis.Client
	config    *config.Config
	geminiKey string
	tools     *functions.Client
	metrics   *metrics.Metrics
}

// NewManager creates a session manager with an optional Redis connection for
// presence bookkeeping. m may be nil to disable instrumentation.
func NewManager(cfg *config.Config, m *metrics.Metrics) (*Manager, error) {
	// Try to connect to Redis, but don't fail if unavailable
	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisURL,
		Password: cfg.RedisPassword,
		DB:       0,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := redisClient.Ping(ctx).Err(); err != nil {
		// Redis unavailable, continue without it
		redisClient = nil
	}

	var tools *functions.Client
	if cfg.StorefrontURL != "" {
		tools = functions.NewClient(cfg.StorefrontURL, redisClient)
	}

	return &Manager{
		sessions:  make(map[string]*Session),
		redis:     redisClient,
		config:    cfg,
		geminiKey: cfg.GeminiAPIKey,
		tools:     tools,
		metrics:   m,
	}, nil
}

func buildTools() []*genai.Tool {
	return []*genai.Tool{
		{
			FunctionDeclarations: []*genai.FunctionDeclaration{
				functions.SearchDealsDeclaration(),
				functions.UpcomingEventsDeclaration(),
			},
		},
	}
}

// dialUpstream opens the Gemini Live connection for a session and wires its
// callbacks to the session's relay handlers.
func (sm *Manager) dialUpstream(ctx context.Context, s *Session) (Upstream, error) {
	proxy, err := gemini.NewProxy(ctx, sm.geminiKey)
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini proxy: %w", err)
	}

	if err := proxy.Setup(ctx, DefaultSystemPrompt, buildTools()); err != nil {
		proxy.Close()
		return nil, fmt.Errorf("failed to setup Gemini session: %w", err)
	}

	proxy.OnAudio = s.HandleUpstreamAudio
	proxy.OnText = s.HandleUpstreamText
	proxy.OnComplete = s.HandleUpstreamTurnComplete
	proxy.OnToolCall = s.HandleToolCalls
	proxy.OnError = s.HandleUpstreamError

	proxy.StartReceiving(ctx)
	return proxy, nil
}

// CreateSession creates a new client session
func (sm *Manager) CreateSession(ctx context.Context, clientConn *websocket.Conn) (*Session, error) {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	if len(sm.sessions) >= sm.config.MaxSessions {
		return nil, fmt.Errorf("maximum sessions reached")
	}

	sessionID := uuid.New().String()
	session := New(sessionID, clientConn, sm.dialUpstream, sm.config.MaxPendingFrames, sm.tools, sm.metrics)

	sm.storeSession(ctx, sessionID, session)
	if sm.metrics != nil {
		sm.metrics.SessionsCreated.Inc()
		sm.metrics.ActiveSessions.Set(float64(len(sm.sessions)))
	}
	return session, nil
}

// storeSession saves a session to memory and Redis
func (sm *Manager) storeSession(ctx context.Context, sessionID string, session *Session) {
	sm.sessions[sessionID] = session

	if sm.redis != nil {
		sm.redis.HSet(ctx, "session:"+sessionID, map[string]interface{}{
			"created_at":    session.CreatedAt.Format(time.RFC3339),
			"last_activity": session.LastActive().Format(time.RFC3339),
			"status":        "active",
		})
		sm.redis.SAdd(ctx, "active_sessions", sessionID)
		sm.redis.Expire(ctx, "session:"+sessionID, sm.config.SessionTimeout)
	}
}

// GetSession retrieves a session by ID
func (sm *Manager) GetSession(sessionID string) (*Session, bool) {
	sm.mu.RLock()
	defer sm.mu.RUnlock()

	session, exists := sm.sessions[sessionID]
	return session, exists
}

// RemoveSession cleans up and removes a session
func (sm *Manager) RemoveSession(ctx context.Context, sessionID string) error {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	session, exists := sm.sessions[sessionID]
	if !exists {
		return nil
	}

	session.Close()
	delete(sm.sessions, sessionID)
	sm.forgetSession(ctx, sessionID)

	if sm.metrics != nil {
		sm.metrics.ActiveSessions.Set(float64(len(sm.sessions)))
		sm.metrics.SessionDuration.Observe(time.Since(session.CreatedAt).Seconds())
	}
	return nil
}

func (sm *Manager) forgetSession(ctx context.Context, sessionID string) {
	if sm.redis != nil {
		sm.redis.Del(ctx, "session:"+sessionID)
		sm.redis.SRem(ctx, "active_sessions", sessionID)
	}
}

// GetActiveSessionCount returns current session count
func (sm *Manager) GetActiveSessionCount() int {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return len(sm.sessions)
}

// CleanupInactiveSessions closes sessions that have been idle longer than
// the configured session timeout.
func (sm *Manager) CleanupInactiveSessions(ctx context.Context) {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	now := time.Now()
	for id, session := range sm.sessions {
		if now.Sub(session.LastActive()) > sm.config.SessionTimeout {
			session.Close()
			delete(sm.sessions, id)
			sm.forgetSession(ctx, id)

			if sm.metrics != nil {
				sm.metrics.SessionsExpired.Inc()
				sm.metrics.ActiveSessions.Set(float64(len(sm.sessions)))
				sm.metrics.SessionDuration.Observe(now.Sub(session.CreatedAt).Seconds())
			}
		}
	}
}

// StartCleanupRoutine starts periodic cleanup of inactive sessions
func (sm *Manager) StartCleanupRoutine(ctx context.Context) {
	ticker := time.NewTicker(1 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			sm.CleanupInactiveSessions(ctx)
		}
	}
}

// Shutdown closes all sessions
func (sm *Manager) Shutdown() {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	for id, session := range sm.sessions {
		session.Close()
		delete(sm.sessions, id)
	}

	if sm.redis != nil {
		sm.redis.Close()
	}
}
