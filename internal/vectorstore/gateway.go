package vectorstore

import (
	"context"
	"fmt"
	"regexp"
	"sync"
	"time"

	"github.com/qdrant/go-client/qdrant"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
	"google.golang.org/grpc"
)

var tracer = otel.Tracer("fathomd.vectorstore.qdrant")

// collectionNamePattern validates collection names: lowercase letters,
// digits and underscores, 1-64 characters.
var collectionNamePattern = regexp.MustCompile(`^[a-z0-9_]{1,64}$`)

// Named vectors inside every collection.
const (
	DenseVectorName  = "dense"
	SparseVectorName = "sparse"
)

// Config holds configuration for the Qdrant gRPC client.
type Config struct {
	// Host is the Qdrant hostname. Default "localhost".
	Host string

	// Port is the Qdrant gRPC port (6334, not the 6333 REST port).
	Port int

	// UseTLS enables TLS for the gRPC connection.
	UseTLS bool

	// MaxRetries is the retry budget for transient failures. Default 3.
	MaxRetries int

	// RetryBackoff is the initial backoff, doubling per attempt.
	// Default 1s.
	RetryBackoff time.Duration

	// MaxMessageSize is the gRPC message cap in bytes. Default 50MB.
	MaxMessageSize int

	// CircuitBreakerThreshold opens the circuit after this many
	// consecutive failures. Default 5.
	CircuitBreakerThreshold int

	// SearchTimeout bounds individual query calls. Default 10s.
	SearchTimeout time.Duration
}

// Validate validates the configuration.
func (c Config) Validate() error {
	if c.Host == "" {
		return fmt.Errorf("%w: host required", ErrInvalidConfig)
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("%w: invalid port: %d", ErrInvalidConfig, c.Port)
	}
	return nil
}

// ApplyDefaults sets default values for unset fields.
func (c *Config) ApplyDefaults() {
	if c.Host == "" {
		c.Host = "localhost"
	}
	if c.Port == 0 {
		c.Port = 6334
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = 3
	}
	if c.RetryBackoff == 0 {
		c.RetryBackoff = time.Second
	}
	if c.MaxMessageSize == 0 {
		c.MaxMessageSize = 50 * 1024 * 1024
	}
	if c.CircuitBreakerThreshold == 0 {
		c.CircuitBreakerThreshold = 5
	}
	if c.SearchTimeout == 0 {
		c.SearchTimeout = 10 * time.Second
	}
}

// ValidateCollectionName rejects names outside ^[a-z0-9_]{1,64}$.
func ValidateCollectionName(name string) error {
	if name == "" {
		return fmt.Errorf("%w: collection name cannot be empty", ErrInvalidCollectionName)
	}
	if !collectionNamePattern.MatchString(name) {
		return fmt.Errorf("%w: must match ^[a-z0-9_]{1,64}$, got %q", ErrInvalidCollectionName, name)
	}
	return nil
}

// Gateway wraps the Qdrant gRPC client with retries, a circuit breaker and
// trace spans per operation.
type Gateway struct {
	client *qdrant.Client
	config Config
	logger *zap.Logger

	// existence cache, keyed by collection name
	collections sync.Map

	breaker struct {
		mu       sync.Mutex
		failures int
		lastFail time.Time
	}
}

// New connects to Qdrant and verifies the connection with a health check.
func New(config Config, logger *zap.Logger) (*Gateway, error) {
	config.ApplyDefaults()
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if !config.UseTLS {
		logger.Warn("qdrant gRPC using plaintext, enable TLS for production")
	}

	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   config.Host,
		Port:   config.Port,
		UseTLS: config.UseTLS,
		GrpcOptions: []grpc.DialOption{
			grpc.WithDefaultCallOptions(
				grpc.MaxCallRecvMsgSize(config.MaxMessageSize),
				grpc.MaxCallSendMsgSize(config.MaxMessageSize),
			),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConnectionFailed, err)
	}

	g := &Gateway{client: client, config: config, logger: logger}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := g.healthCheck(ctx); err != nil {
		_ = client.Close()
		return nil, err
	}
	return g, nil
}

// Close releases the gRPC connection.
func (g *Gateway) Close() error {
	return g.client.Close()
}

func (g *Gateway) healthCheck(ctx context.Context) error {
	ctx, span := tracer.Start(ctx, "Gateway.HealthCheck")
	defer span.End()

	if _, err := g.client.HealthCheck(ctx); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("health check failed: %w", err)
	}
	span.SetStatus(codes.Ok, "healthy")
	return nil
}

// retry runs operation with exponential backoff for transient errors and
// records outcomes on the circuit breaker.
func (g *Gateway) retry(ctx context.Context, name string, operation func() error) error {
	if g.circuitOpen() {
		return fmt.Errorf("%s: %w", name, ErrCircuitOpen)
	}

	backoff := g.config.RetryBackoff
	for attempt := 0; ; attempt++ {
		err := operation()
		if err == nil {
			g.resetBreaker()
			return nil
		}
		if !IsTransientError(err) {
			return fmt.Errorf("%s failed (permanent): %w", name, err)
		}
		g.recordFailure()
		if attempt == g.config.MaxRetries {
			return fmt.Errorf("%s failed after %d retries: %w", name, g.config.MaxRetries, err)
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("%s canceled: %w", name, ctx.Err())
		case <-time.After(backoff):
			backoff *= 2
		}
	}
}

func (g *Gateway) recordFailure() {
	g.breaker.mu.Lock()
	defer g.breaker.mu.Unlock()
	g.breaker.failures++
	g.breaker.lastFail = time.Now()
}

func (g *Gateway) resetBreaker() {
	g.breaker.mu.Lock()
	defer g.breaker.mu.Unlock()
	g.breaker.failures = 0
}

func (g *Gateway) circuitOpen() bool {
	g.breaker.mu.Lock()
	defer g.breaker.mu.Unlock()

	if g.breaker.failures >= g.config.CircuitBreakerThreshold {
		// half-open after a cooldown
		if time.Since(g.breaker.lastFail) > 30*time.Second {
			g.breaker.failures = 0
			return false
		}
		return true
	}
	return false
}
