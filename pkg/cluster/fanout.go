package cluster

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/ridgeline/proxyguard/internal/telemetry"
)

// ReloadFunc performs the actual local nginx reconciliation. The cluster
// package never renders config itself; it only decides who needs to run it
// and fans the call out to peers.
type ReloadFunc func(ctx context.Context) error

// FanoutConfig holds the tunables for the inter-node reload broadcast
//.
type FanoutConfig struct {
	Port          int
	RequestTimeout time.Duration
	TokenTTL       time.Duration
}

// DefaultFanoutConfig returns a 5s per-peer timeout and a 1 minute admin
// credential lifetime.
func DefaultFanoutConfig(port int) FanoutConfig {
	return FanoutConfig{
		Port:           port,
		RequestTimeout: 5 * time.Second,
		TokenTTL:       time.Minute,
	}
}

// adminToken is a short-lived bearer credential minted by the node that
// initiates a broadcast. It stays valid until it expires (it is not
// consumed on use) and is never persisted.
type adminToken struct {
	value     string
	expiresAt time.Time
}

// TokenIssuer mints and validates the short-lived admin credential used to
// authenticate inter-node reload requests. It is intentionally narrow: full
// admin authentication is out of scope (see DESIGN.md non-goals).
type TokenIssuer struct {
	mu     sync.Mutex
	ttl    time.Duration
	active map[string]time.Time
}

// NewTokenIssuer creates a TokenIssuer with the given credential lifetime.
func NewTokenIssuer(ttl time.Duration) *TokenIssuer {
	return &TokenIssuer{ttl: ttl, active: make(map[string]time.Time)}
}

// Mint issues a new random token valid for ttl.
func (t *TokenIssuer) Mint() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generating admin token: %w", err)
	}
	token := hex.EncodeToString(buf)

	t.mu.Lock()
	t.active[token] = time.Now().Add(t.ttl)
	t.mu.Unlock()
	return token, nil
}

// Validate reports whether token is known and unexpired. It does not
// consume the token; fan-out tokens are short-lived enough that reuse
// across the one broadcast call is expected.
func (t *TokenIssuer) Validate(token string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	expiry, ok := t.active[token]
	if !ok {
		return false
	}
	if time.Now().After(expiry) {
		delete(t.active, token)
		return false
	}
	return true
}

// sweep removes expired tokens. Called opportunistically from Mint callers;
// not scheduled on its own timer since the token set stays tiny.
func (t *TokenIssuer) sweep() {
	now := time.Now()
	for tok, exp := range t.active {
		if now.After(exp) {
			delete(t.active, tok)
		}
	}
}

// Broadcaster fans a reload instruction out to every other active node in
// the cluster. It never recurses: every outbound request
// carries broadcast=false.
type Broadcaster struct {
	svc    *Service
	tokens *TokenIssuer
	cfg    FanoutConfig
	client *http.Client
}

// NewBroadcaster wires a Broadcaster against this node's cluster Service.
func NewBroadcaster(svc *Service, tokens *TokenIssuer, cfg FanoutConfig) *Broadcaster {
	return &Broadcaster{
		svc:    svc,
		tokens: tokens,
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.RequestTimeout},
	}
}

// PeerResult records the outcome of one peer reload call, for the admin
// response and for logging.
type PeerResult struct {
	InstanceID string
	IPAddress  string
	Err        error
}

// Broadcast fires a non-recursive reload request at every other active
// node with a known IP address. Failures are per-peer and do not abort the
// sweep; the caller gets the full result set to log or surface.
func (b *Broadcaster) Broadcast(ctx context.Context) ([]PeerResult, error) {
	nodes, err := b.svc.GetActiveNodes(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing active nodes for broadcast: %w", err)
	}

	token, err := b.tokens.Mint()
	if err != nil {
		return nil, fmt.Errorf("minting broadcast token: %w", err)
	}
	b.tokens.sweep()

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		results []PeerResult
	)

	for _, n := range nodes {
		if n.InstanceID == b.svc.InstanceID() || n.IPAddress == "" {
			continue
		}

		wg.Add(1)
		go func(n nodeTarget) {
			defer wg.Done()
			err := b.callPeer(ctx, n, token)
			if err != nil {
				telemetry.ReloadFanoutPeerFailuresTotal.Inc()
			}

			mu.Lock()
			results = append(results, PeerResult{InstanceID: n.InstanceID, IPAddress: n.IPAddress, Err: err})
			mu.Unlock()
		}(nodeTarget{InstanceID: n.InstanceID, IPAddress: n.IPAddress})
	}

	wg.Wait()
	return results, nil
}

// nodeTarget is the minimal addressing info Broadcast needs per peer,
// copied out of store.ClusterNode to keep the goroutine closure small.
type nodeTarget struct {
	InstanceID string
	IPAddress  string
}

func (b *Broadcaster) callPeer(ctx context.Context, n nodeTarget, token string) error {
	reqCtx, cancel := context.WithTimeout(ctx, b.cfg.RequestTimeout)
	defer cancel()

	url := fmt.Sprintf("http://%s:%d/cluster/reload?broadcast=false", n.IPAddress, b.cfg.Port)
	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, url, nil)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := b.client.Do(req)
	if err != nil {
		return fmt.Errorf("calling peer: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("peer returned status %d", resp.StatusCode)
	}
	return nil
}
