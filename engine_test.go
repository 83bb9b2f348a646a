package trustcore

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/clinforge/trustcore/store/memstore"
)

var testClockStart = time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)

// testClock is a manually advanced time source shared by an engine and
// its test.
type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: testClockStart}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type fakeProvider struct {
	mu         sync.Mutex
	byID       map[string]Principal
	byIdent    map[string]string
	lastLogin  map[string]time.Time
	hashWrites int
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{
		byID:      make(map[string]Principal),
		byIdent:   make(map[string]string),
		lastLogin: make(map[string]time.Time),
	}
}

func (f *fakeProvider) add(p Principal) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.byID[p.ID] = p
	f.byIdent[p.TenantID+"\x00"+p.Identifier] = p.ID
}

func (f *fakeProvider) PrincipalByIdentifier(_ context.Context, tenantID, identifier string) (Principal, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id, ok := f.byIdent[tenantID+"\x00"+identifier]
	if !ok {
		return Principal{}, ErrInvalidCredentials
	}
	return f.byID[id], nil
}

func (f *fakeProvider) PrincipalByID(_ context.Context, principalID string) (Principal, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.byID[principalID]
	if !ok {
		return Principal{}, ErrInvalidCredentials
	}
	return p, nil
}

func (f *fakeProvider) UpdatePasswordHash(_ context.Context, principalID, newHash string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	p := f.byID[principalID]
	p.PasswordHash = newHash
	f.byID[principalID] = p
	f.hashWrites++
	return nil
}

func (f *fakeProvider) TouchLastLogin(_ context.Context, principalID string, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastLogin[principalID] = at
	return nil
}

type testEnv struct {
	engine   *Engine
	store    *memstore.Store
	provider *fakeProvider
	clock    *testClock
}

func testEngineConfig() Config {
	cfg := defaultConfig()
	cfg.JWT.SigningMethod = "hs256"
	cfg.JWT.PrivateKey = []byte("test-hs256-signing-key-32-bytes!")
	cfg.FieldCipher.Key = []byte("0123456789abcdef0123456789abcdef")
	cfg.Audit.SigningKey = []byte("audit-chain-signing-key-for-test")
	cfg.Metrics.Enabled = true
	// Light hashing keeps the suite fast.
	cfg.Password.Memory = 16 * 1024
	cfg.Password.Time = 1
	cfg.Password.Parallelism = 1
	return cfg
}

func newTestEngine(t *testing.T) *testEnv {
	t.Helper()

	mem := memstore.New()
	provider := newFakeProvider()
	clock := newTestClock()

	engine, err := New().
		WithConfig(testEngineConfig()).
		WithStore(mem).
		WithPrincipalProvider(provider).
		WithClock(clock.Now).
		Build()
	if err != nil {
		t.Fatalf("Build error: %v", err)
	}
	t.Cleanup(engine.Close)

	return &testEnv{engine: engine, store: mem, provider: provider, clock: clock}
}

// addPrincipal registers an active account with the given password and
// returns it.
func (env *testEnv) addPrincipal(t *testing.T, id, tenantID, identifier, pass string) Principal {
	t.Helper()
	hash, err := env.engine.hasher.Hash(pass)
	if err != nil {
		t.Fatalf("Hash error: %v", err)
	}
	p := Principal{
		ID:           id,
		TenantID:     tenantID,
		Identifier:   identifier,
		PasswordHash: hash,
		Role:         RoleDoctor,
		Active:       true,
	}
	env.provider.add(p)
	return p
}

// totpCodeFor computes the current code for an enrollment, the way an
// authenticator app would.
func (env *testEnv) totpCodeFor(t *testing.T, secretBase32 string) string {
	t.Helper()
	secret, err := decodeBase32Secret(secretBase32)
	if err != nil {
		t.Fatalf("decode secret: %v", err)
	}
	counter := env.clock.Now().Unix() / int64(env.engine.config.MFA.Period)
	code, err := hotpCode(secret, counter, env.engine.config.MFA.Digits, env.engine.config.MFA.Algorithm)
	if err != nil {
		t.Fatalf("hotp: %v", err)
	}
	return code
}

// enableMFA walks a principal through enroll and confirm, returning the
// shared secret and the raw backup codes.
func (env *testEnv) enableMFA(t *testing.T, principalID string) (string, []string) {
	t.Helper()
	ctx := context.Background()

	enrollment, err := env.engine.EnrollMFA(ctx, principalID)
	if err != nil {
		t.Fatalf("EnrollMFA error: %v", err)
	}

	codes, err := env.engine.ConfirmMFAEnrollment(ctx, principalID, env.totpCodeFor(t, enrollment.SecretBase32))
	if err != nil {
		t.Fatalf("ConfirmMFAEnrollment error: %v", err)
	}
	return enrollment.SecretBase32, codes
}

func TestHealthConfiguredEngine(t *testing.T) {
	env := newTestEngine(t)

	h := env.engine.Health(context.Background())
	if !h.Ready() {
		t.Fatalf("expected ready, got %+v", h)
	}
}

func TestHealthReportsMissingFieldCipher(t *testing.T) {
	cfg := testEngineConfig()
	cfg.FieldCipher.Key = nil

	engine, err := New().
		WithConfig(cfg).
		WithStore(memstore.New()).
		WithPrincipalProvider(newFakeProvider()).
		Build()
	if err != nil {
		t.Fatalf("Build error: %v", err)
	}
	t.Cleanup(engine.Close)

	h := engine.Health(context.Background())
	if h.FieldCipher {
		t.Fatal("unconfigured field cipher reported healthy")
	}
	if h.Ready() {
		t.Fatal("engine without a field cipher key reported ready")
	}
	if !h.Store || !h.AuditChain {
		t.Fatalf("unrelated components marked unhealthy: %+v", h)
	}
}
