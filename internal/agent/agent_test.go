package agent

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentworkforce/offlinesync/internal/bridge"
	"github.com/agentworkforce/offlinesync/internal/cachetier"
	"github.com/agentworkforce/offlinesync/internal/intercept"
	"github.com/agentworkforce/offlinesync/internal/records"
	"github.com/agentworkforce/offlinesync/internal/syncagent"
)

type testEnv struct {
	agent     *Agent
	originURL string
	storage   cachetier.Storage
	store     records.Store
	view      *bridge.ChanClient
	reachable atomic.Bool
	failShell atomic.Bool
	accepted  atomic.Int32

	mu   sync.Mutex
	hold chan struct{}
	held chan struct{}
}

// holdManifest makes the origin stall on /manifest.json until release is
// called. The returned channel receives once the origin is stalled.
func (env *testEnv) holdManifest() (held <-chan struct{}, release func()) {
	env.mu.Lock()
	defer env.mu.Unlock()
	env.hold = make(chan struct{})
	env.held = make(chan struct{}, 1)
	hold := env.hold
	var once sync.Once
	return env.held, func() { once.Do(func() { close(hold) }) }
}

func (env *testEnv) manifestGate() (hold, held chan struct{}) {
	env.mu.Lock()
	defer env.mu.Unlock()
	return env.hold, env.held
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	env := &testEnv{}
	env.reachable.Store(true)

	origin := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hold, held := env.manifestGate(); hold != nil && r.URL.Path == "/manifest.json" {
			select {
			case held <- struct{}{}:
			default:
			}
			<-hold
		}
		if env.failShell.Load() && r.URL.Path == "/manifest.json" {
			http.Error(w, "gone", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte("<html>" + r.URL.Path + "</html>"))
	}))
	t.Cleanup(origin.Close)
	env.originURL = origin.URL

	remote := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		env.accepted.Add(1)
		w.WriteHeader(http.StatusCreated)
	}))
	t.Cleanup(remote.Close)

	originURL, err := url.Parse(origin.URL)
	require.NoError(t, err)

	env.storage = cachetier.NewMemoryStorage()
	tiers := cachetier.NewManager(env.storage, cachetier.NamesFor("test-", "1"))
	metrics := bridge.NewMetrics(time.Now())
	b := bridge.New(bridge.Options{Metrics: metrics})
	env.view = bridge.NewChanClient(32)
	b.Register(env.view)

	interceptor, err := intercept.New(intercept.Options{
		Origin: originURL,
		Rules: intercept.Rules{
			ShellPaths:     []string{"/", "/index.html", "/manifest.json"},
			StaticPrefixes: []string{"/static/"},
			APIPatterns:    []string{"/api/"},
		},
		Tiers:     tiers,
		Transport: origin.Client().Transport,
		Metrics:   metrics,
	})
	require.NoError(t, err)

	env.store = records.NewMemoryStore()
	prober := syncagent.ProberFunc(func(context.Context) bool { return env.reachable.Load() })
	orchestrator, err := syncagent.NewOrchestrator(syncagent.Options{
		Store:    env.store,
		Sender:   syncagent.NewHTTPSender(remote.URL, remote.Client()).WithRetries(0, 0, 0),
		Prober:   prober,
		Notifier: b,
		Metrics:  metrics,
	})
	require.NoError(t, err)

	env.agent, err = New(Options{
		Version:      "1",
		CachePrefix:  "test-",
		Records:      env.store,
		Tiers:        tiers,
		Interceptor:  interceptor,
		Orchestrator: orchestrator,
		Bridge:       b,
		Prober:       prober,
		Metrics:      metrics,
		SyncDelay:    10 * time.Millisecond,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = env.agent.Close() })
	return env
}

func (env *testEnv) addRecord(t *testing.T) records.Record {
	t.Helper()
	rec, err := env.store.Add(context.Background(), records.Draft{StudentName: "Ana", Activity: "Lab", Date: "2024-01-15", Hours: 2})
	require.NoError(t, err)
	return rec
}

func (env *testEnv) messages() []bridge.Message {
	var out []bridge.Message
	for {
		select {
		case msg := <-env.view.Messages():
			out = append(out, msg)
		default:
			return out
		}
	}
}

func (env *testEnv) pending(t *testing.T) int {
	t.Helper()
	n, err := env.store.Count(context.Background())
	require.NoError(t, err)
	return n
}

func TestActivateRunsEveryStep(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	_, err := env.storage.Open(ctx, "test-shell-v0")
	require.NoError(t, err)
	_, err = env.storage.Open(ctx, "other-cache")
	require.NoError(t, err)
	env.addRecord(t)

	require.NoError(t, env.agent.Install(ctx))
	require.NoError(t, env.agent.Activate(ctx))

	msgs := env.messages()
	require.NotEmpty(t, msgs)
	assert.Equal(t, bridge.TypeClientsClaimed, msgs[0].Type)
	assert.Equal(t, "1", msgs[0].Version)

	names, err := env.storage.Names(ctx)
	require.NoError(t, err)
	assert.NotContains(t, names, "test-shell-v0")
	assert.Contains(t, names, "other-cache")
	assert.Contains(t, names, "test-shell-v1")

	_, ok, err := env.agent.tiers.Match(ctx, cachetier.Shell, cachetier.RequestKey(http.MethodGet, env.agent.interceptor.OfflinePageURL()))
	require.NoError(t, err)
	assert.True(t, ok, "offline page is stored during activation")

	require.Eventually(t, func() bool { return env.pending(t) == 0 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, int32(1), env.accepted.Load())
}

func TestActivateSkipsSyncWhenUnreachable(t *testing.T) {
	env := newTestEnv(t)
	env.reachable.Store(false)
	env.addRecord(t)

	require.NoError(t, env.agent.Activate(context.Background()))
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 1, env.pending(t))
	assert.Equal(t, int32(0), env.accepted.Load())
}

func TestStartSyncMessageTriggersRun(t *testing.T) {
	env := newTestEnv(t)
	env.addRecord(t)

	env.agent.Bridge().Dispatch(context.Background(), env.view, bridge.Message{Type: "start_sync"})
	require.Eventually(t, func() bool { return env.pending(t) == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestRequestSyncReturnsResult(t *testing.T) {
	env := newTestEnv(t)
	env.addRecord(t)
	env.addRecord(t)

	result := env.agent.RequestSync(context.Background())
	assert.Equal(t, 2, result.Successful)
	assert.Equal(t, 2, result.Total)
}

func TestUpgradeMovesToNewGeneration(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	require.NoError(t, env.agent.Install(ctx))

	require.NoError(t, env.agent.Upgrade(ctx, "2"))
	assert.Equal(t, "2", env.agent.Version())

	names, err := env.storage.Names(ctx)
	require.NoError(t, err)
	assert.Contains(t, names, "test-shell-v2")
	assert.NotContains(t, names, "test-shell-v1")
}

func TestCurrentGenerationServesWhileUpgradeInstalls(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	require.NoError(t, env.agent.Install(ctx))

	held, release := env.holdManifest()
	t.Cleanup(release)
	upgraded := make(chan error, 1)
	go func() { upgraded <- env.agent.Upgrade(ctx, "2") }()

	select {
	case <-held:
	case <-time.After(2 * time.Second):
		release()
		t.Fatalf("upgrade never started its install")
	}

	assert.Equal(t, cachetier.NamesFor("test-", "1"), env.agent.tiers.Names())
	assert.Equal(t, "1", env.agent.Version())
	hitsBefore := env.agent.Metrics().Snapshot(time.Now()).CacheHits
	req, err := http.NewRequest(http.MethodGet, env.originURL+"/", nil)
	require.NoError(t, err)
	resp, err := env.agent.Interceptor().Fetch(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, hitsBefore+1, env.agent.Metrics().Snapshot(time.Now()).CacheHits, "/ is served from the installed shell tier")

	release()
	select {
	case err := <-upgraded:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatalf("upgrade did not finish")
	}
	assert.Equal(t, "2", env.agent.Version())
	assert.Equal(t, cachetier.NamesFor("test-", "2"), env.agent.tiers.Names())
}

func TestFailedUpgradeKeepsCurrentGeneration(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	require.NoError(t, env.agent.Install(ctx))
	env.failShell.Store(true)

	err := env.agent.Upgrade(ctx, "2")
	require.Error(t, err)
	assert.Equal(t, "1", env.agent.Version())
	assert.Equal(t, cachetier.NamesFor("test-", "1"), env.agent.tiers.Names())

	names, err := env.storage.Names(ctx)
	require.NoError(t, err)
	assert.Contains(t, names, "test-shell-v1")
	assert.NotContains(t, names, "test-shell-v2")
}

func TestCloseCancelsScheduledSync(t *testing.T) {
	env := newTestEnv(t)
	env.agent.syncDelay = time.Hour
	env.addRecord(t)
	require.NoError(t, env.agent.Activate(context.Background()))

	done := make(chan struct{})
	go func() {
		_ = env.agent.Close()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("close waited for a scheduled sync")
	}
	assert.Equal(t, 1, env.pending(t))
}
