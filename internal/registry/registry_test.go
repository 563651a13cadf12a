package registry

import (
	"fmt"
	"strings"
	"sync"
	"testing"

	"modelgate/internal/apperr"
	"modelgate/internal/privacy"
	"modelgate/internal/store"
	"modelgate/pkg/types"
)

func TestSlugifyAndModelID(t *testing.T) {
	cases := map[string]string{
		"Llama 2":         "llama-2",
		"  mixed__Case!! ": "mixed-case",
		"---":             "",
		"a/b\\c":          "a-b-c",
	}
	for in, want := range cases {
		if got := Slugify(in); got != want {
			t.Fatalf("Slugify(%q) = %q, want %q", in, got, want)
		}
	}
	if id := ModelID("t1", types.BackendOllama, "Test"); id != "t1_ollama_test" {
		t.Fatalf("id = %s", id)
	}
	if id := ModelID(types.NoTenant, types.BackendOpenAI, "Test"); id != "global_openai_test" {
		t.Fatalf("global id = %s", id)
	}
}

func TestModelIDOwnerSegmentIsInjective(t *testing.T) {
	pairs := [][2]string{
		{"Acme", "acme"},
		{"org_1", "org-1"},
		{"global", types.NoTenant},
		{"δοκιμή", "тест"},
	}
	for _, p := range pairs {
		a := ModelID(p[0], types.BackendOllama, "shared")
		b := ModelID(p[1], types.BackendOllama, "shared")
		if a == b {
			t.Fatalf("tenants %q and %q share id %q", p[0], p[1], a)
		}
	}
	if got := ModelID("Acme", types.BackendOllama, "shared"); got != ModelID("Acme", types.BackendOllama, "Shared") {
		t.Fatalf("id must be stable for one tenant: %s", got)
	}
}

func TestSameNameUnderLookalikeTenants(t *testing.T) {
	h := newHarness(t, nil)
	ctx := testCtx(t)
	for _, p := range [][2]string{{"Acme", "acme"}, {"org_1", "org-1"}} {
		first, err := h.reg.Register(ctx, fakeSpec("shared"), p[0])
		if err != nil {
			t.Fatalf("register under %q: %v", p[0], err)
		}
		second, err := h.reg.Register(ctx, fakeSpec("shared"), p[1])
		if err != nil {
			t.Fatalf("register under %q: %v", p[1], err)
		}
		if first == second {
			t.Fatalf("%q and %q got the same id %q", p[0], p[1], first)
		}
		if _, ok := h.reg.Get(first, p[1]); ok {
			t.Fatalf("%q can see %q's model", p[1], p[0])
		}
		if info, ok := h.reg.Get(second, p[1]); !ok || info.TenantID != p[1] {
			t.Fatalf("get %s = %+v, %v", second, info, ok)
		}
	}
}

func TestRegisterGetUnregisterAcrossTenants(t *testing.T) {
	h := newHarness(t, nil)
	ctx := testCtx(t)

	id, err := h.reg.Register(ctx, fakeSpec("test"), "t1")
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if !strings.Contains(id, "t1") || !strings.Contains(id, "fake") || !strings.Contains(id, "test") {
		t.Fatalf("id %q does not carry tenant, backend and name", id)
	}
	info, ok := h.reg.Get(id, "t1")
	if !ok || info.Status != types.StatusAvailable || info.TenantID != "t1" {
		t.Fatalf("get = %+v, %v", info, ok)
	}
	if _, ok := h.reg.Get(id, "t2"); ok {
		t.Fatalf("other tenant must not see the model")
	}
	if _, _, ok := h.reg.Backend(id, "t2"); ok {
		t.Fatalf("other tenant must not get the backend")
	}
	if _, ok := h.reg.Get(id, types.NoTenant); !ok {
		t.Fatalf("admin lookup must bypass scoping")
	}
	if got := h.reg.List("t2", nil); len(got) != 0 {
		t.Fatalf("t2 list = %v", got)
	}

	if err := h.reg.Unregister(ctx, id, "t2"); !apperr.IsAccessDenied(err) {
		t.Fatalf("want access denied, got %v", err)
	}
	if err := h.reg.Unregister(ctx, id, "t1"); err != nil {
		t.Fatalf("unregister: %v", err)
	}
	if _, ok := h.reg.Get(id, "t1"); ok {
		t.Fatalf("model still present after unregister")
	}
	if h.fake.last().shutdowns.Load() != 1 {
		t.Fatalf("adapter not shut down")
	}
	if _, err := h.store.Get(ctx, id); err != store.ErrNotFound {
		t.Fatalf("persisted record not removed: %v", err)
	}
	if err := h.reg.Unregister(ctx, id, "t1"); !apperr.IsModelNotAvailable(err) {
		t.Fatalf("second unregister: %v", err)
	}

	want := []string{EventRegisterStart, EventRegisterReady, EventUnregisterDone}
	got := h.pub.Names()
	if fmt.Sprint(got) != fmt.Sprint(want) {
		t.Fatalf("events = %v, want %v", got, want)
	}
}

func TestSameNameDifferentTenants(t *testing.T) {
	h := newHarness(t, nil)
	a, err := h.reg.Register(testCtx(t), fakeSpec("shared"), "a")
	if err != nil {
		t.Fatalf("register a: %v", err)
	}
	b, err := h.reg.Register(testCtx(t), fakeSpec("shared"), "b")
	if err != nil {
		t.Fatalf("register b: %v", err)
	}
	if a == b {
		t.Fatalf("ids must differ across tenants: %s", a)
	}
}

func TestDuplicateLeavesStateUnchanged(t *testing.T) {
	h := newHarness(t, nil)
	id, err := h.reg.Register(testCtx(t), fakeSpec("dup"), "t1")
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	before := h.reg.List(types.NoTenant, nil)
	_, err = h.reg.Register(testCtx(t), fakeSpec("DUP"), "t1")
	if !apperr.IsDuplicateModel(err) {
		t.Fatalf("want duplicate, got %v", err)
	}
	after := h.reg.List(types.NoTenant, nil)
	if len(before) != 1 || len(after) != 1 || after[0].ID != id {
		t.Fatalf("state changed: before=%v after=%v", before, after)
	}
	recs, _ := h.store.List(testCtx(t))
	if len(recs) != 1 {
		t.Fatalf("store has %d records", len(recs))
	}
}

func TestConcurrentRegisterSameName(t *testing.T) {
	h := newHarness(t, nil)
	const n = 16
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := h.reg.Register(testCtx(t), fakeSpec("race"), "t1")
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	ok, dup := 0, 0
	for err := range errs {
		switch {
		case err == nil:
			ok++
		case apperr.IsDuplicateModel(err):
			dup++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if ok != 1 || dup != n-1 {
		t.Fatalf("ok=%d dup=%d", ok, dup)
	}
}

func TestUnsupportedBackend(t *testing.T) {
	h := newHarness(t, nil)
	_, err := h.reg.Register(testCtx(t), types.ModelSpec{Name: "x", BackendType: "tensorrt"}, "t1")
	if apperr.CodeOf(err) != apperr.CodeUnsupportedBackend {
		t.Fatalf("want unsupported backend, got %v", err)
	}
	if len(h.reg.List(types.NoTenant, nil)) != 0 {
		t.Fatalf("nothing should be registered")
	}
	// the name is free again
	if _, err := h.reg.Register(testCtx(t), fakeSpec("x"), "t1"); err != nil {
		t.Fatalf("register after unsupported: %v", err)
	}
}

func TestInitFailureRollsBack(t *testing.T) {
	h := newHarness(t, nil)
	h.reg.sanitize = privacy.New(privacy.Config{AnonymizeLogs: true}).SanitizeErrorMessage
	spec := fakeSpec("broken")
	spec.Config["fail_init"] = true
	_, err := h.reg.Register(testCtx(t), spec, "t1")
	if apperr.CodeOf(err) != apperr.CodeAdapterInitFailed {
		t.Fatalf("want adapter init failed, got %v", err)
	}
	if strings.Contains(err.Error(), "10.0.0.5") {
		t.Fatalf("error leaks backend address: %v", err)
	}
	if len(h.reg.List(types.NoTenant, nil)) != 0 {
		t.Fatalf("model left behind")
	}
	if recs, _ := h.store.List(testCtx(t)); len(recs) != 0 {
		t.Fatalf("persisted record left behind: %v", recs)
	}
	if h.fake.last().shutdowns.Load() != 1 {
		t.Fatalf("failed adapter not shut down")
	}
	names := h.pub.Names()
	if names[len(names)-1] != EventRegisterFailed {
		t.Fatalf("events = %v", names)
	}
	delete(spec.Config, "fail_init")
	if _, err := h.reg.Register(testCtx(t), spec, "t1"); err != nil {
		t.Fatalf("retry after rollback: %v", err)
	}
}

func TestInvalidConfigRejectedBeforePersist(t *testing.T) {
	h := newHarness(t, nil)
	_, err := h.reg.Register(testCtx(t), types.ModelSpec{Name: "m", BackendType: fakeBackend}, "t1")
	if apperr.CodeOf(err) != apperr.CodeInvalidParams {
		t.Fatalf("want invalid params, got %v", err)
	}
	if recs, _ := h.store.List(testCtx(t)); len(recs) != 0 {
		t.Fatalf("invalid config persisted")
	}
	if _, err := h.reg.Register(testCtx(t), types.ModelSpec{BackendType: fakeBackend}, "t1"); apperr.CodeOf(err) != apperr.CodeInvalidParams {
		t.Fatalf("missing name: %v", err)
	}
	spec := fakeSpec("caps")
	spec.Capabilities = []types.InferenceType{"telepathy"}
	if _, err := h.reg.Register(testCtx(t), spec, "t1"); apperr.CodeOf(err) != apperr.CodeInvalidParams {
		t.Fatalf("bad capability: %v", err)
	}
}

func TestPrivacyValidatorBlocksExternalConfig(t *testing.T) {
	h := newHarness(t, nil)
	h.reg.validator = privacy.New(privacy.Config{BlockExternalRequests: true})
	spec := fakeSpec("remote")
	spec.Config["base_url"] = "https://api.example.com/v1"
	_, err := h.reg.Register(testCtx(t), spec, "t1")
	if !apperr.IsTenantAccessDenied(err) {
		t.Fatalf("want tenant access denied, got %v", err)
	}
	if h.fake.last() != nil {
		t.Fatalf("adapter must not be built for a blocked config")
	}
}

func TestDefaultsMergedUnderModelConfig(t *testing.T) {
	h := newHarness(t, nil)
	spec := fakeSpec("merge")
	spec.Config["timeout"] = "9s"
	spec.Capabilities = []types.InferenceType{types.InferenceCompletion, types.InferenceEmbedding}
	spec.ContextLength = 2048
	id, err := h.reg.Register(testCtx(t), spec, "t1")
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	cfg := h.fake.last().cfg
	if cfg["base_url"] != "http://localhost:1" || cfg["timeout"] != "9s" {
		t.Fatalf("merged config = %v", cfg)
	}
	info, _ := h.reg.Get(id, "t1")
	if len(info.Capabilities) != 2 || info.ContextLength != 2048 {
		t.Fatalf("info = %+v", info)
	}
	if _, ok := info.Config["base_url"]; ok {
		t.Fatalf("defaults should not be reported as model config")
	}
}

func TestListStatusFilterAndStats(t *testing.T) {
	h := newHarness(t, nil)
	id1, _ := h.reg.Register(testCtx(t), fakeSpec("b-model"), "t1")
	id2, _ := h.reg.Register(testCtx(t), fakeSpec("a-model"), "t1")
	_, _ = h.reg.Register(testCtx(t), fakeSpec("other"), "t2")

	all := h.reg.List("t1", nil)
	if len(all) != 2 || all[0].ID != id2 || all[1].ID != id1 {
		t.Fatalf("list not sorted by id: %v", all)
	}

	h.fake.built[0].healthy.Store(false)
	if ok, err := h.reg.HealthCheckModel(testCtx(t), id1); err != nil || ok {
		t.Fatalf("health = %v, %v", ok, err)
	}
	errStatus := types.StatusError
	if got := h.reg.List("t1", &errStatus); len(got) != 1 || got[0].ID != id1 {
		t.Fatalf("filtered list = %v", got)
	}

	st := h.reg.Stats("t1", 3)
	if st.TotalModels != 2 || st.ByBackend[fakeBackend] != 2 || st.ByStatus[types.StatusError] != 1 ||
		st.ByCapability[types.InferenceCompletion] != 2 || st.InFlight != 3 {
		t.Fatalf("stats = %+v", st)
	}
	if h.reg.Stats(types.NoTenant, 0).TotalModels != 3 {
		t.Fatalf("admin stats should count every model")
	}
}

func TestInfoRedactsSecrets(t *testing.T) {
	h := newHarness(t, nil)
	spec := fakeSpec("secret")
	spec.Config["api_key"] = "sk-123"
	id, err := h.reg.Register(testCtx(t), spec, "t1")
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	info, _ := h.reg.Get(id, "t1")
	if info.Config["api_key"] != "***" {
		t.Fatalf("api_key not redacted: %v", info.Config)
	}
	if h.fake.last().cfg["api_key"] != "sk-123" {
		t.Fatalf("adapter must receive the real key")
	}
}
