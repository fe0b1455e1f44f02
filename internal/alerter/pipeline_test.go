package alerter

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/pisafe/pisafe/internal/cipher"
	"github.com/pisafe/pisafe/internal/config"
	"github.com/pisafe/pisafe/internal/decoder"
	"github.com/pisafe/pisafe/internal/types"
	"github.com/rs/zerolog"
)

type fakeDispatcher struct {
	mu      sync.Mutex
	calls   []string
	ctxErrs []error
}

func (f *fakeDispatcher) Dispatch(ctx context.Context, alertID, text, area string) types.DispatchReport {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, text)
	f.ctxErrs = append(f.ctxErrs, ctx.Err())
	return types.DispatchReport{
		AlertID: alertID,
		Channels: map[string]types.ChannelResult{
			"sms":   {OK: true, Targets: 1, Delivered: 1},
			"push":  {OK: false, Error: "hub down", Targets: 1},
			"siren": {OK: true, Targets: 1, Delivered: 1},
		},
	}
}

func (f *fakeDispatcher) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

type fakeAudit struct {
	mu      sync.Mutex
	entries []types.AuditEntry
	err     error
}

func (f *fakeAudit) Record(_ context.Context, e types.AuditEntry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.entries = append(f.entries, e)
	return nil
}

func (f *fakeAudit) Recent(n int) []types.AuditEntry {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []types.AuditEntry
	for i := len(f.entries) - 1; i >= 0 && len(out) < n; i-- {
		out = append(out, f.entries[i])
	}
	return out
}

type failingCipher struct{}

func (failingCipher) Encrypt(string) (types.EncryptedAlert, error) {
	return types.EncryptedAlert{}, errors.New("entropy exhausted")
}

func (failingCipher) Decrypt(types.EncryptedAlert) (string, error) {
	return "", errors.New("no key")
}

func newTestPipeline(t *testing.T, behavior config.AlertBehavior) (*Pipeline, *fakeDispatcher, *fakeAudit) {
	t.Helper()
	c, err := cipher.New(bytes.Repeat([]byte{3}, 32))
	if err != nil {
		t.Fatal(err)
	}
	if behavior.DedupWindowSize == 0 {
		behavior.DedupWindowSize = 1000
	}
	if behavior.MaxLength == 0 {
		behavior.MaxLength = 500
	}
	d := &fakeDispatcher{}
	a := &fakeAudit{}
	p := NewPipeline(decoder.New(), NewValidator(behavior, zerolog.Nop()), c, d, a, a, zerolog.Nop())
	return p, d, a
}

func TestSubmitDuplicate(t *testing.T) {
	p, d, a := newTestPipeline(t, config.AlertBehavior{})
	ctx := context.Background()

	first := p.SubmitText(ctx, "FLOOD-area51", "")
	if first.State != types.StateLogged || first.Err != nil {
		t.Fatalf("first submit = %s, %v", first.State, first.Err)
	}
	if first.Report == nil || len(first.Report.Channels) != 3 {
		t.Fatalf("expected a report with one entry per channel, got %+v", first.Report)
	}
	if failed := first.Report.Failed(); len(failed) != 1 || failed[0] != "push" {
		t.Fatalf("failed channels = %v", failed)
	}

	second := p.SubmitText(ctx, "FLOOD-area51", "")
	if second.State != types.StateRejected || second.Reason != ReasonDuplicate {
		t.Fatalf("second submit = %s/%s", second.State, second.Reason)
	}
	if d.count() != 1 || len(a.entries) != 1 {
		t.Fatalf("dispatch=%d audit=%d, want 1 and 1", d.count(), len(a.entries))
	}
}

func TestSubmitEvictionAllowsResubmit(t *testing.T) {
	p, d, _ := newTestPipeline(t, config.AlertBehavior{DedupWindowSize: 2})
	ctx := context.Background()

	for _, text := range []string{"FLOOD-area51", "FIRE-kitchen", "INTRUSION-door", "FLOOD-area51"} {
		if res := p.SubmitText(ctx, text, ""); res.State != types.StateLogged {
			t.Fatalf("%s: state %s reason %s", text, res.State, res.Reason)
		}
	}
	if d.count() != 4 {
		t.Fatalf("dispatch calls = %d", d.count())
	}
}

func TestSubmitRejectsWithoutSideEffects(t *testing.T) {
	p, d, a := newTestPipeline(t, config.AlertBehavior{MaxLength: 20})
	ctx := context.Background()

	for _, raw := range []string{"", "   ", strings.Repeat("a", 21), "ZCZC-garbage"} {
		res := p.SubmitText(ctx, raw, "")
		if res.State != types.StateRejected || res.Reason != ReasonEmptyOrWrongType {
			t.Errorf("SubmitText(%q) = %s/%s", raw, res.State, res.Reason)
		}
		var ve *ValidationError
		if !errors.As(res.Err, &ve) {
			t.Errorf("SubmitText(%q) error %v is not a ValidationError", raw, res.Err)
		}
	}
	if d.count() != 0 || len(a.entries) != 0 || p.WindowLen() != 0 {
		t.Fatal("rejected alerts must have no side effects")
	}
}

func TestSubmitConcurrentIdentical(t *testing.T) {
	p, d, _ := newTestPipeline(t, config.AlertBehavior{})

	var wg sync.WaitGroup
	results := make(chan types.PipelineResult, 32)
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results <- p.SubmitText(context.Background(), "SMOKE hallway", "upstairs")
		}()
	}
	wg.Wait()
	close(results)

	logged := 0
	for r := range results {
		if r.State == types.StateLogged {
			logged++
		} else if r.Reason != ReasonDuplicate {
			t.Errorf("unexpected result %s/%s", r.State, r.Reason)
		}
	}
	if logged != 1 || d.count() != 1 {
		t.Fatalf("logged=%d dispatched=%d, want 1", logged, d.count())
	}
}

func TestSubmitCryptoFailure(t *testing.T) {
	p, d, a := newTestPipeline(t, config.AlertBehavior{})
	good := p.cipher
	p.cipher = failingCipher{}

	res := p.SubmitText(context.Background(), "FIRE-garage", "")
	var ce *CryptoError
	if res.State != types.StateFailed || !errors.As(res.Err, &ce) {
		t.Fatalf("result = %s, %v", res.State, res.Err)
	}
	if d.count() != 0 || len(a.entries) != 0 {
		t.Fatal("failed alert must not be dispatched or audited")
	}

	p.cipher = good
	if res := p.SubmitText(context.Background(), "FIRE-garage", ""); res.State != types.StateLogged {
		t.Fatalf("retry after crypto failure = %s/%s", res.State, res.Reason)
	}
}

func TestSubmitAuditFailureStillLogged(t *testing.T) {
	p, d, a := newTestPipeline(t, config.AlertBehavior{})
	a.err = errors.New("table unavailable")

	res := p.SubmitText(context.Background(), "WATER basement", "")
	if res.State != types.StateLogged || res.Err == nil || d.count() != 1 {
		t.Fatalf("result = %s, %v, dispatch=%d", res.State, res.Err, d.count())
	}
}

func TestSubmitDetachesDispatchFromCaller(t *testing.T) {
	p, d, _ := newTestPipeline(t, config.AlertBehavior{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if res := p.SubmitText(ctx, "INTRUSION window", "front"); res.State != types.StateLogged {
		t.Fatalf("state = %s", res.State)
	}
	if d.ctxErrs[0] != nil {
		t.Fatalf("dispatch context was cancelled: %v", d.ctxErrs[0])
	}
}

func TestAuditTrailDecrypts(t *testing.T) {
	p, _, a := newTestPipeline(t, config.AlertBehavior{})
	ctx := context.Background()

	p.SubmitText(ctx, "FLOOD-area51", "basement")
	p.SubmitText(ctx, "FIRE-kitchen", "")

	for _, e := range a.entries {
		if e.DecodedText != "" || bytes.Contains(e.Encrypted.Ciphertext, []byte("FLOOD")) {
			t.Fatal("audit entries must only hold ciphertext")
		}
	}

	a.entries[0].Encrypted.Ciphertext[len(a.entries[0].Encrypted.Ciphertext)-1] ^= 1

	trail := p.AuditTrail(ctx, 10)
	if len(trail) != 2 {
		t.Fatalf("trail len = %d", len(trail))
	}
	if trail[0].DecodedText != "FIRE-kitchen" || trail[0].Error != "" {
		t.Fatalf("newest entry = %+v", trail[0])
	}
	if trail[1].Error == "" || trail[1].DecodedText != "" {
		t.Fatalf("tampered entry should report an error, got %+v", trail[1])
	}
}
