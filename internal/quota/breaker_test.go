package quota

import (
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/xela07ax/erpai-decision-prototype/internal/domain"
	"go.uber.org/zap"
)

func newTestBreaker(backoff time.Duration) *Breaker {
	return NewBreaker(backoff, nil, zap.NewNop())
}

func TestCheckAvailableWithoutRecord(t *testing.T) {
	b := newTestBreaker(time.Hour)
	if !b.CheckAvailable() {
		t.Fatal("fresh breaker must report available")
	}
	if b.Status() != nil {
		t.Fatal("fresh breaker must have no status record")
	}
}

func TestRecordExhaustionBlocksUntilExpiry(t *testing.T) {
	b := newTestBreaker(time.Hour)

	retryAfter := 50 * time.Millisecond
	b.RecordExhaustion("rate_limited", 429, &retryAfter)

	if b.CheckAvailable() {
		t.Fatal("breaker must deny while exhaustion window is active")
	}

	st := b.Status()
	if st == nil || !st.IsQuotaExceeded {
		t.Fatalf("status = %+v, want exceeded record", st)
	}
	if st.Reason != "rate_limited" || st.StatusCode != 429 {
		t.Errorf("record = %q/%d, want rate_limited/429", st.Reason, st.StatusCode)
	}

	time.Sleep(60 * time.Millisecond)

	if !b.CheckAvailable() {
		t.Fatal("breaker must allow after expiry window elapsed")
	}
	// Просроченная запись снимается самим CheckAvailable
	if b.Status() != nil {
		t.Error("expired record must be cleared on check")
	}
}

func TestRecordExhaustionDefaultBackoff(t *testing.T) {
	b := newTestBreaker(time.Hour)
	b.RecordExhaustion("rate_limited", 429, nil)

	st := b.Status()
	if st == nil || st.ExpiryTime == nil {
		t.Fatal("record must carry an expiry time")
	}
	until := time.Until(*st.ExpiryTime)
	if until < 59*time.Minute || until > 61*time.Minute {
		t.Errorf("default window = %v, want ~1h", until)
	}
}

func TestLatestExhaustionWins(t *testing.T) {
	b := newTestBreaker(time.Hour)

	short := 10 * time.Millisecond
	long := time.Minute
	b.RecordExhaustion("rate_limited", 429, &short)
	b.RecordExhaustion("rate_limited", 429, &long)

	time.Sleep(20 * time.Millisecond)

	// Первая запись уже истекла бы, но вторая ее перезаписала
	if b.CheckAvailable() {
		t.Fatal("later exhaustion record must stay in effect")
	}
}

func TestResetClearsImmediately(t *testing.T) {
	b := newTestBreaker(time.Hour)
	b.RecordExhaustion("rate_limited", 429, nil)

	b.Reset()

	if !b.CheckAvailable() {
		t.Fatal("reset must make the breaker available immediately")
	}
	if b.Status() != nil {
		t.Fatal("reset must drop the status record")
	}
}

func TestConcurrentWritersNoTornRecord(t *testing.T) {
	b := newTestBreaker(time.Hour)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			b.RecordExhaustion(fmt.Sprintf("writer-%d", n), 400+n, nil)
		}(i)
	}
	wg.Wait()

	// Запись обновляется целиком: reason и status_code должны быть от одного писателя
	st := b.Status()
	if st == nil {
		t.Fatal("expected a surviving record")
	}
	var n int
	if _, err := fmt.Sscanf(st.Reason, "writer-%d", &n); err != nil {
		t.Fatalf("unexpected reason %q", st.Reason)
	}
	if st.StatusCode != 400+n {
		t.Errorf("torn record: reason %q with status_code %d", st.Reason, st.StatusCode)
	}
}

func TestProcessSignalAppliesRemoteRecord(t *testing.T) {
	b := newTestBreaker(time.Hour)

	expiry := time.Now().Add(time.Minute)
	data, _ := json.Marshal(&domain.QuotaStatus{
		IsQuotaExceeded: true,
		LastCheck:       time.Now(),
		ExpiryTime:      &expiry,
		Reason:          "rate_limited",
		StatusCode:      429,
	})

	b.processSignal(string(data))
	if b.CheckAvailable() {
		t.Fatal("remote exhaustion record must block local calls")
	}

	b.processSignal(resetPayload)
	if !b.CheckAvailable() {
		t.Fatal("remote reset must clear local state")
	}
}
