package services

import (
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"
)

func newTestAllocator(t *testing.T, clock func() time.Time) OrderNumberService {
	t.Helper()
	svc, err := NewOrderNumberService(OrderNumberServiceDeps{Prefix: "ORD", Clock: clock})
	if err != nil {
		t.Fatalf("new order number service: %v", err)
	}
	return svc
}

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func mustAllocate(t *testing.T, svc OrderNumberService, existing []string) string {
	t.Helper()
	number, err := svc.Allocate(existing)
	if err != nil {
		t.Fatalf("allocate: %v", err)
	}
	return number
}

func TestAllocateSequencesWithoutGaps(t *testing.T) {
	svc := newTestAllocator(t, fixedClock(time.Date(2024, 12, 25, 3, 0, 0, 0, time.UTC)))

	for i := 1; i <= 5; i++ {
		got := mustAllocate(t, svc, nil)
		want := fmt.Sprintf("ORD-241225-%03d", i)
		if got != want {
			t.Fatalf("allocation %d: expected %s, got %s", i, want, got)
		}
	}
}

func TestAllocateConcurrentCallsAreUnique(t *testing.T) {
	svc := newTestAllocator(t, fixedClock(time.Date(2024, 12, 25, 3, 0, 0, 0, time.UTC)))

	const callers = 50
	results := make(chan string, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			number, err := svc.Allocate(nil)
			if err != nil {
				t.Errorf("allocate: %v", err)
				return
			}
			results <- number
		}()
	}
	wg.Wait()
	close(results)

	seen := make(map[string]bool, callers)
	for number := range results {
		if seen[number] {
			t.Fatalf("number %s allocated twice", number)
		}
		seen[number] = true
	}
	if len(seen) != callers {
		t.Fatalf("expected %d distinct numbers, got %d", callers, len(seen))
	}
}

func TestAllocateReconcilesAgainstExistingNumbers(t *testing.T) {
	svc := newTestAllocator(t, fixedClock(time.Date(2024, 8, 24, 10, 0, 0, 0, kst)))

	existing := []string{"ORD-240824-001", "ORD-240824-002", "ORD-240824-005"}
	if got := mustAllocate(t, svc, existing); got != "ORD-240824-006" {
		t.Fatalf("expected ORD-240824-006, got %s", got)
	}
}

func TestAllocateIgnoresForeignDayNumbers(t *testing.T) {
	svc := newTestAllocator(t, fixedClock(time.Date(2024, 8, 24, 10, 0, 0, 0, kst)))

	existing := []string{"ORD-240823-009", "XYZ-240824-004", "garbage"}
	if got := mustAllocate(t, svc, existing); got != "ORD-240824-001" {
		t.Fatalf("expected ORD-240824-001, got %s", got)
	}
}

func TestAllocateKSTDayBoundary(t *testing.T) {
	// 15:00 UTC on the 23rd is already midnight on the 24th in Seoul.
	svc := newTestAllocator(t, fixedClock(time.Date(2024, 8, 23, 15, 0, 0, 0, time.UTC)))

	if got := mustAllocate(t, svc, nil); got != "ORD-240824-001" {
		t.Fatalf("expected day key 240824, got %s", got)
	}
}

func TestAllocateEvictsCounterOnDayRollover(t *testing.T) {
	now := time.Date(2024, 8, 24, 10, 0, 0, 0, kst)
	svc := newTestAllocator(t, func() time.Time { return now })

	mustAllocate(t, svc, nil)
	mustAllocate(t, svc, nil)

	now = now.AddDate(0, 0, 1)
	if got := mustAllocate(t, svc, nil); got != "ORD-240825-001" {
		t.Fatalf("expected fresh sequence after rollover, got %s", got)
	}
}

func TestAllocateWidensPastThreeDigits(t *testing.T) {
	svc := newTestAllocator(t, fixedClock(time.Date(2024, 8, 24, 10, 0, 0, 0, kst)))

	if got := mustAllocate(t, svc, []string{"ORD-240824-999"}); got != "ORD-240824-1000" {
		t.Fatalf("expected four digit sequence, got %s", got)
	}
	if !svc.Validate("ORD-240824-1000") {
		t.Fatalf("expected four digit sequence to validate")
	}
}

func TestAllocateFailsOnceSequenceSpaceIsSpent(t *testing.T) {
	svc := newTestAllocator(t, fixedClock(time.Date(2024, 8, 24, 10, 0, 0, 0, kst)))

	number, err := svc.Allocate([]string{"ORD-240824-9998"})
	if err != nil || number != "ORD-240824-9999" {
		t.Fatalf("expected last sequence to allocate, got %q err=%v", number, err)
	}

	if _, err := svc.Allocate(nil); !errors.Is(err, ErrOrderNumberExhausted) {
		t.Fatalf("expected ErrOrderNumberExhausted, got %v", err)
	}
	// The counter must not advance past the ceiling: the failure repeats
	// rather than emitting a number Validate would reject.
	if _, err := svc.Allocate([]string{"ORD-240824-9999"}); !errors.Is(err, ErrOrderNumberExhausted) {
		t.Fatalf("expected ErrOrderNumberExhausted on retry, got %v", err)
	}
}

func TestValidateRejectsMalformedNumbers(t *testing.T) {
	svc := newTestAllocator(t, fixedClock(time.Date(2024, 12, 25, 0, 0, 0, 0, kst)))

	cases := []string{
		"INVALID",
		"241225",
		"241225-1",
		"241225-001",
		"XYZ-241225-001",
		"ORD-241325-001", // month 13
		"ORD-240230-001", // Feb 30
		"ORD-241225-000",
		"ORD-241225-01",
		"ORD-241225-00001",
		" ORD-241225-001 trailing",
	}
	for _, number := range cases {
		if svc.Validate(number) {
			t.Errorf("expected %q to be rejected", number)
		}
	}
}

func TestParseRoundTrip(t *testing.T) {
	svc := newTestAllocator(t, fixedClock(time.Date(2024, 12, 25, 0, 0, 0, 0, kst)))

	parts, ok := svc.Parse("ORD-241225-042")
	if !ok {
		t.Fatalf("expected parse to succeed")
	}
	if parts.Prefix != "ORD" {
		t.Fatalf("expected prefix ORD, got %s", parts.Prefix)
	}
	if parts.Sequence != 42 {
		t.Fatalf("expected sequence 42, got %d", parts.Sequence)
	}
	if parts.Date.Year() != 2024 || parts.Date.Month() != time.December || parts.Date.Day() != 25 {
		t.Fatalf("unexpected date %v", parts.Date)
	}

	rendered := fmt.Sprintf("%s-%s-%03d", parts.Prefix, parts.Date.Format("060102"), parts.Sequence)
	if rendered != "ORD-241225-042" {
		t.Fatalf("round trip mismatch: %s", rendered)
	}
}

func TestResetClearsCounters(t *testing.T) {
	svc := newTestAllocator(t, fixedClock(time.Date(2024, 12, 25, 3, 0, 0, 0, time.UTC)))

	mustAllocate(t, svc, nil)
	mustAllocate(t, svc, nil)
	svc.Reset()

	if got := mustAllocate(t, svc, nil); got != "ORD-241225-001" {
		t.Fatalf("expected counter restart after reset, got %s", got)
	}
}
