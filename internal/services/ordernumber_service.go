package services

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"
)

const (
	orderNumberDayLayout = "060102"
	orderNumberMaxSeq    = 9999
)

// kst is the fixed reference timezone for all day-key computations.
// No daylight saving; host timezone never participates.
var kst = time.FixedZone("KST", 9*60*60)

var orderNumberPattern = regexp.MustCompile(`^([A-Z]+)-(\d{6})-(\d{3,4})$`)

// OrderNumberServiceDeps bundles collaborators for the allocator.
type OrderNumberServiceDeps struct {
	Prefix string
	Clock  func() time.Time
}

type orderNumberService struct {
	prefix string
	clock  func() time.Time

	mu      sync.Mutex
	dayKey  string
	lastSeq int
}

// NewOrderNumberService constructs a per-process allocator. Counters are
// instance-scoped; uniqueness across processes is enforced by the order
// repository's number index, with allocation retried on conflict.
func NewOrderNumberService(deps OrderNumberServiceDeps) (OrderNumberService, error) {
	prefix := strings.TrimSpace(deps.Prefix)
	if prefix == "" {
		return nil, fmt.Errorf("order number service: prefix is required")
	}
	if !regexp.MustCompile(`^[A-Z]+$`).MatchString(prefix) {
		return nil, fmt.Errorf("order number service: prefix %q must be uppercase letters", prefix)
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}

	return &orderNumberService{prefix: prefix, clock: clock}, nil
}

// Allocate serialises callers on the instance mutex, folds in the supplied
// already-claimed numbers for today, and issues the next sequence. Counters
// for previous days are dropped the moment a new day key is observed.
func (s *orderNumberService) Allocate(existingToday []string) (string, error) {
	dayKey := s.DayKey(s.clock())

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.dayKey != dayKey {
		s.dayKey = dayKey
		s.lastSeq = 0
	}

	if max := s.maxSequenceFor(dayKey, existingToday); max > s.lastSeq {
		s.lastSeq = max
	}

	// The next sequence must stay parseable; past the ceiling the day's
	// number space is spent.
	if s.lastSeq >= orderNumberMaxSeq {
		return "", fmt.Errorf("%w: sequence space for day %s is exhausted", ErrOrderNumberExhausted, dayKey)
	}

	s.lastSeq++
	return fmt.Sprintf("%s-%s-%03d", s.prefix, dayKey, s.lastSeq), nil
}

func (s *orderNumberService) Validate(number string) bool {
	_, ok := s.Parse(number)
	return ok
}

func (s *orderNumberService) Parse(number string) (OrderNumberParts, bool) {
	match := orderNumberPattern.FindStringSubmatch(strings.TrimSpace(number))
	if match == nil {
		return OrderNumberParts{}, false
	}
	if match[1] != s.prefix {
		return OrderNumberParts{}, false
	}

	date, err := time.ParseInLocation(orderNumberDayLayout, match[2], kst)
	if err != nil {
		return OrderNumberParts{}, false
	}
	// time.Parse normalises out-of-range components (Feb 30 becomes Mar 1),
	// so re-rendering must reproduce the input exactly.
	if date.Format(orderNumberDayLayout) != match[2] {
		return OrderNumberParts{}, false
	}

	seq, err := strconv.Atoi(match[3])
	if err != nil || seq < 1 || seq > orderNumberMaxSeq {
		return OrderNumberParts{}, false
	}

	return OrderNumberParts{Prefix: match[1], Date: date, Sequence: seq}, true
}

func (s *orderNumberService) DayKey(at time.Time) string {
	return at.In(kst).Format(orderNumberDayLayout)
}

func (s *orderNumberService) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dayKey = ""
	s.lastSeq = 0
}

// maxSequenceFor extracts the highest sequence among numbers matching today's
// prefix and day key. Malformed or foreign-day entries are ignored.
func (s *orderNumberService) maxSequenceFor(dayKey string, numbers []string) int {
	max := 0
	for _, number := range numbers {
		match := orderNumberPattern.FindStringSubmatch(strings.TrimSpace(number))
		if match == nil || match[1] != s.prefix || match[2] != dayKey {
			continue
		}
		if seq, err := strconv.Atoi(match[3]); err == nil && seq > max {
			max = seq
		}
	}
	return max
}
