package metrics

import (
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"
)

type counterKey string

// Engine counters.
const (
	keyTicks                counterKey = "safeagent_ticks_total"
	keyTicksSkipped         counterKey = "safeagent_ticks_skipped_total"
	keyTickErrors           counterKey = "safeagent_tick_errors_total"
	keyFetchFailures        counterKey = "safeagent_proposal_fetch_failures_total"
	keyChecksRun            counterKey = "safeagent_checks_run_total"
	keyCheckFailures        counterKey = "safeagent_check_failures_total"
	keyTwoFARequested       counterKey = "safeagent_two_fa_requested_total"
	keyTwoFAConfirmed       counterKey = "safeagent_two_fa_confirmed_total"
	keyTwoFAExpired         counterKey = "safeagent_two_fa_expired_total"
	keyNotifyFailures       counterKey = "safeagent_notify_failures_total"
	keyConfirmations        counterKey = "safeagent_confirmations_total"
	keyExecutions           counterKey = "safeagent_executions_total"
	keyExecutionsExhausted  counterKey = "safeagent_executions_exhausted_total"
)

type histogram struct {
	buckets []float64
	counts  []uint64
	sum     float64
	count   uint64
}

type requestKey struct {
	handler string
	method  string
	code    string
}

type collector struct {
	mu       sync.Mutex
	counters map[counterKey]uint64
	requests map[requestKey]uint64
	tick     *histogram
}

var engineCollector = &collector{
	counters: make(map[counterKey]uint64),
	requests: make(map[requestKey]uint64),
	tick:     newHistogram(),
}

func newHistogram() *histogram {
	buckets := []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10}
	return &histogram{
		buckets: buckets,
		counts:  make([]uint64, len(buckets)),
	}
}

func (h *histogram) observe(value float64) {
	h.count++
	h.sum += value
	for idx, bound := range h.buckets {
		if value <= bound {
			for i := idx; i < len(h.counts); i++ {
				h.counts[i]++
			}
			return
		}
	}
	// Values greater than the last bucket are accounted for in the +Inf bucket via h.count.
}

func (c *collector) inc(key counterKey) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.counters[key]++
}

// ObserveTick records the duration of a completed tick.
func ObserveTick(duration time.Duration) {
	engineCollector.mu.Lock()
	defer engineCollector.mu.Unlock()
	engineCollector.counters[keyTicks]++
	engineCollector.tick.observe(duration.Seconds())
}

// CountTickSkipped records a tick skipped because the previous one was still running.
func CountTickSkipped() { engineCollector.inc(keyTicksSkipped) }

// CountTickError records a tick aborted by an error or panic.
func CountTickError() { engineCollector.inc(keyTickErrors) }

// CountProposalFetchFailure records a failed proposal fetch for one wallet.
func CountProposalFetchFailure() { engineCollector.inc(keyFetchFailures) }

// CountCheckRun records a completed policy check.
func CountCheckRun() { engineCollector.inc(keyChecksRun) }

// CountCheckFailure records a policy check that failed or errored.
func CountCheckFailure() { engineCollector.inc(keyCheckFailures) }

// CountTwoFARequested records a new two-factor confirmation request.
func CountTwoFARequested() { engineCollector.inc(keyTwoFARequested) }

// CountTwoFAConfirmed records a successful two-factor confirmation.
func CountTwoFAConfirmed() { engineCollector.inc(keyTwoFAConfirmed) }

// CountTwoFAExpired records a two-factor slot discarded after its deadline.
func CountTwoFAExpired() { engineCollector.inc(keyTwoFAExpired) }

// CountNotifyFailure records a failed two-factor notification delivery.
func CountNotifyFailure() { engineCollector.inc(keyNotifyFailures) }

// CountConfirmation records a signature replicated onto a proposal.
func CountConfirmation() { engineCollector.inc(keyConfirmations) }

// CountExecution records a proposal execution submitted on chain.
func CountExecution() { engineCollector.inc(keyExecutions) }

// CountExecutionExhausted records a proposal discarded after running out of
// execution attempts.
func CountExecutionExhausted() { engineCollector.inc(keyExecutionsExhausted) }

// ObserveHTTPRequest records metrics about an HTTP request lifecycle.
func ObserveHTTPRequest(handler, method string, status int) {
	engineCollector.mu.Lock()
	defer engineCollector.mu.Unlock()
	key := requestKey{handler: handler, method: method, code: strconv.Itoa(status)}
	engineCollector.requests[key]++
}

// Handler exposes the metrics in Prometheus text exposition format.
func Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4")
		_, _ = fmt.Fprint(w, engineCollector.render())
	})
}

func (c *collector) render() string {
	c.mu.Lock()
	defer c.mu.Unlock()

	var builder strings.Builder

	keys := make([]string, 0, len(c.counters))
	for key := range c.counters {
		keys = append(keys, string(key))
	}
	sort.Strings(keys)
	for _, key := range keys {
		builder.WriteString(fmt.Sprintf("# TYPE %s counter\n", key))
		builder.WriteString(fmt.Sprintf("%s %d\n", key, c.counters[counterKey(key)]))
	}

	type requestMetric struct {
		requestKey
		value uint64
	}
	reqs := make([]requestMetric, 0, len(c.requests))
	for key, value := range c.requests {
		reqs = append(reqs, requestMetric{requestKey: key, value: value})
	}
	sort.Slice(reqs, func(i, j int) bool {
		if reqs[i].handler != reqs[j].handler {
			return reqs[i].handler < reqs[j].handler
		}
		if reqs[i].method != reqs[j].method {
			return reqs[i].method < reqs[j].method
		}
		return reqs[i].code < reqs[j].code
	})
	if len(reqs) > 0 {
		builder.WriteString("# TYPE safeagent_http_requests_total counter\n")
		for _, req := range reqs {
			builder.WriteString(fmt.Sprintf(
				"safeagent_http_requests_total{handler=%q,method=%q,code=%q} %d\n",
				req.handler, req.method, req.code, req.value))
		}
	}

	if c.tick.count > 0 {
		builder.WriteString("# TYPE safeagent_tick_duration_seconds histogram\n")
		for idx, bound := range c.tick.buckets {
			builder.WriteString(fmt.Sprintf(
				"safeagent_tick_duration_seconds_bucket{le=%q} %d\n",
				strconv.FormatFloat(bound, 'g', -1, 64), c.tick.counts[idx]))
		}
		builder.WriteString(fmt.Sprintf(
			"safeagent_tick_duration_seconds_bucket{le=\"+Inf\"} %d\n", c.tick.count))
		builder.WriteString(fmt.Sprintf(
			"safeagent_tick_duration_seconds_sum %s\n",
			strconv.FormatFloat(c.tick.sum, 'g', -1, 64)))
		builder.WriteString(fmt.Sprintf(
			"safeagent_tick_duration_seconds_count %d\n", c.tick.count))
	}

	return builder.String()
}
