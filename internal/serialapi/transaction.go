package serialapi

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Transaction errors surfaced to callers.
var (
	ErrTimeout   = errors.New("serialapi: transaction timeout")
	ErrQueueFull = errors.New("serialapi: transaction queue full")
	ErrCancelled = errors.New("serialapi: transaction cancelled")
	ErrLink      = errors.New("serialapi: link error")
	ErrClosed    = errors.New("serialapi: manager closed")
)

// Priority orders the pending queue. It never preempts the in-flight transaction.
// The zero value is PriorityNormal.
type Priority uint8

const (
	PriorityNormal Priority = iota
	PriorityHigh
	PriorityLow
	numPriorities
)

// bands lists the queues in service order.
var bands = [numPriorities]Priority{PriorityHigh, PriorityNormal, PriorityLow}

func (p Priority) String() string {
	switch p {
	case PriorityHigh:
		return "high"
	case PriorityNormal:
		return "normal"
	case PriorityLow:
		return "low"
	default:
		return fmt.Sprintf("priority(%d)", uint8(p))
	}
}

// ParsePriority maps "high"/"normal"/"low" to a Priority. Unknown strings are Normal.
func ParsePriority(s string) Priority {
	switch s {
	case "high":
		return PriorityHigh
	case "low":
		return PriorityLow
	default:
		return PriorityNormal
	}
}

// Request describes one outbound transaction.
type Request struct {
	Type     MessageType
	Function FunctionID
	Payload  []byte

	// Expect is the function id of the resolving frame. Zero means the protocol
	// defines no reply and the transaction completes on the link ACK.
	Expect FunctionID
	// ExpectCallback selects an inbound Request (callback) instead of a Response.
	ExpectCallback bool
	// Match checks sub-identifiers such as a callback id. Optional.
	Match func(*Frame) bool

	Priority Priority

	// Forward also routes the resolving frame to the unsolicited handler.
	Forward bool
}

// Config controls timeouts and retries.
type Config struct {
	Timeout        time.Duration // per-attempt deadline
	Backoff        time.Duration // attempt n waits n*Backoff before resending
	MaxAttempts    int
	MaxLinkRetries int // NAK/CAN resends per attempt
	MaxPending     int
	RxTimeout      time.Duration // stalled partial frame discard
}

// DefaultConfig returns the serial API defaults.
func DefaultConfig() Config {
	return Config{
		Timeout:        1600 * time.Millisecond,
		Backoff:        100 * time.Millisecond,
		MaxAttempts:    3,
		MaxLinkRetries: 3,
		MaxPending:     64,
		RxTimeout:      1500 * time.Millisecond,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.Timeout <= 0 {
		c.Timeout = d.Timeout
	}
	if c.Backoff <= 0 {
		c.Backoff = d.Backoff
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = d.MaxAttempts
	}
	if c.MaxLinkRetries < 0 {
		c.MaxLinkRetries = 0
	}
	if c.MaxPending <= 0 {
		c.MaxPending = d.MaxPending
	}
	if c.RxTimeout <= 0 {
		c.RxTimeout = d.RxTimeout
	}
	return c
}

type txState uint8

const (
	txPending txState = iota
	txInFlight
	txDone
)

// Transaction is a handle to a submitted request.
type Transaction struct {
	id      uint64
	req     Request
	raw     []byte
	created time.Time

	// Guarded by Manager.mu.
	state       txState
	attempts    int
	linkRetries int
	acked       bool
	deadline    time.Time
	timer       *time.Timer

	done chan struct{}
	resp *Frame
	err  error
}

// ID returns the monotonic transaction id.
func (t *Transaction) ID() uint64 { return t.id }

// Function returns the request function id.
func (t *Transaction) Function() FunctionID { return t.req.Function }

// Done is closed when the transaction completes, fails or is cancelled.
func (t *Transaction) Done() <-chan struct{} { return t.done }

// Result returns the outcome. Valid only after Done is closed.
func (t *Transaction) Result() (*Frame, error) {
	select {
	case <-t.done:
		return t.resp, t.err
	default:
		return nil, errors.New("serialapi: transaction still pending")
	}
}

// Wait blocks until the transaction resolves or ctx ends. Ending ctx does not
// cancel the transaction.
func (t *Transaction) Wait(ctx context.Context) (*Frame, error) {
	select {
	case <-t.done:
		return t.resp, t.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// FrameHandler receives frames that do not resolve the in-flight transaction.
type FrameHandler func(*Frame)

// Direction of a traced byte chunk.
type Direction uint8

const (
	DirTX Direction = iota
	DirRX
)

func (d Direction) String() string {
	if d == DirTX {
		return "TX"
	}
	return "RX"
}

// Tracer receives every raw chunk written to or read from the port.
type Tracer interface {
	Trace(dir Direction, data []byte)
}

// Stats are link and transaction counters.
type Stats struct {
	Submitted  uint64 `json:"submitted"`
	Completed  uint64 `json:"completed"`
	Timeouts   uint64 `json:"timeouts"`
	Retries    uint64 `json:"retries"`
	LinkResend uint64 `json:"link_resends"`
	RxFrames   uint64 `json:"rx_frames"`
	RxErrors   uint64 `json:"rx_errors"`
	Discarded  uint64 `json:"discarded_bytes"`
	Pending    int    `json:"pending"`
	InFlight   int    `json:"in_flight"`
}

// Manager owns the port and runs at most one transaction at a time.
type Manager struct {
	port   Port
	cfg    Config
	logger *slog.Logger

	handlerMu   sync.RWMutex
	handler     FrameHandler
	onLinkError func(error)
	tracer      Tracer

	mu       sync.Mutex
	queues   [numPriorities][]*Transaction
	pending  int
	inflight *Transaction
	closed   bool
	closeErr error
	nextID   uint64
	stats    Stats

	writeMu sync.Mutex

	feedMu  sync.Mutex
	dec     Decoder
	lastRx  time.Time
	rxTimer *time.Timer

	done     chan struct{}
	doneOnce sync.Once
	wg       sync.WaitGroup
}

// NewManager creates a transaction manager that owns port.
// Call Start to begin reading.
func NewManager(port Port, cfg Config, logger *slog.Logger) *Manager {
	return &Manager{
		port:   port,
		cfg:    cfg.withDefaults(),
		logger: logger.With("component", "serialapi"),
		done:   make(chan struct{}),
	}
}

// Config returns the effective configuration.
func (m *Manager) Config() Config {
	return m.cfg
}

// OnUnsolicited sets the handler for frames that do not resolve a transaction.
func (m *Manager) OnUnsolicited(h FrameHandler) {
	m.handlerMu.Lock()
	defer m.handlerMu.Unlock()
	m.handler = h
}

// OnLinkError sets the callback invoked once when the link fails.
func (m *Manager) OnLinkError(fn func(error)) {
	m.handlerMu.Lock()
	defer m.handlerMu.Unlock()
	m.onLinkError = fn
}

// SetTracer installs a raw byte tracer.
func (m *Manager) SetTracer(t Tracer) {
	m.handlerMu.Lock()
	defer m.handlerMu.Unlock()
	m.tracer = t
}

// Start launches the reader goroutine.
func (m *Manager) Start() {
	m.wg.Add(1)
	go m.readLoop()
}

// Submit enqueues a request.
func (m *Manager) Submit(req Request) (*Transaction, error) {
	if req.Priority >= numPriorities {
		req.Priority = PriorityLow
	}
	raw, err := Encode(req.Type, req.Function, req.Payload)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, m.closeErr
	}
	if m.pending >= m.cfg.MaxPending {
		m.logger.Warn("transaction queue full", "func", req.Function, "pending", m.pending)
		return nil, ErrQueueFull
	}

	m.nextID++
	tx := &Transaction{
		id:      m.nextID,
		req:     req,
		raw:     raw,
		created: time.Now(),
		done:    make(chan struct{}),
	}
	m.queues[req.Priority] = append(m.queues[req.Priority], tx)
	m.pending++
	m.stats.Submitted++
	m.logger.Debug("transaction queued", "id", tx.id, "func", req.Function, "priority", req.Priority, "pending", m.pending)

	m.startNextLocked()
	return tx, nil
}

// Cancel removes a transaction that has not been sent yet.
// In-flight and finished transactions are left alone and false is returned.
func (m *Manager) Cancel(tx *Transaction) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if tx.state != txPending {
		return false
	}
	q := m.queues[tx.req.Priority]
	for i, t := range q {
		if t == tx {
			m.queues[tx.req.Priority] = append(q[:i], q[i+1:]...)
			m.pending--
			m.completeLocked(tx, nil, ErrCancelled)
			m.logger.Debug("transaction cancelled", "id", tx.id, "func", tx.req.Function)
			return true
		}
	}
	return false
}

// Stats returns a snapshot of the counters.
func (m *Manager) Stats() Stats {
	m.mu.Lock()
	s := m.stats
	s.Pending = m.pending
	if m.inflight != nil {
		s.InFlight = 1
	}
	m.mu.Unlock()

	m.feedMu.Lock()
	s.Discarded = uint64(m.dec.Discarded())
	m.feedMu.Unlock()
	return s
}

// Close fails every queued transaction, closes the port and waits for the reader.
func (m *Manager) Close() error {
	m.mu.Lock()
	if !m.closed {
		m.failLocked(ErrClosed)
	}
	m.mu.Unlock()
	m.doneOnce.Do(func() { close(m.done) })

	m.feedMu.Lock()
	if m.rxTimer != nil {
		m.rxTimer.Stop()
	}
	m.feedMu.Unlock()

	err := m.port.Close()
	m.wg.Wait()
	return err
}

// --- Receive path ---

func (m *Manager) readLoop() {
	defer m.wg.Done()
	buf := make([]byte, 256)
	for {
		n, err := m.port.Read(buf)
		if n > 0 {
			m.Feed(buf[:n])
		}
		if err != nil {
			select {
			case <-m.done:
				return
			default:
			}
			m.linkFailure(fmt.Errorf("%w: read: %v", ErrLink, err))
			return
		}
	}
}

// Feed processes received bytes. The reader goroutine calls it; tests may call
// it directly.
func (m *Manager) Feed(p []byte) {
	m.feedMu.Lock()
	defer m.feedMu.Unlock()

	m.trace(DirRX, p)
	_, _ = m.dec.Write(p)
	m.lastRx = time.Now()
	m.drainLocked()

	if m.dec.Buffered() > 0 {
		m.armRxTimerLocked()
	}
}

// drainLocked handles every complete unit in the decoder. Caller holds feedMu.
func (m *Manager) drainLocked() {
	for {
		u, err := m.dec.Next()
		if errors.Is(err, ErrIncomplete) {
			return
		}
		if err != nil {
			m.logger.Warn("frame rejected, sending NAK", "err", err)
			m.mu.Lock()
			m.stats.RxErrors++
			m.mu.Unlock()
			m.writeRaw([]byte{NAK})
			continue
		}
		m.handleUnit(u)
	}
}

func (m *Manager) armRxTimerLocked() {
	if m.rxTimer != nil {
		m.rxTimer.Stop()
	}
	m.rxTimer = time.AfterFunc(m.cfg.RxTimeout, m.dropStalled)
}

// dropStalled discards a partial frame that stopped arriving.
func (m *Manager) dropStalled() {
	m.feedMu.Lock()
	defer m.feedMu.Unlock()
	if m.dec.Buffered() == 0 || time.Since(m.lastRx) < m.cfg.RxTimeout {
		return
	}
	m.logger.Warn("discarding stalled partial frame", "bytes", m.dec.Buffered())
	m.dec.DropPartial()
	m.drainLocked()
	if m.dec.Buffered() > 0 {
		m.armRxTimerLocked()
	}
}

func (m *Manager) handleUnit(u Unit) {
	switch u.Kind {
	case UnitACK:
		m.onACK()
	case UnitNAK, UnitCAN:
		m.onReject(u.Kind)
	case UnitFrame:
		m.writeRaw([]byte{ACK})
		m.onFrame(u.Frame)
	}
}

func (m *Manager) onACK() {
	m.mu.Lock()
	defer m.mu.Unlock()
	tx := m.inflight
	if tx == nil {
		m.logger.Debug("ACK with nothing in flight")
		return
	}
	tx.acked = true
	if tx.req.Expect == 0 {
		m.logger.Debug("transaction acknowledged", "id", tx.id, "func", tx.req.Function)
		m.completeLocked(tx, nil, nil)
		m.startNextLocked()
	}
}

// onReject resends the in-flight frame without consuming an attempt.
func (m *Manager) onReject(kind UnitKind) {
	m.mu.Lock()
	defer m.mu.Unlock()
	tx := m.inflight
	if tx == nil || tx.acked {
		m.logger.Debug("stray link reject", "kind", kind)
		return
	}
	if tx.linkRetries >= m.cfg.MaxLinkRetries {
		m.logger.Warn("link retries exhausted, waiting for deadline", "id", tx.id, "func", tx.req.Function, "kind", kind)
		return
	}
	tx.linkRetries++
	m.stats.LinkResend++
	m.logger.Debug("link reject, resending", "id", tx.id, "func", tx.req.Function, "kind", kind, "retry", tx.linkRetries)
	if err := m.writeLocked(tx.raw); err != nil {
		m.failAndNotifyLocked(err)
	}
}

func (m *Manager) onFrame(f *Frame) {
	m.mu.Lock()
	m.stats.RxFrames++
	tx := m.inflight
	if tx != nil && matches(tx, f) {
		forward := tx.req.Forward
		m.logger.Debug("transaction resolved", "id", tx.id, "func", f.Function, "type", f.Type, "attempts", tx.attempts)
		m.completeLocked(tx, f, nil)
		m.startNextLocked()
		m.mu.Unlock()
		if forward {
			m.dispatch(f)
		}
		return
	}
	m.mu.Unlock()
	m.dispatch(f)
}

func matches(tx *Transaction, f *Frame) bool {
	if tx.req.Expect == 0 || f.Function != tx.req.Expect {
		return false
	}
	want := TypeResponse
	if tx.req.ExpectCallback {
		want = TypeRequest
	}
	if f.Type != want {
		return false
	}
	return tx.req.Match == nil || tx.req.Match(f)
}

func (m *Manager) dispatch(f *Frame) {
	m.handlerMu.RLock()
	h := m.handler
	m.handlerMu.RUnlock()
	if h == nil {
		m.logger.Debug("unsolicited frame dropped, no handler", "frame", f.String())
		return
	}
	h(f)
}

// --- Send path (caller holds mu) ---

func (m *Manager) startNextLocked() {
	if m.closed || m.inflight != nil {
		return
	}
	for _, p := range bands {
		if len(m.queues[p]) == 0 {
			continue
		}
		tx := m.queues[p][0]
		m.queues[p][0] = nil
		m.queues[p] = m.queues[p][1:]
		m.pending--
		m.sendLocked(tx)
		return
	}
}

func (m *Manager) sendLocked(tx *Transaction) {
	if m.inflight != nil && m.inflight != tx {
		panic(fmt.Sprintf("serialapi: transaction %d sent while %d in flight", tx.id, m.inflight.id))
	}
	m.inflight = tx
	tx.state = txInFlight
	tx.attempts++
	tx.linkRetries = 0
	tx.acked = false
	tx.deadline = time.Now().Add(m.cfg.Timeout)

	m.logger.Debug("transaction TX", "id", tx.id, "func", tx.req.Function, "attempt", tx.attempts, "payload", fmt.Sprintf("%X", tx.req.Payload))
	if err := m.writeLocked(tx.raw); err != nil {
		m.failAndNotifyLocked(err)
		return
	}

	attempt := tx.attempts
	tx.timer = time.AfterFunc(m.cfg.Timeout, func() { m.onDeadline(tx, attempt) })
}

func (m *Manager) onDeadline(tx *Transaction, attempt int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed || m.inflight != tx || tx.attempts != attempt {
		return
	}
	if tx.attempts >= m.cfg.MaxAttempts {
		m.stats.Timeouts++
		m.logger.Warn("transaction timeout", "id", tx.id, "func", tx.req.Function, "attempts", tx.attempts)
		m.completeLocked(tx, nil, fmt.Errorf("%w: %s after %d attempts", ErrTimeout, tx.req.Function, tx.attempts))
		m.startNextLocked()
		return
	}
	m.stats.Retries++
	backoff := m.cfg.Backoff * time.Duration(tx.attempts)
	m.logger.Debug("transaction deadline, retrying", "id", tx.id, "func", tx.req.Function, "attempt", tx.attempts, "backoff", backoff)
	tx.timer = time.AfterFunc(backoff, func() { m.resend(tx, attempt) })
}

func (m *Manager) resend(tx *Transaction, attempt int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed || m.inflight != tx || tx.attempts != attempt {
		return
	}
	m.sendLocked(tx)
}

func (m *Manager) completeLocked(tx *Transaction, resp *Frame, err error) {
	if tx.state == txDone {
		return
	}
	if tx.timer != nil {
		tx.timer.Stop()
	}
	tx.state = txDone
	tx.resp = resp
	tx.err = err
	if err == nil {
		m.stats.Completed++
	}
	if m.inflight == tx {
		m.inflight = nil
	}
	close(tx.done)
}

// failLocked terminates the manager and fails every transaction with err.
func (m *Manager) failLocked(err error) {
	m.closed = true
	m.closeErr = err
	if tx := m.inflight; tx != nil {
		m.completeLocked(tx, nil, err)
	}
	for p := range m.queues {
		for _, tx := range m.queues[p] {
			m.completeLocked(tx, nil, err)
		}
		m.queues[p] = nil
	}
	m.pending = 0
}

func (m *Manager) failAndNotifyLocked(err error) {
	if m.closed {
		return
	}
	m.logger.Error("serial link failed", "err", err)
	m.failLocked(err)
	go m.notifyLinkError(err)
}

func (m *Manager) linkFailure(err error) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.logger.Error("serial link failed", "err", err)
	m.failLocked(err)
	m.mu.Unlock()
	m.notifyLinkError(err)
}

func (m *Manager) notifyLinkError(err error) {
	m.handlerMu.RLock()
	fn := m.onLinkError
	m.handlerMu.RUnlock()
	if fn != nil {
		fn(err)
	}
}

// --- Port writes ---

func (m *Manager) writeLocked(b []byte) error {
	m.writeMu.Lock()
	defer m.writeMu.Unlock()
	m.trace(DirTX, b)
	if _, err := m.port.Write(b); err != nil {
		return fmt.Errorf("%w: write: %v", ErrLink, err)
	}
	return nil
}

// writeRaw sends a link control byte. Failures surface on the next data write.
func (m *Manager) writeRaw(b []byte) {
	m.writeMu.Lock()
	defer m.writeMu.Unlock()
	m.trace(DirTX, b)
	if _, err := m.port.Write(b); err != nil {
		m.logger.Error("write control byte", "byte", fmt.Sprintf("0x%02X", b[0]), "err", err)
	}
}

func (m *Manager) trace(dir Direction, b []byte) {
	m.handlerMu.RLock()
	t := m.tracer
	m.handlerMu.RUnlock()
	if t != nil {
		t.Trace(dir, b)
	}
}
