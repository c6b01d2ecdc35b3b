package mintd

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/ethereum/go-ethereum/common"
	gethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/google/uuid"
	"github.com/holiman/uint256"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"mintbot/observability/logging"
	telemetry "mintbot/observability/otel"
	"mintbot/services/mintd/ledger"
	"mintbot/services/mintd/notify"
	"mintbot/services/mintd/randomness"
	"mintbot/services/mintd/secrets"
	"mintbot/services/mintd/storage"
	"mintbot/services/mintd/wallet"
)

var (
	// ErrAlreadyRunning is returned by Start and Run while a loop is active.
	ErrAlreadyRunning = errors.New("mintd: engine already running")

	// ErrRecordFailed halts the loop when a finished attempt cannot be
	// written to the ledger.
	ErrRecordFailed = errors.New("mintd: attempt could not be recorded")

	errStopRequested = errors.New("mintd: stop requested")
)

// DefaultSleepPatterns are the pacing delays between iterations.
var DefaultSleepPatterns = []time.Duration{
	63 * time.Second, 127 * time.Second, 189 * time.Second, 243 * time.Second, 311 * time.Second,
	367 * time.Second, 421 * time.Second, 487 * time.Second, 551 * time.Second, 613 * time.Second,
	677 * time.Second, 731 * time.Second, 797 * time.Second, 853 * time.Second, 911 * time.Second,
	973 * time.Second, 1031 * time.Second, 1097 * time.Second, 1153 * time.Second, 1217 * time.Second,
	1283 * time.Second, 1337 * time.Second, 1409 * time.Second, 1471 * time.Second, 1531 * time.Second,
	1597 * time.Second, 1661 * time.Second, 1723 * time.Second, 1787 * time.Second, 1800 * time.Second,
}

// Default primary quota bounds. Settings keeps zero bounds as given; a zero
// range sends every primary slot to the secondary network.
const (
	DefaultPrimaryDailyMin = 4000
	DefaultPrimaryDailyMax = 6300
)

// Ledger is the persistence the engine needs.
type Ledger interface {
	LedgerReader
	Append(ctx context.Context, attempt ledger.Attempt) error
	Latest(ctx context.Context) (*ledger.Attempt, error)
	CountSince(ctx context.Context, network string, from time.Time) (int64, error)
	Counts(ctx context.Context) (ledger.Counts, error)
}

// Sleeper blocks for d or until ctx is done. It returns false when interrupted.
type Sleeper func(ctx context.Context, d time.Duration) bool

func timerSleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

// Settings holds the engine tunables.
type Settings struct {
	SleepPatterns   []time.Duration
	CycleOptions    []int
	PrimaryDailyMin int
	PrimaryDailyMax int
	MinGas          map[Network]*uint256.Int
	GasPollInterval time.Duration
	ConfirmTimeout  time.Duration
	AlertTimeout    time.Duration
	// RecordAttempts bounds ledger writes per attempt, first try included.
	RecordAttempts     int
	RecordRetryInitial time.Duration
	OwnerSecret        string
	Backup             BackupConfig
	ExplorerURLs       map[Network]string
	NetworkLabels      map[Network]string
}

func (s *Settings) applyDefaults() {
	if len(s.SleepPatterns) == 0 {
		s.SleepPatterns = DefaultSleepPatterns
	}
	if len(s.CycleOptions) == 0 {
		s.CycleOptions = []int{3, 5, 7}
	}
	if s.GasPollInterval <= 0 {
		s.GasPollInterval = 5 * time.Minute
	}
	if s.ConfirmTimeout <= 0 {
		s.ConfirmTimeout = 300 * time.Second
	}
	if s.AlertTimeout <= 0 {
		s.AlertTimeout = 10 * time.Second
	}
	if s.RecordAttempts <= 0 {
		s.RecordAttempts = 8
	}
	if s.RecordRetryInitial <= 0 {
		s.RecordRetryInitial = 500 * time.Millisecond
	}
	if s.OwnerSecret == "" {
		s.OwnerSecret = "MINTD_OWNER_KEY"
	}
}

// Totals are cumulative attempt counts.
type Totals struct {
	Attempts  int64 `json:"attempts"`
	Successes int64 `json:"successes"`
	Failures  int64 `json:"failures"`
}

// AttemptSummary is the public view of the last recorded attempt.
type AttemptSummary struct {
	ID           string    `json:"id"`
	Timestamp    time.Time `json:"timestamp"`
	Network      Network   `json:"network"`
	Recipient    string    `json:"recipient"`
	Status       string    `json:"status"`
	TxIdentifier string    `json:"tx_identifier,omitempty"`
	Error        string    `json:"error,omitempty"`
}

// Status is a locked snapshot of the engine.
type Status struct {
	Running              bool            `json:"running"`
	State                State           `json:"state"`
	PausedForGas         []Network       `json:"paused_for_gas"`
	Date                 string          `json:"date"`
	TodayPrimaryCount    int             `json:"today_primary_count"`
	TodayPrimaryLimit    int             `json:"today_primary_limit"`
	LastAttempt          *AttemptSummary `json:"last_attempt,omitempty"`
	Cycle                CycleState      `json:"cycle"`
	Totals               Totals          `json:"totals"`
	SuccessesSinceBackup int             `json:"successes_since_backup"`
}

// Engine runs the minting loop. A single goroutine owns the loop; Stop and
// Status may be called from any goroutine.
type Engine struct {
	settings  Settings
	ledger    Ledger
	clients   map[Network]wallet.Client
	secrets   secrets.Provider
	generator wallet.Generator
	notifier  notify.Notifier
	store     storage.Store
	src       randomness.Source
	metrics   *Metrics
	logger    *slog.Logger
	now       func() time.Time
	sleep     Sleeper
	newID     func() (string, error)

	selector  *Selector
	quota     *QuotaTracker
	admission *AdmissionController
	submitter *Submitter
	backup    *BackupManager
	debounce  *Debouncer

	mu          sync.Mutex
	running     bool
	state       State
	paused      map[Network]bool
	cycle       CycleState
	totals      Totals
	lastAttempt *AttemptSummary
	stopCancel  context.CancelFunc
	done        chan struct{}
	runErr      error

	// Loop goroutine only.
	owner     *ecdsa.PrivateKey
	ownerAddr common.Address
}

// Option customises the engine.
type Option func(*Engine)

// WithClock sets the function used to derive timestamps.
func WithClock(clock func() time.Time) Option {
	return func(e *Engine) { e.now = clock }
}

// WithSleeper replaces the interruptible sleep.
func WithSleeper(s Sleeper) Option {
	return func(e *Engine) { e.sleep = s }
}

// WithRandomness overrides the randomness source.
func WithRandomness(src randomness.Source) Option {
	return func(e *Engine) { e.src = src }
}

// WithMetrics overrides the default metrics registry.
func WithMetrics(m *Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithGenerator replaces the recipient wallet generator.
func WithGenerator(g wallet.Generator) Option {
	return func(e *Engine) { e.generator = g }
}

// WithNotifier supplies the alert channel.
func WithNotifier(n notify.Notifier) Option {
	return func(e *Engine) { e.notifier = n }
}

// WithStorage supplies the backup object store.
func WithStorage(s storage.Store) Option {
	return func(e *Engine) { e.store = s }
}

// WithIDGenerator replaces the attempt id generator.
func WithIDGenerator(fn func() (string, error)) Option {
	return func(e *Engine) { e.newID = fn }
}

// NewEngine validates the dependencies and builds an idle engine.
func NewEngine(settings Settings, store Ledger, clients map[Network]wallet.Client, provider secrets.Provider, opts ...Option) (*Engine, error) {
	if store == nil {
		return nil, fmt.Errorf("mintd: ledger required")
	}
	if provider == nil {
		return nil, fmt.Errorf("mintd: secret provider required")
	}
	for _, network := range []Network{NetworkPrimary, NetworkSecondary} {
		if clients[network] == nil {
			return nil, fmt.Errorf("mintd: %s client required", network)
		}
	}
	settings.applyDefaults()
	e := &Engine{
		settings:  settings,
		ledger:    store,
		clients:   clients,
		secrets:   provider,
		generator: wallet.KeyGenerator{},
		src:       randomness.Crypto{},
		metrics:   NewMetrics(),
		now:       time.Now,
		sleep:     timerSleep,
		newID:     newAttemptID,
		state:     StateIdle,
		paused:    make(map[Network]bool),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.logger == nil {
		e.logger = slog.Default()
	}
	if e.notifier == nil {
		e.notifier = notify.LogNotifier{Logger: e.logger}
	}
	if e.metrics == nil {
		e.metrics = NewMetrics()
	}
	selector, err := NewSelector(e.src, settings.CycleOptions)
	if err != nil {
		return nil, err
	}
	quota, err := NewQuotaTracker(e.src, settings.PrimaryDailyMin, settings.PrimaryDailyMax)
	if err != nil {
		return nil, err
	}
	e.selector = selector
	e.cycle = selector.State()
	e.quota = quota
	e.admission = NewAdmissionController(quota, clients, settings.MinGas)
	e.submitter = NewSubmitter(clients, settings.ConfirmTimeout, e.now)
	e.backup = NewBackupManager(store, e.store, settings.Backup, e.metrics, e.logger)
	e.debounce = NewDebouncer()
	return e, nil
}

func newAttemptID() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", err
	}
	return id.String(), nil
}

// Start launches the loop in a goroutine.
func (e *Engine) Start(ctx context.Context) error {
	stopCtx, err := e.begin()
	if err != nil {
		return err
	}
	go e.finish(e.loop(ctx, stopCtx))
	return nil
}

// Run executes the loop on the calling goroutine until stopped, ctx is
// cancelled or a fatal error occurs.
func (e *Engine) Run(ctx context.Context) error {
	stopCtx, err := e.begin()
	if err != nil {
		return err
	}
	err = e.loop(ctx, stopCtx)
	e.finish(err)
	return err
}

// Stop asks the loop to exit at the next iteration boundary. It does not wait.
func (e *Engine) Stop() {
	e.mu.Lock()
	cancel := e.stopCancel
	e.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// Wait blocks until the current loop exits and returns its error.
func (e *Engine) Wait() error {
	e.mu.Lock()
	done := e.done
	e.mu.Unlock()
	if done == nil {
		return nil
	}
	<-done
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.runErr
}

// Status returns a snapshot of the engine.
func (e *Engine) Status() Status {
	counters := e.quota.Counters()
	sinceBackup := e.backup.SinceLast()
	e.mu.Lock()
	defer e.mu.Unlock()
	paused := make([]Network, 0, len(e.paused))
	for _, network := range []Network{NetworkPrimary, NetworkSecondary} {
		if e.paused[network] {
			paused = append(paused, network)
		}
	}
	var last *AttemptSummary
	if e.lastAttempt != nil {
		copied := *e.lastAttempt
		last = &copied
	}
	return Status{
		Running:              e.running,
		State:                e.state,
		PausedForGas:         paused,
		Date:                 counters.Date,
		TodayPrimaryCount:    counters.PrimaryCount,
		TodayPrimaryLimit:    counters.PrimaryLimit,
		LastAttempt:          last,
		Cycle:                e.cycle,
		Totals:               e.totals,
		SuccessesSinceBackup: sinceBackup,
	}
}

func (e *Engine) begin() (context.Context, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.running {
		return nil, ErrAlreadyRunning
	}
	if e.state == StateStopped {
		e.state = StateIdle
	}
	stopCtx, cancel := context.WithCancel(context.Background())
	e.running = true
	e.stopCancel = cancel
	e.done = make(chan struct{})
	e.runErr = nil
	e.metrics.SetRunning(true)
	return stopCtx, nil
}

func (e *Engine) finish(err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.stopCancel != nil {
		e.stopCancel()
	}
	e.running = false
	e.runErr = err
	e.owner = nil
	if e.state != StateStopped {
		e.state = StateStopped
	}
	e.metrics.SetRunning(false)
	close(e.done)
}

func (e *Engine) transition(to State) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state == to {
		return nil
	}
	if !CanTransition(e.state, to) {
		return &IllegalTransitionError{From: e.state, To: to}
	}
	e.state = to
	return nil
}

func (e *Engine) forceState(to State) {
	e.mu.Lock()
	e.state = to
	e.mu.Unlock()
}

func (e *Engine) currentState() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

func stopping(ctx, stopCtx context.Context) bool {
	return ctx.Err() != nil || stopCtx.Err() != nil
}

func (e *Engine) loop(ctx, stopCtx context.Context) error {
	if err := e.prepare(ctx); err != nil {
		e.logger.Error("mintd start failed", slog.Any("error", err))
		e.alert(ctx, notify.Alert{
			Kind:    notify.KindFatal,
			Subject: "Minting engine failed to start",
			Message: err.Error(),
		})
		return err
	}
	e.alert(ctx, notify.Alert{
		Kind:    notify.KindStarted,
		Subject: "Minting engine started",
		Message: fmt.Sprintf("owner %s, primary limit today %d", e.ownerAddr.Hex(), e.quota.Counters().PrimaryLimit),
	})
	e.logger.Info("mintd engine started", slog.String("owner", e.ownerAddr.Hex()))

	var loopErr error
	for !stopping(ctx, stopCtx) {
		if err := e.iterate(ctx, stopCtx); err != nil {
			if errors.Is(err, errStopRequested) {
				break
			}
			var illegal *IllegalTransitionError
			if errors.As(err, &illegal) || errors.Is(err, ErrRecordFailed) {
				loopErr = err
				break
			}
			e.logger.Error("mintd iteration failed", slog.Any("error", err))
		}
	}
	e.shutdown(ctx)
	return loopErr
}

func (e *Engine) prepare(ctx context.Context) error {
	owner, err := secrets.OwnerKey(ctx, e.secrets, e.settings.OwnerSecret)
	if err != nil {
		e.metrics.RecordError("", "auth")
		return err
	}
	e.owner = owner
	e.ownerAddr = gethcrypto.PubkeyToAddress(owner.PublicKey)

	now := e.now()
	e.quota.Roll(now)
	count, err := e.ledger.CountSince(ctx, string(NetworkPrimary), dayStart(now))
	if err != nil {
		return fmt.Errorf("seed quota: %w", err)
	}
	e.quota.Seed(int(count))
	counts, err := e.ledger.Counts(ctx)
	if err != nil {
		return fmt.Errorf("seed totals: %w", err)
	}
	latest, err := e.ledger.Latest(ctx)
	if err != nil {
		return fmt.Errorf("load last attempt: %w", err)
	}
	counters := e.quota.Counters()
	e.metrics.RecordQuota(counters.PrimaryCount, counters.PrimaryLimit)

	e.mu.Lock()
	e.totals = Totals{Attempts: counts.Total, Successes: counts.Success, Failures: counts.Failed}
	if latest != nil {
		e.lastAttempt = summarize(*latest)
	}
	e.mu.Unlock()
	return nil
}

func (e *Engine) iterate(ctx, stopCtx context.Context) (err error) {
	ctx, span := telemetry.Tracer("mintd").Start(ctx, "mintd.iteration")
	defer span.End()
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("mintd iteration panicked",
				slog.Any("panic", r),
				slog.String("stack", string(debug.Stack())))
			e.metrics.RecordError("", ReasonUnclassified)
			span.SetStatus(codes.Error, "panic")
			e.forceState(StateSleeping)
			err = nil
		}
	}()

	if err := e.transition(StateSleeping); err != nil {
		return err
	}
	delay := randomness.NextChoice(e.src, e.settings.SleepPatterns)
	span.SetAttributes(attribute.String("mintd.sleep", delay.String()))
	if !e.interruptibleSleep(ctx, stopCtx, delay) {
		return errStopRequested
	}

	if err := e.transition(StateSelectingNetwork); err != nil {
		return err
	}
	e.rollDay(ctx)
	network := e.selector.Next()
	e.mu.Lock()
	e.cycle = e.selector.State()
	e.mu.Unlock()

	var result AdmissionResult
	for {
		if err := e.transition(StateCheckingAdmission); err != nil {
			return err
		}
		result = e.admission.Check(ctx, network, e.ownerAddr)
		if result.Balance != nil {
			e.metrics.RecordBalance(string(result.Network), result.Balance)
		}
		if result.Forced {
			e.logger.Info("mintd primary quota reached, using secondary",
				slog.String("network", string(result.Network)))
		}
		switch result.Decision {
		case DenyRemote:
			e.metrics.RecordError(string(result.Network), ReasonNetwork)
			e.logger.Warn("mintd balance check failed, skipping iteration",
				slog.String("network", string(result.Network)),
				slog.Any("error", result.Err))
			return nil
		case DenyGas:
			if err := e.transition(StatePaused); err != nil {
				return err
			}
			if !e.waitForGas(ctx, stopCtx, result.Network, result.Balance) {
				return errStopRequested
			}
			// Resume with the network that was denied so the cycle keeps its primary slot.
			if err := e.transition(StateSelectingNetwork); err != nil {
				return err
			}
			network = result.Network
			continue
		}
		break
	}
	span.SetAttributes(attribute.String("mintd.network", string(result.Network)))

	if stopping(ctx, stopCtx) {
		return errStopRequested
	}
	return e.mint(ctx, result.Network)
}

func (e *Engine) mint(ctx context.Context, network Network) error {
	record, err := e.generator.Generate(e.now())
	if err != nil {
		e.metrics.RecordError(string(network), "wallet")
		return fmt.Errorf("generate wallet: %w", err)
	}
	if network == NetworkPrimary {
		if err := e.quota.Consume(); err != nil {
			return err
		}
		counters := e.quota.Counters()
		e.metrics.RecordQuota(counters.PrimaryCount, counters.PrimaryLimit)
	}
	id, err := e.newID()
	if err != nil {
		return fmt.Errorf("attempt id: %w", err)
	}

	if err := e.transition(StateMinting); err != nil {
		return err
	}
	e.logger.Info("mintd minting",
		slog.String("attempt_id", id),
		slog.String("network", string(network)),
		slog.String("recipient", record.Address.Hex()),
		logging.MaskField("recipient_private_key", record.PrivateKey))
	submittedAt := e.now()
	outcome := e.submitter.Submit(ctx, network, e.owner, record.Address)

	if err := e.transition(StateRecording); err != nil {
		return err
	}
	attempt := ledger.Attempt{
		AttemptID:           id,
		Timestamp:           submittedAt,
		Network:             string(network),
		RecipientAddress:    record.Address.Hex(),
		RecipientPrivateKey: record.PrivateKey,
		TxIdentifier:        outcome.TxIdentifier,
		Status:              outcome.Status,
		GasUsed:             outcome.GasUsed,
	}
	if outcome.Err != nil {
		msg := outcome.Err.Error()
		attempt.Error = &msg
	}
	// The mint already happened; record it even if the loop is shutting down.
	if err := e.record(context.WithoutCancel(ctx), attempt); err != nil {
		return e.recordFailed(ctx, attempt, err)
	}
	e.metrics.RecordAttempt(string(network), outcome.Status, outcome.Latency)

	e.mu.Lock()
	e.totals.Attempts++
	if outcome.Succeeded() {
		e.totals.Successes++
	} else {
		e.totals.Failures++
	}
	e.lastAttempt = summarize(attempt)
	e.mu.Unlock()

	if !outcome.Succeeded() {
		e.metrics.RecordError(string(network), outcome.Reason)
		e.logger.Warn("mintd attempt failed",
			slog.String("attempt_id", id),
			slog.String("network", string(network)),
			slog.String("reason", outcome.Reason),
			slog.Any("error", outcome.Err))
		e.alert(ctx, notify.Alert{
			Kind:    notify.KindAttemptFailed,
			Network: string(network),
			Subject: fmt.Sprintf("Mint failed on %s", e.networkLabel(network)),
			Message: fmt.Sprintf("recipient %s: %v", record.Address.Hex(), outcome.Err),
			Fields:  map[string]string{"attempt_id": id, "reason": outcome.Reason},
		})
		return nil
	}
	e.logger.Info("mintd attempt confirmed",
		slog.String("attempt_id", id),
		slog.String("network", string(network)),
		slog.String("tx", e.explorerLink(network, derefString(outcome.TxIdentifier))))

	if e.backup.RecordSuccess() {
		if err := e.transition(StateBackingUp); err != nil {
			return err
		}
		if _, err := e.backup.Export(ctx, TriggerThreshold, e.now()); err != nil {
			e.logger.Error("mintd backup failed", slog.String("reason", TriggerThreshold), slog.Any("error", err))
		}
	}
	return nil
}

func (e *Engine) record(ctx context.Context, attempt ledger.Attempt) error {
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = e.settings.RecordRetryInitial
	exp.MaxElapsedTime = 0
	policy := backoff.WithMaxRetries(exp, uint64(e.settings.RecordAttempts-1))
	op := func() error {
		err := e.ledger.Append(ctx, attempt)
		if errors.Is(err, ledger.ErrInvalid) || errors.Is(err, ledger.ErrDuplicate) {
			return backoff.Permanent(err)
		}
		return err
	}
	return backoff.RetryNotify(op, policy, func(err error, wait time.Duration) {
		e.metrics.RecordError(attempt.Network, "ledger")
		e.logger.Warn("mintd ledger append failed, retrying",
			slog.String("attempt_id", attempt.AttemptID),
			slog.Duration("wait", wait),
			slog.Any("error", err))
	})
}

// recordFailed stops the loop after the ledger rejected a finished attempt.
// The row is pushed to the object store when one is configured.
func (e *Engine) recordFailed(ctx context.Context, attempt ledger.Attempt, cause error) error {
	e.metrics.RecordError(attempt.Network, "ledger")
	saved, saveErr := e.backup.SaveUnrecorded(context.WithoutCancel(ctx), attempt)
	if saveErr != nil {
		saved = "not saved: " + saveErr.Error()
	}
	e.logger.Error("mintd ledger append failed, halting",
		slog.String("attempt_id", attempt.AttemptID),
		slog.String("network", attempt.Network),
		slog.String("recipient", attempt.RecipientAddress),
		slog.String("status", attempt.Status),
		slog.String("saved", saved),
		slog.Any("error", cause))
	e.alert(ctx, notify.Alert{
		Kind:    notify.KindFatal,
		Network: attempt.Network,
		Subject: "Minting engine halted: ledger unavailable",
		Message: fmt.Sprintf("attempt %s to %s (%s) was not recorded: %v", attempt.AttemptID, attempt.RecipientAddress, attempt.Status, cause),
		Fields:  map[string]string{"attempt_id": attempt.AttemptID, "recipient": attempt.RecipientAddress, "saved": saved},
	})
	return fmt.Errorf("%w: %s: %w", ErrRecordFailed, attempt.AttemptID, cause)
}

func (e *Engine) interruptibleSleep(ctx, stopCtx context.Context, d time.Duration) bool {
	sleepCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	release := context.AfterFunc(stopCtx, cancel)
	defer release()
	return e.sleep(sleepCtx, d) && !stopping(ctx, stopCtx)
}

func (e *Engine) waitForGas(ctx, stopCtx context.Context, network Network, balance *big.Int) bool {
	e.setPaused(network, true)
	defer e.setPaused(network, false)
	now := e.now()
	if e.debounce.Raise(notify.KindLowGas, network, now) {
		e.alert(ctx, notify.Alert{
			Kind:    notify.KindLowGas,
			Network: string(network),
			Subject: fmt.Sprintf("Low gas on %s", e.networkLabel(network)),
			Message: fmt.Sprintf("owner %s balance %s is below the minimum %s", e.ownerAddr.Hex(), FormatNativeAmount(balance), e.thresholdString(network)),
		})
	}
	e.logger.Warn("mintd paused for gas",
		slog.String("network", string(network)),
		slog.String("balance", FormatNativeAmount(balance)))
	for {
		if !e.interruptibleSleep(ctx, stopCtx, e.settings.GasPollInterval) {
			return false
		}
		e.rollDay(ctx)
		current, err := e.clients[network].Balance(ctx, e.ownerAddr)
		if err != nil {
			e.metrics.RecordError(string(network), ReasonNetwork)
			e.logger.Warn("mintd gas poll failed", slog.String("network", string(network)), slog.Any("error", err))
			continue
		}
		e.metrics.RecordBalance(string(network), current)
		if !e.admission.Funded(network, current) {
			continue
		}
		if cleared, lasted := e.debounce.Clear(notify.KindLowGas, network, e.now()); cleared {
			e.alert(ctx, notify.Alert{
				Kind:    notify.KindGasResumed,
				Network: string(network),
				Subject: fmt.Sprintf("Gas restored on %s", e.networkLabel(network)),
				Message: fmt.Sprintf("balance %s, paused for %s", FormatNativeAmount(current), lasted.Round(time.Second)),
			})
		}
		e.logger.Info("mintd gas restored", slog.String("network", string(network)))
		return true
	}
}

func (e *Engine) setPaused(network Network, paused bool) {
	e.mu.Lock()
	if paused {
		e.paused[network] = true
	} else {
		delete(e.paused, network)
	}
	e.mu.Unlock()
	e.metrics.SetGasPause(string(network), paused)
}

func (e *Engine) rollDay(ctx context.Context) {
	rolled, previous := e.quota.Roll(e.now())
	counters := e.quota.Counters()
	e.metrics.RecordQuota(counters.PrimaryCount, counters.PrimaryLimit)
	if !rolled {
		return
	}
	day, err := time.Parse("2006-01-02", previous.Date)
	if err != nil {
		day = e.now().Add(-24 * time.Hour)
	}
	keys, err := e.backup.ExportDaily(ctx, day)
	if err != nil && !errors.Is(err, ErrBackupDisabled) {
		e.logger.Error("mintd daily export failed", slog.String("reason", TriggerDaily), slog.Any("error", err))
	}
	totals := e.snapshotTotals()
	e.alert(ctx, notify.Alert{
		Kind:    notify.KindDailyReport,
		Subject: fmt.Sprintf("Daily mint report %s", previous.Date),
		Message: fmt.Sprintf("primary %d/%d, lifetime attempts %d (success %d, failed %d), new limit %d",
			previous.PrimaryCount, previous.PrimaryLimit, totals.Attempts, totals.Successes, totals.Failures, counters.PrimaryLimit),
		Fields: map[string]string{"report": strings.Join(keys, ",")},
	})
}

func (e *Engine) shutdown(ctx context.Context) {
	ctx = context.WithoutCancel(ctx)
	if _, err := e.backup.Export(ctx, TriggerShutdown, e.now()); err != nil && !errors.Is(err, ErrBackupDisabled) {
		e.logger.Error("mintd final backup failed", slog.String("reason", TriggerShutdown), slog.Any("error", err))
	}
	if err := e.transition(StateStopped); err != nil {
		e.forceState(StateStopped)
	}
	totals := e.snapshotTotals()
	counters := e.quota.Counters()
	e.alert(ctx, notify.Alert{
		Kind:    notify.KindStopped,
		Subject: "Minting engine stopped",
		Message: fmt.Sprintf("attempts %d, successes %d, failures %d, primary today %d/%d",
			totals.Attempts, totals.Successes, totals.Failures, counters.PrimaryCount, counters.PrimaryLimit),
	})
	e.logger.Info("mintd engine stopped",
		slog.Int64("attempts", totals.Attempts),
		slog.Int64("successes", totals.Successes),
		slog.Int64("failures", totals.Failures))
}

func (e *Engine) alert(ctx context.Context, alert notify.Alert) {
	if alert.At.IsZero() {
		alert.At = e.now().UTC()
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.settings.AlertTimeout)
	defer cancel()
	err := e.notifier.SendAlert(ctx, alert)
	e.metrics.RecordAlert(string(alert.Kind), err)
	if err != nil {
		e.logger.Warn("mintd alert delivery failed",
			slog.String("kind", string(alert.Kind)),
			slog.Any("error", err))
	}
}

func (e *Engine) snapshotTotals() Totals {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.totals
}

func (e *Engine) networkLabel(network Network) string {
	if label := e.settings.NetworkLabels[network]; label != "" {
		return label
	}
	return string(network)
}

func (e *Engine) thresholdString(network Network) string {
	threshold := e.settings.MinGas[network]
	if threshold == nil {
		return "0"
	}
	return FormatNativeAmount(threshold.ToBig())
}

func (e *Engine) explorerLink(network Network, txHash string) string {
	base := e.settings.ExplorerURLs[network]
	if base == "" || txHash == "" {
		return txHash
	}
	return base + "/tx/" + txHash
}

func summarize(a ledger.Attempt) *AttemptSummary {
	return &AttemptSummary{
		ID:           a.AttemptID,
		Timestamp:    a.Timestamp.UTC(),
		Network:      Network(a.Network),
		Recipient:    a.RecipientAddress,
		Status:       a.Status,
		TxIdentifier: derefString(a.TxIdentifier),
		Error:        derefString(a.Error),
	}
}

func derefString(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
