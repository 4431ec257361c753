package syncer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/ruslanovk/vpnshop-sync/internal/config"
	"github.com/ruslanovk/vpnshop-sync/internal/lib/sl"
	"github.com/ruslanovk/vpnshop-sync/internal/models"
)

// ErrAlreadyRunning возвращается при попытке запустить проход, пока
// предыдущий ещё не завершился.
var ErrAlreadyRunning = errors.New("sync pass is already running")

// Status — снимок состояния оркестратора для статусной поверхности.
type Status struct {
	Enabled      bool               `json:"enabled"`
	Times        []string           `json:"times"`
	IsRunning    bool               `json:"is_running"`
	NextRun      *time.Time         `json:"next_run,omitempty"`
	LastRunAt    *time.Time         `json:"last_run_at,omitempty"`
	LastDuration string             `json:"last_duration,omitempty"`
	LastError    string             `json:"last_error,omitempty"`
	LastReport   *models.SyncReport `json:"last_report,omitempty"`
}

// Orchestrator запускает проходы синхронизации по расписанию и по
// требованию. В любой момент выполняется не больше одного прохода:
// и крон, и ручной запуск проходят через общий CAS-замок.
type Orchestrator struct {
	reconciler *Reconciler
	log        *slog.Logger

	running atomic.Bool

	mu         sync.Mutex
	cron       *cron.Cron
	cfg        config.SyncSchedule
	lastRunAt  *time.Time
	lastTook   time.Duration
	lastErr    error
	lastReport *models.SyncReport
}

// NewOrchestrator создает оркестратор; расписание запускается отдельным
// вызовом Start.
func NewOrchestrator(reconciler *Reconciler, cfg config.SyncSchedule, log *slog.Logger) *Orchestrator {
	return &Orchestrator{
		reconciler: reconciler,
		cfg:        cfg,
		log:        log,
	}
}

// Start поднимает крон-расписание в UTC. При RunOnStartup первый проход
// выполняется сразу, в фоне.
func (o *Orchestrator) Start(ctx context.Context) error {
	const op = "syncer.Orchestrator.Start"

	o.mu.Lock()
	defer o.mu.Unlock()

	if o.cfg.Enabled {
		c, err := buildCron(o.cfg.Times, func() { o.scheduledRun(ctx) })
		if err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}
		o.cron = c
		o.cron.Start()
		o.log.Info("sync schedule started", slog.Any("times", o.cfg.Times))
	}

	if o.cfg.RunOnStartup {
		go o.scheduledRun(ctx)
	}
	return nil
}

// Stop останавливает расписание и дожидается завершения запущенных
// кроном задач. Активный ручной проход не прерывается.
func (o *Orchestrator) Stop() {
	o.mu.Lock()
	c := o.cron
	o.cron = nil
	o.mu.Unlock()

	if c != nil {
		<-c.Stop().Done()
	}
}

// Configure заменяет расписание на лету. Ранее настроенные времена
// снимаются целиком, а не дополняются. При RunOnStartup проход
// выполняется сразу, в фоне.
func (o *Orchestrator) Configure(ctx context.Context, cfg config.SyncSchedule) error {
	const op = "syncer.Orchestrator.Configure"

	o.mu.Lock()
	defer o.mu.Unlock()

	if o.cron != nil {
		o.cron.Stop()
		o.cron = nil
	}
	o.cfg = cfg

	if cfg.Enabled {
		c, err := buildCron(cfg.Times, func() { o.scheduledRun(ctx) })
		if err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}
		o.cron = c
		o.cron.Start()
	}
	if cfg.RunOnStartup {
		go o.scheduledRun(ctx)
	}
	o.log.Info("sync schedule reconfigured",
		slog.Bool("enabled", cfg.Enabled), slog.Any("times", cfg.Times))
	return nil
}

// TriggerNow запускает проход немедленно. Возвращает ErrAlreadyRunning,
// если другой проход ещё идёт.
func (o *Orchestrator) TriggerNow(ctx context.Context) (*models.SyncReport, error) {
	return o.runOnce(ctx)
}

// Status возвращает текущее состояние оркестратора.
func (o *Orchestrator) Status() Status {
	o.mu.Lock()
	defer o.mu.Unlock()

	st := Status{
		Enabled:    o.cfg.Enabled,
		Times:      o.cfg.Times,
		IsRunning:  o.running.Load(),
		LastRunAt:  o.lastRunAt,
		LastReport: o.lastReport,
	}
	if o.lastRunAt != nil {
		st.LastDuration = o.lastTook.Round(time.Millisecond).String()
	}
	if o.lastErr != nil {
		st.LastError = o.lastErr.Error()
	}
	if o.cron != nil {
		if entries := o.cron.Entries(); len(entries) > 0 {
			next := entries[0].Next
			for _, e := range entries[1:] {
				if e.Next.Before(next) {
					next = e.Next
				}
			}
			st.NextRun = &next
		}
	}
	return st
}

// scheduledRun — обёртка для крона: пересечение с активным проходом не
// ошибка, опоздавший тик просто пропускается.
func (o *Orchestrator) scheduledRun(ctx context.Context) {
	if _, err := o.runOnce(ctx); err != nil {
		if errors.Is(err, ErrAlreadyRunning) {
			o.log.Warn("scheduled sync skipped, previous pass still running")
			return
		}
		o.log.Error("scheduled sync failed", sl.Err(err))
	}
}

func (o *Orchestrator) runOnce(ctx context.Context) (*models.SyncReport, error) {
	if !o.running.CompareAndSwap(false, true) {
		return nil, ErrAlreadyRunning
	}
	defer o.running.Store(false)

	started := time.Now().UTC()
	o.log.Info("sync pass started")

	report, err := o.reconciler.Run(ctx)
	took := time.Since(started)
	observePass(report, took.Seconds(), err)

	o.mu.Lock()
	o.lastRunAt = &started
	o.lastTook = took
	o.lastErr = err
	if report != nil {
		o.lastReport = report
	}
	o.mu.Unlock()

	if err != nil {
		return nil, err
	}
	o.log.Info("sync pass finished",
		slog.Duration("took", took),
		slog.Int("created", report.Created),
		slog.Int("updated", report.Updated),
		slog.Int("retired", report.Retired),
		slog.Int("errors", report.Errors))
	return report, nil
}

// buildCron собирает UTC-расписание из списка времён "HH:MM".
func buildCron(times []string, job func()) (*cron.Cron, error) {
	c := cron.New(cron.WithLocation(time.UTC))
	for _, t := range times {
		spec, err := cronSpec(t)
		if err != nil {
			return nil, err
		}
		if _, err := c.AddFunc(spec, job); err != nil {
			return nil, fmt.Errorf("schedule %q: %w", t, err)
		}
	}
	return c, nil
}

func cronSpec(hhmm string) (string, error) {
	parts := strings.Split(strings.TrimSpace(hhmm), ":")
	if len(parts) != 2 {
		return "", fmt.Errorf("invalid time %q, want HH:MM", hhmm)
	}
	t, err := time.Parse("15:04", parts[0]+":"+parts[1])
	if err != nil {
		return "", fmt.Errorf("invalid time %q: %w", hhmm, err)
	}
	return fmt.Sprintf("%d %d * * *", t.Minute(), t.Hour()), nil
}
