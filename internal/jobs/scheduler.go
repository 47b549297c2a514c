// Package jobs управляет фоновыми задачами (cron).
// scheduler.go настраивает расписание: опрос неоплаченных счетов,
// сверку застрявших переводов и необязательную архивацию завершённых сделок.
package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	log "github.com/sirupsen/logrus"

	"serotonyl.ru/garant-bot/internal/metrics"
)

// Имена задач в логах и метриках.
const (
	JobInvoicePoll    = "invoice_poll"
	JobTransferRepair = "transfer_repair"
	JobArchive        = "archive"
)

// Deals — фоновые операции сделок (deals.Service).
type Deals interface {
	PollPendingInvoices(ctx context.Context) (int, error)
	RepairTransfers(ctx context.Context) (int, error)
}

// Archiver удаляет завершённые сделки (admin.Service).
type Archiver interface {
	Archive(ctx context.Context) (int, error)
}

// Specs — расписания задач. Пустое расписание отключает задачу.
type Specs struct {
	InvoicePoll    string
	TransferRepair string
	Archive        string
}

// Scheduler управляет фоновыми задачами.
type Scheduler struct {
	cron     *cron.Cron
	deals    Deals
	archiver Archiver
	specs    Specs
	metrics  *metrics.Metrics
}

// NewScheduler создаёт планировщик в часовом поясе loc.
// Запуск задачи пропускается, если предыдущий ещё идёт.
func NewScheduler(loc *time.Location, deals Deals, archiver Archiver, specs Specs, m *metrics.Metrics) *Scheduler {
	c := cron.New(
		cron.WithLocation(loc),
		cron.WithChain(cron.Recover(cron.DefaultLogger), cron.SkipIfStillRunning(cron.DefaultLogger)),
	)

	return &Scheduler{
		cron:     c,
		deals:    deals,
		archiver: archiver,
		specs:    specs,
		metrics:  m,
	}
}

// Start регистрирует задачи и запускает планировщик.
func (s *Scheduler) Start(ctx context.Context) error {
	jobs := []struct {
		name string
		spec string
		run  func(ctx context.Context) (int, error)
	}{
		{JobInvoicePoll, s.specs.InvoicePoll, s.deals.PollPendingInvoices},
		{JobTransferRepair, s.specs.TransferRepair, s.deals.RepairTransfers},
		{JobArchive, s.specs.Archive, s.archiver.Archive},
	}

	for _, j := range jobs {
		if j.spec == "" {
			log.WithField("job", j.name).Info("[CRON] Задача отключена")
			continue
		}
		name, run := j.name, j.run
		if _, err := s.cron.AddFunc(j.spec, func() { s.Run(ctx, name, run) }); err != nil {
			return fmt.Errorf("расписание %s (%q): %w", name, j.spec, err)
		}
	}

	s.cron.Start()
	log.WithField("location", s.cron.Location().String()).Info("Планировщик задач запущен")
	return nil
}

// Run выполняет задачу один раз с логами и метриками.
func (s *Scheduler) Run(ctx context.Context, name string, run func(ctx context.Context) (int, error)) {
	if ctx.Err() != nil {
		return
	}
	started := time.Now()
	n, err := run(ctx)
	s.metrics.ObserveJob(name, time.Since(started), err)

	logger := log.WithFields(log.Fields{"job": name, "processed": n})
	if err != nil {
		logger.WithError(err).Error("[CRON] Задача завершилась с ошибкой")
		return
	}
	if n > 0 {
		logger.Info("[CRON] Задача выполнена")
	} else {
		logger.Debug("[CRON] Задача выполнена")
	}
}

// Stop останавливает планировщик и ждёт текущие задачи.
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	log.Info("Планировщик задач остановлен")
}
