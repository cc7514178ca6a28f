// Package pipeline выполняет один тик: чтение → калибровка → токен → отправка.
// Каждая стадия при ошибке завершает тик; следующий тик начинается с чистого листа.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/AnatoliyZakhryapin/DeviceService/internal/auth"
	"github.com/AnatoliyZakhryapin/DeviceService/internal/calibration"
	"github.com/AnatoliyZakhryapin/DeviceService/internal/faults"
	"github.com/AnatoliyZakhryapin/DeviceService/internal/journal"
	"github.com/AnatoliyZakhryapin/DeviceService/internal/metrics"
	"github.com/AnatoliyZakhryapin/DeviceService/internal/sensor"
	"github.com/AnatoliyZakhryapin/DeviceService/internal/uplink"
)

// Reader читает источник показаний.
type Reader func(path string) (sensor.Result, error)

// Tokens описывает то, что тику нужно от кэша токенов.
type Tokens interface {
	EnsureValid(ctx context.Context) error
	Token() string
}

var _ Tokens = (*auth.TokenCache)(nil)

// Pipeline связывает стадии тика. Поля Source, Tokens и Uplink обязательны.
type Pipeline struct {
	Source    string
	Read      Reader
	Calibrate calibration.Func
	Tokens    Tokens
	Uplink    uplink.Client
	Journal   journal.Journal
	Metrics   *metrics.Metrics
	Logger    *slog.Logger
	NewID     func() string
	Now       func() time.Time

	// Единственный слот выполнения: второй тик не ждёт, а пропускается.
	slot sync.Mutex
}

// Report описывает итог одного тика.
type Report struct {
	BatchID  string
	Outcome  string
	Readings int
	Skipped  int
	Duration time.Duration
	Err      error
}

func (r Report) OK() bool { return r.Outcome == metrics.OutcomeOK }

// Tick выполняет тик до конца. Ошибки стадий не возвращаются наружу, а попадают в Report и лог.
func (p *Pipeline) Tick(ctx context.Context) Report {
	if !p.slot.TryLock() {
		p.logger().Warn("previous tick still running, skipping")
		p.Metrics.Tick(metrics.OutcomeBusy, 0)
		return Report{Outcome: metrics.OutcomeBusy}
	}
	defer p.slot.Unlock()

	start := p.now()
	rep := p.run(ctx, start)
	rep.Duration = p.now().Sub(start)
	p.Metrics.Tick(rep.Outcome, rep.Duration)

	log := p.logger().With("batch_id", rep.BatchID, "readings", rep.Readings, "elapsed", rep.Duration)
	if rep.Err != nil {
		log.Error("tick failed", "stage", rep.Outcome, "err", rep.Err)
	} else {
		log.Info("tick done")
	}
	return rep
}

func (p *Pipeline) run(ctx context.Context, start time.Time) Report {
	rep := Report{BatchID: p.newID()}

	read := p.Read
	if read == nil {
		read = sensor.Read
	}
	res, err := read(p.Source)
	if err != nil {
		rep.Outcome, rep.Err = outcome(err, faults.KindIngestion), err
		return rep
	}
	rep.Skipped = res.Skipped
	if res.Skipped > 0 {
		p.logger().Debug("malformed rows skipped", "source", p.Source, "skipped", res.Skipped)
		p.Metrics.RowsSkipped(res.Skipped)
	}

	readings, err := p.transform(res.Readings)
	if err != nil {
		rep.Outcome, rep.Err = outcome(err, faults.KindTransformation), err
		return rep
	}
	rep.Readings = len(readings)

	entry := journal.Entry{
		BatchID:     rep.BatchID,
		Fingerprint: sensor.Fingerprint(readings),
		TickAt:      start,
		Readings:    readings,
	}
	defer func() { p.record(ctx, entry, rep.Err) }()

	if err := p.Tokens.EnsureValid(ctx); err != nil {
		rep.Outcome, rep.Err = outcome(err, faults.KindAuth), err
		return rep
	}

	batch := uplink.Batch{ID: rep.BatchID, Token: p.Tokens.Token(), Readings: readings}
	if err := p.Uplink.Send(ctx, batch); err != nil {
		rep.Outcome, rep.Err = outcome(err, faults.KindUpload), err
		return rep
	}
	entry.Uploaded = true
	p.Metrics.ReadingsUploaded(len(readings))
	rep.Outcome = metrics.OutcomeOK
	return rep
}

// transform калибрует значения в копии среза; при первой ошибке пачка отбрасывается.
func (p *Pipeline) transform(in []sensor.Reading) ([]sensor.Reading, error) {
	calibrate := p.Calibrate
	if calibrate == nil {
		calibrate = calibration.Default.Func()
	}
	out := make([]sensor.Reading, len(in))
	for i, r := range in {
		v, err := calibrate(r.Value)
		if err != nil {
			return nil, faults.Transformation(fmt.Sprintf("sensor %d", r.SensorID), err)
		}
		r.Value = v
		out[i] = r
	}
	return out, nil
}

func (p *Pipeline) record(ctx context.Context, entry journal.Entry, tickErr error) {
	if p.Journal == nil {
		return
	}
	if tickErr != nil {
		entry.Error = tickErr.Error()
	}
	if err := p.Journal.Record(ctx, entry); err != nil {
		p.logger().Warn("journal record failed", "batch_id", entry.BatchID, "err", err)
	}
}

// outcome переводит ошибку стадии в метку исхода. Ошибка без класса относится к стадии, где возникла.
func outcome(err error, stage faults.Kind) string {
	kind := faults.KindOf(err)
	if kind == faults.KindUnknown {
		kind = stage
	}
	return kind.String()
}

func (p *Pipeline) newID() string {
	if p.NewID != nil {
		return p.NewID()
	}
	return uuid.NewString()
}

func (p *Pipeline) now() time.Time {
	if p.Now != nil {
		return p.Now()
	}
	return time.Now()
}

func (p *Pipeline) logger() *slog.Logger {
	if p.Logger != nil {
		return p.Logger
	}
	return slog.Default()
}
