package audit

/*
Файл journal.go реализует журнал решений (Decision Journal) — асинхронный
сборщик терминальных исходов диалогов с пакетной записью в PostgreSQL.

Ключевые особенности архитектуры:
- Non-blocking Logging: события уходят в неблокирующий канал, задержки
  записи в БД не влияют на время ответа оркестратора.
- Batching & Efficiency: накопление событий в памяти и Bulk Insert
  по таймеру или при достижении лимита пачки.
- Drain Pattern & Graceful Shutdown: при остановке сервиса буфер
  вычитывается полностью (Final Flush), данные не теряются при перезагрузке.
*/

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// StorageInterface определяет, куда физически будут сохраняться записи журнала
type StorageInterface interface {
	// WriteBatch сохраняет пачку событий за один раз
	WriteBatch(ctx context.Context, events []DecisionEvent) error
}

type Recorder interface {
	Record(event DecisionEvent)
}

type Journal struct {
	ch            chan DecisionEvent // Буфер для асинхронности
	repo          StorageInterface
	logger        *zap.Logger
	wg            sync.WaitGroup
	batchSize     int
	flushInterval time.Duration
	// Защита от записи после остановки
	isClosed int32 // Атомарный флаг (0 - открыт, 1 - закрыт)
}

func NewJournal(repo StorageInterface, bufferSize, batchSize int, flushInterval time.Duration, logger *zap.Logger) *Journal {
	if bufferSize <= 0 {
		bufferSize = 10000
	}
	if batchSize <= 0 {
		batchSize = 100
	}
	if flushInterval <= 0 {
		flushInterval = 500 * time.Millisecond
	}
	return &Journal{
		ch:            make(chan DecisionEvent, bufferSize),
		repo:          repo,
		logger:        logger.With(zap.String("mod", "journal")),
		batchSize:     batchSize,
		flushInterval: flushInterval,
	}
}

func (j *Journal) Start() {
	j.wg.Add(1)
	go j.worker()
}

// Stop «запирает» вход в канал и ждет, пока воркер всё допишет.
func (j *Journal) Stop() {
	// 1. Сначала ставим флаг
	atomic.StoreInt32(&j.isClosed, 1)

	// 2. Даем крошечную паузу, чтобы текущие Record успели проскочить
	time.Sleep(10 * time.Millisecond)

	// 3. Drain Pattern: завершение воркера только через закрытие входного канала
	j.logger.Info("stopping journal: closing channel and flushing buffer...")
	close(j.ch)
	j.wg.Wait()
	j.logger.Info("journal stopped gracefully")
}

// BufferLen — текущая заполненность очереди, для гейджа backpressure.
func (j *Journal) BufferLen() int {
	return len(j.ch)
}

func (j *Journal) Record(event DecisionEvent) {
	// Убеждаемся, что таймстемп всегда проставлен
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	// Атомарно проверяем, не закрыт ли канал
	if atomic.LoadInt32(&j.isClosed) == 1 {
		j.logger.Warn("decision event dropped: journal is stopping", zap.String("id", event.ID))
		return
	}

	// Load Shedding: переполненный буфер не должен тормозить Hot Path
	select {
	case j.ch <- event:
	default:
		// При Backpressure событие уходит хотя бы в стандартный логгер
		j.logger.Error("journal_buffer_overflow",
			zap.String("conversation_id", event.ConversationID),
			zap.String("agent_role", event.AgentRole),
		)
	}
}

func (j *Journal) worker() {
	defer j.wg.Done()

	batch := make([]DecisionEvent, 0, j.batchSize)
	ticker := time.NewTicker(j.flushInterval)
	defer ticker.Stop()

	flush := func() {
		if len(batch) > 0 {
			// Background, так как основной контекст может быть уже закрыт
			if err := j.repo.WriteBatch(context.Background(), batch); err != nil {
				j.logger.Error("journal flush failed", zap.Error(err))
			}
			batch = batch[:0]
		}
	}

	for {
		select {
		case event, ok := <-j.ch:
			if !ok {
				// Канал закрыт в Stop(): воркер вычитал остатки очереди,
				// делает финальный flush и выходит
				flush()
				j.logger.Info("journal worker finished")
				return
			}
			batch = append(batch, event)
			if len(batch) >= j.batchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		}
	}
}
