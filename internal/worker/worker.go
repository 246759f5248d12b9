package worker

import (
	"context"
	"sync"

	"github.com/goccy/go-json"
	"gorm.io/datatypes"

	"example.com/webinar-sync/internal/command"
	"example.com/webinar-sync/internal/logging"
	"example.com/webinar-sync/internal/metrics"
	"example.com/webinar-sync/internal/model"
	"example.com/webinar-sync/internal/pipeline"
	"example.com/webinar-sync/internal/queue"
	"example.com/webinar-sync/internal/store"
)

// Worker runs queued sync jobs through the command dispatcher.
type Worker struct {
	store      store.JobStore
	dispatcher *command.Dispatcher
	qclient    queue.Client
	workerPool int
	wg         sync.WaitGroup
}

func NewWorker(s store.JobStore, d *command.Dispatcher, q queue.Client, pool int) *Worker {
	if pool <= 0 {
		pool = 1
	}
	return &Worker{store: s, dispatcher: d, qclient: q, workerPool: pool}
}

// Start launches the pool. It returns immediately; Wait blocks until every
// worker has stopped after ctx ends.
func (w *Worker) Start(ctx context.Context) {
	for i := 0; i < w.workerPool; i++ {
		w.wg.Add(1)
		go func(idx int) {
			defer w.wg.Done()
			log := logging.Logger().With().Int("worker", idx).Logger()
			log.Info().Msg("worker started")
			msgs, err := w.qclient.Consume(ctx)
			if err != nil {
				log.Error().Err(err).Msg("failed to consume")
				return
			}
			for {
				select {
				case <-ctx.Done():
					log.Info().Msg("worker stopping")
					return
				case id, ok := <-msgs:
					if !ok {
						log.Info().Msg("messages channel closed")
						return
					}
					w.process(ctx, id)
				}
			}
		}(i)
	}
}

func (w *Worker) Wait() { w.wg.Wait() }

func (w *Worker) process(ctx context.Context, id string) {
	ctx = logging.ContextWithCorrelationID(ctx, id)
	log := logging.Ctx(ctx)
	// job bookkeeping must land even when ctx is cancelled mid-run
	bg := context.WithoutCancel(ctx)

	j, err := w.store.GetJob(bg, id)
	if err != nil {
		log.Warn().Err(err).Str("job_id", id).Msg("job not found")
		return
	}
	if j.Status != model.StatusPending {
		log.Info().Str("job_id", id).Str("status", string(j.Status)).Msg("skipping job that is not pending")
		return
	}

	j.Status = model.StatusRunning
	if err := w.store.UpdateJob(bg, j); err != nil {
		log.Error().Err(err).Str("job_id", id).Msg("mark running failed")
	}

	req, err := command.FromParams(j.Action, j.Params)
	var resp command.Response
	if err != nil {
		resp = command.ErrorResponse(err)
	} else {
		// a timed-out action keeps running and may still report progress
		var (
			mu       sync.Mutex
			finished bool
		)
		req.OnProgress = func(p pipeline.Progress) {
			mu.Lock()
			defer mu.Unlock()
			if finished {
				return
			}
			running := &model.SyncJob{ID: id, Status: model.StatusRunning, Result: encode(p)}
			if err := w.store.UpdateJob(bg, running); err != nil {
				log.Warn().Err(err).Str("job_id", id).Msg("progress update failed")
			}
		}
		resp = w.dispatcher.Dispatch(ctx, req)
		mu.Lock()
		finished = true
		mu.Unlock()
	}

	j.Result = encode(resp)
	if resp.Success {
		j.Status = model.StatusSuccess
		j.Error = ""
		log.Info().Str("job_id", id).Str("action", j.Action).Msg("job succeeded")
	} else {
		j.Status = model.StatusFailed
		j.Error = resp.Error
		log.Warn().Str("job_id", id).Str("action", j.Action).Str("error", resp.Error).Msg("job failed")
	}
	metrics.JobsProcessed.WithLabelValues(string(j.Status)).Inc()
	if err := w.store.UpdateJob(bg, j); err != nil {
		log.Error().Err(err).Str("job_id", id).Msg("store job result failed")
	}
}

func encode(v any) datatypes.JSON {
	b, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return datatypes.JSON(b)
}
