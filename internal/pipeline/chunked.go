package pipeline

import (
	"context"
	"fmt"
	"time"

	"example.com/webinar-sync/internal/logging"
	"example.com/webinar-sync/internal/metrics"
	"example.com/webinar-sync/internal/notify"
	"example.com/webinar-sync/internal/syncerr"
)

type DataType string

const (
	DataWebinars     DataType = "webinars"
	DataTiming       DataType = "timing"
	DataParticipants DataType = "participants"
	DataRegistrants  DataType = "registrants"
	DataAttendees    DataType = "attendees"
	DataInstances    DataType = "instances"
	DataHost         DataType = "host"
	DataPanelists    DataType = "panelists"
	DataSettings     DataType = "settings"
)

var knownDataTypes = map[DataType]bool{
	DataWebinars: true, DataTiming: true, DataParticipants: true,
	DataRegistrants: true, DataAttendees: true, DataInstances: true,
	DataHost: true, DataPanelists: true, DataSettings: true,
}

func ParseDataTypes(names []string) ([]DataType, error) {
	if len(names) == 0 {
		return nil, syncerr.New(syncerr.KindInvalidRequest, "dataTypes must not be empty")
	}
	out := make([]DataType, 0, len(names))
	for _, n := range names {
		dt := DataType(n)
		if !knownDataTypes[dt] {
			return nil, syncerr.Newf(syncerr.KindInvalidRequest, "unknown data type %q", n)
		}
		out = append(out, dt)
	}
	return out, nil
}

// Progress is reported after every chunk. Chunk counters are per data type;
// the webinar and error counters span the whole run.
type Progress struct {
	DataType          DataType `json:"dataType"`
	CurrentChunk      int      `json:"currentChunk"`
	TotalChunks       int      `json:"totalChunks"`
	ProcessedWebinars int      `json:"processedWebinars"`
	TotalWebinars     int      `json:"totalWebinars"`
	IsComplete        bool     `json:"isComplete"`
	Errors            int      `json:"errors"`
}

type ChunkedResult struct {
	DataTypes         []DataType `json:"dataTypes"`
	ChunkSize         int        `json:"chunkSize"`
	ChunksProcessed   int        `json:"chunksProcessed"`
	ProcessedWebinars int        `json:"processedWebinars"`
	TotalWebinars     int        `json:"totalWebinars"`
	ItemsUpdated      int        `json:"itemsUpdated"`
	Errors            int        `json:"errors"`
	ErrorMessages     []string   `json:"errorMessages,omitempty"`
	IsComplete        bool       `json:"isComplete"`
	Progress          []Progress `json:"progress,omitempty"`
}

// ChunkFunc processes one chunk of webinar ids for a data type and returns
// the number of items written.
type ChunkFunc func(ctx context.Context, dataType DataType, ids []string) (int, error)

type ChunkedEngine struct {
	chunkSize int
	delay     time.Duration
	notifier  notify.Notifier
}

func NewChunkedEngine(defaultChunkSize int, interChunkDelay time.Duration, n notify.Notifier) *ChunkedEngine {
	if defaultChunkSize <= 0 {
		defaultChunkSize = 10
	}
	if n == nil {
		n = notify.Nop{}
	}
	return &ChunkedEngine{chunkSize: defaultChunkSize, delay: interChunkDelay, notifier: n}
}

// Run walks each data type in order over ids in chunks. Chunks run one at a
// time; a failing or panicking chunk is counted and the run moves on. Only
// cancellation of ctx stops the run early.
func (e *ChunkedEngine) Run(ctx context.Context, userID string, dataTypes []DataType, ids []string, chunkSize int, process ChunkFunc, onProgress func(Progress)) *ChunkedResult {
	if chunkSize <= 0 {
		chunkSize = e.chunkSize
	}
	res := &ChunkedResult{
		DataTypes:     dataTypes,
		ChunkSize:     chunkSize,
		TotalWebinars: len(ids) * len(dataTypes),
	}
	report := func(p Progress) {
		res.Progress = append(res.Progress, p)
		if onProgress != nil {
			onProgress(p)
		}
	}
	log := logging.Ctx(ctx)
	pacer := NewPacer(e.delay, 1)
	totalChunks := (len(ids) + chunkSize - 1) / chunkSize

	keys := []string{notify.KeyWebinars(userID), notify.KeySyncHistory(userID)}
	defer func() {
		notify.Fire(ctx, e.notifier, notify.Invalidation{UserID: userID, Keys: uniqueKeys(keys)})
	}()

	if totalChunks == 0 || len(dataTypes) == 0 {
		res.IsComplete = true
		report(Progress{IsComplete: true})
		return res
	}

	for ti, dt := range dataTypes {
		for ci := 0; ci < totalChunks; ci++ {
			if err := pacer.Wait(ctx); err != nil {
				res.ErrorMessages = append(res.ErrorMessages, err.Error())
				log.Warn().Err(err).Str("data_type", string(dt)).Msg("chunked sync interrupted")
				return res
			}
			chunk := ids[ci*chunkSize : min((ci+1)*chunkSize, len(ids))]
			n, err := runChunk(ctx, dt, chunk, process)
			res.ChunksProcessed++
			res.ProcessedWebinars += len(chunk)
			res.ItemsUpdated += n
			if err != nil {
				res.Errors++
				res.ErrorMessages = append(res.ErrorMessages, fmt.Sprintf("%s chunk %d/%d: %v", dt, ci+1, totalChunks, err))
				metrics.ChunkErrors.WithLabelValues(string(dt)).Inc()
				log.Error().Err(err).Str("data_type", string(dt)).Int("chunk", ci+1).Int("total_chunks", totalChunks).Msg("chunk failed")
			}
			keys = append(keys, chunkKeys(userID, dt, chunk)...)

			last := ti == len(dataTypes)-1 && ci == totalChunks-1
			res.IsComplete = last
			report(Progress{
				DataType:          dt,
				CurrentChunk:      ci + 1,
				TotalChunks:       totalChunks,
				ProcessedWebinars: res.ProcessedWebinars,
				TotalWebinars:     res.TotalWebinars,
				IsComplete:        last,
				Errors:            res.Errors,
			})
		}
	}
	return res
}

func runChunk(ctx context.Context, dt DataType, ids []string, process ChunkFunc) (n int, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = syncerr.Newf(syncerr.KindChunkFailure, "panic: %v", r)
		}
	}()
	return process(ctx, dt, ids)
}

func chunkKeys(userID string, dt DataType, ids []string) []string {
	keys := make([]string, 0, len(ids))
	for _, id := range ids {
		switch dt {
		case DataParticipants, DataRegistrants, DataAttendees:
			keys = append(keys, notify.KeyParticipants(userID, id))
		case DataInstances:
			keys = append(keys, notify.KeyInstances(userID, id))
		default:
			keys = append(keys, notify.KeyWebinar(userID, id))
		}
	}
	return keys
}
