package writer

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"
	"github.com/xitongsys/parquet-go-source/local"
	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/source"

	appconfig "optionflow/config"
	"optionflow/internal/metadata"
	"optionflow/internal/metrics"
	"optionflow/internal/models"
	"optionflow/logger"
)

const (
	bufferKeySeparator = "|"
	chainDataset       = "chain"
	spotDataset        = "spot"
	defaultFlushEvery  = 30 * time.Second
	drainGrace         = 5 * time.Second
)

// Writer drains the collector channels, buffers rows per partition and
// periodically writes them out as parquet files. With S3 enabled files are
// uploaded to the configured bucket; otherwise they land under the local
// storage directory. Iceberg-style table metadata is maintained alongside
// either way.
type Writer struct {
	cfg     *appconfig.Config
	chainCh <-chan models.ChainBatch
	spotCh  <-chan models.SpotBatch

	s3Client *s3.Client
	bucket   string
	localDir string

	chainMeta *metadata.Generator
	spotMeta  *metadata.Generator

	ctx         context.Context
	cancel      context.CancelFunc
	wg          *sync.WaitGroup
	drainWg     *sync.WaitGroup
	running     bool
	mu          sync.Mutex
	chainBuf    map[string][]models.ChainRow
	spotBuf     map[string][]models.SpotRow
	lastFlush   map[string]time.Time
	flushEvery  time.Duration
	flushTicker *time.Ticker
	maxRows     int
	log         *logger.Log

	batchesWritten int64
	filesWritten   int64
	bytesWritten   int64
	errorsCount    int64
}

// NewWriter initializes the writer. The S3 client is only constructed when
// S3 storage is enabled; local mode needs no credentials.
func NewWriter(cfg *appconfig.Config, chainCh <-chan models.ChainBatch, spotCh <-chan models.SpotBatch) (*Writer, error) {
	log := logger.GetLogger()

	localDir := strings.TrimSpace(cfg.Storage.LocalDir)
	if localDir == "" {
		localDir = "data"
	}

	flushEvery := cfg.Writer.FlushInterval
	if flushEvery <= 0 {
		flushEvery = defaultFlushEvery
	}

	w := &Writer{
		cfg:        cfg,
		chainCh:    chainCh,
		spotCh:     spotCh,
		localDir:   localDir,
		chainMeta:  metadata.NewGenerator(filepath.Join(localDir, chainDataset), "option_chain"),
		spotMeta:   metadata.NewGenerator(filepath.Join(localDir, spotDataset), "index_spot"),
		wg:         &sync.WaitGroup{},
		drainWg:    &sync.WaitGroup{},
		flushEvery: flushEvery,
		maxRows:    cfg.Writer.MaxBufferRows,
		log:        log,
	}

	if cfg.Storage.S3.Enabled {
		bucket := strings.TrimSpace(cfg.Storage.S3.Bucket)
		if bucket == "" {
			return nil, fmt.Errorf("s3 bucket not configured")
		}

		ctx := context.Background()
		loadOpts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(cfg.Storage.S3.Region)}
		if cfg.Storage.S3.AccessKeyID != "" && cfg.Storage.S3.SecretAccessKey != "" {
			loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
				credentials.NewStaticCredentialsProvider(
					cfg.Storage.S3.AccessKeyID,
					cfg.Storage.S3.SecretAccessKey,
					"",
				),
			))
		}

		awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
		if err != nil {
			return nil, fmt.Errorf("load aws config: %w", err)
		}

		w.s3Client = s3.NewFromConfig(awsCfg, func(o *s3.Options) {
			if cfg.Storage.S3.Endpoint != "" {
				o.BaseEndpoint = aws.String(cfg.Storage.S3.Endpoint)
			}
			o.UsePathStyle = cfg.Storage.S3.PathStyle
		})
		w.bucket = bucket

		log.WithComponent("parquet_writer").WithFields(logger.Fields{
			"bucket":     bucket,
			"region":     cfg.Storage.S3.Region,
			"endpoint":   cfg.Storage.S3.Endpoint,
			"path_style": cfg.Storage.S3.PathStyle,
		}).Info("parquet writer initialized with s3 storage")
	} else {
		log.WithComponent("parquet_writer").WithFields(logger.Fields{
			"local_dir": localDir,
		}).Info("s3 storage disabled, parquet files will be written locally")
	}

	return w, nil
}

// Start launches the channel drain workers and the flush worker.
func (w *Writer) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return fmt.Errorf("parquet writer already running")
	}
	w.running = true
	w.ctx, w.cancel = context.WithCancel(ctx)
	w.chainBuf = make(map[string][]models.ChainRow)
	w.spotBuf = make(map[string][]models.SpotRow)
	w.lastFlush = make(map[string]time.Time)
	tick := w.flushEvery
	if tick > time.Second {
		tick = time.Second
	}
	w.flushTicker = time.NewTicker(tick)
	w.mu.Unlock()

	log := w.log.WithComponent("parquet_writer")

	catalogDir := filepath.Join(w.localDir, "catalog")
	for _, gen := range []*metadata.Generator{w.chainMeta, w.spotMeta} {
		if err := gen.WriteCatalogEntry(catalogDir); err != nil {
			log.WithError(err).Warn("failed to write catalog entry")
		}
	}

	numWorkers := w.cfg.Writer.MaxWorkers
	if numWorkers < 1 {
		numWorkers = 1
	}

	for i := 0; i < numWorkers; i++ {
		w.drainWg.Add(2)
		go w.chainWorker(i)
		go w.spotWorker(i)
	}

	w.wg.Add(1)
	go w.flushWorker()

	go w.metricsReporter(w.ctx)

	log.WithFields(logger.Fields{
		"workers":        numWorkers,
		"flush_interval": w.flushEvery.String(),
		"max_rows":       w.maxRows,
		"s3_enabled":     w.s3Client != nil,
	}).Info("parquet writer started")

	return nil
}

// Stop terminates the workers and flushes everything still buffered. Callers
// close the collector channels first; the drain workers then consume any
// batches still in flight before the final flush. If the channels stay open
// the workers are cancelled after a short grace instead.
func (w *Writer) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	w.running = false
	cancel := w.cancel
	ticker := w.flushTicker
	w.cancel = nil
	w.flushTicker = nil
	w.mu.Unlock()

	drained := make(chan struct{})
	go func() {
		w.drainWg.Wait()
		close(drained)
	}()
	select {
	case <-drained:
	case <-time.After(drainGrace):
		w.log.WithComponent("parquet_writer").Warn("drain grace elapsed, cancelling writer workers")
	}

	if ticker != nil {
		ticker.Stop()
	}
	if cancel != nil {
		cancel()
	}

	w.wg.Wait()
	w.drainWg.Wait()
	w.flushAll("stop")
	w.log.WithComponent("parquet_writer").Info("parquet writer stopped")
}

func (w *Writer) chainWorker(id int) {
	defer w.drainWg.Done()

	log := w.log.WithComponent("parquet_writer").WithFields(logger.Fields{
		"worker_id": id,
		"stream":    chainDataset,
	})

	for {
		select {
		case <-w.ctx.Done():
			return
		case batch, ok := <-w.chainCh:
			if !ok {
				log.Debug("chain channel closed, worker stopping")
				return
			}
			w.addChainBatch(batch)
		}
	}
}

func (w *Writer) spotWorker(id int) {
	defer w.drainWg.Done()

	log := w.log.WithComponent("parquet_writer").WithFields(logger.Fields{
		"worker_id": id,
		"stream":    spotDataset,
	})

	for {
		select {
		case <-w.ctx.Done():
			return
		case batch, ok := <-w.spotCh:
			if !ok {
				log.Debug("spot channel closed, worker stopping")
				return
			}
			w.addSpotBatch(batch)
		}
	}
}

func (w *Writer) flushWorker() {
	defer w.wg.Done()

	// Capture the ticker; Stop clears the field while this loop may still
	// be running.
	w.mu.Lock()
	ticker := w.flushTicker
	w.mu.Unlock()

	for {
		select {
		case <-w.ctx.Done():
			w.flushAll("context_cancelled")
			return
		case <-ticker.C:
			w.flushTimedOut()
		}
	}
}

func chainKey(index, expiry string) string {
	return strings.Join([]string{chainDataset, index, expiry}, bufferKeySeparator)
}

func spotKey(index string) string {
	return strings.Join([]string{spotDataset, index}, bufferKeySeparator)
}

func (w *Writer) addChainBatch(batch models.ChainBatch) {
	if batch.Index == "" || len(batch.Rows) == 0 {
		return
	}
	key := chainKey(batch.Index, batch.Expiry)
	w.mu.Lock()
	w.chainBuf[key] = append(w.chainBuf[key], batch.Rows...)
	if _, ok := w.lastFlush[key]; !ok {
		w.lastFlush[key] = time.Now()
	}
	shouldFlush := w.maxRows > 0 && len(w.chainBuf[key]) >= w.maxRows
	w.mu.Unlock()

	atomic.AddInt64(&w.batchesWritten, 1)

	if shouldFlush {
		w.flushKey(key)
	}
}

func (w *Writer) addSpotBatch(batch models.SpotBatch) {
	if batch.Index == "" || len(batch.Rows) == 0 {
		return
	}
	key := spotKey(batch.Index)
	w.mu.Lock()
	w.spotBuf[key] = append(w.spotBuf[key], batch.Rows...)
	if _, ok := w.lastFlush[key]; !ok {
		w.lastFlush[key] = time.Now()
	}
	shouldFlush := w.maxRows > 0 && len(w.spotBuf[key]) >= w.maxRows
	w.mu.Unlock()

	atomic.AddInt64(&w.batchesWritten, 1)

	if shouldFlush {
		w.flushKey(key)
	}
}

func (w *Writer) flushTimedOut() {
	now := time.Now()
	w.mu.Lock()
	keys := make([]string, 0, len(w.lastFlush))
	for key, last := range w.lastFlush {
		if now.Sub(last) >= w.flushEvery {
			keys = append(keys, key)
		}
	}
	w.mu.Unlock()

	for _, key := range keys {
		w.flushKey(key)
	}
}

func (w *Writer) flushAll(reason string) {
	w.mu.Lock()
	keys := make([]string, 0, len(w.lastFlush))
	for key := range w.lastFlush {
		keys = append(keys, key)
	}
	w.mu.Unlock()

	if len(keys) == 0 {
		return
	}

	w.log.WithComponent("parquet_writer").WithFields(logger.Fields{
		"flushed_buffers": len(keys),
		"reason":          reason,
	}).Info("flushing writer buffers")

	for _, key := range keys {
		w.flushKey(key)
	}
}

func (w *Writer) flushKey(key string) {
	w.mu.Lock()
	chainRows := w.chainBuf[key]
	spotRows := w.spotBuf[key]
	if len(chainRows) == 0 && len(spotRows) == 0 {
		w.mu.Unlock()
		return
	}
	delete(w.chainBuf, key)
	delete(w.spotBuf, key)
	delete(w.lastFlush, key)
	w.mu.Unlock()

	parts := strings.Split(key, bufferKeySeparator)
	switch parts[0] {
	case chainDataset:
		if len(parts) < 3 {
			return
		}
		w.writeChainPartition(parts[1], parts[2], chainRows)
	case spotDataset:
		if len(parts) < 2 {
			return
		}
		w.writeSpotPartition(parts[1], spotRows)
	}
}

func (w *Writer) writeChainPartition(index, expiry string, rows []models.ChainRow) {
	ts := chainPartitionTime(rows)
	key := w.objectKey(chainDataset, index, expiry, ts)

	size, err := w.persist(key, func(fw source.ParquetFile) error {
		return writeChainRecords(fw, rows, w.codec())
	})
	if err != nil {
		atomic.AddInt64(&w.errorsCount, 1)
		w.log.WithComponent("parquet_writer").WithError(err).WithFields(logger.Fields{
			"object_key": key,
			"records":    len(rows),
		}).Error("failed to write chain partition")
		return
	}

	atomic.AddInt64(&w.filesWritten, 1)
	atomic.AddInt64(&w.bytesWritten, size)
	logger.IncrementRowsWritten(len(rows))

	df := metadata.DataFile{
		Path:        w.objectPath(key),
		FileSize:    size,
		RecordCount: int64(len(rows)),
		Partition: map[string]any{
			"index":  index,
			"expiry": expiry,
			"date":   ts.UTC().Format("2006-01-02"),
		},
		Timestamp: ts,
	}
	if err := w.chainMeta.AddFile(df); err != nil {
		w.log.WithComponent("parquet_writer").WithError(err).Warn("failed to update chain table metadata")
	}

	w.log.WithComponent("parquet_writer").WithFields(logger.Fields{
		"object_key": key,
		"records":    len(rows),
		"bytes":      size,
	}).Info("chain partition written")
}

func (w *Writer) writeSpotPartition(index string, rows []models.SpotRow) {
	ts := spotPartitionTime(rows)
	key := w.objectKey(spotDataset, index, "", ts)

	size, err := w.persist(key, func(fw source.ParquetFile) error {
		return writeSpotRecords(fw, rows, w.codec())
	})
	if err != nil {
		atomic.AddInt64(&w.errorsCount, 1)
		w.log.WithComponent("parquet_writer").WithError(err).WithFields(logger.Fields{
			"object_key": key,
			"records":    len(rows),
		}).Error("failed to write spot partition")
		return
	}

	atomic.AddInt64(&w.filesWritten, 1)
	atomic.AddInt64(&w.bytesWritten, size)
	logger.IncrementRowsWritten(len(rows))

	df := metadata.DataFile{
		Path:        w.objectPath(key),
		FileSize:    size,
		RecordCount: int64(len(rows)),
		Partition: map[string]any{
			"index": index,
			"date":  ts.UTC().Format("2006-01-02"),
		},
		Timestamp: ts,
	}
	if err := w.spotMeta.AddFile(df); err != nil {
		w.log.WithComponent("parquet_writer").WithError(err).Warn("failed to update spot table metadata")
	}

	w.log.WithComponent("parquet_writer").WithFields(logger.Fields{
		"object_key": key,
		"records":    len(rows),
		"bytes":      size,
	}).Info("spot partition written")
}

func chainPartitionTime(rows []models.ChainRow) time.Time {
	var ts time.Time
	for _, row := range rows {
		if row.Timestamp.After(ts) {
			ts = row.Timestamp
		}
	}
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	return ts
}

func spotPartitionTime(rows []models.SpotRow) time.Time {
	var ts time.Time
	for _, row := range rows {
		if row.Timestamp.After(ts) {
			ts = row.Timestamp
		}
	}
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	return ts
}

// persist encodes one parquet file and stores it, uploading when S3 is
// configured and writing under the local directory otherwise. It returns the
// file size in bytes.
func (w *Writer) persist(key string, encode func(source.ParquetFile) error) (int64, error) {
	if w.s3Client != nil {
		mf := newMemFile()
		if err := encode(mf); err != nil {
			return 0, err
		}
		data := mf.Bytes()
		if err := w.upload(key, data); err != nil {
			return 0, err
		}
		logger.IncrementS3Write(int64(len(data)))
		return int64(len(data)), nil
	}

	path := filepath.Join(w.localDir, filepath.FromSlash(key))
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return 0, err
	}
	fw, err := local.NewLocalFileWriter(path)
	if err != nil {
		return 0, err
	}
	if err := encode(fw); err != nil {
		fw.Close()
		return 0, err
	}
	if err := fw.Close(); err != nil {
		return 0, err
	}
	info, err := os.Stat(path)
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}

func (w *Writer) upload(key string, data []byte) error {
	input := &s3.PutObjectInput{
		Bucket:      aws.String(w.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/octet-stream"),
		Metadata: map[string]string{
			"content-type":       "parquet",
			"compression":        w.cfg.Writer.Parquet.Compression,
			"optionflow-version": w.cfg.Optionflow.Version,
		},
	}

	parent := w.ctx
	if parent == nil {
		parent = context.Background()
	}
	ctx := context.WithoutCancel(parent)
	_, err := w.s3Client.PutObject(ctx, input)
	if err != nil {
		return fmt.Errorf("upload to s3 bucket %s: %w", w.bucket, err)
	}
	return nil
}

// objectKey builds the hive-partitioned object path for one parquet file,
// e.g. chain/index=NIFTY/expiry=2026-08-27/2026/08/24/nifty_chain_....parquet.
// A short random suffix keeps back-to-back flushes of the same partition from
// colliding.
func (w *Writer) objectKey(dataset, index, expiry string, ts time.Time) string {
	parts := []string{dataset}
	for _, k := range w.cfg.Writer.Partitioning.AdditionalKeys {
		switch k {
		case "index":
			parts = append(parts, fmt.Sprintf("index=%s", index))
		case "expiry":
			if expiry != "" {
				parts = append(parts, fmt.Sprintf("expiry=%s", expiry))
			}
		}
	}

	timeFormat := w.cfg.Writer.Partitioning.TimeFormat
	if timeFormat == "" {
		timeFormat = "{year}/{month}/{day}"
	}
	t := ts.UTC()
	timePath := strings.ReplaceAll(timeFormat, "{year}", fmt.Sprintf("%04d", t.Year()))
	timePath = strings.ReplaceAll(timePath, "{month}", fmt.Sprintf("%02d", t.Month()))
	timePath = strings.ReplaceAll(timePath, "{day}", fmt.Sprintf("%02d", t.Day()))
	timePath = strings.ReplaceAll(timePath, "{hour}", fmt.Sprintf("%02d", t.Hour()))

	parts = append(parts, timePath)

	filename := fmt.Sprintf("%s_%s_%s_%s.parquet",
		strings.ToLower(index),
		dataset,
		t.Format("20060102150405"),
		uuid.NewString()[:8])

	return filepath.ToSlash(filepath.Join(append(parts, filename)...))
}

func (w *Writer) objectPath(key string) string {
	if w.s3Client != nil {
		return fmt.Sprintf("s3://%s/%s", w.bucket, key)
	}
	return filepath.Join(w.localDir, filepath.FromSlash(key))
}

func (w *Writer) codec() parquet.CompressionCodec {
	return compressionCodec(w.cfg.Writer.Parquet.Compression)
}

// Stats returns a snapshot of the writer counters plus current channel
// occupancy for the status surface.
func (w *Writer) Stats() metrics.WriterStats {
	return metrics.WriterStats{
		BatchesWritten: atomic.LoadInt64(&w.batchesWritten),
		FilesWritten:   atomic.LoadInt64(&w.filesWritten),
		BytesWritten:   atomic.LoadInt64(&w.bytesWritten),
		ErrorsCount:    atomic.LoadInt64(&w.errorsCount),
		ChainQueueLen:  len(w.chainCh),
		ChainQueueCap:  cap(w.chainCh),
		SpotQueueLen:   len(w.spotCh),
		SpotQueueCap:   cap(w.spotCh),
	}
}

func (w *Writer) metricsReporter(ctx context.Context) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			metrics.ReportWriter(w.log, "parquet_writer", w.Stats())
		}
	}
}
