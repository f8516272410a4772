package logger

import (
	"context"
	"runtime"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/mem"
	gnet "github.com/shirou/gopsutil/v3/net" //cloudwatch

	"github.com/aws/aws-sdk-go-v2/aws"                              //cloudwatch
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types" //cloudwatch
)

type channelStat struct {
	messages int64
	bytes    int64
}

var (
	errorsProvider  int64
	errorsCollector int64
	errorsWriter    int64
	warnsProvider   int64
	warnsCollector  int64
	warnsWriter     int64
	spotFetches     int64
	chainFetches    int64
	cacheHits       int64
	cacheMisses     int64
	cyclesCompleted int64
	rowsWritten     int64
	s3Writes        int64
	channels        sync.Map // map[string]*channelStat
)

func recordWarn(component string) {
	switch {
	case strings.Contains(component, "provider"):
		atomic.AddInt64(&warnsProvider, 1)
	case strings.Contains(component, "collector"):
		atomic.AddInt64(&warnsCollector, 1)
	case strings.Contains(component, "writer"):
		atomic.AddInt64(&warnsWriter, 1)
	}
}

func recordError(component string) {
	switch {
	case strings.Contains(component, "provider"):
		atomic.AddInt64(&errorsProvider, 1)
	case strings.Contains(component, "collector"):
		atomic.AddInt64(&errorsCollector, 1)
	case strings.Contains(component, "writer"):
		atomic.AddInt64(&errorsWriter, 1)
	}
}

func IncrementSpotFetch() {
	atomic.AddInt64(&spotFetches, 1)
	recordChannel("provider_spot", 1)
}

func IncrementChainFetch(rows int) {
	atomic.AddInt64(&chainFetches, 1)
	recordChannel("provider_chain", rows)
}

func IncrementCacheHit() {
	atomic.AddInt64(&cacheHits, 1)
}

func IncrementCacheMiss() {
	atomic.AddInt64(&cacheMisses, 1)
}

func IncrementCycle() {
	atomic.AddInt64(&cyclesCompleted, 1)
}

func IncrementRowsWritten(n int) {
	atomic.AddInt64(&rowsWritten, int64(n))
}

func IncrementS3Write(size int64) {
	atomic.AddInt64(&s3Writes, 1)
	recordChannel("s3_write", int(size))
}

func RecordChannelMessage(name string, size int) {
	recordChannel(name, size)
}

func recordChannel(name string, size int) {
	v, _ := channels.LoadOrStore(name, &channelStat{})
	cs := v.(*channelStat)
	atomic.AddInt64(&cs.messages, 1)
	atomic.AddInt64(&cs.bytes, int64(size))
}

func startReport(ctx context.Context, log *Log, interval time.Duration) {
	ticker := time.NewTicker(interval)
	go func() {
		for {
			select {
			case <-ctx.Done():
				ticker.Stop()
				return
			case <-ticker.C:
				logReport(ctx, log)
			}
		}
	}()
}

// StartReport begins periodic logging of system and channel statistics.
// It exposes the internal startReport function for use by other packages.
func StartReport(ctx context.Context, log *Log, interval time.Duration) {
	startReport(ctx, log, interval)
}

func logReport(ctx context.Context, log *Log) {
	cpuPercent, _ := cpu.Percent(0, false)
	memStats, _ := mem.VirtualMemory()
	diskStats, _ := disk.Usage("/")
	netStats, _ := gnet.IOCounters(false)
	channelData := map[string]map[string]int64{}
	channels.Range(func(k, v any) bool {
		name := k.(string)
		cs := v.(*channelStat)
		channelData[name] = map[string]int64{
			"messages": atomic.LoadInt64(&cs.messages),
			"bytes":    atomic.LoadInt64(&cs.bytes),
		}
		return true
	})

	cpuPct := 0.0
	if len(cpuPercent) > 0 {
		cpuPct = cpuPercent[0]
	}

	bytesSent := uint64(0)
	bytesRecv := uint64(0)
	if len(netStats) > 0 {
		bytesSent = netStats[0].BytesSent
		bytesRecv = netStats[0].BytesRecv
	}

	fields := Fields{
		"errors_provider":  atomic.LoadInt64(&errorsProvider),
		"errors_collector": atomic.LoadInt64(&errorsCollector),
		"errors_writer":    atomic.LoadInt64(&errorsWriter),
		"warns_provider":   atomic.LoadInt64(&warnsProvider),
		"warns_collector":  atomic.LoadInt64(&warnsCollector),
		"warns_writer":     atomic.LoadInt64(&warnsWriter),
		"spot_fetches":     atomic.LoadInt64(&spotFetches),
		"chain_fetches":    atomic.LoadInt64(&chainFetches),
		"cache_hits":       atomic.LoadInt64(&cacheHits),
		"cache_misses":     atomic.LoadInt64(&cacheMisses),
		"cycles_completed": atomic.LoadInt64(&cyclesCompleted),
		"rows_written":     atomic.LoadInt64(&rowsWritten),
		"s3_writes":        atomic.LoadInt64(&s3Writes),
		"goroutines":       runtime.NumGoroutine(),
		"cpu_percent":      cpuPct,
		"memory_mb":        int64(memStats.Used) / 1024 / 1024,
		"disk_mb":          int64(diskStats.Used) / 1024 / 1024,
		"channels":         channelData,
		"net_bytes_sent":   int64(bytesSent),
		"net_bytes_recv":   int64(bytesRecv),
	}

	log.WithComponent("report").WithFields(fields).Info("runtime report")

	var data []cwtypes.MetricDatum
	data = append(data,
		cwtypes.MetricDatum{MetricName: aws.String("OF-CPUPercent"), Unit: cwtypes.StandardUnitPercent, Value: aws.Float64(cpuPct)},
		cwtypes.MetricDatum{MetricName: aws.String("OF-MemoryMB"), Unit: cwtypes.StandardUnitMegabytes, Value: aws.Float64(float64(memStats.Used) / 1024 / 1024)},
		cwtypes.MetricDatum{MetricName: aws.String("OF-DiskMB"), Unit: cwtypes.StandardUnitMegabytes, Value: aws.Float64(float64(diskStats.Used) / 1024 / 1024)},
		cwtypes.MetricDatum{MetricName: aws.String("OF-ErrorsProvider"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(fields["errors_provider"].(int64)))},
		cwtypes.MetricDatum{MetricName: aws.String("OF-ErrorsCollector"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(fields["errors_collector"].(int64)))},
		cwtypes.MetricDatum{MetricName: aws.String("OF-ErrorsWriter"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(fields["errors_writer"].(int64)))},
		cwtypes.MetricDatum{MetricName: aws.String("OF-SpotFetches"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(fields["spot_fetches"].(int64)))},
		cwtypes.MetricDatum{MetricName: aws.String("OF-ChainFetches"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(fields["chain_fetches"].(int64)))},
		cwtypes.MetricDatum{MetricName: aws.String("OF-CacheHits"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(fields["cache_hits"].(int64)))},
		cwtypes.MetricDatum{MetricName: aws.String("OF-CacheMisses"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(fields["cache_misses"].(int64)))},
		cwtypes.MetricDatum{MetricName: aws.String("OF-CyclesCompleted"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(fields["cycles_completed"].(int64)))},
		cwtypes.MetricDatum{MetricName: aws.String("OF-RowsWritten"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(fields["rows_written"].(int64)))},
		cwtypes.MetricDatum{MetricName: aws.String("OF-S3Writes"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(fields["s3_writes"].(int64)))},
		cwtypes.MetricDatum{MetricName: aws.String("OF-NetBytesSent"), Unit: cwtypes.StandardUnitBytes, Value: aws.Float64(float64(bytesSent))},
		cwtypes.MetricDatum{MetricName: aws.String("OF-NetBytesRecv"), Unit: cwtypes.StandardUnitBytes, Value: aws.Float64(float64(bytesRecv))},
	)

	for name, stats := range channelData {
		data = append(data,
			cwtypes.MetricDatum{
				MetricName: aws.String("OF-ChannelMessages"),
				Unit:       cwtypes.StandardUnitCount,
				Dimensions: []cwtypes.Dimension{{Name: aws.String("Channel"), Value: aws.String(name)}},
				Value:      aws.Float64(float64(stats["messages"])),
			},
			cwtypes.MetricDatum{
				MetricName: aws.String("OF-ChannelBytes"),
				Unit:       cwtypes.StandardUnitBytes,
				Dimensions: []cwtypes.Dimension{{Name: aws.String("Channel"), Value: aws.String(name)}},
				Value:      aws.Float64(float64(stats["bytes"])),
			},
		)
	}

	publishMetrics(ctx, data)
}
