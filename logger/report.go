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
	gnet "github.com/shirou/gopsutil/v3/net"

	"github.com/aws/aws-sdk-go-v2/aws"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"
)

type seriesStat struct {
	fetched  int64
	rejected int64
	upserted int64
}

var (
	errorsTotal  int64
	warnsTotal   int64
	fetchesTotal int64
	filesParsed  int64
	filesFailed  int64
	cyclesRun    int64
	series       sync.Map // map[string]*seriesStat
)

func recordWarn(component string) {
	_ = component
	atomic.AddInt64(&warnsTotal, 1)
}

func recordError(component string) {
	_ = component
	atomic.AddInt64(&errorsTotal, 1)
}

// IncrementFetch counts one completed source fetch.
func IncrementFetch() {
	atomic.AddInt64(&fetchesTotal, 1)
}

// IncrementCycle counts one finished ingestion cycle.
func IncrementCycle() {
	atomic.AddInt64(&cyclesRun, 1)
}

// IncrementFileParsed counts one successfully parsed report file.
func IncrementFileParsed() {
	atomic.AddInt64(&filesParsed, 1)
}

// IncrementFileFailed counts one report file skipped due to a
// fetch or parse failure.
func IncrementFileFailed() {
	atomic.AddInt64(&filesFailed, 1)
}

// RecordSeriesRows accumulates per-series row counters that feed the
// periodic runtime report.
func RecordSeriesRows(name string, fetched, rejected, upserted int) {
	v, _ := series.LoadOrStore(name, &seriesStat{})
	st := v.(*seriesStat)
	atomic.AddInt64(&st.fetched, int64(fetched))
	atomic.AddInt64(&st.rejected, int64(rejected))
	atomic.AddInt64(&st.upserted, int64(upserted))
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

// StartReport begins periodic logging of system and ingestion statistics.
// It exposes the internal startReport function for use by other packages.
func StartReport(ctx context.Context, log *Log, interval time.Duration) {
	startReport(ctx, log, interval)
}

func logReport(ctx context.Context, log *Log) {
	cpuPercent, _ := cpu.Percent(0, false)
	memStats, _ := mem.VirtualMemory()
	diskStats, _ := disk.Usage("/")
	netStats, _ := gnet.IOCounters(false)
	seriesData := map[string]map[string]int64{}
	series.Range(func(k, v any) bool {
		name := k.(string)
		st := v.(*seriesStat)
		seriesData[name] = map[string]int64{
			"rows_fetched":  atomic.LoadInt64(&st.fetched),
			"rows_rejected": atomic.LoadInt64(&st.rejected),
			"rows_upserted": atomic.LoadInt64(&st.upserted),
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
		"errors_total":   atomic.LoadInt64(&errorsTotal),
		"warns_total":    atomic.LoadInt64(&warnsTotal),
		"fetches_total":  atomic.LoadInt64(&fetchesTotal),
		"files_parsed":   atomic.LoadInt64(&filesParsed),
		"files_failed":   atomic.LoadInt64(&filesFailed),
		"cycles_run":     atomic.LoadInt64(&cyclesRun),
		"goroutines":     runtime.NumGoroutine(),
		"cpu_percent":    cpuPct,
		"memory_mb":      int64(memStats.Used) / 1024 / 1024,
		"disk_mb":        int64(diskStats.Used) / 1024 / 1024,
		"series":         seriesData,
		"net_bytes_sent": int64(bytesSent),
		"net_bytes_recv": int64(bytesRecv),
	}

	log.WithComponent("report").WithFields(fields).Info("runtime report")

	var data []cwtypes.MetricDatum
	data = append(data,
		cwtypes.MetricDatum{MetricName: aws.String("CPUPercent"), Unit: cwtypes.StandardUnitPercent, Value: aws.Float64(cpuPct)},
		cwtypes.MetricDatum{MetricName: aws.String("MemoryMB"), Unit: cwtypes.StandardUnitMegabytes, Value: aws.Float64(float64(memStats.Used) / 1024 / 1024)},
		cwtypes.MetricDatum{MetricName: aws.String("ErrorsTotal"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(fields["errors_total"].(int64)))},
		cwtypes.MetricDatum{MetricName: aws.String("WarnsTotal"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(fields["warns_total"].(int64)))},
		cwtypes.MetricDatum{MetricName: aws.String("FetchesTotal"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(fields["fetches_total"].(int64)))},
		cwtypes.MetricDatum{MetricName: aws.String("FilesParsed"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(fields["files_parsed"].(int64)))},
		cwtypes.MetricDatum{MetricName: aws.String("FilesFailed"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(fields["files_failed"].(int64)))},
		cwtypes.MetricDatum{MetricName: aws.String("CyclesRun"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(fields["cycles_run"].(int64)))},
		cwtypes.MetricDatum{MetricName: aws.String("NetBytesSent"), Unit: cwtypes.StandardUnitBytes, Value: aws.Float64(float64(bytesSent))},
		cwtypes.MetricDatum{MetricName: aws.String("NetBytesRecv"), Unit: cwtypes.StandardUnitBytes, Value: aws.Float64(float64(bytesRecv))},
	)

	for name, stats := range seriesData {
		dims := []cwtypes.Dimension{{Name: aws.String("Series"), Value: aws.String(strings.ToLower(name))}}
		data = append(data,
			cwtypes.MetricDatum{
				MetricName: aws.String("RowsFetched"),
				Unit:       cwtypes.StandardUnitCount,
				Dimensions: dims,
				Value:      aws.Float64(float64(stats["rows_fetched"])),
			},
			cwtypes.MetricDatum{
				MetricName: aws.String("RowsRejected"),
				Unit:       cwtypes.StandardUnitCount,
				Dimensions: dims,
				Value:      aws.Float64(float64(stats["rows_rejected"])),
			},
			cwtypes.MetricDatum{
				MetricName: aws.String("RowsUpserted"),
				Unit:       cwtypes.StandardUnitCount,
				Dimensions: dims,
				Value:      aws.Float64(float64(stats["rows_upserted"])),
			},
		)
	}

	publishMetrics(ctx, data)
}
