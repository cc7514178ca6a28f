package main

import (
	"bufio"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/spf13/pflag"

	"github.com/AnatoliyZakhryapin/DeviceService/internal/sensor"
)

type options struct {
	out         string
	startID     int
	sensors     int
	points      int
	step        time.Duration
	startTS     string
	randomRange float64
	malformed   int
	seed        int64
}

// Заголовок файла источника; первая строка читателем всегда отбрасывается.
const header = "SensorId;Timestamp;Date;Time;Value"

func main() {
	opts := parseFlags()
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	start, err := time.Parse(time.RFC3339, opts.startTS)
	if err != nil {
		logger.Error("invalid --start", "err", err)
		os.Exit(1)
	}
	if opts.sensors <= 0 || opts.points <= 0 {
		logger.Error("--sensors and --points must be > 0")
		os.Exit(1)
	}

	if dir := filepath.Dir(opts.out); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			logger.Error("mkdir", "dir", dir, "err", err)
			os.Exit(1)
		}
	}
	f, err := os.Create(opts.out)
	if err != nil {
		logger.Error("create output", "err", err)
		os.Exit(1)
	}
	defer f.Close()

	rnd := rand.New(rand.NewSource(opts.seed))
	rows, err := generate(f, opts, start, rnd)
	if err != nil {
		logger.Error("write csv", "err", err)
		os.Exit(1)
	}
	logger.Info("done", "rows", rows, "sensors", opts.sensors, "malformed", opts.malformed, "file", opts.out)
}

func parseFlags() options {
	var opt options
	pflag.StringVarP(&opt.out, "out", "o", "Data/SensorData.csv", "output CSV file")
	pflag.IntVar(&opt.startID, "start-id", 1, "first sensor ID")
	pflag.IntVar(&opt.sensors, "sensors", 10, "number of sensors")
	pflag.IntVar(&opt.points, "points", 10, "rows per sensor")
	pflag.DurationVar(&opt.step, "step", time.Second, "time delta between rows of one sensor")
	pflag.StringVar(&opt.startTS, "start", "2024-06-01T00:00:00Z", "start timestamp (RFC3339)")
	pflag.Float64Var(&opt.randomRange, "random", 0, "if >0, add random variation (-range..+range) to raw values")
	pflag.IntVar(&opt.malformed, "malformed", 0, "number of rows with a wrong field count to append (skipped by the reader)")
	pflag.Int64Var(&opt.seed, "seed", time.Now().UnixNano(), "random seed")
	pflag.Parse()
	return opt
}

// generate пишет заголовок и строки, возвращает число строк данных (без заголовка).
func generate(w io.Writer, opt options, start time.Time, rnd *rand.Rand) (int, error) {
	bw := bufio.NewWriter(w)
	if _, err := bw.WriteString(header + "\n"); err != nil {
		return 0, err
	}
	rows := 0
	for s := 0; s < opt.sensors; s++ {
		id := opt.startID + s
		ts := start.UTC()
		for i := 0; i < opt.points; i++ {
			r := sensor.Reading{
				SensorID:  id,
				Timestamp: ts,
				Date:      ts.Format("2006-01-02"),
				Time:      ts.Format("15:04:05"),
				Value:     valueFor(id, i, opt.randomRange, rnd),
			}
			if _, err := bw.WriteString(sensor.Format(r) + "\n"); err != nil {
				return rows, err
			}
			rows++
			ts = ts.Add(opt.step)
		}
	}
	for i := 0; i < opt.malformed; i++ {
		if _, err := fmt.Fprintf(bw, "%d;%s;broken\n", opt.startID+i, strconv.FormatInt(start.UnixMilli(), 10)); err != nil {
			return rows, err
		}
		rows++
	}
	return rows, bw.Flush()
}

func valueFor(sensorID, idx int, randomRange float64, rnd *rand.Rand) float64 {
	base := float64(sensorID%1000) + float64(idx%100)/100
	if randomRange <= 0 {
		return base
	}
	return base + rnd.Float64()*2*randomRange - randomRange
}
