// Package sensor читает показания датчиков из текстового файла с разделителем ';'.
//
// Первая строка файла — заголовок, она отбрасывается всегда. Строки, в которых не ровно
// пять полей, молча пропускаются (учитываются только в Result.Skipped). Ошибка разбора
// числа в принятой строке прерывает чтение целиком.
package sensor

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/AnatoliyZakhryapin/DeviceService/internal/faults"
)

const (
	// Separator разделяет поля строки.
	Separator = ";"
	// FieldCount задаёт число полей в принимаемой строке.
	FieldCount = 5

	maxLineSize = 1 << 20
)

// Result содержит итог чтения источника.
type Result struct {
	Readings []Reading
	Skipped  int // строки с числом полей != FieldCount
}

// Read открывает файл и разбирает его.
func Read(path string) (Result, error) {
	f, err := os.Open(path)
	if err != nil {
		return Result{}, faults.Ingestion("open", err)
	}
	defer f.Close()
	return Parse(f)
}

// Parse разбирает поток. Пустой источник и источник из одного заголовка дают пустой результат.
func Parse(r io.Reader) (Result, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)

	var res Result
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		if lineNo == 1 {
			continue
		}
		line := strings.TrimSuffix(scanner.Text(), "\r")
		if line == "" {
			continue
		}
		fields := strings.Split(line, Separator)
		if len(fields) != FieldCount {
			res.Skipped++
			continue
		}
		reading, err := parseFields(fields)
		if err != nil {
			return Result{}, faults.Ingestion(fmt.Sprintf("line %d", lineNo), err)
		}
		res.Readings = append(res.Readings, reading)
	}
	if err := scanner.Err(); err != nil {
		return Result{}, faults.Ingestion("read", err)
	}
	return res, nil
}

func parseFields(fields []string) (Reading, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(fields[0]), 10, 32)
	if err != nil {
		return Reading{}, fmt.Errorf("sensor id: %w", err)
	}
	ms, err := strconv.ParseInt(strings.TrimSpace(fields[1]), 10, 64)
	if err != nil {
		return Reading{}, fmt.Errorf("timestamp: %w", err)
	}
	value, err := strconv.ParseFloat(strings.TrimSpace(fields[4]), 64)
	if err != nil {
		return Reading{}, fmt.Errorf("value: %w", err)
	}
	return Reading{
		SensorID:  int(id),
		Timestamp: time.UnixMilli(ms).UTC(),
		Date:      fields[2],
		Time:      fields[3],
		Value:     value,
	}, nil
}
