package sensor

import (
	"strconv"
	"strings"
	"time"

	"github.com/go-faster/city"
)

// Reading описывает одно показание датчика из файла источника.
// Value заменяется откалиброванным значением перед отправкой.
type Reading struct {
	SensorID  int       `json:"SensorId"`
	Timestamp time.Time `json:"Timestamp"`
	Date      string    `json:"Date"`
	Time      string    `json:"Time"`
	Value     float64   `json:"Value"`
}

// Format возвращает строку в формате источника: sensorId;epochMillis;date;time;value.
func Format(r Reading) string {
	var b strings.Builder
	b.WriteString(strconv.Itoa(r.SensorID))
	b.WriteString(Separator)
	b.WriteString(strconv.FormatInt(r.Timestamp.UnixMilli(), 10))
	b.WriteString(Separator)
	b.WriteString(r.Date)
	b.WriteString(Separator)
	b.WriteString(r.Time)
	b.WriteString(Separator)
	b.WriteString(strconv.FormatFloat(r.Value, 'f', -1, 64))
	return b.String()
}

// Fingerprint вычисляет cityhash64 пачки в текстовом представлении.
// Одинаковые пачки дают одинаковый отпечаток, что удобно при сверке журнала.
func Fingerprint(readings []Reading) uint64 {
	var b strings.Builder
	for _, r := range readings {
		b.WriteString(Format(r))
		b.WriteByte('\n')
	}
	return city.Hash64([]byte(b.String()))
}
