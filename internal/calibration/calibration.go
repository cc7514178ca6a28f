// Package calibration задаёт поправку, применяемую к каждому значению датчика перед отправкой.
package calibration

import (
	"fmt"
	"math"
)

// Func преобразует сырое значение. Ошибка прерывает обработку всей пачки в текущем тике.
type Func func(raw float64) (float64, error)

// Linear — поправка вида (raw - Offset) * Scale.
type Linear struct {
	Offset float64
	Scale  float64
}

// Default — коэффициенты, с которыми поставляется устройство.
var Default = Linear{Offset: 10.0, Scale: 0.1}

// Apply вычисляет откалиброванное значение.
func (l Linear) Apply(raw float64) float64 {
	return (raw - l.Offset) * l.Scale
}

// Func возвращает поправку в виде Func. Линейная поправка не падает,
// но нечисловой результат (NaN/Inf на входе) считается ошибкой.
func (l Linear) Func() Func {
	return func(raw float64) (float64, error) {
		v := l.Apply(raw)
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return 0, fmt.Errorf("calibration: non-finite result for raw value %v", raw)
		}
		return v, nil
	}
}
