// Package faults описывает классы ошибок конвейера телеметрии.
// Любая ошибка шага (чтение, калибровка, авторизация, отправка) приводится к *Error
// с заданным Kind, чтобы граница тика могла залогировать её и пропустить тик.
package faults

import (
	"errors"
	"fmt"
)

// Kind задаёт класс ошибки.
type Kind int

const (
	KindUnknown Kind = iota
	// KindIngestion: источник не открылся или принятая строка не разобралась.
	KindIngestion
	// KindTransformation: сбой калибровки.
	KindTransformation
	// KindAuth: логин не удался или не вернул пригодный токен.
	KindAuth
	// KindUpload: исчерпаны попытки отправки.
	KindUpload
)

func (k Kind) String() string {
	switch k {
	case KindIngestion:
		return "ingestion"
	case KindTransformation:
		return "transformation"
	case KindAuth:
		return "auth"
	case KindUpload:
		return "upload"
	default:
		return "unknown"
	}
}

var (
	// ErrNoToken возвращается, когда ответ логина не содержит токена.
	ErrNoToken = errors.New("no token in login response")
	// ErrAttemptsExhausted: все попытки отправки завершились неудачей.
	ErrAttemptsExhausted = errors.New("upload attempts exhausted")
)

// Error описывает классифицированную ошибку конвейера.
type Error struct {
	Kind     Kind
	Op       string
	Attempts int // только для KindUpload
	Err      error
}

func (e *Error) Error() string {
	msg := e.Kind.String()
	if e.Op != "" {
		msg += " " + e.Op
	}
	if e.Kind == KindUpload && e.Attempts > 0 {
		msg += fmt.Sprintf(" after %d attempts", e.Attempts)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Ingestion оборачивает ошибку чтения источника.
func Ingestion(op string, err error) error {
	return &Error{Kind: KindIngestion, Op: op, Err: err}
}

// Transformation оборачивает ошибку калибровки.
func Transformation(op string, err error) error {
	return &Error{Kind: KindTransformation, Op: op, Err: err}
}

// Auth оборачивает ошибку авторизации.
func Auth(op string, err error) error {
	return &Error{Kind: KindAuth, Op: op, Err: err}
}

// Upload оборачивает последнюю ошибку отправки вместе с числом попыток.
func Upload(attempts int, err error) error {
	if err == nil {
		err = ErrAttemptsExhausted
	} else {
		err = fmt.Errorf("%w: %w", ErrAttemptsExhausted, err)
	}
	return &Error{Kind: KindUpload, Op: "send", Attempts: attempts, Err: err}
}

// KindOf возвращает класс ошибки или KindUnknown.
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return KindUnknown
}

// Is сообщает, относится ли err к классу kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// AttemptsOf возвращает число попыток из ошибки отправки.
func AttemptsOf(err error) int {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Attempts
	}
	return 0
}
