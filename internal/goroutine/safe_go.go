package goroutine

import (
	"context"
	"runtime/debug"

	"github.com/sirupsen/logrus"
)

// RecoveryHandler запускает фоновые горутины с перехватом panic.
// Платёжные воркеры не должны ронять процесс: паника логируется
// со стектрейсом, а её повторный запуск берёт на себя планировщик.
type RecoveryHandler struct {
	log *logrus.Logger
}

// NewRecoveryHandler создает новый обработчик.
func NewRecoveryHandler(log *logrus.Logger) *RecoveryHandler {
	return &RecoveryHandler{log: log}
}

// SafeGo запускает горутину с обработкой panic.
func (rh *RecoveryHandler) SafeGo(fn func()) {
	go func() {
		defer rh.recoverPanic()
		fn()
	}()
}

// SafeGoWithContext запускает горутину с контекстом и обработкой panic.
func (rh *RecoveryHandler) SafeGoWithContext(ctx context.Context, fn func(context.Context)) {
	go func() {
		defer rh.recoverPanic()
		fn(ctx)
	}()
}

func (rh *RecoveryHandler) recoverPanic() {
	if r := recover(); r != nil {
		rh.log.WithFields(logrus.Fields{
			"panic": r,
			"stack": string(debug.Stack()),
		}).Error("Panic in goroutine")
	}
}
