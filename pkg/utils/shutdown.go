// Graceful shutdown по SIGINT/SIGTERM.
//
// Использование в main():
//
//	ctx, shutdown := utils.SetupGracefulShutdownWithContext()
//	defer shutdown()

package utils

import (
	"context"
	"os"
	"os/signal"
	"syscall"
)

// SetupGracefulShutdown отменяет контекст при получении SIGINT или SIGTERM.
//
// Возвращает функцию очистки для defer: она снимает обработчик сигналов
// и закрывает лог. Активные run-ы видят отмену через ctx.
func SetupGracefulShutdown(cancel context.CancelFunc) func() {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	stop := make(chan struct{})
	go func() {
		select {
		case sig := <-sigChan:
			Info("Received signal, shutting down gracefully", "signal", sig.String())
			cancel()
		case <-stop:
		}
	}()

	return func() {
		signal.Stop(sigChan)
		close(stop)
		Close()
	}
}

// SetupGracefulShutdownWithContext создаёт контекст и настраивает graceful shutdown.
func SetupGracefulShutdownWithContext() (context.Context, func()) {
	ctx, cancel := context.WithCancel(context.Background())
	shutdown := SetupGracefulShutdown(cancel)
	return ctx, func() {
		shutdown()
		cancel()
	}
}
