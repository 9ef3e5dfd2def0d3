//go:build wasip1

// Command jsbridge-guest is the goja script side compiled to WebAssembly.
// The native side runs it through the guest transport:
//
//	GOOS=wasip1 GOARCH=wasm go build -buildmode=c-shared -o jsbridge-guest.wasm ./cmd/jsbridge-guest
//	jsbridge -transport guest -guest jsbridge-guest.wasm -bindings ./bindings/demo
package main

import (
	"context"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/woxQAQ/jsbridge/api/wasm"
	"github.com/woxQAQ/jsbridge/internal/binding"
	"github.com/woxQAQ/jsbridge/internal/scriptside"
)

func main() {}

//go:wasmexport ipc_main
func ipcMain() {
	logger := wasm.NewLogger(zapcore.InfoLevel)
	if err := serve(logger); err != nil {
		logger.Error("Guest stopped", zap.Error(err))
	}
}

func serve(logger *zap.Logger) error {
	table, err := binding.NewLoader(logger).LoadAll(binding.NewRegistry(logger), []string{wasm.BindingDir})
	if err != nil {
		return err
	}

	t := wasm.NewTransport()
	defer t.Close()

	peer, err := scriptside.NewPeer(t, table, logger)
	if err != nil {
		return err
	}
	return peer.Serve(context.Background())
}
