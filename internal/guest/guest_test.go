package guest

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"github.com/woxQAQ/jsbridge/internal/codec"
	"github.com/woxQAQ/jsbridge/internal/transport"
	"github.com/woxQAQ/jsbridge/pkg/protocol"
)

// emptyModule is a valid Wasm 1.0 module with no imports or exports.
var emptyModule = []byte{
	0x00, 0x61, 0x73, 0x6d, // Magic number: \0asm
	0x01, 0x00, 0x00, 0x00, // Version: 1
}

// echoModule sends every message it receives straight back:
//
//	(module
//	  (import "jsbridge" "ipc_wait" (func $wait (result i32)))
//	  (import "jsbridge" "ipc_read" (func $read (param i32) (result i32)))
//	  (import "jsbridge" "ipc_send" (func $send (param i32 i32) (result i32)))
//	  (memory (export "memory") 1)
//	  (func (export "ipc_main") (local $n i32)
//	    (block $done
//	      (loop $next
//	        (local.set $n (call $wait))
//	        (br_if $done (i32.lt_s (local.get $n) (i32.const 0)))
//	        (drop (call $read (i32.const 0)))
//	        (drop (call $send (i32.const 0) (local.get $n)))
//	        (br $next)))))
var echoModule = []byte{
	0x00, 0x61, 0x73, 0x6d, 0x01, 0x00, 0x00, 0x00,

	// type section: () -> i32, (i32) -> i32, (i32, i32) -> i32, () -> ()
	0x01, 0x13, 0x04,
	0x60, 0x00, 0x01, 0x7f,
	0x60, 0x01, 0x7f, 0x01, 0x7f,
	0x60, 0x02, 0x7f, 0x7f, 0x01, 0x7f,
	0x60, 0x00, 0x00,

	// import section
	0x02, 0x3d, 0x03,
	0x08, 'j', 's', 'b', 'r', 'i', 'd', 'g', 'e', 0x08, 'i', 'p', 'c', '_', 'w', 'a', 'i', 't', 0x00, 0x00,
	0x08, 'j', 's', 'b', 'r', 'i', 'd', 'g', 'e', 0x08, 'i', 'p', 'c', '_', 'r', 'e', 'a', 'd', 0x00, 0x01,
	0x08, 'j', 's', 'b', 'r', 'i', 'd', 'g', 'e', 0x08, 'i', 'p', 'c', '_', 's', 'e', 'n', 'd', 0x00, 0x02,

	// function section
	0x03, 0x02, 0x01, 0x03,

	// memory section: one page
	0x05, 0x03, 0x01, 0x00, 0x01,

	// export section
	0x07, 0x15, 0x02,
	0x06, 'm', 'e', 'm', 'o', 'r', 'y', 0x02, 0x00,
	0x08, 'i', 'p', 'c', '_', 'm', 'a', 'i', 'n', 0x00, 0x03,

	// code section
	0x0a, 0x25, 0x01, 0x23,
	0x01, 0x01, 0x7f, // one i32 local
	0x02, 0x40, // block
	0x03, 0x40, // loop
	0x10, 0x00, // call ipc_wait
	0x21, 0x00, // local.set 0
	0x20, 0x00, // local.get 0
	0x41, 0x00, // i32.const 0
	0x48,       // i32.lt_s
	0x0d, 0x01, // br_if 1
	0x41, 0x00, // i32.const 0
	0x10, 0x01, // call ipc_read
	0x1a,       // drop
	0x41, 0x00, // i32.const 0
	0x20, 0x00, // local.get 0
	0x10, 0x02, // call ipc_send
	0x1a,       // drop
	0x0c, 0x00, // br 0
	0x0b, 0x0b, 0x0b,
}

type fixture struct {
	runtime *Runtime
	loader  *ModuleLoader
	manager *InstanceManager
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	logger := zaptest.NewLogger(t)
	ctx := context.Background()

	runtime, err := NewRuntime(ctx, logger, &RuntimeConfig{MemoryPages: 16, DebugEnabled: true})
	if err != nil {
		t.Fatalf("Failed to create runtime: %v", err)
	}
	t.Cleanup(func() { runtime.Close(context.Background()) })

	return &fixture{
		runtime: runtime,
		loader:  NewModuleLoader(runtime, logger),
		manager: NewInstanceManager(runtime, NewHostFunctions(logger, true), logger),
	}
}

func TestDefaultRuntimeConfig(t *testing.T) {
	config := DefaultRuntimeConfig()

	if config.MemoryPages != 256 {
		t.Errorf("Default memory pages = %d, want 256", config.MemoryPages)
	}
	if config.DebugEnabled {
		t.Error("Debug should be disabled by default")
	}
	if config.CacheDir != "" {
		t.Errorf("Default cache dir = %q, want in-memory", config.CacheDir)
	}
}

func TestRuntimeCloseIdempotent(t *testing.T) {
	ctx := context.Background()
	runtime, err := NewRuntime(ctx, zaptest.NewLogger(t), &RuntimeConfig{MemoryPages: 16, CacheDir: t.TempDir()})
	if err != nil {
		t.Fatal(err)
	}

	if runtime.IsClosed() {
		t.Error("Runtime should not be closed yet")
	}
	if err := runtime.Close(ctx); err != nil {
		t.Errorf("First close failed: %v", err)
	}
	if err := runtime.Close(ctx); err != nil {
		t.Errorf("Second close failed: %v", err)
	}
	if !runtime.IsClosed() {
		t.Error("Runtime should be closed")
	}
}

func TestInstantiateAfterClose(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if _, err := f.loader.LoadModuleFromMemory(ctx, "echo", echoModule); err != nil {
		t.Fatal(err)
	}
	if err := f.runtime.Close(ctx); err != nil {
		t.Fatal(err)
	}

	_, err := f.manager.Instantiate(ctx, &InstanceConfig{ModuleName: "echo"})
	if !errors.Is(err, ErrRuntimeClosed) {
		t.Errorf("Instantiate after close = %v, want ErrRuntimeClosed", err)
	}
}

func TestLoadModuleCaches(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	module, err := f.loader.LoadModuleFromMemory(ctx, "empty", emptyModule)
	if err != nil {
		t.Fatalf("Failed to load module: %v", err)
	}
	if module.Name != "empty" || module.SizeBytes != int64(len(emptyModule)) {
		t.Errorf("Module metadata = %+v", module)
	}

	again, err := f.loader.LoadModuleFromMemory(ctx, "empty", nil)
	if err != nil {
		t.Fatalf("Failed to load module from cache: %v", err)
	}
	if again != module {
		t.Error("Cache should return the same module")
	}
}

func TestLoadModuleFromFile(t *testing.T) {
	f := newFixture(t)
	path := filepath.Join(t.TempDir(), "echo.wasm")
	if err := os.WriteFile(path, echoModule, 0o644); err != nil {
		t.Fatal(err)
	}

	module, err := f.loader.LoadModuleFromFile(context.Background(), path)
	if err != nil {
		t.Fatalf("Failed to load module: %v", err)
	}
	if module.Name != "echo" {
		t.Errorf("Module name = %s, want echo", module.Name)
	}
	if module.Source != path {
		t.Errorf("Module source = %s, want %s", module.Source, path)
	}
}

func TestLoadModuleCompilationError(t *testing.T) {
	f := newFixture(t)

	_, err := f.loader.LoadModuleFromMemory(context.Background(), "garbage", []byte("not wasm"))
	var cerr *CompilationError
	if !errors.As(err, &cerr) {
		t.Fatalf("Expected CompilationError, got %v", err)
	}
	if cerr.ModuleName != "garbage" {
		t.Errorf("ModuleName = %s, want garbage", cerr.ModuleName)
	}
}

func TestInstantiateUnknownModule(t *testing.T) {
	f := newFixture(t)

	_, err := f.manager.Instantiate(context.Background(), &InstanceConfig{ModuleName: "missing"})
	var nerr *ModuleNotFoundError
	if !errors.As(err, &nerr) {
		t.Fatalf("Expected ModuleNotFoundError, got %v", err)
	}
}

func TestRunWithoutMain(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if _, err := f.loader.LoadModuleFromMemory(ctx, "empty", emptyModule); err != nil {
		t.Fatal(err)
	}
	inst, err := f.manager.Instantiate(ctx, &InstanceConfig{ModuleName: "empty"})
	if err != nil {
		t.Fatalf("Failed to instantiate: %v", err)
	}
	if inst.ID == "" {
		t.Error("Instance ID should be generated")
	}

	var ferr *FunctionNotFoundError
	if err := inst.Run(ctx); !errors.As(err, &ferr) {
		t.Fatalf("Expected FunctionNotFoundError, got %v", err)
	}
	if ferr.FunctionName != MainExport {
		t.Errorf("FunctionName = %s, want %s", ferr.FunctionName, MainExport)
	}
}

func TestEchoGuest(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if _, err := f.loader.LoadModuleFromMemory(ctx, "echo", echoModule); err != nil {
		t.Fatal(err)
	}
	inst, err := f.manager.Instantiate(ctx, &InstanceConfig{ModuleName: "echo", InstanceID: "echo-1"})
	if err != nil {
		t.Fatalf("Failed to instantiate: %v", err)
	}
	if got, ok := f.runtime.instance("echo-1"); !ok || got != inst {
		t.Error("Instance should be tracked by the runtime")
	}

	done := make(chan error, 1)
	go func() { done <- inst.Run(ctx) }()

	native := inst.Transport()
	for i := uint32(0); i < 3; i++ {
		enc := codec.NewEncoder()
		enc.PushU32(i)
		enc.PushStr("ping")
		enc.MarkOp()
		if err := native.Send(ctx, codec.NewMessage(protocol.Evaluate, enc)); err != nil {
			t.Fatalf("Send failed: %v", err)
		}

		msg, err := native.Recv(ctx)
		if err != nil {
			t.Fatalf("Recv failed: %v", err)
		}
		if msg.Type != protocol.Evaluate {
			t.Errorf("Type = %s, want evaluate", msg.Type)
		}
		dec, err := codec.NewDecodedData(msg.Payload)
		if err != nil {
			t.Fatalf("Bad echo: %v", err)
		}
		n, _ := dec.TakeU32()
		s, _ := dec.TakeStr()
		if n != i || s != "ping" {
			t.Errorf("Echo = (%d, %q), want (%d, ping)", n, s, i)
		}
	}

	if err := native.Close(); err != nil {
		t.Fatal(err)
	}
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run returned %v", err)
		}
	case <-ctx.Done():
		t.Fatal("Guest did not stop after the native end closed")
	}

	if _, err := native.Recv(ctx); !errors.Is(err, transport.ErrClosed) {
		t.Errorf("Recv after guest exit = %v, want ErrClosed", err)
	}

	if err := inst.Close(ctx); err != nil {
		t.Errorf("Close failed: %v", err)
	}
	if _, ok := f.runtime.instance("echo-1"); ok {
		t.Error("Closed instance should no longer be tracked")
	}
}

func TestErrorMessages(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{&CompilationError{ModuleName: "m", Err: errors.New("bad")}, "failed to compile guest module 'm': bad"},
		{&ModuleNotFoundError{ModuleName: "m"}, "guest module 'm' not loaded"},
		{&FunctionNotFoundError{ModuleName: "m", FunctionName: "ipc_main"}, "function 'ipc_main' not exported by guest 'm'"},
		{&MemoryAccessError{Operation: "write", Address: 8, Length: 4}, "guest memory access out of range (op=write, addr=8, len=4)"},
	}
	for _, tt := range tests {
		if got := tt.err.Error(); got != tt.want {
			t.Errorf("Error() = %q, want %q", got, tt.want)
		}
	}

	inner := errors.New("boom")
	if !errors.Is(&InstantiationError{Err: inner}, inner) {
		t.Error("InstantiationError should unwrap")
	}
	if !errors.Is(&HostFunctionError{Err: inner}, inner) {
		t.Error("HostFunctionError should unwrap")
	}
}
