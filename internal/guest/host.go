package guest

import (
	"context"
	"errors"
	"sync"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"go.uber.org/zap"

	"github.com/woxQAQ/jsbridge/internal/codec"
	"github.com/woxQAQ/jsbridge/internal/transport"
)

// HostModuleName is the import module guests link against.
const HostModuleName = "jsbridge"

// Results of the ipc_* imports.
const (
	ipcOK     int32 = 0
	ipcClosed int32 = -1
	ipcFailed int32 = -2
)

// endpoint is the guest's end of the pipe to its native runtime.
type endpoint struct {
	t       transport.Transport
	pending []byte // frame returned by the last ipc_wait, not yet read
}

// HostFunctions implements the jsbridge imports. Calls are routed to the
// calling instance's endpoint by module name.
type HostFunctions struct {
	endpoints sync.Map // map[string]*endpoint
	debug     bool
	logger    *zap.Logger
}

// NewHostFunctions creates the import implementation.
func NewHostFunctions(logger *zap.Logger, debug bool) *HostFunctions {
	return &HostFunctions{
		debug:  debug,
		logger: logger.With(zap.String("component", "guest-host")),
	}
}

func (h *HostFunctions) attach(instanceID string, t transport.Transport) {
	h.endpoints.Store(instanceID, &endpoint{t: t})
}

func (h *HostFunctions) detach(instanceID string) {
	h.endpoints.Delete(instanceID)
}

func (h *HostFunctions) endpoint(mod api.Module) (*endpoint, bool) {
	v, ok := h.endpoints.Load(mod.Name())
	if !ok {
		h.logger.Error("IPC import called by unattached module", zap.String("module", mod.Name()))
		return nil, false
	}
	return v.(*endpoint), true
}

func (h *HostFunctions) fail(name string, mod api.Module, err error) int32 {
	h.logger.Warn("IPC import failed", zap.Error(&HostFunctionError{FunctionName: name, InstanceID: mod.Name(), Err: err}))
	return ipcFailed
}

// ipcWait blocks until native code sends the guest a message and returns the
// frame length, or -1 once the native side has closed.
// Signature: ipc_wait() -> i32
func (h *HostFunctions) ipcWait(ctx context.Context, mod api.Module) int32 {
	ep, ok := h.endpoint(mod)
	if !ok {
		return ipcClosed
	}

	msg, err := ep.t.Recv(ctx)
	if err != nil {
		if errors.Is(err, transport.ErrClosed) {
			return ipcClosed
		}
		return h.fail("ipc_wait", mod, err)
	}

	ep.pending = msg.Marshal()
	if h.debug {
		h.logger.Debug("Guest received message",
			zap.String("instance_id", mod.Name()),
			zap.Stringer("type", msg.Type),
			zap.Int("bytes", len(ep.pending)),
		)
	}
	return int32(len(ep.pending))
}

// ipcRead copies the frame announced by ipc_wait to ptr.
// Signature: ipc_read(ptr) -> i32
func (h *HostFunctions) ipcRead(_ context.Context, mod api.Module, ptr uint32) int32 {
	ep, ok := h.endpoint(mod)
	if !ok {
		return ipcClosed
	}
	if ep.pending == nil {
		return h.fail("ipc_read", mod, errors.New("no message pending"))
	}
	if err := NewMemory(mod).WriteFrame(ptr, ep.pending); err != nil {
		return h.fail("ipc_read", mod, err)
	}
	ep.pending = nil
	return ipcOK
}

// ipcSend sends the frame at ptr to native code.
// Signature: ipc_send(ptr, len) -> i32
func (h *HostFunctions) ipcSend(ctx context.Context, mod api.Module, ptr, length uint32) int32 {
	ep, ok := h.endpoint(mod)
	if !ok {
		return ipcClosed
	}

	frame, err := NewMemory(mod).ReadFrame(ptr, length)
	if err != nil {
		return h.fail("ipc_send", mod, err)
	}
	msg, err := codec.ParseMessage(frame)
	if err != nil {
		return h.fail("ipc_send", mod, err)
	}
	if err := ep.t.Send(ctx, msg); err != nil {
		if errors.Is(err, transport.ErrClosed) {
			return ipcClosed
		}
		return h.fail("ipc_send", mod, err)
	}

	if h.debug {
		h.logger.Debug("Guest sent message",
			zap.String("instance_id", mod.Name()),
			zap.Stringer("type", msg.Type),
			zap.Uint32("bytes", length),
		)
	}
	return ipcOK
}

// logMessage is called by guests to log messages.
// Signature: log_message(level, ptr, length)
// level: 0 = debug, 1 = info, 2 = warn, 3 = error
func (h *HostFunctions) logMessage(_ context.Context, mod api.Module, level, ptr, length uint32) {
	msg, err := NewMemory(mod).ReadFrame(ptr, length)
	if err != nil {
		h.logger.Error("Failed to read log message from guest memory", zap.Error(err))
		return
	}

	logger := h.logger.With(zap.String("instance_id", mod.Name()))
	switch level {
	case 0:
		logger.Debug(string(msg))
	case 1:
		logger.Info(string(msg))
	case 2:
		logger.Warn(string(msg))
	case 3:
		logger.Error(string(msg))
	default:
		logger.Info(string(msg))
	}
}

// instantiate registers the jsbridge imports with r.
func (h *HostFunctions) instantiate(ctx context.Context, r wazero.Runtime) error {
	_, err := r.NewHostModuleBuilder(HostModuleName).
		NewFunctionBuilder().
		WithFunc(h.ipcWait).
		Export("ipc_wait").
		NewFunctionBuilder().
		WithFunc(h.ipcRead).
		WithParameterNames("ptr").
		Export("ipc_read").
		NewFunctionBuilder().
		WithFunc(h.ipcSend).
		WithParameterNames("ptr", "len").
		Export("ipc_send").
		NewFunctionBuilder().
		WithFunc(h.logMessage).
		WithParameterNames("level", "ptr", "length").
		Export("log_message").
		Instantiate(ctx)
	return err
}
