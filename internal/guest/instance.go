package guest

import (
	"context"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"github.com/tetratelabs/wazero/imports/wasi_snapshot_preview1"
	"go.uber.org/zap"

	"github.com/woxQAQ/jsbridge/api/wasm"
	"github.com/woxQAQ/jsbridge/internal/transport"
)

// MainExport is the guest function that runs its side of the bridge.
const MainExport = "ipc_main"

// BindingDir is where InstanceConfig.BindingDir appears inside the guest.
const BindingDir = wasm.BindingDir

// InstanceManager creates guest instances wired to native transports.
type InstanceManager struct {
	runtime   *Runtime
	hostFuncs *HostFunctions
	logger    *zap.Logger

	hostOnce sync.Once
	hostErr  error
}

// NewInstanceManager creates a new instance manager.
func NewInstanceManager(runtime *Runtime, hostFuncs *HostFunctions, logger *zap.Logger) *InstanceManager {
	return &InstanceManager{
		runtime:   runtime,
		hostFuncs: hostFuncs,
		logger:    logger.With(zap.String("component", "guest-instance")),
	}
}

// InstanceConfig holds configuration for creating instances.
type InstanceConfig struct {
	// Module name to instantiate.
	ModuleName string

	// Instance ID (if empty, generates UUID).
	InstanceID string

	// Buffered messages per direction. Defaults to 16.
	QueueSize int

	// Host directory mounted read-only at BindingDir. Optional.
	BindingDir string
}

// Instance is one running guest. Its native end speaks the bridge protocol
// like any other transport.
type Instance struct {
	module api.Module
	native transport.Transport
	guest  transport.Transport
	mgr    *InstanceManager

	ID        string
	Name      string
	CreatedAt int64

	closeOnce sync.Once
}

// Instantiate creates a guest instance from a loaded module.
func (m *InstanceManager) Instantiate(ctx context.Context, config *InstanceConfig) (*Instance, error) {
	if m.runtime.IsClosed() {
		return nil, ErrRuntimeClosed
	}
	compiled, ok := m.runtime.GetCompiledModule(config.ModuleName)
	if !ok {
		return nil, &ModuleNotFoundError{ModuleName: config.ModuleName}
	}

	// Host modules are shared by every instance of the runtime.
	m.hostOnce.Do(func() {
		if _, err := wasi_snapshot_preview1.Instantiate(ctx, m.runtime.runtime); err != nil {
			m.hostErr = err
			return
		}
		m.hostErr = m.hostFuncs.instantiate(ctx, m.runtime.runtime)
	})
	if m.hostErr != nil {
		return nil, &InstantiationError{ModuleName: HostModuleName, Err: m.hostErr}
	}

	instanceID := config.InstanceID
	if instanceID == "" {
		instanceID = uuid.NewString()
	}
	queue := config.QueueSize
	if queue <= 0 {
		queue = 16
	}

	m.logger.Info("Instantiating guest",
		zap.String("module", config.ModuleName),
		zap.String("instance_id", instanceID),
	)

	native, guestEnd := transport.NewPipe(queue)
	m.hostFuncs.attach(instanceID, guestEnd)

	// Guests are driven through ipc_main, not _start. Reactors built by Go
	// export _initialize, which must run first.
	moduleConfig := wazero.NewModuleConfig().
		WithName(instanceID).
		WithStartFunctions("_initialize").
		WithStderr(os.Stderr).
		WithSysWalltime().
		WithSysNanotime()
	if config.BindingDir != "" {
		moduleConfig = moduleConfig.WithFSConfig(wazero.NewFSConfig().WithReadOnlyDirMount(config.BindingDir, BindingDir))
	}

	module, err := m.runtime.runtime.InstantiateModule(ctx, compiled.Module, moduleConfig)
	if err != nil {
		m.hostFuncs.detach(instanceID)
		return nil, &InstantiationError{
			ModuleName: config.ModuleName,
			InstanceID: instanceID,
			Err:        err,
		}
	}

	inst := &Instance{
		module:    module,
		native:    native,
		guest:     guestEnd,
		mgr:       m,
		ID:        instanceID,
		Name:      config.ModuleName,
		CreatedAt: time.Now().Unix(),
	}
	m.runtime.storeInstance(inst)

	m.logger.Info("Guest instantiated",
		zap.String("instance_id", instanceID),
		zap.Bool("has_main", module.ExportedFunction(MainExport) != nil),
	)

	return inst, nil
}

// Transport returns the native end of the guest's connection.
func (i *Instance) Transport() transport.Transport {
	return i.native
}

// Run calls the guest's ipc_main and returns when it does. The native end
// observes transport.ErrClosed afterwards. Cancelling ctx stops the guest
// without error.
func (i *Instance) Run(ctx context.Context) error {
	defer i.guest.Close()

	fn := i.module.ExportedFunction(MainExport)
	if fn == nil {
		return &FunctionNotFoundError{ModuleName: i.Name, FunctionName: MainExport}
	}

	i.mgr.logger.Debug("Guest running", zap.String("instance_id", i.ID))
	if _, err := fn.Call(ctx); err != nil && ctx.Err() == nil {
		return err
	}
	return nil
}

// Close closes the instance and releases resources.
func (i *Instance) Close(ctx context.Context) error {
	var err error
	i.closeOnce.Do(func() {
		i.mgr.hostFuncs.detach(i.ID)
		i.mgr.runtime.deleteInstance(i.ID)
		_ = i.guest.Close()
		_ = i.native.Close()
		err = i.module.Close(ctx)
	})
	return err
}
