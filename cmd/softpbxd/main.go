// Command softpbxd wires together the cooperative thread runtime and
// the embedded scripting runtime into a running soft-PBX process: it
// loads the config store, starts the thread registry, installs the
// Engine/Message/Channel bindings on a fresh script context, loads the
// routing script through the global-script registry, and drives
// graceful shutdown on SIGINT/SIGTERM.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nullteam/softpbx/infrastructure/metrics"
	"github.com/nullteam/softpbx/infrastructure/runtime"
	"github.com/nullteam/softpbx/internal/binding/channel"
	"github.com/nullteam/softpbx/internal/binding/engine"
	"github.com/nullteam/softpbx/internal/binding/message"
	"github.com/nullteam/softpbx/internal/bus"
	"github.com/nullteam/softpbx/internal/callassist"
	"github.com/nullteam/softpbx/internal/configstore"
	"github.com/nullteam/softpbx/internal/globalscript"
	"github.com/nullteam/softpbx/internal/logging"
	"github.com/nullteam/softpbx/internal/script"
	"github.com/nullteam/softpbx/internal/thread"
	"github.com/nullteam/softpbx/system/framework/lifecycle"
)

func main() {
	configPath := flag.String("config", "softpbx.conf", "path to the main config file")
	routingPath := flag.String("routing", "", "path to the global routing script")
	libsPath := flag.String("libs", "libs", "directory loadLibrary() resolves names against")
	flag.Parse()

	format := "text"
	if runtime.IsProduction() {
		format = "json"
	}
	logger := logging.New(logging.Config{Level: "info", Format: format, Output: "stdout"})

	cfg := configstore.New(*configPath)
	if err := cfg.Load(); err != nil {
		logger.Emit(logging.Warn, "", fmt.Sprintf("config load failed, continuing with defaults: %v", err))
	}

	met := metrics.Init("softpbxd")
	met.UpdateUptime(time.Now())

	registry := thread.NewRegistry(20 * time.Millisecond)
	hooks := lifecycle.NewHooks()
	shutdown := lifecycle.NewGracefulShutdown()

	b := bus.New()
	hooks.OnPreStop(func(ctx context.Context) error {
		b.Close()
		return nil
	})

	eng := engine.NewBinding()
	eng.LibsPath = *libsPath
	eng.ConfigFileFn = func(name string, user bool) string {
		return cfg.GetValue("general", name, name)
	}
	eng.RestartFn = func(code int, graceful bool) {
		logger.Emit(logging.Conf, "", fmt.Sprintf("Engine.restart(%d, %v) requested", code, graceful))
		shutdown.Shutdown()
	}
	for _, section := range cfg.Sections() {
		for _, key := range cfg.Keys(section) {
			eng.RunParams[section+"."+key] = cfg.GetValue(section, key, "")
		}
	}

	msgBinding := message.NewBinding(b)
	chBinding := channel.NewBinding()

	newRunner := func(name string) *script.Runner {
		ctx := script.NewContext(name)
		r := script.NewRunner(ctx, name)
		eng.Install(r)
		msgBinding.Install(r)
		return r
	}

	globals := globalscript.NewRegistry(newRunner)
	globals.MaxSourceBytes = script.DefaultMaxSourceBytes
	globals.BasePath = *libsPath
	globals.LibsPath = *libsPath

	eng.InitFn = func(module string) bool {
		if module != "" {
			_, err := globals.ReloadScript(module)
			return err == nil
		}
		ok := true
		for _, name := range globals.Names() {
			if _, err := globals.ReloadScript(name); err != nil {
				ok = false
			}
		}
		return ok
	}

	var routingProgram *script.Source
	if *routingPath != "" {
		if _, err := globals.InitScript("routing", *routingPath, false, true); err != nil {
			logger.Emit(logging.Fail, "", fmt.Sprintf("routing script load failed: %v", err))
		}
		if data, err := os.ReadFile(*routingPath); err != nil {
			logger.Emit(logging.Warn, "", fmt.Sprintf("routing script unreadable for per-call runners: %v", err))
		} else if parsed, err := script.Parse(data, *routingPath, script.DefaultMaxSourceBytes, *libsPath, *libsPath); err != nil {
			logger.Emit(logging.Warn, "", fmt.Sprintf("routing script parse failed for per-call runners: %v", err))
		} else {
			routingProgram = parsed
		}
	}

	// newCallRunner builds one fresh Context+Runner per channel, each
	// running its own copy of the same compiled routing program
	// (goja.Program is runtime-agnostic bytecode, safely shared across
	// many *goja.Runtime instances) so calls don't share script globals.
	newCallRunner := func(channelID string) *script.Runner {
		r := newRunner(channelID)
		if routingProgram != nil {
			r.Load(routingProgram)
		}
		return r
	}

	mgr := callassist.NewManager(b, chBinding, msgBinding, newCallRunner)
	mgr.InstallBridge()
	registerThreadMetrics(registry, met)

	workerHandle, err := registry.Create("timer-reaper", thread.PriorityNormal, func(h *thread.Handle) {
		runReaperLoop(h, registry, met)
	})
	if err != nil {
		logger.Emit(logging.Fail, "", fmt.Sprintf("failed to start reaper thread: %v", err))
	}
	met.RecordThreadCreated()

	hooks.OnPreStop(func(ctx context.Context) error {
		if workerHandle != nil {
			return registry.Cancel(workerHandle, false)
		}
		return nil
	})

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-sigCh:
		logger.Emit(logging.Conf, "", "shutdown requested")
	case <-shutdown.ShutdownCh():
		logger.Emit(logging.Conf, "", "shutdown requested via Engine.restart")
	}
	shutdown.Shutdown()

	runCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := hooks.RunPreStop(runCtx); err != nil {
		logger.Emit(logging.Warn, "", fmt.Sprintf("pre-stop hooks reported errors: %v", err))
	}

	registry.ShutdownAll(nil)
	_ = hooks.RunPostStop(runCtx)
}

// runReaperLoop periodically snapshots thread-registry occupancy into
// metrics from a dedicated OS thread, reflecting spec.md §4.1's
// "mediates global shutdown" responsibility at a coarse interval.
func runReaperLoop(h *thread.Handle, registry *thread.Registry, met *metrics.Metrics) {
	for !h.CancelRequested() {
		met.SetThreadsLive(registry.Count())
		if thread.Sleep(h, registry.IdleInterval(), true) {
			return
		}
	}
}

func registerThreadMetrics(registry *thread.Registry, met *metrics.Metrics) {
	met.SetThreadsLive(registry.Count())
}
