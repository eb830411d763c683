package main

import (
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/spf13/cobra"

	"forest/internal/config"
	"forest/internal/forest"
	"forest/internal/logging"
)

// reloadableStack owns the wired orchestrator and swaps it atomically
// when the configuration changes.
type reloadableStack struct {
	mu     sync.Mutex
	build  func() (*forest.Orchestrator, func(), error)
	orch   *forest.Orchestrator
	closer func()
}

func newReloadableStack(build func() (*forest.Orchestrator, func(), error)) (*reloadableStack, error) {
	orch, closer, err := build()
	if err != nil {
		return nil, err
	}
	return &reloadableStack{build: build, orch: orch, closer: closer}, nil
}

func (r *reloadableStack) current() *forest.Orchestrator {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.orch
}

// reload rebuilds the stack. The running stack keeps serving when the
// rebuild fails, and its resources are released only after the swap.
func (r *reloadableStack) reload() error {
	orch, closer, err := r.build()
	if err != nil {
		return err
	}
	r.mu.Lock()
	old := r.closer
	r.orch, r.closer = orch, closer
	r.mu.Unlock()
	if old != nil {
		old()
	}
	return nil
}

func (r *reloadableStack) close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closer != nil {
		r.closer()
		r.closer = nil
	}
}

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Run resident, hot-reloading configuration on change",
	Long: `Runs forest as a resident process. The config file is watched and the
full stack (store, provider client, embedding engine) is rebuilt on
every change, so credentials and tuning can be edited without a
restart. Exits on interrupt.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		stack, err := newReloadableStack(buildOrchestrator)
		if err != nil {
			return err
		}
		defer stack.close()

		w, err := config.NewWatcher(configPath, workspace, func(next *config.Config) {
			cfg = next
			if err := stack.reload(); err != nil {
				logging.Get(logging.CategoryBoot).Error(
					"rebuild after config reload failed, keeping previous stack: %v", err)
				return
			}
			fmt.Println("configuration reloaded")
		})
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		if err := w.Start(ctx); err != nil {
			return err
		}
		defer w.Stop()

		fmt.Printf("forest resident: watching %s (ctrl-c to exit)\n", configPath)
		<-ctx.Done()
		return nil
	},
}
