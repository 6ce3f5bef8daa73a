package worker

import (
	"context"
	"errors"

	"golang.org/x/sync/errgroup"

	"sms-bridge/internal/config"
	"sms-bridge/internal/util"
)

// Runner is anything the manager supervises.
type Runner interface {
	Run(ctx context.Context) error
}

// Manager starts the enabled background workers and stops them together.
type Manager struct {
	cfg     *config.WorkerConfig
	runners []namedRunner
	cancel  context.CancelFunc
	group   *errgroup.Group
}

type namedRunner struct {
	name   string
	runner Runner
}

func NewManager(cfg *config.WorkerConfig) *Manager {
	return &Manager{cfg: cfg}
}

func (m *Manager) Register(name string, runner Runner) {
	m.runners = append(m.runners, namedRunner{name: name, runner: runner})
}

// Start launches every registered worker on its own goroutine.
func (m *Manager) Start(ctx context.Context) {
	runCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.group, runCtx = errgroup.WithContext(runCtx)

	for _, nr := range m.runners {
		nr := nr
		m.group.Go(func() error {
			util.Info("Starting worker", util.String("worker", nr.name))
			err := nr.runner.Run(runCtx)
			if err != nil && !errors.Is(err, context.Canceled) {
				util.Error("Worker exited with error",
					util.String("worker", nr.name),
					util.ErrorField(err))
				return err
			}
			return nil
		})
	}
}

// Stop cancels all workers and waits for them to finish their shutdown work.
func (m *Manager) Stop() {
	if m.cancel == nil {
		return
	}
	m.cancel()
	if err := m.group.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		util.Error("Worker shutdown finished with error", util.ErrorField(err))
	}
	util.Info("All workers stopped")
}
