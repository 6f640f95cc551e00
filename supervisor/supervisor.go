// supervisor runs warden's single-threaded event loop: tick the programs,
// render a frame, poll the control surface, and apply reloads requested by
// signal, watcher or command. Every state transition in the engine happens
// on this loop.
package supervisor

import (
	"os"
	"os/signal"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
	"golang.org/x/sys/unix"

	"github.com/wardend/warden/config"
	"github.com/wardend/warden/program"
	"github.com/wardend/warden/tui"
)

// pollTimeout bounds the only suspension point of the loop, the control
// surface poll.
const pollTimeout = 10 * time.Millisecond

// Supervisor owns the configuration and drives the global tick loop.
type Supervisor struct {
	cfg     *config.Config
	cfgPath string
	surface *tui.Tui
	log     *zap.Logger

	// reload is the only piece of state touched outside the loop: the
	// SIGHUP handler and the config watcher set it, the loop samples and
	// clears it.
	reload      atomic.Bool
	quitPending bool

	watcher *fsnotify.Watcher
}

// New assembles a supervisor around an already loaded configuration.
func New(cfg *config.Config, cfgPath string, surface *tui.Tui, logger *zap.Logger) *Supervisor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Supervisor{
		cfg:     cfg,
		cfgPath: cfgPath,
		surface: surface,
		log:     logger,
	}
}

// InstallReloadSignal arranges for the hang-up signal to request a
// configuration reload. The handler does nothing but set the atomic flag;
// the reload itself runs synchronously on the loop.
func (s *Supervisor) InstallReloadSignal() {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, unix.SIGHUP)
	go func() {
		for range ch {
			s.log.Info("received SIGHUP")
			s.reload.Store(true)
		}
	}()
}

// WatchConfig arms a filesystem watcher on the configuration file. A write
// or re-creation sets the same reload flag as SIGHUP. The parent directory
// is watched because editors typically replace the file instead of writing
// it in place.
func (s *Supervisor) WatchConfig() error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := watcher.Add(filepath.Dir(s.cfgPath)); err != nil {
		watcher.Close()
		return err
	}
	s.watcher = watcher

	go func() {
		for {
			select {
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if ev.Name != s.cfgPath {
					continue
				}
				if ev.Op.Has(fsnotify.Write) || ev.Op.Has(fsnotify.Create) {
					s.log.Info("configuration file changed on disk",
						zap.String("path", s.cfgPath))
					s.reload.Store(true)
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				s.log.Warn("watching configuration file", zap.Error(err))
			}
		}
	}()
	return nil
}

// Run starts every auto program, then loops until a quit completes. On the
// way out every remaining child is force-killed.
func (s *Supervisor) Run() error {
	for _, p := range s.cfg.Programs {
		if p.Spec.StartPolicy != program.Auto {
			continue
		}
		if err := p.Start(); err != nil {
			s.log.Error("starting program",
				zap.String("name", p.Spec.Name),
				zap.Error(err))
		}
	}

	for {
		if s.quitPending && s.allInactive() {
			s.log.Info("all programs have stopped, quitting")
			break
		}
		if s.reload.Swap(false) {
			s.reloadConfig(s.cfgPath)
		}

		s.surface.Draw(s.cfg.Programs)
		for _, p := range s.cfg.Programs {
			p.Tick()
		}
		s.cfg.Prune()

		if cmd, ok := s.surface.Poll(pollTimeout); ok {
			if s.dispatch(cmd) {
				break
			}
		}
	}

	for _, p := range s.cfg.Programs {
		p.Kill()
	}
	if s.watcher != nil {
		s.watcher.Close()
	}
	return nil
}

// dispatch routes one control-surface command. It returns true when the
// loop must exit immediately (a forced quit).
func (s *Supervisor) dispatch(cmd tui.Command) bool {
	switch cmd.Kind {
	case tui.Quit:
		if s.quitPending {
			s.log.Warn("force quitting")
			return true
		}
		s.log.Info("gracefully shutting down programs")
		s.quitPending = true
		for _, p := range s.cfg.Programs {
			p.Stop()
		}
	case tui.LogLevel:
		s.log.Info("changing log level", zap.String("level", cmd.Arg))
		s.cfg.SetLevel(cmd.Level)
	case tui.Reload:
		path := cmd.Arg
		if path == "" {
			path = s.cfgPath
		}
		s.reloadConfig(path)
	case tui.Start:
		s.forEach(cmd.Arg, "starting", func(p *program.Program) {
			if err := p.Start(); err != nil {
				s.log.Error("starting program",
					zap.String("name", p.Spec.Name),
					zap.Error(err))
			}
		})
	case tui.Stop:
		s.forEach(cmd.Arg, "stopping", func(p *program.Program) { p.Stop() })
	case tui.Restart:
		s.forEach(cmd.Arg, "restarting", func(p *program.Program) { p.Restart() })
	}
	return false
}

// forEach applies op to the named program, or to every program when name is
// empty. An unknown name is reported, not fatal.
func (s *Supervisor) forEach(name, verb string, op func(*program.Program)) {
	if name == "" {
		s.log.Info(verb+" all programs")
		for _, p := range s.cfg.Programs {
			op(p)
		}
		return
	}
	p := s.cfg.Find(name)
	if p == nil {
		s.log.Error("program not found", zap.String("name", name))
		return
	}
	s.log.Info(verb+" program", zap.String("name", name))
	op(p)
}

// reloadConfig loads path and merges the result into the running
// configuration. A load failure keeps the current configuration.
func (s *Supervisor) reloadConfig(path string) {
	next, err := config.Load(path, s.log)
	if err != nil {
		s.log.Error("reloading the configuration file",
			zap.String("path", path),
			zap.Error(err))
		return
	}
	s.cfg.Update(next)
}

func (s *Supervisor) allInactive() bool {
	for _, p := range s.cfg.Programs {
		if !p.AllInactive() {
			return false
		}
	}
	return true
}
