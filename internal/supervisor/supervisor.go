// Package supervisor runs and tracks syslog listener pairs.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"strconv"
	"sync"

	"github.com/OldManSaturn/siem-saltbuild/internal/model"
	"github.com/OldManSaturn/siem-saltbuild/internal/shutdown"
	"github.com/OldManSaturn/siem-saltbuild/internal/syslogserver"
	"golang.org/x/sync/errgroup"
)

var (
	// ErrTaskExists is returned when a listener pair is already registered under the same key.
	ErrTaskExists = errors.New("supervisor: task already exists")
	// ErrTaskNotFound is returned for an unknown task id.
	ErrTaskNotFound = errors.New("supervisor: task not found")
	// ErrStopInProgress is returned when Abort targets a task that is stopping gracefully.
	ErrStopInProgress = errors.New("supervisor: graceful stop in progress")
)

// DefaultBindHost is the interface listeners bind to when none is configured.
const DefaultBindHost = "0.0.0.0"

// Config holds listener settings applied to every task.
type Config struct {
	BindHost      string
	TCPReadBuffer int
	UDPReadBuffer int
}

// Supervisor owns the registry of running listener pairs and the shutdown
// signal they subscribe to.
type Supervisor struct {
	sink   model.RecordSink
	cfg    Config
	signal *shutdown.Signal

	mu    sync.Mutex
	tasks map[string]*Task
	order []string
}

// New creates a supervisor whose listeners persist into sink.
func New(sink model.RecordSink, cfg Config) *Supervisor {
	if cfg.BindHost == "" {
		cfg.BindHost = DefaultBindHost
	}
	return &Supervisor{
		sink:   sink,
		cfg:    cfg,
		signal: shutdown.New(),
		tasks:  make(map[string]*Task),
	}
}

// Start listens for TCP and UDP syslog on the same port.
func (s *Supervisor) Start(port uint16) (string, error) {
	return s.StartPair(port, port)
}

// StartPair listens for TCP syslog on tcpPort and UDP syslog on udpPort and
// registers the pair under TaskID(tcpPort, udpPort).
func (s *Supervisor) StartPair(tcpPort, udpPort uint16) (string, error) {
	t, err := s.startTask(tcpPort, udpPort)
	if err != nil {
		return "", err
	}
	return t.id, nil
}

func (s *Supervisor) startTask(tcpPort, udpPort uint16) (*Task, error) {
	id := TaskID(tcpPort, udpPort)

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.tasks[id]; exists {
		return nil, fmt.Errorf("%w: %s", ErrTaskExists, id)
	}

	ctx, cancel := context.WithCancel(context.Background())
	t := &Task{
		id:      id,
		tcpPort: tcpPort,
		udpPort: udpPort,
		tcp: syslogserver.NewTCPListener(s.bindAddr(tcpPort), s.sink,
			syslogserver.WithReadBufferSize(s.cfg.TCPReadBuffer)),
		udp: syslogserver.NewUDPListener(s.bindAddr(udpPort), s.sink,
			syslogserver.WithReadBufferSize(s.cfg.UDPReadBuffer)),
		cancel: cancel,
		done:   make(chan struct{}),
	}
	t.state.Store(int32(Starting))

	// Subscriptions are taken under s.mu so a concurrent StopAll either sees
	// this task in its snapshot or leaves it on the next signal generation.
	tcpSub := s.signal.Subscribe()
	udpSub := s.signal.Subscribe()

	s.tasks[id] = t
	s.order = append(s.order, id)

	go s.run(ctx, t, tcpSub, udpSub)

	log.Printf("supervisor: started task %s", id)
	return t, nil
}

func (s *Supervisor) run(ctx context.Context, t *Task, tcpSub, udpSub shutdown.Subscription) {
	var tcpErr, udpErr error

	var g errgroup.Group
	g.Go(func() error {
		tcpErr = t.tcp.Run(ctx, tcpSub)
		if tcpErr != nil && !errors.Is(tcpErr, context.Canceled) {
			log.Printf("supervisor: task %s: TCP listener on port %d failed: %v", t.id, t.tcpPort, tcpErr)
		}
		return tcpErr
	})
	g.Go(func() error {
		udpErr = t.udp.Run(ctx, udpSub)
		if udpErr != nil && !errors.Is(udpErr, context.Canceled) {
			log.Printf("supervisor: task %s: UDP listener on port %d failed: %v", t.id, t.udpPort, udpErr)
		}
		return udpErr
	})
	t.state.CompareAndSwap(int32(Starting), int32(Running))

	// Both workers are always waited for; one failing leaves the other running.
	_ = g.Wait()

	t.err = errors.Join(ignoreCanceled(tcpErr), ignoreCanceled(udpErr))
	prev := State(t.state.Swap(int32(Stopped)))
	aborted := ctx.Err() != nil
	t.cancel()

	if prev != StoppingRequested && !aborted {
		log.Printf("supervisor: task %s exited on its own: %v", t.id, t.err)
		s.remove(t)
	}
	close(t.done)
}

// List returns the registered task ids in insertion order.
func (s *Supervisor) List() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.order))
	copy(out, s.order)
	return out
}

// Tasks returns a snapshot of every registered task.
func (s *Supervisor) Tasks() []TaskInfo {
	s.mu.Lock()
	tasks := s.snapshotLocked()
	s.mu.Unlock()

	infos := make([]TaskInfo, 0, len(tasks))
	for _, t := range tasks {
		infos = append(infos, t.Info())
	}
	return infos
}

// Task looks up a registered task.
func (s *Supervisor) Task(id string) (*Task, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[id]
	return t, ok
}

// StopAll broadcasts the shutdown signal and waits for every registered task
// to finish, removing each as it completes. It returns the tasks' terminal
// errors joined together. With no tasks registered it does nothing.
//
// If ctx ends first, the remaining tasks are hard-stopped and removed.
// Connection handlers are not waited for.
func (s *Supervisor) StopAll(ctx context.Context) error {
	s.mu.Lock()
	tasks := s.snapshotLocked()
	if len(tasks) == 0 {
		s.mu.Unlock()
		return nil
	}
	for _, t := range tasks {
		t.requestStop()
	}
	generation := s.signal.Broadcast()
	s.mu.Unlock()

	log.Printf("supervisor: shutdown signal %d sent to %d task(s)", generation, len(tasks))

	var errs []error
	for i, t := range tasks {
		select {
		case <-t.done:
		case <-ctx.Done():
			for _, rest := range tasks[i:] {
				rest.cancel()
				s.remove(rest)
			}
			errs = append(errs, fmt.Errorf("supervisor: waiting for %s: %w", t.id, ctx.Err()))
			return errors.Join(errs...)
		}
		s.remove(t)
		if t.err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", t.id, t.err))
		}
	}
	return errors.Join(errs...)
}

// Abort hard-stops one task without waiting for it: listeners and live
// connections are closed and the task is removed from the registry.
func (s *Supervisor) Abort(id string) error {
	s.mu.Lock()
	t, ok := s.tasks[id]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrTaskNotFound, id)
	}
	if t.State() == StoppingRequested {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrStopInProgress, id)
	}
	s.removeLocked(t)
	s.mu.Unlock()

	t.cancel()
	log.Printf("supervisor: aborted task %s", id)
	return nil
}

// AbortAll hard-stops every task that is not already stopping gracefully and
// returns the ids it aborted. It does not wait.
func (s *Supervisor) AbortAll() []string {
	s.mu.Lock()
	var aborted []*Task
	for _, t := range s.snapshotLocked() {
		if t.State() == StoppingRequested {
			continue
		}
		s.removeLocked(t)
		aborted = append(aborted, t)
	}
	s.mu.Unlock()

	ids := make([]string, 0, len(aborted))
	for _, t := range aborted {
		t.cancel()
		ids = append(ids, t.id)
	}
	if len(ids) > 0 {
		log.Printf("supervisor: aborted %d task(s)", len(ids))
	}
	return ids
}

func (s *Supervisor) bindAddr(port uint16) string {
	return net.JoinHostPort(s.cfg.BindHost, strconv.Itoa(int(port)))
}

func (s *Supervisor) snapshotLocked() []*Task {
	tasks := make([]*Task, 0, len(s.order))
	for _, id := range s.order {
		tasks = append(tasks, s.tasks[id])
	}
	return tasks
}

func (s *Supervisor) remove(t *Task) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.removeLocked(t)
}

// removeLocked deletes t only if it is still the registered task for its id.
func (s *Supervisor) removeLocked(t *Task) {
	if current, ok := s.tasks[t.id]; !ok || current != t {
		return
	}
	delete(s.tasks, t.id)
	for i, id := range s.order {
		if id == t.id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
}

func ignoreCanceled(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
