package supervisor

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/OldManSaturn/siem-saltbuild/internal/syslogserver"
)

// State is the lifecycle position of a managed task.
type State int32

const (
	Starting State = iota
	Running
	StoppingRequested
	Stopped
)

func (s State) String() string {
	switch s {
	case Starting:
		return "starting"
	case Running:
		return "running"
	case StoppingRequested:
		return "stopping"
	case Stopped:
		return "stopped"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// TaskID returns the registry key for a TCP/UDP listener pair.
func TaskID(tcpPort, udpPort uint16) string {
	return fmt.Sprintf("syslog:%d:%d", tcpPort, udpPort)
}

// Task is one running TCP/UDP listener pair.
//
// A task can be stopped cooperatively through the supervisor's shutdown
// signal (StopAll) or hard-stopped through its context (Abort). Mixing the two
// on the same task is not supported: Abort refuses a task that is already
// stopping.
type Task struct {
	id      string
	tcpPort uint16
	udpPort uint16

	tcp *syslogserver.TCPListener
	udp *syslogserver.UDPListener

	state  atomic.Int32
	cancel context.CancelFunc
	done   chan struct{}
	err    error // written once before done is closed
}

func (t *Task) ID() string { return t.id }

func (t *Task) State() State { return State(t.state.Load()) }

// Done is closed when both listeners have returned.
func (t *Task) Done() <-chan struct{} { return t.done }

// Err returns the task's terminal error, or nil while it is still running.
// Listener bind failures are reported here.
func (t *Task) Err() error {
	select {
	case <-t.done:
		return t.err
	default:
		return nil
	}
}

// TaskInfo is a point-in-time view of a task.
type TaskInfo struct {
	ID        string `json:"id"`
	TCPPort   uint16 `json:"tcp_port"`
	UDPPort   uint16 `json:"udp_port"`
	TCPAddr   string `json:"tcp_addr"`
	UDPAddr   string `json:"udp_addr"`
	Listening bool   `json:"listening"` // both sockets bound
	State     string `json:"state"`
	Error     string `json:"error,omitempty"`
}

func (t *Task) Info() TaskInfo {
	info := TaskInfo{
		ID:        t.id,
		TCPPort:   t.tcpPort,
		UDPPort:   t.udpPort,
		TCPAddr:   t.tcp.Addr(),
		UDPAddr:   t.udp.Addr(),
		Listening: t.tcp.Bound() && t.udp.Bound(),
		State:     t.State().String(),
	}
	if err := t.Err(); err != nil {
		info.Error = err.Error()
	}
	return info
}

// requestStop moves a live task to StoppingRequested.
func (t *Task) requestStop() bool {
	return t.state.CompareAndSwap(int32(Running), int32(StoppingRequested)) ||
		t.state.CompareAndSwap(int32(Starting), int32(StoppingRequested))
}
