package utils

import "sync"

const (
	// Uninitialized 启动前状态: launch has not been requested yet
	Uninitialized = "uninitialized"
	// Launching the engine is being created and the target spawned
	Launching = "launching"
	// AwaitingConfigDone the first engine event arrived, the client is
	// still sending breakpoint configuration
	AwaitingConfigDone = "awaitingConfigDone"
	// Running the target is executing
	Running = "running"
	// Stopped the target is broken into the engine
	Stopped = "stopped"
	// Exited the session is torn down
	Exited = "exited"
)

// StatusManager 记录调试器的状态的
type StatusManager struct {
	lock   sync.RWMutex
	status string
}

func NewStatusManager() *StatusManager {
	return &StatusManager{
		status: Uninitialized,
	}
}

func (s *StatusManager) Set(status string) {
	defer s.lock.Unlock()
	s.lock.Lock()
	s.status = status
}

func (s *StatusManager) Get() string {
	defer s.lock.RUnlock()
	s.lock.RLock()
	return s.status
}

func (s *StatusManager) Is(statusList ...string) bool {
	defer s.lock.RUnlock()
	s.lock.RLock()
	for _, status := range statusList {
		if s.status == status {
			return true
		}
	}
	return false
}
