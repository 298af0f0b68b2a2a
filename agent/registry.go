package agent

import (
	"sort"
	"sync"
	"time"
)

type registration struct {
	agent        Agent
	registeredAt time.Time

	active       int
	completed    int
	failed       int
	totalRunTime time.Duration
	lastActivity *time.Time
}

// Registry manages all registered agents by registration name
type Registry struct {
	agents map[string]*registration
	mu     sync.RWMutex
}

// NewRegistry creates a new agent registry
func NewRegistry() *Registry {
	return &Registry{
		agents: make(map[string]*registration),
	}
}

// Register registers an agent under name. An empty name uses agent.Name().
// The first registration of a name is kept on conflict.
func (r *Registry) Register(name string, agent Agent) error {
	if agent == nil {
		return &AgentError{Agent: name, Err: ErrInvalidAgent, Msg: "nil agent"}
	}
	if name == "" {
		name = agent.Name()
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.agents[name]; exists {
		return &AgentError{Agent: name, Err: ErrDuplicateName}
	}

	r.agents[name] = &registration{
		agent:        agent,
		registeredAt: time.Now(),
	}
	return nil
}

// Unregister removes an agent
func (r *Registry) Unregister(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.agents[name]; !exists {
		return &AgentError{Agent: name, Err: ErrUnknownAgent}
	}
	delete(r.agents, name)
	return nil
}

// Get retrieves an agent by registration name
func (r *Registry) Get(name string) (Agent, error) {
	reg, err := r.lookup(name)
	if err != nil {
		return nil, err
	}
	return reg.agent, nil
}

// lookup returns the current registration of name. Counters of an
// execution go to the registration captured at dispatch, even if the name
// is re-registered meanwhile.
func (r *Registry) lookup(name string) (*registration, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	reg, exists := r.agents[name]
	if !exists {
		return nil, &AgentError{Agent: name, Err: ErrUnknownAgent}
	}
	return reg, nil
}

// Names returns all registration names, sorted
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.agents))
	for name := range r.agents {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// List returns all registered agents ordered by registration name
func (r *Registry) List() []Agent {
	names := r.Names()

	r.mu.RLock()
	defer r.mu.RUnlock()

	agents := make([]Agent, 0, len(names))
	for _, name := range names {
		if reg, ok := r.agents[name]; ok {
			agents = append(agents, reg.agent)
		}
	}

	return agents
}

// ListInfo returns information about all agents ordered by name
func (r *Registry) ListInfo() []AgentInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()

	infos := make([]AgentInfo, 0, len(r.agents))
	for name, reg := range r.agents {
		info := AgentInfo{
			Name:           name,
			AgentName:      reg.agent.Name(),
			Capabilities:   reg.agent.Capabilities(),
			State:          string(reg.agent.State()),
			RegisteredAt:   reg.registeredAt,
			ActiveTasks:    reg.active,
			TasksCompleted: reg.completed,
			TasksFailed:    reg.failed,
			TotalRunTime:   reg.totalRunTime,
			LastActivity:   cloneTime(reg.lastActivity),
		}
		infos = append(infos, info)
	}

	sort.Slice(infos, func(i, j int) bool { return infos[i].Name < infos[j].Name })
	return infos
}

// FindCapable returns the names of running agents that accept taskType
func (r *Registry) FindCapable(taskType string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	capable := make([]string, 0)
	for name, reg := range r.agents {
		if reg.agent.State() == StateRunning && Supports(reg.agent, taskType) {
			capable = append(capable, name)
		}
	}

	sort.Strings(capable)
	return capable
}

func (r *Registry) taskStarted(reg *registration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	reg.active++
}

func (r *Registry) taskFinished(reg *registration, success bool, elapsed time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if reg.active > 0 {
		reg.active--
	}
	if success {
		reg.completed++
	} else {
		reg.failed++
	}
	reg.totalRunTime += elapsed
	now := time.Now()
	reg.lastActivity = &now
}

// Supports reports whether agent accepts taskType. An empty capability list
// accepts every type; "*" and trailing-wildcard entries like "detect_*" match
// by prefix.
func Supports(agent Agent, taskType string) bool {
	caps := agent.Capabilities()
	if len(caps) == 0 {
		return true
	}

	for _, c := range caps {
		if c == "*" || c == taskType {
			return true
		}
		if n := len(c); n > 0 && c[n-1] == '*' && len(taskType) >= n-1 && taskType[:n-1] == c[:n-1] {
			return true
		}
	}

	return false
}
