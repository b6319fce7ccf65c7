// File: internal/stack/types.go
// Brief: Stack and function descriptor types.

package stack

// Stack is a named collection of functions forming one application. It is
// treated as immutable for the duration of a build/run cycle.
type Stack struct {
	Name      string     `yaml:"name" json:"name"`
	Functions []Function `yaml:"functions,omitempty" json:"functions,omitempty"`
	Topics    []Topic    `yaml:"topics,omitempty" json:"topics,omitempty"`

	// Dir is the directory the descriptor was loaded from. Function paths are
	// relative to it.
	Dir string `yaml:"-" json:"-"`
}

// Function describes one independently buildable and runnable unit.
type Function struct {
	Name     string         `yaml:"name" json:"name"`
	Path     string         `yaml:"path" json:"path"`
	Runtime  string         `yaml:"runtime" json:"runtime"`
	Scripts  []string       `yaml:"scripts,omitempty" json:"scripts,omitempty"`
	Excludes []string       `yaml:"excludes,omitempty" json:"excludes,omitempty"`
	Subs     []Subscription `yaml:"subs,omitempty" json:"subs,omitempty"`
	// Port pins the host port; zero means allocate one.
	Port int `yaml:"port,omitempty" json:"port,omitempty"`
}

// Subscription registers a function as a subscriber of a topic.
type Subscription struct {
	Topic string `yaml:"topic" json:"topic"`
}

// Topic declares a topic even when nothing subscribes to it yet.
type Topic struct {
	Name string `yaml:"name" json:"name"`
}

// Function returns the descriptor with the given name.
func (s *Stack) Function(name string) (Function, bool) {
	if s == nil {
		return Function{}, false
	}
	for _, fn := range s.Functions {
		if fn.Name == name {
			return fn, true
		}
	}
	return Function{}, false
}

// FunctionNames returns function names in descriptor order.
func (s *Stack) FunctionNames() []string {
	if s == nil {
		return nil
	}
	names := make([]string, 0, len(s.Functions))
	for _, fn := range s.Functions {
		names = append(names, fn.Name)
	}
	return names
}
