package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"gopkg.in/yaml.v3"
)

// Connection holds the parameters of one named PostgreSQL connection
type Connection struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Database string `yaml:"database"`
	Username string `yaml:"username,omitempty"`
	Password string `yaml:"password,omitempty"`
	SSLMode  string `yaml:"sslmode,omitempty"`
	AuthRef  string `yaml:"authref,omitempty"`
}

// registryFile is the on-disk shape of the connection registry
type registryFile struct {
	Connections map[string]Connection `yaml:"connections"`
}

// Registry manages the named connection registry
type Registry struct {
	mu          sync.RWMutex
	connections map[string]Connection
}

// New creates an empty connection registry
func New() *Registry {
	return &Registry{
		connections: make(map[string]Connection),
	}
}

// Load reads a connection registry from a YAML file
func Load(path string) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("error reading registry file: %v", err)
	}

	var file registryFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("error parsing registry file: %v", err)
	}

	r := New()
	for name, conn := range file.Connections {
		if conn.Port == 0 {
			conn.Port = 5432
		}
		if conn.SSLMode == "" {
			conn.SSLMode = "prefer"
		}
		r.connections[name] = conn
	}
	return r, nil
}

// Get retrieves a named connection
func (r *Registry) Get(name string) (Connection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	conn, ok := r.connections[name]
	return conn, ok
}

// Names returns the registered connection names, sorted
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.connections))
	for name := range r.connections {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Set adds or replaces a named connection
func (r *Registry) Set(name string, conn Connection) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.connections[name] = conn
}

// Save writes the registry back to a YAML file
func (r *Registry) Save(path string) error {
	r.mu.RLock()
	file := registryFile{Connections: make(map[string]Connection, len(r.connections))}
	for name, conn := range r.connections {
		file.Connections[name] = conn
	}
	r.mu.RUnlock()

	data, err := yaml.Marshal(&file)
	if err != nil {
		return fmt.Errorf("error serializing registry: %v", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("error creating registry directory: %v", err)
	}
	return os.WriteFile(path, data, 0600)
}

// DefaultPath returns the default registry file location
func DefaultPath() string {
	if path := os.Getenv("GEOPACK_CONNECTIONS"); path != "" {
		return path
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "connections.yaml"
	}
	return filepath.Join(homeDir, ".geopack", "connections.yaml")
}
