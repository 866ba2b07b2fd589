/*Package parkstore implements skywatcher.ParkStore: the small persisted
record of where the mount was last parked. The motion core itself
persists nothing (see the root package's Driver.Init); FileStore and
MemStore are the two collaborators a caller plugs in.
*/
package parkstore

import (
	"os"

	yaml "gopkg.in/yaml.v2"
)

type parkData struct {
	RAEncoder uint32 `yaml:"RAEncoder"`
	DEEncoder uint32 `yaml:"DEEncoder"`
	Parked    bool   `yaml:"Parked"`
}

// FileStore persists park state as a small YAML file. A missing file is
// treated as "never parked" rather than an error, so a fresh install
// does not need to pre-create one.
type FileStore struct {
	Path string
}

// NewFileStore returns a FileStore backed by path.
func NewFileStore(path string) *FileStore {
	return &FileStore{Path: path}
}

// Load implements skywatcher.ParkStore.
func (f *FileStore) Load() (raEncoder, deEncoder uint32, parked bool, err error) {
	b, err := os.ReadFile(f.Path)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, 0, false, nil
		}
		return 0, 0, false, err
	}
	var d parkData
	if err := yaml.Unmarshal(b, &d); err != nil {
		return 0, 0, false, err
	}
	return d.RAEncoder, d.DEEncoder, d.Parked, nil
}

// Save implements skywatcher.ParkStore.
func (f *FileStore) Save(raEncoder, deEncoder uint32, parked bool) error {
	d := parkData{RAEncoder: raEncoder, DEEncoder: deEncoder, Parked: parked}
	b, err := yaml.Marshal(d)
	if err != nil {
		return err
	}
	return os.WriteFile(f.Path, b, 0644)
}

// MemStore is an in-memory ParkStore, useful for tests and for a
// caller that does not want park state to survive a restart.
type MemStore struct {
	RAEncoder, DEEncoder uint32
	Parked               bool
}

// Load implements skywatcher.ParkStore.
func (m *MemStore) Load() (raEncoder, deEncoder uint32, parked bool, err error) {
	return m.RAEncoder, m.DEEncoder, m.Parked, nil
}

// Save implements skywatcher.ParkStore.
func (m *MemStore) Save(raEncoder, deEncoder uint32, parked bool) error {
	m.RAEncoder, m.DEEncoder, m.Parked = raEncoder, deEncoder, parked
	return nil
}
