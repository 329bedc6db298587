package enrich

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/GabrielNunesIT/go-libs/logger"
	"gopkg.in/yaml.v3"
)

// EnrichmentLoadError reports a symbol module that could not be loaded.
type EnrichmentLoadError struct {
	Module string
	Err    error
}

func (e *EnrichmentLoadError) Error() string {
	return fmt.Sprintf("loading MIB module %s: %v", e.Module, e.Err)
}

func (e *EnrichmentLoadError) Unwrap() error { return e.Err }

// ErrModuleNotFound is wrapped when no file exists for a module.
var ErrModuleNotFound = errors.New("module file not found")

// moduleFile is the on-disk symbol table of one MIB module.
type moduleFile struct {
	Module  string            `yaml:"module" json:"module"`
	Symbols map[string]string `yaml:"symbols" json:"symbols"`
}

type symbol struct {
	module string
	name   string
}

func (s symbol) qualified() string { return s.module + "::" + s.name }

// MIBOptions configures a MIBEnricher.
type MIBOptions struct {
	Dir     string
	Modules []string
	// TolerateMissing logs and skips modules that fail to load instead of
	// failing construction.
	TolerateMissing bool
}

// MIBEnricher resolves numeric OIDs to MODULE::name symbols. The symbol
// table is built once and only read afterwards.
type MIBEnricher struct {
	byOID   map[string]symbol
	maxArcs int
	loaded  []string
	logger  logger.ILogger
}

var moduleExtensions = []string{".yaml", ".yml", ".json"}

// NewMIBEnricher loads every named module from opts.Dir. Each module is a
// YAML or JSON file named after the module.
func NewMIBEnricher(opts MIBOptions, log logger.ILogger) (*MIBEnricher, error) {
	m := &MIBEnricher{
		byOID:  make(map[string]symbol),
		logger: log.SubLogger("MIBEnricher"),
	}

	for _, mod := range opts.Modules {
		mf, err := loadModule(opts.Dir, mod)
		if err != nil {
			loadErr := &EnrichmentLoadError{Module: mod, Err: err}
			if !opts.TolerateMissing {
				return nil, loadErr
			}
			m.logger.Warningf("skipping module: %v", loadErr)
			continue
		}
		m.add(mf)
		m.loaded = append(m.loaded, mf.Module)
		m.logger.Infof("loaded module %s (%d symbols)", mf.Module, len(mf.Symbols))
	}

	return m, nil
}

func loadModule(dir, name string) (moduleFile, error) {
	for _, ext := range moduleExtensions {
		path := filepath.Join(dir, name+ext)
		data, err := os.ReadFile(path)
		if errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err != nil {
			return moduleFile{}, err
		}

		var mf moduleFile
		if ext == ".json" {
			err = json.Unmarshal(data, &mf)
		} else {
			err = yaml.Unmarshal(data, &mf)
		}
		if err != nil {
			return moduleFile{}, fmt.Errorf("parsing %s: %w", path, err)
		}
		if mf.Module == "" {
			mf.Module = name
		}
		return mf, nil
	}
	return moduleFile{}, fmt.Errorf("%w: %s in %s", ErrModuleNotFound, name, dir)
}

func (m *MIBEnricher) add(mf moduleFile) {
	names := make([]string, 0, len(mf.Symbols))
	for name := range mf.Symbols {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		oid := normalizeOID(mf.Symbols[name])
		if oid == "" {
			continue
		}
		// first module listed wins on conflicts
		if _, exists := m.byOID[oid]; exists {
			continue
		}
		m.byOID[oid] = symbol{module: mf.Module, name: name}
		m.maxArcs = max(m.maxArcs, strings.Count(oid, ".")+1)
	}
}

// Modules returns the names of the modules that loaded.
func (m *MIBEnricher) Modules() []string {
	return append([]string(nil), m.loaded...)
}

// Resolve returns the qualified symbol for an OID. OIDs below a known
// symbol resolve to the symbol plus the instance suffix, e.g.
// IF-MIB::ifIndex.3.
func (m *MIBEnricher) Resolve(oid string) (string, bool) {
	oid = normalizeOID(oid)
	if oid == "" {
		return "", false
	}
	if sym, ok := m.byOID[oid]; ok {
		return sym.qualified(), true
	}

	arcs := strings.Split(oid, ".")
	for n := min(len(arcs)-1, m.maxArcs); n > 0; n-- {
		if sym, ok := m.byOID[strings.Join(arcs[:n], ".")]; ok {
			return sym.qualified() + "." + strings.Join(arcs[n:], "."), true
		}
	}
	return "", false
}

// Enrich adds, for every key that resolves to a symbol, a MODULE::name
// alias carrying the value and a mib.name.<oid> entry naming it. String
// values that are themselves known OIDs get a mib.value.<oid> entry.
func (m *MIBEnricher) Enrich(raw map[string]any) map[string]any {
	out := make(map[string]any, len(raw)*2)
	for k, v := range raw {
		out[k] = v
	}

	for k, v := range raw {
		if !looksLikeOID(k) {
			continue
		}
		if fq, ok := m.Resolve(k); ok {
			out[fq] = v
			out["mib.name."+normalizeOID(k)] = fq
		}
		if s, ok := v.(string); ok && looksLikeOID(s) {
			if fq, ok := m.Resolve(s); ok {
				out["mib.value."+normalizeOID(k)] = fq
			}
		}
	}
	return out
}

func normalizeOID(s string) string {
	return strings.TrimPrefix(strings.TrimSpace(s), ".")
}

// looksLikeOID reports whether s is a dotted numeric OID with at least two
// arcs.
func looksLikeOID(s string) bool {
	s = normalizeOID(s)
	if s == "" || !strings.Contains(s, ".") {
		return false
	}
	for _, r := range s {
		if (r < '0' || r > '9') && r != '.' {
			return false
		}
	}
	return !strings.Contains(s, "..") && !strings.HasSuffix(s, ".")
}
