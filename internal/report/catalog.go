package report

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Catalog errors.
var (
	ErrEmptyCatalog = errors.New("report catalog is empty")
	ErrInvalidEntry = errors.New("invalid catalog entry")
)

// Pair identifies one station/variable combination in the report.
type Pair struct {
	Station  string `json:"station" yaml:"station"`
	Variable string `json:"variable" yaml:"variable"`
}

// String returns "station/variable".
func (p Pair) String() string {
	return p.Station + "/" + p.Variable
}

// Catalog is the fixed, ordered set of pairs a report covers.
type Catalog struct {
	pairs    []Pair
	stations []string
}

// NewCatalog builds a catalog from explicit pairs. Duplicates are dropped,
// first occurrence wins.
func NewCatalog(pairs []Pair) (*Catalog, error) {
	c := &Catalog{}
	seen := make(map[Pair]struct{}, len(pairs))
	seenStation := make(map[string]struct{})

	for i, p := range pairs {
		p.Station = strings.TrimSpace(p.Station)
		p.Variable = strings.TrimSpace(p.Variable)
		if p.Station == "" || p.Variable == "" {
			return nil, fmt.Errorf("%w: pair %d has an empty station or variable", ErrInvalidEntry, i)
		}
		if _, ok := seen[p]; ok {
			continue
		}
		seen[p] = struct{}{}
		c.pairs = append(c.pairs, p)

		if _, ok := seenStation[p.Station]; !ok {
			seenStation[p.Station] = struct{}{}
			c.stations = append(c.stations, p.Station)
		}
	}

	if len(c.pairs) == 0 {
		return nil, ErrEmptyCatalog
	}
	return c, nil
}

// CrossCatalog builds the catalog of every station with every variable.
func CrossCatalog(stations, variables []string) (*Catalog, error) {
	pairs := make([]Pair, 0, len(stations)*len(variables))
	for _, s := range stations {
		for _, v := range variables {
			pairs = append(pairs, Pair{Station: s, Variable: v})
		}
	}
	return NewCatalog(pairs)
}

// catalogFile is the YAML layout of a catalog file:
//
//	stations:
//	  - name: E1
//	    variables: [PM10, NO2, WS]
type catalogFile struct {
	Stations []struct {
		Name      string   `yaml:"name"`
		Variables []string `yaml:"variables"`
	} `yaml:"stations"`
}

// ParseCatalog parses a YAML catalog document.
func ParseCatalog(data []byte) (*Catalog, error) {
	var file catalogFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidEntry, err)
	}

	var pairs []Pair
	for _, st := range file.Stations {
		if len(st.Variables) == 0 {
			return nil, fmt.Errorf("%w: station %q lists no variables", ErrInvalidEntry, st.Name)
		}
		for _, v := range st.Variables {
			pairs = append(pairs, Pair{Station: st.Name, Variable: v})
		}
	}
	return NewCatalog(pairs)
}

// LoadCatalogFile reads and parses a YAML catalog file.
func LoadCatalogFile(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog file: %w", err)
	}
	c, err := ParseCatalog(data)
	if err != nil {
		return nil, fmt.Errorf("catalog file %s: %w", path, err)
	}
	return c, nil
}

// Pairs returns the pairs in catalog order.
func (c *Catalog) Pairs() []Pair {
	out := make([]Pair, len(c.pairs))
	copy(out, c.pairs)
	return out
}

// Stations returns the distinct stations in catalog order.
func (c *Catalog) Stations() []string {
	out := make([]string, len(c.stations))
	copy(out, c.stations)
	return out
}

// Variables returns the variables configured for station, in catalog order.
func (c *Catalog) Variables(station string) []string {
	var out []string
	for _, p := range c.pairs {
		if p.Station == station {
			out = append(out, p.Variable)
		}
	}
	return out
}

// Contains reports whether the pair is part of the catalog.
func (c *Catalog) Contains(p Pair) bool {
	for _, q := range c.pairs {
		if q == p {
			return true
		}
	}
	return false
}

// Len returns the number of pairs.
func (c *Catalog) Len() int {
	return len(c.pairs)
}
