package runner

import (
	"fmt"
	"io/fs"
	"regexp"
	"sort"
)

// Unit is one schema-change definition: a forward SQL file and an optional
// reverse SQL file sharing a timestamp-prefixed name. Names sort
// lexicographically in chronological order.
type Unit struct {
	Name string

	fsys     fs.FS
	upPath   string
	downPath string
}

// HasDown reports whether the unit carries a reverse definition.
func (u *Unit) HasDown() bool {
	return u.downPath != ""
}

// UpSQL reads the forward definition.
func (u *Unit) UpSQL() (string, error) {
	data, err := fs.ReadFile(u.fsys, u.upPath)
	if err != nil {
		return "", fmt.Errorf("failed to read migration file %s: %w", u.upPath, err)
	}
	return string(data), nil
}

// DownSQL reads the reverse definition. The on-disk file may have been
// deleted after the unit was applied, which surfaces here as an error.
func (u *Unit) DownSQL() (string, error) {
	if u.downPath == "" {
		return "", fmt.Errorf("%w: %s", ErrMissingDown, u.Name)
	}
	data, err := fs.ReadFile(u.fsys, u.downPath)
	if err != nil {
		return "", fmt.Errorf("failed to read migration file %s: %w", u.downPath, err)
	}
	return string(data), nil
}

// UnitProvider provides migration units sorted by name in ascending order.
type UnitProvider interface {
	Units() []*Unit
}

// unitFilePattern matches files like 20240101120000_create_users.up.sql.
var unitFilePattern = regexp.MustCompile(`^(\d{10,14}_[A-Za-z0-9_-]+)\.(up|down)\.sql$`)

// UnitFile is a parsed migration filename.
type UnitFile struct {
	Name      string
	Direction string
}

// ParseUnitFileName parses a migration filename into its unit name and
// direction. Files that don't follow the naming convention return an error
// and are skipped during discovery.
func ParseUnitFileName(filename string) (UnitFile, error) {
	m := unitFilePattern.FindStringSubmatch(filename)
	if m == nil {
		return UnitFile{}, fmt.Errorf("not a migration file: %s", filename)
	}
	return UnitFile{Name: m[1], Direction: m[2]}, nil
}

// FSUnitProvider loads migration units from a filesystem. Discovery
// validates that every unit has a forward definition; reverse definitions
// are optional and only required at rollback time.
type FSUnitProvider struct {
	fsys  fs.FS
	units []*Unit
}

// NewFSUnitProvider scans the filesystem for migration files. Returns an
// error if the filesystem cannot be scanned or any unit is missing its
// forward definition.
func NewFSUnitProvider(fsys fs.FS) (*FSUnitProvider, error) {
	p := &FSUnitProvider{fsys: fsys}
	if err := p.load(); err != nil {
		return nil, err
	}
	return p, nil
}

// Units returns the discovered units sorted by name in ascending order.
func (p *FSUnitProvider) Units() []*Unit {
	return p.units
}

func (p *FSUnitProvider) load() error {
	unitsMap := make(map[string]*Unit)

	err := fs.WalkDir(p.fsys, ".", func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}

		unitFile, err := ParseUnitFileName(d.Name())
		if err != nil {
			// Skip files that don't match the migration pattern.
			return nil
		}

		unit, exists := unitsMap[unitFile.Name]
		if !exists {
			unit = &Unit{Name: unitFile.Name, fsys: p.fsys}
			unitsMap[unitFile.Name] = unit
		}

		switch unitFile.Direction {
		case "up":
			unit.upPath = path
		case "down":
			unit.downPath = path
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to scan migrations directory: %w", err)
	}

	var missingUp []string
	for name, unit := range unitsMap {
		if unit.upPath == "" {
			missingUp = append(missingUp, name)
		}
	}
	if len(missingUp) > 0 {
		sort.Strings(missingUp)
		return fmt.Errorf("migrations missing up files: %v", missingUp)
	}

	units := make([]*Unit, 0, len(unitsMap))
	for _, unit := range unitsMap {
		units = append(units, unit)
	}
	sortUnits(units)
	p.units = units
	return nil
}

func sortUnits(units []*Unit) {
	sort.Slice(units, func(i, j int) bool {
		return units[i].Name < units[j].Name
	})
}
