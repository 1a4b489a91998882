package manifest

import (
	"log/slog"

	"github.com/c360studio/grambuild/buildinfo"
)

// ConstantName is the identifier the attribution string replaces.
const ConstantName = "__LICENSES__"

// Collector gathers dependency records for a project root.
type Collector struct {
	root   string
	name   string
	logger *slog.Logger
}

// NewCollector creates a collector for the project rooted at root.
func NewCollector(root string, logger *slog.Logger) *Collector {
	if logger == nil {
		logger = slog.Default()
	}
	return &Collector{root: root, name: ConstantName, logger: logger}
}

// WithName overrides the constant name used by Attribution.
func (c *Collector) WithName(name string) *Collector {
	if name != "" {
		c.name = name
	}
	return c
}

// Collect reads one Record per declared runtime dependency, in declaration
// order. Dev and peer dependencies are ignored.
func (c *Collector) Collect() ([]Record, error) {
	names, err := ReadDependencyNames(ProjectPath(c.root))
	if err != nil {
		return nil, err
	}

	records := make([]Record, 0, len(names))
	for _, name := range names {
		rec, err := ReadInstalled(InstalledPath(c.root, name))
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}

	c.logger.Debug("Collected dependency manifests",
		"root", c.root,
		"count", len(records))

	return records, nil
}

// Attribution collects the records and renders them as the attribution
// constant.
func (c *Collector) Attribution() (buildinfo.Constant, error) {
	records, err := c.Collect()
	if err != nil {
		return buildinfo.Constant{}, err
	}

	value, err := RenderHTML(records)
	if err != nil {
		return buildinfo.Constant{}, err
	}
	return buildinfo.OK(c.name, value), nil
}
