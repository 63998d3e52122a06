package experts

import (
	"embed"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/yungbote/kidslab-backend/internal/domain"
	"github.com/yungbote/kidslab-backend/internal/platform/logger"
)

//go:embed catalog.yaml
var catalogFS embed.FS

const (
	Default      = domain.ExpertScientist
	Reviewer     = domain.ExpertEducator
	DefaultVoice = "charon"

	// DefaultReason is what the selector answers with when it falls back.
	DefaultReason = "かがくのことがとくいだから"
)

type Expert struct {
	ID         domain.ExpertID   `yaml:"id" json:"id"`
	Name       string            `yaml:"name" json:"name"`
	NameJa     string            `yaml:"name_ja" json:"nameJa"`
	Avatar     string            `yaml:"avatar" json:"avatar"`
	Color      string            `yaml:"color" json:"color"`
	Selectable bool              `yaml:"selectable" json:"selectable"`
	Specialty  string            `yaml:"specialty" json:"specialty"`
	Style      string            `yaml:"style" json:"style"`
	Persona    string            `yaml:"persona" json:"-"`
	Voices     map[string]string `yaml:"voices" json:"-"`
}

// Voice returns the voice configured for a speech provider. Unknown providers
// get DefaultVoice and adapters map it to their own default.
func (e Expert) Voice(provider string) string {
	if v := strings.TrimSpace(e.Voices[strings.ToLower(provider)]); v != "" {
		return v
	}
	return DefaultVoice
}

type Catalog struct {
	Name     string          `yaml:"catalog"`
	Version  int             `yaml:"version"`
	Default  domain.ExpertID `yaml:"default"`
	Reviewer domain.ExpertID `yaml:"reviewer"`
	Experts  []Expert        `yaml:"experts"`

	byID map[domain.ExpertID]Expert
}

var (
	runtimeOnce sync.Once
	runtime     *Catalog
	runtimeErr  error
)

// Load returns the process-wide catalog. EXPERTS_CATALOG_PATH overrides the
// embedded file.
func Load() (*Catalog, error) {
	runtimeOnce.Do(func() {
		var raw []byte
		if path := strings.TrimSpace(os.Getenv("EXPERTS_CATALOG_PATH")); path != "" {
			raw, runtimeErr = os.ReadFile(path)
		} else {
			raw, runtimeErr = catalogFS.ReadFile("catalog.yaml")
		}
		if runtimeErr != nil {
			return
		}
		runtime, runtimeErr = Parse(raw)
	})
	return runtime, runtimeErr
}

// MustLoad is Load for callers that cannot run without personas.
func MustLoad(log *logger.Logger) *Catalog {
	c, err := Load()
	if err == nil {
		return c
	}
	if log != nil {
		log.Warn("experts catalog invalid; using embedded", "error", err)
	}
	raw, rerr := catalogFS.ReadFile("catalog.yaml")
	if rerr != nil {
		panic(rerr)
	}
	c, err = Parse(raw)
	if err != nil {
		panic(err)
	}
	return c
}

func Parse(raw []byte) (*Catalog, error) {
	var c Catalog
	if err := yaml.Unmarshal(raw, &c); err != nil {
		return nil, fmt.Errorf("parse experts catalog: %w", err)
	}
	if err := c.validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

func (c *Catalog) validate() error {
	if len(c.Experts) == 0 {
		return fmt.Errorf("experts catalog: no experts")
	}
	c.byID = make(map[domain.ExpertID]Expert, len(c.Experts))
	for i := range c.Experts {
		e := c.Experts[i]
		e.ID = domain.ExpertID(strings.ToLower(strings.TrimSpace(string(e.ID))))
		if e.ID == "" {
			return fmt.Errorf("experts catalog: expert %d: id is required", i)
		}
		if _, dup := c.byID[e.ID]; dup {
			return fmt.Errorf("experts catalog: duplicate id %q", e.ID)
		}
		if strings.TrimSpace(e.NameJa) == "" {
			return fmt.Errorf("experts catalog: %s: name_ja is required", e.ID)
		}
		if strings.TrimSpace(e.Persona) == "" {
			return fmt.Errorf("experts catalog: %s: persona is required", e.ID)
		}
		c.Experts[i] = e
		c.byID[e.ID] = e
	}
	if c.Default == "" {
		c.Default = Default
	}
	if c.Reviewer == "" {
		c.Reviewer = Reviewer
	}
	if _, ok := c.byID[c.Default]; !ok {
		return fmt.Errorf("experts catalog: default %q is not defined", c.Default)
	}
	if _, ok := c.byID[c.Reviewer]; !ok {
		return fmt.Errorf("experts catalog: reviewer %q is not defined", c.Reviewer)
	}
	return nil
}

func (c *Catalog) Lookup(id domain.ExpertID) (Expert, bool) {
	e, ok := c.byID[id]
	return e, ok
}

// Get returns the expert or the default one for unknown ids.
func (c *Catalog) Get(id domain.ExpertID) Expert {
	if e, ok := c.byID[id]; ok {
		return e
	}
	return c.byID[c.Default]
}

func (c *Catalog) IsKnown(id domain.ExpertID) bool {
	_, ok := c.byID[id]
	return ok
}

// Selectable lists the experts a question can be routed to, in catalog order.
func (c *Catalog) Selectable() []Expert {
	out := make([]Expert, 0, len(c.Experts))
	for _, e := range c.Experts {
		if e.Selectable {
			out = append(out, e)
		}
	}
	return out
}

func (c *Catalog) IDs() []domain.ExpertID {
	out := make([]domain.ExpertID, 0, len(c.byID))
	for id := range c.byID {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func (c *Catalog) DefaultID() domain.ExpertID  { return c.Default }
func (c *Catalog) ReviewerID() domain.ExpertID { return c.Reviewer }
