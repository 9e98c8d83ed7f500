package source

import (
	"io"
	"os"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/campaign-warehouse/internal/dq"
)

// ProfileSet is the on-disk form of source profiles, keyed by source name.
type ProfileSet map[string]dq.Profile

// LoadProfiles reads a ProfileSet from a YAML file.
func LoadProfiles(path string) (ProfileSet, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, eris.Wrapf(err, "source: open profiles %s", path)
	}
	defer f.Close() //nolint:errcheck
	return DecodeProfiles(f)
}

// DecodeProfiles parses YAML profiles. A profile without a name takes its
// key; each profile must pass validation.
func DecodeProfiles(r io.Reader) (ProfileSet, error) {
	set := ProfileSet{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&set); err != nil && err != io.EOF {
		return nil, eris.Wrap(err, "source: decode profiles")
	}
	for name, p := range set {
		if p.Name == "" {
			p.Name = name
		}
		if p.Name != name {
			return nil, eris.Errorf("source: profile key %q names profile %q", name, p.Name)
		}
		if err := p.Validate(); err != nil {
			return nil, eris.Wrapf(err, "source: profile %s", name)
		}
		set[name] = p
	}
	return set, nil
}

// ApplyProfiles swaps in the given profiles. Every key must name a
// registered source.
func (r *Registry) ApplyProfiles(set ProfileSet) error {
	for name := range set {
		if _, err := r.Get(name); err != nil {
			return eris.Wrap(err, "source: apply profiles")
		}
	}
	for name, p := range set {
		r.sources[name].UseProfile(p)
	}
	return nil
}

// Profiles returns the effective profile of every source.
func (r *Registry) Profiles() ProfileSet {
	set := make(ProfileSet, len(r.order))
	for _, name := range r.order {
		set[name] = r.sources[name].Profile()
	}
	return set
}

// EncodeProfiles writes set as YAML.
func EncodeProfiles(w io.Writer, set ProfileSet) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(set); err != nil {
		return eris.Wrap(err, "source: encode profiles")
	}
	if err := enc.Close(); err != nil {
		return eris.Wrap(err, "source: encode profiles")
	}
	return nil
}
