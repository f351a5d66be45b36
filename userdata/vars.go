package userdata

import (
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"
)

// VarsFile is a YAML document passed through to the configuration run
// verbatim. Values holds the decoded mapping.
type VarsFile struct {
	Raw    string
	Values map[string]any
}

// LoadVars reads an extra-vars or git-refs YAML file, decrypting it with
// sops first when it is encrypted. An empty path yields an empty file.
func LoadVars(path string) (VarsFile, error) {
	if path == "" {
		return VarsFile{Values: map[string]any{}}, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return VarsFile{}, fmt.Errorf("read vars %s: %w", path, err)
	}
	if encrypted(data) {
		if data, err = decrypt(path); err != nil {
			return VarsFile{}, err
		}
	}
	return ParseVars(data)
}

func ParseVars(data []byte) (VarsFile, error) {
	values := map[string]any{}
	if err := yaml.Unmarshal(data, &values); err != nil {
		return VarsFile{}, fmt.Errorf("parse vars: %w", err)
	}
	if values == nil {
		values = map[string]any{}
	}
	return VarsFile{Raw: string(data), Values: values}, nil
}

// GitRef is one repository version recorded on the baked image.
type GitRef struct {
	Repo string
	Ref  string
}

// Refs returns the mapping as repo/ref pairs sorted by repo.
func (v VarsFile) Refs() []GitRef {
	refs := make([]GitRef, 0, len(v.Values))
	for repo, ref := range v.Values {
		refs = append(refs, GitRef{Repo: repo, Ref: fmt.Sprint(ref)})
	}
	sort.Slice(refs, func(i, j int) bool { return refs[i].Repo < refs[j].Repo })
	return refs
}
