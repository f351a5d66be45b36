package userdata

import (
	"bytes"
	"errors"
	"fmt"
	"os/exec"

	"gopkg.in/yaml.v3"
)

// sopsBinary is swapped out in tests.
var sopsBinary = "sops"

// encrypted reports whether a YAML document carries sops metadata.
func encrypted(data []byte) bool {
	var doc struct {
		Sops map[string]any `yaml:"sops"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return false
	}
	return doc.Sops != nil
}

// decrypt runs sops over path. The plaintext never touches disk; it ends
// up in the user data only.
func decrypt(path string) ([]byte, error) {
	cmd := exec.Command(sopsBinary, "--decrypt", "--output-type", "yaml", path)
	out, err := cmd.Output()
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) && len(exitErr.Stderr) > 0 {
			return nil, fmt.Errorf("sops decrypt %s: %s", path, bytes.TrimSpace(exitErr.Stderr))
		}
		return nil, fmt.Errorf("sops decrypt %s: %w", path, err)
	}
	return out, nil
}
