package secrets

import (
	"bufio"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// reference is a parsed secret:// URI. The optional query parameters select a
// pinned version and a project override, e.g.
// secret://mpesa_consumer_secret?version=4&project=conceptdash-staging.
type reference struct {
	Raw             string
	Canonical       string
	Secret          string
	Version         string
	ProjectOverride string
}

func parseReference(ref string) (reference, error) {
	if strings.TrimSpace(ref) == "" {
		return reference{}, errors.New("secrets: empty reference")
	}
	u, err := url.Parse(ref)
	if err != nil {
		return reference{}, fmt.Errorf("secrets: invalid reference %q: %w", ref, err)
	}
	if u.Scheme != "secret" {
		return reference{}, fmt.Errorf("secrets: unsupported scheme %q", u.Scheme)
	}
	secret := strings.Trim(strings.TrimPrefix(u.Host+u.Path, "/"), "/")
	if secret == "" {
		return reference{}, fmt.Errorf("secrets: missing secret name in %q", ref)
	}

	canonical := *u
	canonical.RawQuery = ""
	canonical.Fragment = ""

	query := u.Query()
	return reference{
		Raw:             ref,
		Canonical:       canonical.String(),
		Secret:          secret,
		Version:         strings.TrimSpace(query.Get("version")),
		ProjectOverride: strings.TrimSpace(query.Get("project")),
	}, nil
}

func cacheKey(canonical, version string) string {
	return canonical + "#" + version
}

func keyWithEnv(env, canonical string) string {
	if strings.TrimSpace(env) == "" {
		return canonical
	}
	return env + ":" + canonical
}

// canonicalFallbackKey normalises the sm:// shorthand some tooling writes
// into the secret:// form the rest of the package uses.
func canonicalFallbackKey(value string) string {
	trimmed := strings.TrimSpace(value)
	if rest, ok := strings.CutPrefix(trimmed, "sm://"); ok {
		return "secret://" + rest
	}
	return trimmed
}

// fallbackStore lazily loads the local secrets file used for development and
// for environments without Secret Manager access. The file holds KEY=VALUE
// lines; blank lines and # comments are skipped.
type fallbackStore struct {
	path string

	once   sync.Once
	values map[string]string
	err    error
}

// lookup returns the fallback value for the reference, preferring an exact
// version match over the unversioned entry.
func (s *fallbackStore) lookup(ref reference, version string) (string, bool) {
	s.once.Do(s.load)
	if s.err != nil {
		return "", false
	}
	if val, ok := s.values[cacheKey(ref.Canonical, version)]; ok {
		return val, true
	}
	val, ok := s.values[ref.Canonical]
	return val, ok
}

func (s *fallbackStore) load() {
	s.values = map[string]string{}

	path := strings.TrimSpace(s.path)
	if path == "" {
		return
	}
	if abs, err := filepath.Abs(path); err == nil {
		path = abs
	}

	file, err := os.Open(path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			s.err = fmt.Errorf("secrets: unable to open fallback file %s: %w", path, err)
		}
		return
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, value, found := strings.Cut(line, "=")
		if !found {
			continue
		}
		key = strings.TrimSpace(key)
		value = strings.TrimSpace(value)
		if key == "" {
			continue
		}

		normalized := canonicalFallbackKey(key)
		parsed, err := parseReference(normalized)
		if err != nil {
			s.values[normalized] = value
			continue
		}
		version := parsed.Version
		if version == "" {
			version = defaultVersion
		}
		s.values[parsed.Canonical] = value
		s.values[cacheKey(parsed.Canonical, version)] = value
	}
	if err := scanner.Err(); err != nil {
		s.err = fmt.Errorf("secrets: failed reading %s: %w", path, err)
	}
}
