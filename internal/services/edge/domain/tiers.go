// Package domain holds the edge's cache tier naming rules and request
// classification.
package domain

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	apperrors "github.com/louisbranch/folio/internal/platform/errors"
)

var tierNamePattern = regexp.MustCompile(`^([a-z0-9][a-z0-9._-]*)-v([0-9]+)$`)

// TierSet names the four cache tiers of one deployed version.
type TierSet struct {
	Shell string
	Image string
	API   string
	Font  string
}

// DefaultTierSet returns the first-generation tier names.
func DefaultTierSet() TierSet {
	return TierSet{
		Shell: "shell-v1",
		Image: "images-v1",
		API:   "api-v1",
		Font:  "fonts-v1",
	}
}

// Names returns the tier names in shell, image, API, font order.
func (s TierSet) Names() []string {
	return []string{s.Shell, s.Image, s.API, s.Font}
}

// Known reports whether name belongs to the set.
func (s TierSet) Known(name string) bool {
	for _, known := range s.Names() {
		if known == name {
			return true
		}
	}
	return false
}

// Validate checks every name against the <purpose>-v<N> contract and rejects
// duplicates.
func (s TierSet) Validate() error {
	seen := make(map[string]struct{}, 4)
	for _, name := range s.Names() {
		if _, _, err := ParseTierName(name); err != nil {
			return err
		}
		if _, ok := seen[name]; ok {
			return apperrors.WithMetadata(apperrors.CodeDuplicateTierName, "tier names must be distinct", map[string]string{"tier": name})
		}
		seen[name] = struct{}{}
	}
	return nil
}

// ParseTierName splits a tier name into its purpose and version.
func ParseTierName(name string) (string, int, error) {
	match := tierNamePattern.FindStringSubmatch(strings.TrimSpace(name))
	if match == nil || match[0] != name {
		return "", 0, apperrors.WithMetadata(apperrors.CodeInvalidTierName, fmt.Sprintf("tier name %q must look like <purpose>-v<N>", name), map[string]string{"tier": name})
	}
	version, err := strconv.Atoi(match[2])
	if err != nil {
		return "", 0, apperrors.Wrap(apperrors.CodeInvalidTierName, "parse tier version", err)
	}
	return match[1], version, nil
}

// BumpTierName returns name with its version incremented.
func BumpTierName(name string) (string, error) {
	purpose, version, err := ParseTierName(name)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s-v%d", purpose, version+1), nil
}
