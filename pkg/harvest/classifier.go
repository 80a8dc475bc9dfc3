package harvest

import (
	"fmt"
	"path"
	"strings"
	"unicode"
)

// RoleKind tags the variant held by a FileRole
type RoleKind int

const (
	RoleUnknown RoleKind = iota
	RoleSummary
	RoleChannel
)

func (k RoleKind) String() string {
	switch k {
	case RoleSummary:
		return "summary"
	case RoleChannel:
		return "channel"
	default:
		return "unknown"
	}
}

// FileRole is the semantic role of a file in a run, derived from its name only
type FileRole struct {
	Kind RoleKind `json:"kind"`
	Name string   `json:"name,omitempty"` // channel role name, empty for summary/unknown
}

// SummaryRole returns the summary file role
func SummaryRole() FileRole {
	return FileRole{Kind: RoleSummary}
}

// ChannelRole returns the role of a transducer channel file
func ChannelRole(name string) FileRole {
	return FileRole{Kind: RoleChannel, Name: name}
}

func (r FileRole) String() string {
	if r.Kind == RoleChannel {
		return r.Name
	}
	return r.Kind.String()
}

// RoleSpec describes one transducer channel of the rig
type RoleSpec struct {
	Name           string  `mapstructure:"name" json:"name" yaml:"name"`
	Token          string  `mapstructure:"token" json:"token" yaml:"token"`
	LoadResistance float64 `mapstructure:"load_resistance" json:"load_resistance" yaml:"load_resistance"`
}

// Classify reports whether filename matches *_<token>*<ext>. The token must be
// preceded by an underscore and must not run on into further letters, so "EH"
// matches "run_EH_ts.txt" and "run_EH2.txt" but not "run_EHX.txt".
func Classify(filename, token, ext string) bool {
	if token == "" {
		return false
	}

	base := path.Base(strings.ReplaceAll(filename, "\\", "/"))
	ext = normalizeExtension(ext)
	if ext != "" && !strings.HasSuffix(strings.ToLower(base), ext) {
		return false
	}
	stem := base[:len(base)-len(ext)]

	needle := "_" + token
	for offset := 0; offset < len(stem); {
		idx := strings.Index(stem[offset:], needle)
		if idx < 0 {
			return false
		}
		end := offset + idx + len(needle)
		if end == len(stem) || !unicode.IsLetter(rune(stem[end])) {
			return true
		}
		offset += idx + 1
	}
	return false
}

// Classifier resolves file names to roles using a closed token set
type Classifier struct {
	extension    string
	summaryToken string
	roles        []RoleSpec
}

// NewClassifier creates a classifier for the given extension, summary token and roles
func NewClassifier(extension, summaryToken string, roles []RoleSpec) (*Classifier, error) {
	if summaryToken == "" {
		return nil, fmt.Errorf("summary token is required")
	}
	if len(roles) == 0 {
		return nil, fmt.Errorf("at least one channel role is required")
	}

	seenTokens := map[string]string{summaryToken: "summary"}
	seenNames := make(map[string]struct{}, len(roles))
	for _, role := range roles {
		if role.Name == "" || role.Token == "" {
			return nil, fmt.Errorf("role name and token are required (name=%q token=%q)", role.Name, role.Token)
		}
		if other, exists := seenTokens[role.Token]; exists {
			return nil, fmt.Errorf("token %q of role %s already used by %s", role.Token, role.Name, other)
		}
		if _, exists := seenNames[role.Name]; exists {
			return nil, fmt.Errorf("duplicate role name %q", role.Name)
		}
		seenTokens[role.Token] = role.Name
		seenNames[role.Name] = struct{}{}
	}

	return &Classifier{
		extension:    normalizeExtension(extension),
		summaryToken: summaryToken,
		roles:        append([]RoleSpec(nil), roles...),
	}, nil
}

// Matches applies Classify with the classifier's extension
func (c *Classifier) Matches(filename, token string) bool {
	return Classify(filename, token, c.extension)
}

// Resolve returns the role of filename, or an unknown role when nothing matches.
// A name matching more than one token resolves to unknown.
func (c *Classifier) Resolve(filename string) FileRole {
	var matched []FileRole
	if c.Matches(filename, c.summaryToken) {
		matched = append(matched, SummaryRole())
	}
	for _, role := range c.roles {
		if c.Matches(filename, role.Token) {
			matched = append(matched, ChannelRole(role.Name))
		}
	}

	if len(matched) != 1 {
		return FileRole{Kind: RoleUnknown}
	}
	return matched[0]
}

// Group resolves every name and groups them by role. Unknown files are returned separately.
func (c *Classifier) Group(names []string) (summary []string, channels map[string][]string, unknown []string) {
	channels = make(map[string][]string, len(c.roles))
	for _, name := range names {
		role := c.Resolve(name)
		switch role.Kind {
		case RoleSummary:
			summary = append(summary, name)
		case RoleChannel:
			channels[role.Name] = append(channels[role.Name], name)
		default:
			unknown = append(unknown, name)
		}
	}
	return summary, channels, unknown
}

func normalizeExtension(ext string) string {
	ext = strings.ToLower(strings.TrimSpace(ext))
	if ext != "" && !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	return ext
}
